package backend

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
)

// ErrUnknownBackend is returned by Resolve for a name nobody registered.
var ErrUnknownBackend = errors.New("unknown backend")

// Info pairs a backend name with its capabilities.
type Info struct {
	Name         string       `json:"name"`
	Capabilities Capabilities `json:"capabilities"`
}

// Registry maps configuration names to batch execution services. Names are
// case-insensitive. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	backends map[string]Service
}

// NewRegistry creates an empty backend registry.
func NewRegistry() *Registry {
	return &Registry{
		backends: make(map[string]Service),
	}
}

// Register adds s under name, replacing any previous entry.
func (r *Registry) Register(name string, s Service) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends[normalizeName(name)] = s
}

// Resolve returns the backend registered under name. The error lists the
// registered names.
func (r *Registry) Resolve(name string) (Service, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if s, ok := r.backends[normalizeName(name)]; ok {
		return s, nil
	}
	known := slices.Sorted(maps.Keys(r.backends))
	return nil, fmt.Errorf("%w %q (registered: %s)", ErrUnknownBackend, name, strings.Join(known, ", "))
}

// List describes every registered backend, ordered by name.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]Info, 0, len(r.backends))
	for _, name := range slices.Sorted(maps.Keys(r.backends)) {
		infos = append(infos, Info{
			Name:         name,
			Capabilities: r.backends[name].Capabilities(),
		})
	}
	return infos
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
