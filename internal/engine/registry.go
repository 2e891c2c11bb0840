package engine

import (
	"fmt"
	"slices"
	"sync"

	"github.com/seantiz/factory-scheduler/internal/model"
)

// Registry is the process-lifetime collection of experiments, in insertion
// order. Names can be reserved while an experiment is still being
// submitted. It is safe for concurrent use.
type Registry struct {
	mu          sync.RWMutex
	experiments []*model.Experiment
	pending     map[string]uint64
	seq         uint64
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{pending: make(map[string]uint64)}
}

// Reserve holds name for a creation in progress. It fails with
// ErrDuplicateName if the name is registered or already reserved. The
// returned func drops the reservation unless Add has consumed it; calling it
// after Add is a no-op.
func (r *Registry) Reserve(name string) (release func(), err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.pending[name]; ok || r.indexLocked(name) >= 0 {
		return nil, fmt.Errorf("%w: %q", ErrDuplicateName, name)
	}
	r.seq++
	token := r.seq
	r.pending[name] = token
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.pending[name] == token {
			delete(r.pending, name)
		}
	}, nil
}

// Add appends e and consumes any reservation of its name. It fails with
// ErrDuplicateName if the name is registered.
func (r *Registry) Add(e *model.Experiment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.indexLocked(e.Name) >= 0 {
		return fmt.Errorf("%w: %q", ErrDuplicateName, e.Name)
	}
	delete(r.pending, e.Name)
	r.experiments = append(r.experiments, e)
	experimentsTracked.Set(float64(len(r.experiments)))
	return nil
}

// List returns a copy of the experiment list. The experiments themselves are
// shared and keep changing while the poller runs.
func (r *Registry) List() []*model.Experiment {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*model.Experiment, len(r.experiments))
	copy(out, r.experiments)
	return out
}

// Get returns the experiment called name.
func (r *Registry) Get(name string) (*model.Experiment, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if i := r.indexLocked(name); i >= 0 {
		return r.experiments[i], true
	}
	return nil, false
}

// Has reports whether an experiment called name exists or is being created.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, pending := r.pending[name]
	return pending || r.indexLocked(name) >= 0
}

func (r *Registry) indexLocked(name string) int {
	return slices.IndexFunc(r.experiments, func(e *model.Experiment) bool { return e.Name == name })
}

// Remove deletes the experiment called name and reports whether it was
// present. Removing an absent experiment is a no-op. Backend jobs are not
// touched.
func (r *Registry) Remove(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, e := range r.experiments {
		if e.Name == name {
			e.Detach()
			r.experiments = append(r.experiments[:i:i], r.experiments[i+1:]...)
			experimentsTracked.Set(float64(len(r.experiments)))
			return true
		}
	}
	return false
}

// Len returns the number of experiments.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.experiments)
}
