package artifact

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryStore is an in-process Store. It backs tests and the memory backend
// dev mode.
type MemoryStore struct {
	scheme string

	mu      sync.RWMutex
	objects map[string][]byte
	gets    map[string]int
}

// Compile-time interface satisfaction check.
var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty store serving scheme ("mem" if empty).
func NewMemoryStore(scheme string) *MemoryStore {
	if scheme == "" {
		scheme = "mem"
	}
	return &MemoryStore{
		scheme:  scheme,
		objects: make(map[string][]byte),
		gets:    make(map[string]int),
	}
}

func (m *MemoryStore) Scheme() string { return m.scheme }

func (m *MemoryStore) Upload(_ context.Context, path string, data []byte, overwrite bool) error {
	p, err := resolve(path, m.scheme)
	if err != nil {
		return err
	}
	key := p.String()

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[key]; ok && !overwrite {
		return fmt.Errorf("%w: %s", ErrExists, key)
	}
	m.objects[key] = append([]byte(nil), data...)
	return nil
}

func (m *MemoryStore) Get(_ context.Context, path string) ([]byte, error) {
	p, err := resolve(path, m.scheme)
	if err != nil {
		return nil, err
	}
	key := p.String()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets[key]++
	data, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return append([]byte(nil), data...), nil
}

func (m *MemoryStore) Exists(_ context.Context, path string) (bool, error) {
	p, err := resolve(path, m.scheme)
	if err != nil {
		return false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.objects[p.String()]
	return ok, nil
}

func (m *MemoryStore) Delete(_ context.Context, path string) error {
	p, err := resolve(path, m.scheme)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[p.String()]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, p)
	}
	delete(m.objects, p.String())
	return nil
}

// GetCount returns how many times path has been read.
func (m *MemoryStore) GetCount(path string) int {
	p, err := resolve(path, m.scheme)
	if err != nil {
		return 0
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.gets[p.String()]
}

// Keys returns every stored path in sorted order.
func (m *MemoryStore) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
