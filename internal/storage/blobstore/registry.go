package blobstore

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrRepositoryNotFound is returned for an unregistered repository name.
var ErrRepositoryNotFound = errors.New("blobstore: repository not found")

// Registry maps repository names to stores.
type Registry struct {
	mu     sync.RWMutex
	stores map[string]Store
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{stores: make(map[string]Store)}
}

// Register adds a named store. Names are unique.
func (r *Registry) Register(name string, s Store) error {
	if name == "" {
		return fmt.Errorf("blobstore: repository name is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.stores[name]; ok {
		return fmt.Errorf("blobstore: repository %q already registered", name)
	}
	r.stores[name] = s
	return nil
}

// Get returns the store registered under name.
func (r *Registry) Get(name string) (Store, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.stores[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRepositoryNotFound, name)
	}
	return s, nil
}

// Names returns the registered names in order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.stores))
	for n := range r.stores {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Close closes every registered store and returns the first error.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var first error
	for name, s := range r.stores {
		if err := s.Close(); err != nil && first == nil {
			first = fmt.Errorf("blobstore: close %s: %w", name, err)
		}
	}
	r.stores = make(map[string]Store)
	return first
}
