package store

import (
	"fmt"
	"sync"
)

// indexRegistry tracks which indexes a store declared at startup. Query
// helpers call require before filtering on an indexed field; a typo or a
// query added without its index fails loudly instead of scanning.
type indexRegistry struct {
	mu       sync.RWMutex
	declared map[string]struct{}
}

func newIndexRegistry() *indexRegistry {
	return &indexRegistry{declared: make(map[string]struct{})}
}

func (r *indexRegistry) declare(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.declared[name] = struct{}{}
}

func (r *indexRegistry) require(name string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.declared[name]; !ok {
		return fmt.Errorf("query requires undeclared index %q", name)
	}
	return nil
}
