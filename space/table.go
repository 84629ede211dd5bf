package space

import (
	"sync"

	"golang.org/x/sync/singleflight"
)

// Table is a process-wide, name-keyed registry of Spaces, so that multiple
// cores/devices can share one named Space without a side channel to pass
// the pointer around.
type Table struct {
	mu     sync.RWMutex
	spaces map[string]*Space
	group  singleflight.Group
}

// NewTable creates an empty Table. Most callers use the package-level
// DefaultTable instead of creating their own.
func NewTable() *Table {
	return &Table{spaces: make(map[string]*Space)}
}

// DefaultTable is the process-wide SpaceTable spec.md 4.3 describes.
var DefaultTable = NewTable()

// GetSpace returns the Space registered under name, creating it on first
// lookup. Concurrent first-lookups for the same name are collapsed via
// singleflight so exactly one Space is ever created per name.
func (t *Table) GetSpace(name string) *Space {
	t.mu.RLock()
	if sp, ok := t.spaces[name]; ok {
		t.mu.RUnlock()
		return sp
	}
	t.mu.RUnlock()

	v, _, _ := t.group.Do(name, func() (interface{}, error) {
		t.mu.Lock()
		defer t.mu.Unlock()
		if sp, ok := t.spaces[name]; ok {
			return sp, nil
		}
		sp := New()
		t.spaces[name] = sp
		return sp, nil
	})
	return v.(*Space)
}
