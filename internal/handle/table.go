// Package handle implements a process-wide monotonic handle table mapping
// small integer ids to values of an arbitrary type.
//
// Adapted from original_source/src/util_handle.c: a global doubly-linked
// list of (id, pointer) pairs guarded by a single lock, with ids assigned
// by an ever-incrementing counter that skips the reserved invalid value.
// Table[T] keeps that bijection invariant (every live id maps to exactly
// one value, every value currently registered has exactly one id) but
// drops the hand-rolled linked list in favor of a plain map, since Go's
// map already gives O(1) insert/lookup/remove without the manual
// containingRecord bookkeeping the C needed.
package handle

import (
	"sync"

	"github.com/azure-iot/reverse-tunnel/internal/pnerr"
)

// Invalid is the reserved id meaning "no handle", mirroring
// handle_map_invalid_handle.
const Invalid int32 = 0

// Table is a generic, concurrency-safe id-to-value map. The zero value is
// not usable; construct with New.
type Table[T any] struct {
	mu     sync.RWMutex
	lastID int32
	byID   map[int32]T
}

// New returns an empty handle table.
func New[T any]() *Table[T] {
	return &Table[T]{byID: make(map[int32]T)}
}

// Insert assigns a fresh id to v and returns it. The id is never Invalid.
func (t *Table[T]) Insert(v T) int32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	var id int32
	for {
		t.lastID++
		id = t.lastID
		if id == Invalid {
			continue
		}
		if _, taken := t.byID[id]; !taken {
			break
		}
	}
	t.byID[id] = v
	return id
}

// Get returns the value registered under id.
func (t *Table[T]) Get(id int32) (T, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	v, ok := t.byID[id]
	if !ok || id == Invalid {
		var zero T
		return zero, pnerr.New(pnerr.KindNotFound, "handle.Get", nil)
	}
	return v, nil
}

// Remove unregisters id and returns the value it held.
func (t *Table[T]) Remove(id int32) (T, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, ok := t.byID[id]
	if !ok || id == Invalid {
		var zero T
		return zero, pnerr.New(pnerr.KindNotFound, "handle.Remove", nil)
	}
	delete(t.byID, id)
	return v, nil
}

// Len reports the number of live handles, mirroring the assert in
// handle_map_deinit that the table must be empty before teardown.
func (t *Table[T]) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byID)
}

// Each calls fn for every (id, value) pair currently registered. fn must
// not call back into the table.
func (t *Table[T]) Each(fn func(id int32, v T)) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for id, v := range t.byID {
		fn(id, v)
	}
}
