// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package object implements the server-side collaborators spec §9 assigns
// to the object tree: an arena+index table standing in for the original's
// cyclic parent/child object graph, and at-most-once server dispatch for
// inbound calls keyed by (pipe id, starting offset).
package object

import (
	"fmt"
	"sync"
)

// Entry is one object-tree node: its interface id (which RemoteFunctions
// and properties it exposes), a reference count, and its parent's index
// (0 for a root object). Cross-thread references are safe to pass around
// as plain indices, avoiding the cyclic ownership the original's in-memory
// object graph required (spec §9).
type Entry struct {
	InterfaceID uint32
	RefCount    int
	ParentIndex uint32
}

// Table is a per-domain arena of Entry values addressed by index. Index 0
// is reserved and never allocated, so a zero ObjectID/index reliably means
// "no object" (used by codec.ObjectRef's nil encoding).
type Table struct {
	mu      sync.Mutex
	entries []Entry // entries[0] is the reserved sentinel
	free    []uint32
}

// NewTable returns an empty table with the sentinel index reserved.
func NewTable() *Table {
	return &Table{entries: make([]Entry, 1)}
}

// Insert allocates a new entry with refcount 1 and returns its index.
func (t *Table) Insert(interfaceID uint32, parentIndex uint32) uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry := Entry{InterfaceID: interfaceID, RefCount: 1, ParentIndex: parentIndex}
	if n := len(t.free); n > 0 {
		idx := t.free[n-1]
		t.free = t.free[:n-1]
		t.entries[idx] = entry
		return idx
	}
	idx := uint32(len(t.entries))
	t.entries = append(t.entries, entry)
	return idx
}

// Get returns the entry at index and whether it is currently allocated.
func (t *Table) Get(index uint32) (Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if index == 0 || int(index) >= len(t.entries) || t.entries[index].RefCount == 0 {
		return Entry{}, false
	}
	return t.entries[index], true
}

// Retain increments an entry's reference count.
func (t *Table) Retain(index uint32) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if index == 0 || int(index) >= len(t.entries) || t.entries[index].RefCount == 0 {
		return fmt.Errorf("object: retain of unknown index %d", index)
	}
	t.entries[index].RefCount++
	return nil
}

// Release decrements an entry's reference count, freeing its slot for
// reuse once it reaches zero.
func (t *Table) Release(index uint32) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if index == 0 || int(index) >= len(t.entries) || t.entries[index].RefCount == 0 {
		return fmt.Errorf("object: release of unknown index %d", index)
	}
	t.entries[index].RefCount--
	if t.entries[index].RefCount == 0 {
		t.entries[index] = Entry{}
		t.free = append(t.free, index)
	}
	return nil
}
