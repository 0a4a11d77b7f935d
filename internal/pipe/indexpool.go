// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package pipe

import "sync"

// IndexPool is a bounded, index-addressable slot table with blocking
// acquire. A RemoteNode keeps one for its client-initiated pipe pairs and
// one for its server-initiated pipe pairs. All exported methods are
// mutually thread-safe.
type IndexPool[T any] struct {
	mu    sync.Mutex
	slots []*T
	free  chan struct{} // one token per free slot
}

// NewIndexPool returns a pool of the given fixed capacity, all slots empty.
func NewIndexPool[T any](capacity int) *IndexPool[T] {
	p := &IndexPool[T]{
		slots: make([]*T, capacity),
		free:  make(chan struct{}, capacity),
	}
	for i := 0; i < capacity; i++ {
		p.free <- struct{}{}
	}
	return p
}

// Acquire returns the item at index, lazily constructing it via factory if
// the slot is empty. If index is negative, it blocks until some slot is
// free and then picks the first empty one.
func (p *IndexPool[T]) Acquire(index int, factory func(idx int) *T) *T {
	explicit := index >= 0
	if !explicit {
		<-p.free
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if index < 0 {
		for i, s := range p.slots {
			if s == nil {
				index = i
				break
			}
		}
	}

	item := p.slots[index]
	if item == nil {
		if explicit {
			// Filling an empty slot by index consumes its free token too,
			// so the matching Release has a place to return it.
			select {
			case <-p.free:
			default:
			}
		}
		item = factory(index)
		p.slots[index] = item
	}
	return item
}

// Peek returns the item at index without constructing one, or nil if the
// slot is currently empty.
func (p *IndexPool[T]) Peek(index int) *T {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.slots[index]
}

// Release empties the slot at index and returns one permit to blocked
// acquirers.
func (p *IndexPool[T]) Release(index int) {
	p.mu.Lock()
	had := p.slots[index] != nil
	p.slots[index] = nil
	p.mu.Unlock()
	if had {
		p.free <- struct{}{}
	}
}

// ActiveItems returns a snapshot of all non-empty slots. Concurrent
// mutation may or may not be reflected in the result.
func (p *IndexPool[T]) ActiveItems() []*T {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*T, 0, len(p.slots))
	for _, s := range p.slots {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

// Capacity returns the pool's fixed slot count.
func (p *IndexPool[T]) Capacity() int {
	return len(p.slots)
}
