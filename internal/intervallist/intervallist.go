// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package intervallist implements a coalescing interval map: a sorted list
// of half-open integer intervals, each carrying a comparable value, that
// merges adjacent intervals sharing the same value. OutputPipe uses it to
// track the DataState of every byte offset it has ever sent without
// allocating one entry per byte.
package intervallist

import "sort"

// List maps non-negative integer offsets to values of type V. Offsets with
// no value set read as the zero value of V. Internally it stores a sorted
// slice of interval ends (exclusive) parallel to a slice of values:
//
//	ends   == [2, 4, 10]
//	values == [a, b, c]
//
// means offsets [0,2) hold a, [2,4) hold b, [4,10) hold c.
type List[V comparable] struct {
	ends   []int64
	values []V
}

// New returns an empty List.
func New[V comparable]() *List[V] {
	return &List[V]{}
}

// intervalIndex returns the index of the interval containing pos, growing
// the list with a zero-valued interval if pos lies past the current end.
func (l *List[V]) intervalIndex(pos int64) int {
	idx := sort.Search(len(l.ends), func(i int) bool { return l.ends[i] > pos })
	if idx >= len(l.ends) {
		var zero V
		l.ends = append(l.ends, pos+1)
		l.values = append(l.values, zero)
	}
	return idx
}

func (l *List[V]) startAndEnd(idx int) (start int64, end int64, hasEnd bool) {
	if idx >= 1 {
		start = l.ends[idx-1]
	}
	if idx < len(l.ends) {
		return start, l.ends[idx], true
	}
	return start, 0, false
}

// Set assigns value to the half-open range [offset, offset+length), splitting
// and coalescing neighboring intervals as needed. length <= 0 is a no-op.
func (l *List[V]) Set(offset, length int64, value V) {
	if length <= 0 {
		return
	}

	idx1 := l.intervalIndex(offset)
	start, _, _ := l.startAndEnd(idx1)
	if start != offset && l.values[idx1] != value {
		l.ends = insertInt64(l.ends, idx1, offset)
		l.values = insertValue(l.values, idx1+1, value)
		idx1++
	}

	idx2 := l.intervalIndex(offset + length - 1)
	_, end, hasEnd := l.startAndEnd(idx2)
	if (!hasEnd || offset+length != end) && l.values[idx2] != value {
		l.ends = insertInt64(l.ends, idx2, offset+length)
		l.values = insertValue(l.values, idx2, value)
	}

	l.values[idx2] = value

	if idx1 > 0 && l.values[idx1-1] == value {
		idx1--
	}
	if idx2+1 < len(l.values) && l.values[idx2+1] == value {
		idx2++
	}

	if idx1 != idx2 {
		l.ends = append(l.ends[:idx1], l.ends[idx2:]...)
		l.values = append(l.values[:idx1], l.values[idx2:]...)
	}
}

func insertInt64(s []int64, idx int, v int64) []int64 {
	s = append(s, 0)
	copy(s[idx+1:], s[idx:])
	s[idx] = v
	return s
}

func insertValue[V any](s []V, idx int, v V) []V {
	var zero V
	s = append(s, zero)
	copy(s[idx+1:], s[idx:])
	s[idx] = v
	return s
}

// Interval is one (offset, length, value) triple returned by Intervals.
type Interval[V comparable] struct {
	Offset int64
	Length int64
	Value  V
}

// Intervals returns every interval overlapping [offset, offset+length).
// length < 0 means "until the current end of the list". offset must be >= 0.
func (l *List[V]) Intervals(offset, length int64) []Interval[V] {
	if offset < 0 {
		panic("intervallist: negative offset")
	}

	idx1 := l.intervalIndex(offset)

	var idx2 int
	if length < 0 {
		idx2 = len(l.ends) - 1
		length = l.ends[idx2] - offset
	} else {
		idx2 = l.intervalIndex(offset + length - 1)
	}

	if length == 0 {
		return nil
	}

	var out []Interval[V]
	pos := offset
	for idx := idx1; idx < idx2; idx++ {
		end := l.ends[idx]
		out = append(out, Interval[V]{Offset: pos, Length: end - pos, Value: l.values[idx]})
		pos = end
	}
	out = append(out, Interval[V]{Offset: pos, Length: offset + length - pos, Value: l.values[idx2]})
	return out
}

// All is equivalent to Intervals(0, -1): every interval the list has ever
// recorded, from offset zero to its current end.
func (l *List[V]) All() []Interval[V] {
	return l.Intervals(0, -1)
}

// SanityCheck verifies the list's structural invariants: ends sorted and
// unique, values parallel to ends, and no two consecutive intervals sharing
// a value (which Set should always have coalesced). It panics on violation;
// callers use it only from tests and debug builds.
func (l *List[V]) SanityCheck() {
	if len(l.ends) != len(l.values) {
		panic("intervallist: ends/values length mismatch")
	}
	for i := 0; i+1 < len(l.ends); i++ {
		if l.ends[i] >= l.ends[i+1] {
			panic("intervallist: ends not strictly increasing")
		}
	}
	for i := 0; i+1 < len(l.values); i++ {
		if l.values[i] == l.values[i+1] {
			panic("intervallist: adjacent intervals with equal value not coalesced")
		}
	}
}
