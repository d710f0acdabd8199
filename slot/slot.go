// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package slot implements the mutable-optional, mutex-guarded container
// used for lazily-present values; AnnData holds its X handle in a
// *Slot[*elem.ArrayElem]. Frames and ArrayElem do not use it.
package slot

import "sync"

// Slot is a nullable container guarding a lazily-materialized inner
// value with a mutex. A *Slot[T] is itself the shared handle: cloning it
// (via Clone) produces an additional strong reference to the same
// underlying cell, not a copy of the value.
type Slot[T any] struct {
	mu    sync.Mutex
	inner T
	full  bool
}

// NewEmpty returns a Slot with no inner value.
func NewEmpty[T any]() *Slot[T] {
	return &Slot[T]{}
}

// NewFilled returns a Slot already holding v.
func NewFilled[T any](v T) *Slot[T] {
	return &Slot[T]{inner: v, full: true}
}

// IsNone reports whether the slot currently holds no value.
func (s *Slot[T]) IsNone() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.full
}

// Lock acquires the slot's mutex and returns a function that releases
// it, so call sites can write:
//
//	unlock := s.Lock()
//	defer unlock()
func (s *Slot[T]) Lock() func() {
	s.mu.Lock()
	return s.mu.Unlock
}

// Inner returns the current value. It panics if the slot is empty;
// callers must check IsNone first, exactly as the design calls for —
// this is a programmer error, not a recoverable condition.
func (s *Slot[T]) Inner() T {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.full {
		panic("slot: Inner called on an empty slot")
	}
	return s.inner
}

// Set installs v into the slot, replacing any previous value.
func (s *Slot[T]) Set(v T) {
	s.mu.Lock()
	s.inner = v
	s.full = true
	s.mu.Unlock()
}

// Drop empties the slot, discarding the previous value.
func (s *Slot[T]) Drop() {
	s.mu.Lock()
	var zero T
	s.inner = zero
	s.full = false
	s.mu.Unlock()
}

// Clone returns the same shared handle. It exists so call sites can make
// the sharing explicit ("give me a handle to this slot") rather than
// relying on readers to know that *Slot[T] is already a reference type.
func (s *Slot[T]) Clone() *Slot[T] {
	return s
}
