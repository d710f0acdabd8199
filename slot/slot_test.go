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

package slot

import "testing"

func TestSlotEmpty(t *testing.T) {
	s := NewEmpty[int]()
	if !s.IsNone() {
		t.Fatal("expected fresh slot to be empty")
	}
}

func TestSlotSetAndInner(t *testing.T) {
	s := NewEmpty[string]()
	s.Set("hello")
	if s.IsNone() {
		t.Fatal("expected slot to be filled")
	}
	if got := s.Inner(); got != "hello" {
		t.Fatalf("wanted %q, got %q", "hello", got)
	}
}

func TestSlotDrop(t *testing.T) {
	s := NewFilled(42)
	s.Drop()
	if !s.IsNone() {
		t.Fatal("expected slot to be empty after Drop")
	}
}

func TestSlotInnerPanicsWhenEmpty(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected Inner to panic on an empty slot")
		}
	}()
	NewEmpty[int]().Inner()
}

func TestSlotCloneSharesState(t *testing.T) {
	s := NewEmpty[int]()
	clone := s.Clone()
	clone.Set(7)
	if s.IsNone() {
		t.Fatal("expected the original handle to observe the clone's write")
	}
	if got := s.Inner(); got != 7 {
		t.Fatalf("wanted 7, got %d", got)
	}
}

func TestSlotLockUnlock(t *testing.T) {
	s := NewFilled(1)
	unlock := s.Lock()
	s.inner = 2
	s.full = true
	unlock()
	if got := s.Inner(); got != 2 {
		t.Fatalf("wanted 2, got %d", got)
	}
}
