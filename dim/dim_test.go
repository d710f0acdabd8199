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

package dim

import (
	"errors"
	"sync"
	"testing"

	"github.com/annstore/anndata/annerr"
)

func TestDimUnsetIsEmpty(t *testing.T) {
	d := New()
	if !d.IsEmpty() {
		t.Fatal("expected fresh Dim to be empty")
	}
	if d.Get() != 0 {
		t.Fatalf("expected 0, got %d", d.Get())
	}
}

func TestDimTrySetIdempotent(t *testing.T) {
	d := New()
	if err := d.TrySet(10); err != nil {
		t.Fatal(err)
	}
	if d.IsEmpty() {
		t.Fatal("expected Dim to be set")
	}
	if err := d.TrySet(10); err != nil {
		t.Fatalf("idempotent TrySet should succeed: %v", err)
	}
	if d.Get() != 10 {
		t.Fatalf("wanted 10, got %d", d.Get())
	}
}

func TestDimTrySetConflict(t *testing.T) {
	d := New()
	good := func(n int) {
		t.Helper()
		if err := d.TrySet(n); err != nil {
			t.Fatalf("TrySet(%d): %v", n, err)
		}
	}
	good(5)
	err := d.TrySet(6)
	if err == nil {
		t.Fatal("expected conflicting TrySet to fail")
	}
	if !errors.Is(err, annerr.ErrDimensionMismatch) {
		t.Fatalf("wanted ErrDimensionMismatch, got %v", err)
	}
	if d.Get() != 5 {
		t.Fatalf("dimension should be unchanged, got %d", d.Get())
	}
}

func TestDimConcurrentTrySet(t *testing.T) {
	d := New()
	const n = 64
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = d.TrySet(7)
		}(i)
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			t.Fatalf("goroutine %d: %v", i, err)
		}
	}
	if d.Get() != 7 {
		t.Fatalf("wanted 7, got %d", d.Get())
	}
}

func TestDimTryLockSet(t *testing.T) {
	d := New()
	d.mu.Lock()
	ok, err := d.TryLockSet(9)
	d.mu.Unlock()
	if ok {
		t.Fatal("expected TryLockSet to fail to acquire an already-held lock")
	}
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ok, err = d.TryLockSet(9)
	if !ok || err != nil {
		t.Fatalf("expected success, got ok=%v err=%v", ok, err)
	}
	if d.Get() != 9 {
		t.Fatalf("wanted 9, got %d", d.Get())
	}
}

func TestDimTryLockReset(t *testing.T) {
	d := Fixed(5)
	d.mu.Lock()
	if d.TryLockReset(12) {
		t.Fatal("expected TryLockReset to fail to acquire an already-held lock")
	}
	d.mu.Unlock()
	if d.Get() != 5 {
		t.Fatalf("dimension should be unchanged while locked, got %d", d.Get())
	}

	if !d.TryLockReset(12) {
		t.Fatal("expected TryLockReset to succeed once unlocked")
	}
	if d.Get() != 12 {
		t.Fatalf("wanted 12 after reset, got %d", d.Get())
	}
}
