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

// Package dim implements the write-once dimension cell that anchors the
// obs/var size invariants shared across an AnnData object and all of its
// axis-aligned collections.
package dim

import (
	"fmt"
	"sync"

	"github.com/annstore/anndata/annerr"
)

// Dim is a nullable dimension size that may be set exactly once to a
// given value. Once set, any further TrySet with a different value fails.
//
// Dim is a handle type: copying a *Dim shares the same underlying cell,
// which is how an AnnData and every AxisArrays collection beneath it
// observe the same n_obs/n_vars without a central coordinator.
type Dim struct {
	mu  sync.Mutex
	n   int
	set bool
}

// New returns an unset dimension cell.
func New() *Dim {
	return &Dim{}
}

// Fixed returns a dimension cell already set to n.
func Fixed(n int) *Dim {
	return &Dim{n: n, set: true}
}

// Get returns the current size, or 0 if the dimension is unset.
// Callers that must distinguish "unset" from "set to zero" should use
// IsEmpty.
func (d *Dim) Get() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.n
}

// IsEmpty reports whether the dimension has not yet been set.
func (d *Dim) IsEmpty() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return !d.set
}

// TrySet establishes the dimension size if it is currently unset, or
// confirms it if it is already set to n. It fails with
// annerr.ErrDimensionMismatch if the dimension is already set to a
// different value. TrySet is idempotent: calling it twice with the same
// n always succeeds.
func (d *Dim) TrySet(n int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.set {
		d.n = n
		d.set = true
		return nil
	}
	if d.n != n {
		return annerr.DimensionMismatchf("dimension already set to %d, cannot change to %d", d.n, n)
	}
	return nil
}

// TryLockSet attempts to set n without blocking on a concurrent holder of
// the lock. It reports ok=false when the lock is currently held by
// another writer; per spec.md §4.3/§9, the caller in that situation must
// treat the update as best-effort and defer to the lock holder, which is
// responsible for leaving the dimension consistent.
func (d *Dim) TryLockSet(n int) (ok bool, err error) {
	if !d.mu.TryLock() {
		return false, nil
	}
	defer d.mu.Unlock()
	if !d.set {
		d.n = n
		d.set = true
		return true, nil
	}
	if d.n != n {
		return true, annerr.DimensionMismatchf("dimension already set to %d, cannot change to %d", d.n, n)
	}
	return true, nil
}

// TryLockReset attempts to unconditionally install n (as Reset does)
// without blocking on a concurrent holder of the lock. It reports
// ok=false when the lock is held elsewhere, in which case the caller
// must skip the update and defer to the lock holder. Used by
// AxisArrays.Subset, which recomputes a Dim from a selection's surviving
// row count rather than merely confirming an existing value.
func (d *Dim) TryLockReset(n int) (ok bool) {
	if !d.mu.TryLock() {
		return false
	}
	defer d.mu.Unlock()
	d.n = n
	d.set = true
	return true
}

// Reset unconditionally installs n, bypassing the write-once contract.
// It is used only after a subset operation has recomputed the dimension
// from the rows that survived selection, never on a live, shared Dim.
func (d *Dim) Reset(n int) {
	d.mu.Lock()
	d.n = n
	d.set = true
	d.mu.Unlock()
}

func (d *Dim) String() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.set {
		return "<unset>"
	}
	return fmt.Sprintf("%d", d.n)
}
