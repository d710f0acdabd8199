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

// Package axis implements AxisArrays: an ElemCollection additionally
// constrained by an axis contract against one or two shared Dim cells
// (obsm/varm/obsp/varp in the AnnData object graph).
package axis

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/annstore/anndata/annerr"
	"github.com/annstore/anndata/array"
	"github.com/annstore/anndata/dim"
	"github.com/annstore/anndata/elem"
	"github.com/annstore/anndata/selection"
	"github.com/annstore/anndata/storage"
)

// Kind selects how a collection's elements relate to its shared Dims.
type Kind int

const (
	// Row: shape[0] must equal dim1 (obsm/varm).
	Row Kind = iota
	// RowColumn: shape[0] must equal dim1, shape[1] must equal dim2.
	RowColumn
	// Pairwise: shape must be square, and shape[0] == shape[1] == dim1
	// (obsp/varp).
	Pairwise
)

// AxisArrays is an axis-constrained ElemCollection.
type AxisArrays struct {
	mu       sync.Mutex
	group    storage.Group
	kind     Kind
	dim1     *dim.Dim
	dim2     *dim.Dim // only consulted for RowColumn
	compress bool
	elems    map[string]*elem.ArrayElem
}

// New creates an empty AxisArrays collection writing new elements under
// group, constrained by kind against dim1 (and dim2, for RowColumn).
func New(group storage.Group, kind Kind, dim1, dim2 *dim.Dim, compress bool) *AxisArrays {
	return &AxisArrays{group: group, kind: kind, dim1: dim1, dim2: dim2, compress: compress, elems: make(map[string]*elem.ArrayElem)}
}

// Open reconstructs an AxisArrays collection from an existing group's
// children, without re-validating shapes against dim1/dim2 (the caller
// is expected to have already established those dims from n_obs/n_vars
// or the X matrix).
func Open(ctx context.Context, group storage.Group, kind Kind, dim1, dim2 *dim.Dim) (*AxisArrays, error) {
	names, err := group.List(ctx)
	if err != nil {
		return nil, annerr.BackendFailuref(err, "axis: list children of %s", group.Path())
	}
	sort.Strings(names)
	a := New(group, kind, dim1, dim2, false)
	for _, name := range names {
		e, err := elem.Open(ctx, group, name)
		if err != nil {
			return nil, err
		}
		a.elems[name] = e
	}
	return a, nil
}

// validate checks data's shape against the axis contract and, on
// success, propagates it into the shared Dim(s) via try_set.
func (a *AxisArrays) validate(shape []int) error {
	switch a.kind {
	case Row:
		if len(shape) < 1 {
			return annerr.AxisViolationf("axis: Row collection requires at least 1 dimension, got shape %v", shape)
		}
		return a.dim1.TrySet(shape[0])
	case RowColumn:
		if len(shape) < 2 {
			return annerr.AxisViolationf("axis: RowColumn collection requires 2 dimensions, got shape %v", shape)
		}
		if err := a.dim1.TrySet(shape[0]); err != nil {
			return err
		}
		return a.dim2.TrySet(shape[1])
	case Pairwise:
		if len(shape) != 2 || shape[0] != shape[1] {
			return annerr.AxisViolationf("axis: Pairwise collection requires a square 2-D shape, got %v", shape)
		}
		return a.dim1.TrySet(shape[0])
	default:
		return annerr.AxisViolationf("axis: unknown kind %d", a.kind)
	}
}

// AddData validates data's shape against the axis contract, propagating
// into the shared Dim(s), and only then writes through and installs the
// handle. On validation failure, nothing is written: key is absent and
// no backing object is created.
func (a *AxisArrays) AddData(ctx context.Context, key string, data array.Array) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.validate(data.Shape()); err != nil {
		return err
	}
	if e, ok := a.elems[key]; ok {
		return e.Save(ctx, data)
	}
	e, err := elem.Create(ctx, a.group, key, data, a.compress)
	if err != nil {
		return err
	}
	a.elems[key] = e
	return nil
}

// AddDataFromIter writes chunks sequentially (each chunk vertically
// stacked onto the growing element), then validates the final shape. On
// validation failure the partially written backing object is deleted
// and key is never installed.
func (a *AxisArrays) AddDataFromIter(ctx context.Context, key string, chunks []array.Array) error {
	if len(chunks) == 0 {
		return annerr.AxisViolationf("axis: AddDataFromIter(%q): no chunks given", key)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	cur := chunks[0]
	e, err := elem.Create(ctx, a.group, key, cur, a.compress)
	if err != nil {
		return err
	}
	for _, next := range chunks[1:] {
		cur, err = vstackOne(cur, next)
		if err != nil {
			_ = e.Clear(ctx)
			return fmt.Errorf("axis: AddDataFromIter(%q): %w", key, err)
		}
		if err := e.Save(ctx, cur); err != nil {
			_ = e.Clear(ctx)
			return err
		}
	}
	if err := a.validate(cur.Shape()); err != nil {
		_ = e.Clear(ctx)
		return err
	}
	a.elems[key] = e
	return nil
}

func vstackOne(a, b array.Array) (array.Array, error) {
	switch av := a.(type) {
	case *array.Matrix:
		bv, ok := b.(*array.Matrix)
		if !ok {
			return nil, fmt.Errorf("axis: chunk type mismatch: %T vs %T", a, b)
		}
		return array.VStack([]*array.Matrix{av, bv})
	case *array.Dense:
		bv, ok := b.(*array.Dense)
		if !ok {
			return nil, fmt.Errorf("axis: chunk type mismatch: %T vs %T", a, b)
		}
		return array.VStackDense([]*array.Dense{av, bv})
	case *array.Sparse:
		bv, ok := b.(*array.Sparse)
		if !ok {
			return nil, fmt.Errorf("axis: chunk type mismatch: %T vs %T", a, b)
		}
		return array.VStackSparse([]*array.Sparse{av, bv})
	case *array.Categorical:
		bv, ok := b.(*array.Categorical)
		if !ok {
			return nil, fmt.Errorf("axis: chunk type mismatch: %T vs %T", a, b)
		}
		return array.VStackCategorical([]*array.Categorical{av, bv}), nil
	default:
		return nil, fmt.Errorf("axis: type %T does not support chunked writes", a)
	}
}

// RemoveData deletes the backing object for key and drops the handle.
// Dim values are never decremented on removal: Dim is write-once for
// the lifetime of the owning collection's siblings.
func (a *AxisArrays) RemoveData(ctx context.Context, key string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	e, ok := a.elems[key]
	if !ok {
		return annerr.MissingKeyf("axis: no key %q", key)
	}
	if err := e.Clear(ctx); err != nil {
		return err
	}
	delete(a.elems, key)
	return nil
}

// Fetch reads back the array stored under key.
func (a *AxisArrays) Fetch(ctx context.Context, key string) (array.Array, error) {
	a.mu.Lock()
	e, ok := a.elems[key]
	a.mu.Unlock()
	if !ok {
		return nil, annerr.MissingKeyf("axis: no key %q", key)
	}
	return e.Read(ctx)
}

// Keys returns the collection's keys in sorted order.
func (a *AxisArrays) Keys() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	keys := make([]string, 0, len(a.elems))
	for k := range a.elems {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// selectOne applies the per-axis selection to a single element according
// to a's kind: Row selects axis 0 only; RowColumn selects both axes
// independently (falling back to a plain row slice when sel[1] is full,
// since that's cheaper and every array type supports it); Pairwise
// applies sel[0]'s index set symmetrically to both axes via Submatrix.
func (a *AxisArrays) selectOne(got array.Array, sel selection.Selection2D) (array.Array, error) {
	shape := got.Shape()
	switch a.kind {
	case Row:
		idx, err := sel[0].Indices(shape[0])
		if err != nil {
			return nil, err
		}
		return rowSlice(got, idx)
	case RowColumn:
		rowIdx, err := sel[0].Indices(shape[0])
		if err != nil {
			return nil, err
		}
		if sel[1].IsFull(shape[1]) {
			return rowSlice(got, rowIdx)
		}
		colIdx, err := sel[1].Indices(shape[1])
		if err != nil {
			return nil, err
		}
		return sliceRowsCols(got, rowIdx, colIdx)
	case Pairwise:
		idx, err := sel[0].Indices(shape[0])
		if err != nil {
			return nil, err
		}
		return submatrix(got, idx)
	default:
		return nil, annerr.AxisViolationf("axis: unknown kind %d", a.kind)
	}
}

func rowSlice(got array.Array, idx []int) (array.Array, error) {
	switch v := got.(type) {
	case *array.Matrix:
		return v.RowSlice(idx), nil
	case *array.Dense:
		return v.RowSlice(idx), nil
	case *array.Sparse:
		return v.RowSlice(idx), nil
	case *array.Categorical:
		return v.RowSlice(idx), nil
	default:
		return nil, fmt.Errorf("axis: type %T does not support row selection", got)
	}
}

func sliceRowsCols(got array.Array, rowIdx, colIdx []int) (array.Array, error) {
	switch v := got.(type) {
	case *array.Matrix:
		return v.SliceRowsCols(rowIdx, colIdx), nil
	case *array.Dense:
		return v.SliceRowsCols(rowIdx, colIdx), nil
	case *array.Sparse:
		return v.SliceRowsCols(rowIdx, colIdx), nil
	default:
		return nil, fmt.Errorf("axis: type %T does not support independent row/column selection", got)
	}
}

func submatrix(got array.Array, idx []int) (array.Array, error) {
	switch v := got.(type) {
	case *array.Matrix:
		return v.Submatrix(idx), nil
	case *array.Sparse:
		return v.Submatrix(idx), nil
	default:
		return nil, fmt.Errorf("axis: type %T does not support pairwise submatrix selection", got)
	}
}

// ExportSelect projects each element through sel and writes the results
// into a freshly created child group named name under dst. If sel is
// full on every dimension it degrades to a plain recursive export.
func (a *AxisArrays) ExportSelect(ctx context.Context, sel selection.Selection2D, dst storage.Group, name string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	g, err := dst.NewGroup(ctx, name)
	if err != nil {
		return annerr.BackendFailuref(err, "axis: export_select: create group %q", name)
	}
	for key, e := range a.elems {
		got, err := e.Read(ctx)
		if err != nil {
			return err
		}
		shape := got.Shape()
		full := sel[0].IsFull(shape[0]) && (len(shape) < 2 || sel[1].IsFull(shape[1]))
		out := got
		if !full {
			out, err = a.selectOne(got, sel)
			if err != nil {
				return fmt.Errorf("axis: export_select(%q): %w", key, err)
			}
		}
		if _, err := elem.Create(ctx, g, key, out, a.compress); err != nil {
			return err
		}
	}
	return nil
}

// Subset rewrites every element in place according to sel and updates
// the shared Dim(s) to the new sizes. If a Dim is already locked by
// another writer, that Dim's update is skipped: best-effort propagation,
// never block, per the concurrency design (the lock holder is
// responsible for leaving the Dim consistent).
func (a *AxisArrays) Subset(ctx context.Context, sel selection.Selection2D) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	var newDim1, newDim2 int
	haveDim1, haveDim2 := false, false
	for key, e := range a.elems {
		got, err := e.Read(ctx)
		if err != nil {
			return err
		}
		out, err := a.selectOne(got, sel)
		if err != nil {
			return fmt.Errorf("axis: subset(%q): %w", key, err)
		}
		if err := e.Save(ctx, out); err != nil {
			return err
		}
		shape := out.Shape()
		if len(shape) > 0 {
			newDim1, haveDim1 = shape[0], true
		}
		if a.kind == RowColumn && len(shape) > 1 {
			newDim2, haveDim2 = shape[1], true
		}
	}
	if haveDim1 {
		a.dim1.TryLockReset(newDim1) // best-effort: skip silently if locked elsewhere
	}
	if haveDim2 {
		a.dim2.TryLockReset(newDim2)
	}
	return nil
}
