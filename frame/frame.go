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

// Package frame implements the tabular obs/var side metadata: a
// DataFrameIndex paired with an ordered set of named array columns,
// round-tripping to a storage.Group the way every other element in this
// module does.
package frame

import (
	"context"
	"fmt"
	"sync"

	"github.com/annstore/anndata/annerr"
	"github.com/annstore/anndata/array"
	"github.com/annstore/anndata/index"
	"github.com/annstore/anndata/internal/logger"
	"github.com/annstore/anndata/selection"
	"github.com/annstore/anndata/storage"
)

// Frame is a row-indexed table: an index.Index plus ordered,
// name-addressed columns. Safe for concurrent use; column mutation is
// guarded by a single mutex, matching the coarse-grained locking
// discipline used throughout this module's collections.
type Frame struct {
	mu        sync.Mutex
	IndexName string
	Idx       index.Index
	order     []string
	cols      map[string]array.Array
}

// New creates an empty frame over the given index, with indexName
// recorded as the on-disk index column's name (conventionally
// "obs_names" or "var_names").
func New(indexName string, idx index.Index) *Frame {
	return &Frame{IndexName: indexName, Idx: idx, cols: make(map[string]array.Array)}
}

// Height returns the frame's row count, i.e. its index length.
func (f *Frame) Height() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Idx.Len()
}

// AddColumn installs a named column, replacing any existing column of
// the same name. Fails with DimensionMismatch if the column's row count
// disagrees with the frame's height.
func (f *Frame) AddColumn(name string, col array.Array) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	shape := col.Shape()
	if len(shape) == 0 || shape[0] != f.Idx.Len() {
		return annerr.DimensionMismatchf("frame: column %q has %d rows, frame height is %d", name, rowCount(shape), f.Idx.Len())
	}
	if _, exists := f.cols[name]; !exists {
		f.order = append(f.order, name)
	}
	f.cols[name] = col
	return nil
}

func rowCount(shape []int) int {
	if len(shape) == 0 {
		return -1
	}
	return shape[0]
}

// Column returns the named column and whether it exists.
func (f *Frame) Column(name string) (array.Array, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.cols[name]
	return c, ok
}

// RemoveColumn drops the named column, if present.
func (f *Frame) RemoveColumn(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.cols[name]; !ok {
		return
	}
	delete(f.cols, name)
	for i, n := range f.order {
		if n == name {
			f.order = append(f.order[:i], f.order[i+1:]...)
			break
		}
	}
}

// ColumnNames returns the column names in declaration order.
func (f *Frame) ColumnNames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.order...)
}

// Select returns a new Frame restricted to the rows named by sel,
// reindexing every column and the underlying index identically.
func (f *Frame) Select(sel selection.Selection) (*Frame, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := f.Idx.Len()
	if sel.IsFull(total) {
		out := New(f.IndexName, f.Idx)
		out.order = append([]string(nil), f.order...)
		for k, v := range f.cols {
			out.cols[k] = v
		}
		return out, nil
	}
	idxs, err := sel.Indices(total)
	if err != nil {
		return nil, err
	}
	newIdx, err := f.Idx.Select(sel)
	if err != nil {
		return nil, err
	}
	out := New(f.IndexName, newIdx)
	for _, name := range f.order {
		sub, err := rowSlice(f.cols[name], idxs)
		if err != nil {
			return nil, fmt.Errorf("frame: select column %q: %w", name, err)
		}
		out.order = append(out.order, name)
		out.cols[name] = sub
	}
	return out, nil
}

// rowSlice dispatches row selection across the concrete array.Array
// variants this module supports, mirroring array/codec.go's type
// switch.
func rowSlice(a array.Array, idx []int) (array.Array, error) {
	switch v := a.(type) {
	case *array.Matrix:
		return v.RowSlice(idx), nil
	case *array.Dense:
		return v.RowSlice(idx), nil
	case *array.Sparse:
		return v.RowSlice(idx), nil
	case *array.Categorical:
		return v.RowSlice(idx), nil
	default:
		return nil, fmt.Errorf("frame: column type %T does not support row selection", a)
	}
}

// WriteTo persists the frame to g: the index dataset, per-column
// datasets, and the _index/column-order attributes that let ReadFrom
// reconstruct column order without relying on the backend's native
// child-listing order.
func (f *Frame) WriteTo(ctx context.Context, g storage.Group, log *logger.Logger) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := g.SetStrAttr(ctx, storage.AttrIndexName, f.IndexName); err != nil {
		return annerr.BackendFailuref(err, "frame: set _index attr")
	}
	if err := g.SetArrayAttr(ctx, storage.AttrColumnOrder, f.order); err != nil {
		return annerr.BackendFailuref(err, "frame: set column-order attr")
	}
	if err := f.Idx.WriteTo(ctx, g, f.IndexName, log); err != nil {
		return err
	}
	for _, name := range f.order {
		col := f.cols[name]
		data, err := array.Encode(col)
		if err != nil {
			return fmt.Errorf("frame: encode column %q: %w", name, err)
		}
		ds, err := g.NewDataset(ctx, name, data, col.Shape(), storage.DatasetConfig{})
		if err != nil {
			return annerr.BackendFailuref(err, "frame: create dataset for column %q", name)
		}
		if err := ds.SetStrAttr(ctx, storage.AttrEncodingType, string(col.Encoding())); err != nil {
			return annerr.BackendFailuref(err, "frame: set encoding-type on column %q", name)
		}
		if err := ds.SetStrAttr(ctx, storage.AttrEncodingVersion, "0.1.0"); err != nil {
			return annerr.BackendFailuref(err, "frame: set encoding-version on column %q", name)
		}
	}
	return nil
}

// ReadFrom reconstructs a Frame previously written by WriteTo.
func ReadFrom(ctx context.Context, g storage.Group) (*Frame, error) {
	indexName, err := g.GetStrAttr(ctx, storage.AttrIndexName)
	if err != nil {
		return nil, annerr.MissingKeyf("frame: %q attribute missing: %v", storage.AttrIndexName, err)
	}
	order, err := g.GetArrayAttr(ctx, storage.AttrColumnOrder)
	if err != nil {
		return nil, annerr.MissingKeyf("frame: %q attribute missing: %v", storage.AttrColumnOrder, err)
	}
	idx, err := index.ReadFrom(ctx, g, indexName)
	if err != nil {
		return nil, err
	}
	f := New(indexName, idx)
	for _, name := range order {
		ds, err := g.OpenDataset(ctx, name)
		if err != nil {
			return nil, annerr.BackendFailuref(err, "frame: open column %q", name)
		}
		encType, err := ds.GetStrAttr(ctx, storage.AttrEncodingType)
		if err != nil {
			return nil, annerr.MissingKeyf("frame: column %q missing encoding-type: %v", name, err)
		}
		data, err := ds.ReadAll(ctx)
		if err != nil {
			return nil, annerr.BackendFailuref(err, "frame: read column %q", name)
		}
		col, err := array.Decode(array.EncodingType(encType), data)
		if err != nil {
			return nil, fmt.Errorf("frame: decode column %q: %w", name, err)
		}
		f.order = append(f.order, name)
		f.cols[name] = col
	}
	return f, nil
}
