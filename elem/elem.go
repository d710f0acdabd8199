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

// Package elem implements ArrayElem: the lazy handle to a single on-disk
// array or scalar that every collection in this module (ElemCollection,
// AxisArrays, StackedArrayElem) ultimately holds. ArrayElem has no lock
// of its own: concurrent Save, Read and Clear calls on one handle are not
// synchronized with each other.
package elem

import (
	"context"
	"fmt"

	"github.com/annstore/anndata/annerr"
	"github.com/annstore/anndata/array"
	"github.com/annstore/anndata/compr"
	"github.com/annstore/anndata/selection"
	"github.com/annstore/anndata/storage"
)

// State is ArrayElem's lifecycle: Open (materialized, never written),
// Saved (materialized, backing bytes current), or Cleared (terminal,
// backing object deleted).
type State int

const (
	StateOpen State = iota
	StateSaved
	StateCleared
)

// compressThreshold is the payload size (bytes) at or above which Save
// compresses before handing bytes to the backend, when the handle was
// created with compress set.
// Below it the s2 frame overhead isn't worth paying.
const compressThreshold = 4096

const attrCompression = "compression"
const attrUncompressedSize = "uncompressed-size"

// ArrayElem is a lazy handle to a single array/scalar backed by one
// storage.Dataset. Parent and name are retained so Clear can delete the
// backing object through the owning group, matching ElemCollection's
// remove_data contract.
type ArrayElem struct {
	ds       storage.Dataset
	parent   storage.Group
	name     string
	shape    []int
	encoding array.EncodingType
	state    State
	compress bool
}

// Open wraps an existing dataset as an ArrayElem without reading its
// contents; shape/encoding are taken from the dataset's own attributes.
func Open(ctx context.Context, parent storage.Group, name string) (*ArrayElem, error) {
	ds, err := parent.OpenDataset(ctx, name)
	if err != nil {
		return nil, annerr.BackendFailuref(err, "elem: open dataset %q", name)
	}
	encType, err := ds.GetStrAttr(ctx, storage.AttrEncodingType)
	if err != nil {
		return nil, annerr.MissingKeyf("elem: dataset %q missing encoding-type: %v", name, err)
	}
	shape, err := ds.Shape(ctx)
	if err != nil {
		return nil, annerr.BackendFailuref(err, "elem: shape of %q", name)
	}
	return &ArrayElem{ds: ds, parent: parent, name: name, shape: shape, encoding: array.EncodingType(encType), state: StateSaved}, nil
}

// Create makes a new, empty-backed ArrayElem and immediately saves a
// into it, so the returned handle is always in state Saved. StateOpen
// is only held inside Create, before that first Save.
func Create(ctx context.Context, parent storage.Group, name string, a array.Array, compress bool) (*ArrayElem, error) {
	e := &ArrayElem{parent: parent, name: name, shape: a.Shape(), encoding: a.Encoding(), state: StateOpen, compress: compress}
	if err := e.Save(ctx, a); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *ArrayElem) Shape() []int { return append([]int(nil), e.shape...) }

func (e *ArrayElem) Encoding() array.EncodingType { return e.encoding }

func (e *ArrayElem) State() State { return e.state }

// Save (re)writes a's encoded bytes into the backing dataset, creating
// it on first use. Fails with EncodingMismatch if a's encoding disagrees
// with an already-established encoding for this handle.
func (e *ArrayElem) Save(ctx context.Context, a array.Array) error {
	if e.state == StateCleared {
		return annerr.EncodingMismatchf("elem: %q is cleared, cannot save", e.name)
	}
	if e.ds != nil && e.encoding != "" && e.encoding != a.Encoding() {
		return annerr.EncodingMismatchf("elem: %q has encoding %q, got %q", e.name, e.encoding, a.Encoding())
	}
	payload, err := array.Encode(a)
	if err != nil {
		return fmt.Errorf("elem: encode %q: %w", e.name, err)
	}
	uncompressedSize := len(payload)
	compressed := false
	if e.compress && len(payload) >= compressThreshold {
		c := compr.Compression("s2")
		payload = c.Compress(payload, nil)
		compressed = true
	}
	if e.ds == nil {
		ds, err := e.parent.NewDataset(ctx, e.name, payload, a.Shape(), storage.DatasetConfig{Compress: e.compress})
		if err != nil {
			return annerr.BackendFailuref(err, "elem: create dataset %q", e.name)
		}
		e.ds = ds
	} else if err := e.ds.WriteAll(ctx, payload, a.Shape()); err != nil {
		return annerr.BackendFailuref(err, "elem: write dataset %q", e.name)
	}
	if err := e.ds.SetStrAttr(ctx, storage.AttrEncodingType, string(a.Encoding())); err != nil {
		return annerr.BackendFailuref(err, "elem: set encoding-type on %q", e.name)
	}
	if err := e.ds.SetStrAttr(ctx, storage.AttrEncodingVersion, "0.1.0"); err != nil {
		return annerr.BackendFailuref(err, "elem: set encoding-version on %q", e.name)
	}
	if compressed {
		if err := e.ds.SetStrAttr(ctx, attrCompression, "s2"); err != nil {
			return annerr.BackendFailuref(err, "elem: set compression attr on %q", e.name)
		}
		if err := e.ds.SetScalarAttr(ctx, attrUncompressedSize, float64(uncompressedSize)); err != nil {
			return annerr.BackendFailuref(err, "elem: set uncompressed-size attr on %q", e.name)
		}
	}
	e.shape = a.Shape()
	e.encoding = a.Encoding()
	e.state = StateSaved
	return nil
}

// Read materializes the backing bytes as an array.Array, transparently
// decompressing when the compression attribute is present.
func (e *ArrayElem) Read(ctx context.Context) (array.Array, error) {
	if e.state == StateCleared {
		return nil, annerr.EncodingMismatchf("elem: %q is cleared, cannot read", e.name)
	}
	raw, err := e.ds.ReadAll(ctx)
	if err != nil {
		return nil, annerr.BackendFailuref(err, "elem: read dataset %q", e.name)
	}
	codec, cerr := e.ds.GetStrAttr(ctx, attrCompression)
	if cerr == nil && codec != "" {
		size, serr := e.ds.GetScalarAttr(ctx, attrUncompressedSize)
		if serr != nil {
			return nil, annerr.MissingKeyf("elem: %q has compression attr but no uncompressed-size: %v", e.name, serr)
		}
		d := compr.Decompression(codec)
		if d == nil {
			return nil, fmt.Errorf("elem: unknown compression codec %q for %q", codec, e.name)
		}
		dst := make([]byte, int(size))
		if err := d.Decompress(raw, dst); err != nil {
			return nil, fmt.Errorf("elem: decompress %q: %w", e.name, err)
		}
		raw = dst
	}
	return array.Decode(e.encoding, raw)
}

// Select reads the element and applies a 2-D selection. For 1-D
// elements (or when sel[1] is full) only axis-0 (row) selection
// applies; otherwise both axes are selected independently via the
// array types' SliceRowsCols method.
func (e *ArrayElem) Select(ctx context.Context, sel selection.Selection2D) (array.Array, error) {
	a, err := e.Read(ctx)
	if err != nil {
		return nil, err
	}
	shape := a.Shape()
	if len(shape) == 0 {
		return a, nil
	}
	rowIdx, err := sel[0].Indices(shape[0])
	if err != nil {
		return nil, err
	}
	if len(shape) == 1 || sel[1].IsFull(shape[1]) {
		switch v := a.(type) {
		case *array.Matrix:
			return v.RowSlice(rowIdx), nil
		case *array.Dense:
			return v.RowSlice(rowIdx), nil
		case *array.Sparse:
			return v.RowSlice(rowIdx), nil
		case *array.Categorical:
			return v.RowSlice(rowIdx), nil
		default:
			return nil, fmt.Errorf("elem: %q: type %T does not support row selection", e.name, a)
		}
	}
	colIdx, err := sel[1].Indices(shape[1])
	if err != nil {
		return nil, err
	}
	switch v := a.(type) {
	case *array.Matrix:
		return v.SliceRowsCols(rowIdx, colIdx), nil
	case *array.Dense:
		return v.SliceRowsCols(rowIdx, colIdx), nil
	case *array.Sparse:
		return v.SliceRowsCols(rowIdx, colIdx), nil
	default:
		return nil, annerr.SelectionErrorf("elem: %q: type %T does not support column selection", e.name, a)
	}
}

// Clear deletes the backing dataset and transitions to the terminal
// Cleared state. A subsequent Save or Read fails.
func (e *ArrayElem) Clear(ctx context.Context) error {
	if e.state == StateCleared {
		return nil
	}
	if err := e.parent.Delete(ctx, e.name); err != nil {
		return annerr.BackendFailuref(err, "elem: delete dataset %q", e.name)
	}
	e.ds = nil
	e.state = StateCleared
	return nil
}
