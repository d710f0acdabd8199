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

// Package stacked implements the virtual-concatenation counterparts of
// elem.ArrayElem, axis.AxisArrays, and frame.Frame used by an
// AnnDataSet: a fixed ordered sequence of per-child handles presented as
// one borrowed, read-only view, with row selection and reads fanned out
// to the owning partition via a vecvec.VecVecIndex.
package stacked

import (
	"context"
	"fmt"
	"iter"
	"sort"

	"github.com/annstore/anndata/annerr"
	"github.com/annstore/anndata/array"
	"github.com/annstore/anndata/axis"
	"github.com/annstore/anndata/elem"
	"github.com/annstore/anndata/frame"
	"github.com/annstore/anndata/index"
	"github.com/annstore/anndata/selection"
	"github.com/annstore/anndata/vecvec"
)

// ArrayElem is an ordered stack of ArrayElem parts sharing a common
// second-dimension width and encoding.
type ArrayElem struct {
	parts    []*elem.ArrayElem
	vv       *vecvec.VecVecIndex
	encoding array.EncodingType
	width    int // -1 for 1-D parts
}

// New builds a stacked ArrayElem over parts, in partition order. All
// parts must share the same EncodingType and (for 2-D parts) the same
// column count.
func New(parts []*elem.ArrayElem) (*ArrayElem, error) {
	if len(parts) == 0 {
		return nil, annerr.DimensionMismatchf("stacked: no parts given")
	}
	enc := parts[0].Encoding()
	width := -1
	if shape := parts[0].Shape(); len(shape) > 1 {
		width = shape[1]
	}
	sizes := make([]int, len(parts))
	for i, p := range parts {
		if p.Encoding() != enc {
			return nil, annerr.EncodingMismatchf("stacked: part %d has encoding %q, expected %q", i, p.Encoding(), enc)
		}
		shape := p.Shape()
		if len(shape) == 0 {
			return nil, annerr.DimensionMismatchf("stacked: part %d has no rows dimension", i)
		}
		if width >= 0 {
			if len(shape) < 2 || shape[1] != width {
				return nil, annerr.DimensionMismatchf("stacked: part %d has width %v, expected %d", i, shape, width)
			}
		}
		sizes[i] = shape[0]
	}
	return &ArrayElem{parts: parts, vv: vecvec.New(sizes), encoding: enc, width: width}, nil
}

// Shape returns the stack's logical shape: total row count, plus the
// shared width when the parts are 2-D.
func (s *ArrayElem) Shape() []int {
	if s.width < 0 {
		return []int{s.vv.Len()}
	}
	return []int{s.vv.Len(), s.width}
}

// Data reads and vertically concatenates every part, in partition order.
func (s *ArrayElem) Data(ctx context.Context) (array.Array, error) {
	parts := make([]array.Array, len(s.parts))
	for i, p := range s.parts {
		a, err := p.Read(ctx)
		if err != nil {
			return nil, err
		}
		parts[i] = a
	}
	return vstack(parts)
}

// Select applies a row/column selection across the virtual
// concatenation: the row selection is split per partition via
// vecvec.SplitSelect, each part is read with its own sub-selection, the
// results are vertically stacked in partition order, and finally
// permuted by the reordering map (if any) so the output matches sel's
// row order.
func (s *ArrayElem) Select(ctx context.Context, sel selection.Selection2D) (array.Array, error) {
	perPartition, mapping, err := s.vv.SplitSelect(sel[0])
	if err != nil {
		return nil, err
	}
	var parts []array.Array
	for i, p := range s.parts {
		rowSel := perPartition[i]
		if rowSel.Len(s.sizeOf(i)) == 0 {
			continue
		}
		a, err := p.Select(ctx, selection.Selection2D{rowSel, sel[1]})
		if err != nil {
			return nil, fmt.Errorf("stacked: select part %d: %w", i, err)
		}
		parts = append(parts, a)
	}
	out, err := vstack(parts)
	if err != nil {
		return nil, err
	}
	if mapping == nil {
		return out, nil
	}
	return permute(out, mapping)
}

func (s *ArrayElem) sizeOf(i int) int {
	return s.parts[i].Shape()[0]
}

// Chunked walks the virtual concatenation partition by partition,
// yielding each part's full contents in turn. Row boundaries always
// align with partition boundaries: callers that need a specific chunk
// size should further split each yielded array themselves.
func (s *ArrayElem) Chunked(ctx context.Context) iter.Seq2[array.Array, error] {
	return func(yield func(array.Array, error) bool) {
		for _, p := range s.parts {
			a, err := p.Read(ctx)
			if !yield(a, err) {
				return
			}
			if err != nil {
				return
			}
		}
	}
}

func vstack(parts []array.Array) (array.Array, error) {
	if len(parts) == 0 {
		return nil, annerr.DimensionMismatchf("stacked: nothing to stack")
	}
	switch parts[0].(type) {
	case *array.Matrix:
		ms := make([]*array.Matrix, len(parts))
		for i, p := range parts {
			v, ok := p.(*array.Matrix)
			if !ok {
				return nil, fmt.Errorf("stacked: part %d type mismatch: %T", i, p)
			}
			ms[i] = v
		}
		return array.VStack(ms)
	case *array.Dense:
		ds := make([]*array.Dense, len(parts))
		for i, p := range parts {
			v, ok := p.(*array.Dense)
			if !ok {
				return nil, fmt.Errorf("stacked: part %d type mismatch: %T", i, p)
			}
			ds[i] = v
		}
		return array.VStackDense(ds)
	case *array.Sparse:
		ss := make([]*array.Sparse, len(parts))
		for i, p := range parts {
			v, ok := p.(*array.Sparse)
			if !ok {
				return nil, fmt.Errorf("stacked: part %d type mismatch: %T", i, p)
			}
			ss[i] = v
		}
		return array.VStackSparse(ss)
	case *array.Categorical:
		cs := make([]*array.Categorical, len(parts))
		for i, p := range parts {
			v, ok := p.(*array.Categorical)
			if !ok {
				return nil, fmt.Errorf("stacked: part %d type mismatch: %T", i, p)
			}
			cs[i] = v
		}
		return array.VStackCategorical(cs), nil
	default:
		return nil, fmt.Errorf("stacked: type %T does not support vertical stacking", parts[0])
	}
}

// permute reorders a's rows according to mapping: out[i] = a[mapping[i]].
func permute(a array.Array, mapping []int) (array.Array, error) {
	switch v := a.(type) {
	case *array.Matrix:
		return v.RowSlice(mapping), nil
	case *array.Dense:
		return v.RowSlice(mapping), nil
	case *array.Sparse:
		return v.RowSlice(mapping), nil
	case *array.Categorical:
		return v.RowSlice(mapping), nil
	default:
		return nil, fmt.Errorf("stacked: type %T does not support row permutation", a)
	}
}

// AxisArrays is the per-key stacked counterpart of axis.AxisArrays: an
// ordered sequence of per-child AxisArrays collections, stacked key by
// key on demand.
type AxisArrays struct {
	parts []*axis.AxisArrays
	sizes []int
}

// NewAxisArrays builds a stacked view over parts, in partition order.
// sizes gives each partition's row count along the stacked axis
// (typically each child's NObs/NVars Dim).
func NewAxisArrays(parts []*axis.AxisArrays, sizes []int) *AxisArrays {
	return &AxisArrays{parts: parts, sizes: append([]int(nil), sizes...)}
}

// Keys returns the union of every part's keys, sorted. An AnnDataSet's
// children are expected to agree on keys, but Keys does not enforce
// that: callers that need agreement should check Fetch's error instead.
func (s *AxisArrays) Keys() []string {
	seen := make(map[string]struct{})
	for _, p := range s.parts {
		for _, k := range p.Keys() {
			seen[k] = struct{}{}
		}
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Fetch reads key from every part and vertically stacks the results in
// partition order.
func (s *AxisArrays) Fetch(ctx context.Context, key string) (array.Array, error) {
	parts := make([]array.Array, len(s.parts))
	for i, p := range s.parts {
		a, err := p.Fetch(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("stacked: axis fetch %q: %w", key, err)
		}
		parts[i] = a
	}
	return vstack(parts)
}

// Select fetches key from every part, splits sel's row selection across
// partitions via vecvec.SplitSelect, and returns the stacked,
// reordering-corrected result — matching ArrayElem.Select.
func (s *AxisArrays) Select(ctx context.Context, key string, sel selection.Selection2D) (array.Array, error) {
	vv := vecvec.New(s.sizes)
	perPartition, mapping, err := vv.SplitSelect(sel[0])
	if err != nil {
		return nil, err
	}
	var parts []array.Array
	for i, p := range s.parts {
		rowSel := perPartition[i]
		if rowSel.Len(s.sizes[i]) == 0 {
			continue
		}
		got, err := p.Fetch(ctx, key)
		if err != nil {
			return nil, err
		}
		idx, err := rowSel.Indices(s.sizes[i])
		if err != nil {
			return nil, err
		}
		out, err := rowSlice(got, idx)
		if err != nil {
			return nil, fmt.Errorf("stacked: axis select %q part %d: %w", key, i, err)
		}
		parts = append(parts, out)
	}
	out, err := vstack(parts)
	if err != nil {
		return nil, err
	}
	if mapping == nil {
		return out, nil
	}
	return permute(out, mapping)
}

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
		return nil, fmt.Errorf("stacked: type %T does not support row selection", a)
	}
}

// DataFrame is the per-child stacked counterpart of frame.Frame: the
// borrowed, concatenated obs/var view of an AnnDataSet, built by merging
// each child's index and columns in partition order.
type DataFrame struct {
	parts []*frame.Frame
}

// NewDataFrame wraps parts, in partition order, as a single virtual
// frame. See Merge for how column sets across parts are reconciled.
func NewDataFrame(parts []*frame.Frame) *DataFrame {
	return &DataFrame{parts: parts}
}

// Merge concatenates every part into one in-memory frame.Frame, row by
// row in partition order. The output columns are part 0's columns, each
// the vertical stack of that column across every part. If any part lacks
// one of part 0's columns, Merge fails with MissingKey; columns that
// appear only in later parts are not included.
func (s *DataFrame) Merge(indexName string) (*frame.Frame, error) {
	if len(s.parts) == 0 {
		return nil, annerr.DimensionMismatchf("stacked: no parts to merge")
	}
	var names []string
	for _, p := range s.parts {
		names = append(names, p.Idx.Values()...)
	}
	merged := frame.New(indexName, index.NewList(names))

	colNames := s.parts[0].ColumnNames()
	for _, name := range colNames {
		var cols []array.Array
		for i, p := range s.parts {
			col, ok := p.Column(name)
			if !ok {
				return nil, annerr.MissingKeyf("stacked: part %d missing column %q present in part 0", i, name)
			}
			cols = append(cols, col)
		}
		merged1, err := vstack(cols)
		if err != nil {
			return nil, fmt.Errorf("stacked: merge column %q: %w", name, err)
		}
		if err := merged.AddColumn(name, merged1); err != nil {
			return nil, err
		}
	}
	return merged, nil
}
