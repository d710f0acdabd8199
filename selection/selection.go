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

// Package selection defines the per-axis selection spec used throughout
// this module: full range, a contiguous slice, or an explicit index
// vector. It is deliberately tiny and dependency-free so every other
// package (index, vecvec, elem, axis, stacked, anndata, annds) can share
// one definition without import cycles.
package selection

import "github.com/annstore/anndata/annerr"

// Kind distinguishes the three selection shapes.
type Kind int

const (
	// Full selects every row/column along the axis, in order.
	Full Kind = iota
	// Range selects the contiguous half-open interval [Start, End).
	Range
	// Index selects exactly the given (possibly repeated, possibly
	// unordered) indices, in the given order.
	Index
)

// Selection describes a 1-D selection along a single axis.
type Selection struct {
	Kind  Kind
	Start int   // valid when Kind == Range
	End   int   // valid when Kind == Range
	Idx   []int // valid when Kind == Index
}

// NewFull returns the selection that selects every element.
func NewFull() Selection { return Selection{Kind: Full} }

// NewRange returns the contiguous selection [start, end).
func NewRange(start, end int) Selection {
	return Selection{Kind: Range, Start: start, End: end}
}

// NewIndex returns the explicit index-vector selection idx.
func NewIndex(idx []int) Selection {
	return Selection{Kind: Index, Idx: idx}
}

// Len reports how many elements this selection picks out of an axis of
// the given total length (only meaningful for Full, which needs the
// total to know its length).
func (s Selection) Len(total int) int {
	switch s.Kind {
	case Full:
		return total
	case Range:
		if s.End < s.Start {
			return 0
		}
		return s.End - s.Start
	case Index:
		return len(s.Idx)
	default:
		return 0
	}
}

// IsFull reports whether this selection, applied to an axis of length
// total, selects every element in natural order — i.e. whether it
// degrades to a no-op. Used by ExportSelect/WriteSelect to short-circuit
// into a plain copy.
func (s Selection) IsFull(total int) bool {
	switch s.Kind {
	case Full:
		return true
	case Range:
		return s.Start == 0 && s.End == total
	case Index:
		if len(s.Idx) != total {
			return false
		}
		for i, v := range s.Idx {
			if v != i {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// Indices materializes the selection as an explicit, ordered slice of
// indices against an axis of the given total length.
func (s Selection) Indices(total int) ([]int, error) {
	switch s.Kind {
	case Full:
		out := make([]int, total)
		for i := range out {
			out[i] = i
		}
		return out, nil
	case Range:
		if s.Start < 0 || s.End > total || s.Start > s.End {
			return nil, annerr.SelectionErrorf("range [%d, %d) out of bounds for length %d", s.Start, s.End, total)
		}
		out := make([]int, s.End-s.Start)
		for i := range out {
			out[i] = s.Start + i
		}
		return out, nil
	case Index:
		for _, v := range s.Idx {
			if v < 0 || v >= total {
				return nil, annerr.SelectionErrorf("index %d out of bounds for length %d", v, total)
			}
		}
		return s.Idx, nil
	default:
		return nil, annerr.SelectionErrorf("unknown selection kind %d", s.Kind)
	}
}

// IsContiguous reports whether the selection is a single ascending
// contiguous run, and if so returns its bounds. A Range selection always
// qualifies; an Index selection qualifies only when its values are
// consecutive ascending integers (k, k+1, k+2, ...), or when it is empty.
func (s Selection) IsContiguous() (start, end int, ok bool) {
	switch s.Kind {
	case Range:
		return s.Start, s.End, true
	case Index:
		if len(s.Idx) == 0 {
			return 0, 0, true
		}
		start = s.Idx[0]
		for i, v := range s.Idx {
			if v != start+i {
				return 0, 0, false
			}
		}
		return start, start + len(s.Idx), true
	default:
		return 0, 0, false
	}
}

// Selection2D is the pair of per-axis selections used by operations that
// act on both dimensions of a 2-D array (ExportSelect/WriteSelect,
// StackedArrayElem.Select).
type Selection2D [2]Selection
