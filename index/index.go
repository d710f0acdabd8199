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

// Package index implements DataFrameIndex: the logical row index carried
// by every frame, as a three-variant sum type (list, run-length
// interval, contiguous range), with selection and storage round-trip.
package index

import (
	"context"
	"errors"
	"strconv"

	"github.com/annstore/anndata/annerr"
	"github.com/annstore/anndata/array"
	"github.com/annstore/anndata/internal/logger"
	"github.com/annstore/anndata/selection"
	"github.com/annstore/anndata/storage"
)

// Kind distinguishes the three index variants.
type Kind int

const (
	ListKind Kind = iota
	IntervalKind
	RangeKind
)

func (k Kind) String() string {
	switch k {
	case ListKind:
		return "list"
	case IntervalKind:
		return "interval"
	case RangeKind:
		return "range"
	default:
		return "unknown"
	}
}

func parseKind(s string) Kind {
	switch s {
	case "interval":
		return IntervalKind
	case "range":
		return RangeKind
	default:
		return ListKind
	}
}

// Index is the DataFrameIndex value type. The zero value is an empty
// list index.
type Index struct {
	Kind Kind

	// List: the explicit row labels.
	Names []string

	// Interval: Names holds the distinct run labels; Intervals holds
	// len(Names)+1 monotone boundaries, where run i covers positions
	// [Intervals[i], Intervals[i+1]).
	Intervals []int

	// Range: the contiguous integer index [Start, End).
	Start, End int
}

// NewList builds a list-variant index from explicit labels.
func NewList(names []string) Index {
	return Index{Kind: ListKind, Names: append([]string(nil), names...)}
}

// NewRange builds a range-variant index over [start, end).
func NewRange(start, end int) Index {
	return Index{Kind: RangeKind, Start: start, End: end}
}

// NewInterval builds an interval-variant index from run labels and their
// boundaries. len(intervals) must equal len(names)+1.
func NewInterval(names []string, intervals []int) Index {
	return Index{Kind: IntervalKind, Names: append([]string(nil), names...), Intervals: append([]int(nil), intervals...)}
}

// Len returns the index's length, well-defined for every variant.
func (ix Index) Len() int {
	switch ix.Kind {
	case ListKind:
		return len(ix.Names)
	case RangeKind:
		return ix.End - ix.Start
	case IntervalKind:
		if len(ix.Intervals) == 0 {
			return 0
		}
		return ix.Intervals[len(ix.Intervals)-1]
	default:
		return 0
	}
}

// Values materializes the index as an explicit string slice, regardless
// of variant.
func (ix Index) Values() []string {
	switch ix.Kind {
	case ListKind:
		return append([]string(nil), ix.Names...)
	case RangeKind:
		out := make([]string, ix.End-ix.Start)
		for i := range out {
			out[i] = strconv.Itoa(ix.Start + i)
		}
		return out
	case IntervalKind:
		out := make([]string, 0, ix.Len())
		for i, name := range ix.Names {
			for j := ix.Intervals[i]; j < ix.Intervals[i+1]; j++ {
				out = append(out, name)
			}
		}
		return out
	default:
		return nil
	}
}

// Select produces a new index reindexed according to sel. For list
// indices the explicit vector is reindexed; for range indices a
// contiguous sub-selection collapses to a sub-range, otherwise it
// materializes a list; for interval indices the result always
// materializes a list (run-length structure is not generally preserved
// under arbitrary reindexing).
func (ix Index) Select(sel selection.Selection) (Index, error) {
	total := ix.Len()
	if sel.IsFull(total) {
		return ix, nil
	}
	switch ix.Kind {
	case ListKind:
		idxs, err := sel.Indices(total)
		if err != nil {
			return Index{}, err
		}
		names := make([]string, len(idxs))
		for i, g := range idxs {
			names[i] = ix.Names[g]
		}
		return NewList(names), nil
	case RangeKind:
		if start, end, ok := sel.IsContiguous(); ok {
			if start < 0 || end > total || start > end {
				return Index{}, annerr.SelectionErrorf("range [%d,%d) out of bounds for index of length %d", start, end, total)
			}
			return NewRange(ix.Start+start, ix.Start+end), nil
		}
		idxs, err := sel.Indices(total)
		if err != nil {
			return Index{}, err
		}
		names := make([]string, len(idxs))
		for i, g := range idxs {
			names[i] = strconv.Itoa(ix.Start + g)
		}
		return NewList(names), nil
	case IntervalKind:
		values := ix.Values()
		idxs, err := sel.Indices(total)
		if err != nil {
			return Index{}, err
		}
		names := make([]string, len(idxs))
		for i, g := range idxs {
			names[i] = values[g]
		}
		return NewList(names), nil
	default:
		return Index{}, annerr.SelectionErrorf("index: unknown kind %d", ix.Kind)
	}
}

// WriteTo persists the index as a dataset named datasetName under group,
// plus index_type and variant-specific attributes. If the backend
// rejects the interval or range attributes, WriteTo falls back to
// plain list encoding and logs a warning: the fallback is semantically
// equivalent for readers (Values() is always materialized), per the
// documented silent-recovery policy.
func (ix Index) WriteTo(ctx context.Context, g storage.Group, datasetName string, log *logger.Logger) error {
	values := ix.Values()
	data, err := encodeStrings(values)
	if err != nil {
		return annerr.BackendFailuref(err, "index: encode values for %q", datasetName)
	}
	ds, err := g.NewDataset(ctx, datasetName, data, []int{len(values)}, storage.DatasetConfig{})
	if err != nil {
		return annerr.BackendFailuref(err, "index: create dataset %q", datasetName)
	}
	if err := ds.SetStrAttr(ctx, storage.AttrEncodingType, string(array.EncodingDense)); err != nil {
		return annerr.BackendFailuref(err, "index: set encoding-type on %q", datasetName)
	}
	if err := ds.SetStrAttr(ctx, storage.AttrEncodingVersion, "0.1.0"); err != nil {
		return annerr.BackendFailuref(err, "index: set encoding-version on %q", datasetName)
	}

	kind := ix.Kind
	switch kind {
	case IntervalKind:
		interval := make([]string, len(ix.Intervals))
		for i, v := range ix.Intervals {
			interval[i] = strconv.Itoa(v)
		}
		if err := ds.SetArrayAttr(ctx, storage.AttrNames, ix.Names); err != nil {
			logFallback(log, datasetName, err)
			kind = ListKind
			break
		}
		if err := ds.SetArrayAttr(ctx, storage.AttrIntervals, interval); err != nil {
			logFallback(log, datasetName, err)
			kind = ListKind
			break
		}
	case RangeKind:
		if err := ds.SetScalarAttr(ctx, storage.AttrStart, float64(ix.Start)); err != nil {
			logFallback(log, datasetName, err)
			kind = ListKind
			break
		}
		if err := ds.SetScalarAttr(ctx, storage.AttrEnd, float64(ix.End)); err != nil {
			logFallback(log, datasetName, err)
			kind = ListKind
			break
		}
	}
	return ds.SetStrAttr(ctx, storage.AttrIndexType, kind.String())
}

func logFallback(log *logger.Logger, datasetName string, err error) {
	log.Warnf("index: backend rejected variant attrs for %q, falling back to list encoding: %v", datasetName, err)
}

// ReadFrom reads back an index previously written by WriteTo. A missing
// index_type attribute is read as "list", per the documented default.
func ReadFrom(ctx context.Context, g storage.Group, datasetName string) (Index, error) {
	ds, err := g.OpenDataset(ctx, datasetName)
	if err != nil {
		return Index{}, annerr.BackendFailuref(err, "index: open dataset %q", datasetName)
	}
	data, err := ds.ReadAll(ctx)
	if err != nil {
		return Index{}, annerr.BackendFailuref(err, "index: read dataset %q", datasetName)
	}
	values, err := decodeStrings(data)
	if err != nil {
		return Index{}, annerr.BackendFailuref(err, "index: decode dataset %q", datasetName)
	}

	kindStr, err := ds.GetStrAttr(ctx, storage.AttrIndexType)
	if err != nil {
		if !errors.Is(err, annerr.ErrMissingKey) {
			return Index{}, err
		}
		kindStr = "list"
	}

	switch parseKind(kindStr) {
	case IntervalKind:
		names, nerr := ds.GetArrayAttr(ctx, storage.AttrNames)
		intervalStrs, ierr := ds.GetArrayAttr(ctx, storage.AttrIntervals)
		if nerr != nil || ierr != nil {
			return NewList(values), nil
		}
		intervals := make([]int, len(intervalStrs))
		for i, s := range intervalStrs {
			v, perr := strconv.Atoi(s)
			if perr != nil {
				return NewList(values), nil
			}
			intervals[i] = v
		}
		return NewInterval(names, intervals), nil
	case RangeKind:
		start, serr := ds.GetScalarAttr(ctx, storage.AttrStart)
		end, eerr := ds.GetScalarAttr(ctx, storage.AttrEnd)
		if serr != nil || eerr != nil {
			return NewList(values), nil
		}
		return NewRange(int(start), int(end)), nil
	default:
		return NewList(values), nil
	}
}
