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

// Package vecvec implements VecVecIndex: the partitioned global-to-local
// row translator that lets StackedArrayElem and friends treat a fixed
// ordered sequence of backing partitions as one virtual concatenation.
package vecvec

import (
	"sort"

	"github.com/annstore/anndata/annerr"
	"github.com/annstore/anndata/selection"
)

// VecVecIndex translates a global row index into (partition, local row
// index) given partition sizes n1..nP, via prefix sums s0=0, si =
// si-1+ni.
type VecVecIndex struct {
	sizes  []int
	prefix []int // length len(sizes)+1
}

// New builds a VecVecIndex over the given ordered partition sizes.
func New(sizes []int) *VecVecIndex {
	prefix := make([]int, len(sizes)+1)
	for i, n := range sizes {
		prefix[i+1] = prefix[i] + n
	}
	return &VecVecIndex{sizes: append([]int(nil), sizes...), prefix: prefix}
}

// Len returns the total row count N = sum(sizes).
func (v *VecVecIndex) Len() int {
	return v.prefix[len(v.prefix)-1]
}

// NumPartitions returns the number of partitions, P.
func (v *VecVecIndex) NumPartitions() int {
	return len(v.sizes)
}

// Locate returns (p, local) for global index g: p is the largest index
// with prefix[p] <= g, local = g - prefix[p]. Implemented via binary
// search over the prefix-sum table.
func (v *VecVecIndex) Locate(g int) (p, local int, err error) {
	if g < 0 || g >= v.Len() {
		return 0, 0, annerr.SelectionErrorf("vecvec: global index %d out of bounds for length %d", g, v.Len())
	}
	// sort.Search finds the first index where prefix[i] > g; the
	// partition containing g is the one just before that.
	i := sort.Search(len(v.prefix), func(i int) bool { return v.prefix[i] > g })
	p = i - 1
	return p, g - v.prefix[p], nil
}

// SplitSelect partitions a 1-D selection into one per-partition
// sub-selection, and, if the selection's row order differs from the
// natural order produced by concatenating per-partition reads in
// partition order, a reordering map m of length |sel| such that
// applying m to the concatenated reads reproduces sel's row order:
// final[i] = concatenated[m[i]].
//
// The contiguous fast path (sel is a single ascending run) never builds
// a map: it locates the run's endpoints and emits one Range
// sub-selection per spanned partition, with all other partitions
// getting the empty selection.
func (v *VecVecIndex) SplitSelect(sel selection.Selection) ([]selection.Selection, []int, error) {
	total := v.Len()
	perPartition := make([]selection.Selection, v.NumPartitions())
	for i := range perPartition {
		perPartition[i] = selection.NewIndex(nil)
	}

	if start, end, ok := sel.IsContiguous(); ok {
		if end <= start {
			return perPartition, nil, nil
		}
		if start < 0 || end > total {
			return nil, nil, annerr.SelectionErrorf("vecvec: range [%d,%d) out of bounds for length %d", start, end, total)
		}
		p0, a, err := v.Locate(start)
		if err != nil {
			return nil, nil, err
		}
		p1, b, err := v.Locate(end - 1)
		if err != nil {
			return nil, nil, err
		}
		if p0 == p1 {
			perPartition[p0] = selection.NewRange(a, b+1)
			return perPartition, nil, nil
		}
		perPartition[p0] = selection.NewRange(a, v.sizes[p0])
		for p := p0 + 1; p < p1; p++ {
			perPartition[p] = selection.NewRange(0, v.sizes[p])
		}
		perPartition[p1] = selection.NewRange(0, b+1)
		return perPartition, nil, nil
	}

	idx, err := sel.Indices(total)
	if err != nil {
		return nil, nil, err
	}
	builders := make([][]int, v.NumPartitions())
	origPositions := make([][]int, v.NumPartitions())
	for i, g := range idx {
		p, local, err := v.Locate(g)
		if err != nil {
			return nil, nil, err
		}
		builders[p] = append(builders[p], local)
		origPositions[p] = append(origPositions[p], i)
	}
	for p, b := range builders {
		if len(b) > 0 {
			perPartition[p] = selection.NewIndex(b)
		}
	}
	mapping := make([]int, len(idx))
	destRow := 0
	natural := true
	for p := range builders {
		for _, origI := range origPositions[p] {
			if origI != destRow {
				natural = false
			}
			mapping[origI] = destRow
			destRow++
		}
	}
	if natural {
		return perPartition, nil, nil
	}
	return perPartition, mapping, nil
}

// ReverseMapping returns r such that r[m[i]] == i for all i, given that m
// is a permutation of {0, ..., n-1}. Composed with m it is the identity.
func ReverseMapping(m []int, n int) []int {
	r := make([]int, n)
	for i, v := range m {
		r[v] = i
	}
	return r
}
