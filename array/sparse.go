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

package array

import (
	"fmt"

	"github.com/james-bowman/sparse"
)

// Sparse wraps a compressed-sparse matrix, row- or column-oriented. Built
// from a COO (coordinate) triplet list via ToCSR/ToCSC, as is standard
// for james-bowman/sparse consumers.
type Sparse struct {
	CSR *sparse.CSR // set when Row-compressed
	CSC *sparse.CSC // set when Column-compressed
}

// NewCSRFromTriplets builds a row-compressed sparse matrix from
// coordinate triplets (rows[i], cols[i], data[i]).
func NewCSRFromTriplets(r, c int, rows, cols []int, data []float64) *Sparse {
	coo := sparse.NewCOO(r, c, rows, cols, data)
	return &Sparse{CSR: coo.ToCSR()}
}

// NewCSCFromTriplets builds a column-compressed sparse matrix from
// coordinate triplets.
func NewCSCFromTriplets(r, c int, rows, cols []int, data []float64) *Sparse {
	coo := sparse.NewCOO(r, c, rows, cols, data)
	return &Sparse{CSC: coo.ToCSC()}
}

func (s *Sparse) matrix() interface {
	Dims() (int, int)
	At(i, j int) float64
} {
	if s.CSR != nil {
		return s.CSR
	}
	return s.CSC
}

func (s *Sparse) Shape() []int {
	r, c := s.matrix().Dims()
	return []int{r, c}
}

func (s *Sparse) DType() DType { return Float64 }

func (s *Sparse) Encoding() EncodingType {
	if s.CSR != nil {
		return EncodingCSRMatrix
	}
	return EncodingCSCMatrix
}

// RowSlice returns a new Sparse, in the same orientation (CSR or CSC) as
// s, restricted to the rows in idx (order preserved, repeats allowed). It always densifies through
// COO triplets, which is the documented, format-agnostic way to select
// arbitrary (non-contiguous) rows out of either a CSR or CSC matrix.
func (s *Sparse) RowSlice(idx []int) *Sparse {
	_, cols := s.matrix().Dims()
	var rows, colsOut []int
	var data []float64
	m := s.matrix()
	for newRow, oldRow := range idx {
		for j := 0; j < cols; j++ {
			if v := m.At(oldRow, j); v != 0 {
				rows = append(rows, newRow)
				colsOut = append(colsOut, j)
				data = append(data, v)
			}
		}
	}
	coo := sparse.NewCOO(len(idx), cols, rows, colsOut, data)
	if s.CSC != nil {
		return &Sparse{CSC: coo.ToCSC()}
	}
	return &Sparse{CSR: coo.ToCSR()}
}

// Submatrix selects the same index set from both rows and columns,
// producing a square result, via the same densify-through-COO strategy
// as RowSlice.
func (s *Sparse) Submatrix(idx []int) *Sparse {
	m := s.matrix()
	var rows, colsOut []int
	var data []float64
	for newRow, oldRow := range idx {
		for newCol, oldCol := range idx {
			if v := m.At(oldRow, oldCol); v != 0 {
				rows = append(rows, newRow)
				colsOut = append(colsOut, newCol)
				data = append(data, v)
			}
		}
	}
	coo := sparse.NewCOO(len(idx), len(idx), rows, colsOut, data)
	if s.CSC != nil {
		return &Sparse{CSC: coo.ToCSC()}
	}
	return &Sparse{CSR: coo.ToCSR()}
}

// SliceRowsCols selects an independent row index set and column index
// set, unlike Submatrix (which requires the same index set on both
// axes), via the same densify-through-COO strategy as RowSlice.
func (s *Sparse) SliceRowsCols(rowIdx, colIdx []int) *Sparse {
	m := s.matrix()
	var rows, colsOut []int
	var data []float64
	for newRow, oldRow := range rowIdx {
		for newCol, oldCol := range colIdx {
			if v := m.At(oldRow, oldCol); v != 0 {
				rows = append(rows, newRow)
				colsOut = append(colsOut, newCol)
				data = append(data, v)
			}
		}
	}
	coo := sparse.NewCOO(len(rowIdx), len(colIdx), rows, colsOut, data)
	if s.CSC != nil {
		return &Sparse{CSC: coo.ToCSC()}
	}
	return &Sparse{CSR: coo.ToCSR()}
}

// VStackSparse vertically concatenates row-compressed sparse matrices.
// Inputs must all be CSR (not CSC) and share the same column count.
func VStackSparse(parts []*Sparse) (*Sparse, error) {
	if len(parts) == 0 {
		return &Sparse{CSR: sparse.NewCOO(0, 0, nil, nil, nil).ToCSR()}, nil
	}
	_, cols := parts[0].matrix().Dims()
	var rows, colsOut []int
	var data []float64
	rowOffset := 0
	for i, p := range parts {
		if p.CSR == nil {
			return nil, fmt.Errorf("array: vstack sparse: partition %d is not row-compressed", i)
		}
		r, c := p.CSR.Dims()
		if c != cols {
			return nil, fmt.Errorf("array: vstack sparse width mismatch at partition %d: %d != %d", i, c, cols)
		}
		p.CSR.DoNonZero(func(i, j int, v float64) {
			rows = append(rows, rowOffset+i)
			colsOut = append(colsOut, j)
			data = append(data, v)
		})
		rowOffset += r
	}
	coo := sparse.NewCOO(rowOffset, cols, rows, colsOut, data)
	return &Sparse{CSR: coo.ToCSR()}, nil
}
