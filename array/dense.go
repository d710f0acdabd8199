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

	"gonum.org/v1/gonum/mat"
)

// Matrix is a dense 2-D float64 array backed by gonum's mat.Dense. This
// is the common payload for X and for obsm/varm embeddings.
type Matrix struct {
	M *mat.Dense
}

// NewMatrix wraps an existing *mat.Dense.
func NewMatrix(m *mat.Dense) *Matrix {
	return &Matrix{M: m}
}

// NewMatrixFromRowMajor builds a Matrix from row-major data.
func NewMatrixFromRowMajor(rows, cols int, data []float64) *Matrix {
	return &Matrix{M: mat.NewDense(rows, cols, data)}
}

func (m *Matrix) Shape() []int {
	r, c := m.M.Dims()
	return []int{r, c}
}

func (m *Matrix) DType() DType { return Float64 }

func (m *Matrix) Encoding() EncodingType { return EncodingDense }

// RowSlice returns the rows in idx (order preserved, repeats allowed) as
// a new Matrix. Used by ArrayElem.Select and StackedArrayElem.Select.
func (m *Matrix) RowSlice(idx []int) *Matrix {
	_, cols := m.M.Dims()
	out := mat.NewDense(len(idx), cols, nil)
	for i, r := range idx {
		out.SetRow(i, mat.Row(nil, r, m.M))
	}
	return &Matrix{M: out}
}

// Submatrix selects the same index set from both rows and columns,
// producing a square result. Used by AxisArrays.ExportSelect/Subset for
// Pairwise collections (e.g. a neighbor graph in obsp), where a subset
// of observations must stay square.
func (m *Matrix) Submatrix(idx []int) *Matrix {
	out := mat.NewDense(len(idx), len(idx), nil)
	for i, r := range idx {
		for j, c := range idx {
			out.Set(i, j, m.M.At(r, c))
		}
	}
	return &Matrix{M: out}
}

// SliceRowsCols selects an independent row index set and column index
// set, unlike Submatrix (which requires the same index set on both
// axes). Used by AxisArrays.ExportSelect/Subset for RowColumn
// collections, where the two axes are unrelated dimensions.
func (m *Matrix) SliceRowsCols(rowIdx, colIdx []int) *Matrix {
	out := mat.NewDense(len(rowIdx), len(colIdx), nil)
	for i, r := range rowIdx {
		for j, c := range colIdx {
			out.Set(i, j, m.M.At(r, c))
		}
	}
	return &Matrix{M: out}
}

// VStack vertically concatenates ms into a single Matrix. All inputs
// must share the same column count.
func VStack(ms []*Matrix) (*Matrix, error) {
	if len(ms) == 0 {
		return &Matrix{M: mat.NewDense(0, 0, nil)}, nil
	}
	_, cols := ms[0].M.Dims()
	total := 0
	for i, m := range ms {
		r, c := m.M.Dims()
		if c != cols {
			return nil, fmt.Errorf("array: vstack width mismatch at partition %d: %d != %d", i, c, cols)
		}
		total += r
	}
	out := mat.NewDense(total, cols, nil)
	row := 0
	for _, m := range ms {
		r, _ := m.M.Dims()
		for i := 0; i < r; i++ {
			out.SetRow(row, mat.Row(nil, i, m.M))
			row++
		}
	}
	return &Matrix{M: out}, nil
}

// Dense is a generic dense array for primitive types gonum doesn't
// model: integers, booleans, strings, and n-dimensional (not just 2-D)
// arrays of any dtype. Data is always stored row-major/flattened.
type Dense struct {
	ShapeVal []int
	Dtype    DType
	Data     any // []int32, []int64, []bool, or []string, len == product(ShapeVal)
}

func (d *Dense) Shape() []int { return d.ShapeVal }

func (d *Dense) DType() DType { return d.Dtype }

func (d *Dense) Encoding() EncodingType { return EncodingDense }

// RowSlice returns a new Dense containing only the rows in idx, assuming
// ShapeVal describes a 2-D (or 1-D) row-major array. It panics if Data's
// concrete type is not one of the supported dense element slices,
// which would indicate a construction bug elsewhere in this module.
func (d *Dense) RowSlice(idx []int) *Dense {
	if len(d.ShapeVal) == 1 {
		out := sliceByIndex1D(d.Data, idx)
		return &Dense{ShapeVal: []int{len(idx)}, Dtype: d.Dtype, Data: out}
	}
	rows, width := d.ShapeVal[0], rowWidth(d.ShapeVal)
	out := sliceRows(d.Data, rows, width, idx)
	shape := append([]int{len(idx)}, d.ShapeVal[1:]...)
	return &Dense{ShapeVal: shape, Dtype: d.Dtype, Data: out}
}

// SliceRowsCols selects an independent row index set and column index
// set from a 2-D Dense array. It panics if ShapeVal does not describe
// exactly two dimensions, which RowColumn axis validation guarantees.
func (d *Dense) SliceRowsCols(rowIdx, colIdx []int) *Dense {
	if len(d.ShapeVal) != 2 {
		panic(fmt.Sprintf("array: Dense.SliceRowsCols: requires a 2-D shape, got %v", d.ShapeVal))
	}
	width := d.ShapeVal[1]
	out := sliceRowsCols(d.Data, width, rowIdx, colIdx)
	return &Dense{ShapeVal: []int{len(rowIdx), len(colIdx)}, Dtype: d.Dtype, Data: out}
}

func sliceRowsCols(data any, width int, rowIdx, colIdx []int) any {
	switch v := data.(type) {
	case []int32:
		out := make([]int32, 0, len(rowIdx)*len(colIdx))
		for _, r := range rowIdx {
			for _, c := range colIdx {
				out = append(out, v[r*width+c])
			}
		}
		return out
	case []int64:
		out := make([]int64, 0, len(rowIdx)*len(colIdx))
		for _, r := range rowIdx {
			for _, c := range colIdx {
				out = append(out, v[r*width+c])
			}
		}
		return out
	case []bool:
		out := make([]bool, 0, len(rowIdx)*len(colIdx))
		for _, r := range rowIdx {
			for _, c := range colIdx {
				out = append(out, v[r*width+c])
			}
		}
		return out
	case []string:
		out := make([]string, 0, len(rowIdx)*len(colIdx))
		for _, r := range rowIdx {
			for _, c := range colIdx {
				out = append(out, v[r*width+c])
			}
		}
		return out
	default:
		panic(fmt.Sprintf("array: Dense.SliceRowsCols: unsupported element slice type %T", data))
	}
}

func rowWidth(shape []int) int {
	w := 1
	for _, s := range shape[1:] {
		w *= s
	}
	return w
}

func sliceByIndex1D(data any, idx []int) any {
	switch v := data.(type) {
	case []int32:
		out := make([]int32, len(idx))
		for i, r := range idx {
			out[i] = v[r]
		}
		return out
	case []int64:
		out := make([]int64, len(idx))
		for i, r := range idx {
			out[i] = v[r]
		}
		return out
	case []bool:
		out := make([]bool, len(idx))
		for i, r := range idx {
			out[i] = v[r]
		}
		return out
	case []string:
		out := make([]string, len(idx))
		for i, r := range idx {
			out[i] = v[r]
		}
		return out
	default:
		panic(fmt.Sprintf("array: Dense.RowSlice: unsupported element slice type %T", data))
	}
}

func sliceRows(data any, rows, width int, idx []int) any {
	switch v := data.(type) {
	case []int32:
		out := make([]int32, 0, len(idx)*width)
		for _, r := range idx {
			out = append(out, v[r*width:(r+1)*width]...)
		}
		return out
	case []int64:
		out := make([]int64, 0, len(idx)*width)
		for _, r := range idx {
			out = append(out, v[r*width:(r+1)*width]...)
		}
		return out
	case []bool:
		out := make([]bool, 0, len(idx)*width)
		for _, r := range idx {
			out = append(out, v[r*width:(r+1)*width]...)
		}
		return out
	case []string:
		out := make([]string, 0, len(idx)*width)
		for _, r := range idx {
			out = append(out, v[r*width:(r+1)*width]...)
		}
		return out
	default:
		panic(fmt.Sprintf("array: Dense.RowSlice: unsupported element slice type %T", data))
	}
}

// VStackDense vertically concatenates ds into one Dense array. All
// inputs must share the same dtype and row width.
func VStackDense(ds []*Dense) (*Dense, error) {
	if len(ds) == 0 {
		return &Dense{ShapeVal: []int{0}}, nil
	}
	dtype := ds[0].Dtype
	tailShape := ds[0].ShapeVal[1:]
	total := 0
	for i, d := range ds {
		if d.Dtype != dtype {
			return nil, fmt.Errorf("array: vstack dtype mismatch at partition %d: %s != %s", i, d.Dtype, dtype)
		}
		total += d.ShapeVal[0]
	}
	shape := append([]int{total}, tailShape...)
	switch dtype {
	case Int32:
		out := make([]int32, 0)
		for _, d := range ds {
			out = append(out, d.Data.([]int32)...)
		}
		return &Dense{ShapeVal: shape, Dtype: dtype, Data: out}, nil
	case Int64:
		out := make([]int64, 0)
		for _, d := range ds {
			out = append(out, d.Data.([]int64)...)
		}
		return &Dense{ShapeVal: shape, Dtype: dtype, Data: out}, nil
	case Bool:
		out := make([]bool, 0)
		for _, d := range ds {
			out = append(out, d.Data.([]bool)...)
		}
		return &Dense{ShapeVal: shape, Dtype: dtype, Data: out}, nil
	case String:
		out := make([]string, 0)
		for _, d := range ds {
			out = append(out, d.Data.([]string)...)
		}
		return &Dense{ShapeVal: shape, Dtype: dtype, Data: out}, nil
	default:
		return nil, fmt.Errorf("array: vstack: unsupported dtype %s", dtype)
	}
}
