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
	"reflect"
	"testing"
)

func TestMatrixRoundTrip(t *testing.T) {
	m := NewMatrixFromRowMajor(3, 2, []float64{1, 2, 3, 4, 5, 6})
	enc, err := Encode(m)
	if err != nil {
		t.Fatal(err)
	}
	got, err := Decode(EncodingDense, enc)
	if err != nil {
		t.Fatal(err)
	}
	gm, ok := got.(*Matrix)
	if !ok {
		t.Fatalf("wanted *Matrix, got %T", got)
	}
	if !reflect.DeepEqual(gm.Shape(), []int{3, 2}) {
		t.Fatalf("shape mismatch: %v", gm.Shape())
	}
	for i := 0; i < 3; i++ {
		for j := 0; j < 2; j++ {
			if gm.M.At(i, j) != m.M.At(i, j) {
				t.Fatalf("value mismatch at (%d,%d)", i, j)
			}
		}
	}
}

func TestMatrixRowSliceAndVStack(t *testing.T) {
	m := NewMatrixFromRowMajor(4, 2, []float64{0, 0, 1, 1, 2, 2, 3, 3})
	sub := m.RowSlice([]int{3, 1})
	if sub.M.At(0, 0) != 3 || sub.M.At(1, 0) != 1 {
		t.Fatalf("unexpected row slice: %v", sub.M.RawMatrix().Data)
	}
	stacked, err := VStack([]*Matrix{m.RowSlice([]int{0}), m.RowSlice([]int{2, 3})})
	if err != nil {
		t.Fatal(err)
	}
	if stacked.Shape()[0] != 3 {
		t.Fatalf("wanted 3 rows, got %d", stacked.Shape()[0])
	}
}

func TestMatrixSubmatrix(t *testing.T) {
	m := NewMatrixFromRowMajor(3, 3, []float64{
		1, 2, 3,
		4, 5, 6,
		7, 8, 9,
	})
	sub := m.Submatrix([]int{2, 0})
	want := [][]float64{{9, 7}, {3, 1}}
	for i := range want {
		for j := range want[i] {
			if sub.M.At(i, j) != want[i][j] {
				t.Fatalf("at (%d,%d): wanted %v, got %v", i, j, want[i][j], sub.M.At(i, j))
			}
		}
	}
}

func TestMatrixSliceRowsCols(t *testing.T) {
	m := NewMatrixFromRowMajor(3, 3, []float64{
		1, 2, 3,
		4, 5, 6,
		7, 8, 9,
	})
	sub := m.SliceRowsCols([]int{2, 0}, []int{1, 2})
	want := [][]float64{{8, 9}, {2, 3}}
	for i := range want {
		for j := range want[i] {
			if sub.M.At(i, j) != want[i][j] {
				t.Fatalf("at (%d,%d): wanted %v, got %v", i, j, want[i][j], sub.M.At(i, j))
			}
		}
	}
}

func TestDenseSliceRowsCols(t *testing.T) {
	d := &Dense{ShapeVal: []int{3, 2}, Dtype: String, Data: []string{"a0", "a1", "b0", "b1", "c0", "c1"}}
	sub := d.SliceRowsCols([]int{2, 0}, []int{1})
	want := []string{"c1", "a1"}
	if !reflect.DeepEqual(sub.Data, want) {
		t.Fatalf("wanted %v, got %v", want, sub.Data)
	}
	if !reflect.DeepEqual(sub.ShapeVal, []int{2, 1}) {
		t.Fatalf("wanted shape [2 1], got %v", sub.ShapeVal)
	}
}

func TestSparseSliceRowsCols(t *testing.T) {
	s := NewCSRFromTriplets(3, 3, []int{0, 1, 2}, []int{0, 1, 2}, []float64{1, 2, 3})
	sub := s.SliceRowsCols([]int{2, 0}, []int{0, 1})
	if sub.CSR.At(0, 0) != 0 || sub.CSR.At(1, 1) != 0 || sub.CSR.At(0, 1) != 0 || sub.CSR.At(1, 0) != 1 {
		t.Fatalf("unexpected slice: %v %v %v %v", sub.CSR.At(0, 0), sub.CSR.At(0, 1), sub.CSR.At(1, 0), sub.CSR.At(1, 1))
	}
}

func TestSparseSubmatrix(t *testing.T) {
	s := NewCSRFromTriplets(3, 3, []int{0, 1, 2}, []int{0, 1, 2}, []float64{1, 2, 3})
	sub := s.Submatrix([]int{2, 0})
	if sub.CSR.At(0, 0) != 3 || sub.CSR.At(1, 1) != 1 {
		t.Fatalf("unexpected submatrix diagonal: %v %v", sub.CSR.At(0, 0), sub.CSR.At(1, 1))
	}
}

func TestDenseRoundTrip(t *testing.T) {
	d := &Dense{ShapeVal: []int{3}, Dtype: Int64, Data: []int64{10, 20, 30}}
	enc, err := Encode(d)
	if err != nil {
		t.Fatal(err)
	}
	got, err := Decode(EncodingDense, enc)
	if err != nil {
		t.Fatal(err)
	}
	gd, ok := got.(*Dense)
	if !ok {
		t.Fatalf("wanted *Dense, got %T", got)
	}
	if !reflect.DeepEqual(gd.Data, []int64{10, 20, 30}) {
		t.Fatalf("data mismatch: %v", gd.Data)
	}
}

func TestDenseRowSlice2D(t *testing.T) {
	d := &Dense{ShapeVal: []int{3, 2}, Dtype: String, Data: []string{"a0", "a1", "b0", "b1", "c0", "c1"}}
	sub := d.RowSlice([]int{2, 0})
	want := []string{"c0", "c1", "a0", "a1"}
	if !reflect.DeepEqual(sub.Data, want) {
		t.Fatalf("wanted %v, got %v", want, sub.Data)
	}
	if !reflect.DeepEqual(sub.ShapeVal, []int{2, 2}) {
		t.Fatalf("wanted shape [2 2], got %v", sub.ShapeVal)
	}
}

func TestSparseRoundTrip(t *testing.T) {
	s := NewCSRFromTriplets(3, 3, []int{0, 1, 2}, []int{0, 1, 2}, []float64{1, 2, 3})
	enc, err := Encode(s)
	if err != nil {
		t.Fatal(err)
	}
	got, err := Decode(EncodingCSRMatrix, enc)
	if err != nil {
		t.Fatal(err)
	}
	gs := got.(*Sparse)
	for i := 0; i < 3; i++ {
		if gs.CSR.At(i, i) != float64(i+1) {
			t.Fatalf("diagonal mismatch at %d: %v", i, gs.CSR.At(i, i))
		}
	}
}

func TestSparseRowSliceAndVStack(t *testing.T) {
	s := NewCSRFromTriplets(3, 2, []int{0, 1, 2}, []int{0, 1, 0}, []float64{1, 2, 3})
	sub := s.RowSlice([]int{2, 0})
	if sub.CSR.At(0, 0) != 3 || sub.CSR.At(1, 0) != 1 {
		t.Fatalf("unexpected sparse row slice")
	}
	stacked, err := VStackSparse([]*Sparse{s.RowSlice([]int{0}), s.RowSlice([]int{1, 2})})
	if err != nil {
		t.Fatal(err)
	}
	if stacked.Shape()[0] != 3 {
		t.Fatalf("wanted 3 rows, got %d", stacked.Shape()[0])
	}
}

func TestCategoricalRoundTrip(t *testing.T) {
	c := NewCategoricalFromStrings([]string{"a", "b", "a", "c"})
	enc, err := Encode(c)
	if err != nil {
		t.Fatal(err)
	}
	got, err := Decode(EncodingCategorical, enc)
	if err != nil {
		t.Fatal(err)
	}
	gc := got.(*Categorical)
	if !reflect.DeepEqual(gc.Strings(), []string{"a", "b", "a", "c"}) {
		t.Fatalf("roundtrip mismatch: %v", gc.Strings())
	}
}

func TestCategoricalVStackReconcilesLevels(t *testing.T) {
	a := NewCategoricalFromStrings([]string{"x", "y"})
	b := NewCategoricalFromStrings([]string{"y", "z"})
	merged := VStackCategorical([]*Categorical{a, b})
	want := []string{"x", "y", "y", "z"}
	if !reflect.DeepEqual(merged.Strings(), want) {
		t.Fatalf("wanted %v, got %v", want, merged.Strings())
	}
}

func TestScalarRoundTrip(t *testing.T) {
	s := &Scalar{Dtype: String, Value: "hello"}
	enc, err := Encode(s)
	if err != nil {
		t.Fatal(err)
	}
	got, err := Decode(EncodingScalar, enc)
	if err != nil {
		t.Fatal(err)
	}
	if got.(*Scalar).Value != "hello" {
		t.Fatalf("wanted hello, got %v", got.(*Scalar).Value)
	}
}

func TestCheckEncodingMismatch(t *testing.T) {
	if err := CheckEncoding(EncodingDense, EncodingCSRMatrix); err == nil {
		t.Fatal("expected mismatch error")
	}
}
