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

package elem

import (
	"context"
	"reflect"
	"testing"

	"github.com/annstore/anndata/array"
	"github.com/annstore/anndata/selection"
	"github.com/annstore/anndata/storage"
	"github.com/annstore/anndata/storage/memfs"
)

func newRoot(t *testing.T) storage.Group {
	t.Helper()
	f := memfs.New("mem://elem", storage.ReadWrite)
	root, err := f.Root(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	return root
}

func TestCreateSaveReadRoundTrip(t *testing.T) {
	ctx := context.Background()
	root := newRoot(t)
	d := &array.Dense{ShapeVal: []int{3}, Dtype: array.Int64, Data: []int64{1, 2, 3}}
	e, err := Create(ctx, root, "x", d, false)
	if err != nil {
		t.Fatal(err)
	}
	if e.State() != StateSaved {
		t.Fatalf("expected StateSaved, got %v", e.State())
	}
	got, err := e.Read(ctx)
	if err != nil {
		t.Fatal(err)
	}
	gd := got.(*array.Dense)
	if !reflect.DeepEqual(gd.Data, []int64{1, 2, 3}) {
		t.Fatalf("unexpected data: %v", gd.Data)
	}
}

func TestOpenExistingElem(t *testing.T) {
	ctx := context.Background()
	root := newRoot(t)
	d := &array.Dense{ShapeVal: []int{2}, Dtype: array.Bool, Data: []bool{true, false}}
	if _, err := Create(ctx, root, "flags", d, false); err != nil {
		t.Fatal(err)
	}
	e, err := Open(ctx, root, "flags")
	if err != nil {
		t.Fatal(err)
	}
	if e.Encoding() != array.EncodingDense {
		t.Fatalf("unexpected encoding: %v", e.Encoding())
	}
	got, err := e.Read(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got.(*array.Dense).Data, []bool{true, false}) {
		t.Fatalf("unexpected data: %v", got)
	}
}

func TestSelectRowsOnly(t *testing.T) {
	ctx := context.Background()
	root := newRoot(t)
	m := array.NewMatrixFromRowMajor(3, 2, []float64{1, 1, 2, 2, 3, 3})
	e, err := Create(ctx, root, "X", m, false)
	if err != nil {
		t.Fatal(err)
	}
	sel := selection.Selection2D{selection.NewIndex([]int{2, 0}), selection.NewFull()}
	got, err := e.Select(ctx, sel)
	if err != nil {
		t.Fatal(err)
	}
	gm := got.(*array.Matrix)
	if gm.M.At(0, 0) != 3 || gm.M.At(1, 0) != 1 {
		t.Fatalf("unexpected row selection: %v", gm.M.RawMatrix().Data)
	}
}

func TestSelectAppliesRowAndColumnIndependently(t *testing.T) {
	ctx := context.Background()
	root := newRoot(t)
	m := array.NewMatrixFromRowMajor(2, 3, []float64{
		1, 2, 3,
		4, 5, 6,
	})
	e, err := Create(ctx, root, "X", m, false)
	if err != nil {
		t.Fatal(err)
	}
	sel := selection.Selection2D{selection.NewFull(), selection.NewIndex([]int{2, 0})}
	got, err := e.Select(ctx, sel)
	if err != nil {
		t.Fatal(err)
	}
	gm := got.(*array.Matrix)
	if r, c := gm.M.Dims(); r != 2 || c != 2 {
		t.Fatalf("unexpected shape: %dx%d", r, c)
	}
	want := [2][2]float64{{3, 1}, {6, 4}}
	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			if gm.M.At(i, j) != want[i][j] {
				t.Fatalf("at (%d,%d): wanted %v, got %v", i, j, want[i][j], gm.M.At(i, j))
			}
		}
	}
}

func TestSelectIgnoresColumnSelectionOnCategorical(t *testing.T) {
	ctx := context.Background()
	root := newRoot(t)
	cat := array.NewCategoricalFromStrings([]string{"a", "b"})
	e, err := Create(ctx, root, "cat", cat, false)
	if err != nil {
		t.Fatal(err)
	}
	// Categorical is always 1-D, so sel[1] is irrelevant here regardless
	// of its contents.
	sel := selection.Selection2D{selection.NewIndex([]int{1}), selection.NewIndex([]int{0})}
	got, err := e.Select(ctx, sel)
	if err != nil {
		t.Fatal(err)
	}
	if got.(*array.Categorical).Strings()[0] != "b" {
		t.Fatalf("unexpected select result: %v", got.(*array.Categorical).Strings())
	}
}

func TestCompressionRoundTrip(t *testing.T) {
	ctx := context.Background()
	root := newRoot(t)
	data := make([]int64, 2000)
	for i := range data {
		data[i] = int64(i)
	}
	d := &array.Dense{ShapeVal: []int{len(data)}, Dtype: array.Int64, Data: data}
	e, err := Create(ctx, root, "big", d, true)
	if err != nil {
		t.Fatal(err)
	}
	got, err := e.Read(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got.(*array.Dense).Data, data) {
		t.Fatal("decompressed data mismatch")
	}
}

func TestClearDeletesBackingAndBlocksFurtherUse(t *testing.T) {
	ctx := context.Background()
	root := newRoot(t)
	d := &array.Scalar{Dtype: array.Float64, Value: 3.14}
	e, err := Create(ctx, root, "threshold", d, false)
	if err != nil {
		t.Fatal(err)
	}
	if err := e.Clear(ctx); err != nil {
		t.Fatal(err)
	}
	if e.State() != StateCleared {
		t.Fatalf("expected StateCleared, got %v", e.State())
	}
	if _, err := root.OpenDataset(ctx, "threshold"); err == nil {
		t.Fatal("expected backing dataset to be gone")
	}
	if _, err := e.Read(ctx); err == nil {
		t.Fatal("expected read after clear to fail")
	}
}
