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

package anndata

import (
	"context"
	"errors"
	"testing"

	"github.com/annstore/anndata/annerr"
	"github.com/annstore/anndata/array"
	"github.com/annstore/anndata/selection"
	"github.com/annstore/anndata/storage"
	"github.com/annstore/anndata/storage/memfs"
)

func TestNewAndSetX(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, 3, 2)
	if err != nil {
		t.Fatal(err)
	}
	if err := a.SetX(ctx, array.NewMatrixFromRowMajor(3, 2, []float64{1, 2, 3, 4, 5, 6})); err != nil {
		t.Fatal(err)
	}
	got, err := a.ReadX(ctx)
	if err != nil {
		t.Fatal(err)
	}
	m := got.(*array.Matrix)
	if m.M.At(2, 1) != 6 {
		t.Fatalf("unexpected X contents: %v", m.M.RawMatrix().Data)
	}
	if a.NObsCount() != 3 || a.NVarsCount() != 2 {
		t.Fatalf("unexpected dims: %d, %d", a.NObsCount(), a.NVarsCount())
	}
}

func TestSetXRejectsDimensionMismatch(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, 3, 2)
	if err != nil {
		t.Fatal(err)
	}
	err = a.SetX(ctx, array.NewMatrixFromRowMajor(4, 2, make([]float64, 8)))
	if !errors.Is(err, annerr.ErrDimensionMismatch) {
		t.Fatalf("expected DimensionMismatch, got %v", err)
	}
}

func TestDelXClearsHandle(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, 2, 2)
	if err != nil {
		t.Fatal(err)
	}
	if err := a.SetX(ctx, array.NewMatrixFromRowMajor(2, 2, []float64{1, 2, 3, 4})); err != nil {
		t.Fatal(err)
	}
	if err := a.DelX(ctx); err != nil {
		t.Fatal(err)
	}
	got, err := a.ReadX(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Fatalf("expected nil X after DelX, got %v", got)
	}
}

func TestWriteToRoundTrip(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, 2, 3)
	if err != nil {
		t.Fatal(err)
	}
	if err := a.SetX(ctx, array.NewMatrixFromRowMajor(2, 3, []float64{1, 2, 3, 4, 5, 6})); err != nil {
		t.Fatal(err)
	}
	if err := a.AddObsm(ctx, "pca", array.NewMatrixFromRowMajor(2, 1, []float64{0, 1})); err != nil {
		t.Fatal(err)
	}
	if err := a.AddUns(ctx, "note", &array.Scalar{Dtype: array.String, Value: "hi"}); err != nil {
		t.Fatal(err)
	}

	dst := memfs.New("mem://dst", storage.ReadWrite)
	if err := a.WriteTo(ctx, dst); err != nil {
		t.Fatal(err)
	}
	reopened, err := Open(ctx, dst)
	if err != nil {
		t.Fatal(err)
	}
	if reopened.NObsCount() != 2 || reopened.NVarsCount() != 3 {
		t.Fatalf("unexpected reopened dims: %d, %d", reopened.NObsCount(), reopened.NVarsCount())
	}
	gotX, err := reopened.ReadX(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if gotX.(*array.Matrix).M.At(1, 2) != 6 {
		t.Fatalf("unexpected reopened X: %v", gotX.(*array.Matrix).M.RawMatrix().Data)
	}
	if keys := reopened.ObsmKeys(); len(keys) != 1 || keys[0] != "pca" {
		t.Fatalf("unexpected obsm keys after reopen: %v", keys)
	}
	if keys := reopened.UnsKeys(); len(keys) != 1 || keys[0] != "note" {
		t.Fatalf("unexpected uns keys after reopen: %v", keys)
	}
}

// TestWriteSelectReordersRows is the (S6)-style scenario: write_select
// with a scattered, reordered selection must reproduce the selection's
// row order in every axis-aligned field of the output.
func TestWriteSelectReordersRows(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, 4, 2)
	if err != nil {
		t.Fatal(err)
	}
	if err := a.SetX(ctx, array.NewMatrixFromRowMajor(4, 2, []float64{
		0, 0,
		1, 1,
		2, 2,
		3, 3,
	})); err != nil {
		t.Fatal(err)
	}
	if err := a.AddObsm(ctx, "pca", array.NewMatrixFromRowMajor(4, 1, []float64{0, 1, 2, 3})); err != nil {
		t.Fatal(err)
	}

	sel := selection.Selection2D{selection.NewIndex([]int{3, 0, 1}), selection.NewFull()}
	dst := memfs.New("mem://select-dst", storage.ReadWrite)
	out, err := a.WriteSelect(ctx, sel, dst)
	if err != nil {
		t.Fatal(err)
	}
	if out.NObsCount() != 3 {
		t.Fatalf("wanted 3 obs after select, got %d", out.NObsCount())
	}
	gotX, err := out.ReadX(ctx)
	if err != nil {
		t.Fatal(err)
	}
	xm := gotX.(*array.Matrix)
	wantRows := []float64{3, 0, 1}
	for i, w := range wantRows {
		if xm.M.At(i, 0) != w {
			t.Fatalf("X row %d: wanted %v, got %v", i, w, xm.M.At(i, 0))
		}
	}
	gotObsm, err := out.FetchObsm(ctx, "pca")
	if err != nil {
		t.Fatal(err)
	}
	pm := gotObsm.(*array.Matrix)
	for i, w := range wantRows {
		if pm.M.At(i, 0) != w {
			t.Fatalf("obsm row %d: wanted %v, got %v", i, w, pm.M.At(i, 0))
		}
	}
}

func TestReadOnlyRejectsMutation(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, 2, 2)
	if err != nil {
		t.Fatal(err)
	}
	dst := memfs.New("mem://ro-dst", storage.ReadWrite)
	if err := a.WriteTo(ctx, dst); err != nil {
		t.Fatal(err)
	}

	roFile := sharedRootFile(t, dst)
	reopened, err := Open(ctx, roFile)
	if err != nil {
		t.Fatal(err)
	}
	err = reopened.SetX(ctx, array.NewMatrixFromRowMajor(2, 2, make([]float64, 4)))
	if !errors.Is(err, annerr.ErrReadOnly) {
		t.Fatalf("expected ErrReadOnly, got %v", err)
	}
}

// sharedRootFile builds a read-only File sharing dst's in-memory root,
// so the read-only check can be exercised without re-plumbing memfs's
// internals into this test.
func sharedRootFile(t *testing.T, dst storage.File) storage.File {
	t.Helper()
	mf, ok := dst.(*memfs.File)
	if !ok {
		t.Fatalf("expected *memfs.File, got %T", dst)
	}
	return memfs.WithMode(mf, storage.ReadOnly)
}
