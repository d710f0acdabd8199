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

package annds

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/annstore/anndata/anndata"
	"github.com/annstore/anndata/annerr"
	"github.com/annstore/anndata/array"
	"github.com/annstore/anndata/frame"
	"github.com/annstore/anndata/index"
	"github.com/annstore/anndata/storage"
	"github.com/annstore/anndata/storage/memfs"
)

// TestResolveParentDirFollowsSymlink is the literal spec.md §4.7
// requirement: relative child paths resolve against the annotation's
// parent directory, following a symlink on that directory if any.
func TestResolveParentDirFollowsSymlink(t *testing.T) {
	root := t.TempDir()
	real := filepath.Join(root, "real")
	if err := os.Mkdir(real, 0o755); err != nil {
		t.Fatal(err)
	}
	link := filepath.Join(root, "link")
	if err := os.Symlink(real, link); err != nil {
		t.Skipf("symlinks unavailable in this environment: %v", err)
	}

	got := resolveParentDir(filepath.Join(link, "set.annds"))
	want, err := filepath.EvalSymlinks(real)
	if err != nil {
		t.Fatal(err)
	}
	if got != want {
		t.Fatalf("resolveParentDir: wanted %q, got %q", want, got)
	}
}

// TestResolveParentDirFallsBackWithoutRealPath confirms non-filesystem
// backends (memfs, s3) don't error: EvalSymlinks fails on a path that
// doesn't exist on disk, and the unresolved directory is used as-is.
func TestResolveParentDirFallsBackWithoutRealPath(t *testing.T) {
	got := resolveParentDir("mem://dataset/set.annds")
	if want := filepath.Dir("mem://dataset/set.annds"); got != want {
		t.Fatalf("resolveParentDir: wanted %q, got %q", want, got)
	}
}

func newChildAnnData(t *testing.T, ctx context.Context, nObs, nVars int, varNames []string) *anndata.AnnData {
	t.Helper()
	a, err := anndata.New(ctx, nObs, nVars)
	if err != nil {
		t.Fatal(err)
	}
	v := frame.New("var_names", index.NewList(varNames))
	if err := a.SetVar(v); err != nil {
		t.Fatal(err)
	}
	dst := memfs.New("mem://child", storage.ReadWrite)
	if err := a.WriteTo(ctx, dst); err != nil {
		t.Fatal(err)
	}
	reopened, err := anndata.Open(ctx, dst)
	if err != nil {
		t.Fatal(err)
	}
	return reopened
}

// TestNewConcatenatesChildren is the (S4)-style scenario: two children of
// sizes 3x5 and 2x5 concatenate into a 5x5 annotation with a child-label
// column and a two-row uns["AnnDataSet"] table.
func TestNewConcatenatesChildren(t *testing.T) {
	ctx := context.Background()
	varNames := []string{"g0", "g1", "g2", "g3", "g4"}
	a := newChildAnnData(t, ctx, 3, 5, varNames)
	b := newChildAnnData(t, ctx, 2, 5, varNames)

	children := []Keyed[*anndata.AnnData]{
		{Key: "a", Value: a},
		{Key: "b", Value: b},
	}
	ds, err := New(ctx, children, "/tmp/set.h5ads", "batch")
	if err != nil {
		t.Fatal(err)
	}
	if ds.NObsCount() != 5 || ds.NVarsCount() != 5 {
		t.Fatalf("unexpected dims: %d, %d", ds.NObsCount(), ds.NVarsCount())
	}

	obs := ds.ReadObs()
	col, ok := obs.Column("batch")
	if !ok {
		t.Fatal("expected batch column on merged obs")
	}
	cat, ok := col.(*array.Categorical)
	if !ok {
		t.Fatalf("expected categorical batch column, got %T", col)
	}
	want := []string{"a", "a", "a", "b", "b"}
	got := cat.Strings()
	if len(got) != len(want) {
		t.Fatalf("unexpected batch length: %v", got)
	}
	for i, w := range want {
		if got[i] != w {
			t.Fatalf("batch[%d]: wanted %q, got %q", i, w, got[i])
		}
	}

	keys, paths, err := readDatasetTable(ctx, ds.Annotation)
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 2 || keys[0] != "a" || keys[1] != "b" {
		t.Fatalf("unexpected uns[AnnDataSet] keys: %v", keys)
	}
	if len(paths) != 2 || paths[0] == "" || paths[1] == "" {
		t.Fatalf("unexpected uns[AnnDataSet] paths: %v", paths)
	}
}

// TestNewRejectsVarNameMismatch is the (S5)-style scenario: children whose
// var_names disagree must be rejected with DimensionMismatch rather than
// silently concatenated.
func TestNewRejectsVarNameMismatch(t *testing.T) {
	ctx := context.Background()
	a := newChildAnnData(t, ctx, 3, 5, []string{"g0", "g1", "g2", "g3", "g4"})
	b := newChildAnnData(t, ctx, 2, 5, []string{"g0", "g1", "g2", "g3", "gX"})

	children := []Keyed[*anndata.AnnData]{
		{Key: "a", Value: a},
		{Key: "b", Value: b},
	}
	_, err := New(ctx, children, "/tmp/set.h5ads", "batch")
	if !errors.Is(err, annerr.ErrDimensionMismatch) {
		t.Fatalf("expected DimensionMismatch, got %v", err)
	}
}

// TestSetXUnsupportedOnDataset verifies X is virtualized: mutating it
// directly on an AnnDataSet is rejected, but reading the virtual
// concatenation works.
func TestSetXUnsupportedOnDataset(t *testing.T) {
	ctx := context.Background()
	varNames := []string{"g0", "g1"}
	a := newChildAnnData(t, ctx, 2, 2, varNames)
	b := newChildAnnData(t, ctx, 1, 2, varNames)
	if err := a.SetX(ctx, array.NewMatrixFromRowMajor(2, 2, []float64{0, 0, 1, 1})); err != nil {
		t.Fatal(err)
	}
	if err := b.SetX(ctx, array.NewMatrixFromRowMajor(1, 2, []float64{2, 2})); err != nil {
		t.Fatal(err)
	}

	children := []Keyed[*anndata.AnnData]{
		{Key: "a", Value: a},
		{Key: "b", Value: b},
	}
	ds, err := New(ctx, children, "/tmp/set.h5ads", "batch")
	if err != nil {
		t.Fatal(err)
	}

	err = ds.SetX(ctx, array.NewMatrixFromRowMajor(3, 2, make([]float64, 6)))
	if !errors.Is(err, annerr.ErrUnsupportedOnDataset) {
		t.Fatalf("expected ErrUnsupportedOnDataset, got %v", err)
	}

	got, err := ds.ReadX(ctx)
	if err != nil {
		t.Fatal(err)
	}
	m, ok := got.(*array.Matrix)
	if !ok {
		t.Fatalf("expected *array.Matrix, got %T", got)
	}
	if m.M.At(0, 0) != 0 || m.M.At(2, 0) != 2 {
		t.Fatalf("unexpected stacked X: %v", m.M.RawMatrix().Data)
	}
}
