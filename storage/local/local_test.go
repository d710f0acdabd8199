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

package local

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/annstore/anndata/annerr"
	"github.com/annstore/anndata/storage"
)

func openFresh(t *testing.T, mode storage.OpenMode) (*File, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "root")
	f, err := Open(context.Background(), path, mode)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { f.Close() })
	return f, path
}

func TestGroupDatasetRoundTrip(t *testing.T) {
	ctx := context.Background()
	f, _ := openFresh(t, storage.ReadWrite)

	root, err := f.Root(ctx)
	if err != nil {
		t.Fatal(err)
	}
	sub, err := root.NewGroup(ctx, "obsm")
	if err != nil {
		t.Fatal(err)
	}
	data := []byte{1, 2, 3, 4}
	ds, err := sub.NewDataset(ctx, "x", data, []int{2, 2}, storage.DatasetConfig{})
	if err != nil {
		t.Fatal(err)
	}
	shape, err := ds.Shape(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if shape[0] != 2 || shape[1] != 2 {
		t.Fatalf("unexpected shape: %v", shape)
	}
	got, err := ds.ReadAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(data) {
		t.Fatalf("unexpected data: %v", got)
	}

	names, err := root.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 1 || names[0] != "obsm" {
		t.Fatalf("unexpected root listing: %v", names)
	}

	reopened, err := root.OpenGroup(ctx, "obsm")
	if err != nil {
		t.Fatal(err)
	}
	reds, err := reopened.OpenDataset(ctx, "x")
	if err != nil {
		t.Fatal(err)
	}
	rng, err := reds.ReadRange(ctx, 1, 2)
	if err != nil {
		t.Fatal(err)
	}
	if rng[0] != 2 || rng[1] != 3 {
		t.Fatalf("unexpected range read: %v", rng)
	}
}

func TestAttrsRoundTrip(t *testing.T) {
	ctx := context.Background()
	f, _ := openFresh(t, storage.ReadWrite)
	root, err := f.Root(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if err := root.SetStrAttr(ctx, "encoding", "anndata"); err != nil {
		t.Fatal(err)
	}
	if err := root.SetScalarAttr(ctx, "version", 1); err != nil {
		t.Fatal(err)
	}
	if err := root.SetArrayAttr(ctx, "tags", []string{"a", "b"}); err != nil {
		t.Fatal(err)
	}

	v, err := root.GetStrAttr(ctx, "encoding")
	if err != nil || v != "anndata" {
		t.Fatalf("GetStrAttr: %v, %v", v, err)
	}
	n, err := root.GetScalarAttr(ctx, "version")
	if err != nil || n != 1 {
		t.Fatalf("GetScalarAttr: %v, %v", n, err)
	}
	arr, err := root.GetArrayAttr(ctx, "tags")
	if err != nil || len(arr) != 2 || arr[0] != "a" {
		t.Fatalf("GetArrayAttr: %v, %v", arr, err)
	}

	if _, err := root.GetStrAttr(ctx, "missing"); !errors.Is(err, annerr.ErrMissingKey) {
		t.Fatalf("expected ErrMissingKey, got %v", err)
	}
}

func TestReadOnlyRejectsWrites(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "root")

	f, err := Open(ctx, path, storage.ReadWrite)
	if err != nil {
		t.Fatal(err)
	}
	root, err := f.Root(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := root.NewDataset(ctx, "x", []byte{1}, []int{1}, storage.DatasetConfig{}); err != nil {
		t.Fatal(err)
	}
	f.Close()

	ro, err := Open(ctx, path, storage.ReadOnly)
	if err != nil {
		t.Fatal(err)
	}
	defer ro.Close()
	roRoot, err := ro.Root(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if err := roRoot.SetStrAttr(ctx, "k", "v"); !errors.Is(err, annerr.ErrReadOnly) {
		t.Fatalf("expected ErrReadOnly, got %v", err)
	}
	if _, err := roRoot.NewGroup(ctx, "g"); !errors.Is(err, annerr.ErrReadOnly) {
		t.Fatalf("expected ErrReadOnly, got %v", err)
	}
}

func TestOpenDedupesConcurrentCallers(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "root")
	ctx := context.Background()

	a, err := Open(ctx, path, storage.ReadWrite)
	if err != nil {
		t.Fatal(err)
	}
	b, err := Open(ctx, path, storage.ReadWrite)
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Fatal("expected Open to return the cached *File for an identical path/mode")
	}
	a.Close()
	c, err := Open(ctx, path, storage.ReadWrite)
	if err != nil {
		t.Fatal(err)
	}
	if c == a {
		t.Fatal("expected a fresh *File after Close forgot the cache entry")
	}
}

func TestDeleteRemovesDatasetAndSidecar(t *testing.T) {
	ctx := context.Background()
	f, _ := openFresh(t, storage.ReadWrite)
	root, err := f.Root(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := root.NewDataset(ctx, "x", []byte{1, 2}, []int{2}, storage.DatasetConfig{}); err != nil {
		t.Fatal(err)
	}
	if err := root.Delete(ctx, "x"); err != nil {
		t.Fatal(err)
	}
	if ok, err := root.Exists(ctx, "x"); err != nil || ok {
		t.Fatalf("expected x to be gone, exists=%v err=%v", ok, err)
	}
}
