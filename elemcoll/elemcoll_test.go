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

package elemcoll

import (
	"context"
	"reflect"
	"testing"

	"github.com/annstore/anndata/array"
	"github.com/annstore/anndata/storage"
	"github.com/annstore/anndata/storage/memfs"
)

func newRoot(t *testing.T) storage.Group {
	t.Helper()
	f := memfs.New("mem://coll", storage.ReadWrite)
	root, err := f.Root(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	return root
}

func TestAddFetchRemove(t *testing.T) {
	ctx := context.Background()
	root := newRoot(t)
	g, err := root.NewGroup(ctx, "uns")
	if err != nil {
		t.Fatal(err)
	}
	c := New(g, false)
	if err := c.AddData(ctx, "threshold", &array.Scalar{Dtype: array.Float64, Value: 0.5}); err != nil {
		t.Fatal(err)
	}
	if err := c.AddData(ctx, "notes", &array.Dense{ShapeVal: []int{2}, Dtype: array.String, Data: []string{"a", "b"}}); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(c.Keys(), []string{"notes", "threshold"}) {
		t.Fatalf("unexpected keys: %v", c.Keys())
	}
	got, err := c.Fetch(ctx, "threshold")
	if err != nil {
		t.Fatal(err)
	}
	if got.(*array.Scalar).Value != 0.5 {
		t.Fatalf("unexpected value: %v", got)
	}
	if err := c.RemoveData(ctx, "threshold"); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Fetch(ctx, "threshold"); err == nil {
		t.Fatal("expected fetch after remove to fail")
	}
}

func TestAddDataReplacesInPlace(t *testing.T) {
	ctx := context.Background()
	root := newRoot(t)
	g, _ := root.NewGroup(ctx, "uns")
	c := New(g, false)
	if err := c.AddData(ctx, "k", &array.Scalar{Dtype: array.Int64, Value: int64(1)}); err != nil {
		t.Fatal(err)
	}
	if err := c.AddData(ctx, "k", &array.Scalar{Dtype: array.Int64, Value: int64(2)}); err != nil {
		t.Fatal(err)
	}
	if len(c.Keys()) != 1 {
		t.Fatalf("expected 1 key after replace, got %v", c.Keys())
	}
	got, _ := c.Fetch(ctx, "k")
	if got.(*array.Scalar).Value != int64(2) {
		t.Fatalf("expected replaced value 2, got %v", got.(*array.Scalar).Value)
	}
}

func TestOpenReconstructsFromGroup(t *testing.T) {
	ctx := context.Background()
	root := newRoot(t)
	g, _ := root.NewGroup(ctx, "uns")
	c := New(g, false)
	if err := c.AddData(ctx, "a", &array.Scalar{Dtype: array.Bool, Value: true}); err != nil {
		t.Fatal(err)
	}
	g2, err := root.OpenGroup(ctx, "uns")
	if err != nil {
		t.Fatal(err)
	}
	reopened, err := Open(ctx, g2)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(reopened.Keys(), []string{"a"}) {
		t.Fatalf("unexpected reopened keys: %v", reopened.Keys())
	}
}

func TestExport(t *testing.T) {
	ctx := context.Background()
	root := newRoot(t)
	g, _ := root.NewGroup(ctx, "uns")
	c := New(g, false)
	if err := c.AddData(ctx, "a", &array.Scalar{Dtype: array.Int64, Value: int64(7)}); err != nil {
		t.Fatal(err)
	}
	if err := c.Export(ctx, root, "uns_copy"); err != nil {
		t.Fatal(err)
	}
	copied, err := root.OpenGroup(ctx, "uns_copy")
	if err != nil {
		t.Fatal(err)
	}
	reopened, err := Open(ctx, copied)
	if err != nil {
		t.Fatal(err)
	}
	got, err := reopened.Fetch(ctx, "a")
	if err != nil {
		t.Fatal(err)
	}
	if got.(*array.Scalar).Value != int64(7) {
		t.Fatalf("unexpected exported value: %v", got)
	}
}
