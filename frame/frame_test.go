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

package frame

import (
	"context"
	"reflect"
	"testing"

	"github.com/annstore/anndata/array"
	"github.com/annstore/anndata/index"
	"github.com/annstore/anndata/internal/logger"
	"github.com/annstore/anndata/selection"
	"github.com/annstore/anndata/storage"
	"github.com/annstore/anndata/storage/memfs"
)

func newTestFrame(t *testing.T) *Frame {
	t.Helper()
	f := New("obs_names", index.NewList([]string{"c1", "c2", "c3"}))
	if err := f.AddColumn("batch", array.NewCategoricalFromStrings([]string{"a", "a", "b"})); err != nil {
		t.Fatal(err)
	}
	if err := f.AddColumn("n_genes", &array.Dense{ShapeVal: []int{3}, Dtype: array.Int64, Data: []int64{10, 20, 30}}); err != nil {
		t.Fatal(err)
	}
	return f
}

func TestAddColumnRejectsHeightMismatch(t *testing.T) {
	f := newTestFrame(t)
	err := f.AddColumn("bad", &array.Dense{ShapeVal: []int{2}, Dtype: array.Int64, Data: []int64{1, 2}})
	if err == nil {
		t.Fatal("expected dimension mismatch error")
	}
}

func TestFrameSelect(t *testing.T) {
	f := newTestFrame(t)
	sub, err := f.Select(selection.NewIndex([]int{2, 0}))
	if err != nil {
		t.Fatal(err)
	}
	if sub.Height() != 2 {
		t.Fatalf("wanted height 2, got %d", sub.Height())
	}
	if !reflect.DeepEqual(sub.Idx.Values(), []string{"c3", "c1"}) {
		t.Fatalf("unexpected index values: %v", sub.Idx.Values())
	}
	col, ok := sub.Column("n_genes")
	if !ok {
		t.Fatal("expected n_genes column to survive select")
	}
	d := col.(*array.Dense)
	if !reflect.DeepEqual(d.Data, []int64{30, 10}) {
		t.Fatalf("unexpected reindexed data: %v", d.Data)
	}
}

func TestFrameSelectFullIsIdentity(t *testing.T) {
	f := newTestFrame(t)
	sub, err := f.Select(selection.NewFull())
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(sub.ColumnNames(), f.ColumnNames()) {
		t.Fatalf("column order changed under full select: %v vs %v", sub.ColumnNames(), f.ColumnNames())
	}
}

func TestFrameWriteReadRoundTrip(t *testing.T) {
	ctx := context.Background()
	log := logger.New(logger.ERROR)
	f := newTestFrame(t)
	file := memfs.New("mem://frame", storage.ReadWrite)
	root, _ := file.Root(ctx)
	g, err := root.NewGroup(ctx, "obs")
	if err != nil {
		t.Fatal(err)
	}
	if err := f.WriteTo(ctx, g, log); err != nil {
		t.Fatal(err)
	}
	g2, err := root.OpenGroup(ctx, "obs")
	if err != nil {
		t.Fatal(err)
	}
	got, err := ReadFrom(ctx, g2)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got.ColumnNames(), f.ColumnNames()) {
		t.Fatalf("column order mismatch: %v vs %v", got.ColumnNames(), f.ColumnNames())
	}
	if !reflect.DeepEqual(got.Idx.Values(), f.Idx.Values()) {
		t.Fatalf("index mismatch: %v vs %v", got.Idx.Values(), f.Idx.Values())
	}
	gotCol, _ := got.Column("n_genes")
	wantCol, _ := f.Column("n_genes")
	if !reflect.DeepEqual(gotCol.(*array.Dense).Data, wantCol.(*array.Dense).Data) {
		t.Fatalf("n_genes mismatch: %v vs %v", gotCol, wantCol)
	}
}

func TestRemoveColumn(t *testing.T) {
	f := newTestFrame(t)
	f.RemoveColumn("batch")
	if _, ok := f.Column("batch"); ok {
		t.Fatal("expected batch column to be removed")
	}
	if len(f.ColumnNames()) != 1 {
		t.Fatalf("expected 1 remaining column, got %v", f.ColumnNames())
	}
}
