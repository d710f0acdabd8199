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

// Package annds implements AnnDataSet: a composite of one owned
// annotation AnnData plus an ordered sequence of borrowed child AnnData
// partitions, presented as a single virtual concatenation along the obs
// axis via the stacked package. X, obsm, and obsp are virtualized; obs
// (with its child-label column) lives on the annotation; var, varm, and
// varp are taken from the first child, since every child is required to
// share var_names in the same order.
package annds

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/annstore/anndata/anndata"
	"github.com/annstore/anndata/annerr"
	"github.com/annstore/anndata/array"
	"github.com/annstore/anndata/axis"
	"github.com/annstore/anndata/elem"
	"github.com/annstore/anndata/frame"
	"github.com/annstore/anndata/index"
	"github.com/annstore/anndata/internal/logger"
	"github.com/annstore/anndata/selection"
	"github.com/annstore/anndata/stacked"
	"github.com/annstore/anndata/storage"
	"github.com/annstore/anndata/vecvec"
)

// unsDatasetKey is the reserved uns entry recording the composite
// dataset's child keys and backing paths (spec.md §6, "Persisted
// composite-dataset metadata").
const unsDatasetKey = "AnnDataSet"

// Keyed pairs a value (a child AnnData, most commonly) with the key
// under which it is recorded in the composite dataset.
type Keyed[T any] struct {
	Key   string
	Value T
}

// child is a borrowed, opened reference to one partition.
type child struct {
	key  string
	path string
	ad   *anndata.AnnData
}

// AnnDataSet is the root object of a composite dataset. x/obsm/obsp are
// set once at construction (New/Open) and never mutated afterward, so no
// further synchronization is needed around them.
type AnnDataSet struct {
	Annotation *anndata.AnnData
	children   []child

	x    *stacked.ArrayElem // nil when any child lacks X
	obsm *stacked.AxisArrays
	obsp *stacked.AxisArrays
}

// Opener resolves a child path, as stored in uns["AnnDataSet"], to a
// storage.File in whichever backend the composite dataset lives in. The
// distilled spec assumes a single ambient backend; this module supports
// several (memfs/local/s3), so Open takes the resolver explicitly rather
// than hard-coding one.
type Opener func(ctx context.Context, path string, mode storage.OpenMode) (storage.File, error)

// Creator creates a fresh, writable storage.File at path, mirroring
// Opener for WriteSelect's write-side fan-out.
type Creator func(ctx context.Context, path string) (storage.File, error)

// New builds a fresh AnnDataSet from children, in the given order.
// filename is the eventual location of the composite dataset's
// annotation file, used only to compute relative child paths for
// uns["AnnDataSet"]; addKey names the obs column recording which child
// each row came from.
func New(ctx context.Context, children []Keyed[*anndata.AnnData], filename, addKey string) (*AnnDataSet, error) {
	if len(children) == 0 {
		return nil, annerr.DimensionMismatchf("annds: new: no children given")
	}

	varNames := children[0].Value.VarNames()
	for i := 1; i < len(children); i++ {
		if !equalStrings(children[i].Value.VarNames(), varNames) {
			return nil, annerr.DimensionMismatchf("annds: new: var names mismatch between child %q and child %q", children[0].Key, children[i].Key)
		}
	}

	sizes := make([]int, len(children))
	anyEmptyNames := false
	total := 0
	for i, c := range children {
		sizes[i] = c.Value.NObsCount()
		total += sizes[i]
		if c.Value.ReadObs().Idx.Kind == index.RangeKind {
			anyEmptyNames = true
		}
	}

	var obsIdx index.Index
	if anyEmptyNames {
		obsIdx = index.NewRange(0, total)
	} else {
		names := make([]string, 0, total)
		for _, c := range children {
			names = append(names, c.Value.ObsNames()...)
		}
		obsIdx = index.NewList(names)
	}

	addKeyValues := make([]string, 0, total)
	for _, c := range children {
		for i := 0; i < c.Value.NObsCount(); i++ {
			addKeyValues = append(addKeyValues, c.Key)
		}
	}

	ann, err := anndata.New(ctx, total, len(varNames))
	if err != nil {
		return nil, fmt.Errorf("annds: new: annotation: %w", err)
	}
	obsFrame := frame.New("obs_names", obsIdx)
	if err := obsFrame.AddColumn(addKey, array.NewCategoricalFromStrings(addKeyValues)); err != nil {
		return nil, fmt.Errorf("annds: new: add_key column: %w", err)
	}
	if err := ann.SetObs(obsFrame); err != nil {
		return nil, fmt.Errorf("annds: new: set obs: %w", err)
	}
	varCopy, err := children[0].Value.ReadVar().Select(selection.NewFull())
	if err != nil {
		return nil, fmt.Errorf("annds: new: copy var: %w", err)
	}
	if err := ann.SetVar(varCopy); err != nil {
		return nil, fmt.Errorf("annds: new: set var: %w", err)
	}

	keys := make([]string, len(children))
	paths := make([]string, len(children))
	refs := make([]child, len(children))
	for i, c := range children {
		keys[i] = c.Key
		p := relativePath(filename, c.Value.File().Path())
		paths[i] = p
		refs[i] = child{key: c.Key, path: p, ad: c.Value}
	}
	if err := writeDatasetTable(ctx, ann, keys, paths); err != nil {
		return nil, fmt.Errorf("annds: new: write uns[%q]: %w", unsDatasetKey, err)
	}

	ds := &AnnDataSet{Annotation: ann, children: refs}
	if err := ds.rebuildStacks(sizes); err != nil {
		return nil, err
	}
	return ds, nil
}

// resolveParentDir returns the real directory relative child paths
// should be resolved against: f's parent directory, following a symlink
// on that directory if any (spec.md §4.7). EvalSymlinks fails on
// backends whose Path() isn't a real filesystem path (storage/memfs,
// storage/s3); in that case the unresolved directory is used as-is.
func resolveParentDir(path string) string {
	dir := filepath.Dir(path)
	if real, err := filepath.EvalSymlinks(dir); err == nil {
		return real
	}
	return dir
}

// Open reconstructs an AnnDataSet from f: reads uns["AnnDataSet"],
// resolves each child path (absolute paths used directly; relative
// paths resolved against f's own parent directory, following a symlink
// on that directory if any), applies overrides (keyed by child key,
// triggering a write-back of uns["AnnDataSet"] when any path actually
// changes), and opens every child in parallel via open.
func Open(ctx context.Context, f storage.File, open Opener, overrides map[string]string) (*AnnDataSet, error) {
	ann, err := anndata.Open(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("annds: open: annotation: %w", err)
	}
	keys, paths, err := readDatasetTable(ctx, ann)
	if err != nil {
		return nil, err
	}

	changed := false
	for i, k := range keys {
		if override, ok := overrides[k]; ok && override != paths[i] {
			paths[i] = override
			changed = true
		}
	}

	dir := resolveParentDir(f.Path())
	resolved := make([]string, len(paths))
	for i, p := range paths {
		if filepath.IsAbs(p) {
			resolved[i] = p
		} else {
			resolved[i] = filepath.Join(dir, p)
		}
	}

	children := make([]child, len(keys))
	errs := make([]error, len(keys))
	var wg sync.WaitGroup
	for i := range keys {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cf, err := open(ctx, resolved[i], f.Mode())
			if err != nil {
				errs[i] = fmt.Errorf("annds: open: child %q at %q: %w", keys[i], resolved[i], err)
				return
			}
			cad, err := anndata.Open(ctx, cf)
			if err != nil {
				errs[i] = fmt.Errorf("annds: open: child %q: %w", keys[i], err)
				return
			}
			children[i] = child{key: keys[i], path: paths[i], ad: cad}
		}(i)
	}
	wg.Wait()
	for _, e := range errs {
		if e != nil {
			return nil, e
		}
	}

	if changed {
		if err := writeDatasetTable(ctx, ann, keys, paths); err != nil {
			return nil, fmt.Errorf("annds: open: write back overridden paths: %w", err)
		}
	}

	sizes := make([]int, len(children))
	for i, c := range children {
		sizes[i] = c.ad.NObsCount()
	}
	ds := &AnnDataSet{Annotation: ann, children: children}
	if err := ds.rebuildStacks(sizes); err != nil {
		return nil, err
	}
	return ds, nil
}

func (ds *AnnDataSet) rebuildStacks(sizes []int) error {
	xParts := make([]*elem.ArrayElem, 0, len(ds.children))
	haveAllX := true
	obsmParts := make([]*axis.AxisArrays, len(ds.children))
	obspParts := make([]*axis.AxisArrays, len(ds.children))
	for i, c := range ds.children {
		if xe, ok := c.ad.XElem(); ok {
			xParts = append(xParts, xe)
		} else {
			haveAllX = false
		}
		obsmParts[i] = c.ad.ObsmArrays()
		obspParts[i] = c.ad.ObspArrays()
	}
	ds.x = nil
	if haveAllX && len(xParts) > 0 {
		x, err := stacked.New(xParts)
		if err != nil {
			return fmt.Errorf("annds: stack X: %w", err)
		}
		ds.x = x
	}
	ds.obsm = stacked.NewAxisArrays(obsmParts, sizes)
	ds.obsp = stacked.NewAxisArrays(obspParts, sizes)
	return nil
}

// WriteSelect writes each child's projection into
// dir/anndatas/<key><suffix> in parallel, writes the annotation's
// projection into dir/_dataset.h5ads, and rewrites uns["AnnDataSet"]
// with the new relative paths. If splitting sel's obs selection across
// partitions produced a reordering map, the annotation's row selection
// is first permuted by that map's inverse so the annotation's rows align
// with the stacked children's natural (partition-walk) output order.
func (ds *AnnDataSet) WriteSelect(ctx context.Context, sel selection.Selection2D, dir string, create Creator, suffix string) error {
	sizes := make([]int, len(ds.children))
	for i, c := range ds.children {
		sizes[i] = c.ad.NObsCount()
	}
	vv := vecvec.New(sizes)
	perPartition, mapping, err := vv.SplitSelect(sel[0])
	if err != nil {
		return fmt.Errorf("annds: write_select: split obs selection: %w", err)
	}

	keys := make([]string, len(ds.children))
	paths := make([]string, len(ds.children))
	errs := make([]error, len(ds.children))
	var wg sync.WaitGroup
	for i, c := range ds.children {
		keys[i] = c.key
		paths[i] = filepath.Join("anndatas", c.key+suffix)
		rowSel := perPartition[i]
		if rowSel.Len(sizes[i]) == 0 {
			continue
		}
		wg.Add(1)
		go func(i int, c child, rowSel selection.Selection) {
			defer wg.Done()
			dst, err := create(ctx, filepath.Join(dir, "anndatas", c.key+suffix))
			if err != nil {
				errs[i] = fmt.Errorf("annds: write_select: create child %q: %w", c.key, err)
				return
			}
			childSel := selection.Selection2D{rowSel, sel[1]}
			if _, err := c.ad.WriteSelect(ctx, childSel, dst); err != nil {
				errs[i] = fmt.Errorf("annds: write_select: child %q: %w", c.key, err)
			}
		}(i, c, rowSel)
	}
	wg.Wait()
	for _, e := range errs {
		if e != nil {
			return e
		}
	}

	annSel0 := sel[0]
	if mapping != nil {
		idx, err := sel[0].Indices(vv.Len())
		if err != nil {
			return fmt.Errorf("annds: write_select: materialize obs selection: %w", err)
		}
		rev := vecvec.ReverseMapping(mapping, len(idx))
		natIdx := make([]int, len(idx))
		for destRow, origI := range rev {
			natIdx[destRow] = idx[origI]
		}
		annSel0 = selection.NewIndex(natIdx)
	}

	annDst, err := create(ctx, filepath.Join(dir, "_dataset.h5ads"))
	if err != nil {
		return fmt.Errorf("annds: write_select: create annotation file: %w", err)
	}
	annOut, err := ds.Annotation.WriteSelect(ctx, selection.Selection2D{annSel0, sel[1]}, annDst)
	if err != nil {
		return fmt.Errorf("annds: write_select: annotation: %w", err)
	}

	// export's copy-on-subset leaves uns untouched, so the stale table
	// from the source annotation survives the write; overwrite it with
	// the new relative child paths.
	if err := writeDatasetTable(ctx, annOut, keys, paths); err != nil {
		return fmt.Errorf("annds: write_select: rewrite uns[%q]: %w", unsDatasetKey, err)
	}
	return nil
}

// writeDatasetTable (re)writes the two-column {keys, file_path} table
// uns["AnnDataSet"] directly as a nested frame under the annotation's
// uns group. spec.md §6 describes this entry as "a two-column frame",
// not an arbitrary array, so it bypasses the ElemCollection element
// model that every other uns entry goes through.
func writeDatasetTable(ctx context.Context, ann *anndata.AnnData, keys, paths []string) error {
	root, err := ann.File().Root(ctx)
	if err != nil {
		return annerr.BackendFailuref(err, "annds: uns[%q]: root", unsDatasetKey)
	}
	unsGroup, err := root.OpenGroup(ctx, "uns")
	if err != nil {
		return annerr.BackendFailuref(err, "annds: uns[%q]: open uns", unsDatasetKey)
	}
	if ok, _ := unsGroup.Exists(ctx, unsDatasetKey); ok {
		if err := unsGroup.Delete(ctx, unsDatasetKey); err != nil {
			return annerr.BackendFailuref(err, "annds: uns[%q]: delete stale table", unsDatasetKey)
		}
	}
	g, err := unsGroup.NewGroup(ctx, unsDatasetKey)
	if err != nil {
		return annerr.BackendFailuref(err, "annds: uns[%q]: create group", unsDatasetKey)
	}
	tbl := frame.New("keys", index.NewList(keys))
	pathCol := &array.Dense{ShapeVal: []int{len(paths)}, Dtype: array.String, Data: append([]string(nil), paths...)}
	if err := tbl.AddColumn("file_path", pathCol); err != nil {
		return fmt.Errorf("annds: uns[%q]: add file_path column: %w", unsDatasetKey, err)
	}
	return tbl.WriteTo(ctx, g, ann.Logger())
}

// readDatasetTable reads back uns["AnnDataSet"] as written by
// writeDatasetTable.
func readDatasetTable(ctx context.Context, ann *anndata.AnnData) (keys, paths []string, err error) {
	root, err := ann.File().Root(ctx)
	if err != nil {
		return nil, nil, annerr.BackendFailuref(err, "annds: uns[%q]: root", unsDatasetKey)
	}
	unsGroup, err := root.OpenGroup(ctx, "uns")
	if err != nil {
		return nil, nil, annerr.BackendFailuref(err, "annds: uns[%q]: open uns", unsDatasetKey)
	}
	g, err := unsGroup.OpenGroup(ctx, unsDatasetKey)
	if err != nil {
		return nil, nil, annerr.MissingKeyf("annds: uns[%q] not found: %v", unsDatasetKey, err)
	}
	tbl, err := frame.ReadFrom(ctx, g)
	if err != nil {
		return nil, nil, fmt.Errorf("annds: uns[%q]: read: %w", unsDatasetKey, err)
	}
	keys = tbl.Idx.Values()
	col, ok := tbl.Column("file_path")
	if !ok {
		return nil, nil, annerr.MissingKeyf("annds: uns[%q] missing file_path column", unsDatasetKey)
	}
	d, ok := col.(*array.Dense)
	if !ok || d.Dtype != array.String {
		return nil, nil, annerr.EncodingMismatchf("annds: uns[%q] file_path column has unexpected type %T", unsDatasetKey, col)
	}
	paths, ok = d.Data.([]string)
	if !ok {
		return nil, nil, annerr.EncodingMismatchf("annds: uns[%q] file_path column data is not []string", unsDatasetKey)
	}
	return keys, paths, nil
}

// relativePath stores childPath relative to annotationPath's parent
// directory when both are resolvable that way; childPath is returned
// verbatim when it is already relative or when no sensible relative form
// exists (spec.md §6: "absolute paths are honored verbatim").
func relativePath(annotationPath, childPath string) string {
	if !filepath.IsAbs(childPath) {
		return childPath
	}
	dir := filepath.Dir(annotationPath)
	if !filepath.IsAbs(dir) {
		return childPath
	}
	rel, err := filepath.Rel(dir, childPath)
	if err != nil {
		return childPath
	}
	return rel
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// SetLogger installs l on the annotation, matching AnnData.SetLogger.
func (ds *AnnDataSet) SetLogger(l *logger.Logger) { ds.Annotation.SetLogger(l) }

// ReadX reads the full virtual X concatenation, or nil if any child
// lacks X.
func (ds *AnnDataSet) ReadX(ctx context.Context) (array.Array, error) {
	if ds.x == nil {
		return nil, nil
	}
	return ds.x.Data(ctx)
}

// ReadXSlice applies sel to the virtual X concatenation.
func (ds *AnnDataSet) ReadXSlice(ctx context.Context, sel selection.Selection2D) (array.Array, error) {
	if ds.x == nil {
		return nil, annerr.MissingKeyf("annds: X is not set on every child")
	}
	return ds.x.Select(ctx, sel)
}

// SetX always fails: X is virtualized on an AnnDataSet.
func (ds *AnnDataSet) SetX(ctx context.Context, data array.Array) error {
	return annerr.UnsupportedOnDatasetf("annds: set_x is virtualized on AnnDataSet")
}

// DelX always fails: X is virtualized on an AnnDataSet.
func (ds *AnnDataSet) DelX(ctx context.Context) error {
	return annerr.UnsupportedOnDatasetf("annds: del_x is virtualized on AnnDataSet")
}

// ReadObs returns the annotation's obs frame (including the child-label
// column recorded at construction time).
func (ds *AnnDataSet) ReadObs() *frame.Frame { return ds.Annotation.ReadObs() }

// ReadVar returns the annotation's var frame, copied from the first
// child at construction time.
func (ds *AnnDataSet) ReadVar() *frame.Frame { return ds.Annotation.ReadVar() }

// SetObs replaces the annotation's obs frame; unlike X, obs is real (not
// virtual) on an AnnDataSet.
func (ds *AnnDataSet) SetObs(f *frame.Frame) error { return ds.Annotation.SetObs(f) }

// SetVar replaces the annotation's var frame.
func (ds *AnnDataSet) SetVar(f *frame.Frame) error { return ds.Annotation.SetVar(f) }

// AddUns/FetchUns/UnsKeys/DelUns expose the annotation's uns map, with
// the reserved unsDatasetKey entry protected from direct mutation.
func (ds *AnnDataSet) AddUns(ctx context.Context, key string, data array.Array) error {
	if key == unsDatasetKey {
		return annerr.UnsupportedOnDatasetf("annds: uns[%q] is managed internally", unsDatasetKey)
	}
	return ds.Annotation.AddUns(ctx, key, data)
}
func (ds *AnnDataSet) FetchUns(ctx context.Context, key string) (array.Array, error) {
	return ds.Annotation.FetchUns(ctx, key)
}
func (ds *AnnDataSet) UnsKeys() []string { return ds.Annotation.UnsKeys() }
func (ds *AnnDataSet) DelUns(ctx context.Context, key string) error {
	if key == unsDatasetKey {
		return annerr.UnsupportedOnDatasetf("annds: uns[%q] is managed internally", unsDatasetKey)
	}
	return ds.Annotation.DelUns(ctx, key)
}

// ObsmKeys and FetchObsm read the virtual, row-stacked obsm collection.
// AddObsm/DelObsm always fail: obsm is virtualized on an AnnDataSet.
func (ds *AnnDataSet) ObsmKeys() []string { return ds.obsm.Keys() }
func (ds *AnnDataSet) FetchObsm(ctx context.Context, key string) (array.Array, error) {
	return ds.obsm.Fetch(ctx, key)
}
func (ds *AnnDataSet) AddObsm(ctx context.Context, key string, data array.Array) error {
	return annerr.UnsupportedOnDatasetf("annds: add_obsm is virtualized on AnnDataSet")
}
func (ds *AnnDataSet) DelObsm(ctx context.Context, key string) error {
	return annerr.UnsupportedOnDatasetf("annds: del_obsm is virtualized on AnnDataSet")
}

// ObspKeys and FetchObsp read the virtual, pairwise-stacked obsp
// collection. AddObsp/DelObsp always fail.
func (ds *AnnDataSet) ObspKeys() []string { return ds.obsp.Keys() }
func (ds *AnnDataSet) FetchObsp(ctx context.Context, key string) (array.Array, error) {
	return ds.obsp.Fetch(ctx, key)
}
func (ds *AnnDataSet) AddObsp(ctx context.Context, key string, data array.Array) error {
	return annerr.UnsupportedOnDatasetf("annds: add_obsp is virtualized on AnnDataSet")
}
func (ds *AnnDataSet) DelObsp(ctx context.Context, key string) error {
	return annerr.UnsupportedOnDatasetf("annds: del_obsp is virtualized on AnnDataSet")
}

// VarmKeys, FetchVarm, VarpKeys, and FetchVarp pass straight through to
// the first child: varm/varp live on the shared var axis, which is not
// stacked (every child is required to agree on var_names).
func (ds *AnnDataSet) VarmKeys() []string { return ds.children[0].ad.VarmKeys() }
func (ds *AnnDataSet) FetchVarm(ctx context.Context, key string) (array.Array, error) {
	return ds.children[0].ad.FetchVarm(ctx, key)
}
func (ds *AnnDataSet) VarpKeys() []string { return ds.children[0].ad.VarpKeys() }
func (ds *AnnDataSet) FetchVarp(ctx context.Context, key string) (array.Array, error) {
	return ds.children[0].ad.FetchVarp(ctx, key)
}

// NObsCount and NVarsCount report the annotation's established sizes.
func (ds *AnnDataSet) NObsCount() int  { return ds.Annotation.NObsCount() }
func (ds *AnnDataSet) NVarsCount() int { return ds.Annotation.NVarsCount() }

// ObsNames, VarNames, ObsIx, and VarIx resolve against the annotation,
// per spec.md §4.7.
func (ds *AnnDataSet) ObsNames() []string              { return ds.Annotation.ObsNames() }
func (ds *AnnDataSet) VarNames() []string              { return ds.Annotation.VarNames() }
func (ds *AnnDataSet) ObsIx(name string) (int, error) { return ds.Annotation.ObsIx(name) }
func (ds *AnnDataSet) VarIx(name string) (int, error) { return ds.Annotation.VarIx(name) }

// ChildKeys returns the composite dataset's child keys in concatenation
// order.
func (ds *AnnDataSet) ChildKeys() []string {
	keys := make([]string, len(ds.children))
	for i, c := range ds.children {
		keys[i] = c.key
	}
	return keys
}

// File returns the annotation's backing storage.File.
func (ds *AnnDataSet) File() storage.File { return ds.Annotation.File() }

// Mode reports whether the annotation was opened for mutation.
func (ds *AnnDataSet) Mode() storage.OpenMode { return ds.Annotation.Mode() }
