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

// Package anndata implements AnnData, the root object of the annotated
// matrix object graph: an optional X matrix, obs/var side tables, an
// unconstrained uns map, and the four axis-aligned collections
// (obsm/obsp/varm/varp), all sharing the n_obs/n_vars dimension cells.
package anndata

import (
	"context"
	"fmt"
	"sync"

	"github.com/annstore/anndata/annerr"
	"github.com/annstore/anndata/array"
	"github.com/annstore/anndata/axis"
	"github.com/annstore/anndata/dim"
	"github.com/annstore/anndata/elem"
	"github.com/annstore/anndata/elemcoll"
	"github.com/annstore/anndata/frame"
	"github.com/annstore/anndata/index"
	"github.com/annstore/anndata/internal/logger"
	"github.com/annstore/anndata/selection"
	"github.com/annstore/anndata/slot"
	"github.com/annstore/anndata/storage"
	"github.com/annstore/anndata/storage/memfs"
)

// AnnData is the root object: X is held in a Slot since, unlike every
// other field, it may be entirely absent (DelX empties the slot without
// touching NObs/NVars).
type AnnData struct {
	mu sync.RWMutex

	file storage.File
	root storage.Group
	mode storage.OpenMode
	log  *logger.Logger

	x    *slot.Slot[*elem.ArrayElem]
	obs  *frame.Frame
	varF *frame.Frame
	uns  *elemcoll.ElemCollection

	obsm, obsp, varm, varp *axis.AxisArrays

	nObs, nVars *dim.Dim
}

// SetLogger installs l as the logger used for non-fatal backend
// fallbacks (e.g. DataFrameIndex's attribute-write fallback). A nil
// Logger (the default) silently discards these.
func (a *AnnData) SetLogger(l *logger.Logger) { a.log = l }

// New builds a fully in-memory AnnData of the given shape, backed by
// storage/memfs, matching the original implementation's "AnnData can be
// constructed without a backing file" mode (SPEC_FULL.md §3). The result
// can later be persisted with WriteTo.
func New(ctx context.Context, nObs, nVars int) (*AnnData, error) {
	f := memfs.New("mem://anndata", storage.ReadWrite)
	root, err := f.Root(ctx)
	if err != nil {
		return nil, annerr.BackendFailuref(err, "anndata: new: root")
	}
	nObsD, nVarsD := dim.Fixed(nObs), dim.Fixed(nVars)

	unsGroup, err := root.NewGroup(ctx, "uns")
	if err != nil {
		return nil, annerr.BackendFailuref(err, "anndata: new: create uns")
	}
	obsmGroup, err := root.NewGroup(ctx, "obsm")
	if err != nil {
		return nil, annerr.BackendFailuref(err, "anndata: new: create obsm")
	}
	obspGroup, err := root.NewGroup(ctx, "obsp")
	if err != nil {
		return nil, annerr.BackendFailuref(err, "anndata: new: create obsp")
	}
	varmGroup, err := root.NewGroup(ctx, "varm")
	if err != nil {
		return nil, annerr.BackendFailuref(err, "anndata: new: create varm")
	}
	varpGroup, err := root.NewGroup(ctx, "varp")
	if err != nil {
		return nil, annerr.BackendFailuref(err, "anndata: new: create varp")
	}

	return &AnnData{
		file: f, root: root, mode: storage.ReadWrite,
		x:    slot.NewEmpty[*elem.ArrayElem](),
		obs:  frame.New("obs_names", index.NewRange(0, nObs)),
		varF: frame.New("var_names", index.NewRange(0, nVars)),
		uns:  elemcoll.New(unsGroup, false),
		obsm: axis.New(obsmGroup, axis.Row, nObsD, nil, false),
		obsp: axis.New(obspGroup, axis.Pairwise, nObsD, nil, false),
		varm: axis.New(varmGroup, axis.Row, nVarsD, nil, false),
		varp: axis.New(varpGroup, axis.Pairwise, nVarsD, nil, false),
		nObs: nObsD, nVars: nVarsD,
	}, nil
}

// Open reconstructs an AnnData from an existing backing File, in the
// mode the File was opened with.
func Open(ctx context.Context, f storage.File) (*AnnData, error) {
	root, err := f.Root(ctx)
	if err != nil {
		return nil, annerr.BackendFailuref(err, "anndata: open: root")
	}

	obsGroup, err := root.OpenGroup(ctx, "obs")
	if err != nil {
		return nil, annerr.BackendFailuref(err, "anndata: open: obs")
	}
	obs, err := frame.ReadFrom(ctx, obsGroup)
	if err != nil {
		return nil, fmt.Errorf("anndata: open: read obs: %w", err)
	}
	varGroup, err := root.OpenGroup(ctx, "var")
	if err != nil {
		return nil, annerr.BackendFailuref(err, "anndata: open: var")
	}
	varF, err := frame.ReadFrom(ctx, varGroup)
	if err != nil {
		return nil, fmt.Errorf("anndata: open: read var: %w", err)
	}
	nObsD, nVarsD := dim.Fixed(obs.Height()), dim.Fixed(varF.Height())

	unsGroup, err := root.OpenGroup(ctx, "uns")
	if err != nil {
		return nil, annerr.BackendFailuref(err, "anndata: open: uns")
	}
	uns, err := elemcoll.Open(ctx, unsGroup)
	if err != nil {
		return nil, fmt.Errorf("anndata: open: read uns: %w", err)
	}

	obsm, err := openAxis(ctx, root, "obsm", axis.Row, nObsD, nil)
	if err != nil {
		return nil, err
	}
	obsp, err := openAxis(ctx, root, "obsp", axis.Pairwise, nObsD, nil)
	if err != nil {
		return nil, err
	}
	varm, err := openAxis(ctx, root, "varm", axis.Row, nVarsD, nil)
	if err != nil {
		return nil, err
	}
	varp, err := openAxis(ctx, root, "varp", axis.Pairwise, nVarsD, nil)
	if err != nil {
		return nil, err
	}

	x := slot.NewEmpty[*elem.ArrayElem]()
	if ok, _ := root.Exists(ctx, "X"); ok {
		xe, err := elem.Open(ctx, root, "X")
		if err != nil {
			return nil, fmt.Errorf("anndata: open: read X: %w", err)
		}
		if err := nObsD.TrySet(xe.Shape()[0]); err != nil {
			return nil, fmt.Errorf("anndata: open: X rows vs n_obs: %w", err)
		}
		if len(xe.Shape()) > 1 {
			if err := nVarsD.TrySet(xe.Shape()[1]); err != nil {
				return nil, fmt.Errorf("anndata: open: X cols vs n_vars: %w", err)
			}
		}
		x = slot.NewFilled(xe)
	}

	return &AnnData{
		file: f, root: root, mode: f.Mode(),
		x: x, obs: obs, varF: varF, uns: uns,
		obsm: obsm, obsp: obsp, varm: varm, varp: varp,
		nObs: nObsD, nVars: nVarsD,
	}, nil
}

func openAxis(ctx context.Context, root storage.Group, name string, kind axis.Kind, dim1, dim2 *dim.Dim) (*axis.AxisArrays, error) {
	g, err := root.OpenGroup(ctx, name)
	if err != nil {
		return nil, annerr.BackendFailuref(err, "anndata: open %s", name)
	}
	a, err := axis.Open(ctx, g, kind, dim1, dim2)
	if err != nil {
		return nil, fmt.Errorf("anndata: open %s: %w", name, err)
	}
	return a, nil
}

func (a *AnnData) checkWritable() error {
	if a.mode != storage.ReadWrite {
		return annerr.ReadOnlyf("anndata: object opened read-only")
	}
	return nil
}

// WriteTo persists the full object graph to dst, which must be freshly
// created (obs/var/uns/obsm/obsp/varm/varp are created, not merged).
func (a *AnnData) WriteTo(ctx context.Context, dst storage.File) error {
	root, err := dst.Root(ctx)
	if err != nil {
		return annerr.BackendFailuref(err, "anndata: write: root")
	}
	full := selection.Selection2D{selection.NewFull(), selection.NewFull()}
	return a.export(ctx, root, full)
}

func (a *AnnData) export(ctx context.Context, root storage.Group, sel selection.Selection2D) error {
	a.mu.RLock()
	obs, varF := a.obs, a.varF
	a.mu.RUnlock()

	if xe, ok := a.xHandle(); ok {
		data, err := xe.Select(ctx, sel)
		if err != nil {
			return fmt.Errorf("anndata: export: select X: %w", err)
		}
		if _, err := elem.Create(ctx, root, "X", data, false); err != nil {
			return err
		}
	}
	obsSub, err := obs.Select(sel[0])
	if err != nil {
		return fmt.Errorf("anndata: export: select obs: %w", err)
	}
	obsGroup, err := root.NewGroup(ctx, "obs")
	if err != nil {
		return annerr.BackendFailuref(err, "anndata: export: create obs")
	}
	if err := obsSub.WriteTo(ctx, obsGroup, a.log); err != nil {
		return err
	}

	varSub, err := varF.Select(sel[1])
	if err != nil {
		return fmt.Errorf("anndata: export: select var: %w", err)
	}
	varGroup, err := root.NewGroup(ctx, "var")
	if err != nil {
		return annerr.BackendFailuref(err, "anndata: export: create var")
	}
	if err := varSub.WriteTo(ctx, varGroup, a.log); err != nil {
		return err
	}

	// uns is not axis-aligned: copy-on-subset leaves it untouched
	// (SPEC_FULL.md §3).
	if err := a.uns.Export(ctx, root, "uns"); err != nil {
		return fmt.Errorf("anndata: export: uns: %w", err)
	}
	rowSel := selection.Selection2D{sel[0], selection.NewFull()}
	colSel := selection.Selection2D{sel[1], selection.NewFull()}
	if err := a.obsm.ExportSelect(ctx, rowSel, root, "obsm"); err != nil {
		return fmt.Errorf("anndata: export: obsm: %w", err)
	}
	if err := a.obsp.ExportSelect(ctx, rowSel, root, "obsp"); err != nil {
		return fmt.Errorf("anndata: export: obsp: %w", err)
	}
	if err := a.varm.ExportSelect(ctx, colSel, root, "varm"); err != nil {
		return fmt.Errorf("anndata: export: varm: %w", err)
	}
	if err := a.varp.ExportSelect(ctx, colSel, root, "varp"); err != nil {
		return fmt.Errorf("anndata: export: varp: %w", err)
	}
	return nil
}

// WriteSelect projects the object graph through sel (rows = obs axis,
// cols = var axis) and writes the result into dst, returning a freshly
// reopened AnnData over it.
func (a *AnnData) WriteSelect(ctx context.Context, sel selection.Selection2D, dst storage.File) (*AnnData, error) {
	root, err := dst.Root(ctx)
	if err != nil {
		return nil, annerr.BackendFailuref(err, "anndata: write_select: root")
	}
	if err := a.export(ctx, root, sel); err != nil {
		return nil, err
	}
	return Open(ctx, dst)
}

func (a *AnnData) xHandle() (*elem.ArrayElem, bool) {
	if a.x.IsNone() {
		return nil, false
	}
	return a.x.Inner(), true
}

// ReadX returns the full X matrix, or nil if X is unset.
func (a *AnnData) ReadX(ctx context.Context) (array.Array, error) {
	xe, ok := a.xHandle()
	if !ok {
		return nil, nil
	}
	return xe.Read(ctx)
}

// ReadXSlice applies sel to X.
func (a *AnnData) ReadXSlice(ctx context.Context, sel selection.Selection2D) (array.Array, error) {
	xe, ok := a.xHandle()
	if !ok {
		return nil, annerr.MissingKeyf("anndata: X is not set")
	}
	return xe.Select(ctx, sel)
}

// SetX installs data as X, validating its shape against n_obs/n_vars.
func (a *AnnData) SetX(ctx context.Context, data array.Array) error {
	if err := a.checkWritable(); err != nil {
		return err
	}
	shape := data.Shape()
	if len(shape) != 2 {
		return annerr.DimensionMismatchf("anndata: X must be 2-D, got shape %v", shape)
	}
	if err := a.nObs.TrySet(shape[0]); err != nil {
		return fmt.Errorf("anndata: set_x: %w", err)
	}
	if err := a.nVars.TrySet(shape[1]); err != nil {
		return fmt.Errorf("anndata: set_x: %w", err)
	}
	if !a.x.IsNone() {
		return a.x.Inner().Save(ctx, data)
	}
	xe, err := elem.Create(ctx, a.root, "X", data, false)
	if err != nil {
		return err
	}
	a.x.Set(xe)
	return nil
}

// SetXFromIter writes chunks sequentially (vertically stacked) and
// installs the final result as X, matching AxisArrays.AddDataFromIter's
// chunked-write contract.
func (a *AnnData) SetXFromIter(ctx context.Context, chunks []array.Array) error {
	if err := a.checkWritable(); err != nil {
		return err
	}
	if len(chunks) == 0 {
		return annerr.DimensionMismatchf("anndata: set_x_from_iter: no chunks given")
	}
	cur := chunks[0]
	xe, err := elem.Create(ctx, a.root, "X", cur, false)
	if err != nil {
		return err
	}
	for _, next := range chunks[1:] {
		stacked, err := vstack(cur, next)
		if err != nil {
			_ = xe.Clear(ctx)
			return fmt.Errorf("anndata: set_x_from_iter: %w", err)
		}
		if err := xe.Save(ctx, stacked); err != nil {
			_ = xe.Clear(ctx)
			return err
		}
		cur = stacked
	}
	shape := cur.Shape()
	if len(shape) != 2 {
		_ = xe.Clear(ctx)
		return annerr.DimensionMismatchf("anndata: X must be 2-D, got shape %v", shape)
	}
	if err := a.nObs.TrySet(shape[0]); err != nil {
		_ = xe.Clear(ctx)
		return fmt.Errorf("anndata: set_x_from_iter: %w", err)
	}
	if err := a.nVars.TrySet(shape[1]); err != nil {
		_ = xe.Clear(ctx)
		return fmt.Errorf("anndata: set_x_from_iter: %w", err)
	}
	a.x.Set(xe)
	return nil
}

func vstack(x, y array.Array) (array.Array, error) {
	switch xv := x.(type) {
	case *array.Matrix:
		yv, ok := y.(*array.Matrix)
		if !ok {
			return nil, fmt.Errorf("type mismatch: %T vs %T", x, y)
		}
		return array.VStack([]*array.Matrix{xv, yv})
	case *array.Sparse:
		yv, ok := y.(*array.Sparse)
		if !ok {
			return nil, fmt.Errorf("type mismatch: %T vs %T", x, y)
		}
		return array.VStackSparse([]*array.Sparse{xv, yv})
	default:
		return nil, fmt.Errorf("type %T does not support chunked writes", x)
	}
}

// DelX clears X entirely, dropping both the handle and its backing
// object. n_obs/n_vars are unaffected (they may still be anchored by
// obs/var/obsm/etc).
func (a *AnnData) DelX(ctx context.Context) error {
	if err := a.checkWritable(); err != nil {
		return err
	}
	if a.x.IsNone() {
		return nil
	}
	if err := a.x.Inner().Clear(ctx); err != nil {
		return err
	}
	a.x.Drop()
	return nil
}

// ReadObs returns the current obs frame.
func (a *AnnData) ReadObs() *frame.Frame {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.obs
}

// ReadVar returns the current var frame.
func (a *AnnData) ReadVar() *frame.Frame {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.varF
}

// SetObs replaces the obs frame wholesale, after checking its height
// against n_obs.
func (a *AnnData) SetObs(f *frame.Frame) error {
	if err := a.checkWritable(); err != nil {
		return err
	}
	if err := a.nObs.TrySet(f.Height()); err != nil {
		return fmt.Errorf("anndata: set_obs: %w", err)
	}
	a.mu.Lock()
	a.obs = f
	a.mu.Unlock()
	return nil
}

// SetVar replaces the var frame wholesale, after checking its height
// against n_vars.
func (a *AnnData) SetVar(f *frame.Frame) error {
	if err := a.checkWritable(); err != nil {
		return err
	}
	if err := a.nVars.TrySet(f.Height()); err != nil {
		return fmt.Errorf("anndata: set_var: %w", err)
	}
	a.mu.Lock()
	a.varF = f
	a.mu.Unlock()
	return nil
}

// AddUns/FetchUns/UnsKeys/DelUns expose the unconstrained uns map.
func (a *AnnData) AddUns(ctx context.Context, key string, data array.Array) error {
	if err := a.checkWritable(); err != nil {
		return err
	}
	return a.uns.AddData(ctx, key, data)
}
func (a *AnnData) FetchUns(ctx context.Context, key string) (array.Array, error) {
	return a.uns.Fetch(ctx, key)
}
func (a *AnnData) UnsKeys() []string { return a.uns.Keys() }
func (a *AnnData) DelUns(ctx context.Context, key string) error {
	if err := a.checkWritable(); err != nil {
		return err
	}
	return a.uns.RemoveData(ctx, key)
}

// AddObsm/FetchObsm/ObsmKeys/DelObsm and their Obsp/Varm/Varp
// equivalents expose the four axis-aligned collections.
func (a *AnnData) AddObsm(ctx context.Context, key string, data array.Array) error {
	if err := a.checkWritable(); err != nil {
		return err
	}
	return a.obsm.AddData(ctx, key, data)
}
func (a *AnnData) FetchObsm(ctx context.Context, key string) (array.Array, error) {
	return a.obsm.Fetch(ctx, key)
}
func (a *AnnData) ObsmKeys() []string { return a.obsm.Keys() }
func (a *AnnData) DelObsm(ctx context.Context, key string) error {
	if err := a.checkWritable(); err != nil {
		return err
	}
	return a.obsm.RemoveData(ctx, key)
}

func (a *AnnData) AddObsp(ctx context.Context, key string, data array.Array) error {
	if err := a.checkWritable(); err != nil {
		return err
	}
	return a.obsp.AddData(ctx, key, data)
}
func (a *AnnData) FetchObsp(ctx context.Context, key string) (array.Array, error) {
	return a.obsp.Fetch(ctx, key)
}
func (a *AnnData) ObspKeys() []string { return a.obsp.Keys() }
func (a *AnnData) DelObsp(ctx context.Context, key string) error {
	if err := a.checkWritable(); err != nil {
		return err
	}
	return a.obsp.RemoveData(ctx, key)
}

func (a *AnnData) AddVarm(ctx context.Context, key string, data array.Array) error {
	if err := a.checkWritable(); err != nil {
		return err
	}
	return a.varm.AddData(ctx, key, data)
}
func (a *AnnData) FetchVarm(ctx context.Context, key string) (array.Array, error) {
	return a.varm.Fetch(ctx, key)
}
func (a *AnnData) VarmKeys() []string { return a.varm.Keys() }
func (a *AnnData) DelVarm(ctx context.Context, key string) error {
	if err := a.checkWritable(); err != nil {
		return err
	}
	return a.varm.RemoveData(ctx, key)
}

func (a *AnnData) AddVarp(ctx context.Context, key string, data array.Array) error {
	if err := a.checkWritable(); err != nil {
		return err
	}
	return a.varp.AddData(ctx, key, data)
}
func (a *AnnData) FetchVarp(ctx context.Context, key string) (array.Array, error) {
	return a.varp.Fetch(ctx, key)
}
func (a *AnnData) VarpKeys() []string { return a.varp.Keys() }
func (a *AnnData) DelVarp(ctx context.Context, key string) error {
	if err := a.checkWritable(); err != nil {
		return err
	}
	return a.varp.RemoveData(ctx, key)
}

// NObsCount and NVarsCount report the established dimension sizes.
func (a *AnnData) NObsCount() int  { return a.nObs.Get() }
func (a *AnnData) NVarsCount() int { return a.nVars.Get() }

// ObsNames and VarNames materialize the obs/var index labels.
func (a *AnnData) ObsNames() []string { return a.ReadObs().Idx.Values() }
func (a *AnnData) VarNames() []string { return a.ReadVar().Idx.Values() }

// ObsIx and VarIx resolve a label to its positional index.
func (a *AnnData) ObsIx(name string) (int, error) { return indexOf(a.ObsNames(), name) }
func (a *AnnData) VarIx(name string) (int, error) { return indexOf(a.VarNames(), name) }

func indexOf(names []string, name string) (int, error) {
	for i, n := range names {
		if n == name {
			return i, nil
		}
	}
	return 0, annerr.MissingKeyf("anndata: no such name %q", name)
}

// File returns the backing storage.File, e.g. for callers that need to
// Close it explicitly.
func (a *AnnData) File() storage.File { return a.file }

// Mode reports whether this object was opened for mutation.
func (a *AnnData) Mode() storage.OpenMode { return a.mode }

// Logger returns the installed logger (possibly nil), for callers that
// build further components borrowing this AnnData (e.g. annds.AnnDataSet).
func (a *AnnData) Logger() *logger.Logger { return a.log }

// XElem exposes the raw X handle, for stacked.New to borrow across an
// AnnDataSet's children. Returns ok=false when X is unset.
func (a *AnnData) XElem() (*elem.ArrayElem, bool) { return a.xHandle() }

// ObsmArrays, ObspArrays, VarmArrays, and VarpArrays expose the raw
// axis-aligned collections, for stacked.NewAxisArrays to borrow across an
// AnnDataSet's children.
func (a *AnnData) ObsmArrays() *axis.AxisArrays { return a.obsm }
func (a *AnnData) ObspArrays() *axis.AxisArrays { return a.obsp }
func (a *AnnData) VarmArrays() *axis.AxisArrays { return a.varm }
func (a *AnnData) VarpArrays() *axis.AxisArrays { return a.varp }
