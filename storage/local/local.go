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

// Package local implements the storage.File contract over a real
// filesystem directory tree: groups are directories, datasets are plain
// files, and attributes live in a JSON sidecar next to whichever
// directory or file they describe. Locking is best-effort and
// single-process only (a per-File mutex); concurrent access from
// multiple processes to the same tree is not guarded against, matching
// the ambient durability guarantees of a plain directory tree.
package local

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/annstore/anndata/annerr"
	"github.com/annstore/anndata/internal/cache"
	"github.com/annstore/anndata/storage"
)

const sidecarSuffix = ".attrs.json"
const groupSidecarName = ".attrs.json"

// File is a directory-tree-backed storage.File.
type File struct {
	mu   *sync.RWMutex
	root string
	mode storage.OpenMode
	path string
	key  string
}

// openCache deduplicates concurrent Open calls for the same root
// directory: only one caller stats/creates the directory, the rest share
// its *File. This matters because sibling children of an AnnDataSet are
// commonly opened concurrently and frequently share a parent directory.
var openCache = cache.New[*File]()

// Open opens path as the root group of a local backend. In ReadWrite mode
// a missing directory is created; in ReadOnly mode a missing directory is
// an error. An existing path that is not a directory is an error; an
// existing directory is accepted whether or not it is empty.
func Open(ctx context.Context, path string, mode storage.OpenMode) (*File, error) {
	key := fmt.Sprintf("%s\x00%d", path, mode)
	return openCache.GetOrFill(key, func() (*File, error) {
		info, err := os.Stat(path)
		switch {
		case err == nil:
			if !info.IsDir() {
				return nil, fmt.Errorf("storage/local: %s is not a directory", path)
			}
		case os.IsNotExist(err):
			if mode != storage.ReadWrite {
				return nil, annerr.BackendFailuref(err, "storage/local: open %s", path)
			}
			if err := os.MkdirAll(path, 0o755); err != nil {
				return nil, annerr.BackendFailuref(err, "storage/local: create %s", path)
			}
		default:
			return nil, annerr.BackendFailuref(err, "storage/local: stat %s", path)
		}
		return &File{mu: &sync.RWMutex{}, root: path, mode: mode, path: path, key: key}, nil
	})
}

func (f *File) Root(ctx context.Context) (storage.Group, error) {
	return newGroup(f, f.root, "/"), nil
}

func (f *File) Mode() storage.OpenMode { return f.mode }

func (f *File) Path() string { return f.path }

func (f *File) Store(ctx context.Context) error { return nil }

func (f *File) Close() error {
	openCache.Forget(f.key)
	return nil
}

// attrsFile is the JSON sidecar shape.
type attrsFile struct {
	Shape    []int               `json:"shape,omitempty"`
	StrAttrs map[string]string   `json:"str_attrs,omitempty"`
	NumAttrs map[string]float64  `json:"num_attrs,omitempty"`
	ArrAttrs map[string][]string `json:"arr_attrs,omitempty"`
}

// container is embedded by both group and dataset; dir/name identify
// the JSON sidecar location (see sidecarPath).
type container struct {
	f    *File
	dir  string // group: its own directory; dataset: its parent directory
	name string // dataset: the entry name; group: "" (sidecar lives inside dir)
	path string
}

func (c *container) Path() string { return c.path }

func (c *container) checkWritable() error {
	if c.f.mode != storage.ReadWrite {
		return annerr.ReadOnlyf("storage/local: %s is read-only", c.path)
	}
	return nil
}

func (c *container) sidecarPath() string {
	if c.name == "" {
		return filepath.Join(c.dir, groupSidecarName)
	}
	return filepath.Join(c.dir, c.name+sidecarSuffix)
}

func (c *container) loadAttrs() (*attrsFile, error) {
	data, err := os.ReadFile(c.sidecarPath())
	if os.IsNotExist(err) {
		return &attrsFile{}, nil
	}
	if err != nil {
		return nil, annerr.BackendFailuref(err, "storage/local: read sidecar for %s", c.path)
	}
	var a attrsFile
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, annerr.BackendFailuref(err, "storage/local: decode sidecar for %s", c.path)
	}
	return &a, nil
}

func (c *container) saveAttrs(a *attrsFile) error {
	data, err := json.Marshal(a)
	if err != nil {
		return annerr.BackendFailuref(err, "storage/local: encode sidecar for %s", c.path)
	}
	if err := os.WriteFile(c.sidecarPath(), data, 0o644); err != nil {
		return annerr.BackendFailuref(err, "storage/local: write sidecar for %s", c.path)
	}
	return nil
}

func (c *container) GetStrAttr(ctx context.Context, name string) (string, error) {
	c.f.mu.RLock()
	defer c.f.mu.RUnlock()
	a, err := c.loadAttrs()
	if err != nil {
		return "", err
	}
	v, ok := a.StrAttrs[name]
	if !ok {
		return "", annerr.MissingKeyf("storage/local: no string attr %q on %s", name, c.path)
	}
	return v, nil
}

func (c *container) SetStrAttr(ctx context.Context, name, value string) error {
	if err := c.checkWritable(); err != nil {
		return err
	}
	c.f.mu.Lock()
	defer c.f.mu.Unlock()
	a, err := c.loadAttrs()
	if err != nil {
		return err
	}
	if a.StrAttrs == nil {
		a.StrAttrs = map[string]string{}
	}
	a.StrAttrs[name] = value
	return c.saveAttrs(a)
}

func (c *container) GetScalarAttr(ctx context.Context, name string) (float64, error) {
	c.f.mu.RLock()
	defer c.f.mu.RUnlock()
	a, err := c.loadAttrs()
	if err != nil {
		return 0, err
	}
	v, ok := a.NumAttrs[name]
	if !ok {
		return 0, annerr.MissingKeyf("storage/local: no scalar attr %q on %s", name, c.path)
	}
	return v, nil
}

func (c *container) SetScalarAttr(ctx context.Context, name string, value float64) error {
	if err := c.checkWritable(); err != nil {
		return err
	}
	c.f.mu.Lock()
	defer c.f.mu.Unlock()
	a, err := c.loadAttrs()
	if err != nil {
		return err
	}
	if a.NumAttrs == nil {
		a.NumAttrs = map[string]float64{}
	}
	a.NumAttrs[name] = value
	return c.saveAttrs(a)
}

func (c *container) GetArrayAttr(ctx context.Context, name string) ([]string, error) {
	c.f.mu.RLock()
	defer c.f.mu.RUnlock()
	a, err := c.loadAttrs()
	if err != nil {
		return nil, err
	}
	v, ok := a.ArrAttrs[name]
	if !ok {
		return nil, annerr.MissingKeyf("storage/local: no array attr %q on %s", name, c.path)
	}
	return append([]string(nil), v...), nil
}

func (c *container) SetArrayAttr(ctx context.Context, name string, value []string) error {
	if err := c.checkWritable(); err != nil {
		return err
	}
	c.f.mu.Lock()
	defer c.f.mu.Unlock()
	a, err := c.loadAttrs()
	if err != nil {
		return err
	}
	if a.ArrAttrs == nil {
		a.ArrAttrs = map[string][]string{}
	}
	a.ArrAttrs[name] = append([]string(nil), value...)
	return c.saveAttrs(a)
}

func (c *container) ListAttrs(ctx context.Context) ([]string, error) {
	c.f.mu.RLock()
	defer c.f.mu.RUnlock()
	a, err := c.loadAttrs()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(a.StrAttrs)+len(a.NumAttrs)+len(a.ArrAttrs))
	for k := range a.StrAttrs {
		names = append(names, k)
	}
	for k := range a.NumAttrs {
		names = append(names, k)
	}
	for k := range a.ArrAttrs {
		names = append(names, k)
	}
	return names, nil
}

type group struct {
	*container
}

func newGroup(f *File, dir, path string) *group {
	return &group{container: &container{f: f, dir: dir, name: "", path: path}}
}

func (g *group) childPath(name string) string {
	if g.path == "/" {
		return "/" + name
	}
	return g.path + "/" + name
}

func (g *group) List(ctx context.Context) ([]string, error) {
	g.f.mu.RLock()
	defer g.f.mu.RUnlock()
	entries, err := os.ReadDir(g.dir)
	if err != nil {
		return nil, annerr.BackendFailuref(err, "storage/local: list %s", g.path)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if name == groupSidecarName || strings.HasSuffix(name, sidecarSuffix) {
			continue
		}
		names = append(names, name)
	}
	return names, nil
}

func (g *group) Exists(ctx context.Context, name string) (bool, error) {
	g.f.mu.RLock()
	defer g.f.mu.RUnlock()
	_, err := os.Stat(filepath.Join(g.dir, name))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, annerr.BackendFailuref(err, "storage/local: stat %s", g.childPath(name))
	}
	return true, nil
}

func (g *group) OpenGroup(ctx context.Context, name string) (storage.Group, error) {
	g.f.mu.RLock()
	defer g.f.mu.RUnlock()
	childDir := filepath.Join(g.dir, name)
	info, err := os.Stat(childDir)
	if err != nil || !info.IsDir() {
		return nil, annerr.MissingKeyf("storage/local: no group %q under %s", name, g.path)
	}
	return newGroup(g.f, childDir, g.childPath(name)), nil
}

func (g *group) NewGroup(ctx context.Context, name string) (storage.Group, error) {
	if err := g.checkWritable(); err != nil {
		return nil, err
	}
	g.f.mu.Lock()
	defer g.f.mu.Unlock()
	childDir := filepath.Join(g.dir, name)
	if err := os.RemoveAll(childDir); err != nil {
		return nil, annerr.BackendFailuref(err, "storage/local: truncate group %s", g.childPath(name))
	}
	if err := os.MkdirAll(childDir, 0o755); err != nil {
		return nil, annerr.BackendFailuref(err, "storage/local: create group %s", g.childPath(name))
	}
	return newGroup(g.f, childDir, g.childPath(name)), nil
}

func (g *group) OpenDataset(ctx context.Context, name string) (storage.Dataset, error) {
	g.f.mu.RLock()
	defer g.f.mu.RUnlock()
	childPath := filepath.Join(g.dir, name)
	info, err := os.Stat(childPath)
	if err != nil || info.IsDir() {
		return nil, annerr.MissingKeyf("storage/local: no dataset %q under %s", name, g.path)
	}
	return &dataset{container: &container{f: g.f, dir: g.dir, name: name, path: g.childPath(name)}}, nil
}

func (g *group) NewDataset(ctx context.Context, name string, data []byte, shape []int, cfg storage.DatasetConfig) (storage.Dataset, error) {
	if err := g.checkWritable(); err != nil {
		return nil, err
	}
	g.f.mu.Lock()
	defer g.f.mu.Unlock()
	childPath := filepath.Join(g.dir, name)
	if err := os.WriteFile(childPath, data, 0o644); err != nil {
		return nil, annerr.BackendFailuref(err, "storage/local: write dataset %s", g.childPath(name))
	}
	d := &dataset{container: &container{f: g.f, dir: g.dir, name: name, path: g.childPath(name)}}
	if err := d.saveAttrs(&attrsFile{Shape: append([]int(nil), shape...)}); err != nil {
		return nil, err
	}
	return d, nil
}

func (g *group) Delete(ctx context.Context, name string) error {
	if err := g.checkWritable(); err != nil {
		return err
	}
	g.f.mu.Lock()
	defer g.f.mu.Unlock()
	childPath := filepath.Join(g.dir, name)
	if _, err := os.Stat(childPath); err != nil {
		return annerr.MissingKeyf("storage/local: no child %q under %s", name, g.path)
	}
	if err := os.RemoveAll(childPath); err != nil {
		return annerr.BackendFailuref(err, "storage/local: delete %s", g.childPath(name))
	}
	sidecar := filepath.Join(g.dir, name+sidecarSuffix)
	if err := os.Remove(sidecar); err != nil && !os.IsNotExist(err) {
		return annerr.BackendFailuref(err, "storage/local: delete sidecar for %s", g.childPath(name))
	}
	return nil
}

type dataset struct {
	*container
}

func (d *dataset) datasetPath() string { return filepath.Join(d.dir, d.name) }

func (d *dataset) Shape(ctx context.Context) ([]int, error) {
	d.f.mu.RLock()
	defer d.f.mu.RUnlock()
	a, err := d.loadAttrs()
	if err != nil {
		return nil, err
	}
	return append([]int(nil), a.Shape...), nil
}

func (d *dataset) ReadAll(ctx context.Context) ([]byte, error) {
	d.f.mu.RLock()
	defer d.f.mu.RUnlock()
	data, err := os.ReadFile(d.datasetPath())
	if err != nil {
		return nil, annerr.BackendFailuref(err, "storage/local: read %s", d.path)
	}
	return data, nil
}

func (d *dataset) ReadRange(ctx context.Context, start, size int64) ([]byte, error) {
	d.f.mu.RLock()
	defer d.f.mu.RUnlock()
	fh, err := os.Open(d.datasetPath())
	if err != nil {
		return nil, annerr.BackendFailuref(err, "storage/local: open %s", d.path)
	}
	defer fh.Close()
	buf := make([]byte, size)
	if _, err := fh.ReadAt(buf, start); err != nil {
		return nil, annerr.BackendFailuref(err, "storage/local: read range of %s", d.path)
	}
	return buf, nil
}

func (d *dataset) WriteAll(ctx context.Context, data []byte, shape []int) error {
	if err := d.checkWritable(); err != nil {
		return err
	}
	d.f.mu.Lock()
	defer d.f.mu.Unlock()
	if err := os.WriteFile(d.datasetPath(), data, 0o644); err != nil {
		return annerr.BackendFailuref(err, "storage/local: write %s", d.path)
	}
	a, err := d.loadAttrs()
	if err != nil {
		return err
	}
	a.Shape = append([]int(nil), shape...)
	return d.saveAttrs(a)
}
