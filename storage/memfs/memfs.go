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

// Package memfs is an in-process reference implementation of the
// storage.File contract, backed by nested maps guarded by a single
// sync.RWMutex per File. It exists for unit tests and small
// in-memory-only workflows; it has no durability and is never the right
// choice for production data.
package memfs

import (
	"context"
	"fmt"
	"sync"

	"github.com/annstore/anndata/annerr"
	"github.com/annstore/anndata/storage"
)

type node struct {
	isDataset bool
	children  map[string]*node // groups only
	data      []byte           // datasets only
	shape     []int            // datasets only
	strAttrs  map[string]string
	numAttrs  map[string]float64
	arrAttrs  map[string][]string
}

func newGroupNode() *node {
	return &node{children: make(map[string]*node), strAttrs: map[string]string{}, numAttrs: map[string]float64{}, arrAttrs: map[string][]string{}}
}

func newDatasetNode(data []byte, shape []int) *node {
	return &node{isDataset: true, data: data, shape: shape, strAttrs: map[string]string{}, numAttrs: map[string]float64{}, arrAttrs: map[string][]string{}}
}

// File is an in-memory storage.File. The zero value is not usable; use
// New.
type File struct {
	mu   *sync.RWMutex
	root *node
	mode storage.OpenMode
	path string
}

// New creates an empty in-memory File rooted at an empty group. path is
// an arbitrary diagnostic label (memfs has no real filesystem location).
func New(path string, mode storage.OpenMode) *File {
	return &File{mu: &sync.RWMutex{}, root: newGroupNode(), mode: mode, path: path}
}

func (f *File) Root(ctx context.Context) (storage.Group, error) {
	return newGroup(f, f.root, "/"), nil
}

// WithMode returns a File sharing f's underlying in-memory tree but
// opened under a different OpenMode, letting tests exercise a
// read-only handle over state built through a read-write one without
// a real filesystem round trip.
func WithMode(f *File, mode storage.OpenMode) *File {
	return &File{mu: f.mu, root: f.root, mode: mode, path: f.path}
}

func (f *File) Mode() storage.OpenMode { return f.mode }

func (f *File) Path() string { return f.path }

func (f *File) Store(ctx context.Context) error { return nil }

func (f *File) Close() error { return nil }

type container struct {
	f    *File
	n    *node
	path string
}

func (c *container) Path() string { return c.path }

func (c *container) checkWritable() error {
	if c.f.mode != storage.ReadWrite {
		return annerr.ReadOnlyf("memfs: %s is read-only", c.path)
	}
	return nil
}

func (c *container) GetStrAttr(ctx context.Context, name string) (string, error) {
	c.f.mu.RLock()
	defer c.f.mu.RUnlock()
	v, ok := c.n.strAttrs[name]
	if !ok {
		return "", annerr.MissingKeyf("memfs: no string attr %q on %s", name, c.path)
	}
	return v, nil
}

func (c *container) SetStrAttr(ctx context.Context, name, value string) error {
	if err := c.checkWritable(); err != nil {
		return err
	}
	c.f.mu.Lock()
	defer c.f.mu.Unlock()
	c.n.strAttrs[name] = value
	return nil
}

func (c *container) GetScalarAttr(ctx context.Context, name string) (float64, error) {
	c.f.mu.RLock()
	defer c.f.mu.RUnlock()
	v, ok := c.n.numAttrs[name]
	if !ok {
		return 0, annerr.MissingKeyf("memfs: no scalar attr %q on %s", name, c.path)
	}
	return v, nil
}

func (c *container) SetScalarAttr(ctx context.Context, name string, value float64) error {
	if err := c.checkWritable(); err != nil {
		return err
	}
	c.f.mu.Lock()
	defer c.f.mu.Unlock()
	c.n.numAttrs[name] = value
	return nil
}

func (c *container) GetArrayAttr(ctx context.Context, name string) ([]string, error) {
	c.f.mu.RLock()
	defer c.f.mu.RUnlock()
	v, ok := c.n.arrAttrs[name]
	if !ok {
		return nil, annerr.MissingKeyf("memfs: no array attr %q on %s", name, c.path)
	}
	return append([]string(nil), v...), nil
}

func (c *container) SetArrayAttr(ctx context.Context, name string, value []string) error {
	if err := c.checkWritable(); err != nil {
		return err
	}
	c.f.mu.Lock()
	defer c.f.mu.Unlock()
	c.n.arrAttrs[name] = append([]string(nil), value...)
	return nil
}

func (c *container) ListAttrs(ctx context.Context) ([]string, error) {
	c.f.mu.RLock()
	defer c.f.mu.RUnlock()
	names := make([]string, 0, len(c.n.strAttrs)+len(c.n.numAttrs)+len(c.n.arrAttrs))
	for k := range c.n.strAttrs {
		names = append(names, k)
	}
	for k := range c.n.numAttrs {
		names = append(names, k)
	}
	for k := range c.n.arrAttrs {
		names = append(names, k)
	}
	return names, nil
}

type group struct {
	*container
}

func newGroup(f *File, n *node, path string) *group {
	return &group{container: &container{f: f, n: n, path: path}}
}

func (g *group) List(ctx context.Context) ([]string, error) {
	g.f.mu.RLock()
	defer g.f.mu.RUnlock()
	names := make([]string, 0, len(g.n.children))
	for k := range g.n.children {
		names = append(names, k)
	}
	return names, nil
}

func (g *group) Exists(ctx context.Context, name string) (bool, error) {
	g.f.mu.RLock()
	defer g.f.mu.RUnlock()
	_, ok := g.n.children[name]
	return ok, nil
}

func (g *group) childPath(name string) string {
	if g.path == "/" {
		return "/" + name
	}
	return g.path + "/" + name
}

func (g *group) OpenGroup(ctx context.Context, name string) (storage.Group, error) {
	g.f.mu.RLock()
	defer g.f.mu.RUnlock()
	child, ok := g.n.children[name]
	if !ok || child.isDataset {
		return nil, annerr.MissingKeyf("memfs: no group %q under %s", name, g.path)
	}
	return newGroup(g.f, child, g.childPath(name)), nil
}

func (g *group) NewGroup(ctx context.Context, name string) (storage.Group, error) {
	if err := g.checkWritable(); err != nil {
		return nil, err
	}
	g.f.mu.Lock()
	defer g.f.mu.Unlock()
	child := newGroupNode()
	g.n.children[name] = child
	return newGroup(g.f, child, g.childPath(name)), nil
}

func (g *group) OpenDataset(ctx context.Context, name string) (storage.Dataset, error) {
	g.f.mu.RLock()
	defer g.f.mu.RUnlock()
	child, ok := g.n.children[name]
	if !ok || !child.isDataset {
		return nil, annerr.MissingKeyf("memfs: no dataset %q under %s", name, g.path)
	}
	return &dataset{container: &container{f: g.f, n: child, path: g.childPath(name)}}, nil
}

func (g *group) NewDataset(ctx context.Context, name string, data []byte, shape []int, cfg storage.DatasetConfig) (storage.Dataset, error) {
	if err := g.checkWritable(); err != nil {
		return nil, err
	}
	g.f.mu.Lock()
	defer g.f.mu.Unlock()
	child := newDatasetNode(append([]byte(nil), data...), append([]int(nil), shape...))
	g.n.children[name] = child
	return &dataset{container: &container{f: g.f, n: child, path: g.childPath(name)}}, nil
}

func (g *group) Delete(ctx context.Context, name string) error {
	if err := g.checkWritable(); err != nil {
		return err
	}
	g.f.mu.Lock()
	defer g.f.mu.Unlock()
	if _, ok := g.n.children[name]; !ok {
		return annerr.MissingKeyf("memfs: no child %q under %s", name, g.path)
	}
	delete(g.n.children, name)
	return nil
}

type dataset struct {
	*container
}

func (d *dataset) Shape(ctx context.Context) ([]int, error) {
	d.f.mu.RLock()
	defer d.f.mu.RUnlock()
	return append([]int(nil), d.n.shape...), nil
}

func (d *dataset) ReadAll(ctx context.Context) ([]byte, error) {
	d.f.mu.RLock()
	defer d.f.mu.RUnlock()
	return append([]byte(nil), d.n.data...), nil
}

func (d *dataset) ReadRange(ctx context.Context, start, size int64) ([]byte, error) {
	d.f.mu.RLock()
	defer d.f.mu.RUnlock()
	if start < 0 || size < 0 || start+size > int64(len(d.n.data)) {
		return nil, fmt.Errorf("memfs: range [%d,%d) out of bounds for dataset %s of length %d", start, start+size, d.path, len(d.n.data))
	}
	return append([]byte(nil), d.n.data[start:start+size]...), nil
}

func (d *dataset) WriteAll(ctx context.Context, data []byte, shape []int) error {
	if err := d.checkWritable(); err != nil {
		return err
	}
	d.f.mu.Lock()
	defer d.f.mu.Unlock()
	d.n.data = append([]byte(nil), data...)
	d.n.shape = append([]int(nil), shape...)
	return nil
}
