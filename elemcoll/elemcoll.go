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

// Package elemcoll implements ElemCollection: an unconstrained,
// name-addressed map of ArrayElem handles backed by a single group. This
// is the shape of AnnData's uns field, with no axis contract — any key
// can hold any array or scalar payload.
package elemcoll

import (
	"context"
	"sort"
	"sync"

	"github.com/annstore/anndata/annerr"
	"github.com/annstore/anndata/array"
	"github.com/annstore/anndata/elem"
	"github.com/annstore/anndata/storage"
)

// ElemCollection owns a set of ArrayElem handles, all children of one
// backing group.
type ElemCollection struct {
	mu       sync.Mutex
	group    storage.Group
	compress bool
	elems    map[string]*elem.ArrayElem
}

// New creates an empty collection writing new elements under group.
func New(group storage.Group, compress bool) *ElemCollection {
	return &ElemCollection{group: group, compress: compress, elems: make(map[string]*elem.ArrayElem)}
}

// Open reconstructs a collection from an existing group's children.
func Open(ctx context.Context, group storage.Group) (*ElemCollection, error) {
	names, err := group.List(ctx)
	if err != nil {
		return nil, annerr.BackendFailuref(err, "elemcoll: list children of %s", group.Path())
	}
	sort.Strings(names)
	c := New(group, false)
	for _, name := range names {
		e, err := elem.Open(ctx, group, name)
		if err != nil {
			return nil, err
		}
		c.elems[name] = e
	}
	return c, nil
}

// AddData writes data under key, replacing any existing payload in
// place via the element's Save (matching the documented replace
// semantics), or creating a fresh element if key is new.
func (c *ElemCollection) AddData(ctx context.Context, key string, data array.Array) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.elems[key]; ok {
		return e.Save(ctx, data)
	}
	e, err := elem.Create(ctx, c.group, key, data, c.compress)
	if err != nil {
		return err
	}
	c.elems[key] = e
	return nil
}

// RemoveData deletes the backing object for key and drops the handle.
func (c *ElemCollection) RemoveData(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.elems[key]
	if !ok {
		return annerr.MissingKeyf("elemcoll: no key %q", key)
	}
	if err := e.Clear(ctx); err != nil {
		return err
	}
	delete(c.elems, key)
	return nil
}

// Fetch reads back the array stored under key.
func (c *ElemCollection) Fetch(ctx context.Context, key string) (array.Array, error) {
	c.mu.Lock()
	e, ok := c.elems[key]
	c.mu.Unlock()
	if !ok {
		return nil, annerr.MissingKeyf("elemcoll: no key %q", key)
	}
	return e.Read(ctx)
}

// Keys returns the collection's keys in sorted order.
func (c *ElemCollection) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]string, 0, len(c.elems))
	for k := range c.elems {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Export recursively copies every element into a freshly created child
// group named name under dst.
func (c *ElemCollection) Export(ctx context.Context, dst storage.Group, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	g, err := dst.NewGroup(ctx, name)
	if err != nil {
		return annerr.BackendFailuref(err, "elemcoll: export: create group %q", name)
	}
	for key, e := range c.elems {
		a, err := e.Read(ctx)
		if err != nil {
			return err
		}
		if _, err := elem.Create(ctx, g, key, a, c.compress); err != nil {
			return err
		}
	}
	return nil
}
