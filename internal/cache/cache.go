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

// Package cache deduplicates concurrent fills of the same key: the first
// caller for a key becomes the filler, every other concurrent caller for
// that key blocks until the fill finishes and then reuses its result.
// This is a correctness cache, not a probabilistic one — it never evicts
// and never serves a stale value behind a caller's back; callers that
// want eviction call Forget explicitly.
package cache

import "sync"

// Cache deduplicates concurrent GetOrFill calls for the same key.
type Cache[T any] struct {
	mu       sync.Mutex
	cond     sync.Cond
	inflight map[string]struct{}
	entries  map[string]T
}

// New returns an empty Cache.
func New[T any]() *Cache[T] {
	c := &Cache[T]{
		inflight: make(map[string]struct{}),
		entries:  make(map[string]T),
	}
	c.cond.L = &c.mu
	return c
}

// GetOrFill returns the cached value for key, calling fill exactly once
// per key even under concurrent callers. Concurrent callers for the same
// key block until the in-flight fill completes, then all see its result
// (including its error, which is not cached: a failed fill leaves the key
// open for the next caller to retry).
func (c *Cache[T]) GetOrFill(key string, fill func() (T, error)) (T, error) {
	c.mu.Lock()
	for {
		if v, ok := c.entries[key]; ok {
			c.mu.Unlock()
			return v, nil
		}
		if _, filling := c.inflight[key]; !filling {
			break
		}
		c.cond.Wait()
	}
	c.inflight[key] = struct{}{}
	c.mu.Unlock()

	v, err := fill()

	c.mu.Lock()
	delete(c.inflight, key)
	if err == nil {
		c.entries[key] = v
	}
	c.cond.Broadcast()
	c.mu.Unlock()
	return v, err
}

// Forget drops key's cached entry, if any, so the next GetOrFill call
// fills it again.
func (c *Cache[T]) Forget(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Len reports the number of live cached entries, for diagnostics/tests.
func (c *Cache[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
