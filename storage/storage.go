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

// Package storage declares the backend contract this module's in-memory
// orchestration layer is written against: a pluggable hierarchical store
// exposing groups, datasets, and attributes. Concrete backends
// (storage/memfs, storage/local, storage/s3) implement this contract;
// nothing above this package knows or cares which one is in use.
package storage

import "context"

// OpenMode selects whether a File was opened for mutation.
//
// This is a supplemented feature (SPEC_FULL.md §3): the distilled spec is
// silent on read-only handles, but the original implementation
// distinguishes them, and mutating accessors on a ReadOnly object must
// fail rather than silently succeed.
type OpenMode int

const (
	ReadOnly OpenMode = iota
	ReadWrite
)

// Attrs is the attribute triad every Container supports: string,
// scalar (float64), and array (string slice) valued attributes. Real
// backends persist these next to the group/dataset they describe;
// storage/memfs keeps them in the same in-memory node.
type Attrs interface {
	GetStrAttr(ctx context.Context, name string) (string, error)
	SetStrAttr(ctx context.Context, name, value string) error
	GetScalarAttr(ctx context.Context, name string) (float64, error)
	SetScalarAttr(ctx context.Context, name string, value float64) error
	GetArrayAttr(ctx context.Context, name string) ([]string, error)
	SetArrayAttr(ctx context.Context, name string, value []string) error
	// ListAttrs returns the names of all attributes on this container.
	ListAttrs(ctx context.Context) ([]string, error)
}

// Container is the common supertype of Group and Dataset: anything that
// carries attributes and lives at a path within a File.
type Container interface {
	Attrs
	// Path returns the container's path relative to its File's root.
	Path() string
}

// Group is a hierarchical namespace: it has named children, each of
// which is itself a Group or a Dataset.
type Group interface {
	Container

	// List returns the names of this group's immediate children.
	List(ctx context.Context) ([]string, error)
	// Exists reports whether a child with the given name exists.
	Exists(ctx context.Context, name string) (bool, error)
	// OpenGroup opens an existing child group.
	OpenGroup(ctx context.Context, name string) (Group, error)
	// NewGroup creates (or truncates) a child group.
	NewGroup(ctx context.Context, name string) (Group, error)
	// OpenDataset opens an existing child dataset.
	OpenDataset(ctx context.Context, name string) (Dataset, error)
	// NewDataset creates (or replaces) a child dataset with the given
	// raw bytes and shape. cfg carries backend-specific hints (e.g.
	// chunk alignment); backends that have no use for a field ignore
	// it.
	NewDataset(ctx context.Context, name string, data []byte, shape []int, cfg DatasetConfig) (Dataset, error)
	// Delete removes a child (group or dataset) by name.
	Delete(ctx context.Context, name string) error
}

// DatasetConfig carries backend hints for dataset creation. The zero
// value is always a legal, conservative choice.
type DatasetConfig struct {
	// Compress requests that the backend apply elem-level compression
	// to the payload before it is stored, when the backend/codec
	// supports it. Backends that don't are free to ignore this.
	Compress bool
}

// Dataset is a single array of raw bytes plus a logical shape, along
// with its own attributes.
type Dataset interface {
	Container
	// Shape returns the dataset's logical shape, e.g. [n_obs, width]
	// for a 2-D array, or [n] for a 1-D index.
	Shape(ctx context.Context) ([]int, error)
	// ReadAll returns the dataset's full raw contents.
	ReadAll(ctx context.Context) ([]byte, error)
	// ReadRange returns the raw contents restricted to the
	// half-open byte range [start, start+size).
	ReadRange(ctx context.Context, start, size int64) ([]byte, error)
	// WriteAll replaces the dataset's contents and shape.
	WriteAll(ctx context.Context, data []byte, shape []int) error
}

// File is the root handle for a backend instance: the entry point used
// to open or create the top-level group.
type File interface {
	// Root returns the top-level group.
	Root(ctx context.Context) (Group, error)
	// Mode reports whether this File was opened for mutation.
	Mode() OpenMode
	// Path returns a backend-specific location string (local path, S3
	// URI, ...), used for diagnostics and for resolving AnnDataSet
	// child paths relative to their parent.
	Path() string
	// Store flushes any buffered state to the backend.
	Store(ctx context.Context) error
	// Close releases any resources (open file descriptors, cached
	// clients) held by this File.
	Close() error
}

// EncodingAttrs are the two attributes every group/dataset in this
// module's object graph carries, per spec.md §6.
const (
	AttrEncodingType    = "encoding-type"
	AttrEncodingVersion = "encoding-version"
)

// Frame-specific and index-specific attribute names, also per spec.md §6.
const (
	AttrIndexName   = "_index"
	AttrColumnOrder = "column-order"
	AttrIndexType   = "index_type"
	AttrNames       = "names"
	AttrIntervals   = "intervals"
	AttrStart       = "start"
	AttrEnd         = "end"
)
