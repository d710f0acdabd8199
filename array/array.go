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

// Package array implements the tagged variant of array payloads an Elem
// can hold: dense numeric matrices (backed by gonum), sparse matrices
// (backed by james-bowman/sparse), categorical vectors, and scalars.
// Every concrete type implements Array; readers type-switch or use
// DType/EncodingType to decide how to interpret a freshly-read payload,
// exactly as spec.md's "Polymorphism over element payloads" design note
// describes.
package array

import (
	"github.com/annstore/anndata/annerr"
)

// DType enumerates the primitive element types this module knows how to
// store, independent of how the array itself is laid out (dense/sparse).
type DType int

const (
	Float32 DType = iota
	Float64
	Int32
	Int64
	Bool
	String
)

func (d DType) String() string {
	switch d {
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	case Int32:
		return "int32"
	case Int64:
		return "int64"
	case Bool:
		return "bool"
	case String:
		return "string"
	default:
		return "unknown"
	}
}

// EncodingType is the discriminator persisted as the "encoding-type"
// attribute on every array-bearing container (spec.md §6). Readers
// compare this against what they expect and fail with
// annerr.ErrEncodingMismatch on disagreement.
type EncodingType string

const (
	EncodingDense       EncodingType = "array"
	EncodingCSRMatrix   EncodingType = "csr_matrix"
	EncodingCSCMatrix   EncodingType = "csc_matrix"
	EncodingCategorical EncodingType = "categorical"
	EncodingScalar      EncodingType = "scalar"
	EncodingDataFrame   EncodingType = "dataframe"
)

// Array is the common interface of every payload an Elem can hold.
type Array interface {
	// Shape returns the logical shape: length 1 for vectors/indices,
	// length 2 for matrices. Pairwise and RowColumn arrays are always
	// 2-D; Row arrays may be 1-D or 2-D.
	Shape() []int
	// DType returns the primitive element type.
	DType() DType
	// Encoding returns the on-disk encoding-type discriminator.
	Encoding() EncodingType
}

// Chunk is one piece of a streamed array write, used by
// AddDataFromIter/SetXFromIter.
type Chunk struct {
	Data Array
}

// CheckEncoding returns annerr.ErrEncodingMismatch if got != want.
func CheckEncoding(want, got EncodingType) error {
	if want != got {
		return annerr.EncodingMismatchf("expected encoding %q, got %q", want, got)
	}
	return nil
}

// CheckShape2D validates that shape has exactly two dimensions and
// returns them, failing with annerr.ErrSelectionError otherwise.
func CheckShape2D(shape []int) (rows, cols int, err error) {
	if len(shape) != 2 {
		return 0, 0, annerr.SelectionErrorf("expected a 2-D shape, got %v", shape)
	}
	return shape[0], shape[1], nil
}
