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

// Package annerr defines the error taxonomy shared by every package in
// this module. Each kind is a plain sentinel error; call sites wrap it
// with context using fmt.Errorf("...: %w", sentinel) and callers use
// errors.Is against the sentinel, the same plain-errors idiom the rest
// of this module's ancestry uses rather than a custom error-struct
// hierarchy.
package annerr

import (
	"errors"
	"fmt"
)

// Sentinel errors, one per taxonomy kind from the design's error-handling
// section. Wrap, never replace: BackendFailure in particular must always
// carry the underlying backend error.
var (
	// ErrDimensionMismatch: a write would require changing an
	// already-set Dim, or stacked partitions disagree on a shared
	// dimension.
	ErrDimensionMismatch = errors.New("dimension mismatch")

	// ErrAxisViolation: data shape is incompatible with a collection's
	// axis kind.
	ErrAxisViolation = errors.New("axis violation")

	// ErrMissingKey: an expected attribute or map entry is absent.
	ErrMissingKey = errors.New("missing key")

	// ErrEncodingMismatch: a container's encoding-type does not match
	// the caller's expected reader, or stacked elements disagree on
	// encoding.
	ErrEncodingMismatch = errors.New("encoding mismatch")

	// ErrUnsupportedOnDataset: the operation mutates X, removes X, or
	// otherwise targets a virtualized field of an AnnDataSet.
	ErrUnsupportedOnDataset = errors.New("unsupported on dataset")

	// ErrBackendFailure: the storage backend itself returned an error.
	ErrBackendFailure = errors.New("backend failure")

	// ErrSelectionError: selection dimensionality is wrong for this
	// operation, or contains out-of-bounds indices.
	ErrSelectionError = errors.New("selection error")

	// ErrReadOnly: a mutating accessor was called on an object opened
	// read-only (supplemented feature, see SPEC_FULL.md §3).
	ErrReadOnly = errors.New("object is read-only")
)

// DimensionMismatchf wraps ErrDimensionMismatch with a formatted message.
func DimensionMismatchf(format string, args ...any) error {
	return wrap(ErrDimensionMismatch, format, args...)
}

// AxisViolationf wraps ErrAxisViolation with a formatted message.
func AxisViolationf(format string, args ...any) error {
	return wrap(ErrAxisViolation, format, args...)
}

// MissingKeyf wraps ErrMissingKey with a formatted message.
func MissingKeyf(format string, args ...any) error {
	return wrap(ErrMissingKey, format, args...)
}

// EncodingMismatchf wraps ErrEncodingMismatch with a formatted message.
func EncodingMismatchf(format string, args ...any) error {
	return wrap(ErrEncodingMismatch, format, args...)
}

// UnsupportedOnDatasetf wraps ErrUnsupportedOnDataset with a formatted message.
func UnsupportedOnDatasetf(format string, args ...any) error {
	return wrap(ErrUnsupportedOnDataset, format, args...)
}

// BackendFailuref wraps ErrBackendFailure together with the underlying
// cause err, preserving path context for diagnostics.
func BackendFailuref(err error, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	return fmt.Errorf("%s: %w: %w", msg, ErrBackendFailure, err)
}

// SelectionErrorf wraps ErrSelectionError with a formatted message.
func SelectionErrorf(format string, args ...any) error {
	return wrap(ErrSelectionError, format, args...)
}

// ReadOnlyf wraps ErrReadOnly with a formatted message.
func ReadOnlyf(format string, args ...any) error {
	return wrap(ErrReadOnly, format, args...)
}

func wrap(sentinel error, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	return fmt.Errorf("%s: %w", msg, sentinel)
}
