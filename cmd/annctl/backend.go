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

package main

import (
	"context"
	"fmt"

	"github.com/annstore/anndata/config"
	"github.com/annstore/anndata/storage"
	"github.com/annstore/anndata/storage/local"
	"github.com/annstore/anndata/storage/s3"
)

// opener resolves cfgPath (empty means "local backend, no config file")
// into an annds.Opener-shaped function usable both to open the top-level
// path and, for AnnDataSet, every child partition.
func opener() (func(ctx context.Context, path string, mode storage.OpenMode) (storage.File, error), error) {
	if cfgPath == "" {
		return func(ctx context.Context, path string, mode storage.OpenMode) (storage.File, error) {
			return local.Open(ctx, path, mode)
		}, nil
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	switch cfg.Backend {
	case config.BackendLocal:
		return func(ctx context.Context, path string, mode storage.OpenMode) (storage.File, error) {
			return local.Open(ctx, path, mode)
		}, nil
	case config.BackendS3:
		return func(ctx context.Context, path string, mode storage.OpenMode) (storage.File, error) {
			return s3.Open(ctx, cfg.S3, path, mode)
		}, nil
	default:
		return nil, fmt.Errorf("annctl: unknown backend %q", cfg.Backend)
	}
}
