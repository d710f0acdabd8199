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

// Package config loads the backend configuration used by cmd/annctl: which
// storage backend to open a dataset path against, and the credentials an
// s3 backend needs.
package config

import (
	"fmt"
	"os"

	"sigs.k8s.io/yaml"

	"github.com/annstore/anndata/storage/s3"
)

// Backend names a storage.File implementation.
type Backend string

const (
	BackendLocal Backend = "local"
	BackendS3    Backend = "s3"
)

// Config is the top-level annctl configuration file shape.
type Config struct {
	Backend Backend   `json:"backend"`
	S3      s3.Config `json:"s3,omitempty"`
}

// Load reads and decodes a YAML config file at path. A missing Backend
// defaults to BackendLocal.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	if c.Backend == "" {
		c.Backend = BackendLocal
	}
	return &c, nil
}
