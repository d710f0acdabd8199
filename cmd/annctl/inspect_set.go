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
	"strings"

	"github.com/spf13/cobra"

	"github.com/annstore/anndata/annds"
	"github.com/annstore/anndata/storage"
)

var overrideFlags []string

var inspectSetCmd = &cobra.Command{
	Use:   "inspect-set <path>",
	Short: "Print the shape, child table, and axis keys of a composite AnnDataSet store",
	Args:  cobra.ExactArgs(1),
	RunE:  runInspectSet,
}

func init() {
	inspectSetCmd.Flags().StringArrayVar(&overrideFlags, "override", nil,
		"override a child's stored path, as key=path; may be repeated")
}

func parseOverrides(flags []string) (map[string]string, error) {
	m := make(map[string]string, len(flags))
	for _, f := range flags {
		k, v, ok := strings.Cut(f, "=")
		if !ok {
			return nil, fmt.Errorf("annctl: --override must be key=path, got %q", f)
		}
		m[k] = v
	}
	return m, nil
}

func runInspectSet(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	open, err := opener()
	if err != nil {
		return err
	}
	overrides, err := parseOverrides(overrideFlags)
	if err != nil {
		return err
	}

	f, err := open(ctx, args[0], storage.ReadOnly)
	if err != nil {
		return fmt.Errorf("annctl: open %s: %w", args[0], err)
	}
	defer f.Close()

	ds, err := annds.Open(ctx, f, open, overrides)
	if err != nil {
		return fmt.Errorf("annctl: open dataset: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "path:  %s\n", f.Path())
	fmt.Fprintf(out, "shape: %d obs x %d var\n", ds.NObsCount(), ds.NVarsCount())
	fmt.Fprintf(out, "children: %s\n", strings.Join(ds.ChildKeys(), ", "))
	fmt.Fprintf(out, "obs columns: %s\n", strings.Join(ds.ReadObs().ColumnNames(), ", "))
	fmt.Fprintf(out, "var columns: %s\n", strings.Join(ds.ReadVar().ColumnNames(), ", "))
	fmt.Fprintf(out, "obsm: %s\n", strings.Join(ds.ObsmKeys(), ", "))
	fmt.Fprintf(out, "obsp: %s\n", strings.Join(ds.ObspKeys(), ", "))
	fmt.Fprintf(out, "varm: %s\n", strings.Join(ds.VarmKeys(), ", "))
	fmt.Fprintf(out, "varp: %s\n", strings.Join(ds.VarpKeys(), ", "))
	fmt.Fprintf(out, "uns:  %s\n", strings.Join(ds.UnsKeys(), ", "))
	return nil
}
