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

	"github.com/annstore/anndata/anndata"
	"github.com/annstore/anndata/storage"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <path>",
	Short: "Print the shape and axis keys of a single AnnData store",
	Args:  cobra.ExactArgs(1),
	RunE:  runInspect,
}

func runInspect(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	open, err := opener()
	if err != nil {
		return err
	}
	f, err := open(ctx, args[0], storage.ReadOnly)
	if err != nil {
		return fmt.Errorf("annctl: open %s: %w", args[0], err)
	}
	defer f.Close()

	a, err := anndata.Open(ctx, f)
	if err != nil {
		return fmt.Errorf("annctl: open annotation: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "path:  %s\n", f.Path())
	fmt.Fprintf(out, "shape: %d obs x %d var\n", a.NObsCount(), a.NVarsCount())
	fmt.Fprintf(out, "obs columns: %s\n", strings.Join(a.ReadObs().ColumnNames(), ", "))
	fmt.Fprintf(out, "var columns: %s\n", strings.Join(a.ReadVar().ColumnNames(), ", "))
	fmt.Fprintf(out, "obsm: %s\n", strings.Join(a.ObsmKeys(), ", "))
	fmt.Fprintf(out, "obsp: %s\n", strings.Join(a.ObspKeys(), ", "))
	fmt.Fprintf(out, "varm: %s\n", strings.Join(a.VarmKeys(), ", "))
	fmt.Fprintf(out, "varp: %s\n", strings.Join(a.VarpKeys(), ", "))
	fmt.Fprintf(out, "uns:  %s\n", strings.Join(a.UnsKeys(), ", "))
	return nil
}
