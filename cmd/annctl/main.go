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

// Command annctl is a read-only inspector for AnnData and AnnDataSet
// stores: it opens a path against a configured backend and prints its
// shape, axis keys, and (for a composite dataset) its child table.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var cfgPath string

var rootCmd = &cobra.Command{
	Use:   "annctl",
	Short: "Inspect AnnData and AnnDataSet stores",
	Long: `annctl opens an annotated-matrix store and reports its shape and
contents without mutating it.

Examples:
  annctl inspect ./sample.h5ad
  annctl inspect --config s3.yaml s3-prefix/sample.h5ad
  annctl inspect-set ./cohort.h5ads`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "path to a YAML backend config (default: local backend)")
	rootCmd.AddCommand(inspectCmd, inspectSetCmd)
}
