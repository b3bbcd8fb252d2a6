// Copyright (C) 2024 The IVM Authors.
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

// Command dbspctl is the demo driver for the engine: it declares
// sources and views from a YAML config file (package config), then
// streams NDJSON row pushes from stdin into the named source each
// line targets, printing every view's resulting deltas to stdout as
// they're computed. It plays the role sneller's cmd/sdb and cmd/sneller
// play for sneller's engine -- a thin CLI wrapping the library.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:   "dbspctl",
		Short: "Run an incremental view-maintenance engine declared in a YAML config",
	}
	root.AddCommand(newRunCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
