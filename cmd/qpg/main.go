/*-------------------------------------------------------------------------
 *
 * QPG - Command Line Entry Point
 *
 * Portions copyright (c) 2025, pgEdge, Inc.
 * This software is released under The PostgreSQL License
 *
 *-------------------------------------------------------------------------
 */

package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"qpg/internal/catalog"
	"qpg/internal/config"
	qerrors "qpg/internal/errors"
)

var rootCmd = &cobra.Command{
	Use:   "qpg",
	Short: "Index PostgreSQL schema metadata and search it locally",
	Long: `qpg builds a local, read-only index of PostgreSQL schema metadata
(tables, views, functions, columns, constraints, comments) and answers
questions about it with hybrid keyword and semantic search, on the
command line or over MCP. It never executes user-supplied SQL and only
ever connects to PostgreSQL with an enforced read-only session.`,
	SilenceErrors: true,
	SilenceUsage:  true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(qerrors.ExitCode(err))
	}
}

// openStore opens the catalog under the XDG cache directory, creating
// directories as needed.
func openStore() (*catalog.Store, error) {
	paths, err := config.EnsureDirs(config.GetPaths())
	if err != nil {
		return nil, err
	}
	return catalog.Open(paths.IndexDB)
}

// printJSON writes an indented JSON payload to stdout.
func printJSON(payload interface{}) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(payload); err != nil {
		return qerrors.Wrap(qerrors.KindInternal, "failed to encode output", err)
	}
	return nil
}
