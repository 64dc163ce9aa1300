/*-------------------------------------------------------------------------
 *
 * QPG - Maintenance Commands
 *
 * Portions copyright (c) 2025, pgEdge, Inc.
 * This software is released under The PostgreSQL License
 *
 *-------------------------------------------------------------------------
 */

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"qpg/internal/index"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show catalog health and per-source index state",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		report, err := store.Status()
		if err != nil {
			return err
		}
		if statusJSON {
			return printJSON(report)
		}

		fmt.Printf("Catalog: %s\n", report.CatalogPath)
		fmt.Printf("Sources: %d   Objects: %d   Vectors: %d   Contexts: %d\n",
			report.SourceCount, report.ObjectCount, report.VectorCount, report.ContextCount)
		for kind, n := range report.ByKind {
			fmt.Printf("  %-12s %d\n", kind, n)
		}
		for _, src := range report.Sources {
			line := fmt.Sprintf("%s (%s)", src.Name, src.DSN)
			if src.LastIndexedAt != "" {
				line += " indexed " + src.LastIndexedAt
			} else {
				line += " never indexed"
			}
			if src.LastError != "" {
				line += " ERROR: " + src.LastError
			}
			fmt.Println(line)
		}
		return nil
	},
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Expire cached LLM responses and compact the catalog",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.Cleanup(); err != nil {
			return err
		}
		fmt.Println("Catalog cleaned.")
		return nil
	},
}

var repairCmd = &cobra.Command{
	Use:   "repair",
	Short: "Verify catalog integrity and rebuild the full-text index",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.QuickCheck(); err != nil {
			return err
		}
		sources, err := store.ListSources()
		if err != nil {
			return err
		}
		for _, src := range sources {
			if err := index.RebuildFTS(store.DB(), src.Name); err != nil {
				return err
			}
			fmt.Printf("Rebuilt search rows for %s\n", src.Name)
		}
		fmt.Println("Catalog integrity verified.")
		return nil
	},
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "JSON output")
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(repairCmd)
}
