/*-------------------------------------------------------------------------
 *
 * QPG - Index Update Command
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

	"qpg/internal/catalog"
	"qpg/internal/config"
	"qpg/internal/embedding"
	"qpg/internal/guard"
	"qpg/internal/index"
	"qpg/internal/introspect"
	"qpg/internal/logging"
)

var (
	updateSource        string
	updateSkipFunctions bool
	updateJSON          bool
)

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Reindex one source, or all of them",
	Long: `Connects to each source with an enforced read-only session,
introspects its schema metadata, and atomically replaces the local
index for that source. A failing source leaves its previous index
intact and does not stop the others.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		paths, err := config.EnsureDirs(config.GetPaths())
		if err != nil {
			return err
		}
		if _, err := embedding.EnsureModel(paths.ModelsDir, false); err != nil {
			return err
		}
		provider := embedding.NewLocalEmbedder(embedding.DefaultModelID)

		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		var sources []*catalog.Source
		if updateSource != "" {
			src, err := store.GetSource(updateSource)
			if err != nil {
				return err
			}
			sources = []*catalog.Source{src}
		} else {
			if sources, err = store.ListSources(); err != nil {
				return err
			}
		}

		summary := map[string]*index.UpdateStats{}
		var firstErr error
		for _, src := range sources {
			stats, err := updateOne(cmd, store, src, provider)
			if err != nil {
				logging.Error("update failed", "source", src.Name, "error", err.Error())
				_ = store.MarkError(src.ID, err.Error())
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			summary[src.Name] = stats
		}

		if updateJSON {
			if err := printJSON(summary); err != nil {
				return err
			}
		} else {
			for _, src := range sources {
				stats, ok := summary[src.Name]
				if !ok {
					continue
				}
				fmt.Printf("%s: %d objects, %d vectors", src.Name, stats.Objects, stats.Vectors)
				if stats.Warnings > 0 {
					fmt.Printf(" (%d warnings)", stats.Warnings)
				}
				fmt.Println()
			}
		}
		return firstErr
	},
}

func updateOne(cmd *cobra.Command, store *catalog.Store, src *catalog.Source,
	provider embedding.Provider) (*index.UpdateStats, error) {

	conn, err := guard.Connect(cmd.Context(), src.DSN)
	if err != nil {
		return nil, err
	}
	defer conn.Close(cmd.Context())

	bundle, err := introspect.Introspect(cmd.Context(), conn, introspect.Options{
		IncludeFunctions: !updateSkipFunctions,
	})
	if err != nil {
		return nil, err
	}
	bundle = introspect.ApplyFilters(bundle, src.IncludeSchemas, src.SkipPatterns)

	return index.BuildSource(cmd.Context(), store, src, bundle, provider)
}

func init() {
	updateCmd.Flags().StringVar(&updateSource, "source", "", "Only update this source")
	updateCmd.Flags().BoolVar(&updateSkipFunctions, "skip-functions", false,
		"Do not index functions and procedures")
	updateCmd.Flags().BoolVar(&updateJSON, "json", false, "JSON output")
	rootCmd.AddCommand(updateCmd)
}
