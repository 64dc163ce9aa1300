/*-------------------------------------------------------------------------
 *
 * QPG - Retrieval Commands
 *
 * Portions copyright (c) 2025, pgEdge, Inc.
 * This software is released under The PostgreSQL License
 *
 *-------------------------------------------------------------------------
 */

package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"qpg/internal/config"
	"qpg/internal/embedding"
	qerrors "qpg/internal/errors"
	"qpg/internal/index"
	"qpg/internal/query"
)

var (
	retrievalSource   string
	retrievalSchema   string
	retrievalKind     string
	retrievalLimit    int
	retrievalMinScore float64
	retrievalJSON     bool
	queryDeep         bool

	getSource string
	getJSON   bool

	schemaSource string
	schemaSchema string
	schemaKind   string
	schemaJSON   bool
)

func retrievalFilters() index.Filters {
	return index.Filters{
		Source: retrievalSource,
		Schema: retrievalSchema,
		Kind:   retrievalKind,
	}
}

// queryEmbedder loads the local model for query-time embedding. Unlike
// update, this is a hard requirement: vector retrieval cannot degrade.
func queryEmbedder() (embedding.Provider, error) {
	paths := config.GetPaths()
	if _, err := embedding.EnsureModel(paths.ModelsDir, false); err != nil {
		return nil, err
	}
	return embedding.NewLocalEmbedder(embedding.DefaultModelID), nil
}

func printResults(results []index.Result) {
	if len(results) == 0 {
		fmt.Println("No matches.")
		return
	}
	for i, r := range results {
		fmt.Printf("%2d. %-44s %-10s %.4f\n", i+1, r.FQName, r.Kind, r.Score)
		if r.ContextSnippet != "" {
			fmt.Printf("    %s\n", strings.ReplaceAll(r.ContextSnippet, "\n", " "))
		}
	}
}

var searchCmd = &cobra.Command{
	Use:   "search <text>",
	Short: "Lexical (BM25) search over indexed schema metadata",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		results, err := index.SearchLexical(store.DB(), args[0], retrievalFilters(), retrievalLimit)
		if err != nil {
			return err
		}
		results = filterByScore(results, retrievalMinScore)

		if retrievalJSON {
			return printJSON(results)
		}
		printResults(results)
		return nil
	},
}

var vsearchCmd = &cobra.Command{
	Use:   "vsearch <text>",
	Short: "Vector similarity search over indexed schema metadata",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if args[0] == "" {
			return qerrors.New(qerrors.KindConfigError, "query must not be empty")
		}
		provider, err := queryEmbedder()
		if err != nil {
			return err
		}
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		vector, err := provider.Embed(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		results, err := index.VectorSearch(store.DB(), vector, provider.ModelName(),
			retrievalFilters(), retrievalLimit)
		if err != nil {
			return err
		}
		results = filterByScore(results, retrievalMinScore)

		if retrievalJSON {
			return printJSON(results)
		}
		printResults(results)
		return nil
	},
}

var queryCmd = &cobra.Command{
	Use:   "query <text>",
	Short: "Hybrid search: lexical and vector retrieval fused with RRF",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		provider, err := queryEmbedder()
		if err != nil {
			return err
		}
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		planner := &query.Planner{Store: store, Provider: provider}
		results, err := planner.Search(cmd.Context(), args[0], query.Options{
			Limit:    retrievalLimit,
			Filters:  retrievalFilters(),
			MinScore: retrievalMinScore,
			Deep:     queryDeep,
		})
		if err != nil {
			if qerrors.KindOf(err) != qerrors.KindHookError {
				return err
			}
			fmt.Fprintf(os.Stderr, "WARNING: %v\n", err)
		}

		if retrievalJSON {
			return printJSON(results)
		}
		if len(results) == 0 {
			fmt.Println("No matches.")
			return nil
		}
		for i, r := range results {
			fmt.Printf("%2d. %-44s %-10s %.4f [%s]\n", i+1, r.FQName, r.Kind,
				r.RRFScore, strings.Join(r.Channels, ","))
			if r.ContextSnippet != "" {
				fmt.Printf("    %s\n", strings.ReplaceAll(r.ContextSnippet, "\n", " "))
			}
		}
		return nil
	},
}

var getCmd = &cobra.Command{
	Use:   "get <fqname-or-#id>",
	Short: "Show full detail for one indexed object",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		detail, err := store.GetObject(args[0], getSource)
		if err != nil {
			return err
		}
		if getJSON {
			return printJSON(detail)
		}

		fmt.Printf("%s (%s) #%s\n", detail.FQName, detail.Kind, detail.ObjectID)
		if detail.Comment != "" {
			fmt.Printf("  comment: %s\n", detail.Comment)
		}
		if detail.Context != "" {
			fmt.Printf("  context: %s\n", detail.Context)
		}
		for _, col := range detail.Columns {
			line := fmt.Sprintf("  column %d %s %s", col.Position, col.Name, col.DataType)
			if !col.Nullable {
				line += " not null"
			}
			if col.DefaultExpr != "" {
				line += " default=" + col.DefaultExpr
			}
			fmt.Println(line)
		}
		for _, con := range detail.Constraints {
			fmt.Printf("  constraint %s %s\n", con.Name, con.Definition)
		}
		for _, idx := range detail.Indexes {
			fmt.Printf("  index %s %s\n", idx.Name, idx.Definition)
		}
		for _, dep := range detail.DependsOn {
			fmt.Printf("  depends on %s (%s)\n", dep.FQName, dep.Type)
		}
		for _, dep := range detail.Dependents {
			fmt.Printf("  referenced by %s (%s)\n", dep.FQName, dep.Type)
		}
		return nil
	},
}

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "List indexed objects by source and schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		summaries, err := store.ListObjects(schemaSource, schemaSchema, schemaKind)
		if err != nil {
			return err
		}
		if schemaJSON {
			return printJSON(summaries)
		}
		if len(summaries) == 0 {
			fmt.Println("No indexed objects. Run `qpg update` first.")
			return nil
		}
		for _, sum := range summaries {
			fmt.Printf("%-44s %-10s %s\n", sum.FQName, sum.Kind, sum.Comment)
		}
		return nil
	},
}

func filterByScore(results []index.Result, min float64) []index.Result {
	if min <= 0 {
		return results
	}
	kept := results[:0]
	for _, r := range results {
		if r.Score >= min {
			kept = append(kept, r)
		}
	}
	return kept
}

func init() {
	for _, cmd := range []*cobra.Command{searchCmd, vsearchCmd, queryCmd} {
		cmd.Flags().StringVar(&retrievalSource, "source", "", "Restrict to one source")
		cmd.Flags().StringVar(&retrievalSchema, "schema", "", "Restrict to one schema")
		cmd.Flags().StringVar(&retrievalKind, "kind", "", "Restrict to one object kind")
		cmd.Flags().IntVarP(&retrievalLimit, "limit", "n", 10, "Maximum results")
		cmd.Flags().Float64Var(&retrievalMinScore, "min-score", 0, "Drop results below this score")
		cmd.Flags().BoolVar(&retrievalJSON, "json", false, "JSON output")
	}
	queryCmd.Flags().BoolVar(&queryDeep, "deep", false, "Run the rerank hook if configured")

	getCmd.Flags().StringVar(&getSource, "source", "", "Disambiguate by source")
	getCmd.Flags().BoolVar(&getJSON, "json", false, "JSON output")

	schemaCmd.Flags().StringVar(&schemaSource, "source", "", "Restrict to one source")
	schemaCmd.Flags().StringVar(&schemaSchema, "schema", "", "Restrict to one schema")
	schemaCmd.Flags().StringVar(&schemaKind, "kind", "", "Restrict to one object kind")
	schemaCmd.Flags().BoolVar(&schemaJSON, "json", false, "JSON output")

	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(vsearchCmd)
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(schemaCmd)
}
