/*-------------------------------------------------------------------------
 *
 * QPG - Context Commands
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
	"qpg/internal/contexts"
	"qpg/internal/embedding"
	qerrors "qpg/internal/errors"
	"qpg/internal/index"
	"qpg/internal/llm"
)

var (
	contextListSource string
	contextJSON       bool

	generateSource    string
	generateSchema    string
	generateLimit     int
	generateModel     string
	generateAPIKey    string
	generateBaseURL   string
	generateOverwrite bool
	generateDryRun    bool
)

var contextCmd = &cobra.Command{
	Use:   "context",
	Short: "Manage operator-authored context notes",
	Long: `Context notes attach business knowledge to indexed objects. Targets
use qpg:// URIs: qpg://<source>, qpg://<source>/<schema>,
qpg://<source>/<schema>.<object>, or qpg://<source>#<object_id>.
Notes inherit downwards: a schema note applies to every object in it.`,
}

// refreshProvider returns the embedder when the model is initialized, nil
// otherwise. Context edits should not fail just because vectors are off.
func refreshProvider() embedding.Provider {
	paths := config.GetPaths()
	if _, err := embedding.EnsureModel(paths.ModelsDir, false); err != nil {
		return nil
	}
	return embedding.NewLocalEmbedder(embedding.DefaultModelID)
}

func refreshAfterContextChange(cmd *cobra.Command, store *catalog.Store, targetURI string) error {
	scope, err := contexts.ParseTarget(targetURI)
	if err != nil {
		return err
	}
	return index.RefreshContexts(cmd.Context(), store, scope.Source, refreshProvider())
}

var contextAddCmd = &cobra.Command{
	Use:   "add <target> <body>",
	Short: "Attach a context note to a source, schema, or object",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		record, err := store.AddContext(args[0], args[1])
		if err != nil {
			return err
		}
		if err := refreshAfterContextChange(cmd, store, args[0]); err != nil {
			return err
		}

		if contextJSON {
			return printJSON(record)
		}
		fmt.Printf("Context %d added for %s\n", record.ID, record.TargetURI)
		return nil
	},
}

var contextListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored context notes",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		records, err := store.ListContexts(contextListSource)
		if err != nil {
			return err
		}

		if contextJSON {
			return printJSON(records)
		}
		if len(records) == 0 {
			fmt.Println("No context notes stored.")
			return nil
		}
		for _, record := range records {
			fmt.Printf("%4d  %-40s %s\n", record.ID, record.TargetURI, record.Body)
		}
		return nil
	},
}

var contextRmCmd = &cobra.Command{
	Use:   "rm <id-or-target>",
	Short: "Remove context notes by id or by exact target",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		// Resolve the affected source before the rows disappear.
		affected := map[string]bool{}
		records, err := store.ListContexts("")
		if err != nil {
			return err
		}
		for _, record := range records {
			if scope, err := contexts.ParseTarget(record.TargetURI); err == nil {
				affected[scope.Source] = true
			}
		}

		n, err := store.RemoveContext(args[0])
		if err != nil {
			return err
		}
		for source := range affected {
			if err := index.RefreshContexts(cmd.Context(), store, source, refreshProvider()); err != nil {
				return err
			}
		}
		fmt.Printf("Removed %d context note(s).\n", n)
		return nil
	},
}

var contextGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate context notes for tables using an LLM",
	Long: `Sends table structure (never data) to the configured LLM and stores
the returned one-paragraph description as a context note. Results are
cached; tables with existing context are skipped unless --overwrite.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if generateSource == "" {
			return qerrors.New(qerrors.KindConfigError, "--source is required")
		}

		settings, err := config.ResolveOpenAI(config.Overrides{
			APIKey:  generateAPIKey,
			BaseURL: generateBaseURL,
			Model:   generateModel,
		})
		if err != nil {
			return err
		}
		client := llm.NewClient(settings.APIKey, settings.BaseURL, settings.Model)

		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		candidates, err := llm.ListTableCandidates(store, generateSource, generateSchema,
			generateLimit, generateOverwrite)
		if err != nil {
			return err
		}
		if len(candidates) == 0 {
			fmt.Println("No tables need generated context.")
			return nil
		}

		type generated struct {
			FQName string `json:"fqname"`
			Body   string `json:"body,omitempty"`
			Status string `json:"status"`
		}
		var results []generated

		for _, candidate := range candidates {
			detail, err := store.GetObject("#"+candidate.ObjectID, generateSource)
			if err != nil {
				return err
			}
			if !llm.HasReasonableSignal(detail) {
				results = append(results, generated{FQName: detail.FQName, Status: "skipped: too little signal"})
				continue
			}

			body, cached, err := llm.GenerateTableContext(cmd.Context(), client, store, detail)
			if err != nil {
				return err
			}
			status := "generated"
			if cached {
				status = "cached"
			}
			if generateDryRun {
				results = append(results, generated{FQName: detail.FQName, Body: body, Status: status + " (dry-run)"})
				continue
			}

			target := fmt.Sprintf("qpg://%s/%s", generateSource, detail.FQName)
			if _, err := store.AddContext(target, body); err != nil {
				// An identical note already stored is fine.
				if qerrors.KindOf(err) != qerrors.KindConfigError {
					return err
				}
			}
			results = append(results, generated{FQName: detail.FQName, Body: body, Status: status})
		}

		if !generateDryRun {
			if err := index.RefreshContexts(cmd.Context(), store, generateSource, refreshProvider()); err != nil {
				return err
			}
		}

		if contextJSON {
			return printJSON(results)
		}
		for _, r := range results {
			fmt.Printf("%-40s %s\n", r.FQName, r.Status)
			if r.Body != "" && generateDryRun {
				fmt.Printf("    %s\n", r.Body)
			}
		}
		return nil
	},
}

func init() {
	contextListCmd.Flags().StringVar(&contextListSource, "source", "", "Only list notes for this source")
	contextCmd.PersistentFlags().BoolVar(&contextJSON, "json", false, "JSON output")

	contextGenerateCmd.Flags().StringVar(&generateSource, "source", "", "Source name")
	contextGenerateCmd.Flags().StringVar(&generateSchema, "schema", "", "Only this schema")
	contextGenerateCmd.Flags().IntVar(&generateLimit, "limit", 0, "Stop after this many tables")
	contextGenerateCmd.Flags().StringVar(&generateModel, "model", "", "LLM model override")
	contextGenerateCmd.Flags().StringVar(&generateAPIKey, "api-key", "", "LLM API key override")
	contextGenerateCmd.Flags().StringVar(&generateBaseURL, "base-url", "", "LLM base URL override")
	contextGenerateCmd.Flags().BoolVar(&generateOverwrite, "overwrite", false,
		"Also generate for tables that already have context")
	contextGenerateCmd.Flags().BoolVar(&generateDryRun, "dry-run", false,
		"Show what would be stored without writing")

	contextCmd.AddCommand(contextAddCmd)
	contextCmd.AddCommand(contextListCmd)
	contextCmd.AddCommand(contextRmCmd)
	contextCmd.AddCommand(contextGenerateCmd)
	rootCmd.AddCommand(contextCmd)
}
