/*-------------------------------------------------------------------------
 *
 * QPG - Search Tools
 *
 * Portions copyright (c) 2025, pgEdge, Inc.
 * This software is released under The PostgreSQL License
 *
 *-------------------------------------------------------------------------
 */

package tools

import (
	"context"

	qerrors "qpg/internal/errors"
	"qpg/internal/index"
	"qpg/internal/mcp"
	"qpg/internal/query"
)

func searchInputSchema() mcp.InputSchema {
	return mcp.InputSchema{
		Type: "object",
		Properties: map[string]interface{}{
			"query": map[string]interface{}{
				"type":        "string",
				"description": "Natural-language or identifier search text",
			},
			"source": map[string]interface{}{
				"type":        "string",
				"description": "Restrict to one registered source",
			},
			"schema": map[string]interface{}{
				"type":        "string",
				"description": "Restrict to one schema",
			},
			"kind": map[string]interface{}{
				"type":        "string",
				"description": "Restrict to one object kind (table, view, function, column, ...)",
			},
			"limit": map[string]interface{}{
				"type":        "integer",
				"description": "Maximum number of results (default 10)",
			},
			"min_score": map[string]interface{}{
				"type":        "number",
				"description": "Drop fused results scoring below this value",
			},
		},
		Required: []string{"query"},
	}
}

type searchResponse struct {
	Query    string        `json:"query"`
	Results  []query.Fused `json:"results"`
	Degraded string        `json:"degraded,omitempty"`
}

// searchTool builds qpg_search and, with deep set, qpg_deep_search. Deep
// search runs the external rerank hook when one is configured.
func searchTool(deps Deps, deep bool) Tool {
	name := "qpg_search"
	description := "Hybrid keyword and semantic search over indexed database objects. " +
		"Returns ranked objects with ids usable with qpg_get. Accepts no SQL."
	if deep {
		name = "qpg_deep_search"
		description = "Hybrid search with an extra reranking pass for harder questions. " +
			"Falls back to the fused ranking if the reranker is unavailable."
	}

	return Tool{
		Definition: mcp.Tool{
			Name:        name,
			Description: description,
			InputSchema: searchInputSchema(),
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (mcp.ToolResponse, error) {
			queryText := stringArg(args, "query")
			if queryText == "" {
				return errorEnvelope(qerrors.New(qerrors.KindConfigError,
					"query argument is required")), nil
			}

			opts := query.Options{
				Limit:    intArg(args, "limit", 10),
				MinScore: floatArg(args, "min_score"),
				Deep:     deep,
				Filters: index.Filters{
					Source: stringArg(args, "source"),
					Schema: stringArg(args, "schema"),
					Kind:   stringArg(args, "kind"),
				},
			}

			results, err := deps.Planner.Search(ctx, queryText, opts)
			response := searchResponse{Query: queryText, Results: results}
			if err != nil {
				if qerrors.KindOf(err) != qerrors.KindHookError {
					return errorEnvelope(err), nil
				}
				// Hook failures degrade: fused results with a warning.
				response.Degraded = err.Error()
			}
			if response.Results == nil {
				response.Results = []query.Fused{}
			}
			return successEnvelope(response), nil
		},
	}
}
