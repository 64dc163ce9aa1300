/*-------------------------------------------------------------------------
 *
 * QPG - Status Tools
 *
 * Portions copyright (c) 2025, pgEdge, Inc.
 * This software is released under The PostgreSQL License
 *
 *-------------------------------------------------------------------------
 */

package tools

import (
	"context"

	"qpg/internal/catalog"
	"qpg/internal/mcp"
	"qpg/internal/redact"
)

func statusTool(deps Deps) Tool {
	return Tool{
		Definition: mcp.Tool{
			Name: "qpg_status",
			Description: "Report catalog health: registered sources, object and " +
				"vector counts, and per-kind totals.",
			InputSchema: mcp.InputSchema{
				Type:       "object",
				Properties: map[string]interface{}{},
			},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (mcp.ToolResponse, error) {
			report, err := deps.Store.Status()
			if err != nil {
				return errorEnvelope(err), nil
			}
			return successEnvelope(report), nil
		},
	}
}

type listedSource struct {
	Name           string   `json:"name"`
	DSN            string   `json:"dsn"`
	IncludeSchemas []string `json:"include_schemas,omitempty"`
	SkipPatterns   []string `json:"skip_patterns,omitempty"`
	LastIndexedAt  string   `json:"last_indexed_at,omitempty"`
	LastError      string   `json:"last_error,omitempty"`
}

func listSourcesTool(deps Deps) Tool {
	return Tool{
		Definition: mcp.Tool{
			Name:        "qpg_list_sources",
			Description: "List registered database sources with redacted connection info.",
			InputSchema: mcp.InputSchema{
				Type:       "object",
				Properties: map[string]interface{}{},
			},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (mcp.ToolResponse, error) {
			sources, err := deps.Store.ListSources()
			if err != nil {
				return errorEnvelope(err), nil
			}
			listed := make([]listedSource, 0, len(sources))
			for _, src := range sources {
				listed = append(listed, redactSource(src))
			}
			return successEnvelope(map[string]interface{}{"sources": listed}), nil
		},
	}
}

func redactSource(src *catalog.Source) listedSource {
	return listedSource{
		Name:           src.Name,
		DSN:            redact.DSN(src.DSN),
		IncludeSchemas: src.IncludeSchemas,
		SkipPatterns:   src.SkipPatterns,
		LastIndexedAt:  src.LastIndexedAt,
		LastError:      src.LastError,
	}
}
