/*-------------------------------------------------------------------------
 *
 * QPG - Object Detail Tool
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
	"qpg/internal/mcp"
)

// getTool builds qpg_get, the hydration endpoint for one object.
func getTool(deps Deps) Tool {
	return Tool{
		Definition: mcp.Tool{
			Name: "qpg_get",
			Description: "Fetch full detail for one indexed object by fqname " +
				"(schema.object) or by #object_id as returned from search.",
			InputSchema: mcp.InputSchema{
				Type: "object",
				Properties: map[string]interface{}{
					"ref": map[string]interface{}{
						"type":        "string",
						"description": "Object reference: fqname or #object_id",
					},
					"source": map[string]interface{}{
						"type":        "string",
						"description": "Source name, required when the fqname exists in several sources",
					},
				},
				Required: []string{"ref"},
			},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (mcp.ToolResponse, error) {
			ref := stringArg(args, "ref")
			if ref == "" {
				return errorEnvelope(qerrors.New(qerrors.KindConfigError,
					"ref argument is required")), nil
			}
			detail, err := deps.Store.GetObject(ref, stringArg(args, "source"))
			if err != nil {
				return errorEnvelope(err), nil
			}
			return successEnvelope(detail), nil
		},
	}
}
