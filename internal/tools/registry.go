/*-------------------------------------------------------------------------
 *
 * QPG - MCP Tool Registry
 *
 * Portions copyright (c) 2025, pgEdge, Inc.
 * This software is released under The PostgreSQL License
 *
 *-------------------------------------------------------------------------
 */

package tools

import (
	"context"
	"encoding/json"
	"sort"

	"qpg/internal/catalog"
	qerrors "qpg/internal/errors"
	"qpg/internal/mcp"
	"qpg/internal/query"
)

// Handler is a function that executes a tool
type Handler func(ctx context.Context, args map[string]interface{}) (mcp.ToolResponse, error)

// Tool represents a registered MCP tool
type Tool struct {
	Definition mcp.Tool
	Handler    Handler
}

// Deps carries what the tool handlers need: the catalog and the search
// planner. No tool ever touches PostgreSQL; everything answers from the
// local index.
type Deps struct {
	Store   *catalog.Store
	Planner *query.Planner
}

// Registry manages available MCP tools
type Registry struct {
	deps  Deps
	tools map[string]Tool
}

// NewRegistry creates the registry with the full qpg tool surface.
func NewRegistry(deps Deps) *Registry {
	r := &Registry{
		deps:  deps,
		tools: make(map[string]Tool),
	}
	r.Register("qpg_search", searchTool(deps, false))
	r.Register("qpg_deep_search", searchTool(deps, true))
	r.Register("qpg_get", getTool(deps))
	r.Register("qpg_status", statusTool(deps))
	r.Register("qpg_list_sources", listSourcesTool(deps))
	return r
}

// Register adds a tool to the registry
func (r *Registry) Register(name string, tool Tool) {
	r.tools[name] = tool
}

// Get retrieves a tool by name
func (r *Registry) Get(name string) (Tool, bool) {
	tool, exists := r.tools[name]
	return tool, exists
}

// List returns all registered tool definitions, sorted by name.
func (r *Registry) List() []mcp.Tool {
	tools := make([]mcp.Tool, 0, len(r.tools))
	for _, tool := range r.tools {
		tools = append(tools, tool.Definition)
	}
	sort.Slice(tools, func(i, j int) bool { return tools[i].Name < tools[j].Name })
	return tools
}

// Execute runs a tool by name with the given arguments
func (r *Registry) Execute(ctx context.Context, name string, args map[string]interface{}) (mcp.ToolResponse, error) {
	tool, exists := r.Get(name)
	if !exists {
		return errorEnvelope(qerrors.Newf(qerrors.KindNotFound, "tool not found: %s", name)), nil
	}
	return tool.Handler(ctx, args)
}

// envelope is the uniform tool payload: ok plus either data or error.
type envelope struct {
	OK    bool           `json:"ok"`
	Data  interface{}    `json:"data,omitempty"`
	Error *envelopeError `json:"error,omitempty"`
}

type envelopeError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func successEnvelope(data interface{}) mcp.ToolResponse {
	return renderEnvelope(envelope{OK: true, Data: data}, false)
}

func errorEnvelope(err error) mcp.ToolResponse {
	return renderEnvelope(envelope{
		OK: false,
		Error: &envelopeError{
			Code:    string(qerrors.KindOf(err)),
			Message: err.Error(),
		},
	}, true)
}

func renderEnvelope(payload envelope, isError bool) mcp.ToolResponse {
	text, marshalErr := json.Marshal(payload)
	if marshalErr != nil {
		text = []byte(`{"ok":false,"error":{"code":"internal","message":"failed to encode response"}}`)
		isError = true
	}
	return mcp.ToolResponse{
		Content:           []mcp.ContentItem{{Type: "text", Text: string(text)}},
		StructuredContent: payload,
		IsError:           isError,
	}
}

func stringArg(args map[string]interface{}, key string) string {
	if value, ok := args[key].(string); ok {
		return value
	}
	return ""
}

func intArg(args map[string]interface{}, key string, fallback int) int {
	switch value := args[key].(type) {
	case float64:
		return int(value)
	case int:
		return value
	}
	return fallback
}

func floatArg(args map[string]interface{}, key string) float64 {
	if value, ok := args[key].(float64); ok {
		return value
	}
	return 0
}
