/*-------------------------------------------------------------------------
 *
 * QPG - MCP Stdio Server
 *
 * Portions copyright (c) 2025, pgEdge, Inc.
 * This software is released under The PostgreSQL License
 *
 *-------------------------------------------------------------------------
 */

package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
)

const (
	ProtocolVersion = "2024-11-05"
	ServerName      = "qpg-mcp-server"
	ServerVersion   = "1.0.0"
)

// Scanner buffer size constants for JSON-RPC message processing
const (
	// ScannerInitialBufferSize is the initial buffer size (64KB)
	ScannerInitialBufferSize = 64 * 1024

	// ScannerMaxBufferSize caps a single message (1MB) so malformed input
	// cannot grow the buffer without bound
	ScannerMaxBufferSize = 1024 * 1024
)

// ToolProvider is an interface for listing and executing tools
type ToolProvider interface {
	List() []Tool
	Execute(ctx context.Context, name string, args map[string]interface{}) (ToolResponse, error)
}

// Server handles MCP protocol communication. The tool surface is the only
// capability: qpg exposes no resources or prompts, and never accepts SQL.
type Server struct {
	tools ToolProvider
}

// NewServer creates a new MCP server
func NewServer(tools ToolProvider) *Server {
	return &Server{tools: tools}
}

// Run starts the stdio server loop
func (s *Server) Run() error {
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, ScannerInitialBufferSize), ScannerMaxBufferSize)

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}

		var req JSONRPCRequest
		if err := json.Unmarshal([]byte(line), &req); err != nil {
			sendError(nil, -32700, "Parse error", err.Error())
			continue
		}

		response := s.handleRequest(context.Background(), req)
		if response != nil {
			send(*response)
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scanner error: %w", err)
	}

	return nil
}

// handleRequest dispatches one request. A nil return means notification,
// no response on the wire.
func (s *Server) handleRequest(ctx context.Context, req JSONRPCRequest) *JSONRPCResponse {
	switch req.Method {
	case "initialize":
		return s.handleInitialize(req)
	case "notifications/initialized":
		return nil
	case "ping":
		return &JSONRPCResponse{JSONRPC: "2.0", ID: req.ID, Result: json.RawMessage(`{}`)}
	case "tools/list":
		return &JSONRPCResponse{JSONRPC: "2.0", ID: req.ID,
			Result: ToolsListResult{Tools: s.tools.List()}}
	case "tools/call":
		return s.handleToolCall(ctx, req)
	default:
		if req.ID == nil {
			return nil
		}
		return errorResponse(req.ID, -32601, "Method not found", nil)
	}
}

func (s *Server) handleInitialize(req JSONRPCRequest) *JSONRPCResponse {
	paramsBytes, err := json.Marshal(req.Params)
	if err != nil {
		return errorResponse(req.ID, -32602, "Invalid params", err.Error())
	}
	var params InitializeParams
	if err := json.Unmarshal(paramsBytes, &params); err != nil {
		return errorResponse(req.ID, -32602, "Invalid params", err.Error())
	}

	// Accept the client's protocol version for compatibility
	protocolVersion := params.ProtocolVersion
	if protocolVersion == "" {
		protocolVersion = ProtocolVersion
	}

	result := InitializeResult{
		ProtocolVersion: protocolVersion,
		Capabilities: map[string]interface{}{
			"tools": map[string]interface{}{},
		},
		ServerInfo: Implementation{
			Name:    ServerName,
			Version: ServerVersion,
		},
	}

	return &JSONRPCResponse{JSONRPC: "2.0", ID: req.ID, Result: result}
}

func (s *Server) handleToolCall(ctx context.Context, req JSONRPCRequest) *JSONRPCResponse {
	paramsBytes, err := json.Marshal(req.Params)
	if err != nil {
		return errorResponse(req.ID, -32602, "Invalid params", err.Error())
	}
	var params ToolCallParams
	if err := json.Unmarshal(paramsBytes, &params); err != nil {
		return errorResponse(req.ID, -32602, "Invalid params", err.Error())
	}

	response, err := s.tools.Execute(ctx, params.Name, params.Arguments)
	if err != nil {
		return errorResponse(req.ID, -32603, "Tool execution error", err.Error())
	}

	return &JSONRPCResponse{JSONRPC: "2.0", ID: req.ID, Result: response}
}

func errorResponse(id interface{}, code int, message string, data interface{}) *JSONRPCResponse {
	errResp := RPCError{
		Code:    code,
		Message: message,
	}
	if data != nil {
		errResp.Data = data
	}
	return &JSONRPCResponse{JSONRPC: "2.0", ID: id, Error: &errResp}
}

func send(resp JSONRPCResponse) {
	data, err := json.Marshal(resp)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: Failed to marshal response: %v\n", err)
		return
	}
	fmt.Println(string(data))
	_ = os.Stdout.Sync()
}

func sendError(id interface{}, code int, message string, data interface{}) {
	send(*errorResponse(id, code, message, data))
}
