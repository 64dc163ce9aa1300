/*-------------------------------------------------------------------------
 *
 * QPG - MCP HTTP Server
 *
 * Portions copyright (c) 2025, pgEdge, Inc.
 * This software is released under The PostgreSQL License
 *
 *-------------------------------------------------------------------------
 */

package mcp

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"qpg/internal/logging"
)

// HTTPConfig holds configuration for HTTP server mode
type HTTPConfig struct {
	Addr string // Server address (e.g., "127.0.0.1:8080")
}

// Handler returns the HTTP handler serving the MCP endpoint and a health
// check. Exposed separately from RunHTTP for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/mcp/v1", s.handleHTTPRequest)
	mux.HandleFunc("/health", s.handleHealthCheck)
	return mux
}

// RunHTTP starts the MCP server in HTTP mode. The listener is plain HTTP
// intended for loopback use; anything outward-facing belongs behind a
// reverse proxy.
func (s *Server) RunHTTP(config *HTTPConfig) error {
	if config == nil {
		return fmt.Errorf("HTTP config is required")
	}

	httpServer := &http.Server{
		Addr:    config.Addr,
		Handler: s.Handler(),
	}

	logging.Info("mcp http server listening", "addr", config.Addr)
	return httpServer.ListenAndServe()
}

// handleHTTPRequest handles HTTP requests and translates them to JSON-RPC
func (s *Server) handleHTTPRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return
	}
	defer func() {
		if err := r.Body.Close(); err != nil {
			logging.Warn("failed to close request body", "error", err.Error())
		}
	}()

	var req JSONRPCRequest
	if err := json.Unmarshal(body, &req); err != nil {
		sendHTTPError(w, nil, -32700, "Parse error", err.Error())
		return
	}

	response := s.handleRequest(r.Context(), req)
	if response == nil {
		// Notification: acknowledge with an empty result.
		response = &JSONRPCResponse{JSONRPC: "2.0", ID: req.ID, Result: json.RawMessage(`{}`)}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: Failed to encode response: %v\n", err)
	}
}

// handleHealthCheck provides a simple health check endpoint
func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := fmt.Fprintf(w, `{"status":"ok","server":"%s","version":"%s"}`, ServerName, ServerVersion); err != nil {
		logging.Warn("failed to write health check response", "error", err.Error())
	}
}

func sendHTTPError(w http.ResponseWriter, id interface{}, code int, message string, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK) // JSON-RPC errors are still HTTP 200
	if err := json.NewEncoder(w).Encode(errorResponse(id, code, message, data)); err != nil {
		logging.Warn("failed to encode error response", "error", err.Error())
	}
}
