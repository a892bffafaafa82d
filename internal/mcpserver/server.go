// Package mcpserver exposes the task tools to LLM agents over the MCP
// streamable-HTTP transport: JSON-RPC 2.0 on POST /mcp, authenticated
// with the shared service token plus the acting user's ID.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"taskdeck/internal/auth"
	"taskdeck/internal/config"
)

const protocolVersion = "2024-11-05"

// JSON-RPC 2.0 error codes.
const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
)

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type toolCallResult struct {
	Content []contentBlock `json:"content"`
	IsError bool           `json:"isError"`
}

// Server is the MCP HTTP server.
type Server struct {
	cfg   *config.Config
	auth  *auth.Service
	tools []toolDefinition
	log   *logrus.Logger

	router *mux.Router
	server *http.Server
}

// New wires the MCP server around a backend client.
func New(cfg *config.Config, authSvc *auth.Service, backend *BackendClient, log *logrus.Logger) *Server {
	s := &Server{
		cfg:    cfg,
		auth:   authSvc,
		tools:  toolset(backend),
		log:    log,
		router: mux.NewRouter(),
	}
	s.routes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.MCPPort),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	mcp := s.router.PathPrefix("/mcp").Subrouter()
	mcp.Use(s.auth.ServiceMiddleware)
	mcp.HandleFunc("", s.handleRPC).Methods("POST")
}

// Start blocks serving HTTP until the listener fails or Shutdown runs.
func (s *Server) Start() error {
	s.log.WithField("addr", s.server.Addr).Info("mcp server listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("mcp server failed: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":  "ok",
		"service": "taskdeck-mcp",
		"tools":   len(s.tools),
	})
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		// ServiceMiddleware guarantees this; belt and braces.
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeRPC(w, rpcResponse{
			JSONRPC: "2.0",
			Error:   &rpcError{Code: codeParseError, Message: "parse error"},
		})
		return
	}
	if req.JSONRPC != "2.0" {
		s.writeRPC(w, rpcResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error:   &rpcError{Code: codeInvalidRequest, Message: "jsonrpc must be \"2.0\""},
		})
		return
	}

	resp := rpcResponse{JSONRPC: "2.0", ID: req.ID}
	switch req.Method {
	case "initialize":
		resp.Result = map[string]interface{}{
			"protocolVersion": protocolVersion,
			"serverInfo": map[string]string{
				"name":    "taskdeck-mcp",
				"version": "1.0.0",
			},
			"capabilities": map[string]interface{}{
				"tools": map[string]interface{}{},
			},
		}
	case "notifications/initialized":
		w.WriteHeader(http.StatusAccepted)
		return
	case "tools/list":
		resp.Result = s.listToolsResult()
	case "tools/call":
		result, rpcErr := s.callTool(r.Context(), user.ID, req.Params)
		if rpcErr != nil {
			resp.Error = rpcErr
		} else {
			resp.Result = result
		}
	default:
		resp.Error = &rpcError{Code: codeMethodNotFound, Message: "method not found: " + req.Method}
	}
	s.writeRPC(w, resp)
}

func (s *Server) listToolsResult() map[string]interface{} {
	type toolInfo struct {
		Name        string          `json:"name"`
		Description string          `json:"description"`
		InputSchema json.RawMessage `json:"inputSchema"`
	}
	tools := make([]toolInfo, 0, len(s.tools))
	for _, t := range s.tools {
		tools = append(tools, toolInfo{Name: t.Name, Description: t.Description, InputSchema: t.InputSchema})
	}
	return map[string]interface{}{"tools": tools}
}

func (s *Server) callTool(ctx context.Context, userID string, params json.RawMessage) (*toolCallResult, *rpcError) {
	var call struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}
	if err := json.Unmarshal(params, &call); err != nil {
		return nil, &rpcError{Code: codeInvalidParams, Message: "invalid tools/call params"}
	}

	var tool *toolDefinition
	for i := range s.tools {
		if s.tools[i].Name == call.Name {
			tool = &s.tools[i]
			break
		}
	}
	if tool == nil {
		return nil, &rpcError{Code: codeInvalidParams, Message: "unknown tool: " + call.Name}
	}

	args := call.Arguments
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}

	s.log.WithFields(logrus.Fields{
		"tool":    call.Name,
		"user_id": userID,
	}).Info("executing tool")

	payload, isError := tool.Handler(ctx, userID, args)
	text, err := json.Marshal(payload)
	if err != nil {
		s.log.WithError(err).WithField("tool", call.Name).Error("failed to encode tool result")
		text = []byte(`{"error_type":"backend_error","message":"failed to encode tool result"}`)
		isError = true
	}

	return &toolCallResult{
		Content: []contentBlock{{Type: "text", Text: string(text)}},
		IsError: isError,
	}, nil
}

func (s *Server) writeRPC(w http.ResponseWriter, resp rpcResponse) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.log.WithError(err).Error("failed to write rpc response")
	}
}
