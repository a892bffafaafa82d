package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"taskdeck/internal/config"
	"taskdeck/internal/httpretry"
)

// MCPClient talks JSON-RPC 2.0 over HTTP POST to the MCP server. Each
// request carries the shared service token plus the end user's ID; the
// MCP server enforces per-user task scoping from those.
type MCPClient struct {
	url          string
	serviceToken string
	attempts     int
	httpClient   *http.Client
	log          *logrus.Logger

	nextID atomic.Int64
}

// NewMCPClient builds a client for the configured MCP endpoint.
func NewMCPClient(cfg config.AgentConfig, serviceToken string, log *logrus.Logger) *MCPClient {
	return &MCPClient{
		url:          cfg.MCPServerURL,
		serviceToken: serviceToken,
		attempts:     cfg.MCPRetryAttempts,
		httpClient:   &http.Client{Timeout: cfg.MCPTimeout},
		log:          log,
	}
}

type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      int64       `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("mcp error %d: %s", e.Code, e.Message)
}

// call issues one JSON-RPC request on behalf of userID and decodes the
// result into out. Transport failures get the 1s/2s retry; JSON-RPC
// error objects do not, since they are answers from the server.
func (c *MCPClient) call(ctx context.Context, userID, method string, params interface{}, out interface{}) error {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal %s request: %w", method, err)
	}

	build := func() (*http.Request, error) {
		req, err := http.NewRequest("POST", c.url, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.serviceToken)
		req.Header.Set("X-User-ID", userID)
		return req, nil
	}

	resp, err := httpretry.Do(ctx, c.httpClient, build, c.attempts, c.log)
	if err != nil {
		return fmt.Errorf("mcp %s failed: %w", method, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read mcp response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("mcp server returned status %d", resp.StatusCode)
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(data, &rpcResp); err != nil {
		return fmt.Errorf("failed to decode mcp response: %w", err)
	}
	if rpcResp.Error != nil {
		return rpcResp.Error
	}
	if out != nil {
		if err := json.Unmarshal(rpcResp.Result, out); err != nil {
			return fmt.Errorf("failed to decode %s result: %w", method, err)
		}
	}
	return nil
}

// Initialize performs the MCP handshake.
func (c *MCPClient) Initialize(ctx context.Context, userID string) error {
	params := map[string]interface{}{
		"protocolVersion": "2024-11-05",
		"clientInfo": map[string]string{
			"name":    "taskdeck-agent",
			"version": "1.0.0",
		},
		"capabilities": map[string]interface{}{},
	}
	return c.call(ctx, userID, "initialize", params, nil)
}

type toolListResult struct {
	Tools []struct {
		Name        string          `json:"name"`
		Description string          `json:"description"`
		InputSchema json.RawMessage `json:"inputSchema"`
	} `json:"tools"`
}

// ListTools fetches the tool catalogue for the model.
func (c *MCPClient) ListTools(ctx context.Context, userID string) ([]Tool, error) {
	var result toolListResult
	if err := c.call(ctx, userID, "tools/list", map[string]interface{}{}, &result); err != nil {
		return nil, err
	}

	tools := make([]Tool, 0, len(result.Tools))
	for _, t := range result.Tools {
		tools = append(tools, Tool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema,
		})
	}
	return tools, nil
}

type toolCallResult struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	IsError bool `json:"isError"`
}

// CallTool executes a named tool and returns its text result. Tool-level
// failures arrive as normal results with isError set; the MCP server
// shapes them to be read by the model, so they are returned as text.
func (c *MCPClient) CallTool(ctx context.Context, userID, name string, arguments json.RawMessage) (string, error) {
	params := map[string]interface{}{
		"name":      name,
		"arguments": arguments,
	}

	var result toolCallResult
	if err := c.call(ctx, userID, "tools/call", params, &result); err != nil {
		return "", err
	}

	var text bytes.Buffer
	for _, block := range result.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	return text.String(), nil
}
