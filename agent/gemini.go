package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"taskdeck/internal/config"
	"taskdeck/internal/httpretry"
)

// Tool describes a callable tool offered to the model.
type Tool struct {
	Name        string
	Description string
	InputSchema json.RawMessage
}

// ChatResponse is one model turn: either final text or a set of tool
// calls to execute (occasionally both).
type ChatResponse struct {
	Message      ChatMessage
	FinishReason string
	TokensUsed   int
}

// GeminiClient speaks the OpenAI-compatible chat completions endpoint
// Gemini exposes under /v1beta/openai. Plain HTTP against the wire
// format; the payload is small enough that an SDK buys nothing.
type GeminiClient struct {
	baseURL     string
	apiKey      string
	model       string
	temperature float64
	attempts    int
	httpClient  *http.Client
	log         *logrus.Logger
}

// NewGeminiClient builds a client from the agent configuration.
func NewGeminiClient(cfg config.AgentConfig, log *logrus.Logger) *GeminiClient {
	return &GeminiClient{
		baseURL:     strings.TrimSuffix(cfg.GeminiBaseURL, "/"),
		apiKey:      cfg.GeminiAPIKey,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		attempts:    cfg.LLMRetryAttempts,
		httpClient:  &http.Client{Timeout: 120 * time.Second},
		log:         log,
	}
}

// Model returns the configured model name.
func (c *GeminiClient) Model() string { return c.model }

// --- wire types (OpenAI chat completions format) ---

type wireMessage struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

type wireTool struct {
	Type     string             `json:"type"`
	Function wireToolDefinition `json:"function"`
}

type wireToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []wireMessage `json:"messages"`
	Tools       []wireTool    `json:"tools,omitempty"`
	Temperature float64       `json:"temperature"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Role      string     `json:"role"`
			Content   string     `json:"content"`
			ToolCalls []ToolCall `json:"tool_calls"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// ChatCompletion sends the message list (plus tool schemas) and returns
// the model's turn. Timeouts and connection failures are retried with
// the standard 1s/2s backoff; HTTP error bodies are not.
func (c *GeminiClient) ChatCompletion(ctx context.Context, messages []ChatMessage, tools []Tool) (*ChatResponse, error) {
	payload := chatRequest{
		Model:       c.model,
		Temperature: c.temperature,
	}
	for _, msg := range messages {
		payload.Messages = append(payload.Messages, wireMessage{
			Role:       string(msg.Role),
			Content:    msg.Content,
			ToolCalls:  msg.ToolCalls,
			ToolCallID: msg.ToolCallID,
		})
	}
	for _, tool := range tools {
		payload.Tools = append(payload.Tools, wireTool{
			Type: "function",
			Function: wireToolDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.InputSchema,
			},
		})
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal chat request: %w", err)
	}

	url := c.baseURL + "/chat/completions"
	build := func() (*http.Request, error) {
		req, err := http.NewRequest("POST", url, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		return req, nil
	}

	resp, err := httpretry.Do(ctx, c.httpClient, build, c.attempts, c.log)
	if err != nil {
		return nil, fmt.Errorf("gemini request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read gemini response: %w", err)
	}

	var parsed chatCompletionResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode gemini response (status %d): %w", resp.StatusCode, err)
	}

	if resp.StatusCode != http.StatusOK {
		if parsed.Error != nil {
			return nil, fmt.Errorf("gemini API error (status %d): %s", resp.StatusCode, parsed.Error.Message)
		}
		return nil, fmt.Errorf("gemini API returned status %d", resp.StatusCode)
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("gemini response contained no choices")
	}

	choice := parsed.Choices[0]
	return &ChatResponse{
		Message: ChatMessage{
			Role:      RoleAssistant,
			Content:   choice.Message.Content,
			ToolCalls: choice.Message.ToolCalls,
		},
		FinishReason: choice.FinishReason,
		TokensUsed:   parsed.Usage.TotalTokens,
	}, nil
}
