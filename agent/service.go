package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"taskdeck/internal/config"
	"taskdeck/types"
)

// maxToolRounds bounds the tool loop. A well-behaved turn needs one or
// two rounds; anything near the cap indicates the model is thrashing.
const maxToolRounds = 5

// Result is one completed agent turn.
type Result struct {
	ResponseText  string        `json:"response_text"`
	ExecutionTime time.Duration `json:"-"`
	TokensUsed    int           `json:"tokens_used"`
	ToolCalls     []ToolCall    `json:"tool_calls_made"`
	Model         string        `json:"model"`

	// TaskContext is the ordinal snapshot from the most recent
	// list_tasks result in this turn, nil when no listing happened.
	TaskContext *TaskOrdinalContext `json:"-"`
}

// LLMClient is the model boundary; *GeminiClient implements it.
type LLMClient interface {
	ChatCompletion(ctx context.Context, messages []ChatMessage, tools []Tool) (*ChatResponse, error)
	Model() string
}

// ToolTransport is the tool-execution boundary; *MCPClient implements it.
type ToolTransport interface {
	ListTools(ctx context.Context, userID string) ([]Tool, error)
	CallTool(ctx context.Context, userID, name string, arguments json.RawMessage) (string, error)
}

// Service runs agent turns: it assembles the context window, drives the
// model's tool loop against the MCP server, and reports usage.
type Service struct {
	cfg     config.AgentConfig
	llm     LLMClient
	tools   ToolTransport
	ctxmgr  *ContextManager
	counter Counter
	log     *logrus.Logger
}

// NewService wires an agent service.
func NewService(cfg config.AgentConfig, llm LLMClient, tools ToolTransport, ctxmgr *ContextManager, counter Counter, log *logrus.Logger) *Service {
	return &Service{cfg: cfg, llm: llm, tools: tools, ctxmgr: ctxmgr, counter: counter, log: log}
}

// ContextManager exposes the history loader for the HTTP layer.
func (s *Service) ContextManager() *ContextManager { return s.ctxmgr }

// Run executes one agent turn for userID: history is already filtered,
// the new userMessage is appended after truncation, and assistant tool
// calls are executed through the MCP server until the model produces a
// final text answer.
func (s *Service) Run(ctx context.Context, userID string, history []ChatMessage, userMessage string) (*Result, error) {
	start := time.Now()

	tools, err := s.tools.ListTools(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tools: %w", err)
	}

	window := []ChatMessage{{Role: RoleSystem, Content: s.cfg.SystemPrompt}}
	window = append(window, history...)
	window = s.ctxmgr.TruncateByTokens(window, s.cfg.TokenBudget)
	window = append(window, ChatMessage{Role: RoleUser, Content: userMessage})

	result := &Result{Model: s.llm.Model()}

	// Carry the previous turn's ordinal snapshot forward while it is
	// still fresh, so "the second one" keeps resolving across quick
	// follow-ups. A list_tasks call below replaces it.
	for i := len(history) - 1; i >= 0; i-- {
		if taskCtx := history[i].TaskContext; taskCtx != nil {
			if time.Since(taskCtx.Timestamp) <= s.cfg.TaskContextTTL {
				result.TaskContext = taskCtx
			}
			break
		}
	}

	for round := 0; round < maxToolRounds; round++ {
		resp, err := s.llm.ChatCompletion(ctx, window, tools)
		if err != nil {
			return nil, err
		}
		result.TokensUsed += resp.TokensUsed

		if len(resp.Message.ToolCalls) == 0 {
			result.ResponseText = resp.Message.Content
			result.ExecutionTime = time.Since(start)
			return result, nil
		}

		window = append(window, resp.Message)
		result.ToolCalls = append(result.ToolCalls, resp.Message.ToolCalls...)

		for _, call := range resp.Message.ToolCalls {
			args := json.RawMessage(call.Function.Arguments)
			if len(args) == 0 {
				args = json.RawMessage("{}")
			}

			output, err := s.tools.CallTool(ctx, userID, call.Function.Name, args)
			if err != nil {
				// The model gets to see the failure and recover; only
				// the transport log records it.
				s.log.WithError(err).WithField("tool", call.Function.Name).Warn("tool call failed")
				output = fmt.Sprintf(`{"error": %q}`, err.Error())
			}

			if call.Function.Name == "list_tasks" {
				if taskCtx := taskContextFromToolOutput(output); taskCtx != nil {
					result.TaskContext = taskCtx
				}
			}

			window = append(window, ChatMessage{
				Role:       RoleTool,
				Content:    output,
				ToolCallID: call.ID,
			})
		}
	}

	result.ExecutionTime = time.Since(start)
	return result, fmt.Errorf("model did not produce a final answer within %d tool rounds", maxToolRounds)
}

// taskContextFromToolOutput snapshots the ordinal positions from a
// list_tasks result so follow-up turns can resolve "the first one".
// Non-list output (for example an error payload) yields nil.
func taskContextFromToolOutput(output string) *TaskOrdinalContext {
	var tasks []types.Task
	if err := json.Unmarshal([]byte(output), &tasks); err != nil {
		return nil
	}
	if len(tasks) == 0 {
		return nil
	}
	return StoreTaskListContext(tasks)
}
