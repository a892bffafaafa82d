package agent

import (
	"encoding/json"
	"fmt"

	"taskdeck/internal/store"
)

// Role tags who produced a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolFunction names the invoked tool and carries its arguments as the
// raw JSON string the model produced.
type ToolFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolCall is one tool invocation requested by the assistant.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function ToolFunction `json:"function"`
}

// ChatMessage is the single normalized message type used everywhere past
// the store boundary. Database rows and wire payloads are converted into
// it exactly once; nothing downstream branches on representation.
type ChatMessage struct {
	Role        Role                `json:"role"`
	Content     string              `json:"content"`
	ToolCalls   []ToolCall          `json:"tool_calls,omitempty"`
	ToolCallID  string              `json:"tool_call_id,omitempty"`
	TaskContext *TaskOrdinalContext `json:"task_context,omitempty"`
}

// Serialize renders the message in the stable form the token counter
// measures. The serialized text, not the bare content, is what occupies
// context window space once role tags and tool calls are included.
func (m ChatMessage) Serialize() string {
	data, err := json.Marshal(m)
	if err != nil {
		// Marshalling a ChatMessage cannot fail; fall back to content.
		return string(m.Role) + ": " + m.Content
	}
	return string(data)
}

// messageMetadata is the JSON shape stored in the messages.metadata
// column.
type messageMetadata struct {
	ToolCalls   []ToolCall          `json:"tool_calls,omitempty"`
	TaskContext *TaskOrdinalContext `json:"task_context,omitempty"`
}

// FromStored normalizes a database row into a ChatMessage. Unparseable
// metadata is dropped rather than failing the whole history load.
func FromStored(msg store.StoredMessage) ChatMessage {
	out := ChatMessage{Role: Role(msg.Role), Content: msg.Content}
	if len(msg.Metadata) == 0 {
		return out
	}
	var meta messageMetadata
	if err := json.Unmarshal(msg.Metadata, &meta); err != nil {
		return out
	}
	out.ToolCalls = meta.ToolCalls
	out.TaskContext = meta.TaskContext
	return out
}

// MetadataJSON renders the message's persisted metadata, or nil when the
// message carries none.
func (m ChatMessage) MetadataJSON() (json.RawMessage, error) {
	if len(m.ToolCalls) == 0 && m.TaskContext == nil {
		return nil, nil
	}
	data, err := json.Marshal(messageMetadata{ToolCalls: m.ToolCalls, TaskContext: m.TaskContext})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message metadata: %w", err)
	}
	return data, nil
}
