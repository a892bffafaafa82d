package agent

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"

	"taskdeck/internal/store"
)

// staleTaskPatterns match assistant messages that enumerate tasks or cite
// task IDs. By the next turn such statements may contradict the database,
// so matching messages are dropped from history entirely. Best-effort:
// both false positives and false negatives are accepted. Content is
// lowercased before matching.
var staleTaskPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\btask\s+\d+`),
	regexp.MustCompile(`\(id\s*\d+\)`),
	regexp.MustCompile(`\bid\s*[:=]?\s*\d+`),
	regexp.MustCompile(`found\s+\d+\s+task`),
	regexp.MustCompile(`have\s+\d+\s+task`),
	regexp.MustCompile(`i\s+see\s+\d+\s+task`),
	regexp.MustCompile(`there\s+(is|are)\s+\d+\s+task`),
	regexp.MustCompile(`description:\s*"`),
	regexp.MustCompile(`priority:\s*(high|medium|low|urgent)`),
}

// ContextManager prepares conversation history for the model: loads it,
// drops stale task talk, and fits it into the token budget.
type ContextManager struct {
	counter       Counter
	conversations *store.ConversationRepository
	log           *logrus.Logger
}

// NewContextManager builds a context manager around a sizing oracle and
// the conversation store.
func NewContextManager(counter Counter, conversations *store.ConversationRepository, log *logrus.Logger) *ContextManager {
	return &ContextManager{counter: counter, conversations: conversations, log: log}
}

func containsTaskReferences(content string) bool {
	lower := strings.ToLower(content)
	for _, pattern := range staleTaskPatterns {
		if pattern.MatchString(lower) {
			return true
		}
	}
	return false
}

// FilterStaleTaskReferences drops assistant messages that mention task
// IDs or counts. Dropping beats redaction: a partially redacted count
// still misleads the model. Non-assistant messages always pass through;
// order is preserved.
func (cm *ContextManager) FilterStaleTaskReferences(messages []ChatMessage, sanitize bool) []ChatMessage {
	if !sanitize {
		return messages
	}

	kept := make([]ChatMessage, 0, len(messages))
	removed := 0
	for _, msg := range messages {
		if msg.Role == RoleAssistant && containsTaskReferences(msg.Content) {
			removed++
			continue
		}
		kept = append(kept, msg)
	}
	if removed > 0 {
		cm.log.WithField("removed", removed).Debug("dropped assistant messages with stale task references")
	}
	return kept
}

// TruncateByTokens fits messages into maxTokens. System messages are
// never dropped; the rest are kept newest-first until the budget runs
// out. The result is system messages followed by the kept messages, each
// group in original relative order. That is not a strict chronological
// merge when system messages are interleaved mid-conversation.
func (cm *ContextManager) TruncateByTokens(messages []ChatMessage, maxTokens int) []ChatMessage {
	var system, other []ChatMessage
	for _, msg := range messages {
		if msg.Role == RoleSystem {
			system = append(system, msg)
		} else {
			other = append(other, msg)
		}
	}

	systemTokens := 0
	for _, msg := range system {
		systemTokens += cm.counter.Count(msg.Serialize())
	}

	available := maxTokens - systemTokens
	if available <= 0 {
		// Degraded mode: the system prompt alone blows the budget. Keep
		// it anyway and let the model call proceed.
		cm.log.WithFields(logrus.Fields{
			"system_tokens": systemTokens,
			"max_tokens":    maxTokens,
		}).Warn("system messages alone exceed token budget, dropping all other history")
		return system
	}

	// Accept newest-first; stop at the first message that does not fit.
	var kept []ChatMessage
	current := 0
	for i := len(other) - 1; i >= 0; i-- {
		tokens := cm.counter.Count(other[i].Serialize())
		if current+tokens > available {
			break
		}
		kept = append([]ChatMessage{other[i]}, kept...)
		current += tokens
	}

	return append(append([]ChatMessage{}, system...), kept...)
}

// LoadConversationHistory loads a conversation's messages for the agent.
// Ownership is checked first: a missing conversation and someone else's
// conversation surface as distinct errors (store.ErrNotFound vs
// store.ErrForbidden). Messages arrive chronological ascending and are
// normalized to ChatMessage before the stale-reference filter runs.
func (cm *ContextManager) LoadConversationHistory(ctx context.Context, conversationID int64, userID string, sanitize bool) ([]ChatMessage, error) {
	if _, err := cm.conversations.GetOwned(ctx, conversationID, userID); err != nil {
		return nil, err
	}

	rows, err := cm.conversations.ListMessages(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}

	messages := make([]ChatMessage, 0, len(rows))
	for _, row := range rows {
		messages = append(messages, FromStored(*row))
	}

	return cm.FilterStaleTaskReferences(messages, sanitize), nil
}
