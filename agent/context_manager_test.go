package agent

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskdeck/internal/store"
)

// wordCounter is a deterministic sizing oracle for tests: one token per
// whitespace-separated word of the serialized message.
type wordCounter struct{}

func (wordCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	return len(strings.Fields(text))
}

func newTestContextManager(t *testing.T) (*ContextManager, *store.Store) {
	t.Helper()
	s, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	log := logrus.New()
	log.SetOutput(io.Discard)
	return NewContextManager(wordCounter{}, s.Conversations(), log), s
}

func TestFilterStaleTaskReferences(t *testing.T) {
	cm, _ := newTestContextManager(t)

	messages := []ChatMessage{
		{Role: RoleSystem, Content: "be helpful"},
		{Role: RoleUser, Content: "show tasks"},
		{Role: RoleAssistant, Content: "found 2 tasks: (ID 1) (ID 2)"},
		{Role: RoleUser, Content: "mark first done"},
	}

	filtered := cm.FilterStaleTaskReferences(messages, true)
	require.Len(t, filtered, 3)
	for _, msg := range filtered {
		assert.NotEqual(t, RoleAssistant, msg.Role)
	}

	// With sanitize off everything is retained.
	assert.Len(t, cm.FilterStaleTaskReferences(messages, false), 4)
}

func TestFilterMatchesPatternVariants(t *testing.T) {
	cm, _ := newTestContextManager(t)

	stale := []string{
		"Task 22 is due tomorrow",
		"here it is (ID 7)",
		"the id: 42 one",
		"you have 3 tasks pending",
		"I see 2 tasks on your list",
		"there are 5 tasks left",
		`description: "water the plants"`,
		"priority: high",
	}
	for _, content := range stale {
		out := cm.FilterStaleTaskReferences([]ChatMessage{{Role: RoleAssistant, Content: content}}, true)
		assert.Empty(t, out, content)
	}

	// User messages with the same content always pass through.
	out := cm.FilterStaleTaskReferences([]ChatMessage{{Role: RoleUser, Content: "delete task 22"}}, true)
	assert.Len(t, out, 1)

	// Assistant small talk survives.
	out = cm.FilterStaleTaskReferences([]ChatMessage{{Role: RoleAssistant, Content: "happy to help!"}}, true)
	assert.Len(t, out, 1)
}

func TestTruncateKeepsSystemFirst(t *testing.T) {
	cm, _ := newTestContextManager(t)

	messages := []ChatMessage{
		{Role: RoleUser, Content: "one two three four five"},
		{Role: RoleSystem, Content: "be helpful"},
		{Role: RoleUser, Content: "newest message here"},
	}

	out := cm.TruncateByTokens(messages, 1000)
	require.Len(t, out, 3)
	// System messages lead the output even when they appeared
	// mid-transcript.
	assert.Equal(t, RoleSystem, out[0].Role)
	assert.Equal(t, "one two three four five", out[1].Content)
	assert.Equal(t, "newest message here", out[2].Content)
}

func TestTruncateIdentityWhenBudgetFitsAll(t *testing.T) {
	cm, _ := newTestContextManager(t)

	messages := []ChatMessage{
		{Role: RoleSystem, Content: "sys"},
		{Role: RoleUser, Content: "a"},
		{Role: RoleAssistant, Content: "b"},
	}
	out := cm.TruncateByTokens(messages, 100000)
	assert.Equal(t, messages, out)
}

func TestTruncateDropsOldestFirst(t *testing.T) {
	cm, _ := newTestContextManager(t)

	big := strings.Repeat("word ", 200)
	messages := []ChatMessage{
		{Role: RoleSystem, Content: "sys"},
		{Role: RoleUser, Content: big},
		{Role: RoleUser, Content: "recent one"},
	}

	// Budget covers system + recent but not the old padded message.
	out := cm.TruncateByTokens(messages, 60)
	require.Len(t, out, 2)
	assert.Equal(t, RoleSystem, out[0].Role)
	assert.Equal(t, "recent one", out[1].Content)
}

func TestTruncateMonotoneInBudget(t *testing.T) {
	cm, _ := newTestContextManager(t)

	messages := []ChatMessage{
		{Role: RoleSystem, Content: "sys"},
		{Role: RoleUser, Content: strings.Repeat("a ", 30)},
		{Role: RoleAssistant, Content: strings.Repeat("b ", 30)},
		{Role: RoleUser, Content: "tail"},
	}

	prev := 0
	for budget := 10; budget <= 200; budget += 10 {
		out := cm.TruncateByTokens(messages, budget)
		assert.GreaterOrEqual(t, len(out), prev, "budget %d", budget)
		prev = len(out)
	}
}

func TestTruncateSystemOnlyDegradedMode(t *testing.T) {
	cm, _ := newTestContextManager(t)

	messages := []ChatMessage{
		{Role: RoleSystem, Content: strings.Repeat("rule ", 100)},
		{Role: RoleUser, Content: "hi"},
	}

	// System alone exceeds the budget: keep it anyway, drop the rest.
	out := cm.TruncateByTokens(messages, 10)
	require.Len(t, out, 1)
	assert.Equal(t, RoleSystem, out[0].Role)
}

func TestLoadConversationHistory(t *testing.T) {
	cm, s := newTestContextManager(t)
	ctx := context.Background()

	conv, err := s.Conversations().Create(ctx, "owner", "chat")
	require.NoError(t, err)
	_, err = s.Conversations().AppendMessage(ctx, conv.ID, "user", "show my tasks", nil)
	require.NoError(t, err)
	_, err = s.Conversations().AppendMessage(ctx, conv.ID, "assistant", "found 2 tasks: (ID 1) (ID 2)", nil)
	require.NoError(t, err)
	_, err = s.Conversations().AppendMessage(ctx, conv.ID, "assistant", "anything else?", nil)
	require.NoError(t, err)

	history, err := cm.LoadConversationHistory(ctx, conv.ID, "owner", true)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "show my tasks", history[0].Content)
	assert.Equal(t, "anything else?", history[1].Content)

	// Ownership errors stay distinct.
	_, err = cm.LoadConversationHistory(ctx, conv.ID, "intruder", true)
	assert.ErrorIs(t, err, store.ErrForbidden)
	_, err = cm.LoadConversationHistory(ctx, 9999, "owner", true)
	assert.ErrorIs(t, err, store.ErrNotFound)
}
