package agentserver

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskdeck/agent"
	"taskdeck/internal/auth"
	"taskdeck/internal/config"
	"taskdeck/internal/events"
	"taskdeck/internal/store"
)

const sessionsTestSchema = `
CREATE TABLE user_sessions (
    id TEXT PRIMARY KEY,
    "userId" TEXT NOT NULL,
    token TEXT NOT NULL UNIQUE,
    "expiresAt" TEXT NOT NULL
);
`

// echoLLM answers every turn with a fixed string and never calls tools.
type echoLLM struct{ reply string }

func (e *echoLLM) ChatCompletion(context.Context, []agent.ChatMessage, []agent.Tool) (*agent.ChatResponse, error) {
	return &agent.ChatResponse{
		Message:    agent.ChatMessage{Role: agent.RoleAssistant, Content: e.reply},
		TokensUsed: 9,
	}, nil
}

func (e *echoLLM) Model() string { return "gemini-2.5-flash" }

type noTools struct{}

func (noTools) ListTools(context.Context, string) ([]agent.Tool, error) { return nil, nil }
func (noTools) CallTool(context.Context, string, string, json.RawMessage) (string, error) {
	return "", nil
}

type wordCounter struct{}

func (wordCounter) Count(text string) int { return len(strings.Fields(text)) }

type testEnv struct {
	server *Server
	store  *store.Store
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	_, err = st.DB().Exec(sessionsTestSchema)
	require.NoError(t, err)
	_, err = st.DB().Exec(
		`INSERT INTO user_sessions (id, "userId", token, "expiresAt") VALUES (?, ?, ?, ?)`,
		"sess-alice", "alice", "alice-token", time.Now().Add(time.Hour).UTC().Format(time.RFC3339))
	require.NoError(t, err)

	log := logrus.New()
	log.SetOutput(io.Discard)

	cfg := config.Load()
	cfg.ServiceAuthToken = "service-secret"

	authSvc := auth.NewService(st.Sessions(), cfg.ServiceAuthToken, "jwt-secret", log)
	producer := events.NewProducer(config.EventsConfig{Enable: false}, "agent", log)

	cm := agent.NewContextManager(wordCounter{}, st.Conversations(), log)
	svc := agent.NewService(cfg.Agent, &echoLLM{reply: "hello from the model"}, noTools{}, cm, wordCounter{}, log)

	return &testEnv{
		server: New(cfg, st, authSvc, svc, producer, log),
		store:  st,
	}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func TestChatCreatesConversationAndPersistsTurn(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, "POST", "/api/v1/chat", "alice-token", map[string]string{"message": "hi there"})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp chatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "hello from the model", resp.ResponseText)
	assert.Equal(t, 9, resp.TokensUsed)
	assert.Equal(t, "gemini-2.5-flash", resp.Model)
	assert.NotEmpty(t, resp.RequestID)
	assert.NotZero(t, resp.ConversationID)
	assert.NotNil(t, resp.ToolCallsMade)

	// Both sides of the turn were persisted in order.
	messages, err := env.store.Conversations().ListMessages(context.Background(), resp.ConversationID)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "user", messages[0].Role)
	assert.Equal(t, "hi there", messages[0].Content)
	assert.Equal(t, "assistant", messages[1].Role)
	assert.Equal(t, "hello from the model", messages[1].Content)
}

func TestChatContinuesConversation(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, "POST", "/api/v1/chat", "alice-token", map[string]string{"message": "first turn"})
	require.Equal(t, http.StatusOK, rec.Code)
	var first chatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &first))

	rec = env.do(t, "POST", "/api/v1/chat", "alice-token", map[string]interface{}{
		"message":         "second turn",
		"conversation_id": first.ConversationID,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var second chatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &second))
	assert.Equal(t, first.ConversationID, second.ConversationID)

	messages, err := env.store.Conversations().ListMessages(context.Background(), first.ConversationID)
	require.NoError(t, err)
	assert.Len(t, messages, 4)
}

func TestChatValidation(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, "POST", "/api/v1/chat", "alice-token", map[string]string{"message": ""})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = env.do(t, "POST", "/api/v1/chat", "", map[string]string{"message": "hi"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestChatOwnershipOnExistingConversation(t *testing.T) {
	env := newTestEnv(t)

	conv, err := env.store.Conversations().Create(context.Background(), "someone-else", "theirs")
	require.NoError(t, err)

	rec := env.do(t, "POST", "/api/v1/chat", "alice-token", map[string]interface{}{
		"message":         "peek",
		"conversation_id": conv.ID,
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, "POST", "/api/v1/chat", "alice-token", map[string]interface{}{
		"message":         "peek",
		"conversation_id": 9999,
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListConversationsAndMessages(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, "POST", "/api/v1/chat", "alice-token", map[string]string{"message": "start"})
	require.Equal(t, http.StatusOK, rec.Code)
	var resp chatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	rec = env.do(t, "GET", "/api/v1/conversations", "alice-token", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listed struct {
		Conversations []store.Conversation `json:"conversations"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	require.Len(t, listed.Conversations, 1)
	assert.Equal(t, "start", listed.Conversations[0].Title)

	rec = env.do(t, "GET", "/api/v1/conversations/9999/messages", "alice-token", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, "GET", "/api/v1/conversations/"+strconv.FormatInt(resp.ConversationID, 10)+"/messages", "alice-token", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var msgs struct {
		Messages []store.StoredMessage `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &msgs))
	assert.Len(t, msgs.Messages, 2)
}

func TestHealthIsPublic(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, "GET", "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestConversationTitleTruncation(t *testing.T) {
	assert.Equal(t, "short", conversationTitle("short"))
	long := strings.Repeat("x", 100)
	title := conversationTitle(long)
	assert.True(t, strings.HasSuffix(title, "…"))
	assert.LessOrEqual(t, len([]rune(title)), 60)
}
