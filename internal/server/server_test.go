package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskdeck/internal/auth"
	"taskdeck/internal/config"
	"taskdeck/internal/events"
	"taskdeck/internal/secrets"
	"taskdeck/internal/store"
	"taskdeck/internal/websocket"
	"taskdeck/types"
)

const sessionsTestSchema = `
CREATE TABLE user_sessions (
    id TEXT PRIMARY KEY,
    "userId" TEXT NOT NULL,
    token TEXT NOT NULL UNIQUE,
    "expiresAt" TEXT NOT NULL
);
`

type testEnv struct {
	server *Server
	store  *store.Store
	cfg    *config.Config
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	_, err = st.DB().Exec(sessionsTestSchema)
	require.NoError(t, err)
	for _, row := range [][2]string{
		{"alice", "alice-token"},
		{"bob", "bob-token"},
	} {
		_, err = st.DB().Exec(
			`INSERT INTO user_sessions (id, "userId", token, "expiresAt") VALUES (?, ?, ?, ?)`,
			"sess-"+row[0], row[0], row[1], time.Now().Add(time.Hour).UTC().Format(time.RFC3339))
		require.NoError(t, err)
	}

	log := logrus.New()
	log.SetOutput(io.Discard)

	key, err := secrets.GenerateKey()
	require.NoError(t, err)
	cipher, err := secrets.NewCipher(key)
	require.NoError(t, err)

	cfg := config.Load()
	cfg.ServiceAuthToken = "service-secret"
	cfg.APIKeyTestLimit = 2
	cfg.APIKeyTestWindow = time.Hour

	authSvc := auth.NewService(st.Sessions(), cfg.ServiceAuthToken, "jwt-secret", log)
	producer := events.NewProducer(config.EventsConfig{Enable: false}, "api", log)
	hub := websocket.NewHub(log)

	return &testEnv{
		server: New(cfg, st, authSvc, cipher, producer, hub, log),
		store:  st,
		cfg:    cfg,
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

func decodeTask(t *testing.T, rec *httptest.ResponseRecorder) types.Task {
	t.Helper()
	var task types.Task
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &task))
	return task
}

func TestTaskCRUDFlow(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, "POST", "/api/v1/tasks", "alice-token", map[string]interface{}{
		"title":       "Buy milk",
		"description": "semi-skimmed",
		"priority":    "High",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeTask(t, rec)
	assert.Equal(t, "Buy milk", created.Title)
	assert.Equal(t, types.PriorityHigh, created.Priority)

	rec = env.do(t, "GET", "/api/v1/tasks", "alice-token", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var tasks []types.Task
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tasks))
	require.Len(t, tasks, 1)

	rec = env.do(t, "PUT", fmt.Sprintf("/api/v1/tasks/%d", created.ID), "alice-token",
		map[string]interface{}{"title": "Buy oat milk"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	updated := decodeTask(t, rec)
	assert.Equal(t, "Buy oat milk", updated.Title)
	require.NotNil(t, updated.Description)
	assert.Equal(t, "semi-skimmed", *updated.Description)

	rec = env.do(t, "PATCH", fmt.Sprintf("/api/v1/tasks/%d", created.ID), "alice-token",
		types.CompletionUpdate{Completed: true})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decodeTask(t, rec).Completed)

	rec = env.do(t, "DELETE", fmt.Sprintf("/api/v1/tasks/%d", created.ID), "alice-token", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(t, "GET", fmt.Sprintf("/api/v1/tasks/%d", created.ID), "alice-token", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTaskAuthRequired(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, "GET", "/api/v1/tasks", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, "GET", "/api/v1/tasks", "bogus-token", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestTaskOwnershipIsScoped(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, "POST", "/api/v1/tasks", "alice-token", map[string]interface{}{"title": "private"})
	require.Equal(t, http.StatusCreated, rec.Code)
	task := decodeTask(t, rec)

	// Another user sees 404, never 403: task existence is not leaked.
	rec = env.do(t, "GET", fmt.Sprintf("/api/v1/tasks/%d", task.ID), "bob-token", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, "GET", "/api/v1/tasks", "bob-token", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var tasks []types.Task
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tasks))
	assert.Empty(t, tasks)
}

func TestServiceAuthActsForUser(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest("POST", "/api/v1/tasks",
		bytes.NewReader([]byte(`{"title":"from the agent"}`)))
	req.Header.Set("Authorization", "Bearer service-secret")
	req.Header.Set("X-User-ID", "alice")
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	// The task belongs to alice.
	listRec := env.do(t, "GET", "/api/v1/tasks", "alice-token", nil)
	var tasks []types.Task
	require.NoError(t, json.Unmarshal(listRec.Body.Bytes(), &tasks))
	require.Len(t, tasks, 1)
	assert.Equal(t, "from the agent", tasks[0].Title)
}

func TestTaskValidation(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, "POST", "/api/v1/tasks", "alice-token", map[string]interface{}{"title": ""})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = env.do(t, "POST", "/api/v1/tasks", "alice-token",
		map[string]interface{}{"title": "x", "priority": "Extreme"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestBulkDelete(t *testing.T) {
	env := newTestEnv(t)

	var ids []int64
	for _, title := range []string{"a", "b"} {
		rec := env.do(t, "POST", "/api/v1/tasks", "alice-token", map[string]interface{}{"title": title})
		require.Equal(t, http.StatusCreated, rec.Code)
		ids = append(ids, decodeTask(t, rec).ID)
	}

	rec := env.do(t, "POST", "/api/v1/tasks/bulk-delete", "alice-token",
		types.BulkDeleteRequest{TaskIDs: append(ids, 9999)})
	require.Equal(t, http.StatusOK, rec.Code)

	var result types.BulkDeleteResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, ids, result.Deleted)
	assert.Equal(t, []int64{9999}, result.NotFound)
}

func TestAPIKeyLifecycle(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, "GET", "/api/v1/api-keys/gemini/status", "alice-token", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var status map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, false, status["configured"])

	rec = env.do(t, "PUT", "/api/v1/api-keys/gemini", "alice-token",
		map[string]string{"api_key": "AIza-test-key"})
	require.Equal(t, http.StatusOK, rec.Code)

	// The stored value is encrypted, not plaintext.
	encrypted, err := env.store.APIKeys().Get(context.Background(), "alice", "gemini")
	require.NoError(t, err)
	assert.NotContains(t, encrypted, "AIza-test-key")

	rec = env.do(t, "GET", "/api/v1/api-keys/gemini/status", "alice-token", nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, true, status["configured"])

	rec = env.do(t, "DELETE", "/api/v1/api-keys/gemini", "alice-token", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestAPIKeyTestRateLimited(t *testing.T) {
	env := newTestEnv(t)

	// Stand in for the Gemini API so key probes stay local.
	gemini := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "Bearer valid-key" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer gemini.Close()
	env.cfg.Agent.GeminiBaseURL = gemini.URL

	rec := env.do(t, "POST", "/api/v1/api-keys/gemini/test", "alice-token",
		map[string]string{"api_key": "valid-key"})
	require.Equal(t, http.StatusOK, rec.Code)
	var result map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, true, result["valid"])

	rec = env.do(t, "POST", "/api/v1/api-keys/gemini/test", "alice-token",
		map[string]string{"api_key": "bad-key"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, false, result["valid"])

	// Limit is 2 in the test config; the third attempt is refused before
	// any upstream call.
	rec = env.do(t, "POST", "/api/v1/api-keys/gemini/test", "alice-token",
		map[string]string{"api_key": "valid-key"})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	// Other users have their own window.
	rec = env.do(t, "POST", "/api/v1/api-keys/gemini/test", "bob-token",
		map[string]string{"api_key": "valid-key"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAPIKeyTestBodyHandling(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest("POST", "/api/v1/api-keys/gemini/test",
		bytes.NewReader([]byte(`{"api_key": `)))
	req.Header.Set("Authorization", "Bearer alice-token")
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// An empty body means "test the stored key"; alice has none stored.
	req = httptest.NewRequest("POST", "/api/v1/api-keys/gemini/test", nil)
	req.Header.Set("Authorization", "Bearer alice-token")
	rec = httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestHealthIsPublic(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, "GET", "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")
}
