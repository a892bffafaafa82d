package auth

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

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

func newTestService(t *testing.T) *Service {
	t.Helper()
	s, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	_, err = s.DB().Exec(sessionsTestSchema)
	require.NoError(t, err)
	_, err = s.DB().Exec(
		`INSERT INTO user_sessions (id, "userId", token, "expiresAt") VALUES (?, ?, ?, ?)`,
		"sess1", "user_abc", "good-token", time.Now().Add(time.Hour).UTC().Format(time.RFC3339))
	require.NoError(t, err)

	log := logrus.New()
	log.SetOutput(io.Discard)
	return NewService(s.Sessions(), "service-secret", "jwt-secret", log)
}

func echoUserHandler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := UserFromContext(r.Context())
		require.True(t, ok)
		w.Write([]byte(user.ID))
	})
}

func TestSessionMiddleware(t *testing.T) {
	svc := newTestService(t)
	handler := svc.SessionMiddleware(echoUserHandler(t))

	req := httptest.NewRequest("GET", "/api/tasks", nil)
	req.Header.Set("Authorization", "Bearer good-token")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "user_abc", rec.Body.String())

	for _, header := range []string{"", "Bearer wrong-token", "Basic good-token"} {
		req := httptest.NewRequest("GET", "/api/tasks", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, header)
	}
}

func TestServiceMiddleware(t *testing.T) {
	svc := newTestService(t)
	handler := svc.ServiceMiddleware(echoUserHandler(t))

	req := httptest.NewRequest("POST", "/mcp", nil)
	req.Header.Set("Authorization", "Bearer service-secret")
	req.Header.Set("X-User-ID", "user_xyz")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "user_xyz", rec.Body.String())

	// Missing X-User-ID is rejected even with a valid token.
	req = httptest.NewRequest("POST", "/mcp", nil)
	req.Header.Set("Authorization", "Bearer service-secret")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest("POST", "/mcp", nil)
	req.Header.Set("Authorization", "Bearer not-the-secret")
	req.Header.Set("X-User-ID", "user_xyz")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSessionOrServiceMiddleware(t *testing.T) {
	svc := newTestService(t)
	handler := svc.SessionOrServiceMiddleware(echoUserHandler(t))

	// Session path.
	req := httptest.NewRequest("GET", "/api/tasks", nil)
	req.Header.Set("Authorization", "Bearer good-token")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, "user_abc", rec.Body.String())

	// Service path acts on behalf of the named user.
	req = httptest.NewRequest("GET", "/api/tasks", nil)
	req.Header.Set("Authorization", "Bearer service-secret")
	req.Header.Set("X-User-ID", "user_other")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, "user_other", rec.Body.String())
}

func TestServiceJWTRoundTrip(t *testing.T) {
	svc := newTestService(t)

	token, err := svc.GenerateServiceJWT("agent", time.Minute)
	require.NoError(t, err)

	name, err := svc.ValidateServiceJWT(token)
	require.NoError(t, err)
	assert.Equal(t, "agent", name)

	_, err = svc.ValidateServiceJWT("not-a-jwt")
	assert.ErrorIs(t, err, ErrUnauthorized)

	expired, err := svc.GenerateServiceJWT("agent", -time.Minute)
	require.NoError(t, err)
	_, err = svc.ValidateServiceJWT(expired)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestValidateServiceTokenUnconfigured(t *testing.T) {
	log := logrus.New()
	log.SetOutput(io.Discard)
	svc := NewService(nil, "", "jwt-secret", log)
	assert.False(t, svc.ValidateServiceToken(""))
	assert.False(t, svc.ValidateServiceToken("anything"))
}
