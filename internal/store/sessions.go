package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SessionRepository reads the user_sessions table maintained by the
// external auth server. The table uses camelCase column names (userId,
// expiresAt); taskdeck never writes to it.
type SessionRepository struct {
	db *sql.DB
}

// Session is the slice of a user_sessions row that auth needs.
type Session struct {
	ID        string
	UserID    string
	Token     string
	ExpiresAt time.Time
}

// LookupToken resolves a session bearer token. Expired sessions are
// treated as not found.
func (r *SessionRepository) LookupToken(ctx context.Context, token string) (*Session, error) {
	var (
		session   Session
		expiresAt string
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT id, "userId", token, "expiresAt" FROM user_sessions WHERE token = ?`,
		token).Scan(&session.ID, &session.UserID, &session.Token, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up session: %w", err)
	}

	session.ExpiresAt, err = parseSessionTime(expiresAt)
	if err != nil {
		return nil, fmt.Errorf("invalid expiresAt %q: %w", expiresAt, err)
	}
	if time.Now().After(session.ExpiresAt) {
		return nil, ErrNotFound
	}
	return &session, nil
}

// parseSessionTime accepts the timestamp formats the auth server has been
// observed to write.
func parseSessionTime(value string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp format")
}
