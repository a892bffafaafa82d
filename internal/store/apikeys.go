package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// APIKeyRepository stores per-user provider API keys. Keys arrive already
// encrypted (internal/secrets); this layer never sees plaintext.
type APIKeyRepository struct {
	db *sql.DB
}

// Upsert stores or replaces the user's key for a provider.
func (r *APIKeyRepository) Upsert(ctx context.Context, userID, provider, encryptedKey string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO user_api_keys (user_id, provider, encrypted_key, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (user_id, provider) DO UPDATE SET encrypted_key = excluded.encrypted_key, updated_at = excluded.updated_at`,
		userID, provider, encryptedKey, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to store api key: %w", err)
	}
	return nil
}

// Get returns the encrypted key, or ErrNotFound.
func (r *APIKeyRepository) Get(ctx context.Context, userID, provider string) (string, error) {
	var encrypted string
	err := r.db.QueryRowContext(ctx,
		"SELECT encrypted_key FROM user_api_keys WHERE user_id = ? AND provider = ?",
		userID, provider).Scan(&encrypted)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get api key: %w", err)
	}
	return encrypted, nil
}

// Delete removes the user's key for a provider.
func (r *APIKeyRepository) Delete(ctx context.Context, userID, provider string) error {
	res, err := r.db.ExecContext(ctx,
		"DELETE FROM user_api_keys WHERE user_id = ? AND provider = ?", userID, provider)
	if err != nil {
		return fmt.Errorf("failed to delete api key: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read delete result: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
