package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Conversation is a chat session owned by a user.
type Conversation struct {
	ID        int64     `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StoredMessage is a persisted chat message. Metadata carries
// OpenAI-compatible extras (tool calls, task ordinal context) as raw JSON;
// the agent package normalizes it at the boundary.
type StoredMessage struct {
	ID             int64           `json:"id"`
	ConversationID int64           `json:"conversation_id"`
	Role           string          `json:"role"`
	Content        string          `json:"content"`
	Metadata       json.RawMessage `json:"metadata,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// ConversationRepository persists conversations and their messages.
type ConversationRepository struct {
	db *sql.DB
}

// Create starts a new conversation for userID.
func (r *ConversationRepository) Create(ctx context.Context, userID, title string) (*Conversation, error) {
	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx,
		"INSERT INTO conversations (user_id, title, created_at, updated_at) VALUES (?, ?, ?, ?)",
		userID, title, now.Format(time.RFC3339), now.Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read conversation id: %w", err)
	}
	return &Conversation{ID: id, UserID: userID, Title: title, CreatedAt: now, UpdatedAt: now}, nil
}

// GetOwned loads a conversation and enforces ownership: ErrNotFound when
// the id does not exist, ErrForbidden when it belongs to another user.
func (r *ConversationRepository) GetOwned(ctx context.Context, conversationID int64, userID string) (*Conversation, error) {
	var (
		conv      Conversation
		createdAt string
		updatedAt string
	)
	err := r.db.QueryRowContext(ctx,
		"SELECT id, user_id, title, created_at, updated_at FROM conversations WHERE id = ?",
		conversationID).Scan(&conv.ID, &conv.UserID, &conv.Title, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	if conv.UserID != userID {
		return nil, ErrForbidden
	}
	if conv.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("invalid created_at: %w", err)
	}
	if conv.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return nil, fmt.Errorf("invalid updated_at: %w", err)
	}
	return &conv, nil
}

// ListByUser returns the user's conversations, most recently updated first.
func (r *ConversationRepository) ListByUser(ctx context.Context, userID string) ([]*Conversation, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT id, user_id, title, created_at, updated_at FROM conversations WHERE user_id = ? ORDER BY updated_at DESC, id DESC",
		userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	var conversations []*Conversation
	for rows.Next() {
		var (
			conv      Conversation
			createdAt string
			updatedAt string
		)
		if err := rows.Scan(&conv.ID, &conv.UserID, &conv.Title, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		if conv.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, fmt.Errorf("invalid created_at: %w", err)
		}
		if conv.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
			return nil, fmt.Errorf("invalid updated_at: %w", err)
		}
		conversations = append(conversations, &conv)
	}
	return conversations, rows.Err()
}

// AppendMessage stores a message and bumps the conversation's updated_at.
// Messages are immutable once written.
func (r *ConversationRepository) AppendMessage(ctx context.Context, conversationID int64, role, content string, metadata json.RawMessage) (*StoredMessage, error) {
	now := time.Now().UTC()

	var meta any
	if len(metadata) > 0 {
		meta = string(metadata)
	}

	res, err := r.db.ExecContext(ctx,
		"INSERT INTO messages (conversation_id, role, content, metadata, created_at) VALUES (?, ?, ?, ?, ?)",
		conversationID, role, content, meta, now.Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("failed to append message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read message id: %w", err)
	}

	if _, err := r.db.ExecContext(ctx,
		"UPDATE conversations SET updated_at = ? WHERE id = ?",
		now.Format(time.RFC3339), conversationID); err != nil {
		return nil, fmt.Errorf("failed to touch conversation: %w", err)
	}

	return &StoredMessage{
		ID:             id,
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		Metadata:       metadata,
		CreatedAt:      now,
	}, nil
}

// ListMessages returns a conversation's messages in chronological order.
// Ownership must be checked by the caller (via GetOwned) first.
func (r *ConversationRepository) ListMessages(ctx context.Context, conversationID int64) ([]*StoredMessage, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT id, conversation_id, role, content, metadata, created_at FROM messages WHERE conversation_id = ? ORDER BY created_at ASC, id ASC",
		conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	var messages []*StoredMessage
	for rows.Next() {
		var (
			msg       StoredMessage
			metadata  sql.NullString
			createdAt string
		)
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.Role, &msg.Content, &metadata, &createdAt); err != nil {
			return nil, err
		}
		if metadata.Valid && metadata.String != "" {
			msg.Metadata = json.RawMessage(metadata.String)
		}
		if msg.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, fmt.Errorf("invalid created_at: %w", err)
		}
		messages = append(messages, &msg)
	}
	return messages, rows.Err()
}
