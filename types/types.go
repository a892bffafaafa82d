package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// ============================================================================
// TASKS
// ============================================================================

// Priority is the task priority level. Stored and serialized as its
// display string ("Low", "Medium", ...).
type Priority string

const (
	PriorityLow    Priority = "Low"
	PriorityMedium Priority = "Medium"
	PriorityHigh   Priority = "High"
	PriorityUrgent Priority = "Urgent"
)

// Valid reports whether p is one of the known priority levels.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// Task is a single todo item owned by a user.
type Task struct {
	ID          int64      `json:"id"`
	UserID      string     `json:"user_id"`
	Title       string     `json:"title"`
	Description *string    `json:"description,omitempty"`
	Completed   bool       `json:"completed"`
	Priority    Priority   `json:"priority"`
	DueDate     *time.Time `json:"due_date,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// ============================================================================
// REQUEST / RESPONSE SHAPES
// ============================================================================

// TaskCreate is the body of POST /tasks.
type TaskCreate struct {
	Title       string     `json:"title"`
	Description *string    `json:"description,omitempty"`
	Priority    Priority   `json:"priority,omitempty"`
	DueDate     *time.Time `json:"due_date,omitempty"`
}

// Validate checks the create request before it reaches the repository.
func (c *TaskCreate) Validate() error {
	if c.Title == "" {
		return fmt.Errorf("title is required")
	}
	if len(c.Title) > 200 {
		return fmt.Errorf("title must be at most 200 characters")
	}
	if c.Priority != "" && !c.Priority.Valid() {
		return fmt.Errorf("invalid priority %q", c.Priority)
	}
	return nil
}

// TaskUpdate is the body of PUT /tasks/{id}. Every field is tri-state:
// absent from the JSON means "keep the current value", an explicit null
// means "clear it", and a value means "replace it".
type TaskUpdate struct {
	Title       Optional[string]    `json:"title"`
	Description Optional[string]    `json:"description"`
	Completed   Optional[bool]      `json:"completed"`
	Priority    Optional[Priority]  `json:"priority"`
	DueDate     Optional[time.Time] `json:"due_date"`
}

// Validate checks the update request. Title, completed and priority may
// not be cleared to null; priority must be a known level when provided.
func (u *TaskUpdate) Validate() error {
	if u.Title.IsNull() {
		return fmt.Errorf("title cannot be null")
	}
	if title, ok := u.Title.Value(); ok {
		if title == "" {
			return fmt.Errorf("title cannot be empty")
		}
		if len(title) > 200 {
			return fmt.Errorf("title must be at most 200 characters")
		}
	}
	if u.Completed.IsNull() {
		return fmt.Errorf("completed cannot be null")
	}
	if u.Priority.IsNull() {
		return fmt.Errorf("priority cannot be null")
	}
	if p, ok := u.Priority.Value(); ok && !p.Valid() {
		return fmt.Errorf("invalid priority %q", p)
	}
	return nil
}

// CompletionUpdate is the body of PATCH /tasks/{id}.
type CompletionUpdate struct {
	Completed bool `json:"completed"`
}

// BulkDeleteRequest is the body of POST /tasks/bulk-delete.
type BulkDeleteRequest struct {
	TaskIDs []int64 `json:"task_ids"`
}

// BulkDeleteResponse reports which of the requested IDs were deleted and
// which did not exist (or were not owned by the caller).
type BulkDeleteResponse struct {
	Deleted  []int64 `json:"deleted"`
	NotFound []int64 `json:"not_found"`
}

// ErrorResponse is the uniform error body returned by the HTTP services.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// ============================================================================
// TRI-STATE OPTIONAL
// ============================================================================

// Optional is a tri-state JSON field: unset, explicit null, or a value.
// The zero Optional is unset; UnmarshalJSON is only invoked for fields
// present in the document, so absence never reaches it.
type Optional[T any] struct {
	present bool
	null    bool
	value   T
}

// Some returns an Optional carrying v.
func Some[T any](v T) Optional[T] {
	return Optional[T]{present: true, value: v}
}

// Null returns an Optional representing an explicit JSON null.
func Null[T any]() Optional[T] {
	return Optional[T]{present: true, null: true}
}

// IsSet reports whether the field appeared in the document at all.
func (o Optional[T]) IsSet() bool { return o.present }

// IsNull reports whether the field was an explicit null.
func (o Optional[T]) IsNull() bool { return o.present && o.null }

// Value returns the carried value. ok is false when the field was unset
// or null.
func (o Optional[T]) Value() (T, bool) {
	if !o.present || o.null {
		var zero T
		return zero, false
	}
	return o.value, true
}

// UnmarshalJSON implements json.Unmarshaler.
func (o *Optional[T]) UnmarshalJSON(data []byte) error {
	o.present = true
	if string(data) == "null" {
		o.null = true
		return nil
	}
	o.null = false
	return json.Unmarshal(data, &o.value)
}

// MarshalJSON implements json.Marshaler. Unset and null fields marshal as
// null; response types never embed Optionals, so this mostly serves tests.
func (o Optional[T]) MarshalJSON() ([]byte, error) {
	if !o.present || o.null {
		return []byte("null"), nil
	}
	return json.Marshal(o.value)
}
