package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"taskdeck/types"
)

// TaskRepository performs task CRUD. Every query scopes by user_id so a
// caller can never touch another user's rows.
type TaskRepository struct {
	db *sql.DB
}

const taskColumns = "id, user_id, title, description, completed, priority, due_date, created_at, updated_at"

func scanTask(row interface{ Scan(...any) error }) (*types.Task, error) {
	var (
		task      types.Task
		completed int
		dueDate   sql.NullString
		createdAt string
		updatedAt string
	)
	err := row.Scan(&task.ID, &task.UserID, &task.Title, &task.Description,
		&completed, &task.Priority, &dueDate, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	task.Completed = completed != 0
	if dueDate.Valid {
		t, err := time.Parse(time.RFC3339, dueDate.String)
		if err != nil {
			return nil, fmt.Errorf("invalid due_date %q: %w", dueDate.String, err)
		}
		task.DueDate = &t
	}
	if task.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("invalid created_at: %w", err)
	}
	if task.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return nil, fmt.Errorf("invalid updated_at: %w", err)
	}
	return &task, nil
}

// ListByUser returns the user's tasks, newest first.
func (r *TaskRepository) ListByUser(ctx context.Context, userID string) ([]*types.Task, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+taskColumns+" FROM tasks WHERE user_id = ? ORDER BY created_at DESC, id DESC", userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*types.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// GetByID returns the task only when it exists and belongs to userID.
func (r *TaskRepository) GetByID(ctx context.Context, taskID int64, userID string) (*types.Task, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+taskColumns+" FROM tasks WHERE id = ? AND user_id = ?", taskID, userID)
	task, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return task, nil
}

// Create inserts a new task and returns it with ID and timestamps set.
func (r *TaskRepository) Create(ctx context.Context, userID string, create *types.TaskCreate) (*types.Task, error) {
	priority := create.Priority
	if priority == "" {
		priority = types.PriorityMedium
	}

	now := time.Now().UTC()
	var dueDate any
	if create.DueDate != nil {
		dueDate = create.DueDate.UTC().Format(time.RFC3339)
	}

	res, err := r.db.ExecContext(ctx,
		`INSERT INTO tasks (user_id, title, description, completed, priority, due_date, created_at, updated_at)
		 VALUES (?, ?, ?, 0, ?, ?, ?, ?)`,
		userID, create.Title, create.Description, string(priority), dueDate,
		now.Format(time.RFC3339), now.Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read task id: %w", err)
	}
	return r.GetByID(ctx, id, userID)
}

// Update applies a partial update. Unset fields keep their current value;
// null fields are cleared (only description and due_date are nullable).
func (r *TaskRepository) Update(ctx context.Context, taskID int64, userID string, update *types.TaskUpdate) (*types.Task, error) {
	var (
		sets []string
		args []any
	)

	if title, ok := update.Title.Value(); ok {
		sets = append(sets, "title = ?")
		args = append(args, title)
	}
	if update.Description.IsNull() {
		sets = append(sets, "description = NULL")
	} else if desc, ok := update.Description.Value(); ok {
		sets = append(sets, "description = ?")
		args = append(args, desc)
	}
	if completed, ok := update.Completed.Value(); ok {
		sets = append(sets, "completed = ?")
		args = append(args, boolToInt(completed))
	}
	if priority, ok := update.Priority.Value(); ok {
		sets = append(sets, "priority = ?")
		args = append(args, string(priority))
	}
	if update.DueDate.IsNull() {
		sets = append(sets, "due_date = NULL")
	} else if due, ok := update.DueDate.Value(); ok {
		sets = append(sets, "due_date = ?")
		args = append(args, due.UTC().Format(time.RFC3339))
	}

	if len(sets) == 0 {
		// Nothing to change; behave like a read.
		return r.GetByID(ctx, taskID, userID)
	}

	sets = append(sets, "updated_at = ?")
	args = append(args, time.Now().UTC().Format(time.RFC3339))
	args = append(args, taskID, userID)

	res, err := r.db.ExecContext(ctx,
		"UPDATE tasks SET "+strings.Join(sets, ", ")+" WHERE id = ? AND user_id = ?", args...)
	if err != nil {
		return nil, fmt.Errorf("failed to update task: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to read update result: %w", err)
	}
	if affected == 0 {
		return nil, ErrNotFound
	}
	return r.GetByID(ctx, taskID, userID)
}

// SetCompleted flips just the completion flag.
func (r *TaskRepository) SetCompleted(ctx context.Context, taskID int64, userID string, completed bool) (*types.Task, error) {
	res, err := r.db.ExecContext(ctx,
		"UPDATE tasks SET completed = ?, updated_at = ? WHERE id = ? AND user_id = ?",
		boolToInt(completed), time.Now().UTC().Format(time.RFC3339), taskID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to update completion: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to read update result: %w", err)
	}
	if affected == 0 {
		return nil, ErrNotFound
	}
	return r.GetByID(ctx, taskID, userID)
}

// Delete removes the task. ErrNotFound when it does not exist or is not
// owned by userID.
func (r *TaskRepository) Delete(ctx context.Context, taskID int64, userID string) error {
	res, err := r.db.ExecContext(ctx,
		"DELETE FROM tasks WHERE id = ? AND user_id = ?", taskID, userID)
	if err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
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

// BulkDelete removes the given task IDs, returning which were deleted and
// which were missing (or owned by someone else).
func (r *TaskRepository) BulkDelete(ctx context.Context, taskIDs []int64, userID string) (deleted, notFound []int64, err error) {
	for _, id := range taskIDs {
		switch err := r.Delete(ctx, id, userID); err {
		case nil:
			deleted = append(deleted, id)
		case ErrNotFound:
			notFound = append(notFound, id)
		default:
			return deleted, notFound, err
		}
	}
	return deleted, notFound, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
