package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"

	"taskdeck/types"
)

// toolDefinition is one callable tool: its advertised schema plus the
// handler. Handlers return the payload serialized for the model and
// whether it represents a failure.
type toolDefinition struct {
	Name        string
	Description string
	InputSchema json.RawMessage
	Handler     func(ctx context.Context, userID string, args json.RawMessage) (interface{}, bool)
}

type listTasksParams struct{}

type createTaskParams struct {
	Title       string  `json:"title" jsonschema:"minLength=1,maxLength=200,description=Task title"`
	Description *string `json:"description,omitempty" jsonschema:"description=Detailed task description"`
	Priority    string  `json:"priority,omitempty" jsonschema:"enum=Low,enum=Medium,enum=High,enum=Urgent,default=Medium,description=Task priority level"`
	DueDate     *string `json:"due_date,omitempty" jsonschema:"description=Task due date in ISO 8601 format"`
}

type updateTaskParams struct {
	TaskID      int64   `json:"task_id" jsonschema:"minimum=1,description=ID of the task to update"`
	Title       *string `json:"title,omitempty" jsonschema:"minLength=1,maxLength=200,description=New task title"`
	Description *string `json:"description,omitempty" jsonschema:"description=New task description"`
	Priority    *string `json:"priority,omitempty" jsonschema:"enum=Low,enum=Medium,enum=High,enum=Urgent,description=New priority level"`
	DueDate     *string `json:"due_date,omitempty" jsonschema:"description=New due date in ISO 8601 format"`
}

type deleteTaskParams struct {
	TaskID int64 `json:"task_id" jsonschema:"minimum=1,description=ID of the task to delete"`
}

type markTaskCompletedParams struct {
	TaskID int64 `json:"task_id" jsonschema:"minimum=1,description=ID of the task to mark as completed"`
}

func mustSchema(v interface{}) json.RawMessage {
	reflector := jsonschema.Reflector{DoNotReference: true}
	data, err := json.Marshal(reflector.Reflect(v))
	if err != nil {
		panic(fmt.Sprintf("failed to build tool schema: %v", err))
	}
	return data
}

func validPriority(p string) bool {
	return types.Priority(p).Valid()
}

// toolset builds the five task tools bound to a backend client.
func toolset(backend *BackendClient) []toolDefinition {
	return []toolDefinition{
		{
			Name:        "list_tasks",
			Description: "List all tasks for the authenticated user.",
			InputSchema: mustSchema(listTasksParams{}),
			Handler: func(ctx context.Context, userID string, _ json.RawMessage) (interface{}, bool) {
				resp, err := backend.ListTasks(ctx, userID)
				if err != nil {
					return transportError(err), true
				}
				if resp.Status != 200 {
					return statusError(resp.Status, -1), true
				}
				tasks := []types.Task{}
				if err := resp.Decode(&tasks); err != nil {
					return statusError(resp.Status, -1), true
				}
				return tasks, false
			},
		},
		{
			Name:        "create_task",
			Description: "Create a new task for the authenticated user.",
			InputSchema: mustSchema(createTaskParams{}),
			Handler: func(ctx context.Context, userID string, args json.RawMessage) (interface{}, bool) {
				var params createTaskParams
				if err := json.Unmarshal(args, &params); err != nil {
					return validationError("Invalid create_task arguments: "+err.Error(),
						"Review the tool input schema"), true
				}
				if params.Title == "" {
					return validationError("Title must not be empty.",
						"Provide a meaningful task title"), true
				}
				if len(params.Title) > 200 {
					return validationError("Title is too long.",
						"Please use 200 characters or less"), true
				}
				if params.Priority == "" {
					params.Priority = string(types.PriorityMedium)
				}
				if !validPriority(params.Priority) {
					return validationError(fmt.Sprintf("Invalid priority %q.", params.Priority),
						"Priority must be one of: Low, Medium, High, Urgent"), true
				}

				payload := map[string]interface{}{
					"title":    params.Title,
					"priority": params.Priority,
				}
				if params.Description != nil {
					payload["description"] = *params.Description
				}
				if params.DueDate != nil {
					payload["due_date"] = *params.DueDate
				}

				resp, err := backend.CreateTask(ctx, userID, payload)
				if err != nil {
					return transportError(err), true
				}
				if resp.Status != 201 {
					return statusError(resp.Status, -1), true
				}
				var task types.Task
				if err := resp.Decode(&task); err != nil {
					return statusError(resp.Status, -1), true
				}
				return task, false
			},
		},
		{
			Name:        "update_task",
			Description: "Update task fields: title, description, priority, or due date. Use mark_task_completed to change completion status.",
			InputSchema: mustSchema(updateTaskParams{}),
			Handler: func(ctx context.Context, userID string, args json.RawMessage) (interface{}, bool) {
				var params updateTaskParams
				if err := json.Unmarshal(args, &params); err != nil {
					return validationError("Invalid update_task arguments: "+err.Error(),
						"Review the tool input schema"), true
				}
				if params.TaskID <= 0 {
					return validationError("task_id must be a positive integer.",
						"Use list_tasks to find the task ID"), true
				}
				if params.Title == nil && params.Description == nil && params.Priority == nil && params.DueDate == nil {
					return validationError("At least one field must be provided for update.",
						"Provide title, description, priority, or due_date to update"), true
				}
				if params.Priority != nil && !validPriority(*params.Priority) {
					return validationError(fmt.Sprintf("Invalid priority %q.", *params.Priority),
						"Priority must be one of: Low, Medium, High, Urgent"), true
				}

				payload := map[string]interface{}{}
				if params.Title != nil {
					payload["title"] = *params.Title
				}
				if params.Description != nil {
					payload["description"] = *params.Description
				}
				if params.Priority != nil {
					payload["priority"] = *params.Priority
				}
				if params.DueDate != nil {
					payload["due_date"] = *params.DueDate
				}

				resp, err := backend.UpdateTask(ctx, userID, params.TaskID, payload)
				if err != nil {
					return transportError(err), true
				}
				if resp.Status != 200 {
					return statusError(resp.Status, params.TaskID), true
				}
				var task types.Task
				if err := resp.Decode(&task); err != nil {
					return statusError(resp.Status, params.TaskID), true
				}
				return task, false
			},
		},
		{
			Name:        "delete_task",
			Description: "Delete a task permanently.",
			InputSchema: mustSchema(deleteTaskParams{}),
			Handler: func(ctx context.Context, userID string, args json.RawMessage) (interface{}, bool) {
				var params deleteTaskParams
				if err := json.Unmarshal(args, &params); err != nil {
					return validationError("Invalid delete_task arguments: "+err.Error(),
						"Review the tool input schema"), true
				}
				if params.TaskID <= 0 {
					return validationError("task_id must be a positive integer.",
						"Use list_tasks to find the task ID"), true
				}

				resp, err := backend.DeleteTask(ctx, userID, params.TaskID)
				if err != nil {
					return transportError(err), true
				}
				if resp.Status != 204 {
					return statusError(resp.Status, params.TaskID), true
				}
				return map[string]interface{}{
					"success": true,
					"message": fmt.Sprintf("Task %d deleted.", params.TaskID),
				}, false
			},
		},
		{
			Name:        "mark_task_completed",
			Description: "Mark a task as completed.",
			InputSchema: mustSchema(markTaskCompletedParams{}),
			Handler: func(ctx context.Context, userID string, args json.RawMessage) (interface{}, bool) {
				var params markTaskCompletedParams
				if err := json.Unmarshal(args, &params); err != nil {
					return validationError("Invalid mark_task_completed arguments: "+err.Error(),
						"Review the tool input schema"), true
				}
				if params.TaskID <= 0 {
					return validationError("task_id must be a positive integer.",
						"Use list_tasks to find the task ID"), true
				}

				resp, err := backend.SetTaskCompleted(ctx, userID, params.TaskID, true)
				if err != nil {
					return transportError(err), true
				}
				if resp.Status != 200 {
					return statusError(resp.Status, params.TaskID), true
				}
				var task types.Task
				if err := resp.Decode(&task); err != nil {
					return statusError(resp.Status, params.TaskID), true
				}
				return task, false
			},
		},
	}
}
