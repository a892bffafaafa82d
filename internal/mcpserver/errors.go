package mcpserver

import "fmt"

// Error type taxonomy shared with the model. The strings are part of the
// tool contract: assistants branch on them when deciding how to recover.
const (
	errAuthentication = "authentication_error"
	errAuthorization  = "authorization_error"
	errNotFound       = "not_found_error"
	errValidation     = "validation_error"
	errBackend        = "backend_error"
	errTimeout        = "timeout_error"
	errConnection     = "connection_error"
)

// ErrorPayload is the structured tool failure handed back to the model
// as regular content. Tool failures are answers for the assistant to
// read and recover from, never transport errors.
type ErrorPayload struct {
	ErrorType   string                 `json:"error_type"`
	Message     string                 `json:"message"`
	Details     map[string]interface{} `json:"details,omitempty"`
	Suggestions []string               `json:"suggestions,omitempty"`
}

// transportError shapes a failed backend round trip.
func transportError(err error) *ErrorPayload {
	if isTimeout(err) {
		return &ErrorPayload{
			ErrorType: errTimeout,
			Message:   "Request timed out while waiting for backend response.",
			Details:   map[string]interface{}{"error": err.Error()},
			Suggestions: []string{
				"The backend service may be experiencing high load",
				"Try again in a few moments",
				"Check backend service health",
			},
		}
	}
	return &ErrorPayload{
		ErrorType: errConnection,
		Message:   "Unable to connect to backend service. Connection refused or network error.",
		Details:   map[string]interface{}{"error": err.Error()},
		Suggestions: []string{
			"Verify backend service is running",
			"Check BACKEND_BASE_URL configuration",
			"Verify network connectivity",
		},
	}
}

// statusError shapes a backend error status. taskID < 0 means the
// operation was not about a single task.
func statusError(status int, taskID int64) *ErrorPayload {
	details := map[string]interface{}{"status_code": status}
	switch status {
	case 401:
		return &ErrorPayload{
			ErrorType: errAuthentication,
			Message:   "Service authentication failed. Invalid or expired service token.",
			Details:   details,
			Suggestions: []string{
				"Verify SERVICE_AUTH_TOKEN is correctly configured",
				"Check that the service token matches between MCP server and backend",
			},
		}
	case 403:
		msg := "Access denied."
		if taskID >= 0 {
			msg = fmt.Sprintf("You don't have permission to access task %d.", taskID)
		}
		return &ErrorPayload{
			ErrorType:   errAuthorization,
			Message:     msg,
			Details:     details,
			Suggestions: []string{"You can only access your own tasks"},
		}
	case 404:
		msg := "Requested resource not found."
		if taskID >= 0 {
			msg = fmt.Sprintf("Task %d not found.", taskID)
		}
		return &ErrorPayload{
			ErrorType:   errNotFound,
			Message:     msg,
			Details:     details,
			Suggestions: []string{"Verify the task ID is correct", "Use list_tasks to see available tasks"},
		}
	case 422:
		return &ErrorPayload{
			ErrorType: errValidation,
			Message:   "Backend rejected the task data due to validation errors.",
			Details:   details,
			Suggestions: []string{
				"Review task data for correctness",
				"Ensure all required fields are provided with valid values",
			},
		}
	case 500:
		return &ErrorPayload{
			ErrorType: errBackend,
			Message:   "Backend service encountered an error while processing the request.",
			Details:   details,
			Suggestions: []string{
				"Try the request again in a few moments",
				"Contact support if the error persists",
			},
		}
	default:
		return &ErrorPayload{
			ErrorType:   errBackend,
			Message:     fmt.Sprintf("Unexpected response from backend (status %d).", status),
			Details:     details,
			Suggestions: []string{"Try the request again", "Contact support if issue persists"},
		}
	}
}

// validationError shapes a parameter failure caught before the backend
// is contacted.
func validationError(message string, suggestions ...string) *ErrorPayload {
	return &ErrorPayload{
		ErrorType:   errValidation,
		Message:     message,
		Suggestions: suggestions,
	}
}
