package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"taskdeck/internal/httpretry"
)

const (
	backendTimeout  = 30 * time.Second
	backendAttempts = 3
)

// backendResponse is a fully-read backend reply. Tool handlers translate
// the status code; the transport never turns statuses into errors.
type backendResponse struct {
	Status int
	Body   []byte
}

// Decode unmarshals the body into out.
func (r *backendResponse) Decode(out interface{}) error {
	return json.Unmarshal(r.Body, out)
}

// BackendClient calls the task API on behalf of a user, authenticated
// with the shared service token plus the X-User-ID header.
type BackendClient struct {
	baseURL      string
	serviceToken string
	httpClient   *http.Client
	log          *logrus.Logger
}

// NewBackendClient builds a client for the backend task API.
func NewBackendClient(baseURL, serviceToken string, log *logrus.Logger) *BackendClient {
	return &BackendClient{
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		serviceToken: serviceToken,
		httpClient:   &http.Client{Timeout: backendTimeout},
		log:          log,
	}
}

func (c *BackendClient) do(ctx context.Context, userID, method, path string, payload interface{}) (*backendResponse, error) {
	var body []byte
	if payload != nil {
		var err error
		if body, err = json.Marshal(payload); err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
	}

	url := c.baseURL + path
	build := func() (*http.Request, error) {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequest(method, url, reader)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.serviceToken)
		req.Header.Set("X-User-ID", userID)
		return req, nil
	}

	resp, err := httpretry.Do(ctx, c.httpClient, build, backendAttempts, c.log)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read backend response: %w", err)
	}
	return &backendResponse{Status: resp.StatusCode, Body: data}, nil
}

// ListTasks fetches all of the user's tasks.
func (c *BackendClient) ListTasks(ctx context.Context, userID string) (*backendResponse, error) {
	return c.do(ctx, userID, "GET", "/api/v1/tasks", nil)
}

// CreateTask creates a task from the given payload.
func (c *BackendClient) CreateTask(ctx context.Context, userID string, payload interface{}) (*backendResponse, error) {
	return c.do(ctx, userID, "POST", "/api/v1/tasks", payload)
}

// UpdateTask updates task fields.
func (c *BackendClient) UpdateTask(ctx context.Context, userID string, taskID int64, payload interface{}) (*backendResponse, error) {
	return c.do(ctx, userID, "PUT", fmt.Sprintf("/api/v1/tasks/%d", taskID), payload)
}

// DeleteTask removes a task.
func (c *BackendClient) DeleteTask(ctx context.Context, userID string, taskID int64) (*backendResponse, error) {
	return c.do(ctx, userID, "DELETE", fmt.Sprintf("/api/v1/tasks/%d", taskID), nil)
}

// SetTaskCompleted flips the completion flag.
func (c *BackendClient) SetTaskCompleted(ctx context.Context, userID string, taskID int64, completed bool) (*backendResponse, error) {
	return c.do(ctx, userID, "PATCH", fmt.Sprintf("/api/v1/tasks/%d", taskID),
		map[string]bool{"completed": completed})
}

// isTimeout distinguishes slow backends from unreachable ones for the
// error taxonomy the model sees.
func isTimeout(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
