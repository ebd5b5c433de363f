// Package remote implements the client adapter for the server-side task
// collection.
//
// The adapter talks JSON over a small REST surface (GET/POST /tasks,
// PUT/DELETE /tasks/{id}, POST /tasks/sync). Responses pass through the
// loose decoding boundary in the task package, so key-casing and
// timestamp quirks of the backend never reach the engine.
//
// Network failures and server errors are classified as *TransportError
// so the engine can abort the cycle and let the scheduler's next tick
// retry; the adapter itself never retries.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/taskweave/taskweave/internal/task"
)

// DefaultTimeout bounds every remote call. A call that exceeds it fails
// the cycle rather than stalling it.
const DefaultTimeout = 30 * time.Second

// TransportError wraps a timeout, connection failure, or server-side
// error. These are transient: the current cycle aborts and the next
// scheduled cycle recovers.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("remote %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsTransport reports whether err is (or wraps) a TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// SyncResult is the server's response to a batch push: the local ids it
// acknowledged and the authoritative remote snapshots of every record
// it touched. Complete is true when Tasks is the full remote listing,
// in which case the caller can skip a separate pull.
type SyncResult struct {
	SyncedIDs []string
	Tasks     []*task.Task
	Complete  bool
}

// Client is the remote store adapter.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *log.Logger
}

// New creates a remote adapter for the given base URL. A zero timeout
// means DefaultTimeout. If logger is nil, a default logger writing to
// stderr is used.
func New(baseURL string, timeout time.Duration, logger *log.Logger) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[remote] ", log.LstdFlags)
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// ListAll fetches the full remote task listing.
func (c *Client) ListAll(ctx context.Context) ([]*task.Task, error) {
	body, err := c.do(ctx, http.MethodGet, "/tasks", nil)
	if err != nil {
		return nil, err
	}
	tasks, err := task.DecodeList(body)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return tasks, nil
}

// GetByID fetches a single remote task, or task.ErrNotFound.
func (c *Client) GetByID(ctx context.Context, serverID string) (*task.Task, error) {
	body, err := c.do(ctx, http.MethodGet, "/tasks/"+url.PathEscape(serverID), nil)
	if err != nil {
		return nil, err
	}
	t, err := task.Decode(body)
	if err != nil {
		return nil, fmt.Errorf("get task %s: %w", serverID, err)
	}
	return t, nil
}

// Create pushes a single new task and returns the server's snapshot,
// which carries the assigned server id.
func (c *Client) Create(ctx context.Context, t *task.Task) (*task.Task, error) {
	body, err := c.do(ctx, http.MethodPost, "/tasks", t)
	if err != nil {
		return nil, err
	}
	created, err := task.Decode(body)
	if err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	return created, nil
}

// Update replaces a remote task and returns the server's snapshot.
func (c *Client) Update(ctx context.Context, serverID string, t *task.Task) (*task.Task, error) {
	body, err := c.do(ctx, http.MethodPut, "/tasks/"+url.PathEscape(serverID), t)
	if err != nil {
		return nil, err
	}
	updated, err := task.Decode(body)
	if err != nil {
		return nil, fmt.Errorf("update task %s: %w", serverID, err)
	}
	return updated, nil
}

// Delete removes a remote task. Deleting an unknown id is an error
// (task.ErrNotFound) so callers can distinguish best-effort cleanup
// from success.
func (c *Client) Delete(ctx context.Context, serverID string) error {
	_, err := c.do(ctx, http.MethodDelete, "/tasks/"+url.PathEscape(serverID), nil)
	return err
}

// syncRequest and syncResponse are the wire shapes for POST /tasks/sync.
type syncRequest struct {
	Tasks []*task.Task `json:"tasks"`
}

type syncResponse struct {
	SyncedIDs []string          `json:"synced_ids"`
	Tasks     []json.RawMessage `json:"tasks"`
	Complete  bool              `json:"complete"`
}

// SyncBatch pushes unsynced local tasks in one round trip. The server
// upserts each task (matching by server id when the batch carries one,
// comparing updated_at otherwise) and responds with the authoritative
// state of everything it touched.
func (c *Client) SyncBatch(ctx context.Context, tasks []*task.Task) (*SyncResult, error) {
	body, err := c.do(ctx, http.MethodPost, "/tasks/sync", syncRequest{Tasks: tasks})
	if err != nil {
		return nil, err
	}

	var resp syncResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("sync batch: decode response: %w", err)
	}

	result := &SyncResult{
		SyncedIDs: resp.SyncedIDs,
		Complete:  resp.Complete,
	}
	for i, raw := range resp.Tasks {
		t, err := task.Decode(raw)
		if err != nil {
			return nil, fmt.Errorf("sync batch: decode task %d: %w", i, err)
		}
		result.Tasks = append(result.Tasks, t)
	}

	return result, nil
}

// do performs one HTTP round trip and returns the response body.
func (c *Client) do(ctx context.Context, method, path string, payload interface{}) ([]byte, error) {
	op := method + " " + path

	var reqBody io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("%s: encode request: %w", op, err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, task.ErrNotFound
	case resp.StatusCode >= 500:
		return nil, &TransportError{Op: op, Err: fmt.Errorf("server returned %s", resp.Status)}
	case resp.StatusCode >= 400:
		return nil, fmt.Errorf("%s: server rejected request: %s: %s", op, resp.Status, strings.TrimSpace(string(body)))
	}

	return body, nil
}
