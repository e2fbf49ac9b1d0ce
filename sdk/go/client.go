package tasklinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Taskline HTTP API client.
type Client struct {
	BaseURL     string
	ProjectID   string
	BearerToken string
	ActorID     string
	ActorName   string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, projectID string) *Client {
	return &Client{
		BaseURL:   baseURL,
		ProjectID: projectID,
		Timeout:   10 * time.Second,
	}
}

// Task represents the API task model (partial).
type Task struct {
	ID         string  `json:"id"`
	ModuleID   string  `json:"module_id"`
	ParentID   *string `json:"parent_id,omitempty"`
	Code       string  `json:"code"`
	Title      string  `json:"title"`
	Type       string  `json:"type"`
	Priority   string  `json:"priority"`
	Status     string  `json:"status"`
	AssignedTo *string `json:"assigned_to,omitempty"`
	Order      int     `json:"order"`
	Subtasks   []Task  `json:"subtasks,omitempty"`
}

// Comment represents a comment on a task or bug-sheet.
type Comment struct {
	ID         string `json:"id"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id"`
	AuthorID   string `json:"author_id,omitempty"`
	AuthorName string `json:"author_name,omitempty"`
	Body       string `json:"body"`
	CreatedAt  string `json:"created_at"`
}

// Activity represents one feed entry.
type Activity struct {
	ID          int64  `json:"id"`
	Action      string `json:"action"`
	Field       string `json:"field,omitempty"`
	OldValue    string `json:"old_value,omitempty"`
	NewValue    string `json:"new_value,omitempty"`
	UserName    string `json:"user_name,omitempty"`
	EntityKind  string `json:"entity_kind"`
	EntityID    string `json:"entity_id"`
	EntityTitle string `json:"entity_title,omitempty"`
	Message     string `json:"message"`
	CreatedAt   string `json:"created_at"`
}

// History represents one field-level change row.
type History struct {
	ID        int64  `json:"id"`
	TaskID    string `json:"task_id"`
	ActorID   string `json:"actor_id,omitempty"`
	Field     string `json:"field"`
	OldValue  string `json:"old_value,omitempty"`
	NewValue  string `json:"new_value,omitempty"`
	CreatedAt string `json:"created_at"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PaginatedActivity wraps feed pages with the next cursor.
type PaginatedActivity struct {
	Items      []Activity `json:"items"`
	NextCursor string     `json:"next_cursor"`
}

// CreateTask creates a root task in a module.
func (c *Client) CreateTask(ctx context.Context, moduleID, title string) (Task, error) {
	body := map[string]any{
		"module_id": moduleID,
		"title":     title,
	}
	var resp Task
	err := c.do(ctx, http.MethodPost, "v0/tasks", body, &resp)
	return resp, err
}

// CreateSubtask creates a subtask under a parent.
func (c *Client) CreateSubtask(ctx context.Context, moduleID, parentID, title string) (Task, error) {
	body := map[string]any{
		"module_id": moduleID,
		"parent_id": parentID,
		"title":     title,
	}
	var resp Task
	err := c.do(ctx, http.MethodPost, "v0/tasks", body, &resp)
	return resp, err
}

// GetTask fetches a task with its subtasks, comments and labels.
func (c *Client) GetTask(ctx context.Context, id string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodGet, "v0/tasks/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// ChangeStatus moves a task through the board.
func (c *Client) ChangeStatus(ctx context.Context, id, status string) (Task, error) {
	var resp Task
	endpoint := fmt.Sprintf("v0/tasks/%s/status", url.PathEscape(id))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"status": status}, &resp)
	return resp, err
}

// Reorder assigns the listed sibling tasks their positional order.
func (c *Client) Reorder(ctx context.Context, moduleID string, parentID *string, ids []string) error {
	body := map[string]any{
		"module_id": moduleID,
		"task_ids":  ids,
	}
	if parentID != nil {
		body["parent_id"] = *parentID
	}
	return c.do(ctx, http.MethodPost, "v0/tasks/reorder", body, nil)
}

// DeleteTask removes a task with its subtasks, comments and history.
func (c *Client) DeleteTask(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "v0/tasks/"+url.PathEscape(id), nil, nil)
}

// CommentTask adds a comment to a task.
func (c *Client) CommentTask(ctx context.Context, id, body string) (Comment, error) {
	var resp Comment
	endpoint := fmt.Sprintf("v0/tasks/%s/comments", url.PathEscape(id))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"body": body}, &resp)
	return resp, err
}

// TaskHistory returns the field-level change trail for a task.
func (c *Client) TaskHistory(ctx context.Context, id string, limit int) ([]History, error) {
	var resp []History
	endpoint := fmt.Sprintf("v0/tasks/%s/history", url.PathEscape(id))
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// ProjectActivity returns recent project feed entries.
func (c *Client) ProjectActivity(ctx context.Context, limit int) ([]Activity, error) {
	page, err := c.ProjectActivityPage(ctx, limit, "")
	return page.Items, err
}

// ProjectActivityPage returns a paginated feed listing.
func (c *Client) ProjectActivityPage(ctx context.Context, limit int, cursor string) (PaginatedActivity, error) {
	endpoint := c.projectPath("activity")
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	if cursor != "" {
		sep := "?"
		if strings.Contains(endpoint, "?") {
			sep = "&"
		}
		endpoint = fmt.Sprintf("%s%scursor=%s", endpoint, sep, url.QueryEscape(cursor))
	}
	var resp PaginatedActivity
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.ActorID != "":
		req.Header.Set("X-Actor-Id", c.ActorID)
		if c.ActorName != "" {
			req.Header.Set("X-Actor-Name", c.ActorName)
		}
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) projectPath(p string) string {
	project := url.PathEscape(c.ProjectID)
	return fmt.Sprintf("v0/projects/%s/%s", project, strings.TrimLeft(p, "/"))
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
