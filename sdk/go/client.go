package desklinesdk

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

// Client is a minimal Deskline HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Task represents the API task model (partial).
type Task struct {
	ID            string   `json:"id"`
	Title         string   `json:"title"`
	Status        string   `json:"status"`
	Priority      string   `json:"priority"`
	BillingStatus string   `json:"billing_status"`
	AssignedByID  string   `json:"assigned_by_id"`
	ClientID      *string  `json:"client_id,omitempty"`
	Assignees     []string `json:"assignees"`
	UpdatedAt     string   `json:"updated_at"`
}

// ClientAccount represents the API client model (partial).
type ClientAccount struct {
	ID            string  `json:"id"`
	ContactPerson string  `json:"contact_person"`
	CompanyName   string  `json:"company_name,omitempty"`
	IsGuest       bool    `json:"is_guest"`
	AccessExpiry  *string `json:"access_expiry,omitempty"`
	ManagerID     string  `json:"manager_id"`
}

// Notification represents an inbox entry.
type Notification struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Content   string `json:"content"`
	IsRead    bool   `json:"is_read"`
	SentByID  string `json:"sent_by_id"`
	SentToID  string `json:"sent_to_id"`
	CreatedAt string `json:"created_at"`
}

// Activity represents an audit trail entry.
type Activity struct {
	Seq       int64          `json:"seq"`
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Action    string         `json:"action"`
	Target    string         `json:"target"`
	UserID    string         `json:"user_id"`
	Details   map[string]any `json:"details,omitempty"`
	CreatedAt string         `json:"created_at"`
}

// Decision is the outcome of a policy resolution.
type Decision struct {
	Allow  bool   `json:"allow"`
	Reason string `json:"reason,omitempty"`
	Rule   string `json:"rule"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PaginatedTasks wraps task listings with cursors.
type PaginatedTasks struct {
	Items      []Task `json:"items"`
	NextCursor string `json:"next_cursor,omitempty"`
}

// CreateTask creates a task assigned to the given users.
func (c *Client) CreateTask(ctx context.Context, title string, assignees []string) (Task, error) {
	body := map[string]any{
		"title":     title,
		"assignees": assignees,
	}
	var resp Task
	err := c.do(ctx, http.MethodPost, "v0/tasks", body, &resp)
	return resp, err
}

// GetTask fetches a task by id.
func (c *Client) GetTask(ctx context.Context, id string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodGet, "v0/tasks/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// TransitionTask moves a task to a new status.
func (c *Client) TransitionTask(ctx context.Context, id, status string) (Task, error) {
	body := map[string]any{"status": status}
	var resp Task
	endpoint := fmt.Sprintf("v0/tasks/%s/transition", url.PathEscape(id))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// Tasks returns a paginated task listing.
func (c *Client) Tasks(ctx context.Context, limit int, cursor string) (PaginatedTasks, error) {
	endpoint := "v0/tasks"
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
	var resp PaginatedTasks
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// GetClient fetches a client account by id.
func (c *Client) GetClient(ctx context.Context, id string) (ClientAccount, error) {
	var resp ClientAccount
	err := c.do(ctx, http.MethodGet, "v0/clients/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// Notifications returns the acting user's inbox.
func (c *Client) Notifications(ctx context.Context, unreadOnly bool) ([]Notification, error) {
	endpoint := "v0/notifications"
	if unreadOnly {
		endpoint += "?unread=true"
	}
	var resp []Notification
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Activities returns recent audit trail entries.
func (c *Client) Activities(ctx context.Context, limit int) ([]Activity, error) {
	endpoint := "v0/activities"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp []Activity
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Resolve asks the policy engine whether the acting user may perform an
// action on a subject, without performing it.
func (c *Client) Resolve(ctx context.Context, action string, subject map[string]any) (Decision, error) {
	body := map[string]any{"action": action, "subject": subject}
	var resp Decision
	err := c.do(ctx, http.MethodPost, "v0/authz/resolve", body, &resp)
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
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
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

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
