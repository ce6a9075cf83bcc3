package taskmanagersdk

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

// Client is a minimal Task Manager HTTP API client.
type Client struct {
	BaseURL     string
	ProjectID   string
	APIKey      string
	BearerToken string
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

// Item represents the API work item model (partial).
type Item struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	Kind      string `json:"kind"`
	Title     string `json:"title"`
	Status    string `json:"status"`
	EpicID    string `json:"epic_id,omitempty"`
	StoryID   string `json:"story_id,omitempty"`
	SprintID  string `json:"sprint_id,omitempty"`
}

// NewItem holds the fields accepted when creating an item.
type NewItem struct {
	Kind        string `json:"kind"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	EpicID      string `json:"epic_id,omitempty"`
	StoryID     string `json:"story_id,omitempty"`
	SprintID    string `json:"sprint_id,omitempty"`
	Subtask     bool   `json:"subtask,omitempty"`
}

// StatusChange is the result of a status change. Outcome is "processed" or
// "unsupported"; Detail explains an unsupported change.
type StatusChange struct {
	Item       Item   `json:"item"`
	FromStatus string `json:"from_status"`
	Outcome    string `json:"outcome"`
	Detail     string `json:"detail,omitempty"`
}

type BacklogEntry struct {
	ItemID   string `json:"item_id"`
	ItemKind string `json:"item_kind"`
	Title    string `json:"title"`
	Lane     string `json:"lane"`
	SprintID string `json:"sprint_id,omitempty"`
	Position int    `json:"position"`
}

type Notification struct {
	ID            string `json:"id"`
	RecipientKind string `json:"recipient_kind"`
	RecipientID   string `json:"recipient_id"`
	ItemID        string `json:"item_id"`
	Message       string `json:"message"`
	CreatedAt     string `json:"created_at"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	ProjectID  string         `json:"project_id"`
	EntityID   string         `json:"entity_id"`
	EntityKind string         `json:"entity_kind"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// CreateItem creates a work item in the client's project.
func (c *Client) CreateItem(ctx context.Context, in NewItem) (Item, error) {
	var resp Item
	err := c.do(ctx, http.MethodPost, c.projectPath("items"), in, &resp)
	return resp, err
}

// GetItem fetches a work item by id.
func (c *Client) GetItem(ctx context.Context, id string) (Item, error) {
	var resp Item
	err := c.do(ctx, http.MethodGet, "v0/items/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// ListItems lists the project's items, optionally filtered by kind and status.
func (c *Client) ListItems(ctx context.Context, kind, status string) ([]Item, error) {
	q := url.Values{}
	if kind != "" {
		q.Set("kind", kind)
	}
	if status != "" {
		q.Set("status", status)
	}
	var resp struct {
		Items []Item `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, withQuery(c.projectPath("items"), q), nil, &resp)
	return resp.Items, err
}

// ChangeStatus moves an item to status and runs its lifecycle actions.
func (c *Client) ChangeStatus(ctx context.Context, id, status string) (StatusChange, error) {
	var resp StatusChange
	endpoint := fmt.Sprintf("v0/items/%s/status", url.PathEscape(id))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"status": status}, &resp)
	return resp, err
}

// ScheduleTask puts a task in a sprint.
func (c *Client) ScheduleTask(ctx context.Context, taskID, sprintID string) (Item, error) {
	var resp Item
	endpoint := fmt.Sprintf("v0/items/%s/sprint", url.PathEscape(taskID))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"sprint_id": sprintID}, &resp)
	return resp, err
}

// Backlog returns the project lane, or the ready lane of sprintID when set.
func (c *Client) Backlog(ctx context.Context, sprintID string) ([]BacklogEntry, error) {
	q := url.Values{}
	if sprintID != "" {
		q.Set("sprint_id", sprintID)
	}
	var resp []BacklogEntry
	err := c.do(ctx, http.MethodGet, withQuery(c.projectPath("backlog"), q), nil, &resp)
	return resp, err
}

// Notifications returns notifications recorded for an item, or all when itemID is empty.
func (c *Client) Notifications(ctx context.Context, itemID string) ([]Notification, error) {
	q := url.Values{}
	if itemID != "" {
		q.Set("item_id", itemID)
	}
	var resp []Notification
	err := c.do(ctx, http.MethodGet, withQuery(c.projectPath("notifications"), q), nil, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, withQuery(c.projectPath("events"), q), nil, &resp)
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

func withQuery(endpoint string, q url.Values) string {
	if len(q) == 0 {
		return endpoint
	}
	return endpoint + "?" + q.Encode()
}

func (c *Client) projectPath(p string) string {
	project := url.PathEscape(c.ProjectID)
	return fmt.Sprintf("v0/projects/%s/%s", project, strings.TrimLeft(p, "/"))
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
