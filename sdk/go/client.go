package orbitsdk

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

// Client is a minimal Orbit HTTP API client.
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

// Subtask represents one step of a mission.
type Subtask struct {
	ID                string `json:"id"`
	Title             string `json:"title"`
	EstimatedDuration int    `json:"estimated_duration"`
	Difficulty        string `json:"difficulty"`
	Status            string `json:"status"`
	Position          int    `json:"position"`
}

// Mission represents the API mission model.
type Mission struct {
	ID             string    `json:"id"`
	OwnerID        string    `json:"owner_id"`
	Title          string    `json:"title"`
	Description    string    `json:"description,omitempty"`
	Status         string    `json:"status"`
	Duration       int       `json:"duration"`
	ActualDuration *int      `json:"actual_duration,omitempty"`
	Subtasks       []Subtask `json:"subtasks,omitempty"`
	Suggestions    []string  `json:"suggestions,omitempty"`
	AIProvider     string    `json:"ai_provider,omitempty"`
	Template       string    `json:"template,omitempty"`
	CreatedAt      string    `json:"created_at"`
	StartedAt      *string   `json:"started_at,omitempty"`
	CompletedAt    *string   `json:"completed_at,omitempty"`
}

// Breakdown is the result of an AI task analysis.
type Breakdown struct {
	Title       string    `json:"title"`
	Provider    string    `json:"provider"`
	Subtasks    []Subtask `json:"subtasks"`
	Suggestions []string  `json:"suggestions,omitempty"`
}

// Achievement is an earned badge.
type Achievement struct {
	Label string `json:"label"`
	Icon  string `json:"icon,omitempty"`
}

// Stats is the derived statistics snapshot.
type Stats struct {
	TotalMissions      int           `json:"total_missions"`
	CompletedMissions  int           `json:"completed_missions"`
	ActiveMission      *Mission      `json:"active_mission,omitempty"`
	CurrentStreak      int           `json:"current_streak"`
	BestStreak         int           `json:"best_streak"`
	Achievements       []Achievement `json:"achievements,omitempty"`
	RecentAchievements []Achievement `json:"recent_achievements,omitempty"`
}

// Event represents a log entry.
type Event struct {
	ID        int64          `json:"id"`
	TS        string         `json:"ts"`
	Type      string         `json:"type"`
	MissionID string         `json:"mission_id,omitempty"`
	ActorID   string         `json:"actor_id,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PaginatedMissions wraps mission listings with cursors.
type PaginatedMissions struct {
	Items      []Mission `json:"items"`
	NextCursor string    `json:"next_cursor"`
}

// PaginatedEvents wraps event listings with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// CreateMission creates a mission.
func (c *Client) CreateMission(ctx context.Context, title, description string, duration int) (Mission, error) {
	body := map[string]any{"title": title}
	if description != "" {
		body["description"] = description
	}
	if duration > 0 {
		body["duration"] = duration
	}
	var resp Mission
	err := c.do(ctx, http.MethodPost, "v0/missions", body, &resp)
	return resp, err
}

// Missions returns a page of missions, optionally filtered by status.
func (c *Client) Missions(ctx context.Context, status string, limit int, cursor string) (PaginatedMissions, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := "v0/missions"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedMissions
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Mission fetches a single mission.
func (c *Client) Mission(ctx context.Context, id string) (Mission, error) {
	var resp Mission
	err := c.do(ctx, http.MethodGet, c.missionPath(id, ""), nil, &resp)
	return resp, err
}

// StartMission marks a mission in progress.
func (c *Client) StartMission(ctx context.Context, id string) (Mission, error) {
	var resp Mission
	err := c.do(ctx, http.MethodPost, c.missionPath(id, "start"), nil, &resp)
	return resp, err
}

// CompleteMission marks a mission complete.
func (c *Client) CompleteMission(ctx context.Context, id string) (Mission, error) {
	var resp Mission
	err := c.do(ctx, http.MethodPost, c.missionPath(id, "complete"), nil, &resp)
	return resp, err
}

// RevertMission puts a mission back to pending.
func (c *Client) RevertMission(ctx context.Context, id string) (Mission, error) {
	var resp Mission
	err := c.do(ctx, http.MethodPost, c.missionPath(id, "revert"), nil, &resp)
	return resp, err
}

// DeleteMission removes a mission. Deleting a missing mission is not an error.
func (c *Client) DeleteMission(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, c.missionPath(id, ""), nil, nil)
}

// Analyze asks the server to break a task into subtasks.
func (c *Client) Analyze(ctx context.Context, task string) (Breakdown, error) {
	var resp Breakdown
	err := c.do(ctx, http.MethodPost, "v0/breakdown", map[string]any{"task": task}, &resp)
	return resp, err
}

// BreakdownMission analyzes a mission and attaches the resulting subtasks.
func (c *Client) BreakdownMission(ctx context.Context, id string) (Mission, error) {
	var resp Mission
	err := c.do(ctx, http.MethodPost, c.missionPath(id, "breakdown"), nil, &resp)
	return resp, err
}

// Stats returns the owner's statistics snapshot.
func (c *Client) Stats(ctx context.Context) (Stats, error) {
	var resp Stats
	err := c.do(ctx, http.MethodGet, "v0/stats", nil, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	endpoint := "v0/events"
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
	var resp PaginatedEvents
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
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) missionPath(id, action string) string {
	p := "v0/missions/" + url.PathEscape(id)
	if action != "" {
		p += "/" + action
	}
	return p
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
