package teamboardsdk

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

	"teamboard/internal/domain"
)

// Client is a Teamboard HTTP API client. It satisfies the board's Remote and
// Editor ports; the acting user is whoever the credentials identify, so the
// actorID arguments of those ports are not sent.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	// ActorID is sent as X-Actor-Id when no credential is set.
	ActorID    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	TeamID     string         `json:"team_id"`
	ProjectID  string         `json:"project_id"`
	EntityID   string         `json:"entity_id"`
	EntityKind string         `json:"entity_kind"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// WhoAmI describes the authenticated caller.
type WhoAmI struct {
	UserID string        `json:"user_id"`
	Source string        `json:"source"`
	User   *domain.User  `json:"user,omitempty"`
	Teams  []domain.Team `json:"teams"`
}

type ProjectCounts struct {
	Project domain.Project    `json:"project"`
	Counts  domain.TaskCounts `json:"counts"`
}

// task is the wire form of a task. Due dates are decoded leniently.
type task struct {
	ID            string           `json:"id"`
	ProjectID     string           `json:"project_id"`
	TeamID        string           `json:"team_id"`
	Title         string           `json:"title"`
	Description   string           `json:"description"`
	Status        domain.Status    `json:"status"`
	Priority      domain.Priority  `json:"priority"`
	AssignedToIDs []string         `json:"assigned_to_ids"`
	TagIDs        []string         `json:"tag_ids"`
	DueDate       json.RawMessage  `json:"due_date"`
	IsArchived    bool             `json:"is_archived"`
	ArchivedAt    *string          `json:"archived_at"`
	ArchivedBy    *string          `json:"archived_by"`
	CreatedBy     string           `json:"created_by"`
	CreatedAt     string           `json:"created_at"`
	UpdatedAt     string           `json:"updated_at"`
	AssignedTo    []domain.User    `json:"assigned_to"`
	Subtasks      []domain.Subtask `json:"subtasks"`
	Tags          []domain.Tag     `json:"tags"`
}

func (t task) toDomain() domain.Task {
	out := domain.Task{
		ID:            t.ID,
		ProjectID:     t.ProjectID,
		TeamID:        t.TeamID,
		Title:         t.Title,
		Description:   t.Description,
		Status:        t.Status,
		Priority:      t.Priority,
		AssignedToIDs: t.AssignedToIDs,
		TagIDs:        t.TagIDs,
		IsArchived:    t.IsArchived,
		ArchivedAt:    t.ArchivedAt,
		ArchivedBy:    t.ArchivedBy,
		CreatedBy:     t.CreatedBy,
		CreatedAt:     t.CreatedAt,
		UpdatedAt:     t.UpdatedAt,
	}
	if len(t.DueDate) > 0 {
		out.DueDate = domain.ToDate(t.DueDate)
	}
	return out
}

// board validates the resolved task the same way the store does.
func (t task) board() (domain.BoardTask, error) {
	return domain.NewBoardTask(t.toDomain(), t.AssignedTo, t.Subtasks, t.Tags)
}

func teamPath(teamID string, parts ...string) string {
	p := "v0/teams/" + url.PathEscape(teamID)
	for _, part := range parts {
		p += "/" + strings.TrimLeft(part, "/")
	}
	return p
}

func taskPath(teamID, taskID string, parts ...string) string {
	return teamPath(teamID, append([]string{"tasks", url.PathEscape(taskID)}, parts...)...)
}

// Me returns the authenticated principal and their teams.
func (c *Client) Me(ctx context.Context) (WhoAmI, error) {
	var resp WhoAmI
	err := c.do(ctx, http.MethodGet, "v0/me", nil, &resp)
	return resp, err
}

// DevLogin mints a development token and stores it on the client.
func (c *Client) DevLogin(ctx context.Context, userID, email, name string) (string, error) {
	var resp struct {
		Token string `json:"token"`
	}
	body := map[string]any{"user_id": userID, "email": email, "name": name}
	if err := c.do(ctx, http.MethodPost, "v0/auth/dev/login", body, &resp); err != nil {
		return "", err
	}
	c.BearerToken = resp.Token
	return resp.Token, nil
}

func (c *Client) Teams(ctx context.Context) ([]domain.Team, error) {
	var resp []domain.Team
	err := c.do(ctx, http.MethodGet, "v0/teams", nil, &resp)
	return resp, err
}

func (c *Client) CreateTeam(ctx context.Context, name string) (domain.Team, error) {
	var resp domain.Team
	err := c.do(ctx, http.MethodPost, "v0/teams", map[string]any{"name": name}, &resp)
	return resp, err
}

// Role returns the caller's role in a team.
func (c *Client) RenameTeam(ctx context.Context, teamID, name string) (domain.Team, error) {
	var resp domain.Team
	err := c.do(ctx, http.MethodPatch, teamPath(teamID), map[string]any{"name": name}, &resp)
	return resp, err
}

func (c *Client) CreateInvite(ctx context.Context, teamID string) (domain.Invite, error) {
	var resp domain.Invite
	err := c.do(ctx, http.MethodPost, teamPath(teamID, "invites"), nil, &resp)
	return resp, err
}

// JoinTeam redeems an invitation code for the authenticated user.
func (c *Client) JoinTeam(ctx context.Context, code string) (domain.TeamMember, error) {
	var resp domain.TeamMember
	err := c.do(ctx, http.MethodPost, "v0/invites/join", map[string]any{"code": code}, &resp)
	return resp, err
}

func (c *Client) Role(ctx context.Context, teamID string) (domain.Role, error) {
	var resp struct {
		Role domain.Role `json:"role"`
	}
	err := c.do(ctx, http.MethodGet, teamPath(teamID, "role"), nil, &resp)
	return resp.Role, err
}

func (c *Client) PutMember(ctx context.Context, teamID, userID string, role domain.Role) (domain.TeamMember, error) {
	var resp domain.TeamMember
	err := c.do(ctx, http.MethodPut, teamPath(teamID, "members", url.PathEscape(userID)), map[string]any{"role": role}, &resp)
	return resp, err
}

func (c *Client) RemoveMember(ctx context.Context, teamID, userID string) error {
	return c.do(ctx, http.MethodDelete, teamPath(teamID, "members", url.PathEscape(userID)), nil, nil)
}

func (c *Client) Projects(ctx context.Context, teamID string) ([]domain.Project, error) {
	var resp []domain.Project
	err := c.do(ctx, http.MethodGet, teamPath(teamID, "projects"), nil, &resp)
	return resp, err
}

func (c *Client) CreateProject(ctx context.Context, teamID, name, description string) (domain.Project, error) {
	var resp domain.Project
	body := map[string]any{"name": name, "description": description}
	err := c.do(ctx, http.MethodPost, teamPath(teamID, "projects"), body, &resp)
	return resp, err
}

func (c *Client) ArchivedProjects(ctx context.Context, teamID string) ([]domain.Project, error) {
	var resp []domain.Project
	err := c.do(ctx, http.MethodGet, teamPath(teamID, "projects", "archived"), nil, &resp)
	return resp, err
}

// UpdateProject sends only the fields set in patch.
func (c *Client) UpdateProject(ctx context.Context, projectID string, patch domain.ProjectPatch) (domain.Project, error) {
	body := map[string]any{}
	if patch.Name != nil {
		body["name"] = *patch.Name
	}
	if patch.Description != nil {
		body["description"] = *patch.Description
	}
	if patch.URLs != nil {
		body["urls"] = *patch.URLs
	}
	var resp domain.Project
	err := c.do(ctx, http.MethodPatch, "v0/projects/"+url.PathEscape(projectID), body, &resp)
	return resp, err
}

func (c *Client) ArchiveProject(ctx context.Context, projectID string) (domain.Project, error) {
	var resp domain.Project
	err := c.do(ctx, http.MethodPost, "v0/projects/"+url.PathEscape(projectID)+"/archive", nil, &resp)
	return resp, err
}

func (c *Client) UnarchiveProject(ctx context.Context, projectID string) (domain.Project, error) {
	var resp domain.Project
	err := c.do(ctx, http.MethodPost, "v0/projects/"+url.PathEscape(projectID)+"/unarchive", nil, &resp)
	return resp, err
}

func (c *Client) CreateTag(ctx context.Context, teamID, name, color string) (domain.Tag, error) {
	var resp domain.Tag
	body := map[string]any{"tag_name": name, "color": color}
	err := c.do(ctx, http.MethodPost, teamPath(teamID, "tags"), body, &resp)
	return resp, err
}

// FetchProjectTasks returns the active tasks of a project, fully resolved.
func (c *Client) FetchProjectTasks(ctx context.Context, projectID, teamID string) ([]domain.BoardTask, error) {
	return c.boardTasks(ctx, teamPath(teamID, "projects", url.PathEscape(projectID), "tasks"))
}

// ArchivedTasks returns archived tasks, newest first.
func (c *Client) ArchivedTasks(ctx context.Context, projectID, teamID string) ([]domain.BoardTask, error) {
	return c.boardTasks(ctx, teamPath(teamID, "projects", url.PathEscape(projectID), "archived"))
}

// UserTasks returns active tasks assigned to userID, or to the caller when empty.
func (c *Client) UserTasks(ctx context.Context, teamID, userID string) ([]domain.BoardTask, error) {
	endpoint := teamPath(teamID, "dashboard", "tasks")
	if userID != "" {
		endpoint += "?user_id=" + url.QueryEscape(userID)
	}
	return c.boardTasks(ctx, endpoint)
}

func (c *Client) ProjectCounts(ctx context.Context, teamID string) ([]ProjectCounts, error) {
	var resp []ProjectCounts
	err := c.do(ctx, http.MethodGet, teamPath(teamID, "dashboard", "projects"), nil, &resp)
	return resp, err
}

func (c *Client) boardTasks(ctx context.Context, endpoint string) ([]domain.BoardTask, error) {
	var resp []task
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &resp); err != nil {
		return nil, err
	}
	out := make([]domain.BoardTask, 0, len(resp))
	for _, t := range resp {
		bt, err := t.board()
		if err != nil {
			return nil, fmt.Errorf("task %s: %w", t.ID, err)
		}
		out = append(out, bt)
	}
	return out, nil
}

func (c *Client) FetchTeamMembers(ctx context.Context, teamID string) ([]domain.User, error) {
	var resp []domain.User
	err := c.do(ctx, http.MethodGet, teamPath(teamID, "members"), nil, &resp)
	return resp, err
}

func (c *Client) FetchAvailableTags(ctx context.Context, teamID string) ([]domain.Tag, error) {
	var resp []domain.Tag
	err := c.do(ctx, http.MethodGet, teamPath(teamID, "tags"), nil, &resp)
	return resp, err
}

func (c *Client) UpdateTaskStatus(ctx context.Context, taskID string, status domain.Status, actorID, teamID string) error {
	return c.do(ctx, http.MethodPut, taskPath(teamID, taskID, "status"), map[string]any{"status": status}, nil)
}

func (c *Client) UpdateSubtaskCompletion(ctx context.Context, subtaskID, taskID string, completed bool, actorID, teamID string) error {
	endpoint := taskPath(teamID, taskID, "subtasks", url.PathEscape(subtaskID), "completion")
	return c.do(ctx, http.MethodPut, endpoint, map[string]any{"completed": completed}, nil)
}

func (c *Client) ArchiveTask(ctx context.Context, taskID, actorID, teamID string) error {
	return c.do(ctx, http.MethodPost, taskPath(teamID, taskID, "archive"), nil, nil)
}

func (c *Client) UnarchiveTask(ctx context.Context, taskID, teamID string) error {
	return c.do(ctx, http.MethodPost, taskPath(teamID, taskID, "unarchive"), nil, nil)
}

// ArchiveAllDone archives done tasks of a project and returns how many moved.
func (c *Client) ArchiveAllDone(ctx context.Context, projectID, teamID string) (int, error) {
	var resp struct {
		Archived int `json:"archived"`
	}
	err := c.do(ctx, http.MethodPost, teamPath(teamID, "projects", url.PathEscape(projectID), "archive-done"), nil, &resp)
	return resp.Archived, err
}

func (c *Client) CreateTask(ctx context.Context, draft domain.TaskDraft, actorID string) (domain.Task, error) {
	body := map[string]any{
		"project_id": draft.ProjectID,
		"title":      draft.Title,
	}
	if draft.Description != "" {
		body["description"] = draft.Description
	}
	if draft.Priority != "" {
		body["priority"] = draft.Priority
	}
	if len(draft.AssignedToIDs) > 0 {
		body["assigned_to_ids"] = draft.AssignedToIDs
	}
	if len(draft.TagIDs) > 0 {
		body["tag_ids"] = draft.TagIDs
	}
	if len(draft.SubtaskTitles) > 0 {
		body["subtasks"] = draft.SubtaskTitles
	}
	if draft.DueDate != nil {
		body["due_date"] = draft.DueDate.UTC().Format(time.RFC3339)
	}
	var resp task
	if err := c.do(ctx, http.MethodPost, teamPath(draft.TeamID, "tasks"), body, &resp); err != nil {
		return domain.Task{}, err
	}
	return resp.toDomain(), nil
}

func (c *Client) UpdateTask(ctx context.Context, taskID string, patch domain.TaskPatch, actorID, teamID string) error {
	body := map[string]any{}
	if patch.Title != nil {
		body["title"] = *patch.Title
	}
	if patch.Description != nil {
		body["description"] = *patch.Description
	}
	if patch.Priority != nil {
		body["priority"] = *patch.Priority
	}
	switch {
	case patch.ClearDueDate:
		body["due_date"] = nil
	case patch.DueDate != nil:
		body["due_date"] = patch.DueDate.UTC().Format(time.RFC3339)
	}
	if patch.AssignedToIDs != nil {
		ids := *patch.AssignedToIDs
		if ids == nil {
			ids = []string{}
		}
		body["assigned_to_ids"] = ids
	}
	return c.do(ctx, http.MethodPatch, taskPath(teamID, taskID), body, nil)
}

func (c *Client) SetTaskTags(ctx context.Context, taskID string, tagIDs []string, actorID, teamID string) error {
	if tagIDs == nil {
		tagIDs = []string{}
	}
	return c.do(ctx, http.MethodPut, taskPath(teamID, taskID, "tags"), map[string]any{"tag_ids": tagIDs}, nil)
}

func (c *Client) DeleteTask(ctx context.Context, taskID, teamID string) error {
	return c.do(ctx, http.MethodDelete, taskPath(teamID, taskID), nil, nil)
}

func (c *Client) AddSubtask(ctx context.Context, taskID, title, actorID, teamID string) (domain.Subtask, error) {
	var resp domain.Subtask
	err := c.do(ctx, http.MethodPost, taskPath(teamID, taskID, "subtasks"), map[string]any{"title": title}, &resp)
	return resp, err
}

func (c *Client) RenameSubtask(ctx context.Context, subtaskID, taskID, title, actorID, teamID string) error {
	return c.do(ctx, http.MethodPatch, taskPath(teamID, taskID, "subtasks", url.PathEscape(subtaskID)), map[string]any{"title": title}, nil)
}

func (c *Client) RemoveSubtask(ctx context.Context, subtaskID, taskID, actorID, teamID string) error {
	return c.do(ctx, http.MethodDelete, taskPath(teamID, taskID, "subtasks", url.PathEscape(subtaskID)), nil, nil)
}

// Events returns recent team events.
func (c *Client) Events(ctx context.Context, teamID string, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, teamID, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, teamID string, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := teamPath(teamID, "events")
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
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
	case c.ActorID != "":
		req.Header.Set("X-Actor-Id", c.ActorID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var envelope struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &envelope) == nil {
			apiErr.Code = envelope.Error.Code
			apiErr.Message = envelope.Error.Message
		}
		return apiErr
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
