package server

import (
	"encoding/json"
	"time"

	"teamboard/internal/domain"
	"teamboard/internal/engine"
)

// Request payloads

type CreateTeamRequest struct {
	Name        string `json:"name"`
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
}

type UpsertMemberRequest struct {
	Role        string `json:"role" enum:"admin,member"`
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
}

type UpdateUserRequest struct {
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
}

type CreateProjectRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// UpdateProjectRequest fields are optional; a present urls list replaces the links.
type UpdateProjectRequest struct {
	Name        *string             `json:"name,omitempty"`
	Description *string             `json:"description,omitempty"`
	URLs        []domain.ProjectURL `json:"urls,omitempty"`
}

type RenameTeamRequest struct {
	Name string `json:"name"`
}

type JoinTeamRequest struct {
	Code        string `json:"code"`
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
}

type CreateTagRequest struct {
	TagName string `json:"tag_name"`
	Color   string `json:"color" pattern:"^#[0-9a-fA-F]{6}$"`
}

type CreateTaskRequest struct {
	ProjectID     string   `json:"project_id"`
	Title         string   `json:"title"`
	Description   string   `json:"description,omitempty"`
	Priority      string   `json:"priority,omitempty" enum:"low,medium,high"`
	DueDate       *string  `json:"due_date,omitempty"`
	AssignedToIDs []string `json:"assigned_to_ids,omitempty"`
	TagIDs        []string `json:"tag_ids,omitempty"`
	Subtasks      []string `json:"subtasks,omitempty"`
}

// UpdateTaskRequest fields are optional; an explicit null due_date clears it.
type UpdateTaskRequest struct {
	Title         *string  `json:"title,omitempty"`
	Description   *string  `json:"description,omitempty"`
	Priority      *string  `json:"priority,omitempty" enum:"low,medium,high"`
	DueDate       *string  `json:"due_date,omitempty" nullable:"true"`
	AssignedToIDs []string `json:"assigned_to_ids,omitempty"`
}

type UpdateStatusRequest struct {
	Status string `json:"status" enum:"todo,in-progress,done"`
}

type SetTagsRequest struct {
	TagIDs []string `json:"tag_ids"`
}

type SubtaskRequest struct {
	Title string `json:"title"`
}

type CompletionRequest struct {
	Completed bool `json:"completed"`
}

type DevLoginRequest struct {
	UserID string `json:"user_id"`
	Email  string `json:"email,omitempty"`
	Name   string `json:"name,omitempty"`
}

type CreateAPIKeyRequest struct {
	Name string `json:"name,omitempty"`
}

// Responses

type TaskResponse struct {
	ID            string           `json:"id"`
	ProjectID     string           `json:"project_id"`
	TeamID        string           `json:"team_id"`
	Title         string           `json:"title"`
	Description   string           `json:"description,omitempty"`
	Status        domain.Status    `json:"status" enum:"todo,in-progress,done"`
	Priority      domain.Priority  `json:"priority" enum:"low,medium,high"`
	AssignedToIDs []string         `json:"assigned_to_ids"`
	TagIDs        []string         `json:"tag_ids"`
	DueDate       *string          `json:"due_date,omitempty" format:"date-time"`
	IsArchived    bool             `json:"is_archived"`
	ArchivedAt    *string          `json:"archived_at,omitempty" format:"date-time"`
	ArchivedBy    *string          `json:"archived_by,omitempty"`
	CreatedBy     string           `json:"created_by"`
	CreatedAt     string           `json:"created_at" format:"date-time"`
	UpdatedAt     string           `json:"updated_at" format:"date-time"`
	AssignedTo    []domain.User    `json:"assigned_to,omitempty"`
	Subtasks      []domain.Subtask `json:"subtasks,omitempty"`
	Tags          []domain.Tag     `json:"tags,omitempty"`
}

type SubtaskCompletionResponse struct {
	Subtask    string        `json:"subtask_id"`
	Completed  bool          `json:"completed"`
	TaskStatus domain.Status `json:"task_status" enum:"todo,in-progress,done"`
}

type RoleResponse struct {
	TeamID string      `json:"team_id"`
	UserID string      `json:"user_id"`
	Role   domain.Role `json:"role" enum:"admin,member"`
}

type ArchiveDoneResponse struct {
	Archived int `json:"archived"`
	Limit    int `json:"limit"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	TeamID     string         `json:"team_id,omitempty"`
	ProjectID  string         `json:"project_id,omitempty"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

type WhoAmIResponse struct {
	UserID string        `json:"user_id"`
	Source string        `json:"source"`
	User   *domain.User  `json:"user,omitempty"`
	Teams  []domain.Team `json:"teams"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

type APIKeyResponse struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Name      string `json:"name,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type CreatedAPIKeyResponse struct {
	APIKeyResponse
	Key string `json:"key"`
}

type ProjectCountsResponse = engine.ProjectCounts

// Conversion helpers

func taskResponse(t domain.Task) TaskResponse {
	return TaskResponse{
		ID:            t.ID,
		ProjectID:     t.ProjectID,
		TeamID:        t.TeamID,
		Title:         t.Title,
		Description:   t.Description,
		Status:        t.Status,
		Priority:      t.Priority,
		AssignedToIDs: nonNilSlice(t.AssignedToIDs),
		TagIDs:        nonNilSlice(t.TagIDs),
		DueDate:       formatDue(t.DueDate),
		IsArchived:    t.IsArchived,
		ArchivedAt:    t.ArchivedAt,
		ArchivedBy:    t.ArchivedBy,
		CreatedBy:     t.CreatedBy,
		CreatedAt:     t.CreatedAt,
		UpdatedAt:     t.UpdatedAt,
	}
}

func boardTaskResponse(t domain.BoardTask) TaskResponse {
	res := taskResponse(t.Task)
	res.AssignedTo = t.AssignedTo
	res.Subtasks = t.Subtasks
	res.Tags = t.Tags
	return res
}

func mapBoardTasks(items []domain.BoardTask) []TaskResponse {
	out := make([]TaskResponse, 0, len(items))
	for _, t := range items {
		out = append(out, boardTaskResponse(t))
	}
	return out
}

func formatDue(d *time.Time) *string {
	if d == nil {
		return nil
	}
	s := d.UTC().Format(time.RFC3339)
	return &s
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		TeamID:     e.TeamID,
		ProjectID:  e.ProjectID,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    decodeJSONMap(strPtr(e.Payload)),
	}
}

func apiKeyResponse(k domain.APIKey) APIKeyResponse {
	return APIKeyResponse{ID: k.ID, UserID: k.UserID, Name: k.Name, CreatedAt: k.CreatedAt}
}

func decodeJSONMap(raw *string) map[string]any {
	if raw == nil || *raw == "" {
		return nil
	}
	var tmp any
	if err := json.Unmarshal([]byte(*raw), &tmp); err != nil {
		return nil
	}
	if obj, ok := tmp.(map[string]any); ok {
		return obj
	}
	return nil
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}

func strPtr(in string) *string {
	return &in
}
