package domain

import (
	"fmt"
	"net/mail"
	"net/url"
	"regexp"
	"strings"
	"time"
)

type Status string

const (
	StatusTodo       Status = "todo"
	StatusInProgress Status = "in-progress"
	StatusDone       Status = "done"
)

// Statuses lists the board columns in display order.
var Statuses = []Status{StatusTodo, StatusInProgress, StatusDone}

func ParseStatus(s string) (Status, error) {
	switch Status(strings.TrimSpace(s)) {
	case StatusTodo:
		return StatusTodo, nil
	case StatusInProgress:
		return StatusInProgress, nil
	case StatusDone:
		return StatusDone, nil
	}
	return "", ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", s)}
}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

func ParsePriority(s string) (Priority, error) {
	switch Priority(strings.TrimSpace(s)) {
	case PriorityLow:
		return PriorityLow, nil
	case PriorityMedium, "":
		return PriorityMedium, nil
	case PriorityHigh:
		return PriorityHigh, nil
	}
	return "", ValidationError{Field: "priority", Reason: fmt.Sprintf("unknown priority %q", s)}
}

type Role string

const (
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

func ParseRole(s string) (Role, error) {
	switch Role(strings.TrimSpace(s)) {
	case RoleAdmin:
		return RoleAdmin, nil
	case RoleMember:
		return RoleMember, nil
	}
	return "", ValidationError{Field: "role", Reason: fmt.Sprintf("unknown role %q", s)}
}

// ValidationError reports a malformed record at the boundary.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

type Team struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedBy string `json:"created_by"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type TeamMember struct {
	TeamID   string `json:"team_id"`
	UserID   string `json:"user_id"`
	Role     Role   `json:"role" enum:"admin,member"`
	JoinedAt string `json:"joined_at" format:"date-time"`
}

type User struct {
	UID         string `json:"uid"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
}

func NewUser(uid, email, displayName string) (User, error) {
	u := User{UID: strings.TrimSpace(uid), Email: strings.TrimSpace(email), DisplayName: strings.TrimSpace(displayName)}
	return u, u.Validate()
}

func (u User) Validate() error {
	if u.UID == "" {
		return ValidationError{Field: "uid", Reason: "required"}
	}
	if u.Email != "" {
		if _, err := mail.ParseAddress(u.Email); err != nil {
			return ValidationError{Field: "email", Reason: err.Error()}
		}
	}
	return nil
}

// Name returns the display name, falling back to email and uid.
func (u User) Name() string {
	switch {
	case u.DisplayName != "":
		return u.DisplayName
	case u.Email != "":
		return u.Email
	default:
		return u.UID
	}
}

var colorPattern = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

type Tag struct {
	ID      string `json:"id"`
	TeamID  string `json:"team_id"`
	TagName string `json:"tag_name"`
	Color   string `json:"color"`
}

func NewTag(id, teamID, name, color string) (Tag, error) {
	t := Tag{ID: strings.TrimSpace(id), TeamID: strings.TrimSpace(teamID), TagName: strings.TrimSpace(name), Color: strings.TrimSpace(color)}
	return t, t.Validate()
}

func (t Tag) Validate() error {
	if t.ID == "" {
		return ValidationError{Field: "tag.id", Reason: "required"}
	}
	if t.TeamID == "" {
		return ValidationError{Field: "tag.team_id", Reason: "required"}
	}
	if t.TagName == "" {
		return ValidationError{Field: "tag.tag_name", Reason: "required"}
	}
	if !colorPattern.MatchString(t.Color) {
		return ValidationError{Field: "tag.color", Reason: fmt.Sprintf("%q is not #rrggbb", t.Color)}
	}
	return nil
}

type ProjectStatus string

const (
	ProjectActive   ProjectStatus = "active"
	ProjectArchived ProjectStatus = "archived"
)

// ProjectURL is a labelled link attached to a project.
type ProjectURL struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Link  string `json:"link"`
}

func (u ProjectURL) Validate() error {
	if strings.TrimSpace(u.Label) == "" {
		return ValidationError{Field: "url.label", Reason: "required"}
	}
	parsed, err := url.Parse(strings.TrimSpace(u.Link))
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return ValidationError{Field: "url.link", Reason: fmt.Sprintf("%q is not an absolute url", u.Link)}
	}
	return nil
}

type Project struct {
	ID          string        `json:"id"`
	TeamID      string        `json:"team_id"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	Status      ProjectStatus `json:"status" enum:"active,archived"`
	URLs        []ProjectURL  `json:"urls"`
	CreatedBy   string        `json:"created_by"`
	CreatedAt   string        `json:"created_at" format:"date-time"`
	UpdatedAt   string        `json:"updated_at" format:"date-time"`
}

// ProjectPatch lists project fields to change; nil fields are left alone.
type ProjectPatch struct {
	Name        *string
	Description *string
	URLs        *[]ProjectURL
}

func (p ProjectPatch) IsEmpty() bool {
	return p.Name == nil && p.Description == nil && p.URLs == nil
}

func (p ProjectPatch) Validate() error {
	if p.Name != nil && strings.TrimSpace(*p.Name) == "" {
		return ValidationError{Field: "name", Reason: "required"}
	}
	if p.URLs != nil {
		for _, u := range *p.URLs {
			if err := u.Validate(); err != nil {
				return err
			}
		}
	}
	return nil
}

// Invite is a short code that lets a user join a team as a member.
type Invite struct {
	Code      string `json:"code"`
	TeamID    string `json:"team_id"`
	CreatedBy string `json:"created_by"`
	CreatedAt string `json:"created_at" format:"date-time"`
	ExpiresAt string `json:"expires_at" format:"date-time"`
}

// NormalizeInviteCode strips whitespace and upper-cases a typed code.
func NormalizeInviteCode(code string) string {
	code = strings.ToUpper(strings.Join(strings.Fields(code), ""))
	if len(code) > 64 {
		code = code[:64]
	}
	return code
}

type Subtask struct {
	ID        string `json:"id"`
	TaskID    string `json:"task_id"`
	Title     string `json:"title"`
	Completed bool   `json:"completed"`
	CreatedAt string `json:"created_at,omitempty" format:"date-time"`
}

func NewSubtask(id, taskID, title string, completed bool) (Subtask, error) {
	s := Subtask{ID: strings.TrimSpace(id), TaskID: strings.TrimSpace(taskID), Title: strings.TrimSpace(title), Completed: completed}
	return s, s.Validate()
}

func (s Subtask) Validate() error {
	if s.ID == "" {
		return ValidationError{Field: "subtask.id", Reason: "required"}
	}
	if s.TaskID == "" {
		return ValidationError{Field: "subtask.task_id", Reason: "required"}
	}
	if s.Title == "" {
		return ValidationError{Field: "subtask.title", Reason: "required"}
	}
	return nil
}

type Task struct {
	ID            string     `json:"id"`
	ProjectID     string     `json:"project_id"`
	TeamID        string     `json:"team_id"`
	Title         string     `json:"title"`
	Description   string     `json:"description,omitempty"`
	Status        Status     `json:"status" enum:"todo,in-progress,done"`
	Priority      Priority   `json:"priority" enum:"low,medium,high"`
	AssignedToIDs []string   `json:"assigned_to_ids"`
	TagIDs        []string   `json:"tag_ids"`
	DueDate       *time.Time `json:"due_date,omitempty" format:"date-time"`
	IsArchived    bool       `json:"is_archived"`
	ArchivedAt    *string    `json:"archived_at,omitempty" format:"date-time"`
	ArchivedBy    *string    `json:"archived_by,omitempty"`
	CreatedBy     string     `json:"created_by"`
	CreatedAt     string     `json:"created_at" format:"date-time"`
	UpdatedAt     string     `json:"updated_at" format:"date-time"`
}

func (t Task) Validate() error {
	if strings.TrimSpace(t.ID) == "" {
		return ValidationError{Field: "task.id", Reason: "required"}
	}
	if strings.TrimSpace(t.ProjectID) == "" {
		return ValidationError{Field: "task.project_id", Reason: "required"}
	}
	if strings.TrimSpace(t.TeamID) == "" {
		return ValidationError{Field: "task.team_id", Reason: "required"}
	}
	if strings.TrimSpace(t.Title) == "" {
		return ValidationError{Field: "task.title", Reason: "required"}
	}
	if _, err := ParseStatus(string(t.Status)); err != nil {
		return err
	}
	if _, err := ParsePriority(string(t.Priority)); err != nil {
		return err
	}
	for _, id := range t.AssignedToIDs {
		if strings.TrimSpace(id) == "" {
			return ValidationError{Field: "task.assigned_to_ids", Reason: "empty user id"}
		}
	}
	return nil
}

// IsAssignedTo reports whether userID is among the task's assignees.
func (t Task) IsAssignedTo(userID string) bool {
	for _, id := range t.AssignedToIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// BoardTask is a task with its assignees, subtasks and tags resolved.
type BoardTask struct {
	Task
	AssignedTo []User    `json:"assigned_to"`
	Subtasks   []Subtask `json:"subtasks"`
	Tags       []Tag     `json:"tags"`
}

// NewBoardTask validates every part of a resolved task.
func NewBoardTask(t Task, assignees []User, subtasks []Subtask, tags []Tag) (BoardTask, error) {
	if err := t.Validate(); err != nil {
		return BoardTask{}, err
	}
	for _, u := range assignees {
		if err := u.Validate(); err != nil {
			return BoardTask{}, err
		}
	}
	for _, s := range subtasks {
		if err := s.Validate(); err != nil {
			return BoardTask{}, err
		}
		if s.TaskID != t.ID {
			return BoardTask{}, ValidationError{Field: "subtask.task_id", Reason: fmt.Sprintf("subtask %s belongs to %s, not %s", s.ID, s.TaskID, t.ID)}
		}
	}
	for _, tag := range tags {
		if err := tag.Validate(); err != nil {
			return BoardTask{}, err
		}
	}
	return BoardTask{Task: t, AssignedTo: assignees, Subtasks: subtasks, Tags: tags}, nil
}

// Clone returns a deep copy.
func (t BoardTask) Clone() BoardTask {
	c := t
	c.AssignedToIDs = cloneSlice(t.AssignedToIDs)
	c.TagIDs = cloneSlice(t.TagIDs)
	c.AssignedTo = cloneSlice(t.AssignedTo)
	c.Subtasks = cloneSlice(t.Subtasks)
	c.Tags = cloneSlice(t.Tags)
	if t.DueDate != nil {
		d := *t.DueDate
		c.DueDate = &d
	}
	if t.ArchivedAt != nil {
		v := *t.ArchivedAt
		c.ArchivedAt = &v
	}
	if t.ArchivedBy != nil {
		v := *t.ArchivedBy
		c.ArchivedBy = &v
	}
	return c
}

// TagIDSet returns tag ids from both the id list and the resolved tags.
func (t BoardTask) TagIDSet() []string {
	if len(t.Tags) == 0 {
		return t.TagIDs
	}
	ids := make([]string, 0, len(t.Tags))
	for _, tag := range t.Tags {
		ids = append(ids, tag.ID)
	}
	return ids
}

func cloneSlice[T any](in []T) []T {
	if in == nil {
		return nil
	}
	out := make([]T, len(in))
	copy(out, in)
	return out
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	TeamID     string `json:"team_id,omitempty"`
	ProjectID  string `json:"project_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// TaskCounts is the per-project breakdown shown on the admin dashboard.
type TaskCounts struct {
	All        int `json:"all"`
	Todo       int `json:"todo"`
	InProgress int `json:"in_progress"`
	Done       int `json:"done"`
}

// TaskDraft is the input for creating a task.
type TaskDraft struct {
	ProjectID     string     `json:"project_id"`
	TeamID        string     `json:"team_id"`
	Title         string     `json:"title"`
	Description   string     `json:"description,omitempty"`
	Priority      Priority   `json:"priority,omitempty"`
	DueDate       *time.Time `json:"due_date,omitempty"`
	AssignedToIDs []string   `json:"assigned_to_ids,omitempty"`
	TagIDs        []string   `json:"tag_ids,omitempty"`
	SubtaskTitles []string   `json:"subtask_titles,omitempty"`
}

// TaskPatch lists core task fields to change; nil fields are left alone.
type TaskPatch struct {
	Title         *string
	Description   *string
	Priority      *Priority
	DueDate       *time.Time
	ClearDueDate  bool
	AssignedToIDs *[]string
}

func (p TaskPatch) IsEmpty() bool {
	return p.Title == nil && p.Description == nil && p.Priority == nil && p.DueDate == nil && !p.ClearDueDate && p.AssignedToIDs == nil
}
