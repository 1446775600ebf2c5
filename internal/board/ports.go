package board

import (
	"context"

	"teamboard/internal/domain"
)

// Remote is the persistence side the board reads from and writes through.
type Remote interface {
	FetchProjectTasks(ctx context.Context, projectID, teamID string) ([]domain.BoardTask, error)
	FetchTeamMembers(ctx context.Context, teamID string) ([]domain.User, error)
	FetchAvailableTags(ctx context.Context, teamID string) ([]domain.Tag, error)
	UpdateTaskStatus(ctx context.Context, taskID string, status domain.Status, actorID, teamID string) error
	// UpdateSubtaskCompletion persists the flag and re-derives the parent status.
	UpdateSubtaskCompletion(ctx context.Context, subtaskID, taskID string, completed bool, actorID, teamID string) error
	ArchiveTask(ctx context.Context, taskID, actorID, teamID string) error
}

// Editor carries the non-optimistic task editing operations.
type Editor interface {
	CreateTask(ctx context.Context, draft domain.TaskDraft, actorID string) (domain.Task, error)
	UpdateTask(ctx context.Context, taskID string, patch domain.TaskPatch, actorID, teamID string) error
	SetTaskTags(ctx context.Context, taskID string, tagIDs []string, actorID, teamID string) error
	AddSubtask(ctx context.Context, taskID, title, actorID, teamID string) (domain.Subtask, error)
	RenameSubtask(ctx context.Context, subtaskID, taskID, title, actorID, teamID string) error
	RemoveSubtask(ctx context.Context, subtaskID, taskID, actorID, teamID string) error
}

type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelError   Level = "error"
)

type Notification struct {
	Level   Level
	Message string
	TaskID  string
	Err     error
}

// Notifier receives user-facing outcomes of board operations.
type Notifier interface {
	Notify(Notification)
}

type NotifierFunc func(Notification)

func (f NotifierFunc) Notify(n Notification) { f(n) }

type nopNotifier struct{}

func (nopNotifier) Notify(Notification) {}
