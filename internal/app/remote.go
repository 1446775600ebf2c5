package app

import (
	"context"

	"teamboard/internal/board"
	"teamboard/internal/domain"
	"teamboard/internal/engine"
)

var (
	_ board.Remote = LocalRemote{}
	_ board.Editor = LocalRemote{}
)

// LocalRemote serves a board straight from the workspace database. Every
// read is done as Actor so membership rules still apply.
type LocalRemote struct {
	Engine engine.Engine
	Actor  string
}

func (r LocalRemote) FetchProjectTasks(ctx context.Context, projectID, teamID string) ([]domain.BoardTask, error) {
	return r.Engine.ListProjectTasks(ctx, projectID, teamID, r.Actor)
}

func (r LocalRemote) FetchTeamMembers(ctx context.Context, teamID string) ([]domain.User, error) {
	return r.Engine.ListMembers(ctx, teamID, r.Actor)
}

func (r LocalRemote) FetchAvailableTags(ctx context.Context, teamID string) ([]domain.Tag, error) {
	return r.Engine.ListTags(ctx, teamID, r.Actor)
}

func (r LocalRemote) UpdateTaskStatus(ctx context.Context, taskID string, status domain.Status, actorID, teamID string) error {
	_, err := r.Engine.UpdateTaskStatus(ctx, taskID, status, actorID, teamID)
	return err
}

func (r LocalRemote) UpdateSubtaskCompletion(ctx context.Context, subtaskID, taskID string, completed bool, actorID, teamID string) error {
	_, err := r.Engine.SetSubtaskCompletion(ctx, subtaskID, taskID, completed, actorID, teamID)
	return err
}

func (r LocalRemote) ArchiveTask(ctx context.Context, taskID, actorID, teamID string) error {
	_, err := r.Engine.ArchiveTask(ctx, taskID, actorID, teamID)
	return err
}

func (r LocalRemote) CreateTask(ctx context.Context, draft domain.TaskDraft, actorID string) (domain.Task, error) {
	return r.Engine.CreateTask(ctx, draft, actorID)
}

func (r LocalRemote) UpdateTask(ctx context.Context, taskID string, patch domain.TaskPatch, actorID, teamID string) error {
	_, err := r.Engine.UpdateTask(ctx, taskID, patch, actorID, teamID)
	return err
}

func (r LocalRemote) SetTaskTags(ctx context.Context, taskID string, tagIDs []string, actorID, teamID string) error {
	return r.Engine.SetTaskTags(ctx, taskID, tagIDs, actorID, teamID)
}

func (r LocalRemote) AddSubtask(ctx context.Context, taskID, title, actorID, teamID string) (domain.Subtask, error) {
	return r.Engine.AddSubtask(ctx, taskID, title, actorID, teamID)
}

func (r LocalRemote) RenameSubtask(ctx context.Context, subtaskID, taskID, title, actorID, teamID string) error {
	return r.Engine.RenameSubtask(ctx, subtaskID, taskID, title, actorID, teamID)
}

func (r LocalRemote) RemoveSubtask(ctx context.Context, subtaskID, taskID, actorID, teamID string) error {
	return r.Engine.RemoveSubtask(ctx, subtaskID, taskID, actorID, teamID)
}
