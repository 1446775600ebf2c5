package engine

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"teamboard/internal/domain"
	"teamboard/internal/events"
	"teamboard/internal/repo"
)

// rederive recomputes the parent status from its stored subtasks.
func (e Engine) rederive(ctx context.Context, tx *sql.Tx, t *domain.Task, actorID string) error {
	subtasks, err := e.Repo.ListSubtasks(ctx, tx, t.ID)
	if err != nil {
		return fmt.Errorf("list subtasks: %w", err)
	}
	return e.setStatus(ctx, tx, t, domain.DeriveStatus(subtasks), actorID, "subtasks")
}

func (e Engine) loadSubtask(ctx context.Context, tx *sql.Tx, id, taskID string) (domain.Subtask, error) {
	s, err := e.Repo.GetSubtask(ctx, tx, id)
	if err != nil {
		return s, err
	}
	if s.TaskID != taskID {
		return domain.Subtask{}, fmt.Errorf("subtask %s: %w", id, repo.ErrNotFound)
	}
	return s, nil
}

// AddSubtask appends an incomplete subtask. Admin only.
func (e Engine) AddSubtask(ctx context.Context, taskID, title, actorID, teamID string) (domain.Subtask, error) {
	if err := required("title", title); err != nil {
		return domain.Subtask{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Subtask{}, err
	}
	defer tx.Rollback()

	t, err := e.loadTask(ctx, tx, taskID, teamID)
	if err != nil {
		return domain.Subtask{}, err
	}
	if err := e.Auth.RequireAdmin(ctx, tx, t.TeamID, actorID); err != nil {
		return domain.Subtask{}, err
	}
	s := domain.Subtask{ID: newID(), TaskID: t.ID, Title: strings.TrimSpace(title), CreatedAt: e.stamp()}
	if err := e.Repo.InsertSubtask(ctx, tx, s); err != nil {
		return domain.Subtask{}, fmt.Errorf("insert subtask: %w", err)
	}
	if err := e.events().Append(ctx, tx, events.SubtaskAdded, scope(t), "subtask", s.ID, actorID, events.EventPayload{"task_id": t.ID, "title": s.Title}); err != nil {
		return domain.Subtask{}, err
	}
	if err := e.rederive(ctx, tx, &t, actorID); err != nil {
		return domain.Subtask{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Subtask{}, err
	}
	return s, nil
}

// RenameSubtask changes a subtask title. Admin only.
func (e Engine) RenameSubtask(ctx context.Context, subtaskID, taskID, title, actorID, teamID string) error {
	if err := required("title", title); err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	t, err := e.loadTask(ctx, tx, taskID, teamID)
	if err != nil {
		return err
	}
	if err := e.Auth.RequireAdmin(ctx, tx, t.TeamID, actorID); err != nil {
		return err
	}
	s, err := e.loadSubtask(ctx, tx, subtaskID, t.ID)
	if err != nil {
		return err
	}
	s.Title = strings.TrimSpace(title)
	if err := e.Repo.UpdateSubtask(ctx, tx, s); err != nil {
		return err
	}
	if err := e.events().Append(ctx, tx, events.SubtaskUpdated, scope(t), "subtask", s.ID, actorID, events.EventPayload{"task_id": t.ID, "title": s.Title}); err != nil {
		return err
	}
	return tx.Commit()
}

// RemoveSubtask deletes a subtask and re-derives the parent. Admin only.
func (e Engine) RemoveSubtask(ctx context.Context, subtaskID, taskID, actorID, teamID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	t, err := e.loadTask(ctx, tx, taskID, teamID)
	if err != nil {
		return err
	}
	if err := e.Auth.RequireAdmin(ctx, tx, t.TeamID, actorID); err != nil {
		return err
	}
	if _, err := e.loadSubtask(ctx, tx, subtaskID, t.ID); err != nil {
		return err
	}
	if err := e.Repo.DeleteSubtask(ctx, tx, subtaskID, t.ID); err != nil {
		return err
	}
	if err := e.events().Append(ctx, tx, events.SubtaskRemoved, scope(t), "subtask", subtaskID, actorID, events.EventPayload{"task_id": t.ID}); err != nil {
		return err
	}
	if err := e.rederive(ctx, tx, &t, actorID); err != nil {
		return err
	}
	return tx.Commit()
}

// SetSubtaskCompletion flips a subtask flag and returns the re-derived parent
// status. Admins and assignees only.
func (e Engine) SetSubtaskCompletion(ctx context.Context, subtaskID, taskID string, completed bool, actorID, teamID string) (domain.Status, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	t, err := e.loadTask(ctx, tx, taskID, teamID)
	if err != nil {
		return "", err
	}
	if err := e.Auth.RequireAdminOrAssignee(ctx, tx, t, actorID); err != nil {
		return "", err
	}
	if t.IsArchived {
		return "", ErrTaskArchived
	}
	s, err := e.loadSubtask(ctx, tx, subtaskID, t.ID)
	if err != nil {
		return "", err
	}
	s.Completed = completed
	if err := e.Repo.UpdateSubtask(ctx, tx, s); err != nil {
		return "", err
	}
	if err := e.events().Append(ctx, tx, events.SubtaskCompleted, scope(t), "subtask", s.ID, actorID, events.EventPayload{"task_id": t.ID, "completed": completed}); err != nil {
		return "", err
	}
	if err := e.rederive(ctx, tx, &t, actorID); err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	return t.Status, nil
}
