package engine

import (
	"context"
	"fmt"

	"teamboard/internal/domain"
	"teamboard/internal/events"
	"teamboard/internal/repo"
)

// ArchiveTask hides a task from the board. Admins and assignees only.
func (e Engine) ArchiveTask(ctx context.Context, id, actorID, teamID string) (domain.Task, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	t, err := e.loadTask(ctx, tx, id, teamID)
	if err != nil {
		return domain.Task{}, err
	}
	if err := e.Auth.RequireAdminOrAssignee(ctx, tx, t, actorID); err != nil {
		return domain.Task{}, err
	}
	if t.IsArchived {
		return domain.Task{}, ErrAlreadyArchived
	}
	now := e.stamp()
	t.IsArchived = true
	t.ArchivedAt = &now
	t.ArchivedBy = &actorID
	t.UpdatedAt = now
	if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
		return domain.Task{}, fmt.Errorf("archive task: %w", err)
	}
	if err := e.events().Append(ctx, tx, events.TaskArchived, scope(t), "task", t.ID, actorID, events.EventPayload{"title": t.Title, "status": t.Status}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// UnarchiveTask returns a task to the board. Admin only.
func (e Engine) UnarchiveTask(ctx context.Context, id, actorID, teamID string) (domain.Task, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	t, err := e.loadTask(ctx, tx, id, teamID)
	if err != nil {
		return domain.Task{}, err
	}
	if err := e.Auth.RequireAdmin(ctx, tx, t.TeamID, actorID); err != nil {
		return domain.Task{}, err
	}
	if !t.IsArchived {
		return domain.Task{}, ErrNotArchived
	}
	t.IsArchived = false
	t.ArchivedAt = nil
	t.ArchivedBy = nil
	t.UpdatedAt = e.stamp()
	if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
		return domain.Task{}, fmt.Errorf("unarchive task: %w", err)
	}
	if err := e.events().Append(ctx, tx, events.TaskUnarchived, scope(t), "task", t.ID, actorID, nil); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// ArchiveAllDone archives up to ArchiveBatchLimit done tasks of a project and
// returns how many were archived. Admin only.
func (e Engine) ArchiveAllDone(ctx context.Context, projectID, actorID, teamID string) (int, error) {
	p, err := e.projectInTeam(ctx, projectID, teamID)
	if err != nil {
		return 0, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if err := e.Auth.RequireAdmin(ctx, tx, p.TeamID, actorID); err != nil {
		return 0, err
	}
	ids, err := e.Repo.ListDoneTaskIDs(ctx, tx, p.ID, ArchiveBatchLimit)
	if err != nil {
		return 0, err
	}
	now := e.stamp()
	for _, id := range ids {
		t, err := e.Repo.GetTask(ctx, tx, id)
		if err != nil {
			return 0, err
		}
		t.IsArchived = true
		t.ArchivedAt = &now
		t.ArchivedBy = &actorID
		t.UpdatedAt = now
		if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
			return 0, fmt.Errorf("archive task %s: %w", id, err)
		}
		if err := e.events().Append(ctx, tx, events.TaskArchived, scope(t), "task", t.ID, actorID, events.EventPayload{"title": t.Title, "status": t.Status, "bulk": true}); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(ids), nil
}

// ListArchived returns the archived tasks of a project, newest first. Members only.
func (e Engine) ListArchived(ctx context.Context, projectID, actorID, teamID string) ([]domain.BoardTask, error) {
	p, err := e.projectInTeam(ctx, projectID, teamID)
	if err != nil {
		return nil, err
	}
	if _, err := e.Auth.RequireMember(ctx, nil, p.TeamID, actorID); err != nil {
		return nil, err
	}
	archived := true
	tasks, err := e.Repo.ListTasks(ctx, repo.TaskFilters{ProjectID: p.ID, Archived: &archived, NewestArchivedFirst: true})
	if err != nil {
		return nil, err
	}
	return e.Repo.Resolve(ctx, tasks)
}
