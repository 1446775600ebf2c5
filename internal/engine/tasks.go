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

func scope(t domain.Task) events.Scope {
	return events.Scope{TeamID: t.TeamID, ProjectID: t.ProjectID}
}

// loadTask fetches a task inside tx and checks it belongs to teamID when given.
func (e Engine) loadTask(ctx context.Context, tx *sql.Tx, id, teamID string) (domain.Task, error) {
	t, err := e.Repo.GetTask(ctx, tx, id)
	if err != nil {
		return t, err
	}
	if teamID != "" && t.TeamID != teamID {
		return domain.Task{}, fmt.Errorf("task %s: %w", id, repo.ErrNotFound)
	}
	return t, nil
}

func (e Engine) checkAssignees(ctx context.Context, tx *sql.Tx, teamID string, ids []string) error {
	ids = dedupe(ids)
	n, err := e.Repo.CountTeamMembers(ctx, tx, teamID, ids)
	if err != nil {
		return err
	}
	if n != len(ids) {
		return domain.ValidationError{Field: "assigned_to_ids", Reason: "every assignee must be a team member"}
	}
	return nil
}

func (e Engine) checkTags(ctx context.Context, tx *sql.Tx, teamID string, ids []string) error {
	ids = dedupe(ids)
	n, err := e.Repo.CountTeamTags(ctx, tx, teamID, ids)
	if err != nil {
		return err
	}
	if n != len(ids) {
		return domain.ValidationError{Field: "tag_ids", Reason: "every tag must belong to the team"}
	}
	return nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// CreateTask creates an unarchived todo task with optional subtasks and tags. Admin only.
func (e Engine) CreateTask(ctx context.Context, draft domain.TaskDraft, actorID string) (domain.Task, error) {
	if err := required("title", draft.Title); err != nil {
		return domain.Task{}, err
	}
	priority, err := domain.ParsePriority(string(draft.Priority))
	if err != nil {
		return domain.Task{}, err
	}
	p, err := e.projectInTeam(ctx, draft.ProjectID, draft.TeamID)
	if err != nil {
		return domain.Task{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	if err := e.Auth.RequireAdmin(ctx, tx, p.TeamID, actorID); err != nil {
		return domain.Task{}, err
	}
	assignees := dedupe(draft.AssignedToIDs)
	if err := e.checkAssignees(ctx, tx, p.TeamID, assignees); err != nil {
		return domain.Task{}, err
	}
	tagIDs := dedupe(draft.TagIDs)
	if err := e.checkTags(ctx, tx, p.TeamID, tagIDs); err != nil {
		return domain.Task{}, err
	}
	now := e.stamp()
	t := domain.Task{
		ID:            newID(),
		ProjectID:     p.ID,
		TeamID:        p.TeamID,
		Title:         strings.TrimSpace(draft.Title),
		Description:   draft.Description,
		Status:        domain.StatusTodo,
		Priority:      priority,
		AssignedToIDs: assignees,
		TagIDs:        tagIDs,
		DueDate:       draft.DueDate,
		CreatedBy:     actorID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := t.Validate(); err != nil {
		return domain.Task{}, err
	}
	if err := e.Repo.InsertTask(ctx, tx, t); err != nil {
		return domain.Task{}, fmt.Errorf("insert task: %w", err)
	}
	if err := e.Repo.SetTaskTags(ctx, tx, t.ID, tagIDs); err != nil {
		return domain.Task{}, fmt.Errorf("insert task tags: %w", err)
	}
	for _, title := range draft.SubtaskTitles {
		if strings.TrimSpace(title) == "" {
			continue
		}
		s := domain.Subtask{ID: newID(), TaskID: t.ID, Title: strings.TrimSpace(title), CreatedAt: now}
		if err := e.Repo.InsertSubtask(ctx, tx, s); err != nil {
			return domain.Task{}, fmt.Errorf("insert subtask: %w", err)
		}
	}
	if err := e.events().Append(ctx, tx, events.TaskCreated, scope(t), "task", t.ID, actorID, events.EventPayload{"title": t.Title, "assigned_to_ids": t.AssignedToIDs}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// GetTask returns a resolved task. Members only.
func (e Engine) GetTask(ctx context.Context, id, actorID string) (domain.BoardTask, error) {
	t, err := e.Repo.GetTask(ctx, nil, id)
	if err != nil {
		return domain.BoardTask{}, err
	}
	if _, err := e.Auth.RequireMember(ctx, nil, t.TeamID, actorID); err != nil {
		return domain.BoardTask{}, err
	}
	resolved, err := e.Repo.Resolve(ctx, []domain.Task{t})
	if err != nil {
		return domain.BoardTask{}, err
	}
	return resolved[0], nil
}

// ListProjectTasks returns the resolved active tasks of a project. Members only.
func (e Engine) ListProjectTasks(ctx context.Context, projectID, teamID, actorID string) ([]domain.BoardTask, error) {
	p, err := e.projectInTeam(ctx, projectID, teamID)
	if err != nil {
		return nil, err
	}
	if _, err := e.Auth.RequireMember(ctx, nil, p.TeamID, actorID); err != nil {
		return nil, err
	}
	active := false
	tasks, err := e.Repo.ListTasks(ctx, repo.TaskFilters{ProjectID: p.ID, Archived: &active})
	if err != nil {
		return nil, err
	}
	return e.Repo.Resolve(ctx, tasks)
}

// UpdateTask applies core field changes. Admin only.
func (e Engine) UpdateTask(ctx context.Context, id string, patch domain.TaskPatch, actorID, teamID string) (domain.Task, error) {
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
	if patch.IsEmpty() {
		return t, nil
	}
	changed := []string{}
	if patch.Title != nil {
		if err := required("title", *patch.Title); err != nil {
			return domain.Task{}, err
		}
		t.Title = strings.TrimSpace(*patch.Title)
		changed = append(changed, "title")
	}
	if patch.Description != nil {
		t.Description = *patch.Description
		changed = append(changed, "description")
	}
	if patch.Priority != nil {
		p, err := domain.ParsePriority(string(*patch.Priority))
		if err != nil {
			return domain.Task{}, err
		}
		t.Priority = p
		changed = append(changed, "priority")
	}
	if patch.ClearDueDate {
		t.DueDate = nil
		changed = append(changed, "due_date")
	} else if patch.DueDate != nil {
		d := patch.DueDate.UTC()
		t.DueDate = &d
		changed = append(changed, "due_date")
	}
	if patch.AssignedToIDs != nil {
		ids := dedupe(*patch.AssignedToIDs)
		if err := e.checkAssignees(ctx, tx, t.TeamID, ids); err != nil {
			return domain.Task{}, err
		}
		t.AssignedToIDs = ids
		changed = append(changed, "assigned_to_ids")
	}
	t.UpdatedAt = e.stamp()
	if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
		return domain.Task{}, fmt.Errorf("update task: %w", err)
	}
	if err := e.events().Append(ctx, tx, events.TaskUpdated, scope(t), "task", t.ID, actorID, events.EventPayload{"fields": changed}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// UpdateTaskStatus sets the status directly. It stays until the next subtask
// change re-derives it. Admins and assignees only.
func (e Engine) UpdateTaskStatus(ctx context.Context, id string, status domain.Status, actorID, teamID string) (domain.Task, error) {
	if _, err := domain.ParseStatus(string(status)); err != nil {
		return domain.Task{}, err
	}
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
		return domain.Task{}, ErrTaskArchived
	}
	if err := e.setStatus(ctx, tx, &t, status, actorID, "manual"); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

func (e Engine) setStatus(ctx context.Context, tx *sql.Tx, t *domain.Task, status domain.Status, actorID, source string) error {
	prev := t.Status
	t.Status = status
	t.UpdatedAt = e.stamp()
	if err := e.Repo.UpdateTask(ctx, tx, *t); err != nil {
		return fmt.Errorf("update task status: %w", err)
	}
	if prev == status {
		return nil
	}
	return e.events().Append(ctx, tx, events.TaskStatus, scope(*t), "task", t.ID, actorID, events.EventPayload{"from": prev, "to": status, "source": source})
}

// SetTaskTags replaces the task's tag set. Admin only.
func (e Engine) SetTaskTags(ctx context.Context, id string, tagIDs []string, actorID, teamID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	t, err := e.loadTask(ctx, tx, id, teamID)
	if err != nil {
		return err
	}
	if err := e.Auth.RequireAdmin(ctx, tx, t.TeamID, actorID); err != nil {
		return err
	}
	tagIDs = dedupe(tagIDs)
	if err := e.checkTags(ctx, tx, t.TeamID, tagIDs); err != nil {
		return err
	}
	if err := e.Repo.SetTaskTags(ctx, tx, t.ID, tagIDs); err != nil {
		return err
	}
	t.UpdatedAt = e.stamp()
	if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
		return err
	}
	if err := e.events().Append(ctx, tx, events.TaskTagged, scope(t), "task", t.ID, actorID, events.EventPayload{"tag_ids": tagIDs}); err != nil {
		return err
	}
	return tx.Commit()
}

// DeleteTask removes a task with its subtasks and tag links. Admin only.
func (e Engine) DeleteTask(ctx context.Context, id, actorID, teamID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	t, err := e.loadTask(ctx, tx, id, teamID)
	if err != nil {
		return err
	}
	if err := e.Auth.RequireAdmin(ctx, tx, t.TeamID, actorID); err != nil {
		return err
	}
	if err := e.Repo.DeleteTask(ctx, tx, t.ID); err != nil {
		return err
	}
	if err := e.events().Append(ctx, tx, events.TaskDeleted, scope(t), "task", t.ID, actorID, events.EventPayload{"title": t.Title}); err != nil {
		return err
	}
	return tx.Commit()
}
