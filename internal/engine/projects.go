package engine

import (
	"context"
	"fmt"
	"strings"

	"teamboard/internal/domain"
	"teamboard/internal/events"
	"teamboard/internal/repo"
)

func (e Engine) CreateProject(ctx context.Context, teamID, name, description, actorID string) (domain.Project, error) {
	if err := required("name", name); err != nil {
		return domain.Project{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()

	if err := e.Auth.RequireAdmin(ctx, tx, teamID, actorID); err != nil {
		return domain.Project{}, err
	}
	p := domain.Project{
		ID:          newID(),
		TeamID:      teamID,
		Name:        strings.TrimSpace(name),
		Description: description,
		Status:      domain.ProjectActive,
		URLs:        []domain.ProjectURL{},
		CreatedBy:   actorID,
	}
	p.CreatedAt = e.stamp()
	p.UpdatedAt = p.CreatedAt
	if err := e.Repo.InsertProject(ctx, tx, p); err != nil {
		return domain.Project{}, fmt.Errorf("insert project: %w", err)
	}
	if err := e.events().Append(ctx, tx, events.ProjectCreated, events.Scope{TeamID: teamID, ProjectID: p.ID}, "project", p.ID, actorID, events.EventPayload{"name": p.Name}); err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

// ListProjects returns the team's active projects. Members only.
func (e Engine) ListProjects(ctx context.Context, teamID, actorID string) ([]domain.Project, error) {
	if _, err := e.Auth.RequireMember(ctx, nil, teamID, actorID); err != nil {
		return nil, err
	}
	return e.Repo.ListProjects(ctx, teamID, domain.ProjectActive)
}

func (e Engine) ListArchivedProjects(ctx context.Context, teamID, actorID string) ([]domain.Project, error) {
	if _, err := e.Auth.RequireMember(ctx, nil, teamID, actorID); err != nil {
		return nil, err
	}
	return e.Repo.ListProjects(ctx, teamID, domain.ProjectArchived)
}

// UpdateProject changes name, description or links. Admin only.
func (e Engine) UpdateProject(ctx context.Context, id string, patch domain.ProjectPatch, actorID string) (domain.Project, error) {
	if patch.IsEmpty() {
		return domain.Project{}, domain.ValidationError{Field: "project", Reason: "no fields to update"}
	}
	if err := patch.Validate(); err != nil {
		return domain.Project{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()

	p, err := e.Repo.GetProject(ctx, id)
	if err != nil {
		return domain.Project{}, err
	}
	if err := e.Auth.RequireAdmin(ctx, tx, p.TeamID, actorID); err != nil {
		return domain.Project{}, err
	}
	changed := []string{}
	if patch.Name != nil {
		p.Name = strings.TrimSpace(*patch.Name)
		changed = append(changed, "name")
	}
	if patch.Description != nil {
		p.Description = *patch.Description
		changed = append(changed, "description")
	}
	if patch.URLs != nil {
		p.URLs = make([]domain.ProjectURL, 0, len(*patch.URLs))
		for _, u := range *patch.URLs {
			if u.ID == "" {
				u.ID = newID()
			}
			u.Label = strings.TrimSpace(u.Label)
			u.Link = strings.TrimSpace(u.Link)
			p.URLs = append(p.URLs, u)
		}
		changed = append(changed, "urls")
	}
	p.UpdatedAt = e.stamp()
	if err := e.Repo.UpdateProject(ctx, tx, p); err != nil {
		return domain.Project{}, fmt.Errorf("update project: %w", err)
	}
	if err := e.events().Append(ctx, tx, events.ProjectUpdated, events.Scope{TeamID: p.TeamID, ProjectID: p.ID}, "project", p.ID, actorID, events.EventPayload{"fields": changed}); err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

// ArchiveProject hides a project from the active list. Admin only.
func (e Engine) ArchiveProject(ctx context.Context, id, actorID string) (domain.Project, error) {
	return e.setProjectStatus(ctx, id, domain.ProjectArchived, actorID)
}

func (e Engine) UnarchiveProject(ctx context.Context, id, actorID string) (domain.Project, error) {
	return e.setProjectStatus(ctx, id, domain.ProjectActive, actorID)
}

func (e Engine) setProjectStatus(ctx context.Context, id string, status domain.ProjectStatus, actorID string) (domain.Project, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()

	p, err := e.Repo.GetProject(ctx, id)
	if err != nil {
		return domain.Project{}, err
	}
	if err := e.Auth.RequireAdmin(ctx, tx, p.TeamID, actorID); err != nil {
		return domain.Project{}, err
	}
	if p.Status == status {
		if status == domain.ProjectArchived {
			return domain.Project{}, fmt.Errorf("project %s: %w", id, ErrProjectArchived)
		}
		return domain.Project{}, fmt.Errorf("project %s: %w", id, ErrProjectNotArchived)
	}
	p.Status = status
	p.UpdatedAt = e.stamp()
	if err := e.Repo.UpdateProject(ctx, tx, p); err != nil {
		return domain.Project{}, fmt.Errorf("update project: %w", err)
	}
	evt := events.ProjectArchived
	if status == domain.ProjectActive {
		evt = events.ProjectRestored
	}
	if err := e.events().Append(ctx, tx, evt, events.Scope{TeamID: p.TeamID, ProjectID: p.ID}, "project", p.ID, actorID, events.EventPayload{"name": p.Name}); err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

func (e Engine) GetProject(ctx context.Context, id, actorID string) (domain.Project, error) {
	p, err := e.Repo.GetProject(ctx, id)
	if err != nil {
		return p, err
	}
	if _, err := e.Auth.RequireMember(ctx, nil, p.TeamID, actorID); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

// DeleteProject removes a project and, through the schema, its tasks.
func (e Engine) DeleteProject(ctx context.Context, id, actorID string) error {
	p, err := e.Repo.GetProject(ctx, id)
	if err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := e.Auth.RequireAdmin(ctx, tx, p.TeamID, actorID); err != nil {
		return err
	}
	if err := e.Repo.DeleteProject(ctx, tx, id); err != nil {
		return err
	}
	if err := e.events().Append(ctx, tx, events.ProjectDeleted, events.Scope{TeamID: p.TeamID, ProjectID: p.ID}, "project", p.ID, actorID, events.EventPayload{"name": p.Name}); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) CreateTag(ctx context.Context, teamID, name, color, actorID string) (domain.Tag, error) {
	tag, err := domain.NewTag(newID(), teamID, name, color)
	if err != nil {
		return domain.Tag{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Tag{}, err
	}
	defer tx.Rollback()

	if err := e.Auth.RequireAdmin(ctx, tx, teamID, actorID); err != nil {
		return domain.Tag{}, err
	}
	if err := e.Repo.InsertTag(ctx, tx, tag); err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return domain.Tag{}, fmt.Errorf("%w: %s", ErrDuplicateTag, tag.TagName)
		}
		return domain.Tag{}, fmt.Errorf("insert tag: %w", err)
	}
	if err := e.events().Append(ctx, tx, events.TagCreated, events.Scope{TeamID: teamID}, "tag", tag.ID, actorID, events.EventPayload{"tag_name": tag.TagName, "color": tag.Color}); err != nil {
		return domain.Tag{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Tag{}, err
	}
	e.evict(ctx, teamID)
	return tag, nil
}

func (e Engine) ListTags(ctx context.Context, teamID, actorID string) ([]domain.Tag, error) {
	if _, err := e.Auth.RequireMember(ctx, nil, teamID, actorID); err != nil {
		return nil, err
	}
	load := func(ctx context.Context) ([]domain.Tag, error) {
		return e.Repo.ListTags(ctx, teamID)
	}
	if e.Cache != nil {
		return e.Cache.Tags(ctx, teamID, load)
	}
	return load(ctx)
}

// DeleteTag removes a tag and its task links.
func (e Engine) DeleteTag(ctx context.Context, id, actorID string) error {
	tag, err := e.Repo.GetTag(ctx, id)
	if err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := e.Auth.RequireAdmin(ctx, tx, tag.TeamID, actorID); err != nil {
		return err
	}
	if err := e.Repo.DeleteTag(ctx, tx, id); err != nil {
		return err
	}
	if err := e.events().Append(ctx, tx, events.TagDeleted, events.Scope{TeamID: tag.TeamID}, "tag", id, actorID, events.EventPayload{"tag_name": tag.TagName}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	e.evict(ctx, tag.TeamID)
	return nil
}

func (e Engine) projectInTeam(ctx context.Context, projectID, teamID string) (domain.Project, error) {
	p, err := e.Repo.GetProject(ctx, projectID)
	if err != nil {
		return p, err
	}
	if teamID != "" && p.TeamID != teamID {
		return domain.Project{}, fmt.Errorf("project %s: %w", projectID, repo.ErrNotFound)
	}
	return p, nil
}
