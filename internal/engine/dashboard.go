package engine

import (
	"context"

	"teamboard/internal/domain"
	"teamboard/internal/engine/auth"
	"teamboard/internal/repo"
)

// ProjectCounts pairs a project with its active task breakdown.
type ProjectCounts struct {
	Project domain.Project    `json:"project"`
	Counts  domain.TaskCounts `json:"counts"`
}

// UserTasks returns active tasks assigned to userID within a team. Members may
// view their own dashboard; admins may view anyone's.
func (e Engine) UserTasks(ctx context.Context, teamID, userID, actorID string) ([]domain.BoardTask, error) {
	role, err := e.Auth.RequireMember(ctx, nil, teamID, actorID)
	if err != nil {
		return nil, err
	}
	if userID == "" {
		userID = actorID
	}
	if userID != actorID && role != domain.RoleAdmin {
		return nil, auth.ForbiddenError{Permission: auth.PermTeamAdmin}
	}
	active := false
	tasks, err := e.Repo.ListTasks(ctx, repo.TaskFilters{TeamID: teamID, AssigneeID: userID, Archived: &active})
	if err != nil {
		return nil, err
	}
	return e.Repo.Resolve(ctx, tasks)
}

// ProjectCounts returns per-project counts for the admin dashboard.
func (e Engine) ProjectCounts(ctx context.Context, teamID, actorID string) ([]ProjectCounts, error) {
	if err := e.Auth.RequireAdmin(ctx, nil, teamID, actorID); err != nil {
		return nil, err
	}
	projects, err := e.Repo.ListProjects(ctx, teamID, domain.ProjectActive)
	if err != nil {
		return nil, err
	}
	out := make([]ProjectCounts, 0, len(projects))
	for _, p := range projects {
		c, err := e.Repo.CountTasksByStatus(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, ProjectCounts{Project: p, Counts: c})
	}
	return out, nil
}

// Activity returns the newest team events before cursor and the cursor for
// the next page, zero when exhausted. Members only.
func (e Engine) Activity(ctx context.Context, teamID string, f repo.EventFilters, limit int, cursor int64, actorID string) ([]domain.Event, int64, error) {
	if _, err := e.Auth.RequireMember(ctx, nil, teamID, actorID); err != nil {
		return nil, 0, err
	}
	f.TeamID = teamID
	evts, err := e.Repo.LatestEventsFrom(ctx, limit, cursor, f)
	if err != nil {
		return nil, 0, err
	}
	var next int64
	if limit > 0 && len(evts) == limit {
		next = evts[len(evts)-1].ID
	}
	return evts, next, nil
}

// EventsAfter returns events after cursor in ascending order for delivery.
func (e Engine) EventsAfter(ctx context.Context, teamID string, limit int, cursor int64) ([]domain.Event, error) {
	return e.Repo.EventsAfter(ctx, limit, cursor, repo.EventFilters{TeamID: teamID})
}

// LatestEventID returns the newest event id for a team, or overall when teamID is empty.
func (e Engine) LatestEventID(ctx context.Context, teamID string) (int64, error) {
	return e.Repo.LatestEventID(ctx, teamID)
}
