package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"teamboard/internal/config"
	"teamboard/internal/engine"
)

// ErrAmbiguousScope is returned when a team or project cannot be picked
// without a flag or a configured default.
var ErrAmbiguousScope = errors.New("ambiguous scope")

// Scope is the team and project a command operates on.
type Scope struct {
	TeamID    string
	ProjectID string
}

// ResolveTeam picks the active team. It prefers the override, then the
// configured default, then the actor's only team.
func ResolveTeam(ctx context.Context, e engine.Engine, cfg *config.Config, override, actorID string) (string, error) {
	if id := strings.TrimSpace(override); id != "" {
		return id, nil
	}
	if cfg != nil && strings.TrimSpace(cfg.Defaults.Team) != "" {
		return cfg.Defaults.Team, nil
	}
	teams, err := e.ListTeams(ctx, actorID)
	if err != nil {
		return "", err
	}
	switch len(teams) {
	case 0:
		return "", fmt.Errorf("%s belongs to no team; create one with `tb team create`", actorID)
	case 1:
		return teams[0].ID, nil
	default:
		return "", fmt.Errorf("%w: %d teams; use --team", ErrAmbiguousScope, len(teams))
	}
}

// ResolveScope resolves the team, then the project within it, using the same
// precedence as ResolveTeam.
func ResolveScope(ctx context.Context, e engine.Engine, cfg *config.Config, teamOverride, projectOverride, actorID string) (Scope, error) {
	teamID, err := ResolveTeam(ctx, e, cfg, teamOverride, actorID)
	if err != nil {
		return Scope{}, err
	}
	if id := strings.TrimSpace(projectOverride); id != "" {
		return Scope{TeamID: teamID, ProjectID: id}, nil
	}
	if cfg != nil && strings.TrimSpace(cfg.Defaults.Project) != "" {
		return Scope{TeamID: teamID, ProjectID: cfg.Defaults.Project}, nil
	}
	projects, err := e.ListProjects(ctx, teamID, actorID)
	if err != nil {
		return Scope{}, err
	}
	switch len(projects) {
	case 0:
		return Scope{}, fmt.Errorf("team %s has no project; create one with `tb project create`", teamID)
	case 1:
		return Scope{TeamID: teamID, ProjectID: projects[0].ID}, nil
	default:
		return Scope{}, fmt.Errorf("%w: %d projects; use --project", ErrAmbiguousScope, len(projects))
	}
}
