package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"teamboard/internal/domain"
	"teamboard/internal/engine/auth"
	"teamboard/internal/events"
	"teamboard/internal/repo"
)

var (
	ErrLastAdmin       = errors.New("team must keep at least one admin")
	ErrDuplicateTag    = errors.New("tag name already exists in team")
	ErrAlreadyArchived = errors.New("task already archived")
	ErrNotArchived     = errors.New("task is not archived")
	ErrTaskArchived    = errors.New("task is archived")

	ErrProjectArchived    = errors.New("project already archived")
	ErrProjectNotArchived = errors.New("project is not archived")
	ErrInviteExpired      = errors.New("invitation code expired")
)

// ArchiveBatchLimit caps how many tasks one archive-all-done call touches.
const ArchiveBatchLimit = 499

// Cache is a read-through cache for team-scoped lookups.
type Cache interface {
	Members(ctx context.Context, teamID string, load func(context.Context) ([]domain.User, error)) ([]domain.User, error)
	Tags(ctx context.Context, teamID string, load func(context.Context) ([]domain.Tag, error)) ([]domain.Tag, error)
	Evict(ctx context.Context, teamID string)
}

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Auth   auth.Service
	Cache  Cache
	Now    func() time.Time
}

func New(db *sql.DB) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Auth:   auth.Service{DB: db},
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) stamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) events() events.Writer {
	w := e.Events
	w.Now = e.now
	return w
}

func (e Engine) evict(ctx context.Context, teamID string) {
	if e.Cache != nil {
		e.Cache.Evict(ctx, teamID)
	}
}

func newID() string {
	return uuid.NewString()
}

func required(field, v string) error {
	if strings.TrimSpace(v) == "" {
		return domain.ValidationError{Field: field, Reason: "required"}
	}
	return nil
}

// CreateTeam creates a team with the actor as its first admin.
func (e Engine) CreateTeam(ctx context.Context, name string, actor domain.User) (domain.Team, error) {
	if err := required("name", name); err != nil {
		return domain.Team{}, err
	}
	if err := actor.Validate(); err != nil {
		return domain.Team{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Team{}, err
	}
	defer tx.Rollback()

	now := e.stamp()
	t := domain.Team{ID: newID(), Name: strings.TrimSpace(name), CreatedBy: actor.UID, CreatedAt: now}
	if err := e.Repo.UpsertUser(ctx, tx, actor, now); err != nil {
		return domain.Team{}, fmt.Errorf("upsert user: %w", err)
	}
	if err := e.Repo.InsertTeam(ctx, tx, t); err != nil {
		return domain.Team{}, fmt.Errorf("insert team: %w", err)
	}
	if err := e.Repo.UpsertMember(ctx, tx, domain.TeamMember{TeamID: t.ID, UserID: actor.UID, Role: domain.RoleAdmin, JoinedAt: now}); err != nil {
		return domain.Team{}, fmt.Errorf("insert member: %w", err)
	}
	if err := e.events().Append(ctx, tx, events.TeamCreated, events.Scope{TeamID: t.ID}, "team", t.ID, actor.UID, events.EventPayload{"name": t.Name}); err != nil {
		return domain.Team{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Team{}, err
	}
	return t, nil
}

// RenameTeam changes a team's name. Admin only.
func (e Engine) RenameTeam(ctx context.Context, teamID, name, actorID string) (domain.Team, error) {
	if err := required("name", name); err != nil {
		return domain.Team{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Team{}, err
	}
	defer tx.Rollback()

	if err := e.Auth.RequireAdmin(ctx, tx, teamID, actorID); err != nil {
		return domain.Team{}, err
	}
	prev, err := e.Repo.GetTeam(ctx, teamID)
	if err != nil {
		return domain.Team{}, err
	}
	name = strings.TrimSpace(name)
	if err := e.Repo.RenameTeam(ctx, tx, teamID, name); err != nil {
		return domain.Team{}, err
	}
	if err := e.events().Append(ctx, tx, events.TeamRenamed, events.Scope{TeamID: teamID}, "team", teamID, actorID, events.EventPayload{"name": name, "previous_name": prev.Name}); err != nil {
		return domain.Team{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Team{}, err
	}
	prev.Name = name
	return prev, nil
}

func (e Engine) ListTeams(ctx context.Context, actorID string) ([]domain.Team, error) {
	return e.Repo.ListTeamsForUser(ctx, actorID)
}

// AddMember adds or re-roles a user in a team. Admin only.
func (e Engine) AddMember(ctx context.Context, teamID string, u domain.User, role domain.Role, actorID string) (domain.TeamMember, error) {
	if err := u.Validate(); err != nil {
		return domain.TeamMember{}, err
	}
	if _, err := domain.ParseRole(string(role)); err != nil {
		return domain.TeamMember{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.TeamMember{}, err
	}
	defer tx.Rollback()

	if err := e.Auth.RequireAdmin(ctx, tx, teamID, actorID); err != nil {
		return domain.TeamMember{}, err
	}
	prev, err := e.Auth.MemberRole(ctx, tx, teamID, u.UID)
	if err != nil {
		return domain.TeamMember{}, err
	}
	if prev == domain.RoleAdmin && role != domain.RoleAdmin {
		if err := e.ensureAnotherAdmin(ctx, tx, teamID); err != nil {
			return domain.TeamMember{}, err
		}
	}
	now := e.stamp()
	m := domain.TeamMember{TeamID: teamID, UserID: u.UID, Role: role, JoinedAt: now}
	if err := e.Repo.UpsertUser(ctx, tx, u, now); err != nil {
		return domain.TeamMember{}, fmt.Errorf("upsert user: %w", err)
	}
	if err := e.Repo.UpsertMember(ctx, tx, m); err != nil {
		return domain.TeamMember{}, fmt.Errorf("upsert member: %w", err)
	}
	if err := e.events().Append(ctx, tx, events.MemberAdded, events.Scope{TeamID: teamID}, "member", u.UID, actorID, events.EventPayload{"role": role, "previous_role": prev}); err != nil {
		return domain.TeamMember{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.TeamMember{}, err
	}
	e.evict(ctx, teamID)
	return e.Repo.GetMember(ctx, teamID, u.UID)
}

// SetMemberRole changes the role of an existing member. Admin only.
func (e Engine) SetMemberRole(ctx context.Context, teamID, userID string, role domain.Role, actorID string) (domain.TeamMember, error) {
	if _, err := e.Repo.GetMember(ctx, teamID, userID); err != nil {
		return domain.TeamMember{}, err
	}
	return e.AddMember(ctx, teamID, domain.User{UID: userID}, role, actorID)
}

// RemoveMember removes a member. Admins may remove anyone; members may leave.
func (e Engine) RemoveMember(ctx context.Context, teamID, userID, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if userID != actorID {
		if err := e.Auth.RequireAdmin(ctx, tx, teamID, actorID); err != nil {
			return err
		}
	}
	role, err := e.Auth.MemberRole(ctx, tx, teamID, userID)
	if err != nil {
		return err
	}
	if role == "" {
		return repo.ErrNotFound
	}
	if role == domain.RoleAdmin {
		if err := e.ensureAnotherAdmin(ctx, tx, teamID); err != nil {
			return err
		}
	}
	if err := e.Repo.DeleteMember(ctx, tx, teamID, userID); err != nil {
		return err
	}
	if err := e.events().Append(ctx, tx, events.MemberRemoved, events.Scope{TeamID: teamID}, "member", userID, actorID, nil); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	e.evict(ctx, teamID)
	return nil
}

func (e Engine) ensureAnotherAdmin(ctx context.Context, tx *sql.Tx, teamID string) error {
	n, err := e.Repo.CountAdmins(ctx, tx, teamID)
	if err != nil {
		return err
	}
	if n <= 1 {
		return ErrLastAdmin
	}
	return nil
}

// ListMembers returns the users of a team. Members only.
func (e Engine) ListMembers(ctx context.Context, teamID, actorID string) ([]domain.User, error) {
	if _, err := e.Auth.RequireMember(ctx, nil, teamID, actorID); err != nil {
		return nil, err
	}
	load := func(ctx context.Context) ([]domain.User, error) {
		return e.Repo.ListTeamUsers(ctx, teamID)
	}
	if e.Cache != nil {
		return e.Cache.Members(ctx, teamID, load)
	}
	return load(ctx)
}

// ListMemberships returns member rows with roles. Members only.
func (e Engine) ListMemberships(ctx context.Context, teamID, actorID string) ([]domain.TeamMember, error) {
	if _, err := e.Auth.RequireMember(ctx, nil, teamID, actorID); err != nil {
		return nil, err
	}
	return e.Repo.ListMembers(ctx, teamID)
}

// MemberRole returns the actor's role in the team, failing for non-members.
func (e Engine) MemberRole(ctx context.Context, teamID, actorID string) (domain.Role, error) {
	return e.Auth.RequireMember(ctx, nil, teamID, actorID)
}

// UpsertUser updates the actor's own profile.
func (e Engine) UpsertUser(ctx context.Context, u domain.User, actorID string) (domain.User, error) {
	if err := u.Validate(); err != nil {
		return domain.User{}, err
	}
	if u.UID != actorID {
		return domain.User{}, auth.ForbiddenError{Permission: "user.self"}
	}
	if err := e.Repo.UpsertUser(ctx, nil, u, e.stamp()); err != nil {
		return domain.User{}, err
	}
	teams, err := e.Repo.ListTeamsForUser(ctx, u.UID)
	if err != nil {
		return domain.User{}, err
	}
	for _, t := range teams {
		e.evict(ctx, t.ID)
	}
	return e.Repo.GetUser(ctx, u.UID)
}

func (e Engine) GetUser(ctx context.Context, uid string) (domain.User, error) {
	return e.Repo.GetUser(ctx, uid)
}
