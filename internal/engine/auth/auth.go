package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"teamboard/internal/domain"
)

// Permission names reported by ForbiddenError.
const (
	PermTeamMember      = "team.member"
	PermTeamAdmin       = "team.admin"
	PermAssigneeOrAdmin = "task.assignee_or_admin"
)

// ForbiddenError indicates missing permission.
type ForbiddenError struct {
	Permission string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("permission %s required", e.Permission)
}

// Service provides team role checks backed by SQL.
type Service struct {
	DB *sql.DB
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s Service) q(tx *sql.Tx) querier {
	if tx != nil {
		return tx
	}
	return s.DB
}

// EnsureUser records a bare user row for ids seen for the first time.
func (s Service) EnsureUser(ctx context.Context, tx *sql.Tx, userID string) error {
	if userID == "" {
		return errors.New("user_id required")
	}
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO users(uid, created_at) VALUES (?,?)`, userID, now)
	return err
}

// MemberRole returns the user's role in the team, or "" when not a member.
func (s Service) MemberRole(ctx context.Context, tx *sql.Tx, teamID, userID string) (domain.Role, error) {
	var role domain.Role
	err := s.q(tx).QueryRowContext(ctx, `SELECT role FROM team_members WHERE team_id=? AND user_id=?`, teamID, userID).Scan(&role)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return role, err
}

func (s Service) RequireMember(ctx context.Context, tx *sql.Tx, teamID, userID string) (domain.Role, error) {
	role, err := s.MemberRole(ctx, tx, teamID, userID)
	if err != nil {
		return "", err
	}
	if role == "" {
		return "", ForbiddenError{Permission: PermTeamMember}
	}
	return role, nil
}

func (s Service) RequireAdmin(ctx context.Context, tx *sql.Tx, teamID, userID string) error {
	role, err := s.MemberRole(ctx, tx, teamID, userID)
	if err != nil {
		return err
	}
	if role != domain.RoleAdmin {
		return ForbiddenError{Permission: PermTeamAdmin}
	}
	return nil
}

// RequireAdminOrAssignee allows team admins and members assigned to the task.
func (s Service) RequireAdminOrAssignee(ctx context.Context, tx *sql.Tx, t domain.Task, userID string) error {
	role, err := s.MemberRole(ctx, tx, t.TeamID, userID)
	if err != nil {
		return err
	}
	switch {
	case role == domain.RoleAdmin:
		return nil
	case role == domain.RoleMember && t.IsAssignedTo(userID):
		return nil
	}
	return ForbiddenError{Permission: PermAssigneeOrAdmin}
}
