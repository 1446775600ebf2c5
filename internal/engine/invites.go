package engine

import (
	"context"
	"crypto/rand"
	"fmt"
	"strings"
	"time"

	"teamboard/internal/domain"
	"teamboard/internal/events"
)

const (
	// InviteTTL is how long an invitation code can be redeemed.
	InviteTTL = 24 * time.Hour

	inviteCodeLen  = 6
	inviteAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
)

func newInviteCode() (string, error) {
	buf := make([]byte, inviteCodeLen)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	for i, b := range buf {
		buf[i] = inviteAlphabet[int(b)%len(inviteAlphabet)]
	}
	return string(buf), nil
}

// CreateInvite issues a code that lets anyone join the team as a member
// until it expires. Admin only.
func (e Engine) CreateInvite(ctx context.Context, teamID, actorID string) (domain.Invite, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Invite{}, err
	}
	defer tx.Rollback()

	if err := e.Auth.RequireAdmin(ctx, tx, teamID, actorID); err != nil {
		return domain.Invite{}, err
	}
	now := e.now().UTC()
	if err := e.Repo.DeleteExpiredInvites(ctx, tx, teamID, now.Format(time.RFC3339)); err != nil {
		return domain.Invite{}, fmt.Errorf("prune invites: %w", err)
	}
	inv := domain.Invite{
		TeamID:    teamID,
		CreatedBy: actorID,
		CreatedAt: now.Format(time.RFC3339),
		ExpiresAt: now.Add(InviteTTL).Format(time.RFC3339),
	}
	for attempt := 0; ; attempt++ {
		if inv.Code, err = newInviteCode(); err != nil {
			return domain.Invite{}, err
		}
		err = e.Repo.InsertInvite(ctx, tx, inv)
		if err == nil {
			break
		}
		if attempt == 2 || !strings.Contains(err.Error(), "UNIQUE") {
			return domain.Invite{}, fmt.Errorf("insert invite: %w", err)
		}
	}
	if err := e.events().Append(ctx, tx, events.InviteCreated, events.Scope{TeamID: teamID}, "invite", inv.Code, actorID, events.EventPayload{"expires_at": inv.ExpiresAt}); err != nil {
		return domain.Invite{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Invite{}, err
	}
	return inv, nil
}

// JoinTeam redeems an invitation code for u. Existing members keep their role.
func (e Engine) JoinTeam(ctx context.Context, code string, u domain.User) (domain.TeamMember, error) {
	if err := u.Validate(); err != nil {
		return domain.TeamMember{}, err
	}
	code = domain.NormalizeInviteCode(code)
	if err := required("code", code); err != nil {
		return domain.TeamMember{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.TeamMember{}, err
	}
	defer tx.Rollback()

	inv, err := e.Repo.GetInvite(ctx, tx, code)
	if err != nil {
		return domain.TeamMember{}, fmt.Errorf("invitation code %s: %w", code, err)
	}
	expires, err := time.Parse(time.RFC3339, inv.ExpiresAt)
	if err != nil {
		return domain.TeamMember{}, fmt.Errorf("invite %s expires_at: %w", code, err)
	}
	if !e.now().Before(expires) {
		return domain.TeamMember{}, fmt.Errorf("%w: %s", ErrInviteExpired, code)
	}
	role, err := e.Auth.MemberRole(ctx, tx, inv.TeamID, u.UID)
	if err != nil {
		return domain.TeamMember{}, err
	}
	if role != "" {
		return e.Repo.GetMember(ctx, inv.TeamID, u.UID)
	}
	now := e.stamp()
	if err := e.Repo.UpsertUser(ctx, tx, u, now); err != nil {
		return domain.TeamMember{}, fmt.Errorf("upsert user: %w", err)
	}
	m := domain.TeamMember{TeamID: inv.TeamID, UserID: u.UID, Role: domain.RoleMember, JoinedAt: now}
	if err := e.Repo.UpsertMember(ctx, tx, m); err != nil {
		return domain.TeamMember{}, fmt.Errorf("insert member: %w", err)
	}
	if err := e.events().Append(ctx, tx, events.InviteRedeemed, events.Scope{TeamID: inv.TeamID}, "member", u.UID, u.UID, events.EventPayload{"code": code}); err != nil {
		return domain.TeamMember{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.TeamMember{}, err
	}
	e.evict(ctx, inv.TeamID)
	return m, nil
}
