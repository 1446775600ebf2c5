package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"teamboard/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r Repo) q(tx *sql.Tx) querier {
	if tx != nil {
		return tx
	}
	return r.DB
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}

func nullableTime(v *time.Time) any {
	if v == nil {
		return nil
	}
	return v.UTC().Format(time.RFC3339)
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func anyArgs(ids []string) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

func affectedOrNotFound(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) UpsertUser(ctx context.Context, tx *sql.Tx, u domain.User, createdAt string) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO users(uid,email,display_name,created_at) VALUES (?,?,?,?)
ON CONFLICT(uid) DO UPDATE SET email=COALESCE(excluded.email,users.email), display_name=COALESCE(excluded.display_name,users.display_name)`,
		u.UID, nullable(u.Email), nullable(u.DisplayName), createdAt)
	return err
}

func (r Repo) GetUser(ctx context.Context, uid string) (domain.User, error) {
	var u domain.User
	err := r.DB.QueryRowContext(ctx, `SELECT uid,COALESCE(email,''),COALESCE(display_name,'') FROM users WHERE uid=?`, uid).
		Scan(&u.UID, &u.Email, &u.DisplayName)
	if err == sql.ErrNoRows {
		return u, ErrNotFound
	}
	return u, err
}

// ListUsers returns the users with the given ids. Unknown ids are skipped.
func (r Repo) ListUsers(ctx context.Context, uids []string) ([]domain.User, error) {
	if len(uids) == 0 {
		return nil, nil
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT uid,COALESCE(email,''),COALESCE(display_name,'') FROM users WHERE uid IN (`+placeholders(len(uids))+`) ORDER BY uid`, anyArgs(uids)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.User
	for rows.Next() {
		var u domain.User
		if err := rows.Scan(&u.UID, &u.Email, &u.DisplayName); err != nil {
			return nil, err
		}
		res = append(res, u)
	}
	return res, rows.Err()
}

func (r Repo) InsertTeam(ctx context.Context, tx *sql.Tx, t domain.Team) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO teams(id,name,created_by,created_at) VALUES (?,?,?,?)`, t.ID, t.Name, t.CreatedBy, t.CreatedAt)
	return err
}

func (r Repo) GetTeam(ctx context.Context, id string) (domain.Team, error) {
	var t domain.Team
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,created_by,created_at FROM teams WHERE id=?`, id).Scan(&t.ID, &t.Name, &t.CreatedBy, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	return t, err
}

func (r Repo) RenameTeam(ctx context.Context, tx *sql.Tx, id, name string) error {
	return affectedOrNotFound(r.q(tx).ExecContext(ctx, `UPDATE teams SET name=? WHERE id=?`, name, id))
}

// ListTeamsForUser returns the teams userID belongs to; an empty userID lists all teams.
func (r Repo) ListTeamsForUser(ctx context.Context, userID string) ([]domain.Team, error) {
	query := `SELECT t.id,t.name,t.created_by,t.created_at FROM teams t`
	var args []any
	if userID != "" {
		query += ` JOIN team_members m ON m.team_id=t.id WHERE m.user_id=?`
		args = append(args, userID)
	}
	query += ` ORDER BY t.created_at, t.id`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Team
	for rows.Next() {
		var t domain.Team
		if err := rows.Scan(&t.ID, &t.Name, &t.CreatedBy, &t.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func (r Repo) UpsertMember(ctx context.Context, tx *sql.Tx, m domain.TeamMember) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO team_members(team_id,user_id,role,joined_at) VALUES (?,?,?,?)
ON CONFLICT(team_id,user_id) DO UPDATE SET role=excluded.role`, m.TeamID, m.UserID, m.Role, m.JoinedAt)
	return err
}

func (r Repo) DeleteMember(ctx context.Context, tx *sql.Tx, teamID, userID string) error {
	return affectedOrNotFound(r.q(tx).ExecContext(ctx, `DELETE FROM team_members WHERE team_id=? AND user_id=?`, teamID, userID))
}

func (r Repo) GetMember(ctx context.Context, teamID, userID string) (domain.TeamMember, error) {
	var m domain.TeamMember
	err := r.DB.QueryRowContext(ctx, `SELECT team_id,user_id,role,joined_at FROM team_members WHERE team_id=? AND user_id=?`, teamID, userID).
		Scan(&m.TeamID, &m.UserID, &m.Role, &m.JoinedAt)
	if err == sql.ErrNoRows {
		return m, ErrNotFound
	}
	return m, err
}

func (r Repo) ListMembers(ctx context.Context, teamID string) ([]domain.TeamMember, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT team_id,user_id,role,joined_at FROM team_members WHERE team_id=? ORDER BY joined_at, user_id`, teamID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.TeamMember
	for rows.Next() {
		var m domain.TeamMember
		if err := rows.Scan(&m.TeamID, &m.UserID, &m.Role, &m.JoinedAt); err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

// CountAdmins returns the number of admins in a team.
func (r Repo) CountAdmins(ctx context.Context, tx *sql.Tx, teamID string) (int, error) {
	var n int
	err := r.q(tx).QueryRowContext(ctx, `SELECT count(*) FROM team_members WHERE team_id=? AND role='admin'`, teamID).Scan(&n)
	return n, err
}

// ListTeamUsers returns the user records of every team member.
func (r Repo) ListTeamUsers(ctx context.Context, teamID string) ([]domain.User, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT u.uid,COALESCE(u.email,''),COALESCE(u.display_name,'') FROM users u
JOIN team_members m ON m.user_id=u.uid WHERE m.team_id=? ORDER BY m.joined_at, u.uid`, teamID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.User
	for rows.Next() {
		var u domain.User
		if err := rows.Scan(&u.UID, &u.Email, &u.DisplayName); err != nil {
			return nil, err
		}
		res = append(res, u)
	}
	return res, rows.Err()
}

func (r Repo) InsertTag(ctx context.Context, tx *sql.Tx, t domain.Tag) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO tags(id,team_id,tag_name,color) VALUES (?,?,?,?)`, t.ID, t.TeamID, t.TagName, t.Color)
	return err
}

func (r Repo) GetTag(ctx context.Context, id string) (domain.Tag, error) {
	var t domain.Tag
	err := r.DB.QueryRowContext(ctx, `SELECT id,team_id,tag_name,color FROM tags WHERE id=?`, id).Scan(&t.ID, &t.TeamID, &t.TagName, &t.Color)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	return t, err
}

func (r Repo) ListTags(ctx context.Context, teamID string) ([]domain.Tag, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,team_id,tag_name,color FROM tags WHERE team_id=? ORDER BY tag_name`, teamID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Tag
	for rows.Next() {
		var t domain.Tag
		if err := rows.Scan(&t.ID, &t.TeamID, &t.TagName, &t.Color); err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func (r Repo) DeleteTag(ctx context.Context, tx *sql.Tx, id string) error {
	return affectedOrNotFound(r.q(tx).ExecContext(ctx, `DELETE FROM tags WHERE id=?`, id))
}

// SetTaskTags replaces the tag set of a task.
func (r Repo) SetTaskTags(ctx context.Context, tx *sql.Tx, taskID string, tagIDs []string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM task_tags WHERE task_id=?`, taskID); err != nil {
		return err
	}
	for _, id := range tagIDs {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO task_tags(task_id,tag_id) VALUES (?,?)`, taskID, id); err != nil {
			return fmt.Errorf("tag %s: %w", id, err)
		}
	}
	return nil
}

// CountTeamTags reports how many of tagIDs exist in the team.
func (r Repo) CountTeamTags(ctx context.Context, tx *sql.Tx, teamID string, tagIDs []string) (int, error) {
	if len(tagIDs) == 0 {
		return 0, nil
	}
	args := append([]any{teamID}, anyArgs(tagIDs)...)
	var n int
	err := r.q(tx).QueryRowContext(ctx, `SELECT count(DISTINCT id) FROM tags WHERE team_id=? AND id IN (`+placeholders(len(tagIDs))+`)`, args...).Scan(&n)
	return n, err
}

// CountTeamMembers reports how many of userIDs are members of the team.
func (r Repo) CountTeamMembers(ctx context.Context, tx *sql.Tx, teamID string, userIDs []string) (int, error) {
	if len(userIDs) == 0 {
		return 0, nil
	}
	args := append([]any{teamID}, anyArgs(userIDs)...)
	var n int
	err := r.q(tx).QueryRowContext(ctx, `SELECT count(DISTINCT user_id) FROM team_members WHERE team_id=? AND user_id IN (`+placeholders(len(userIDs))+`)`, args...).Scan(&n)
	return n, err
}
