package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"teamboard/internal/domain"
)

const projectColumns = `id,team_id,name,description,status,urls_json,created_by,created_at,COALESCE(updated_at,created_at)`

func scanProject(row rowScanner) (domain.Project, error) {
	var p domain.Project
	var desc sql.NullString
	var urls string
	if err := row.Scan(&p.ID, &p.TeamID, &p.Name, &desc, &p.Status, &urls, &p.CreatedBy, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return p, ErrNotFound
		}
		return p, err
	}
	if desc.Valid {
		p.Description = desc.String
	}
	if err := json.Unmarshal([]byte(urls), &p.URLs); err != nil {
		return p, fmt.Errorf("project %s urls_json: %w", p.ID, err)
	}
	if p.URLs == nil {
		p.URLs = []domain.ProjectURL{}
	}
	return p, nil
}

func urlsJSON(urls []domain.ProjectURL) (string, error) {
	if urls == nil {
		urls = []domain.ProjectURL{}
	}
	data, err := json.Marshal(urls)
	return string(data), err
}

func (r Repo) InsertProject(ctx context.Context, tx *sql.Tx, p domain.Project) error {
	urls, err := urlsJSON(p.URLs)
	if err != nil {
		return err
	}
	_, err = r.q(tx).ExecContext(ctx, `INSERT INTO projects(id,team_id,name,description,status,urls_json,created_by,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		p.ID, p.TeamID, p.Name, nullable(p.Description), p.Status, urls, p.CreatedBy, p.CreatedAt, p.UpdatedAt)
	return err
}

func (r Repo) GetProject(ctx context.Context, id string) (domain.Project, error) {
	return scanProject(r.DB.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id=?`, id))
}

// ListProjects returns a team's projects with the given status, newest first.
func (r Repo) ListProjects(ctx context.Context, teamID string, status domain.ProjectStatus) ([]domain.Project, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE team_id=? AND status=? ORDER BY created_at DESC, id DESC`, teamID, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// UpdateProject writes name, description, urls, status and updated_at.
func (r Repo) UpdateProject(ctx context.Context, tx *sql.Tx, p domain.Project) error {
	urls, err := urlsJSON(p.URLs)
	if err != nil {
		return err
	}
	return affectedOrNotFound(r.q(tx).ExecContext(ctx, `UPDATE projects SET name=?, description=?, status=?, urls_json=?, updated_at=? WHERE id=?`,
		p.Name, nullable(p.Description), p.Status, urls, p.UpdatedAt, p.ID))
}

func (r Repo) DeleteProject(ctx context.Context, tx *sql.Tx, id string) error {
	return affectedOrNotFound(r.q(tx).ExecContext(ctx, `DELETE FROM projects WHERE id=?`, id))
}

func (r Repo) InsertInvite(ctx context.Context, tx *sql.Tx, inv domain.Invite) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO invites(code,team_id,created_by,created_at,expires_at) VALUES (?,?,?,?,?)`,
		inv.Code, inv.TeamID, inv.CreatedBy, inv.CreatedAt, inv.ExpiresAt)
	return err
}

func (r Repo) GetInvite(ctx context.Context, tx *sql.Tx, code string) (domain.Invite, error) {
	var inv domain.Invite
	err := r.q(tx).QueryRowContext(ctx, `SELECT code,team_id,created_by,created_at,expires_at FROM invites WHERE code=?`, code).
		Scan(&inv.Code, &inv.TeamID, &inv.CreatedBy, &inv.CreatedAt, &inv.ExpiresAt)
	if err == sql.ErrNoRows {
		return inv, ErrNotFound
	}
	return inv, err
}

// DeleteExpiredInvites drops a team's invites that expired before now.
func (r Repo) DeleteExpiredInvites(ctx context.Context, tx *sql.Tx, teamID, now string) error {
	_, err := r.q(tx).ExecContext(ctx, `DELETE FROM invites WHERE team_id=? AND expires_at<?`, teamID, now)
	return err
}
