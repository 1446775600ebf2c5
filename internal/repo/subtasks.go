package repo

import (
	"context"
	"database/sql"

	"teamboard/internal/domain"
)

func (r Repo) InsertSubtask(ctx context.Context, tx *sql.Tx, s domain.Subtask) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO subtasks(id,task_id,title,completed,created_at) VALUES (?,?,?,?,?)`,
		s.ID, s.TaskID, s.Title, boolInt(s.Completed), s.CreatedAt)
	return err
}

func (r Repo) UpdateSubtask(ctx context.Context, tx *sql.Tx, s domain.Subtask) error {
	return affectedOrNotFound(r.q(tx).ExecContext(ctx, `UPDATE subtasks SET title=?, completed=? WHERE id=? AND task_id=?`,
		s.Title, boolInt(s.Completed), s.ID, s.TaskID))
}

func (r Repo) DeleteSubtask(ctx context.Context, tx *sql.Tx, id, taskID string) error {
	return affectedOrNotFound(r.q(tx).ExecContext(ctx, `DELETE FROM subtasks WHERE id=? AND task_id=?`, id, taskID))
}

func (r Repo) GetSubtask(ctx context.Context, tx *sql.Tx, id string) (domain.Subtask, error) {
	var s domain.Subtask
	var completed int
	err := r.q(tx).QueryRowContext(ctx, `SELECT id,task_id,title,completed,created_at FROM subtasks WHERE id=?`, id).
		Scan(&s.ID, &s.TaskID, &s.Title, &completed, &s.CreatedAt)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	s.Completed = completed != 0
	return s, err
}

// ListSubtasks returns a task's subtasks in creation order; tx may be nil.
func (r Repo) ListSubtasks(ctx context.Context, tx *sql.Tx, taskID string) ([]domain.Subtask, error) {
	rows, err := r.q(tx).QueryContext(ctx, `SELECT id,task_id,title,completed,created_at FROM subtasks WHERE task_id=? ORDER BY created_at, rowid`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSubtasks(rows)
}

// ListSubtasksFor groups the subtasks of several tasks by task id.
func (r Repo) ListSubtasksFor(ctx context.Context, taskIDs []string) (map[string][]domain.Subtask, error) {
	res := map[string][]domain.Subtask{}
	if len(taskIDs) == 0 {
		return res, nil
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT id,task_id,title,completed,created_at FROM subtasks WHERE task_id IN (`+placeholders(len(taskIDs))+`) ORDER BY created_at, rowid`, anyArgs(taskIDs)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	all, err := scanSubtasks(rows)
	if err != nil {
		return nil, err
	}
	for _, s := range all {
		res[s.TaskID] = append(res[s.TaskID], s)
	}
	return res, nil
}

func scanSubtasks(rows *sql.Rows) ([]domain.Subtask, error) {
	var res []domain.Subtask
	for rows.Next() {
		var s domain.Subtask
		var completed int
		if err := rows.Scan(&s.ID, &s.TaskID, &s.Title, &completed, &s.CreatedAt); err != nil {
			return nil, err
		}
		s.Completed = completed != 0
		res = append(res, s)
	}
	return res, rows.Err()
}
