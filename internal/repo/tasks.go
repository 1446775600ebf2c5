package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"teamboard/internal/domain"
)

const taskColumns = `id,project_id,team_id,title,description,status,priority,assigned_to_json,due_date,is_archived,archived_at,archived_by,created_by,created_at,updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (domain.Task, error) {
	var t domain.Task
	var description, dueDate, archivedAt, archivedBy sql.NullString
	var assigned string
	var archived int
	if err := row.Scan(&t.ID, &t.ProjectID, &t.TeamID, &t.Title, &description, &t.Status, &t.Priority, &assigned, &dueDate,
		&archived, &archivedAt, &archivedBy, &t.CreatedBy, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return t, err
	}
	if description.Valid {
		t.Description = description.String
	}
	if err := json.Unmarshal([]byte(assigned), &t.AssignedToIDs); err != nil {
		return t, fmt.Errorf("task %s assigned_to_json: %w", t.ID, err)
	}
	if dueDate.Valid {
		t.DueDate = domain.ToDate(dueDate.String)
	}
	t.IsArchived = archived != 0
	if archivedAt.Valid {
		t.ArchivedAt = &archivedAt.String
	}
	if archivedBy.Valid {
		t.ArchivedBy = &archivedBy.String
	}
	return t, nil
}

func assignedJSON(ids []string) (string, error) {
	if ids == nil {
		ids = []string{}
	}
	data, err := json.Marshal(ids)
	return string(data), err
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (r Repo) InsertTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	assigned, err := assignedJSON(t.AssignedToIDs)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO tasks(`+taskColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.ProjectID, t.TeamID, t.Title, nullable(t.Description), t.Status, t.Priority, assigned, nullableTime(t.DueDate),
		boolInt(t.IsArchived), nullableStringPtr(t.ArchivedAt), nullableStringPtr(t.ArchivedBy), t.CreatedBy, t.CreatedAt, t.UpdatedAt)
	return err
}

func (r Repo) UpdateTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	assigned, err := assignedJSON(t.AssignedToIDs)
	if err != nil {
		return err
	}
	return affectedOrNotFound(tx.ExecContext(ctx, `UPDATE tasks SET title=?, description=?, status=?, priority=?, assigned_to_json=?, due_date=?, is_archived=?, archived_at=?, archived_by=?, updated_at=? WHERE id=?`,
		t.Title, nullable(t.Description), t.Status, t.Priority, assigned, nullableTime(t.DueDate),
		boolInt(t.IsArchived), nullableStringPtr(t.ArchivedAt), nullableStringPtr(t.ArchivedBy), t.UpdatedAt, t.ID))
}

func (r Repo) DeleteTask(ctx context.Context, tx *sql.Tx, id string) error {
	return affectedOrNotFound(r.q(tx).ExecContext(ctx, `DELETE FROM tasks WHERE id=?`, id))
}

// GetTask loads a task with its tag ids; tx may be nil.
func (r Repo) GetTask(ctx context.Context, tx *sql.Tx, id string) (domain.Task, error) {
	q := r.q(tx)
	t, err := scanTask(q.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id))
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	tags, err := r.taskTagIDs(ctx, q, []string{t.ID})
	if err != nil {
		return t, err
	}
	t.TagIDs = tags[t.ID]
	return t, nil
}

type TaskFilters struct {
	ProjectID  string
	TeamID     string
	TeamIDs    []string
	Archived   *bool
	Status     string
	AssigneeID string
	Limit      int
	// NewestArchivedFirst orders by archived_at instead of created_at.
	NewestArchivedFirst bool
}

func (r Repo) ListTasks(ctx context.Context, f TaskFilters) ([]domain.Task, error) {
	var clauses []string
	var args []any
	if f.ProjectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, f.ProjectID)
	}
	if f.TeamID != "" {
		clauses = append(clauses, "team_id=?")
		args = append(args, f.TeamID)
	}
	if len(f.TeamIDs) > 0 {
		clauses = append(clauses, "team_id IN ("+placeholders(len(f.TeamIDs))+")")
		args = append(args, anyArgs(f.TeamIDs)...)
	}
	if f.Archived != nil {
		clauses = append(clauses, "is_archived=?")
		args = append(args, boolInt(*f.Archived))
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.AssigneeID != "" {
		clauses = append(clauses, "EXISTS (SELECT 1 FROM json_each(tasks.assigned_to_json) WHERE json_each.value=?)")
		args = append(args, f.AssigneeID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	order := ` ORDER BY created_at, id`
	if f.NewestArchivedFirst {
		order = ` ORDER BY archived_at DESC, id DESC`
	}
	query := `SELECT ` + taskColumns + ` FROM tasks ` + where + order
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	ids := make([]string, len(res))
	for i, t := range res {
		ids[i] = t.ID
	}
	tags, err := r.taskTagIDs(ctx, r.DB, ids)
	if err != nil {
		return nil, err
	}
	for i := range res {
		res[i].TagIDs = tags[res[i].ID]
	}
	return res, nil
}

// ListDoneTaskIDs returns up to limit unarchived done tasks of a project.
func (r Repo) ListDoneTaskIDs(ctx context.Context, tx *sql.Tx, projectID string, limit int) ([]string, error) {
	rows, err := r.q(tx).QueryContext(ctx, `SELECT id FROM tasks WHERE project_id=? AND status='done' AND is_archived=0 ORDER BY updated_at, id LIMIT ?`, projectID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		res = append(res, id)
	}
	return res, rows.Err()
}

// CountTasksByStatus counts unarchived tasks of a project per status.
func (r Repo) CountTasksByStatus(ctx context.Context, projectID string) (domain.TaskCounts, error) {
	var c domain.TaskCounts
	rows, err := r.DB.QueryContext(ctx, `SELECT status, count(*) FROM tasks WHERE project_id=? AND is_archived=0 GROUP BY status`, projectID)
	if err != nil {
		return c, err
	}
	defer rows.Close()
	for rows.Next() {
		var status domain.Status
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return c, err
		}
		switch status {
		case domain.StatusTodo:
			c.Todo = n
		case domain.StatusInProgress:
			c.InProgress = n
		case domain.StatusDone:
			c.Done = n
		}
		c.All += n
	}
	return c, rows.Err()
}

func (r Repo) taskTagIDs(ctx context.Context, q querier, taskIDs []string) (map[string][]string, error) {
	res := map[string][]string{}
	if len(taskIDs) == 0 {
		return res, nil
	}
	rows, err := q.QueryContext(ctx, `SELECT task_id, tag_id FROM task_tags WHERE task_id IN (`+placeholders(len(taskIDs))+`) ORDER BY task_id, tag_id`, anyArgs(taskIDs)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var taskID, tagID string
		if err := rows.Scan(&taskID, &tagID); err != nil {
			return nil, err
		}
		res[taskID] = append(res[taskID], tagID)
	}
	return res, rows.Err()
}

// Resolve joins assignees, subtasks and tags onto tasks. Assignees with no
// user record are dropped from the resolved list but kept in AssignedToIDs.
func (r Repo) Resolve(ctx context.Context, tasks []domain.Task) ([]domain.BoardTask, error) {
	if len(tasks) == 0 {
		return nil, nil
	}
	ids := make([]string, 0, len(tasks))
	userSet := map[string]struct{}{}
	tagSet := map[string]struct{}{}
	for _, t := range tasks {
		ids = append(ids, t.ID)
		for _, u := range t.AssignedToIDs {
			userSet[u] = struct{}{}
		}
		for _, tg := range t.TagIDs {
			tagSet[tg] = struct{}{}
		}
	}
	users, err := r.ListUsers(ctx, setKeys(userSet))
	if err != nil {
		return nil, fmt.Errorf("resolve users: %w", err)
	}
	byUser := make(map[string]domain.User, len(users))
	for _, u := range users {
		byUser[u.UID] = u
	}
	subtasks, err := r.ListSubtasksFor(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("resolve subtasks: %w", err)
	}
	tags, err := r.tagsByID(ctx, setKeys(tagSet))
	if err != nil {
		return nil, fmt.Errorf("resolve tags: %w", err)
	}
	out := make([]domain.BoardTask, 0, len(tasks))
	for _, t := range tasks {
		var assignees []domain.User
		for _, id := range t.AssignedToIDs {
			if u, ok := byUser[id]; ok {
				assignees = append(assignees, u)
			}
		}
		var taskTags []domain.Tag
		for _, id := range t.TagIDs {
			if tg, ok := tags[id]; ok {
				taskTags = append(taskTags, tg)
			}
		}
		bt, err := domain.NewBoardTask(t, assignees, subtasks[t.ID], taskTags)
		if err != nil {
			return nil, fmt.Errorf("task %s: %w", t.ID, err)
		}
		out = append(out, bt)
	}
	return out, nil
}

func (r Repo) tagsByID(ctx context.Context, ids []string) (map[string]domain.Tag, error) {
	res := map[string]domain.Tag{}
	if len(ids) == 0 {
		return res, nil
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT id,team_id,tag_name,color FROM tags WHERE id IN (`+placeholders(len(ids))+`)`, anyArgs(ids)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var t domain.Tag
		if err := rows.Scan(&t.ID, &t.TeamID, &t.TagName, &t.Color); err != nil {
			return nil, err
		}
		res[t.ID] = t
	}
	return res, rows.Err()
}

func setKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
