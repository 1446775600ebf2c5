package board_test

import (
	"context"
	"errors"
	"sync"
	"time"

	"teamboard/internal/board"
	"teamboard/internal/domain"
)

var errRemote = errors.New("remote unavailable")

// fakeRemote is an in-memory backend. Mutations block on gate when it is set
// so tests can observe the optimistic state before reconciliation.
type fakeRemote struct {
	mu         sync.Mutex
	tasks      []domain.BoardTask
	members    []domain.User
	tags       []domain.Tag
	fetchCalls int
	fetchFn    func(ctx context.Context, call int) ([]domain.BoardTask, error)
	membersErr error

	statusErr  error
	subtaskErr error
	archiveErr error
	gate       chan struct{}
	// statusGate, when set, holds status writes instead of gate.
	statusGate chan struct{}

	statusCalls  int
	subtaskCalls int
	archiveCalls int
}

func (r *fakeRemote) wait() {
	if r.gate != nil {
		<-r.gate
	}
}

func (r *fakeRemote) FetchProjectTasks(ctx context.Context, projectID, teamID string) ([]domain.BoardTask, error) {
	r.mu.Lock()
	r.fetchCalls++
	call := r.fetchCalls
	fn := r.fetchFn
	r.mu.Unlock()
	if fn != nil {
		return fn(ctx, call)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.BoardTask
	for _, t := range r.tasks {
		if t.ProjectID == projectID && t.TeamID == teamID && !t.IsArchived {
			out = append(out, t.Clone())
		}
	}
	return out, nil
}

func (r *fakeRemote) FetchTeamMembers(ctx context.Context, teamID string) ([]domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.membersErr != nil {
		return nil, r.membersErr
	}
	return append([]domain.User(nil), r.members...), nil
}

func (r *fakeRemote) FetchAvailableTags(ctx context.Context, teamID string) ([]domain.Tag, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Tag(nil), r.tags...), nil
}

func (r *fakeRemote) UpdateTaskStatus(ctx context.Context, taskID string, status domain.Status, actorID, teamID string) error {
	if r.statusGate != nil {
		<-r.statusGate
	} else {
		r.wait()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statusCalls++
	if r.statusErr != nil {
		return r.statusErr
	}
	for i := range r.tasks {
		if r.tasks[i].ID == taskID {
			r.tasks[i].Status = status
		}
	}
	return nil
}

func (r *fakeRemote) UpdateSubtaskCompletion(ctx context.Context, subtaskID, taskID string, completed bool, actorID, teamID string) error {
	r.wait()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subtaskCalls++
	if r.subtaskErr != nil {
		return r.subtaskErr
	}
	for i := range r.tasks {
		if r.tasks[i].ID != taskID {
			continue
		}
		for j := range r.tasks[i].Subtasks {
			if r.tasks[i].Subtasks[j].ID == subtaskID {
				r.tasks[i].Subtasks[j].Completed = completed
			}
		}
		r.tasks[i].Status = domain.DeriveStatus(r.tasks[i].Subtasks)
	}
	return nil
}

func (r *fakeRemote) ArchiveTask(ctx context.Context, taskID, actorID, teamID string) error {
	r.wait()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.archiveCalls++
	if r.archiveErr != nil {
		return r.archiveErr
	}
	for i := range r.tasks {
		if r.tasks[i].ID == taskID {
			r.tasks[i].IsArchived = true
			r.tasks[i].ArchivedBy = &actorID
		}
	}
	return nil
}

func (r *fakeRemote) calls() (fetch, status, subtask, archive int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fetchCalls, r.statusCalls, r.subtaskCalls, r.archiveCalls
}

type fakeEditor struct {
	mu      sync.Mutex
	calls   []string
	failOn  string
	created domain.TaskDraft
}

func (e *fakeEditor) record(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, name)
	if name == e.failOn {
		return errRemote
	}
	return nil
}

func (e *fakeEditor) CreateTask(ctx context.Context, draft domain.TaskDraft, actorID string) (domain.Task, error) {
	e.mu.Lock()
	e.created = draft
	e.mu.Unlock()
	if err := e.record("create"); err != nil {
		return domain.Task{}, err
	}
	return domain.Task{ID: "new", ProjectID: draft.ProjectID, TeamID: draft.TeamID, Title: draft.Title, Status: domain.StatusTodo}, nil
}

func (e *fakeEditor) UpdateTask(ctx context.Context, taskID string, patch domain.TaskPatch, actorID, teamID string) error {
	return e.record("update")
}

func (e *fakeEditor) SetTaskTags(ctx context.Context, taskID string, tagIDs []string, actorID, teamID string) error {
	return e.record("tags")
}

func (e *fakeEditor) AddSubtask(ctx context.Context, taskID, title, actorID, teamID string) (domain.Subtask, error) {
	return domain.Subtask{ID: "s-new", TaskID: taskID, Title: title}, e.record("add:" + title)
}

func (e *fakeEditor) RenameSubtask(ctx context.Context, subtaskID, taskID, title, actorID, teamID string) error {
	return e.record("rename:" + subtaskID)
}

func (e *fakeEditor) RemoveSubtask(ctx context.Context, subtaskID, taskID, actorID, teamID string) error {
	return e.record("remove:" + subtaskID)
}

func day(n int) *time.Time {
	t := time.Date(2024, 6, n, 0, 0, 0, 0, time.UTC)
	return &t
}

func task(id, title string, status domain.Status, assignees ...string) domain.BoardTask {
	return domain.BoardTask{
		Task: domain.Task{
			ID:            id,
			ProjectID:     "p1",
			TeamID:        "team1",
			Title:         title,
			Status:        status,
			Priority:      domain.PriorityMedium,
			AssignedToIDs: assignees,
		},
	}
}

func withSubtasks(t domain.BoardTask, flags ...bool) domain.BoardTask {
	for i, f := range flags {
		t.Subtasks = append(t.Subtasks, domain.Subtask{ID: t.ID + "-s" + string(rune('1'+i)), TaskID: t.ID, Title: "step", Completed: f})
	}
	t.Status = domain.DeriveStatus(t.Subtasks)
	return t
}

type recorder struct {
	mu    sync.Mutex
	items []string
}

func (r *recorder) Notify(n board.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, string(n.Level)+":"+n.Message)
}

func (r *recorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.items...)
}
