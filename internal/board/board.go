package board

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/pool"

	"teamboard/internal/domain"
)

var (
	ErrTaskNotFound     = errors.New("task not found")
	ErrSubtaskNotFound  = errors.New("subtask not found")
	ErrMutationInFlight = errors.New("mutation already in flight")
	ErrForbidden        = errors.New("not permitted for acting user")
	ErrNoEditor         = errors.New("board has no editor")
)

// User-facing failure messages.
const (
	MsgFetchFailed   = "failed to load board data"
	MsgStatusFailed  = "failed to update task status, change reverted"
	MsgSubtaskFailed = "failed to update subtask, change reverted"
	MsgArchiveFailed = "failed to archive task, task restored"
	MsgSaveFailed    = "failed to save task changes"
	MsgCreateFailed  = "failed to create task"
)

type Config struct {
	ProjectID string
	TeamID    string
	Actor     Actor
	// Editor enables CreateTask and SaveTaskEdits.
	Editor   Editor
	Notifier Notifier
	Logger   logrus.FieldLogger
}

// Board is the optimistic mutation controller over a Store.
type Board struct {
	store    *Store
	remote   Remote
	editor   Editor
	actor    Actor
	notifier Notifier
	log      logrus.FieldLogger
	inflight conc.WaitGroup

	mu                sync.Mutex
	updatingSubtaskID string
	archivingTaskID   string
	dragging          map[string]struct{}
}

func New(remote Remote, cfg Config) (*Board, error) {
	if remote == nil {
		return nil, errors.New("remote required")
	}
	if err := cfg.Actor.Validate(); err != nil {
		return nil, err
	}
	b := &Board{
		store:    NewStore(cfg.ProjectID, cfg.TeamID),
		remote:   remote,
		editor:   cfg.Editor,
		actor:    cfg.Actor,
		notifier: cfg.Notifier,
		log:      cfg.Logger,
		dragging: map[string]struct{}{},
	}
	if b.notifier == nil {
		b.notifier = nopNotifier{}
	}
	if b.log == nil {
		b.log = logrus.StandardLogger()
	}
	b.log = b.log.WithFields(logrus.Fields{"project": cfg.ProjectID, "team": cfg.TeamID})
	return b, nil
}

func (b *Board) Store() *Store             { return b.store }
func (b *Board) Actor() Actor              { return b.actor }
func (b *Board) Columns() []Column         { return b.store.Columns() }
func (b *Board) Tasks() []domain.BoardTask { return b.store.Tasks() }
func (b *Board) Members() []domain.User    { return b.store.Members() }
func (b *Board) Tags() []domain.Tag        { return b.store.Tags() }
func (b *Board) Filter() Filter            { return b.store.Filter() }
func (b *Board) SetFilter(f Filter)        { b.store.SetFilter(f) }
func (b *Board) IsLoading() bool           { return b.store.IsLoading() }

// Error returns the last surfaced failure message.
func (b *Board) Error() string { return b.store.Error() }

func (b *Board) UpdatingSubtaskID() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.updatingSubtaskID
}

// Wait blocks until every in-flight reconciliation has settled.
func (b *Board) Wait() {
	b.inflight.Wait()
}

// CanDrag reports whether the acting user may move the task between columns.
func (b *Board) CanDrag(taskID string) bool {
	t, ok := b.store.Task(taskID)
	return ok && CanDrag(b.actor, t.Task)
}

// CanEdit reports whether the acting user may open tasks for editing.
func (b *Board) CanEdit() bool {
	return CanEdit(b.actor)
}

// SetScope switches the board to another project and reloads it. Pending
// reconciliations from the previous scope no longer touch local state.
func (b *Board) SetScope(ctx context.Context, projectID, teamID string) error {
	b.store.setScope(projectID, teamID)
	return b.RefreshTasks(ctx)
}

// RefreshTasks re-fetches tasks, members and tags, replacing local state.
// Only the latest refresh commits; older responses are dropped.
func (b *Board) RefreshTasks(ctx context.Context) error {
	projectID, teamID := b.store.Scope()
	if projectID == "" || teamID == "" {
		b.store.clear()
		return nil
	}
	gen := b.store.beginFetch()
	var (
		tasks   []domain.BoardTask
		members []domain.User
		tags    []domain.Tag
	)
	p := pool.New().WithContext(ctx).WithCancelOnError()
	p.Go(func(ctx context.Context) error {
		var err error
		tasks, err = b.remote.FetchProjectTasks(ctx, projectID, teamID)
		if err != nil {
			return fmt.Errorf("fetch tasks: %w", err)
		}
		return nil
	})
	p.Go(func(ctx context.Context) error {
		var err error
		members, err = b.remote.FetchTeamMembers(ctx, teamID)
		if err != nil {
			return fmt.Errorf("fetch team members: %w", err)
		}
		return nil
	})
	p.Go(func(ctx context.Context) error {
		var err error
		tags, err = b.remote.FetchAvailableTags(ctx, teamID)
		if err != nil {
			return fmt.Errorf("fetch tags: %w", err)
		}
		return nil
	})
	if err := p.Wait(); err != nil {
		if b.store.failFetch(gen, MsgFetchFailed) {
			b.log.WithError(err).Error("board fetch failed")
			b.notifier.Notify(Notification{Level: LevelError, Message: MsgFetchFailed, Err: err})
			return err
		}
		return nil
	}
	if !b.store.commitFetch(gen, tasks, members, tags) {
		b.log.WithField("generation", gen).Debug("stale board fetch discarded")
	}
	return nil
}

// HandleDragEnd moves a task to the destination column's status. The local
// store changes before the remote write; a failed write reverts it.
func (b *Board) HandleDragEnd(ctx context.Context, sourceColumnID, destinationColumnID, taskID string, sourceIndex, destinationIndex int) error {
	if destinationColumnID == "" || destinationColumnID == sourceColumnID {
		return nil
	}
	status, err := domain.ParseStatus(destinationColumnID)
	if err != nil {
		return err
	}
	task, ok := b.store.Task(taskID)
	if !ok {
		return ErrTaskNotFound
	}
	if !CanDrag(b.actor, task.Task) {
		return ErrForbidden
	}
	if task.Status == status {
		return nil
	}
	b.mu.Lock()
	if _, busy := b.dragging[taskID]; busy {
		b.mu.Unlock()
		return ErrMutationInFlight
	}
	b.dragging[taskID] = struct{}{}
	b.mu.Unlock()

	_, teamID := b.store.Scope()
	return b.run(ctx, transaction{
		taskID: taskID,
		predict: func(t domain.BoardTask) (*domain.BoardTask, error) {
			t.Status = status
			return &t, nil
		},
		commit: func(ctx context.Context) error {
			return b.remote.UpdateTaskStatus(ctx, taskID, status, b.actor.UserID, teamID)
		},
		failure: MsgStatusFailed,
		release: func() {
			b.mu.Lock()
			delete(b.dragging, taskID)
			b.mu.Unlock()
		},
		fields: logrus.Fields{"from": sourceColumnID, "to": destinationColumnID, "from_index": sourceIndex, "to_index": destinationIndex},
	})
}

// HandleSubtaskToggle sets a subtask's completion and re-derives the parent
// status locally. Toggles are serialized board-wide: one in flight at a time.
func (b *Board) HandleSubtaskToggle(ctx context.Context, taskID, subtaskID string, completed bool) error {
	b.mu.Lock()
	if b.updatingSubtaskID != "" {
		b.mu.Unlock()
		return ErrMutationInFlight
	}
	b.updatingSubtaskID = subtaskID
	b.mu.Unlock()

	_, teamID := b.store.Scope()
	statusChanged := false
	return b.run(ctx, transaction{
		taskID: taskID,
		predict: func(t domain.BoardTask) (*domain.BoardTask, error) {
			found := false
			subtasks := make([]domain.Subtask, len(t.Subtasks))
			for i, s := range t.Subtasks {
				if s.ID == subtaskID {
					s.Completed = completed
					found = true
				}
				subtasks[i] = s
			}
			if !found {
				return nil, ErrSubtaskNotFound
			}
			t.Subtasks = subtasks
			if derived := domain.DeriveStatus(subtasks); derived != t.Status {
				t.Status = derived
				statusChanged = true
			}
			return &t, nil
		},
		commit: func(ctx context.Context) error {
			return b.remote.UpdateSubtaskCompletion(ctx, subtaskID, taskID, completed, b.actor.UserID, teamID)
		},
		success: func(ctx context.Context) {
			if !statusChanged {
				return
			}
			if err := b.RefreshTasks(ctx); err != nil {
				b.log.WithError(err).WithField("task", taskID).Warn("refresh after status change failed")
			}
		},
		failure: MsgSubtaskFailed,
		release: func() {
			b.mu.Lock()
			b.updatingSubtaskID = ""
			b.mu.Unlock()
		},
		fields: logrus.Fields{"subtask": subtaskID, "completed": completed},
	})
}

// Archive removes a task from the board and archives it remotely. A failed
// archive puts the task back where it was.
func (b *Board) Archive(ctx context.Context, taskID string) error {
	task, ok := b.store.Task(taskID)
	if !ok {
		return ErrTaskNotFound
	}
	if !CanArchive(b.actor, task.Task) {
		return ErrForbidden
	}
	b.mu.Lock()
	if b.archivingTaskID != "" {
		b.mu.Unlock()
		return ErrMutationInFlight
	}
	b.archivingTaskID = taskID
	b.mu.Unlock()

	_, teamID := b.store.Scope()
	return b.run(ctx, transaction{
		taskID: taskID,
		predict: func(domain.BoardTask) (*domain.BoardTask, error) {
			return nil, nil
		},
		commit: func(ctx context.Context) error {
			return b.remote.ArchiveTask(ctx, taskID, b.actor.UserID, teamID)
		},
		success: func(context.Context) {
			b.notifier.Notify(Notification{Level: LevelSuccess, Message: "task archived", TaskID: taskID})
		},
		failure: MsgArchiveFailed,
		release: func() {
			b.mu.Lock()
			b.archivingTaskID = ""
			b.mu.Unlock()
		},
	})
}

// CreateTask creates a task remotely and reloads the board.
func (b *Board) CreateTask(ctx context.Context, draft domain.TaskDraft) (domain.Task, error) {
	if b.editor == nil {
		return domain.Task{}, ErrNoEditor
	}
	if !b.CanEdit() {
		return domain.Task{}, ErrForbidden
	}
	projectID, teamID := b.store.Scope()
	draft.ProjectID = projectID
	draft.TeamID = teamID
	t, err := b.editor.CreateTask(ctx, draft, b.actor.UserID)
	if err != nil {
		b.surface(MsgCreateFailed, "", err)
		return domain.Task{}, err
	}
	b.notifier.Notify(Notification{Level: LevelSuccess, Message: "task created", TaskID: t.ID})
	return t, b.RefreshTasks(ctx)
}

// TaskEdit groups the independent writes of one task edit.
type TaskEdit struct {
	TaskID         string
	Patch          domain.TaskPatch
	TagIDs         *[]string
	AddSubtasks    []string
	RenameSubtasks map[string]string
	RemoveSubtasks []string
}

// SaveTaskEdits runs every write of the edit concurrently. Any failure is
// reported once for the whole edit. The board is reloaded afterwards.
func (b *Board) SaveTaskEdits(ctx context.Context, edit TaskEdit) error {
	if b.editor == nil {
		return ErrNoEditor
	}
	if !b.CanEdit() {
		return ErrForbidden
	}
	if _, ok := b.store.Task(edit.TaskID); !ok {
		return ErrTaskNotFound
	}
	_, teamID := b.store.Scope()
	actorID := b.actor.UserID
	p := pool.New().WithContext(ctx)
	if !edit.Patch.IsEmpty() {
		p.Go(func(ctx context.Context) error {
			return b.editor.UpdateTask(ctx, edit.TaskID, edit.Patch, actorID, teamID)
		})
	}
	if edit.TagIDs != nil {
		tagIDs := append([]string(nil), (*edit.TagIDs)...)
		p.Go(func(ctx context.Context) error {
			return b.editor.SetTaskTags(ctx, edit.TaskID, tagIDs, actorID, teamID)
		})
	}
	for _, title := range edit.AddSubtasks {
		title := title
		p.Go(func(ctx context.Context) error {
			_, err := b.editor.AddSubtask(ctx, edit.TaskID, title, actorID, teamID)
			return err
		})
	}
	for id, title := range edit.RenameSubtasks {
		id, title := id, title
		p.Go(func(ctx context.Context) error {
			return b.editor.RenameSubtask(ctx, id, edit.TaskID, title, actorID, teamID)
		})
	}
	for _, id := range edit.RemoveSubtasks {
		id := id
		p.Go(func(ctx context.Context) error {
			return b.editor.RemoveSubtask(ctx, id, edit.TaskID, actorID, teamID)
		})
	}
	err := p.Wait()
	if err != nil {
		b.surface(MsgSaveFailed, edit.TaskID, err)
	} else {
		b.notifier.Notify(Notification{Level: LevelSuccess, Message: "task updated", TaskID: edit.TaskID})
	}
	if rerr := b.RefreshTasks(ctx); rerr != nil && err == nil {
		return rerr
	}
	return err
}

func (b *Board) surface(msg, taskID string, err error) {
	b.store.setError(msg)
	b.log.WithError(err).WithField("task", taskID).Error(msg)
	b.notifier.Notify(Notification{Level: LevelError, Message: msg, TaskID: taskID, Err: err})
}
