package board_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"teamboard/internal/board"
	"teamboard/internal/domain"
)

var (
	admin  = board.Actor{UserID: "admin", Role: domain.RoleAdmin}
	member = board.Actor{UserID: "bob", Role: domain.RoleMember}
)

func newBoard(t *testing.T, r *fakeRemote, actor board.Actor, editor board.Editor) (*board.Board, *recorder) {
	t.Helper()
	rec := &recorder{}
	b, err := board.New(r, board.Config{
		ProjectID: "p1",
		TeamID:    "team1",
		Actor:     actor,
		Editor:    editor,
		Notifier:  rec,
	})
	require.NoError(t, err)
	require.NoError(t, b.RefreshTasks(context.Background()))
	return b, rec
}

func columnTitles(b *board.Board, status domain.Status) []string {
	for _, col := range b.Columns() {
		if col.ID != status {
			continue
		}
		titles := make([]string, 0, len(col.Tasks))
		for _, t := range col.Tasks {
			titles = append(titles, t.Title)
		}
		return titles
	}
	return nil
}

func statusOf(t *testing.T, b *board.Board, id string) domain.Status {
	t.Helper()
	for _, task := range b.Tasks() {
		if task.ID == id {
			return task.Status
		}
	}
	t.Fatalf("task %s not on board", id)
	return ""
}

func TestColumnsSortByDueDateThenTitle(t *testing.T) {
	b1 := task("b", "B", domain.StatusTodo)
	a := task("a", "A", domain.StatusTodo)
	a.DueDate = day(2)
	c := task("c", "C", domain.StatusTodo)
	c.DueDate = day(1)
	r := &fakeRemote{tasks: []domain.BoardTask{b1, a, c}}
	b, _ := newBoard(t, r, admin, nil)

	cols := b.Columns()
	require.Len(t, cols, 3)
	assert.Equal(t, []string{"To Do", "In Progress", "Done"}, []string{cols[0].Title, cols[1].Title, cols[2].Title})
	assert.Equal(t, []string{"C", "A", "B"}, columnTitles(b, domain.StatusTodo))
	assert.Empty(t, columnTitles(b, domain.StatusDone))
}

func TestColumnsTitleTieBreakIsCaseSensitive(t *testing.T) {
	r := &fakeRemote{tasks: []domain.BoardTask{
		task("1", "beta", domain.StatusDone),
		task("2", "Beta", domain.StatusDone),
		task("3", "alpha", domain.StatusDone),
	}}
	b, _ := newBoard(t, r, admin, nil)
	assert.Equal(t, []string{"Beta", "alpha", "beta"}, columnTitles(b, domain.StatusDone))
}

func TestColumnTitles(t *testing.T) {
	cols := board.BuildColumns(nil, board.Filter{})
	titles := make([]string, 0, len(cols))
	for _, col := range cols {
		assert.Equal(t, board.ColumnTitle(col.ID), col.Title)
		titles = append(titles, col.Title)
	}
	assert.Equal(t, []string{"To Do", "In Progress", "Done"}, titles)
	assert.Empty(t, board.ColumnTitle(domain.Status("archive")))
}

func TestFilterConjunction(t *testing.T) {
	t1 := task("1", "Write docs", domain.StatusTodo, "ann")
	t1.TagIDs = []string{"docs"}
	t2 := task("2", "Fix login bug", domain.StatusInProgress, "bob")
	t2.Tags = []domain.Tag{{ID: "bug", TeamID: "team1", TagName: "bug", Color: "#ff0000"}}
	t3 := task("3", "Docs review", domain.StatusDone, "bob")
	t3.TagIDs = []string{"docs"}
	r := &fakeRemote{tasks: []domain.BoardTask{t1, t2, t3}}
	b, _ := newBoard(t, r, admin, nil)

	visible := func() []string {
		var ids []string
		for _, col := range b.Columns() {
			for _, t := range col.Tasks {
				ids = append(ids, t.ID)
			}
		}
		return ids
	}

	b.SetFilter(board.Filter{SearchQuery: "  DOCS "})
	assert.ElementsMatch(t, []string{"1", "3"}, visible())

	b.SetFilter(board.Filter{SearchQuery: "docs", AssignedUserIDs: []string{"bob"}})
	assert.ElementsMatch(t, []string{"3"}, visible())

	b.SetFilter(board.Filter{TagIDs: []string{"bug"}})
	assert.ElementsMatch(t, []string{"2"}, visible())

	b.SetFilter(board.Filter{AssignedUserIDs: []string{"ann", "bob"}, TagIDs: []string{"docs"}})
	assert.ElementsMatch(t, []string{"1", "3"}, visible())

	b.SetFilter(board.Filter{})
	assert.ElementsMatch(t, []string{"1", "2", "3"}, visible())

	for _, tk := range b.Tasks() {
		f := board.Filter{SearchQuery: "docs", AssignedUserIDs: []string{"bob"}, TagIDs: []string{"docs"}}
		want := (board.Filter{SearchQuery: f.SearchQuery}).Matches(tk) &&
			(board.Filter{AssignedUserIDs: f.AssignedUserIDs}).Matches(tk) &&
			(board.Filter{TagIDs: f.TagIDs}).Matches(tk)
		assert.Equal(t, want, f.Matches(tk), tk.ID)
	}
}

func TestDragFailureRollsBack(t *testing.T) {
	r := &fakeRemote{tasks: []domain.BoardTask{task("t", "T", domain.StatusTodo), task("u", "U", domain.StatusTodo)}, gate: make(chan struct{}), statusErr: errRemote}
	b, rec := newBoard(t, r, admin, nil)
	before := b.Tasks()

	require.NoError(t, b.HandleDragEnd(context.Background(), "todo", "done", "t", 0, 0))
	assert.Equal(t, []string{"T"}, columnTitles(b, domain.StatusDone))
	assert.Equal(t, []string{"U"}, columnTitles(b, domain.StatusTodo))

	close(r.gate)
	b.Wait()

	assert.Equal(t, before, b.Tasks())
	assert.Equal(t, []string{"T", "U"}, columnTitles(b, domain.StatusTodo))
	assert.Equal(t, board.MsgStatusFailed, b.Error())
	assert.Equal(t, []string{"error:" + board.MsgStatusFailed}, rec.all())
}

func TestRollbackYieldsToNewerFetch(t *testing.T) {
	r := &fakeRemote{tasks: []domain.BoardTask{task("t", "T", domain.StatusTodo)}, gate: make(chan struct{}), statusErr: errRemote}
	b, _ := newBoard(t, r, admin, nil)

	require.NoError(t, b.HandleDragEnd(context.Background(), "todo", "done", "t", 0, 0))
	r.mu.Lock()
	r.tasks[0].Title = "T2"
	r.mu.Unlock()
	require.NoError(t, b.RefreshTasks(context.Background()))

	close(r.gate)
	b.Wait()
	assert.Equal(t, []string{"T2"}, columnTitles(b, domain.StatusTodo))
}

func TestRollbackSurvivesFailedFetch(t *testing.T) {
	r := &fakeRemote{tasks: []domain.BoardTask{task("t", "T", domain.StatusTodo)}, gate: make(chan struct{}), statusErr: errRemote}
	b, rec := newBoard(t, r, admin, nil)

	require.NoError(t, b.HandleDragEnd(context.Background(), "todo", "done", "t", 0, 0))
	r.mu.Lock()
	r.membersErr = errRemote
	r.mu.Unlock()
	require.Error(t, b.RefreshTasks(context.Background()))

	close(r.gate)
	b.Wait()
	assert.Equal(t, domain.StatusTodo, statusOf(t, b, "t"))
	assert.Equal(t, []string{"error:" + board.MsgFetchFailed, "error:" + board.MsgStatusFailed}, rec.all())
}

func TestFailedDragDoesNotUndoLaterArchive(t *testing.T) {
	r := &fakeRemote{tasks: []domain.BoardTask{task("t", "T", domain.StatusTodo), task("u", "U", domain.StatusTodo)}, statusGate: make(chan struct{}), statusErr: errRemote}
	b, rec := newBoard(t, r, admin, nil)
	ctx := context.Background()

	require.NoError(t, b.HandleDragEnd(ctx, "todo", "done", "t", 0, 0))
	require.NoError(t, b.Archive(ctx, "t"))
	assert.Eventually(t, func() bool {
		return len(rec.all()) == 1
	}, time.Second, 5*time.Millisecond)

	close(r.statusGate)
	b.Wait()
	assert.Equal(t, []string{"U"}, columnTitles(b, domain.StatusTodo))
	assert.Empty(t, columnTitles(b, domain.StatusDone))
	fetches, _, _, archives := r.calls()
	assert.Equal(t, 2, fetches, "superseded rollback reloads the board")
	assert.Equal(t, 1, archives)
	assert.Equal(t, board.MsgStatusFailed, b.Error())
	assert.Equal(t, []string{"success:task archived", "error:" + board.MsgStatusFailed}, rec.all())
}

func TestStackedFailuresRollBackInOrder(t *testing.T) {
	r := &fakeRemote{tasks: []domain.BoardTask{task("t", "T", domain.StatusTodo)}, statusGate: make(chan struct{}), statusErr: errRemote, archiveErr: errRemote}
	b, rec := newBoard(t, r, admin, nil)
	ctx := context.Background()
	before := b.Tasks()

	require.NoError(t, b.HandleDragEnd(ctx, "todo", "done", "t", 0, 0))
	require.NoError(t, b.Archive(ctx, "t"))
	assert.Eventually(t, func() bool {
		return b.Error() == board.MsgArchiveFailed
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, domain.StatusDone, statusOf(t, b, "t"))

	close(r.statusGate)
	b.Wait()
	assert.Equal(t, before, b.Tasks())
	fetches, _, _, _ := r.calls()
	assert.Equal(t, 1, fetches)
	assert.Equal(t, []string{"error:" + board.MsgArchiveFailed, "error:" + board.MsgStatusFailed}, rec.all())
}

func TestDragSuccessKeepsPrediction(t *testing.T) {
	r := &fakeRemote{tasks: []domain.BoardTask{task("t", "T", domain.StatusTodo, "bob")}}
	b, rec := newBoard(t, r, member, nil)

	require.NoError(t, b.HandleDragEnd(context.Background(), "todo", "in-progress", "t", 0, 0))
	b.Wait()
	assert.Equal(t, domain.StatusInProgress, statusOf(t, b, "t"))
	fetches, statuses, _, _ := r.calls()
	assert.Equal(t, 1, fetches)
	assert.Equal(t, 1, statuses)
	assert.Empty(t, rec.all())
	assert.Empty(t, b.Error())
}

func TestDragGuards(t *testing.T) {
	r := &fakeRemote{tasks: []domain.BoardTask{task("mine", "Mine", domain.StatusTodo, "bob"), task("other", "Other", domain.StatusTodo, "ann")}, gate: make(chan struct{})}
	b, _ := newBoard(t, r, member, nil)
	ctx := context.Background()

	require.NoError(t, b.HandleDragEnd(ctx, "todo", "", "mine", 0, 0))
	require.NoError(t, b.HandleDragEnd(ctx, "todo", "todo", "mine", 0, 1))
	assert.Error(t, b.HandleDragEnd(ctx, "todo", "archive", "mine", 0, 0))
	assert.ErrorIs(t, b.HandleDragEnd(ctx, "todo", "done", "missing", 0, 0), board.ErrTaskNotFound)
	assert.ErrorIs(t, b.HandleDragEnd(ctx, "todo", "done", "other", 0, 0), board.ErrForbidden)
	assert.Equal(t, domain.StatusTodo, statusOf(t, b, "other"))

	require.NoError(t, b.HandleDragEnd(ctx, "todo", "done", "mine", 0, 0))
	assert.ErrorIs(t, b.HandleDragEnd(ctx, "done", "in-progress", "mine", 0, 0), board.ErrMutationInFlight)

	close(r.gate)
	b.Wait()
	_, statuses, _, _ := r.calls()
	assert.Equal(t, 1, statuses)
	assert.Equal(t, domain.StatusDone, statusOf(t, b, "mine"))
}

func TestSubtaskToggleCascadesStatus(t *testing.T) {
	r := &fakeRemote{tasks: []domain.BoardTask{withSubtasks(task("t", "T", domain.StatusTodo), false, false)}, gate: make(chan struct{})}
	b, _ := newBoard(t, r, admin, nil)
	ctx := context.Background()
	require.Equal(t, domain.StatusTodo, statusOf(t, b, "t"))

	require.NoError(t, b.HandleSubtaskToggle(ctx, "t", "t-s1", true))
	assert.Equal(t, domain.StatusInProgress, statusOf(t, b, "t"))
	assert.Equal(t, "t-s1", b.UpdatingSubtaskID())
	close(r.gate)
	b.Wait()
	assert.Empty(t, b.UpdatingSubtaskID())
	fetches, _, _, _ := r.calls()
	assert.Equal(t, 2, fetches)

	require.NoError(t, b.HandleSubtaskToggle(ctx, "t", "t-s2", true))
	assert.Equal(t, domain.StatusDone, statusOf(t, b, "t"))
	b.Wait()
	fetches, _, subtasks, _ := r.calls()
	assert.Equal(t, 3, fetches, "status change triggers a refresh")
	assert.Equal(t, 2, subtasks)
	assert.Equal(t, []string{"T"}, columnTitles(b, domain.StatusDone))
}

func TestSubtaskToggleWithoutStatusChangeSkipsRefresh(t *testing.T) {
	r := &fakeRemote{tasks: []domain.BoardTask{withSubtasks(task("t", "T", domain.StatusTodo), true, false, false)}}
	b, _ := newBoard(t, r, admin, nil)
	require.NoError(t, b.HandleSubtaskToggle(context.Background(), "t", "t-s2", true))
	b.Wait()
	fetches, _, subtasks, _ := r.calls()
	assert.Equal(t, 1, fetches)
	assert.Equal(t, 1, subtasks)
	assert.Equal(t, domain.StatusInProgress, statusOf(t, b, "t"))
}

func TestSubtaskToggleIdempotence(t *testing.T) {
	r := &fakeRemote{tasks: []domain.BoardTask{withSubtasks(task("t", "T", domain.StatusTodo), true, false)}}
	b, _ := newBoard(t, r, admin, nil)
	ctx := context.Background()
	original := statusOf(t, b, "t")

	require.NoError(t, b.HandleSubtaskToggle(ctx, "t", "t-s2", true))
	b.Wait()
	assert.Equal(t, domain.StatusDone, statusOf(t, b, "t"))
	require.NoError(t, b.HandleSubtaskToggle(ctx, "t", "t-s2", false))
	b.Wait()
	assert.Equal(t, original, statusOf(t, b, "t"))
}

func TestSubtaskToggleSerialized(t *testing.T) {
	r := &fakeRemote{tasks: []domain.BoardTask{
		withSubtasks(task("t", "T", domain.StatusTodo), false),
		withSubtasks(task("u", "U", domain.StatusTodo), false),
	}, gate: make(chan struct{})}
	b, _ := newBoard(t, r, admin, nil)
	ctx := context.Background()

	require.NoError(t, b.HandleSubtaskToggle(ctx, "t", "t-s1", true))
	assert.ErrorIs(t, b.HandleSubtaskToggle(ctx, "u", "u-s1", true), board.ErrMutationInFlight)
	assert.Equal(t, domain.StatusTodo, statusOf(t, b, "u"))

	close(r.gate)
	b.Wait()
	require.NoError(t, b.HandleSubtaskToggle(ctx, "u", "u-s1", true))
	b.Wait()
	_, _, subtasks, _ := r.calls()
	assert.Equal(t, 2, subtasks)
}

func TestSubtaskToggleFailureRollsBack(t *testing.T) {
	r := &fakeRemote{tasks: []domain.BoardTask{withSubtasks(task("t", "T", domain.StatusTodo), true, false)}, subtaskErr: errRemote}
	b, rec := newBoard(t, r, admin, nil)
	before := b.Tasks()

	require.NoError(t, b.HandleSubtaskToggle(context.Background(), "t", "t-s2", true))
	b.Wait()
	assert.Equal(t, before, b.Tasks())
	assert.Empty(t, b.UpdatingSubtaskID())
	assert.Equal(t, board.MsgSubtaskFailed, b.Error())
	assert.Equal(t, []string{"error:" + board.MsgSubtaskFailed}, rec.all())
}

func TestSubtaskToggleUnknownSubtaskReleasesGuard(t *testing.T) {
	r := &fakeRemote{tasks: []domain.BoardTask{withSubtasks(task("t", "T", domain.StatusTodo), false)}}
	b, _ := newBoard(t, r, admin, nil)
	assert.ErrorIs(t, b.HandleSubtaskToggle(context.Background(), "t", "nope", true), board.ErrSubtaskNotFound)
	assert.ErrorIs(t, b.HandleSubtaskToggle(context.Background(), "missing", "x", true), board.ErrTaskNotFound)
	assert.Empty(t, b.UpdatingSubtaskID())
	_, _, subtasks, _ := r.calls()
	assert.Zero(t, subtasks)
}

func TestArchiveFailureRestoresPosition(t *testing.T) {
	x := task("x", "X", domain.StatusDone)
	x.DueDate = day(1)
	tk := task("t", "T", domain.StatusDone)
	tk.DueDate = day(2)
	y := task("y", "Y", domain.StatusDone)
	r := &fakeRemote{tasks: []domain.BoardTask{y, tk, x}, gate: make(chan struct{}), archiveErr: errRemote}
	b, rec := newBoard(t, r, admin, nil)
	before := b.Tasks()
	require.Equal(t, []string{"X", "T", "Y"}, columnTitles(b, domain.StatusDone))

	require.NoError(t, b.Archive(context.Background(), "t"))
	assert.Equal(t, []string{"X", "Y"}, columnTitles(b, domain.StatusDone))
	assert.ErrorIs(t, b.Archive(context.Background(), "x"), board.ErrMutationInFlight)

	close(r.gate)
	b.Wait()
	assert.Equal(t, []string{"X", "T", "Y"}, columnTitles(b, domain.StatusDone))
	assert.Equal(t, before, b.Tasks())
	assert.Equal(t, []string{"error:" + board.MsgArchiveFailed}, rec.all())
}

func TestArchiveSuccess(t *testing.T) {
	r := &fakeRemote{tasks: []domain.BoardTask{task("t", "T", domain.StatusDone, "bob")}}
	b, _ := newBoard(t, r, member, nil)
	require.NoError(t, b.Archive(context.Background(), "t"))
	b.Wait()
	assert.Empty(t, b.Tasks())
	require.NoError(t, b.RefreshTasks(context.Background()))
	assert.Empty(t, b.Tasks())
}

func TestRefreshDiscardsStaleGeneration(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	r := &fakeRemote{}
	r.fetchFn = func(ctx context.Context, call int) ([]domain.BoardTask, error) {
		if call == 1 {
			close(started)
			<-release
			return []domain.BoardTask{task("old", "Old", domain.StatusTodo)}, nil
		}
		return []domain.BoardTask{task("new", "New", domain.StatusTodo)}, nil
	}
	b, err := board.New(r, board.Config{ProjectID: "p1", TeamID: "team1", Actor: admin})
	require.NoError(t, err)
	ctx := context.Background()

	slow := make(chan error, 1)
	go func() { slow <- b.RefreshTasks(ctx) }()
	<-started
	assert.True(t, b.IsLoading())

	require.NoError(t, b.RefreshTasks(ctx))
	assert.False(t, b.IsLoading())
	close(release)
	require.NoError(t, <-slow)

	assert.Equal(t, []string{"New"}, columnTitles(b, domain.StatusTodo))
	assert.False(t, b.IsLoading())
}

func TestRefreshFailureSurfacesError(t *testing.T) {
	r := &fakeRemote{tasks: []domain.BoardTask{task("t", "T", domain.StatusTodo)}}
	b, rec := newBoard(t, r, admin, nil)
	r.mu.Lock()
	r.membersErr = errRemote
	r.mu.Unlock()

	err := b.RefreshTasks(context.Background())
	assert.ErrorIs(t, err, errRemote)
	assert.Equal(t, board.MsgFetchFailed, b.Error())
	assert.False(t, b.IsLoading())
	assert.Equal(t, []string{"error:" + board.MsgFetchFailed}, rec.all())
	assert.Len(t, b.Tasks(), 1, "failed fetch keeps the last good state")
}

func TestRefreshWithoutScopeClears(t *testing.T) {
	r := &fakeRemote{tasks: []domain.BoardTask{task("t", "T", domain.StatusTodo)}}
	b, err := board.New(r, board.Config{TeamID: "team1", Actor: admin})
	require.NoError(t, err)
	require.NoError(t, b.RefreshTasks(context.Background()))
	assert.Empty(t, b.Tasks())
	fetches, _, _, _ := r.calls()
	assert.Zero(t, fetches)
}

func TestSetScopeResetsState(t *testing.T) {
	other := task("o", "Other", domain.StatusTodo)
	other.ProjectID = "p2"
	r := &fakeRemote{tasks: []domain.BoardTask{task("t", "T", domain.StatusTodo), other}}
	b, _ := newBoard(t, r, admin, nil)
	ctx := context.Background()

	r.mu.Lock()
	r.membersErr = errRemote
	r.mu.Unlock()
	require.Error(t, b.RefreshTasks(ctx))
	require.Equal(t, board.MsgFetchFailed, b.Error())

	require.NoError(t, b.SetScope(ctx, "", ""))
	assert.Empty(t, b.Error())
	assert.Empty(t, b.Tasks())
	assert.False(t, b.IsLoading())

	r.mu.Lock()
	r.membersErr = nil
	r.mu.Unlock()
	require.NoError(t, b.SetScope(ctx, "p2", "team1"))
	assert.Equal(t, []string{"Other"}, columnTitles(b, domain.StatusTodo))
	assert.Empty(t, b.Error())
}

func TestPermissionGateAsymmetry(t *testing.T) {
	r := &fakeRemote{tasks: []domain.BoardTask{task("mine", "Mine", domain.StatusTodo, "bob"), task("other", "Other", domain.StatusTodo)}}
	b, _ := newBoard(t, r, member, nil)
	assert.True(t, b.CanDrag("mine"))
	assert.False(t, b.CanDrag("other"))
	assert.False(t, b.CanEdit(), "assignees may drag but not edit")

	a, _ := newBoard(t, r, admin, nil)
	assert.True(t, a.CanDrag("other"))
	assert.True(t, a.CanEdit())
}

func TestSaveTaskEditsAggregatesFailure(t *testing.T) {
	r := &fakeRemote{tasks: []domain.BoardTask{withSubtasks(task("t", "T", domain.StatusTodo), false)}}
	ed := &fakeEditor{failOn: "tags"}
	b, rec := newBoard(t, r, admin, ed)
	title := "Renamed"
	tags := []string{"bug"}

	err := b.SaveTaskEdits(context.Background(), board.TaskEdit{
		TaskID:         "t",
		Patch:          domain.TaskPatch{Title: &title},
		TagIDs:         &tags,
		AddSubtasks:    []string{"extra"},
		RenameSubtasks: map[string]string{"t-s1": "first"},
	})
	require.Error(t, err)
	assert.ElementsMatch(t, []string{"update", "tags", "add:extra", "rename:t-s1"}, ed.calls)
	assert.Equal(t, []string{"error:" + board.MsgSaveFailed}, rec.all())
	fetches, _, _, _ := r.calls()
	assert.Equal(t, 2, fetches)
}

func TestEditingRequiresAdmin(t *testing.T) {
	r := &fakeRemote{tasks: []domain.BoardTask{task("t", "T", domain.StatusTodo, "bob")}}
	ed := &fakeEditor{}
	b, _ := newBoard(t, r, member, ed)
	_, err := b.CreateTask(context.Background(), domain.TaskDraft{Title: "x"})
	assert.ErrorIs(t, err, board.ErrForbidden)
	assert.ErrorIs(t, b.SaveTaskEdits(context.Background(), board.TaskEdit{TaskID: "t"}), board.ErrForbidden)
	assert.Empty(t, ed.calls)

	a, _ := newBoard(t, r, admin, ed)
	created, err := a.CreateTask(context.Background(), domain.TaskDraft{Title: "x"})
	require.NoError(t, err)
	assert.Equal(t, "p1", created.ProjectID)
	assert.Equal(t, "team1", ed.created.TeamID)
}

func TestNewRequiresActor(t *testing.T) {
	_, err := board.New(&fakeRemote{}, board.Config{ProjectID: "p1", TeamID: "team1"})
	assert.Error(t, err)
	_, err = board.New(nil, board.Config{Actor: admin})
	assert.Error(t, err)
}
