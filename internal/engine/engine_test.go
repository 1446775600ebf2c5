package engine_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"teamboard/internal/db"
	"teamboard/internal/domain"
	"teamboard/internal/engine"
	"teamboard/internal/engine/auth"
	"teamboard/internal/migrate"
	"teamboard/internal/repo"
)

type testEnv struct {
	Engine    engine.Engine
	Ctx       context.Context
	TeamID    string
	ProjectID string
}

const (
	admin  = "u-admin"
	member = "u-member"
	other  = "u-other"
)

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn)
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	eng.Now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	ctx := context.Background()
	team, err := eng.CreateTeam(ctx, "Core", domain.User{UID: admin, Email: "admin@example.com", DisplayName: "Ada"})
	if err != nil {
		t.Fatalf("create team: %v", err)
	}
	if _, err := eng.AddMember(ctx, team.ID, domain.User{UID: member, DisplayName: "Mel"}, domain.RoleMember, admin); err != nil {
		t.Fatalf("add member: %v", err)
	}
	if _, err := eng.AddMember(ctx, team.ID, domain.User{UID: other, DisplayName: "Oz"}, domain.RoleMember, admin); err != nil {
		t.Fatalf("add other: %v", err)
	}
	p, err := eng.CreateProject(ctx, team.ID, "Launch", "", admin)
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	return testEnv{Engine: eng, Ctx: ctx, TeamID: team.ID, ProjectID: p.ID}
}

func (env testEnv) createTask(t *testing.T, title string, subtasks ...string) domain.Task {
	t.Helper()
	task, err := env.Engine.CreateTask(env.Ctx, domain.TaskDraft{
		ProjectID:     env.ProjectID,
		TeamID:        env.TeamID,
		Title:         title,
		AssignedToIDs: []string{member},
		SubtaskTitles: subtasks,
	}, admin)
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	return task
}

func isForbidden(err error) bool {
	var fe auth.ForbiddenError
	return errors.As(err, &fe)
}

func TestCreateTaskDefaults(t *testing.T) {
	env := newTestEnv(t)
	task := env.createTask(t, "Write docs", "outline", "draft")
	if task.Status != domain.StatusTodo || task.IsArchived || task.Priority != domain.PriorityMedium {
		t.Fatalf("unexpected defaults: %+v", task)
	}
	got, err := env.Engine.GetTask(env.Ctx, task.ID, member)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if len(got.Subtasks) != 2 || got.Subtasks[0].Title != "outline" {
		t.Fatalf("subtasks not stored in order: %+v", got.Subtasks)
	}
	if len(got.AssignedTo) != 1 || got.AssignedTo[0].DisplayName != "Mel" {
		t.Fatalf("assignee not resolved: %+v", got.AssignedTo)
	}
}

func TestCreateTaskRequiresAdmin(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CreateTask(env.Ctx, domain.TaskDraft{ProjectID: env.ProjectID, TeamID: env.TeamID, Title: "x"}, member)
	if !isForbidden(err) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestCreateTaskRejectsOutsideAssignee(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CreateTask(env.Ctx, domain.TaskDraft{ProjectID: env.ProjectID, TeamID: env.TeamID, Title: "x", AssignedToIDs: []string{"stranger"}}, admin)
	var ve domain.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestSubtaskChangesRederiveStatus(t *testing.T) {
	env := newTestEnv(t)
	task := env.createTask(t, "Ship", "build", "test")
	got, err := env.Engine.GetTask(env.Ctx, task.ID, admin)
	if err != nil {
		t.Fatal(err)
	}
	first, second := got.Subtasks[0].ID, got.Subtasks[1].ID

	status, err := env.Engine.SetSubtaskCompletion(env.Ctx, first, task.ID, true, member, env.TeamID)
	if err != nil || status != domain.StatusInProgress {
		t.Fatalf("first toggle: status=%s err=%v", status, err)
	}
	status, err = env.Engine.SetSubtaskCompletion(env.Ctx, second, task.ID, true, member, env.TeamID)
	if err != nil || status != domain.StatusDone {
		t.Fatalf("second toggle: status=%s err=%v", status, err)
	}
	if _, err := env.Engine.AddSubtask(env.Ctx, task.ID, "release notes", admin, env.TeamID); err != nil {
		t.Fatalf("add subtask: %v", err)
	}
	got, _ = env.Engine.GetTask(env.Ctx, task.ID, admin)
	if got.Status != domain.StatusInProgress {
		t.Fatalf("adding an open subtask should reopen, got %s", got.Status)
	}
	if err := env.Engine.RemoveSubtask(env.Ctx, got.Subtasks[2].ID, task.ID, admin, env.TeamID); err != nil {
		t.Fatalf("remove subtask: %v", err)
	}
	got, _ = env.Engine.GetTask(env.Ctx, task.ID, admin)
	if got.Status != domain.DeriveStatus(got.Subtasks) || got.Status != domain.StatusDone {
		t.Fatalf("status %s does not match subtasks", got.Status)
	}
}

func TestSubtaskToggleGate(t *testing.T) {
	env := newTestEnv(t)
	task := env.createTask(t, "Gate", "one")
	got, _ := env.Engine.GetTask(env.Ctx, task.ID, admin)
	_, err := env.Engine.SetSubtaskCompletion(env.Ctx, got.Subtasks[0].ID, task.ID, true, other, env.TeamID)
	if !isForbidden(err) {
		t.Fatalf("non-assignee member should be forbidden, got %v", err)
	}
	if _, err := env.Engine.SetSubtaskCompletion(env.Ctx, got.Subtasks[0].ID, task.ID, true, admin, env.TeamID); err != nil {
		t.Fatalf("admin toggle: %v", err)
	}
	if _, err := env.Engine.SetSubtaskCompletion(env.Ctx, "missing", task.ID, true, admin, env.TeamID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestStatusUpdateIsManualOverride(t *testing.T) {
	env := newTestEnv(t)
	task := env.createTask(t, "Override", "a", "b")
	updated, err := env.Engine.UpdateTaskStatus(env.Ctx, task.ID, domain.StatusDone, member, env.TeamID)
	if err != nil || updated.Status != domain.StatusDone {
		t.Fatalf("status update: %+v %v", updated, err)
	}
	if _, err := env.Engine.UpdateTaskStatus(env.Ctx, task.ID, domain.StatusDone, other, env.TeamID); !isForbidden(err) {
		t.Fatalf("expected forbidden for non-assignee, got %v", err)
	}
	got, _ := env.Engine.GetTask(env.Ctx, task.ID, admin)
	status, err := env.Engine.SetSubtaskCompletion(env.Ctx, got.Subtasks[0].ID, task.ID, false, member, env.TeamID)
	if err != nil || status != domain.StatusTodo {
		t.Fatalf("subtask change should re-derive, got %s %v", status, err)
	}
}

func TestUpdateTaskPatch(t *testing.T) {
	env := newTestEnv(t)
	task := env.createTask(t, "Old")
	title := "New"
	high := domain.PriorityHigh
	due := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	assignees := []string{other, other}
	updated, err := env.Engine.UpdateTask(env.Ctx, task.ID, domain.TaskPatch{Title: &title, Priority: &high, DueDate: &due, AssignedToIDs: &assignees}, admin, env.TeamID)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Title != "New" || updated.Priority != high || len(updated.AssignedToIDs) != 1 {
		t.Fatalf("patch not applied: %+v", updated)
	}
	got, _ := env.Engine.GetTask(env.Ctx, task.ID, admin)
	if got.DueDate == nil || !got.DueDate.Equal(due) {
		t.Fatalf("due date not stored: %v", got.DueDate)
	}
	if _, err := env.Engine.UpdateTask(env.Ctx, task.ID, domain.TaskPatch{ClearDueDate: true}, admin, env.TeamID); err != nil {
		t.Fatal(err)
	}
	got, _ = env.Engine.GetTask(env.Ctx, task.ID, admin)
	if got.DueDate != nil {
		t.Fatalf("due date should be cleared")
	}
	if _, err := env.Engine.UpdateTask(env.Ctx, task.ID, domain.TaskPatch{Title: &title}, member, env.TeamID); !isForbidden(err) {
		t.Fatalf("member edit should be forbidden, got %v", err)
	}
}

func TestTaskTeamMismatchIsNotFound(t *testing.T) {
	env := newTestEnv(t)
	task := env.createTask(t, "Scoped")
	if _, err := env.Engine.ArchiveTask(env.Ctx, task.ID, admin, "other-team"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestTagsOnTasks(t *testing.T) {
	env := newTestEnv(t)
	bug, err := env.Engine.CreateTag(env.Ctx, env.TeamID, "bug", "#ff0000", admin)
	if err != nil {
		t.Fatalf("create tag: %v", err)
	}
	if _, err := env.Engine.CreateTag(env.Ctx, env.TeamID, "bug", "#00ff00", admin); !errors.Is(err, engine.ErrDuplicateTag) {
		t.Fatalf("expected duplicate tag, got %v", err)
	}
	if _, err := env.Engine.CreateTag(env.Ctx, env.TeamID, "bad", "red", admin); err == nil {
		t.Fatalf("expected color validation error")
	}
	task := env.createTask(t, "Tagged")
	if err := env.Engine.SetTaskTags(env.Ctx, task.ID, []string{bug.ID}, admin, env.TeamID); err != nil {
		t.Fatalf("set tags: %v", err)
	}
	got, _ := env.Engine.GetTask(env.Ctx, task.ID, admin)
	if len(got.Tags) != 1 || got.Tags[0].TagName != "bug" {
		t.Fatalf("tags not resolved: %+v", got.Tags)
	}
	if err := env.Engine.DeleteTag(env.Ctx, bug.ID, admin); err != nil {
		t.Fatalf("delete tag: %v", err)
	}
	got, _ = env.Engine.GetTask(env.Ctx, task.ID, admin)
	if len(got.Tags) != 0 || len(got.TagIDs) != 0 {
		t.Fatalf("tag links should be removed: %+v", got.TagIDs)
	}
}

func TestArchiveLifecycle(t *testing.T) {
	env := newTestEnv(t)
	first := env.createTask(t, "first")
	second := env.createTask(t, "second")
	if _, err := env.Engine.ArchiveTask(env.Ctx, first.ID, member, env.TeamID); err != nil {
		t.Fatalf("assignee archive: %v", err)
	}
	if _, err := env.Engine.ArchiveTask(env.Ctx, first.ID, admin, env.TeamID); !errors.Is(err, engine.ErrAlreadyArchived) {
		t.Fatalf("expected already archived, got %v", err)
	}
	if _, err := env.Engine.ArchiveTask(env.Ctx, second.ID, admin, env.TeamID); err != nil {
		t.Fatal(err)
	}
	archived, err := env.Engine.ListArchived(env.Ctx, env.ProjectID, member, env.TeamID)
	if err != nil {
		t.Fatal(err)
	}
	if len(archived) != 2 || archived[0].ID != second.ID {
		t.Fatalf("archived list should be newest first: %+v", archived)
	}
	if _, err := env.Engine.UnarchiveTask(env.Ctx, first.ID, member, env.TeamID); !isForbidden(err) {
		t.Fatalf("member unarchive should be forbidden, got %v", err)
	}
	if _, err := env.Engine.UnarchiveTask(env.Ctx, first.ID, admin, env.TeamID); err != nil {
		t.Fatal(err)
	}
	active, _ := env.Engine.ListProjectTasks(env.Ctx, env.ProjectID, env.TeamID, member)
	if len(active) != 1 || active[0].ID != first.ID {
		t.Fatalf("unarchived task should be active again: %+v", active)
	}
}

func TestArchiveAllDone(t *testing.T) {
	env := newTestEnv(t)
	done := env.createTask(t, "done")
	open := env.createTask(t, "open")
	if _, err := env.Engine.UpdateTaskStatus(env.Ctx, done.ID, domain.StatusDone, admin, env.TeamID); err != nil {
		t.Fatal(err)
	}
	n, err := env.Engine.ArchiveAllDone(env.Ctx, env.ProjectID, admin, env.TeamID)
	if err != nil || n != 1 {
		t.Fatalf("archive all done: n=%d err=%v", n, err)
	}
	active, _ := env.Engine.ListProjectTasks(env.Ctx, env.ProjectID, env.TeamID, admin)
	if len(active) != 1 || active[0].ID != open.ID {
		t.Fatalf("only the open task should remain: %+v", active)
	}
}

func TestMembershipRules(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.ListMembers(env.Ctx, env.TeamID, "stranger"); !isForbidden(err) {
		t.Fatalf("non-member read should be forbidden, got %v", err)
	}
	if err := env.Engine.RemoveMember(env.Ctx, env.TeamID, admin, admin); !errors.Is(err, engine.ErrLastAdmin) {
		t.Fatalf("expected last admin error, got %v", err)
	}
	if err := env.Engine.RemoveMember(env.Ctx, env.TeamID, other, other); err != nil {
		t.Fatalf("member should be able to leave: %v", err)
	}
	users, err := env.Engine.ListMembers(env.Ctx, env.TeamID, member)
	if err != nil || len(users) != 2 {
		t.Fatalf("members after leave: %+v %v", users, err)
	}
	role, err := env.Engine.MemberRole(env.Ctx, env.TeamID, admin)
	if err != nil || role != domain.RoleAdmin {
		t.Fatalf("role: %s %v", role, err)
	}
}

func TestDashboards(t *testing.T) {
	env := newTestEnv(t)
	a := env.createTask(t, "a", "s")
	env.createTask(t, "b")
	if _, err := env.Engine.UpdateTaskStatus(env.Ctx, a.ID, domain.StatusInProgress, admin, env.TeamID); err != nil {
		t.Fatal(err)
	}
	mine, err := env.Engine.UserTasks(env.Ctx, env.TeamID, "", member)
	if err != nil || len(mine) != 2 {
		t.Fatalf("member dashboard: %d %v", len(mine), err)
	}
	if _, err := env.Engine.UserTasks(env.Ctx, env.TeamID, member, other); !isForbidden(err) {
		t.Fatalf("viewing another member's dashboard should be forbidden, got %v", err)
	}
	counts, err := env.Engine.ProjectCounts(env.Ctx, env.TeamID, admin)
	if err != nil || len(counts) != 1 {
		t.Fatalf("counts: %+v %v", counts, err)
	}
	want := domain.TaskCounts{All: 2, Todo: 1, InProgress: 1}
	if counts[0].Counts != want {
		t.Fatalf("counts = %+v, want %+v", counts[0].Counts, want)
	}
}

func TestActivityPaging(t *testing.T) {
	env := newTestEnv(t)
	env.createTask(t, "logged")
	page, next, err := env.Engine.Activity(env.Ctx, env.TeamID, repo.EventFilters{}, 2, 0, member)
	if err != nil || len(page) != 2 || next == 0 {
		t.Fatalf("first page: %d next=%d err=%v", len(page), next, err)
	}
	if page[0].Type != "task.created" {
		t.Fatalf("newest event first, got %s", page[0].Type)
	}
	rest, _, err := env.Engine.Activity(env.Ctx, env.TeamID, repo.EventFilters{}, 100, next, member)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range rest {
		if e.ID >= next {
			t.Fatalf("cursor not respected: %d >= %d", e.ID, next)
		}
	}
	after, err := env.Engine.EventsAfter(env.Ctx, env.TeamID, 10, page[1].ID)
	if err != nil || len(after) != 1 || after[0].ID != page[0].ID {
		t.Fatalf("events after: %+v %v", after, err)
	}
}

func TestAPIKeys(t *testing.T) {
	env := newTestEnv(t)
	key, plain, err := env.Engine.CreateAPIKey(env.Ctx, "ci", member)
	if err != nil {
		t.Fatal(err)
	}
	stored, err := env.Engine.Repo.GetAPIKeyByHash(env.Ctx, repo.HashAPIKey(plain))
	if err != nil || stored.ID != key.ID || stored.UserID != member {
		t.Fatalf("lookup by hash: %+v %v", stored, err)
	}
	if err := env.Engine.RevokeAPIKey(env.Ctx, key.ID, other); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("revoking someone else's key should fail, got %v", err)
	}
	if err := env.Engine.RevokeAPIKey(env.Ctx, key.ID, member); err != nil {
		t.Fatal(err)
	}
}

func TestProjectEditAndArchive(t *testing.T) {
	env := newTestEnv(t)
	name := "Launch v2"
	urls := []domain.ProjectURL{{Label: "Repo", Link: "https://example.com/repo"}}
	if _, err := env.Engine.UpdateProject(env.Ctx, env.ProjectID, domain.ProjectPatch{Name: &name}, member); !isForbidden(err) {
		t.Fatalf("member edit should be forbidden, got %v", err)
	}
	if _, err := env.Engine.UpdateProject(env.Ctx, env.ProjectID, domain.ProjectPatch{}, admin); err == nil {
		t.Fatal("empty patch should fail")
	}
	bad := []domain.ProjectURL{{Label: "Repo", Link: "not a url"}}
	if _, err := env.Engine.UpdateProject(env.Ctx, env.ProjectID, domain.ProjectPatch{URLs: &bad}, admin); err == nil {
		t.Fatal("relative link should be rejected")
	}
	p, err := env.Engine.UpdateProject(env.Ctx, env.ProjectID, domain.ProjectPatch{Name: &name, URLs: &urls}, admin)
	if err != nil {
		t.Fatal(err)
	}
	if p.Name != name || len(p.URLs) != 1 || p.URLs[0].ID == "" || p.Status != domain.ProjectActive {
		t.Fatalf("unexpected project after update: %+v", p)
	}
	got, err := env.Engine.GetProject(env.Ctx, env.ProjectID, member)
	if err != nil || got.URLs[0].Link != "https://example.com/repo" || got.UpdatedAt == got.CreatedAt {
		t.Fatalf("stored project: %+v %v", got, err)
	}

	if _, err := env.Engine.ArchiveProject(env.Ctx, env.ProjectID, member); !isForbidden(err) {
		t.Fatalf("member archive should be forbidden, got %v", err)
	}
	if _, err := env.Engine.ArchiveProject(env.Ctx, env.ProjectID, admin); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.ArchiveProject(env.Ctx, env.ProjectID, admin); !errors.Is(err, engine.ErrProjectArchived) {
		t.Fatalf("expected already archived, got %v", err)
	}
	active, _ := env.Engine.ListProjects(env.Ctx, env.TeamID, member)
	archived, _ := env.Engine.ListArchivedProjects(env.Ctx, env.TeamID, member)
	if len(active) != 0 || len(archived) != 1 || archived[0].ID != env.ProjectID {
		t.Fatalf("active=%+v archived=%+v", active, archived)
	}
	counts, err := env.Engine.ProjectCounts(env.Ctx, env.TeamID, admin)
	if err != nil || len(counts) != 0 {
		t.Fatalf("archived projects should leave the dashboard: %+v %v", counts, err)
	}

	if _, err := env.Engine.UnarchiveProject(env.Ctx, env.ProjectID, admin); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.UnarchiveProject(env.Ctx, env.ProjectID, admin); !errors.Is(err, engine.ErrProjectNotArchived) {
		t.Fatalf("expected not archived, got %v", err)
	}
	active, _ = env.Engine.ListProjects(env.Ctx, env.TeamID, member)
	if len(active) != 1 {
		t.Fatalf("restored project should be active: %+v", active)
	}
}

func TestRenameTeam(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.RenameTeam(env.Ctx, env.TeamID, "Platform", member); !isForbidden(err) {
		t.Fatalf("member rename should be forbidden, got %v", err)
	}
	if _, err := env.Engine.RenameTeam(env.Ctx, env.TeamID, "  ", admin); err == nil {
		t.Fatal("blank name should fail")
	}
	team, err := env.Engine.RenameTeam(env.Ctx, env.TeamID, " Platform ", admin)
	if err != nil || team.Name != "Platform" {
		t.Fatalf("rename: %+v %v", team, err)
	}
	teams, _ := env.Engine.ListTeams(env.Ctx, member)
	if len(teams) != 1 || teams[0].Name != "Platform" {
		t.Fatalf("teams after rename: %+v", teams)
	}
}

func TestInviteCodes(t *testing.T) {
	env := newTestEnv(t)
	clock := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	env.Engine.Now = func() time.Time { return clock }

	if _, err := env.Engine.CreateInvite(env.Ctx, env.TeamID, member); !isForbidden(err) {
		t.Fatalf("member invite should be forbidden, got %v", err)
	}
	inv, err := env.Engine.CreateInvite(env.Ctx, env.TeamID, admin)
	if err != nil {
		t.Fatal(err)
	}
	if len(inv.Code) != 6 || inv.Code != strings.ToUpper(inv.Code) {
		t.Fatalf("unexpected code %q", inv.Code)
	}

	typed := " " + strings.ToLower(inv.Code[:3]) + " " + strings.ToLower(inv.Code[3:]) + "\n"
	m, err := env.Engine.JoinTeam(env.Ctx, typed, domain.User{UID: "u-new", DisplayName: "Nia"})
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if m.TeamID != env.TeamID || m.Role != domain.RoleMember {
		t.Fatalf("membership: %+v", m)
	}
	if _, err := env.Engine.MemberRole(env.Ctx, env.TeamID, "u-new"); err != nil {
		t.Fatalf("joined user should be a member: %v", err)
	}
	m, err = env.Engine.JoinTeam(env.Ctx, inv.Code, domain.User{UID: admin})
	if err != nil || m.Role != domain.RoleAdmin {
		t.Fatalf("existing admin should keep role: %+v %v", m, err)
	}
	if _, err := env.Engine.JoinTeam(env.Ctx, "ZZZZZZ", domain.User{UID: "u-late"}); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("unknown code should be not found, got %v", err)
	}

	clock = clock.Add(engine.InviteTTL)
	if _, err := env.Engine.JoinTeam(env.Ctx, inv.Code, domain.User{UID: "u-late"}); !errors.Is(err, engine.ErrInviteExpired) {
		t.Fatalf("expected expired invite, got %v", err)
	}
}
