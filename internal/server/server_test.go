package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"teamboard/internal/config"
	"teamboard/internal/db"
	"teamboard/internal/domain"
	"teamboard/internal/engine"
	"teamboard/internal/migrate"
)

const testSecret = "test-secret"

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn)
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v0",
		Logger:   quietLogger(),
		Auth: AuthConfig{
			JWTSecret:              testSecret,
			AllowLegacyActorHeader: true,
			DevLogin:               true,
		},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func as(actor string) map[string]string {
	return map[string]string{"X-Actor-Id": actor}
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func expectStatus(t *testing.T, res *http.Response, body []byte, want int) {
	t.Helper()
	if res.StatusCode != want {
		t.Fatalf("%s %s: status %d, want %d: %s", res.Request.Method, res.Request.URL.Path, res.StatusCode, want, string(body))
	}
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal %s: %v", string(data), err)
	}
	return out
}

// seedTeam creates a team owned by "ada" with "mel" as member and one project.
func seedTeam(t *testing.T, srv *testServer) (teamID, projectID string) {
	t.Helper()
	client := srv.Client()
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/teams", map[string]any{
		"name":         "Core",
		"email":        "ada@example.com",
		"display_name": "Ada",
	}, as("ada"))
	expectStatus(t, res, data, http.StatusCreated)
	team := decode[domain.Team](t, data)

	res, data = doJSON(t, client, http.MethodPut, srv.URL+"/v0/teams/"+team.ID+"/members/mel", map[string]any{
		"role":         "member",
		"display_name": "Mel",
	}, as("ada"))
	expectStatus(t, res, data, http.StatusOK)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/teams/"+team.ID+"/projects", map[string]any{
		"name": "Launch",
	}, as("ada"))
	expectStatus(t, res, data, http.StatusCreated)
	project := decode[domain.Project](t, data)
	return team.ID, project.ID
}

func TestBoardFlow(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	teamID, projectID := seedTeam(t, srv)
	base := srv.URL + "/v0/teams/" + teamID

	res, data := doJSON(t, client, http.MethodPost, base+"/tags", map[string]any{
		"tag_name": "bug",
		"color":    "#ff0000",
	}, as("ada"))
	expectStatus(t, res, data, http.StatusCreated)
	tag := decode[domain.Tag](t, data)

	res, data = doJSON(t, client, http.MethodPost, base+"/tasks", map[string]any{
		"project_id":      projectID,
		"title":           "Ship it",
		"priority":        "high",
		"due_date":        "2024-06-01",
		"assigned_to_ids": []string{"mel"},
		"tag_ids":         []string{tag.ID},
		"subtasks":        []string{"write", "review"},
	}, as("ada"))
	expectStatus(t, res, data, http.StatusCreated)
	created := decode[TaskResponse](t, data)
	if created.Status != domain.StatusTodo {
		t.Fatalf("expected todo, got %s", created.Status)
	}
	if created.DueDate == nil || *created.DueDate != "2024-06-01T00:00:00Z" {
		t.Fatalf("unexpected due date %v", created.DueDate)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/tasks/"+created.ID, nil, as("mel"))
	expectStatus(t, res, data, http.StatusOK)
	full := decode[TaskResponse](t, data)
	if len(full.Subtasks) != 2 || len(full.Tags) != 1 || len(full.AssignedTo) != 1 {
		t.Fatalf("task not resolved: %+v", full)
	}

	// The assignee completes one subtask; the task moves to in-progress.
	first := full.Subtasks[0].ID
	res, data = doJSON(t, client, http.MethodPut, base+"/tasks/"+created.ID+"/subtasks/"+first+"/completion", map[string]any{
		"completed": true,
	}, as("mel"))
	expectStatus(t, res, data, http.StatusOK)
	completion := decode[SubtaskCompletionResponse](t, data)
	if completion.TaskStatus != domain.StatusInProgress {
		t.Fatalf("expected in-progress, got %s", completion.TaskStatus)
	}

	res, data = doJSON(t, client, http.MethodPut, base+"/tasks/"+created.ID+"/status", map[string]any{
		"status": "done",
	}, as("mel"))
	expectStatus(t, res, data, http.StatusOK)

	res, data = doJSON(t, client, http.MethodGet, base+"/projects/"+projectID+"/tasks", nil, as("mel"))
	expectStatus(t, res, data, http.StatusOK)
	tasks := decode[[]TaskResponse](t, data)
	if len(tasks) != 1 || tasks[0].Status != domain.StatusDone {
		t.Fatalf("unexpected board: %+v", tasks)
	}

	res, data = doJSON(t, client, http.MethodPost, base+"/projects/"+projectID+"/archive-done", nil, as("ada"))
	expectStatus(t, res, data, http.StatusOK)
	archived := decode[ArchiveDoneResponse](t, data)
	if archived.Archived != 1 {
		t.Fatalf("expected 1 archived, got %d", archived.Archived)
	}

	res, data = doJSON(t, client, http.MethodGet, base+"/projects/"+projectID+"/tasks", nil, as("mel"))
	expectStatus(t, res, data, http.StatusOK)
	if tasks := decode[[]TaskResponse](t, data); len(tasks) != 0 {
		t.Fatalf("archived task still on board: %+v", tasks)
	}

	res, data = doJSON(t, client, http.MethodGet, base+"/projects/"+projectID+"/archived", nil, as("mel"))
	expectStatus(t, res, data, http.StatusOK)
	if list := decode[[]TaskResponse](t, data); len(list) != 1 || !list[0].IsArchived {
		t.Fatalf("unexpected archive list: %+v", list)
	}

	res, data = doJSON(t, client, http.MethodPost, base+"/tasks/"+created.ID+"/unarchive", nil, as("mel"))
	expectStatus(t, res, data, http.StatusForbidden)
	res, data = doJSON(t, client, http.MethodPost, base+"/tasks/"+created.ID+"/unarchive", nil, as("ada"))
	expectStatus(t, res, data, http.StatusOK)
}

func TestUpdateTaskPatchSemantics(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	teamID, projectID := seedTeam(t, srv)
	base := srv.URL + "/v0/teams/" + teamID

	res, data := doJSON(t, client, http.MethodPost, base+"/tasks", map[string]any{
		"project_id":      projectID,
		"title":           "Draft",
		"due_date":        "2024-06-01T10:00:00Z",
		"assigned_to_ids": []string{"mel"},
	}, as("ada"))
	expectStatus(t, res, data, http.StatusCreated)
	created := decode[TaskResponse](t, data)

	res, data = doJSON(t, client, http.MethodPatch, base+"/tasks/"+created.ID, map[string]any{
		"title": "Final",
	}, as("ada"))
	expectStatus(t, res, data, http.StatusOK)
	updated := decode[TaskResponse](t, data)
	if updated.Title != "Final" || updated.DueDate == nil || len(updated.AssignedToIDs) != 1 {
		t.Fatalf("absent fields must be kept: %+v", updated)
	}

	res, data = doJSON(t, client, http.MethodPatch, base+"/tasks/"+created.ID, map[string]any{
		"due_date":        nil,
		"assigned_to_ids": []string{},
	}, as("ada"))
	expectStatus(t, res, data, http.StatusOK)
	updated = decode[TaskResponse](t, data)
	if updated.DueDate != nil || len(updated.AssignedToIDs) != 0 {
		t.Fatalf("expected cleared due date and assignees: %+v", updated)
	}

	res, data = doJSON(t, client, http.MethodPatch, base+"/tasks/"+created.ID, map[string]any{}, as("ada"))
	expectStatus(t, res, data, http.StatusBadRequest)
}

func TestProjectAndTeamAdministration(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	teamID, projectID := seedTeam(t, srv)
	projectURL := srv.URL + "/v0/projects/" + projectID

	res, data := doJSON(t, client, http.MethodPatch, projectURL, map[string]any{
		"name": "Launch v2",
		"urls": []map[string]string{{"label": "Repo", "link": "https://example.com/repo"}},
	}, as("ada"))
	expectStatus(t, res, data, http.StatusOK)
	res, data = doJSON(t, client, http.MethodPatch, projectURL, map[string]any{"description": "Q3"}, as("ada"))
	expectStatus(t, res, data, http.StatusOK)
	p := decode[domain.Project](t, data)
	if p.Name != "Launch v2" || p.Description != "Q3" || len(p.URLs) != 1 {
		t.Fatalf("absent fields must be kept: %+v", p)
	}
	res, data = doJSON(t, client, http.MethodPatch, projectURL, map[string]any{"name": "x"}, as("mel"))
	expectStatus(t, res, data, http.StatusForbidden)

	res, data = doJSON(t, client, http.MethodPost, projectURL+"/archive", nil, as("ada"))
	expectStatus(t, res, data, http.StatusOK)
	res, data = doJSON(t, client, http.MethodPost, projectURL+"/archive", nil, as("ada"))
	expectStatus(t, res, data, http.StatusConflict)
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/teams/"+teamID+"/projects", nil, as("mel"))
	expectStatus(t, res, data, http.StatusOK)
	if active := decode[[]domain.Project](t, data); len(active) != 0 {
		t.Fatalf("archived project still listed: %+v", active)
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/teams/"+teamID+"/projects/archived", nil, as("mel"))
	expectStatus(t, res, data, http.StatusOK)
	if archived := decode[[]domain.Project](t, data); len(archived) != 1 || archived[0].Status != domain.ProjectArchived {
		t.Fatalf("archived list: %+v", archived)
	}
	res, data = doJSON(t, client, http.MethodPost, projectURL+"/unarchive", nil, as("ada"))
	expectStatus(t, res, data, http.StatusOK)

	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/v0/teams/"+teamID, map[string]any{"name": "Platform"}, as("ada"))
	expectStatus(t, res, data, http.StatusOK)
	if team := decode[domain.Team](t, data); team.Name != "Platform" {
		t.Fatalf("rename: %+v", team)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/teams/"+teamID+"/invites", nil, as("mel"))
	expectStatus(t, res, data, http.StatusForbidden)
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/teams/"+teamID+"/invites", nil, as("ada"))
	expectStatus(t, res, data, http.StatusCreated)
	inv := decode[domain.Invite](t, data)
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/invites/join", map[string]any{"code": "nope"}, as("nia"))
	expectStatus(t, res, data, http.StatusNotFound)
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/invites/join", map[string]any{
		"code":         strings.ToLower(inv.Code),
		"display_name": "Nia",
	}, as("nia"))
	expectStatus(t, res, data, http.StatusOK)
	if m := decode[domain.TeamMember](t, data); m.TeamID != teamID || m.Role != domain.RoleMember {
		t.Fatalf("join: %+v", m)
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/teams/"+teamID+"/members", nil, as("nia"))
	expectStatus(t, res, data, http.StatusOK)
	if users := decode[[]domain.User](t, data); len(users) != 3 {
		t.Fatalf("members after join: %+v", users)
	}
}

func TestErrorEnvelope(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	teamID, projectID := seedTeam(t, srv)

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/teams/"+teamID+"/projects", map[string]any{
		"name": "Side",
	}, as("mel"))
	expectStatus(t, res, data, http.StatusForbidden)
	var envelope struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if envelope.Error.Code != "forbidden" || envelope.Error.Details["permission"] != "team.admin" {
		t.Fatalf("unexpected envelope: %+v", envelope.Error)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/tasks/missing", nil, as("ada"))
	expectStatus(t, res, data, http.StatusNotFound)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/teams/"+teamID+"/tasks", map[string]any{
		"project_id":      projectID,
		"title":           "Outsider",
		"assigned_to_ids": []string{"stranger"},
	}, as("ada"))
	expectStatus(t, res, data, http.StatusBadRequest)

	res, data = doJSON(t, client, http.MethodDelete, srv.URL+"/v0/teams/"+teamID+"/members/ada", nil, as("ada"))
	expectStatus(t, res, data, http.StatusConflict)

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/teams/"+teamID+"/projects", nil, as("stranger"))
	expectStatus(t, res, data, http.StatusForbidden)
}

func TestAuthentication(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/health", nil, nil)
	expectStatus(t, res, data, http.StatusOK)

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, nil)
	expectStatus(t, res, data, http.StatusUnauthorized)

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{"Authorization": "Bearer nope"})
	expectStatus(t, res, data, http.StatusUnauthorized)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/auth/dev/login", map[string]any{
		"user_id": "ada",
		"email":   "ada@example.com",
		"name":    "Ada",
	}, nil)
	expectStatus(t, res, data, http.StatusOK)
	token := decode[DevLoginResponse](t, data).Token
	bearer := map[string]string{"Authorization": "Bearer " + token}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/teams", map[string]any{"name": "Core"}, bearer)
	expectStatus(t, res, data, http.StatusCreated)

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, bearer)
	expectStatus(t, res, data, http.StatusOK)
	me := decode[WhoAmIResponse](t, data)
	if me.UserID != "ada" || me.Source != "jwt" || len(me.Teams) != 1 {
		t.Fatalf("unexpected whoami: %+v", me)
	}
	if me.User == nil || me.User.Email != "ada@example.com" {
		t.Fatalf("expected profile from token claims: %+v", me.User)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/api-keys", map[string]any{"name": "ci"}, bearer)
	expectStatus(t, res, data, http.StatusCreated)
	key := decode[CreatedAPIKeyResponse](t, data)

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{"X-Api-Key": key.Key})
	expectStatus(t, res, data, http.StatusOK)
	if me := decode[WhoAmIResponse](t, data); me.UserID != "ada" || me.Source != "api_key" {
		t.Fatalf("unexpected api key principal: %+v", me)
	}

	res, data = doJSON(t, client, http.MethodDelete, srv.URL+"/v0/api-keys/"+key.ID, nil, bearer)
	expectStatus(t, res, data, http.StatusNoContent)
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{"X-Api-Key": key.Key})
	expectStatus(t, res, data, http.StatusUnauthorized)
}

func TestEventsPagination(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	teamID, projectID := seedTeam(t, srv)

	for _, title := range []string{"a", "b", "c"} {
		res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/teams/"+teamID+"/tasks", map[string]any{
			"project_id": projectID,
			"title":      title,
		}, as("ada"))
		expectStatus(t, res, data, http.StatusCreated)
	}

	url := srv.URL + "/v0/teams/" + teamID + "/events?type=task.created&limit=2"
	res, data := doJSON(t, client, http.MethodGet, url, nil, as("mel"))
	expectStatus(t, res, data, http.StatusOK)
	page := decode[paginatedEvents](t, data)
	if len(page.Items) != 2 || page.NextCursor == "" {
		t.Fatalf("unexpected first page: %+v", page)
	}
	if page.Items[0].Payload["title"] != "c" {
		t.Fatalf("expected newest first, got %+v", page.Items[0])
	}

	res, data = doJSON(t, client, http.MethodGet, url+"&cursor="+page.NextCursor, nil, as("mel"))
	expectStatus(t, res, data, http.StatusOK)
	page = decode[paginatedEvents](t, data)
	if len(page.Items) != 1 || page.NextCursor != "" {
		t.Fatalf("unexpected last page: %+v", page)
	}

	res, data = doJSON(t, client, http.MethodGet, url+"&cursor=abc", nil, as("mel"))
	expectStatus(t, res, data, http.StatusBadRequest)
}

func TestWebhookDelivery(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	teamID, projectID := seedTeam(t, srv)

	var (
		mu       sync.Mutex
		received []webhookEvent
		secrets  []string
	)
	receiver := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var evt webhookEvent
		json.NewDecoder(r.Body).Decode(&evt)
		mu.Lock()
		received = append(received, evt)
		secrets = append(secrets, r.Header.Get("X-Teamboard-Secret"))
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer receiver.Close()

	d := NewWebhookDispatcher(srv.Engine, []config.WebhookConfig{{
		Name:   "ci",
		URL:    receiver.URL,
		Team:   teamID,
		Events: []string{"task.created"},
		Secret: "s3cret",
	}}, quietLogger())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	// The first pass pins the cursor to the newest existing event.
	d.DispatchOnce(ctx)

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/teams/"+teamID+"/tasks", map[string]any{
		"project_id": projectID,
		"title":      "Hook me",
	}, as("ada"))
	expectStatus(t, res, data, http.StatusCreated)
	d.DispatchOnce(ctx)

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 1 {
		t.Fatalf("expected 1 delivery, got %d", len(received))
	}
	if received[0].Type != "task.created" || received[0].TeamID != teamID {
		t.Fatalf("unexpected delivery: %+v", received[0])
	}
	if secrets[0] != "s3cret" {
		t.Fatalf("secret header missing")
	}
}
