package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"testing"

	"taskline/internal/config"
	"taskline/internal/db"
	"taskline/internal/domain"
	"taskline/internal/engine"
	"taskline/internal/migrate"
)

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, string) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	cfg := config.Default("proj-1")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, cfg)
	ctx := context.Background()
	if _, err := e.CreateProject(ctx, "proj-1", "", "Project One", "", nil); err != nil {
		t.Fatalf("create project: %v", err)
	}
	a, err := e.CreateApp(ctx, "proj-1", "Web")
	if err != nil {
		t.Fatalf("create app: %v", err)
	}
	m, err := e.CreateModule(ctx, a.ID, "Home")
	if err != nil {
		t.Fatalf("create module: %v", err)
	}
	handler, err := New(Config{Engine: e, BasePath: "/v0", Auth: AuthConfig{AllowActorHeaders: true}})
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
	t.Cleanup(testSrv.Close)
	return testSrv, m.ID
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
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	buf := new(bytes.Buffer)
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, buf.Bytes()
}

func actorHeaders(id, name string) map[string]string {
	return map[string]string{"X-Actor-Id": id, "X-Actor-Name": name}
}

func errorCode(t *testing.T, body []byte) string {
	t.Helper()
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		t.Fatalf("decode error envelope %s: %v", body, err)
	}
	return envelope.Error.Code
}

func TestCreateTaskAssignsCode(t *testing.T) {
	srv, moduleID := newTestServer(t)
	resp, body := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/tasks",
		map[string]any{"module_id": moduleID, "title": "First task"},
		actorHeaders("alice", "Alice"))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, body %s", resp.StatusCode, body)
	}
	var task TaskResponse
	if err := json.Unmarshal(body, &task); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if task.Code != "HOM-1" {
		t.Fatalf("code = %q, want HOM-1", task.Code)
	}
	if task.CreatedBy != "alice" || task.ReporterID != "alice" {
		t.Fatalf("creator/reporter = %q/%q, want alice", task.CreatedBy, task.ReporterID)
	}
}

func TestGetMissingTaskReturnsNotFound(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, body := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/tasks/no-such-task", nil, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, body %s", resp.StatusCode, body)
	}
	if code := errorCode(t, body); code != "not_found" {
		t.Fatalf("error code = %q, want not_found", code)
	}
}

func TestDoneGuardsOverHTTP(t *testing.T) {
	srv, moduleID := newTestServer(t)
	_, body := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/tasks",
		map[string]any{"module_id": moduleID, "title": "Guarded"},
		actorHeaders("alice", "Alice"))
	var parent TaskResponse
	if err := json.Unmarshal(body, &parent); err != nil {
		t.Fatalf("decode: %v", err)
	}
	_, body = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/tasks",
		map[string]any{"module_id": moduleID, "parent_id": parent.ID, "title": "Blocker"},
		actorHeaders("alice", "Alice"))
	var sub TaskResponse
	if err := json.Unmarshal(body, &sub); err != nil {
		t.Fatalf("decode: %v", err)
	}

	// Stranger may not complete.
	resp, body := doJSON(t, srv.Client(), http.MethodPatch, srv.URL+"/v0/tasks/"+sub.ID,
		map[string]any{"status": "done"}, actorHeaders("mallory", "Mallory"))
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, body %s", resp.StatusCode, body)
	}
	if code := errorCode(t, body); code != "permission_denied" {
		t.Fatalf("error code = %q, want permission_denied", code)
	}

	// Creator may not complete the parent while the subtask is open.
	resp, body = doJSON(t, srv.Client(), http.MethodPatch, srv.URL+"/v0/tasks/"+parent.ID,
		map[string]any{"status": "done"}, actorHeaders("alice", "Alice"))
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, body %s", resp.StatusCode, body)
	}
	if code := errorCode(t, body); code != "invalid_state" {
		t.Fatalf("error code = %q, want invalid_state", code)
	}

	// Complete bottom-up.
	resp, body = doJSON(t, srv.Client(), http.MethodPatch, srv.URL+"/v0/tasks/"+sub.ID,
		map[string]any{"status": "done"}, actorHeaders("alice", "Alice"))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("subtask done status = %d, body %s", resp.StatusCode, body)
	}
	resp, body = doJSON(t, srv.Client(), http.MethodPatch, srv.URL+"/v0/tasks/"+parent.ID,
		map[string]any{"status": "done"}, actorHeaders("alice", "Alice"))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("parent done status = %d, body %s", resp.StatusCode, body)
	}
}

func TestStatusFastPathAndActivityFeed(t *testing.T) {
	srv, moduleID := newTestServer(t)
	_, body := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/tasks",
		map[string]any{"module_id": moduleID, "title": "Dragged"},
		actorHeaders("alice", "Alice"))
	var task TaskResponse
	if err := json.Unmarshal(body, &task); err != nil {
		t.Fatalf("decode: %v", err)
	}

	resp, body := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/tasks/"+task.ID+"/status",
		map[string]any{"status": "in_progress"}, actorHeaders("alice", "Alice"))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body %s", resp.StatusCode, body)
	}
	srv.Engine.Audit.Wait()

	resp, body = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/projects/proj-1/activity?limit=10", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("feed status = %d, body %s", resp.StatusCode, body)
	}
	var feed paginatedActivity
	if err := json.Unmarshal(body, &feed); err != nil {
		t.Fatalf("decode feed: %v", err)
	}
	var moved bool
	for _, entry := range feed.Items {
		if entry.Action == string(domain.ActionStatusChanged) && entry.EntityID == task.ID {
			moved = true
			if entry.Message == "" {
				t.Fatalf("entry without message: %+v", entry)
			}
		}
	}
	if !moved {
		t.Fatalf("no status_changed entry in feed: %s", body)
	}
}

func TestActivityFeedPagination(t *testing.T) {
	srv, moduleID := newTestServer(t)
	for i := 0; i < 5; i++ {
		doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/tasks",
			map[string]any{"module_id": moduleID, "title": fmt.Sprintf("task %d", i)},
			actorHeaders("alice", "Alice"))
	}
	resp, body := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/projects/proj-1/activity?limit=2", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body %s", resp.StatusCode, body)
	}
	var first paginatedActivity
	if err := json.Unmarshal(body, &first); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(first.Items) != 2 || first.NextCursor == "" {
		t.Fatalf("first page = %d items, cursor %q", len(first.Items), first.NextCursor)
	}
	resp, body = doJSON(t, srv.Client(), http.MethodGet,
		srv.URL+"/v0/projects/proj-1/activity?limit=2&cursor="+first.NextCursor, nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("second page status = %d, body %s", resp.StatusCode, body)
	}
	var second paginatedActivity
	if err := json.Unmarshal(body, &second); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(second.Items) != 2 {
		t.Fatalf("second page = %d items", len(second.Items))
	}
	if second.Items[0].ID >= first.Items[1].ID {
		t.Fatalf("pages overlap: %d vs %d", second.Items[0].ID, first.Items[1].ID)
	}
}

func TestReorderOverHTTP(t *testing.T) {
	srv, moduleID := newTestServer(t)
	var ids []string
	for _, title := range []string{"a", "b", "c"} {
		_, body := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/tasks",
			map[string]any{"module_id": moduleID, "title": title}, nil)
		var task TaskResponse
		if err := json.Unmarshal(body, &task); err != nil {
			t.Fatalf("decode: %v", err)
		}
		ids = append(ids, task.ID)
	}
	resp, body := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/tasks/reorder",
		map[string]any{"module_id": moduleID, "task_ids": []string{ids[2], ids[0], ids[1]}}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body %s", resp.StatusCode, body)
	}
	var result ReorderResponse
	if err := json.Unmarshal(body, &result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if result.Reordered != 3 {
		t.Fatalf("reordered = %d, want 3", result.Reordered)
	}

	resp, body = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/tasks?module_id="+moduleID+"&root_only=true", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list status = %d, body %s", resp.StatusCode, body)
	}
	var listing paginatedTasks
	if err := json.Unmarshal(body, &listing); err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := []string{"c", "a", "b"}
	for i, item := range listing.Items {
		if item.Title != want[i] {
			t.Fatalf("position %d = %q, want %q", i, item.Title, want[i])
		}
	}
}

func TestDeleteTaskOverHTTP(t *testing.T) {
	srv, moduleID := newTestServer(t)
	_, body := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/tasks",
		map[string]any{"module_id": moduleID, "title": "Doomed"},
		actorHeaders("alice", "Alice"))
	var task TaskResponse
	if err := json.Unmarshal(body, &task); err != nil {
		t.Fatalf("decode: %v", err)
	}

	resp, body := doJSON(t, srv.Client(), http.MethodDelete, srv.URL+"/v0/tasks/"+task.ID, nil,
		actorHeaders("mallory", "Mallory"))
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("stranger delete status = %d, body %s", resp.StatusCode, body)
	}
	resp, body = doJSON(t, srv.Client(), http.MethodDelete, srv.URL+"/v0/tasks/"+task.ID, nil,
		actorHeaders("alice", "Alice"))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("creator delete status = %d, body %s", resp.StatusCode, body)
	}
	resp, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/tasks/"+task.ID, nil, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status after delete = %d, want 404", resp.StatusCode)
	}
}
