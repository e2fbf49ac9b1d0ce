package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"taskline/internal/config"
	"taskline/internal/db"
	"taskline/internal/domain"
	"taskline/internal/engine"
	"taskline/internal/migrate"
	"taskline/internal/repo"
)

type testEnv struct {
	Engine   engine.Engine
	Ctx      context.Context
	ModuleID string
}

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
	cfg := config.Default("proj-1")
	eng := engine.New(conn, cfg)
	fixed := func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	eng.Now = fixed
	eng.Audit.Now = fixed
	ctx := context.Background()
	if _, err := eng.CreateProject(ctx, "proj-1", "", "Project One", "", nil); err != nil {
		t.Fatalf("create project: %v", err)
	}
	a, err := eng.CreateApp(ctx, "proj-1", "Web")
	if err != nil {
		t.Fatalf("create app: %v", err)
	}
	m, err := eng.CreateModule(ctx, a.ID, "Home")
	if err != nil {
		t.Fatalf("create module: %v", err)
	}
	return testEnv{Engine: eng, Ctx: ctx, ModuleID: m.ID}
}

func createTask(t *testing.T, env testEnv, opts engine.TaskCreateOptions) domain.Task {
	t.Helper()
	if opts.ModuleID == "" {
		opts.ModuleID = env.ModuleID
	}
	task, err := env.Engine.CreateTask(env.Ctx, opts)
	if err != nil {
		t.Fatalf("create task %q: %v", opts.Title, err)
	}
	return task
}

func taskActivity(t *testing.T, env testEnv, taskID string) []domain.ActivityLog {
	t.Helper()
	entries, err := env.Engine.Repo.ListEntityActivity(env.Ctx, domain.EntityRef{Kind: domain.KindTask, ID: taskID}, 100)
	if err != nil {
		t.Fatalf("list activity: %v", err)
	}
	return entries
}

func taskHistory(t *testing.T, env testEnv, taskID string) []domain.TaskHistory {
	t.Helper()
	rows, err := env.Engine.Repo.ListTaskHistory(env.Ctx, taskID, 100)
	if err != nil {
		t.Fatalf("list history: %v", err)
	}
	return rows
}

func TestRootTaskCodesAndCounter(t *testing.T) {
	env := newTestEnv(t)
	first := createTask(t, env, engine.TaskCreateOptions{Title: "first"})
	second := createTask(t, env, engine.TaskCreateOptions{Title: "second"})
	if first.Code != "HOM-1" {
		t.Fatalf("first code = %q, want HOM-1", first.Code)
	}
	if second.Code != "HOM-2" {
		t.Fatalf("second code = %q, want HOM-2", second.Code)
	}
	if first.Order != 0 || second.Order != 1 {
		t.Fatalf("orders = %d,%d, want 0,1", first.Order, second.Order)
	}
	m, err := env.Engine.Repo.GetModule(env.Ctx, env.ModuleID)
	if err != nil {
		t.Fatalf("get module: %v", err)
	}
	if m.TaskCounter != 2 {
		t.Fatalf("task counter = %d, want 2", m.TaskCounter)
	}
}

func TestSubtaskCodes(t *testing.T) {
	env := newTestEnv(t)
	parent := createTask(t, env, engine.TaskCreateOptions{Title: "parent"})
	s1 := createTask(t, env, engine.TaskCreateOptions{Title: "sub one", ParentID: parent.ID})
	s2 := createTask(t, env, engine.TaskCreateOptions{Title: "sub two", ParentID: parent.ID})
	if s1.Code != "HOM-1.1" || s2.Code != "HOM-1.2" {
		t.Fatalf("subtask codes = %q,%q, want HOM-1.1,HOM-1.2", s1.Code, s2.Code)
	}
	if s1.Order != 0 || s2.Order != 1 {
		t.Fatalf("subtask orders = %d,%d, want 0,1", s1.Order, s2.Order)
	}
	// Subtasks must not bump the module counter.
	m, err := env.Engine.Repo.GetModule(env.Ctx, env.ModuleID)
	if err != nil {
		t.Fatalf("get module: %v", err)
	}
	if m.TaskCounter != 1 {
		t.Fatalf("task counter = %d, want 1", m.TaskCounter)
	}
}

func TestDoneBlockedByIncompleteSubtasks(t *testing.T) {
	env := newTestEnv(t)
	parent := createTask(t, env, engine.TaskCreateOptions{Title: "parent"})
	sub := createTask(t, env, engine.TaskCreateOptions{Title: "sub", ParentID: parent.ID})

	done := domain.StatusDone
	_, err := env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{ID: parent.ID, Status: &done})
	if !errors.Is(err, engine.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
	got, err := env.Engine.Repo.GetTaskRow(env.Ctx, parent.ID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if got.Status != domain.StatusTodo {
		t.Fatalf("status after blocked update = %q, want todo", got.Status)
	}
	// No audit rows for the rejected transition.
	if n := len(taskHistory(t, env, parent.ID)); n != 0 {
		t.Fatalf("history rows = %d, want 0", n)
	}

	if _, err := env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{ID: sub.ID, Status: &done}); err != nil {
		t.Fatalf("complete subtask: %v", err)
	}
	updated, err := env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{ID: parent.ID, Status: &done})
	if err != nil {
		t.Fatalf("complete parent: %v", err)
	}
	if updated.Status != domain.StatusDone {
		t.Fatalf("status = %q, want done", updated.Status)
	}
}

func TestDonePermission(t *testing.T) {
	env := newTestEnv(t)
	creator := &domain.Actor{ID: "alice", Name: "Alice"}
	task := createTask(t, env, engine.TaskCreateOptions{Title: "guarded", Actor: creator})

	done := domain.StatusDone
	_, err := env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{
		ID: task.ID, Status: &done, Actor: &domain.Actor{ID: "mallory", Name: "Mallory"},
	})
	if !errors.Is(err, engine.ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
	if n := len(taskHistory(t, env, task.ID)); n != 0 {
		t.Fatalf("history rows after denied update = %d, want 0", n)
	}

	updated, err := env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{ID: task.ID, Status: &done, Actor: creator})
	if err != nil {
		t.Fatalf("creator completing: %v", err)
	}
	if updated.Status != domain.StatusDone {
		t.Fatalf("status = %q, want done", updated.Status)
	}
	var statusChanges int
	for _, e := range taskActivity(t, env, task.ID) {
		if e.Action == domain.ActionStatusChanged {
			statusChanges++
			if e.OldValue != "todo" || e.NewValue != "done" {
				t.Fatalf("status change values = %q -> %q", e.OldValue, e.NewValue)
			}
			if e.UserID != "alice" || e.UserName != "Alice" {
				t.Fatalf("status change actor = %q/%q", e.UserID, e.UserName)
			}
		}
	}
	if statusChanges != 1 {
		t.Fatalf("status_changed entries = %d, want 1", statusChanges)
	}
	hist := taskHistory(t, env, task.ID)
	if len(hist) != 1 || hist[0].Field != "status" {
		t.Fatalf("history = %+v, want one status row", hist)
	}
}

func TestLegacyTasksStayCompletable(t *testing.T) {
	env := newTestEnv(t)
	// Created without actor context: no creator or reporter on record.
	task := createTask(t, env, engine.TaskCreateOptions{Title: "legacy"})
	done := domain.StatusDone
	updated, err := env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{
		ID: task.ID, Status: &done, Actor: &domain.Actor{ID: "anyone"},
	})
	if err != nil {
		t.Fatalf("completing legacy task: %v", err)
	}
	if updated.Status != domain.StatusDone {
		t.Fatalf("status = %q, want done", updated.Status)
	}
}

func TestUpdateWritesPairedAuditRows(t *testing.T) {
	env := newTestEnv(t)
	actor := &domain.Actor{ID: "alice", Name: "Alice"}
	task := createTask(t, env, engine.TaskCreateOptions{Title: "audit me", Actor: actor})

	title := "audit me please"
	high := domain.PriorityHigh
	if _, err := env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{
		ID: task.ID, Title: &title, Priority: &high, Actor: actor,
	}); err != nil {
		t.Fatalf("update: %v", err)
	}

	hist := taskHistory(t, env, task.ID)
	if len(hist) != 2 {
		t.Fatalf("history rows = %d, want 2", len(hist))
	}
	fields := map[string]bool{}
	for _, h := range hist {
		fields[h.Field] = true
		if h.ActorID != "alice" {
			t.Fatalf("history actor = %q, want alice", h.ActorID)
		}
		if h.CreatedAt != hist[0].CreatedAt {
			t.Fatalf("history timestamps differ: %q vs %q", h.CreatedAt, hist[0].CreatedAt)
		}
	}
	if !fields["title"] || !fields["priority"] {
		t.Fatalf("history fields = %v, want title and priority", fields)
	}

	var updates, priorityChanges int
	for _, e := range taskActivity(t, env, task.ID) {
		switch e.Action {
		case domain.ActionUpdated:
			updates++
		case domain.ActionPriorityChanged:
			priorityChanges++
			if e.OldValue != "medium" || e.NewValue != "high" {
				t.Fatalf("priority change values = %q -> %q", e.OldValue, e.NewValue)
			}
		}
	}
	if updates != 1 || priorityChanges != 1 {
		t.Fatalf("activity updated=%d priority_changed=%d, want 1 and 1", updates, priorityChanges)
	}
}

func TestReporterReassignIsCreatorOnly(t *testing.T) {
	env := newTestEnv(t)
	creator := &domain.Actor{ID: "alice", Name: "Alice"}
	task := createTask(t, env, engine.TaskCreateOptions{Title: "owned", Actor: creator})

	newReporter := "bob"
	_, err := env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{
		ID: task.ID, ReporterID: &newReporter, Actor: &domain.Actor{ID: "mallory"},
	})
	if !errors.Is(err, engine.ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}

	updated, err := env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{
		ID: task.ID, ReporterID: &newReporter, Actor: creator,
	})
	if err != nil {
		t.Fatalf("creator reassigning reporter: %v", err)
	}
	if updated.ReporterID != "bob" {
		t.Fatalf("reporter = %q, want bob", updated.ReporterID)
	}
}

func TestChangeTaskStatusWritesAsyncAudit(t *testing.T) {
	env := newTestEnv(t)
	actor := &domain.Actor{ID: "alice", Name: "Alice"}
	task := createTask(t, env, engine.TaskCreateOptions{Title: "board drag", Actor: actor})

	updated, err := env.Engine.ChangeTaskStatus(env.Ctx, task.ID, domain.StatusInProgress, actor)
	if err != nil {
		t.Fatalf("change status: %v", err)
	}
	if updated.Status != domain.StatusInProgress {
		t.Fatalf("status = %q, want in_progress", updated.Status)
	}
	env.Engine.Audit.Wait()

	var found bool
	for _, e := range taskActivity(t, env, task.ID) {
		if e.Action == domain.ActionStatusChanged && e.NewValue == "in_progress" {
			found = true
		}
	}
	if !found {
		t.Fatalf("no status_changed entry after async audit")
	}
	hist := taskHistory(t, env, task.ID)
	if len(hist) != 1 || hist[0].Field != "status" {
		t.Fatalf("history = %+v, want one status row", hist)
	}
}

func TestChangeTaskStatusKeepsDoneGuards(t *testing.T) {
	env := newTestEnv(t)
	parent := createTask(t, env, engine.TaskCreateOptions{Title: "parent"})
	createTask(t, env, engine.TaskCreateOptions{Title: "sub", ParentID: parent.ID})

	_, err := env.Engine.ChangeTaskStatus(env.Ctx, parent.ID, domain.StatusDone, nil)
	if !errors.Is(err, engine.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
}

func TestReorderTasks(t *testing.T) {
	env := newTestEnv(t)
	a := createTask(t, env, engine.TaskCreateOptions{Title: "a"})
	b := createTask(t, env, engine.TaskCreateOptions{Title: "b"})
	c := createTask(t, env, engine.TaskCreateOptions{Title: "c"})

	n, err := env.Engine.ReorderTasks(env.Ctx, engine.ReorderOptions{
		ModuleID: env.ModuleID,
		IDs:      []string{c.ID, a.ID, b.ID},
	})
	if err != nil {
		t.Fatalf("reorder: %v", err)
	}
	if n != 3 {
		t.Fatalf("reordered = %d, want 3", n)
	}
	tasks, err := env.Engine.Repo.ListTasks(env.Ctx, repo.TaskFilters{ModuleID: env.ModuleID, RootOnly: true})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := []string{"c", "a", "b"}
	for i, task := range tasks {
		if task.Title != want[i] || task.Order != i {
			t.Fatalf("position %d = %q order %d, want %q order %d", i, task.Title, task.Order, want[i], i)
		}
	}
}

func TestReorderIsAllOrNothing(t *testing.T) {
	env := newTestEnv(t)
	a := createTask(t, env, engine.TaskCreateOptions{Title: "a"})
	b := createTask(t, env, engine.TaskCreateOptions{Title: "b"})

	_, err := env.Engine.ReorderTasks(env.Ctx, engine.ReorderOptions{
		ModuleID: env.ModuleID,
		IDs:      []string{b.ID, "no-such-task", a.ID},
	})
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	// Nothing may have moved.
	gotA, _ := env.Engine.Repo.GetTaskRow(env.Ctx, a.ID)
	gotB, _ := env.Engine.Repo.GetTaskRow(env.Ctx, b.ID)
	if gotA.Order != 0 || gotB.Order != 1 {
		t.Fatalf("orders after failed reorder = %d,%d, want 0,1", gotA.Order, gotB.Order)
	}
}

func TestDeleteCascades(t *testing.T) {
	env := newTestEnv(t)
	creator := &domain.Actor{ID: "alice", Name: "Alice"}
	parent := createTask(t, env, engine.TaskCreateOptions{Title: "parent", Actor: creator})
	sub := createTask(t, env, engine.TaskCreateOptions{Title: "sub", ParentID: parent.ID, Actor: creator})
	if _, err := env.Engine.AddComment(env.Ctx, engine.CommentOptions{
		Entity: domain.EntityRef{Kind: domain.KindTask, ID: sub.ID},
		Body:   "will be removed",
		Actor:  creator,
	}); err != nil {
		t.Fatalf("add comment: %v", err)
	}

	if err := env.Engine.DeleteTask(env.Ctx, parent.ID, &domain.Actor{ID: "mallory"}); !errors.Is(err, engine.ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
	if err := env.Engine.DeleteTask(env.Ctx, parent.ID, creator); err != nil {
		t.Fatalf("delete: %v", err)
	}

	if _, err := env.Engine.Repo.GetTaskRow(env.Ctx, parent.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("parent still present: %v", err)
	}
	if _, err := env.Engine.Repo.GetTaskRow(env.Ctx, sub.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("subtask still present: %v", err)
	}
	comments, err := env.Engine.Repo.ListComments(env.Ctx, domain.EntityRef{Kind: domain.KindTask, ID: sub.ID})
	if err != nil {
		t.Fatalf("list comments: %v", err)
	}
	if len(comments) != 0 {
		t.Fatalf("comments after delete = %d, want 0", len(comments))
	}
	if n := len(taskHistory(t, env, sub.ID)); n != 0 {
		t.Fatalf("history rows after delete = %d, want 0", n)
	}
	// The feed keeps the DELETED entry.
	var deleted bool
	for _, e := range taskActivity(t, env, parent.ID) {
		if e.Action == domain.ActionDeleted {
			deleted = true
		}
	}
	if !deleted {
		t.Fatalf("no deleted entry in activity feed")
	}
}

func TestCommentRecordsActivity(t *testing.T) {
	env := newTestEnv(t)
	actor := &domain.Actor{ID: "alice", Name: "Alice"}
	task := createTask(t, env, engine.TaskCreateOptions{Title: "discuss", Actor: actor})

	c, err := env.Engine.AddComment(env.Ctx, engine.CommentOptions{
		Entity: domain.EntityRef{Kind: domain.KindTask, ID: task.ID},
		Body:   "looks good",
		Actor:  actor,
	})
	if err != nil {
		t.Fatalf("add comment: %v", err)
	}
	if c.AuthorID != "alice" {
		t.Fatalf("author = %q, want alice", c.AuthorID)
	}
	var commented bool
	for _, e := range taskActivity(t, env, task.ID) {
		if e.Action == domain.ActionCommented && e.NewValue == "looks good" {
			commented = true
		}
	}
	if !commented {
		t.Fatalf("no commented entry in activity feed")
	}
}

func TestProjectActivityPagination(t *testing.T) {
	env := newTestEnv(t)
	for _, title := range []string{"one", "two", "three", "four"} {
		createTask(t, env, engine.TaskCreateOptions{Title: title})
	}
	first, err := env.Engine.Repo.ListProjectActivity(env.Ctx, "proj-1", 2, 0)
	if err != nil {
		t.Fatalf("first page: %v", err)
	}
	if len(first) != 2 {
		t.Fatalf("first page size = %d, want 2", len(first))
	}
	second, err := env.Engine.Repo.ListProjectActivity(env.Ctx, "proj-1", 2, first[1].ID)
	if err != nil {
		t.Fatalf("second page: %v", err)
	}
	if len(second) != 2 {
		t.Fatalf("second page size = %d, want 2", len(second))
	}
	// Newest first, strictly descending across pages.
	if !(first[0].ID > first[1].ID && first[1].ID > second[0].ID && second[0].ID > second[1].ID) {
		t.Fatalf("ids not descending: %d %d %d %d", first[0].ID, first[1].ID, second[0].ID, second[1].ID)
	}
}
