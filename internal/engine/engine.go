package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"taskline/internal/audit"
	"taskline/internal/config"
	"taskline/internal/domain"
	"taskline/internal/repo"
)

var (
	// ErrPermissionDenied means the actor failed the creator/reporter check.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrInvalidState means a guarded transition was blocked, e.g. completing
	// a task with incomplete subtasks.
	ErrInvalidState = errors.New("invalid state")
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Audit  *audit.Recorder
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Audit:  audit.New(db),
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) nowString() string {
	return e.now().UTC().Format(time.RFC3339)
}

// CreateProject inserts a project with its org and creator membership.
func (e Engine) CreateProject(ctx context.Context, id, orgID, name, description string, actor *domain.Actor) (domain.Project, error) {
	if id == "" {
		return domain.Project{}, errors.New("project id is required")
	}
	if name == "" {
		name = id
	}
	if orgID == "" {
		orgID = "default-org"
	}
	now := e.nowString()
	p := domain.Project{ID: id, OrgID: orgID, Name: name, Status: "active", Description: description, CreatedAt: now}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.EnsureOrg(ctx, tx, orgID, "", now); err != nil {
		return domain.Project{}, fmt.Errorf("ensure org: %w", err)
	}
	if err := e.Repo.InsertProject(ctx, tx, p); err != nil {
		return domain.Project{}, fmt.Errorf("insert project: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	if actor != nil {
		if err := e.Repo.AddProjectMember(ctx, p.ID, actor.ID, "owner"); err != nil {
			return domain.Project{}, fmt.Errorf("add member: %w", err)
		}
	}
	return p, nil
}

// CreateApp inserts an app under a project.
func (e Engine) CreateApp(ctx context.Context, projectID, name string) (domain.App, error) {
	if name == "" {
		return domain.App{}, errors.New("app name is required")
	}
	if _, err := e.Repo.GetProject(ctx, projectID); err != nil {
		return domain.App{}, err
	}
	a := domain.App{
		ID:        uuid.New().String(),
		ProjectID: projectID,
		Name:      name,
		CreatedAt: e.nowString(),
	}
	if err := e.Repo.InsertApp(ctx, a); err != nil {
		return domain.App{}, err
	}
	return a, nil
}

// CreateModule inserts a module under an app with its counter at zero.
func (e Engine) CreateModule(ctx context.Context, appID, name string) (domain.Module, error) {
	if name == "" {
		return domain.Module{}, errors.New("module name is required")
	}
	if _, err := e.Repo.GetApp(ctx, appID); err != nil {
		return domain.Module{}, err
	}
	m := domain.Module{
		ID:        uuid.New().String(),
		AppID:     appID,
		Name:      name,
		CreatedAt: e.nowString(),
	}
	if err := e.Repo.InsertModule(ctx, m); err != nil {
		return domain.Module{}, err
	}
	return m, nil
}

// TaskCreateOptions are parameters for creating a task.
type TaskCreateOptions struct {
	ModuleID    string
	ParentID    string
	Title       string
	Description string
	Type        domain.TaskType
	Priority    domain.Priority
	AssignedTo  string
	Remarks     string
	StartDate   string
	EndDate     string
	Actor       *domain.Actor
}

// CreateTask creates a root task or subtask. The task code and the module
// counter bump (root tasks only) happen inside the insert transaction so
// concurrent creations in one module never share a code.
func (e Engine) CreateTask(ctx context.Context, opts TaskCreateOptions) (domain.Task, error) {
	if opts.Title == "" {
		return domain.Task{}, errors.New("title is required")
	}
	if opts.ModuleID == "" {
		return domain.Task{}, errors.New("module is required")
	}
	if opts.Type == "" {
		opts.Type = e.Config.DefaultTaskType()
	}
	if !opts.Type.Valid() {
		return domain.Task{}, fmt.Errorf("invalid task type %q", opts.Type)
	}
	if opts.Priority == "" {
		opts.Priority = e.Config.DefaultPriority()
	}
	if !opts.Priority.Valid() {
		return domain.Task{}, fmt.Errorf("invalid priority %q", opts.Priority)
	}
	module, err := e.Repo.GetModule(ctx, opts.ModuleID)
	if err != nil {
		return domain.Task{}, fmt.Errorf("module %s: %w", opts.ModuleID, err)
	}
	projectID, err := e.Repo.ProjectIDForModule(ctx, opts.ModuleID)
	if err != nil {
		return domain.Task{}, err
	}

	now := e.nowString()
	t := domain.Task{
		ID:          uuid.New().String(),
		ModuleID:    opts.ModuleID,
		Title:       opts.Title,
		Description: opts.Description,
		Type:        opts.Type,
		Priority:    opts.Priority,
		Status:      domain.StatusTodo,
		Remarks:     opts.Remarks,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if opts.AssignedTo != "" {
		t.AssignedTo = &opts.AssignedTo
	}
	if opts.StartDate != "" {
		t.StartDate = &opts.StartDate
	}
	if opts.EndDate != "" {
		t.EndDate = &opts.EndDate
	}
	if opts.Actor != nil {
		t.CreatedBy = opts.Actor.ID
		t.CreatorName = opts.Actor.Name
		t.ReporterID = opts.Actor.ID
		t.ReporterName = opts.Actor.Name
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	if opts.ParentID != "" {
		parent, err := e.Repo.GetTaskTx(ctx, tx, opts.ParentID)
		if err != nil {
			return domain.Task{}, fmt.Errorf("parent %s: %w", opts.ParentID, err)
		}
		if parent.ModuleID != opts.ModuleID {
			return domain.Task{}, errors.New("parent in different module")
		}
		siblings, err := e.Repo.CountSubtasksTx(ctx, tx, opts.ParentID)
		if err != nil {
			return domain.Task{}, err
		}
		t.ParentID = &opts.ParentID
		t.Code = subtaskCode(parent.Code, siblings+1)
		t.Order = siblings
	} else {
		siblings, err := e.Repo.CountRootTasksTx(ctx, tx, opts.ModuleID)
		if err != nil {
			return domain.Task{}, err
		}
		seq, err := e.Repo.NextTaskNumber(ctx, tx, opts.ModuleID)
		if err != nil {
			return domain.Task{}, err
		}
		t.Code = rootTaskCode(module.Name, seq)
		t.Order = siblings
	}

	if err := e.Repo.InsertTask(ctx, tx, t); err != nil {
		return domain.Task{}, err
	}
	if err := e.Audit.RecordCreated(ctx, tx, t, opts.Actor, projectID); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// TaskUpdateOptions encapsulates a partial update. Nil fields are untouched;
// a pointer to the empty string clears optional fields.
type TaskUpdateOptions struct {
	ID           string
	Title        *string
	Description  *string
	Type         *domain.TaskType
	Priority     *domain.Priority
	Status       *domain.Status
	AssignedTo   *string
	Remarks      *string
	StartDate    *string
	EndDate      *string
	ReporterID   *string
	ReporterName *string
	Actor        *domain.Actor
}

// UpdateTask applies a partial update with the DONE guards, then writes the
// audit pair for every tracked change in the same transaction.
func (e Engine) UpdateTask(ctx context.Context, opts TaskUpdateOptions) (domain.Task, error) {
	before, err := e.Repo.GetTaskRow(ctx, opts.ID)
	if err != nil {
		return before, err
	}
	projectID, err := e.Repo.ProjectIDForModule(ctx, before.ModuleID)
	if err != nil {
		return before, err
	}

	t := before
	if opts.Title != nil {
		if *opts.Title == "" {
			return before, errors.New("title is required")
		}
		t.Title = *opts.Title
	}
	if opts.Description != nil {
		t.Description = *opts.Description
	}
	if opts.Type != nil {
		if !opts.Type.Valid() {
			return before, fmt.Errorf("invalid task type %q", *opts.Type)
		}
		t.Type = *opts.Type
	}
	if opts.Priority != nil {
		if !opts.Priority.Valid() {
			return before, fmt.Errorf("invalid priority %q", *opts.Priority)
		}
		t.Priority = *opts.Priority
	}
	if opts.Remarks != nil {
		t.Remarks = *opts.Remarks
	}
	if opts.AssignedTo != nil {
		if *opts.AssignedTo == "" {
			t.AssignedTo = nil
		} else {
			t.AssignedTo = opts.AssignedTo
		}
	}
	if opts.StartDate != nil {
		if *opts.StartDate == "" {
			t.StartDate = nil
		} else {
			t.StartDate = opts.StartDate
		}
	}
	if opts.EndDate != nil {
		if *opts.EndDate == "" {
			t.EndDate = nil
		} else {
			t.EndDate = opts.EndDate
		}
	}
	if opts.ReporterID != nil && *opts.ReporterID != before.ReporterID {
		if err := ensureCanReassignReporter(before, opts.Actor); err != nil {
			return before, err
		}
		t.ReporterID = *opts.ReporterID
		if opts.ReporterName != nil {
			t.ReporterName = *opts.ReporterName
		}
	}
	if opts.Status != nil && *opts.Status != before.Status {
		if !opts.Status.Valid() {
			return before, fmt.Errorf("invalid status %q", *opts.Status)
		}
		if *opts.Status == domain.StatusDone {
			if err := ensureCanComplete(before, opts.Actor); err != nil {
				return before, err
			}
			if err := e.ensureSubtasksComplete(ctx, before); err != nil {
				return before, err
			}
		}
		t.Status = *opts.Status
	}
	t.UpdatedAt = e.nowString()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return before, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
		return before, err
	}
	if err := e.Audit.RecordChanges(ctx, tx, before, t, opts.Actor, projectID); err != nil {
		return before, err
	}
	if err := tx.Commit(); err != nil {
		return before, err
	}
	return t, nil
}

// ChangeTaskStatus is the fast status-change path for board drags: the same
// guards as a full update, but the audit pair is written fire-and-forget
// after commit. A lost audit write here is an accepted tradeoff for latency.
func (e Engine) ChangeTaskStatus(ctx context.Context, id string, status domain.Status, actor *domain.Actor) (domain.Task, error) {
	if !status.Valid() {
		return domain.Task{}, fmt.Errorf("invalid status %q", status)
	}
	before, err := e.Repo.GetTaskRow(ctx, id)
	if err != nil {
		return before, err
	}
	if status == before.Status {
		return before, nil
	}
	projectID, err := e.Repo.ProjectIDForModule(ctx, before.ModuleID)
	if err != nil {
		return before, err
	}
	if status == domain.StatusDone {
		if err := ensureCanComplete(before, actor); err != nil {
			return before, err
		}
		if err := e.ensureSubtasksComplete(ctx, before); err != nil {
			return before, err
		}
	}
	t := before
	t.Status = status
	t.UpdatedAt = e.nowString()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return before, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateTaskStatus(ctx, tx, id, status, t.UpdatedAt); err != nil {
		return before, err
	}
	if err := tx.Commit(); err != nil {
		return before, err
	}
	e.Audit.RecordChangesAsync(before, t, actor, projectID)
	return t, nil
}

// DeleteTask removes a task with its subtasks, comments and history. With an
// actor context only the creator may delete; context-free calls are the
// privileged path and skip the check.
func (e Engine) DeleteTask(ctx context.Context, id string, actor *domain.Actor) error {
	t, err := e.Repo.GetTaskRow(ctx, id)
	if err != nil {
		return err
	}
	if actor != nil && t.CreatedBy != "" && actor.ID != t.CreatedBy {
		return fmt.Errorf("%w: only the creator can delete %s", ErrPermissionDenied, taskLabel(t))
	}
	projectID, err := e.Repo.ProjectIDForModule(ctx, t.ModuleID)
	if err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Audit.RecordDeleted(ctx, tx, t, actor, projectID); err != nil {
		return err
	}
	if err := e.deleteCommentTree(ctx, tx, id); err != nil {
		return err
	}
	// Subtasks, history rows and label joins cascade in the store.
	if err := e.Repo.DeleteTask(ctx, tx, id); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) deleteCommentTree(ctx context.Context, tx *sql.Tx, taskID string) error {
	if err := e.Repo.DeleteCommentsForEntity(ctx, tx, domain.EntityRef{Kind: domain.KindTask, ID: taskID}); err != nil {
		return err
	}
	children, err := e.Repo.ListChildrenIDs(ctx, tx, taskID)
	if err != nil {
		return err
	}
	for _, child := range children {
		if err := e.deleteCommentTree(ctx, tx, child); err != nil {
			return err
		}
	}
	return nil
}

// ReorderOptions name a sibling scope and the desired order of its tasks.
type ReorderOptions struct {
	ModuleID string
	ParentID *string
	IDs      []string
}

// ReorderTasks assigns order = index for each listed id as one atomic batch.
// Any unknown id fails the whole batch.
func (e Engine) ReorderTasks(ctx context.Context, opts ReorderOptions) (int, error) {
	if len(opts.IDs) == 0 {
		return 0, errors.New("task ids required")
	}
	if _, err := e.Repo.GetModule(ctx, opts.ModuleID); err != nil {
		return 0, fmt.Errorf("module %s: %w", opts.ModuleID, err)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()
	if err := e.Repo.ReorderTasks(ctx, tx, opts.ModuleID, opts.ParentID, opts.IDs); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(opts.IDs), nil
}

// CommentOptions create a comment on a task or bug-sheet.
type CommentOptions struct {
	Entity domain.EntityRef
	Body   string
	Actor  *domain.Actor
	// ProjectID and EntityTitle are only needed for non-task targets; task
	// targets resolve both from the task itself.
	ProjectID   string
	EntityTitle string
}

// AddComment stores a comment and its COMMENTED activity entry together.
func (e Engine) AddComment(ctx context.Context, opts CommentOptions) (domain.Comment, error) {
	if err := opts.Entity.Validate(); err != nil {
		return domain.Comment{}, err
	}
	if opts.Body == "" {
		return domain.Comment{}, errors.New("comment body is required")
	}
	projectID := opts.ProjectID
	title := opts.EntityTitle
	if opts.Entity.Kind == domain.KindTask {
		t, err := e.Repo.GetTaskRow(ctx, opts.Entity.ID)
		if err != nil {
			return domain.Comment{}, err
		}
		title = t.Title
		projectID, err = e.Repo.ProjectIDForModule(ctx, t.ModuleID)
		if err != nil {
			return domain.Comment{}, err
		}
	} else if projectID == "" {
		return domain.Comment{}, errors.New("project is required for bug-sheet comments")
	}
	c := domain.Comment{
		ID:        uuid.New().String(),
		Entity:    opts.Entity,
		Body:      opts.Body,
		CreatedAt: e.nowString(),
	}
	if opts.Actor != nil {
		c.AuthorID = opts.Actor.ID
		c.AuthorName = opts.Actor.Name
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Comment{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertComment(ctx, tx, c); err != nil {
		return domain.Comment{}, err
	}
	if err := e.Audit.RecordCommented(ctx, tx, c, title, projectID); err != nil {
		return domain.Comment{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Comment{}, err
	}
	return c, nil
}

// CreateLabel inserts a project label.
func (e Engine) CreateLabel(ctx context.Context, projectID, name, color string) (domain.Label, error) {
	if name == "" {
		return domain.Label{}, errors.New("label name is required")
	}
	if _, err := e.Repo.GetProject(ctx, projectID); err != nil {
		return domain.Label{}, err
	}
	l := domain.Label{
		ID:        uuid.New().String(),
		ProjectID: projectID,
		Name:      name,
		Color:     color,
	}
	if err := e.Repo.InsertLabel(ctx, l); err != nil {
		return domain.Label{}, err
	}
	return l, nil
}

// AttachLabel links a label to a task. Attaching twice is a no-op.
func (e Engine) AttachLabel(ctx context.Context, taskID, labelID string) error {
	if _, err := e.Repo.GetTaskRow(ctx, taskID); err != nil {
		return err
	}
	if _, err := e.Repo.GetLabel(ctx, labelID); err != nil {
		return err
	}
	return e.Repo.AttachLabel(ctx, taskID, labelID)
}

// DetachLabel unlinks a label from a task.
func (e Engine) DetachLabel(ctx context.Context, taskID, labelID string) error {
	if _, err := e.Repo.GetTaskRow(ctx, taskID); err != nil {
		return err
	}
	return e.Repo.DetachLabel(ctx, taskID, labelID)
}

// ensureCanComplete enforces the creator/reporter permission for DONE
// transitions. The check only bites when both audit fields are populated;
// legacy rows without them stay completable.
func ensureCanComplete(t domain.Task, actor *domain.Actor) error {
	if actor == nil {
		return nil
	}
	if t.CreatedBy == "" || t.ReporterID == "" {
		return nil
	}
	if actor.ID == t.CreatedBy || actor.ID == t.ReporterID {
		return nil
	}
	return fmt.Errorf("%w: only the creator or reporter can complete %s", ErrPermissionDenied, taskLabel(t))
}

// ensureCanReassignReporter restricts reporter changes to the creator.
func ensureCanReassignReporter(t domain.Task, actor *domain.Actor) error {
	if actor == nil {
		return nil
	}
	if t.CreatedBy != "" && actor.ID != t.CreatedBy {
		return fmt.Errorf("%w: only the creator can change the reporter of %s", ErrPermissionDenied, taskLabel(t))
	}
	return nil
}

func (e Engine) ensureSubtasksComplete(ctx context.Context, t domain.Task) error {
	n, err := e.Repo.CountIncompleteSubtasks(ctx, t.ID)
	if err != nil {
		return err
	}
	if n > 0 {
		return fmt.Errorf("%w: %s has %d incomplete subtasks", ErrInvalidState, taskLabel(t), n)
	}
	return nil
}

func taskLabel(t domain.Task) string {
	if t.Code != "" {
		return t.Code
	}
	return t.ID
}
