package audit

import (
	"context"
	"database/sql"
	"log"
	"sync"
	"time"

	"taskline/internal/domain"
)

const displayValueLimit = 50

// Recorder writes the paired audit records for task mutations: one
// human-readable activity_logs row and one structured task_history row per
// tracked field change. Writes go through the caller's transaction so the
// audit trail commits or rolls back with the mutation it describes.
type Recorder struct {
	DB     *sql.DB
	Now    func() time.Time
	Logger *log.Logger

	wg sync.WaitGroup
}

func New(db *sql.DB) *Recorder {
	return &Recorder{DB: db, Now: time.Now, Logger: log.Default()}
}

func (r *Recorder) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func (r *Recorder) logger() *log.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return log.Default()
}

// FieldChange is one tracked-field delta between two task states.
type FieldChange struct {
	Field  string
	Action domain.Action
	// Old/New carry the full values for task_history.
	Old string
	New string
	// DisplayOld/DisplayNew are the (possibly truncated) values shown in the
	// activity feed.
	DisplayOld string
	DisplayNew string
}

// Diff computes the tracked-field changes between two task states. Each entry
// later becomes one paired activity + history write.
func Diff(before, after domain.Task) []FieldChange {
	var changes []FieldChange
	add := func(field string, action domain.Action, oldV, newV string) {
		changes = append(changes, FieldChange{
			Field: field, Action: action,
			Old: oldV, New: newV,
			DisplayOld: truncate(oldV), DisplayNew: truncate(newV),
		})
	}
	if before.Status != after.Status {
		add("status", domain.ActionStatusChanged, string(before.Status), string(after.Status))
	}
	if before.Priority != after.Priority {
		add("priority", domain.ActionPriorityChanged, string(before.Priority), string(after.Priority))
	}
	if oldA, newA := strValue(before.AssignedTo), strValue(after.AssignedTo); oldA != newA {
		action := domain.ActionAssigned
		if newA == "" {
			action = domain.ActionUnassigned
		}
		add("assigned_to", action, oldA, newA)
	}
	if before.ReporterID != after.ReporterID {
		add("reporter_id", domain.ActionUpdated, before.ReporterID, after.ReporterID)
	}
	if oldD, newD := dateOnly(before.StartDate), dateOnly(after.StartDate); oldD != newD {
		add("start_date", domain.ActionUpdated, oldD, newD)
	}
	if oldD, newD := dateOnly(before.EndDate), dateOnly(after.EndDate); oldD != newD {
		add("end_date", domain.ActionUpdated, oldD, newD)
	}
	if before.Title != after.Title {
		add("title", domain.ActionUpdated, before.Title, after.Title)
	}
	if before.Description != after.Description {
		add("description", domain.ActionUpdated, before.Description, after.Description)
	}
	return changes
}

// RecordChanges writes the paired audit rows for every tracked change inside
// the caller's transaction. All rows share one timestamp and actor.
func (r *Recorder) RecordChanges(ctx context.Context, tx *sql.Tx, before, after domain.Task, actor *domain.Actor, projectID string) error {
	changes := Diff(before, after)
	if len(changes) == 0 {
		return nil
	}
	ts := r.now().UTC().Format(time.RFC3339)
	for _, c := range changes {
		entry := domain.ActivityLog{
			Action:      c.Action,
			Field:       c.Field,
			OldValue:    c.DisplayOld,
			NewValue:    c.DisplayNew,
			Entity:      domain.EntityRef{Kind: domain.KindTask, ID: after.ID},
			EntityTitle: after.Title,
			ProjectID:   projectID,
			CreatedAt:   ts,
		}
		applyActor(&entry, actor)
		if err := r.appendActivity(ctx, tx, entry); err != nil {
			return err
		}
		hist := domain.TaskHistory{
			TaskID:    after.ID,
			Field:     c.Field,
			OldValue:  c.Old,
			NewValue:  c.New,
			CreatedAt: ts,
		}
		if actor != nil {
			hist.ActorID = actor.ID
			hist.ActorName = actor.Name
		}
		if err := r.appendHistory(ctx, tx, hist); err != nil {
			return err
		}
	}
	return nil
}

// RecordChangesAsync is the fire-and-forget path used by the fast status
// change: the audit pair is written in its own transaction after the mutation
// has committed, and failures are logged, never surfaced. Wait drains it.
func (r *Recorder) RecordChangesAsync(before, after domain.Task, actor *domain.Actor, projectID string) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ctx := context.Background()
		tx, err := r.DB.BeginTx(ctx, nil)
		if err != nil {
			r.logger().Printf("audit: begin async write for task %s: %v", after.ID, err)
			return
		}
		defer tx.Rollback()
		if err := r.RecordChanges(ctx, tx, before, after, actor, projectID); err != nil {
			r.logger().Printf("audit: async write for task %s: %v", after.ID, err)
			return
		}
		if err := tx.Commit(); err != nil {
			r.logger().Printf("audit: commit async write for task %s: %v", after.ID, err)
		}
	}()
}

// Wait blocks until pending async writes finish. Called by tests and on
// shutdown.
func (r *Recorder) Wait() {
	r.wg.Wait()
}

// RecordCreated writes the single CREATED activity entry. History only tracks
// deltas on existing tasks, so no history row is written.
func (r *Recorder) RecordCreated(ctx context.Context, tx *sql.Tx, t domain.Task, actor *domain.Actor, projectID string) error {
	entry := domain.ActivityLog{
		Action:      domain.ActionCreated,
		Entity:      domain.EntityRef{Kind: domain.KindTask, ID: t.ID},
		EntityTitle: t.Title,
		ProjectID:   projectID,
		CreatedAt:   r.now().UTC().Format(time.RFC3339),
	}
	applyActor(&entry, actor)
	return r.appendActivity(ctx, tx, entry)
}

// RecordDeleted writes the single DELETED activity entry from the task's
// state just before removal.
func (r *Recorder) RecordDeleted(ctx context.Context, tx *sql.Tx, t domain.Task, actor *domain.Actor, projectID string) error {
	entry := domain.ActivityLog{
		Action:      domain.ActionDeleted,
		Entity:      domain.EntityRef{Kind: domain.KindTask, ID: t.ID},
		EntityTitle: t.Title,
		ProjectID:   projectID,
		CreatedAt:   r.now().UTC().Format(time.RFC3339),
	}
	applyActor(&entry, actor)
	return r.appendActivity(ctx, tx, entry)
}

// RecordCommented writes the COMMENTED activity entry for a new comment.
func (r *Recorder) RecordCommented(ctx context.Context, tx *sql.Tx, c domain.Comment, entityTitle, projectID string) error {
	entry := domain.ActivityLog{
		Action:      domain.ActionCommented,
		NewValue:    truncate(c.Body),
		UserID:      c.AuthorID,
		UserName:    c.AuthorName,
		Entity:      c.Entity,
		EntityTitle: entityTitle,
		ProjectID:   projectID,
		CreatedAt:   r.now().UTC().Format(time.RFC3339),
	}
	return r.appendActivity(ctx, tx, entry)
}

func (r *Recorder) appendActivity(ctx context.Context, tx *sql.Tx, e domain.ActivityLog) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO activity_logs(action,field,old_value,new_value,user_id,user_name,entity_kind,entity_id,entity_title,project_id,created_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		e.Action, nullable(e.Field), nullable(e.OldValue), nullable(e.NewValue), nullable(e.UserID), nullable(e.UserName),
		e.Entity.Kind, e.Entity.ID, nullable(e.EntityTitle), e.ProjectID, e.CreatedAt)
	return err
}

func (r *Recorder) appendHistory(ctx context.Context, tx *sql.Tx, h domain.TaskHistory) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO task_history(task_id,actor_id,actor_name,field,old_value,new_value,created_at)
VALUES (?,?,?,?,?,?,?)`,
		h.TaskID, nullable(h.ActorID), nullable(h.ActorName), h.Field, nullable(h.OldValue), nullable(h.NewValue), h.CreatedAt)
	return err
}

func applyActor(e *domain.ActivityLog, actor *domain.Actor) {
	if actor == nil {
		return
	}
	e.UserID = actor.ID
	e.UserName = actor.Name
}

func strValue(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

// dateOnly reduces a date value to day granularity; any time component is
// ignored when comparing.
func dateOnly(v *string) string {
	s := strValue(v)
	if len(s) > 10 {
		return s[:10]
	}
	return s
}

func truncate(s string) string {
	runes := []rune(s)
	if len(runes) <= displayValueLimit {
		return s
	}
	return string(runes[:displayValueLimit]) + "…"
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
