package domain

import "fmt"

type TaskType string

const (
	TypeFeature     TaskType = "feature"
	TypeBug         TaskType = "bug"
	TypeImprovement TaskType = "improvement"
)

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

type Status string

const (
	StatusTodo       Status = "todo"
	StatusInProgress Status = "in_progress"
	StatusInReview   Status = "in_review"
	StatusDone       Status = "done"
)

// Action identifies an auditable event kind in the activity feed.
type Action string

const (
	ActionCreated         Action = "created"
	ActionUpdated         Action = "updated"
	ActionDeleted         Action = "deleted"
	ActionStatusChanged   Action = "status_changed"
	ActionPriorityChanged Action = "priority_changed"
	ActionAssigned        Action = "assigned"
	ActionUnassigned      Action = "unassigned"
	ActionCommented       Action = "commented"
)

type EntityKind string

const (
	KindTask     EntityKind = "task"
	KindBugSheet EntityKind = "bugsheet"
)

// EntityRef is a tagged reference to exactly one auditable entity. Comments and
// activity entries target a task or a bug-sheet through it, never through a
// pair of nullable foreign keys.
type EntityRef struct {
	Kind EntityKind `json:"kind" enum:"task,bugsheet"`
	ID   string     `json:"id"`
}

func (r EntityRef) Validate() error {
	switch r.Kind {
	case KindTask, KindBugSheet:
	default:
		return fmt.Errorf("unknown entity kind %q", r.Kind)
	}
	if r.ID == "" {
		return fmt.Errorf("entity id required")
	}
	return nil
}

// Actor is the identity performing a mutating operation. A nil *Actor on an
// engine call means a privileged/system caller; permission checks are skipped.
type Actor struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Organization struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Project struct {
	ID          string `json:"id"`
	OrgID       string `json:"org_id"`
	Name        string `json:"name"`
	Status      string `json:"status"`
	Description string `json:"description,omitempty"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type App struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// Module owns its tasks and the monotonic counter that feeds root task codes.
type Module struct {
	ID          string `json:"id"`
	AppID       string `json:"app_id"`
	Name        string `json:"name"`
	TaskCounter int    `json:"task_counter"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type Task struct {
	ID           string   `json:"id"`
	ModuleID     string   `json:"module_id"`
	ParentID     *string  `json:"parent_id,omitempty"`
	Code         string   `json:"code,omitempty"`
	Title        string   `json:"title"`
	Description  string   `json:"description,omitempty"`
	Type         TaskType `json:"type" enum:"feature,bug,improvement"`
	Priority     Priority `json:"priority" enum:"low,medium,high,urgent"`
	Status       Status   `json:"status" enum:"todo,in_progress,in_review,done"`
	AssignedTo   *string  `json:"assigned_to,omitempty"`
	Remarks      string   `json:"remarks,omitempty"`
	StartDate    *string  `json:"start_date,omitempty"`
	EndDate      *string  `json:"end_date,omitempty"`
	Order        int      `json:"order"`
	CreatedBy    string   `json:"created_by,omitempty"`
	CreatorName  string   `json:"creator_name,omitempty"`
	ReporterID   string   `json:"reporter_id,omitempty"`
	ReporterName string   `json:"reporter_name,omitempty"`
	CreatedAt    string   `json:"created_at" format:"date-time"`
	UpdatedAt    string   `json:"updated_at" format:"date-time"`

	Subtasks []Task    `json:"subtasks,omitempty"`
	Comments []Comment `json:"comments,omitempty"`
	Labels   []Label   `json:"labels,omitempty"`
}

type Comment struct {
	ID         string    `json:"id"`
	Entity     EntityRef `json:"entity"`
	AuthorID   string    `json:"author_id,omitempty"`
	AuthorName string    `json:"author_name,omitempty"`
	Body       string    `json:"body"`
	CreatedAt  string    `json:"created_at" format:"date-time"`
}

type Label struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	Name      string `json:"name"`
	Color     string `json:"color,omitempty"`
}

// TaskHistory is one immutable row per changed field per update. Rows are only
// removed when the owning task is deleted.
type TaskHistory struct {
	ID        int64  `json:"id"`
	TaskID    string `json:"task_id"`
	ActorID   string `json:"actor_id,omitempty"`
	ActorName string `json:"actor_name,omitempty"`
	Field     string `json:"field"`
	OldValue  string `json:"old_value,omitempty"`
	NewValue  string `json:"new_value,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// ActivityLog is one immutable row per auditable event, scoped to a project.
type ActivityLog struct {
	ID          int64     `json:"id"`
	Action      Action    `json:"action"`
	Field       string    `json:"field,omitempty"`
	OldValue    string    `json:"old_value,omitempty"`
	NewValue    string    `json:"new_value,omitempty"`
	UserID      string    `json:"user_id,omitempty"`
	UserName    string    `json:"user_name,omitempty"`
	Entity      EntityRef `json:"entity"`
	EntityTitle string    `json:"entity_title,omitempty"`
	ProjectID   string    `json:"project_id"`
	CreatedAt   string    `json:"created_at" format:"date-time"`
}

func (t TaskType) Valid() bool {
	switch t {
	case TypeFeature, TypeBug, TypeImprovement:
		return true
	}
	return false
}

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

func (s Status) Valid() bool {
	switch s {
	case StatusTodo, StatusInProgress, StatusInReview, StatusDone:
		return true
	}
	return false
}
