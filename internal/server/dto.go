package server

import (
	"taskline/internal/activity"
	"taskline/internal/domain"
)

// Request payloads

type CreateProjectRequest struct {
	ID          string  `json:"id"`
	OrgID       *string `json:"org_id,omitempty"`
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
}

type CreateAppRequest struct {
	Name string `json:"name"`
}

type CreateModuleRequest struct {
	Name string `json:"name"`
}

type CreateTaskRequest struct {
	ModuleID    string  `json:"module_id"`
	ParentID    *string `json:"parent_id,omitempty"`
	Title       string  `json:"title"`
	Description *string `json:"description,omitempty"`
	Type        string  `json:"type,omitempty"`
	Priority    string  `json:"priority,omitempty"`
	AssignedTo  *string `json:"assigned_to,omitempty"`
	Remarks     *string `json:"remarks,omitempty"`
	StartDate   *string `json:"start_date,omitempty"`
	EndDate     *string `json:"end_date,omitempty"`
}

type UpdateTaskRequest struct {
	Title        *string `json:"title,omitempty"`
	Description  *string `json:"description,omitempty"`
	Type         *string `json:"type,omitempty" enum:"feature,bug,improvement"`
	Priority     *string `json:"priority,omitempty" enum:"low,medium,high,urgent"`
	Status       *string `json:"status,omitempty" enum:"todo,in_progress,in_review,done"`
	AssignedTo   *string `json:"assigned_to,omitempty"`
	Remarks      *string `json:"remarks,omitempty"`
	StartDate    *string `json:"start_date,omitempty"`
	EndDate      *string `json:"end_date,omitempty"`
	ReporterID   *string `json:"reporter_id,omitempty"`
	ReporterName *string `json:"reporter_name,omitempty"`
}

type ChangeStatusRequest struct {
	Status string `json:"status" enum:"todo,in_progress,in_review,done"`
}

type ReorderTasksRequest struct {
	ModuleID string   `json:"module_id"`
	ParentID *string  `json:"parent_id,omitempty"`
	TaskIDs  []string `json:"task_ids"`
}

type CreateCommentRequest struct {
	Body string `json:"body"`
	// EntityTitle labels bug-sheet comments in the feed; ignored for tasks.
	EntityTitle *string `json:"entity_title,omitempty"`
}

type CreateLabelRequest struct {
	Name  string  `json:"name"`
	Color *string `json:"color,omitempty"`
}

// Response payloads

type TaskResponse struct {
	ID           string            `json:"id"`
	ModuleID     string            `json:"module_id"`
	ParentID     *string           `json:"parent_id,omitempty"`
	Code         string            `json:"code"`
	Title        string            `json:"title"`
	Description  string            `json:"description,omitempty"`
	Type         string            `json:"type" enum:"feature,bug,improvement"`
	Priority     string            `json:"priority" enum:"low,medium,high,urgent"`
	Status       string            `json:"status" enum:"todo,in_progress,in_review,done"`
	AssignedTo   *string           `json:"assigned_to,omitempty"`
	Remarks      string            `json:"remarks,omitempty"`
	StartDate    *string           `json:"start_date,omitempty"`
	EndDate      *string           `json:"end_date,omitempty"`
	Order        int               `json:"order"`
	CreatedBy    string            `json:"created_by,omitempty"`
	CreatorName  string            `json:"creator_name,omitempty"`
	ReporterID   string            `json:"reporter_id,omitempty"`
	ReporterName string            `json:"reporter_name,omitempty"`
	CreatedAt    string            `json:"created_at" format:"date-time"`
	UpdatedAt    string            `json:"updated_at" format:"date-time"`
	Subtasks     []TaskResponse    `json:"subtasks,omitempty"`
	Comments     []CommentResponse `json:"comments,omitempty"`
	Labels       []domain.Label    `json:"labels,omitempty"`
}

type CommentResponse struct {
	ID         string `json:"id"`
	EntityKind string `json:"entity_kind" enum:"task,bugsheet"`
	EntityID   string `json:"entity_id"`
	AuthorID   string `json:"author_id,omitempty"`
	AuthorName string `json:"author_name,omitempty"`
	Body       string `json:"body"`
	CreatedAt  string `json:"created_at" format:"date-time"`
}

type ActivityResponse struct {
	ID          int64  `json:"id"`
	Action      string `json:"action"`
	Field       string `json:"field,omitempty"`
	OldValue    string `json:"old_value,omitempty"`
	NewValue    string `json:"new_value,omitempty"`
	UserID      string `json:"user_id,omitempty"`
	UserName    string `json:"user_name,omitempty"`
	EntityKind  string `json:"entity_kind" enum:"task,bugsheet"`
	EntityID    string `json:"entity_id"`
	EntityTitle string `json:"entity_title,omitempty"`
	ProjectID   string `json:"project_id"`
	Message     string `json:"message"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type HistoryResponse struct {
	ID        int64  `json:"id"`
	TaskID    string `json:"task_id"`
	ActorID   string `json:"actor_id,omitempty"`
	ActorName string `json:"actor_name,omitempty"`
	Field     string `json:"field"`
	OldValue  string `json:"old_value,omitempty"`
	NewValue  string `json:"new_value,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type ReorderResponse struct {
	Reordered int `json:"reordered"`
}

type paginatedTasks struct {
	Items []TaskResponse `json:"items"`
}

type paginatedActivity struct {
	Items      []ActivityResponse `json:"items"`
	NextCursor string             `json:"next_cursor,omitempty"`
}

func taskResponse(t domain.Task) TaskResponse {
	resp := TaskResponse{
		ID:           t.ID,
		ModuleID:     t.ModuleID,
		ParentID:     t.ParentID,
		Code:         t.Code,
		Title:        t.Title,
		Description:  t.Description,
		Type:         string(t.Type),
		Priority:     string(t.Priority),
		Status:       string(t.Status),
		AssignedTo:   t.AssignedTo,
		Remarks:      t.Remarks,
		StartDate:    t.StartDate,
		EndDate:      t.EndDate,
		Order:        t.Order,
		CreatedBy:    t.CreatedBy,
		CreatorName:  t.CreatorName,
		ReporterID:   t.ReporterID,
		ReporterName: t.ReporterName,
		CreatedAt:    t.CreatedAt,
		UpdatedAt:    t.UpdatedAt,
		Labels:       t.Labels,
	}
	for _, st := range t.Subtasks {
		resp.Subtasks = append(resp.Subtasks, taskResponse(st))
	}
	for _, c := range t.Comments {
		resp.Comments = append(resp.Comments, commentResponse(c))
	}
	return resp
}

func mapTasks(tasks []domain.Task) []TaskResponse {
	out := make([]TaskResponse, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, taskResponse(t))
	}
	return out
}

func commentResponse(c domain.Comment) CommentResponse {
	return CommentResponse{
		ID:         c.ID,
		EntityKind: string(c.Entity.Kind),
		EntityID:   c.Entity.ID,
		AuthorID:   c.AuthorID,
		AuthorName: c.AuthorName,
		Body:       c.Body,
		CreatedAt:  c.CreatedAt,
	}
}

func activityResponse(e domain.ActivityLog) ActivityResponse {
	return ActivityResponse{
		ID:          e.ID,
		Action:      string(e.Action),
		Field:       e.Field,
		OldValue:    e.OldValue,
		NewValue:    e.NewValue,
		UserID:      e.UserID,
		UserName:    e.UserName,
		EntityKind:  string(e.Entity.Kind),
		EntityID:    e.Entity.ID,
		EntityTitle: e.EntityTitle,
		ProjectID:   e.ProjectID,
		Message:     activity.FormatMessage(e),
		CreatedAt:   e.CreatedAt,
	}
}

func mapActivity(entries []domain.ActivityLog) []ActivityResponse {
	out := make([]ActivityResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, activityResponse(e))
	}
	return out
}

func historyResponse(h domain.TaskHistory) HistoryResponse {
	return HistoryResponse{
		ID:        h.ID,
		TaskID:    h.TaskID,
		ActorID:   h.ActorID,
		ActorName: h.ActorName,
		Field:     h.Field,
		OldValue:  h.OldValue,
		NewValue:  h.NewValue,
		CreatedAt: h.CreatedAt,
	}
}
