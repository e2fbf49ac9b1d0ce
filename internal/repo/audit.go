package repo

import (
	"context"
	"database/sql"
	"strings"

	"taskline/internal/domain"
)

const activityColumns = `id,action,field,old_value,new_value,user_id,user_name,entity_kind,entity_id,entity_title,project_id,created_at`

func scanActivity(rows *sql.Rows) (domain.ActivityLog, error) {
	var e domain.ActivityLog
	var field, oldValue, newValue, userID, userName, entityTitle sql.NullString
	err := rows.Scan(&e.ID, &e.Action, &field, &oldValue, &newValue, &userID, &userName,
		&e.Entity.Kind, &e.Entity.ID, &entityTitle, &e.ProjectID, &e.CreatedAt)
	if err != nil {
		return e, err
	}
	if field.Valid {
		e.Field = field.String
	}
	if oldValue.Valid {
		e.OldValue = oldValue.String
	}
	if newValue.Valid {
		e.NewValue = newValue.String
	}
	if userID.Valid {
		e.UserID = userID.String
	}
	if userName.Valid {
		e.UserName = userName.String
	}
	if entityTitle.Valid {
		e.EntityTitle = entityTitle.String
	}
	return e, nil
}

// ListEntityActivity returns the newest activity entries for one entity.
func (r Repo) ListEntityActivity(ctx context.Context, ref domain.EntityRef, limit int) ([]domain.ActivityLog, error) {
	if limit <= 0 {
		limit = 50
	}
	return r.listActivity(ctx, `WHERE entity_kind=? AND entity_id=? ORDER BY id DESC LIMIT ?`, ref.Kind, ref.ID, limit)
}

// ListProjectActivity returns the project feed newest first. Cursor is the
// last seen id; rows at or past it are skipped.
func (r Repo) ListProjectActivity(ctx context.Context, projectID string, limit int, cursor int64) ([]domain.ActivityLog, error) {
	if limit <= 0 {
		limit = 50
	}
	clauses := []string{"project_id=?"}
	args := []any{projectID}
	if cursor > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, cursor)
	}
	args = append(args, limit)
	return r.listActivity(ctx, `WHERE `+strings.Join(clauses, " AND ")+` ORDER BY id DESC LIMIT ?`, args...)
}

func (r Repo) listActivity(ctx context.Context, tail string, args ...any) ([]domain.ActivityLog, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+activityColumns+` FROM activity_logs `+tail, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ActivityLog
	for rows.Next() {
		e, err := scanActivity(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// ListTaskHistory returns the structured field-level trail for a task, newest
// first.
func (r Repo) ListTaskHistory(ctx context.Context, taskID string, limit int) ([]domain.TaskHistory, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT id,task_id,actor_id,actor_name,field,old_value,new_value,created_at FROM task_history WHERE task_id=? ORDER BY id DESC LIMIT ?`, taskID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.TaskHistory
	for rows.Next() {
		var h domain.TaskHistory
		var actorID, actorName, oldValue, newValue sql.NullString
		if err := rows.Scan(&h.ID, &h.TaskID, &actorID, &actorName, &h.Field, &oldValue, &newValue, &h.CreatedAt); err != nil {
			return nil, err
		}
		if actorID.Valid {
			h.ActorID = actorID.String
		}
		if actorName.Valid {
			h.ActorName = actorName.String
		}
		if oldValue.Valid {
			h.OldValue = oldValue.String
		}
		if newValue.Valid {
			h.NewValue = newValue.String
		}
		res = append(res, h)
	}
	return res, rows.Err()
}
