package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"taskline/internal/domain"
)

const taskColumns = `id,module_id,parent_id,code,title,description,type,priority,status,assigned_to,remarks,start_date,end_date,sort_order,created_by,creator_name,reporter_id,reporter_name,created_at,updated_at`

type taskScanner interface {
	Scan(dest ...any) error
}

func scanTask(row taskScanner) (domain.Task, error) {
	var t domain.Task
	var parentID, code, description, assignedTo, remarks, startDate, endDate sql.NullString
	var createdBy, creatorName, reporterID, reporterName sql.NullString
	err := row.Scan(&t.ID, &t.ModuleID, &parentID, &code, &t.Title, &description, &t.Type, &t.Priority, &t.Status,
		&assignedTo, &remarks, &startDate, &endDate, &t.Order, &createdBy, &creatorName, &reporterID, &reporterName,
		&t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	if parentID.Valid {
		t.ParentID = &parentID.String
	}
	if code.Valid {
		t.Code = code.String
	}
	if description.Valid {
		t.Description = description.String
	}
	if assignedTo.Valid {
		t.AssignedTo = &assignedTo.String
	}
	if remarks.Valid {
		t.Remarks = remarks.String
	}
	if startDate.Valid {
		t.StartDate = &startDate.String
	}
	if endDate.Valid {
		t.EndDate = &endDate.String
	}
	if createdBy.Valid {
		t.CreatedBy = createdBy.String
	}
	if creatorName.Valid {
		t.CreatorName = creatorName.String
	}
	if reporterID.Valid {
		t.ReporterID = reporterID.String
	}
	if reporterName.Valid {
		t.ReporterName = reporterName.String
	}
	return t, nil
}

func (r Repo) InsertTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO tasks(`+taskColumns+`)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.ModuleID, nullableStringPtr(t.ParentID), nullable(t.Code), t.Title, nullable(t.Description),
		t.Type, t.Priority, t.Status, nullableStringPtr(t.AssignedTo), nullable(t.Remarks),
		nullableStringPtr(t.StartDate), nullableStringPtr(t.EndDate), t.Order,
		nullable(t.CreatedBy), nullable(t.CreatorName), nullable(t.ReporterID), nullable(t.ReporterName),
		t.CreatedAt, t.UpdatedAt)
	return err
}

// UpdateTask writes every mutable field. Code, creator and created_at are
// assigned once at creation and never rewritten.
func (r Repo) UpdateTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	res, err := tx.ExecContext(ctx, `UPDATE tasks SET title=?, description=?, type=?, priority=?, status=?, assigned_to=?, remarks=?, start_date=?, end_date=?, sort_order=?, reporter_id=?, reporter_name=?, updated_at=? WHERE id=?`,
		t.Title, nullable(t.Description), t.Type, t.Priority, t.Status, nullableStringPtr(t.AssignedTo),
		nullable(t.Remarks), nullableStringPtr(t.StartDate), nullableStringPtr(t.EndDate), t.Order,
		nullable(t.ReporterID), nullable(t.ReporterName), t.UpdatedAt, t.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) UpdateTaskStatus(ctx context.Context, tx *sql.Tx, id string, status domain.Status, updatedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE tasks SET status=?, updated_at=? WHERE id=?`, status, updatedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetTaskRow(ctx context.Context, id string) (domain.Task, error) {
	return scanTask(r.DB.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id))
}

func (r Repo) GetTaskTx(ctx context.Context, tx *sql.Tx, id string) (domain.Task, error) {
	return scanTask(tx.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id))
}

// GetTask loads a task with its direct subtasks, comments and labels.
func (r Repo) GetTask(ctx context.Context, id string) (domain.Task, error) {
	t, err := r.GetTaskRow(ctx, id)
	if err != nil {
		return t, err
	}
	subtasks, err := r.listTaskRows(ctx, `WHERE parent_id=? ORDER BY sort_order ASC, created_at ASC`, id)
	if err != nil {
		return t, err
	}
	t.Subtasks = subtasks
	comments, err := r.ListComments(ctx, domain.EntityRef{Kind: domain.KindTask, ID: id})
	if err != nil {
		return t, err
	}
	t.Comments = comments
	labels, err := r.ListTaskLabels(ctx, id)
	if err != nil {
		return t, err
	}
	t.Labels = labels
	return t, nil
}

type TaskFilters struct {
	ModuleID   string
	ParentID   string
	RootOnly   bool
	Status     string
	AssignedTo string
	Limit      int
}

func (r Repo) ListTasks(ctx context.Context, f TaskFilters) ([]domain.Task, error) {
	var clauses []string
	var args []any
	if f.ModuleID != "" {
		clauses = append(clauses, "module_id=?")
		args = append(args, f.ModuleID)
	}
	if f.ParentID != "" {
		clauses = append(clauses, "parent_id=?")
		args = append(args, f.ParentID)
	} else if f.RootOnly {
		clauses = append(clauses, "parent_id IS NULL")
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.AssignedTo != "" {
		clauses = append(clauses, "assigned_to=?")
		args = append(args, f.AssignedTo)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ") + " "
	}
	query := where + `ORDER BY sort_order ASC, created_at ASC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	return r.listTaskRows(ctx, query, args...)
}

func (r Repo) listTaskRows(ctx context.Context, tail string, args ...any) ([]domain.Task, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks `+tail, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// NextTaskNumber bumps the module counter and returns the new value. Running
// inside the caller's insert transaction keeps concurrent root-task creation
// from computing the same suffix.
func (r Repo) NextTaskNumber(ctx context.Context, tx *sql.Tx, moduleID string) (int, error) {
	res, err := tx.ExecContext(ctx, `UPDATE modules SET task_counter=task_counter+1 WHERE id=?`, moduleID)
	if err != nil {
		return 0, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return 0, ErrNotFound
	}
	var counter int
	err = tx.QueryRowContext(ctx, `SELECT task_counter FROM modules WHERE id=?`, moduleID).Scan(&counter)
	return counter, err
}

func (r Repo) CountSubtasksTx(ctx context.Context, tx *sql.Tx, parentID string) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT count(*) FROM tasks WHERE parent_id=?`, parentID).Scan(&n)
	return n, err
}

func (r Repo) CountRootTasksTx(ctx context.Context, tx *sql.Tx, moduleID string) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT count(*) FROM tasks WHERE module_id=? AND parent_id IS NULL`, moduleID).Scan(&n)
	return n, err
}

// CountIncompleteSubtasks counts direct subtasks not yet done.
func (r Repo) CountIncompleteSubtasks(ctx context.Context, taskID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT count(*) FROM tasks WHERE parent_id=? AND status != ?`, taskID, domain.StatusDone).Scan(&n)
	return n, err
}

func (r Repo) ListChildrenIDs(ctx context.Context, tx *sql.Tx, taskID string) ([]string, error) {
	rows, err := tx.QueryContext(ctx, `SELECT id FROM tasks WHERE parent_id=?`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ReorderTasks assigns sort_order = position for every listed id within the
// given scope. Any id missing from the scope aborts the whole batch.
func (r Repo) ReorderTasks(ctx context.Context, tx *sql.Tx, moduleID string, parentID *string, ids []string) error {
	query := `UPDATE tasks SET sort_order=? WHERE id=? AND module_id=? AND parent_id IS NULL`
	if parentID != nil {
		query = `UPDATE tasks SET sort_order=? WHERE id=? AND module_id=? AND parent_id=?`
	}
	for i, id := range ids {
		args := []any{i, id, moduleID}
		if parentID != nil {
			args = append(args, *parentID)
		}
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("task %s: %w", id, ErrNotFound)
		}
	}
	return nil
}

func (r Repo) DeleteTask(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
