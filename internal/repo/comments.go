package repo

import (
	"context"
	"database/sql"

	"taskline/internal/domain"
)

func (r Repo) InsertComment(ctx context.Context, tx *sql.Tx, c domain.Comment) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO comments(id,entity_kind,entity_id,author_id,author_name,body,created_at) VALUES (?,?,?,?,?,?,?)`,
		c.ID, c.Entity.Kind, c.Entity.ID, nullable(c.AuthorID), nullable(c.AuthorName), c.Body, c.CreatedAt)
	return err
}

func (r Repo) ListComments(ctx context.Context, ref domain.EntityRef) ([]domain.Comment, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,entity_kind,entity_id,author_id,author_name,body,created_at FROM comments WHERE entity_kind=? AND entity_id=? ORDER BY created_at ASC, id ASC`,
		ref.Kind, ref.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Comment
	for rows.Next() {
		var c domain.Comment
		var authorID, authorName sql.NullString
		if err := rows.Scan(&c.ID, &c.Entity.Kind, &c.Entity.ID, &authorID, &authorName, &c.Body, &c.CreatedAt); err != nil {
			return nil, err
		}
		if authorID.Valid {
			c.AuthorID = authorID.String
		}
		if authorName.Valid {
			c.AuthorName = authorName.String
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

// DeleteCommentsForEntity removes comments when their target entity goes away.
// Comments reference targets through the tagged union, so the store cannot
// cascade them itself.
func (r Repo) DeleteCommentsForEntity(ctx context.Context, tx *sql.Tx, ref domain.EntityRef) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM comments WHERE entity_kind=? AND entity_id=?`, ref.Kind, ref.ID)
	return err
}

func (r Repo) InsertLabel(ctx context.Context, l domain.Label) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO labels(id,project_id,name,color) VALUES (?,?,?,?)`,
		l.ID, l.ProjectID, l.Name, nullable(l.Color))
	return err
}

func (r Repo) ListLabels(ctx context.Context, projectID string) ([]domain.Label, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,project_id,name,COALESCE(color,'') FROM labels WHERE project_id=? ORDER BY name ASC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Label
	for rows.Next() {
		var l domain.Label
		if err := rows.Scan(&l.ID, &l.ProjectID, &l.Name, &l.Color); err != nil {
			return nil, err
		}
		res = append(res, l)
	}
	return res, rows.Err()
}

func (r Repo) GetLabel(ctx context.Context, id string) (domain.Label, error) {
	var l domain.Label
	var color sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT id,project_id,name,color FROM labels WHERE id=?`, id).
		Scan(&l.ID, &l.ProjectID, &l.Name, &color)
	if err == sql.ErrNoRows {
		return l, ErrNotFound
	}
	if color.Valid {
		l.Color = color.String
	}
	return l, err
}

func (r Repo) AttachLabel(ctx context.Context, taskID, labelID string) error {
	_, err := r.DB.ExecContext(ctx, `INSERT OR IGNORE INTO task_labels(task_id, label_id) VALUES (?,?)`, taskID, labelID)
	return err
}

func (r Repo) DetachLabel(ctx context.Context, taskID, labelID string) error {
	_, err := r.DB.ExecContext(ctx, `DELETE FROM task_labels WHERE task_id=? AND label_id=?`, taskID, labelID)
	return err
}

func (r Repo) ListTaskLabels(ctx context.Context, taskID string) ([]domain.Label, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT l.id,l.project_id,l.name,COALESCE(l.color,'') FROM labels l JOIN task_labels tl ON tl.label_id=l.id WHERE tl.task_id=? ORDER BY l.name ASC`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Label
	for rows.Next() {
		var l domain.Label
		if err := rows.Scan(&l.ID, &l.ProjectID, &l.Name, &l.Color); err != nil {
			return nil, err
		}
		res = append(res, l)
	}
	return res, rows.Err()
}
