package repo

import (
	"context"
	"database/sql"
	"errors"

	"taskline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}

func (r Repo) EnsureOrg(ctx context.Context, tx *sql.Tx, orgID, name, now string) error {
	if name == "" {
		name = orgID
	}
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO organizations(id, name, created_at) VALUES (?,?,?)`, orgID, name, now)
	return err
}

func (r Repo) InsertProject(ctx context.Context, tx *sql.Tx, p domain.Project) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO projects(id,org_id,name,status,description,created_at) VALUES (?,?,?,?,?,?)`,
		p.ID, p.OrgID, p.Name, p.Status, nullable(p.Description), p.CreatedAt)
	return err
}

func (r Repo) GetProject(ctx context.Context, id string) (domain.Project, error) {
	var p domain.Project
	var desc sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT id,org_id,name,status,description,created_at FROM projects WHERE id=?`, id).
		Scan(&p.ID, &p.OrgID, &p.Name, &p.Status, &desc, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if desc.Valid {
		p.Description = desc.String
	}
	return p, err
}

func (r Repo) SingleProject(ctx context.Context) (domain.Project, error) {
	projects, err := r.ListProjects(ctx)
	if err != nil {
		return domain.Project{}, err
	}
	if len(projects) == 0 {
		return domain.Project{}, ErrNotFound
	}
	if len(projects) > 1 {
		return domain.Project{}, errors.New("multiple projects exist; specify --project")
	}
	return projects[0], nil
}

func (r Repo) ListProjects(ctx context.Context) ([]domain.Project, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,org_id,name,status,COALESCE(description,'') AS description,created_at FROM projects ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Project
	for rows.Next() {
		var p domain.Project
		if err := rows.Scan(&p.ID, &p.OrgID, &p.Name, &p.Status, &p.Description, &p.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r Repo) AddProjectMember(ctx context.Context, projectID, userID, role string) error {
	if role == "" {
		role = "member"
	}
	_, err := r.DB.ExecContext(ctx, `INSERT OR IGNORE INTO project_members(project_id, user_id, role) VALUES (?,?,?)`, projectID, userID, role)
	return err
}

// IsProjectMember is the membership lookup used by callers gating reads; role
// evaluation beyond membership lives outside this service.
func (r Repo) IsProjectMember(ctx context.Context, projectID, userID string) (bool, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT 1 FROM project_members WHERE project_id=? AND user_id=? LIMIT 1`, projectID, userID)
	var one int
	err := row.Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r Repo) InsertApp(ctx context.Context, a domain.App) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO apps(id,project_id,name,created_at) VALUES (?,?,?,?)`,
		a.ID, a.ProjectID, a.Name, a.CreatedAt)
	return err
}

func (r Repo) GetApp(ctx context.Context, id string) (domain.App, error) {
	var a domain.App
	err := r.DB.QueryRowContext(ctx, `SELECT id,project_id,name,created_at FROM apps WHERE id=?`, id).
		Scan(&a.ID, &a.ProjectID, &a.Name, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	return a, err
}

func (r Repo) ListApps(ctx context.Context, projectID string) ([]domain.App, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,project_id,name,created_at FROM apps WHERE project_id=? ORDER BY created_at DESC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.App
	for rows.Next() {
		var a domain.App
		if err := rows.Scan(&a.ID, &a.ProjectID, &a.Name, &a.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

func (r Repo) InsertModule(ctx context.Context, m domain.Module) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO modules(id,app_id,name,task_counter,created_at) VALUES (?,?,?,?,?)`,
		m.ID, m.AppID, m.Name, m.TaskCounter, m.CreatedAt)
	return err
}

func (r Repo) GetModule(ctx context.Context, id string) (domain.Module, error) {
	var m domain.Module
	err := r.DB.QueryRowContext(ctx, `SELECT id,app_id,name,task_counter,created_at FROM modules WHERE id=?`, id).
		Scan(&m.ID, &m.AppID, &m.Name, &m.TaskCounter, &m.CreatedAt)
	if err == sql.ErrNoRows {
		return m, ErrNotFound
	}
	return m, err
}

func (r Repo) GetModuleTx(ctx context.Context, tx *sql.Tx, id string) (domain.Module, error) {
	var m domain.Module
	err := tx.QueryRowContext(ctx, `SELECT id,app_id,name,task_counter,created_at FROM modules WHERE id=?`, id).
		Scan(&m.ID, &m.AppID, &m.Name, &m.TaskCounter, &m.CreatedAt)
	if err == sql.ErrNoRows {
		return m, ErrNotFound
	}
	return m, err
}

func (r Repo) ListModules(ctx context.Context, appID string) ([]domain.Module, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,app_id,name,task_counter,created_at FROM modules WHERE app_id=? ORDER BY created_at DESC`, appID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Module
	for rows.Next() {
		var m domain.Module
		if err := rows.Scan(&m.ID, &m.AppID, &m.Name, &m.TaskCounter, &m.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

// ProjectIDForModule resolves the project an activity entry is scoped to.
func (r Repo) ProjectIDForModule(ctx context.Context, moduleID string) (string, error) {
	var projectID string
	err := r.DB.QueryRowContext(ctx, `SELECT a.project_id FROM modules m JOIN apps a ON a.id=m.app_id WHERE m.id=?`, moduleID).
		Scan(&projectID)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return projectID, err
}
