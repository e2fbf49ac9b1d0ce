package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"taskline/internal/config"
	"taskline/internal/domain"
	"taskline/internal/repo"
)

// ResolveProject picks the active project and ensures it exists in the DB,
// creating it from config defaults when missing. Order of preference:
// explicit override, taskline.yml, single-project DB.
func ResolveProject(ctx context.Context, workspace, projectOverride string, r repo.Repo, actor *domain.Actor) (string, *config.Config, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return "", nil, err
	}

	projectID := projectOverride
	if projectID == "" && cfg != nil {
		projectID = cfg.Project.ID
	}
	if projectID == "" {
		if p, err := r.SingleProject(ctx); err == nil {
			projectID = p.ID
		} else {
			return "", nil, fmt.Errorf("project not specified; use --project or create taskline.yml")
		}
	}
	if cfg == nil {
		cfg = config.Default(projectID)
	}

	if _, err := r.GetProject(ctx, projectID); err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			return "", nil, err
		}
		if err := createProject(ctx, r, projectID, cfg, actor); err != nil {
			return "", nil, err
		}
	}
	cfg.Project.ID = projectID
	return projectID, cfg, nil
}

// WriteConfig seeds taskline.yml for a new workspace. Existing files are left
// alone.
func WriteConfig(workspace, projectID string) error {
	path := config.Path(workspace)
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	return os.WriteFile(path, []byte(config.GenerateDefault(projectID)), 0o644)
}

// createProject inserts a minimal org/project footprint for the workspace.
func createProject(ctx context.Context, r repo.Repo, projectID string, cfg *config.Config, actor *domain.Actor) error {
	name := projectID
	if cfg != nil && cfg.Project.Name != "" {
		name = cfg.Project.Name
	}
	now := time.Now().UTC().Format(time.RFC3339)
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	orgID := "default-org"
	p := domain.Project{
		ID:        projectID,
		OrgID:     orgID,
		Name:      name,
		Status:    "active",
		CreatedAt: now,
	}
	if err := r.EnsureOrg(ctx, tx, orgID, "Default Org", now); err != nil {
		return fmt.Errorf("ensure org: %w", err)
	}
	if err := r.InsertProject(ctx, tx, p); err != nil {
		return fmt.Errorf("insert project: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	if actor != nil {
		if err := r.AddProjectMember(ctx, projectID, actor.ID, "owner"); err != nil {
			return fmt.Errorf("add member: %w", err)
		}
	}
	return nil
}
