package activity

import (
	"context"
	"fmt"

	"taskline/internal/domain"
	"taskline/internal/repo"
)

// Service is the read side of the activity feed: stored rows in,
// user-facing pages and messages out.
type Service struct {
	Repo     repo.Repo
	PageSize int
}

func (s Service) pageSize() int {
	if s.PageSize > 0 {
		return s.PageSize
	}
	return 50
}

// EntityActivity returns the newest entries for one task or bug-sheet.
func (s Service) EntityActivity(ctx context.Context, ref domain.EntityRef, limit int) ([]domain.ActivityLog, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > s.pageSize() {
		limit = s.pageSize()
	}
	return s.Repo.ListEntityActivity(ctx, ref, limit)
}

// ProjectActivity returns a page of the project feed, newest first. Cursor is
// the last seen entry id; zero means start from the top.
func (s Service) ProjectActivity(ctx context.Context, projectID string, limit int, cursor int64) ([]domain.ActivityLog, error) {
	if projectID == "" {
		return nil, fmt.Errorf("project is required")
	}
	if limit <= 0 || limit > s.pageSize() {
		limit = s.pageSize()
	}
	return s.Repo.ListProjectActivity(ctx, projectID, limit, cursor)
}

// FormatMessage renders one activity entry as a display string. It is a pure
// function and never fails: unknown actions degrade to a generic message.
func FormatMessage(e domain.ActivityLog) string {
	who := e.UserName
	if who == "" {
		who = "system"
	}
	what := e.EntityTitle
	if what == "" {
		what = string(e.Entity.Kind) + " " + e.Entity.ID
	}
	switch e.Action {
	case domain.ActionCreated:
		return fmt.Sprintf("%s created %q", who, what)
	case domain.ActionDeleted:
		return fmt.Sprintf("%s deleted %q", who, what)
	case domain.ActionStatusChanged:
		return fmt.Sprintf("%s moved %q from %s to %s", who, what, e.OldValue, e.NewValue)
	case domain.ActionPriorityChanged:
		return fmt.Sprintf("%s changed priority of %q from %s to %s", who, what, e.OldValue, e.NewValue)
	case domain.ActionAssigned:
		return fmt.Sprintf("%s assigned %q to %s", who, what, e.NewValue)
	case domain.ActionUnassigned:
		return fmt.Sprintf("%s unassigned %q", who, what)
	case domain.ActionCommented:
		return fmt.Sprintf("%s commented on %q", who, what)
	case domain.ActionUpdated:
		if e.Field != "" && (e.OldValue != "" || e.NewValue != "") {
			return fmt.Sprintf("%s updated %s of %q from %q to %q", who, e.Field, what, e.OldValue, e.NewValue)
		}
		if e.Field != "" {
			return fmt.Sprintf("%s updated %s of %q", who, e.Field, what)
		}
		return fmt.Sprintf("%s updated %q", who, what)
	default:
		return fmt.Sprintf("%s performed %s on %q", who, e.Action, what)
	}
}
