package audit

import (
	"strings"
	"testing"

	"taskline/internal/domain"
)

func strPtr(s string) *string { return &s }

func TestDiffTracksStatusAndPriority(t *testing.T) {
	before := domain.Task{Status: domain.StatusTodo, Priority: domain.PriorityMedium}
	after := domain.Task{Status: domain.StatusInProgress, Priority: domain.PriorityHigh}
	changes := Diff(before, after)
	if len(changes) != 2 {
		t.Fatalf("changes = %d, want 2", len(changes))
	}
	if changes[0].Field != "status" || changes[0].Action != domain.ActionStatusChanged {
		t.Fatalf("first change = %+v", changes[0])
	}
	if changes[1].Field != "priority" || changes[1].Action != domain.ActionPriorityChanged {
		t.Fatalf("second change = %+v", changes[1])
	}
}

func TestDiffAssignmentActions(t *testing.T) {
	assigned := Diff(domain.Task{}, domain.Task{AssignedTo: strPtr("bob")})
	if len(assigned) != 1 || assigned[0].Action != domain.ActionAssigned || assigned[0].New != "bob" {
		t.Fatalf("assign diff = %+v", assigned)
	}
	unassigned := Diff(domain.Task{AssignedTo: strPtr("bob")}, domain.Task{})
	if len(unassigned) != 1 || unassigned[0].Action != domain.ActionUnassigned {
		t.Fatalf("unassign diff = %+v", unassigned)
	}
}

func TestDiffDatesAtDayGranularity(t *testing.T) {
	before := domain.Task{StartDate: strPtr("2024-03-01T09:00:00Z")}
	after := domain.Task{StartDate: strPtr("2024-03-01T17:30:00Z")}
	if changes := Diff(before, after); len(changes) != 0 {
		t.Fatalf("same-day change tracked: %+v", changes)
	}
	after.StartDate = strPtr("2024-03-02T09:00:00Z")
	changes := Diff(before, after)
	if len(changes) != 1 || changes[0].Field != "start_date" {
		t.Fatalf("cross-day diff = %+v", changes)
	}
	if changes[0].Old != "2024-03-01" || changes[0].New != "2024-03-02" {
		t.Fatalf("date values = %q -> %q", changes[0].Old, changes[0].New)
	}
}

func TestDiffTruncatesDisplayValuesOnly(t *testing.T) {
	long := strings.Repeat("x", 80)
	changes := Diff(domain.Task{}, domain.Task{Description: long})
	if len(changes) != 1 {
		t.Fatalf("changes = %d, want 1", len(changes))
	}
	c := changes[0]
	if c.New != long {
		t.Fatalf("full value was truncated")
	}
	display := []rune(c.DisplayNew)
	if len(display) != displayValueLimit+1 || display[len(display)-1] != '…' {
		t.Fatalf("display value = %q (%d runes)", c.DisplayNew, len(display))
	}
}

func TestDiffNoChanges(t *testing.T) {
	task := domain.Task{Title: "same", Status: domain.StatusTodo, Priority: domain.PriorityLow}
	if changes := Diff(task, task); len(changes) != 0 {
		t.Fatalf("diff of identical tasks = %+v", changes)
	}
}
