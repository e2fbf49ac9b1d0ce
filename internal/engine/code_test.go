package engine

import "testing"

func TestModulePrefix(t *testing.T) {
	cases := []struct {
		name string
		want string
	}{
		{"Home", "HOM"},
		{"ab", "AB"},
		{"  payments  ", "PAY"},
		{"", "TASK"},
	}
	for _, tc := range cases {
		if got := modulePrefix(tc.name); got != tc.want {
			t.Errorf("modulePrefix(%q) = %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestRootTaskCode(t *testing.T) {
	if got := rootTaskCode("Home", 3); got != "HOM-3" {
		t.Fatalf("rootTaskCode = %q, want HOM-3", got)
	}
}

func TestSubtaskCode(t *testing.T) {
	if got := subtaskCode("HOM-1", 2); got != "HOM-1.2" {
		t.Fatalf("subtaskCode = %q, want HOM-1.2", got)
	}
	if got := subtaskCode("HOM-1.2", 1); got != "HOM-1.2.1" {
		t.Fatalf("nested subtaskCode = %q, want HOM-1.2.1", got)
	}
	// Parents without a code fall back to the literal prefix.
	if got := subtaskCode("", 4); got != "TASK.4" {
		t.Fatalf("fallback subtaskCode = %q, want TASK.4", got)
	}
}
