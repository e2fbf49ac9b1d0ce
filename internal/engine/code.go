package engine

import (
	"fmt"
	"strings"
)

// Prefix used when a parent row predates code assignment. Codes are written
// once at creation and never cleared, so this should only ever fire on legacy
// data.
const fallbackCodePrefix = "TASK"

// modulePrefix derives the code prefix from a module name: the first three
// characters, uppercased.
func modulePrefix(name string) string {
	runes := []rune(strings.TrimSpace(name))
	if len(runes) > 3 {
		runes = runes[:3]
	}
	if len(runes) == 0 {
		return fallbackCodePrefix
	}
	return strings.ToUpper(string(runes))
}

// rootTaskCode builds the code for a root task from the module's bumped
// counter, e.g. "HOM-3".
func rootTaskCode(moduleName string, seq int) string {
	return fmt.Sprintf("%s-%d", modulePrefix(moduleName), seq)
}

// subtaskCode builds the code for the seq-th subtask of a parent,
// e.g. "HOM-1.2".
func subtaskCode(parentCode string, seq int) string {
	if parentCode == "" {
		parentCode = fallbackCodePrefix
	}
	return fmt.Sprintf("%s.%d", parentCode, seq)
}
