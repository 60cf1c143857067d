package task

import (
	"fmt"
	"strings"
)

// FormatTraceback renders a task's call stack into the line-oriented
// form spec §7 describes as stored "in the exception's stack slot".
// Grounded on barn/task/traceback.go's frame-walk shape (top frame
// first, "called from" for the rest, an explicit end marker) — rekeyed
// from MOO verb/object names to function indices resolved against the
// module's function table.
func FormatTraceback(t *Task, fnName func(uint32) string) []string {
	stack := t.CallStack()
	if len(stack) == 0 {
		return []string{"(no stack)", "(end of traceback)"}
	}
	lines := make([]string, 0, len(stack)+1)
	for i := len(stack) - 1; i >= 0; i-- {
		fn := stack[i]
		name := fmt.Sprintf("function#%d", fn)
		if fnName != nil {
			if n := fnName(fn); n != "" {
				name = n
			}
		}
		if i == len(stack)-1 {
			lines = append(lines, fmt.Sprintf("at %s", name))
		} else {
			lines = append(lines, fmt.Sprintf("called from %s", name))
		}
	}
	lines = append(lines, "(end of traceback)")
	return lines
}

func FormatTracebackString(t *Task, fnName func(uint32) string) string {
	return strings.Join(FormatTraceback(t, fnName), "\n")
}
