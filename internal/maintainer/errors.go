package maintainer

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dbmaintain/dbmaintain/internal/update"
)

var (
	// ErrManualIntervention is wrapped by every error that an update cannot
	// get past without an operator changing configuration or the ledger.
	ErrManualIntervention = errors.New("manual intervention required")
	ErrBusy               = errors.New("another operation is running")
)

// IrregularUpdatesError reports script changes that cannot be applied
// incrementally while from-scratch updates are disabled.
type IrregularUpdatesError struct {
	Updates []update.ScriptUpdate
}

func (e *IrregularUpdatesError) Error() string {
	lines := make([]string, 0, len(e.Updates))
	for _, u := range e.Updates {
		lines = append(lines, "  - "+u.String())
	}
	return fmt.Sprintf("irregular script updates, enable from_scratch or fix the ledger with mark-up-to-date:\n%s",
		strings.Join(lines, "\n"))
}

func (e *IrregularUpdatesError) Unwrap() error { return ErrManualIntervention }

// ErrorScriptError reports that a script failed during an earlier update and
// nothing allows the engine to proceed past it.
type ErrorScriptError struct {
	Scripts     []string
	Incremental bool
}

func (e *ErrorScriptError) Error() string {
	names := strings.Join(e.Scripts, ", ")
	if e.Incremental {
		return fmt.Sprintf("during the latest update the execution of incremental script %s failed; "+
			"fix the script and enable from_scratch, or resolve it with mark-error-performed or mark-error-reverted", names)
	}
	return fmt.Sprintf("script %s failed during the latest update and was not changed since; "+
		"fix it, enable keep_retrying_after_error, or resolve it with mark-error-performed", names)
}

func (e *ErrorScriptError) Unwrap() error { return ErrManualIntervention }

// ScriptExecutionError is returned when a script fails. Content holds the
// script text, cut to the configured maximum.
type ScriptExecutionError struct {
	Script    string
	Statement string
	Content   string
	Err       error
}

func (e *ScriptExecutionError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "execute script %s: %v", e.Script, e.Err)
	if e.Content != "" {
		fmt.Fprintf(&b, "\nscript content:\n%s", e.Content)
	}
	return b.String()
}

func (e *ScriptExecutionError) Unwrap() error { return e.Err }

func truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}
