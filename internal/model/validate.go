package model

import (
	"fmt"
	"regexp"
	"strings"
)

// ValidationError holds a list of field-level validation errors.
type ValidationError struct {
	Errors []FieldError
}

// FieldError represents a single validation failure on a named field.
type FieldError struct {
	Field   string
	Message string
}

// Error formats the validation error as a semicolon-separated list of field messages.
func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Errors))
	for i, fe := range e.Errors {
		parts[i] = fe.Field + ": " + fe.Message
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// HasErrors reports whether the validation error contains any field errors.
func (e *ValidationError) HasErrors() bool {
	return len(e.Errors) > 0
}

func (e *ValidationError) add(field, format string, args ...any) {
	e.Errors = append(e.Errors, FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
}

func (e *ValidationError) err() error {
	if e.HasErrors() {
		return e
	}
	return nil
}

// Keys and ids end up in file names, so they are restricted to a safe set.
var reKey = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// ValidKey reports whether s is usable as a gate key or issue id.
func ValidKey(s string) bool {
	return len(s) <= 128 && reKey.MatchString(s)
}

// ValidateIssue checks an Issue for constraint violations.
func ValidateIssue(i *Issue) error {
	var ve ValidationError

	if !ValidKey(i.ID) {
		ve.add("id", "invalid value %q", i.ID)
	}

	title := strings.TrimSpace(i.Title)
	if title == "" {
		ve.add("title", "is required")
	} else if len([]rune(title)) > 500 {
		ve.add("title", "must be 500 characters or fewer")
	}

	if i.Priority < 0 || i.Priority > 4 {
		ve.add("priority", "must be between 0 and 4, got %d", i.Priority)
	}

	if !i.State.IsValid() {
		ve.add("state", "invalid value %q", i.State)
	}

	for key, gs := range i.GatesStatus {
		if !i.HasGate(key) {
			ve.add("gates_status", "entry %q has no matching required gate", key)
		}
		if !gs.Status.IsValid() {
			ve.add("gates_status", "entry %q has invalid status %q", key, gs.Status)
		}
	}

	return ve.err()
}

// ValidateGate checks a GateDefinition for constraint violations.
func ValidateGate(g *GateDefinition) error {
	var ve ValidationError

	if !ValidKey(g.Key) {
		ve.add("key", "invalid value %q", g.Key)
	}
	if !g.Stage.IsValid() {
		ve.add("stage", "invalid value %q", g.Stage)
	}
	if !g.Mode.IsValid() {
		ve.add("mode", "invalid value %q", g.Mode)
	}
	if g.Mode == ModeAuto {
		switch {
		case g.Checker == nil:
			ve.add("checker", "is required for auto gates")
		case g.Checker.Kind == CheckerExec && g.Checker.Exec == nil:
			ve.add("checker", "exec checker has no command")
		case g.Checker.Kind == CheckerExec && strings.TrimSpace(g.Checker.Exec.Command) == "":
			ve.add("checker.command", "is required")
		case g.Checker.Kind == CheckerExec && g.Checker.Exec.TimeoutSeconds < 0:
			ve.add("checker.timeout_seconds", "must not be negative")
		}
	}

	return ve.err()
}

// ValidateRun checks the structural fields of a GateRunResult.
func ValidateRun(r *GateRunResult) error {
	var ve ValidationError

	if r.RunID == "" {
		ve.add("run_id", "is required")
	}
	if r.GateKey == "" {
		ve.add("gate_key", "is required")
	}
	if !r.Status.IsValid() {
		ve.add("status", "invalid value %q", r.Status)
	}
	if r.Subject.IssueID == "" {
		ve.add("subject.issue_id", "is required")
	}

	return ve.err()
}
