package model

import (
	"strings"
	"testing"
)

// validIssue returns an Issue that passes all validation rules.
func validIssue() Issue {
	return Issue{
		ID:            "kg-abc123",
		Title:         "Implement login flow",
		Priority:      2,
		State:         StateReady,
		GatesRequired: []string{"tests"},
		GatesStatus:   map[string]GateStatus{"tests": {Status: RunPassed}},
	}
}

// fieldErrors extracts a *ValidationError from err or fails the test.
func fieldErrors(t *testing.T, err error) []FieldError {
	t.Helper()
	if err == nil {
		t.Fatal("expected validation error, got nil")
	}
	ve, ok := err.(*ValidationError)
	if !ok {
		t.Fatalf("expected *ValidationError, got %T", err)
	}
	return ve.Errors
}

// hasFieldError reports whether the error list contains an error for the given field.
func hasFieldError(errs []FieldError, field string) bool {
	for _, fe := range errs {
		if fe.Field == field {
			return true
		}
	}
	return false
}

func TestValidateIssue_Valid(t *testing.T) {
	i := validIssue()
	if err := ValidateIssue(&i); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateIssue_Fields(t *testing.T) {
	for _, tc := range []struct {
		name   string
		mutate func(*Issue)
		field  string
	}{
		{"empty title", func(i *Issue) { i.Title = "  \t" }, "title"},
		{"long title", func(i *Issue) { i.Title = strings.Repeat("x", 501) }, "title"},
		{"priority high", func(i *Issue) { i.Priority = 5 }, "priority"},
		{"priority negative", func(i *Issue) { i.Priority = -1 }, "priority"},
		{"bad state", func(i *Issue) { i.State = "blocked" }, "state"},
		{"bad id", func(i *Issue) { i.ID = "../etc" }, "id"},
		{"orphan status", func(i *Issue) { i.GatesRequired = nil }, "gates_status"},
		{"bad status", func(i *Issue) { i.GatesStatus["tests"] = GateStatus{Status: "ok"} }, "gates_status"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			i := validIssue()
			tc.mutate(&i)
			errs := fieldErrors(t, ValidateIssue(&i))
			if !hasFieldError(errs, tc.field) {
				t.Errorf("expected error on field %q, got %v", tc.field, errs)
			}
		})
	}
}

func TestValidateGate(t *testing.T) {
	for _, tc := range []struct {
		name  string
		gate  GateDefinition
		field string // empty means valid
	}{
		{"manual", GateDefinition{Key: "review", Stage: StagePrecheck, Mode: ModeManual}, ""},
		{"auto", GateDefinition{Key: "tests", Stage: StagePostcheck, Mode: ModeAuto, Checker: NewExecChecker("go test ./...", 5)}, ""},
		{"auto without checker", GateDefinition{Key: "tests", Stage: StagePostcheck, Mode: ModeAuto}, "checker"},
		{"auto empty command", GateDefinition{Key: "tests", Stage: StagePostcheck, Mode: ModeAuto, Checker: NewExecChecker(" ", 5)}, "checker.command"},
		{"negative timeout", GateDefinition{Key: "tests", Stage: StagePostcheck, Mode: ModeAuto, Checker: NewExecChecker("true", -1)}, "checker.timeout_seconds"},
		{"bad key", GateDefinition{Key: "a/b", Stage: StagePrecheck, Mode: ModeManual}, "key"},
		{"bad stage", GateDefinition{Key: "x", Stage: "during", Mode: ModeManual}, "stage"},
		{"bad mode", GateDefinition{Key: "x", Stage: StagePrecheck, Mode: "robot"}, "mode"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateGate(&tc.gate)
			if tc.field == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !hasFieldError(fieldErrors(t, err), tc.field) {
				t.Errorf("expected error on field %q, got %v", tc.field, err)
			}
		})
	}
}

func TestValidateRun(t *testing.T) {
	r := GateRunResult{RunID: "r1", GateKey: "tests", Status: RunPassed, Subject: RunSubject{IssueID: "kg-1"}}
	if err := ValidateRun(&r); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	r.Status = "maybe"
	if !hasFieldError(fieldErrors(t, ValidateRun(&r)), "status") {
		t.Error("expected status error")
	}
}

func TestValidKey(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want bool
	}{
		{"tests", true},
		{"design-approved", true},
		{"lint.go_vet", true},
		{"", false},
		{"-lead", false},
		{"a b", false},
		{"a/b", false},
		{strings.Repeat("k", 129), false},
	} {
		if got := ValidKey(tc.in); got != tc.want {
			t.Errorf("ValidKey(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestValidationError_Format(t *testing.T) {
	ve := &ValidationError{Errors: []FieldError{
		{Field: "title", Message: "is required"},
		{Field: "priority", Message: "must be between 0 and 4, got 9"},
	}}
	want := "validation failed: title: is required; priority: must be between 0 and 4, got 9"
	if got := ve.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}
