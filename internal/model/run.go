package model

import (
	"encoding/json"
	"time"
)

// RunStatus is the outcome of a gate run. Gate statuses on an issue use the
// same values.
type RunStatus string

const (
	RunPassed  RunStatus = "passed"
	RunFailed  RunStatus = "failed"
	RunError   RunStatus = "error"
	RunSkipped RunStatus = "skipped"
	RunPending RunStatus = "pending"
)

// String returns the string representation of the status.
func (s RunStatus) String() string {
	return string(s)
}

// IsValid checks whether the status is one of the five defined values.
func (s RunStatus) IsValid() bool {
	switch s {
	case RunPassed, RunFailed, RunError, RunSkipped, RunPending:
		return true
	}
	return false
}

// RunSchemaVersion is the current GateRunResult format version.
const RunSchemaVersion = 1

// SubjectIssue is the only subject type produced by the core.
const SubjectIssue = "issue"

// RunSubject identifies what a run evaluated.
type RunSubject struct {
	Type    string `json:"type"`
	Repo    string `json:"repo,omitempty"`
	IssueID string `json:"issue_id"`
	Commit  string `json:"commit,omitempty"`
	Branch  string `json:"branch,omitempty"`
}

// RunExecutor records how a run was produced.
type RunExecutor struct {
	Mode     Mode   `json:"mode"`
	RunnerID string `json:"runner_id,omitempty"`
}

// RunEvidence points at the captured output of an auto run. ExitCode is nil
// when the process never exited on its own.
type RunEvidence struct {
	ExitCode   *int   `json:"exit_code"`
	StdoutPath string `json:"stdout_path,omitempty"`
	StderrPath string `json:"stderr_path,omitempty"`
	Command    string `json:"command,omitempty"`
}

// GateRunResult is the immutable record of one gate evaluation.
type GateRunResult struct {
	SchemaVersion int                        `json:"schema_version"`
	RunID         string                     `json:"run_id"`
	GateKey       string                     `json:"gate_key"`
	Stage         Stage                      `json:"stage"`
	Subject       RunSubject                 `json:"subject"`
	Status        RunStatus                  `json:"status"`
	StartedAt     time.Time                  `json:"started_at"`
	CompletedAt   time.Time                  `json:"completed_at"`
	DurationMs    int64                      `json:"duration_ms"`
	Executor      RunExecutor                `json:"executor"`
	Evidence      *RunEvidence               `json:"evidence,omitempty"`
	By            string                     `json:"by"`
	Message       string                     `json:"message,omitempty"`
	Extension     map[string]json.RawMessage `json:"extension,omitempty"`
}

// Duration returns the recorded wall-clock duration.
func (r *GateRunResult) Duration() time.Duration {
	return time.Duration(r.DurationMs) * time.Millisecond
}

// ExitCode returns the process exit code and whether one was recorded.
func (r *GateRunResult) ExitCode() (int, bool) {
	if r.Evidence == nil || r.Evidence.ExitCode == nil {
		return 0, false
	}
	return *r.Evidence.ExitCode, true
}
