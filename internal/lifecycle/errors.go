package lifecycle

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/alfredjeanlab/kgate/internal/model"
)

var (
	// ErrInvalidTransition matches every *InvalidTransitionError.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrGuardFailed matches every *GuardFailedError.
	ErrGuardFailed = errors.New("gate guard failed")
	// ErrBlocked matches every *BlockedError.
	ErrBlocked = errors.New("issue has incomplete dependencies")
	// ErrGateNotAttached is returned for gate operations on a key the issue
	// does not require.
	ErrGateNotAttached = errors.New("gate not attached to issue")
	// ErrGateInUse is returned when removing a gate that issues still require.
	ErrGateInUse = errors.New("gate is still attached to issues")
)

// InvalidTransitionError reports a requested edge missing from the
// transition table. The issue is left unchanged.
type InvalidTransitionError struct {
	IssueID string
	From    model.State
	To      model.State
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("issue %s: cannot move from %s to %s", e.IssueID, e.From, e.To)
}

func (e *InvalidTransitionError) Unwrap() error { return ErrInvalidTransition }

// GateFailure describes one gate that is not passing.
type GateFailure struct {
	Key string `json:"key"`
	// Status is empty when the gate has never been evaluated.
	Status   model.RunStatus `json:"status,omitempty"`
	Mode     model.Mode      `json:"mode,omitempty"`
	ExitCode *int            `json:"exit_code,omitempty"`
	Duration time.Duration   `json:"duration,omitempty"`
	RunID    string          `json:"run_id,omitempty"`
	Excerpt  string          `json:"excerpt,omitempty"`
	Reason   string          `json:"reason,omitempty"`
}

func (f GateFailure) String() string {
	var b strings.Builder
	b.WriteString(f.Key)
	b.WriteString(": ")
	if f.Status == "" {
		b.WriteString("unset")
	} else {
		b.WriteString(string(f.Status))
	}
	var details []string
	if f.ExitCode != nil {
		details = append(details, fmt.Sprintf("exit %d", *f.ExitCode))
	}
	if f.RunID != "" && f.Mode == model.ModeAuto {
		details = append(details, f.Duration.Round(time.Millisecond).String())
	}
	if f.Reason != "" {
		details = append(details, f.Reason)
	}
	if len(details) > 0 {
		b.WriteString(" (" + strings.Join(details, ", ") + ")")
	}
	return b.String()
}

// GuardFailedError reports the gates that blocked a transition.
type GuardFailedError struct {
	IssueID  string
	Stage    model.Stage
	Failures []GateFailure
}

func (e *GuardFailedError) Error() string {
	parts := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		parts[i] = f.String()
	}
	return fmt.Sprintf("issue %s: %s gates not passed: %s", e.IssueID, e.Stage, strings.Join(parts, "; "))
}

func (e *GuardFailedError) Unwrap() error { return ErrGuardFailed }

// Keys returns the failing gate keys in attachment order.
func (e *GuardFailedError) Keys() []string {
	keys := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		keys[i] = f.Key
	}
	return keys
}

// BlockedError reports prerequisites that are not done yet.
type BlockedError struct {
	IssueID  string
	Blockers []string
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("issue %s is blocked by %s", e.IssueID, strings.Join(e.Blockers, ", "))
}

func (e *BlockedError) Unwrap() error { return ErrBlocked }
