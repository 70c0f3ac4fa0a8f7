package model

import (
	"encoding/json"
	"fmt"
)

// Stage selects which lifecycle transition a gate guards.
type Stage string

const (
	StagePrecheck  Stage = "precheck"
	StagePostcheck Stage = "postcheck"
)

// String returns the string representation of the stage.
func (s Stage) String() string {
	return string(s)
}

// IsValid checks whether the stage is a known value.
func (s Stage) IsValid() bool {
	switch s {
	case StagePrecheck, StagePostcheck:
		return true
	}
	return false
}

// Mode says who decides a gate's status.
type Mode string

const (
	ModeManual Mode = "manual"
	ModeAuto   Mode = "auto"
)

// String returns the string representation of the mode.
func (m Mode) String() string {
	return string(m)
}

// IsValid checks whether the mode is a known value.
func (m Mode) IsValid() bool {
	switch m {
	case ModeManual, ModeAuto:
		return true
	}
	return false
}

// CheckerKind is the discriminant of a Checker.
type CheckerKind string

// CheckerExec runs a shell command; it is the only kind with an executor.
const CheckerExec CheckerKind = "exec"

// ExecChecker is the payload of an exec checker.
type ExecChecker struct {
	Command        string            `json:"command"`
	TimeoutSeconds int               `json:"timeout_seconds,omitempty"`
	WorkingDir     string            `json:"working_dir,omitempty"`
	Env            map[string]string `json:"env,omitempty"`
}

// Checker is a tagged variant describing how an auto gate is evaluated.
// Exactly one payload field is set for a known Kind. Checkers of an unknown
// kind keep their raw JSON so they survive a catalog rewrite unchanged.
type Checker struct {
	Kind CheckerKind
	Exec *ExecChecker

	raw json.RawMessage
}

// NewExecChecker returns an exec checker for command.
func NewExecChecker(command string, timeoutSeconds int) *Checker {
	return &Checker{
		Kind: CheckerExec,
		Exec: &ExecChecker{Command: command, TimeoutSeconds: timeoutSeconds},
	}
}

// Known reports whether an executor exists for the checker's kind.
func (c *Checker) Known() bool {
	return c.Kind == CheckerExec && c.Exec != nil
}

// Describe returns a short human-readable summary of the checker.
func (c *Checker) Describe() string {
	if c.Known() {
		return c.Exec.Command
	}
	return fmt.Sprintf("<%s checker>", c.Kind)
}

type execWire struct {
	Kind CheckerKind `json:"kind"`
	ExecChecker
}

// MarshalJSON flattens the payload next to the "kind" discriminant.
func (c Checker) MarshalJSON() ([]byte, error) {
	switch {
	case c.Kind == CheckerExec && c.Exec != nil:
		return json.Marshal(execWire{Kind: CheckerExec, ExecChecker: *c.Exec})
	case len(c.raw) > 0:
		return c.raw, nil
	default:
		return json.Marshal(struct {
			Kind CheckerKind `json:"kind"`
		}{c.Kind})
	}
}

// UnmarshalJSON decodes the payload selected by "kind". A missing kind is
// read as exec.
func (c *Checker) UnmarshalJSON(data []byte) error {
	var head struct {
		Kind CheckerKind `json:"kind"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return err
	}
	switch head.Kind {
	case CheckerExec, "":
		var w execWire
		if err := json.Unmarshal(data, &w); err != nil {
			return err
		}
		*c = Checker{Kind: CheckerExec, Exec: &w.ExecChecker}
	default:
		*c = Checker{Kind: head.Kind, raw: append(json.RawMessage(nil), data...)}
	}
	return nil
}

// GateVersion is the current definition format version.
const GateVersion = 1

// GateDefinition is one entry of the gate catalog.
type GateDefinition struct {
	Version     int                        `json:"version"`
	Key         string                     `json:"key"`
	Title       string                     `json:"title"`
	Description string                     `json:"description,omitempty"`
	Stage       Stage                      `json:"stage"`
	Mode        Mode                       `json:"mode"`
	Checker     *Checker                   `json:"checker,omitempty"`
	Extension   map[string]json.RawMessage `json:"extension,omitempty"`
}

// CatalogSchemaVersion is the current gates.json format version.
const CatalogSchemaVersion = 1

// Catalog is the durable set of gate definitions, keyed by gate key.
type Catalog struct {
	SchemaVersion int                        `json:"schema_version"`
	Gates         map[string]*GateDefinition `json:"gates"`
}
