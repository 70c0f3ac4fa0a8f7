package model

import (
	"slices"
	"time"
)

// State is a position in the issue lifecycle.
type State string

const (
	StateBacklog    State = "backlog"
	StateReady      State = "ready"
	StateInProgress State = "in_progress"
	StateGated      State = "gated"
	StateDone       State = "done"
	StateArchived   State = "archived"
)

// States lists every lifecycle state in lifecycle order.
var States = []State{StateBacklog, StateReady, StateInProgress, StateGated, StateDone, StateArchived}

// String returns the string representation of the state.
func (s State) String() string {
	return string(s)
}

// IsValid checks whether the state is a known value.
func (s State) IsValid() bool {
	return slices.Contains(States, s)
}

// GateStatus is the current standing of one gate attached to an issue.
type GateStatus struct {
	Status    RunStatus `json:"status"`
	UpdatedBy string    `json:"updated_by"`
	UpdatedAt time.Time `json:"updated_at"`
	LastRunID string    `json:"last_run_id,omitempty"`
}

// Issue is the unit of work tracked through the lifecycle.
type Issue struct {
	ID            string                `json:"id"`
	Title         string                `json:"title"`
	Description   string                `json:"description,omitempty"`
	State         State                 `json:"state"`
	Priority      int                   `json:"priority"`
	Dependencies  []string              `json:"dependencies,omitempty"`
	GatesRequired []string              `json:"gates_required"`
	GatesStatus   map[string]GateStatus `json:"gates_status"`
	CreatedAt     time.Time             `json:"created_at"`
	CreatedBy     string                `json:"created_by,omitempty"`
	UpdatedAt     time.Time             `json:"updated_at"`
}

// HasGate reports whether key is in the issue's required gate list.
func (i *Issue) HasGate(key string) bool {
	return slices.Contains(i.GatesRequired, key)
}

// GateStatusOf returns the recorded status for key, or the empty RunStatus
// when the gate has never been evaluated.
func (i *Issue) GateStatusOf(key string) RunStatus {
	if gs, ok := i.GatesStatus[key]; ok {
		return gs.Status
	}
	return ""
}

// Clone returns a deep copy of the issue.
func (i *Issue) Clone() *Issue {
	c := *i
	c.Dependencies = slices.Clone(i.Dependencies)
	c.GatesRequired = slices.Clone(i.GatesRequired)
	if i.GatesStatus != nil {
		c.GatesStatus = make(map[string]GateStatus, len(i.GatesStatus))
		for k, v := range i.GatesStatus {
			c.GatesStatus[k] = v
		}
	}
	return &c
}
