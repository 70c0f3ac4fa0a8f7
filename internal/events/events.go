package events

import (
	"context"
	"time"

	"github.com/alfredjeanlab/kgate/internal/model"
)

// SubjectAll matches every topic below.
const SubjectAll = "kgate.>"

// Event topic constants. The audit log stores the topic as the event type.
const (
	TopicIssueCreated      = "kgate.issue.created"
	TopicIssueState        = "kgate.issue.state_changed"
	TopicDependencyAdded   = "kgate.issue.dependency_added"
	TopicDependencyRemoved = "kgate.issue.dependency_removed"

	// Gate attachment and evaluation
	TopicGatesAttached = "kgate.gate.attached"
	TopicGatesDetached = "kgate.gate.detached"
	TopicGateRun       = "kgate.gate.run"
	TopicGateVoted     = "kgate.gate.voted"

	// Registry mutations
	TopicGateDefined = "kgate.registry.defined"
	TopicGateRemoved = "kgate.registry.removed"

	// Claims
	TopicClaimAcquired = "kgate.claim.acquired"
	TopicClaimReleased = "kgate.claim.released"
	TopicClaimExpired  = "kgate.claim.expired"
)

// Event payload types

type IssueCreated struct {
	Issue *model.Issue `json:"issue"`
}

type StateChanged struct {
	From   model.State `json:"from"`
	To     model.State `json:"to"`
	Reason string      `json:"reason,omitempty"`
}

type DependencyChanged struct {
	DependsOn string `json:"depends_on"`
}

type GatesChanged struct {
	Keys []string `json:"keys"`
}

// GateRun is emitted once per checker execution.
type GateRun struct {
	RunID      string          `json:"run_id"`
	GateKey    string          `json:"gate_key"`
	Stage      model.Stage     `json:"stage"`
	Status     model.RunStatus `json:"status"`
	ExitCode   *int            `json:"exit_code,omitempty"`
	DurationMs int64           `json:"duration_ms"`
	Message    string          `json:"message,omitempty"`
}

// GateVoted is emitted for every manual pass or fail, including repeats
// that leave the gate status unchanged.
type GateVoted struct {
	GateKey string          `json:"gate_key"`
	Status  model.RunStatus `json:"status"`
	RunID   string          `json:"run_id,omitempty"`
	Changed bool            `json:"changed"`
	Message string          `json:"message,omitempty"`
}

type GateDefined struct {
	Gate *model.GateDefinition `json:"gate"`
}

type GateRemoved struct {
	GateKey string `json:"gate_key"`
}

type ClaimChanged struct {
	Holder    string     `json:"holder"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Publisher is the interface for emitting events.
type Publisher interface {
	Publish(ctx context.Context, topic string, event any) error
	Close() error
}
