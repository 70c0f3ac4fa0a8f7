// Package lifecycle owns issue states and the gates that guard moves
// between them.
//
// Prechecks are evaluated lazily, only when a start is requested. Postchecks
// are evaluated eagerly, as soon as work is declared complete, and the
// gated→done edge is then taken automatically. Blocked is never stored; it
// is derived from the dependency graph at read time.
package lifecycle

import (
	"context"
	"log/slog"
	"os"
	"slices"
	"time"

	"github.com/alfredjeanlab/kgate/internal/checker"
	"github.com/alfredjeanlab/kgate/internal/events"
	"github.com/alfredjeanlab/kgate/internal/model"
	"github.com/alfredjeanlab/kgate/internal/store"
)

// Registry is the gate catalog as seen by the machine.
type Registry interface {
	Lookup(key string) (*model.GateDefinition, error)
	Has(key string) bool
	Remove(ctx context.Context, key, actor string) error
}

// Executor runs one auto gate's checker.
type Executor interface {
	Run(ctx context.Context, def *model.GateDefinition, subj checker.Subject) (*checker.Outcome, error)
}

// Graph reports dependency completeness.
type Graph interface {
	IncompleteAmong(ctx context.Context, deps []string) ([]string, error)
}

// Recorder appends audit events.
type Recorder interface {
	Record(ctx context.Context, topic, issueID, actor string, payload any) (*model.Event, error)
}

// Options wire a Machine to its collaborators.
type Options struct {
	Store    store.Store
	Registry Registry
	Executor Executor
	Graph    Graph
	Recorder Recorder
	Logger   *slog.Logger

	// RepoRoot and RunnerID are recorded on manual runs.
	RepoRoot string
	RunnerID string
}

// Machine applies lifecycle operations to stored issues.
type Machine struct {
	store    store.Store
	reg      Registry
	exec     Executor
	graph    Graph
	rec      Recorder
	logger   *slog.Logger
	repoRoot string
	runnerID string
	now      func() time.Time
}

// New returns a Machine.
func New(opts Options) *Machine {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	return &Machine{
		store:    opts.Store,
		reg:      opts.Registry,
		exec:     opts.Executor,
		graph:    opts.Graph,
		rec:      opts.Recorder,
		logger:   logger,
		repoRoot: opts.RepoRoot,
		runnerID: opts.RunnerID,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

type edge struct {
	from, to model.State
}

// edges is the transition table, except for the archive edges which are
// open to every state but done.
var edges = map[edge]bool{
	{model.StateBacklog, model.StateReady}:    true,
	{model.StateReady, model.StateInProgress}: true,
	{model.StateInProgress, model.StateGated}: true,
	{model.StateGated, model.StateDone}:       true,
	{model.StateGated, model.StateInProgress}: true,
	{model.StateInProgress, model.StateReady}: true,
	{model.StateDone, model.StateInProgress}:  true,
}

// Allowed reports whether from→to is an edge of the lifecycle.
func Allowed(from, to model.State) bool {
	if to == model.StateArchived {
		return from != model.StateDone && from != model.StateArchived && from.IsValid()
	}
	return edges[edge{from, to}]
}

// Transition requests a move of issue id to state to. Requesting the state
// the issue is already in is a no-op. gated→done is taken automatically and
// is not requestable.
func (m *Machine) Transition(ctx context.Context, id string, to model.State, actor string) (*model.Issue, error) {
	issue, err := m.store.GetIssue(ctx, id)
	if err != nil {
		return nil, err
	}
	from := issue.State
	if from == to {
		return issue, nil
	}
	switch {
	case from == model.StateBacklog && to == model.StateReady:
		return m.Promote(ctx, id, actor)
	case from == model.StateReady && to == model.StateInProgress:
		return m.Start(ctx, id, actor)
	case from == model.StateInProgress && to == model.StateGated:
		res, err := m.Complete(ctx, id, actor)
		if err != nil {
			return nil, err
		}
		return res.Issue, nil
	case (from == model.StateGated || from == model.StateDone) && to == model.StateInProgress:
		return m.Reopen(ctx, id, actor)
	case from == model.StateInProgress && to == model.StateReady:
		return m.Abort(ctx, id, actor)
	case to == model.StateArchived && Allowed(from, to):
		return m.Archive(ctx, id, actor)
	}
	return nil, &InvalidTransitionError{IssueID: id, From: from, To: to}
}

// move takes one edge under the issue lock. guard sees the locked record and
// may veto the move by returning an error. moved is false when the issue was
// already in state to.
func (m *Machine) move(ctx context.Context, id string, from []model.State, to model.State, actor, reason string, guard func(*model.Issue) error) (issue *model.Issue, moved bool, err error) {
	var prev model.State
	issue, err = m.store.UpdateIssue(ctx, id, func(i *model.Issue) (bool, error) {
		prev = i.State
		if i.State == to {
			return false, nil
		}
		if !slices.Contains(from, i.State) {
			return false, &InvalidTransitionError{IssueID: id, From: i.State, To: to}
		}
		if guard != nil {
			if err := guard(i); err != nil {
				return false, err
			}
		}
		i.State = to
		i.UpdatedAt = m.now()
		return true, nil
	})
	if err != nil {
		return nil, false, err
	}
	if prev == to {
		return issue, false, nil
	}
	m.record(ctx, events.TopicIssueState, id, actor, events.StateChanged{From: prev, To: to, Reason: reason})
	return issue, true, nil
}

// record appends an audit event for a change that is already durable. A
// failed append is logged; it does not undo the change.
func (m *Machine) record(ctx context.Context, topic, id, actor string, payload any) {
	if m.rec == nil {
		return
	}
	if _, err := m.rec.Record(ctx, topic, id, actor, payload); err != nil {
		m.logger.Error("recording event failed", "topic", topic, "issue", id, "err", err)
	}
}
