package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/alfredjeanlab/kgate/internal/events"
	"github.com/alfredjeanlab/kgate/internal/idgen"
	"github.com/alfredjeanlab/kgate/internal/model"
	"github.com/alfredjeanlab/kgate/internal/registry"
	"github.com/alfredjeanlab/kgate/internal/store"
)

// NewIssue holds the caller-supplied fields of an issue.
type NewIssue struct {
	// ID is generated when empty.
	ID           string
	Title        string
	Description  string
	Priority     int
	Dependencies []string
	Gates        []string
}

// Create stores a new issue in backlog, or in ready when every prerequisite
// is already done. Every gate key must be defined.
func (m *Machine) Create(ctx context.Context, in NewIssue, actor string) (*model.Issue, error) {
	gates := dedupe(in.Gates)
	for _, key := range gates {
		if !m.reg.Has(key) {
			return nil, fmt.Errorf("gate %q: %w", key, registry.ErrNotFound)
		}
	}
	deps := dedupe(in.Dependencies)
	for _, dep := range deps {
		if _, err := m.store.GetIssue(ctx, dep); err != nil {
			return nil, fmt.Errorf("dependency %s: %w", dep, err)
		}
	}
	blockers, err := m.graph.IncompleteAmong(ctx, deps)
	if err != nil {
		return nil, err
	}

	id := in.ID
	if id == "" {
		if id, err = idgen.Unique(idgen.DefaultPrefix, func(id string) (bool, error) {
			_, err := m.store.GetIssue(ctx, id)
			if errors.Is(err, store.ErrNotFound) {
				return false, nil
			}
			return err == nil, err
		}); err != nil {
			return nil, err
		}
	}
	now := m.now()
	issue := &model.Issue{
		ID:            id,
		Title:         strings.TrimSpace(in.Title),
		Description:   in.Description,
		State:         model.StateReady,
		Priority:      in.Priority,
		Dependencies:  deps,
		GatesRequired: gates,
		GatesStatus:   map[string]model.GateStatus{},
		CreatedAt:     now,
		CreatedBy:     actor,
		UpdatedAt:     now,
	}
	if len(blockers) > 0 {
		issue.State = model.StateBacklog
	}
	if err := m.store.CreateIssue(ctx, issue); err != nil {
		return nil, err
	}
	m.record(ctx, events.TopicIssueCreated, id, actor, events.IssueCreated{Issue: issue})
	return issue, nil
}

// Start moves a ready issue to in_progress. Every auto precheck checker is
// run first; the move happens only if every precheck gate is then passed.
// Otherwise the issue stays ready and a *GuardFailedError names the gates
// in the way.
func (m *Machine) Start(ctx context.Context, id, actor string) (*model.Issue, error) {
	issue, err := m.store.GetIssue(ctx, id)
	if err != nil {
		return nil, err
	}
	switch issue.State {
	case model.StateInProgress:
		return issue, nil
	case model.StateReady:
	default:
		return nil, &InvalidTransitionError{IssueID: id, From: issue.State, To: model.StateInProgress}
	}

	checks := m.runStage(ctx, issue, model.StagePrecheck, actor)

	started, _, err := m.move(ctx, id, []model.State{model.StateReady}, model.StateInProgress, actor, "prechecks passed",
		func(locked *model.Issue) error {
			if failures := m.stageFailures(locked, model.StagePrecheck); len(failures) > 0 {
				return &GuardFailedError{IssueID: id, Stage: model.StagePrecheck, Failures: failures}
			}
			return nil
		})
	var gf *GuardFailedError
	if errors.As(err, &gf) {
		m.enrich(ctx, gf.Failures, checks)
		return nil, gf
	}
	return started, err
}

// CompleteResult is the outcome of Complete.
type CompleteResult struct {
	Issue *model.Issue
	// Checks lists the postcheck runs triggered by completion.
	Checks []GateOutcome
	// Blocking lists the postcheck gates keeping the issue gated. It is
	// empty once the issue is done.
	Blocking []GateFailure
}

// Complete moves an in_progress issue to gated unconditionally, runs every
// auto postcheck checker synchronously, and then takes gated→done if every
// postcheck gate passed.
func (m *Machine) Complete(ctx context.Context, id, actor string) (*CompleteResult, error) {
	issue, moved, err := m.move(ctx, id, []model.State{model.StateInProgress}, model.StateGated, actor, "work declared complete", nil)
	if err != nil {
		return nil, err
	}
	if !moved {
		return &CompleteResult{Issue: issue}, nil
	}
	checks := m.runStage(ctx, issue, model.StagePostcheck, actor)
	final, blocking, err := m.evaluateDone(ctx, id, actor, checks)
	if err != nil {
		return nil, err
	}
	return &CompleteResult{Issue: final, Checks: checks, Blocking: blocking}, nil
}

// EvaluateDone takes gated→done when every postcheck gate is passed. It
// returns the gates still blocking; for an issue that is not gated it does
// nothing.
func (m *Machine) EvaluateDone(ctx context.Context, id, actor string) (*model.Issue, []GateFailure, error) {
	return m.evaluateDone(ctx, id, actor, nil)
}

func (m *Machine) evaluateDone(ctx context.Context, id, actor string, checks []GateOutcome) (*model.Issue, []GateFailure, error) {
	var (
		prev     model.State
		failures []GateFailure
	)
	issue, err := m.store.UpdateIssue(ctx, id, func(i *model.Issue) (bool, error) {
		prev = i.State
		if i.State != model.StateGated {
			return false, nil
		}
		if failures = m.stageFailures(i, model.StagePostcheck); len(failures) > 0 {
			return false, nil
		}
		i.State = model.StateDone
		i.UpdatedAt = m.now()
		return true, nil
	})
	if err != nil {
		return nil, nil, err
	}
	if prev == model.StateGated && issue.State == model.StateDone {
		m.record(ctx, events.TopicIssueState, id, actor, events.StateChanged{
			From: prev, To: model.StateDone, Reason: "all postcheck gates passed",
		})
		if _, err := m.PromoteAll(ctx, actor); err != nil {
			m.logger.Warn("promoting dependents failed", "issue", id, "err", err)
		}
	}
	m.enrich(ctx, failures, checks)
	return issue, failures, nil
}

// Reopen moves a gated or done issue back to in_progress.
func (m *Machine) Reopen(ctx context.Context, id, actor string) (*model.Issue, error) {
	issue, _, err := m.move(ctx, id, []model.State{model.StateGated, model.StateDone}, model.StateInProgress, actor, "reopened", nil)
	return issue, err
}

// Abort moves an in_progress issue back to ready.
func (m *Machine) Abort(ctx context.Context, id, actor string) (*model.Issue, error) {
	issue, _, err := m.move(ctx, id, []model.State{model.StateInProgress}, model.StateReady, actor, "work abandoned", nil)
	return issue, err
}

// Archive retires any issue that is not done.
func (m *Machine) Archive(ctx context.Context, id, actor string) (*model.Issue, error) {
	from := []model.State{model.StateBacklog, model.StateReady, model.StateInProgress, model.StateGated}
	issue, _, err := m.move(ctx, id, from, model.StateArchived, actor, "archived", nil)
	return issue, err
}

// Promote moves a backlog issue to ready once its prerequisites are done.
// It fails with a *BlockedError while any are not.
func (m *Machine) Promote(ctx context.Context, id, actor string) (*model.Issue, error) {
	issue, err := m.store.GetIssue(ctx, id)
	if err != nil {
		return nil, err
	}
	if issue.State != model.StateBacklog {
		if issue.State == model.StateReady {
			return issue, nil
		}
		return nil, &InvalidTransitionError{IssueID: id, From: issue.State, To: model.StateReady}
	}
	blockers, err := m.graph.IncompleteAmong(ctx, issue.Dependencies)
	if err != nil {
		return nil, err
	}
	if len(blockers) > 0 {
		return nil, &BlockedError{IssueID: id, Blockers: blockers}
	}
	promoted, _, err := m.move(ctx, id, []model.State{model.StateBacklog}, model.StateReady, actor, "dependencies complete", nil)
	return promoted, err
}

// PromoteAll promotes every backlog issue whose prerequisites are done and
// returns the promoted ids. Failures on one issue do not stop the rest.
func (m *Machine) PromoteAll(ctx context.Context, actor string) ([]string, error) {
	all, err := m.store.ListIssues(ctx)
	if err != nil {
		return nil, err
	}
	var (
		promoted []string
		errs     []error
	)
	for _, issue := range all {
		if issue.State != model.StateBacklog {
			continue
		}
		blockers, err := m.graph.IncompleteAmong(ctx, issue.Dependencies)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", issue.ID, err))
			continue
		}
		if len(blockers) > 0 {
			continue
		}
		_, moved, err := m.move(ctx, issue.ID, []model.State{model.StateBacklog}, model.StateReady, actor, "dependencies complete", nil)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", issue.ID, err))
			continue
		}
		if moved {
			promoted = append(promoted, issue.ID)
		}
	}
	return promoted, errors.Join(errs...)
}

// Blocked returns the prerequisites of id that are not done yet.
// Done and archived issues are never blocked.
func (m *Machine) Blocked(ctx context.Context, id string) ([]string, error) {
	issue, err := m.store.GetIssue(ctx, id)
	if err != nil {
		return nil, err
	}
	if issue.State == model.StateDone || issue.State == model.StateArchived {
		return nil, nil
	}
	return m.graph.IncompleteAmong(ctx, issue.Dependencies)
}

func dedupe(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s != "" && !slices.Contains(out, s) {
			out = append(out, s)
		}
	}
	return out
}
