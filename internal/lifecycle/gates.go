package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/alfredjeanlab/kgate/internal/checker"
	"github.com/alfredjeanlab/kgate/internal/events"
	"github.com/alfredjeanlab/kgate/internal/idgen"
	"github.com/alfredjeanlab/kgate/internal/model"
	"github.com/alfredjeanlab/kgate/internal/registry"
)

// GateOutcome is the result of running one gate's checker.
type GateOutcome struct {
	Key     string
	Run     *model.GateRunResult
	Cause   error
	Excerpt string
	// Err is set when no run was recorded, e.g. guard.ErrBusy.
	Err error
}

func findOutcome(checks []GateOutcome, key string) *GateOutcome {
	for i := range checks {
		if checks[i].Key == key {
			return &checks[i]
		}
	}
	return nil
}

// runnable reports whether def has a checker the executor can run.
func runnable(def *model.GateDefinition) bool {
	return def.Mode == model.ModeAuto && def.Checker != nil
}

// runStage runs every auto checker of stage attached to issue, in
// attachment order.
func (m *Machine) runStage(ctx context.Context, issue *model.Issue, stage model.Stage, actor string) []GateOutcome {
	var out []GateOutcome
	for _, key := range issue.GatesRequired {
		def, err := m.reg.Lookup(key)
		if err != nil || def.Stage != stage || !runnable(def) {
			continue
		}
		out = append(out, m.checkOne(ctx, issue, def, actor))
	}
	return out
}

// checkOne runs def's checker and folds the run into the issue's gate
// status.
func (m *Machine) checkOne(ctx context.Context, issue *model.Issue, def *model.GateDefinition, actor string) GateOutcome {
	out := GateOutcome{Key: def.Key}
	res, err := m.exec.Run(ctx, def, checker.Subject{IssueID: issue.ID, Title: issue.Title, State: issue.State})
	if err != nil {
		m.logger.Debug("checker not run", "issue", issue.ID, "gate", def.Key, "err", err)
		out.Err = err
		return out
	}
	out.Run, out.Cause, out.Excerpt = res.Result, res.Cause, res.Excerpt
	if err := m.applyRun(ctx, issue.ID, res.Result, actor); err != nil {
		out.Err = err
	}
	return out
}

// applyRun points the gate's status at run. A gate detached while its
// checker ran is left alone; the run record stays for audit.
func (m *Machine) applyRun(ctx context.Context, id string, run *model.GateRunResult, actor string) error {
	_, err := m.store.UpdateIssue(ctx, id, func(i *model.Issue) (bool, error) {
		if !i.HasGate(run.GateKey) {
			return false, nil
		}
		if i.GatesStatus == nil {
			i.GatesStatus = map[string]model.GateStatus{}
		}
		i.GatesStatus[run.GateKey] = model.GateStatus{
			Status:    run.Status,
			UpdatedBy: run.By,
			UpdatedAt: run.CompletedAt,
			LastRunID: run.RunID,
		}
		i.UpdatedAt = m.now()
		return true, nil
	})
	if err != nil {
		return err
	}
	payload := events.GateRun{
		RunID: run.RunID, GateKey: run.GateKey, Stage: run.Stage, Status: run.Status,
		DurationMs: run.DurationMs, Message: run.Message,
	}
	if code, ok := run.ExitCode(); ok {
		payload.ExitCode = &code
	}
	m.record(ctx, events.TopicGateRun, id, actor, payload)
	return nil
}

// stageFailures returns the gates of stage on issue that are not passed. A
// required key missing from the registry blocks every stage.
func (m *Machine) stageFailures(issue *model.Issue, stage model.Stage) []GateFailure {
	var failures []GateFailure
	for _, key := range issue.GatesRequired {
		st := issue.GatesStatus[key]
		def, err := m.reg.Lookup(key)
		if err != nil {
			failures = append(failures, GateFailure{Key: key, Status: st.Status, RunID: st.LastRunID, Reason: "gate is not defined"})
			continue
		}
		if def.Stage != stage || st.Status == model.RunPassed {
			continue
		}
		failures = append(failures, GateFailure{Key: key, Status: st.Status, Mode: def.Mode, RunID: st.LastRunID})
	}
	return failures
}

// enrich fills in run details for each failure from its last run, and
// from checks when a checker could not run this time.
func (m *Machine) enrich(ctx context.Context, failures []GateFailure, checks []GateOutcome) {
	for i := range failures {
		f := &failures[i]
		if c := findOutcome(checks, f.Key); c != nil && c.Err != nil && f.Reason == "" {
			f.Reason = c.Err.Error()
		}
		if f.RunID == "" {
			continue
		}
		run, err := m.store.GetRun(ctx, f.RunID)
		if err != nil {
			m.logger.Warn("reading gate run failed", "run", f.RunID, "err", err)
			continue
		}
		if code, ok := run.ExitCode(); ok {
			f.ExitCode = &code
		}
		f.Duration = run.Duration()
		f.Excerpt = checker.ExcerptOf(run)
		if f.Reason == "" {
			f.Reason = run.Message
		}
	}
}

// AttachGates adds keys to the issue's required gates and returns the keys
// that were not already attached. Every key must be defined; nothing is
// attached otherwise.
func (m *Machine) AttachGates(ctx context.Context, id string, keys []string, actor string) ([]string, error) {
	keys = dedupe(keys)
	for _, key := range keys {
		if !m.reg.Has(key) {
			return nil, fmt.Errorf("gate %q: %w", key, registry.ErrNotFound)
		}
	}
	var added []string
	if _, err := m.store.UpdateIssue(ctx, id, func(i *model.Issue) (bool, error) {
		added = nil
		for _, key := range keys {
			if !i.HasGate(key) {
				added = append(added, key)
			}
		}
		if len(added) == 0 {
			return false, nil
		}
		i.GatesRequired = append(i.GatesRequired, added...)
		i.UpdatedAt = m.now()
		return true, nil
	}); err != nil {
		return nil, err
	}
	if len(added) > 0 {
		m.record(ctx, events.TopicGatesAttached, id, actor, events.GatesChanged{Keys: added})
	}
	return added, nil
}

// DetachGates removes keys and their status entries from the issue and
// returns the keys that were attached. A gated issue is re-evaluated since
// the removed gates may have been the only ones blocking it.
func (m *Machine) DetachGates(ctx context.Context, id string, keys []string, actor string) ([]string, error) {
	keys = dedupe(keys)
	var removed []string
	issue, err := m.store.UpdateIssue(ctx, id, func(i *model.Issue) (bool, error) {
		removed = nil
		for _, key := range keys {
			if i.HasGate(key) {
				removed = append(removed, key)
			}
		}
		if len(removed) == 0 {
			return false, nil
		}
		i.GatesRequired = slices.DeleteFunc(i.GatesRequired, func(k string) bool {
			return slices.Contains(removed, k)
		})
		for _, key := range removed {
			delete(i.GatesStatus, key)
		}
		i.UpdatedAt = m.now()
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	if len(removed) == 0 {
		return nil, nil
	}
	m.record(ctx, events.TopicGatesDetached, id, actor, events.GatesChanged{Keys: removed})
	if issue.State == model.StateGated {
		if _, _, err := m.EvaluateDone(ctx, id, actor); err != nil {
			return removed, err
		}
	}
	return removed, nil
}

// PassGate records a manual pass of key on the issue by actor.
func (m *Machine) PassGate(ctx context.Context, id, key, actor, message string) (*model.Issue, error) {
	return m.vote(ctx, id, key, model.RunPassed, actor, message)
}

// FailGate records a manual failure of key on the issue by actor.
func (m *Machine) FailGate(ctx context.Context, id, key, actor, message string) (*model.Issue, error) {
	return m.vote(ctx, id, key, model.RunFailed, actor, message)
}

// vote applies a manual attestation. A new run record is written only when
// the status entry changes; repeating the same vote as the same actor
// leaves the entry as it is. Every vote is recorded in the audit log.
func (m *Machine) vote(ctx context.Context, id, key string, status model.RunStatus, actor, message string) (*model.Issue, error) {
	if strings.TrimSpace(actor) == "" {
		return nil, errors.New("manual gate votes require an actor")
	}
	def, err := m.reg.Lookup(key)
	if err != nil {
		return nil, err
	}
	current, err := m.store.GetIssue(ctx, id)
	if err != nil {
		return nil, err
	}
	if !current.HasGate(key) {
		return nil, fmt.Errorf("%s on %s: %w", key, id, ErrGateNotAttached)
	}
	issue := current
	runID, changed := "", false
	if cur, ok := current.GatesStatus[key]; ok && sameVote(cur, status, actor) {
		runID = cur.LastRunID
	} else {
		// The run is stored before the issue is touched, as for checker
		// runs. A vote that loses a race below leaves its run on record.
		run, err := m.manualRun(current, def, status, actor, message)
		if err != nil {
			return nil, err
		}
		if err := m.store.SaveRun(ctx, run); err != nil {
			return nil, fmt.Errorf("saving run %s: %w", run.RunID, err)
		}
		issue, err = m.store.UpdateIssue(ctx, id, func(i *model.Issue) (bool, error) {
			if !i.HasGate(key) {
				return false, fmt.Errorf("%s on %s: %w", key, id, ErrGateNotAttached)
			}
			if cur, ok := i.GatesStatus[key]; ok && sameVote(cur, status, actor) {
				runID = cur.LastRunID
				return false, nil
			}
			if i.GatesStatus == nil {
				i.GatesStatus = map[string]model.GateStatus{}
			}
			i.GatesStatus[key] = model.GateStatus{
				Status:    status,
				UpdatedBy: actor,
				UpdatedAt: run.CompletedAt,
				LastRunID: run.RunID,
			}
			i.UpdatedAt = m.now()
			runID, changed = run.RunID, true
			return true, nil
		})
		if err != nil {
			return nil, err
		}
	}
	m.record(ctx, events.TopicGateVoted, id, actor, events.GateVoted{
		GateKey: key, Status: status, RunID: runID, Changed: changed, Message: message,
	})
	if issue.State == model.StateGated {
		final, _, err := m.EvaluateDone(ctx, id, actor)
		if err != nil {
			return nil, err
		}
		return final, nil
	}
	return issue, nil
}

func sameVote(cur model.GateStatus, status model.RunStatus, actor string) bool {
	return cur.Status == status && cur.UpdatedBy == actor
}

func (m *Machine) manualRun(issue *model.Issue, def *model.GateDefinition, status model.RunStatus, actor, message string) (*model.GateRunResult, error) {
	runID, err := idgen.NewRunID()
	if err != nil {
		return nil, err
	}
	now := m.now()
	return &model.GateRunResult{
		SchemaVersion: model.RunSchemaVersion,
		RunID:         runID,
		GateKey:       def.Key,
		Stage:         def.Stage,
		Subject:       model.RunSubject{Type: model.SubjectIssue, Repo: m.repoRoot, IssueID: issue.ID},
		Status:        status,
		StartedAt:     now,
		CompletedAt:   now,
		Executor:      model.RunExecutor{Mode: model.ModeManual, RunnerID: m.runnerID},
		By:            actor,
		Message:       message,
	}, nil
}

// CheckGate runs one attached auto gate's checker and re-evaluates a gated
// issue. guard.ErrBusy is returned when the checker is already running for
// this issue and gate.
func (m *Machine) CheckGate(ctx context.Context, id, key, actor string) (*GateOutcome, error) {
	issue, err := m.store.GetIssue(ctx, id)
	if err != nil {
		return nil, err
	}
	if !issue.HasGate(key) {
		return nil, fmt.Errorf("%s on %s: %w", key, id, ErrGateNotAttached)
	}
	def, err := m.reg.Lookup(key)
	if err != nil {
		return nil, err
	}
	if !runnable(def) {
		return nil, fmt.Errorf("%s: %w", key, checker.ErrNotAuto)
	}
	out := m.checkOne(ctx, issue, def, actor)
	if out.Err != nil {
		return &out, out.Err
	}
	if _, _, err := m.EvaluateDone(ctx, id, actor); err != nil {
		return &out, err
	}
	return &out, nil
}

// CheckAll runs every attached, defined auto gate of the issue in
// attachment order, then re-evaluates a gated issue. Per-gate problems are
// reported in the outcomes, not as the returned error.
func (m *Machine) CheckAll(ctx context.Context, id, actor string) ([]GateOutcome, error) {
	issue, err := m.store.GetIssue(ctx, id)
	if err != nil {
		return nil, err
	}
	var out []GateOutcome
	for _, key := range issue.GatesRequired {
		def, err := m.reg.Lookup(key)
		if err != nil || !runnable(def) {
			continue
		}
		out = append(out, m.checkOne(ctx, issue, def, actor))
	}
	if _, _, err := m.EvaluateDone(ctx, id, actor); err != nil {
		return out, err
	}
	return out, nil
}

// RemoveGate deletes a gate definition that no issue requires.
func (m *Machine) RemoveGate(ctx context.Context, key, actor string) error {
	all, err := m.store.ListIssues(ctx)
	if err != nil {
		return err
	}
	var users []string
	for _, issue := range all {
		if issue.HasGate(key) {
			users = append(users, issue.ID)
		}
	}
	if len(users) > 0 {
		return fmt.Errorf("%s required by %s: %w", key, strings.Join(users, ", "), ErrGateInUse)
	}
	return m.reg.Remove(ctx, key, actor)
}
