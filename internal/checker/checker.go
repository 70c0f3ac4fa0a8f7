// Package checker runs the checker behind an auto gate and turns the
// outcome into an immutable GateRunResult.
//
// Classification is exit-code only: 0 is passed, any other code is failed.
// A checker that never finishes (timeout) or never starts (spawn failure)
// is recorded as error, never as failed.
package checker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/alfredjeanlab/kgate/internal/guard"
	"github.com/alfredjeanlab/kgate/internal/idgen"
	"github.com/alfredjeanlab/kgate/internal/model"
)

// Default and max timeout for checker commands.
const (
	DefaultTimeout = 30 * time.Second
	MaxTimeout     = 300 * time.Second
)

// By is recorded as the actor of every executor-produced run.
const By = "auto:executor"

// Environment variables exposed to a running checker.
const (
	EnvIssueID    = "KG_ISSUE_ID"
	EnvIssueTitle = "KG_ISSUE_TITLE"
	EnvIssueState = "KG_ISSUE_STATE"
	EnvGateKey    = "KG_GATE_KEY"
	EnvRunID      = "KG_RUN_ID"
)

var (
	// ErrTimeout marks a run killed at its deadline.
	ErrTimeout = errors.New("checker timed out")
	// ErrSpawnFailure marks a run whose command could not be started.
	ErrSpawnFailure = errors.New("checker could not be started")
	// ErrUnsupportedKind marks a run whose checker kind has no executor.
	ErrUnsupportedKind = errors.New("unsupported checker kind")
	// ErrNotAuto is returned for gates that have nothing to execute.
	ErrNotAuto = errors.New("gate is not an auto gate with a checker")
)

// Shell exit codes for "found but not executable" and "not found".
const (
	exitNotExecutable = 126
	exitNotFound      = 127
)

// Subject is the issue context handed to a checker.
type Subject struct {
	IssueID string
	Title   string
	State   model.State
}

// RunStore is the slice of store.Store the executor needs.
type RunStore interface {
	SaveRun(ctx context.Context, run *model.GateRunResult) error
	RunLogDir(runID string) (string, error)
}

// Options configure an Executor.
type Options struct {
	// RepoRoot is the base for relative working directories and the
	// recorded subject repository.
	RepoRoot       string
	RunnerID       string
	DefaultTimeout time.Duration
	MaxTimeout     time.Duration
	Logger         *slog.Logger
}

// Executor runs checkers one (issue, gate) pair at a time.
type Executor struct {
	store RunStore
	guard *guard.Guard
	opts  Options
	now   func() time.Time
}

// Outcome is the result of one execution.
type Outcome struct {
	Result *model.GateRunResult
	// Cause is ErrTimeout, ErrSpawnFailure or ErrUnsupportedKind when the
	// run status is error, and nil otherwise.
	Cause error
	// Excerpt holds the leading lines of captured output.
	Excerpt string
}

// New returns an Executor.
func New(s RunStore, g *guard.Guard, opts Options) *Executor {
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = DefaultTimeout
	}
	if opts.MaxTimeout <= 0 {
		opts.MaxTimeout = MaxTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	return &Executor{store: s, guard: g, opts: opts, now: time.Now}
}

// Timeout returns the effective deadline for c.
func (e *Executor) Timeout(c *model.ExecChecker) time.Duration {
	timeout := time.Duration(c.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = e.opts.DefaultTimeout
	}
	if timeout > e.opts.MaxTimeout {
		timeout = e.opts.MaxTimeout
	}
	return timeout
}

// Run executes def's checker against subj and persists the result. It
// returns guard.ErrBusy without creating a run when the pair is already
// executing.
func (e *Executor) Run(ctx context.Context, def *model.GateDefinition, subj Subject) (*Outcome, error) {
	if def.Mode != model.ModeAuto || def.Checker == nil {
		return nil, fmt.Errorf("%s: %w", def.Key, ErrNotAuto)
	}

	lease, err := e.guard.TryAcquire(subj.IssueID, def.Key)
	if err != nil {
		return nil, err
	}
	defer lease.Release()

	runID, err := idgen.NewRunID()
	if err != nil {
		return nil, err
	}
	run := &model.GateRunResult{
		SchemaVersion: model.RunSchemaVersion,
		RunID:         runID,
		GateKey:       def.Key,
		Stage:         def.Stage,
		Subject:       e.subject(ctx, subj),
		Executor:      model.RunExecutor{Mode: model.ModeAuto, RunnerID: e.opts.RunnerID},
		By:            By,
	}

	out := &Outcome{Result: run}
	if !def.Checker.Known() {
		start := e.now()
		run.StartedAt, run.CompletedAt = start.UTC(), start.UTC()
		run.Status = model.RunError
		run.Message = fmt.Sprintf("unsupported checker kind %q", def.Checker.Kind)
		out.Cause = ErrUnsupportedKind
	} else {
		logDir, err := e.store.RunLogDir(runID)
		if err != nil {
			return nil, err
		}
		out.Cause = e.execute(ctx, def.Checker.Exec, subj, def.Key, run, logDir)
		out.Excerpt = Excerpt(run.Evidence.StdoutPath, run.Evidence.StderrPath, ExcerptLines)
	}

	if err := e.store.SaveRun(ctx, run); err != nil {
		return nil, fmt.Errorf("saving run %s: %w", runID, err)
	}
	e.opts.Logger.Debug("checker finished",
		"issue", subj.IssueID, "gate", def.Key, "run", runID,
		"status", run.Status, "duration_ms", run.DurationMs)
	return out, nil
}

// execute runs the command and fills in run status, timing and evidence.
func (e *Executor) execute(ctx context.Context, c *model.ExecChecker, subj Subject, gateKey string, run *model.GateRunResult, logDir string) error {
	stdoutPath := filepath.Join(logDir, "stdout.log")
	stderrPath := filepath.Join(logDir, "stderr.log")
	run.Evidence = &model.RunEvidence{StdoutPath: stdoutPath, StderrPath: stderrPath, Command: c.Command}

	timeout := e.Timeout(c)
	start := e.now()
	finish := func(status model.RunStatus, msg string) {
		end := e.now()
		run.StartedAt = start.UTC()
		run.CompletedAt = end.UTC()
		run.DurationMs = end.Sub(start).Milliseconds()
		run.Status = status
		run.Message = msg
	}

	stdout, err := os.Create(stdoutPath)
	if err != nil {
		finish(model.RunError, fmt.Sprintf("creating stdout log: %v", err))
		return ErrSpawnFailure
	}
	defer stdout.Close()
	stderr, err := os.Create(stderrPath)
	if err != nil {
		finish(model.RunError, fmt.Sprintf("creating stderr log: %v", err))
		return ErrSpawnFailure
	}
	defer stderr.Close()

	dir := e.workingDir(c.WorkingDir)
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		finish(model.RunError, fmt.Sprintf("working directory %s is not accessible", dir))
		return ErrSpawnFailure
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "sh", "-c", c.Command) //nolint:gosec // checker commands come from the gate catalog
	cmd.Dir = dir
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.Env = e.environ(c, subj, gateKey, run.RunID)
	configureProcess(cmd)

	if err := cmd.Start(); err != nil {
		finish(model.RunError, fmt.Sprintf("failed to start checker: %v", err))
		return ErrSpawnFailure
	}
	waitErr := cmd.Wait()

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		finish(model.RunError, fmt.Sprintf("checker timed out after %s", timeout))
		return ErrTimeout
	}
	if ctx.Err() != nil {
		finish(model.RunError, fmt.Sprintf("checker interrupted: %v", ctx.Err()))
		return ctx.Err()
	}

	code := 0
	if waitErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) {
			finish(model.RunError, fmt.Sprintf("waiting for checker: %v", waitErr))
			return ErrSpawnFailure
		}
		code = exitErr.ExitCode()
	}
	if code < 0 {
		finish(model.RunError, "checker was killed by a signal")
		return ErrSpawnFailure
	}
	run.Evidence.ExitCode = &code

	switch code {
	case 0:
		finish(model.RunPassed, "")
		return nil
	case exitNotExecutable:
		finish(model.RunError, "command is not executable (exit 126)")
		return ErrSpawnFailure
	case exitNotFound:
		finish(model.RunError, "command not found (exit 127)")
		return ErrSpawnFailure
	default:
		finish(model.RunFailed, fmt.Sprintf("checker exited with code %d", code))
		return nil
	}
}

func (e *Executor) workingDir(wd string) string {
	switch {
	case wd == "":
		return e.opts.RepoRoot
	case filepath.IsAbs(wd):
		return wd
	default:
		return filepath.Join(e.opts.RepoRoot, wd)
	}
}

// environ inherits the caller's environment, then overlays the issue
// context and finally the checker's own overrides.
func (e *Executor) environ(c *model.ExecChecker, subj Subject, gateKey, runID string) []string {
	env := os.Environ()
	env = append(env,
		EnvIssueID+"="+subj.IssueID,
		EnvIssueTitle+"="+subj.Title,
		EnvIssueState+"="+string(subj.State),
		EnvGateKey+"="+gateKey,
		EnvRunID+"="+runID,
	)
	for k, v := range c.Env {
		env = append(env, k+"="+v)
	}
	return env
}

func (e *Executor) subject(ctx context.Context, subj Subject) model.RunSubject {
	commit, branch := gitContext(ctx, e.opts.RepoRoot)
	return model.RunSubject{
		Type:    model.SubjectIssue,
		Repo:    e.opts.RepoRoot,
		IssueID: subj.IssueID,
		Commit:  commit,
		Branch:  branch,
	}
}
