package checker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alfredjeanlab/kgate/internal/guard"
	"github.com/alfredjeanlab/kgate/internal/model"
	"github.com/alfredjeanlab/kgate/internal/store/memstore"
)

func newTestExecutor(t *testing.T) (*Executor, *memstore.MemStore, *guard.Guard) {
	t.Helper()
	ms := memstore.New(t.TempDir())
	g, err := guard.New(filepath.Join(t.TempDir(), "locks"))
	if err != nil {
		t.Fatal(err)
	}
	e := New(ms, g, Options{
		RepoRoot:       t.TempDir(),
		RunnerID:       "test-runner",
		DefaultTimeout: 5 * time.Second,
		MaxTimeout:     10 * time.Second,
		Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return e, ms, g
}

func autoGate(key, command string, timeoutSec int) *model.GateDefinition {
	return &model.GateDefinition{
		Version: model.GateVersion,
		Key:     key,
		Stage:   model.StagePostcheck,
		Mode:    model.ModeAuto,
		Checker: model.NewExecChecker(command, timeoutSec),
	}
}

var subj = Subject{IssueID: "kg-abc", Title: "Fix login", State: model.StateGated}

func TestRun_Classification(t *testing.T) {
	tests := []struct {
		name     string
		command  string
		status   model.RunStatus
		exitCode int
		hasExit  bool
		cause    error
	}{
		{name: "exit zero", command: "true", status: model.RunPassed, exitCode: 0, hasExit: true},
		{name: "exit one", command: "exit 1", status: model.RunFailed, exitCode: 1, hasExit: true},
		{name: "exit seven", command: "exit 7", status: model.RunFailed, exitCode: 7, hasExit: true},
		{name: "command not found", command: "kg-definitely-not-a-command", status: model.RunError, exitCode: 127, hasExit: true, cause: ErrSpawnFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, ms, _ := newTestExecutor(t)
			out, err := e.Run(context.Background(), autoGate("tests", tt.command, 0), subj)
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			run := out.Result
			if run.Status != tt.status {
				t.Errorf("status = %s, want %s (message %q)", run.Status, tt.status, run.Message)
			}
			code, ok := run.ExitCode()
			if ok != tt.hasExit || code != tt.exitCode {
				t.Errorf("exit code = %d,%v want %d,%v", code, ok, tt.exitCode, tt.hasExit)
			}
			if !errors.Is(out.Cause, tt.cause) {
				t.Errorf("cause = %v, want %v", out.Cause, tt.cause)
			}
			if run.By != By || run.Executor.Mode != model.ModeAuto || run.Executor.RunnerID != "test-runner" {
				t.Errorf("provenance = %q %+v", run.By, run.Executor)
			}
			if run.CompletedAt.Before(run.StartedAt) {
				t.Error("completed_at before started_at")
			}

			stored, err := ms.GetRun(context.Background(), run.RunID)
			if err != nil {
				t.Fatalf("run not persisted: %v", err)
			}
			if stored.Status != run.Status {
				t.Errorf("stored status = %s", stored.Status)
			}
		})
	}
}

func TestRun_CapturesOutputAndEnv(t *testing.T) {
	e, _, _ := newTestExecutor(t)
	def := autoGate("lint", `echo "$KG_ISSUE_ID $KG_GATE_KEY $KG_ISSUE_STATE"; echo "title=$KG_ISSUE_TITLE extra=$EXTRA"; echo oops >&2; exit 3`, 0)
	def.Checker.Exec.Env = map[string]string{"EXTRA": "yes"}

	out, err := e.Run(context.Background(), def, subj)
	if err != nil {
		t.Fatal(err)
	}
	ev := out.Result.Evidence
	if ev == nil || !filepath.IsAbs(ev.StdoutPath) || !filepath.IsAbs(ev.StderrPath) {
		t.Fatalf("evidence = %+v", ev)
	}
	if ev.Command != def.Checker.Exec.Command {
		t.Errorf("evidence command = %q", ev.Command)
	}
	stdout, err := os.ReadFile(ev.StdoutPath)
	if err != nil {
		t.Fatal(err)
	}
	want := "kg-abc lint gated\ntitle=Fix login extra=yes\n"
	if string(stdout) != want {
		t.Errorf("stdout = %q, want %q", stdout, want)
	}
	if out.Excerpt != "oops" {
		t.Errorf("excerpt = %q, want stderr line", out.Excerpt)
	}
}

func TestRun_Timeout(t *testing.T) {
	e, _, _ := newTestExecutor(t)
	start := time.Now()
	out, err := e.Run(context.Background(), autoGate("slow", "sleep 30", 1), subj)
	if err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed > 8*time.Second {
		t.Errorf("timeout took %s", elapsed)
	}
	run := out.Result
	if run.Status != model.RunError {
		t.Errorf("status = %s, want error", run.Status)
	}
	if _, ok := run.ExitCode(); ok {
		t.Error("timed-out run recorded an exit code")
	}
	if !errors.Is(out.Cause, ErrTimeout) {
		t.Errorf("cause = %v, want ErrTimeout", out.Cause)
	}
	if !strings.Contains(run.Message, "timed out after 1s") {
		t.Errorf("message = %q", run.Message)
	}
}

func TestRun_TimeoutKillsProcessGroup(t *testing.T) {
	e, _, _ := newTestExecutor(t)
	marker := filepath.Join(t.TempDir(), "child-survived")
	cmd := "(sleep 2; touch " + marker + ") & wait"
	out, err := e.Run(context.Background(), autoGate("spawner", cmd, 1), subj)
	if err != nil {
		t.Fatal(err)
	}
	if !errors.Is(out.Cause, ErrTimeout) {
		t.Fatalf("cause = %v", out.Cause)
	}
	time.Sleep(2500 * time.Millisecond)
	if _, err := os.Stat(marker); err == nil {
		t.Error("background child outlived the timeout")
	}
}

func TestRun_MissingWorkingDir(t *testing.T) {
	e, _, _ := newTestExecutor(t)
	def := autoGate("tests", "true", 0)
	def.Checker.Exec.WorkingDir = "does/not/exist"
	out, err := e.Run(context.Background(), def, subj)
	if err != nil {
		t.Fatal(err)
	}
	if out.Result.Status != model.RunError || !errors.Is(out.Cause, ErrSpawnFailure) {
		t.Errorf("status = %s cause = %v", out.Result.Status, out.Cause)
	}
}

func TestRun_RelativeWorkingDir(t *testing.T) {
	e, _, _ := newTestExecutor(t)
	sub := filepath.Join(e.opts.RepoRoot, "pkg")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	def := autoGate("pwd", "pwd", 0)
	def.Checker.Exec.WorkingDir = "pkg"
	out, err := e.Run(context.Background(), def, subj)
	if err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(out.Result.Evidence.StdoutPath)
	got, _ := filepath.EvalSymlinks(strings.TrimSpace(string(data)))
	want, _ := filepath.EvalSymlinks(sub)
	if got != want {
		t.Errorf("pwd = %q, want %q", got, want)
	}
}

func TestRun_Busy(t *testing.T) {
	e, ms, g := newTestExecutor(t)
	lease, err := g.TryAcquire(subj.IssueID, "tests")
	if err != nil {
		t.Fatal(err)
	}
	defer lease.Release()

	if _, err := e.Run(context.Background(), autoGate("tests", "true", 0), subj); !errors.Is(err, guard.ErrBusy) {
		t.Fatalf("Run error = %v, want ErrBusy", err)
	}
	runs, _ := ms.ListRuns(context.Background(), "")
	if len(runs) != 0 {
		t.Errorf("busy run created %d records", len(runs))
	}
}

func TestRun_NotAuto(t *testing.T) {
	e, _, _ := newTestExecutor(t)
	def := &model.GateDefinition{Key: "review", Stage: model.StagePrecheck, Mode: model.ModeManual}
	if _, err := e.Run(context.Background(), def, subj); !errors.Is(err, ErrNotAuto) {
		t.Fatalf("error = %v, want ErrNotAuto", err)
	}
}

func TestRun_UnsupportedKind(t *testing.T) {
	e, _, _ := newTestExecutor(t)
	var c model.Checker
	if err := c.UnmarshalJSON([]byte(`{"kind":"http-health","url":"http://x"}`)); err != nil {
		t.Fatal(err)
	}
	def := &model.GateDefinition{Key: "health", Stage: model.StagePostcheck, Mode: model.ModeAuto, Checker: &c}
	out, err := e.Run(context.Background(), def, subj)
	if err != nil {
		t.Fatal(err)
	}
	if out.Result.Status != model.RunError || !errors.Is(out.Cause, ErrUnsupportedKind) {
		t.Errorf("status = %s cause = %v", out.Result.Status, out.Cause)
	}
	if out.Result.Evidence != nil {
		t.Error("unsupported kind recorded evidence")
	}
}

func TestRun_DistinctRunIDs(t *testing.T) {
	e, _, _ := newTestExecutor(t)
	def := autoGate("tests", "true", 0)
	a, err := e.Run(context.Background(), def, subj)
	if err != nil {
		t.Fatal(err)
	}
	b, err := e.Run(context.Background(), def, subj)
	if err != nil {
		t.Fatal(err)
	}
	if a.Result.RunID == b.Result.RunID {
		t.Error("repeat execution reused run id")
	}
}

func TestTimeout_Clamp(t *testing.T) {
	e, _, _ := newTestExecutor(t)
	tests := []struct {
		sec  int
		want time.Duration
	}{
		{0, 5 * time.Second},
		{3, 3 * time.Second},
		{60, 10 * time.Second},
	}
	for _, tt := range tests {
		if got := e.Timeout(&model.ExecChecker{TimeoutSeconds: tt.sec}); got != tt.want {
			t.Errorf("Timeout(%d) = %s, want %s", tt.sec, got, tt.want)
		}
	}
}

func TestExcerpt(t *testing.T) {
	dir := t.TempDir()
	stdout := filepath.Join(dir, "out")
	stderr := filepath.Join(dir, "err")
	os.WriteFile(stdout, []byte("a\n\nb\nc\nd\ne\nf\ng\n"), 0o644)
	os.WriteFile(stderr, []byte("\n  \n"), 0o644)

	if got := Excerpt(stdout, stderr, 3); got != "a\nb\nc" {
		t.Errorf("Excerpt fallback = %q", got)
	}
	os.WriteFile(stderr, []byte("boom\n"), 0o644)
	if got := Excerpt(stdout, stderr, 3); got != "boom" {
		t.Errorf("Excerpt stderr = %q", got)
	}
	if got := Excerpt("", filepath.Join(dir, "missing"), 3); got != "" {
		t.Errorf("Excerpt missing = %q", got)
	}
}
