package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/alfredjeanlab/kgate/internal/model"
	"github.com/alfredjeanlab/kgate/internal/store/filestore"
)

// resetFlags returns every flag to its default. cobra keeps parsed values
// on the package-level commands between Execute calls.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

// runKG executes one CLI invocation in process.
func runKG(t *testing.T, args ...string) error {
	t.Helper()
	resetFlags(rootCmd)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	if kg != nil {
		kg.Close()
		kg = nil
	}
	return err
}

func mustKG(t *testing.T, args ...string) {
	t.Helper()
	if err := runKG(t, args...); err != nil {
		t.Fatalf("kg %s: %v", strings.Join(args, " "), err)
	}
}

func loadIssue(t *testing.T, dir, id string) *model.Issue {
	t.Helper()
	s, err := filestore.Open(dir, filestore.Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	issue, err := s.GetIssue(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	return issue
}

func TestCLI_GatedLifecycle(t *testing.T) {
	t.Setenv("NO_COLOR", "1")
	dir := filepath.Join(t.TempDir(), ".kg")
	global := []string{"--dir", dir, "--actor", "human:tester"}
	kgCmd := func(args ...string) []string { return append(args, global...) }

	mustKG(t, kgCmd("init")...)
	mustKG(t, kgCmd("gate", "define", "tests", "--stage", "postcheck", "--mode", "auto", "--command", "exit 0")...)
	mustKG(t, kgCmd("gate", "define", "review", "--stage", "postcheck", "--mode", "manual", "--command", "")...)
	mustKG(t, kgCmd("create", "Ship the parser", "--id", "kg-cli1", "--gate", "tests", "--gate", "review")...)

	mustKG(t, kgCmd("start", "kg-cli1")...)
	if got := loadIssue(t, dir, "kg-cli1").State; got != model.StateInProgress {
		t.Fatalf("after start: %s", got)
	}

	mustKG(t, kgCmd("complete", "kg-cli1")...)
	issue := loadIssue(t, dir, "kg-cli1")
	if issue.State != model.StateGated {
		t.Fatalf("after complete: %s", issue.State)
	}
	if issue.GateStatusOf("tests") != model.RunPassed {
		t.Errorf("tests gate = %q, want passed", issue.GateStatusOf("tests"))
	}

	mustKG(t, kgCmd("gate", "pass", "kg-cli1", "review", "-m", "looks good")...)
	if got := loadIssue(t, dir, "kg-cli1").State; got != model.StateDone {
		t.Fatalf("after pass: %s", got)
	}

	// done has no requestable outgoing edge to archived.
	if err := runKG(t, kgCmd("archive", "kg-cli1")...); err == nil {
		t.Error("archiving a done issue succeeded")
	}
}

func TestCLI_PrecheckBlocksStart(t *testing.T) {
	t.Setenv("NO_COLOR", "1")
	dir := filepath.Join(t.TempDir(), ".kg")
	global := []string{"--dir", dir, "--actor", "human:tester"}
	kgCmd := func(args ...string) []string { return append(args, global...) }

	mustKG(t, kgCmd("init")...)
	mustKG(t, kgCmd("gate", "define", "lint", "--stage", "precheck", "--mode", "auto", "--command", "echo broken >&2; exit 3")...)
	mustKG(t, kgCmd("create", "Refactor", "--id", "kg-cli2", "--gate", "lint")...)

	err := runKG(t, kgCmd("start", "kg-cli2")...)
	if err == nil || !strings.Contains(err.Error(), "precheck") {
		t.Fatalf("start error = %v, want precheck failure", err)
	}
	issue := loadIssue(t, dir, "kg-cli2")
	if issue.State != model.StateReady {
		t.Errorf("state = %s, want ready", issue.State)
	}
	if issue.GateStatusOf("lint") != model.RunFailed {
		t.Errorf("lint gate = %q, want failed", issue.GateStatusOf("lint"))
	}
}

func TestCLI_BulkTransitionReportsFailures(t *testing.T) {
	t.Setenv("NO_COLOR", "1")
	dir := filepath.Join(t.TempDir(), ".kg")
	global := []string{"--dir", dir, "--actor", "human:tester"}
	kgCmd := func(args ...string) []string { return append(args, global...) }

	mustKG(t, kgCmd("init")...)
	mustKG(t, kgCmd("create", "One", "--id", "kg-b1")...)
	mustKG(t, kgCmd("create", "Two", "--id", "kg-b2")...)

	err := runKG(t, kgCmd("transition", "in_progress", "kg-b1", "kg-missing", "kg-b2")...)
	if err == nil || !strings.Contains(err.Error(), "1 of 3") {
		t.Fatalf("bulk error = %v", err)
	}
	for _, id := range []string{"kg-b1", "kg-b2"} {
		if got := loadIssue(t, dir, id).State; got != model.StateInProgress {
			t.Errorf("%s state = %s", id, got)
		}
	}
}

func TestCLI_BulkReopenKeepsItsEdge(t *testing.T) {
	t.Setenv("NO_COLOR", "1")
	dir := filepath.Join(t.TempDir(), ".kg")
	global := []string{"--dir", dir, "--actor", "human:tester"}
	kgCmd := func(args ...string) []string { return append(args, global...) }

	mustKG(t, kgCmd("init")...)
	mustKG(t, kgCmd("create", "One", "--id", "kg-r1")...)
	mustKG(t, kgCmd("create", "Two", "--id", "kg-r2")...)

	// reopen leaves gated or done only, even though ready -> in_progress is an edge.
	err := runKG(t, kgCmd("reopen", "kg-r1", "kg-r2")...)
	if err == nil || !strings.Contains(err.Error(), "2 of 2") {
		t.Fatalf("bulk reopen error = %v", err)
	}
	for _, id := range []string{"kg-r1", "kg-r2"} {
		if got := loadIssue(t, dir, id).State; got != model.StateReady {
			t.Errorf("%s state = %s, want ready", id, got)
		}
	}
}

func TestCLI_BulkStartClaimsEach(t *testing.T) {
	t.Setenv("NO_COLOR", "1")
	dir := filepath.Join(t.TempDir(), ".kg")
	global := []string{"--dir", dir, "--actor", "agent:bot"}
	kgCmd := func(args ...string) []string { return append(args, global...) }

	mustKG(t, kgCmd("init")...)
	mustKG(t, kgCmd("create", "One", "--id", "kg-s1")...)
	mustKG(t, kgCmd("create", "Two", "--id", "kg-s2")...)
	mustKG(t, kgCmd("start", "--claim", "kg-s1", "kg-s2")...)

	s, err := filestore.Open(dir, filestore.Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	claims, err := s.LoadClaims(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	for _, id := range []string{"kg-s1", "kg-s2"} {
		c, ok := claims[id]
		if !ok || c.Holder != "agent:bot" {
			t.Errorf("claim on %s = %+v", id, c)
		}
		if got := loadIssue(t, dir, id).State; got != model.StateInProgress {
			t.Errorf("%s state = %s", id, got)
		}
	}
}

func TestCLI_PresetApply(t *testing.T) {
	t.Setenv("NO_COLOR", "1")
	dir := filepath.Join(t.TempDir(), ".kg")
	global := []string{"--dir", dir, "--actor", "human:tester"}
	kgCmd := func(args ...string) []string { return append(args, global...) }

	mustKG(t, kgCmd("init")...)
	mustKG(t, kgCmd("create", "One", "--id", "kg-p1")...)
	mustKG(t, kgCmd("gate", "preset", "apply", "minimal", "kg-p1")...)
	if issue := loadIssue(t, dir, "kg-p1"); !issue.HasGate("code-review") {
		t.Errorf("gates = %v, want code-review attached", issue.GatesRequired)
	}
	if err := runKG(t, kgCmd("gate", "preset", "apply", "no-such-preset")...); err == nil {
		t.Error("applying an unknown preset succeeded")
	}
}

func TestCLI_CleanRemovesOrphanedTemp(t *testing.T) {
	t.Setenv("NO_COLOR", "1")
	dir := filepath.Join(t.TempDir(), ".kg")
	global := []string{"--dir", dir, "--actor", "human:tester"}
	kgCmd := func(args ...string) []string { return append(args, global...) }

	mustKG(t, kgCmd("init")...)
	orphan := filepath.Join(dir, ".index.json.tmp-1")
	if err := os.WriteFile(orphan, []byte("{"), 0o644); err != nil {
		t.Fatal(err)
	}
	old := time.Now().Add(-3 * time.Hour)
	if err := os.Chtimes(orphan, old, old); err != nil {
		t.Fatal(err)
	}
	mustKG(t, kgCmd("clean")...)
	if _, err := os.Stat(orphan); !os.IsNotExist(err) {
		t.Errorf("orphan still present: %v", err)
	}
}

func TestCLI_RequiresInit(t *testing.T) {
	dir := filepath.Join(t.TempDir(), ".kg")
	if err := runKG(t, "list", "--dir", dir, "--actor", "x"); err == nil || !strings.Contains(err.Error(), "kg init") {
		t.Errorf("list before init error = %v", err)
	}
}

func TestColorizeHelpOutput(t *testing.T) {
	t.Setenv("NO_COLOR", "")
	in := "Workflow:\n  start       Run prechecks\n\nFlags:\n      --ttl duration   claim lifetime\n"
	out := colorizeHelpOutput(in)
	if !strings.Contains(out, "\x1b[38;5;74mWorkflow:\x1b[0m") {
		t.Errorf("group header not styled:\n%q", out)
	}
	if !strings.Contains(out, "\x1b[38;5;250mstart\x1b[0m") {
		t.Errorf("command not styled:\n%q", out)
	}
	if !strings.Contains(out, "\x1b[38;5;245mduration\x1b[0m") {
		t.Errorf("flag type not styled:\n%q", out)
	}
}

func TestParseEnv(t *testing.T) {
	env, err := parseEnv([]string{"A=1", "B=x=y"})
	if err != nil {
		t.Fatal(err)
	}
	if env["A"] != "1" || env["B"] != "x=y" {
		t.Errorf("env = %v", env)
	}
	if _, err := parseEnv([]string{"=v"}); err == nil {
		t.Error("expected error for empty key")
	}
}
