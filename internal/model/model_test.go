package model

import (
	"encoding/json"
	"testing"
	"time"
)

func TestState_IsValid(t *testing.T) {
	for _, tc := range []struct {
		state State
		want  bool
	}{
		{StateBacklog, true},
		{StateReady, true},
		{StateInProgress, true},
		{StateGated, true},
		{StateDone, true},
		{StateArchived, true},
		{State("blocked"), false},
		{State(""), false},
	} {
		if got := tc.state.IsValid(); got != tc.want {
			t.Errorf("State(%q).IsValid() = %v, want %v", tc.state, got, tc.want)
		}
	}
}

func TestRunStatus_IsValid(t *testing.T) {
	for _, tc := range []struct {
		status RunStatus
		want   bool
	}{
		{RunPassed, true},
		{RunFailed, true},
		{RunError, true},
		{RunSkipped, true},
		{RunPending, true},
		{RunStatus("timeout"), false},
		{RunStatus(""), false},
	} {
		if got := tc.status.IsValid(); got != tc.want {
			t.Errorf("RunStatus(%q).IsValid() = %v, want %v", tc.status, got, tc.want)
		}
	}
}

func TestStageAndMode_IsValid(t *testing.T) {
	if !StagePrecheck.IsValid() || !StagePostcheck.IsValid() || Stage("midcheck").IsValid() {
		t.Error("unexpected Stage.IsValid result")
	}
	if !ModeManual.IsValid() || !ModeAuto.IsValid() || Mode("remote").IsValid() {
		t.Error("unexpected Mode.IsValid result")
	}
}

func TestChecker_ExecRoundTrip(t *testing.T) {
	c := NewExecChecker("make test", 60)
	c.Exec.WorkingDir = "sub"
	c.Exec.Env = map[string]string{"CI": "1"}

	data, err := json.Marshal(c)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	want := `{"kind":"exec","command":"make test","timeout_seconds":60,"working_dir":"sub","env":{"CI":"1"}}`
	if string(data) != want {
		t.Fatalf("Marshal = %s, want %s", data, want)
	}

	var got Checker
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if !got.Known() || got.Exec.Command != "make test" || got.Exec.TimeoutSeconds != 60 {
		t.Errorf("Unmarshal = %+v", got.Exec)
	}
}

func TestChecker_MissingKindIsExec(t *testing.T) {
	var c Checker
	if err := json.Unmarshal([]byte(`{"command":"true"}`), &c); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if c.Kind != CheckerExec || !c.Known() {
		t.Errorf("Kind = %q, Known = %v", c.Kind, c.Known())
	}
}

func TestChecker_UnknownKindPreserved(t *testing.T) {
	raw := `{"kind":"http-health","url":"https://example.test/health","expect":200}`

	var c Checker
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if c.Known() {
		t.Error("unknown kind reported as known")
	}
	if c.Kind != "http-health" {
		t.Errorf("Kind = %q", c.Kind)
	}

	data, err := json.Marshal(c)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(data) != raw {
		t.Errorf("Marshal = %s, want %s", data, raw)
	}
}

func TestIssue_CloneIsDeep(t *testing.T) {
	orig := &Issue{
		ID:            "kg-1",
		GatesRequired: []string{"a"},
		GatesStatus:   map[string]GateStatus{"a": {Status: RunPassed}},
	}
	c := orig.Clone()
	c.GatesRequired[0] = "b"
	c.GatesStatus["a"] = GateStatus{Status: RunFailed}

	if orig.GatesRequired[0] != "a" {
		t.Error("Clone shares GatesRequired")
	}
	if orig.GateStatusOf("a") != RunPassed {
		t.Error("Clone shares GatesStatus")
	}
}

func TestClaim_Live(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	for _, tc := range []struct {
		name    string
		claim   Claim
		live    bool
		expired bool
	}{
		{"indefinite", Claim{}, true, false},
		{"unexpired", Claim{ExpiresAt: &future}, true, false},
		{"expired", Claim{ExpiresAt: &past}, false, true},
		{"released", Claim{ReleasedAt: &past}, false, false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.claim.Live(now); got != tc.live {
				t.Errorf("Live = %v, want %v", got, tc.live)
			}
			if got := tc.claim.Expired(now); got != tc.expired {
				t.Errorf("Expired = %v, want %v", got, tc.expired)
			}
		})
	}
}

func TestGateRunResult_ExitCode(t *testing.T) {
	r := &GateRunResult{}
	if _, ok := r.ExitCode(); ok {
		t.Error("ExitCode reported for run without evidence")
	}
	code := 3
	r.Evidence = &RunEvidence{ExitCode: &code}
	if got, ok := r.ExitCode(); !ok || got != 3 {
		t.Errorf("ExitCode = %d, %v", got, ok)
	}
}
