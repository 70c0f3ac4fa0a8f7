package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// envVars lists every env var Load reads; they are cleared between tests.
var envVars = []string{
	"KG_DIR", "KG_ACTOR", "KG_RUNNER_ID", "KG_NATS_URL",
	"KG_LOCK_TIMEOUT", "KG_CHECKER_DEFAULT_TIMEOUT", "KG_CHECKER_MAX_TIMEOUT",
	"KG_EXPORT_S3_BUCKET", "KG_EXPORT_S3_ENDPOINT", "KG_EXPORT_S3_REGION",
	"KG_EXPORT_S3_KEY", "KG_EXPORT_GIT_REPO", "KG_EXPORT_GIT_FILE", "KG_EXPORT_GIT_BRANCH",
}

func clearAllEnv(t *testing.T) {
	t.Helper()
	for _, key := range envVars {
		t.Setenv(key, "")
	}
}

func TestLoad(t *testing.T) {
	for _, tc := range []struct {
		name            string
		file            string
		env             map[string]string
		wantErr         bool
		wantActor       string
		wantLockTimeout time.Duration
		wantDefault     time.Duration
		wantNATSURL     string
	}{
		{
			name:            "Defaults",
			wantLockTimeout: 5 * time.Second,
			wantDefault:     30 * time.Second,
		},
		{
			name: "FileOverridesDefaults",
			file: `
actor = "agent:one"
lock_timeout = "2s"
checker_default_timeout = "10s"
nats_url = "nats://files:4222"
`,
			wantActor:       "agent:one",
			wantLockTimeout: 2 * time.Second,
			wantDefault:     10 * time.Second,
			wantNATSURL:     "nats://files:4222",
		},
		{
			name: "EnvOverridesFile",
			file: `actor = "agent:one"`,
			env: map[string]string{
				"KG_ACTOR":        "agent:two",
				"KG_LOCK_TIMEOUT": "7",
				"KG_NATS_URL":     "nats://env:4222",
			},
			wantActor:       "agent:two",
			wantLockTimeout: 7 * time.Second,
			wantDefault:     30 * time.Second,
			wantNATSURL:     "nats://env:4222",
		},
		{
			name:    "BadDuration",
			env:     map[string]string{"KG_LOCK_TIMEOUT": "soon"},
			wantErr: true,
		},
		{
			name:    "MaxBelowDefault",
			env:     map[string]string{"KG_CHECKER_MAX_TIMEOUT": "1s"},
			wantErr: true,
		},
		{
			name:    "MalformedFile",
			file:    `actor = `,
			wantErr: true,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			clearAllEnv(t)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			dir := t.TempDir()
			if tc.file != "" {
				if err := os.WriteFile(filepath.Join(dir, FileName), []byte(tc.file), 0o644); err != nil {
					t.Fatal(err)
				}
			}

			cfg, err := Load(dir)
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if cfg.Dir != dir {
				t.Errorf("Dir = %q, want %q", cfg.Dir, dir)
			}
			if cfg.Actor != tc.wantActor {
				t.Errorf("Actor = %q, want %q", cfg.Actor, tc.wantActor)
			}
			if cfg.LockTimeout != tc.wantLockTimeout {
				t.Errorf("LockTimeout = %v, want %v", cfg.LockTimeout, tc.wantLockTimeout)
			}
			if cfg.CheckerDefaultTimeout != tc.wantDefault {
				t.Errorf("CheckerDefaultTimeout = %v, want %v", cfg.CheckerDefaultTimeout, tc.wantDefault)
			}
			if cfg.NATSURL != tc.wantNATSURL {
				t.Errorf("NATSURL = %q, want %q", cfg.NATSURL, tc.wantNATSURL)
			}
		})
	}
}

func TestLoad_DirFromEnv(t *testing.T) {
	clearAllEnv(t)
	dir := t.TempDir()
	t.Setenv("KG_DIR", dir)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Dir != dir {
		t.Errorf("Dir = %q, want %q", cfg.Dir, dir)
	}
}

func TestLoad_ExportDefaults(t *testing.T) {
	clearAllEnv(t)
	t.Setenv("KG_EXPORT_S3_BUCKET", "my-bucket")

	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ExportS3Bucket != "my-bucket" {
		t.Errorf("ExportS3Bucket = %q, want %q", cfg.ExportS3Bucket, "my-bucket")
	}
	if cfg.ExportS3Region != "us-east-1" {
		t.Errorf("ExportS3Region = %q, want %q", cfg.ExportS3Region, "us-east-1")
	}
	if cfg.ExportS3Key != "kgate/export.jsonl" {
		t.Errorf("ExportS3Key = %q, want %q", cfg.ExportS3Key, "kgate/export.jsonl")
	}
	if cfg.ExportGitBranch != "main" {
		t.Errorf("ExportGitBranch = %q, want %q", cfg.ExportGitBranch, "main")
	}
}

func TestWriteFile_RoundTrip(t *testing.T) {
	clearAllEnv(t)
	dir := t.TempDir()
	if err := WriteFile(dir, File{Actor: "human:alice", LockTimeout: "3s", Export: ExportFile{GitBranch: "trunk"}}); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Actor != "human:alice" {
		t.Errorf("Actor = %q", cfg.Actor)
	}
	if cfg.LockTimeout != 3*time.Second {
		t.Errorf("LockTimeout = %v", cfg.LockTimeout)
	}
	if cfg.ExportGitBranch != "trunk" {
		t.Errorf("ExportGitBranch = %q", cfg.ExportGitBranch)
	}
}
