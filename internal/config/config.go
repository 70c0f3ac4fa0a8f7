// Package config resolves kgate settings from defaults, the repository's
// config.toml, and KG_* environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

// DefaultDir is the data directory used when neither a flag nor KG_DIR names one.
const DefaultDir = ".kg"

// FileName is the config file looked up inside the data directory.
const FileName = "config.toml"

type Config struct {
	Dir      string // KG_DIR (default ".kg")
	Actor    string // KG_ACTOR (empty = caller decides)
	RunnerID string // KG_RUNNER_ID (default hostname)
	NATSURL  string // KG_NATS_URL (optional, empty = no event fan-out)

	LockTimeout           time.Duration // KG_LOCK_TIMEOUT (default 5s)
	CheckerDefaultTimeout time.Duration // KG_CHECKER_DEFAULT_TIMEOUT (default 30s)
	CheckerMaxTimeout     time.Duration // KG_CHECKER_MAX_TIMEOUT (default 300s)

	// Export settings
	ExportS3Bucket   string // KG_EXPORT_S3_BUCKET (enables S3 when set)
	ExportS3Endpoint string // KG_EXPORT_S3_ENDPOINT (custom endpoint for MinIO)
	ExportS3Region   string // KG_EXPORT_S3_REGION (default "us-east-1")
	ExportS3Key      string // KG_EXPORT_S3_KEY (default "kgate/export.jsonl")
	ExportGitRepo    string // KG_EXPORT_GIT_REPO (enables git when set; path to clone)
	ExportGitFile    string // KG_EXPORT_GIT_FILE (default "kgate.jsonl")
	ExportGitBranch  string // KG_EXPORT_GIT_BRANCH (default "main")
}

// File is the on-disk shape of config.toml. Durations are Go duration strings.
type File struct {
	Actor                 string     `toml:"actor,omitempty"`
	RunnerID              string     `toml:"runner_id,omitempty"`
	NATSURL               string     `toml:"nats_url,omitempty"`
	LockTimeout           string     `toml:"lock_timeout,omitempty"`
	CheckerDefaultTimeout string     `toml:"checker_default_timeout,omitempty"`
	CheckerMaxTimeout     string     `toml:"checker_max_timeout,omitempty"`
	Export                ExportFile `toml:"export,omitempty"`
}

// ExportFile is the [export] table of config.toml.
type ExportFile struct {
	S3Bucket   string `toml:"s3_bucket,omitempty"`
	S3Endpoint string `toml:"s3_endpoint,omitempty"`
	S3Region   string `toml:"s3_region,omitempty"`
	S3Key      string `toml:"s3_key,omitempty"`
	GitRepo    string `toml:"git_repo,omitempty"`
	GitFile    string `toml:"git_file,omitempty"`
	GitBranch  string `toml:"git_branch,omitempty"`
}

// Defaults returns the built-in configuration for dir.
func Defaults(dir string) *Config {
	host, _ := os.Hostname()
	return &Config{
		Dir:                   dir,
		RunnerID:              host,
		LockTimeout:           5 * time.Second,
		CheckerDefaultTimeout: 30 * time.Second,
		CheckerMaxTimeout:     300 * time.Second,
		ExportS3Region:        "us-east-1",
		ExportS3Key:           "kgate/export.jsonl",
		ExportGitFile:         "kgate.jsonl",
		ExportGitBranch:       "main",
	}
}

// Load resolves the configuration. dir overrides KG_DIR when non-empty.
func Load(dir string) (*Config, error) {
	if dir == "" {
		dir = envOrDefault("KG_DIR", DefaultDir)
	}
	c := Defaults(dir)

	var f File
	if _, err := toml.DecodeFile(filepath.Join(dir, FileName), &f); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("reading %s: %w", FileName, err)
		}
	}
	if err := c.apply(f); err != nil {
		return nil, fmt.Errorf("%s: %w", FileName, err)
	}
	if err := c.applyEnv(); err != nil {
		return nil, err
	}

	if c.CheckerDefaultTimeout <= 0 {
		return nil, fmt.Errorf("checker default timeout must be positive, got %s", c.CheckerDefaultTimeout)
	}
	if c.CheckerMaxTimeout < c.CheckerDefaultTimeout {
		return nil, fmt.Errorf("checker max timeout %s is below default %s", c.CheckerMaxTimeout, c.CheckerDefaultTimeout)
	}
	return c, nil
}

func (c *Config) apply(f File) error {
	setString(&c.Actor, f.Actor)
	setString(&c.RunnerID, f.RunnerID)
	setString(&c.NATSURL, f.NATSURL)
	setString(&c.ExportS3Bucket, f.Export.S3Bucket)
	setString(&c.ExportS3Endpoint, f.Export.S3Endpoint)
	setString(&c.ExportS3Region, f.Export.S3Region)
	setString(&c.ExportS3Key, f.Export.S3Key)
	setString(&c.ExportGitRepo, f.Export.GitRepo)
	setString(&c.ExportGitFile, f.Export.GitFile)
	setString(&c.ExportGitBranch, f.Export.GitBranch)

	for _, d := range []struct {
		name string
		val  string
		dst  *time.Duration
	}{
		{"lock_timeout", f.LockTimeout, &c.LockTimeout},
		{"checker_default_timeout", f.CheckerDefaultTimeout, &c.CheckerDefaultTimeout},
		{"checker_max_timeout", f.CheckerMaxTimeout, &c.CheckerMaxTimeout},
	} {
		if err := setDuration(d.dst, d.val); err != nil {
			return fmt.Errorf("%s: %w", d.name, err)
		}
	}
	return nil
}

func (c *Config) applyEnv() error {
	c.Actor = envOrDefault("KG_ACTOR", c.Actor)
	c.RunnerID = envOrDefault("KG_RUNNER_ID", c.RunnerID)
	c.NATSURL = envOrDefault("KG_NATS_URL", c.NATSURL)
	c.ExportS3Bucket = envOrDefault("KG_EXPORT_S3_BUCKET", c.ExportS3Bucket)
	c.ExportS3Endpoint = envOrDefault("KG_EXPORT_S3_ENDPOINT", c.ExportS3Endpoint)
	c.ExportS3Region = envOrDefault("KG_EXPORT_S3_REGION", c.ExportS3Region)
	c.ExportS3Key = envOrDefault("KG_EXPORT_S3_KEY", c.ExportS3Key)
	c.ExportGitRepo = envOrDefault("KG_EXPORT_GIT_REPO", c.ExportGitRepo)
	c.ExportGitFile = envOrDefault("KG_EXPORT_GIT_FILE", c.ExportGitFile)
	c.ExportGitBranch = envOrDefault("KG_EXPORT_GIT_BRANCH", c.ExportGitBranch)

	for _, d := range []struct {
		key string
		dst *time.Duration
	}{
		{"KG_LOCK_TIMEOUT", &c.LockTimeout},
		{"KG_CHECKER_DEFAULT_TIMEOUT", &c.CheckerDefaultTimeout},
		{"KG_CHECKER_MAX_TIMEOUT", &c.CheckerMaxTimeout},
	} {
		if err := setDuration(d.dst, os.Getenv(d.key)); err != nil {
			return fmt.Errorf("%s: %w", d.key, err)
		}
	}
	return nil
}

// WriteFile writes f to dir/config.toml, replacing any existing file.
func WriteFile(dir string, f File) error {
	out, err := os.OpenFile(filepath.Join(dir, FileName), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer out.Close()
	return toml.NewEncoder(out).Encode(f)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// setDuration parses v into dst. Bare integers are read as seconds.
func setDuration(dst *time.Duration, v string) error {
	if v == "" {
		return nil
	}
	if secs, err := strconv.Atoi(v); err == nil {
		*dst = time.Duration(secs) * time.Second
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return err
	}
	*dst = d
	return nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
