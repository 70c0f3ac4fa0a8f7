package checker

import (
	"context"
	"os/exec"
	"strings"
	"time"
)

const gitTimeout = 2 * time.Second

// gitContext returns HEAD's commit and branch for dir. Both are empty when
// dir is not a git work tree or git is unavailable.
func gitContext(ctx context.Context, dir string) (commit, branch string) {
	ctx, cancel := context.WithTimeout(ctx, gitTimeout)
	defer cancel()
	commit = gitOutput(ctx, dir, "rev-parse", "HEAD")
	if commit == "" {
		return "", ""
	}
	branch = gitOutput(ctx, dir, "rev-parse", "--abbrev-ref", "HEAD")
	if branch == "HEAD" {
		branch = "" // detached
	}
	return commit, branch
}

func gitOutput(ctx context.Context, dir string, args ...string) string {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}

// Uncommitted reports whether dir is a git work tree with uncommitted
// changes.
func Uncommitted(ctx context.Context, dir string) bool {
	ctx, cancel := context.WithTimeout(ctx, gitTimeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, "git", "status", "--porcelain")
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		return false
	}
	return strings.TrimSpace(string(out)) != ""
}
