package sync

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
)

// GitDestination commits each export to a file in a local clone and pushes
// the branch. An export identical to the committed file produces no commit.
type GitDestination struct {
	repo   string
	file   string
	branch string
}

// NewGitDestination creates a git destination. repo must be an existing
// clone with an origin remote; file is relative to the repo root.
func NewGitDestination(repo, file, branch string) *GitDestination {
	if file == "" {
		file = "kgate.jsonl"
	}
	if branch == "" {
		branch = "main"
	}
	return &GitDestination{repo: repo, file: file, branch: branch}
}

func (d *GitDestination) String() string { return "git:" + d.repo + "/" + d.file }

// Write replaces the tracked file with data, then commits and pushes it.
func (d *GitDestination) Write(ctx context.Context, data []byte) error {
	if _, err := d.git(ctx, "checkout", d.branch); err != nil {
		return err
	}
	// The remote branch may not exist yet.
	_, _ = d.git(ctx, "pull", "--ff-only", "origin", d.branch)

	if err := NewFileDestination(filepath.Join(d.repo, d.file)).Write(ctx, data); err != nil {
		return err
	}
	if _, err := d.git(ctx, "add", "--", d.file); err != nil {
		return err
	}
	if _, err := d.git(ctx, "diff", "--cached", "--quiet", "--", d.file); err == nil {
		return nil
	}
	if _, err := d.git(ctx, "commit", "-m", commitMessage(data), "--", d.file); err != nil {
		return err
	}
	if _, err := d.git(ctx, "push", "origin", d.branch); err != nil {
		return err
	}
	return nil
}

func commitMessage(data []byte) string {
	if h, ok := readHeader(data); ok {
		return "kgate: export " + h.summary()
	}
	return "kgate: export"
}

// git runs a git subcommand in the clone. Output is captured and folded
// into the error so a failed push reports why.
func (d *GitDestination) git(ctx context.Context, args ...string) (string, error) {
	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = d.repo
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(out.String())
		var exitErr *exec.ExitError
		if msg == "" || !errors.As(err, &exitErr) {
			return "", fmt.Errorf("git %s: %w", args[0], err)
		}
		return "", fmt.Errorf("git %s: %w: %s", args[0], err, msg)
	}
	return out.String(), nil
}
