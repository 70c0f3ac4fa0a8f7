package filestore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/alfredjeanlab/kgate/internal/model"
	"github.com/alfredjeanlab/kgate/internal/store"
)

// SaveRun writes gate-runs/<run_id>/result.json exactly once.
func (s *FileStore) SaveRun(ctx context.Context, run *model.GateRunResult) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := model.ValidateRun(run); err != nil {
		return err
	}
	dir, err := s.RunLogDir(run.RunID)
	if err != nil {
		return err
	}
	data, err := encode(run)
	if err != nil {
		return fmt.Errorf("encoding run %s: %w", run.RunID, err)
	}
	return writeOnce(filepath.Join(dir, resultFile), data)
}

// GetRun reads one run result.
func (s *FileStore) GetRun(ctx context.Context, runID string) (*model.GateRunResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !model.ValidKey(runID) {
		return nil, fmt.Errorf("run %q: %w", runID, store.ErrNotFound)
	}
	return s.readRun(s.path(runsDir, runID, resultFile))
}

func (s *FileStore) readRun(path string) (*model.GateRunResult, error) {
	var run model.GateRunResult
	if err := readJSON(path, &run); err != nil {
		return nil, err
	}
	if err := model.ValidateRun(&run); err != nil {
		return nil, &store.CorruptRecordError{Path: path, Err: err}
	}
	return &run, nil
}

// ListRuns scans gate-runs/. Directories without a result yet are skipped.
func (s *FileStore) ListRuns(ctx context.Context, issueID string) ([]*model.GateRunResult, error) {
	entries, err := os.ReadDir(s.path(runsDir))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", runsDir, err)
	}
	var runs []*model.GateRunResult
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		run, err := s.readRun(s.path(runsDir, e.Name(), resultFile))
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if issueID == "" || run.Subject.IssueID == issueID {
			runs = append(runs, run)
		}
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].RunID < runs[j].RunID })
	return runs, nil
}

// RunLogDir creates gate-runs/<run_id>/.
func (s *FileStore) RunLogDir(runID string) (string, error) {
	if !model.ValidKey(runID) {
		return "", fmt.Errorf("invalid run id %q", runID)
	}
	dir := s.path(runsDir, runID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating run dir: %w", err)
	}
	return dir, nil
}
