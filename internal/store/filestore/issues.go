package filestore

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"

	"github.com/alfredjeanlab/kgate/internal/model"
	"github.com/alfredjeanlab/kgate/internal/store"
)

// CreateIssue writes a new issue record and adds it to the index.
func (s *FileStore) CreateIssue(ctx context.Context, issue *model.Issue) error {
	if err := model.ValidateIssue(issue); err != nil {
		return err
	}
	return s.withLock(ctx, "index", func() error {
		idx, err := s.readIndex()
		if err != nil {
			return err
		}
		if slices.Contains(idx.AllIDs, issue.ID) {
			return fmt.Errorf("issue %s: %w", issue.ID, store.ErrExists)
		}
		if err := writeJSONAtomic(s.issuePath(issue.ID), issue); err != nil {
			return err
		}
		idx.AllIDs = append(idx.AllIDs, issue.ID)
		return writeJSONAtomic(s.path(indexFile), idx)
	})
}

// GetIssue reads one issue record.
func (s *FileStore) GetIssue(ctx context.Context, id string) (*model.Issue, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !model.ValidKey(id) {
		return nil, fmt.Errorf("issue %q: %w", id, store.ErrNotFound)
	}
	return s.readIssue(id)
}

func (s *FileStore) readIssue(id string) (*model.Issue, error) {
	path := s.issuePath(id)
	var issue model.Issue
	if err := readJSON(path, &issue); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("issue %s: %w", id, store.ErrNotFound)
		}
		return nil, err
	}
	if err := model.ValidateIssue(&issue); err != nil {
		return nil, &store.CorruptRecordError{Path: path, Err: err}
	}
	if issue.GatesStatus == nil {
		issue.GatesStatus = map[string]model.GateStatus{}
	}
	return &issue, nil
}

// ListIssues returns every indexed issue ordered by creation time.
func (s *FileStore) ListIssues(ctx context.Context) ([]*model.Issue, error) {
	idx, err := s.readIndex()
	if err != nil {
		return nil, err
	}
	issues := make([]*model.Issue, 0, len(idx.AllIDs))
	for _, id := range idx.AllIDs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		issue, err := s.readIssue(id)
		if err != nil {
			return nil, err
		}
		issues = append(issues, issue)
	}
	sort.SliceStable(issues, func(i, j int) bool {
		return issues[i].CreatedAt.Before(issues[j].CreatedAt)
	})
	return issues, nil
}

// UpdateIssue applies fn to the issue under its lock.
func (s *FileStore) UpdateIssue(ctx context.Context, id string, fn store.IssueUpdateFunc) (*model.Issue, error) {
	if !model.ValidKey(id) {
		return nil, fmt.Errorf("issue %q: %w", id, store.ErrNotFound)
	}
	var out *model.Issue
	err := s.withLock(ctx, "issue-"+id, func() error {
		issue, err := s.readIssue(id)
		if err != nil {
			return err
		}
		changed, err := fn(issue)
		if err != nil {
			return err
		}
		if changed {
			if err := model.ValidateIssue(issue); err != nil {
				return err
			}
			if err := writeJSONAtomic(s.issuePath(id), issue); err != nil {
				return err
			}
		}
		out = issue
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
