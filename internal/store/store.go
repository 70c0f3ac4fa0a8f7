// Package store defines the persistence interface for issues, the gate
// catalog, gate runs, claims and the audit log.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/alfredjeanlab/kgate/internal/model"
)

var (
	// ErrNotFound is returned when an issue or run does not exist.
	ErrNotFound = errors.New("not found")
	// ErrExists is returned when creating a record whose id is taken.
	ErrExists = errors.New("already exists")
	// ErrNotInitialized is returned when the data directory has no layout.
	ErrNotInitialized = errors.New("repository not initialized")
	// ErrLockTimeout is returned when a storage lock is not acquired in time.
	ErrLockTimeout = errors.New("timed out waiting for lock")
)

// CorruptRecordError reports a persisted record that cannot be decoded or
// fails structural validation. It is the only fatal storage error.
type CorruptRecordError struct {
	Path string
	Err  error
}

func (e *CorruptRecordError) Error() string {
	return fmt.Sprintf("corrupt record %s: %v", e.Path, e.Err)
}

func (e *CorruptRecordError) Unwrap() error {
	return e.Err
}

// IssueUpdateFunc mutates an issue in place and reports whether it changed.
// Returning false skips the write.
type IssueUpdateFunc func(issue *model.Issue) (changed bool, err error)

// Store defines the persistence interface.
type Store interface {
	// Issues
	CreateIssue(ctx context.Context, issue *model.Issue) error
	GetIssue(ctx context.Context, id string) (*model.Issue, error)
	ListIssues(ctx context.Context) ([]*model.Issue, error)
	// UpdateIssue runs fn on the current record under the issue's lock and
	// atomically replaces the record when fn reports a change. fn must not
	// call back into the store.
	UpdateIssue(ctx context.Context, id string, fn IssueUpdateFunc) (*model.Issue, error)

	// Gate catalog
	LoadCatalog(ctx context.Context) (*model.Catalog, error)
	// UpdateCatalog runs fn on a freshly read catalog under the catalog lock
	// and writes the complete result back.
	UpdateCatalog(ctx context.Context, fn func(*model.Catalog) error) error

	// Gate runs
	// SaveRun persists a run result. It fails with ErrExists if the run id
	// was already written.
	SaveRun(ctx context.Context, run *model.GateRunResult) error
	GetRun(ctx context.Context, runID string) (*model.GateRunResult, error)
	// ListRuns returns runs for issueID ordered by run id, or all runs when
	// issueID is empty.
	ListRuns(ctx context.Context, issueID string) ([]*model.GateRunResult, error)
	// RunLogDir returns an existing directory for a run's captured output.
	RunLogDir(runID string) (string, error)

	// Claims
	LoadClaims(ctx context.Context) (map[string]*model.Claim, error)
	UpdateClaims(ctx context.Context, fn func(claims map[string]*model.Claim) error) error

	// Events
	AppendEvent(ctx context.Context, event *model.Event) error
	ReadEvents(ctx context.Context) ([]*model.Event, error)

	// Lifecycle
	Close() error
}
