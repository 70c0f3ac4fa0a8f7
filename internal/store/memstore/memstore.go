// Package memstore is an in-memory store.Store. Records are kept encoded as
// JSON so callers never share memory with the store, matching the copy
// semantics of the file-backed store.
package memstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"sync"

	"github.com/alfredjeanlab/kgate/internal/model"
	"github.com/alfredjeanlab/kgate/internal/store"
)

// MemStore is a store.Store held in process memory.
type MemStore struct {
	mu      sync.Mutex
	logRoot string

	issueOrder []string
	issues     map[string][]byte
	catalog    []byte
	runs       map[string][]byte
	claims     []byte
	events     [][]byte
}

var _ store.Store = (*MemStore)(nil)

// New returns an empty store. Run logs are written under logRoot, which
// must be a writable directory (tests pass t.TempDir()).
func New(logRoot string) *MemStore {
	return &MemStore{
		logRoot: logRoot,
		issues:  map[string][]byte{},
		runs:    map[string][]byte{},
	}
}

func mustEncode(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("memstore: encoding %T: %v", v, err))
	}
	return data
}

func decode(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return &store.CorruptRecordError{Path: "memory", Err: err}
	}
	return nil
}

func (m *MemStore) CreateIssue(_ context.Context, issue *model.Issue) error {
	if err := model.ValidateIssue(issue); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.issues[issue.ID]; ok {
		return fmt.Errorf("issue %s: %w", issue.ID, store.ErrExists)
	}
	m.issues[issue.ID] = mustEncode(issue)
	m.issueOrder = append(m.issueOrder, issue.ID)
	return nil
}

func (m *MemStore) GetIssue(_ context.Context, id string) (*model.Issue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getIssueLocked(id)
}

func (m *MemStore) getIssueLocked(id string) (*model.Issue, error) {
	data, ok := m.issues[id]
	if !ok {
		return nil, fmt.Errorf("issue %s: %w", id, store.ErrNotFound)
	}
	var issue model.Issue
	if err := decode(data, &issue); err != nil {
		return nil, err
	}
	if issue.GatesStatus == nil {
		issue.GatesStatus = map[string]model.GateStatus{}
	}
	return &issue, nil
}

func (m *MemStore) ListIssues(_ context.Context) ([]*model.Issue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*model.Issue, 0, len(m.issueOrder))
	for _, id := range m.issueOrder {
		issue, err := m.getIssueLocked(id)
		if err != nil {
			return nil, err
		}
		out = append(out, issue)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemStore) UpdateIssue(_ context.Context, id string, fn store.IssueUpdateFunc) (*model.Issue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	issue, err := m.getIssueLocked(id)
	if err != nil {
		return nil, err
	}
	changed, err := fn(issue)
	if err != nil {
		return nil, err
	}
	if changed {
		if err := model.ValidateIssue(issue); err != nil {
			return nil, err
		}
		m.issues[id] = mustEncode(issue)
	}
	return issue, nil
}

func (m *MemStore) LoadCatalog(_ context.Context) (*model.Catalog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.catalogLocked()
}

func (m *MemStore) catalogLocked() (*model.Catalog, error) {
	cat := &model.Catalog{SchemaVersion: model.CatalogSchemaVersion}
	if m.catalog != nil {
		if err := decode(m.catalog, cat); err != nil {
			return nil, err
		}
	}
	if cat.Gates == nil {
		cat.Gates = map[string]*model.GateDefinition{}
	}
	return cat, nil
}

func (m *MemStore) UpdateCatalog(_ context.Context, fn func(*model.Catalog) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cat, err := m.catalogLocked()
	if err != nil {
		return err
	}
	if err := fn(cat); err != nil {
		return err
	}
	m.catalog = mustEncode(cat)
	return nil
}

func (m *MemStore) SaveRun(_ context.Context, run *model.GateRunResult) error {
	if err := model.ValidateRun(run); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[run.RunID]; ok {
		return fmt.Errorf("run %s: %w", run.RunID, store.ErrExists)
	}
	m.runs[run.RunID] = mustEncode(run)
	return nil
}

func (m *MemStore) GetRun(_ context.Context, runID string) (*model.GateRunResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.runs[runID]
	if !ok {
		return nil, fmt.Errorf("run %s: %w", runID, store.ErrNotFound)
	}
	var run model.GateRunResult
	if err := decode(data, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

func (m *MemStore) ListRuns(_ context.Context, issueID string) ([]*model.GateRunResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.runs))
	for k := range m.runs {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	var out []*model.GateRunResult
	for _, k := range keys {
		var run model.GateRunResult
		if err := decode(m.runs[k], &run); err != nil {
			return nil, err
		}
		if issueID == "" || run.Subject.IssueID == issueID {
			out = append(out, &run)
		}
	}
	return out, nil
}

func (m *MemStore) RunLogDir(runID string) (string, error) {
	dir := filepath.Join(m.logRoot, runID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

func (m *MemStore) LoadClaims(_ context.Context) (map[string]*model.Claim, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.claimsLocked()
}

func (m *MemStore) claimsLocked() (map[string]*model.Claim, error) {
	claims := map[string]*model.Claim{}
	if m.claims != nil {
		if err := decode(m.claims, &claims); err != nil {
			return nil, err
		}
	}
	return claims, nil
}

func (m *MemStore) UpdateClaims(_ context.Context, fn func(map[string]*model.Claim) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	claims, err := m.claimsLocked()
	if err != nil {
		return err
	}
	if err := fn(claims); err != nil {
		return err
	}
	m.claims = mustEncode(claims)
	return nil
}

func (m *MemStore) AppendEvent(_ context.Context, event *model.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, mustEncode(event))
	return nil
}

func (m *MemStore) ReadEvents(_ context.Context) ([]*model.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*model.Event, 0, len(m.events))
	for _, data := range m.events {
		var e model.Event
		if err := decode(data, &e); err != nil {
			return nil, err
		}
		out = append(out, &e)
	}
	return out, nil
}

func (m *MemStore) Close() error {
	return nil
}
