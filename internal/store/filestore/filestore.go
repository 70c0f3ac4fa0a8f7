// Package filestore implements store.Store on a plain directory of JSON
// files. Every record is written as a full replacement to a temp file and
// renamed into place; read-modify-write cycles hold an advisory file lock.
package filestore

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/alfredjeanlab/kgate/internal/model"
	"github.com/alfredjeanlab/kgate/internal/store"
)

// Layout names inside the data directory.
const (
	indexFile  = "index.json"
	issuesDir  = "issues"
	gatesFile  = "gates.json"
	runsDir    = "gate-runs"
	claimsFile = "claims.json"
	eventsFile = "events.jsonl"
	locksDir   = "locks"

	resultFile = "result.json"
)

// IndexSchemaVersion is the current index.json format version.
const IndexSchemaVersion = 1

type index struct {
	SchemaVersion int      `json:"schema_version"`
	AllIDs        []string `json:"all_ids"`
}

type claimsDoc struct {
	SchemaVersion int                     `json:"schema_version"`
	Claims        map[string]*model.Claim `json:"claims"`
}

// Options tune a FileStore.
type Options struct {
	// LockTimeout bounds the wait for a storage lock (default 5s).
	LockTimeout time.Duration
	Logger      *slog.Logger
}

// FileStore is a store.Store backed by a data directory.
type FileStore struct {
	dir         string
	lockTimeout time.Duration
	logger      *slog.Logger
}

var _ store.Store = (*FileStore)(nil)

// Init creates the directory layout under dir. Existing files are kept, so
// Init is safe to repeat.
func Init(dir string) error {
	for _, sub := range []string{issuesDir, runsDir, locksDir} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", sub, err)
		}
	}
	seed := []struct {
		name string
		doc  any
	}{
		{indexFile, index{SchemaVersion: IndexSchemaVersion, AllIDs: []string{}}},
		{gatesFile, model.Catalog{SchemaVersion: model.CatalogSchemaVersion, Gates: map[string]*model.GateDefinition{}}},
		{claimsFile, claimsDoc{SchemaVersion: 1, Claims: map[string]*model.Claim{}}},
	}
	for _, s := range seed {
		path := filepath.Join(dir, s.name)
		if _, err := os.Stat(path); err == nil {
			continue
		}
		if err := writeJSONAtomic(path, s.doc); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(filepath.Join(dir, eventsFile), os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("creating %s: %w", eventsFile, err)
	}
	return f.Close()
}

// Open returns a FileStore for an initialized data directory.
func Open(dir string, opts Options) (*FileStore, error) {
	if _, err := os.Stat(filepath.Join(dir, indexFile)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w (run 'kg init')", dir, store.ErrNotInitialized)
		}
		return nil, err
	}
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = 5 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	return &FileStore{dir: abs, lockTimeout: opts.LockTimeout, logger: opts.Logger}, nil
}

// Dir returns the absolute data directory.
func (s *FileStore) Dir() string {
	return s.dir
}

// LocksDir returns the directory holding advisory lock files.
func (s *FileStore) LocksDir() string {
	return filepath.Join(s.dir, locksDir)
}

// Close is a no-op; FileStore holds no open handles between calls.
func (s *FileStore) Close() error {
	return nil
}

func (s *FileStore) path(parts ...string) string {
	return filepath.Join(append([]string{s.dir}, parts...)...)
}

func (s *FileStore) issuePath(id string) string {
	return s.path(issuesDir, id+".json")
}

func (s *FileStore) readIndex() (*index, error) {
	var idx index
	if err := readJSON(s.path(indexFile), &idx); err != nil {
		return nil, err
	}
	return &idx, nil
}
