package filestore

import (
	"context"
	"fmt"

	"github.com/alfredjeanlab/kgate/internal/model"
	"github.com/alfredjeanlab/kgate/internal/store"
)

// LoadCatalog reads gates.json.
func (s *FileStore) LoadCatalog(ctx context.Context) (*model.Catalog, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.readCatalog()
}

func (s *FileStore) readCatalog() (*model.Catalog, error) {
	path := s.path(gatesFile)
	var cat model.Catalog
	if err := readJSON(path, &cat); err != nil {
		return nil, err
	}
	if cat.Gates == nil {
		cat.Gates = map[string]*model.GateDefinition{}
	}
	for key, def := range cat.Gates {
		if def == nil || def.Key != key {
			return nil, &store.CorruptRecordError{Path: path, Err: errKeyMismatch(key)}
		}
		if err := model.ValidateGate(def); err != nil {
			return nil, &store.CorruptRecordError{Path: path, Err: err}
		}
	}
	return &cat, nil
}

// UpdateCatalog rewrites gates.json under the catalog lock.
func (s *FileStore) UpdateCatalog(ctx context.Context, fn func(*model.Catalog) error) error {
	return s.withLock(ctx, "gates", func() error {
		cat, err := s.readCatalog()
		if err != nil {
			return err
		}
		if err := fn(cat); err != nil {
			return err
		}
		cat.SchemaVersion = model.CatalogSchemaVersion
		return writeJSONAtomic(s.path(gatesFile), cat)
	})
}

func errKeyMismatch(key string) error {
	return fmt.Errorf("entry %q has a missing or mismatched key", key)
}
