package filestore

import (
	"context"

	"github.com/alfredjeanlab/kgate/internal/model"
	"github.com/alfredjeanlab/kgate/internal/store"
)

// LoadClaims reads claims.json.
func (s *FileStore) LoadClaims(ctx context.Context) (map[string]*model.Claim, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.readClaims()
}

func (s *FileStore) readClaims() (map[string]*model.Claim, error) {
	path := s.path(claimsFile)
	var doc claimsDoc
	if err := readJSON(path, &doc); err != nil {
		return nil, err
	}
	if doc.Claims == nil {
		doc.Claims = map[string]*model.Claim{}
	}
	for id, c := range doc.Claims {
		if c == nil || c.IssueID != id || c.Holder == "" {
			return nil, &store.CorruptRecordError{Path: path, Err: errKeyMismatch(id)}
		}
	}
	return doc.Claims, nil
}

// UpdateClaims rewrites claims.json under the claims lock.
func (s *FileStore) UpdateClaims(ctx context.Context, fn func(map[string]*model.Claim) error) error {
	return s.withLock(ctx, "claims", func() error {
		claims, err := s.readClaims()
		if err != nil {
			return err
		}
		if err := fn(claims); err != nil {
			return err
		}
		return writeJSONAtomic(s.path(claimsFile), claimsDoc{SchemaVersion: 1, Claims: claims})
	})
}
