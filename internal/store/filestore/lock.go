package filestore

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/alfredjeanlab/kgate/internal/store"
)

const lockRetryDelay = 10 * time.Millisecond

// withLock runs fn while holding the named advisory lock, waiting at most
// the configured lock timeout.
func (s *FileStore) withLock(ctx context.Context, name string, fn func() error) error {
	fl := flock.New(filepath.Join(s.dir, locksDir, name+".lock"))

	lockCtx, cancel := context.WithTimeout(ctx, s.lockTimeout)
	defer cancel()
	ok, err := fl.TryLockContext(lockCtx, lockRetryDelay)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return fmt.Errorf("%s after %s: %w", name, s.lockTimeout, store.ErrLockTimeout)
		}
		return fmt.Errorf("acquire %s lock: %w", name, err)
	}
	if !ok {
		return fmt.Errorf("%s after %s: %w", name, s.lockTimeout, store.ErrLockTimeout)
	}
	defer func() {
		if err := fl.Unlock(); err != nil {
			s.logger.Warn("failed to release lock", "lock", name, "err", err)
		}
	}()
	return fn()
}
