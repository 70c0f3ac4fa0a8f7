package filestore

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DefaultTempAge is how old a temp file must be before CleanupTemp treats
// it as orphaned. Live writes finish in well under a second.
const DefaultTempAge = time.Hour

// isTempName reports whether name was created by writeTemp.
func isTempName(name string) bool {
	return strings.HasPrefix(name, ".") && strings.Contains(name, ".tmp-")
}

// CleanupTemp removes temp files older than olderThan anywhere under the
// data directory. They are left behind when a process dies between writing
// a temp file and renaming it into place. It returns the removed paths;
// files that vanish mid-walk are not an error.
func (s *FileStore) CleanupTemp(olderThan time.Duration) ([]string, error) {
	if olderThan <= 0 {
		olderThan = DefaultTempAge
	}
	cutoff := time.Now().Add(-olderThan)
	var removed []string
	err := filepath.WalkDir(s.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() || !isTempName(d.Name()) {
			return nil
		}
		info, err := d.Info()
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		if err != nil {
			return err
		}
		if !info.ModTime().Before(cutoff) {
			return nil
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("removing %s: %w", path, err)
		}
		s.logger.Debug("removed orphaned temp file", "path", path, "age", time.Since(info.ModTime()).Round(time.Second))
		removed = append(removed, path)
		return nil
	})
	return removed, err
}
