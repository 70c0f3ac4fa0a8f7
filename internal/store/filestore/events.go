package filestore

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/alfredjeanlab/kgate/internal/model"
	"github.com/alfredjeanlab/kgate/internal/store"
)

// AppendEvent writes one JSON line to events.jsonl. Appends are serialized
// by the events lock so lines never interleave.
func (s *FileStore) AppendEvent(ctx context.Context, event *model.Event) error {
	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}
	line = append(line, '\n')
	return s.withLock(ctx, "events", func() error {
		f, err := os.OpenFile(s.path(eventsFile), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("opening %s: %w", eventsFile, err)
		}
		if _, err := f.Write(line); err != nil {
			f.Close()
			return fmt.Errorf("appending event: %w", err)
		}
		if err := f.Sync(); err != nil {
			f.Close()
			return fmt.Errorf("syncing %s: %w", eventsFile, err)
		}
		return f.Close()
	})
}

// ReadEvents returns every event in write order.
func (s *FileStore) ReadEvents(ctx context.Context) ([]*model.Event, error) {
	path := s.path(eventsFile)
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var events []*model.Event
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for n := 1; sc.Scan(); n++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var e model.Event
		if err := json.Unmarshal(line, &e); err != nil {
			return nil, &store.CorruptRecordError{Path: fmt.Sprintf("%s:%d", path, n), Err: err}
		}
		events = append(events, &e)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", eventsFile, err)
	}
	return events, nil
}
