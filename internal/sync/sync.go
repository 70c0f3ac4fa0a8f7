// Package sync exports the repository's issues, gates and runs as JSONL to
// one or more destinations, either once or on a fixed interval.
package sync

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Destination receives a complete JSONL export.
type Destination interface {
	Write(ctx context.Context, data []byte) error
}

// Scheduler exports to its destinations once, or repeatedly on an
// interval. Interval runs skip the write when no issue, gate or run has
// changed since the last export that every destination accepted.
type Scheduler struct {
	source       Source
	destinations []Destination
	interval     time.Duration
	logger       *slog.Logger

	mu   sync.Mutex
	last [sha256.Size]byte
	have bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a scheduler exporting from s.
func NewScheduler(s Source, destinations []Destination, interval time.Duration, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		source:       s,
		destinations: destinations,
		interval:     interval,
		logger:       logger,
	}
}

// Start exports immediately and then on every tick until Stop is called or
// ctx is done.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop(ctx)
	}()
}

// Stop cancels the scheduler and waits for an in-flight export.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context) {
	s.tick(ctx)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	if err := s.export(ctx, true); err != nil && ctx.Err() == nil {
		s.logger.Error("export failed", "err", err)
	}
}

// Once exports and writes to every destination unconditionally. A failing
// destination does not stop the others; all failures are returned joined.
func (s *Scheduler) Once(ctx context.Context) error {
	return s.export(ctx, false)
}

func (s *Scheduler) export(ctx context.Context, skipUnchanged bool) error {
	var buf bytes.Buffer
	if err := ExportJSONL(ctx, s.source, &buf); err != nil {
		return fmt.Errorf("export: %w", err)
	}
	data := buf.Bytes()
	sum := recordsDigest(data)

	s.mu.Lock()
	unchanged := s.have && s.last == sum
	s.mu.Unlock()
	if skipUnchanged && unchanged {
		s.logger.Debug("export unchanged, skipping write")
		return nil
	}

	var errs []error
	for i, dest := range s.destinations {
		if err := dest.Write(ctx, data); err != nil {
			s.logger.Error("export destination write failed", "destination", describe(i, dest), "err", err)
			errs = append(errs, fmt.Errorf("%s: %w", describe(i, dest), err))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	s.mu.Lock()
	s.last, s.have = sum, true
	s.mu.Unlock()

	attrs := []any{"destinations", len(s.destinations), "bytes", len(data)}
	if h, ok := readHeader(data); ok {
		attrs = append(attrs, "issues", h.IssueCount, "gates", h.GateCount, "runs", h.RunCount)
	}
	s.logger.Info("export completed", attrs...)
	return nil
}

// recordsDigest hashes everything after the header line, whose timestamp
// differs on every export.
func recordsDigest(data []byte) [sha256.Size]byte {
	_, body, _ := bytes.Cut(data, []byte("\n"))
	return sha256.Sum256(body)
}

func describe(i int, dest Destination) string {
	if st, ok := dest.(fmt.Stringer); ok {
		return st.String()
	}
	return fmt.Sprintf("destination %d", i)
}
