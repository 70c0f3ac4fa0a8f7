package sync

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alfredjeanlab/kgate/internal/model"
	"github.com/alfredjeanlab/kgate/internal/store/memstore"
)

// mockDestination records calls to Write.
type mockDestination struct {
	writes atomic.Int64
	last   atomic.Value // []byte
	err    error
}

func (d *mockDestination) Write(_ context.Context, data []byte) error {
	d.writes.Add(1)
	cp := make([]byte, len(data))
	copy(cp, data)
	d.last.Store(cp)
	return d.err
}

func TestSchedulerStartStop(t *testing.T) {
	ms := seedStore(t)
	dest := &mockDestination{}
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	sched := NewScheduler(ms, []Destination{dest}, 20*time.Millisecond, logger)
	sched.Start(context.Background())

	// Several ticks over an unchanged store write once.
	time.Sleep(100 * time.Millisecond)
	if writes := dest.writes.Load(); writes != 1 {
		t.Fatalf("writes over unchanged store = %d, want 1", writes)
	}

	now := time.Now().UTC()
	if err := ms.CreateIssue(context.Background(), &model.Issue{ID: "kg-mmm", Title: "new", State: model.StateReady, GatesRequired: []string{}, CreatedAt: now, UpdatedAt: now}); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for dest.writes.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	sched.Stop()

	if writes := dest.writes.Load(); writes != 2 {
		t.Fatalf("writes after change = %d, want 2", writes)
	}
	data, ok := dest.last.Load().([]byte)
	if !ok {
		t.Fatal("expected data")
	}
	// 1 header + 3 issues + 1 gate + 1 run
	if lines := nonEmptyLines(string(data)); len(lines) != 6 {
		t.Fatalf("expected 6 lines, got %d", len(lines))
	}
}

func TestSchedulerRetriesAfterFailure(t *testing.T) {
	ms := seedStore(t)
	dest := &mockDestination{err: errors.New("offline")}
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	sched := NewScheduler(ms, []Destination{dest}, 10*time.Millisecond, logger)
	sched.Start(context.Background())
	deadline := time.Now().Add(2 * time.Second)
	for dest.writes.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	sched.Stop()

	// A failed write is not remembered, so unchanged data is retried.
	if writes := dest.writes.Load(); writes < 3 {
		t.Fatalf("writes = %d, want retries", writes)
	}
}

func TestSchedulerOnce_AlwaysWrites(t *testing.T) {
	ms := seedStore(t)
	dest := &mockDestination{}
	sched := NewScheduler(ms, []Destination{dest}, time.Minute, nil)
	for i := 0; i < 2; i++ {
		if err := sched.Once(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	if writes := dest.writes.Load(); writes != 2 {
		t.Fatalf("writes = %d, want 2", writes)
	}
}

func TestSchedulerStop_NoStart(t *testing.T) {
	ms := memstore.New(t.TempDir())
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	sched := NewScheduler(ms, nil, time.Minute, logger)
	// Stop without Start should not panic.
	sched.Stop()
}

func TestSchedulerOnce_ContinuesPastFailingDestination(t *testing.T) {
	ms := memstore.New(t.TempDir())
	bad := &mockDestination{err: errors.New("bucket gone")}
	good := &mockDestination{}
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	err := NewScheduler(ms, []Destination{bad, good}, time.Minute, logger).Once(context.Background())
	if err == nil || !strings.Contains(err.Error(), "bucket gone") {
		t.Fatalf("Once error = %v", err)
	}
	if good.writes.Load() != 1 {
		t.Fatal("second destination skipped after first failed")
	}
}

func TestFileDestination(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "export.jsonl")
	dest := NewFileDestination(path)

	for _, data := range []string{"first\n", "second\n"} {
		if err := dest.Write(context.Background(), []byte(data)); err != nil {
			t.Fatalf("Write: %v", err)
		}
		got, err := os.ReadFile(path)
		if err != nil {
			t.Fatal(err)
		}
		if string(got) != data {
			t.Fatalf("content = %q, want %q", got, data)
		}
	}

	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("temp files left behind: %v", entries)
	}
}
