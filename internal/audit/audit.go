// Package audit appends and reads the event log. The core writes to it but
// never reads it back to make decisions.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alfredjeanlab/kgate/internal/events"
	"github.com/alfredjeanlab/kgate/internal/idgen"
	"github.com/alfredjeanlab/kgate/internal/model"
)

// EventStore is the slice of store.Store the log needs.
type EventStore interface {
	AppendEvent(ctx context.Context, event *model.Event) error
	ReadEvents(ctx context.Context) ([]*model.Event, error)
}

// Log is the append-only audit trail with event fan-out.
type Log struct {
	store  EventStore
	pub    events.Publisher
	logger *slog.Logger
	now    func() time.Time
}

// New returns a Log. pub may be nil.
func New(s EventStore, pub events.Publisher, logger *slog.Logger) *Log {
	if pub == nil {
		pub = &events.NoopPublisher{}
	}
	return &Log{store: s, pub: pub, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// Record appends one event and publishes it. A publish failure is logged
// and does not fail the call; the durable record is the log file.
func (l *Log) Record(ctx context.Context, topic, issueID, actor string, payload any) (*model.Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding %s payload: %w", topic, err)
	}
	id, err := idgen.NewEventID()
	if err != nil {
		return nil, err
	}
	e := &model.Event{
		ID:        id,
		Type:      topic,
		IssueID:   issueID,
		Actor:     actor,
		Payload:   data,
		Timestamp: l.now(),
	}
	if err := l.store.AppendEvent(ctx, e); err != nil {
		return nil, fmt.Errorf("appending %s event: %w", topic, err)
	}
	if err := l.pub.Publish(ctx, topic, e); err != nil {
		l.logger.Warn("event publish failed", "topic", topic, "issue", issueID, "err", err)
	}
	return e, nil
}

// Filter narrows Read. Zero fields match everything.
type Filter struct {
	IssueID string
	// TypePrefix matches event types by prefix, e.g. "kgate.gate.".
	TypePrefix string
	Since      time.Time
	// Limit keeps only the most recent N matches.
	Limit int
}

func (f Filter) match(e *model.Event) bool {
	if f.IssueID != "" && e.IssueID != f.IssueID {
		return false
	}
	if f.TypePrefix != "" && !strings.HasPrefix(e.Type, f.TypePrefix) {
		return false
	}
	if !f.Since.IsZero() && e.Timestamp.Before(f.Since) {
		return false
	}
	return true
}

// Read returns matching events in write order.
func (l *Log) Read(ctx context.Context, f Filter) ([]*model.Event, error) {
	all, err := l.store.ReadEvents(ctx)
	if err != nil {
		return nil, err
	}
	var out []*model.Event
	for _, e := range all {
		if f.match(e) {
			out = append(out, e)
		}
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[len(out)-f.Limit:]
	}
	return out, nil
}
