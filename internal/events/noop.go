package events

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/alfredjeanlab/kgate/internal/model"
)

// Subscriber receives audit events from the event bus.
type Subscriber interface {
	Subscribe(subject string) (<-chan *model.Event, func(), error)
	Close() error
}

// NoopPublisher is a Publisher that does nothing (used when NATS is not configured).
type NoopPublisher struct{}

func (n *NoopPublisher) Publish(ctx context.Context, topic string, event any) error {
	return nil
}

func (n *NoopPublisher) Close() error {
	return nil
}

// Published is one message captured by a MemoryPublisher.
type Published struct {
	Topic string
	Data  json.RawMessage
}

// MemoryPublisher records events in order. Err, when set, is returned from
// every Publish after recording.
type MemoryPublisher struct {
	mu   sync.Mutex
	msgs []Published
	Err  error
}

func (m *MemoryPublisher) Publish(ctx context.Context, topic string, event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.msgs = append(m.msgs, Published{Topic: topic, Data: data})
	return m.Err
}

func (m *MemoryPublisher) Close() error {
	return nil
}

// Messages returns a copy of everything published so far.
func (m *MemoryPublisher) Messages() []Published {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Published(nil), m.msgs...)
}

// Topics returns the topic of every published message in order.
func (m *MemoryPublisher) Topics() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.msgs))
	for i, p := range m.msgs {
		out[i] = p.Topic
	}
	return out
}
