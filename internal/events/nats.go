package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/alfredjeanlab/kgate/internal/model"
)

// flushTimeout bounds how long Close waits for buffered events. kg runs are
// short-lived, so unflushed events would otherwise be lost on exit.
const flushTimeout = 2 * time.Second

// Subject returns the NATS subject an event of the given topic is published
// on. Issue events carry the issue ID as a final token so a watcher can
// subscribe to a single issue.
func Subject(topic, issueID string) string {
	if issueID == "" {
		return topic
	}
	return topic + "." + subjectToken(issueID)
}

// IssueSubject matches every issue event for issueID.
func IssueSubject(issueID string) string {
	return "kgate.*.*." + subjectToken(issueID)
}

func subjectToken(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\n', '\r':
			return '_'
		}
		return r
	}, s)
}

// NATSPublisher publishes JSON-encoded events. Audit events go out on their
// per-issue subject with the event ID in the Nats-Msg-Id header.
type NATSPublisher struct {
	conn *nats.Conn
}

func NewNATSPublisher(url string, opts ...nats.Option) (*NATSPublisher, error) {
	defaults := []nats.Option{
		nats.Name("kgate"),
		nats.Timeout(2 * time.Second),
	}
	nc, err := nats.Connect(url, append(defaults, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	return &NATSPublisher{conn: nc}, nil
}

// NewPublisher returns a NATS publisher for url, or a NoopPublisher when url
// is empty.
func NewPublisher(url string) (Publisher, error) {
	if url == "" {
		return &NoopPublisher{}, nil
	}
	return NewNATSPublisher(url)
}

func (p *NATSPublisher) Publish(ctx context.Context, topic string, event any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}
	msg := nats.NewMsg(topic)
	msg.Data = data
	if e, ok := event.(*model.Event); ok {
		msg.Subject = Subject(topic, e.IssueID)
		msg.Header.Set(nats.MsgIdHdr, e.ID)
	}
	if err := p.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("publishing %s: %w", msg.Subject, err)
	}
	return nil
}

// Close flushes pending events and closes the connection.
func (p *NATSPublisher) Close() error {
	defer p.conn.Close()
	if p.conn.IsClosed() {
		return nil
	}
	if err := p.conn.FlushTimeout(flushTimeout); err != nil {
		return fmt.Errorf("flushing events: %w", err)
	}
	return nil
}

// NATSSubscriber delivers decoded audit events from NATS. It reconnects
// forever; callers learn about gaps through a nats.ReconnectHandler and
// Dropped.
type NATSSubscriber struct {
	conn    *nats.Conn
	dropped atomic.Int64
}

var _ Subscriber = (*NATSSubscriber)(nil)

// NewNATSSubscriber connects to url. opts are applied after the defaults.
func NewNATSSubscriber(url string, opts ...nats.Option) (*NATSSubscriber, error) {
	defaults := []nats.Option{
		nats.Name("kgate-watch"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	}
	nc, err := nats.Connect(url, append(defaults, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	return &NATSSubscriber{conn: nc}, nil
}

// Subscribe delivers events published on subject, which may use wildcards
// (SubjectAll, IssueSubject). Messages that are not audit events, or that
// arrive while the channel is full, are dropped and counted. The returned
// cancel unsubscribes and closes the channel; it is safe to call twice.
func (s *NATSSubscriber) Subscribe(subject string) (<-chan *model.Event, func(), error) {
	ch := make(chan *model.Event, 64)

	var (
		mu     sync.Mutex
		closed bool
		once   sync.Once
	)

	sub, err := s.conn.Subscribe(subject, func(msg *nats.Msg) {
		var e model.Event
		if err := json.Unmarshal(msg.Data, &e); err != nil || e.ID == "" {
			s.dropped.Add(1)
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case ch <- &e:
		default:
			s.dropped.Add(1)
		}
	})
	if err != nil {
		close(ch)
		return nil, nil, fmt.Errorf("subscribing to %s: %w", subject, err)
	}
	// The subscription must reach the server before events published on
	// other connections are routed to it.
	if err := s.conn.Flush(); err != nil {
		_ = sub.Unsubscribe()
		close(ch)
		return nil, nil, fmt.Errorf("flushing subscription: %w", err)
	}

	cancel := func() {
		once.Do(func() {
			_ = sub.Unsubscribe()
			mu.Lock()
			closed = true
			mu.Unlock()
			for {
				select {
				case <-ch:
				default:
					close(ch)
					return
				}
			}
		})
	}

	return ch, cancel, nil
}

// Dropped reports how many messages were discarded across all
// subscriptions.
func (s *NATSSubscriber) Dropped() int64 {
	return s.dropped.Load()
}

func (s *NATSSubscriber) Close() error {
	s.conn.Close()
	return nil
}
