package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"

	"github.com/alfredjeanlab/kgate/internal/model"
)

// startTestNATS starts an embedded NATS server and returns its client URL.
func startTestNATS(t *testing.T) string {
	t.Helper()
	srv, err := natsserver.NewServer(&natsserver.Options{Host: "127.0.0.1", Port: -1})
	if err != nil {
		t.Fatalf("starting embedded NATS: %v", err)
	}
	srv.Start()
	t.Cleanup(srv.Shutdown)
	if !srv.ReadyForConnections(5 * time.Second) {
		t.Fatal("embedded NATS not ready")
	}
	return srv.ClientURL()
}

func newTestPair(t *testing.T) (*NATSPublisher, *NATSSubscriber) {
	t.Helper()
	url := startTestNATS(t)
	pub, err := NewNATSPublisher(url)
	if err != nil {
		t.Fatalf("creating publisher: %v", err)
	}
	t.Cleanup(func() { _ = pub.Close() })
	sub, err := NewNATSSubscriber(url)
	if err != nil {
		t.Fatalf("creating subscriber: %v", err)
	}
	t.Cleanup(func() { _ = sub.Close() })
	return pub, sub
}

func auditEvent(id, topic, issueID string, payload any) *model.Event {
	data, _ := json.Marshal(payload)
	return &model.Event{ID: id, Type: topic, IssueID: issueID, Payload: data, Timestamp: time.Now().UTC()}
}

func receive(t *testing.T, ch <-chan *model.Event) *model.Event {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestSubject(t *testing.T) {
	for _, tc := range []struct {
		topic, issue, want string
	}{
		{TopicGateDefined, "", "kgate.registry.defined"},
		{TopicIssueState, "kg-1a2b", "kgate.issue.state_changed.kg-1a2b"},
		{TopicGateRun, "odd.id *>", "kgate.gate.run.odd_id___"},
	} {
		if got := Subject(tc.topic, tc.issue); got != tc.want {
			t.Errorf("Subject(%q, %q) = %q, want %q", tc.topic, tc.issue, got, tc.want)
		}
	}
	if got := IssueSubject("kg-1"); got != "kgate.*.*.kg-1" {
		t.Errorf("IssueSubject = %q", got)
	}
}

func TestNATSSubscriber_ReceivesAuditEvents(t *testing.T) {
	pub, sub := newTestPair(t)
	ch, cancel, err := sub.Subscribe(SubjectAll)
	if err != nil {
		t.Fatalf("subscribing: %v", err)
	}
	defer cancel()

	sent := auditEvent("ev-1", TopicIssueState, "kg-1", StateChanged{From: model.StateInProgress, To: model.StateGated})
	if err := pub.Publish(context.Background(), TopicIssueState, sent); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	pub.conn.Flush()

	got := receive(t, ch)
	if got.ID != "ev-1" || got.IssueID != "kg-1" || got.Type != TopicIssueState {
		t.Errorf("event = %+v", got)
	}
	var payload StateChanged
	if err := json.Unmarshal(got.Payload, &payload); err != nil || payload.To != model.StateGated {
		t.Errorf("payload = %s, %v", got.Payload, err)
	}
}

func TestNATSSubscriber_IssueSubject(t *testing.T) {
	pub, sub := newTestPair(t)
	ch, cancel, err := sub.Subscribe(IssueSubject("kg-2"))
	if err != nil {
		t.Fatalf("subscribing: %v", err)
	}
	defer cancel()

	ctx := context.Background()
	for _, e := range []*model.Event{
		auditEvent("ev-1", TopicIssueCreated, "kg-1", IssueCreated{}),
		auditEvent("ev-2", TopicGateDefined, "", GateDefined{}),
		auditEvent("ev-3", TopicGateRun, "kg-2", GateRun{GateKey: "tests", Status: model.RunPassed}),
		auditEvent("ev-4", TopicClaimAcquired, "kg-2", ClaimChanged{Holder: "agent:a"}),
	} {
		if err := pub.Publish(ctx, e.Type, e); err != nil {
			t.Fatalf("Publish(%s): %v", e.ID, err)
		}
	}
	pub.conn.Flush()

	for _, want := range []string{"ev-3", "ev-4"} {
		if got := receive(t, ch); got.ID != want {
			t.Errorf("event = %s, want %s", got.ID, want)
		}
	}
	select {
	case e := <-ch:
		t.Errorf("unexpected event %s for another subject", e.ID)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestNATSSubscriber_DropsForeignPayloads(t *testing.T) {
	pub, sub := newTestPair(t)
	ch, cancel, err := sub.Subscribe(SubjectAll)
	if err != nil {
		t.Fatalf("subscribing: %v", err)
	}
	defer cancel()

	// Bare payloads and non-JSON are not audit events.
	_ = pub.Publish(context.Background(), TopicGateRemoved, GateRemoved{GateKey: "tests"})
	_ = pub.conn.Publish(TopicGateRun, []byte("not json"))
	_ = pub.Publish(context.Background(), TopicGateRemoved, auditEvent("ev-9", TopicGateRemoved, "", GateRemoved{GateKey: "tests"}))
	pub.conn.Flush()

	if got := receive(t, ch); got.ID != "ev-9" {
		t.Errorf("event = %s, want ev-9", got.ID)
	}
	if n := sub.Dropped(); n != 2 {
		t.Errorf("Dropped = %d, want 2", n)
	}
}

func TestNATSPublisher_MsgIDHeader(t *testing.T) {
	url := startTestNATS(t)
	pub, err := NewNATSPublisher(url)
	if err != nil {
		t.Fatal(err)
	}
	defer pub.Close()

	nc, err := nats.Connect(url)
	if err != nil {
		t.Fatal(err)
	}
	defer nc.Close()
	raw := make(chan *nats.Msg, 1)
	s, err := nc.ChanSubscribe(SubjectAll, raw)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Unsubscribe() //nolint:errcheck
	nc.Flush()

	if err := pub.Publish(context.Background(), TopicClaimReleased, auditEvent("ev-7", TopicClaimReleased, "kg-3", ClaimChanged{Holder: "a"})); err != nil {
		t.Fatal(err)
	}
	pub.conn.Flush()

	select {
	case msg := <-raw:
		if msg.Subject != "kgate.claim.released.kg-3" {
			t.Errorf("subject = %q", msg.Subject)
		}
		if id := msg.Header.Get(nats.MsgIdHdr); id != "ev-7" {
			t.Errorf("%s = %q, want ev-7", nats.MsgIdHdr, id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestNATSSubscriber_CancelClosesChannel(t *testing.T) {
	pub, sub := newTestPair(t)
	ch, cancel, err := sub.Subscribe(SubjectAll)
	if err != nil {
		t.Fatalf("subscribing: %v", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			_ = pub.Publish(context.Background(), TopicGateVoted, auditEvent("ev", TopicGateVoted, "kg-1", GateVoted{}))
		}
		pub.conn.Flush()
	}()

	// Cancelling while events are in flight must neither panic nor leave
	// the channel open.
	cancel()
	cancel()
	<-done
	for range ch {
	}
}
