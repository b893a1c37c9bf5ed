package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
)

type capturePublisher struct {
	topic    string
	payloads [][]byte
	err      error
}

func (p *capturePublisher) Publish(ctx context.Context, topic string, payload []byte) (string, error) {
	if p.err != nil {
		return "", p.err
	}
	p.topic = topic
	p.payloads = append(p.payloads, payload)
	return "msg-1", nil
}

func TestNilEmitterDropsEvents(t *testing.T) {
	var e *Emitter
	// Must not panic.
	e.UsageDesynced(context.Background(), "p1", "u1", "instances", 3, 5)
	e.QuotaExceeded(context.Background(), "p1", "u1", []string{"cores"})
	e.ReservationsExpired(context.Background(), 2)
}

func TestEmitterPublishesEvent(t *testing.T) {
	pub := &capturePublisher{}
	e := NewEmitter(pub, "quota-events", zerolog.Nop())

	e.UsageDesynced(context.Background(), "p1", "u1", "instances", 3, 5)

	if pub.topic != "quota-events" {
		t.Fatalf("topic: got %q, want quota-events", pub.topic)
	}
	if len(pub.payloads) != 1 {
		t.Fatalf("expected 1 published event, got %d", len(pub.payloads))
	}
	var ev Event
	if err := json.Unmarshal(pub.payloads[0], &ev); err != nil {
		t.Fatalf("decoding event: %v", err)
	}
	if ev.Type != EventUsageDesynced || ev.Resource != "instances" || ev.Tracked != 3 || ev.Actual != 5 {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if ev.EmittedAt.IsZero() {
		t.Fatal("expected EmittedAt to be set")
	}
}

func TestEmitterSwallowsPublishFailure(t *testing.T) {
	pub := &capturePublisher{err: errors.New("broker down")}
	e := NewEmitter(pub, "quota-events", zerolog.Nop())

	// Publish failures are logged, never surfaced to the caller.
	e.QuotaExceeded(context.Background(), "p1", "u1", []string{"instances"})
	e.ReservationsExpired(context.Background(), 4)
}
