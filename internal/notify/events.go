package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
)

// Event types emitted by the quota subsystem.
const (
	EventUsageDesynced       = "quota.usage_desynced"
	EventQuotaExceeded       = "quota.exceeded"
	EventReservationsExpired = "quota.reservations_expired"
)

// Event is the payload published for quota lifecycle events.
type Event struct {
	Type      string    `json:"type"`
	ProjectID string    `json:"project_id,omitempty"`
	UserID    string    `json:"user_id,omitempty"`
	Resource  string    `json:"resource,omitempty"`
	Tracked   int64     `json:"tracked,omitempty"`
	Actual    int64     `json:"actual,omitempty"`
	Overs     []string  `json:"overs,omitempty"`
	Expired   int64     `json:"expired,omitempty"`
	EmittedAt time.Time `json:"emitted_at"`
}

// Emitter publishes quota events to a topic. A nil Emitter is valid and
// drops all events; publish failures are logged, never propagated — events
// are advisory and must not fail the operation that produced them.
type Emitter struct {
	pub    Publisher
	topic  string
	logger zerolog.Logger
}

// NewEmitter creates an Emitter publishing to the given topic.
func NewEmitter(pub Publisher, topic string, logger zerolog.Logger) *Emitter {
	return &Emitter{
		pub:    pub,
		topic:  topic,
		logger: logger.With().Str("component", "quota-events").Logger(),
	}
}

// UsageDesynced reports tracked usage disagreeing with the recomputed count.
func (e *Emitter) UsageDesynced(ctx context.Context, projectID, userID, resource string, tracked, actual int64) {
	e.emit(ctx, Event{
		Type:      EventUsageDesynced,
		ProjectID: projectID,
		UserID:    userID,
		Resource:  resource,
		Tracked:   tracked,
		Actual:    actual,
	})
}

// QuotaExceeded reports a rejected reservation.
func (e *Emitter) QuotaExceeded(ctx context.Context, projectID, userID string, overs []string) {
	e.emit(ctx, Event{
		Type:      EventQuotaExceeded,
		ProjectID: projectID,
		UserID:    userID,
		Overs:     overs,
	})
}

// ReservationsExpired reports how many reservations an expiry sweep reclaimed.
func (e *Emitter) ReservationsExpired(ctx context.Context, expired int64) {
	e.emit(ctx, Event{
		Type:    EventReservationsExpired,
		Expired: expired,
	})
}

func (e *Emitter) emit(ctx context.Context, ev Event) {
	if e == nil || e.pub == nil {
		return
	}
	ev.EmittedAt = time.Now().UTC()
	payload, err := json.Marshal(ev)
	if err != nil {
		e.logger.Warn().Err(err).Str("type", ev.Type).Msg("failed to encode quota event")
		return
	}
	if _, err := e.pub.Publish(ctx, e.topic, payload); err != nil {
		e.logger.Warn().Err(err).Str("type", ev.Type).Msg("failed to publish quota event")
	}
}
