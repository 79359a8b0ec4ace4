// Package events emits structured subscription lifecycle events to logs,
// metrics and the notification channel.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const (
	NameTransition     = "subscription.transition"
	NameSkipped        = "subscription.skipped"
	NameGiftIssued     = "subscription.gift_issued"
	NameRenewalCharged = "subscription.renewal_charged"
	NameRenewalFailed  = "subscription.renewal_failed"
)

// Event describes one state transition or sweep outcome.
type Event struct {
	Name       string         `json:"name"`
	Operation  string         `json:"operation"`
	PlayerID   uuid.UUID      `json:"player_id"`
	OldStatus  string         `json:"old_status,omitempty"`
	NewStatus  string         `json:"new_status,omitempty"`
	Reason     string         `json:"reason,omitempty"`
	Duration   time.Duration  `json:"duration_ns,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
	Fields     map[string]any `json:"fields,omitempty"`
}

// Sink receives events. Implementations must not block the caller for long
// and never fail the operation that produced the event.
type Sink interface {
	Emit(ctx context.Context, evt Event)
}

// Fanout delivers each event to every sink in order.
type Fanout []Sink

func (f Fanout) Emit(ctx context.Context, evt Event) {
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = time.Now().UTC()
	}
	for _, sink := range f {
		if sink != nil {
			sink.Emit(ctx, evt)
		}
	}
}

// Discard drops events.
type Discard struct{}

func (Discard) Emit(context.Context, Event) {}
