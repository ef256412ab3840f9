// Package notify carries fire-and-forget ledger events to an external delivery
// system. Nothing here participates in ledger transactions.
package notify

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

// EventType names a ledger state transition worth telling someone about.
type EventType string

// EventType constants.
const (
	EventLowBalance         EventType = "low_balance"
	EventExpiringSoon       EventType = "expiring_soon"
	EventInvariantViolation EventType = "invariant_violation"
	EventRolloverCreated    EventType = "rollover_created"
	EventPlanActivated      EventType = "plan_activated"
)

// Event is one notification.
type Event struct {
	Type       EventType       `json:"type"`
	PlanID     uint64          `json:"plan_id"`
	ProjectID  uint64          `json:"project_id,omitempty"`
	Hours      decimal.Decimal `json:"hours"`
	PoolKind   string          `json:"pool_kind,omitempty"`
	PoolID     uint64          `json:"pool_id,omitempty"`
	ExpiresAt  *time.Time      `json:"expires_at,omitempty"`
	Detail     string          `json:"detail,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// Sink receives events.
type Sink interface {
	Notify(ctx context.Context, event Event) error
}

// Nop discards every event.
type Nop struct{}

// Notify implements Sink.
func (Nop) Notify(context.Context, Event) error { return nil }

// LogSink writes events to the process log.
type LogSink struct{}

// Notify implements Sink.
func (LogSink) Notify(_ context.Context, event Event) error {
	entry := log.WithFields(log.Fields{
		"event":   string(event.Type),
		"plan_id": event.PlanID,
		"hours":   event.Hours.String(),
	})
	if event.PoolKind != "" {
		entry = entry.WithField("pool", event.PoolKind)
	}
	if event.ExpiresAt != nil {
		entry = entry.WithField("expires_at", event.ExpiresAt.UTC().Format(time.RFC3339))
	}
	if event.Type == EventInvariantViolation {
		entry.Error("notify: " + event.Detail)
		return nil
	}
	entry.Info("notify: ledger event")
	return nil
}

// Multi fans an event out to every sink and returns the first error.
type Multi []Sink

// Notify implements Sink.
func (m Multi) Notify(ctx context.Context, event Event) error {
	var first error
	for _, sink := range m {
		if sink == nil {
			continue
		}
		if err := sink.Notify(ctx, event); err != nil && first == nil {
			first = err
		}
	}
	return first
}
