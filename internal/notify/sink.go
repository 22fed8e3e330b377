// Package notify is the fire-and-forget boundary to notification delivery.
// Delivery failures are never allowed to roll back an admission decision.
package notify

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Domain event types published by the engine.
const (
	EventAdmitted         = "admission.admitted"
	EventWaitlisted       = "admission.waitlisted"
	EventPromoted         = "admission.promoted"
	EventRevoked          = "admission.revoked"
	EventExpired          = "admission.expired"
	EventCheckedIn        = "admission.checked_in"
	EventBookingPending   = "booking.pending_payment"
	EventBookingConfirmed = "booking.confirmed"
	EventBookingCancelled = "booking.cancelled"
)

// Event is the payload shipped to the sink.
type Event struct {
	Type        string    `json:"type"`
	AdmissionID uuid.UUID `json:"admission_id"`
	ResourceID  uuid.UUID `json:"resource_id"`
	UserID      uuid.UUID `json:"user_id"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// Sink accepts domain events. Implementations must not block the caller on
// delivery; the engine emits after releasing the resource lock and only logs
// failures.
type Sink interface {
	Publish(ctx context.Context, ev Event) error
}

// NopSink discards events.
type NopSink struct{}

func (NopSink) Publish(context.Context, Event) error { return nil }
