package domain

import (
	"time"

	"github.com/google/uuid"
)

// ResourceKind distinguishes capacity pools that hold a waitlist from
// bookable slots that simply sell out.
type ResourceKind string

const (
	KindEvent    ResourceKind = "event"
	KindTimeslot ResourceKind = "timeslot"
)

// Resource is an event or bookable timeslot. The engine reads resources
// from the directory and never mutates them.
type Resource struct {
	ID         uuid.UUID
	Kind       ResourceKind
	Capacity   *int // nil = unlimited
	PriceCents int64
	Currency   string
	OwnerID    uuid.UUID
	OpensAt    time.Time
	ClosesAt   time.Time
}

// Priced reports whether admission requires the two-phase payment flow.
func (r *Resource) Priced() bool {
	return r.PriceCents > 0
}

// Unlimited reports whether the resource has no capacity ceiling.
func (r *Resource) Unlimited() bool {
	return r.Capacity == nil
}

// Waitlistable reports whether a full pool queues admissions instead of
// rejecting them. Only event-style pools carry a waitlist.
func (r *Resource) Waitlistable() bool {
	return r.Kind == KindEvent
}

// WindowOpen reports whether the resource accepts admissions at t.
func (r *Resource) WindowOpen(t time.Time) bool {
	if !r.OpensAt.IsZero() && t.Before(r.OpensAt) {
		return false
	}
	if !r.ClosesAt.IsZero() && t.After(r.ClosesAt) {
		return false
	}
	return true
}

// Admission is one user's relationship to one resource. Rows are never
// deleted: every release is a status transition, so history survives for
// waitlist ordering and auditing.
type Admission struct {
	ID          uuid.UUID
	ResourceID  uuid.UUID
	UserID      uuid.UUID
	Status      AdmissionStatus
	Token       *string
	RedeemedAt  *time.Time
	RequestedAt time.Time
	RevokedAt   *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// PaymentLinkStatus tracks the engine's view of the money movement. The
// payment provider stays authoritative; this record reflects intent only.
type PaymentLinkStatus string

const (
	PaymentPending   PaymentLinkStatus = "pending"
	PaymentCompleted PaymentLinkStatus = "completed"
	PaymentRefunded  PaymentLinkStatus = "refunded"
	PaymentCancelled PaymentLinkStatus = "cancelled"
)

// PaymentLink pairs a priced admission with its external payment. Free
// admissions get a zero-amount, already-completed link so accounting stays
// uniform.
type PaymentLink struct {
	ID          uuid.UUID
	AdmissionID uuid.UUID
	Reference   string
	ProviderID  *string
	AmountCents int64
	Currency    string
	Status      PaymentLinkStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func NewPaymentLink(admissionID uuid.UUID, amountCents int64, currency string) PaymentLink {
	status := PaymentPending
	if amountCents == 0 {
		status = PaymentCompleted
	}
	return PaymentLink{
		ID:          uuid.New(),
		AdmissionID: admissionID,
		Reference:   uuid.New().String(),
		AmountCents: amountCents,
		Currency:    currency,
		Status:      status,
	}
}
