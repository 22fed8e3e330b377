package domain

import (
	"time"

	"github.com/google/uuid"
)

// DesiredStatus is what the caller asks for on admission. Going requests a
// slot; Waitlist joins the queue directly on waitlist-capable resources.
type DesiredStatus string

const (
	DesiredGoing    DesiredStatus = "going"
	DesiredWaitlist DesiredStatus = "waitlisted"
)

// AdmitOutcome is the decided disposition of an admit call.
type AdmitOutcome string

const (
	AdmitConfirmed       AdmitOutcome = "confirmed"
	AdmitWaitlisted      AdmitOutcome = "waitlisted"
	AdmitPendingPayment  AdmitOutcome = "pending_payment"
	AdmitAlreadyAdmitted AdmitOutcome = "already_admitted"
	AdmitSoldOut         AdmitOutcome = "sold_out"
)

// AdmitResult carries the outcome plus whatever the caller needs next: the
// ticket token when confirmed immediately, or the payment handoff when the
// admission is waiting on money.
type AdmitResult struct {
	Outcome          AdmitOutcome
	AdmissionID      uuid.UUID
	CurrentStatus    AdmissionStatus // set for already_admitted
	Token            string
	PaymentReference string
	RedirectURL      string
}

// CancelResult reports a cancellation. RefundNeeded is set when a completed
// payment existed; the caller drives the external refund with the reference.
type CancelResult struct {
	ResourceID       uuid.UUID
	RefundNeeded     bool
	PaymentReference string
	Promoted         *Admission // non-nil when a waitlisted admission took the slot
}

// ConfirmOutcome is the disposition of a payment confirmation.
type ConfirmOutcome string

const (
	ConfirmApplied  ConfirmOutcome = "success"
	ConfirmRepeated ConfirmOutcome = "already_confirmed"
	ConfirmStale    ConfirmOutcome = "stale"
)

type ConfirmResult struct {
	Outcome     ConfirmOutcome
	AdmissionID uuid.UUID
	Token       string
}

// CheckinOutcome is the disposition of a ticket scan.
type CheckinOutcome string

const (
	CheckinSuccess       CheckinOutcome = "success"
	CheckinAlready       CheckinOutcome = "already"
	CheckinInvalid       CheckinOutcome = "invalid"
	CheckinRevoked       CheckinOutcome = "revoked"
	CheckinNotAuthorized CheckinOutcome = "not_authorized"
)

type CheckinResult struct {
	Outcome    CheckinOutcome
	RedeemedAt *time.Time
}

// AdmissionSummary is the organizer-dashboard projection of an admission.
type AdmissionSummary struct {
	ID          uuid.UUID       `json:"id"`
	UserID      uuid.UUID       `json:"user_id"`
	Status      AdmissionStatus `json:"status"`
	RequestedAt time.Time       `json:"requested_at"`
	RedeemedAt  *time.Time      `json:"redeemed_at,omitempty"`
}
