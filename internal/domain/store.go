package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Mutation describes the side fields touched together with a status
// transition. Token and redemption state always move with the status so a
// stale token can never validate again.
type Mutation struct {
	SetToken        *string
	ClearToken      bool
	ClearRedeemedAt bool
	SetRevokedAt    *time.Time
}

// Store persists admissions and payment links. Status transitions and token
// redemption are conditional single writes: they apply only when the row is
// still in the expected state and report whether they did, which is how
// racing writers (confirm vs. sweep, two simultaneous scans) resolve to one
// winner.
type Store interface {
	// Atomically runs fn with every store call made through its argument
	// committing or rolling back as one unit. Multi-write sequences (a
	// status flip plus its payment-link update, a release plus its
	// promotion) go through here so a mid-sequence failure never strands
	// partial state.
	Atomically(ctx context.Context, fn func(Store) error) error

	CreateAdmission(ctx context.Context, adm *Admission) error
	GetAdmission(ctx context.Context, id uuid.UUID) (*Admission, error)
	GetAdmissionByToken(ctx context.Context, token string) (*Admission, error)

	// FindActiveAdmission returns the non-terminal admission for the
	// (user, resource) pair, or nil.
	FindActiveAdmission(ctx context.Context, resourceID, userID uuid.UUID) (*Admission, error)

	// CountHoldingSlots counts admissions in slot-holding states
	// (confirmed, pending_payment) for the resource.
	CountHoldingSlots(ctx context.Context, resourceID uuid.UUID) (int, error)

	// NextWaitlisted returns the waitlisted admission with the earliest
	// request timestamp (ties broken by lowest admission ID), or nil.
	NextWaitlisted(ctx context.Context, resourceID uuid.UUID) (*Admission, error)

	// TransitionStatus moves the admission from one status to another,
	// applying the mutation, iff it is still in the from status.
	TransitionStatus(ctx context.Context, id uuid.UUID, from, to AdmissionStatus, mut Mutation) (bool, error)

	// RedeemToken sets RedeemedAt iff it is currently unset.
	RedeemToken(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)

	CreatePaymentLink(ctx context.Context, link *PaymentLink) error
	GetPaymentLinkByReference(ctx context.Context, reference string) (*PaymentLink, error)
	GetPaymentLinkByAdmission(ctx context.Context, admissionID uuid.UUID) (*PaymentLink, error)
	UpdatePaymentLinkStatus(ctx context.Context, linkID uuid.UUID, status PaymentLinkStatus) error
	SetPaymentLinkProvider(ctx context.Context, linkID uuid.UUID, providerID string) error

	ListAdmissions(ctx context.Context, resourceID uuid.UUID) ([]AdmissionSummary, error)

	// ListStalePending returns pending_payment admissions requested before
	// the cutoff.
	ListStalePending(ctx context.Context, cutoff time.Time) ([]Admission, error)
}
