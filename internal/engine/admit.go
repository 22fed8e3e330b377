package engine

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/khatteland/gatehouse/internal/domain"
	"github.com/khatteland/gatehouse/internal/notify"
	"github.com/khatteland/gatehouse/internal/observability"
)

// Admit decides admit / waitlist / reject for one admission request. The
// capacity count and the admission write execute inside a single acquisition
// of the resource lock, which is what rules out two concurrent callers both
// taking the last slot. External calls (payment intent creation,
// notifications) happen strictly outside the critical section.
func (e *Engine) Admit(ctx context.Context, resourceID, userID uuid.UUID, desired domain.DesiredStatus) (*domain.AdmitResult, error) {
	res, err := e.dir.GetResource(ctx, resourceID)
	if err != nil {
		return nil, errors.Wrap(err, "resolve resource")
	}
	if res == nil {
		return nil, errors.Wrapf(domain.ErrNotFound, "resource %s", resourceID)
	}
	if !res.WindowOpen(time.Now()) {
		return nil, errors.Wrapf(domain.ErrWindowClosed, "resource %s", resourceID)
	}

	allowed, err := e.acl.CanAdmit(ctx, userID, resourceID)
	if err != nil {
		return nil, errors.Wrap(err, "capability check")
	}
	if !allowed {
		return nil, domain.ErrNotAuthorized
	}

	var (
		result domain.AdmitResult
		link   *domain.PaymentLink
	)

	err = e.locker.WithResourceLock(ctx, resourceID, func() error {
		return e.store.Atomically(ctx, func(s domain.Store) error {
			return e.admit(ctx, s, res, resourceID, userID, desired, &result, &link)
		})
	})
	if err != nil {
		return nil, err
	}

	observability.AdmissionsTotal.WithLabelValues(string(result.Outcome)).Inc()

	switch result.Outcome {
	case domain.AdmitPendingPayment:
		intent, err := e.payments.CreateIntent(ctx, result.PaymentReference, res.PriceCents, res.Currency, "admission "+result.AdmissionID.String())
		if err != nil {
			// The admission stays pending_payment; the sweeper reclaims
			// the slot if no confirmation ever arrives.
			e.logger.WithField("admission_id", result.AdmissionID.String()).
				Error("failed to create payment intent: ", err)
		} else {
			result.RedirectURL = intent.RedirectURL
			if err := e.store.SetPaymentLinkProvider(ctx, link.ID, intent.ProviderID); err != nil {
				e.logger.WithField("payment_reference", result.PaymentReference).
					Error("failed to record provider payment id: ", err)
			}
		}
		e.emit(ctx, notify.Event{Type: notify.EventBookingPending, AdmissionID: result.AdmissionID, ResourceID: resourceID, UserID: userID, OccurredAt: time.Now()})

	case domain.AdmitConfirmed:
		e.emit(ctx, notify.Event{Type: notify.EventAdmitted, AdmissionID: result.AdmissionID, ResourceID: resourceID, UserID: userID, OccurredAt: time.Now()})

	case domain.AdmitWaitlisted:
		e.emit(ctx, notify.Event{Type: notify.EventWaitlisted, AdmissionID: result.AdmissionID, ResourceID: resourceID, UserID: userID, OccurredAt: time.Now()})
	}

	return &result, nil
}

// admit is the admission decision inside the resource lock and transaction.
// The capacity count, the admission row, and its payment link commit as one
// unit.
func (e *Engine) admit(ctx context.Context, s domain.Store, res *domain.Resource, resourceID, userID uuid.UUID, desired domain.DesiredStatus, result *domain.AdmitResult, link **domain.PaymentLink) error {
	existing, err := s.FindActiveAdmission(ctx, resourceID, userID)
	if err != nil {
		return err
	}
	if existing != nil {
		// Expected outcome, not an error: the caller's UI renders the
		// current status.
		*result = domain.AdmitResult{
			Outcome:       domain.AdmitAlreadyAdmitted,
			AdmissionID:   existing.ID,
			CurrentStatus: existing.Status,
		}
		return nil
	}

	hasRoom := res.Unlimited()
	if !hasRoom {
		count, err := s.CountHoldingSlots(ctx, resourceID)
		if err != nil {
			return err
		}
		hasRoom = count < *res.Capacity
	}

	now := time.Now()
	adm := domain.Admission{
		ID:          uuid.New(),
		ResourceID:  resourceID,
		UserID:      userID,
		RequestedAt: now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	switch {
	case desired == domain.DesiredWaitlist && res.Waitlistable():
		adm.Status = domain.StatusWaitlisted
		*result = domain.AdmitResult{Outcome: domain.AdmitWaitlisted, AdmissionID: adm.ID}

	case hasRoom && res.Priced():
		adm.Status = domain.StatusPendingPayment
		l := domain.NewPaymentLink(adm.ID, res.PriceCents, res.Currency)
		*link = &l
		*result = domain.AdmitResult{
			Outcome:          domain.AdmitPendingPayment,
			AdmissionID:      adm.ID,
			PaymentReference: l.Reference,
		}

	case hasRoom:
		token, err := newToken()
		if err != nil {
			return err
		}
		adm.Status = domain.StatusConfirmed
		adm.Token = &token
		l := domain.NewPaymentLink(adm.ID, 0, res.Currency)
		*link = &l
		*result = domain.AdmitResult{
			Outcome:     domain.AdmitConfirmed,
			AdmissionID: adm.ID,
			Token:       token,
		}

	case res.Waitlistable():
		adm.Status = domain.StatusWaitlisted
		*result = domain.AdmitResult{Outcome: domain.AdmitWaitlisted, AdmissionID: adm.ID}

	default:
		// Sold out with no waitlist: no admission row is created.
		*result = domain.AdmitResult{Outcome: domain.AdmitSoldOut}
		return nil
	}

	if err := s.CreateAdmission(ctx, &adm); err != nil {
		return err
	}
	if *link != nil {
		if err := s.CreatePaymentLink(ctx, *link); err != nil {
			return err
		}
	}
	return nil
}

// ListAdmissions returns the organizer-dashboard view of a resource's
// admissions, ordered by request time.
func (e *Engine) ListAdmissions(ctx context.Context, resourceID uuid.UUID) ([]domain.AdmissionSummary, error) {
	res, err := e.dir.GetResource(ctx, resourceID)
	if err != nil {
		return nil, errors.Wrap(err, "resolve resource")
	}
	if res == nil {
		return nil, errors.Wrapf(domain.ErrNotFound, "resource %s", resourceID)
	}
	return e.store.ListAdmissions(ctx, resourceID)
}
