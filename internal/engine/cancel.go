package engine

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/khatteland/gatehouse/internal/domain"
	"github.com/khatteland/gatehouse/internal/notify"
)

// Cancel releases an admission, permitted for its own user or for staff on
// the resource. When a completed payment existed the result carries
// refundNeeded plus the reference so the caller can drive the external
// refund; the link is marked refunded locally regardless, since it records
// intent and the provider stays authoritative for the money. The waitlist
// promotion cascade runs inside the same resource lock as the release.
func (e *Engine) Cancel(ctx context.Context, admissionID, actorID uuid.UUID) (*domain.CancelResult, error) {
	return e.release(ctx, admissionID, actorID, domain.StatusCancelled)
}

// Revoke is the forced removal of a confirmed admission by staff. The token
// and redemption timestamp are cleared with it — a stale token must never
// validate again — and the revocation timestamp is the retained history
// marker.
func (e *Engine) Revoke(ctx context.Context, admissionID, staffID uuid.UUID) (*domain.CancelResult, error) {
	return e.release(ctx, admissionID, staffID, domain.StatusRevoked)
}

func (e *Engine) release(ctx context.Context, admissionID, actorID uuid.UUID, to domain.AdmissionStatus) (*domain.CancelResult, error) {
	adm, err := e.store.GetAdmission(ctx, admissionID)
	if err != nil {
		return nil, err
	}
	if adm == nil {
		return nil, errors.Wrapf(domain.ErrNotFound, "admission %s", admissionID)
	}

	if to == domain.StatusRevoked || actorID != adm.UserID {
		staff, err := e.acl.HasStaffCapability(ctx, actorID, adm.ResourceID)
		if err != nil {
			return nil, errors.Wrap(err, "capability check")
		}
		if !staff {
			return nil, domain.ErrNotAuthorized
		}
	}

	res, err := e.dir.GetResource(ctx, adm.ResourceID)
	if err != nil {
		return nil, errors.Wrap(err, "resolve resource")
	}

	var (
		result       domain.CancelResult
		link         *domain.PaymentLink
		cancelIntent bool
	)

	result.ResourceID = adm.ResourceID

	// The status flip, the payment-link update, and the promotion commit as
	// one transaction: a mid-sequence failure rolls the release back whole,
	// so a retry converges instead of finding a terminal admission with its
	// refund intent lost.
	err = e.locker.WithResourceLock(ctx, adm.ResourceID, func() error {
		return e.store.Atomically(ctx, func(s domain.Store) error {
			// Re-read under the lock; the status may have moved since the
			// authorization checks.
			cur, err := s.GetAdmission(ctx, admissionID)
			if err != nil {
				return err
			}
			if cur == nil || cur.Status.Terminal() {
				return errors.Wrapf(domain.ErrStaleState, "admission %s", admissionID)
			}
			if !cur.Status.CanTransition(to) {
				return errors.Wrapf(domain.ErrStaleState, "admission %s cannot move %s -> %s", admissionID, cur.Status, to)
			}

			link, err = s.GetPaymentLinkByAdmission(ctx, admissionID)
			if err != nil {
				return err
			}
			if cur.Status == domain.StatusConfirmed && link != nil &&
				link.Status == domain.PaymentCompleted && link.AmountCents > 0 {
				result.RefundNeeded = true
				result.PaymentReference = link.Reference
			}

			mut := domain.Mutation{ClearToken: true, ClearRedeemedAt: true}
			if to == domain.StatusRevoked {
				now := time.Now()
				mut.SetRevokedAt = &now
			}
			applied, err := s.TransitionStatus(ctx, admissionID, cur.Status, to, mut)
			if err != nil {
				return err
			}
			if !applied {
				return errors.Wrapf(domain.ErrStaleState, "admission %s", admissionID)
			}

			if link != nil {
				switch {
				case result.RefundNeeded:
					err = s.UpdatePaymentLinkStatus(ctx, link.ID, domain.PaymentRefunded)
				case link.Status == domain.PaymentPending:
					cancelIntent = link.ProviderID != nil
					err = s.UpdatePaymentLinkStatus(ctx, link.ID, domain.PaymentCancelled)
				}
				if err != nil {
					return err
				}
			}

			// Releasing a slot-holding status frees capacity; the cascade
			// runs before anyone else can take the lock.
			if res != nil {
				promoted, err := e.promote(ctx, s, res)
				if err != nil {
					return err
				}
				result.Promoted = promoted
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	if cancelIntent {
		if err := e.payments.Cancel(ctx, *link.ProviderID, "admission released"); err != nil {
			e.logger.WithField("admission_id", admissionID.String()).
				Error("failed to cancel payment intent: ", err)
		}
	}

	eventType := notify.EventBookingCancelled
	if to == domain.StatusRevoked {
		eventType = notify.EventRevoked
	}
	e.emit(ctx, notify.Event{Type: eventType, AdmissionID: admissionID, ResourceID: adm.ResourceID, UserID: adm.UserID, OccurredAt: time.Now()})
	if result.Promoted != nil {
		e.emit(ctx, notify.Event{Type: notify.EventPromoted, AdmissionID: result.Promoted.ID, ResourceID: adm.ResourceID, UserID: result.Promoted.UserID, OccurredAt: time.Now()})
	}
	return &result, nil
}
