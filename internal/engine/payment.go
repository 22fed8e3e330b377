package engine

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/khatteland/gatehouse/internal/domain"
	"github.com/khatteland/gatehouse/internal/notify"
)

// ConfirmPayment applies the provider's settlement callback. Money arrival
// is never inferred: this explicit call is the only path from
// pending_payment to confirmed. Confirming the same reference twice is an
// expected outcome and returns already_confirmed, not an error.
func (e *Engine) ConfirmPayment(ctx context.Context, reference string, providerAck string) (*domain.ConfirmResult, error) {
	link, err := e.store.GetPaymentLinkByReference(ctx, reference)
	if err != nil {
		return nil, err
	}
	if link == nil {
		return nil, errors.Wrapf(domain.ErrNotFound, "payment reference %s", reference)
	}
	if link.Status == domain.PaymentCompleted {
		return &domain.ConfirmResult{Outcome: domain.ConfirmRepeated, AdmissionID: link.AdmissionID}, nil
	}

	adm, err := e.store.GetAdmission(ctx, link.AdmissionID)
	if err != nil {
		return nil, err
	}
	if adm == nil {
		return nil, errors.Wrapf(domain.ErrNotFound, "admission %s", link.AdmissionID)
	}

	result := domain.ConfirmResult{AdmissionID: adm.ID}
	err = e.locker.WithResourceLock(ctx, adm.ResourceID, func() error {
		return e.store.Atomically(ctx, func(s domain.Store) error {
			token, err := newToken()
			if err != nil {
				return err
			}
			applied, err := s.TransitionStatus(ctx, adm.ID, domain.StatusPendingPayment, domain.StatusConfirmed, domain.Mutation{SetToken: &token})
			if err != nil {
				return err
			}
			if !applied {
				// Someone else won the race. A concurrent confirmation of
				// the same reference is a repeat; a sweep or cancel means
				// the money arrived late, the link stays in its reclaimed
				// state and the caller drives the refund externally.
				cur, err := s.GetAdmission(ctx, adm.ID)
				if err != nil {
					return err
				}
				settled, err := s.GetPaymentLinkByReference(ctx, reference)
				if err != nil {
					return err
				}
				if cur != nil && cur.Status == domain.StatusConfirmed &&
					settled != nil && settled.Status == domain.PaymentCompleted {
					result.Outcome = domain.ConfirmRepeated
					return nil
				}
				result.Outcome = domain.ConfirmStale
				return nil
			}
			if err := s.UpdatePaymentLinkStatus(ctx, link.ID, domain.PaymentCompleted); err != nil {
				return err
			}
			if providerAck != "" && link.ProviderID == nil {
				if err := s.SetPaymentLinkProvider(ctx, link.ID, providerAck); err != nil {
					return err
				}
			}
			result.Outcome = domain.ConfirmApplied
			result.Token = token
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	if result.Outcome == domain.ConfirmApplied {
		e.emit(ctx, notify.Event{Type: notify.EventBookingConfirmed, AdmissionID: adm.ID, ResourceID: adm.ResourceID, UserID: adm.UserID, OccurredAt: time.Now()})
	}
	return &result, nil
}
