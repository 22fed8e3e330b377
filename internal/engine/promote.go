package engine

import (
	"context"

	"github.com/khatteland/gatehouse/internal/domain"
	"github.com/khatteland/gatehouse/internal/observability"
)

// promote runs the waitlist promotion cascade for a resource that just
// released a slot. It must be called inside the same resource lock as the
// release, on the release's transactional store: otherwise a concurrent
// admit could observe the freed slot and consume it before the rightful
// waitlisted user is promoted.
//
// The state machine has no waitlisted to pending_payment edge, so a
// promotion always confirms directly and issues a fresh token, priced
// resources included.
func (e *Engine) promote(ctx context.Context, s domain.Store, res *domain.Resource) (*domain.Admission, error) {
	if !res.Waitlistable() || res.Unlimited() {
		return nil, nil
	}

	count, err := s.CountHoldingSlots(ctx, res.ID)
	if err != nil {
		return nil, err
	}
	if count >= *res.Capacity {
		return nil, nil
	}

	next, err := s.NextWaitlisted(ctx, res.ID)
	if err != nil {
		return nil, err
	}
	if next == nil {
		return nil, nil
	}

	token, err := newToken()
	if err != nil {
		return nil, err
	}
	applied, err := s.TransitionStatus(ctx, next.ID, domain.StatusWaitlisted, domain.StatusConfirmed, domain.Mutation{SetToken: &token})
	if err != nil {
		return nil, err
	}
	if !applied {
		// The head of the queue moved under us; we hold the lock, so this
		// only happens when the row turned terminal. Skip this cycle; the
		// next release re-runs the cascade.
		return nil, nil
	}

	next.Status = domain.StatusConfirmed
	next.Token = &token
	observability.PromotionsTotal.Inc()
	e.logger.WithField("admission_id", next.ID.String()).
		WithField("resource_id", res.ID.String()).
		Info("promoted waitlisted admission")
	return next, nil
}
