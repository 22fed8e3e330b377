package engine

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/khatteland/gatehouse/internal/domain"
	"github.com/khatteland/gatehouse/internal/notify"
	"github.com/khatteland/gatehouse/internal/observability"
)

// DefaultPaymentTimeout is how long a pending_payment admission may hold its
// slot before a sweep reclaims it.
const DefaultPaymentTimeout = 15 * time.Minute

// SweepExpired lapses pending_payment admissions older than timeout,
// cancelling their payment links and releasing their capacity slots. It is a
// pure recomputation from persisted status and timestamps: running it twice,
// or skipping a cycle, converges to the same state. Returns the number of
// admissions expired.
func (e *Engine) SweepExpired(ctx context.Context, timeout time.Duration) (int, error) {
	if timeout <= 0 {
		timeout = DefaultPaymentTimeout
	}
	cutoff := time.Now().Add(-timeout)

	stale, err := e.store.ListStalePending(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if len(stale) == 0 {
		return 0, nil
	}

	// Group by resource so each resource's lock is taken once, then fan
	// out across resources: contention is only ever per-resource.
	byResource := make(map[uuid.UUID][]domain.Admission)
	for _, adm := range stale {
		byResource[adm.ResourceID] = append(byResource[adm.ResourceID], adm)
	}

	var expired int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for resourceID, admissions := range byResource {
		g.Go(func() error {
			n, err := e.sweepResource(gctx, resourceID, admissions)
			atomic.AddInt64(&expired, int64(n))
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return int(atomic.LoadInt64(&expired)), err
	}

	total := int(atomic.LoadInt64(&expired))
	observability.SweptTotal.Add(float64(total))
	return total, nil
}

func (e *Engine) sweepResource(ctx context.Context, resourceID uuid.UUID, admissions []domain.Admission) (int, error) {
	res, err := e.dir.GetResource(ctx, resourceID)
	if err != nil {
		return 0, err
	}

	expired := 0
	var events []notify.Event

	err = e.locker.WithResourceLock(ctx, resourceID, func() error {
		return e.store.Atomically(ctx, func(s domain.Store) error {
			expired = 0
			events = events[:0]
			for _, adm := range admissions {
				applied, err := s.TransitionStatus(ctx, adm.ID, domain.StatusPendingPayment, domain.StatusExpired, domain.Mutation{ClearToken: true, ClearRedeemedAt: true})
				if err != nil {
					return err
				}
				if !applied {
					// A confirmation or cancel got there first; nothing to
					// reclaim.
					continue
				}
				expired++
				events = append(events, notify.Event{Type: notify.EventExpired, AdmissionID: adm.ID, ResourceID: resourceID, UserID: adm.UserID, OccurredAt: time.Now()})

				link, err := s.GetPaymentLinkByAdmission(ctx, adm.ID)
				if err != nil {
					return err
				}
				if link != nil && link.Status == domain.PaymentPending {
					if err := s.UpdatePaymentLinkStatus(ctx, link.ID, domain.PaymentCancelled); err != nil {
						return err
					}
				}
			}

			// Freed slots may admit the head of the waitlist. One promotion
			// per freed slot.
			if res != nil {
				for i := 0; i < expired; i++ {
					promoted, err := e.promote(ctx, s, res)
					if err != nil {
						return err
					}
					if promoted == nil {
						break
					}
					events = append(events, notify.Event{Type: notify.EventPromoted, AdmissionID: promoted.ID, ResourceID: resourceID, UserID: promoted.UserID, OccurredAt: time.Now()})
				}
			}
			return nil
		})
	})
	if err != nil {
		// The transaction rolled back; nothing counted here persisted.
		return 0, err
	}

	for _, ev := range events {
		e.emit(ctx, ev)
	}
	return expired, nil
}
