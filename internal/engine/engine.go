// Package engine implements the admission state machine: capacity-safe
// admits, the waitlist promotion cascade, the payment-linked booking flow,
// exactly-once check-in redemption, and the expiry sweep.
package engine

import (
	"context"

	"github.com/khatteland/gatehouse/internal/access"
	"github.com/khatteland/gatehouse/internal/domain"
	"github.com/khatteland/gatehouse/internal/locking"
	"github.com/khatteland/gatehouse/internal/notify"
	"github.com/khatteland/gatehouse/internal/observability"
	"github.com/khatteland/gatehouse/internal/payment"
)

type Engine struct {
	dir      ResourceDirectory
	store    domain.Store
	locker   locking.ResourceLocker
	acl      access.Resolver
	sink     notify.Sink
	payments payment.Adapter
	logger   observability.Logger
}

func New(dir ResourceDirectory, store domain.Store, locker locking.ResourceLocker, acl access.Resolver, sink notify.Sink, payments payment.Adapter, logger observability.Logger) *Engine {
	return &Engine{
		dir:      dir,
		store:    store,
		locker:   locker,
		acl:      acl,
		sink:     sink,
		payments: payments,
		logger:   logger,
	}
}

// emit publishes a domain event after the resource lock is released.
// Delivery failures are logged and swallowed: the notification sink never
// rolls back an admission decision.
func (e *Engine) emit(ctx context.Context, ev notify.Event) {
	if err := e.sink.Publish(ctx, ev); err != nil {
		e.logger.WithField("event_type", ev.Type).
			WithField("admission_id", ev.AdmissionID.String()).
			Error("failed to publish notification: ", err)
	}
}
