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

// Checkin redeems a ticket token scanned by staff. Redemption is a single
// conditional write (set redeemed-at iff currently unset), so two
// simultaneous scans of the same token resolve to exactly one winner; the
// loser observes `already` with the original timestamp.
func (e *Engine) Checkin(ctx context.Context, token string, staffID uuid.UUID) (*domain.CheckinResult, error) {
	result, err := e.checkin(ctx, token, staffID)
	if err != nil {
		return nil, err
	}
	observability.CheckinsTotal.WithLabelValues(string(result.Outcome)).Inc()
	return result, nil
}

func (e *Engine) checkin(ctx context.Context, token string, staffID uuid.UUID) (*domain.CheckinResult, error) {
	if token == "" {
		return &domain.CheckinResult{Outcome: domain.CheckinInvalid}, nil
	}
	adm, err := e.store.GetAdmissionByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if adm == nil {
		// Tokens are cleared the moment an admission leaves confirmed, so
		// a revoked or cancelled ticket resolves here.
		return &domain.CheckinResult{Outcome: domain.CheckinInvalid}, nil
	}

	staff, err := e.acl.HasStaffCapability(ctx, staffID, adm.ResourceID)
	if err != nil {
		return nil, errors.Wrap(err, "capability check")
	}
	if !staff {
		return &domain.CheckinResult{Outcome: domain.CheckinNotAuthorized}, nil
	}

	if adm.Status != domain.StatusConfirmed {
		return &domain.CheckinResult{Outcome: domain.CheckinRevoked}, nil
	}
	if adm.RedeemedAt != nil {
		return &domain.CheckinResult{Outcome: domain.CheckinAlready, RedeemedAt: adm.RedeemedAt}, nil
	}

	now := time.Now()
	applied, err := e.store.RedeemToken(ctx, adm.ID, now)
	if err != nil {
		return nil, err
	}
	if !applied {
		// Lost the race to a simultaneous scan; report the winner's
		// timestamp.
		cur, err := e.store.GetAdmission(ctx, adm.ID)
		if err != nil {
			return nil, err
		}
		var at *time.Time
		if cur != nil {
			at = cur.RedeemedAt
		}
		return &domain.CheckinResult{Outcome: domain.CheckinAlready, RedeemedAt: at}, nil
	}

	e.emit(ctx, notify.Event{Type: notify.EventCheckedIn, AdmissionID: adm.ID, ResourceID: adm.ResourceID, UserID: adm.UserID, OccurredAt: now})
	return &domain.CheckinResult{Outcome: domain.CheckinSuccess, RedeemedAt: &now}, nil
}
