// Package payment is the boundary to the external payment provider. The
// provider is the sole source of truth for "did the money arrive"; it calls
// back into the engine's confirm path, or is silently abandoned and later
// reclaimed by the expiry sweeper.
package payment

import (
	"context"
)

// Intent is the provider's answer to a create-intent request: the provider's
// own payment ID plus the caller-facing handoff.
type Intent struct {
	ProviderID  string
	RedirectURL string
}

// Adapter creates and cancels payment intents. CreateIntent is called before
// or after — never inside — a resource lock.
type Adapter interface {
	CreateIntent(ctx context.Context, reference string, amountCents int64, currency, description string) (*Intent, error)
	Cancel(ctx context.Context, providerID, reason string) error
}

// NopAdapter serves free-only deployments and tests: every intent succeeds
// with an empty handoff.
type NopAdapter struct{}

func (NopAdapter) CreateIntent(_ context.Context, reference string, _ int64, _, _ string) (*Intent, error) {
	return &Intent{ProviderID: "nop-" + reference}, nil
}

func (NopAdapter) Cancel(context.Context, string, string) error { return nil }
