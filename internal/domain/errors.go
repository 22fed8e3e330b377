package domain

import "github.com/cockroachdb/errors"

// Only infrastructure failures propagate as Go errors; domain-predictable
// outcomes (conflict, sold out, already redeemed) travel as typed result
// statuses so callers can render them distinctly.
var (
	ErrSerializationFailure = errors.New("serialization failure")
	ErrNotFound             = errors.New("not found")
	ErrConflict             = errors.New("conflict")
	ErrInvalidInput         = errors.New("invalid input")
	ErrNotAuthorized        = errors.New("not authorized")
	ErrStaleState           = errors.New("stale state")
	ErrWindowClosed         = errors.New("resource window closed")
)
