package engine

import (
	"context"

	"github.com/google/uuid"

	"github.com/khatteland/gatehouse/internal/domain"
)

// ResourceDirectory resolves resources. Resources are owned by their
// creators; the engine reads them and never writes.
type ResourceDirectory interface {
	GetResource(ctx context.Context, id uuid.UUID) (*domain.Resource, error)
}
