package mongo

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/khatteland/gatehouse/internal/domain"
	"github.com/khatteland/gatehouse/internal/observability"
)

// ResourceDirectory reads resource metadata (capacity, price, lifecycle
// window) from the catalog collection maintained by the resource-management
// service. The engine only ever reads from it.
type ResourceDirectory struct {
	coll   *mongo.Collection
	logger observability.Logger
}

func NewResourceDirectory(db *mongo.Database, logger observability.Logger) *ResourceDirectory {
	return &ResourceDirectory{
		coll:   db.Collection("resources"),
		logger: logger,
	}
}

type resourceDoc struct {
	ID         uuid.UUID  `bson:"_id"`
	Kind       string     `bson:"kind"`
	Capacity   *int       `bson:"capacity,omitempty"`
	PriceCents int64      `bson:"price_cents"`
	Currency   string     `bson:"currency"`
	OwnerID    uuid.UUID  `bson:"owner_id"`
	OpensAt    *time.Time `bson:"opens_at,omitempty"`
	ClosesAt   *time.Time `bson:"closes_at,omitempty"`
}

// UpsertResource writes a resource document. The engine never calls this;
// it exists for catalog seeding and tests.
func (d *ResourceDirectory) UpsertResource(ctx context.Context, res domain.Resource) error {
	doc := resourceDoc{
		ID:         res.ID,
		Kind:       string(res.Kind),
		Capacity:   res.Capacity,
		PriceCents: res.PriceCents,
		Currency:   res.Currency,
		OwnerID:    res.OwnerID,
	}
	if !res.OpensAt.IsZero() {
		doc.OpensAt = &res.OpensAt
	}
	if !res.ClosesAt.IsZero() {
		doc.ClosesAt = &res.ClosesAt
	}
	opts := options.Replace().SetUpsert(true)
	_, err := d.coll.ReplaceOne(ctx, bson.M{"_id": res.ID}, doc, opts)
	return err
}

func (d *ResourceDirectory) GetResource(ctx context.Context, id uuid.UUID) (*domain.Resource, error) {
	var doc resourceDoc
	err := d.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		d.logger.WithField("resource_id", id.String()).Error("failed to load resource: ", err)
		return nil, err
	}

	res := domain.Resource{
		ID:         doc.ID,
		Kind:       domain.ResourceKind(doc.Kind),
		Capacity:   doc.Capacity,
		PriceCents: doc.PriceCents,
		Currency:   doc.Currency,
		OwnerID:    doc.OwnerID,
	}
	if doc.OpensAt != nil {
		res.OpensAt = *doc.OpensAt
	}
	if doc.ClosesAt != nil {
		res.ClosesAt = *doc.ClosesAt
	}
	return &res, nil
}
