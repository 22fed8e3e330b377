package mongo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/khatteland/gatehouse/internal/domain"
	"github.com/khatteland/gatehouse/internal/observability"
)

// AuditLogger records admission decisions for organizer-facing history.
// Best effort: an audit write failure never fails the decision.
type AuditLogger struct {
	coll   *mongo.Collection
	logger observability.Logger
}

func NewAuditLogger(db *mongo.Database, logger observability.Logger) *AuditLogger {
	return &AuditLogger{
		coll:   db.Collection("admission_audit"),
		logger: logger,
	}
}

type auditEntry struct {
	ID         uuid.UUID `bson:"_id"`
	Action     string    `bson:"action"`
	ActorID    uuid.UUID `bson:"actor_id"`
	ResourceID uuid.UUID `bson:"resource_id"`
	Timestamp  time.Time `bson:"timestamp"`
	Data       bson.M    `bson:"data"`
}

func (a *AuditLogger) log(ctx context.Context, action string, actorID, resourceID uuid.UUID, data map[string]interface{}) {
	entry := auditEntry{
		ID:         uuid.New(),
		Action:     action,
		ActorID:    actorID,
		ResourceID: resourceID,
		Timestamp:  time.Now(),
		Data:       bson.M(data),
	}
	if _, err := a.coll.InsertOne(ctx, entry); err != nil {
		a.logger.WithField("action", action).Error("failed to insert audit entry: ", err)
	}
}

func (a *AuditLogger) LogAdmit(ctx context.Context, userID, resourceID uuid.UUID, result *domain.AdmitResult) {
	a.log(ctx, "admission."+string(result.Outcome), userID, resourceID, map[string]interface{}{
		"admission_id": result.AdmissionID,
	})
}

func (a *AuditLogger) LogRelease(ctx context.Context, actorID, resourceID, admissionID uuid.UUID, forced bool) {
	action := "admission.cancelled"
	if forced {
		action = "admission.revoked"
	}
	a.log(ctx, action, actorID, resourceID, map[string]interface{}{
		"admission_id": admissionID,
	})
}

func (a *AuditLogger) LogCheckin(ctx context.Context, staffID uuid.UUID, outcome domain.CheckinOutcome) {
	a.log(ctx, "checkin."+string(outcome), staffID, uuid.Nil, nil)
}
