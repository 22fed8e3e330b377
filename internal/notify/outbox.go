package notify

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/khatteland/gatehouse/internal/adapters/crdb"
)

// OutboxSink stages events as outbox rows; the outbox-publisher binary
// ships them to the broker. Used when notification delivery must survive a
// broker outage.
type OutboxSink struct {
	repo *crdb.Repository
}

func NewOutboxSink(repo *crdb.Repository) *OutboxSink {
	return &OutboxSink{repo: repo}
}

func (s *OutboxSink) Publish(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return s.repo.InsertOutbox(ctx, crdb.OutboxRecord{
		ID:          uuid.New(),
		EventType:   ev.Type,
		AdmissionID: ev.AdmissionID,
		Payload:     payload,
		DedupeKey:   uuid.New().String(),
	})
}
