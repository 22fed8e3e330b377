package notify

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/khatteland/gatehouse/internal/adapters/rabbit"
)

// RabbitSink publishes events straight to the topic exchange, routed by
// event type.
type RabbitSink struct {
	pub *rabbit.Publisher
}

func NewRabbitSink(pub *rabbit.Publisher) *RabbitSink {
	return &RabbitSink{pub: pub}
}

func (s *RabbitSink) Publish(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return s.pub.Publish(ctx, ev.Type, amqp.Publishing{
		MessageId:   uuid.New().String(),
		ContentType: "application/json",
		Body:        payload,
	})
}
