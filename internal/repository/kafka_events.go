package repository

import (
	"context"

	"SignalServe/internal/domain/models"
	"SignalServe/internal/domain/repository"
	pkgkafka "SignalServe/pkg/kafka"
)

// KafkaEventPublisher implements EventPublisher for Kafka. Events are keyed by
// slot (or session id) so each slot's history stays ordered in one partition.
type KafkaEventPublisher struct {
	producer *pkgkafka.Producer
}

// NewKafkaEventPublisher creates a Kafka event publisher.
func NewKafkaEventPublisher(producer *pkgkafka.Producer) repository.EventPublisher {
	return &KafkaEventPublisher{producer: producer}
}

func (p *KafkaEventPublisher) Publish(ctx context.Context, ev models.Event) error {
	return p.producer.Publish(ctx, []byte(ev.Key()), ev)
}

func (p *KafkaEventPublisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}
