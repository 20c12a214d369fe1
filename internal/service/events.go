package service

import (
	"context"
	"encoding/json"
	"time"

	"identity-service/internal/client"
	"identity-service/internal/models"
	"identity-service/internal/util"
)

// EventPublisher emits security events. Publishing is best-effort:
// callers log failures and continue.
type EventPublisher interface {
	Publish(ctx context.Context, event models.SecurityEvent) error
}

// KafkaEventPublisher writes security events to a Kafka topic keyed by
// account ID so per-account ordering is preserved.
type KafkaEventPublisher struct {
	producer *client.KafkaProducer
	topic    string
}

func NewKafkaEventPublisher(producer *client.KafkaProducer, topic string) *KafkaEventPublisher {
	return &KafkaEventPublisher{producer: producer, topic: topic}
}

func (p *KafkaEventPublisher) Publish(ctx context.Context, event models.SecurityEvent) error {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	return p.producer.ProduceMessage(ctx, p.topic, []byte(event.AccountID), payload, map[string]string{
		"event_type": event.Type,
	})
}

// NopEventPublisher drops events. Used when Kafka is disabled.
type NopEventPublisher struct{}

func (NopEventPublisher) Publish(ctx context.Context, event models.SecurityEvent) error {
	util.Debug("security event dropped (kafka disabled)",
		util.String("type", event.Type),
		util.String("account_id", event.AccountID))
	return nil
}

var (
	_ EventPublisher = (*KafkaEventPublisher)(nil)
	_ EventPublisher = NopEventPublisher{}
)
