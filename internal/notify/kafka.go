package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"demo-call-service/internal/model"
)

// MessageProducer is satisfied by client.KafkaProducer.
type MessageProducer interface {
	ProduceMessage(ctx context.Context, topic string, key, value []byte, headers map[string]string) error
}

// KafkaPublisher writes call events keyed by source address so one caller's
// events stay ordered on a partition.
type KafkaPublisher struct {
	producer MessageProducer
	topic    string
}

func NewKafkaPublisher(producer MessageProducer, topic string) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, topic: topic}
}

func (k *KafkaPublisher) Name() string { return "kafka" }

func (k *KafkaPublisher) Notify(ctx context.Context, event model.CallNotification) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode call event: %w", err)
	}

	headers := map[string]string{
		"request_id": event.RequestID,
		"backend":    event.Backend,
		"event_type": "call.requested",
	}
	return k.producer.ProduceMessage(ctx, k.topic, []byte(event.SourceIP), value, headers)
}
