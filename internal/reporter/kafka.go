package reporter

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/segmentio/kafka-go"
)

const (
	DefaultTopic = "storefront-sync-failures"

	eventTypeDropped = "sync.operation.dropped"
)

// MessageWriter is the part of *kafka.Writer the reporter uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaReporter publishes dropped operations keyed by owner, so a backend
// consumer sees one owner's drops in order.
type KafkaReporter struct {
	writer MessageWriter
}

func NewKafkaReporter(topic string, brokers ...string) *KafkaReporter {
	if topic == "" {
		topic = DefaultTopic
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.LeastBytes{},
		AllowAutoTopicCreation: true,
	}
	return &KafkaReporter{writer: w}
}

func NewKafkaReporterWithWriter(w MessageWriter) *KafkaReporter {
	return &KafkaReporter{writer: w}
}

func (r *KafkaReporter) ReportDropped(ctx context.Context, op domain.QueuedOperation, cause error) error {
	payload, err := json.Marshal(newDroppedOperation(op, cause))
	if err != nil {
		return fmt.Errorf("failed to marshal dropped operation: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(op.OwnerID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(eventTypeDropped)},
			{Key: "kind", Value: []byte(op.Kind)},
		},
	}
	if err := r.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish dropped operation %s: %w", op.ID, err)
	}
	return nil
}

func (r *KafkaReporter) Close() error {
	return r.writer.Close()
}
