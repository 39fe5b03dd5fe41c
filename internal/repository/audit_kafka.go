package repository

import (
	"context"

	"github.com/segmentio/kafka-go"

	"FundGuard/internal/domain/models"
	pkgkafka "FundGuard/pkg/kafka"
)

// KafkaAuditSink publishes audit events keyed by fund so that the events of
// one fund stay ordered within a partition.
type KafkaAuditSink struct {
	producer *pkgkafka.Producer
	topic    string
}

func NewKafkaAuditSink(producer *pkgkafka.Producer, topic string) *KafkaAuditSink {
	return &KafkaAuditSink{producer: producer, topic: topic}
}

func (s *KafkaAuditSink) Record(ctx context.Context, events []models.AuditEvent) error {
	if len(events) == 0 {
		return nil
	}
	msgs := make([]pkgkafka.Message, len(events))
	for i := range events {
		ev := events[i]
		msgs[i] = pkgkafka.Message{
			Key:   []byte(ev.Key()),
			Value: ev,
			Headers: []kafka.Header{
				{Key: "event_type", Value: []byte(ev.Type)},
				{Key: "trace_id", Value: []byte(ev.OperationID)},
			},
		}
	}
	return s.producer.PublishBatch(ctx, s.topic, msgs)
}

// Close leaves the producer open; it is shared with the log collector.
func (s *KafkaAuditSink) Close() error { return nil }
