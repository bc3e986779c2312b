// Package bus wraps the Kafka event bus with the envelope conventions every
// producer/consumer in this runtime shares: one topic per envelope type, and
// JSON-encoded EventEnvelope payloads.
package bus

import (
	"context"
	"encoding/json"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"centurion/internal/apperr"
	"centurion/internal/domain"
	"centurion/internal/telemetry"
)

// Topic names, one per envelope type, matching the bus channels in the
// external interfaces contract.
const (
	TopicMessageReceived = "message.received"
	TopicMessageSent     = "message.sent"
	TopicLeadCreated     = "lead.created"
	TopicLeadQualified   = "lead.qualified"
	TopicDebounceTimer   = "debounce.timer"
)

// Writer is the subset of *kafka.Writer every publisher depends on.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Publisher publishes EventEnvelopes, one Kafka topic per envelope Type.
type Publisher struct {
	writer Writer
	meters *telemetry.Meters
}

// NewPublisher wraps a Writer as a Publisher.
func NewPublisher(writer Writer) *Publisher {
	return &Publisher{writer: writer}
}

// WithMeters attaches the runtime's domain-event counter; every Publish call
// after this increments centurion.domain_events_total tagged by event type.
// Omitting it leaves publishing metrics-free.
func (p *Publisher) WithMeters(m *telemetry.Meters) *Publisher {
	p.meters = m
	return p
}

// Publish marshals env and writes it to the topic named by env.Type, keyed
// by correlation_id. The writer's LeastBytes balancer does not use the key
// to choose a partition.
func (p *Publisher) Publish(ctx context.Context, env domain.EventEnvelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return apperr.New(apperr.InvalidInput, "bus.Publish", err)
	}
	msg := kafka.Message{
		Topic: env.Type,
		Key:   []byte(env.CorrelationID),
		Value: body,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return apperr.New(apperr.TransientIO, "bus.Publish", err)
	}
	if p.meters != nil && p.meters.DomainEventsTotal != nil {
		p.meters.DomainEventsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("event_type", env.Type)))
	}
	return nil
}

// NewWriter builds a load-balanced Kafka writer over brokers, used for every
// outbound publisher (C7's lead.created/debounce.timer, C12's message.sent,
// C10's lead.qualified).
func NewWriter(brokers []string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.LeastBytes{},
		AllowAutoTopicCreation: true,
	}
}

// NewReader builds a consumer-group reader for one topic.
func NewReader(brokers []string, groupID, topic string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		GroupID:  groupID,
		Topic:    topic,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
}
