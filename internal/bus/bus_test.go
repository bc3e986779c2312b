package bus

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"centurion/internal/apperr"
	"centurion/internal/domain"
	"centurion/internal/telemetry"
)

type fakeWriter struct {
	messages []kafka.Message
	err      error
}

func (f *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.messages = append(f.messages, msgs...)
	return nil
}

func TestPublish_WritesToTopicNamedByEnvelopeType(t *testing.T) {
	w := &fakeWriter{}
	p := NewPublisher(w)

	env := domain.EventEnvelope{Type: TopicLeadCreated, CorrelationID: "corr-1"}
	require.NoError(t, p.Publish(context.Background(), env))

	require.Len(t, w.messages, 1)
	require.Equal(t, TopicLeadCreated, w.messages[0].Topic)
	require.Equal(t, "corr-1", string(w.messages[0].Key))

	var got domain.EventEnvelope
	require.NoError(t, json.Unmarshal(w.messages[0].Value, &got))
	require.Equal(t, env.Type, got.Type)
}

func TestPublish_WriterErrorIsClassifiedTransient(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker unreachable")}
	p := NewPublisher(w)

	err := p.Publish(context.Background(), domain.EventEnvelope{Type: TopicMessageSent})
	require.Error(t, err)
	require.True(t, apperr.Is(err, apperr.TransientIO))
}

func TestPublish_WithoutMetersDoesNotPanic(t *testing.T) {
	p := NewPublisher(&fakeWriter{})
	require.NoError(t, p.Publish(context.Background(), domain.EventEnvelope{Type: TopicDebounceTimer}))
}

func TestPublish_WithMetersIncrementsDomainEventsCounter(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	counter, err := mp.Meter("bus-test").Int64Counter("centurion.domain_events_total")
	require.NoError(t, err)

	p := NewPublisher(&fakeWriter{}).WithMeters(&telemetry.Meters{DomainEventsTotal: counter})
	require.NoError(t, p.Publish(context.Background(), domain.EventEnvelope{Type: TopicLeadQualified}))

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	require.Equal(t, int64(1), sumInt64Counter(rm, "centurion.domain_events_total"))
}

func sumInt64Counter(rm metricdata.ResourceMetrics, name string) int64 {
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range sum.DataPoints {
					total += dp.Value
				}
			}
		}
	}
	return total
}
