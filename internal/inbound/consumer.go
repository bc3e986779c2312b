package inbound

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"centurion/internal/apperr"
	"centurion/internal/domain"
)

// backoffCap bounds the delay between retries of a single failed message so
// a persistent outage degrades to polling rather than a tight error loop.
const backoffCap = 30 * time.Second

// Reader is the subset of *kafka.Reader the consumer depends on.
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer is the task.Runnable that pulls message.received off the bus and
// drives it through Handler. One fetch-handle-commit loop per instance;
// scale by running more instances in the same consumer group.
type Consumer struct {
	reader  Reader
	handler *Handler
	logger  zerolog.Logger
}

// NewConsumer builds a Consumer over reader (already scoped to the
// message.received topic and a consumer group) and handler.
func NewConsumer(reader Reader, handler *Handler, logger zerolog.Logger) *Consumer {
	return &Consumer{reader: reader, handler: handler, logger: logger}
}

// Run fetches messages until ctx is canceled, retrying a failed envelope
// with capped exponential backoff before committing its offset — so a
// transient failure redelivers rather than silently drops, while a
// persistent one doesn't wedge the partition forever.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return apperr.New(apperr.TransientIO, "inbound.Consumer.Run", err)
		}

		c.handleWithRetry(ctx, msg)

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			c.logger.Error().Err(err).Msg("inbound.consumer.commit_failed")
		}
	}
}

func (c *Consumer) handleWithRetry(ctx context.Context, msg kafka.Message) {
	const maxAttempts = 5
	delay := 500 * time.Millisecond
	for attempt := 1; ; attempt++ {
		env, err := domain.ParseEnvelope(msg.Value)
		if err != nil {
			c.logger.Warn().Err(err).Msg("inbound.consumer.invalid_envelope")
			return
		}

		err = c.handler.HandleEnvelope(ctx, env)
		if err == nil {
			return
		}
		if apperr.KindOf(err) != apperr.TransientIO {
			c.logger.Error().Err(err).Str("correlation_id", env.CorrelationID).Msg("inbound.consumer.dropped")
			return
		}
		if attempt >= maxAttempts {
			c.logger.Error().Err(err).Int("attempt", attempt).Str("correlation_id", env.CorrelationID).Msg("inbound.consumer.retries_exhausted")
			return
		}

		c.logger.Warn().Err(err).Int("attempt", attempt).Str("correlation_id", env.CorrelationID).Msg("inbound.consumer.retry")
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		delay *= 2
		if delay > backoffCap {
			delay = backoffCap
		}
	}
}

// Close releases the underlying reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}
