// Package outbound implements the outbound sender (C12): per-chunk
// idempotency keyed by (correlation_id, chunk_index) guarding every
// message.sent publication.
package outbound

import (
	"context"
	"fmt"
	"time"

	"centurion/internal/apperr"
	"centurion/internal/bus"
	"centurion/internal/domain"
	"centurion/internal/idempotency"
)

// claimTTL is the 7-day window spec.md §4.12 mandates for outbound claims.
const claimTTL = 7 * 24 * time.Hour

const consumer = "outbound.sender"

// Message is one OutboundMessage entry in a message.sent payload.
type Message struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	AssetID  string `json:"asset_id,omitempty"`
	URL      string `json:"url,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	Caption  string `json:"caption,omitempty"`
	Filename string `json:"filename,omitempty"`
}

type sentPayload struct {
	InstanceID string      `json:"instance_id"`
	To         string      `json:"to"`
	Messages   []Message   `json:"messages"`
	Raw        interface{} `json:"raw,omitempty"`
}

// Sender publishes message.sent envelopes, deduplicated per chunk.
type Sender struct {
	claims    *idempotency.Store
	publisher *bus.Publisher
}

// New builds a Sender over the idempotency claim store and bus publisher.
func New(claims *idempotency.Store, publisher *bus.Publisher) *Sender {
	return &Sender{claims: claims, publisher: publisher}
}

// Send claims (companyID, correlation_id:chunk_index), and on success
// publishes a message.sent envelope. Returns false (no error) when the claim
// was already held, so the caller can run its compensating Message-row
// delete; returns an error if the claim succeeded but publish failed, after
// releasing the claim so the event may be retried.
func (s *Sender) Send(ctx context.Context, companyID, instanceID, to string, msg Message, chunkIndex int, correlationID, causationID string, raw any) (bool, error) {
	key := fmt.Sprintf("%s:%d", correlationID, chunkIndex)
	claimed, err := s.claims.Claim(ctx, companyID, consumer, key, claimTTL, idempotency.Claim{
		EventType:     bus.TopicMessageSent,
		CorrelationID: correlationID,
		CausationID:   causationID,
	})
	if err != nil {
		return false, err
	}
	if !claimed {
		return false, nil
	}

	env, err := domain.BuildEnvelope(bus.TopicMessageSent, companyID, "outbound.sender", sentPayload{
		InstanceID: instanceID,
		To:         to,
		Messages:   []Message{msg},
		Raw:        raw,
	}, correlationID, causationID)
	if err != nil {
		_ = s.claims.Release(ctx, companyID, consumer, key)
		return false, apperr.New(apperr.InvalidInput, "outbound.Send", err)
	}

	if err := s.publisher.Publish(ctx, env); err != nil {
		_ = s.claims.Release(ctx, companyID, consumer, key)
		return false, err
	}
	return true, nil
}
