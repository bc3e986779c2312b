// Package inbound implements the inbound handler (C7): the
// parse-claim-normalize-persist-arm pipeline that turns one message.received
// envelope into pending-queue state and a debounce.timer publication.
package inbound

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"centurion/internal/apperr"
	"centurion/internal/bus"
	"centurion/internal/channels"
	"centurion/internal/conversation"
	"centurion/internal/domain"
	"centurion/internal/idempotency"
	"centurion/internal/tenant"
)

const claimConsumer = "inbound.handler"

// claimTTL is the 7-day window spec.md §4.7 mandates for inbound claims.
const claimTTL = 7 * 24 * time.Hour

// FollowupCanceller is the subset of C14 the inbound handler needs: every
// pending follow-up for a lead is canceled the instant the lead speaks
// again.
type FollowupCanceller interface {
	CancelPending(ctx context.Context, companyID, leadID string) error
}

// inboundPayload is the message.received envelope's JSON payload shape.
type inboundPayload struct {
	ChannelInstanceID string         `json:"channel_instance_id"`
	From              string         `json:"from"`
	LeadExternalID    string         `json:"lead_external_id,omitempty"`
	Body              string         `json:"body,omitempty"`
	ChannelMessageID  string         `json:"channel_message_id,omitempty"`
	Media             map[string]any `json:"media,omitempty"`
	Raw               map[string]any `json:"raw,omitempty"`
}

// Handler implements the per-envelope C7 pipeline.
type Handler struct {
	claims      *idempotency.Store
	tenants     *tenant.Repository
	router      *channels.Router
	conversations *conversation.Repository
	leads       *conversation.LeadRepository
	messages    *conversation.MessageRepository
	enricher    *Enricher
	publisher   *bus.Publisher
	followups   FollowupCanceller
	logger      zerolog.Logger
}

// New builds a Handler over every collaborator C7 drives.
func New(
	claims *idempotency.Store,
	tenants *tenant.Repository,
	router *channels.Router,
	conversations *conversation.Repository,
	leads *conversation.LeadRepository,
	messages *conversation.MessageRepository,
	enricher *Enricher,
	publisher *bus.Publisher,
	followups FollowupCanceller,
	logger zerolog.Logger,
) *Handler {
	return &Handler{
		claims: claims, tenants: tenants, router: router, conversations: conversations,
		leads: leads, messages: messages, enricher: enricher, publisher: publisher,
		followups: followups, logger: logger,
	}
}

// HandleEnvelope runs the full §4.7 order of operations for one
// message.received envelope. It never returns an error for conditions the
// spec classifies as "drop" (invalid envelope, duplicate claim, secondary
// dedupe hit); those are logged and return nil so the consumer commits the
// offset and moves on.
func (h *Handler) HandleEnvelope(ctx context.Context, env domain.EventEnvelope) error {
	var payload inboundPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		h.logger.Warn().Err(err).Str("correlation_id", env.CorrelationID).Msg("inbound.invalid_payload")
		return nil
	}

	dedupeKey := "message.received:" + env.CorrelationID
	claimed, err := h.claims.Claim(ctx, env.CompanyID, claimConsumer, dedupeKey, claimTTL, idempotency.Claim{
		EventType: env.Type, EventID: env.ID, CorrelationID: env.CorrelationID,
	})
	if err != nil {
		return err
	}
	if !claimed {
		h.logger.Debug().Str("correlation_id", env.CorrelationID).Msg("inbound.duplicate")
		return nil
	}

	if err := h.process(ctx, env, payload); err != nil {
		_ = h.claims.Release(ctx, env.CompanyID, claimConsumer, dedupeKey)
		return err
	}
	return nil
}

func (h *Handler) process(ctx context.Context, env domain.EventEnvelope, payload inboundPayload) error {
	companyID := env.CompanyID

	instance, err := h.tenants.ResolveChannelInstance(ctx, companyID, payload.ChannelInstanceID)
	if err != nil {
		return err
	}

	normalized := h.router.NormalizeInbound(instance.ChannelType, channels.InboundPayload{
		InstanceID:     payload.ChannelInstanceID,
		From:           payload.From,
		LeadExternalID: payload.LeadExternalID,
		Body:           payload.Body,
		Media:          payload.Media,
		Raw:            payload.Raw,
	})

	lead, created, err := h.leads.GetOrCreateByPhone(ctx, companyID, normalized.LeadExternalID, instance.CenturionID)
	if err != nil {
		return err
	}
	if h.followups != nil {
		if err := h.followups.CancelPending(ctx, companyID, lead.ID); err != nil {
			h.logger.Warn().Err(err).Str("lead_id", lead.ID).Msg("inbound.cancel_followups_failed")
		}
	}

	centurion, err := h.tenants.GetCenturion(ctx, companyID, instance.CenturionID)
	if err != nil {
		return err
	}

	conv, err := h.conversations.GetOrCreate(ctx, companyID, lead.ID, centurion.ID, instance.ChannelType, instance.ID)
	if err != nil {
		return err
	}

	if payload.ChannelMessageID != "" {
		exists, err := h.messages.ChannelMessageExists(ctx, companyID, payload.ChannelMessageID)
		if err != nil {
			return err
		}
		if exists {
			h.logger.Debug().Str("channel_message_id", payload.ChannelMessageID).Msg("inbound.duplicate_channel_message")
			return nil
		}
	}

	var enrichment Result
	contentType := domain.ContentText
	if len(normalized.Media) > 0 && centurion.AllowMediaDownload && h.enricher != nil {
		enrichment = h.enricher.Enrich(ctx, companyID, conv.ID, normalized.Media)
		if mimeType, _ := normalized.Media["mime_type"].(string); mimeType != "" {
			contentType = mediaContentType(mimeType)
		}
	}

	text := normalized.Body
	if enrichment.Text() != "" {
		text = enrichment.Text()
	}
	if text == "" {
		text = normalized.Body
	}

	metadata := normalized.Raw
	if enrichment.AssetKey != "" {
		if metadata == nil {
			metadata = map[string]any{}
		}
		metadata["media_asset_key"] = enrichment.AssetKey
	}

	_, err = h.messages.Append(ctx, domain.Message{
		ConversationID:     conv.ID,
		CompanyID:          companyID,
		LeadID:             lead.ID,
		Direction:          domain.DirectionInbound,
		ContentType:        contentType,
		Content:            normalized.Body,
		AudioTranscription: enrichment.AudioTranscription,
		ImageDescription:   enrichment.ImageDescription,
		ChannelMessageID:   payload.ChannelMessageID,
		Metadata:           metadata,
	})
	if err != nil {
		return err
	}

	if created {
		leadEnv, err := domain.BuildEnvelope(bus.TopicLeadCreated, companyID, "inbound.handler", map[string]any{
			"lead_id": lead.ID, "phone": lead.Phone, "centurion_id": centurion.ID,
		}, env.CorrelationID, env.ID)
		if err != nil {
			return apperr.New(apperr.InvalidInput, "inbound.process", err)
		}
		if err := h.publisher.Publish(ctx, leadEnv); err != nil {
			return err
		}
	}

	now := time.Now().UTC()
	debounceUntil := now.Add(time.Duration(centurion.DebounceWaitMs) * time.Millisecond)
	if _, err := h.conversations.AppendPendingMessage(ctx, conv.ID, text, debounceUntil, now, nil); err != nil {
		return err
	}

	timerEnv, err := domain.BuildEnvelope(bus.TopicDebounceTimer, companyID, "inbound.handler", map[string]any{
		"conversation_id": conv.ID,
	}, env.CorrelationID, env.ID)
	if err != nil {
		return apperr.New(apperr.InvalidInput, "inbound.process", err)
	}
	return h.publisher.Publish(ctx, timerEnv)
}

func mediaContentType(mimeType string) domain.ContentType {
	switch {
	case strings.HasPrefix(mimeType, "audio/"):
		return domain.ContentAudio
	case strings.HasPrefix(mimeType, "image/"):
		return domain.ContentImage
	case strings.HasPrefix(mimeType, "video/"):
		return domain.ContentVideo
	default:
		return domain.ContentDocument
	}
}
