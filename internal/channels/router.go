package channels

import (
	"fmt"

	"github.com/rs/zerolog"
)

// Router dispatches inbound normalization and outbound filtering to the
// adapter registered for a channel type, falling back to whatsapp for
// unknown types.
type Router struct {
	adapters map[string]Adapter
	logger   zerolog.Logger
}

// NewRouter builds the default registry: whatsapp, instagram, telegram.
func NewRouter(logger zerolog.Logger) *Router {
	return &Router{
		adapters: map[string]Adapter{
			"whatsapp":  newWhatsAppAdapter(),
			"instagram": newInstagramAdapter(),
			"telegram":  newTelegramAdapter(),
		},
		logger: logger,
	}
}

func (r *Router) adapterFor(channelType string) Adapter {
	if a, ok := r.adapters[channelType]; ok {
		return a
	}
	return r.adapters["whatsapp"]
}

// NormalizeInbound validates and normalizes payload for channelType. A
// payload missing required identity fields still normalizes against a
// minimal reconstruction rather than being dropped, matching the
// distilled-schema fallback behavior.
func (r *Router) NormalizeInbound(channelType string, payload InboundPayload) NormalizedInbound {
	adapter := r.adapterFor(channelType)
	if payload.From == "" && payload.InstanceID == "" {
		r.logger.Warn().Str("channel_type", channelType).Msg("channel_router.invalid_payload")
	}
	return adapter.NormalizeInbound(payload)
}

// Capabilities returns the outbound capability set for channelType.
func (r *Router) Capabilities(channelType string) Capabilities {
	return r.adapterFor(channelType).Capabilities()
}

// FilterOutbound drops outbound messages unsupported by channelType,
// logging how many were dropped.
func (r *Router) FilterOutbound(channelType string, messages []OutboundMessage) []OutboundMessage {
	adapter := r.adapterFor(channelType)
	filtered := adapter.FilterOutbound(messages)
	if dropped := len(messages) - len(filtered); dropped > 0 {
		r.logger.Info().Str("channel_type", channelType).Int("dropped", dropped).Msg("channel_router.outbound_filtered")
	}
	return filtered
}

func copyRaw(raw map[string]any) map[string]any {
	out := make(map[string]any, len(raw)+2)
	for k, v := range raw {
		out[k] = v
	}
	return out
}

func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return t != ""
	case nil:
		return false
	default:
		return true
	}
}

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
