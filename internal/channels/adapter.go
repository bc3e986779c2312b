// Package channels implements the channel router and per-channel adapters
// (C5): inbound payload normalization, outbound capability filtering, and
// the WhatsApp/Instagram/Telegram specifics for nested webhook shapes.
package channels

import (
	"strings"
)

// InboundPayload is the raw shape a channel webhook hands the router,
// loosely typed since Evolution-API-style providers nest fields
// inconsistently across channels.
type InboundPayload struct {
	InstanceID     string         `json:"instance_id"`
	From           string         `json:"from"`
	LeadExternalID string         `json:"lead_external_id,omitempty"`
	Body           string         `json:"body,omitempty"`
	Media          map[string]any `json:"media,omitempty"`
	Raw            map[string]any `json:"raw,omitempty"`
}

// NormalizedInbound is the channel-agnostic shape every adapter produces.
type NormalizedInbound struct {
	FromID         string
	LeadExternalID string
	Body           string
	HasBody        bool
	Media          map[string]any
	Raw            map[string]any
}

// Capabilities declares which outbound content types a channel supports.
type Capabilities struct {
	OutboundTypes map[string]bool
}

// Supports reports whether msgType is in the capability set.
func (c Capabilities) Supports(msgType string) bool {
	return c.OutboundTypes[msgType]
}

func allTypes() Capabilities {
	return Capabilities{OutboundTypes: map[string]bool{
		"text": true, "image": true, "video": true, "audio": true, "document": true,
	}}
}

func textOnly() Capabilities {
	return Capabilities{OutboundTypes: map[string]bool{"text": true}}
}

// Adapter is the per-channel normalization/filtering contract.
type Adapter interface {
	ChannelType() string
	Capabilities() Capabilities
	NormalizeInbound(payload InboundPayload) NormalizedInbound
	FilterOutbound(messages []OutboundMessage) []OutboundMessage
}

// OutboundMessage is one chunk/media item awaiting channel capability
// filtering before being handed to C12.
type OutboundMessage struct {
	Type    string
	Text    string
	AssetID string
	Caption string
}

// baseAdapter is the default (whatsapp) behavior: passthrough sender
// normalization and the full capability set.
type baseAdapter struct {
	channelType  string
	capabilities Capabilities
}

func (b baseAdapter) ChannelType() string        { return b.channelType }
func (b baseAdapter) Capabilities() Capabilities { return b.capabilities }

func (b baseAdapter) normalizeSender(sender string) string { return sender }

func (b baseAdapter) NormalizeInbound(payload InboundPayload) NormalizedInbound {
	sender := b.normalizeSender(payload.From)
	leadExternal := payload.LeadExternalID
	if leadExternal == "" {
		leadExternal = sender
	}
	leadExternal = b.normalizeSender(leadExternal)

	raw := payload.Raw
	if raw == nil {
		raw = map[string]any{}
	}

	return NormalizedInbound{
		FromID:         sender,
		LeadExternalID: leadExternal,
		Body:           payload.Body,
		HasBody:        payload.Body != "",
		Media:          payload.Media,
		Raw:            raw,
	}
}

func (b baseAdapter) FilterOutbound(messages []OutboundMessage) []OutboundMessage {
	allowed := make([]OutboundMessage, 0, len(messages))
	for _, m := range messages {
		if m.Type == "" {
			continue
		}
		if b.capabilities.Supports(m.Type) {
			allowed = append(allowed, m)
		}
	}
	return allowed
}

func newWhatsAppAdapter() Adapter {
	return baseAdapter{channelType: "whatsapp", capabilities: allTypes()}
}

// prefixedAdapter embeds baseAdapter but prefixes the sender id and
// restricts capabilities to text, as Instagram/Telegram do in this
// runtime's source system.
type prefixedAdapter struct {
	baseAdapter
	prefix string
}

func (p prefixedAdapter) normalizeSender(sender string) string {
	if sender == "" {
		return sender
	}
	if strings.HasPrefix(sender, p.prefix) {
		return sender
	}
	return p.prefix + sender
}

func (p prefixedAdapter) NormalizeInbound(payload InboundPayload) NormalizedInbound {
	sender := p.normalizeSender(payload.From)
	leadExternal := payload.LeadExternalID
	if leadExternal == "" {
		leadExternal = payload.From
	}
	leadExternal = p.normalizeSender(leadExternal)

	raw := payload.Raw
	if raw == nil {
		raw = map[string]any{}
	}

	return NormalizedInbound{
		FromID:         sender,
		LeadExternalID: leadExternal,
		Body:           payload.Body,
		HasBody:        payload.Body != "",
		Media:          payload.Media,
		Raw:            raw,
	}
}

func (p prefixedAdapter) FilterOutbound(messages []OutboundMessage) []OutboundMessage {
	allowed := make([]OutboundMessage, 0, len(messages))
	for _, m := range messages {
		if m.Type == "" {
			continue
		}
		if p.capabilities.Supports(m.Type) {
			allowed = append(allowed, m)
		}
	}
	return allowed
}
