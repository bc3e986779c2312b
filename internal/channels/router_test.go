package channels

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func newTestRouter() *Router {
	return NewRouter(zerolog.Nop())
}

func TestNormalizeInbound_WhatsAppPassthrough(t *testing.T) {
	r := newTestRouter()
	n := r.NormalizeInbound("whatsapp", InboundPayload{From: "5511999999999", Body: "oi"})
	require.Equal(t, "5511999999999", n.FromID)
	require.Equal(t, "oi", n.Body)
}

func TestNormalizeInbound_UnknownChannelFallsBackToWhatsApp(t *testing.T) {
	r := newTestRouter()
	n := r.NormalizeInbound("carrier-pigeon", InboundPayload{From: "abc", Body: "hi"})
	require.Equal(t, "abc", n.FromID)
}

func TestNormalizeInbound_InstagramPrefixesSender(t *testing.T) {
	r := newTestRouter()
	n := r.NormalizeInbound("instagram", InboundPayload{From: "123", Body: "hello"})
	require.Equal(t, "instagram:123", n.FromID)
}

func TestNormalizeInbound_InstagramStoryMention(t *testing.T) {
	r := newTestRouter()
	n := r.NormalizeInbound("instagram", InboundPayload{
		From: "123",
		Raw:  map[string]any{"is_story": true},
	})
	require.Equal(t, "[instagram] story mention", n.Body)
}

func TestNormalizeInbound_InstagramExtractsNestedEvolutionText(t *testing.T) {
	r := newTestRouter()
	n := r.NormalizeInbound("instagram", InboundPayload{
		From: "123",
		Raw: map[string]any{
			"data": map[string]any{
				"message": map[string]any{
					"conversation": "nested text",
				},
			},
		},
	})
	require.Equal(t, "nested text", n.Body)
}

func TestNormalizeInbound_TelegramLiftsCommandPrefix(t *testing.T) {
	r := newTestRouter()
	n := r.NormalizeInbound("telegram", InboundPayload{
		From: "555",
		Body: "/start onboarding",
	})
	require.Equal(t, "/start onboarding", n.Body)
	tg := n.Raw["telegram"].(map[string]any)
	require.Equal(t, "/start", tg["command"])
}

func TestNormalizeInbound_TelegramExtractsFromNestedUpdate(t *testing.T) {
	r := newTestRouter()
	n := r.NormalizeInbound("telegram", InboundPayload{
		From: "555",
		Raw: map[string]any{
			"update": map[string]any{
				"message": map[string]any{
					"message_id": float64(42),
					"text":       "hello from telegram",
				},
			},
		},
	})
	require.Equal(t, "hello from telegram", n.Body)
	require.Equal(t, "42", n.Raw["message_id"])
}

func TestFilterOutbound_WhatsAppAllowsAllTypes(t *testing.T) {
	r := newTestRouter()
	msgs := []OutboundMessage{{Type: "text"}, {Type: "image"}, {Type: "audio"}}
	require.Len(t, r.FilterOutbound("whatsapp", msgs), 3)
}

func TestFilterOutbound_TelegramDropsNonText(t *testing.T) {
	r := newTestRouter()
	msgs := []OutboundMessage{{Type: "text"}, {Type: "image"}}
	out := r.FilterOutbound("telegram", msgs)
	require.Len(t, out, 1)
	require.Equal(t, "text", out[0].Type)
}

func TestCapabilities_Instagram(t *testing.T) {
	r := newTestRouter()
	caps := r.Capabilities("instagram")
	require.True(t, caps.Supports("text"))
	require.False(t, caps.Supports("video"))
}
