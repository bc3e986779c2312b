package prompt

import (
	"testing"

	"github.com/stretchr/testify/require"

	"centurion/internal/domain"
)

func TestBuildPrompt_SystemHistoryAndConsolidated(t *testing.T) {
	ctx := Context{
		Persona:       "You are a helpful sales agent.",
		LongTermFacts: []string{"prefers morning calls"},
		KnowledgeSnippets: []KnowledgeSnippet{
			{Title: "Pricing", Text: "Plans start at $10/mo."},
		},
		MediaCapable: true,
		History: []domain.Message{
			{Direction: domain.DirectionInbound, Content: "hi"},
			{Direction: domain.DirectionOutbound, Content: "hello, how can I help?"},
		},
		PendingCount:     0,
		ConsolidatedText: "I want to know more about pricing",
	}

	msgs := BuildPrompt(ctx)
	require.Len(t, msgs, 4)

	require.Equal(t, "system", msgs[0].Role)
	require.Contains(t, msgs[0].Content, "You are a helpful sales agent.")
	require.Contains(t, msgs[0].Content, "prefers morning calls")
	require.Contains(t, msgs[0].Content, "Pricing")
	require.Contains(t, msgs[0].Content, mediaToolInstructions)

	require.Equal(t, "user", msgs[1].Role)
	require.Equal(t, "hi", msgs[1].Content)
	require.Equal(t, "assistant", msgs[2].Role)

	require.Equal(t, "user", msgs[3].Role)
	require.Equal(t, "I want to know more about pricing", msgs[3].Content)
}

func TestBuildPrompt_NoExtrasOmitsSections(t *testing.T) {
	ctx := Context{Persona: "Bare persona", ConsolidatedText: "hey"}
	msgs := BuildPrompt(ctx)
	require.Equal(t, "Bare persona", msgs[0].Content)
}

func TestDisplayText_PrefersEnrichmentOverRawContent(t *testing.T) {
	require.Equal(t, "transcribed audio", displayText(domain.Message{
		Content:            "raw bytes",
		AudioTranscription: "transcribed audio",
	}))
	require.Equal(t, "a photo of a cat", displayText(domain.Message{
		Content:          "raw bytes",
		ImageDescription: "a photo of a cat",
	}))
	require.Equal(t, "plain text", displayText(domain.Message{Content: "plain text"}))
}

func TestTrimPending_DropsOnlyTrailingInboundTurns(t *testing.T) {
	history := []domain.Message{
		{Direction: domain.DirectionInbound, Content: "1"},
		{Direction: domain.DirectionOutbound, Content: "2"},
		{Direction: domain.DirectionInbound, Content: "3"},
		{Direction: domain.DirectionInbound, Content: "4"},
	}

	got := TrimPending(history, 2)
	require.Len(t, got, 2)
	require.Equal(t, "1", got[0].Content)
	require.Equal(t, "2", got[1].Content)
}

func TestTrimPending_ZeroOrEmptyIsNoop(t *testing.T) {
	history := []domain.Message{{Content: "1"}}
	require.Equal(t, history, TrimPending(history, 0))
	require.Nil(t, TrimPending(nil, 3))
}

func TestTrimPending_StopsAtStartIfFewerInboundThanRequested(t *testing.T) {
	history := []domain.Message{
		{Direction: domain.DirectionOutbound, Content: "only outbound"},
	}
	got := TrimPending(history, 5)
	require.Equal(t, history, got)
}
