package prompt

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExtractMediaPlan_SingleObject(t *testing.T) {
	raw := "Here's your invoice.\n```media\n{\"asset_id\":\"a1\",\"type\":\"document\",\"caption\":\"Invoice\"}\n```"
	text, items := ExtractMediaPlan(raw)
	require.Equal(t, "Here's your invoice.", text)
	require.Len(t, items, 1)
	require.Equal(t, MediaItem{AssetID: "a1", Type: "document", Caption: "Invoice"}, items[0])
}

func TestExtractMediaPlan_Array(t *testing.T) {
	raw := "Take a look:\n```media\n[{\"asset_id\":\"a1\",\"type\":\"image\"},{\"asset_id\":\"a2\",\"type\":\"audio\"}]\n```"
	text, items := ExtractMediaPlan(raw)
	require.Equal(t, "Take a look:", text)
	require.Len(t, items, 2)
	require.Equal(t, "a1", items[0].AssetID)
	require.Equal(t, "a2", items[1].AssetID)
}

func TestExtractMediaPlan_DropsInvalidEntries(t *testing.T) {
	raw := "```media\n[{\"asset_id\":\"\",\"type\":\"image\"},{\"asset_id\":\"ok\",\"type\":\"carrier-pigeon\"},{\"asset_id\":\"a1\",\"type\":\"video\"}]\n```"
	_, items := ExtractMediaPlan(raw)
	require.Len(t, items, 1)
	require.Equal(t, "a1", items[0].AssetID)
}

func TestExtractMediaPlan_CapsAtMaxItems(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("```media\n[")
	for i := 0; i < maxMediaItems+3; i++ {
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString(`{"asset_id":"a","type":"image"}`)
	}
	sb.WriteString("]\n```")

	_, items := ExtractMediaPlan(sb.String())
	require.Len(t, items, maxMediaItems)
}

func TestExtractMediaPlan_NoFenceReturnsRawUnchanged(t *testing.T) {
	text, items := ExtractMediaPlan("just a normal reply")
	require.Equal(t, "just a normal reply", text)
	require.Nil(t, items)
}

func TestChunkText_FitsInOneChunk(t *testing.T) {
	got := ChunkText("short reply", 100, true)
	require.Equal(t, []string{"short reply"}, got)
}

func TestChunkText_DisabledIsNoop(t *testing.T) {
	long := strings.Repeat("word ", 100)
	got := ChunkText(long, 10, false)
	require.Len(t, got, 1)
}

func TestChunkText_EmptyReturnsNil(t *testing.T) {
	require.Nil(t, ChunkText("   ", 10, true))
}

func TestChunkText_PacksWholeSentences(t *testing.T) {
	text := "First sentence. Second sentence. Third one here."
	chunks := ChunkText(text, 20, true)
	require.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		require.LessOrEqual(t, len(c), 20+1) // allow trailing punctuation slack from trim
	}
}

func TestChunkText_HardSplitsOversizedSentence(t *testing.T) {
	oneWord := strings.Repeat("a", 50)
	chunks := ChunkText(oneWord, 10, true)
	require.Equal(t, 5, len(chunks))
	for _, c := range chunks {
		require.LessOrEqual(t, len(c), 10)
	}
}
