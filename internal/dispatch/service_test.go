package dispatch

import (
	"testing"

	"github.com/stretchr/testify/require"

	"centurion/internal/domain"
)

func TestHistoryWindow_NarrowKnownModelDerates(t *testing.T) {
	require.Equal(t, compactHistoryLimit, historyWindow("gpt-4"))
}

func TestHistoryWindow_WideKnownModelUsesDefault(t *testing.T) {
	require.Equal(t, historyLimit, historyWindow("gpt-4o"))
	require.Equal(t, historyLimit, historyWindow("gpt-4.1"))
}

func TestHistoryWindow_UnknownModelUsesDefault(t *testing.T) {
	require.Equal(t, historyLimit, historyWindow("some-unreleased-model"))
	require.Equal(t, historyLimit, historyWindow(""))
}

func TestContentTypeOf(t *testing.T) {
	require.Equal(t, domain.ContentImage, contentTypeOf("image"))
	require.Equal(t, domain.ContentAudio, contentTypeOf("audio"))
	require.Equal(t, domain.ContentVideo, contentTypeOf("video"))
	require.Equal(t, domain.ContentDocument, contentTypeOf("document"))
	require.Equal(t, domain.ContentText, contentTypeOf("text"))
	require.Equal(t, domain.ContentText, contentTypeOf("unknown"))
}

func TestToolErrorMessage(t *testing.T) {
	msg := toolErrorMessage("tool-1", require.AnError)
	require.Equal(t, "tool", msg.Role)
	require.Equal(t, "tool-1", msg.ToolID)
	require.Contains(t, msg.Content, require.AnError.Error())
	require.Contains(t, msg.Content, `"ok":false`)
}
