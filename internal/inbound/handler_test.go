package inbound

import (
	"testing"

	"github.com/stretchr/testify/require"

	"centurion/internal/domain"
)

func TestMediaContentType(t *testing.T) {
	cases := map[string]domain.ContentType{
		"audio/ogg":              domain.ContentAudio,
		"audio/mpeg":             domain.ContentAudio,
		"image/png":              domain.ContentImage,
		"image/jpeg":             domain.ContentImage,
		"video/mp4":              domain.ContentVideo,
		"application/pdf":        domain.ContentDocument,
		"":                       domain.ContentDocument,
	}
	for mime, want := range cases {
		require.Equal(t, want, mediaContentType(mime), "mime=%s", mime)
	}
}
