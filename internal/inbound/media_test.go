package inbound

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"centurion/internal/egress"
	"centurion/internal/llm"
	"centurion/internal/objectstore"
)

type fakeProvider struct {
	reply llm.Message
	err   error
}

func (f *fakeProvider) Chat(ctx context.Context, msgs []llm.Message, tools []llm.ToolSchema, model string) (llm.Message, error) {
	return f.reply, f.err
}

func (f *fakeProvider) ChatStream(ctx context.Context, msgs []llm.Message, tools []llm.ToolSchema, model string, h llm.StreamHandler) error {
	return nil
}

func localPolicy() *egress.Policy {
	p := egress.NewPolicy(nil)
	p.BlockPrivateNetworks = false
	return p
}

func TestEnrich_AudioTranscriptionAndArchive(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "audio/ogg")
		_, _ = w.Write([]byte("fake-audio-bytes"))
	}))
	defer srv.Close()

	store := objectstore.NewMemoryStore()
	provider := &fakeProvider{reply: llm.Message{Content: "  oi, tudo bem?  "}}
	e := NewEnricher(localPolicy(), egress.DefaultPayloadLimits(), provider, srv.Client(), store, zerolog.Nop())

	res := e.Enrich(context.Background(), "co1", "conv1", map[string]any{
		"url": srv.URL, "mime_type": "audio/ogg",
	})

	require.Equal(t, "oi, tudo bem?", res.AudioTranscription)
	require.Empty(t, res.ImageDescription)
	require.NotEmpty(t, res.AssetKey)
	require.Contains(t, res.AssetKey, "media/co1/conv1/")
	require.Contains(t, res.AssetKey, ".ogg")

	exists, err := store.Exists(context.Background(), res.AssetKey)
	require.NoError(t, err)
	require.True(t, exists)
}

func TestEnrich_ImageDescription(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("fake-image-bytes"))
	}))
	defer srv.Close()

	provider := &fakeProvider{reply: llm.Message{Content: "a dog playing fetch"}}
	e := NewEnricher(localPolicy(), egress.DefaultPayloadLimits(), provider, srv.Client(), nil, zerolog.Nop())

	res := e.Enrich(context.Background(), "co1", "conv1", map[string]any{
		"url": srv.URL, "mime_type": "image/jpeg",
	})

	require.Equal(t, "a dog playing fetch", res.ImageDescription)
	require.Empty(t, res.AssetKey, "no object store configured, nothing should be archived")
}

func TestEnrich_NoMediaOrNoProviderReturnsZeroResult(t *testing.T) {
	e := NewEnricher(localPolicy(), egress.DefaultPayloadLimits(), nil, nil, nil, zerolog.Nop())
	res := e.Enrich(context.Background(), "co1", "conv1", map[string]any{"url": "http://example.com", "mime_type": "audio/ogg"})
	require.Equal(t, Result{}, res)

	e2 := NewEnricher(localPolicy(), egress.DefaultPayloadLimits(), &fakeProvider{}, nil, nil, zerolog.Nop())
	res2 := e2.Enrich(context.Background(), "co1", "conv1", nil)
	require.Equal(t, Result{}, res2)
}

func TestEnrich_MissingURLReturnsZeroResult(t *testing.T) {
	e := NewEnricher(localPolicy(), egress.DefaultPayloadLimits(), &fakeProvider{}, nil, nil, zerolog.Nop())
	res := e.Enrich(context.Background(), "co1", "conv1", map[string]any{"mime_type": "audio/ogg"})
	require.Equal(t, Result{}, res)
}

func TestEnrich_DownloadOverCapFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(make([]byte, 100))
	}))
	defer srv.Close()

	limits := egress.DefaultPayloadLimits()
	limits.STTAudioMaxBytes = 10

	e := NewEnricher(localPolicy(), limits, &fakeProvider{reply: llm.Message{Content: "should not be reached"}}, srv.Client(), objectstore.NewMemoryStore(), zerolog.Nop())
	res := e.Enrich(context.Background(), "co1", "conv1", map[string]any{"url": srv.URL, "mime_type": "audio/ogg"})
	require.Equal(t, Result{}, res)
}

func TestEnrich_TranscribeErrorKeepsAssetKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("fake-audio-bytes"))
	}))
	defer srv.Close()

	store := objectstore.NewMemoryStore()
	provider := &fakeProvider{err: context.DeadlineExceeded}
	e := NewEnricher(localPolicy(), egress.DefaultPayloadLimits(), provider, srv.Client(), store, zerolog.Nop())

	res := e.Enrich(context.Background(), "co1", "conv1", map[string]any{"url": srv.URL, "mime_type": "audio/ogg"})
	require.Empty(t, res.AudioTranscription)
	require.NotEmpty(t, res.AssetKey, "archival happens before transcription and should survive a transcription failure")
}

func TestResult_TextPrefersAudioOverImage(t *testing.T) {
	r := Result{AudioTranscription: "a", ImageDescription: "b"}
	require.Equal(t, "a", r.Text())

	r2 := Result{ImageDescription: "b"}
	require.Equal(t, "b", r2.Text())

	require.Equal(t, "", Result{}.Text())
}

func TestExtFor(t *testing.T) {
	cases := map[string]string{
		"audio/ogg":         ".ogg",
		"audio/ogg; codecs": ".ogg",
		"audio/mpeg":        ".mp3",
		"image/png":         ".png",
		"image/jpeg":        ".jpg",
		"video/mp4":         "",
		"":                  "",
	}
	for mime, want := range cases {
		require.Equal(t, want, extFor(mime), "mime=%s", mime)
	}
}
