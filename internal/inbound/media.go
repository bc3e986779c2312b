package inbound

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"centurion/internal/egress"
	"centurion/internal/llm"
	"centurion/internal/objectstore"
)

// Enricher downloads inbound media and derives a text representation
// (transcription for audio, description+OCR for images), falling back to
// the raw message body on any failure so enrichment never blocks delivery.
// When an object store is configured it also archives the downloaded bytes,
// since channel-hosted media URLs (WhatsApp, Telegram) typically expire
// within days and the agent may need to reference the asset again later.
type Enricher struct {
	policy     *egress.Policy
	limits     egress.PayloadLimits
	provider   llm.Provider
	httpClient *http.Client
	assets     objectstore.ObjectStore
	logger     zerolog.Logger
}

// NewEnricher builds an Enricher over the egress policy, payload limits, and
// LLM provider used for transcription/description. assets may be nil, in
// which case downloaded media is used transiently and never archived.
func NewEnricher(policy *egress.Policy, limits egress.PayloadLimits, provider llm.Provider, httpClient *http.Client, assets objectstore.ObjectStore, logger zerolog.Logger) *Enricher {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Enricher{policy: policy, limits: limits, provider: provider, httpClient: httpClient, assets: assets, logger: logger}
}

// Result carries whichever enrichment succeeded, to be both persisted on
// the Message row and folded into the pending text appended to C6.
type Result struct {
	AudioTranscription string
	ImageDescription   string
	// AssetKey is the object-store key of the archived media, set only when
	// an object store is configured and the archive write succeeded.
	AssetKey string
}

// Text returns whichever enrichment is set, for appending to the pending
// queue text; callers fall back to the raw body when both are empty.
func (r Result) Text() string {
	if r.AudioTranscription != "" {
		return r.AudioTranscription
	}
	return r.ImageDescription
}

// Enrich downloads the media described by media (expects "url" and
// "mime_type" keys, per channels.InboundPayload.Media) and derives text via
// the LLM integration. Any failure (egress rejection, download overflow,
// LLM error) yields a zero Result rather than an error, per §4.7.1's
// "fall back to raw body" contract. companyID/conversationID scope the
// archived object's key when an object store is configured.
func (e *Enricher) Enrich(ctx context.Context, companyID, conversationID string, media map[string]any) Result {
	if media == nil || e.provider == nil {
		return Result{}
	}
	url, _ := media["url"].(string)
	mimeType, _ := media["mime_type"].(string)
	if url == "" {
		return Result{}
	}

	capBytes := e.capFor(mimeType)
	data, err := e.download(ctx, url, capBytes)
	if err != nil || len(data) == 0 {
		return Result{}
	}
	assetKey := e.archive(ctx, companyID, conversationID, mimeType, data)

	switch {
	case strings.HasPrefix(mimeType, "audio/"):
		text, err := e.transcribe(ctx, data, mimeType)
		if err != nil {
			return Result{AssetKey: assetKey}
		}
		return Result{AudioTranscription: text, AssetKey: assetKey}
	case strings.HasPrefix(mimeType, "image/"):
		text, err := e.describe(ctx, data, mimeType)
		if err != nil {
			return Result{AssetKey: assetKey}
		}
		return Result{ImageDescription: text, AssetKey: assetKey}
	default:
		return Result{AssetKey: assetKey}
	}
}

// archive best-effort persists the downloaded bytes to the object store,
// returning the key on success and an empty string on any failure or when no
// store is configured. It never blocks enrichment on a storage outage.
func (e *Enricher) archive(ctx context.Context, companyID, conversationID, mimeType string, data []byte) string {
	if e.assets == nil {
		return ""
	}
	key := fmt.Sprintf("media/%s/%s/%s%s", companyID, conversationID, uuid.NewString(), extFor(mimeType))
	if _, err := e.assets.Put(ctx, key, bytes.NewReader(data), objectstore.PutOptions{ContentType: mimeType}); err != nil {
		e.logger.Warn().Err(err).Str("conversation_id", conversationID).Msg("inbound.media_archive_failed")
		return ""
	}
	return key
}

func extFor(mimeType string) string {
	switch {
	case strings.HasPrefix(mimeType, "audio/ogg"):
		return ".ogg"
	case strings.HasPrefix(mimeType, "audio/mpeg"):
		return ".mp3"
	case strings.HasPrefix(mimeType, "image/png"):
		return ".png"
	case strings.HasPrefix(mimeType, "image/jpeg"):
		return ".jpg"
	default:
		return ""
	}
}

func (e *Enricher) capFor(mimeType string) int64 {
	if strings.HasPrefix(mimeType, "audio/") {
		return e.limits.STTAudioMaxBytes
	}
	if strings.HasPrefix(mimeType, "image/") {
		return e.limits.VisionImageMaxBytes
	}
	return e.limits.MediaDownloadMaxBytes
}

// download streams the body through a hard byte cap: it honors
// Content-Length when present, and otherwise aborts the read the instant it
// would exceed cap, never buffering more than cap+1 bytes.
func (e *Enricher) download(ctx context.Context, url string, capBytes int64) ([]byte, error) {
	if err := e.policy.AssertAllowed(ctx, url); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("media download: status %d", resp.StatusCode)
	}
	if cl := resp.Header.Get("Content-Length"); cl != "" {
		if n, err := strconv.ParseInt(cl, 10, 64); err == nil && n > capBytes {
			return nil, fmt.Errorf("media download: content-length %d exceeds cap %d", n, capBytes)
		}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, capBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > capBytes {
		return nil, fmt.Errorf("media download: body exceeds cap %d", capBytes)
	}
	return data, nil
}

func (e *Enricher) transcribe(ctx context.Context, data []byte, mimeType string) (string, error) {
	prompt := fmt.Sprintf("Transcribe the spoken content of this base64-encoded %s audio clip. Respond with the transcription only.\n\n%s", mimeType, base64.StdEncoding.EncodeToString(data))
	reply, err := e.provider.Chat(ctx, []llm.Message{
		{Role: "system", Content: "You transcribe audio messages from sales conversations."},
		{Role: "user", Content: prompt},
	}, nil, "")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(reply.Content), nil
}

func (e *Enricher) describe(ctx context.Context, data []byte, mimeType string) (string, error) {
	reply, err := e.provider.Chat(ctx, []llm.Message{
		{Role: "system", Content: "Describe this image for a sales agent and transcribe any visible text (OCR)."},
		{Role: "user", Content: "Describe the attached image and transcribe any text it contains.", Images: []llm.GeneratedImage{{Data: data, MIMEType: mimeType}}},
	}, nil, "")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(reply.Content), nil
}
