package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// defaultEmbeddingModel matches the small-embedding default most
// OpenAI-compatible deployments ship with; override per client by setting
// ExtraParams["embedding_model"].
const defaultEmbeddingModel = "text-embedding-3-small"

// Embed returns a single embedding vector for text via the raw /embeddings
// endpoint, used by the long-term memory store (C16) to index facts and
// query them by similarity. Raw HTTP here mirrors tokenizeCount's fallback
// pattern rather than the SDK client, since embeddings aren't part of the
// chat/responses surface this client otherwise wraps.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	model := defaultEmbeddingModel
	if m, ok := c.extra["embedding_model"].(string); ok && m != "" {
		model = m
	}

	base := strings.TrimSuffix(strings.TrimSpace(c.baseURL), "/")
	if base == "" {
		base = "https://api.openai.com/v1"
	}
	body, err := json.Marshal(map[string]any{"model": model, "input": text})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embeddings: status %d: %s", resp.StatusCode, string(raw))
	}

	var parsed struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, err
	}
	if len(parsed.Data) == 0 {
		return nil, fmt.Errorf("embeddings: empty response")
	}
	return parsed.Data[0].Embedding, nil
}
