package memory

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"

	"centurion/internal/apperr"
	"centurion/internal/domain"
	"centurion/internal/persistence/databases"
)

// distanceThreshold is the similarity cutoff §4.10 specifies for long-term
// fact recall: only facts within this distance of the query are surfaced.
const distanceThreshold = 0.35

// Embedder turns text into a vector, the LLM-provided capability the
// long-term store needs beyond plain Chat.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// LongTerm is the vector-store-backed fact store for a lead's durable
// memories (preferences, budget, prior objections, etc.).
type LongTerm struct {
	vector   databases.VectorStore
	embedder Embedder
}

// NewLongTerm builds a LongTerm store over a vector backend and embedder.
func NewLongTerm(vector databases.VectorStore, embedder Embedder) *LongTerm {
	return &LongTerm{vector: vector, embedder: embedder}
}

// Remember embeds and upserts a new fact, keyed by a fresh id so repeated
// calls accumulate rather than overwrite.
func (l *LongTerm) Remember(ctx context.Context, fact domain.Fact) error {
	if l.vector == nil || l.embedder == nil {
		return nil
	}
	if fact.ID == "" {
		fact.ID = uuid.NewString()
	}
	vec, err := l.embedder.Embed(ctx, fact.Text)
	if err != nil {
		return apperr.New(apperr.LLMUnavailable, "memory.LongTerm.Remember", err)
	}
	meta := map[string]string{
		"lead_id":    fact.LeadID,
		"company_id": fact.CompanyID,
		"category":   fact.Category,
		"text":       fact.Text,
		"created_at": strconv.FormatInt(timeOrNow(fact.CreatedAt).Unix(), 10),
	}
	if err := l.vector.Upsert(ctx, fact.ID, vec, meta); err != nil {
		return apperr.New(apperr.TransientIO, "memory.LongTerm.Remember", err)
	}
	return nil
}

// TopFacts returns up to k facts for leadID whose distance to query is
// within distanceThreshold, as short bullet strings for prompt assembly.
func (l *LongTerm) TopFacts(ctx context.Context, leadID, query string, k int) ([]string, error) {
	if l.vector == nil || l.embedder == nil {
		return nil, nil
	}
	vec, err := l.embedder.Embed(ctx, query)
	if err != nil {
		return nil, apperr.New(apperr.LLMUnavailable, "memory.LongTerm.TopFacts", err)
	}
	results, err := l.vector.SimilaritySearch(ctx, vec, k, map[string]string{"lead_id": leadID})
	if err != nil {
		return nil, apperr.New(apperr.TransientIO, "memory.LongTerm.TopFacts", err)
	}

	var out []string
	for _, r := range results {
		// Scores are cosine similarities (higher is closer); the cosine
		// distance is 1 - score.
		if 1-r.Score > distanceThreshold {
			continue
		}
		if text := r.Metadata["text"]; text != "" {
			out = append(out, text)
		}
	}
	return out, nil
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}
