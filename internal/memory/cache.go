// Package memory implements the memory layer (C16): a Redis-backed
// short-term history cache in front of the message repository, a
// vector-store-backed long-term fact store, and the periodic cleanup worker
// that archives/prunes old data.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"centurion/internal/conversation"
	"centurion/internal/domain"
)

// historyTTL is the 60s cache window §4.16 specifies for GetHistory.
const historyTTL = 60 * time.Second

// ShortTerm is the cached front-end for MessageRepository.ListRecent.
type ShortTerm struct {
	client   redis.UniversalClient
	messages *conversation.MessageRepository
	logger   zerolog.Logger
}

// NewShortTerm builds a ShortTerm cache over a Redis client and the
// repository fallback.
func NewShortTerm(client redis.UniversalClient, messages *conversation.MessageRepository, logger zerolog.Logger) *ShortTerm {
	return &ShortTerm{client: client, messages: messages, logger: logger}
}

func historyKey(conversationID string, limit int) string {
	return fmt.Sprintf("conv:%s:history:%d", conversationID, limit)
}

// GetHistory returns up to limit recent messages for a conversation,
// reading through a 60s cache keyed by (conversation, limit) and falling
// back to (then populating from) the repository on a cache miss or any
// Redis error.
func (s *ShortTerm) GetHistory(ctx context.Context, conversationID string, limit int) ([]domain.Message, error) {
	key := historyKey(conversationID, limit)
	if cached, err := s.client.Get(ctx, key).Result(); err == nil {
		var msgs []domain.Message
		if jsonErr := json.Unmarshal([]byte(cached), &msgs); jsonErr == nil {
			return msgs, nil
		}
	}

	msgs, err := s.messages.ListRecent(ctx, conversationID, limit)
	if err != nil {
		return nil, err
	}

	if body, err := json.Marshal(msgs); err == nil {
		if err := s.client.Set(ctx, key, body, historyTTL).Err(); err != nil {
			s.logger.Warn().Err(err).Str("conversation_id", conversationID).Msg("memory.shortterm.cache_set_failed")
		}
	}
	return msgs, nil
}

// Invalidate removes the cache entry for a known limit, called after every
// completed dispatch so the next read is fresh.
// Only the caller's known limits are removed: the cache is keyed by limit,
// so an un-invalidated key simply expires within historyTTL.
func (s *ShortTerm) Invalidate(ctx context.Context, conversationID string, limits ...int) {
	for _, limit := range limits {
		if err := s.client.Del(ctx, historyKey(conversationID, limit)).Err(); err != nil {
			s.logger.Warn().Err(err).Str("conversation_id", conversationID).Msg("memory.shortterm.invalidate_failed")
		}
	}
}
