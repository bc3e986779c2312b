package memory

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"centurion/internal/conversation"
	"centurion/internal/idempotency"
)

// archiveAfter is the §4.16 inactive-conversation archival window.
const archiveAfter = 30 * 24 * time.Hour

// sessionBlobAfter is how long agno_session blobs live before pruning.
const sessionBlobAfter = 90 * 24 * time.Hour

// botMemoryAfter is how long bot-generated user memories live before pruning.
const botMemoryAfter = 180 * 24 * time.Hour

// batchSize bounds how much cleanup work one tick does, per the backpressure
// note in spec.md §5.
const batchSize = 500

// Cleanup is the periodic memory/idempotency housekeeping task.Runnable.
type Cleanup struct {
	messages *conversation.MessageRepository
	claims   *idempotency.Store
	pruner   BlobPruner
	logger   zerolog.Logger
	interval time.Duration
}

// BlobPruner deletes aged ancillary rows the core repositories don't own:
// agno_session blobs and bot-generated user memories. Kept as a narrow
// interface so Cleanup doesn't need direct SQL access to tables outside the
// domain model.
type BlobPruner interface {
	PruneSessionBlobs(ctx context.Context, olderThan time.Time, limit int) (int, error)
	PruneBotMemories(ctx context.Context, olderThan time.Time, limit int) (int, error)
}

// NewCleanup builds the cleanup worker over its collaborators.
func NewCleanup(messages *conversation.MessageRepository, claims *idempotency.Store, pruner BlobPruner, logger zerolog.Logger, interval time.Duration) *Cleanup {
	return &Cleanup{messages: messages, claims: claims, pruner: pruner, logger: logger, interval: interval}
}

// Run ticks every interval until ctx is canceled.
func (c *Cleanup) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.tick(ctx)
		}
	}
}

func (c *Cleanup) tick(ctx context.Context) {
	now := time.Now().UTC()

	if n, err := c.messages.ArchiveOlderThan(ctx, now.Add(-archiveAfter), batchSize); err != nil {
		c.logger.Error().Err(err).Msg("memory.cleanup.archive_failed")
	} else if n > 0 {
		c.logger.Info().Int("archived", n).Msg("memory.cleanup.archived_messages")
	}

	if c.pruner != nil {
		if n, err := c.pruner.PruneSessionBlobs(ctx, now.Add(-sessionBlobAfter), batchSize); err != nil {
			c.logger.Error().Err(err).Msg("memory.cleanup.prune_sessions_failed")
		} else if n > 0 {
			c.logger.Info().Int("pruned", n).Msg("memory.cleanup.pruned_sessions")
		}

		if n, err := c.pruner.PruneBotMemories(ctx, now.Add(-botMemoryAfter), batchSize); err != nil {
			c.logger.Error().Err(err).Msg("memory.cleanup.prune_bot_memories_failed")
		} else if n > 0 {
			c.logger.Info().Int("pruned", n).Msg("memory.cleanup.pruned_bot_memories")
		}
	}

	if n, err := c.claims.CleanupExpired(ctx, batchSize); err != nil {
		c.logger.Error().Err(err).Msg("memory.cleanup.expired_claims_failed")
	} else if n > 0 {
		c.logger.Info().Int("removed", n).Msg("memory.cleanup.expired_claims")
	}
}

// Close is a no-op; Cleanup owns no resources beyond its collaborators.
func (c *Cleanup) Close() error { return nil }
