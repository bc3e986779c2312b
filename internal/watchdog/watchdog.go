// Package watchdog implements the watchdog (C9): a polling loop that
// recovers conversations stuck in the processing state after a crashed or
// hung dispatch, so a dead runtime instance can never wedge a conversation
// forever.
package watchdog

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"centurion/internal/conversation"
)

// Watchdog is the task.Runnable polling loop for C9.
type Watchdog struct {
	conversations *conversation.Repository
	logger        zerolog.Logger

	pollInterval time.Duration
	stuckAfter   time.Duration
	batchSize    int
}

// New builds a Watchdog with the given polling/staleness/batch tuning.
func New(conversations *conversation.Repository, logger zerolog.Logger, pollInterval, stuckAfter time.Duration, batchSize int) *Watchdog {
	return &Watchdog{conversations: conversations, logger: logger, pollInterval: pollInterval, stuckAfter: stuckAfter, batchSize: batchSize}
}

// Run polls for stuck conversations every pollInterval until ctx is canceled.
func (w *Watchdog) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

func (w *Watchdog) tick(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-w.stuckAfter)
	stuck, err := w.conversations.FindStuckProcessing(ctx, cutoff, w.batchSize)
	if err != nil {
		w.logger.Error().Err(err).Msg("watchdog.find_stuck_failed")
		return
	}
	for _, conv := range stuck {
		if err := w.conversations.Recover(ctx, conv); err != nil {
			w.logger.Error().Err(err).Str("conversation_id", conv.ID).Msg("watchdog.recover_failed")
			continue
		}
		w.logger.Warn().Str("conversation_id", conv.ID).Int("pending_count", len(conv.PendingMessages)).Msg("watchdog.recovered")
	}
}

// Close is a no-op; Watchdog owns no resources beyond its collaborators.
func (w *Watchdog) Close() error { return nil }
