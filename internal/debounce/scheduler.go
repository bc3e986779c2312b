// Package debounce implements the debounce scheduler (C8): a polling loop
// that claims each due conversation's per-conversation lock and hands it to
// dispatch, leaving lock contention to resolve races between runtime
// instances.
package debounce

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"centurion/internal/conversation"
	"centurion/internal/lock"
)

// Dispatcher is the C10 entrypoint the scheduler invokes once a
// conversation's lock is held.
type Dispatcher interface {
	Dispatch(ctx context.Context, conversationID string) error
}

// Scheduler is the task.Runnable polling loop for C8.
type Scheduler struct {
	conversations *conversation.Repository
	locks         *lock.Manager
	dispatcher    Dispatcher
	logger        zerolog.Logger

	pollInterval time.Duration
	batchSize    int
	lockTTL      time.Duration
	lockRefresh  time.Duration
}

// New builds a Scheduler with the given polling/batch/lock tuning.
func New(conversations *conversation.Repository, locks *lock.Manager, dispatcher Dispatcher, logger zerolog.Logger, pollInterval time.Duration, batchSize int, lockTTL, lockRefresh time.Duration) *Scheduler {
	return &Scheduler{
		conversations: conversations, locks: locks, dispatcher: dispatcher, logger: logger,
		pollInterval: pollInterval, batchSize: batchSize, lockTTL: lockTTL, lockRefresh: lockRefresh,
	}
}

// Run polls FindDue every pollInterval until ctx is canceled.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	due, err := s.conversations.FindDue(ctx, s.batchSize)
	if err != nil {
		s.logger.Error().Err(err).Msg("debounce.scheduler.find_due_failed")
		return
	}
	for _, conv := range due {
		acquired, err := s.locks.Hold(ctx, conv.ID, s.lockTTL, s.lockRefresh, func(ctx context.Context) error {
			return s.dispatcher.Dispatch(ctx, conv.ID)
		})
		if err != nil {
			s.logger.Error().Err(err).Str("conversation_id", conv.ID).Msg("debounce.scheduler.dispatch_failed")
			continue
		}
		if !acquired {
			s.logger.Debug().Str("conversation_id", conv.ID).Msg("debounce.scheduler.lock_contended")
		}
	}
}

// Close is a no-op; Scheduler owns no resources beyond its collaborators.
func (s *Scheduler) Close() error { return nil }
