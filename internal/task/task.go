// Package task defines the cooperative-cancellable-loop contract every
// background worker in the runtime (bus consumer, debounce scheduler,
// watchdog, follow-up worker, memory cleanup) implements, and a supervisor
// that runs them together.
package task

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Runnable is a long-lived worker loop. Run blocks until ctx is canceled or
// a fatal error occurs; Close releases any resources and is safe to call
// more than once.
type Runnable interface {
	Run(ctx context.Context) error
	Close() error
}

// Supervisor runs a fixed set of Runnables together, canceling all of them
// as soon as one returns a non-nil error.
type Supervisor struct {
	tasks []Runnable
}

// NewSupervisor builds a Supervisor over the given tasks.
func NewSupervisor(tasks ...Runnable) *Supervisor {
	return &Supervisor{tasks: tasks}
}

// Run starts every task and blocks until ctx is done or one task fails.
// It always attempts to Close every task before returning.
func (s *Supervisor) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, t := range s.tasks {
		t := t
		g.Go(func() error {
			return t.Run(gctx)
		})
	}
	err := g.Wait()
	for _, t := range s.tasks {
		_ = t.Close()
	}
	return err
}
