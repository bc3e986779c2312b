// Package apperr classifies errors into the handful of categories every
// worker loop in the runtime needs to decide retry/drop/surface behavior,
// mirroring the transient-vs-permanent split the bus dispatch handler used
// to make on error text alone.
package apperr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind is the error taxonomy from the error handling design.
type Kind string

const (
	// InvalidInput covers envelope, schema, and egress-policy validation
	// failures. Dropped with a warning log; never retried.
	InvalidInput Kind = "invalid_input"
	// Duplicate means an idempotency claim missed. Treated as success.
	Duplicate Kind = "duplicate"
	// TransientIO covers DB/cache/HTTP timeouts and bus publish failures.
	// Retried in-place where scoped, otherwise surfaced to the worker loop.
	TransientIO Kind = "transient_io"
	// LLMUnavailable triggers a deterministic fallback path.
	LLMUnavailable Kind = "llm_unavailable"
	// ExternalFailure is a tool-call failure returned to the agent as data,
	// never thrown.
	ExternalFailure Kind = "external_failure"
	// PolicyViolation is an egress or payload-limit rejection; never
	// silently bypassed.
	PolicyViolation Kind = "policy_violation"
	// StuckState marks a conversation healed by the watchdog.
	StuckState Kind = "stuck_state"
)

// Error wraps an underlying error with its taxonomy Kind.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err with the given Kind and operation name. Returns nil if err
// is nil, so it composes with `if err := ...; err != nil { return apperr.New(...) }`.
func New(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Is reports whether err (or anything it wraps) carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the Kind from err, defaulting to TransientIO for
// unclassified errors so worker loops fail safe toward "log and continue"
// rather than silently dropping something that might be retryable.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if looksTransient(err) {
		return TransientIO
	}
	return TransientIO
}

// looksTransient is a text heuristic fallback for errors surfaced by
// third-party clients (pgx, redis, kafka-go) that aren't wrapped through
// apperr.New, matching the bus dispatcher's original heuristic.
func looksTransient(err error) bool {
	if err == nil {
		return false
	}
	s := strings.ToLower(err.Error())
	for _, needle := range []string{"timeout", "temporary", "temporarily unavailable", "transient", "connection reset", "too many requests", "eof"} {
		if strings.Contains(s, needle) {
			return true
		}
	}
	return false
}
