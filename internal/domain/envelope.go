// Package domain holds the shared data model for the conversational-sales
// runtime: the event envelope that crosses the bus, and the persisted
// aggregates (conversations, leads, messages, qualification state) that
// every component reads and writes.
package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventEnvelope is the canonical wire shape for every message that crosses
// the bus, mirroring the topic-per-type convention: topic name equals Type.
type EventEnvelope struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	Version       int             `json:"version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	CompanyID     string          `json:"company_id"`
	Source        string          `json:"source"`
	CorrelationID string          `json:"correlation_id"`
	CausationID   string          `json:"causation_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

// EventParseError classifies why an envelope failed validation, matching the
// reason taxonomy used across the pipeline for metrics/logging.
type EventParseError struct {
	Reason string
	Err    error
}

func (e *EventParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("event envelope %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("event envelope %s", e.Reason)
}

func (e *EventParseError) Unwrap() error { return e.Err }

const (
	ReasonMissingField   = "missing_field"
	ReasonInvalidJSON    = "invalid_json"
	ReasonInvalidVersion = "invalid_version"
	ReasonEmptyPayload   = "empty_payload"
)

// ParseEnvelope validates and normalizes a raw bus message into an
// EventEnvelope. It never returns a zero-value envelope on success.
func ParseEnvelope(raw []byte) (EventEnvelope, error) {
	var env EventEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return EventEnvelope{}, &EventParseError{Reason: ReasonInvalidJSON, Err: err}
	}
	if env.Type == "" {
		return EventEnvelope{}, &EventParseError{Reason: ReasonMissingField, Err: fmt.Errorf("type")}
	}
	if env.CompanyID == "" {
		return EventEnvelope{}, &EventParseError{Reason: ReasonMissingField, Err: fmt.Errorf("company_id")}
	}
	if len(env.Payload) == 0 {
		return EventEnvelope{}, &EventParseError{Reason: ReasonEmptyPayload}
	}
	if env.Version < 0 {
		return EventEnvelope{}, &EventParseError{Reason: ReasonInvalidVersion}
	}
	if env.ID == "" {
		env.ID = uuid.NewString()
	}
	if env.OccurredAt.IsZero() {
		env.OccurredAt = time.Now().UTC()
	} else {
		env.OccurredAt = env.OccurredAt.UTC()
	}
	if env.Version == 0 {
		env.Version = 1
	}
	if env.CorrelationID == "" {
		env.CorrelationID = env.ID
	}
	return env, nil
}

// BuildEnvelope constructs a fresh outbound envelope, auto-generating id and
// occurred_at and defaulting correlation_id to the new id when the caller
// doesn't chain one from an inbound event.
func BuildEnvelope(eventType, companyID, source string, payload any, correlationID, causationID string) (EventEnvelope, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return EventEnvelope{}, fmt.Errorf("marshal payload: %w", err)
	}
	id := uuid.NewString()
	if correlationID == "" {
		correlationID = id
	}
	return EventEnvelope{
		ID:            id,
		Type:          eventType,
		Version:       1,
		OccurredAt:    time.Now().UTC(),
		CompanyID:     companyID,
		Source:        source,
		CorrelationID: correlationID,
		CausationID:   causationID,
		Payload:       body,
	}, nil
}
