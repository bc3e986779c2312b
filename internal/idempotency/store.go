// Package idempotency implements the exactly-once claim store (C2): a
// Postgres-backed upsert-on-expired row that lets every consumer in the
// pipeline (inbound handler, outbound sender, dispatch's qualification
// event) de-duplicate work keyed by (company, consumer, dedupe key).
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"centurion/internal/apperr"
)

// minTTL is the floor spec.md mandates: "TTL is floored at 30 s."
const minTTL = 30 * time.Second

// maxKeyLen is the dedupe-key truncation boundary.
const maxKeyLen = 512

// Claim is the metadata persisted alongside an idempotency row.
type Claim struct {
	EventType     string
	EventID       string
	CorrelationID string
	CausationID   string
	Metadata      map[string]any
}

// Store is the Postgres-backed idempotency claim store.
type Store struct {
	pool *pgxpool.Pool
}

// New wraps a connection pool as a Store.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Claim returns true iff it inserted a new row or replaced an expired one
// for (companyID, consumer, key). ttl is floored at 30s; key is truncated
// to 512 chars. A second claim for an unexpired key returns false.
func (s *Store) Claim(ctx context.Context, companyID, consumer, key string, ttl time.Duration, claim Claim) (bool, error) {
	ttl = normalizeTTL(ttl)
	dedupeKey := truncateKey(key)

	meta := claim.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	metaBytes, err := json.Marshal(meta)
	if err != nil {
		return false, apperr.New(apperr.InvalidInput, "idempotency.Claim", err)
	}
	payloadHash := sha256.Sum256(metaBytes)

	var id string
	err = s.pool.QueryRow(ctx, `
		insert into core.event_consumptions (
			company_id, consumer, dedupe_key, event_type, event_id,
			correlation_id, causation_id, metadata, expires_at
		)
		values (
			$1, $2, $3, $4, $5, $6, $7,
			coalesce($8::jsonb, '{}'::jsonb) || jsonb_build_object('payload_hash', $9::text),
			now() + ($10::int * interval '1 second')
		)
		on conflict (company_id, consumer, dedupe_key) do update
		set event_type = excluded.event_type,
		    event_id = excluded.event_id,
		    correlation_id = excluded.correlation_id,
		    causation_id = excluded.causation_id,
		    metadata = excluded.metadata,
		    expires_at = excluded.expires_at
		where core.event_consumptions.expires_at <= now()
		returning id
	`,
		companyID, consumer, dedupeKey, nullable(claim.EventType), nullable(claim.EventID),
		nullable(claim.CorrelationID), nullable(claim.CausationID), metaBytes,
		hex.EncodeToString(payloadHash[:]), int(ttl.Seconds()),
	).Scan(&id)

	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, apperr.New(apperr.TransientIO, "idempotency.Claim", err)
	}
	return id != "", nil
}

// Release unconditionally deletes a claim so the bus may redeliver.
func (s *Store) Release(ctx context.Context, companyID, consumer, key string) error {
	dedupeKey := truncateKey(key)
	_, err := s.pool.Exec(ctx, `
		delete from core.event_consumptions
		where company_id = $1 and consumer = $2 and dedupe_key = $3
	`, companyID, consumer, dedupeKey)
	if err != nil {
		return apperr.New(apperr.TransientIO, "idempotency.Release", err)
	}
	return nil
}

// CleanupExpired deletes up to limit oldest-first expired rows and returns
// how many were removed.
func (s *Store) CleanupExpired(ctx context.Context, limit int) (int, error) {
	if limit < 1 {
		limit = 1
	}
	rows, err := s.pool.Query(ctx, `
		with doomed as (
			select id from core.event_consumptions
			where expires_at is not null and expires_at <= now()
			order by expires_at asc
			limit $1
		)
		delete from core.event_consumptions c
		using doomed
		where c.id = doomed.id
		returning c.id
	`, limit)
	if err != nil {
		return 0, apperr.New(apperr.TransientIO, "idempotency.CleanupExpired", err)
	}
	defer rows.Close()
	count := 0
	for rows.Next() {
		count++
	}
	return count, rows.Err()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// normalizeTTL floors ttl at the 30s minimum mandated for idempotency claims.
func normalizeTTL(ttl time.Duration) time.Duration {
	if ttl < minTTL {
		return minTTL
	}
	return ttl
}

// truncateKey caps a dedupe key at maxKeyLen characters.
func truncateKey(key string) string {
	if len(key) > maxKeyLen {
		return key[:maxKeyLen]
	}
	return key
}
