// Package conversation implements the conversation repository (C6): durable
// per-conversation debounce state, the lead aggregate it belongs to, and the
// append-only message log, all backed by Postgres via pgx like every other
// repository in this runtime.
package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"centurion/internal/apperr"
	"centurion/internal/domain"
)

// Repository is the Postgres-backed Conversation store. State transitions
// (idle -> waiting -> processing -> idle) are only ever mutated under the
// per-conversation lock held by the inbound handler, dispatch, and watchdog.
type Repository struct {
	pool *pgxpool.Pool
}

// New wraps a connection pool as a Repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetOrCreate returns the most recent matching conversation or creates one in
// the idle state with no pending messages.
func (r *Repository) GetOrCreate(ctx context.Context, companyID, leadID, centurionID, channelType, channelInstanceID string) (domain.Conversation, error) {
	conv, err := r.findLatest(ctx, companyID, leadID, centurionID, channelType, channelInstanceID)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.Conversation{}, apperr.New(apperr.TransientIO, "conversation.GetOrCreate", err)
	}

	meta, _ := json.Marshal(map[string]any{})
	row := r.pool.QueryRow(ctx, `
		insert into core.conversations (
			company_id, lead_id, centurion_id, channel_type, channel_instance_id,
			debounce_state, pending_messages, metadata
		) values ($1, $2, $3, $4, $5, 'idle', '[]'::jsonb, $6::jsonb)
		returning id, company_id, lead_id, centurion_id, channel_type, channel_instance_id,
			debounce_state, debounce_until, pending_messages, last_inbound_at, last_outbound_at,
			lead_state, metadata, created_at, updated_at
	`, companyID, leadID, centurionID, channelType, nullable(channelInstanceID), meta)
	conv, err = scanConversation(row)
	if err != nil {
		return domain.Conversation{}, apperr.New(apperr.TransientIO, "conversation.GetOrCreate", err)
	}
	return conv, nil
}

func (r *Repository) findLatest(ctx context.Context, companyID, leadID, centurionID, channelType, channelInstanceID string) (domain.Conversation, error) {
	row := r.pool.QueryRow(ctx, `
		select id, company_id, lead_id, centurion_id, channel_type, channel_instance_id,
			debounce_state, debounce_until, pending_messages, last_inbound_at, last_outbound_at,
			lead_state, metadata, created_at, updated_at
		from core.conversations
		where company_id = $1 and lead_id = $2 and centurion_id = $3 and channel_type = $4
			and channel_instance_id is not distinct from $5
		order by created_at desc
		limit 1
	`, companyID, leadID, centurionID, channelType, nullable(channelInstanceID))
	return scanConversation(row)
}

// FindActiveByLead returns the most recently created conversation for a
// lead, used by the follow-up worker and dispatch's long-term-fact lookups
// where the caller only has a lead id, not the full channel identity.
func (r *Repository) FindActiveByLead(ctx context.Context, companyID, leadID string) (domain.Conversation, error) {
	row := r.pool.QueryRow(ctx, `
		select id, company_id, lead_id, centurion_id, channel_type, channel_instance_id,
			debounce_state, debounce_until, pending_messages, last_inbound_at, last_outbound_at,
			lead_state, metadata, created_at, updated_at
		from core.conversations
		where company_id = $1 and lead_id = $2
		order by created_at desc
		limit 1
	`, companyID, leadID)
	conv, err := scanConversation(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Conversation{}, err
		}
		return domain.Conversation{}, apperr.New(apperr.TransientIO, "conversation.FindActiveByLead", err)
	}
	return conv, nil
}

// GetByID loads a conversation by its own id, used by dispatch which only
// receives a conversation id from the debounce scheduler's lock key.
func (r *Repository) GetByID(ctx context.Context, id string) (domain.Conversation, error) {
	row := r.pool.QueryRow(ctx, `
		select id, company_id, lead_id, centurion_id, channel_type, channel_instance_id,
			debounce_state, debounce_until, pending_messages, last_inbound_at, last_outbound_at,
			lead_state, metadata, created_at, updated_at
		from core.conversations
		where id = $1
	`, id)
	conv, err := scanConversation(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Conversation{}, err
		}
		return domain.Conversation{}, apperr.New(apperr.TransientIO, "conversation.GetByID", err)
	}
	return conv, nil
}

// AppendPendingMessage atomically appends text to the pending queue, moves
// the state to waiting, arms debounceUntil, touches last_inbound_at, and
// merges metadataPatch in a single round-trip. Returns the new pending count.
func (r *Repository) AppendPendingMessage(ctx context.Context, convID, text string, debounceUntil, lastInboundAt time.Time, metadataPatch map[string]any) (int, error) {
	patch, err := json.Marshal(metadataPatch)
	if err != nil {
		return 0, apperr.New(apperr.InvalidInput, "conversation.AppendPendingMessage", err)
	}
	var count int
	err = r.pool.QueryRow(ctx, `
		update core.conversations
		set pending_messages = pending_messages || to_jsonb($2::text),
		    debounce_state = 'waiting',
		    debounce_until = $3,
		    last_inbound_at = $4,
		    metadata = coalesce(metadata, '{}'::jsonb) || $5::jsonb,
		    updated_at = now()
		where id = $1
		returning jsonb_array_length(pending_messages)
	`, convID, text, debounceUntil.UTC(), lastInboundAt.UTC(), patch).Scan(&count)
	if err != nil {
		return 0, apperr.New(apperr.TransientIO, "conversation.AppendPendingMessage", err)
	}
	return count, nil
}

// MarkProcessing transitions a conversation to processing; callers must hold
// the per-conversation lock before calling this.
func (r *Repository) MarkProcessing(ctx context.Context, convID string) error {
	_, err := r.pool.Exec(ctx, `
		update core.conversations set debounce_state = 'processing', updated_at = now() where id = $1
	`, convID)
	if err != nil {
		return apperr.New(apperr.TransientIO, "conversation.MarkProcessing", err)
	}
	return nil
}

// ClearPending empties the pending queue, clears the debounce timer, returns
// the state to idle, and touches last_outbound_at when provided.
func (r *Repository) ClearPending(ctx context.Context, convID string, lastOutboundAt *time.Time) error {
	_, err := r.pool.Exec(ctx, `
		update core.conversations
		set pending_messages = '[]'::jsonb,
		    debounce_state = 'idle',
		    debounce_until = null,
		    last_outbound_at = coalesce($2, last_outbound_at),
		    updated_at = now()
		where id = $1
	`, convID, optionalTime(lastOutboundAt))
	if err != nil {
		return apperr.New(apperr.TransientIO, "conversation.ClearPending", err)
	}
	return nil
}

// SetLeadState patches the conversation.lead_state column (distinct from the
// Lead's own lifecycle_stage), e.g. to "inactive" on handoff completion.
func (r *Repository) SetLeadState(ctx context.Context, convID, leadState string) error {
	_, err := r.pool.Exec(ctx, `
		update core.conversations set lead_state = $2, updated_at = now() where id = $1
	`, convID, leadState)
	if err != nil {
		return apperr.New(apperr.TransientIO, "conversation.SetLeadState", err)
	}
	return nil
}

// FindDue returns up to limit waiting conversations whose debounce_until has
// elapsed, ordered by debounce_until ascending.
func (r *Repository) FindDue(ctx context.Context, limit int) ([]domain.Conversation, error) {
	if limit < 1 {
		limit = 1
	}
	rows, err := r.pool.Query(ctx, `
		select id, company_id, lead_id, centurion_id, channel_type, channel_instance_id,
			debounce_state, debounce_until, pending_messages, last_inbound_at, last_outbound_at,
			lead_state, metadata, created_at, updated_at
		from core.conversations
		where debounce_state = 'waiting' and debounce_until <= now()
		order by debounce_until asc
		limit $1
	`, limit)
	if err != nil {
		return nil, apperr.New(apperr.TransientIO, "conversation.FindDue", err)
	}
	defer rows.Close()

	var out []domain.Conversation
	for rows.Next() {
		conv, err := scanConversationRows(rows)
		if err != nil {
			return nil, apperr.New(apperr.TransientIO, "conversation.FindDue", err)
		}
		out = append(out, conv)
	}
	return out, rows.Err()
}

// FindStuckProcessing returns up to limit conversations that have been
// processing since before the cutoff, for the watchdog (C9) to recover.
func (r *Repository) FindStuckProcessing(ctx context.Context, cutoff time.Time, limit int) ([]domain.Conversation, error) {
	if limit < 1 {
		limit = 1
	}
	rows, err := r.pool.Query(ctx, `
		select id, company_id, lead_id, centurion_id, channel_type, channel_instance_id,
			debounce_state, debounce_until, pending_messages, last_inbound_at, last_outbound_at,
			lead_state, metadata, created_at, updated_at
		from core.conversations
		where debounce_state = 'processing' and updated_at < $1
		order by updated_at asc
		limit $2
	`, cutoff.UTC(), limit)
	if err != nil {
		return nil, apperr.New(apperr.TransientIO, "conversation.FindStuckProcessing", err)
	}
	defer rows.Close()

	var out []domain.Conversation
	for rows.Next() {
		conv, err := scanConversationRows(rows)
		if err != nil {
			return nil, apperr.New(apperr.TransientIO, "conversation.FindStuckProcessing", err)
		}
		out = append(out, conv)
	}
	return out, rows.Err()
}

// Recover transitions a stuck conversation per C9: waiting (debounce_until =
// now) when pending is non-empty, otherwise idle with an empty queue.
func (r *Repository) Recover(ctx context.Context, conv domain.Conversation) error {
	if len(conv.PendingMessages) > 0 {
		_, err := r.pool.Exec(ctx, `
			update core.conversations
			set debounce_state = 'waiting', debounce_until = now(), updated_at = now()
			where id = $1
		`, conv.ID)
		if err != nil {
			return apperr.New(apperr.TransientIO, "conversation.Recover", err)
		}
		return nil
	}
	return r.ClearPending(ctx, conv.ID, nil)
}

func scanConversation(row pgx.Row) (domain.Conversation, error) {
	return scanConversationInto(row)
}

func scanConversationRows(rows pgx.Rows) (domain.Conversation, error) {
	return scanConversationInto(rows)
}

type scannable interface {
	Scan(dest ...any) error
}

func scanConversationInto(row scannable) (domain.Conversation, error) {
	var (
		c        domain.Conversation
		pending  []byte
		metadata []byte
	)
	err := row.Scan(
		&c.ID, &c.CompanyID, &c.LeadID, &c.CenturionID, &c.ChannelType, &c.ChannelInstanceID,
		&c.DebounceState, &c.DebounceUntil, &pending, &c.LastInboundAt, &c.LastOutboundAt,
		&c.LeadState, &metadata, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return domain.Conversation{}, err
	}
	if len(pending) > 0 {
		if err := json.Unmarshal(pending, &c.PendingMessages); err != nil {
			return domain.Conversation{}, err
		}
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &c.Metadata); err != nil {
			return domain.Conversation{}, err
		}
	}
	return c, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func optionalTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}
