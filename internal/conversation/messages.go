package conversation

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"centurion/internal/apperr"
	"centurion/internal/domain"
	"centurion/internal/telemetry"
)

// MessageRepository is the append-only Message log. Rows are only mutated
// outside of append for the delete-on-publish-failure compensation and the
// media-enrichment patch.
type MessageRepository struct {
	pool   *pgxpool.Pool
	meters *telemetry.Meters
}

// NewMessageRepository wraps a connection pool as a MessageRepository.
func NewMessageRepository(pool *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{pool: pool}
}

// WithMeters attaches the runtime's message counter; omitting it leaves
// Append metrics-free.
func (r *MessageRepository) WithMeters(m *telemetry.Meters) *MessageRepository {
	r.meters = m
	return r
}

// Append persists a Message row and returns its generated id.
func (r *MessageRepository) Append(ctx context.Context, m domain.Message) (string, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	metadata, err := json.Marshal(m.Metadata)
	if err != nil {
		return "", apperr.New(apperr.InvalidInput, "messages.Append", err)
	}
	_, err = r.pool.Exec(ctx, `
		insert into core.messages (
			id, conversation_id, company_id, lead_id, direction, content_type, content,
			audio_transcription, image_description, channel_message_id, metadata
		) values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11::jsonb)
	`, m.ID, m.ConversationID, m.CompanyID, m.LeadID, m.Direction, m.ContentType, m.Content,
		nullable(m.AudioTranscription), nullable(m.ImageDescription), nullable(m.ChannelMessageID), metadata)
	if err != nil {
		return "", apperr.New(apperr.TransientIO, "messages.Append", err)
	}
	if r.meters != nil && r.meters.MessagesTotal != nil {
		r.meters.MessagesTotal.Add(ctx, 1)
	}
	return m.ID, nil
}

// Delete removes a Message row, used as the compensating write when a
// publish fails after the row was persisted (C10 step 9, C12).
func (r *MessageRepository) Delete(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `delete from core.messages where id = $1`, id)
	if err != nil {
		return apperr.New(apperr.TransientIO, "messages.Delete", err)
	}
	return nil
}

// ChannelMessageExists reports whether channelMessageID has already been
// recorded for companyID, the secondary-dedupe check in C7 step 6.
func (r *MessageRepository) ChannelMessageExists(ctx context.Context, companyID, channelMessageID string) (bool, error) {
	if channelMessageID == "" {
		return false, nil
	}
	var exists bool
	err := r.pool.QueryRow(ctx, `
		select exists(select 1 from core.messages where company_id = $1 and channel_message_id = $2)
	`, companyID, channelMessageID).Scan(&exists)
	if err != nil {
		return false, apperr.New(apperr.TransientIO, "messages.ChannelMessageExists", err)
	}
	return exists, nil
}

// ListRecent returns up to limit non-archived messages for a conversation,
// oldest first, the repository fallback behind C16's short-term cache.
func (r *MessageRepository) ListRecent(ctx context.Context, conversationID string, limit int) ([]domain.Message, error) {
	if limit < 1 {
		limit = 1
	}
	rows, err := r.pool.Query(ctx, `
		select id, conversation_id, company_id, lead_id, direction, content_type, content,
			audio_transcription, image_description, channel_message_id, archived, metadata, created_at
		from (
			select * from core.messages
			where conversation_id = $1 and archived = false
			order by created_at desc
			limit $2
		) recent
		order by created_at asc
	`, conversationID, limit)
	if err != nil {
		return nil, apperr.New(apperr.TransientIO, "messages.ListRecent", err)
	}
	defer rows.Close()

	var out []domain.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, apperr.New(apperr.TransientIO, "messages.ListRecent", err)
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

// ConsolidatedText joins the full conversation's content (inbound and
// outbound) with newlines, used by qualification (C13) to evaluate
// criteria against the whole exchange.
func (r *MessageRepository) ConsolidatedText(ctx context.Context, conversationID string) (string, error) {
	rows, err := r.pool.Query(ctx, `
		select content from core.messages
		where conversation_id = $1 and content <> ''
		order by created_at asc
	`, conversationID)
	if err != nil {
		return "", apperr.New(apperr.TransientIO, "messages.ConsolidatedText", err)
	}
	defer rows.Close()

	var parts []string
	for rows.Next() {
		var content string
		if err := rows.Scan(&content); err != nil {
			return "", apperr.New(apperr.TransientIO, "messages.ConsolidatedText", err)
		}
		parts = append(parts, content)
	}
	if err := rows.Err(); err != nil {
		return "", apperr.New(apperr.TransientIO, "messages.ConsolidatedText", err)
	}
	return joinLines(parts), nil
}

// PatchEnrichment updates a Message row's transcription/description fields
// after asynchronous media enrichment (C7.1) completes.
func (r *MessageRepository) PatchEnrichment(ctx context.Context, id, audioTranscription, imageDescription string) error {
	_, err := r.pool.Exec(ctx, `
		update core.messages
		set audio_transcription = coalesce(nullif($2, ''), audio_transcription),
		    image_description = coalesce(nullif($3, ''), image_description)
		where id = $1
	`, id, audioTranscription, imageDescription)
	if err != nil {
		return apperr.New(apperr.TransientIO, "messages.PatchEnrichment", err)
	}
	return nil
}

// ArchiveOlderThan marks messages older than cutoff in inactive conversations
// as archived, part of C16's periodic long-term cleanup.
func (r *MessageRepository) ArchiveOlderThan(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	if limit < 1 {
		limit = 1
	}
	rows, err := r.pool.Query(ctx, `
		with doomed as (
			select m.id
			from core.messages m
			join core.conversations c on c.id = m.conversation_id
			where m.archived = false and m.created_at < $1 and c.lead_state = 'inactive'
			limit $2
		)
		update core.messages m
		set archived = true
		from doomed
		where m.id = doomed.id
		returning m.id
	`, cutoff.UTC(), limit)
	if err != nil {
		return 0, apperr.New(apperr.TransientIO, "messages.ArchiveOlderThan", err)
	}
	defer rows.Close()
	count := 0
	for rows.Next() {
		count++
	}
	return count, rows.Err()
}

func scanMessage(rows pgx.Rows) (domain.Message, error) {
	var (
		m        domain.Message
		metadata []byte
	)
	err := rows.Scan(
		&m.ID, &m.ConversationID, &m.CompanyID, &m.LeadID, &m.Direction, &m.ContentType, &m.Content,
		&m.AudioTranscription, &m.ImageDescription, &m.ChannelMessageID, &m.Archived, &metadata, &m.CreatedAt,
	)
	if err != nil {
		return domain.Message{}, err
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &m.Metadata); err != nil {
			return domain.Message{}, err
		}
	}
	return m, nil
}

func joinLines(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += "\n"
		}
		out += p
	}
	return out
}
