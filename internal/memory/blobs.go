package memory

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"centurion/internal/apperr"
)

// PostgresBlobPruner implements BlobPruner against the agno_session and
// lead_memories tables directly, since neither has a dedicated aggregate
// repository of its own.
type PostgresBlobPruner struct {
	pool *pgxpool.Pool
}

// NewPostgresBlobPruner wraps a connection pool as a PostgresBlobPruner.
func NewPostgresBlobPruner(pool *pgxpool.Pool) *PostgresBlobPruner {
	return &PostgresBlobPruner{pool: pool}
}

// PruneSessionBlobs deletes agno_session rows older than olderThan.
func (p *PostgresBlobPruner) PruneSessionBlobs(ctx context.Context, olderThan time.Time, limit int) (int, error) {
	return p.deleteOldest(ctx, "agno_session", "updated_at", olderThan, limit)
}

// PruneBotMemories deletes bot-generated lead_memories rows older than
// olderThan; memories sourced from a human operator are left untouched.
func (p *PostgresBlobPruner) PruneBotMemories(ctx context.Context, olderThan time.Time, limit int) (int, error) {
	rows, err := p.pool.Query(ctx, `
		with doomed as (
			select id from core.lead_memories
			where source = 'bot' and created_at < $1
			order by created_at asc
			limit $2
		)
		delete from core.lead_memories m
		using doomed
		where m.id = doomed.id
		returning m.id
	`, olderThan.UTC(), limit)
	if err != nil {
		return 0, apperr.New(apperr.TransientIO, "memory.PruneBotMemories", err)
	}
	defer rows.Close()
	count := 0
	for rows.Next() {
		count++
	}
	return count, rows.Err()
}

func (p *PostgresBlobPruner) deleteOldest(ctx context.Context, table, tsColumn string, olderThan time.Time, limit int) (int, error) {
	rows, err := p.pool.Query(ctx, `
		with doomed as (
			select id from core.`+table+`
			where `+tsColumn+` < $1
			order by `+tsColumn+` asc
			limit $2
		)
		delete from core.`+table+` t
		using doomed
		where t.id = doomed.id
		returning t.id
	`, olderThan.UTC(), limit)
	if err != nil {
		return 0, apperr.New(apperr.TransientIO, "memory.deleteOldest", err)
	}
	defer rows.Close()
	count := 0
	for rows.Next() {
		count++
	}
	return count, rows.Err()
}
