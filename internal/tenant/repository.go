// Package tenant resolves the per-company configuration that gates
// everything downstream of the inbound handler: which centurion owns a
// channel instance, and that centurion's persona/model/debounce/chunking
// knobs and qualification rules.
package tenant

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5/pgxpool"

	"centurion/internal/apperr"
	"centurion/internal/domain"
)

// Repository is the Postgres-backed store for centurions and channel
// instances, both read-mostly tenant configuration rather than pipeline
// state.
type Repository struct {
	pool *pgxpool.Pool
}

// New wraps a connection pool as a Repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ResolveChannelInstance loads the channel type and owning centurion for a
// channel_instance_id, the first lookup C7 performs for an inbound event.
func (r *Repository) ResolveChannelInstance(ctx context.Context, companyID, channelInstanceID string) (domain.ChannelInstance, error) {
	var ci domain.ChannelInstance
	err := r.pool.QueryRow(ctx, `
		select id, company_id, channel_type, centurion_id
		from core.channel_instances
		where company_id = $1 and id = $2
	`, companyID, channelInstanceID).Scan(&ci.ID, &ci.CompanyID, &ci.ChannelType, &ci.CenturionID)
	if err != nil {
		return domain.ChannelInstance{}, apperr.New(apperr.TransientIO, "tenant.ResolveChannelInstance", err)
	}
	return ci, nil
}

// GetCenturion loads a centurion's full configuration, including its raw
// qualification_rules JSON (parsed separately by the qualification engine).
func (r *Repository) GetCenturion(ctx context.Context, companyID, centurionID string) (domain.Centurion, error) {
	var (
		c        domain.Centurion
		rules    []byte
	)
	err := r.pool.QueryRow(ctx, `
		select id, company_id, name, persona, model, debounce_wait_ms, chunk_max_chars,
			chunking_enabled, allow_media_download, qualification_rules, is_active
		from core.centurions
		where company_id = $1 and id = $2
	`, companyID, centurionID).Scan(
		&c.ID, &c.CompanyID, &c.Name, &c.Persona, &c.Model, &c.DebounceWaitMs, &c.ChunkMaxChars,
		&c.ChunkingEnabled, &c.AllowMediaDownload, &rules, &c.IsActive,
	)
	if err != nil {
		return domain.Centurion{}, apperr.New(apperr.TransientIO, "tenant.GetCenturion", err)
	}
	if len(rules) > 0 {
		if err := json.Unmarshal(rules, &c.QualificationRules); err != nil {
			return domain.Centurion{}, apperr.New(apperr.TransientIO, "tenant.GetCenturion", err)
		}
	}
	if c.DebounceWaitMs <= 0 {
		c.DebounceWaitMs = 3000
	}
	return c, nil
}
