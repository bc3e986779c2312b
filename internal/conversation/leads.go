package conversation

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"centurion/internal/apperr"
	"centurion/internal/domain"
	"centurion/internal/telemetry"
)

// LeadRepository persists the Lead aggregate: funnel lifecycle, qualification
// outcome, and the UTM/contact attribution fields consumed by the handoff
// deal payload.
type LeadRepository struct {
	pool   *pgxpool.Pool
	meters *telemetry.Meters
}

// NewLeadRepository wraps a connection pool as a LeadRepository.
func NewLeadRepository(pool *pgxpool.Pool) *LeadRepository {
	return &LeadRepository{pool: pool}
}

// WithMeters attaches the runtime's lead-created counter; omitting it leaves
// GetOrCreateByPhone metrics-free.
func (r *LeadRepository) WithMeters(m *telemetry.Meters) *LeadRepository {
	r.meters = m
	return r
}

// GetOrCreateByPhone looks up a lead by (company, phone), creating a new one
// in lifecycle "new" when none exists. created reports whether a row was
// inserted, so callers can publish lead.created exactly once.
func (r *LeadRepository) GetOrCreateByPhone(ctx context.Context, companyID, phone, centurionID string) (lead domain.Lead, created bool, err error) {
	lead, err = r.findByPhone(ctx, companyID, phone)
	if err == nil {
		return lead, false, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.Lead{}, false, apperr.New(apperr.TransientIO, "leads.GetOrCreateByPhone", err)
	}

	data, _ := json.Marshal(map[string]any{})
	row := r.pool.QueryRow(ctx, `
		insert into core.leads (id, company_id, phone, centurion_id, lifecycle_stage, qualification_data)
		values ($1, $2, $3, $4, 'new', $5::jsonb)
		returning id, company_id, phone, name, email, cpf, lifecycle_stage, lead_state, is_qualified,
			qualification_score, qualification_data, centurion_id, utm_campaign, utm_source, utm_medium,
			pixel_config_id, contact_fingerprint, last_contact_at, created_at, updated_at
	`, uuid.NewString(), companyID, phone, nullable(centurionID), data)
	lead, err = scanLead(row)
	if err != nil {
		return domain.Lead{}, false, apperr.New(apperr.TransientIO, "leads.GetOrCreateByPhone", err)
	}
	if r.meters != nil && r.meters.LeadsCreatedTotal != nil {
		r.meters.LeadsCreatedTotal.Add(ctx, 1)
	}
	return lead, true, nil
}

func (r *LeadRepository) findByPhone(ctx context.Context, companyID, phone string) (domain.Lead, error) {
	row := r.pool.QueryRow(ctx, `
		select id, company_id, phone, name, email, cpf, lifecycle_stage, lead_state, is_qualified,
			qualification_score, qualification_data, centurion_id, utm_campaign, utm_source, utm_medium,
			pixel_config_id, contact_fingerprint, last_contact_at, created_at, updated_at
		from core.leads
		where company_id = $1 and phone = $2
		limit 1
	`, companyID, phone)
	return scanLead(row)
}

// Get loads a lead by id.
func (r *LeadRepository) Get(ctx context.Context, companyID, leadID string) (domain.Lead, error) {
	row := r.pool.QueryRow(ctx, `
		select id, company_id, phone, name, email, cpf, lifecycle_stage, lead_state, is_qualified,
			qualification_score, qualification_data, centurion_id, utm_campaign, utm_source, utm_medium,
			pixel_config_id, contact_fingerprint, last_contact_at, created_at, updated_at
		from core.leads
		where company_id = $1 and id = $2
	`, companyID, leadID)
	lead, err := scanLead(row)
	if err != nil {
		return domain.Lead{}, apperr.New(apperr.TransientIO, "leads.Get", err)
	}
	return lead, nil
}

// SetLifecycleStage updates lifecycle_stage unless the lead is already in a
// terminal stage, per spec.md's "terminal states are non-regressing" note.
func (r *LeadRepository) SetLifecycleStage(ctx context.Context, leadID string, stage domain.LifecycleStage) error {
	_, err := r.pool.Exec(ctx, `
		update core.leads
		set lifecycle_stage = $2, updated_at = now()
		where id = $1 and lifecycle_stage not in ('handoff_done', 'closed_lost')
	`, leadID, stage)
	if err != nil {
		return apperr.New(apperr.TransientIO, "leads.SetLifecycleStage", err)
	}
	return nil
}

// TouchLastContact bumps last_contact_at to now, used by dispatch to anchor
// follow-up scheduling windows.
func (r *LeadRepository) TouchLastContact(ctx context.Context, leadID string) error {
	_, err := r.pool.Exec(ctx, `update core.leads set last_contact_at = now() where id = $1`, leadID)
	if err != nil {
		return apperr.New(apperr.TransientIO, "leads.TouchLastContact", err)
	}
	return nil
}

// SetQualification persists a qualification decision and merges extra fields
// (e.g. handoff's deal_index_id/local_deal_id/schema_name) into
// qualification_data.
func (r *LeadRepository) SetQualification(ctx context.Context, leadID string, score float64, isQualified bool, extracted map[string]any) error {
	patch, err := json.Marshal(extracted)
	if err != nil {
		return apperr.New(apperr.InvalidInput, "leads.SetQualification", err)
	}
	_, err = r.pool.Exec(ctx, `
		update core.leads
		set is_qualified = $2,
		    qualification_score = $3,
		    qualification_data = coalesce(qualification_data, '{}'::jsonb) || $4::jsonb,
		    updated_at = now()
		where id = $1
	`, leadID, isQualified, score, patch)
	if err != nil {
		return apperr.New(apperr.TransientIO, "leads.SetQualification", err)
	}
	return nil
}

// MergeQualificationData merges additional fields into qualification_data
// without touching the score/is_qualified columns, used by handoff to record
// deal_index_id/local_deal_id/schema_name.
func (r *LeadRepository) MergeQualificationData(ctx context.Context, leadID string, patchFields map[string]any) error {
	patch, err := json.Marshal(patchFields)
	if err != nil {
		return apperr.New(apperr.InvalidInput, "leads.MergeQualificationData", err)
	}
	_, err = r.pool.Exec(ctx, `
		update core.leads
		set qualification_data = coalesce(qualification_data, '{}'::jsonb) || $2::jsonb, updated_at = now()
		where id = $1
	`, leadID, patch)
	if err != nil {
		return apperr.New(apperr.TransientIO, "leads.MergeQualificationData", err)
	}
	return nil
}

func scanLead(row pgx.Row) (domain.Lead, error) {
	var (
		l        domain.Lead
		qualData []byte
	)
	err := row.Scan(
		&l.ID, &l.CompanyID, &l.Phone, &l.Name, &l.Email, &l.CPF, &l.LifecycleStage, &l.LeadState,
		&l.IsQualified, &l.QualificationScore, &qualData, &l.CenturionID, &l.UTMCampaign, &l.UTMSource,
		&l.UTMMedium, &l.PixelConfigID, &l.ContactFingerprint, &l.LastContactAt, &l.CreatedAt, &l.UpdatedAt,
	)
	if err != nil {
		return domain.Lead{}, err
	}
	if len(qualData) > 0 {
		if err := json.Unmarshal(qualData, &l.QualificationData); err != nil {
			return domain.Lead{}, err
		}
	}
	return l, nil
}
