// Package handoff implements the handoff (C15): writing a qualified lead
// into its tenant-specific CRM schema and recording the cross-reference
// that lets the rest of the runtime look the deal back up.
package handoff

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"centurion/internal/apperr"
	"centurion/internal/conversation"
	"centurion/internal/domain"
)

// identifierRe is the only shape ever interpolated into SQL as a bare
// identifier (schema name); everything else is bound as a parameter.
var identifierRe = regexp.MustCompile(`^[a-z0-9_]+$`)

// ErrInvalidSchema is returned when a tenant's configured CRM schema name
// fails identifier validation, refusing to quote anything unsafe into SQL.
var ErrInvalidSchema = errors.New("handoff: invalid crm schema identifier")

// Result is the durable outcome of a handoff, also what Execute returns
// when the lead was already handed off.
type Result struct {
	DealIndexID string
	LocalDealID string
	SchemaName  string
}

// Handoff resolves the tenant CRM schema and writes the deal row.
type Handoff struct {
	pool  *pgxpool.Pool
	leads *conversation.LeadRepository
}

// New builds a Handoff over the connection pool and lead repository.
func New(pool *pgxpool.Pool, leads *conversation.LeadRepository) *Handoff {
	return &Handoff{pool: pool, leads: leads}
}

// Execute performs the handoff for a newly-qualified lead, idempotently: if
// the lead's lifecycle is already handoff_done, it returns the previously
// recorded result from qualification_data without writing again.
func (h *Handoff) Execute(ctx context.Context, lead domain.Lead, qualification domain.QualificationResult) (Result, error) {
	if lead.LifecycleStage == domain.LifecycleHandoffDone {
		return resultFromQualificationData(lead.QualificationData), nil
	}

	schemaName, err := h.resolveSchema(ctx, lead.CompanyID)
	if err != nil {
		return Result{}, err
	}
	if !identifierRe.MatchString(schemaName) {
		return Result{}, apperr.New(apperr.InvalidInput, "handoff.Execute", fmt.Errorf("%w: %q", ErrInvalidSchema, schemaName))
	}

	payload, err := json.Marshal(qualification)
	if err != nil {
		return Result{}, apperr.New(apperr.InvalidInput, "handoff.Execute", err)
	}

	localDealID := uuid.NewString()
	insertSQL := fmt.Sprintf(`
		insert into %q.deals (id, lead_id, company_id, qualification_data, created_at)
		values ($1, $2, $3, $4::jsonb, now())
	`, schemaName)
	if _, err := h.pool.Exec(ctx, insertSQL, localDealID, lead.ID, lead.CompanyID, payload); err != nil {
		return Result{}, apperr.New(apperr.TransientIO, "handoff.Execute", err)
	}

	dealIndexID := uuid.NewString()
	_, err = h.pool.Exec(ctx, `
		insert into core.deals_index (id, company_id, lead_id, schema_name, local_deal_id, created_at)
		values ($1, $2, $3, $4, $5, now())
	`, dealIndexID, lead.CompanyID, lead.ID, schemaName, localDealID)
	if err != nil {
		return Result{}, apperr.New(apperr.TransientIO, "handoff.Execute", err)
	}

	result := Result{DealIndexID: dealIndexID, LocalDealID: localDealID, SchemaName: schemaName}
	if err := h.leads.MergeQualificationData(ctx, lead.ID, map[string]any{
		"deal_index_id": result.DealIndexID,
		"local_deal_id": result.LocalDealID,
		"schema_name":   result.SchemaName,
	}); err != nil {
		return Result{}, err
	}
	if err := h.leads.SetLifecycleStage(ctx, lead.ID, domain.LifecycleHandoffDone); err != nil {
		return Result{}, err
	}
	return result, nil
}

func (h *Handoff) resolveSchema(ctx context.Context, companyID string) (string, error) {
	var schema string
	err := h.pool.QueryRow(ctx, `select schema_name from core.company_crms where company_id = $1`, companyID).Scan(&schema)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", apperr.New(apperr.InvalidInput, "handoff.resolveSchema", fmt.Errorf("no crm configured for company %s", companyID))
		}
		return "", apperr.New(apperr.TransientIO, "handoff.resolveSchema", err)
	}
	return schema, nil
}

func resultFromQualificationData(data map[string]any) Result {
	get := func(k string) string {
		if v, ok := data[k].(string); ok {
			return v
		}
		return ""
	}
	return Result{
		DealIndexID: get("deal_index_id"),
		LocalDealID: get("local_deal_id"),
		SchemaName:  get("schema_name"),
	}
}
