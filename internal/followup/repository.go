// Package followup implements the follow-up scheduler/worker (C14):
// inactivity-triggered re-engagement rows claimed under
// SELECT ... FOR UPDATE SKIP LOCKED so multiple runtime replicas never send
// the same attempt twice.
package followup

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"centurion/internal/apperr"
	"centurion/internal/domain"
)

// Repository persists FollowupRule configuration and FollowupQueueItem rows.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository wraps a connection pool as a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ListActiveRules returns a centurion's active rules ordered by
// inactivity_hours ascending, the order ScheduleForLead processes them in.
func (r *Repository) ListActiveRules(ctx context.Context, centurionID string) ([]domain.FollowupRule, error) {
	rows, err := r.pool.Query(ctx, `
		select id, centurion_id, inactivity_hours, template, max_attempts, is_active
		from core.followup_rules
		where centurion_id = $1 and is_active = true
		order by inactivity_hours asc
	`, centurionID)
	if err != nil {
		return nil, apperr.New(apperr.TransientIO, "followup.ListActiveRules", err)
	}
	defer rows.Close()

	var out []domain.FollowupRule
	for rows.Next() {
		var rule domain.FollowupRule
		if err := rows.Scan(&rule.ID, &rule.CenturionID, &rule.InactivityHours, &rule.Template, &rule.MaxAttempts, &rule.IsActive); err != nil {
			return nil, apperr.New(apperr.TransientIO, "followup.ListActiveRules", err)
		}
		out = append(out, rule)
	}
	return out, rows.Err()
}

// CountAttempts returns how many queue rows already exist for (lead, rule),
// used to enforce max_attempts.
func (r *Repository) CountAttempts(ctx context.Context, leadID, ruleID string) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `
		select count(*) from core.followup_queue where lead_id = $1 and rule_id = $2
	`, leadID, ruleID).Scan(&n)
	if err != nil {
		return 0, apperr.New(apperr.TransientIO, "followup.CountAttempts", err)
	}
	return n, nil
}

// HasFuturePending reports whether a pending row for (lead, rule) is already
// scheduled, so ScheduleForLead never double-inserts.
func (r *Repository) HasFuturePending(ctx context.Context, leadID, ruleID string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		select exists(
			select 1 from core.followup_queue
			where lead_id = $1 and rule_id = $2 and status = 'pending'
		)
	`, leadID, ruleID).Scan(&exists)
	if err != nil {
		return false, apperr.New(apperr.TransientIO, "followup.HasFuturePending", err)
	}
	return exists, nil
}

// Insert schedules a new pending attempt.
func (r *Repository) Insert(ctx context.Context, companyID, leadID, ruleID string, scheduledAt time.Time, attemptNumber int) error {
	_, err := r.pool.Exec(ctx, `
		insert into core.followup_queue (id, company_id, lead_id, rule_id, scheduled_at, attempt_number, status)
		values ($1, $2, $3, $4, $5, $6, 'pending')
	`, uuid.NewString(), companyID, leadID, ruleID, scheduledAt.UTC(), attemptNumber)
	if err != nil {
		return apperr.New(apperr.TransientIO, "followup.Insert", err)
	}
	return nil
}

// ClaimDue locks and flips up to limit due pending rows to processing,
// returning them for the caller to execute. Uses FOR UPDATE SKIP LOCKED so
// concurrent runtime instances partition the work rather than collide.
func (r *Repository) ClaimDue(ctx context.Context, limit int) ([]domain.FollowupQueueItem, error) {
	if limit < 1 {
		limit = 1
	}
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, apperr.New(apperr.TransientIO, "followup.ClaimDue", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		select id, company_id, lead_id, rule_id, scheduled_at, attempt_number, status,
			coalesce(message_id, ''), coalesce(last_error, ''), created_at, updated_at
		from core.followup_queue
		where status = 'pending' and scheduled_at <= now()
		order by scheduled_at asc
		limit $1
		for update skip locked
	`, limit)
	if err != nil {
		return nil, apperr.New(apperr.TransientIO, "followup.ClaimDue", err)
	}
	var items []domain.FollowupQueueItem
	for rows.Next() {
		var item domain.FollowupQueueItem
		if err := rows.Scan(&item.ID, &item.CompanyID, &item.LeadID, &item.RuleID, &item.ScheduledAt,
			&item.AttemptNumber, &item.Status, &item.MessageID, &item.LastError, &item.CreatedAt, &item.UpdatedAt); err != nil {
			rows.Close()
			return nil, apperr.New(apperr.TransientIO, "followup.ClaimDue", err)
		}
		items = append(items, item)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, apperr.New(apperr.TransientIO, "followup.ClaimDue", err)
	}

	for _, item := range items {
		if _, err := tx.Exec(ctx, `update core.followup_queue set status = 'processing', updated_at = now() where id = $1`, item.ID); err != nil {
			return nil, apperr.New(apperr.TransientIO, "followup.ClaimDue", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, apperr.New(apperr.TransientIO, "followup.ClaimDue", err)
	}
	return items, nil
}

// MarkSent records a successful send.
func (r *Repository) MarkSent(ctx context.Context, id, messageID string) error {
	_, err := r.pool.Exec(ctx, `
		update core.followup_queue set status = 'sent', message_id = $2, updated_at = now() where id = $1
	`, id, messageID)
	if err != nil {
		return apperr.New(apperr.TransientIO, "followup.MarkSent", err)
	}
	return nil
}

// MarkFailed records a failed attempt with its error, for observability;
// the row stays in "failed" rather than retrying automatically — the next
// scheduled attempt (if any) is a fresh row from ScheduleForLead.
func (r *Repository) MarkFailed(ctx context.Context, id, reason string) error {
	_, err := r.pool.Exec(ctx, `
		update core.followup_queue set status = 'failed', last_error = $2, updated_at = now() where id = $1
	`, id, reason)
	if err != nil {
		return apperr.New(apperr.TransientIO, "followup.MarkFailed", err)
	}
	return nil
}

// CancelPending cancels every pending row for a lead, called whenever the
// lead speaks again (inbound handler) or becomes qualified (dispatch).
func (r *Repository) CancelPending(ctx context.Context, companyID, leadID string) error {
	_, err := r.pool.Exec(ctx, `
		update core.followup_queue
		set status = 'canceled', updated_at = now()
		where company_id = $1 and lead_id = $2 and status = 'pending'
	`, companyID, leadID)
	if err != nil {
		return apperr.New(apperr.TransientIO, "followup.CancelPending", err)
	}
	return nil
}

// GetRule loads a single rule by id, used by ProcessDue to revalidate
// is_active before sending.
func (r *Repository) GetRule(ctx context.Context, ruleID string) (domain.FollowupRule, error) {
	var rule domain.FollowupRule
	err := r.pool.QueryRow(ctx, `
		select id, centurion_id, inactivity_hours, template, max_attempts, is_active
		from core.followup_rules where id = $1
	`, ruleID).Scan(&rule.ID, &rule.CenturionID, &rule.InactivityHours, &rule.Template, &rule.MaxAttempts, &rule.IsActive)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.FollowupRule{}, err
		}
		return domain.FollowupRule{}, apperr.New(apperr.TransientIO, "followup.GetRule", err)
	}
	return rule, nil
}
