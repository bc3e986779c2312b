package followup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"centurion/internal/conversation"
	"centurion/internal/domain"
	"centurion/internal/llm"
	"centurion/internal/outbound"
	"centurion/internal/tenant"
)

// Engine runs ScheduleForLead and ProcessDue, the two operations C14 exposes
// to the rest of the pipeline (dispatch calls ScheduleForLead; the polling
// worker calls ProcessDue).
type Engine struct {
	repo          *Repository
	conversations *conversation.Repository
	leads         *conversation.LeadRepository
	messages      *conversation.MessageRepository
	tenants       *tenant.Repository
	sender        *outbound.Sender
	provider      llm.Provider
	logger        zerolog.Logger
}

// New builds a follow-up Engine over its collaborators.
func New(
	repo *Repository,
	conversations *conversation.Repository,
	leads *conversation.LeadRepository,
	messages *conversation.MessageRepository,
	tenants *tenant.Repository,
	sender *outbound.Sender,
	provider llm.Provider,
	logger zerolog.Logger,
) *Engine {
	return &Engine{
		repo: repo, conversations: conversations, leads: leads, messages: messages,
		tenants: tenants, sender: sender, provider: provider, logger: logger,
	}
}

// CancelPending satisfies inbound.FollowupCanceller and dispatch's
// equivalent dependency.
func (e *Engine) CancelPending(ctx context.Context, companyID, leadID string) error {
	return e.repo.CancelPending(ctx, companyID, leadID)
}

// ScheduleForLead inserts one pending row per active rule the lead hasn't
// exhausted or already has scheduled, per §4.14's ordering and idempotency
// rules, and advances lifecycle to follow_up_pending.
func (e *Engine) ScheduleForLead(ctx context.Context, lead domain.Lead, centurionID string) error {
	rules, err := e.repo.ListActiveRules(ctx, centurionID)
	if err != nil {
		return err
	}
	if lead.LastContactAt == nil {
		return nil
	}

	scheduledAny := false
	for _, rule := range rules {
		count, err := e.repo.CountAttempts(ctx, lead.ID, rule.ID)
		if err != nil {
			return err
		}
		if count >= rule.MaxAttempts {
			continue
		}
		pending, err := e.repo.HasFuturePending(ctx, lead.ID, rule.ID)
		if err != nil {
			return err
		}
		if pending {
			continue
		}

		scheduledAt := lead.LastContactAt.Add(time.Duration(rule.InactivityHours * float64(time.Hour)))
		if err := e.repo.Insert(ctx, lead.CompanyID, lead.ID, rule.ID, scheduledAt, count+1); err != nil {
			return err
		}
		scheduledAny = true
	}

	if scheduledAny && !lead.LifecycleStage.IsTerminal() {
		if err := e.leads.SetLifecycleStage(ctx, lead.ID, domain.LifecycleFollowUpPending); err != nil {
			return err
		}
	}
	return nil
}

// ProcessDue claims up to limit due rows and executes each: revalidate,
// compose message, send, advance lifecycle, and schedule the next attempt.
func (e *Engine) ProcessDue(ctx context.Context, limit int) (int, error) {
	items, err := e.repo.ClaimDue(ctx, limit)
	if err != nil {
		return 0, err
	}
	sent := 0
	for _, item := range items {
		if err := e.processOne(ctx, item); err != nil {
			e.logger.Error().Err(err).Str("followup_id", item.ID).Msg("followup.process_failed")
			_ = e.repo.MarkFailed(ctx, item.ID, err.Error())
			continue
		}
		sent++
	}
	return sent, nil
}

func (e *Engine) processOne(ctx context.Context, item domain.FollowupQueueItem) error {
	rule, err := e.repo.GetRule(ctx, item.RuleID)
	if err != nil {
		return fmt.Errorf("load rule: %w", err)
	}
	if !rule.IsActive {
		return e.repo.MarkFailed(ctx, item.ID, "rule inactive")
	}

	lead, err := e.leads.Get(ctx, item.CompanyID, item.LeadID)
	if err != nil {
		return fmt.Errorf("load lead: %w", err)
	}
	if lead.IsQualified {
		return e.repo.MarkFailed(ctx, item.ID, "lead already qualified")
	}

	conv, err := e.conversations.FindActiveByLead(ctx, item.CompanyID, item.LeadID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return e.repo.MarkFailed(ctx, item.ID, "no conversation")
		}
		return fmt.Errorf("load conversation: %w", err)
	}
	if conv.ChannelType != "whatsapp" {
		return e.repo.MarkFailed(ctx, item.ID, "channel does not support follow-ups")
	}

	text := e.compose(ctx, rule, conv, lead)

	msgID, err := e.messages.Append(ctx, domain.Message{
		ConversationID: conv.ID,
		CompanyID:      item.CompanyID,
		LeadID:         item.LeadID,
		Direction:      domain.DirectionOutbound,
		ContentType:    domain.ContentText,
		Content:        text,
	})
	if err != nil {
		return fmt.Errorf("persist message: %w", err)
	}

	correlationID := item.ID
	ok, err := e.sender.Send(ctx, item.CompanyID, conv.ChannelInstanceID, lead.Phone,
		outbound.Message{Type: "text", Text: text}, 0, correlationID, "", nil)
	if err != nil {
		_ = e.messages.Delete(ctx, msgID)
		return fmt.Errorf("publish: %w", err)
	}
	if !ok {
		_ = e.messages.Delete(ctx, msgID)
		return e.repo.MarkFailed(ctx, item.ID, "duplicate claim")
	}

	if err := e.repo.MarkSent(ctx, item.ID, msgID); err != nil {
		return err
	}
	if err := e.leads.SetLifecycleStage(ctx, lead.ID, domain.LifecycleFollowUpSent); err != nil {
		return err
	}

	if item.AttemptNumber < rule.MaxAttempts {
		next := time.Now().UTC().Add(time.Duration(rule.InactivityHours * float64(time.Hour)))
		if err := e.repo.Insert(ctx, item.CompanyID, item.LeadID, rule.ID, next, item.AttemptNumber+1); err != nil {
			return err
		}
		return e.leads.SetLifecycleStage(ctx, lead.ID, domain.LifecycleFollowUpPending)
	}
	return nil
}

// compose adapts rule.Template via the LLM when available, grounding the
// adaptation in the centurion's persona and recent history, falling back to
// the raw template on any failure or when no provider is configured.
func (e *Engine) compose(ctx context.Context, rule domain.FollowupRule, conv domain.Conversation, lead domain.Lead) string {
	if e.provider == nil {
		return rule.Template
	}
	history, err := e.messages.ListRecent(ctx, conv.ID, 15)
	if err != nil {
		return rule.Template
	}

	persona := ""
	model := ""
	if e.tenants != nil {
		if centurion, err := e.tenants.GetCenturion(ctx, lead.CompanyID, conv.CenturionID); err == nil {
			persona = centurion.Persona
			model = centurion.Model
		}
	}

	instruction := fmt.Sprintf(
		"%s\n\nAdapt the following re-engagement template naturally for this lead, keeping its intent. Respond with the message text only, nothing else.\n\nTemplate: %s",
		persona, rule.Template,
	)
	msgs := []llm.Message{{Role: "system", Content: instruction}}
	for _, m := range history {
		role := "user"
		if m.Direction == domain.DirectionOutbound {
			role = "assistant"
		}
		msgs = append(msgs, llm.Message{Role: role, Content: m.Content})
	}

	reply, err := e.provider.Chat(ctx, msgs, nil, model)
	if err != nil || reply.Content == "" {
		return rule.Template
	}
	return reply.Content
}

// Worker is the polling task.Runnable for C14.
type Worker struct {
	engine       *Engine
	logger       zerolog.Logger
	pollInterval time.Duration
	batchSize    int
}

// NewWorker builds the polling follow-up worker.
func NewWorker(engine *Engine, logger zerolog.Logger, pollInterval time.Duration, batchSize int) *Worker {
	return &Worker{engine: engine, logger: logger, pollInterval: pollInterval, batchSize: batchSize}
}

// Run polls ProcessDue every pollInterval until ctx is canceled.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if sent, err := w.engine.ProcessDue(ctx, w.batchSize); err != nil {
				w.logger.Error().Err(err).Msg("followup.worker.tick_failed")
			} else if sent > 0 {
				w.logger.Info().Int("sent", sent).Msg("followup.worker.tick")
			}
		}
	}
}

// Close is a no-op; Worker owns no resources beyond its collaborators.
func (w *Worker) Close() error { return nil }
