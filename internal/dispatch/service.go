// Package dispatch implements the dispatch/centurion service (C10): the
// component the debounce scheduler invokes, under lock, once a
// conversation's debounce window elapses. It loads context, drives the LLM
// (with tool calling), sends the reply, schedules follow-ups, runs
// qualification, and triggers handoff on newly-qualified leads.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"centurion/internal/apperr"
	"centurion/internal/bus"
	"centurion/internal/channels"
	"centurion/internal/conversation"
	"centurion/internal/domain"
	"centurion/internal/egress"
	"centurion/internal/followup"
	"centurion/internal/handoff"
	"centurion/internal/idempotency"
	"centurion/internal/llm"
	"centurion/internal/memory"
	"centurion/internal/outbound"
	"centurion/internal/persistence/databases"
	"centurion/internal/prompt"
	"centurion/internal/qualification"
	"centurion/internal/telemetry"
	"centurion/internal/tenant"
	"centurion/internal/tools"
)

// maxToolRounds bounds the agent's tool-call loop so a misbehaving tool or
// model can't spin dispatch forever inside the scheduler's lock.
const maxToolRounds = 6

// historyLimit is the default recent-message window fed to the prompt.
const historyLimit = 25

// compactHistoryLimit replaces historyLimit on centurions configured with a
// model whose known context window is narrow, so history alone can't starve
// the persona/tool/response budget of a prompt turn.
const compactHistoryLimit = 15

// narrowContextTokens is the ContextSize cutoff below which historyWindow
// derates to compactHistoryLimit.
const narrowContextTokens = 16_000

// historyWindow picks the recent-message window for a centurion's configured
// model: the default historyLimit, or compactHistoryLimit when the model's
// known context window is narrow. Unknown models keep the default, since
// llm.ContextSize's conservative fallback is sized for large modern models.
func historyWindow(model string) int {
	if tokens, known := llm.ContextSize(model); known && tokens < narrowContextTokens {
		return compactHistoryLimit
	}
	return historyLimit
}

const qualificationConsumer = "dispatch.qualification"

// neutralFallback is sent when the model returns nothing usable, so a lead
// is never left with dead air after a debounce fires.
const neutralFallback = "Desculpe, tive um problema para responder agora. Pode repetir sua última mensagem?"

// Service is the dispatch/centurion service, satisfying debounce.Dispatcher.
type Service struct {
	conversations *conversation.Repository
	leads         *conversation.LeadRepository
	messages      *conversation.MessageRepository
	tenants       *tenant.Repository
	shortTerm     *memory.ShortTerm
	longTerm      *memory.LongTerm
	knowledge     databases.FullTextSearch
	sender        *outbound.Sender
	followups     *followup.Engine
	handoff       *handoff.Handoff
	provider      llm.Provider
	toolRegistry  tools.Registry
	router        *channels.Router
	claims        *idempotency.Store
	limits        egress.PayloadLimits
	logger        zerolog.Logger
	chunkDelay    time.Duration
	publisher     *bus.Publisher
	meters        *telemetry.Meters
}

// WithMeters attaches the runtime's lead-qualified counter; omitting it
// leaves qualification metrics-free.
func (s *Service) WithMeters(m *telemetry.Meters) *Service {
	s.meters = m
	return s
}

// New wires a Service over its collaborators.
func New(
	conversations *conversation.Repository,
	leads *conversation.LeadRepository,
	messages *conversation.MessageRepository,
	tenants *tenant.Repository,
	shortTerm *memory.ShortTerm,
	longTerm *memory.LongTerm,
	knowledge databases.FullTextSearch,
	sender *outbound.Sender,
	followups *followup.Engine,
	h *handoff.Handoff,
	provider llm.Provider,
	toolRegistry tools.Registry,
	router *channels.Router,
	claims *idempotency.Store,
	limits egress.PayloadLimits,
	logger zerolog.Logger,
	chunkDelay time.Duration,
	publisher *bus.Publisher,
) *Service {
	return &Service{
		conversations: conversations,
		leads:         leads,
		messages:      messages,
		tenants:       tenants,
		shortTerm:     shortTerm,
		longTerm:      longTerm,
		knowledge:     knowledge,
		sender:        sender,
		followups:     followups,
		handoff:       h,
		provider:      provider,
		toolRegistry:  toolRegistry,
		router:        router,
		claims:        claims,
		limits:        limits,
		logger:        logger,
		chunkDelay:    chunkDelay,
		publisher:     publisher,
	}
}

// Dispatch runs the full §4.10 pipeline for conversationID. The caller
// (debounce.Scheduler) holds the per-conversation lock for the duration of
// this call.
func (s *Service) Dispatch(ctx context.Context, conversationID string) error {
	conv, err := s.conversations.GetByID(ctx, conversationID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		return err
	}
	if len(conv.PendingMessages) == 0 {
		return s.conversations.ClearPending(ctx, conv.ID, nil)
	}

	lead, err := s.leads.Get(ctx, conv.CompanyID, conv.LeadID)
	if err != nil {
		return err
	}
	if lead.Phone == "" || conv.ChannelInstanceID == "" {
		s.logger.Warn().Str("conversation_id", conv.ID).Msg("dispatch.missing_channel_identity")
		return s.conversations.ClearPending(ctx, conv.ID, nil)
	}

	centurion, err := s.tenants.GetCenturion(ctx, conv.CompanyID, conv.CenturionID)
	if err != nil {
		return err
	}
	if !centurion.IsActive {
		return s.conversations.ClearPending(ctx, conv.ID, nil)
	}

	if err := s.conversations.MarkProcessing(ctx, conv.ID); err != nil {
		return err
	}

	pending := conv.PendingMessages
	consolidated := strings.Join(pending, "\n")

	history, err := s.shortTerm.GetHistory(ctx, conv.ID, historyWindow(centurion.Model))
	if err != nil {
		return err
	}

	promptCtx := prompt.Context{
		Persona:          centurion.Persona,
		MediaCapable:     centurion.AllowMediaDownload && s.router.Capabilities(conv.ChannelType).Supports("image"),
		History:          history,
		PendingCount:     len(pending),
		ConsolidatedText: consolidated,
	}
	if s.longTerm != nil {
		if facts, err := s.longTerm.TopFacts(ctx, lead.ID, consolidated, 10); err != nil {
			s.logger.Warn().Err(err).Str("conversation_id", conv.ID).Msg("dispatch.longterm_lookup_failed")
		} else {
			promptCtx.LongTermFacts = facts
		}
	}
	if s.knowledge != nil {
		if snippets, err := s.knowledgeSnippets(ctx, consolidated); err != nil {
			s.logger.Warn().Err(err).Str("conversation_id", conv.ID).Msg("dispatch.knowledge_lookup_failed")
		} else {
			promptCtx.KnowledgeSnippets = snippets
		}
	}

	msgs := prompt.BuildPrompt(promptCtx)

	reply, err := s.converse(ctx, msgs, centurion.Model)
	replyText := ""
	if err != nil {
		s.logger.Error().Err(err).Str("conversation_id", conv.ID).Msg("dispatch.llm_failed")
		replyText = neutralFallback
	} else {
		replyText = reply.Content
		if strings.TrimSpace(replyText) == "" {
			replyText = neutralFallback
		}
	}

	text, mediaItems := prompt.ExtractMediaPlan(replyText)
	chunks := prompt.ChunkText(text, centurion.ChunkMaxChars, centurion.ChunkingEnabled)

	outboundMsgs := make([]channels.OutboundMessage, 0, len(chunks)+len(mediaItems))
	for _, c := range chunks {
		outboundMsgs = append(outboundMsgs, channels.OutboundMessage{Type: "text", Text: c})
	}
	if centurion.AllowMediaDownload {
		for _, m := range mediaItems {
			outboundMsgs = append(outboundMsgs, channels.OutboundMessage{Type: m.Type, AssetID: m.AssetID, Caption: m.Caption})
		}
	}
	outboundMsgs = s.router.FilterOutbound(conv.ChannelType, outboundMsgs)

	correlationID := conv.ID + ":" + conv.UpdatedAt.Format(time.RFC3339Nano)
	now := time.Now().UTC()
	for i, om := range outboundMsgs {
		if err := s.sendOne(ctx, conv, lead, om, i, correlationID); err != nil {
			s.logger.Error().Err(err).Str("conversation_id", conv.ID).Int("chunk_index", i).Msg("dispatch.send_failed")
		}
		if om.Type == "text" && i < len(outboundMsgs)-1 && s.chunkDelay > 0 {
			time.Sleep(s.chunkDelay)
		}
	}

	if err := s.conversations.ClearPending(ctx, conv.ID, &now); err != nil {
		return err
	}
	s.shortTerm.Invalidate(ctx, conv.ID, historyLimit, compactHistoryLimit)
	if err := s.leads.TouchLastContact(ctx, lead.ID); err != nil {
		s.logger.Warn().Err(err).Str("lead_id", lead.ID).Msg("dispatch.touch_contact_failed")
	}
	lead.LastContactAt = &now

	if conv.ChannelType == "whatsapp" && s.followups != nil {
		if err := s.followups.ScheduleForLead(ctx, lead, centurion.ID); err != nil {
			s.logger.Warn().Err(err).Str("lead_id", lead.ID).Msg("dispatch.followup_schedule_failed")
		}
	}

	if err := s.qualify(ctx, conv, lead, centurion, consolidated, correlationID); err != nil {
		s.logger.Warn().Err(err).Str("lead_id", lead.ID).Msg("dispatch.qualification_failed")
	}

	if s.longTerm != nil && consolidated != "" {
		go func() {
			bg := context.Background()
			if err := s.longTerm.Remember(bg, domain.Fact{LeadID: lead.ID, CompanyID: lead.CompanyID, Text: consolidated, Category: "conversation"}); err != nil {
				s.logger.Warn().Err(err).Str("lead_id", lead.ID).Msg("dispatch.remember_fact_failed")
			}
		}()
	}

	return nil
}

func (s *Service) sendOne(ctx context.Context, conv domain.Conversation, lead domain.Lead, om channels.OutboundMessage, index int, correlationID string) error {
	msg := outbound.Message{Type: om.Type, Text: om.Text, AssetID: om.AssetID, Caption: om.Caption}
	row := domain.Message{
		ConversationID: conv.ID,
		CompanyID:      conv.CompanyID,
		LeadID:         conv.LeadID,
		Direction:      domain.DirectionOutbound,
		ContentType:    contentTypeOf(om.Type),
		Content:        om.Text,
	}
	msgID, err := s.messages.Append(ctx, row)
	if err != nil {
		return err
	}

	sent, err := s.sender.Send(ctx, conv.CompanyID, conv.ChannelInstanceID, lead.Phone, msg, index, correlationID, "", nil)
	if err != nil {
		_ = s.messages.Delete(ctx, msgID)
		return err
	}
	if !sent {
		_ = s.messages.Delete(ctx, msgID)
	}
	return nil
}

func contentTypeOf(msgType string) domain.ContentType {
	switch msgType {
	case "image":
		return domain.ContentImage
	case "audio":
		return domain.ContentAudio
	case "video":
		return domain.ContentVideo
	case "document":
		return domain.ContentDocument
	default:
		return domain.ContentText
	}
}

// converse drives the tool-calling loop: Chat, and if the model requests
// tool calls, dispatch them through the shared registry (tenant + MCP tools
// alike, since both are registered into the same Registry at startup) and
// feed results back until a final text reply or maxToolRounds is hit.
func (s *Service) converse(ctx context.Context, msgs []llm.Message, model string) (llm.Message, error) {
	schemas := s.toolRegistry.Schemas()
	for round := 0; round < maxToolRounds; round++ {
		reply, err := s.provider.Chat(ctx, msgs, schemas, model)
		if err != nil {
			return llm.Message{}, apperr.New(apperr.LLMUnavailable, "dispatch.converse", err)
		}
		if len(reply.ToolCalls) == 0 {
			return reply, nil
		}
		msgs = append(msgs, reply)
		for _, tc := range reply.ToolCalls {
			msgs = append(msgs, s.runTool(ctx, tc))
		}
	}
	return llm.Message{}, apperr.New(apperr.LLMUnavailable, "dispatch.converse", errors.New("tool-call loop exceeded max rounds"))
}

func (s *Service) runTool(ctx context.Context, tc llm.ToolCall) llm.Message {
	var args any
	_ = json.Unmarshal(tc.Args, &args)
	if err := s.limits.EnsureToolArgs(tc.Name, args); err != nil {
		return toolErrorMessage(tc.ID, err)
	}

	payload, err := s.toolRegistry.Dispatch(ctx, tc.Name, tc.Args)
	if err != nil {
		return toolErrorMessage(tc.ID, err)
	}

	var parsed any
	if jsonErr := json.Unmarshal(payload, &parsed); jsonErr != nil {
		parsed = string(payload)
	}
	truncated := s.limits.TruncateToolResult(parsed)
	body, err := json.Marshal(truncated)
	if err != nil {
		return toolErrorMessage(tc.ID, err)
	}
	return llm.Message{Role: "tool", ToolID: tc.ID, Content: string(body)}
}

func toolErrorMessage(toolID string, err error) llm.Message {
	body, _ := json.Marshal(map[string]any{"ok": false, "error": err.Error()})
	return llm.Message{Role: "tool", ToolID: toolID, Content: string(body)}
}

func (s *Service) knowledgeSnippets(ctx context.Context, query string) ([]prompt.KnowledgeSnippet, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	results, err := s.knowledge.Search(ctx, query, 8)
	if err != nil {
		return nil, err
	}
	out := make([]prompt.KnowledgeSnippet, 0, len(results))
	for _, r := range results {
		title := r.ID
		if t, ok := r.Metadata["title"]; ok && t != "" {
			title = t
		}
		text := r.Snippet
		if text == "" {
			continue
		}
		out = append(out, prompt.KnowledgeSnippet{Title: title, Text: text})
	}
	return out, nil
}

// qualify evaluates the centurion's qualification rules against the whole
// conversation, guarded by an idempotency claim keyed by
// (lead_id, correlation_id, rules_hash) so a retried dispatch never
// re-triggers handoff for the same qualification outcome.
func (s *Service) qualify(ctx context.Context, conv domain.Conversation, lead domain.Lead, centurion domain.Centurion, consolidated, correlationID string) error {
	if lead.IsQualified || lead.LifecycleStage.IsTerminal() {
		return nil
	}
	rules := qualification.ParseRules(centurion.QualificationRules)
	if len(rules.Criteria) == 0 {
		return nil
	}

	fullText, err := s.messages.ConsolidatedText(ctx, conv.ID)
	if err != nil {
		fullText = consolidated
	}

	claimKey := fmt.Sprintf("%s:%s:%s", lead.ID, correlationID, rules.CriteriaHash)
	claimed, err := s.claims.Claim(ctx, conv.CompanyID, qualificationConsumer, claimKey, 24*time.Hour, idempotency.Claim{
		EventType:     "qualification.evaluated",
		CorrelationID: correlationID,
	})
	if err != nil {
		return err
	}
	if !claimed {
		return nil
	}

	var result domain.QualificationResult
	if s.provider != nil {
		result = qualification.AEvaluate(ctx, s.provider, rules, fullText, nil)
	} else {
		result = qualification.Evaluate(rules, fullText, nil)
	}

	if err := s.leads.SetQualification(ctx, lead.ID, result.Score, result.IsQualified, result.Extracted); err != nil {
		return err
	}
	if !result.IsQualified {
		return nil
	}

	lead.IsQualified = true
	if s.followups != nil {
		if err := s.followups.CancelPending(ctx, conv.CompanyID, lead.ID); err != nil {
			s.logger.Warn().Err(err).Str("lead_id", lead.ID).Msg("dispatch.followup_cancel_failed")
		}
	}
	res, err := s.handoff.Execute(ctx, lead, result)
	if err != nil {
		return err
	}
	s.logger.Info().Str("lead_id", lead.ID).Str("deal_id", res.LocalDealID).Msg("dispatch.handoff_completed")
	if s.meters != nil && s.meters.LeadsQualifiedTotal != nil {
		s.meters.LeadsQualifiedTotal.Add(ctx, 1)
	}

	if err := s.conversations.SetLeadState(ctx, conv.ID, "inactive"); err != nil {
		s.logger.Warn().Err(err).Str("conversation_id", conv.ID).Msg("dispatch.set_lead_state_failed")
	}

	closing := outbound.Message{Type: "text", Text: "Perfeito! Já te conectei com nosso time, eles vão continuar seu atendimento a partir de agora."}
	row := domain.Message{
		ConversationID: conv.ID,
		CompanyID:      conv.CompanyID,
		LeadID:         conv.LeadID,
		Direction:      domain.DirectionOutbound,
		ContentType:    domain.ContentText,
		Content:        closing.Text,
	}
	msgID, err := s.messages.Append(ctx, row)
	if err != nil {
		s.logger.Warn().Err(err).Str("lead_id", lead.ID).Msg("dispatch.closing_message_persist_failed")
	} else {
		sent, sendErr := s.sender.Send(ctx, conv.CompanyID, conv.ChannelInstanceID, lead.Phone, closing, 0, correlationID+":closing", "", nil)
		if sendErr != nil || !sent {
			_ = s.messages.Delete(ctx, msgID)
		}
	}

	env, err := domain.BuildEnvelope(bus.TopicLeadQualified, conv.CompanyID, "dispatch.service", map[string]any{
		"lead_id": lead.ID, "score": result.Score, "deal_id": res.LocalDealID,
	}, correlationID, "")
	if err == nil {
		_ = s.publishBestEffort(ctx, env)
	}
	return nil
}

func (s *Service) publishBestEffort(ctx context.Context, env domain.EventEnvelope) error {
	if s.publisher == nil {
		return nil
	}
	return s.publisher.Publish(ctx, env)
}

// TestRun drives a single stateless agent turn against a centurion's
// configured persona, with no conversation, lead, or queue involved. It
// backs the admin surface's one-shot test endpoint, matching
// CenturionService.test_centurion in the original implementation.
func (s *Service) TestRun(ctx context.Context, companyID, centurionID, message string) (string, error) {
	centurion, err := s.tenants.GetCenturion(ctx, companyID, centurionID)
	if err != nil {
		return "", err
	}
	persona := centurion.Persona
	if persona == "" {
		persona = "Você é um SDR educado e objetivo."
	}
	msgs := []llm.Message{
		{Role: "system", Content: persona},
		{Role: "user", Content: message},
	}
	reply, err := s.converse(ctx, msgs, centurion.Model)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(reply.Content) == "" {
		return "", apperr.New(apperr.LLMUnavailable, "dispatch.TestRun", errors.New("empty response"))
	}
	return reply.Content, nil
}
