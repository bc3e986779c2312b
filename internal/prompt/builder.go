// Package prompt implements prompt assembly and response parsing (C11):
// system+history+memory+KB composition, pending-turn trimming, the fenced
// media-plan directive, and sentence-aware chunking.
package prompt

import (
	"fmt"
	"strings"

	"centurion/internal/domain"
	"centurion/internal/llm"
)

// Context carries everything BuildPrompt needs beyond the base persona.
type Context struct {
	Persona          string
	LongTermFacts    []string // top-10 short bullets
	KnowledgeSnippets []KnowledgeSnippet
	MediaCapable     bool
	History          []domain.Message
	PendingCount     int
	ConsolidatedText string
}

// KnowledgeSnippet is one titled top-8 KB chunk surfaced in the system prompt.
type KnowledgeSnippet struct {
	Title string
	Text  string
}

const mediaToolInstructions = "To send media with your reply, append a fenced ```media code block whose body is a JSON array of up to 5 objects {\"asset_id\":\"...\",\"type\":\"image|audio|video|document\",\"caption\":\"...\"}. The block is stripped from what the lead sees."

// BuildPrompt assembles the system message plus the trimmed history, mapped
// to user/assistant turns, and the final consolidated user message.
func BuildPrompt(ctx Context) []llm.Message {
	msgs := make([]llm.Message, 0, len(ctx.History)+2)
	msgs = append(msgs, llm.Message{Role: "system", Content: systemPrompt(ctx)})

	trimmed := TrimPending(ctx.History, ctx.PendingCount)
	for _, m := range trimmed {
		role := "user"
		if m.Direction == domain.DirectionOutbound {
			role = "assistant"
		}
		msgs = append(msgs, llm.Message{Role: role, Content: displayText(m)})
	}

	msgs = append(msgs, llm.Message{Role: "user", Content: ctx.ConsolidatedText})
	return msgs
}

func systemPrompt(ctx Context) string {
	var sb strings.Builder
	sb.WriteString(ctx.Persona)

	if len(ctx.LongTermFacts) > 0 {
		sb.WriteString("\n\n<memoria_long_term>\n")
		for _, f := range ctx.LongTermFacts {
			fmt.Fprintf(&sb, "- %s\n", f)
		}
		sb.WriteString("</memoria_long_term>")
	}

	if len(ctx.KnowledgeSnippets) > 0 {
		sb.WriteString("\n\n<knowledge_base>\n")
		for _, k := range ctx.KnowledgeSnippets {
			fmt.Fprintf(&sb, "## %s\n%s\n", k.Title, k.Text)
		}
		sb.WriteString("</knowledge_base>")
	}

	if ctx.MediaCapable {
		sb.WriteString("\n\n")
		sb.WriteString(mediaToolInstructions)
	}

	return sb.String()
}

// displayText prefers the enrichment text (transcription/description) over
// raw content when present, matching what the lead's message actually
// conveyed to the model at dispatch time.
func displayText(m domain.Message) string {
	if m.AudioTranscription != "" {
		return m.AudioTranscription
	}
	if m.ImageDescription != "" {
		return m.ImageDescription
	}
	return m.Content
}

// TrimPending walks history from the tail, removing only the last
// pendingCount inbound-direction turns so the just-appended pending buffer
// (which is sent separately as the final user message) isn't double-counted.
// Outbound messages interleaved among those trailing inbound turns (e.g. a
// prior media chunk) are kept, so only the offending inbound turns drop out.
func TrimPending(history []domain.Message, pendingCount int) []domain.Message {
	if pendingCount <= 0 || len(history) == 0 {
		return history
	}
	drop := make(map[int]bool, pendingCount)
	removed := 0
	for i := len(history) - 1; i >= 0 && removed < pendingCount; i-- {
		if history[i].Direction == domain.DirectionInbound {
			drop[i] = true
			removed++
		}
	}
	if removed == 0 {
		return history
	}
	out := make([]domain.Message, 0, len(history)-removed)
	for i, m := range history {
		if !drop[i] {
			out = append(out, m)
		}
	}
	return out
}
