package qualification

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"centurion/internal/domain"
	"centurion/internal/llm"
)

// AEvaluate runs the LLM-assisted qualification path: missing field_present
// values are filled by a structured extraction call, and llm-typed criteria
// are evaluated by a second structured call returning
// {key, met, evidence?, confidence?}. Any call/parse failure or a nil
// provider falls back to the deterministic Evaluate path, never to a partial
// result.
func AEvaluate(ctx context.Context, provider llm.Provider, rules domain.QualificationRules, text string, extracted map[string]any) domain.QualificationResult {
	if provider == nil {
		return Evaluate(rules, text, extracted)
	}
	extracted = extractHeuristics(text, extracted)

	missingFields := missingFieldKeys(rules, extracted)
	if len(missingFields) > 0 {
		if filled, ok := extractFields(ctx, provider, text, missingFields); ok {
			for k, v := range filled {
				if _, exists := extracted[k]; !exists && v != "" {
					extracted[k] = v
				}
			}
		}
	}

	llmCriteria := llmCriteriaOf(rules)
	var summary string
	if len(llmCriteria) > 0 {
		if verdicts, ok := evaluateLLMCriteria(ctx, provider, text, llmCriteria); ok {
			for _, v := range verdicts {
				extracted[v.Key] = v.Met
			}
			summary = summarize(verdicts)
		}
	}

	result := Evaluate(rules, text, extracted)
	if summary != "" {
		result.Summary = summary
	}
	return result
}

func missingFieldKeys(rules domain.QualificationRules, extracted map[string]any) []string {
	var out []string
	for _, c := range rules.Criteria {
		if c.Type != domain.CriteriaFieldPresent {
			continue
		}
		field := c.Field
		if field == "" {
			field = c.Key
		}
		if !isPresent(extracted[field]) {
			out = append(out, field)
		}
	}
	return out
}

func llmCriteriaOf(rules domain.QualificationRules) []domain.Criterion {
	var out []domain.Criterion
	for _, c := range rules.Criteria {
		if c.Type == domain.CriteriaLLM {
			out = append(out, c)
		}
	}
	return out
}

type llmVerdict struct {
	Key        string  `json:"key"`
	Met        bool    `json:"met"`
	Evidence   string  `json:"evidence,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
}

// extractFields asks the model for a flat JSON object of field -> value for
// the given conversation text; a parse failure yields ok=false.
func extractFields(ctx context.Context, provider llm.Provider, text string, fields []string) (map[string]string, bool) {
	prompt := fmt.Sprintf(
		"Extract the following fields from the conversation below. Respond with a single JSON object mapping each field to its value as a string, or \"\" if absent. Fields: %s\n\nConversation:\n%s",
		strings.Join(fields, ", "), text,
	)
	reply, err := provider.Chat(ctx, []llm.Message{
		{Role: "system", Content: "You extract structured data from sales conversations. Respond with JSON only."},
		{Role: "user", Content: prompt},
	}, nil, "")
	if err != nil {
		return nil, false
	}
	var out map[string]string
	if err := json.Unmarshal([]byte(jsonBody(reply.Content)), &out); err != nil {
		return nil, false
	}
	return out, true
}

// evaluateLLMCriteria asks the model to judge each llm-typed criterion
// against the conversation text, returning structured verdicts.
func evaluateLLMCriteria(ctx context.Context, provider llm.Provider, text string, criteria []domain.Criterion) ([]llmVerdict, bool) {
	var sb strings.Builder
	sb.WriteString("Evaluate each criterion against the conversation below. Respond with a JSON array of objects {key, met, evidence, confidence} (met is a boolean, confidence is 0-1).\n\nCriteria:\n")
	for _, c := range criteria {
		fmt.Fprintf(&sb, "- key=%s: %s\n", c.Key, c.Prompt)
	}
	sb.WriteString("\nConversation:\n")
	sb.WriteString(text)

	reply, err := provider.Chat(ctx, []llm.Message{
		{Role: "system", Content: "You judge qualification criteria for a sales conversation. Respond with JSON only."},
		{Role: "user", Content: sb.String()},
	}, nil, "")
	if err != nil {
		return nil, false
	}
	var verdicts []llmVerdict
	if err := json.Unmarshal([]byte(jsonBody(reply.Content)), &verdicts); err != nil {
		return nil, false
	}
	return verdicts, true
}

func summarize(verdicts []llmVerdict) string {
	var sb strings.Builder
	for i, v := range verdicts {
		if i > 0 {
			sb.WriteString("; ")
		}
		status := "not met"
		if v.Met {
			status = "met"
		}
		fmt.Fprintf(&sb, "%s: %s", v.Key, status)
		if v.Evidence != "" {
			fmt.Fprintf(&sb, " (%s)", v.Evidence)
		}
	}
	return sb.String()
}

// jsonBody strips a ```json fenced block if the model wrapped its JSON in
// markdown, and trims surrounding whitespace either way.
func jsonBody(content string) string {
	s := strings.TrimSpace(content)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(s, "```")
		s = strings.TrimSpace(s)
	}
	return s
}
