package channels

import (
	"strings"
)

type telegramAdapter struct {
	prefixedAdapter
}

func newTelegramAdapter() Adapter {
	return telegramAdapter{prefixedAdapter{
		baseAdapter: baseAdapter{channelType: "telegram", capabilities: textOnly()},
		prefix:      "telegram:",
	}}
}

func (a telegramAdapter) NormalizeInbound(payload InboundPayload) NormalizedInbound {
	normalized := a.prefixedAdapter.NormalizeInbound(payload)

	raw := copyRaw(normalized.Raw)

	if _, ok := raw["message_id"]; !ok {
		if id, ok := extractTelegramMessageID(raw); ok {
			raw["message_id"] = id
		}
	}

	body := normalized.Body
	if body == "" {
		if text, ok := extractTelegramText(raw); ok {
			body = text
		}
	}

	if text := strings.TrimSpace(body); strings.HasPrefix(text, "/") && text != "" {
		tg, _ := raw["telegram"].(map[string]any)
		if tg == nil {
			tg = map[string]any{}
		}
		fields := strings.Fields(text)
		tg["command"] = fields[0]
		raw["telegram"] = tg
		body = text
	}

	normalized.Raw = raw
	normalized.Body = body
	normalized.HasBody = body != ""
	return normalized
}

func extractTelegramMessageID(raw map[string]any) (string, bool) {
	if v, ok := raw["message_id"].(string); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v), true
	}
	update, _ := raw["update"].(map[string]any)
	if update == nil {
		return "", false
	}
	msg := telegramMessage(update)
	if msg != nil {
		if id, ok := msg["message_id"]; ok {
			return toString(id), true
		}
	}
	if id, ok := update["update_id"]; ok {
		return toString(id), true
	}
	return "", false
}

func extractTelegramText(raw map[string]any) (string, bool) {
	update, _ := raw["update"].(map[string]any)
	if update == nil {
		return "", false
	}
	msg := telegramMessage(update)
	if msg == nil {
		return "", false
	}
	if text, ok := msg["text"].(string); ok && strings.TrimSpace(text) != "" {
		return strings.TrimSpace(text), true
	}
	if caption, ok := msg["caption"].(string); ok && strings.TrimSpace(caption) != "" {
		return strings.TrimSpace(caption), true
	}
	return "", false
}

func telegramMessage(update map[string]any) map[string]any {
	if msg, ok := update["message"].(map[string]any); ok {
		return msg
	}
	if edited, ok := update["edited_message"].(map[string]any); ok {
		return edited
	}
	return nil
}
