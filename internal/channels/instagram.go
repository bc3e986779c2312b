package channels

import "strings"

type instagramAdapter struct {
	prefixedAdapter
}

func newInstagramAdapter() Adapter {
	return instagramAdapter{prefixedAdapter{
		baseAdapter: baseAdapter{channelType: "instagram", capabilities: textOnly()},
		prefix:      "instagram:",
	}}
}

func (a instagramAdapter) NormalizeInbound(payload InboundPayload) NormalizedInbound {
	normalized := a.prefixedAdapter.NormalizeInbound(payload)

	raw := copyRaw(normalized.Raw)

	if _, ok := raw["message_id"]; !ok {
		if id, ok := extractInstagramMessageID(raw); ok {
			raw["message_id"] = id
		}
	}

	body := normalized.Body
	if body == "" {
		if text, ok := extractInstagramText(raw); ok {
			body = text
		}
	}

	if truthy(raw["is_story"]) || truthy(raw["story"]) || truthy(raw["story_mention"]) {
		normalized.Raw = raw
		normalized.Body = "[instagram] story mention"
		normalized.HasBody = true
		return normalized
	}
	if truthy(raw["is_mention"]) || truthy(raw["mention"]) {
		normalized.Raw = raw
		normalized.Body = "[instagram] mention"
		normalized.HasBody = true
		return normalized
	}

	if body == "" && normalized.Media != nil {
		if t, ok := normalized.Media["type"].(string); ok && t != "" {
			body = "[instagram] " + t + " message"
		}
	}

	normalized.Raw = raw
	normalized.Body = body
	normalized.HasBody = body != ""
	return normalized
}

func extractInstagramMessageID(raw map[string]any) (string, bool) {
	for _, key := range []string{"message_id", "mid", "id"} {
		if v, ok := raw[key].(string); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v), true
		}
	}
	data, _ := raw["data"].(map[string]any)
	if data == nil {
		return "", false
	}
	if keyObj, ok := data["key"].(map[string]any); ok {
		if id, ok := keyObj["id"]; ok {
			return toString(id), true
		}
	}
	if id, ok := data["id"]; ok {
		return toString(id), true
	}
	if msgObj, ok := data["message"].(map[string]any); ok {
		if id, ok := msgObj["id"]; ok {
			return toString(id), true
		}
		if mid, ok := msgObj["mid"]; ok {
			return toString(mid), true
		}
	}
	return "", false
}

func extractInstagramText(raw map[string]any) (string, bool) {
	for _, key := range []string{"text", "body", "message"} {
		if v, ok := raw[key].(string); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v), true
		}
	}
	data, _ := raw["data"].(map[string]any)
	if data == nil {
		return "", false
	}
	msgObj, _ := data["message"].(map[string]any)
	if msgObj == nil {
		return "", false
	}
	if convo, ok := msgObj["conversation"].(string); ok && strings.TrimSpace(convo) != "" {
		return strings.TrimSpace(convo), true
	}
	if extended, ok := msgObj["extendedTextMessage"].(map[string]any); ok {
		if txt, ok := extended["text"].(string); ok && strings.TrimSpace(txt) != "" {
			return strings.TrimSpace(txt), true
		}
	}
	return "", false
}
