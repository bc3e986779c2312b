package prompt

import (
	"encoding/json"
	"regexp"
	"strings"
)

// maxMediaItems caps how many media directives a single reply may emit.
const maxMediaItems = 5

var allowedMediaTypes = map[string]bool{
	"audio":    true,
	"image":    true,
	"video":    true,
	"document": true,
}

// MediaItem is one entry of a parsed ```media directive.
type MediaItem struct {
	AssetID string `json:"asset_id"`
	Type    string `json:"type"`
	Caption string `json:"caption,omitempty"`
}

var mediaFence = regexp.MustCompile("(?s)```media\\s*\\n(.*?)```")

// ExtractMediaPlan pulls the fenced ```media block out of raw, returning the
// remaining text (fence stripped) plus up to maxMediaItems valid entries. The
// block may be a single object or an array; entries with an unknown type or
// missing asset_id are dropped rather than failing the whole reply.
func ExtractMediaPlan(raw string) (text string, items []MediaItem) {
	loc := mediaFence.FindStringSubmatchIndex(raw)
	if loc == nil {
		return raw, nil
	}
	body := raw[loc[2]:loc[3]]
	text = strings.TrimSpace(raw[:loc[0]] + raw[loc[1]:])

	var rawItems []map[string]any
	trimmed := strings.TrimSpace(body)
	if strings.HasPrefix(trimmed, "[") {
		_ = json.Unmarshal([]byte(trimmed), &rawItems)
	} else {
		var one map[string]any
		if err := json.Unmarshal([]byte(trimmed), &one); err == nil {
			rawItems = []map[string]any{one}
		}
	}

	for _, m := range rawItems {
		if len(items) >= maxMediaItems {
			break
		}
		assetID, _ := m["asset_id"].(string)
		mediaType, _ := m["type"].(string)
		if assetID == "" || !allowedMediaTypes[mediaType] {
			continue
		}
		caption, _ := m["caption"].(string)
		items = append(items, MediaItem{AssetID: assetID, Type: mediaType, Caption: caption})
	}
	return text, items
}

var sentenceEnd = regexp.MustCompile(`[.!?]+["')\]]?\s+`)

// ChunkText splits text into chunks of at most maxChars, greedily packing
// whole sentences. It is a no-op when chunking is disabled, text is empty, or
// text already fits in one chunk. A sentence longer than maxChars on its own
// is hard-split into fixed-size slices rather than overflowing the limit.
func ChunkText(text string, maxChars int, enabled bool) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if !enabled || maxChars <= 0 || len(text) <= maxChars {
		return []string{text}
	}

	sentences := splitSentences(text)
	var chunks []string
	var cur strings.Builder

	flush := func() {
		if cur.Len() > 0 {
			chunks = append(chunks, strings.TrimSpace(cur.String()))
			cur.Reset()
		}
	}

	for _, s := range sentences {
		if len(s) > maxChars {
			flush()
			chunks = append(chunks, hardSplit(s, maxChars)...)
			continue
		}
		if cur.Len() > 0 && cur.Len()+1+len(s) > maxChars {
			flush()
		}
		if cur.Len() > 0 {
			cur.WriteByte(' ')
		}
		cur.WriteString(s)
	}
	flush()
	return chunks
}

// splitSentences breaks text on sentence terminators, keeping the terminator
// attached to the sentence it ends.
func splitSentences(text string) []string {
	var out []string
	last := 0
	locs := sentenceEnd.FindAllStringIndex(text, -1)
	for _, loc := range locs {
		out = append(out, strings.TrimSpace(text[last:loc[1]]))
		last = loc[1]
	}
	if last < len(text) {
		if rest := strings.TrimSpace(text[last:]); rest != "" {
			out = append(out, rest)
		}
	}
	return out
}

// hardSplit fixed-size-slices a sentence too long to fit in any chunk on its
// own, on rune boundaries so multi-byte characters aren't cut in half.
func hardSplit(s string, maxChars int) []string {
	runes := []rune(s)
	var out []string
	for i := 0; i < len(runes); i += maxChars {
		end := i + maxChars
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, string(runes[i:end]))
	}
	return out
}
