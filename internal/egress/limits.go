package egress

import (
	"encoding/json"
	"fmt"
)

// PayloadLimits bounds tool argument/result size and media download size.
// Tool results are truncated by recursion depth, list/object item count,
// and string length before being returned to the agent, logged, or
// audited.
type PayloadLimits struct {
	ToolArgsMaxBytes   int
	ToolResultMaxBytes int
	ToolMaxDepth       int
	ToolMaxListItems   int
	ToolMaxStrChars    int

	MediaDownloadMaxBytes int64
	STTAudioMaxBytes      int64
	VisionImageMaxBytes   int64
}

// DefaultPayloadLimits matches the defaults every tenant starts from absent
// config overrides.
func DefaultPayloadLimits() PayloadLimits {
	return PayloadLimits{
		ToolArgsMaxBytes:      25_000,
		ToolResultMaxBytes:    250_000,
		ToolMaxDepth:          6,
		ToolMaxListItems:      80,
		ToolMaxStrChars:       8_000,
		MediaDownloadMaxBytes: 15_000_000,
		STTAudioMaxBytes:      10_000_000,
		VisionImageMaxBytes:   6_000_000,
	}
}

// EnsureToolArgs returns a PolicyViolation error if arguments serialize to
// more than ToolArgsMaxBytes.
func (l PayloadLimits) EnsureToolArgs(toolName string, arguments any) error {
	size := jsonSizeBytes(arguments)
	if size <= l.ToolArgsMaxBytes {
		return nil
	}
	if toolName == "" {
		toolName = "tool"
	}
	return policyErr(fmt.Sprintf("%s arguments too large (%d bytes > %d)", toolName, size, l.ToolArgsMaxBytes))
}

// TruncateToolResult recursively truncates result by depth, item count, and
// string length, falling back to a compact string if the truncated form is
// still over ToolResultMaxBytes. It does not guarantee the output is below
// the byte limit, only that the risk is reduced.
func (l PayloadLimits) TruncateToolResult(result any) any {
	truncated := truncateJSON(result, l.ToolMaxDepth, l.ToolMaxListItems, l.ToolMaxStrChars)
	if jsonSizeBytes(truncated) <= l.ToolResultMaxBytes {
		return truncated
	}
	return truncateStr(fmt.Sprintf("%v", truncated), l.ToolResultMaxBytes/4)
}

func jsonSizeBytes(v any) int {
	b, err := json.Marshal(v)
	if err != nil {
		return len(fmt.Sprintf("%v", v))
	}
	return len(b)
}

func truncateStr(s string, maxChars int) string {
	if maxChars < 0 {
		maxChars = 0
	}
	if len(s) <= maxChars {
		return s
	}
	const suffix = "...[truncated]"
	cut := maxChars - len(suffix)
	if cut < 0 {
		cut = 0
	}
	return s[:cut] + suffix
}

func truncateJSON(v any, maxDepth, maxListItems, maxStrChars int) any {
	switch val := v.(type) {
	case nil, bool, int, int64, float64:
		return val
	case string:
		return truncateStr(val, maxStrChars)
	case map[string]any:
		if maxDepth <= 0 {
			return "[truncated]"
		}
		out := make(map[string]any, len(val))
		i := 0
		for k, vv := range val {
			if i >= maxListItems {
				break
			}
			out[k] = truncateJSON(vv, maxDepth-1, maxListItems, maxStrChars)
			i++
		}
		if len(val) > maxListItems {
			out["__truncated__"] = true
		}
		return out
	case []any:
		if maxDepth <= 0 {
			return "[truncated]"
		}
		n := len(val)
		if n > maxListItems {
			n = maxListItems
		}
		out := make([]any, 0, n+1)
		for i := 0; i < n; i++ {
			out = append(out, truncateJSON(val[i], maxDepth-1, maxListItems, maxStrChars))
		}
		if len(val) > maxListItems {
			out = append(out, "...[truncated]")
		}
		return out
	default:
		return truncateStr(fmt.Sprintf("%v", val), maxStrChars)
	}
}
