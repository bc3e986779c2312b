package egress

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEnsureToolArgs_WithinLimit(t *testing.T) {
	l := DefaultPayloadLimits()
	require.NoError(t, l.EnsureToolArgs("my_tool", map[string]any{"q": "hello"}))
}

func TestEnsureToolArgs_TooLarge(t *testing.T) {
	l := DefaultPayloadLimits()
	l.ToolArgsMaxBytes = 10
	err := l.EnsureToolArgs("my_tool", map[string]any{"q": strings.Repeat("x", 100)})
	require.Error(t, err)
}

func TestTruncateToolResult_DepthAndListCap(t *testing.T) {
	l := DefaultPayloadLimits()
	l.ToolMaxDepth = 2
	l.ToolMaxListItems = 2

	in := map[string]any{
		"items": []any{1, 2, 3, 4},
		"nested": map[string]any{
			"deeper": map[string]any{"x": "value"},
		},
	}
	out := l.TruncateToolResult(in).(map[string]any)
	items := out["items"].([]any)
	require.Len(t, items, 3) // 2 kept + truncation marker
	require.Equal(t, "...[truncated]", items[2])

	nested := out["nested"].(map[string]any)
	require.Equal(t, "[truncated]", nested["deeper"])
}

func TestTruncateToolResult_StringLength(t *testing.T) {
	l := DefaultPayloadLimits()
	l.ToolMaxStrChars = 20
	out := l.TruncateToolResult(strings.Repeat("a", 100))
	s := out.(string)
	require.LessOrEqual(t, len(s), 20)
	require.Contains(t, s, "...[truncated]")
}

func TestTruncateToolResult_FallsBackToCompactString(t *testing.T) {
	l := DefaultPayloadLimits()
	l.ToolResultMaxBytes = 5
	big := map[string]any{"a": "b"}
	out := l.TruncateToolResult(big)
	_, isString := out.(string)
	require.True(t, isString)
}

func TestTruncateJSON_MapOverLimitGetsTruncatedMarker(t *testing.T) {
	m := map[string]any{"a": 1, "b": 2, "c": 3}
	out := truncateJSON(m, 5, 2, 100).(map[string]any)
	require.True(t, out["__truncated__"].(bool))
}
