package idempotency

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNormalizeTTL_Floors30Seconds(t *testing.T) {
	require.Equal(t, minTTL, normalizeTTL(5*time.Second))
	require.Equal(t, 45*time.Second, normalizeTTL(45*time.Second))
	require.Equal(t, minTTL, normalizeTTL(0))
	require.Equal(t, minTTL, normalizeTTL(-time.Minute))
}

func TestTruncateKey_Caps512Chars(t *testing.T) {
	short := "message.received:abc-123"
	require.Equal(t, short, truncateKey(short))

	long := strings.Repeat("x", 1000)
	got := truncateKey(long)
	require.Len(t, got, maxKeyLen)
	require.Equal(t, strings.Repeat("x", maxKeyLen), got)
}

func TestNullable(t *testing.T) {
	require.Nil(t, nullable(""))
	require.Equal(t, "abc", nullable("abc"))
}
