package lock

import (
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestManager() *Manager {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	return New(client, "")
}

func TestManager_DefaultPrefix(t *testing.T) {
	m := New(redis.NewClient(&redis.Options{}), "")
	require.Equal(t, "locks:", m.prefix)
}

func TestManager_CustomPrefix(t *testing.T) {
	m := New(redis.NewClient(&redis.Options{}), "tenant42:")
	require.Equal(t, "tenant42:", m.prefix)
}

func TestKey_RejectsEmptyName(t *testing.T) {
	m := newTestManager()
	_, err := m.key("   ")
	require.ErrorIs(t, err, ErrEmptyName)
}

func TestKey_TrimsAndPrefixes(t *testing.T) {
	m := newTestManager()
	key, err := m.key("  conv-123  ")
	require.NoError(t, err)
	require.Equal(t, "locks:conv-123", key)
}
