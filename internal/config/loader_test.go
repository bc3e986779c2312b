package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		old, had := os.LookupEnv(k)
		os.Unsetenv(k)
		t.Cleanup(func() {
			if had {
				os.Setenv(k, old)
			}
		})
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t, "REDIS_ADDR", "KAFKA_BROKERS", "DEBOUNCE_BATCH_SIZE", "DEBOUNCE_POLL_INTERVAL")
	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:6379", cfg.Redis.Addr)
	require.Equal(t, 20, cfg.Workers.DebounceBatchSize)
	require.Equal(t, 1*time.Second, cfg.Workers.DebouncePollInterval)
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t, "REDIS_ADDR", "KAFKA_BROKERS", "DEBOUNCE_BATCH_SIZE")
	os.Setenv("REDIS_ADDR", "redis.internal:6380")
	os.Setenv("KAFKA_BROKERS", "b1:9092, b2:9092")
	os.Setenv("DEBOUNCE_BATCH_SIZE", "50")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "redis.internal:6380", cfg.Redis.Addr)
	require.Equal(t, []string{"b1:9092", "b2:9092"}, cfg.Bus.Brokers)
	require.Equal(t, 50, cfg.Workers.DebounceBatchSize)
}

func TestEnvDuration_AcceptsMillisAndGoDuration(t *testing.T) {
	os.Setenv("TEST_DUR_MS", "1500")
	os.Setenv("TEST_DUR_GO", "2s")
	defer os.Unsetenv("TEST_DUR_MS")
	defer os.Unsetenv("TEST_DUR_GO")

	require.Equal(t, 1500*time.Millisecond, envDuration("TEST_DUR_MS"))
	require.Equal(t, 2*time.Second, envDuration("TEST_DUR_GO"))
}

func TestSplitCSV_TrimsAndDropsEmpty(t *testing.T) {
	require.Equal(t, []string{"a", "b"}, splitCSV(" a, , b "))
}
