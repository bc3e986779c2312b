package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Load reads a local .env (if present, for development) and then layers
// environment variable overrides on top of Defaults().
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Defaults()

	cfg.Postgres.DSN = firstNonEmpty(env("DATABASE_URL"), env("POSTGRES_DSN"), cfg.Postgres.DSN)

	if v := env("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	cfg.Redis.Password = env("REDIS_PASSWORD")
	if v := envInt("REDIS_DB", -1); v >= 0 {
		cfg.Redis.DB = v
	}
	if v := env("LOCK_PREFIX"); v != "" {
		cfg.Redis.LockPrefix = v
	}

	if v := env("KAFKA_BROKERS"); v != "" {
		cfg.Bus.Brokers = splitCSV(v)
	}
	if v := env("KAFKA_CONSUMER_GROUP"); v != "" {
		cfg.Bus.ConsumerGroup = v
	}

	if v := env("QDRANT_ADDR"); v != "" {
		cfg.Qdrant.Addr = v
	}
	cfg.Qdrant.APIKey = env("QDRANT_API_KEY")
	if v := env("QDRANT_COLLECTION"); v != "" {
		cfg.Qdrant.Collection = v
	}

	cfg.ObjectStore.Bucket = env("MEDIA_BUCKET")
	cfg.ObjectStore.Region = firstNonEmpty(env("AWS_REGION"), env("MEDIA_REGION"))
	cfg.ObjectStore.Endpoint = env("MEDIA_S3_ENDPOINT")

	if v := env("LLM_PROVIDER"); v != "" {
		cfg.LLM.Provider = v
	}
	cfg.LLM.APIKey = firstNonEmpty(env("OPENAI_API_KEY"), env("LLM_API_KEY"))
	if v := env("LLM_BASE_URL"); v != "" {
		cfg.LLM.BaseURL = v
	}
	if v := env("LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}

	if v := env("EGRESS_ALLOWLIST"); v != "" {
		cfg.MCP.EgressAllowlist = splitCSV(v)
	}

	if v := env("OTEL_SERVICE_NAME"); v != "" {
		cfg.Obs.ServiceName = v
	}
	if v := env("LOG_LEVEL"); v != "" {
		cfg.Obs.LogLevel = v
	}
	cfg.Obs.OTLPEndpoint = env("OTEL_EXPORTER_OTLP_ENDPOINT")
	cfg.Obs.OTLPEnabled = cfg.Obs.OTLPEndpoint != ""
	cfg.Obs.OTLPInsecure = envBool("OTEL_EXPORTER_OTLP_INSECURE", false)
	cfg.Obs.LogPayloads = envBool("LOG_LLM_PAYLOADS", cfg.Obs.LogPayloads)
	if v := envInt("LOG_PAYLOAD_TRUNCATE_BYTES", -1); v >= 0 {
		cfg.Obs.LogPayloadTruncateBytes = v
	}

	if v := envDuration("DEBOUNCE_POLL_INTERVAL"); v > 0 {
		cfg.Workers.DebouncePollInterval = v
	}
	if v := envInt("DEBOUNCE_BATCH_SIZE", 0); v > 0 {
		cfg.Workers.DebounceBatchSize = v
	}
	if v := envInt("DEBOUNCE_DEFAULT_WAIT_MS", 0); v > 0 {
		cfg.Workers.DebounceDefaultWaitMs = v
	}
	if v := envDuration("CONVERSATION_LOCK_TTL"); v > 0 {
		cfg.Workers.ConversationLockTTL = v
	}
	if v := envDuration("CONVERSATION_LOCK_REFRESH"); v > 0 {
		cfg.Workers.ConversationLockRefresh = v
	}
	if v := envDuration("WATCHDOG_POLL_INTERVAL"); v > 0 {
		cfg.Workers.WatchdogPollInterval = v
	}
	if v := envDuration("WATCHDOG_STUCK_AFTER"); v > 0 {
		cfg.Workers.WatchdogStuckAfter = v
	}
	if v := envInt("WATCHDOG_BATCH_SIZE", 0); v > 0 {
		cfg.Workers.WatchdogBatchSize = v
	}
	if v := envDuration("FOLLOWUP_POLL_INTERVAL"); v > 0 {
		cfg.Workers.FollowupPollInterval = v
	}
	if v := envInt("FOLLOWUP_BATCH_SIZE", 0); v > 0 {
		cfg.Workers.FollowupBatchSize = v
	}
	if v := envDuration("MEMORY_CLEANUP_INTERVAL"); v > 0 {
		cfg.Workers.MemoryCleanupInterval = v
	}
	if v := envDuration("CHUNK_DELAY"); v > 0 {
		cfg.Workers.ChunkDelay = v
	}

	if v := env("ADMIN_HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}

	if v := env("DB_DEFAULT_DSN"); v != "" {
		cfg.DB.DefaultDSN = v
	}
	if v := env("DB_SEARCH_BACKEND"); v != "" {
		cfg.DB.Search.Backend = v
	}
	cfg.DB.Search.DSN = env("DB_SEARCH_DSN")
	if v := env("DB_VECTOR_BACKEND"); v != "" {
		cfg.DB.Vector.Backend = v
	}
	cfg.DB.Vector.DSN = env("DB_VECTOR_DSN")
	if v := env("DB_GRAPH_BACKEND"); v != "" {
		cfg.DB.Graph.Backend = v
	}
	cfg.DB.Graph.DSN = env("DB_GRAPH_DSN")

	// The long-term fact store's Qdrant collection is the same one the rest
	// of the runtime already configures via QDRANT_*; bridge it so selecting
	// the qdrant vector backend doesn't require duplicating that config.
	cfg.DB.Vector.QdrantAddr = cfg.Qdrant.Addr
	cfg.DB.Vector.QdrantAPIKey = cfg.Qdrant.APIKey
	cfg.DB.Vector.QdrantCollection = cfg.Qdrant.Collection

	return cfg, nil
}

func env(key string) string { return strings.TrimSpace(os.Getenv(key)) }

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func splitCSV(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func envInt(key string, fallback int) int {
	v := env(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envBool(key string, fallback bool) bool {
	v := env(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envDuration(key string) time.Duration {
	v := env(key)
	if v == "" {
		return 0
	}
	if ms, err := strconv.Atoi(v); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0
	}
	return d
}
