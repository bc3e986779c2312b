// Package config loads runtime configuration from environment variables
// (with an optional local .env overlay for development), following the
// typed-struct-group-with-env-override convention this codebase has always
// used for its boot sequence.
package config

import "time"

// Config is the root configuration for cmd/runtime and cmd/admin.
type Config struct {
	Postgres    PostgresConfig
	Redis       RedisConfig
	Bus         BusConfig
	Qdrant      QdrantConfig
	ObjectStore ObjectStoreConfig
	LLM         LLMConfig
	MCP         MCPConfig
	Obs         ObservabilityConfig
	Workers     WorkersConfig
	HTTP        HTTPConfig
	DB          DBConfig
}

// PostgresConfig configures the primary relational store.
type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

// RedisConfig configures the cache and lock-manager backend.
type RedisConfig struct {
	Addr       string `yaml:"addr"`
	Password   string `yaml:"password"`
	DB         int    `yaml:"db"`
	LockPrefix string `yaml:"lock_prefix"`
}

// BusConfig configures the Kafka-backed event bus.
type BusConfig struct {
	Brokers       []string `yaml:"brokers"`
	ConsumerGroup string   `yaml:"consumer_group"`
}

// QdrantConfig configures the long-term fact / knowledge-base vector store.
type QdrantConfig struct {
	Addr       string `yaml:"addr"`
	APIKey     string `yaml:"api_key"`
	Collection string `yaml:"collection"`
}

// ObjectStoreConfig configures the S3-backed media asset store.
type ObjectStoreConfig struct {
	Bucket                string       `yaml:"bucket"`
	Region                string       `yaml:"region"`
	Endpoint              string       `yaml:"endpoint,omitempty"`
	Prefix                string       `yaml:"prefix,omitempty"`
	AccessKey             string       `yaml:"access_key,omitempty"`
	SecretKey             string       `yaml:"secret_key,omitempty"`
	UsePathStyle          bool         `yaml:"use_path_style,omitempty"`
	TLSInsecureSkipVerify bool         `yaml:"tls_insecure_skip_verify,omitempty"`
	SSE                   S3SSEConfig  `yaml:"sse,omitempty"`
}

// S3SSEConfig configures server-side encryption for media uploads.
type S3SSEConfig struct {
	Mode     string `yaml:"mode,omitempty"` // "", "sse-s3", or "sse-kms"
	KMSKeyID string `yaml:"kms_key_id,omitempty"`
}

// LLMConfig configures the external LLM collaborator boundary. This runtime
// binds to a single OpenAI-compatible provider (or self-hosted OpenAI-compatible
// endpoint); it does not select between multiple vendor SDKs at runtime.
type LLMConfig struct {
	Provider    string         `yaml:"provider"`
	APIKey      string         `yaml:"api_key"`
	BaseURL     string         `yaml:"base_url,omitempty"`
	Model       string         `yaml:"model"`
	API         string         `yaml:"api,omitempty"` // "completions" or "responses"
	ExtraParams map[string]any `yaml:"extra_params,omitempty"`
	LogPayloads bool           `yaml:"log_payloads,omitempty"`
}

// MCPConfig configures the tool registry's MCP bridge: the servers to connect
// to at boot and the default egress allowlist applied to MCP server traffic
// and HTTP tool calls.
type MCPConfig struct {
	EgressAllowlist []string           `yaml:"egress_allowlist"`
	Servers         []MCPServerConfig  `yaml:"servers"`
}

// MCPServerConfig describes a single MCP server the tool registry connects
// to, either over stdio (Command/Args/Env) or streamable HTTP (URL).
type MCPServerConfig struct {
	Name             string            `yaml:"name"`
	Command          string            `yaml:"command,omitempty"`
	Args             []string          `yaml:"args,omitempty"`
	Env              map[string]string `yaml:"env,omitempty"`
	URL              string            `yaml:"url,omitempty"`
	Headers          map[string]string `yaml:"headers,omitempty"`
	BearerToken      string            `yaml:"bearer_token,omitempty"`
	Origin           string            `yaml:"origin,omitempty"`
	ProtocolVersion  string            `yaml:"protocol_version,omitempty"`
	KeepAliveSeconds int               `yaml:"keep_alive_seconds,omitempty"`
	HTTP             MCPServerHTTPConfig `yaml:"http,omitempty"`
}

// MCPServerHTTPConfig tunes transport behavior for HTTP-based MCP servers.
type MCPServerHTTPConfig struct {
	ProxyURL       string `yaml:"proxy_url,omitempty"`
	TimeoutSeconds int    `yaml:"timeout_seconds,omitempty"`
	TLS            struct {
		InsecureSkipVerify bool `yaml:"insecure_skip_verify,omitempty"`
	} `yaml:"tls,omitempty"`
}

// ObservabilityConfig configures structured logging and OTel export.
type ObservabilityConfig struct {
	ServiceName string `yaml:"service_name"`
	LogLevel    string `yaml:"log_level"`
	OTLPEnabled bool   `yaml:"otlp_enabled"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`

	// LogPayloads enables debug-level logging of redacted LLM request/response
	// bodies (internal/llm.LogRedactedPrompt / LogRedactedResponse). Off by
	// default: payloads can carry lead PII even after redaction scrubs known
	// secret fields.
	LogPayloads bool `yaml:"log_payloads"`
	// LogPayloadTruncateBytes caps how much of a redacted payload is logged;
	// 0 disables truncation.
	LogPayloadTruncateBytes int `yaml:"log_payload_truncate_bytes"`
}

// WorkersConfig configures the polling intervals and batch sizes for the
// background loops (debounce scheduler, watchdog, follow-up worker, memory
// cleanup).
type WorkersConfig struct {
	DebouncePollInterval    time.Duration `yaml:"debounce_poll_interval"`
	DebounceBatchSize       int           `yaml:"debounce_batch_size"`
	DebounceDefaultWaitMs   int           `yaml:"debounce_default_wait_ms"`
	ConversationLockTTL     time.Duration `yaml:"conversation_lock_ttl"`
	ConversationLockRefresh time.Duration `yaml:"conversation_lock_refresh"`

	WatchdogPollInterval time.Duration `yaml:"watchdog_poll_interval"`
	WatchdogStuckAfter   time.Duration `yaml:"watchdog_stuck_after"`
	WatchdogBatchSize    int           `yaml:"watchdog_batch_size"`

	FollowupPollInterval time.Duration `yaml:"followup_poll_interval"`
	FollowupBatchSize    int           `yaml:"followup_batch_size"`

	MemoryCleanupInterval time.Duration `yaml:"memory_cleanup_interval"`

	ChunkDelay time.Duration `yaml:"chunk_delay"`
}

// HTTPConfig configures the peripheral admin HTTP surface.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// DBConfig selects the pluggable full-text-search, vector, and graph
// backends the storage layer resolves at boot (memory for tests/local dev,
// postgres/qdrant for production).
type DBConfig struct {
	DefaultDSN string       `yaml:"default_dsn,omitempty"`
	Search     SearchConfig `yaml:"search"`
	Vector     VectorConfig `yaml:"vector"`
	Graph      GraphConfig  `yaml:"graph"`
}

// SearchConfig selects the full-text-search backend ("memory", "postgres",
// "none", or "auto").
type SearchConfig struct {
	Backend string `yaml:"backend"`
	DSN     string `yaml:"dsn,omitempty"`
}

// VectorConfig selects the vector-similarity backend ("memory", "postgres",
// "qdrant", "none", or "auto") used for the long-term fact store.
type VectorConfig struct {
	Backend          string `yaml:"backend"`
	DSN              string `yaml:"dsn,omitempty"`
	Dimensions       int    `yaml:"dimensions,omitempty"`
	Metric           string `yaml:"metric,omitempty"`
	QdrantAddr       string `yaml:"qdrant_addr,omitempty"`
	QdrantAPIKey     string `yaml:"qdrant_api_key,omitempty"`
	QdrantCollection string `yaml:"qdrant_collection,omitempty"`
}

// GraphConfig selects the graph backend ("memory", "postgres", "none", or
// "auto").
type GraphConfig struct {
	Backend string `yaml:"backend"`
	DSN     string `yaml:"dsn,omitempty"`
}

// Defaults returns the configuration every tenant starts from absent env
// overrides.
func Defaults() Config {
	return Config{
		Redis: RedisConfig{Addr: "127.0.0.1:6379", LockPrefix: "locks:"},
		Bus:   BusConfig{Brokers: []string{"127.0.0.1:9092"}, ConsumerGroup: "centurion-runtime"},
		Qdrant: QdrantConfig{
			Addr:       "127.0.0.1:6334",
			Collection: "long_term_facts",
		},
		LLM: LLMConfig{Provider: "openai", Model: "gpt-4o-mini"},
		Obs: ObservabilityConfig{
			ServiceName:             "centurion-runtime",
			LogLevel:                "info",
			LogPayloadTruncateBytes: 4096,
		},
		Workers: WorkersConfig{
			DebouncePollInterval:    1 * time.Second,
			DebounceBatchSize:       20,
			DebounceDefaultWaitMs:   3000,
			ConversationLockTTL:     30 * time.Second,
			ConversationLockRefresh: 10 * time.Second,
			WatchdogPollInterval:    15 * time.Second,
			WatchdogStuckAfter:      2 * time.Minute,
			WatchdogBatchSize:       50,
			FollowupPollInterval:    30 * time.Second,
			FollowupBatchSize:       50,
			MemoryCleanupInterval:   1 * time.Hour,
			ChunkDelay:              400 * time.Millisecond,
		},
		HTTP: HTTPConfig{Addr: ":8080"},
		DB: DBConfig{
			Search: SearchConfig{Backend: "auto"},
			Vector: VectorConfig{Backend: "auto", Dimensions: 1536, Metric: "cosine"},
			Graph:  GraphConfig{Backend: "memory"},
		},
	}
}
