// Command runtime is the centurion event-driven worker: it consumes
// inbound messages off the bus, debounces and dispatches conversations
// through the LLM, and runs the follow-up/watchdog/memory-cleanup
// background loops, all under one task.Supervisor.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"centurion/internal/bus"
	"centurion/internal/channels"
	"centurion/internal/config"
	"centurion/internal/conversation"
	"centurion/internal/debounce"
	"centurion/internal/dispatch"
	"centurion/internal/egress"
	"centurion/internal/followup"
	"centurion/internal/handoff"
	"centurion/internal/idempotency"
	"centurion/internal/inbound"
	"centurion/internal/llm"
	"centurion/internal/llm/providers"
	"centurion/internal/lock"
	"centurion/internal/mcpclient"
	"centurion/internal/memory"
	"centurion/internal/objectstore"
	"centurion/internal/observability"
	"centurion/internal/outbound"
	"centurion/internal/persistence/databases"
	"centurion/internal/task"
	"centurion/internal/telemetry"
	"centurion/internal/tenant"
	"centurion/internal/tools"
	kafkatools "centurion/internal/tools/kafka"
	"centurion/internal/watchdog"

	"github.com/redis/go-redis/v9"
)

const mcpInitTimeout = 20 * time.Second

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("runtime")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	observability.InitLogger("", cfg.Obs.LogLevel)
	llm.ConfigureLogging(cfg.Obs.LogPayloads, cfg.Obs.LogPayloadTruncateBytes)

	baseCtx := context.Background()
	ctx, cancel := signal.NotifyContext(baseCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTelemetry, meters, err := telemetry.Setup(ctx, telemetry.Config{
		Enabled:     cfg.Obs.OTLPEnabled,
		Endpoint:    cfg.Obs.OTLPEndpoint,
		Insecure:    cfg.Obs.OTLPInsecure,
		ServiceName: cfg.Obs.ServiceName,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelShutdown()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("runtime.telemetry_shutdown_failed")
		}
	}()

	pool, err := databases.OpenPool(ctx, cfg.Postgres.DSN)
	if err != nil {
		return fmt.Errorf("open postgres pool: %w", err)
	}
	defer pool.Close()

	redisClient := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    []string{cfg.Redis.Addr},
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer func() {
		if err := redisClient.Close(); err != nil {
			log.Error().Err(err).Msg("runtime.redis_close_failed")
		}
	}()

	writer := bus.NewWriter(cfg.Bus.Brokers)
	defer func() {
		if err := writer.Close(); err != nil {
			log.Error().Err(err).Msg("runtime.kafka_writer_close_failed")
		}
	}()
	publisher := bus.NewPublisher(writer)

	reader := bus.NewReader(cfg.Bus.Brokers, cfg.Bus.ConsumerGroup, bus.TopicMessageReceived)

	tr := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 7 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		ForceAttemptHTTP2:     true,
		TLSHandshakeTimeout:   7 * time.Second,
		MaxIdleConns:          200,
		MaxIdleConnsPerHost:   50,
		MaxConnsPerHost:       200,
		IdleConnTimeout:       90 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
	}
	httpClient := observability.NewHTTPClient(&http.Client{Transport: tr})

	llmProvider, err := providers.Build(cfg, httpClient)
	if err != nil {
		return fmt.Errorf("build llm provider: %w", err)
	}

	mgr, err := databases.NewManager(ctx, cfg.DB)
	if err != nil {
		return fmt.Errorf("init databases: %w", err)
	}
	defer mgr.Close()

	egressPolicy := egress.NewPolicy(cfg.MCP.EgressAllowlist)
	payloadLimits := egress.DefaultPayloadLimits()

	var assetStore objectstore.ObjectStore
	if cfg.ObjectStore.Bucket != "" {
		s3Store, err := objectstore.NewS3Store(ctx, cfg.ObjectStore, objectstore.WithHTTPClient(httpClient))
		if err != nil {
			log.Warn().Err(err).Msg("runtime.object_store_init_failed")
			assetStore = objectstore.NewMemoryStore()
		} else {
			assetStore = s3Store
		}
	} else {
		assetStore = objectstore.NewMemoryStore()
	}

	registry := tools.NewRegistry()
	if kw, err := kafkatools.NewProducerFromBrokers(joinBrokers(cfg.Bus.Brokers)); err == nil {
		registry.Register(kafkatools.NewSendMessageTool(kw))
	} else {
		log.Warn().Err(err).Msg("runtime.kafka_tool_init_failed")
	}

	mcpMgr := mcpclient.NewManager()
	defer mcpMgr.Close()
	ctxMCP, cancelMCP := context.WithTimeout(ctx, mcpInitTimeout)
	if err := mcpMgr.RegisterFromConfig(ctxMCP, registry, cfg.MCP); err != nil {
		log.Warn().Err(err).Msg("runtime.mcp_init_failed")
	}
	cancelMCP()

	publisher.WithMeters(meters)

	conversations := conversation.New(pool)
	leads := conversation.NewLeadRepository(pool).WithMeters(meters)
	messages := conversation.NewMessageRepository(pool).WithMeters(meters)
	tenants := tenant.New(pool)
	claims := idempotency.New(pool)
	locks := lock.New(redisClient, cfg.Redis.LockPrefix)
	sender := outbound.New(claims, publisher)
	followupRepo := followup.NewRepository(pool)
	followupEngine := followup.New(followupRepo, conversations, leads, messages, tenants, sender, llmProvider, log.Logger)
	handoffSvc := handoff.New(pool, leads)
	router := channels.NewRouter(log.Logger)
	shortTerm := memory.NewShortTerm(redisClient, messages, log.Logger)
	embedder, ok := llmProvider.(memory.Embedder)
	if !ok {
		return fmt.Errorf("llm provider %T does not support embeddings", llmProvider)
	}
	longTerm := memory.NewLongTerm(mgr.Vector, embedder)
	blobPruner := memory.NewPostgresBlobPruner(pool)
	cleanup := memory.NewCleanup(messages, claims, blobPruner, log.Logger, cfg.Workers.MemoryCleanupInterval)

	enricher := inbound.NewEnricher(egressPolicy, payloadLimits, llmProvider, httpClient, assetStore, log.Logger)
	inboundHandler := inbound.New(claims, tenants, router, conversations, leads, messages, enricher, publisher, followupEngine, log.Logger)
	consumer := inbound.NewConsumer(reader, inboundHandler, log.Logger)

	dispatchSvc := dispatch.New(
		conversations, leads, messages, tenants,
		shortTerm, longTerm, mgr.Search,
		sender, followupEngine, handoffSvc,
		llmProvider, registry, router,
		claims, payloadLimits, log.Logger,
		cfg.Workers.ChunkDelay, publisher,
	).WithMeters(meters)

	scheduler := debounce.New(
		conversations, locks, dispatchSvc, log.Logger,
		cfg.Workers.DebouncePollInterval, cfg.Workers.DebounceBatchSize,
		cfg.Workers.ConversationLockTTL, cfg.Workers.ConversationLockRefresh,
	)
	watchdogLoop := watchdog.New(
		conversations, log.Logger,
		cfg.Workers.WatchdogPollInterval, cfg.Workers.WatchdogStuckAfter, cfg.Workers.WatchdogBatchSize,
	)
	followupWorker := followup.NewWorker(followupEngine, log.Logger, cfg.Workers.FollowupPollInterval, cfg.Workers.FollowupBatchSize)

	log.Info().
		Strs("brokers", cfg.Bus.Brokers).
		Str("consumer_group", cfg.Bus.ConsumerGroup).
		Str("vector_backend", cfg.DB.Vector.Backend).
		Str("search_backend", cfg.DB.Search.Backend).
		Msg("starting centurion runtime")

	supervisor := task.NewSupervisor(
		consumer,
		scheduler,
		watchdogLoop,
		followupWorker,
		cleanup,
	)

	if err := supervisor.Run(ctx); err != nil {
		return fmt.Errorf("runtime supervisor stopped: %w", err)
	}

	log.Info().Msg("centurion runtime stopped")
	return nil
}

func joinBrokers(brokers []string) string {
	out := ""
	for i, b := range brokers {
		if i > 0 {
			out += ","
		}
		out += b
	}
	return out
}
