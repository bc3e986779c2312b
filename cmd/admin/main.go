// Command admin serves the peripheral admin HTTP surface: health/readiness
// probes and a one-shot centurion test endpoint, run as a separate process
// from cmd/runtime since it carries no background workers of its own.
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

	"centurion/internal/channels"
	"centurion/internal/config"
	"centurion/internal/conversation"
	"centurion/internal/dispatch"
	"centurion/internal/egress"
	"centurion/internal/followup"
	"centurion/internal/handoff"
	"centurion/internal/httpapi"
	"centurion/internal/idempotency"
	"centurion/internal/llm"
	"centurion/internal/llm/providers"
	"centurion/internal/memory"
	"centurion/internal/observability"
	"centurion/internal/outbound"
	"centurion/internal/persistence/databases"
	"centurion/internal/tenant"
	"centurion/internal/tools"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("admin")
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

	pool, err := databases.OpenPool(ctx, cfg.Postgres.DSN)
	if err != nil {
		return fmt.Errorf("open postgres pool: %w", err)
	}
	defer pool.Close()

	tr := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 7 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		ForceAttemptHTTP2:     true,
		TLSHandshakeTimeout:   7 * time.Second,
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

	conversations := conversation.New(pool)
	leads := conversation.NewLeadRepository(pool)
	messages := conversation.NewMessageRepository(pool)
	tenants := tenant.New(pool)
	claims := idempotency.New(pool)
	sender := outbound.New(claims, nil)
	followupRepo := followup.NewRepository(pool)
	followupEngine := followup.New(followupRepo, conversations, leads, messages, tenants, sender, llmProvider, log.Logger)
	handoffSvc := handoff.New(pool, leads)
	router := channels.NewRouter(log.Logger)
	embedder, ok := llmProvider.(memory.Embedder)
	if !ok {
		return fmt.Errorf("llm provider %T does not support embeddings", llmProvider)
	}
	longTerm := memory.NewLongTerm(mgr.Vector, embedder)

	dispatchSvc := dispatch.New(
		conversations, leads, messages, tenants,
		nil, longTerm, mgr.Search,
		sender, followupEngine, handoffSvc,
		llmProvider, tools.NewRegistry(), router,
		claims, egress.DefaultPayloadLimits(), log.Logger,
		cfg.Workers.ChunkDelay, nil,
	)

	srv := httpapi.NewServer(pool, dispatchSvc, log.Logger)
	httpServer := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           srv,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.HTTP.Addr).Msg("starting centurion admin http surface")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("admin http server: %w", err)
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("admin.shutdown_failed")
	}

	log.Info().Msg("centurion admin stopped")
	return nil
}
