// Package httpapi exposes the peripheral admin HTTP surface (§6): health
// checks for orchestration probes and a one-shot agent test endpoint, built
// directly on net/http per the teacher's internal/httpapi — no separate web
// framework.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// AgentTester is the subset of dispatch.Service the test endpoint drives.
type AgentTester interface {
	TestRun(ctx context.Context, companyID, centurionID, message string) (string, error)
}

// Server exposes the admin HTTP API wired to the runtime's dispatch service
// and its primary connection pool (for readiness checks).
type Server struct {
	pool   *pgxpool.Pool
	tester AgentTester
	logger zerolog.Logger
	mux    *http.ServeMux
}

// NewServer builds the admin HTTP server.
func NewServer(pool *pgxpool.Pool, tester AgentTester, logger zerolog.Logger) *Server {
	s := &Server{pool: pool, tester: tester, logger: logger, mux: http.NewServeMux()}
	s.registerRoutes()
	return s
}

// ServeHTTP satisfies http.Handler, wrapped with the request-id/logging
// middleware.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.withLogging(s.mux.ServeHTTP)(w, r)
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /ready", s.handleReady)
	s.mux.HandleFunc("POST /centurions/{id}/test", s.handleTestCenturion)
	s.mux.HandleFunc("GET /metrics/tokens", s.handleTokenTotals)
}

// withLogging propagates x-request-id/x-correlation-id (generating a
// request id when absent) and logs the outcome, mirroring the teacher's
// observability.LoggerWithTrace enrichment at the HTTP boundary.
func (s *Server) withLogging(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := r.Header.Get("x-request-id")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		correlationID := r.Header.Get("x-correlation-id")
		w.Header().Set("x-request-id", requestID)

		log := s.logger.With().Str("request_id", requestID).Str("correlation_id", correlationID).Logger()
		ctx := log.WithContext(r.Context())

		next(w, r.WithContext(ctx))

		log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("duration", time.Since(start)).
			Msg("httpapi.request")
	}
}
