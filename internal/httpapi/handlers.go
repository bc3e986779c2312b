package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"centurion/internal/apperr"
	"centurion/internal/llm"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if s.pool == nil {
		respondError(w, http.StatusServiceUnavailable, errors.New("database pool not configured"))
		return
	}
	if err := s.pool.Ping(ctx); err != nil {
		respondError(w, http.StatusServiceUnavailable, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"ok": true})
}

type testCenturionRequest struct {
	CompanyID string `json:"company_id"`
	Message   string `json:"message"`
}

type testCenturionResponse struct {
	OK       bool   `json:"ok"`
	Response string `json:"response,omitempty"`
	Error    string `json:"error,omitempty"`
}

// handleTestCenturion runs one stateless agent turn against the named
// centurion's persona, matching the /centurions/{id}/test route the
// original implementation's CenturionService.test_centurion backs.
func (s *Server) handleTestCenturion(w http.ResponseWriter, r *http.Request) {
	centurionID := r.PathValue("id")
	if strings.TrimSpace(centurionID) == "" {
		respondError(w, http.StatusBadRequest, errors.New("centurion id required"))
		return
	}

	var req testCenturionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	if strings.TrimSpace(req.CompanyID) == "" || strings.TrimSpace(req.Message) == "" {
		respondError(w, http.StatusBadRequest, errors.New("company_id and message are required"))
		return
	}
	if s.tester == nil {
		respondError(w, http.StatusServiceUnavailable, errors.New("agent runner not configured"))
		return
	}

	reply, err := s.tester.TestRun(r.Context(), req.CompanyID, centurionID, req.Message)
	if err != nil {
		respondJSON(w, statusFromErr(err), testCenturionResponse{OK: false, Error: err.Error()})
		return
	}
	respondJSON(w, http.StatusOK, testCenturionResponse{OK: true, Response: reply})
}

// handleTokenTotals reports cumulative prompt/completion token usage per
// model since process start, read from the in-process counters every
// openai.Client chat call feeds via llm.RecordTokenMetrics.
func (s *Server) handleTokenTotals(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"ok": true, "totals": llm.TokenTotalsSnapshot()})
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, err error) {
	respondJSON(w, status, map[string]any{"ok": false, "error": err.Error()})
}

func statusFromErr(err error) int {
	switch apperr.KindOf(err) {
	case apperr.InvalidInput:
		return http.StatusBadRequest
	case apperr.LLMUnavailable, apperr.TransientIO:
		return http.StatusServiceUnavailable
	case apperr.PolicyViolation:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}
