package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"centurion/internal/apperr"
)

type fakeTester struct {
	reply string
	err   error
}

func (f *fakeTester) TestRun(ctx context.Context, companyID, centurionID, message string) (string, error) {
	return f.reply, f.err
}

func newTestServer(tester AgentTester) *Server {
	return NewServer(nil, tester, zerolog.Nop())
}

func TestHandleHealth_AlwaysOK(t *testing.T) {
	srv := newTestServer(nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleReady_NoPoolConfigured(t *testing.T) {
	srv := newTestServer(nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHandleTestCenturion_Success(t *testing.T) {
	srv := newTestServer(&fakeTester{reply: "sure, we have a plan for that"})
	body, _ := json.Marshal(testCenturionRequest{CompanyID: "co1", Message: "hi"})
	req := httptest.NewRequest(http.MethodPost, "/centurions/abc/test", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp testCenturionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.True(t, resp.OK)
	require.Equal(t, "sure, we have a plan for that", resp.Response)
}

func TestHandleTestCenturion_MissingFieldsIsBadRequest(t *testing.T) {
	srv := newTestServer(&fakeTester{})
	body, _ := json.Marshal(testCenturionRequest{CompanyID: "", Message: ""})
	req := httptest.NewRequest(http.MethodPost, "/centurions/abc/test", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleTestCenturion_NoTesterConfigured(t *testing.T) {
	srv := newTestServer(nil)
	body, _ := json.Marshal(testCenturionRequest{CompanyID: "co1", Message: "hi"})
	req := httptest.NewRequest(http.MethodPost, "/centurions/abc/test", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHandleTestCenturion_EngineErrorMapsToStatus(t *testing.T) {
	srv := newTestServer(&fakeTester{err: apperr.New(apperr.PolicyViolation, "dispatch.TestRun", errors.New("blocked"))})
	body, _ := json.Marshal(testCenturionRequest{CompanyID: "co1", Message: "hi"})
	req := httptest.NewRequest(http.MethodPost, "/centurions/abc/test", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusForbidden, rec.Code)
	var resp testCenturionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.False(t, resp.OK)
	require.Contains(t, resp.Error, "blocked")
}

func TestHandleTokenTotals_ReturnsOK(t *testing.T) {
	srv := newTestServer(nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics/tokens", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, true, resp["ok"])
	require.Contains(t, resp, "totals")
}
