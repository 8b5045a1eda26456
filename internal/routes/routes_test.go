package routes

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stanstork/pgtransfer/internal/database"
	"github.com/stanstork/pgtransfer/internal/handlers"
	"github.com/stanstork/pgtransfer/internal/metrics"
	"github.com/stanstork/pgtransfer/internal/transfer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	reg := prometheus.NewRegistry()
	metrics.Register(reg)

	manager := transfer.NewManager(transfer.Options{Logger: zerolog.Nop()})
	router := NewRouter(
		handlers.NewTransferHandler(manager, 10, zerolog.Nop()),
		handlers.NewMetadataHandler(database.NewDialer(database.Options{}, zerolog.Nop()), 0, zerolog.Nop()),
		reg,
	)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, method, url, body string) (int, string) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(b)
}

func TestRouter(t *testing.T) {
	srv := newServer(t)

	tests := []struct {
		method, path string
		status       int
		contains     string
	}{
		{http.MethodGet, "/", http.StatusOK, "message"},
		{http.MethodGet, "/health", http.StatusOK, `"status":"healthy"`},
		{http.MethodGet, "/transfer/status", http.StatusOK, `"status":"idle"`},
		{http.MethodGet, "/transfer/logs", http.StatusOK, `"logs":[]`},
		{http.MethodPost, "/transfer/stop", http.StatusOK, "No transfer is currently running"},
		{http.MethodGet, "/transfer/start", http.StatusMethodNotAllowed, ""},
		{http.MethodGet, "/nope", http.StatusNotFound, ""},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			status, body := do(t, tt.method, srv.URL+tt.path, "")
			assert.Equal(t, tt.status, status)
			assert.Contains(t, body, tt.contains)
		})
	}
}

func TestRouter_StartValidationIsBadRequest(t *testing.T) {
	srv := newServer(t)

	status, body := do(t, http.MethodPost, srv.URL+"/transfer/start", `{"transfer_config": {"table_name": "orders"}}`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, body, `"detail":"source_db.host is required"`)
}

func TestRouter_Metrics(t *testing.T) {
	srv := newServer(t)
	do(t, http.MethodGet, srv.URL+"/health", "")

	status, body := do(t, http.MethodGet, srv.URL+"/metrics", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, `pgtransfer_api_requests_total{method="GET",path="/health",status="200"}`)
	assert.Contains(t, body, "pgtransfer_transfer_running")
}
