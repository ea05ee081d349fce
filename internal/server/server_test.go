package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubStatus struct {
	connected bool
	sessionID string
}

func (s stubStatus) IsConnected() bool { return s.connected }
func (s stubStatus) SessionID() string { return s.sessionID }

func doRequest(t *testing.T, srv *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, req)
	return rec
}

func TestHealthz_Connected(t *testing.T) {
	srv := NewServer("8080", stubStatus{connected: true, sessionID: "sess-1"})

	rec := doRequest(t, srv, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Connected)
	assert.Equal(t, "sess-1", resp.SessionID)
}

func TestHealthz_Disconnected(t *testing.T) {
	srv := NewServer("8080", stubStatus{})

	rec := doRequest(t, srv, "/healthz")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var resp healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "disconnected", resp.Status)
	assert.Empty(t, resp.SessionID)
}

func TestVersionEndpoint(t *testing.T) {
	srv := NewServer("8080", stubStatus{})

	rec := doRequest(t, srv, "/version")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_version")
}

func TestMetricsEndpoint(t *testing.T) {
	srv := NewServer("8080", stubStatus{connected: true})

	rec := doRequest(t, srv, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
