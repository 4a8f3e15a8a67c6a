package api

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/seralys/lorekeeper/internal/config"
	"github.com/seralys/lorekeeper/internal/engine"
	"github.com/seralys/lorekeeper/internal/probe"
)

func testServer(t *testing.T) *httptest.Server {
	t.Helper()
	s := config.DefaultSettings()
	s.Enabled = true
	s.Provider = "openai"
	s.APIKey = "sk-secret"
	s.Model = "gpt-4o"
	settings := func() *config.Settings { return s }

	collectors := NewCollectors()
	eng := engine.New(settings, probe.NewResolver(nil, nil, nil), nil, engine.WithMetrics(collectors))
	srv := httptest.NewServer(New(settings, eng, nil, nil, collectors).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func get(t *testing.T, url string) (int, []byte) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, body
}

func TestHealth(t *testing.T) {
	srv := testServer(t)
	code, body := get(t, srv.URL+"/health")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", gjson.GetBytes(body, "status").String())
}

func TestDebugConfigRedactsKey(t *testing.T) {
	srv := testServer(t)
	code, body := get(t, srv.URL+"/debug/config")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "[REDACTED]", gjson.GetBytes(body, "api-key").String())
	assert.Equal(t, "openai", gjson.GetBytes(body, "provider").String())
}

func TestDebugEngine(t *testing.T) {
	srv := testServer(t)
	code, body := get(t, srv.URL+"/debug/engine")
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, gjson.GetBytes(body, "has_api_key").Bool())
	assert.True(t, gjson.GetBytes(body, "shape_cache").Exists())
}

func TestUsageUnavailableWithoutLedger(t *testing.T) {
	srv := testServer(t)
	code, _ := get(t, srv.URL+"/usage/summary")
	assert.Equal(t, http.StatusServiceUnavailable, code)
}

func TestMetricsExposition(t *testing.T) {
	s := config.DefaultSettings()
	s.Enabled = true
	s.Provider = "openai"
	s.APIKey = "k"
	s.Model = "gpt-4o"
	settings := func() *config.Settings { return s }

	collectors := NewCollectors()
	collectors.CallFinished("openai", "ok", 200*time.Millisecond)
	collectors.RetryScheduled("openai", "truncation")

	eng := engine.New(settings, probe.NewResolver(nil, nil, nil), nil)
	srv := httptest.NewServer(New(settings, eng, nil, nil, collectors).Handler())
	t.Cleanup(srv.Close)

	code, body := get(t, srv.URL+"/metrics")
	assert.Equal(t, http.StatusOK, code)
	text := string(body)
	assert.Contains(t, text, `lorekeeper_calls_total{outcome="ok",provider="openai"} 1`)
	assert.Contains(t, text, `lorekeeper_retries_total{provider="openai",reason="truncation"} 1`)
}

func TestLogsEndpoint(t *testing.T) {
	srv := testServer(t)
	code, body := get(t, srv.URL+"/logs?limit=5")
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, gjson.GetBytes(body, "entries").Exists())
}
