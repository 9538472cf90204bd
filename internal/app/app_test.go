package app

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sealwatch/internal/agent"
	"sealwatch/internal/config"
)

func testConfig(t *testing.T, extra string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	profiles, err := filepath.Abs("../../configs/profiles.yaml")
	require.NoError(t, err)
	body := fmt.Sprintf(`app:
  env: test
  http_addr: "127.0.0.1:0"
engine:
  profiles_path: %q
  watch_profiles: false
source:
  kind: push
store:
  alert_db_path: %q
  snapshot_db_path: %q
notify:
  timeout_sec: 2
  max_retries: 0
  websocket:
    enabled: true
%s`, profiles, filepath.Join(dir, "alerts.db"), filepath.Join(dir, "snapshots.db"), extra)
	p := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	cfg, err := config.Load(p)
	require.NoError(t, err)
	return cfg
}

func TestBuildAndPush(t *testing.T) {
	var hits atomic.Int32
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer hook.Close()

	cfg := testConfig(t, fmt.Sprintf("  webhook:\n    enabled: true\n    url: %q\n", hook.URL))
	a, err := NewApp(cfg)
	require.NoError(t, err)
	defer a.Close()

	require.NotNil(t, a.Summary)
	assert.Equal(t, "push", a.Summary.Source)
	assert.Equal(t, []string{"webhook", "websocket"}, a.Summary.Sinks)
	assert.Equal(t, "disabled", a.Summary.Agent)
	require.Len(t, a.Summary.Strategies, 2)
	var buf bytes.Buffer
	a.Summary.Render(&buf)
	assert.Contains(t, buf.String(), "reseal")

	h := a.Handler()
	require.NotNil(t, h)
	raw, err := os.ReadFile("../engine/testdata/scenario_a.json")
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/snapshots", bytes.NewReader(raw))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	a.Live().Close()
	assert.EqualValues(t, 2, hits.Load(), "one push per new ALLOW/WATCH decision")

	req = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "sealwatch_alerts_total")

	day, err := a.Replay().DailySummary(context.Background(), a.Live().Latest().AsOf)
	require.NoError(t, err)
	assert.Equal(t, 1, day.Snapshots)
}

func TestRunStopsWithContext(t *testing.T) {
	a, err := NewApp(testConfig(t, ""))
	require.NoError(t, err)
	a.Summary = nil
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()
	cancel()
	assert.NoError(t, <-done)
}

func TestBuildSource(t *testing.T) {
	src, err := buildSource(config.SourceConfig{Kind: "push"})
	require.NoError(t, err)
	assert.Nil(t, src)

	src, err = buildSource(config.SourceConfig{Kind: "file", Path: "data/snap.json"})
	require.NoError(t, err)
	assert.Equal(t, "file:data/snap.json", src.Name())

	src, err = buildSource(config.SourceConfig{Kind: "http", URL: "http://127.0.0.1:1/snap"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(src.Name(), "http:"))

	_, err = buildSource(config.SourceConfig{Kind: "file"})
	assert.Error(t, err)
	_, err = buildSource(config.SourceConfig{Kind: "ftp"})
	assert.Error(t, err)
}

func TestBuildExplainer(t *testing.T) {
	assert.Nil(t, buildExplainer(config.AgentConfig{Enabled: true}, 0.6))
	assert.Nil(t, buildExplainer(config.AgentConfig{AutoExplain: true}, 0.6))
	ex := buildExplainer(config.AgentConfig{Enabled: true, AutoExplain: true, Endpoint: "http://x", Model: "m"}, 0.7)
	require.NotNil(t, ex)
	assert.Equal(t, 0.7, ex.(*agent.Client).AllowFloor)
}

func TestBuildDispatcher(t *testing.T) {
	d, closers, err := buildDispatcher(config.NotifyConfig{
		Telegram: config.TelegramConfig{Enabled: true, BotToken: "t", ChatID: "c"},
		Redis:    config.RedisConfig{Enabled: true, Addr: "127.0.0.1:6379", Channel: "sealwatch:decisions"},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"telegram", "redis"}, d.Names())
	assert.Len(t, closers, 1)
	for _, c := range closers {
		_ = c()
	}

	_, _, err = buildDispatcher(config.NotifyConfig{Webhook: config.WebhookConfig{Enabled: true}}, nil)
	assert.Error(t, err)
}
