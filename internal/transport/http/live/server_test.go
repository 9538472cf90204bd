package livehttp

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sealwatch/internal/engine"
	"sealwatch/internal/live"
	"sealwatch/internal/metrics"
	"sealwatch/internal/replay"
	"sealwatch/internal/store/alertstore"
	"sealwatch/internal/store/snapshotstore"
	"sealwatch/internal/strategy"
)

type env struct {
	handler http.Handler
	svc     *live.Service
	raw     []byte
}

func newEnv(t *testing.T) *env {
	t.Helper()
	dir := t.TempDir()
	alerts, err := alertstore.Open(filepath.Join(dir, "alerts.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = alerts.Close() })
	snaps, err := snapshotstore.Open(filepath.Join(dir, "snapshots.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = snaps.Close() })

	loader, err := strategy.NewLoader("../../../../configs/profiles.yaml")
	require.NoError(t, err)
	eng := engine.New(engine.DefaultConfig(), loader)
	m := metrics.New("sealwatch")
	svc := live.NewService(live.Options{}, live.Deps{
		Engine:    eng,
		Alerts:    alerts,
		Snapshots: snaps,
		Metrics:   m,
	})
	t.Cleanup(svc.Close)

	srv, err := NewServer(ServerConfig{
		Live:     svc,
		Alerts:   alerts,
		Replay:   replay.New(alerts, snaps, eng),
		Profiles: loader,
		Metrics:  m.Handler(),
	})
	require.NoError(t, err)

	raw, err := os.ReadFile("../../../engine/testdata/scenario_a.json")
	require.NoError(t, err)
	return &env{handler: srv.Handler(), svc: svc, raw: raw}
}

func (e *env) do(t *testing.T, method, path string, body []byte) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	var out map[string]any
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	}
	return w, out
}

// pushed 推送场景 A 并等待副作用落库。
func (e *env) pushed(t *testing.T) {
	t.Helper()
	w, out := e.do(t, http.MethodPost, "/api/snapshots", e.raw)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.NotEmpty(t, out["tick_id"])
	w, out = e.do(t, http.MethodPost, "/api/snapshots", e.raw)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, true, out["unchanged"])
	e.svc.Close()
}

func TestHealthAndEmptyState(t *testing.T) {
	e := newEnv(t)
	w, out := e.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", out["status"])

	w, _ = e.do(t, http.MethodGet, "/api/candidates", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	w, _ = e.do(t, http.MethodGet, "/api/evaluate?symbol=600001", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w, out = e.do(t, http.MethodGet, "/api/status", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "push", out["source"])

	w, _ = e.do(t, http.MethodPost, "/api/snapshots", []byte(`not json`))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLatestDecisionsAndCandidates(t *testing.T) {
	e := newEnv(t)
	e.pushed(t)

	w, out := e.do(t, http.MethodGet, "/api/decisions/latest?strategy_id=reseal", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, out["decisions"], 2)
	assert.Equal(t, "snap_20260302_101500_a", out["snapshot_id"])

	w, out = e.do(t, http.MethodGet, "/api/candidates?top=1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	cands := out["candidates"].(map[string]any)
	assert.Len(t, cands["reseal"], 1)

	w, _ = e.do(t, http.MethodGet, "/api/candidates?strategy_id=nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, out = e.do(t, http.MethodGet, "/api/evaluate?symbol=688999&strategy_id=reseal", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "BLOCK", out["action"])

	w, _ = e.do(t, http.MethodGet, "/api/evaluate?symbol=600001&strategy_id=nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w, _ = e.do(t, http.MethodGet, "/api/evaluate", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, out = e.do(t, http.MethodGet, "/api/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "YELLOW", out["risk_light"])

	w, _ = e.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "sealwatch_ticks_total")
}

func TestAlertsLabelAndStats(t *testing.T) {
	e := newEnv(t)
	e.pushed(t)

	w, out := e.do(t, http.MethodGet, "/api/decisions?strategy_id=reseal", nil)
	require.Equal(t, http.StatusOK, w.Code)
	alerts := out["alerts"].([]any)
	require.Len(t, alerts, 2)
	id := alerts[0].(map[string]any)["id"].(string)

	w, out = e.do(t, http.MethodPatch, "/api/alerts/"+id+"/label", []byte(`{"label":"success","note":"次日溢价"}`))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "success", out["label"])

	w, _ = e.do(t, http.MethodPatch, "/api/alerts/"+id+"/label", []byte(`{"label":"great"}`))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	for _, old := range []string{"pending", "unlabeled"} {
		w, _ = e.do(t, http.MethodPatch, "/api/alerts/"+id+"/label", []byte(`{"label":"`+old+`"}`))
		assert.Equal(t, http.StatusBadRequest, w.Code, old)
	}
	w, out = e.do(t, http.MethodGet, "/api/decisions?label=unlabeled", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, out["alerts"].([]any), 1)
	w, _ = e.do(t, http.MethodPatch, "/api/alerts/missing/label", []byte(`{"label":"fail"}`))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = e.do(t, http.MethodGet, "/api/decisions?action=BUY", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, out = e.do(t, http.MethodGet, "/api/alerts/stats?days=1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 2, out["total"])
	assert.EqualValues(t, 1, out["win_rate"])
}

func TestReplayRoutes(t *testing.T) {
	e := newEnv(t)
	e.pushed(t)

	w, out := e.do(t, http.MethodGet, "/api/replay/snapshot/snap_20260302_101500_a?reevaluate=1", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Len(t, out["alerts"], 2)
	require.NotNil(t, out["reevaluation"])

	w, _ = e.do(t, http.MethodGet, "/api/replay/snapshot/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, out = e.do(t, http.MethodGet, "/api/replay/daily?date=2026-03-02", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, out["snapshots"])

	w, _ = e.do(t, http.MethodGet, "/api/replay/daily?date=03/02", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, out = e.do(t, http.MethodGet, "/api/replay/failures?days=3", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 3, out["days"])
}

func TestStrategyRoutes(t *testing.T) {
	e := newEnv(t)
	w, out := e.do(t, http.MethodGet, "/api/strategies", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, out["profiles"], 2)
	version := out["version"].(float64)

	w, out = e.do(t, http.MethodPost, "/api/strategies/firstseal/deactivate", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, out["enabled"])
	assert.Greater(t, out["version"].(float64), version)

	w, _ = e.do(t, http.MethodPost, "/api/strategies/nope/activate", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, out = e.do(t, http.MethodPost, "/api/strategies/reload", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, out["profiles"], "reseal")
}

func TestAgentRoutes(t *testing.T) {
	e := newEnv(t)
	e.pushed(t)

	w, out := e.do(t, http.MethodGet, "/api/agent/input_bundle?symbol=600001&strategy_id=reseal", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, out["instructions"])
	assert.NotNil(t, out["output_schema"])

	body := []byte(`{"symbol":"000002","strategy_id":"reseal","output":{"action":"ALLOW","gloss":"看好"}}`)
	w, out = e.do(t, http.MethodPost, "/api/agent/apply_output", body)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, out["error"], "upgrade")

	body = []byte(`{"symbol":"600001","strategy_id":"reseal","output":{"action":"BLOCK","gloss":"情绪转弱"}}`)
	w, out = e.do(t, http.MethodPost, "/api/agent/apply_output", body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	rec := out["record"].(map[string]any)
	assert.Equal(t, "BLOCK", rec["action"])
	assert.Equal(t, "情绪转弱", rec["gloss"])

	body = []byte(`{"symbol":"600001","strategy_id":"reseal","output":"解读如下 {\"action\":\"WATCH\",\"gloss\":\"等待回封确认\"}"}`)
	w, out = e.do(t, http.MethodPost, "/api/agent/apply_output", body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "WATCH", out["record"].(map[string]any)["action"])

	body = []byte(`{"symbol":"600001","strategy_id":"reseal","output":{"action":"ALLOW","confidence":0.2,"gloss":"勉强可做"}}`)
	w, out = e.do(t, http.MethodPost, "/api/agent/apply_output", body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	rec = out["record"].(map[string]any)
	assert.Equal(t, "WATCH", rec["action"])
	assert.Equal(t, 0.2, rec["confidence"])

	w, _ = e.do(t, http.MethodPost, "/api/agent/apply_output", []byte(`{"output":{}}`))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestServerStartBindsAndShutsDown(t *testing.T) {
	loader, err := strategy.NewLoader("../../../../configs/profiles.yaml")
	require.NoError(t, err)
	svc := live.NewService(live.Options{}, live.Deps{Engine: engine.New(engine.DefaultConfig(), loader)})
	defer svc.Close()
	srv, err := NewServer(ServerConfig{Addr: "127.0.0.1:0", Live: svc})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Start(ctx) }()
	require.Eventually(t, func() bool { return srv.Addr() != "127.0.0.1:0" }, 2*time.Second, 10*time.Millisecond)

	resp, err := http.Get("http://" + srv.Addr() + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
