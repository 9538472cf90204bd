package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sealwatch/internal/decision"
	"sealwatch/internal/regime"
)

func TestTickDone(t *testing.T) {
	m := New("test")
	recs := []decision.Record{
		{StrategyID: "reseal", Action: decision.Allow},
		{StrategyID: "reseal", Action: decision.Watch},
		{StrategyID: "reseal", Action: decision.Watch},
	}
	m.TickDone(20*time.Millisecond, regime.Yellow, 4.5, recs)
	m.TickFailed("cancelled")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ticks.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ticks.WithLabelValues("cancelled")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.decisions.WithLabelValues("reseal", "WATCH")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.riskLight.WithLabelValues("YELLOW")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.riskLight.WithLabelValues("RED")))
	assert.Equal(t, 4.5, testutil.ToFloat64(m.dataLag))
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New("")
	m.AlertAppended(decision.Allow)
	m.SinkError("webhook")

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rr.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `sealwatch_alerts_total{action="ALLOW"} 1`)
	assert.Contains(t, string(body), `sealwatch_sink_errors_total{sink="webhook"} 1`)
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.TickDone(time.Second, regime.Red, 1, nil)
	m.TickFailed("error")
	m.AlertAppended(decision.Block)
	m.SinkError("x")
	m.SourceError()
	m.AgentResult("ok")
	assert.Nil(t, m.Gatherer())
	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 404, rr.Code)
}
