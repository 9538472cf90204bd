// Package metrics 暴露 tick、决策与推送的 Prometheus 指标。*Metrics 为 nil 时所有方法都是空操作。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"sealwatch/internal/decision"
	"sealwatch/internal/regime"
)

type Metrics struct {
	gatherer prometheus.Gatherer

	ticks        *prometheus.CounterVec
	tickDuration prometheus.Histogram
	decisions    *prometheus.CounterVec
	riskLight    *prometheus.GaugeVec
	dataLag      prometheus.Gauge
	alerts       *prometheus.CounterVec
	sinkErrors   *prometheus.CounterVec
	sourceErrors prometheus.Counter
	agentResults *prometheus.CounterVec
}

// New 在独立的 registry 上注册指标，避免与进程内其它库冲突。
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "sealwatch"
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)
	return &Metrics{
		gatherer: reg,
		ticks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_total",
			Help:      "Evaluation ticks by result.",
		}, []string{"result"}),
		tickDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tick_duration_seconds",
			Help:      "Wall time of a full evaluation tick.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}),
		decisions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_total",
			Help:      "Decisions emitted by strategy and action.",
		}, []string{"strategy", "action"}),
		riskLight: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "risk_light",
			Help:      "1 for the current market risk light.",
		}, []string{"light"}),
		dataLag: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "data_lag_seconds",
			Help:      "Data lag reported by the latest snapshot.",
		}),
		alerts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_total",
			Help:      "Alerts appended to the alert log.",
		}, []string{"action"}),
		sinkErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sink_errors_total",
			Help:      "Edge side-effect failures after retries.",
		}, []string{"sink"}),
		sourceErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_errors_total",
			Help:      "Snapshot fetch or decode failures.",
		}),
		agentResults: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_results_total",
			Help:      "Explanation agent outcomes.",
		}, []string{"result"}),
	}
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) Gatherer() prometheus.Gatherer {
	if m == nil {
		return nil
	}
	return m.gatherer
}

// TickDone 记录一次完成的 tick。
func (m *Metrics) TickDone(elapsed time.Duration, light regime.Light, lagSec float64, recs []decision.Record) {
	if m == nil {
		return
	}
	m.ticks.WithLabelValues("ok").Inc()
	m.tickDuration.Observe(elapsed.Seconds())
	for _, l := range []regime.Light{regime.Green, regime.Yellow, regime.Red} {
		v := 0.0
		if l == light {
			v = 1
		}
		m.riskLight.WithLabelValues(string(l)).Set(v)
	}
	m.dataLag.Set(lagSec)
	for _, r := range recs {
		m.decisions.WithLabelValues(r.StrategyID, string(r.Action)).Inc()
	}
}

// TickFailed 记录被取消、跳过或出错的 tick。
func (m *Metrics) TickFailed(result string) {
	if m == nil {
		return
	}
	m.ticks.WithLabelValues(result).Inc()
}

func (m *Metrics) AlertAppended(action decision.Action) {
	if m == nil {
		return
	}
	m.alerts.WithLabelValues(string(action)).Inc()
}

func (m *Metrics) SinkError(sink string) {
	if m == nil {
		return
	}
	m.sinkErrors.WithLabelValues(sink).Inc()
}

func (m *Metrics) SourceError() {
	if m == nil {
		return
	}
	m.sourceErrors.Inc()
}

func (m *Metrics) AgentResult(result string) {
	if m == nil {
		return
	}
	m.agentResults.WithLabelValues(result).Inc()
}
