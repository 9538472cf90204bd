package live

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jpillora/backoff"

	"sealwatch/internal/decision"
	"sealwatch/internal/engine"
	"sealwatch/internal/logger"
	"sealwatch/internal/metrics"
	"sealwatch/internal/notifier"
	"sealwatch/internal/snapshot"
	"sealwatch/internal/store/alertstore"
)

type AlertLog interface {
	Append(ctx context.Context, rec decision.Record, at time.Time) (alertstore.Alert, error)
}

type SnapshotLog interface {
	Put(ctx context.Context, snap *snapshot.FeatureSnapshot, light string, reasons []string) (bool, error)
}

type Publisher interface {
	Publish(ctx context.Context, rec decision.Record) []error
}

type Broadcaster interface {
	Broadcast(ev notifier.Event) error
}

// Explainer 为记录补充代理解读；出错时返回原记录。
type Explainer interface {
	Explain(ctx context.Context, rec decision.Record) (decision.Record, error)
}

// EdgeWarning 是一次最终失败的边缘副作用（落库、推送、代理）。
type EdgeWarning struct {
	At      time.Time `json:"at"`
	Sink    string    `json:"sink"`
	Subject string    `json:"subject"`
	Error   string    `json:"error"`
}

const maxEdgeWarnings = 50

// batch 是一个 tick 需要执行的全部副作用。
type batch struct {
	res      *engine.TickResult
	alerts   []decision.Record
	reasons  []string
	snapshot *snapshot.FeatureSnapshot
}

// sink 顺序执行每个 tick 的副作用，失败按退避重试，最终失败记入 edge warnings。
type sink struct {
	alerts    AlertLog
	snapshots SnapshotLog
	publisher Publisher
	hub       Broadcaster
	explainer Explainer
	metrics   *metrics.Metrics

	timeout time.Duration
	retries int
	minWait time.Duration
	maxWait time.Duration

	mu       sync.Mutex
	warnings []EdgeWarning
}

func (s *sink) emit(ctx context.Context, b batch) {
	if len(b.reasons) > 0 && s.snapshots != nil && b.snapshot != nil {
		err := s.retry(ctx, "snapshot", b.snapshot.ID, func(c context.Context) error {
			created, err := s.snapshots.Put(c, b.snapshot, string(b.res.Regime.Light), b.reasons)
			if err == nil && created {
				logger.Infof("snapshot %s frozen: %v (%d candidates)", b.snapshot.ID, b.reasons, len(b.snapshot.Candidates))
			}
			return err
		})
		if err != nil {
			s.warn("snapshot", b.snapshot.ID, err)
		}
	}

	for _, rec := range b.alerts {
		rec = s.explain(ctx, rec)
		subject := rec.StrategyID + "/" + rec.Symbol
		if s.alerts != nil {
			err := s.retry(ctx, "alertstore", subject, func(c context.Context) error {
				_, err := s.alerts.Append(c, rec, time.Now())
				return err
			})
			if err != nil {
				s.warn("alertstore", subject, err)
			} else {
				s.metrics.AlertAppended(rec.Action)
			}
		}
		if s.publisher != nil {
			for _, err := range s.publisher.Publish(ctx, rec) {
				s.warn("notify", subject, err)
			}
		}
	}

	if s.hub != nil {
		if err := s.hub.Broadcast(notifier.Event{Type: "tick", Data: summarize(b.res, len(b.alerts))}); err != nil {
			s.warn("websocket", b.res.TickID, err)
		}
	}
}

func (s *sink) explain(ctx context.Context, rec decision.Record) decision.Record {
	if s.explainer == nil {
		return rec
	}
	c, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	out, err := s.explainer.Explain(c, rec)
	if err != nil {
		logger.Warnf("agent output discarded for %s/%s: %v", rec.StrategyID, rec.Symbol, err)
		s.metrics.AgentResult("rejected")
		return rec
	}
	s.metrics.AgentResult("accepted")
	return out
}

func (s *sink) retry(ctx context.Context, name, subject string, fn func(context.Context) error) error {
	b := &backoff.Backoff{Min: s.minWait, Max: s.maxWait, Factor: 2, Jitter: true}
	var err error
	for attempt := 0; ; attempt++ {
		c, cancel := context.WithTimeout(ctx, s.timeout)
		err = fn(c)
		cancel()
		if err == nil {
			return nil
		}
		if attempt >= s.retries {
			return err
		}
		wait := b.Duration()
		logger.Debugf("%s %s attempt %d failed, retry in %s: %v", name, subject, attempt+1, wait, err)
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w (last error: %v)", ctx.Err(), err)
		case <-time.After(wait):
		}
	}
}

func (s *sink) warn(name, subject string, err error) {
	logger.Errorf("edge %s failed for %s: %v", name, subject, err)
	s.metrics.SinkError(name)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.warnings = append(s.warnings, EdgeWarning{At: time.Now(), Sink: name, Subject: subject, Error: err.Error()})
	if over := len(s.warnings) - maxEdgeWarnings; over > 0 {
		s.warnings = append([]EdgeWarning(nil), s.warnings[over:]...)
	}
}

func (s *sink) edgeWarnings() []EdgeWarning {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]EdgeWarning(nil), s.warnings...)
}

// TickSummary 是推给看板的 tick 概要。
type TickSummary struct {
	TickID     string                  `json:"tick_id"`
	SnapshotID string                  `json:"snapshot_id"`
	AsOf       time.Time               `json:"as_of"`
	Light      string                  `json:"risk_light"`
	Mode       string                  `json:"mode"`
	Counts     map[decision.Action]int `json:"counts"`
	Alerts     int                     `json:"alerts"`
	Top        []string                `json:"top"`
}

func summarize(res *engine.TickResult, alerts int) TickSummary {
	top := res.RankedSymbols()
	if len(top) > 10 {
		top = top[:10]
	}
	return TickSummary{
		TickID:     res.TickID,
		SnapshotID: res.SnapshotID,
		AsOf:       res.AsOf,
		Light:      string(res.Regime.Light),
		Mode:       string(res.Regime.Mode),
		Counts:     res.Counts(),
		Alerts:     alerts,
		Top:        top,
	}
}
