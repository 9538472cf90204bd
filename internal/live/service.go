// Package live 驱动实时评估：拉取快照 → 引擎 tick → 变化检测 → 落库/推送。
package live

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"sealwatch/internal/engine"
	"sealwatch/internal/logger"
	"sealwatch/internal/metrics"
	"sealwatch/internal/pkg/circuit"
	"sealwatch/internal/scheduler"
	"sealwatch/internal/snapshot"
	"sealwatch/internal/source"
	"sealwatch/internal/strategy"
)

// ErrUnchanged 表示快照 id 与 profile 版本都没有变化，本次不评估。
var ErrUnchanged = errors.New("live: snapshot unchanged")

type Options struct {
	Interval time.Duration
	Offset   time.Duration
	Sessions scheduler.Sessions

	// SnapshotMaxCandidates 限制冻结快照保留的候选数（提醒相关代码总会保留）。
	SnapshotMaxCandidates int

	EdgeTimeout time.Duration
	EdgeRetries int

	BreakerThreshold int
	BreakerCooldown  time.Duration
}

type Deps struct {
	Engine    *engine.Engine
	Source    source.Source
	Alerts    AlertLog
	Snapshots SnapshotLog
	Publisher Publisher
	Hub       Broadcaster
	Explainer Explainer
	Metrics   *metrics.Metrics
}

type Service struct {
	opts    Options
	engine  *engine.Engine
	src     source.Source
	breaker *circuit.CircuitBreaker
	metrics *metrics.Metrics
	cache   *tickCache
	sink    *sink

	tickMu   sync.Mutex
	lastKey  string
	lastSeen *snapshot.FeatureSnapshot
	closed   bool

	emitCh    chan batch
	emitDone  chan struct{}
	closeOnce sync.Once

	stateMu sync.RWMutex
	lastErr string
	lastRun time.Time
}

func NewService(opts Options, deps Deps) *Service {
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Second
	}
	if opts.EdgeTimeout <= 0 {
		opts.EdgeTimeout = 5 * time.Second
	}
	if opts.EdgeRetries < 0 {
		opts.EdgeRetries = 0
	}
	if opts.BreakerCooldown <= 0 {
		opts.BreakerCooldown = 30 * time.Second
	}
	s := &Service{
		opts:    opts,
		engine:  deps.Engine,
		src:     deps.Source,
		metrics: deps.Metrics,
		cache:   newTickCache(),
		sink: &sink{
			alerts:    deps.Alerts,
			snapshots: deps.Snapshots,
			publisher: deps.Publisher,
			hub:       deps.Hub,
			explainer: deps.Explainer,
			metrics:   deps.Metrics,
			timeout:   opts.EdgeTimeout,
			retries:   opts.EdgeRetries,
			minWait:   200 * time.Millisecond,
			maxWait:   5 * time.Second,
		},
		emitCh:   make(chan batch, 16),
		emitDone: make(chan struct{}),
	}
	if deps.Source != nil {
		s.breaker = circuit.NewCircuitBreaker("source", opts.BreakerThreshold, opts.BreakerCooldown)
	}
	go s.emitLoop()
	return s
}

// WatchProfiles 在策略热更新时取消进行中的 tick，并用新 profile 重新评估最近的快照。
func (s *Service) WatchProfiles(ctx context.Context, loader *strategy.Loader) {
	if loader == nil {
		return
	}
	loader.Subscribe(func(set strategy.Set) {
		logger.Infof("profiles changed (version %d), cancelling in-flight ticks", set.Version)
		s.engine.CancelInflight()
		go func() {
			if _, err := s.Reevaluate(ctx); err != nil && !errors.Is(err, ErrUnchanged) {
				logger.Warnf("re-evaluation after profile change failed: %v", err)
			}
		}()
	})
}

// Run 按交易时段定时拉取快照，直到 ctx 结束。没有拉取源时只等待推送。
func (s *Service) Run(ctx context.Context) error {
	if s.engine == nil {
		return fmt.Errorf("live service not initialized")
	}
	if s.src == nil {
		logger.Infof("live: no pull source, waiting for pushed snapshots")
		<-ctx.Done()
		return nil
	}
	sched := scheduler.NewTickScheduler(ctx, s.opts.Interval, s.opts.Offset, s.opts.Sessions)
	sched.Name = "live"
	sched.RunImmediately = true
	sched.Start(func(time.Time) { s.Poll(ctx) })
	return nil
}

// Poll 拉取一次快照并评估；错误只记录，不中断循环。
func (s *Service) Poll(ctx context.Context) {
	var raw []byte
	err := s.breaker.Do(func() error {
		var ferr error
		raw, ferr = s.src.Fetch(ctx)
		if errors.Is(ferr, source.ErrNotModified) {
			return nil
		}
		return ferr
	})
	switch {
	case errors.Is(err, circuit.ErrOpen):
		s.setErr(fmt.Errorf("source %s: circuit open", s.src.Name()))
		s.metrics.TickFailed("skipped")
		return
	case err != nil:
		logger.Warnf("fetch snapshot from %s failed: %v", s.src.Name(), err)
		s.setErr(err)
		s.metrics.SourceError()
		return
	case raw == nil:
		return
	}
	snap, err := snapshot.Decode(raw)
	if err != nil {
		logger.Warnf("decode snapshot from %s failed: %v", s.src.Name(), err)
		s.setErr(err)
		s.metrics.SourceError()
		return
	}
	if _, err := s.Ingest(ctx, snap); err != nil && !errors.Is(err, ErrUnchanged) {
		logger.Warnf("tick for snapshot %s failed: %v", snap.ID, err)
	}
}

// Ingest 评估一个快照。同一快照在 profile 未变时只评估一次。
// 决策计算完成后副作用异步执行，不阻塞下一次 tick。
func (s *Service) Ingest(ctx context.Context, snap *snapshot.FeatureSnapshot) (*engine.TickResult, error) {
	if snap == nil {
		return nil, engine.ErrNilSnapshot
	}
	s.tickMu.Lock()
	defer s.tickMu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("live service closed")
	}

	key := fmt.Sprintf("%s@%d", snap.ID, s.engine.Profiles().Version)
	if key == s.lastKey {
		return s.cache.Latest(), ErrUnchanged
	}
	s.lastSeen = snap
	res, err := s.engine.RunTick(ctx, snap)
	if err != nil {
		if errors.Is(err, engine.ErrTickCancelled) {
			s.metrics.TickFailed("cancelled")
		} else {
			s.metrics.TickFailed("error")
		}
		s.setErr(err)
		return nil, err
	}
	s.lastKey = key

	prev := s.cache.swap(res)
	alerts := detectChanges(prev, res.Decisions)
	reasons := snapshotReasons(prev, res, alerts)
	var frozen *snapshot.FeatureSnapshot
	if len(reasons) > 0 {
		frozen = snap.Subset(res.RankedSymbols(), mustKeep(res, alerts), s.opts.SnapshotMaxCandidates)
	}
	s.metrics.TickDone(res.Elapsed, res.Regime.Light, res.Quality.LagSec, res.Decisions)
	s.setErr(nil)

	counts := res.Counts()
	logger.Infof("tick %s snapshot=%s light=%s allow=%d watch=%d block=%d alerts=%d snapshot_reasons=%v",
		res.TickID, res.SnapshotID, res.Regime.Light, counts["ALLOW"], counts["WATCH"], counts["BLOCK"], len(alerts), reasons)

	select {
	case s.emitCh <- batch{res: res, alerts: alerts, reasons: reasons, snapshot: frozen}:
	case <-ctx.Done():
		logger.Warnf("tick %s computed but context ended before side effects were queued", res.TickID)
	}
	return res, nil
}

// Reevaluate 用当前 profile 重新评估最近收到的快照。
func (s *Service) Reevaluate(ctx context.Context) (*engine.TickResult, error) {
	s.tickMu.Lock()
	snap := s.lastSeen
	s.tickMu.Unlock()
	if snap == nil {
		return nil, ErrUnchanged
	}
	return s.Ingest(ctx, snap)
}

func (s *Service) emitLoop() {
	defer close(s.emitDone)
	for b := range s.emitCh {
		s.sink.emit(context.Background(), b)
	}
}

// Close 等待已排队的副作用执行完毕。
func (s *Service) Close() {
	s.closeOnce.Do(func() {
		s.tickMu.Lock()
		s.closed = true
		close(s.emitCh)
		s.tickMu.Unlock()
		<-s.emitDone
	})
}

func (s *Service) Latest() *engine.TickResult { return s.cache.Latest() }

func (s *Service) Engine() *engine.Engine { return s.engine }

func (s *Service) EdgeWarnings() []EdgeWarning { return s.sink.edgeWarnings() }

func (s *Service) setErr(err error) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	s.lastRun = time.Now()
	if err == nil {
		s.lastErr = ""
		return
	}
	s.lastErr = err.Error()
}

// Status 汇总运行状态供 /api/status 使用。
type Status struct {
	TickID         string         `json:"tick_id,omitempty"`
	SnapshotID     string         `json:"snapshot_id,omitempty"`
	AsOf           time.Time      `json:"as_of,omitempty"`
	Light          string         `json:"risk_light,omitempty"`
	Mode           string         `json:"mode,omitempty"`
	ProfileVersion int64          `json:"profile_set_version"`
	Strategies     []string       `json:"strategies"`
	Source         string         `json:"source"`
	SourceBreaker  *circuit.Stats `json:"source_breaker,omitempty"`
	LastRun        time.Time      `json:"last_run,omitempty"`
	LastError      string         `json:"last_error,omitempty"`
	EdgeWarnings   []EdgeWarning  `json:"edge_warnings"`
}

func (s *Service) Status() Status {
	set := s.engine.Profiles()
	st := Status{
		ProfileVersion: set.Version,
		Strategies:     set.IDs(),
		Source:         "push",
		EdgeWarnings:   s.EdgeWarnings(),
	}
	if s.src != nil {
		st.Source = s.src.Name()
		bs := s.breaker.Stats()
		st.SourceBreaker = &bs
	}
	if res := s.cache.Latest(); res != nil {
		st.TickID = res.TickID
		st.SnapshotID = res.SnapshotID
		st.AsOf = res.AsOf
		st.Light = string(res.Regime.Light)
		st.Mode = string(res.Regime.Mode)
	}
	s.stateMu.RLock()
	st.LastRun = s.lastRun
	st.LastError = s.lastErr
	s.stateMu.RUnlock()
	return st
}
