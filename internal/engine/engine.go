// Package engine 串联 regime → scoring → trigger → gate → plan，按 tick 并发评估候选。
package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"sealwatch/internal/decision"
	"sealwatch/internal/logger"
	"sealwatch/internal/regime"
	"sealwatch/internal/scoring"
	"sealwatch/internal/snapshot"
	"sealwatch/internal/strategy"
)

var (
	// ErrTickCancelled 表示 tick 在完成前被取消，部分结果已丢弃。
	ErrTickCancelled   = errors.New("engine: tick cancelled")
	ErrNilSnapshot     = errors.New("engine: snapshot is nil")
	ErrNoProfiles      = errors.New("engine: no active strategy profile")
	ErrUnknownStrategy = errors.New("engine: unknown strategy")
)

type Config struct {
	// Workers 为 0 时取 CPU 核数。
	Workers          int                `toml:"workers" json:"workers"`
	ActiveStrategies []string           `toml:"active_strategies" json:"active_strategies"`
	Regime           regime.Thresholds  `toml:"regime" json:"regime"`
	Gate             decision.GateConfig `toml:"gate" json:"gate"`
}

func DefaultConfig() Config {
	return Config{
		Regime: regime.DefaultThresholds(),
		Gate:   decision.DefaultGateConfig(),
	}
}

// ProfileSource 提供当前生效的策略集合；strategy.Loader 满足该接口。
type ProfileSource interface {
	Snapshot() strategy.Set
}

// StaticProfiles 把固定的 Set 包装成 ProfileSource，用于离线评估与测试。
type StaticProfiles strategy.Set

func (s StaticProfiles) Snapshot() strategy.Set { return strategy.Set(s) }

type Engine struct {
	cfg        Config
	classifier *regime.Classifier
	gate       *decision.Gate
	profiles   ProfileSource

	mu       sync.Mutex
	seq      uint64
	inflight map[uint64]context.CancelFunc

	// hook 在每个单元评估前调用，仅测试使用。
	hook func(symbol string)
}

func New(cfg Config, profiles ProfileSource) *Engine {
	return &Engine{
		cfg:        cfg,
		classifier: regime.NewClassifier(cfg.Regime),
		gate:       decision.NewGate(cfg.Gate),
		profiles:   profiles,
		inflight:   make(map[uint64]context.CancelFunc),
	}
}

func (e *Engine) Config() Config { return e.cfg }

func (e *Engine) Profiles() strategy.Set { return e.profiles.Snapshot() }

// Classify 只依赖市场聚合，同一快照在一个 tick 内只算一次。
func (e *Engine) Classify(snap *snapshot.FeatureSnapshot) regime.Assessment {
	if snap == nil {
		return e.classifier.Classify(nil)
	}
	return e.classifier.Classify(snap.Market)
}

// CancelInflight 取消所有正在执行的 tick；被取消的 tick 返回 ErrTickCancelled。
func (e *Engine) CancelInflight() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, cancel := range e.inflight {
		cancel()
		delete(e.inflight, id)
	}
}

func (e *Engine) track(ctx context.Context) (context.Context, func()) {
	tctx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.seq++
	id := e.seq
	e.inflight[id] = cancel
	e.mu.Unlock()
	return tctx, func() {
		e.mu.Lock()
		delete(e.inflight, id)
		e.mu.Unlock()
		cancel()
	}
}

// RunTick 对快照中每个 (候选, 生效策略) 组合并发评估。
// 任一单元出错只影响自身（降级为 BLOCK）；tick 被取消时整体丢弃。
func (e *Engine) RunTick(ctx context.Context, snap *snapshot.FeatureSnapshot) (*TickResult, error) {
	if snap == nil {
		return nil, ErrNilSnapshot
	}
	start := time.Now()
	set := e.profiles.Snapshot()
	profiles := e.selectProfiles(set, snap)
	if len(profiles) == 0 {
		return nil, ErrNoProfiles
	}

	tctx, done := e.track(ctx)
	defer done()

	assess := e.Classify(snap)
	units := make([]unit, 0, len(profiles)*len(snap.Candidates))
	for _, p := range profiles {
		for _, c := range snap.Candidates {
			units = append(units, unit{profile: p, candidate: c, known: true})
		}
	}
	recs := make([]decision.Record, len(units))

	eg, egCtx := errgroup.WithContext(tctx)
	eg.SetLimit(e.workers())
	for i := range units {
		i := i
		eg.Go(func() error {
			if err := egCtx.Err(); err != nil {
				return err
			}
			recs[i] = e.evaluateSafe(snap, assess, units[i])
			return nil
		})
	}
	if err := eg.Wait(); err != nil || tctx.Err() != nil {
		logger.Warnf("tick snapshot=%s cancelled after %s, discarding %d units", snap.ID, time.Since(start).Truncate(time.Millisecond), len(units))
		return nil, fmt.Errorf("%w: snapshot %s", ErrTickCancelled, snap.ID)
	}

	res := newTickResult(uuid.NewString(), snap, assess, set.Version, profiles, recs)
	res.Elapsed = time.Since(start)
	logger.Debugf("tick %s snapshot=%s light=%s mode=%s units=%d elapsed=%s",
		res.TickID, snap.ID, assess.Light, assess.Mode, len(units), res.Elapsed.Truncate(time.Millisecond))
	return res, nil
}

// EvaluateSymbol 评估单个代码；strategyID 为空时按快照的 strategy_context 或第一个生效策略。
// 代码不在候选池中时返回 BLOCK 记录而不是错误。
func (e *Engine) EvaluateSymbol(ctx context.Context, snap *snapshot.FeatureSnapshot, symbol, strategyID string) (decision.Record, error) {
	if snap == nil {
		return decision.Record{}, ErrNilSnapshot
	}
	if err := ctx.Err(); err != nil {
		return decision.Record{}, fmt.Errorf("%w: %v", ErrTickCancelled, err)
	}
	set := e.profiles.Snapshot()
	var p *strategy.Profile
	if strategyID != "" {
		got, ok := set.Get(strategyID)
		if !ok {
			return decision.Record{}, fmt.Errorf("%w: %s", ErrUnknownStrategy, strategyID)
		}
		p = got
	} else {
		profiles := e.selectProfiles(set, snap)
		if len(profiles) == 0 {
			return decision.Record{}, ErrNoProfiles
		}
		p = profiles[0]
	}

	assess := e.Classify(snap)
	sym := snapshot.NormalizeSymbol(symbol)
	c, known := snap.Candidate(sym)
	if !known {
		c = snapshot.Candidate{Symbol: sym}
	}
	rec := e.evaluateSafe(snap, assess, unit{profile: p, candidate: c, known: known})
	if known {
		rec.Score.Rank = rankOf(snap, assess, p, sym)
	}
	return rec, nil
}

func (e *Engine) selectProfiles(set strategy.Set, snap *snapshot.FeatureSnapshot) []*strategy.Profile {
	if snap.StrategyID != "" {
		if p, ok := set.Get(snap.StrategyID); ok && !p.Disabled {
			return []*strategy.Profile{p}
		}
		logger.Warnf("snapshot %s names strategy %q which is not active, using configured strategies", snap.ID, snap.StrategyID)
	}
	return set.Active(e.cfg.ActiveStrategies)
}

func (e *Engine) workers() int {
	if e.cfg.Workers > 0 {
		return e.cfg.Workers
	}
	return runtime.NumCPU()
}

// rankOf 计算单个代码在同策略候选中的名次，供单票查询使用。
func rankOf(snap *snapshot.FeatureSnapshot, assess regime.Assessment, p *strategy.Profile, symbol string) int {
	scores := make([]scoring.CandidateScore, 0, len(snap.Candidates))
	for _, c := range snap.Candidates {
		scores = append(scores, scoring.Score(p, scoreInput(snap, assess, c)))
	}
	for _, s := range scoring.Rank(scores) {
		if s.Symbol == symbol {
			return s.Rank
		}
	}
	return 0
}
