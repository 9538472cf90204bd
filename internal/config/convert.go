package config

import (
	"time"

	"sealwatch/internal/decision"
	"sealwatch/internal/engine"
	"sealwatch/internal/regime"
	"sealwatch/internal/snapshot"
	"sealwatch/internal/scheduler"
)

func (r RegimeConfig) Thresholds() regime.Thresholds {
	return regime.Thresholds{
		RedLimitDownMax:          r.RedLimitDownMax,
		RedBombRate:              r.RedBombRate,
		YellowBombRate:           r.YellowBombRate,
		YellowLimitUpMin:         r.YellowLimitUpMin,
		YellowLimitDownMax:       r.YellowLimitDownMax,
		EscalateMode:             r.EscalateMode,
		StrongLimitUpMin:         r.StrongLimitUpMin,
		StrongBombRateMax:        r.StrongBombRateMax,
		StrongLimitDownMax:       r.StrongLimitDownMax,
		StrongIndexRetMin:        r.StrongIndexRetMin,
		WeakLimitUpBelow:         r.WeakLimitUpBelow,
		WeakLimitDownAbove:       r.WeakLimitDownAbove,
		WeakBombRateAbove:        r.WeakBombRateAbove,
		WeakIndexRetBelow:        r.WeakIndexRetBelow,
		ChaosBombRateAbove:       r.ChaosBombRateAbove,
		ChaosLimitDownAbove:      r.ChaosLimitDownAbove,
		DivergenceBombRateAbove:  r.DivergenceBombRateAbove,
		DivergenceLimitDownAbove: r.DivergenceLimitDownAbove,
	}
}

// EngineSettings 组装引擎运行参数。
func (c *Config) EngineSettings() engine.Config {
	return engine.Config{
		Workers:          c.Engine.Workers,
		ActiveStrategies: append([]string(nil), c.Engine.ActiveStrategies...),
		Regime:           c.Regime.Thresholds(),
		Gate: decision.GateConfig{
			AllowFloor:           c.Engine.AllowConfidenceFloor,
			MaxLagSec:            c.Engine.MaxDataLagSec,
			StaleBlockMultiplier: c.Engine.StaleBlockMultiplier,
			MissingPenalty:       c.Engine.Confidence.MissingPenalty,
			YellowPenalty:        c.Engine.Confidence.YellowPenalty,
			DegradedPenalty:      c.Engine.Confidence.DegradedPenalty,
		},
	}
}

func (e EngineConfig) TickInterval() time.Duration {
	return time.Duration(e.TickIntervalSec) * time.Second
}

func (e EngineConfig) TickOffset() time.Duration {
	return time.Duration(e.TickOffsetMs) * time.Millisecond
}

// TradingSessions 按交易所时区解析交易时段；配置已校验过。
func (e EngineConfig) TradingSessions() scheduler.Sessions {
	s, _ := scheduler.ParseSessions(e.Sessions, snapshot.Location)
	return s
}
