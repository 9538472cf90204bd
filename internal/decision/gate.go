package decision

import (
	"fmt"
	"math"
	"strings"

	"sealwatch/internal/regime"
	"sealwatch/internal/scoring"
	"sealwatch/internal/snapshot"
	"sealwatch/internal/strategy"
	"sealwatch/internal/trigger"
)

// GateConfig 是闸门的全局参数；策略相关的部分来自 profile.Gate。
type GateConfig struct {
	AllowFloor           float64 `toml:"allow_confidence_floor" json:"allow_confidence_floor"`
	MaxLagSec            float64 `toml:"max_data_lag_sec" json:"max_data_lag_sec"`
	StaleBlockMultiplier float64 `toml:"stale_block_multiplier" json:"stale_block_multiplier"`
	MissingPenalty       float64 `toml:"missing_penalty" json:"missing_penalty"`
	YellowPenalty        float64 `toml:"yellow_penalty" json:"yellow_penalty"`
	DegradedPenalty      float64 `toml:"degraded_penalty" json:"degraded_penalty"`
}

func DefaultGateConfig() GateConfig {
	return GateConfig{
		AllowFloor:           0.6,
		MaxLagSec:            20,
		StaleBlockMultiplier: 3,
		MissingPenalty:       0.25,
		YellowPenalty:        0.10,
		DegradedPenalty:      0.15,
	}
}

type Gate struct {
	cfg GateConfig
}

func NewGate(cfg GateConfig) *Gate {
	return &Gate{cfg: cfg}
}

func (g *Gate) Config() GateConfig { return g.cfg }

type GateInput struct {
	Symbol        string
	Profile       *strategy.Profile
	Regime        regime.Assessment
	Score         scoring.CandidateScore
	Triggers      []trigger.Result
	Quality       snapshot.DataQuality
	UnknownSymbol bool
}

type Verdict struct {
	Action     Action
	Confidence float64
	Warnings   []string
	Risks      []string
}

// Stale reports whether the data lag exceeds the configured maximum.
func (g *Gate) Stale(q snapshot.DataQuality) bool {
	return g.cfg.MaxLagSec > 0 && q.LagSec > g.cfg.MaxLagSec
}

func (g *Gate) hardStale(q snapshot.DataQuality) bool {
	return g.cfg.MaxLagSec > 0 && g.cfg.StaleBlockMultiplier > 0 &&
		q.LagSec > g.cfg.MaxLagSec*g.cfg.StaleBlockMultiplier
}

// Confidence = PASS 占比 − 每条 MISSING 扣分 − 黄/红灯扣分 − 数据降级扣分，截断到 [0,1]。
// 随 MISSING/FAIL 数量增加单调不增。
func (g *Gate) Confidence(results []trigger.Result, light regime.Light, q snapshot.DataQuality) float64 {
	if len(results) == 0 {
		return 0
	}
	c := trigger.Count(results)
	conf := float64(c.Pass) / float64(len(results))
	conf -= float64(c.Missing) * g.cfg.MissingPenalty
	if light.Severity() >= regime.Yellow.Severity() {
		conf -= g.cfg.YellowPenalty
	}
	if q.Degraded || g.Stale(q) {
		conf -= g.cfg.DegradedPenalty
	}
	conf = math.Max(0, math.Min(1, conf))
	return math.Round(conf*10000) / 10000
}

// Decide 依次检查强制 BLOCK 与强制 WATCH 条件，每条命中的条件都写入警告。
func (g *Gate) Decide(in GateInput) Verdict {
	var v Verdict
	var block, watch bool

	if in.UnknownSymbol {
		v.Warnings = append(v.Warnings, fmt.Sprintf("symbol %s is not in the candidate set for this tick: BLOCK", in.Symbol))
		return v.finish(Block, 0)
	}

	v.Confidence = g.Confidence(in.Triggers, in.Regime.Light, in.Quality)

	if in.Regime.Light == regime.Red {
		block = true
		v.Warnings = append(v.Warnings, "risk light RED ("+describeReasons(in.Regime.LightReasons)+"): BLOCK forced")
	}
	for _, r := range in.Triggers {
		if !r.Required {
			continue
		}
		switch r.Status {
		case trigger.Fail:
			block = true
			v.Warnings = append(v.Warnings, fmt.Sprintf("required rule %s FAIL (%s): BLOCK forced", r.Name, r.Detail))
		case trigger.Missing:
			watch = true
			v.Warnings = append(v.Warnings, fmt.Sprintf("required rule %s MISSING (%s): ALLOW forbidden", r.Name, r.Detail))
		}
	}
	if g.hardStale(in.Quality) {
		block = true
		v.Warnings = append(v.Warnings, fmt.Sprintf("data stale: lag %.0fs exceeds hard limit %.0fs: BLOCK forced",
			in.Quality.LagSec, g.cfg.MaxLagSec*g.cfg.StaleBlockMultiplier))
	}

	if in.Quality.Degraded {
		watch = true
		msg := "data quality degraded"
		if !in.Quality.Present {
			msg += " (data_quality block absent)"
		}
		if len(in.Quality.MissingFields) > 0 {
			msg += " (missing fields: " + strings.Join(in.Quality.MissingFields, ", ") + ")"
		}
		v.Warnings = append(v.Warnings, msg+": ALLOW forbidden")
	}
	if g.Stale(in.Quality) {
		watch = true
		v.Warnings = append(v.Warnings, fmt.Sprintf("data stale: lag %.0fs exceeds max %.0fs: ALLOW forbidden",
			in.Quality.LagSec, g.cfg.MaxLagSec))
	}
	if v.Confidence < g.cfg.AllowFloor {
		watch = true
		v.Warnings = append(v.Warnings, fmt.Sprintf("confidence %.2f below ALLOW floor %.2f: ALLOW forbidden",
			v.Confidence, g.cfg.AllowFloor))
	}
	if in.Profile != nil {
		if !in.Profile.Gate.AllowOptionalFail {
			for _, r := range in.Triggers {
				if !r.Required && r.Status != trigger.Pass {
					watch = true
					v.Warnings = append(v.Warnings, fmt.Sprintf("rule %s %s (%s): ALLOW forbidden", r.Name, r.Status, r.Detail))
				}
			}
		}
		if floor := in.Profile.Gate.MinAllowScore; floor > 0 && in.Score.Total < floor {
			watch = true
			v.Warnings = append(v.Warnings, fmt.Sprintf("score %.2f below min_allow_score %.2f: ALLOW forbidden",
				in.Score.Total, floor))
		}
	}
	v.Risks = describeRisks(in)

	switch {
	case block:
		return v.finish(Block, v.Confidence)
	case watch:
		return v.finish(Watch, v.Confidence)
	default:
		return v.finish(Allow, v.Confidence)
	}
}

func (v Verdict) finish(a Action, conf float64) Verdict {
	v.Action = a
	v.Confidence = conf
	if v.Warnings == nil {
		v.Warnings = []string{}
	}
	if v.Risks == nil {
		v.Risks = []string{}
	}
	return v
}

func describeReasons(reasons []regime.Reason) string {
	parts := make([]string, 0, len(reasons))
	for _, r := range reasons {
		parts = append(parts, fmt.Sprintf("%s=%g by %s", r.Feature, r.Value, r.Rule))
	}
	return strings.Join(parts, ", ")
}

func describeRisks(in GateInput) []string {
	var risks []string
	switch in.Regime.Light {
	case regime.Red:
		risks = append(risks, "风险灯红灯，禁止新增")
	case regime.Yellow:
		risks = append(risks, "风险灯黄灯，仓位降档")
	}
	switch in.Regime.Mode {
	case regime.Weak:
		risks = append(risks, "市场弱势")
	case regime.Chaos:
		risks = append(risks, "市场混乱，炸板与跌停同步增加")
	case regime.Divergence:
		risks = append(risks, "市场分歧")
	}
	for _, it := range in.Score.PenaltyItems {
		switch it.Reason {
		case "low_amount":
			risks = append(risks, "成交额偏低")
		case "amount_missing":
			risks = append(risks, "成交额缺失")
		case "data_degraded":
			risks = append(risks, "数据降级")
		}
	}
	if len(in.Score.Defaulted) > 0 {
		risks = append(risks, "以中性值代入: "+strings.Join(in.Score.Defaulted, ", "))
	}
	return risks
}
