// Package plan 根据动作与风险灯生成仓位上限与退出规则。
package plan

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"sealwatch/internal/regime"
	"sealwatch/internal/strategy"
)

const (
	ExitNoReseal    = "no_reseal_abandon"
	ExitPullback    = "pullback_retreat"
	ExitRiskRed     = "risk_red_stop_adding"
	ExitStrategy    = "strategy"
	MinExitRuleSize = 3
)

type ExitRule struct {
	Kind string `json:"kind"`
	Text string `json:"text"`
}

type Plan struct {
	MaxSinglePosition float64    `json:"max_single_position"`
	EntryNote         string     `json:"entry_note"`
	ExitRules         []ExitRule `json:"exit_rules"`
}

// HasExit reports whether the plan carries an exit rule of the given kind.
func (p Plan) HasExit(kind string) bool {
	for _, r := range p.ExitRules {
		if r.Kind == kind {
			return true
		}
	}
	return false
}

var decimalZero = decimal.Zero

func decFromFloat(val float64) decimal.Decimal {
	if math.IsNaN(val) || math.IsInf(val, 0) {
		return decimalZero
	}
	return decimal.NewFromFloat(val)
}

func decToFloat(val decimal.Decimal) float64 {
	f, _ := val.Float64()
	return f
}

// Ceiling 计算单票仓位上限：
// GREEN 取表中值；YELLOW 取 min(表中 YELLOW, GREEN×yellow_scale)；RED 为 0。
func Ceiling(spec strategy.PlanSpec, light regime.Light) float64 {
	green := decFromFloat(spec.Ceilings[string(regime.Green)])
	if green.IsNegative() {
		green = decimalZero
	}
	var out decimal.Decimal
	switch light {
	case regime.Green:
		out = green
	case regime.Yellow:
		out = green.Mul(decFromFloat(spec.YellowScale))
		if y, ok := spec.Ceilings[string(regime.Yellow)]; ok {
			out = decimal.Min(out, decFromFloat(y))
		}
	default:
		out = decimalZero
	}
	if out.IsNegative() {
		out = decimalZero
	}
	return decToFloat(out.Round(4))
}

const (
	blockNote = "禁止介入"
	watchNote = "仅观察，条件全部满足后再评估"
)

// Build 生成计划。action 为 ALLOW/WATCH/BLOCK；BLOCK 仓位恒为 0。
// 三条必备退出规则始终在前，策略自定义规则追加在后。
func Build(spec strategy.PlanSpec, light regime.Light, action string) Plan {
	p := Plan{ExitRules: mandatoryExits(spec)}
	for _, text := range spec.ExtraExitRules {
		if text == "" {
			continue
		}
		p.ExitRules = append(p.ExitRules, ExitRule{Kind: ExitStrategy, Text: text})
	}
	switch action {
	case "BLOCK":
		p.MaxSinglePosition = 0
		p.EntryNote = blockNote
	case "WATCH":
		p.MaxSinglePosition = Ceiling(spec, light)
		p.EntryNote = watchNote
	default:
		p.MaxSinglePosition = Ceiling(spec, light)
		p.EntryNote = spec.EntryNote
		if p.EntryNote == "" {
			p.EntryNote = "条件满足，按计划分批介入"
		}
	}
	return p
}

// Downgrade 把已生成的计划改写为更保守的动作；退出规则保持不变。
func Downgrade(p Plan, action string) Plan {
	out := p
	out.ExitRules = append([]ExitRule(nil), p.ExitRules...)
	switch action {
	case "BLOCK":
		out.MaxSinglePosition = 0
		out.EntryNote = blockNote
	case "WATCH":
		out.EntryNote = watchNote
	}
	return out
}

func mandatoryExits(spec strategy.PlanSpec) []ExitRule {
	window := spec.FailWindowSec
	if window <= 0 {
		window = 30
	}
	retreat := decFromFloat(spec.PullbackRetreat).Mul(decimal.NewFromInt(100)).Round(1)
	return []ExitRule{
		{Kind: ExitNoReseal, Text: fmt.Sprintf("开板后%d秒不回封 => 放弃/减仓", window)},
		{Kind: ExitPullback, Text: fmt.Sprintf("回撤扩大超过%s%% => 停止追加并减仓", retreat.String())},
		{Kind: ExitRiskRed, Text: "风险灯转红 => 停止新增"},
	}
}
