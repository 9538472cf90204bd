package regime

import (
	"strings"

	"sealwatch/internal/snapshot"
)

type Classifier struct {
	th Thresholds
}

func NewClassifier(th Thresholds) *Classifier {
	return &Classifier{th: th}
}

func (c *Classifier) Thresholds() Thresholds {
	return c.th
}

// Classify is a pure function of the market aggregates.
func (c *Classifier) Classify(market snapshot.Features) Assessment {
	return Classify(c.th, market)
}

type aggregates struct {
	limitUp, limitDown, bomb, indexRet float64
	hasIndex                           bool
	missing                            []string
}

func readAggregates(m snapshot.Features) aggregates {
	var agg aggregates
	var ok bool
	if agg.limitUp, ok = m.Num(snapshot.KeyLimitUpCount); !ok {
		agg.missing = append(agg.missing, snapshot.KeyLimitUpCount)
	}
	if agg.limitDown, ok = m.Num(snapshot.KeyLimitDownCount); !ok {
		agg.missing = append(agg.missing, snapshot.KeyLimitDownCount)
	}
	if agg.bomb, ok = m.Num(snapshot.KeyBombRate); !ok {
		agg.missing = append(agg.missing, snapshot.KeyBombRate)
	}
	agg.indexRet, agg.hasIndex = m.Num(snapshot.KeyIndexRet15m)
	return agg
}

func Classify(th Thresholds, market snapshot.Features) Assessment {
	agg := readAggregates(market)
	if len(agg.missing) > 0 {
		reasons := make([]Reason, 0, len(agg.missing))
		for _, key := range agg.missing {
			reasons = append(reasons, Reason{Feature: "market." + key, Value: 0, Rule: "market_aggregate_missing"})
		}
		return Assessment{
			Mode:         Weak,
			Light:        Red,
			ModeReasons:  reasons,
			LightReasons: append([]Reason(nil), reasons...),
		}
	}
	mode, modeReasons := classifyMode(th, agg)
	light, lightReasons := classifyLight(th, agg, mode)
	return Assessment{Mode: mode, Light: light, ModeReasons: modeReasons, LightReasons: lightReasons}
}

func classifyMode(th Thresholds, agg aggregates) (Mode, []Reason) {
	var weak []Reason
	if agg.limitUp < th.WeakLimitUpBelow {
		weak = append(weak, Reason{"market.limit_up_count", agg.limitUp, "weak_limit_up_below"})
	}
	if agg.limitDown > th.WeakLimitDownAbove {
		weak = append(weak, Reason{"market.limit_down_count", agg.limitDown, "weak_limit_down_above"})
	}
	if agg.bomb > th.WeakBombRateAbove {
		weak = append(weak, Reason{"market.bomb_rate", agg.bomb, "weak_bomb_rate_above"})
	}
	if agg.hasIndex && agg.indexRet < th.WeakIndexRetBelow {
		weak = append(weak, Reason{"market.index_ret_15m", agg.indexRet, "weak_index_ret_below"})
	}
	if len(weak) > 0 {
		return Weak, weak
	}
	if agg.bomb > th.ChaosBombRateAbove && agg.limitDown > th.ChaosLimitDownAbove {
		return Chaos, []Reason{
			{"market.bomb_rate", agg.bomb, "chaos_bomb_rate_above"},
			{"market.limit_down_count", agg.limitDown, "chaos_limit_down_above"},
		}
	}
	var div []Reason
	if agg.bomb > th.DivergenceBombRateAbove {
		div = append(div, Reason{"market.bomb_rate", agg.bomb, "divergence_bomb_rate_above"})
	}
	if agg.limitDown > th.DivergenceLimitDownAbove {
		div = append(div, Reason{"market.limit_down_count", agg.limitDown, "divergence_limit_down_above"})
	}
	if len(div) > 0 {
		return Divergence, div
	}
	// 指数收益缺失时不给 STRONG。
	if agg.limitUp >= th.StrongLimitUpMin && agg.bomb <= th.StrongBombRateMax &&
		agg.limitDown <= th.StrongLimitDownMax && agg.hasIndex && agg.indexRet >= th.StrongIndexRetMin {
		return Strong, []Reason{
			{"market.limit_up_count", agg.limitUp, "strong_limit_up_min"},
			{"market.bomb_rate", agg.bomb, "strong_bomb_rate_max"},
			{"market.limit_down_count", agg.limitDown, "strong_limit_down_max"},
			{"market.index_ret_15m", agg.indexRet, "strong_index_ret_min"},
		}
	}
	return Normal, []Reason{
		{"market.limit_up_count", agg.limitUp, "no_mode_rule_matched"},
		{"market.bomb_rate", agg.bomb, "no_mode_rule_matched"},
	}
}

func classifyLight(th Thresholds, agg aggregates, mode Mode) (Light, []Reason) {
	var red []Reason
	if agg.limitDown > th.RedLimitDownMax {
		red = append(red, Reason{"market.limit_down_count", agg.limitDown, "red_limit_down_max"})
	}
	if agg.bomb > th.RedBombRate {
		red = append(red, Reason{"market.bomb_rate", agg.bomb, "red_bomb_rate"})
	}
	if len(red) > 0 {
		return Red, red
	}
	var yellow []Reason
	if agg.bomb > th.YellowBombRate {
		yellow = append(yellow, Reason{"market.bomb_rate", agg.bomb, "yellow_bomb_rate"})
	}
	if agg.limitUp < th.YellowLimitUpMin {
		yellow = append(yellow, Reason{"market.limit_up_count", agg.limitUp, "yellow_limit_up_min"})
	}
	if agg.limitDown > th.YellowLimitDownMax {
		yellow = append(yellow, Reason{"market.limit_down_count", agg.limitDown, "yellow_limit_down_max"})
	}
	if th.EscalateMode && mode.Severity() >= Divergence.Severity() {
		yellow = append(yellow, Reason{"regime.mode", float64(mode.Severity()), "mode_" + strings.ToLower(string(mode))})
	}
	if len(yellow) > 0 {
		return Yellow, yellow
	}
	return Green, []Reason{
		{"market.bomb_rate", agg.bomb, "green_within_bounds"},
		{"market.limit_up_count", agg.limitUp, "green_within_bounds"},
		{"market.limit_down_count", agg.limitDown, "green_within_bounds"},
	}
}
