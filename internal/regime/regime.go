// Package regime 根据市场聚合数据给出市场模式与风险灯。
package regime

import (
	"strings"

	"sealwatch/internal/snapshot"
)

type Light string

const (
	Green  Light = "GREEN"
	Yellow Light = "YELLOW"
	Red    Light = "RED"
)

// Severity orders lights from safest (0) to most severe.
func (l Light) Severity() int {
	switch l {
	case Green:
		return 0
	case Yellow:
		return 1
	default:
		return 2
	}
}

func ParseLight(s string) (Light, bool) {
	switch Light(strings.ToUpper(strings.TrimSpace(s))) {
	case Green:
		return Green, true
	case Yellow:
		return Yellow, true
	case Red:
		return Red, true
	}
	return "", false
}

type Mode string

const (
	Strong     Mode = "STRONG"
	Normal     Mode = "NORMAL"
	Divergence Mode = "DIVERGENCE"
	Chaos      Mode = "CHAOS"
	Weak       Mode = "WEAK"
)

// Severity 越大越保守；多个模式同时命中时取最保守的一个。
func (m Mode) Severity() int {
	switch m {
	case Strong:
		return 0
	case Normal:
		return 1
	case Divergence:
		return 2
	case Chaos:
		return 3
	default:
		return 4
	}
}

type Reason struct {
	Feature string  `json:"feature"`
	Value   float64 `json:"value"`
	Rule    string  `json:"rule"`
}

// Assessment 是一次 tick 的市场判定结果，附带每个结论的数值依据。
type Assessment struct {
	Mode         Mode     `json:"mode"`
	Light        Light    `json:"risk_light"`
	ModeReasons  []Reason `json:"mode_reasons"`
	LightReasons []Reason `json:"light_reasons"`
}

// Features exposes the assessment to trigger rules under the "regime." namespace.
func (a Assessment) Features() snapshot.Features {
	return snapshot.Features{
		"risk_light": snapshot.String(string(a.Light)),
		"mode":       snapshot.String(string(a.Mode)),
	}
}

// Thresholds 全部来自配置；比较均为严格大于/小于。
type Thresholds struct {
	RedLimitDownMax    float64 `toml:"red_limit_down_max" json:"red_limit_down_max"`
	RedBombRate        float64 `toml:"red_bomb_rate" json:"red_bomb_rate"`
	YellowBombRate     float64 `toml:"yellow_bomb_rate" json:"yellow_bomb_rate"`
	YellowLimitUpMin   float64 `toml:"yellow_limit_up_min" json:"yellow_limit_up_min"`
	YellowLimitDownMax float64 `toml:"yellow_limit_down_max" json:"yellow_limit_down_max"`
	// EscalateMode 为 true 时，DIVERGENCE/CHAOS/WEAK 至少给出 YELLOW。
	EscalateMode bool `toml:"escalate_mode" json:"escalate_mode"`

	StrongLimitUpMin   float64 `toml:"strong_limit_up_min" json:"strong_limit_up_min"`
	StrongBombRateMax  float64 `toml:"strong_bomb_rate_max" json:"strong_bomb_rate_max"`
	StrongLimitDownMax float64 `toml:"strong_limit_down_max" json:"strong_limit_down_max"`
	StrongIndexRetMin  float64 `toml:"strong_index_ret_min" json:"strong_index_ret_min"`

	WeakLimitUpBelow   float64 `toml:"weak_limit_up_below" json:"weak_limit_up_below"`
	WeakLimitDownAbove float64 `toml:"weak_limit_down_above" json:"weak_limit_down_above"`
	WeakBombRateAbove  float64 `toml:"weak_bomb_rate_above" json:"weak_bomb_rate_above"`
	WeakIndexRetBelow  float64 `toml:"weak_index_ret_below" json:"weak_index_ret_below"`

	ChaosBombRateAbove  float64 `toml:"chaos_bomb_rate_above" json:"chaos_bomb_rate_above"`
	ChaosLimitDownAbove float64 `toml:"chaos_limit_down_above" json:"chaos_limit_down_above"`

	DivergenceBombRateAbove  float64 `toml:"divergence_bomb_rate_above" json:"divergence_bomb_rate_above"`
	DivergenceLimitDownAbove float64 `toml:"divergence_limit_down_above" json:"divergence_limit_down_above"`
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		RedLimitDownMax:    35,
		RedBombRate:        0.40,
		YellowBombRate:     0.30,
		YellowLimitUpMin:   25,
		YellowLimitDownMax: 15,
		EscalateMode:       true,

		StrongLimitUpMin:   35,
		StrongBombRateMax:  0.25,
		StrongLimitDownMax: 10,
		StrongIndexRetMin:  0,

		WeakLimitUpBelow:   20,
		WeakLimitDownAbove: 25,
		WeakBombRateAbove:  0.40,
		WeakIndexRetBelow:  -0.015,

		ChaosBombRateAbove:  0.35,
		ChaosLimitDownAbove: 10,

		DivergenceBombRateAbove:  0.28,
		DivergenceLimitDownAbove: 15,
	}
}
