// Package strategy 定义策略 Profile（规则表、打分权重、仓位表）及其加载与热更新。
package strategy

import (
	"sort"
	"strings"

	"sealwatch/internal/regime"
)

// Op 是规则比较符。
type Op string

const (
	OpGT    Op = "gt"
	OpGTE   Op = "gte"
	OpLT    Op = "lt"
	OpLTE   Op = "lte"
	OpEQ    Op = "eq"
	OpNE    Op = "ne"
	OpIn    Op = "in"
	OpNotIn Op = "not_in"
	OpTrue  Op = "true"
	OpFalse Op = "false"
)

func (o Op) Symbol() string {
	switch o {
	case OpGT:
		return ">"
	case OpGTE:
		return ">="
	case OpLT:
		return "<"
	case OpLTE:
		return "<="
	case OpEQ:
		return "=="
	case OpNE:
		return "!="
	case OpIn:
		return "in"
	case OpNotIn:
		return "not in"
	case OpTrue:
		return "is true"
	case OpFalse:
		return "is false"
	}
	return string(o)
}

// Condition 是规则的条件节点：叶子为单个比较，All 非空时为子条件的合取。
type Condition struct {
	Feature string      `yaml:"feature,omitempty" json:"feature,omitempty"`
	Op      Op          `yaml:"op,omitempty" json:"op,omitempty"`
	Value   any         `yaml:"value,omitempty" json:"value,omitempty"`
	All     []Condition `yaml:"all,omitempty" json:"all,omitempty"`
}

type Rule struct {
	Name        string `yaml:"name" json:"name" validate:"required"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	Required    bool   `yaml:"required" json:"required"`
	Condition   `yaml:",inline"`
}

// Component 描述一个参与打分的特征及其归一化方式（线性区间或分段表）。
type Component struct {
	Feature string  `yaml:"feature" json:"feature" validate:"required"`
	Group   string  `yaml:"group" json:"group" validate:"required,oneof=market stock quality"`
	Weight  float64 `yaml:"weight" json:"weight" default:"1" validate:"gt=0"`
	// 线性归一化区间 [Min, Max]，Invert 表示越小越好。
	Min    *float64 `yaml:"min,omitempty" json:"min,omitempty"`
	Max    *float64 `yaml:"max,omitempty" json:"max,omitempty"`
	Invert bool     `yaml:"invert,omitempty" json:"invert,omitempty"`
	// Buckets 每项为 [lo, hi, score]，lo <= v < hi 命中。
	Buckets [][]float64 `yaml:"buckets,omitempty" json:"buckets,omitempty"`
	// Default 是特征缺失时代入的中性原始值；为空则直接取中性分 50。
	Default *float64 `yaml:"default,omitempty" json:"default,omitempty"`
}

type Penalty struct {
	Degraded      float64            `yaml:"degraded" json:"degraded" default:"15"`
	Light         map[string]float64 `yaml:"light" json:"light" default:"{\"YELLOW\":10,\"RED\":30}"`
	AmountFeature string             `yaml:"amount_feature" json:"amount_feature" default:"amt"`
	AmountTiers   [][]float64        `yaml:"amount_tiers" json:"amount_tiers" default:"[[0,50000000,20],[50000000,80000000,10]]"`
	Cap           float64            `yaml:"cap" json:"cap" default:"30" validate:"gte=0"`
}

type Scoring struct {
	Weights     map[string]float64 `yaml:"weights" json:"weights" validate:"required,min=1"`
	LightFactor map[string]float64 `yaml:"light_factor" json:"light_factor" default:"{\"GREEN\":1,\"YELLOW\":0.75,\"RED\":0.5}"`
	Components  []Component        `yaml:"components" json:"components" validate:"required,min=1,dive"`
	Penalty     Penalty            `yaml:"penalty" json:"penalty"`
}

type PlanSpec struct {
	Ceilings      map[string]float64 `yaml:"ceilings" json:"ceilings" validate:"required"`
	YellowScale   float64            `yaml:"yellow_scale" json:"yellow_scale" default:"0.7" validate:"gt=0,lte=1"`
	FailWindowSec int                `yaml:"fail_window_sec" json:"fail_window_sec" default:"30" validate:"gt=0"`
	// PullbackRetreat 是回撤退出规则使用的阈值。
	PullbackRetreat float64  `yaml:"pullback_retreat" json:"pullback_retreat" default:"0.18" validate:"gt=0,lt=1"`
	EntryNote       string   `yaml:"entry_note" json:"entry_note"`
	ExtraExitRules  []string `yaml:"extra_exit_rules" json:"extra_exit_rules"`
}

type GateSpec struct {
	// MinAllowScore 低于该综合分时强制 WATCH；0 表示不限制。
	MinAllowScore float64 `yaml:"min_allow_score" json:"min_allow_score" validate:"gte=0,lte=100"`
	// AllowOptionalFail 为 false 时，非必需规则 FAIL/MISSING 也会阻止 ALLOW。
	AllowOptionalFail bool `yaml:"allow_optional_fail" json:"allow_optional_fail"`
	// AlertScore WATCH 决策达到该分数才提示生成快照。
	AlertScore float64 `yaml:"alert_score" json:"alert_score" default:"60"`
}

type Profile struct {
	ID          string   `yaml:"-" json:"id"`
	Name        string   `yaml:"name" json:"name" validate:"required"`
	Version     string   `yaml:"version" json:"version" default:"v1"`
	Description string   `yaml:"description,omitempty" json:"description,omitempty"`
	Disabled    bool     `yaml:"disabled" json:"disabled"`
	Rules       []Rule   `yaml:"rules" json:"rules" validate:"required,min=1,dive"`
	Scoring     Scoring  `yaml:"scoring" json:"scoring"`
	Plan        PlanSpec `yaml:"plan" json:"plan"`
	Gate        GateSpec `yaml:"gate" json:"gate"`

	compiled []CompiledRule
}

// CompiledRules 返回校验后的规则；未校验的 Profile 返回 nil。
func (p *Profile) CompiledRules() []CompiledRule {
	if p == nil {
		return nil
	}
	return p.compiled
}

func (p *Profile) RequiredCount() int {
	n := 0
	for _, r := range p.compiled {
		if r.Required {
			n++
		}
	}
	return n
}

// Ceiling 返回指定风险灯的仓位上限原始值。
func (p *Profile) Ceiling(light regime.Light) (float64, bool) {
	if p == nil {
		return 0, false
	}
	v, ok := p.Plan.Ceilings[string(light)]
	return v, ok
}

func (p *Profile) LightFactor(light regime.Light) float64 {
	if v, ok := p.Scoring.LightFactor[string(light)]; ok {
		return v
	}
	return 1
}

// Set 是某一时刻生效的全部 Profile，只读。
type Set struct {
	Version  int64
	Profiles map[string]*Profile
	// Rejected 记录本次加载被拒绝的 profile 及原因（仍沿用上一版本时同样记录）。
	Rejected map[string]string
}

func (s Set) Get(id string) (*Profile, bool) {
	p, ok := s.Profiles[normalizeID(id)]
	return p, ok
}

// Active returns enabled profiles in id order. When ids is non-empty only
// those ids are considered.
func (s Set) Active(ids []string) []*Profile {
	var out []*Profile
	if len(ids) > 0 {
		seen := make(map[string]bool)
		for _, id := range ids {
			id = normalizeID(id)
			if seen[id] {
				continue
			}
			seen[id] = true
			if p, ok := s.Profiles[id]; ok && !p.Disabled {
				out = append(out, p)
			}
		}
	} else {
		for _, p := range s.Profiles {
			if !p.Disabled {
				out = append(out, p)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s Set) IDs() []string {
	ids := make([]string, 0, len(s.Profiles))
	for id := range s.Profiles {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func normalizeID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}
