// Package scoring 计算候选股综合得分。
//
// 得分 = 分组加权（市场环境/个股强度/封板质量）× 风险灯系数 − 风险扣分。
// 每个分项的归一化区间都来自 profile，缺失特征以中性值代入并记录。
package scoring

import (
	"math"
	"sort"

	"sealwatch/internal/regime"
	"sealwatch/internal/snapshot"
	"sealwatch/internal/strategy"
)

const neutralScore = 50.0

type PenaltyItem struct {
	Reason string  `json:"reason"`
	Points float64 `json:"points"`
}

type CandidateScore struct {
	Symbol       string        `json:"symbol"`
	Name         string        `json:"name,omitempty"`
	StrategyID   string        `json:"strategy_id"`
	Total        float64       `json:"total_score"`
	Market       float64       `json:"market_score"`
	Stock        float64       `json:"stock_score"`
	Quality      float64       `json:"quality_score"`
	Raw          float64       `json:"raw_score"`
	LightFactor  float64       `json:"light_factor"`
	RiskPenalty  float64       `json:"risk_penalty"`
	PenaltyItems []PenaltyItem `json:"penalty_items,omitempty"`
	Defaulted    []string      `json:"defaulted_features,omitempty"`
	Rank         int           `json:"rank"`
}

// Input 是单个候选打分所需的全部输入；不会读取其它候选。
type Input struct {
	Symbol   string
	Name     string
	Features snapshot.Getter
	Regime   regime.Assessment
	Degraded bool
}

// Score is deterministic for identical inputs.
func Score(p *strategy.Profile, in Input) CandidateScore {
	out := CandidateScore{Symbol: in.Symbol, Name: in.Name}
	if p == nil {
		return out
	}
	out.StrategyID = p.ID

	type acc struct{ sum, weight float64 }
	groups := map[string]*acc{}
	for _, c := range p.Scoring.Components {
		s, defaulted := componentScore(c, in.Features)
		if defaulted {
			out.Defaulted = append(out.Defaulted, c.Feature)
		}
		g := groups[c.Group]
		if g == nil {
			g = &acc{}
			groups[c.Group] = g
		}
		g.sum += s * c.Weight
		g.weight += c.Weight
	}
	groupScore := func(name string) (float64, bool) {
		g := groups[name]
		if g == nil || g.weight <= 0 {
			return 0, false
		}
		return g.sum / g.weight, true
	}

	var raw, wsum float64
	for _, name := range []string{"market", "stock", "quality"} {
		s, ok := groupScore(name)
		if !ok {
			continue
		}
		switch name {
		case "market":
			out.Market = round2(s)
		case "stock":
			out.Stock = round2(s)
		case "quality":
			out.Quality = round2(s)
		}
		w := p.Scoring.Weights[name]
		raw += s * w
		wsum += w
	}
	if wsum > 0 {
		raw /= wsum
	}
	out.Raw = round2(raw)
	out.LightFactor = p.LightFactor(in.Regime.Light)
	out.PenaltyItems, out.RiskPenalty = riskPenalty(p.Scoring.Penalty, in)
	out.Total = round2(math.Max(0, raw*out.LightFactor-out.RiskPenalty))
	return out
}

func componentScore(c strategy.Component, features snapshot.Getter) (float64, bool) {
	var v float64
	var ok bool
	if features != nil {
		if val, present := features.Get(c.Feature); present {
			v, ok = val.Float()
		}
	}
	defaulted := false
	if !ok {
		if c.Default == nil {
			return neutralScore, true
		}
		v, defaulted = *c.Default, true
	}
	if len(c.Buckets) > 0 {
		return bucketValue(c.Buckets, v), defaulted
	}
	lo, hi := *c.Min, *c.Max
	x := (v - lo) / (hi - lo)
	x = math.Max(0, math.Min(1, x))
	if c.Invert {
		x = 1 - x
	}
	return x * 100, defaulted
}

// lo <= v < hi；未命中返回 0。
func bucketValue(buckets [][]float64, v float64) float64 {
	for _, b := range buckets {
		if len(b) == 3 && v >= b[0] && v < b[1] {
			return b[2]
		}
	}
	return 0
}

func riskPenalty(cfg strategy.Penalty, in Input) ([]PenaltyItem, float64) {
	var items []PenaltyItem
	if in.Degraded && cfg.Degraded > 0 {
		items = append(items, PenaltyItem{Reason: "data_degraded", Points: cfg.Degraded})
	}
	if pts := cfg.Light[string(in.Regime.Light)]; pts > 0 {
		items = append(items, PenaltyItem{Reason: "risk_light_" + string(in.Regime.Light), Points: pts})
	}
	if len(cfg.AmountTiers) > 0 {
		amount, ok := 0.0, false
		if in.Features != nil {
			if val, present := in.Features.Get(cfg.AmountFeature); present {
				amount, ok = val.Float()
			}
		}
		if ok {
			if pts := bucketValue(cfg.AmountTiers, amount); pts > 0 {
				items = append(items, PenaltyItem{Reason: "low_amount", Points: pts})
			}
		} else {
			worst := 0.0
			for _, t := range cfg.AmountTiers {
				if len(t) == 3 && t[2] > worst {
					worst = t[2]
				}
			}
			if worst > 0 {
				items = append(items, PenaltyItem{Reason: "amount_missing", Points: worst})
			}
		}
	}
	total := 0.0
	for _, it := range items {
		total += it.Points
	}
	if cfg.Cap > 0 && total > cfg.Cap {
		total = cfg.Cap
	}
	return items, round2(total)
}

// Rank 按总分降序排名，同分按代码升序，结果稳定。
func Rank(scores []CandidateScore) []CandidateScore {
	out := append([]CandidateScore(nil), scores...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Total != out[j].Total {
			return out[i].Total > out[j].Total
		}
		return out[i].Symbol < out[j].Symbol
	})
	for i := range out {
		out[i].Rank = i + 1
	}
	return out
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
