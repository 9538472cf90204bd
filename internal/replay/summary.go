package replay

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"sealwatch/internal/decision"
	"sealwatch/internal/store/alertstore"
	"sealwatch/internal/trigger"
)

type StrategyStats struct {
	StrategyID    string   `json:"strategy_id"`
	Alerts        int      `json:"alerts"`
	Allow         int      `json:"allow"`
	Watch         int      `json:"watch"`
	Success       int      `json:"success"`
	Fail          int      `json:"fail"`
	Skip          int      `json:"skip"`
	Unlabeled     int      `json:"unlabeled"`
	WinRate       float64  `json:"win_rate"`
	AvgConfidence float64  `json:"avg_confidence"`
	TopSymbols    []string `json:"top_symbols"`
}

type DailySummary struct {
	Date       string          `json:"date"`
	Snapshots  int             `json:"snapshots"`
	Lights     map[string]int  `json:"lights"`
	Alerts     int             `json:"alerts"`
	Strategies []StrategyStats `json:"strategies"`
}

// DailySummary 汇总某个交易日的冻结快照与提醒。
func (s *Service) DailySummary(ctx context.Context, day time.Time) (DailySummary, error) {
	from, to := dayRange(day)
	out := DailySummary{Date: from.Format("2006-01-02"), Lights: map[string]int{}}
	metas, err := s.snapshots.List(ctx, from, to)
	if err != nil {
		return out, fmt.Errorf("list snapshots: %w", err)
	}
	out.Snapshots = len(metas)
	for _, m := range metas {
		out.Lights[m.Light]++
	}
	alerts, err := s.alerts.Since(ctx, from, to)
	if err != nil {
		return out, fmt.Errorf("list alerts: %w", err)
	}
	out.Alerts = len(alerts)
	out.Strategies = ComputeStrategyStats(alerts)
	return out, nil
}

// ComputeStrategyStats 按策略聚合提醒；胜率 = success / (success + fail)，未标注不计入。
func ComputeStrategyStats(alerts []alertstore.Alert) []StrategyStats {
	type acc struct {
		stats   StrategyStats
		confSum float64
		symbols map[string]int
	}
	groups := make(map[string]*acc)
	for _, a := range alerts {
		g, ok := groups[a.StrategyID]
		if !ok {
			g = &acc{stats: StrategyStats{StrategyID: a.StrategyID}, symbols: map[string]int{}}
			groups[a.StrategyID] = g
		}
		g.stats.Alerts++
		g.confSum += a.Confidence
		g.symbols[a.Symbol]++
		switch a.Action {
		case decision.Allow:
			g.stats.Allow++
		case decision.Watch:
			g.stats.Watch++
		}
		switch a.Label {
		case alertstore.LabelSuccess:
			g.stats.Success++
		case alertstore.LabelFail:
			g.stats.Fail++
		case alertstore.LabelSkip:
			g.stats.Skip++
		default:
			g.stats.Unlabeled++
		}
	}
	out := make([]StrategyStats, 0, len(groups))
	for _, g := range groups {
		st := g.stats
		st.AvgConfidence = round4(g.confSum / float64(st.Alerts))
		if judged := st.Success + st.Fail; judged > 0 {
			st.WinRate = round4(float64(st.Success) / float64(judged))
		}
		st.TopSymbols = topKeys(g.symbols, 5)
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StrategyID < out[j].StrategyID })
	return out
}

type FailurePattern struct {
	Rule       string         `json:"rule"`
	Status     trigger.Status `json:"status"`
	Count      int            `json:"count"`
	Share      float64        `json:"share"`
	Strategies []string       `json:"strategies"`
	Examples   []string       `json:"examples"`
}

const maxExamples = 3

// FailurePatterns 统计最近 days 天内被标注为 fail 的提醒中最常见的未通过条件。
// Share 是命中该条件的失败提醒占全部失败提醒的比例。
func (s *Service) FailurePatterns(ctx context.Context, days int, now time.Time) ([]FailurePattern, error) {
	if days <= 0 {
		days = 7
	}
	_, to := dayRange(now)
	alerts, err := s.alerts.Since(ctx, to.AddDate(0, 0, -days), to)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	return ComputeFailurePatterns(alerts), nil
}

func ComputeFailurePatterns(alerts []alertstore.Alert) []FailurePattern {
	type acc struct {
		p          FailurePattern
		strategies map[string]bool
	}
	groups := make(map[string]*acc)
	failed := 0
	for _, a := range alerts {
		if a.Label != alertstore.LabelFail {
			continue
		}
		failed++
		for _, r := range a.Record.Triggers {
			if r.Status == trigger.Pass {
				continue
			}
			key := r.Name + "|" + string(r.Status)
			g, ok := groups[key]
			if !ok {
				g = &acc{p: FailurePattern{Rule: r.Name, Status: r.Status}, strategies: map[string]bool{}}
				groups[key] = g
			}
			g.p.Count++
			g.strategies[a.StrategyID] = true
			if len(g.p.Examples) < maxExamples {
				g.p.Examples = append(g.p.Examples, a.ID)
			}
		}
	}
	out := make([]FailurePattern, 0, len(groups))
	for _, g := range groups {
		p := g.p
		p.Share = round4(float64(p.Count) / float64(failed))
		for id := range g.strategies {
			p.Strategies = append(p.Strategies, id)
		}
		sort.Strings(p.Strategies)
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		if out[i].Rule != out[j].Rule {
			return out[i].Rule < out[j].Rule
		}
		return out[i].Status < out[j].Status
	})
	return out
}

func topKeys(counts map[string]int, n int) []string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if counts[keys[i]] != counts[keys[j]] {
			return counts[keys[i]] > counts[keys[j]]
		}
		return keys[i] < keys[j]
	})
	if len(keys) > n {
		keys = keys[:n]
	}
	return keys
}

func round4(v float64) float64 {
	return decimal.NewFromFloat(v).Round(4).InexactFloat64()
}
