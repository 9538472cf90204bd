package engine

import (
	"sort"
	"time"

	"sealwatch/internal/decision"
	"sealwatch/internal/regime"
	"sealwatch/internal/scoring"
	"sealwatch/internal/snapshot"
	"sealwatch/internal/strategy"
)

// TickResult 是一个 tick 的全部输出。Decisions 按策略 id、名次排序。
type TickResult struct {
	TickID         string                              `json:"tick_id"`
	SnapshotID     string                              `json:"snapshot_id"`
	AsOf           time.Time                           `json:"as_of"`
	Regime         regime.Assessment                   `json:"regime"`
	Quality        snapshot.DataQuality                `json:"data_quality"`
	ProfileVersion int64                               `json:"profile_set_version"`
	Strategies     []string                            `json:"strategies"`
	Scores         map[string][]scoring.CandidateScore `json:"scores"`
	Decisions      []decision.Record                   `json:"decisions"`
	Elapsed        time.Duration                       `json:"elapsed_ns"`

	Snapshot *snapshot.FeatureSnapshot `json:"-"`
}

func newTickResult(tickID string, snap *snapshot.FeatureSnapshot, assess regime.Assessment, version int64, profiles []*strategy.Profile, recs []decision.Record) *TickResult {
	res := &TickResult{
		TickID:         tickID,
		SnapshotID:     snap.ID,
		AsOf:           snap.AsOf,
		Regime:         assess,
		Quality:        snap.Quality,
		ProfileVersion: version,
		Scores:         make(map[string][]scoring.CandidateScore, len(profiles)),
		Snapshot:       snap,
	}
	byStrategy := make(map[string][]decision.Record, len(profiles))
	for _, r := range recs {
		byStrategy[r.StrategyID] = append(byStrategy[r.StrategyID], r)
	}
	for _, p := range profiles {
		res.Strategies = append(res.Strategies, p.ID)
		group := byStrategy[p.ID]
		scores := make([]scoring.CandidateScore, 0, len(group))
		for _, r := range group {
			scores = append(scores, r.Score)
		}
		ranked := scoring.Rank(scores)
		ranks := make(map[string]int, len(ranked))
		for _, s := range ranked {
			ranks[s.Symbol] = s.Rank
		}
		for i := range group {
			group[i].Score.Rank = ranks[group[i].Symbol]
		}
		sort.SliceStable(group, func(i, j int) bool { return group[i].Score.Rank < group[j].Score.Rank })
		res.Scores[p.ID] = ranked
		res.Decisions = append(res.Decisions, group...)
	}
	return res
}

// Decision 查找指定代码在某策略下的记录；strategyID 为空时返回第一个匹配。
func (t *TickResult) Decision(symbol, strategyID string) (decision.Record, bool) {
	if t == nil {
		return decision.Record{}, false
	}
	sym := snapshot.NormalizeSymbol(symbol)
	for _, r := range t.Decisions {
		if r.Symbol == sym && (strategyID == "" || r.StrategyID == strategyID) {
			return r, true
		}
	}
	return decision.Record{}, false
}

func (t *TickResult) Counts() map[decision.Action]int {
	out := map[decision.Action]int{decision.Allow: 0, decision.Watch: 0, decision.Block: 0}
	if t == nil {
		return out
	}
	for _, r := range t.Decisions {
		out[r.Action]++
	}
	return out
}

// Top 返回某策略排名前 n 的打分。
func (t *TickResult) Top(strategyID string, n int) []scoring.CandidateScore {
	if t == nil {
		return nil
	}
	scores := t.Scores[strategyID]
	if n <= 0 || n >= len(scores) {
		return scores
	}
	return scores[:n]
}

// RankedSymbols 返回所有策略中出现的代码，按各策略名次交错排列且去重。
func (t *TickResult) RankedSymbols() []string {
	if t == nil {
		return nil
	}
	seen := make(map[string]bool)
	var out []string
	for depth := 0; ; depth++ {
		added := false
		for _, id := range t.Strategies {
			scores := t.Scores[id]
			if depth >= len(scores) {
				continue
			}
			added = true
			sym := scores[depth].Symbol
			if !seen[sym] {
				seen[sym] = true
				out = append(out, sym)
			}
		}
		if !added {
			return out
		}
	}
}
