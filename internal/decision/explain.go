package decision

import (
	"fmt"
	"strings"
	"time"

	"sealwatch/internal/plan"
	"sealwatch/internal/regime"
	"sealwatch/internal/scoring"
	"sealwatch/internal/snapshot"
	"sealwatch/internal/strategy"
	"sealwatch/internal/trigger"
)

const (
	SourceEngine = "engine"
	SourceAgent  = "agent"
)

// Evaluation 汇总单个 (symbol, strategy) 的评估中间结果，Assemble 据此生成记录。
type Evaluation struct {
	Snapshot *snapshot.FeatureSnapshot
	Symbol   string
	Name     string
	Profile  *strategy.Profile
	Regime   regime.Assessment
	Score    scoring.CandidateScore
	Triggers []trigger.Result
	Verdict  Verdict
}

// Assemble 生成解释记录。记录只依赖输入内容，同一快照同一 profile 输出逐字节一致。
func Assemble(ev Evaluation) Record {
	var spec strategy.PlanSpec
	var strategyID, profileVersion string
	var alertScore float64
	if ev.Profile != nil {
		spec = ev.Profile.Plan
		strategyID = ev.Profile.ID
		profileVersion = ev.Profile.Version
		alertScore = ev.Profile.Gate.AlertScore
	}
	action := ev.Verdict.Action
	p := plan.Build(spec, ev.Regime.Light, string(action))

	rec := Record{
		Agent:          AgentName,
		Version:        EngineVersion,
		Symbol:         ev.Symbol,
		Name:           ev.Name,
		StrategyID:     strategyID,
		ProfileVersion: profileVersion,
		Action:         action,
		Confidence:     ev.Verdict.Confidence,
		Triggers:       nonNilResults(ev.Triggers),
		Plan:           p,
		Risks:          append([]string{}, ev.Verdict.Risks...),
		Warnings:       append([]string{}, ev.Verdict.Warnings...),
		Regime:         ev.Regime,
		Score:          ev.Score,
		Source:         SourceEngine,
	}
	if ev.Snapshot != nil {
		rec.SnapshotID = ev.Snapshot.ID
		if !ev.Snapshot.AsOf.IsZero() {
			rec.TS = ev.Snapshot.AsOf.In(snapshot.Location).Format(time.RFC3339)
		}
		for _, issue := range ev.Snapshot.Issues {
			rec.Warnings = append(rec.Warnings, "snapshot: "+issue)
		}
	}
	rec.OneLiner = OneLiner(rec)
	rec.SnapshotHint = Hint(rec, alertScore, ev.Snapshot)
	return rec
}

// OneLiner 形如 "观察 | 得分 39.7 | 仓位 10.0% | 条件 6/7 通过"。
func OneLiner(r Record) string {
	c := trigger.Count(r.Triggers)
	return fmt.Sprintf("%s | 得分 %.1f | 仓位 %.1f%% | 条件 %d/%d 通过",
		r.Action.Label(), r.Score.Total, r.Plan.MaxSinglePosition*100, c.Pass, len(r.Triggers))
}

// Hint 决定是否建议落地快照：ALLOW 总是；WATCH 且得分不低于 alertScore。
func Hint(r Record, alertScore float64, snap *snapshot.FeatureSnapshot) SnapshotHint {
	h := SnapshotHint{SnapshotTags: []string{strings.ToLower(string(r.Action))}}
	switch r.Action {
	case Allow:
		h.ShouldCreateSnapshot = true
	case Watch:
		h.ShouldCreateSnapshot = alertScore > 0 && r.Score.Total >= alertScore
	}
	if r.StrategyID != "" {
		h.SnapshotTags = append(h.SnapshotTags, "strategy:"+r.StrategyID)
	}
	if r.Regime.Light != "" {
		h.SnapshotTags = append(h.SnapshotTags, "light:"+string(r.Regime.Light))
	}
	if snap != nil && snap.Quality.Degraded {
		h.SnapshotTags = append(h.SnapshotTags, "degraded")
	}
	if snap != nil {
		if _, ok := snap.Candidate(r.Symbol); !ok {
			h.SnapshotTags = append(h.SnapshotTags, "unknown_symbol")
		}
	}
	return h
}

func nonNilResults(in []trigger.Result) []trigger.Result {
	if in == nil {
		return []trigger.Result{}
	}
	return append([]trigger.Result{}, in...)
}
