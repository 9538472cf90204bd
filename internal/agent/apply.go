package agent

import (
	"fmt"

	"sealwatch/internal/decision"
	"sealwatch/internal/pkg/text"
	"sealwatch/internal/plan"
)

// Apply 把代理输出合并到引擎记录上，返回新记录；原记录不变。
// 动作只能保持或变得更保守；升级、或指向其它代码/策略的输出一律拒绝。
// 合并后的 ALLOW 仍须满足 allowFloor，否则降为 WATCH；allowFloor<=0 时取闸门默认值。
func Apply(rec decision.Record, out Output, allowFloor float64) (decision.Record, error) {
	if allowFloor <= 0 {
		allowFloor = decision.DefaultGateConfig().AllowFloor
	}
	if out.Symbol != "" && out.Symbol != rec.Symbol {
		return rec, fmt.Errorf("%w: symbol %s, expected %s", ErrMismatch, out.Symbol, rec.Symbol)
	}
	if out.StrategyID != "" && out.StrategyID != rec.StrategyID {
		return rec, fmt.Errorf("%w: strategy %s, expected %s", ErrMismatch, out.StrategyID, rec.StrategyID)
	}
	if out.Action == "" {
		out.Action = rec.Action
	}
	if out.Action.Severity() < rec.Action.Severity() {
		return rec, fmt.Errorf("%w: %s -> %s", ErrUpgrade, rec.Action, out.Action)
	}

	next := rec.Clone()
	next.Gloss = out.Gloss
	if out.Action != rec.Action {
		downgrade(&next, out.Action, fmt.Sprintf("agent downgraded %s to %s", rec.Action, out.Action))
	}
	if out.Confidence != nil && *out.Confidence < next.Confidence {
		next.Confidence = *out.Confidence
	}
	if next.Action == decision.Allow && next.Confidence < allowFloor {
		downgrade(&next, decision.Watch, fmt.Sprintf("agent confidence %.2f below ALLOW floor %.2f: downgraded to WATCH", next.Confidence, allowFloor))
	}
	seen := make(map[string]bool, len(next.Risks))
	for _, r := range next.Risks {
		seen[r] = true
	}
	for _, r := range out.Risks {
		if !seen[r] {
			seen[r] = true
			next.Risks = append(next.Risks, r)
		}
	}
	next.OneLiner = decision.OneLiner(next)
	return next, nil
}

func downgrade(rec *decision.Record, to decision.Action, warning string) {
	rec.Action = to
	rec.Source = decision.SourceAgent
	rec.Plan = plan.Downgrade(rec.Plan, string(to))
	rec.Warnings = append(rec.Warnings, warning)
	if len(rec.SnapshotHint.SnapshotTags) > 0 && !containsTag(rec.SnapshotHint.SnapshotTags, "agent_downgrade") {
		rec.SnapshotHint.SnapshotTags = append(rec.SnapshotHint.SnapshotTags, "agent_downgrade")
	}
}

func containsTag(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}

// ApplyRaw 解析并应用原始回复；任何错误都回退到引擎记录，错误同时返回供记录日志。
func ApplyRaw(rec decision.Record, raw string, allowFloor float64) (decision.Record, error) {
	out, err := ParseOutput(raw)
	if err != nil {
		return rec, fmt.Errorf("%w (raw: %s)", err, text.Truncate(raw, 240))
	}
	return Apply(rec, out, allowFloor)
}
