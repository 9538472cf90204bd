package live

import (
	"sealwatch/internal/decision"
	"sealwatch/internal/engine"
)

const (
	reasonLightChanged = "light_changed"
	reasonHint         = "hint"
	reasonWatchToAllow = "watch_to_allow"
	reasonAlert        = "alert"
)

// detectChanges 挑出需要落库/推送的记录：动作为 ALLOW/WATCH 且与上一 tick 不同。
func detectChanges(prev previous, recs []decision.Record) []decision.Record {
	var out []decision.Record
	for _, r := range recs {
		if r.Action != decision.Allow && r.Action != decision.Watch {
			continue
		}
		if before, ok := prev.actions[r.Key()]; ok && before == r.Action {
			continue
		}
		out = append(out, r)
	}
	return out
}

// snapshotReasons 决定本 tick 是否冻结快照：风险灯变化、记录提示、WATCH→ALLOW、
// 或本 tick 产生了提醒（提醒引用的 snapshot_id 必须可回放）。
func snapshotReasons(prev previous, res *engine.TickResult, alerts []decision.Record) []string {
	var reasons []string
	if prev.ok && prev.light != res.Regime.Light {
		reasons = append(reasons, reasonLightChanged)
	}
	hinted, upgraded := false, false
	for _, r := range res.Decisions {
		if r.SnapshotHint.ShouldCreateSnapshot {
			hinted = true
		}
		if r.Action == decision.Allow && prev.actions[r.Key()] == decision.Watch {
			upgraded = true
		}
	}
	if hinted {
		reasons = append(reasons, reasonHint)
	}
	if upgraded {
		reasons = append(reasons, reasonWatchToAllow)
	}
	if len(alerts) > 0 {
		reasons = append(reasons, reasonAlert)
	}
	return reasons
}

// mustKeep 返回冻结快照时必须保留的代码（产生提醒或提示的候选）。
func mustKeep(res *engine.TickResult, alerts []decision.Record) map[string]bool {
	must := make(map[string]bool)
	for _, r := range alerts {
		must[r.Symbol] = true
	}
	for _, r := range res.Decisions {
		if r.SnapshotHint.ShouldCreateSnapshot {
			must[r.Symbol] = true
		}
	}
	return must
}
