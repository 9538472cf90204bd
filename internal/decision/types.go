// Package decision 实现决策闸门（ALLOW/WATCH/BLOCK）与对外的解释记录。
package decision

import (
	"encoding/json"
	"strings"

	"sealwatch/internal/plan"
	"sealwatch/internal/regime"
	"sealwatch/internal/scoring"
	"sealwatch/internal/trigger"
)

const (
	AgentName     = "sealwatch"
	EngineVersion = "1.0.0"
)

type Action string

const (
	Allow Action = "ALLOW"
	Watch Action = "WATCH"
	Block Action = "BLOCK"
)

// Severity 越大越保守。
func (a Action) Severity() int {
	switch a {
	case Allow:
		return 0
	case Watch:
		return 1
	default:
		return 2
	}
}

func ParseAction(s string) (Action, bool) {
	switch Action(strings.ToUpper(strings.TrimSpace(s))) {
	case Allow:
		return Allow, true
	case Watch:
		return Watch, true
	case Block:
		return Block, true
	}
	return "", false
}

func (a Action) Label() string {
	switch a {
	case Allow:
		return "可执行"
	case Watch:
		return "观察"
	default:
		return "禁止"
	}
}

type SnapshotHint struct {
	ShouldCreateSnapshot bool     `json:"should_create_snapshot"`
	SnapshotTags         []string `json:"snapshot_tags"`
}

// Record 是决策的完整解释记录，也是存储、推送与解释代理收到的唯一形态。
// 一经发出不再修改；更正通过新快照上的新记录完成。
type Record struct {
	Agent          string                 `json:"agent"`
	Version        string                 `json:"version"`
	TS             string                 `json:"ts"`
	Symbol         string                 `json:"symbol"`
	Name           string                 `json:"name,omitempty"`
	StrategyID     string                 `json:"strategy_id"`
	ProfileVersion string                 `json:"profile_version"`
	Action         Action                 `json:"action"`
	Confidence     float64                `json:"confidence"`
	Triggers       []trigger.Result       `json:"triggers"`
	Plan           plan.Plan              `json:"plan"`
	Risks          []string               `json:"risks"`
	OneLiner       string                 `json:"one_liner"`
	SnapshotHint   SnapshotHint           `json:"snapshot_hint"`
	Warnings       []string               `json:"warnings"`
	SnapshotID     string                 `json:"snapshot_id"`
	Regime         regime.Assessment      `json:"regime"`
	Score          scoring.CandidateScore `json:"score"`
	Source         string                 `json:"source"`
	Gloss          string                 `json:"gloss,omitempty"`
}

// Key identifies the (symbol, strategy) pair a record belongs to.
func (r Record) Key() string {
	return r.StrategyID + "|" + r.Symbol
}

func (r Record) JSON() ([]byte, error) {
	return json.Marshal(r)
}

// Clone returns a deep copy so callers can derive a new record without
// touching an emitted one.
func (r Record) Clone() Record {
	out := r
	out.Triggers = append([]trigger.Result(nil), r.Triggers...)
	out.Plan.ExitRules = append([]plan.ExitRule(nil), r.Plan.ExitRules...)
	out.Risks = append([]string(nil), r.Risks...)
	out.Warnings = append([]string(nil), r.Warnings...)
	out.SnapshotHint.SnapshotTags = append([]string(nil), r.SnapshotHint.SnapshotTags...)
	out.Score.PenaltyItems = append([]scoring.PenaltyItem(nil), r.Score.PenaltyItems...)
	out.Score.Defaulted = append([]string(nil), r.Score.Defaulted...)
	return out
}
