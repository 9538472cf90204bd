// Package replay 回看冻结快照与历史提醒：快照复盘、日报、失败模式统计。
package replay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"sealwatch/internal/decision"
	"sealwatch/internal/engine"
	"sealwatch/internal/snapshot"
	"sealwatch/internal/store/alertstore"
	"sealwatch/internal/store/snapshotstore"
)

var ErrNoEvaluator = errors.New("replay: re-evaluation not available")

type AlertReader interface {
	BySnapshot(ctx context.Context, snapshotID string) ([]alertstore.Alert, error)
	Since(ctx context.Context, from, to time.Time) ([]alertstore.Alert, error)
}

type SnapshotReader interface {
	Get(ctx context.Context, snapshotID string) (*snapshotstore.Stored, error)
	List(ctx context.Context, from, to time.Time) ([]snapshotstore.Meta, error)
}

type Evaluator interface {
	RunTick(ctx context.Context, snap *snapshot.FeatureSnapshot) (*engine.TickResult, error)
}

type Service struct {
	alerts    AlertReader
	snapshots SnapshotReader
	eval      Evaluator
}

// New 创建复盘服务；eval 为 nil 时不支持重新评估。
func New(alerts AlertReader, snapshots SnapshotReader, eval Evaluator) *Service {
	return &Service{alerts: alerts, snapshots: snapshots, eval: eval}
}

type SnapshotReplay struct {
	Meta         snapshotstore.Meta        `json:"meta"`
	Snapshot     *snapshot.FeatureSnapshot `json:"snapshot"`
	Alerts       []alertstore.Alert        `json:"alerts"`
	Reevaluation *Reevaluation             `json:"reevaluation,omitempty"`
}

// Reevaluation 是用当前 profile 重新跑冻结快照的结果，Changes 列出与当时提醒不同的动作。
type Reevaluation struct {
	TickID         string            `json:"tick_id"`
	ProfileVersion int64             `json:"profile_set_version"`
	Light          string            `json:"risk_light"`
	Decisions      []decision.Record `json:"decisions"`
	Changes        []ActionChange    `json:"changes"`
}

type ActionChange struct {
	Symbol     string          `json:"symbol"`
	StrategyID string          `json:"strategy_id"`
	Was        decision.Action `json:"was"`
	Now        decision.Action `json:"now"`
}

// Snapshot 返回冻结快照及其关联提醒；reevaluate 为 true 时按当前 profile 重新评估。
func (s *Service) Snapshot(ctx context.Context, snapshotID string, reevaluate bool) (*SnapshotReplay, error) {
	stored, err := s.snapshots.Get(ctx, snapshotID)
	if err != nil {
		return nil, err
	}
	alerts, err := s.alerts.BySnapshot(ctx, snapshotID)
	if err != nil {
		return nil, fmt.Errorf("load alerts for %s: %w", snapshotID, err)
	}
	out := &SnapshotReplay{Meta: stored.Meta, Snapshot: stored.Snapshot, Alerts: alerts}
	if !reevaluate {
		return out, nil
	}
	if s.eval == nil {
		return nil, ErrNoEvaluator
	}
	res, err := s.eval.RunTick(ctx, stored.Snapshot)
	if err != nil {
		return nil, fmt.Errorf("re-evaluate %s: %w", snapshotID, err)
	}
	out.Reevaluation = &Reevaluation{
		TickID:         res.TickID,
		ProfileVersion: res.ProfileVersion,
		Light:          string(res.Regime.Light),
		Decisions:      res.Decisions,
		Changes:        diffActions(alerts, res.Decisions),
	}
	return out, nil
}

func diffActions(alerts []alertstore.Alert, recs []decision.Record) []ActionChange {
	was := make(map[string]decision.Action, len(alerts))
	for _, a := range alerts {
		was[a.Record.Key()] = a.Action
	}
	changes := []ActionChange{}
	for _, r := range recs {
		before, ok := was[r.Key()]
		if !ok || before == r.Action {
			continue
		}
		changes = append(changes, ActionChange{Symbol: r.Symbol, StrategyID: r.StrategyID, Was: before, Now: r.Action})
	}
	return changes
}

// dayRange 返回交易所时区下某天的 [00:00, 次日 00:00)。
func dayRange(day time.Time) (time.Time, time.Time) {
	d := day.In(snapshot.Location)
	from := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, snapshot.Location)
	return from, from.AddDate(0, 0, 1)
}
