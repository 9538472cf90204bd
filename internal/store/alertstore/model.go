package alertstore

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"

	"sealwatch/internal/decision"
)

type Label string

const (
	LabelUnlabeled Label = "unlabeled"
	LabelSuccess   Label = "success"
	LabelFail      Label = "fail"
	LabelSkip      Label = "skip"
)

// ParseLabel 接受四种标注值，用于查询过滤。
func ParseLabel(s string) (Label, bool) {
	switch Label(s) {
	case LabelUnlabeled, LabelSuccess, LabelFail, LabelSkip:
		return Label(s), true
	}
	return "", false
}

// Assignable 报告该标注能否由人工写入；unlabeled 只是新提醒的初始状态。
func (l Label) Assignable() bool {
	return l == LabelSuccess || l == LabelFail || l == LabelSkip
}

// Alert 是一条落库的决策提醒；Record 为发出时的完整解释记录，不可修改。
// 只有 Label/Note 允许事后更新。
type Alert struct {
	ID         string          `json:"id"`
	CreatedAt  time.Time       `json:"created_at"`
	Symbol     string          `json:"symbol"`
	StrategyID string          `json:"strategy_id"`
	Action     decision.Action `json:"action"`
	Confidence float64         `json:"confidence"`
	Score      float64         `json:"score"`
	Light      string          `json:"light"`
	SnapshotID string          `json:"snapshot_id"`
	OneLiner   string          `json:"one_liner"`
	Label      Label           `json:"label"`
	Note       string          `json:"note,omitempty"`
	LabeledAt  *time.Time      `json:"labeled_at,omitempty"`
	Record     decision.Record `json:"record"`
}

type alertModel struct {
	ID         string         `gorm:"column:id;primaryKey"`
	CreatedAt  int64          `gorm:"column:created_at;index"`
	Symbol     string         `gorm:"column:symbol;index"`
	StrategyID string         `gorm:"column:strategy_id;index"`
	Action     string         `gorm:"column:action"`
	Confidence float64        `gorm:"column:confidence"`
	Score      float64        `gorm:"column:score"`
	Light      string         `gorm:"column:light"`
	SnapshotID string         `gorm:"column:snapshot_id;index"`
	OneLiner   string         `gorm:"column:one_liner"`
	Label      string         `gorm:"column:label;index"`
	Note       string         `gorm:"column:note"`
	LabeledAt  int64          `gorm:"column:labeled_at"`
	Payload    datatypes.JSON `gorm:"column:payload;type:TEXT"`
}

func (alertModel) TableName() string { return "alerts" }

func toModel(id string, rec decision.Record, at time.Time) (alertModel, error) {
	raw, err := json.Marshal(rec)
	if err != nil {
		return alertModel{}, err
	}
	return alertModel{
		ID:         id,
		CreatedAt:  at.UnixMilli(),
		Symbol:     rec.Symbol,
		StrategyID: rec.StrategyID,
		Action:     string(rec.Action),
		Confidence: rec.Confidence,
		Score:      rec.Score.Total,
		Light:      string(rec.Regime.Light),
		SnapshotID: rec.SnapshotID,
		OneLiner:   rec.OneLiner,
		Label:      string(LabelUnlabeled),
		Payload:    datatypes.JSON(raw),
	}, nil
}

func (m alertModel) toAlert() (Alert, error) {
	out := Alert{
		ID:         m.ID,
		CreatedAt:  time.UnixMilli(m.CreatedAt),
		Symbol:     m.Symbol,
		StrategyID: m.StrategyID,
		Action:     decision.Action(m.Action),
		Confidence: m.Confidence,
		Score:      m.Score,
		Light:      m.Light,
		SnapshotID: m.SnapshotID,
		OneLiner:   m.OneLiner,
		Label:      Label(m.Label),
		Note:       m.Note,
	}
	if m.LabeledAt > 0 {
		t := time.UnixMilli(m.LabeledAt)
		out.LabeledAt = &t
	}
	if len(m.Payload) > 0 {
		if err := json.Unmarshal(m.Payload, &out.Record); err != nil {
			return out, err
		}
	}
	return out, nil
}
