// Package agent 对接可选的外部解释代理（LLM 服务）。
// 代理只能看到引擎已算出的结果；它的输出必须通过 schema 校验，且只能让动作更保守。
package agent

import (
	"encoding/json"

	"sealwatch/internal/decision"
	"sealwatch/internal/plan"
	"sealwatch/internal/regime"
	"sealwatch/internal/scoring"
	"sealwatch/internal/trigger"
)

const instructions = `你是 A 股涨停回封策略的解释助手。输入是决策引擎已经计算好的结果，请用中文给出简短解读。
只输出一个 JSON 对象，字段：action（ALLOW/WATCH/BLOCK，不得比引擎动作更激进）、confidence（0~1，可选）、gloss（解读文本）、risks（补充风险，可选）。`

// InputBundle 是发给代理的全部内容，不含原始行情。
type InputBundle struct {
	Symbol       string                 `json:"symbol"`
	Name         string                 `json:"name,omitempty"`
	StrategyID   string                 `json:"strategy_id"`
	SnapshotID   string                 `json:"snapshot_id"`
	TS           string                 `json:"ts"`
	Action       decision.Action        `json:"action"`
	Confidence   float64                `json:"confidence"`
	Regime       regime.Assessment      `json:"regime"`
	Score        scoring.CandidateScore `json:"score"`
	Triggers     []trigger.Result       `json:"triggers"`
	Plan         plan.Plan              `json:"plan"`
	Risks        []string               `json:"risks"`
	Warnings     []string               `json:"warnings"`
	Instructions string                 `json:"instructions"`
	OutputSchema json.RawMessage        `json:"output_schema"`
}

func BuildInputBundle(rec decision.Record) InputBundle {
	rec = rec.Clone()
	return InputBundle{
		Symbol:       rec.Symbol,
		Name:         rec.Name,
		StrategyID:   rec.StrategyID,
		SnapshotID:   rec.SnapshotID,
		TS:           rec.TS,
		Action:       rec.Action,
		Confidence:   rec.Confidence,
		Regime:       rec.Regime,
		Score:        rec.Score,
		Triggers:     rec.Triggers,
		Plan:         rec.Plan,
		Risks:        rec.Risks,
		Warnings:     rec.Warnings,
		Instructions: instructions,
		OutputSchema: json.RawMessage(outputSchema),
	}
}
