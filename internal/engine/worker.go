package engine

import (
	"fmt"

	"sealwatch/internal/decision"
	"sealwatch/internal/logger"
	"sealwatch/internal/regime"
	"sealwatch/internal/scoring"
	"sealwatch/internal/snapshot"
	"sealwatch/internal/strategy"
	"sealwatch/internal/trigger"
)

// unit 是一次 (候选, 策略) 评估。
type unit struct {
	profile   *strategy.Profile
	candidate snapshot.Candidate
	known     bool
}

func lookup(snap *snapshot.FeatureSnapshot, assess regime.Assessment, c snapshot.Candidate) snapshot.Lookup {
	return snapshot.Lookup{Candidate: c.Features, Market: snap.Market, Regime: assess.Features()}
}

func scoreInput(snap *snapshot.FeatureSnapshot, assess regime.Assessment, c snapshot.Candidate) scoring.Input {
	return scoring.Input{
		Symbol:   c.Symbol,
		Name:     c.Name,
		Features: lookup(snap, assess, c),
		Regime:   assess,
		Degraded: snap.Quality.Degraded,
	}
}

func (e *Engine) evaluate(snap *snapshot.FeatureSnapshot, assess regime.Assessment, u unit) decision.Record {
	if e.hook != nil {
		e.hook(u.candidate.Symbol)
	}
	p := u.profile
	feats := lookup(snap, assess, u.candidate)
	triggers := trigger.Evaluate(p.CompiledRules(), feats)

	score := scoring.CandidateScore{Symbol: u.candidate.Symbol, StrategyID: p.ID}
	if u.known {
		score = scoring.Score(p, scoreInput(snap, assess, u.candidate))
	}
	verdict := e.gate.Decide(decision.GateInput{
		Symbol:        u.candidate.Symbol,
		Profile:       p,
		Regime:        assess,
		Score:         score,
		Triggers:      triggers,
		Quality:       snap.Quality,
		UnknownSymbol: !u.known,
	})
	return decision.Assemble(decision.Evaluation{
		Snapshot: snap,
		Symbol:   u.candidate.Symbol,
		Name:     u.candidate.Name,
		Profile:  p,
		Regime:   assess,
		Score:    score,
		Triggers: triggers,
		Verdict:  verdict,
	})
}

// evaluateSafe 把单元内的 panic 转成 BLOCK 记录，不影响同 tick 的其它单元。
func (e *Engine) evaluateSafe(snap *snapshot.FeatureSnapshot, assess regime.Assessment, u unit) (rec decision.Record) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("evaluate %s/%s panic: %v", u.profile.ID, u.candidate.Symbol, r)
			rec = failedRecord(snap, assess, u, fmt.Sprintf("evaluation error: %v", r))
		}
	}()
	return e.evaluate(snap, assess, u)
}

func failedRecord(snap *snapshot.FeatureSnapshot, assess regime.Assessment, u unit, msg string) decision.Record {
	p := u.profile
	return decision.Assemble(decision.Evaluation{
		Snapshot: snap,
		Symbol:   u.candidate.Symbol,
		Name:     u.candidate.Name,
		Profile:  p,
		Regime:   assess,
		Score:    scoring.CandidateScore{Symbol: u.candidate.Symbol, Name: u.candidate.Name, StrategyID: p.ID},
		Triggers: trigger.AllMissing(p.CompiledRules(), "not evaluated: "+msg),
		Verdict: decision.Verdict{
			Action:   decision.Block,
			Warnings: []string{msg + ": BLOCK"},
			Risks:    []string{"评估异常"},
		},
	})
}
