package decision

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sealwatch/internal/regime"
	"sealwatch/internal/scoring"
	"sealwatch/internal/snapshot"
	"sealwatch/internal/strategy"
	"sealwatch/internal/trigger"
)

func loadProfile(t *testing.T, id string) *strategy.Profile {
	t.Helper()
	good, bad, err := strategy.ParseFile("../../configs/profiles.yaml")
	require.NoError(t, err)
	require.Empty(t, bad)
	p, ok := good[id]
	require.True(t, ok)
	return p
}

func results(statuses ...trigger.Status) []trigger.Result {
	out := make([]trigger.Result, 0, len(statuses))
	for i, s := range statuses {
		out = append(out, trigger.Result{Name: "r" + string(rune('a'+i)), Status: s, Detail: "d", Required: i == 0})
	}
	return out
}

func baseInput(t *testing.T) GateInput {
	return GateInput{
		Symbol:   "600001",
		Profile:  loadProfile(t, "reseal"),
		Regime:   regime.Assessment{Light: regime.Green, Mode: regime.Normal},
		Score:    scoring.CandidateScore{Total: 70},
		Triggers: results(trigger.Pass, trigger.Pass, trigger.Pass, trigger.Pass),
		Quality:  snapshot.DataQuality{LagSec: 3, Present: true},
	}
}

func hasWarning(v Verdict, sub string) bool {
	for _, w := range v.Warnings {
		if strings.Contains(w, sub) {
			return true
		}
	}
	return false
}

func TestGateAllow(t *testing.T) {
	g := NewGate(DefaultGateConfig())
	v := g.Decide(baseInput(t))
	assert.Equal(t, Allow, v.Action)
	assert.Equal(t, 1.0, v.Confidence)
	assert.Empty(t, v.Warnings)
}

func TestGateForcedBlock(t *testing.T) {
	g := NewGate(DefaultGateConfig())

	in := baseInput(t)
	in.Regime.Light = regime.Red
	v := g.Decide(in)
	assert.Equal(t, Block, v.Action)
	assert.True(t, hasWarning(v, "risk light RED"))

	in = baseInput(t)
	in.Triggers[0].Status = trigger.Fail
	v = g.Decide(in)
	assert.Equal(t, Block, v.Action)
	assert.True(t, hasWarning(v, "required rule ra FAIL"))

	in = baseInput(t)
	in.Quality.LagSec = 61
	v = g.Decide(in)
	assert.Equal(t, Block, v.Action)
	assert.True(t, hasWarning(v, "hard limit 60s"))

	in = baseInput(t)
	in.UnknownSymbol = true
	in.Symbol = "999999"
	v = g.Decide(in)
	assert.Equal(t, Block, v.Action)
	assert.Equal(t, 0.0, v.Confidence)
	assert.True(t, hasWarning(v, "999999 is not in the candidate set"))
}

func TestGateForcedWatch(t *testing.T) {
	g := NewGate(DefaultGateConfig())

	in := baseInput(t)
	in.Quality.Degraded = true
	in.Quality.MissingFields = []string{"pullback_5m"}
	v := g.Decide(in)
	assert.Equal(t, Watch, v.Action)
	assert.True(t, hasWarning(v, "missing fields: pullback_5m"))

	in = baseInput(t)
	in.Quality.LagSec = 45
	v = g.Decide(in)
	assert.Equal(t, Watch, v.Action)
	assert.True(t, hasWarning(v, "lag 45s exceeds max 20s"))

	in = baseInput(t)
	in.Triggers[0].Status = trigger.Missing
	v = g.Decide(in)
	assert.Equal(t, Watch, v.Action)
	assert.True(t, hasWarning(v, "required rule ra MISSING"))

	in = baseInput(t)
	in.Triggers[2].Status = trigger.Fail
	v = g.Decide(in)
	assert.Equal(t, Watch, v.Action, "optional FAIL blocks ALLOW by default")

	in = baseInput(t)
	in.Score.Total = 10
	v = g.Decide(in)
	assert.Equal(t, Watch, v.Action)
	assert.True(t, hasWarning(v, "min_allow_score"))
}

func TestGateWarningsAccumulate(t *testing.T) {
	g := NewGate(DefaultGateConfig())
	in := baseInput(t)
	in.Regime.Light = regime.Red
	in.Quality.Degraded = true
	in.Quality.LagSec = 45
	v := g.Decide(in)
	assert.Equal(t, Block, v.Action)
	assert.True(t, hasWarning(v, "risk light RED"))
	assert.True(t, hasWarning(v, "data quality degraded"))
	assert.True(t, hasWarning(v, "data stale"))
}

func TestConfidence(t *testing.T) {
	g := NewGate(DefaultGateConfig())
	ok := snapshot.DataQuality{Present: true}
	assert.Equal(t, 0.0, g.Confidence(nil, regime.Green, ok))
	assert.Equal(t, 1.0, g.Confidence(results(trigger.Pass, trigger.Pass), regime.Green, ok))
	assert.Equal(t, 0.9, g.Confidence(results(trigger.Pass, trigger.Pass), regime.Yellow, ok))

	rs := results(trigger.Pass, trigger.Pass, trigger.Pass, trigger.Pass, trigger.Pass, trigger.Pass, trigger.Missing)
	degraded := snapshot.DataQuality{LagSec: 45, Degraded: true, Present: true}
	assert.InDelta(t, 0.4571, g.Confidence(rs, regime.Green, degraded), 0.0001)

	// 逐条把 PASS 改成 FAIL/MISSING，置信度不增
	rs = results(trigger.Pass, trigger.Pass, trigger.Pass, trigger.Pass)
	prev := g.Confidence(rs, regime.Green, ok)
	for i := range rs {
		rs[i].Status = trigger.Missing
		cur := g.Confidence(rs, regime.Green, ok)
		assert.LessOrEqual(t, cur, prev)
		prev = cur
	}
}

func TestAssembleRecord(t *testing.T) {
	p := loadProfile(t, "reseal")
	asOf := time.Date(2026, 3, 2, 10, 15, 0, 0, snapshot.Location)
	snap := &snapshot.FeatureSnapshot{
		ID:         "snap_1",
		AsOf:       asOf,
		Candidates: []snapshot.Candidate{{Symbol: "600001", Name: "样例"}},
		Quality:    snapshot.DataQuality{Present: true},
		Issues:     []string{"duplicate candidate 600001 skipped"},
	}
	ev := Evaluation{
		Snapshot: snap,
		Symbol:   "600001",
		Name:     "样例",
		Profile:  p,
		Regime:   regime.Assessment{Light: regime.Yellow, Mode: regime.Normal},
		Score:    scoring.CandidateScore{Total: 62.4},
		Triggers: results(trigger.Pass, trigger.Pass, trigger.Fail),
		Verdict:  Verdict{Action: Watch, Confidence: 0.56, Warnings: []string{"w"}},
	}
	rec := Assemble(ev)

	assert.Equal(t, AgentName, rec.Agent)
	assert.Equal(t, "2026-03-02T10:15:00+08:00", rec.TS)
	assert.Equal(t, "snap_1", rec.SnapshotID)
	assert.Equal(t, "reseal", rec.StrategyID)
	assert.Equal(t, SourceEngine, rec.Source)
	assert.Equal(t, 0.10, rec.Plan.MaxSinglePosition)
	assert.GreaterOrEqual(t, len(rec.Plan.ExitRules), 3)
	assert.Equal(t, []string{"w", "snapshot: duplicate candidate 600001 skipped"}, rec.Warnings)
	assert.Equal(t, "观察 | 得分 62.4 | 仓位 10.0% | 条件 2/3 通过", rec.OneLiner)
	assert.True(t, rec.SnapshotHint.ShouldCreateSnapshot, "watch above alert score")
	assert.Equal(t, []string{"watch", "strategy:reseal", "light:YELLOW"}, rec.SnapshotHint.SnapshotTags)

	a, err := rec.JSON()
	require.NoError(t, err)
	b, err := Assemble(ev).JSON()
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestActionSeverity(t *testing.T) {
	assert.Less(t, Allow.Severity(), Watch.Severity())
	assert.Less(t, Watch.Severity(), Block.Severity())
	a, ok := ParseAction(" watch ")
	assert.True(t, ok)
	assert.Equal(t, Watch, a)
	_, ok = ParseAction("buy")
	assert.False(t, ok)
}
