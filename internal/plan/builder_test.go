package plan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sealwatch/internal/regime"
	"sealwatch/internal/strategy"
)

func spec() strategy.PlanSpec {
	return strategy.PlanSpec{
		Ceilings:        map[string]float64{"GREEN": 0.15, "YELLOW": 0.10, "RED": 0},
		YellowScale:     0.7,
		FailWindowSec:   30,
		PullbackRetreat: 0.18,
		EntryNote:       "分批介入",
		ExtraExitRules:  []string{"首次开板不回封 => 直接放弃"},
	}
}

func TestCeilingByLight(t *testing.T) {
	s := spec()
	assert.Equal(t, 0.15, Ceiling(s, regime.Green))
	assert.Equal(t, 0.10, Ceiling(s, regime.Yellow), "min(table, green*0.7)")
	assert.Equal(t, 0.0, Ceiling(s, regime.Red))

	delete(s.Ceilings, "YELLOW")
	assert.Equal(t, 0.105, Ceiling(s, regime.Yellow))

	s.Ceilings["YELLOW"] = 0.5
	assert.Equal(t, 0.105, Ceiling(s, regime.Yellow), "yellow never exceeds scaled green")
}

func TestBuildExitRules(t *testing.T) {
	p := Build(spec(), regime.Green, "ALLOW")
	require.GreaterOrEqual(t, len(p.ExitRules), MinExitRuleSize)
	assert.Equal(t, ExitNoReseal, p.ExitRules[0].Kind)
	assert.Equal(t, "开板后30秒不回封 => 放弃/减仓", p.ExitRules[0].Text)
	assert.Equal(t, "回撤扩大超过18% => 停止追加并减仓", p.ExitRules[1].Text)
	assert.True(t, p.HasExit(ExitPullback))
	assert.True(t, p.HasExit(ExitRiskRed))
	assert.True(t, p.HasExit(ExitStrategy))
	assert.Equal(t, 0.15, p.MaxSinglePosition)
	assert.Equal(t, "分批介入", p.EntryNote)
}

func TestBuildBlockIsZero(t *testing.T) {
	p := Build(spec(), regime.Green, "BLOCK")
	assert.Equal(t, 0.0, p.MaxSinglePosition)
	assert.Len(t, p.ExitRules, 4)

	w := Build(spec(), regime.Yellow, "WATCH")
	assert.Equal(t, 0.10, w.MaxSinglePosition)
}

func TestDowngrade(t *testing.T) {
	p := Build(spec(), regime.Green, "ALLOW")
	b := Downgrade(p, "BLOCK")
	assert.Equal(t, 0.0, b.MaxSinglePosition)
	assert.Equal(t, "禁止介入", b.EntryNote)
	assert.Equal(t, p.ExitRules, b.ExitRules)
	assert.Equal(t, 0.15, p.MaxSinglePosition, "input untouched")

	w := Downgrade(p, "WATCH")
	assert.Equal(t, 0.15, w.MaxSinglePosition)
	assert.Equal(t, "仅观察，条件全部满足后再评估", w.EntryNote)
}
