package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sealwatch/internal/regime"
	"sealwatch/internal/snapshot"
	"sealwatch/internal/strategy"
)

func profile(t *testing.T, id string) *strategy.Profile {
	t.Helper()
	good, bad, err := strategy.ParseFile("../../configs/profiles.yaml")
	require.NoError(t, err)
	require.Empty(t, bad)
	p, ok := good[id]
	require.True(t, ok)
	return p
}

func resealInput(light regime.Light, feats snapshot.Features) Input {
	return Input{
		Symbol: "600001",
		Features: snapshot.Lookup{
			Candidate: feats,
			Market: snapshot.Features{
				snapshot.KeyLimitUpCount:   snapshot.Number(20),
				snapshot.KeyLimitDownCount: snapshot.Number(3),
				snapshot.KeyBombRate:       snapshot.Number(0.22),
			},
		},
		Regime: regime.Assessment{Light: light, Mode: regime.Normal},
	}
}

func scenarioA() snapshot.Features {
	return snapshot.Features{
		snapshot.KeyResealSpeedSec:  snapshot.Number(45),
		snapshot.KeyResealStableMin: snapshot.Number(1),
		snapshot.KeySlope5m:         snapshot.Number(0.63),
		snapshot.KeyPullback5m:      snapshot.Number(0.12),
		snapshot.KeyAmount:          snapshot.Number(120000000),
		snapshot.KeyOpenCount30m:    snapshot.Number(1),
	}
}

func TestScoreScenarioA(t *testing.T) {
	p := profile(t, "reseal")
	got := Score(p, resealInput(regime.Yellow, scenarioA()))

	assert.Equal(t, "reseal", got.StrategyID)
	assert.Equal(t, 72.0, got.Market)
	assert.Equal(t, 58.05, got.Stock)
	assert.Equal(t, 68.5, got.Quality)
	assert.InDelta(t, 66.24, got.Raw, 0.01)
	assert.Equal(t, 0.75, got.LightFactor)
	assert.Equal(t, 10.0, got.RiskPenalty)
	assert.InDelta(t, 39.68, got.Total, 0.01)
	assert.Equal(t, []string{snapshot.KeyVolRatio5m}, got.Defaulted)
}

func TestScoreIsDeterministic(t *testing.T) {
	p := profile(t, "reseal")
	in := resealInput(regime.Green, scenarioA())
	first := Score(p, in)
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, Score(p, in))
	}
}

func TestScorePenaltiesAndCap(t *testing.T) {
	p := profile(t, "reseal")
	feats := scenarioA()
	delete(feats, snapshot.KeyAmount)
	in := resealInput(regime.Red, feats)
	in.Degraded = true
	got := Score(p, in)
	reasons := make([]string, 0, len(got.PenaltyItems))
	for _, it := range got.PenaltyItems {
		reasons = append(reasons, it.Reason)
	}
	assert.Equal(t, []string{"data_degraded", "risk_light_RED", "amount_missing"}, reasons)
	assert.Equal(t, 30.0, got.RiskPenalty, "capped")
	assert.GreaterOrEqual(t, got.Total, 0.0)
}

func TestScoreUsesConfiguredDefault(t *testing.T) {
	p := profile(t, "reseal")
	feats := scenarioA()
	delete(feats, snapshot.KeyPullback5m)
	got := Score(p, resealInput(regime.Green, feats))
	assert.Contains(t, got.Defaulted, snapshot.KeyPullback5m)
	// default 0.15 on [0,0.3] inverted -> 50
	withDefault := scenarioA()
	withDefault[snapshot.KeyPullback5m] = snapshot.Number(0.15)
	explicit := Score(p, resealInput(regime.Green, withDefault))
	assert.Equal(t, explicit.Stock, got.Stock)
}

func TestRank(t *testing.T) {
	ranked := Rank([]CandidateScore{
		{Symbol: "B", Total: 50},
		{Symbol: "A", Total: 50},
		{Symbol: "C", Total: 70},
	})
	require.Len(t, ranked, 3)
	assert.Equal(t, []string{"C", "A", "B"}, []string{ranked[0].Symbol, ranked[1].Symbol, ranked[2].Symbol})
	assert.Equal(t, []int{1, 2, 3}, []int{ranked[0].Rank, ranked[1].Rank, ranked[2].Rank})
}

func TestBucketValue(t *testing.T) {
	b := [][]float64{{0, 1, 20}, {1, 3, 60}}
	assert.Equal(t, 20.0, bucketValue(b, 0))
	assert.Equal(t, 60.0, bucketValue(b, 1))
	assert.Equal(t, 0.0, bucketValue(b, 3))
}
