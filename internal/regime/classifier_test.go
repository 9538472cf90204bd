package regime

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sealwatch/internal/snapshot"
)

func market(limitUp, limitDown, bomb, indexRet float64) snapshot.Features {
	return snapshot.Features{
		snapshot.KeyLimitUpCount:   snapshot.Number(limitUp),
		snapshot.KeyLimitDownCount: snapshot.Number(limitDown),
		snapshot.KeyBombRate:       snapshot.Number(bomb),
		snapshot.KeyIndexRet15m:    snapshot.Number(indexRet),
	}
}

func TestClassifyCases(t *testing.T) {
	c := NewClassifier(DefaultThresholds())
	cases := []struct {
		name  string
		m     snapshot.Features
		mode  Mode
		light Light
		rule  string
	}{
		{"strong green", market(48, 3, 0.15, 0.004), Strong, Green, "green_within_bounds"},
		{"thin activity yellow", market(20, 3, 0.22, 0.002), Normal, Yellow, "yellow_limit_up_min"},
		{"bomb red", market(30, 8, 0.48, -0.002), Weak, Red, "red_bomb_rate"},
		{"limit down red", market(40, 36, 0.1, 0.0), Weak, Red, "red_limit_down_max"},
		{"divergence escalates", market(40, 5, 0.29, 0.001), Divergence, Yellow, "mode_divergence"},
		{"chaos", market(40, 12, 0.36, 0.001), Chaos, Yellow, "yellow_bomb_rate"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := c.Classify(tc.m)
			assert.Equal(t, tc.mode, got.Mode)
			assert.Equal(t, tc.light, got.Light)
			require.NotEmpty(t, got.LightReasons)
			require.NotEmpty(t, got.ModeReasons)
			rules := make([]string, 0, len(got.LightReasons))
			for _, r := range got.LightReasons {
				rules = append(rules, r.Rule)
			}
			assert.Contains(t, rules, tc.rule)
		})
	}
}

func TestClassifyMissingAggregatesIsRed(t *testing.T) {
	got := Classify(DefaultThresholds(), snapshot.Features{snapshot.KeyLimitUpCount: snapshot.Number(60)})
	assert.Equal(t, Red, got.Light)
	assert.Equal(t, Weak, got.Mode)
	require.Len(t, got.LightReasons, 2)
	assert.Equal(t, "market_aggregate_missing", got.LightReasons[0].Rule)
}

func TestLightMonotonicInBombRate(t *testing.T) {
	th := DefaultThresholds()
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 500; i++ {
		lu := float64(rng.Intn(80))
		ld := float64(rng.Intn(50))
		idx := rng.Float64()*0.04 - 0.02
		prevLight, prevMode := -1, -1
		for bomb := 0.0; bomb <= 1.0; bomb += 0.01 {
			a := Classify(th, market(lu, ld, bomb, idx))
			require.GreaterOrEqual(t, a.Light.Severity(), prevLight, "lu=%v ld=%v bomb=%v", lu, ld, bomb)
			require.GreaterOrEqual(t, a.Mode.Severity(), prevMode, "lu=%v ld=%v bomb=%v", lu, ld, bomb)
			prevLight, prevMode = a.Light.Severity(), a.Mode.Severity()
		}
	}
}

func TestModeMonotonicInLimitUp(t *testing.T) {
	th := DefaultThresholds()
	rng := rand.New(rand.NewSource(11))
	for i := 0; i < 500; i++ {
		ld := float64(rng.Intn(50))
		bomb := rng.Float64() * 0.6
		idx := rng.Float64()*0.04 - 0.02
		prevLight, prevMode := -1, -1
		for lu := 100.0; lu >= 0; lu-- {
			a := Classify(th, market(lu, ld, bomb, idx))
			require.GreaterOrEqual(t, a.Mode.Severity(), prevMode, "lu=%v ld=%v bomb=%v", lu, ld, bomb)
			require.GreaterOrEqual(t, a.Light.Severity(), prevLight, "lu=%v ld=%v bomb=%v", lu, ld, bomb)
			prevLight, prevMode = a.Light.Severity(), a.Mode.Severity()
		}
	}
}

func TestParseLight(t *testing.T) {
	l, ok := ParseLight(" yellow ")
	assert.True(t, ok)
	assert.Equal(t, Yellow, l)
	_, ok = ParseLight("blue")
	assert.False(t, ok)
}
