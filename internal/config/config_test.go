package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestLoadRepositoryConfig(t *testing.T) {
	cfg, err := Load("../../configs/config.yaml")
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Engine.TickIntervalSec)
	assert.Equal(t, []string{"reseal", "firstseal"}, cfg.Engine.ActiveStrategies)
	assert.Equal(t, "sealwatch.decisions", cfg.Notify.Kafka.Topic)
	assert.True(t, cfg.Notify.WebSocket.Enabled)

	es := cfg.EngineSettings()
	assert.Equal(t, 0.6, es.Gate.AllowFloor)
	assert.Equal(t, 20.0, es.Gate.MaxLagSec)
	assert.Equal(t, 0.40, es.Regime.RedBombRate)
	assert.Equal(t, 0.28, es.Regime.DivergenceBombRateAbove, "defaulted")
	assert.Equal(t, "09:30-11:30,13:00-15:00", cfg.Engine.TradingSessions().String())
}

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "min.yaml", "app:\n  env: test\n")
	cfg, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, "test", cfg.App.Env)
	assert.Equal(t, defaultAppHTTPAddr, cfg.App.HTTPAddr)
	assert.Equal(t, defaultTickIntervalSec, cfg.Engine.TickIntervalSec)
	assert.Equal(t, 0.25, cfg.Engine.Confidence.MissingPenalty)
	assert.True(t, cfg.Engine.WatchProfiles)
	assert.True(t, cfg.Regime.EscalateMode)
	assert.Equal(t, "file", cfg.Source.Kind)
	assert.Equal(t, defaultSnapshotMaxCands, cfg.Store.SnapshotMaxCandidates)
	assert.True(t, cfg.Metrics.Enabled)
}

func TestExplicitZeroIsKept(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "zero.yaml", "engine:\n  confidence:\n    yellow_penalty: 0\nregime:\n  escalate_mode: false\n")
	cfg, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, 0.0, cfg.Engine.Confidence.YellowPenalty)
	assert.False(t, cfg.Regime.EscalateMode)
}

func TestLoadValidation(t *testing.T) {
	cases := []struct {
		name string
		body string
		msg  string
	}{
		{"floor below 0.6", "engine:\n  allow_confidence_floor: 0.5\n", "allow_confidence_floor"},
		{"bad sessions", "engine:\n  sessions: \"15:00-09:30\"\n", "engine.sessions"},
		{"http source without url", "source:\n  kind: http\n", "source.url"},
		{"unknown source", "source:\n  kind: ftp\n", "source.kind"},
		{"telegram without token", "notify:\n  telegram:\n    enabled: true\n", "bot_token"},
		{"kafka without brokers", "notify:\n  kafka:\n    enabled: true\n", "brokers"},
		{"agent without endpoint", "agent:\n  enabled: true\n  model: m\n", "agent.endpoint"},
		{"yellow above red", "regime:\n  yellow_bomb_rate: 0.5\n", "yellow_bomb_rate"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := writeFile(t, t.TempDir(), "c.yaml", tc.body)
			_, err := Load(p)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.msg)
		})
	}
}

func TestIncludeCycle(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.yaml", "include: [b.yaml]\n")
	p := writeFile(t, dir, "b.yaml", "include: [a.yaml]\n")
	_, err := Load(p)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "include cycle")
}

func TestEnvOverride(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "env.yaml", "notify:\n  telegram:\n    enabled: true\n    bot_token: file\n    chat_id: \"1\"\n")
	t.Setenv("SEALWATCH_NOTIFY_TELEGRAM_BOT_TOKEN", "from-env")
	cfg, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Notify.Telegram.BotToken)
}

func TestDefaultPath(t *testing.T) {
	t.Setenv(EnvConfigPath, "/etc/sealwatch.yaml")
	assert.Equal(t, "/etc/sealwatch.yaml", DefaultPath())
	t.Setenv(EnvConfigPath, "")
	assert.Equal(t, "configs/config.yaml", DefaultPath())
}
