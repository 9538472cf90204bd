package config

import (
	"strings"
)

// 默认值常量
const (
	defaultAppEnv            = "dev"
	defaultAppLogLevel       = "info"
	defaultAppLogFormat      = "text"
	defaultAppHTTPAddr       = ":9992"
	defaultTickIntervalSec   = 5
	defaultSessions          = "09:30-11:30,13:00-15:00"
	defaultMaxDataLagSec     = 20
	defaultStaleMultiplier   = 3
	defaultConfidenceFloor   = 0.6
	defaultMissingPenalty    = 0.25
	defaultYellowPenalty     = 0.10
	defaultDegradedPenalty   = 0.15
	defaultProfilesPath      = "configs/profiles.yaml"
	defaultSourceKind        = "file"
	defaultSourcePath        = "data/feature_snapshot.json"
	defaultSourceTimeout     = 3
	defaultBreakerThreshold  = 5
	defaultBreakerCooldown   = 30
	defaultAlertDBPath       = "data/alerts.db"
	defaultSnapshotDBPath    = "data/snapshots.db"
	defaultSnapshotMaxCands  = 50
	defaultNotifyTimeout     = 5
	defaultNotifyRetries     = 3
	defaultWebhookRate       = 5
	defaultWebhookBurst      = 10
	defaultRedisChannel      = "sealwatch:decisions"
	defaultKafkaTopic        = "sealwatch.decisions"
	defaultAgentTimeout      = 20
	defaultMetricsNamespace  = "sealwatch"
)

// applyDefaults 为所有子配置应用默认值。
func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Engine.applyDefaults(keys)
	c.Regime.applyDefaults(keys)
	c.Source.applyDefaults(keys)
	c.Store.applyDefaults(keys)
	c.Notify.applyDefaults(keys)
	c.Agent.applyDefaults(keys)
	c.Metrics.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.log_format", &a.LogFormat, defaultAppLogFormat),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
	)
}

func (e *EngineConfig) applyDefaults(keys keySet) {
	if e == nil {
		return
	}
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "engine.tick_interval_sec",
			need:  func() bool { return e.TickIntervalSec <= 0 },
			apply: func() { e.TickIntervalSec = defaultTickIntervalSec },
		},
		stringFieldDefault("engine.sessions", &e.Sessions, defaultSessions),
		floatFieldDefault("engine.max_data_lag_sec", &e.MaxDataLagSec, defaultMaxDataLagSec),
		floatFieldDefault("engine.stale_block_multiplier", &e.StaleBlockMultiplier, defaultStaleMultiplier),
		floatFieldDefault("engine.allow_confidence_floor", &e.AllowConfidenceFloor, defaultConfidenceFloor),
		floatFieldDefault("engine.confidence.missing_penalty", &e.Confidence.MissingPenalty, defaultMissingPenalty),
		floatFieldDefault("engine.confidence.yellow_penalty", &e.Confidence.YellowPenalty, defaultYellowPenalty),
		floatFieldDefault("engine.confidence.degraded_penalty", &e.Confidence.DegradedPenalty, defaultDegradedPenalty),
		stringFieldDefault("engine.profiles_path", &e.ProfilesPath, defaultProfilesPath),
		boolFieldDefault("engine.watch_profiles", &e.WatchProfiles, true),
	)
	e.ActiveStrategies = normalizeIDList(e.ActiveStrategies)
}

// 未出现在配置文件中的阈值逐项取内置默认值。
func (r *RegimeConfig) applyDefaults(keys keySet) {
	if r == nil {
		return
	}
	applyFieldDefaults(keys,
		floatFieldDefault("regime.red_limit_down_max", &r.RedLimitDownMax, 35),
		floatFieldDefault("regime.red_bomb_rate", &r.RedBombRate, 0.40),
		floatFieldDefault("regime.yellow_bomb_rate", &r.YellowBombRate, 0.30),
		floatFieldDefault("regime.yellow_limit_up_min", &r.YellowLimitUpMin, 25),
		floatFieldDefault("regime.yellow_limit_down_max", &r.YellowLimitDownMax, 15),
		boolFieldDefault("regime.escalate_mode", &r.EscalateMode, true),
		floatFieldDefault("regime.strong_limit_up_min", &r.StrongLimitUpMin, 35),
		floatFieldDefault("regime.strong_bomb_rate_max", &r.StrongBombRateMax, 0.25),
		floatFieldDefault("regime.strong_limit_down_max", &r.StrongLimitDownMax, 10),
		floatFieldDefault("regime.weak_limit_up_below", &r.WeakLimitUpBelow, 20),
		floatFieldDefault("regime.weak_limit_down_above", &r.WeakLimitDownAbove, 25),
		floatFieldDefault("regime.weak_bomb_rate_above", &r.WeakBombRateAbove, 0.40),
		floatFieldDefault("regime.weak_index_ret_below", &r.WeakIndexRetBelow, -0.015),
		floatFieldDefault("regime.chaos_bomb_rate_above", &r.ChaosBombRateAbove, 0.35),
		floatFieldDefault("regime.chaos_limit_down_above", &r.ChaosLimitDownAbove, 10),
		floatFieldDefault("regime.divergence_bomb_rate_above", &r.DivergenceBombRateAbove, 0.28),
		floatFieldDefault("regime.divergence_limit_down_above", &r.DivergenceLimitDownAbove, 15),
	)
}

func (s *SourceConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	s.Kind = strings.ToLower(strings.TrimSpace(s.Kind))
	applyFieldDefaults(keys,
		stringFieldDefault("source.kind", &s.Kind, defaultSourceKind),
		intFieldDefault("source.timeout_sec", &s.TimeoutSec, defaultSourceTimeout),
		intFieldDefault("source.breaker_threshold", &s.BreakerThreshold, defaultBreakerThreshold),
		intFieldDefault("source.breaker_cooldown_sec", &s.BreakerCooldownSec, defaultBreakerCooldown),
	)
	if s.Kind == "file" {
		applyFieldDefaults(keys, stringFieldDefault("source.path", &s.Path, defaultSourcePath))
	}
}

func (s *StoreConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("store.alert_db_path", &s.AlertDBPath, defaultAlertDBPath),
		stringFieldDefault("store.snapshot_db_path", &s.SnapshotDBPath, defaultSnapshotDBPath),
		intFieldDefault("store.snapshot_max_candidates", &s.SnapshotMaxCandidates, defaultSnapshotMaxCands),
	)
}

func (n *NotifyConfig) applyDefaults(keys keySet) {
	if n == nil {
		return
	}
	applyFieldDefaults(keys,
		intFieldDefault("notify.timeout_sec", &n.TimeoutSec, defaultNotifyTimeout),
		intFieldDefault("notify.max_retries", &n.MaxRetries, defaultNotifyRetries),
		floatFieldDefault("notify.webhook.rate_per_sec", &n.Webhook.RatePerSec, defaultWebhookRate),
		intFieldDefault("notify.webhook.burst", &n.Webhook.Burst, defaultWebhookBurst),
		stringFieldDefault("notify.redis.channel", &n.Redis.Channel, defaultRedisChannel),
		stringFieldDefault("notify.kafka.topic", &n.Kafka.Topic, defaultKafkaTopic),
	)
}

func (a *AgentConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys, intFieldDefault("agent.timeout_sec", &a.TimeoutSec, defaultAgentTimeout))
}

func (m *MetricsConfig) applyDefaults(keys keySet) {
	if m == nil {
		return
	}
	applyFieldDefaults(keys,
		boolFieldDefault("metrics.enabled", &m.Enabled, true),
		stringFieldDefault("metrics.namespace", &m.Namespace, defaultMetricsNamespace),
	)
}

// Helper functions

type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func intFieldDefault(key string, target *int, def int) fieldDefault {
	return fieldDefault{
		key:   key,
		need:  func() bool { return target != nil && *target <= 0 },
		apply: func() { *target = def },
	}
}

// floatFieldDefault 只看键是否出现，显式配置 0 也会被保留。
func floatFieldDefault(key string, target *float64, def float64) fieldDefault {
	return fieldDefault{
		key:   key,
		need:  func() bool { return target != nil },
		apply: func() { *target = def },
	}
}

func boolFieldDefault(key string, target *bool, def bool) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func normalizeIDList(ids []string) []string {
	if len(ids) == 0 {
		return nil
	}
	out := make([]string, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		id = strings.ToLower(strings.TrimSpace(id))
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
