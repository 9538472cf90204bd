package config

import "strings"

// Config 是 sealwatch 的主配置载体。
type Config struct {
	App     AppConfig     `toml:"app"`
	Engine  EngineConfig  `toml:"engine"`
	Regime  RegimeConfig  `toml:"regime"`
	Source  SourceConfig  `toml:"source"`
	Store   StoreConfig   `toml:"store"`
	Notify  NotifyConfig  `toml:"notify"`
	Agent   AgentConfig   `toml:"agent"`
	Metrics MetricsConfig `toml:"metrics"`
}

type AppConfig struct {
	Env          string `toml:"env"`
	LogLevel     string `toml:"log_level"`
	LogFormat    string `toml:"log_format"`
	HTTPAddr     string `toml:"http_addr"`
	LogPath      string `toml:"log_path"`
	AgentLogPath string `toml:"agent_log_path"`
}

// EngineConfig 控制 tick 节奏、并发与决策闸门参数。
type EngineConfig struct {
	TickIntervalSec      int              `toml:"tick_interval_sec"`
	TickOffsetMs         int              `toml:"tick_offset_ms"`
	Sessions             string           `toml:"sessions"`
	Workers              int              `toml:"workers"`
	MaxDataLagSec        float64          `toml:"max_data_lag_sec"`
	StaleBlockMultiplier float64          `toml:"stale_block_multiplier"`
	AllowConfidenceFloor float64          `toml:"allow_confidence_floor"`
	Confidence           ConfidenceConfig `toml:"confidence"`
	ActiveStrategies     []string         `toml:"active_strategies"`
	ProfilesPath         string           `toml:"profiles_path"`
	WatchProfiles        bool             `toml:"watch_profiles"`
}

type ConfidenceConfig struct {
	MissingPenalty  float64 `toml:"missing_penalty"`
	YellowPenalty   float64 `toml:"yellow_penalty"`
	DegradedPenalty float64 `toml:"degraded_penalty"`
}

// RegimeConfig 与 regime.Thresholds 一一对应；未配置的键使用默认值。
type RegimeConfig struct {
	RedLimitDownMax          float64 `toml:"red_limit_down_max"`
	RedBombRate              float64 `toml:"red_bomb_rate"`
	YellowBombRate           float64 `toml:"yellow_bomb_rate"`
	YellowLimitUpMin         float64 `toml:"yellow_limit_up_min"`
	YellowLimitDownMax       float64 `toml:"yellow_limit_down_max"`
	EscalateMode             bool    `toml:"escalate_mode"`
	StrongLimitUpMin         float64 `toml:"strong_limit_up_min"`
	StrongBombRateMax        float64 `toml:"strong_bomb_rate_max"`
	StrongLimitDownMax       float64 `toml:"strong_limit_down_max"`
	StrongIndexRetMin        float64 `toml:"strong_index_ret_min"`
	WeakLimitUpBelow         float64 `toml:"weak_limit_up_below"`
	WeakLimitDownAbove       float64 `toml:"weak_limit_down_above"`
	WeakBombRateAbove        float64 `toml:"weak_bomb_rate_above"`
	WeakIndexRetBelow        float64 `toml:"weak_index_ret_below"`
	ChaosBombRateAbove       float64 `toml:"chaos_bomb_rate_above"`
	ChaosLimitDownAbove      float64 `toml:"chaos_limit_down_above"`
	DivergenceBombRateAbove  float64 `toml:"divergence_bomb_rate_above"`
	DivergenceLimitDownAbove float64 `toml:"divergence_limit_down_above"`
}

// SourceConfig 描述 FeatureSnapshot 的拉取方式。
type SourceConfig struct {
	Kind               string            `toml:"kind"` // "file" | "http" | "push"
	Path               string            `toml:"path"`
	URL                string            `toml:"url"`
	Headers            map[string]string `toml:"headers"`
	TimeoutSec         int               `toml:"timeout_sec"`
	BreakerThreshold   int               `toml:"breaker_threshold"`
	BreakerCooldownSec int               `toml:"breaker_cooldown_sec"`
}

type StoreConfig struct {
	AlertDBPath           string `toml:"alert_db_path"`
	SnapshotDBPath        string `toml:"snapshot_db_path"`
	SnapshotMaxCandidates int    `toml:"snapshot_max_candidates"`
}

type NotifyConfig struct {
	TimeoutSec int             `toml:"timeout_sec"`
	MaxRetries int             `toml:"max_retries"`
	Webhook    WebhookConfig   `toml:"webhook"`
	Telegram   TelegramConfig  `toml:"telegram"`
	Redis      RedisConfig     `toml:"redis"`
	Kafka      KafkaConfig     `toml:"kafka"`
	WebSocket  WebSocketConfig `toml:"websocket"`
}

type WebhookConfig struct {
	Enabled    bool              `toml:"enabled"`
	URL        string            `toml:"url"`
	Headers    map[string]string `toml:"headers"`
	RatePerSec float64           `toml:"rate_per_sec"`
	Burst      int               `toml:"burst"`
}

type TelegramConfig struct {
	Enabled  bool   `toml:"enabled"`
	BotToken string `toml:"bot_token"`
	ChatID   string `toml:"chat_id"`
}

type RedisConfig struct {
	Enabled  bool   `toml:"enabled"`
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
	Channel  string `toml:"channel"`
}

type KafkaConfig struct {
	Enabled bool     `toml:"enabled"`
	Brokers []string `toml:"brokers"`
	Topic   string   `toml:"topic"`
}

type WebSocketConfig struct {
	Enabled bool `toml:"enabled"`
}

// AgentConfig 描述可选的解释代理（LLM 服务）。
type AgentConfig struct {
	Enabled    bool              `toml:"enabled"`
	Endpoint   string            `toml:"endpoint"`
	APIKey     string            `toml:"api_key"`
	Model      string            `toml:"model"`
	Headers    map[string]string `toml:"headers"`
	TimeoutSec int               `toml:"timeout_sec"`
	// AutoExplain 为 true 时对 ALLOW/WATCH 决策自动请求解释文本。
	AutoExplain bool `toml:"auto_explain"`
}

type MetricsConfig struct {
	Enabled   bool   `toml:"enabled"`
	Namespace string `toml:"namespace"`
}

type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

// collect 记录配置中出现过的叶子键（点分路径），数组整体视为一个叶子。
func (k keySet) collect(prefix string, node any) {
	m, ok := node.(map[string]any)
	if !ok {
		k.mark(prefix)
		return
	}
	for key, child := range m {
		key = strings.ToLower(strings.TrimSpace(key))
		if key == "" {
			continue
		}
		if prefix != "" {
			key = prefix + "." + key
		}
		k.collect(key, child)
	}
}
