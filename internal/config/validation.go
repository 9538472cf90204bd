package config

import (
	"fmt"
	"net/url"
	"strings"

	"sealwatch/internal/scheduler"
)

// validate 对配置进行基础校验。
func validate(c *Config) error {
	if err := c.Engine.validate(); err != nil {
		return err
	}
	if err := c.Regime.validate(); err != nil {
		return err
	}
	if err := c.Source.validate(); err != nil {
		return err
	}
	if err := c.Store.validate(); err != nil {
		return err
	}
	if err := c.Notify.validate(); err != nil {
		return err
	}
	if err := c.Agent.validate(); err != nil {
		return err
	}
	return nil
}

func (e *EngineConfig) validate() error {
	if e.TickIntervalSec <= 0 {
		return fmt.Errorf("engine.tick_interval_sec must be > 0")
	}
	if e.Workers < 0 {
		return fmt.Errorf("engine.workers must be >= 0")
	}
	if e.MaxDataLagSec <= 0 {
		return fmt.Errorf("engine.max_data_lag_sec must be > 0")
	}
	if e.StaleBlockMultiplier < 1 {
		return fmt.Errorf("engine.stale_block_multiplier must be >= 1")
	}
	if e.AllowConfidenceFloor < 0.6 || e.AllowConfidenceFloor > 1 {
		return fmt.Errorf("engine.allow_confidence_floor must be in [0.6,1]")
	}
	for name, v := range map[string]float64{
		"missing_penalty":  e.Confidence.MissingPenalty,
		"yellow_penalty":   e.Confidence.YellowPenalty,
		"degraded_penalty": e.Confidence.DegradedPenalty,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("engine.confidence.%s must be in [0,1]", name)
		}
	}
	if _, err := scheduler.ParseSessions(e.Sessions, nil); err != nil {
		return fmt.Errorf("engine.sessions: %w", err)
	}
	if strings.TrimSpace(e.ProfilesPath) == "" {
		return fmt.Errorf("engine.profiles_path cannot be empty")
	}
	return nil
}

func (r *RegimeConfig) validate() error {
	if r.YellowBombRate > r.RedBombRate {
		return fmt.Errorf("regime.yellow_bomb_rate must be <= regime.red_bomb_rate")
	}
	if r.YellowLimitDownMax > r.RedLimitDownMax {
		return fmt.Errorf("regime.yellow_limit_down_max must be <= regime.red_limit_down_max")
	}
	if r.RedBombRate <= 0 || r.RedBombRate > 1 {
		return fmt.Errorf("regime.red_bomb_rate must be in (0,1]")
	}
	return nil
}

func (s *SourceConfig) validate() error {
	switch s.Kind {
	case "file":
		if strings.TrimSpace(s.Path) == "" {
			return fmt.Errorf("source.path cannot be empty for file source")
		}
	case "http":
		u, err := url.Parse(strings.TrimSpace(s.URL))
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("source.url must be an absolute url for http source")
		}
	case "push":
	default:
		return fmt.Errorf("source.kind must be one of file, http, push (got %q)", s.Kind)
	}
	return nil
}

func (s *StoreConfig) validate() error {
	if strings.TrimSpace(s.AlertDBPath) == "" {
		return fmt.Errorf("store.alert_db_path cannot be empty")
	}
	if strings.TrimSpace(s.SnapshotDBPath) == "" {
		return fmt.Errorf("store.snapshot_db_path cannot be empty")
	}
	if s.SnapshotMaxCandidates <= 0 || s.SnapshotMaxCandidates > 500 {
		return fmt.Errorf("store.snapshot_max_candidates must be in [1,500]")
	}
	return nil
}

func (n *NotifyConfig) validate() error {
	if n.MaxRetries < 0 {
		return fmt.Errorf("notify.max_retries must be >= 0")
	}
	if n.Webhook.Enabled && strings.TrimSpace(n.Webhook.URL) == "" {
		return fmt.Errorf("notify.webhook enabled but url is empty")
	}
	if n.Telegram.Enabled {
		if n.Telegram.BotToken == "" || n.Telegram.ChatID == "" {
			return fmt.Errorf("telegram notification enabled but missing bot_token or chat_id")
		}
	}
	if n.Redis.Enabled && strings.TrimSpace(n.Redis.Addr) == "" {
		return fmt.Errorf("notify.redis enabled but addr is empty")
	}
	if n.Kafka.Enabled && len(n.Kafka.Brokers) == 0 {
		return fmt.Errorf("notify.kafka enabled but brokers is empty")
	}
	return nil
}

func (a *AgentConfig) validate() error {
	if !a.Enabled {
		return nil
	}
	if strings.TrimSpace(a.Endpoint) == "" {
		return fmt.Errorf("agent.endpoint cannot be empty when agent is enabled")
	}
	if strings.TrimSpace(a.Model) == "" {
		return fmt.Errorf("agent.model cannot be empty when agent is enabled")
	}
	return nil
}
