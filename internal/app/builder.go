package app

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"time"

	"sealwatch/internal/agent"
	"sealwatch/internal/config"
	"sealwatch/internal/engine"
	"sealwatch/internal/live"
	"sealwatch/internal/logger"
	"sealwatch/internal/metrics"
	"sealwatch/internal/notifier"
	"sealwatch/internal/replay"
	"sealwatch/internal/source"
	"sealwatch/internal/store/alertstore"
	"sealwatch/internal/store/snapshotstore"
	"sealwatch/internal/strategy"
	livehttp "sealwatch/internal/transport/http/live"
)

type AppBuilder struct {
	cfg *config.Config

	sourceFn     func(config.SourceConfig) (source.Source, error)
	dispatcherFn func(config.NotifyConfig, *notifier.Hub) (*notifier.Dispatcher, []func() error, error)
	explainerFn  func(config.AgentConfig, float64) live.Explainer
}

type AppBuilderOption func(*AppBuilder)

// WithSource 替换快照来源，测试与离线回放使用。
func WithSource(fn func(config.SourceConfig) (source.Source, error)) AppBuilderOption {
	return func(b *AppBuilder) { b.sourceFn = fn }
}

func NewAppBuilder(cfg *config.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:          cfg,
		sourceFn:     buildSource,
		dispatcherFn: buildDispatcher,
		explainerFn:  buildExplainer,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func (b *AppBuilder) Build(ctx context.Context) (*App, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if b.cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	cfg := b.cfg
	logger.SetLevel(cfg.App.LogLevel)
	logger.SetFormat(cfg.App.LogFormat)

	app := &App{cfg: cfg}
	ok := false
	defer func() {
		if !ok {
			app.Close()
		}
	}()

	loader, err := strategy.NewLoader(cfg.Engine.ProfilesPath)
	if err != nil {
		return nil, fmt.Errorf("load profiles: %w", err)
	}
	if cfg.Engine.WatchProfiles {
		loader.Watch()
	}
	app.loader = loader
	eng := engine.New(cfg.EngineSettings(), loader)

	alerts, err := alertstore.Open(cfg.Store.AlertDBPath)
	if err != nil {
		return nil, fmt.Errorf("open alert store: %w", err)
	}
	app.closers = append(app.closers, alerts.Close)
	snaps, err := snapshotstore.Open(cfg.Store.SnapshotDBPath)
	if err != nil {
		return nil, fmt.Errorf("open snapshot store: %w", err)
	}
	app.closers = append(app.closers, snaps.Close)

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New(cfg.Metrics.Namespace)
	}

	var hub *notifier.Hub
	if cfg.Notify.WebSocket.Enabled {
		hub = notifier.NewHub()
		app.closers = append(app.closers, func() error { hub.Close(); return nil })
	}
	dispatcher, closers, err := b.dispatcherFn(cfg.Notify, hub)
	if err != nil {
		return nil, err
	}
	app.closers = append(app.closers, closers...)

	src, err := b.sourceFn(cfg.Source)
	if err != nil {
		return nil, err
	}
	explainer := b.explainerFn(cfg.Agent, eng.Config().Gate.AllowFloor)

	deps := live.Deps{
		Engine:    eng,
		Source:    src,
		Alerts:    alerts,
		Snapshots: snaps,
		Explainer: explainer,
		Metrics:   m,
	}
	if len(dispatcher.Names()) > 0 {
		deps.Publisher = dispatcher
	}
	if hub != nil {
		deps.Hub = hub
	}
	svc := live.NewService(live.Options{
		Interval:              cfg.Engine.TickInterval(),
		Offset:                cfg.Engine.TickOffset(),
		Sessions:              cfg.Engine.TradingSessions(),
		SnapshotMaxCandidates: cfg.Store.SnapshotMaxCandidates,
		EdgeTimeout:           time.Duration(cfg.Notify.TimeoutSec) * time.Second,
		EdgeRetries:           cfg.Notify.MaxRetries,
		BreakerThreshold:      cfg.Source.BreakerThreshold,
		BreakerCooldown:       time.Duration(cfg.Source.BreakerCooldownSec) * time.Second,
	}, deps)
	svc.WatchProfiles(ctx, loader)
	app.live = svc
	app.replay = replay.New(alerts, snaps, eng)

	serverCfg := livehttp.ServerConfig{
		Addr:     cfg.App.HTTPAddr,
		Live:     svc,
		Alerts:   alerts,
		Replay:   app.replay,
		Profiles: loader,
	}
	if hub != nil {
		serverCfg.Stream = hub
	}
	if m != nil {
		serverCfg.Metrics = m.Handler()
	}
	server, err := livehttp.NewServer(serverCfg)
	if err != nil {
		return nil, err
	}
	app.liveHTTP = server

	app.Summary = buildSummary(cfg, loader.Snapshot(), src, dispatcher.Names(), explainer != nil)
	ok = true
	return app, nil
}

// buildSource 按配置创建拉取源；push 模式返回 nil，只接受 POST /api/snapshots。
func buildSource(cfg config.SourceConfig) (source.Source, error) {
	switch cfg.Kind {
	case "file":
		f, err := source.NewFile(cfg.Path)
		if err != nil {
			return nil, err
		}
		return f, nil
	case "http":
		h, err := source.NewHTTP(cfg.URL, cfg.Headers, time.Duration(cfg.TimeoutSec)*time.Second)
		if err != nil {
			return nil, err
		}
		return h, nil
	case "push", "":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown source kind %q", cfg.Kind)
	}
}

// buildDispatcher 组装推送通道；返回的 closers 在应用退出时调用。
func buildDispatcher(cfg config.NotifyConfig, hub *notifier.Hub) (*notifier.Dispatcher, []func() error, error) {
	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	d := notifier.NewDispatcher(timeout, cfg.MaxRetries)
	var closers []func() error
	if cfg.Webhook.Enabled {
		wh, err := notifier.NewWebhook(notifier.WebhookOptions{
			URL:        cfg.Webhook.URL,
			Headers:    cfg.Webhook.Headers,
			RatePerSec: cfg.Webhook.RatePerSec,
			Burst:      cfg.Webhook.Burst,
			Timeout:    timeout,
		})
		if err != nil {
			return nil, nil, err
		}
		d.Add(wh)
	}
	if cfg.Telegram.Enabled {
		d.Add(notifier.NewTelegram(cfg.Telegram.BotToken, cfg.Telegram.ChatID))
	}
	if cfg.Redis.Enabled {
		client := notifier.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		closers = append(closers, client.Close)
		d.Add(notifier.NewRedis(client, cfg.Redis.Channel))
	}
	if cfg.Kafka.Enabled {
		w, err := notifier.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			return nil, closers, err
		}
		k := notifier.NewKafka(w, cfg.Kafka.Topic)
		closers = append(closers, k.Close)
		d.Add(k)
	}
	if hub != nil {
		d.Add(hub)
	}
	return d, closers, nil
}

// buildExplainer 只有在启用代理且开启自动解释时才返回客户端。
func buildExplainer(cfg config.AgentConfig, allowFloor float64) live.Explainer {
	if !cfg.Enabled || !cfg.AutoExplain {
		return nil
	}
	c := agent.NewClient(cfg.Endpoint, cfg.APIKey, cfg.Model, cfg.Headers, time.Duration(cfg.TimeoutSec)*time.Second)
	c.AllowFloor = allowFloor
	return c
}

func buildSummary(cfg *config.Config, set strategy.Set, src source.Source, sinks []string, explain bool) *StartupSummary {
	s := &StartupSummary{
		Env:      cfg.App.Env,
		HTTPAddr: cfg.App.HTTPAddr,
		Source:   "push",
		Interval: cfg.Engine.TickInterval().String(),
		Sessions: cfg.Engine.Sessions,
		Rejected: set.Rejected,
		Sinks:    sinks,
		Agent:    "disabled",
		Stores:   []string{cfg.Store.AlertDBPath, cfg.Store.SnapshotDBPath},
	}
	if src != nil {
		s.Source = src.Name()
	}
	switch {
	case explain:
		s.Agent = cfg.Agent.Model + " (auto explain)"
	case cfg.Agent.Enabled:
		s.Agent = cfg.Agent.Model + " (on demand)"
	}
	for _, id := range set.IDs() {
		p, _ := set.Get(id)
		s.Strategies = append(s.Strategies, StrategyDetail{
			ID:       p.ID,
			Name:     p.Name,
			Version:  p.Version,
			Disabled: p.Disabled,
			Rules:    len(p.Rules),
			Required: p.RequiredCount(),
		})
	}
	sort.Slice(s.Strategies, func(i, j int) bool { return s.Strategies[i].ID < s.Strategies[j].ID })
	return s
}

// Handler 返回 HTTP 路由，便于测试直接调用。
func (a *App) Handler() http.Handler {
	if a == nil || a.liveHTTP == nil {
		return nil
	}
	return a.liveHTTP.Handler()
}
