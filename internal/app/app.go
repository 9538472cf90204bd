package app

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"sealwatch/internal/config"
	"sealwatch/internal/live"
	"sealwatch/internal/logger"
	"sealwatch/internal/replay"
	"sealwatch/internal/strategy"
	livehttp "sealwatch/internal/transport/http/live"
)

// App 负责应用级编排：加载配置→初始化依赖→启动实时评估与 HTTP 服务。
type App struct {
	cfg      *config.Config
	loader   *strategy.Loader
	live     *live.Service
	replay   *replay.Service
	liveHTTP *livehttp.Server
	closers  []func() error
	Summary  *StartupSummary
}

// NewApp 根据配置构建应用对象（不启动）
func NewApp(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return buildAppWithWire(context.Background(), cfg)
}

// Run 启动实时评估与 HTTP 服务，直到 ctx 结束。
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	if a.live == nil {
		return fmt.Errorf("live service not initialized")
	}
	if a.Summary != nil {
		a.Summary.Print()
	}
	defer a.Close()

	group, ctx := errgroup.WithContext(ctx)
	if a.liveHTTP != nil {
		group.Go(func() error {
			if err := a.liveHTTP.Start(ctx); err != nil {
				return fmt.Errorf("live http server error: %w", err)
			}
			return nil
		})
	}
	group.Go(func() error {
		return a.live.Run(ctx)
	})
	return group.Wait()
}

// Close 等待排队中的副作用完成后关闭存储与推送通道。
func (a *App) Close() {
	if a == nil {
		return
	}
	if a.live != nil {
		a.live.Close()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			logger.Warnf("close failed: %v", err)
		}
	}
	a.closers = nil
}

func (a *App) Live() *live.Service {
	if a == nil {
		return nil
	}
	return a.live
}

func (a *App) Replay() *replay.Service {
	if a == nil {
		return nil
	}
	return a.replay
}

func (a *App) Profiles() *strategy.Loader {
	if a == nil {
		return nil
	}
	return a.loader
}
