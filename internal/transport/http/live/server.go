// Package livehttp 暴露实时决策、提醒标注、复盘与策略管理的 HTTP 接口。
package livehttp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"sealwatch/internal/logger"
)

const shutdownTimeout = 5 * time.Second

type Server struct {
	router *gin.Engine

	mu   sync.Mutex
	addr string
}

// ServerConfig 描述 HTTP 服务依赖；为 nil 的依赖对应的接口返回 503。
type ServerConfig struct {
	Addr     string
	Live     LiveService
	Alerts   AlertStore
	Replay   Replayer
	Profiles ProfileManager
	Stream   http.Handler
	Metrics  http.Handler
}

func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Live == nil {
		return nil, errors.New("live http server requires live service")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":9991"
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if cfg.Metrics != nil {
		router.GET("/metrics", gin.WrapH(cfg.Metrics))
	}
	if cfg.Stream != nil {
		router.GET("/ws/stream", gin.WrapH(cfg.Stream))
	}
	NewRouter(cfg).Register(router.Group("/api"))
	return &Server{addr: cfg.Addr, router: router}, nil
}

// requestLogger 记录接口调用，便于追踪人工操作。
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if !logger.Enabled(slog.LevelDebug) {
			return
		}
		logger.With("component", "http").Debug("request",
			"method", c.Request.Method,
			"uri", c.Request.URL.RequestURI(),
			"status", c.Writer.Status(),
			"ip", c.ClientIP(),
			"dur", time.Since(start))
	}
}

// Addr 返回监听地址；Start 之后为实际绑定的地址（配置端口为 0 时有用）。
func (s *Server) Addr() string {
	if s == nil {
		return ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Start 启动 HTTP 服务，直到 ctx 取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	ln, err := net.Listen("tcp", s.Addr())
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.Addr(), err)
	}
	s.mu.Lock()
	s.addr = ln.Addr().String()
	s.mu.Unlock()

	srv := &http.Server{Handler: s.router, ReadHeaderTimeout: 5 * time.Second}
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ln) }()
	logger.Infof("http server listening on %s", ln.Addr())

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shCtx); err != nil {
			logger.Warnf("http server shutdown: %v", err)
		}
		<-done
		return nil
	case err := <-done:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
