// Package logger 是进程级日志：slog 文本/JSON handler，级别可在运行时调整。
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	level   slog.LevelVar
	mu      sync.RWMutex
	out     io.Writer = os.Stdout
	asJSON  bool
	current = build(os.Stdout, false)
)

func build(w io.Writer, json bool) *slog.Logger {
	opts := &slog.HandlerOptions{Level: &level}
	if json {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// configure 在锁内修改输出参数并重建 handler。
func configure(fn func()) {
	mu.Lock()
	defer mu.Unlock()
	fn()
	current = build(out, asJSON)
}

func SetOutput(w io.Writer) {
	if w == nil {
		w = os.Stdout
	}
	configure(func() { out = w })
}

// SetFormat 切换输出格式："json" 或 "text"（默认）。
func SetFormat(format string) {
	configure(func() { asJSON = strings.EqualFold(strings.TrimSpace(format), "json") })
}

func ParseLevel(s string) (slog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, true
	case "info":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	}
	return slog.LevelInfo, false
}

// SetLevel 无法识别的级别按 info 处理。
func SetLevel(s string) {
	lv, ok := ParseLevel(s)
	level.Set(lv)
	if !ok && strings.TrimSpace(s) != "" {
		Warnf("unknown log level %q, using info", s)
	}
}

func Enabled(lv slog.Level) bool { return lv >= level.Level() }

func active() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return current
}

// With 返回带固定字段的 slog.Logger，用于需要结构化字段的调用点。
func With(args ...any) *slog.Logger {
	return active().With(args...)
}

func logf(lv slog.Level, format string, v ...any) {
	if !Enabled(lv) {
		return
	}
	active().Log(context.Background(), lv, fmt.Sprintf(format, v...))
}

func Debugf(format string, v ...any) { logf(slog.LevelDebug, format, v...) }
func Infof(format string, v ...any)  { logf(slog.LevelInfo, format, v...) }
func Warnf(format string, v ...any)  { logf(slog.LevelWarn, format, v...) }
func Errorf(format string, v ...any) { logf(slog.LevelError, format, v...) }
