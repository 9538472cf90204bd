// Package notifier 把决策记录推送到外部通道（webhook、Telegram、Redis、Kafka、WebSocket）。
package notifier

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jpillora/backoff"

	"sealwatch/internal/decision"
	"sealwatch/internal/logger"
)

// Publisher 是一个推送通道。实现需要遵守 ctx 的超时。
type Publisher interface {
	Name() string
	Publish(ctx context.Context, rec decision.Record) error
}

const defaultSinkTimeout = 5 * time.Second

// Dispatcher 并发地把同一条记录发给所有通道，每个通道单独计时。
// 单个通道失败不影响其它通道。
type Dispatcher struct {
	mu      sync.RWMutex
	sinks   []Publisher
	timeout time.Duration
	retries int
	// minWait/maxWait 控制重试退避区间。
	minWait, maxWait time.Duration
}

// NewDispatcher 创建分发器；retries 为单个通道失败后的最大重试次数。
func NewDispatcher(timeout time.Duration, retries int, sinks ...Publisher) *Dispatcher {
	if timeout <= 0 {
		timeout = defaultSinkTimeout
	}
	if retries < 0 {
		retries = 0
	}
	d := &Dispatcher{timeout: timeout, retries: retries, minWait: 200 * time.Millisecond, maxWait: 5 * time.Second}
	for _, s := range sinks {
		d.Add(s)
	}
	return d
}

func (d *Dispatcher) Add(p Publisher) {
	if p == nil {
		return
	}
	d.mu.Lock()
	d.sinks = append(d.sinks, p)
	d.mu.Unlock()
}

func (d *Dispatcher) Names() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, 0, len(d.sinks))
	for _, s := range d.sinks {
		out = append(out, s.Name())
	}
	return out
}

// Publish 返回各通道的错误（已带通道名），全部成功时为 nil。
func (d *Dispatcher) Publish(ctx context.Context, rec decision.Record) []error {
	d.mu.RLock()
	sinks := append([]Publisher(nil), d.sinks...)
	d.mu.RUnlock()
	if len(sinks) == 0 {
		return nil
	}
	errs := make([]error, len(sinks))
	var wg sync.WaitGroup
	for i, s := range sinks {
		wg.Add(1)
		go func(i int, s Publisher) {
			defer wg.Done()
			errs[i] = d.publishOne(ctx, s, rec)
		}(i, s)
	}
	wg.Wait()

	var out []error
	for _, err := range errs {
		if err != nil {
			out = append(out, err)
		}
	}
	return out
}

func (d *Dispatcher) publishOne(ctx context.Context, s Publisher, rec decision.Record) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("notifier %s: panic: %v", s.Name(), r)
		}
		if err != nil {
			logger.Warnf("推送失败 sink=%s symbol=%s strategy=%s: %v", s.Name(), rec.Symbol, rec.StrategyID, err)
		}
	}()
	b := &backoff.Backoff{Min: d.minWait, Max: d.maxWait, Factor: 2, Jitter: true}
	for attempt := 0; ; attempt++ {
		err = d.attempt(ctx, s, rec)
		if err == nil || attempt >= d.retries {
			return err
		}
		wait := b.Duration()
		logger.Debugf("sink=%s attempt %d failed, retry in %s: %v", s.Name(), attempt+1, wait, err)
		select {
		case <-ctx.Done():
			return fmt.Errorf("notifier %s: %w (last error: %v)", s.Name(), ctx.Err(), err)
		case <-time.After(wait):
		}
	}
}

func (d *Dispatcher) attempt(ctx context.Context, s Publisher, rec decision.Record) error {
	sctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	if err := s.Publish(sctx, rec); err != nil {
		return fmt.Errorf("notifier %s: %w", s.Name(), err)
	}
	return nil
}
