package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"sealwatch/internal/decision"
	"sealwatch/internal/logger"
)

// Webhook POST 决策记录 JSON 到固定地址；带限流和熔断。
type Webhook struct {
	url     string
	headers map[string]string
	client  *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
}

type WebhookOptions struct {
	URL        string
	Headers    map[string]string
	RatePerSec float64
	Burst      int
	Timeout    time.Duration
}

func NewWebhook(opt WebhookOptions) (*Webhook, error) {
	url := strings.TrimSpace(opt.URL)
	if url == "" {
		return nil, fmt.Errorf("webhook url 不能为空")
	}
	if opt.Timeout <= 0 {
		opt.Timeout = 10 * time.Second
	}
	limit := rate.Inf
	if opt.RatePerSec > 0 {
		limit = rate.Limit(opt.RatePerSec)
	}
	burst := opt.Burst
	if burst <= 0 {
		burst = 1
	}
	st := gobreaker.Settings{
		Name:     "webhook",
		Interval: 60 * time.Second,
		Timeout:  30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warnf("circuit %s: %s -> %s", name, from, to)
		},
	}
	return &Webhook{
		url:     url,
		headers: opt.Headers,
		client:  &http.Client{Timeout: opt.Timeout},
		limiter: rate.NewLimiter(limit, burst),
		breaker: gobreaker.NewCircuitBreaker(st),
	}, nil
}

func (w *Webhook) Name() string { return "webhook" }

func (w *Webhook) Publish(ctx context.Context, rec decision.Record) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := w.limiter.Wait(ctx); err != nil {
		return err
	}
	_, err = w.breaker.Execute(func() (interface{}, error) {
		return nil, w.post(ctx, body)
	})
	return err
}

func (w *Webhook) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range w.headers {
		req.Header.Set(k, v)
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("webhook status=%d", resp.StatusCode)
	}
	return nil
}
