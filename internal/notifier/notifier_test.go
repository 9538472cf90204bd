package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"sealwatch/internal/decision"
	"sealwatch/internal/plan"
	"sealwatch/internal/regime"
	"sealwatch/internal/trigger"
)

type MockPublisher struct {
	mock.Mock
	name string
}

func (m *MockPublisher) Name() string { return m.name }

func (m *MockPublisher) Publish(ctx context.Context, rec decision.Record) error {
	args := m.Called(ctx, rec)
	return args.Error(0)
}

type MockRedis struct {
	mock.Mock
}

func (m *MockRedis) Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd {
	args := m.Called(ctx, channel, message)
	cmd := redis.NewIntCmd(ctx)
	cmd.SetVal(1)
	if err := args.Error(0); err != nil {
		cmd.SetErr(err)
	}
	return cmd
}

type MockWriter struct {
	mock.Mock
}

func (m *MockWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	args := m.Called(ctx, msgs)
	return args.Error(0)
}

func (m *MockWriter) Close() error { return m.Called().Error(0) }

func sampleRecord() decision.Record {
	return decision.Record{
		Agent:      decision.AgentName,
		TS:         "2026-03-02T10:15:00+08:00",
		Symbol:     "600001",
		Name:       "样例",
		StrategyID: "reseal",
		Action:     decision.Allow,
		Confidence: 0.9,
		Triggers: []trigger.Result{
			{Name: "environment_gate", Status: trigger.Pass, Detail: "YELLOW"},
			{Name: "pullback_limit", Status: trigger.Missing, Detail: "pullback_5m missing"},
		},
		Plan: plan.Plan{MaxSinglePosition: 0.1, ExitRules: []plan.ExitRule{
			{Kind: plan.ExitNoReseal, Text: "开板 60 秒未回封，退出"},
		}},
		Risks:      []string{"风险灯黄灯，仓位降档"},
		SnapshotID: "snap_a",
		Regime:     regime.Assessment{Light: regime.Yellow, Mode: regime.Normal},
		OneLiner:   "可执行 | 得分 39.7 | 仓位 10.0% | 条件 2/2 通过",
	}
}

func fastDispatcher(retries int, sinks ...Publisher) *Dispatcher {
	d := NewDispatcher(time.Second, retries, sinks...)
	d.minWait = time.Millisecond
	d.maxWait = 2 * time.Millisecond
	return d
}

func TestDispatcherIsolatesFailures(t *testing.T) {
	ok := &MockPublisher{name: "ok"}
	bad := &MockPublisher{name: "bad"}
	ok.On("Publish", mock.Anything, mock.Anything).Return(nil).Once()
	bad.On("Publish", mock.Anything, mock.Anything).Return(errors.New("down"))

	d := fastDispatcher(2, ok, bad)
	errs := d.Publish(context.Background(), sampleRecord())
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "notifier bad: down")
	ok.AssertNumberOfCalls(t, "Publish", 1)
	bad.AssertNumberOfCalls(t, "Publish", 3)
	assert.Equal(t, []string{"ok", "bad"}, d.Names())
}

func TestDispatcherRetriesUntilSuccess(t *testing.T) {
	flaky := &MockPublisher{name: "flaky"}
	flaky.On("Publish", mock.Anything, mock.Anything).Return(errors.New("once")).Once()
	flaky.On("Publish", mock.Anything, mock.Anything).Return(nil).Once()

	errs := fastDispatcher(3, flaky).Publish(context.Background(), sampleRecord())
	assert.Empty(t, errs)
	flaky.AssertExpectations(t)
}

type panicky struct{}

func (panicky) Name() string { return "panicky" }
func (panicky) Publish(context.Context, decision.Record) error {
	panic("sink bug")
}

func TestDispatcherRecoversPanics(t *testing.T) {
	errs := fastDispatcher(0, panicky{}).Publish(context.Background(), sampleRecord())
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "panic: sink bug")
	assert.Nil(t, NewDispatcher(0, 0).Publish(context.Background(), sampleRecord()))
}

func TestWebhook(t *testing.T) {
	var hits atomic.Int32
	var got decision.Record
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "secret", r.Header.Get("X-Token"))
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	wh, err := NewWebhook(WebhookOptions{URL: srv.URL, Headers: map[string]string{"X-Token": "secret"}, RatePerSec: 100, Burst: 5})
	require.NoError(t, err)
	require.NoError(t, wh.Publish(context.Background(), sampleRecord()))
	assert.EqualValues(t, 1, hits.Load())
	assert.Equal(t, "600001", got.Symbol)

	_, err = NewWebhook(WebhookOptions{})
	assert.Error(t, err)
}

func TestWebhookBreakerOpens(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	wh, err := NewWebhook(WebhookOptions{URL: srv.URL})
	require.NoError(t, err)
	for i := 0; i < 8; i++ {
		assert.Error(t, wh.Publish(context.Background(), sampleRecord()))
	}
	assert.EqualValues(t, 5, hits.Load(), "breaker stops calls after five consecutive failures")
}

func TestTelegram(t *testing.T) {
	var payload map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)
		_ = json.NewDecoder(r.Body).Decode(&payload)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	tg := NewTelegram("TOKEN", "42")
	tg.BaseURL = srv.URL
	require.NoError(t, tg.Publish(context.Background(), sampleRecord()))
	assert.Equal(t, "42", payload["chat_id"])
	text, _ := payload["text"].(string)
	assert.Contains(t, text, "600001 样例 [reseal] 可执行")
	assert.Contains(t, text, "? pullback_limit")

	assert.Error(t, NewTelegram("", "").SendText(context.Background(), "x"))
}

func TestRedis(t *testing.T) {
	m := &MockRedis{}
	m.On("Publish", mock.Anything, "sealwatch:decisions", mock.MatchedBy(func(b []byte) bool {
		return strings.Contains(string(b), `"symbol":"600001"`)
	})).Return(nil).Once()
	r := NewRedis(m, "")
	require.NoError(t, r.Publish(context.Background(), sampleRecord()))
	m.AssertExpectations(t)

	failing := &MockRedis{}
	failing.On("Publish", mock.Anything, "ch", mock.Anything).Return(errors.New("conn refused"))
	assert.EqualError(t, NewRedis(failing, "ch").Publish(context.Background(), sampleRecord()), "conn refused")
}

func TestKafkaKeysByStrategyAndSymbol(t *testing.T) {
	w := &MockWriter{}
	w.On("WriteMessages", mock.Anything, mock.MatchedBy(func(msgs []kafka.Message) bool {
		return len(msgs) == 1 && string(msgs[0].Key) == "reseal|600001" && string(msgs[0].Headers[0].Value) == "ALLOW"
	})).Return(nil).Once()
	w.On("Close").Return(nil)

	k := NewKafka(w, "sealwatch.decisions")
	require.NoError(t, k.Publish(context.Background(), sampleRecord()))
	require.NoError(t, k.Close())
	w.AssertExpectations(t)

	_, err := NewKafkaWriter(nil, "t")
	assert.Error(t, err)
}

func TestHubBroadcast(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(hub)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, hub.Publish(context.Background(), sampleRecord()))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	var ev struct {
		Type string          `json:"type"`
		Data decision.Record `json:"data"`
	}
	require.NoError(t, json.Unmarshal(msg, &ev))
	assert.Equal(t, "decision", ev.Type)
	assert.Equal(t, "600001", ev.Data.Symbol)

	hub.Close()
	assert.Equal(t, 0, hub.Clients())
}

func TestRenderMarkdownTruncates(t *testing.T) {
	rec := sampleRecord()
	for i := 0; i < 400; i++ {
		rec.Warnings = append(rec.Warnings, "数据延迟较大，请注意风险提示")
	}
	out := FormatRecord(rec).RenderMarkdown()
	assert.LessOrEqual(t, len(out), maxStructuredMessageLen+3)
	assert.True(t, strings.HasSuffix(out, "..."))
}
