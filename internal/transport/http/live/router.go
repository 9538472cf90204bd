package livehttp

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"sealwatch/internal/decision"
	"sealwatch/internal/engine"
	"sealwatch/internal/live"
	"sealwatch/internal/logger"
	"sealwatch/internal/replay"
	"sealwatch/internal/snapshot"
	"sealwatch/internal/store/alertstore"
	"sealwatch/internal/strategy"
)

type LiveService interface {
	Latest() *engine.TickResult
	Status() live.Status
	Ingest(ctx context.Context, snap *snapshot.FeatureSnapshot) (*engine.TickResult, error)
	Engine() *engine.Engine
}

type AlertStore interface {
	List(ctx context.Context, q alertstore.Query) ([]alertstore.Alert, error)
	UpdateLabel(ctx context.Context, alertID string, label alertstore.Label, note string) (alertstore.Alert, error)
	Stats(ctx context.Context, since time.Time) (alertstore.Stats, error)
}

type Replayer interface {
	Snapshot(ctx context.Context, snapshotID string, reevaluate bool) (*replay.SnapshotReplay, error)
	DailySummary(ctx context.Context, day time.Time) (replay.DailySummary, error)
	FailurePatterns(ctx context.Context, days int, now time.Time) ([]replay.FailurePattern, error)
}

// ProfileManager 由 strategy.Loader 实现。
type ProfileManager interface {
	Snapshot() strategy.Set
	SetEnabled(id string, enabled bool) error
	Reload() error
	LoadedAt() time.Time
}

const maxSnapshotBody = 8 << 20

type Router struct {
	live     LiveService
	alerts   AlertStore
	replay   Replayer
	profiles ProfileManager
	now      func() time.Time
}

func NewRouter(cfg ServerConfig) *Router {
	return &Router{
		live:     cfg.Live,
		alerts:   cfg.Alerts,
		replay:   cfg.Replay,
		profiles: cfg.Profiles,
		now:      time.Now,
	}
}

// Register 将 /api 路由挂载到给定分组下。
func (r *Router) Register(group *gin.RouterGroup) {
	if group == nil {
		return
	}
	group.GET("/status", r.handleStatus)
	group.GET("/candidates", r.handleCandidates)
	group.GET("/decisions", r.handleDecisions)
	group.GET("/decisions/latest", r.handleLatestDecisions)
	group.GET("/evaluate", r.handleEvaluate)
	group.POST("/snapshots", r.handlePushSnapshot)

	group.PATCH("/alerts/:id/label", r.handleAlertLabel)
	group.GET("/alerts/stats", r.handleAlertStats)

	group.GET("/replay/snapshot/:id", r.handleReplaySnapshot)
	group.GET("/replay/daily", r.handleReplayDaily)
	group.GET("/replay/failures", r.handleReplayFailures)

	group.GET("/strategies", r.handleStrategies)
	group.POST("/strategies/reload", r.handleStrategyReload)
	group.POST("/strategies/:id/activate", r.handleStrategyToggle(true))
	group.POST("/strategies/:id/deactivate", r.handleStrategyToggle(false))

	group.GET("/agent/input_bundle", r.handleAgentBundle)
	group.POST("/agent/apply_output", r.handleAgentApply)
}

func (r *Router) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, r.live.Status())
}

func (r *Router) latestOr503(c *gin.Context) (*engine.TickResult, bool) {
	res := r.live.Latest()
	if res == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no snapshot evaluated yet"})
		return nil, false
	}
	return res, true
}

func (r *Router) handleCandidates(c *gin.Context) {
	res, ok := r.latestOr503(c)
	if !ok {
		return
	}
	top := queryInt(c, "top", 20, 1, 500)
	strategyID := strings.TrimSpace(c.Query("strategy_id"))
	out := gin.H{}
	for _, id := range res.Strategies {
		if strategyID != "" && !strings.EqualFold(id, strategyID) {
			continue
		}
		out[id] = res.Top(id, top)
	}
	if strategyID != "" && len(out) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "strategy not evaluated in latest tick: " + strategyID})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"tick_id":     res.TickID,
		"snapshot_id": res.SnapshotID,
		"as_of":       res.AsOf,
		"regime":      res.Regime,
		"candidates":  out,
	})
}

func (r *Router) handleDecisions(c *gin.Context) {
	if r.alerts == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "alert store unavailable"})
		return
	}
	q := alertstore.Query{
		StrategyID: strings.TrimSpace(c.Query("strategy_id")),
		Symbol:     snapshot.NormalizeSymbol(c.Query("symbol")),
		Limit:      queryInt(c, "limit", 100, 1, 1000),
	}
	if raw := c.Query("action"); raw != "" {
		action, ok := decision.ParseAction(raw)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid action: " + raw})
			return
		}
		q.Action = action
	}
	if raw := c.Query("label"); raw != "" {
		label, ok := alertstore.ParseLabel(raw)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid label: " + raw})
			return
		}
		q.Label = label
	}
	alerts, err := r.alerts.List(c.Request.Context(), q)
	if err != nil {
		logger.Errorf("[api] list decisions failed ip=%s err=%v", c.ClientIP(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"alerts": alerts, "count": len(alerts)})
}

func (r *Router) handleLatestDecisions(c *gin.Context) {
	res, ok := r.latestOr503(c)
	if !ok {
		return
	}
	strategyID := strings.TrimSpace(c.Query("strategy_id"))
	recs := make([]decision.Record, 0, len(res.Decisions))
	for _, rec := range res.Decisions {
		if strategyID == "" || strings.EqualFold(rec.StrategyID, strategyID) {
			recs = append(recs, rec)
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"tick_id":     res.TickID,
		"snapshot_id": res.SnapshotID,
		"as_of":       res.AsOf,
		"regime":      res.Regime,
		"counts":      res.Counts(),
		"decisions":   recs,
	})
}

// evaluate 用最新快照评估单个代码，不在候选池中时返回 BLOCK 记录。
func (r *Router) evaluate(c *gin.Context, symbol, strategyID string) (decision.Record, bool) {
	if strings.TrimSpace(symbol) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol 不能为空"})
		return decision.Record{}, false
	}
	res, ok := r.latestOr503(c)
	if !ok {
		return decision.Record{}, false
	}
	rec, err := r.live.Engine().EvaluateSymbol(c.Request.Context(), res.Snapshot, symbol, strings.TrimSpace(strategyID))
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, engine.ErrUnknownStrategy):
			status = http.StatusNotFound
		case errors.Is(err, engine.ErrNoProfiles):
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return decision.Record{}, false
	}
	return rec, true
}

func (r *Router) handleEvaluate(c *gin.Context) {
	rec, ok := r.evaluate(c, c.Query("symbol"), c.Query("strategy_id"))
	if !ok {
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (r *Router) handlePushSnapshot(c *gin.Context) {
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxSnapshotBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	snap, err := snapshot.Decode(raw)
	if err != nil {
		logger.Warnf("[api] pushed snapshot rejected ip=%s err=%v", c.ClientIP(), err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	res, err := r.live.Ingest(c.Request.Context(), snap)
	switch {
	case errors.Is(err, live.ErrUnchanged):
		c.JSON(http.StatusOK, gin.H{"unchanged": true, "snapshot_id": snap.ID})
		return
	case errors.Is(err, engine.ErrTickCancelled):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	case err != nil:
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	logger.Infof("[api] snapshot pushed ip=%s snapshot=%s tick=%s", c.ClientIP(), res.SnapshotID, res.TickID)
	c.JSON(http.StatusOK, gin.H{
		"tick_id":     res.TickID,
		"snapshot_id": res.SnapshotID,
		"risk_light":  res.Regime.Light,
		"counts":      res.Counts(),
	})
}

func queryInt(c *gin.Context, key string, def, min, max int) int {
	v, err := strconv.Atoi(strings.TrimSpace(c.Query(key)))
	if err != nil || v < min {
		return def
	}
	if v > max {
		return max
	}
	return v
}
