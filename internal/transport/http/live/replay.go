package livehttp

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"sealwatch/internal/logger"
	"sealwatch/internal/replay"
	"sealwatch/internal/snapshot"
	"sealwatch/internal/store/snapshotstore"
)

func (r *Router) handleReplaySnapshot(c *gin.Context) {
	if r.replay == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "replay unavailable"})
		return
	}
	id := c.Param("id")
	reevaluate := parseBool(c.Query("reevaluate"))
	out, err := r.replay.Snapshot(c.Request.Context(), id, reevaluate)
	switch {
	case errors.Is(err, snapshotstore.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	case errors.Is(err, replay.ErrNoEvaluator):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	case err != nil:
		logger.Errorf("[api] replay snapshot failed ip=%s id=%s err=%v", c.ClientIP(), id, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, out)
}

func (r *Router) handleReplayDaily(c *gin.Context) {
	if r.replay == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "replay unavailable"})
		return
	}
	day := r.now()
	if raw := strings.TrimSpace(c.Query("date")); raw != "" {
		parsed, err := time.ParseInLocation("2006-01-02", raw, snapshot.Location)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "date must be YYYY-MM-DD"})
			return
		}
		day = parsed
	}
	sum, err := r.replay.DailySummary(c.Request.Context(), day)
	if err != nil {
		logger.Errorf("[api] daily summary failed ip=%s err=%v", c.ClientIP(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, sum)
}

func (r *Router) handleReplayFailures(c *gin.Context) {
	if r.replay == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "replay unavailable"})
		return
	}
	days := queryInt(c, "days", 7, 1, 365)
	patterns, err := r.replay.FailurePatterns(c.Request.Context(), days, r.now())
	if err != nil {
		logger.Errorf("[api] failure patterns failed ip=%s err=%v", c.ClientIP(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"days": days, "patterns": patterns})
}

func parseBool(val string) bool {
	s := strings.TrimSpace(strings.ToLower(val))
	return s == "1" || s == "true" || s == "yes"
}
