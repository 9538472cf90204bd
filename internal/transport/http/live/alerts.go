package livehttp

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"sealwatch/internal/logger"
	"sealwatch/internal/store/alertstore"
)

type labelRequest struct {
	Label string `json:"label" binding:"required,oneof=success fail skip"`
	Note  string `json:"note" binding:"max=500"`
}

func (r *Router) handleAlertLabel(c *gin.Context) {
	if r.alerts == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "alert store unavailable"})
		return
	}
	var req labelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	label := alertstore.Label(req.Label)
	id := c.Param("id")
	alert, err := r.alerts.UpdateLabel(c.Request.Context(), id, label, req.Note)
	switch {
	case errors.Is(err, alertstore.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	case errors.Is(err, alertstore.ErrInvalidLabel):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case err != nil:
		logger.Errorf("[api] label alert failed ip=%s id=%s err=%v", c.ClientIP(), id, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	logger.Infof("[api] alert labeled ip=%s id=%s label=%s", c.ClientIP(), id, label)
	c.JSON(http.StatusOK, alert)
}

func (r *Router) handleAlertStats(c *gin.Context) {
	if r.alerts == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "alert store unavailable"})
		return
	}
	days := queryInt(c, "days", 7, 1, 365)
	stats, err := r.alerts.Stats(c.Request.Context(), r.now().Add(-time.Duration(days)*24*time.Hour))
	if err != nil {
		logger.Errorf("[api] alert stats failed ip=%s err=%v", c.ClientIP(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, stats)
}
