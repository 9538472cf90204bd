package livehttp

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"sealwatch/internal/agent"
	"sealwatch/internal/logger"
)

func (r *Router) handleAgentBundle(c *gin.Context) {
	rec, ok := r.evaluate(c, c.Query("symbol"), c.Query("strategy_id"))
	if !ok {
		return
	}
	c.JSON(http.StatusOK, agent.BuildInputBundle(rec))
}

// applyRequest.Output 可以是 JSON 对象，也可以是代理返回的原始文本（JSON 字符串）。
type applyRequest struct {
	Symbol     string          `json:"symbol" binding:"required"`
	StrategyID string          `json:"strategy_id"`
	Output     json.RawMessage `json:"output" binding:"required"`
}

func (r *Router) handleAgentApply(c *gin.Context) {
	var req applyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rec, ok := r.evaluate(c, req.Symbol, req.StrategyID)
	if !ok {
		return
	}
	raw := string(req.Output)
	if strings.HasPrefix(strings.TrimSpace(raw), `"`) {
		var s string
		if err := json.Unmarshal(req.Output, &s); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		raw = s
	}
	next, err := agent.ApplyRaw(rec, raw, r.live.Engine().Config().Gate.AllowFloor)
	if err != nil {
		logger.Warnf("[api] agent output rejected ip=%s symbol=%s err=%v", c.ClientIP(), rec.Symbol, err)
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error(), "record": rec})
		return
	}
	c.JSON(http.StatusOK, gin.H{"record": next, "applied": true})
}
