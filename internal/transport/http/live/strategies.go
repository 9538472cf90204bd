package livehttp

import (
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"

	"sealwatch/internal/logger"
)

type profileView struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Version     string `json:"version"`
	Description string `json:"description,omitempty"`
	Disabled    bool   `json:"disabled"`
	Rules       int    `json:"rules"`
	Required    int    `json:"required_rules"`
}

func (r *Router) handleStrategies(c *gin.Context) {
	if r.profiles == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "profile loader unavailable"})
		return
	}
	set := r.profiles.Snapshot()
	views := make([]profileView, 0, len(set.Profiles))
	for _, p := range set.Profiles {
		views = append(views, profileView{
			ID:          p.ID,
			Name:        p.Name,
			Version:     p.Version,
			Description: p.Description,
			Disabled:    p.Disabled,
			Rules:       len(p.Rules),
			Required:    p.RequiredCount(),
		})
	}
	sort.Slice(views, func(i, j int) bool { return views[i].ID < views[j].ID })
	c.JSON(http.StatusOK, gin.H{
		"version":   set.Version,
		"loaded_at": r.profiles.LoadedAt(),
		"profiles":  views,
		"rejected":  set.Rejected,
	})
}

func (r *Router) handleStrategyToggle(enabled bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if r.profiles == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "profile loader unavailable"})
			return
		}
		id := c.Param("id")
		if err := r.profiles.SetEnabled(id, enabled); err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		logger.Infof("[api] strategy %s enabled=%v ip=%s", id, enabled, c.ClientIP())
		c.JSON(http.StatusOK, gin.H{"id": id, "enabled": enabled, "version": r.profiles.Snapshot().Version})
	}
}

func (r *Router) handleStrategyReload(c *gin.Context) {
	if r.profiles == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "profile loader unavailable"})
		return
	}
	if err := r.profiles.Reload(); err != nil {
		logger.Errorf("[api] strategy reload failed ip=%s err=%v", c.ClientIP(), err)
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	set := r.profiles.Snapshot()
	c.JSON(http.StatusOK, gin.H{"version": set.Version, "profiles": set.IDs(), "rejected": set.Rejected})
}
