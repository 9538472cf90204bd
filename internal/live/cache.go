package live

import (
	"sync"

	"sealwatch/internal/decision"
	"sealwatch/internal/engine"
	"sealwatch/internal/regime"
)

// tickCache 保存最近一次完成的 tick，以及每个 (strategy, symbol) 上一次的动作。
type tickCache struct {
	mu      sync.RWMutex
	latest  *engine.TickResult
	actions map[string]decision.Action
}

type previous struct {
	actions map[string]decision.Action
	light   regime.Light
	ok      bool
}

func newTickCache() *tickCache {
	return &tickCache{actions: make(map[string]decision.Action)}
}

// swap 写入新结果并返回写入前的状态。
func (c *tickCache) swap(res *engine.TickResult) previous {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev := previous{actions: c.actions}
	if c.latest != nil {
		prev.light = c.latest.Regime.Light
		prev.ok = true
	}
	next := make(map[string]decision.Action, len(res.Decisions))
	for _, r := range res.Decisions {
		next[r.Key()] = r.Action
	}
	c.actions = next
	c.latest = res
	return prev
}

func (c *tickCache) Latest() *engine.TickResult {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.latest
}
