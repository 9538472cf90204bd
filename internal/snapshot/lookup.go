package snapshot

import "strings"

// Getter resolves feature keys; ok=false means the feature is absent.
type Getter interface {
	Get(key string) (Value, bool)
}

// Lookup 把单个候选的特征、市场聚合与 regime 结果合并成一个只读视图。
// 普通 key 读候选特征，"market." 前缀读市场聚合，"regime." 前缀读 regime 结果。
type Lookup struct {
	Candidate Features
	Market    Features
	Regime    Features
}

func (l Lookup) Get(key string) (Value, bool) {
	key = strings.TrimSpace(key)
	switch {
	case strings.HasPrefix(key, MarketPrefix):
		return l.Market.Get(strings.TrimPrefix(key, MarketPrefix))
	case strings.HasPrefix(key, RegimePrefix):
		return l.Regime.Get(strings.TrimPrefix(key, RegimePrefix))
	default:
		return l.Candidate.Get(key)
	}
}
