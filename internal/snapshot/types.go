package snapshot

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Market aggregate keys.
const (
	KeyLimitUpCount     = "limit_up_count"
	KeyLimitDownCount   = "limit_down_count"
	KeyNearLimitUpCount = "near_limit_up_count"
	KeyBombRate         = "bomb_rate"
	KeyMaxStreak        = "max_streak"
	KeyIndexRet15m      = "index_ret_15m"
)

// Candidate feature keys.
const (
	KeySlope5m         = "slope_5m"
	KeyPullback5m      = "pullback_5m"
	KeyAmount          = "amt"
	KeyResealSpeedSec  = "reseal_speed_sec"
	KeyResealStableMin = "reseal_stable_min"
	KeyOpenCount30m    = "open_count_30m"
	KeyVolRatio5m      = "vol_ratio_5m"
	KeyIsLimitUp       = "is_limit_up"
	KeyNearLimitUp     = "near_limit_up"
	KeyTouchLimitUp30m = "touch_limit_up_30m"
	KeyLiquidityScore  = "liquidity_score"
)

const (
	MarketPrefix = "market."
	RegimePrefix = "regime."
)

// CoreMarketKeys 是风险灯判定必需的市场聚合字段。
var CoreMarketKeys = []string{KeyLimitUpCount, KeyLimitDownCount, KeyBombRate}

var marketKeys = []string{
	KeyLimitUpCount, KeyLimitDownCount, KeyNearLimitUpCount,
	KeyBombRate, KeyMaxStreak, KeyIndexRet15m,
}

var candidateKeys = []string{
	KeySlope5m, KeyPullback5m, KeyAmount, KeyResealSpeedSec, KeyResealStableMin,
	KeyOpenCount30m, KeyVolRatio5m, KeyIsLimitUp, KeyNearLimitUp, KeyTouchLimitUp30m,
	KeyLiquidityScore,
}

// KnownFeature reports whether key can be resolved by a Lookup.
func KnownFeature(key string) bool {
	key = strings.TrimSpace(key)
	switch {
	case strings.HasPrefix(key, MarketPrefix):
		return contains(marketKeys, strings.TrimPrefix(key, MarketPrefix))
	case strings.HasPrefix(key, RegimePrefix):
		rest := strings.TrimPrefix(key, RegimePrefix)
		return rest == "risk_light" || rest == "mode"
	default:
		return contains(candidateKeys, key)
	}
}

// KnownFeatures lists every resolvable key in a stable order.
func KnownFeatures() []string {
	out := make([]string, 0, len(candidateKeys)+len(marketKeys)+2)
	out = append(out, candidateKeys...)
	for _, k := range marketKeys {
		out = append(out, MarketPrefix+k)
	}
	out = append(out, RegimePrefix+"risk_light", RegimePrefix+"mode")
	return out
}

func contains(list []string, key string) bool {
	for _, k := range list {
		if k == key {
			return true
		}
	}
	return false
}

type ValueKind int

const (
	KindNumber ValueKind = iota + 1
	KindBool
	KindString
)

// Value 是快照中单个特征的取值，保留原始类型。
type Value struct {
	Kind ValueKind
	Num  float64
	Bool bool
	Str  string
}

func Number(f float64) Value { return Value{Kind: KindNumber, Num: f} }
func Bool(b bool) Value      { return Value{Kind: KindBool, Bool: b} }
func String(s string) Value  { return Value{Kind: KindString, Str: s} }

// Float returns the numeric view of v; booleans map to 1/0.
func (v Value) Float() (float64, bool) {
	switch v.Kind {
	case KindNumber:
		return v.Num, true
	case KindBool:
		if v.Bool {
			return 1, true
		}
		return 0, true
	case KindString:
		f, err := strconv.ParseFloat(strings.TrimSpace(v.Str), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

func (v Value) String() string {
	switch v.Kind {
	case KindNumber:
		return strconv.FormatFloat(v.Num, 'f', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.Bool)
	case KindString:
		return v.Str
	default:
		return ""
	}
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindNumber:
		return json.Marshal(v.Num)
	case KindBool:
		return json.Marshal(v.Bool)
	case KindString:
		return json.Marshal(v.Str)
	default:
		return []byte("null"), nil
	}
}

// Features 按 key 存放特征值；不存在的 key 即视为缺失。
type Features map[string]Value

func (f Features) Get(key string) (Value, bool) {
	if f == nil {
		return Value{}, false
	}
	v, ok := f[key]
	return v, ok
}

func (f Features) Num(key string) (float64, bool) {
	v, ok := f.Get(key)
	if !ok {
		return 0, false
	}
	return v.Float()
}

// Keys returns the feature keys in sorted order.
func (f Features) Keys() []string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (f Features) clone() Features {
	if f == nil {
		return nil
	}
	out := make(Features, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

type Candidate struct {
	Symbol   string   `json:"symbol"`
	Name     string   `json:"name,omitempty"`
	Tags     []string `json:"tags,omitempty"`
	Features Features `json:"features"`
}

type DataQuality struct {
	LagSec        float64  `json:"data_lag_sec"`
	Degraded      bool     `json:"is_degraded"`
	MissingFields []string `json:"missing_fields"`
	// Present 为 false 表示生产方未提供 data_quality，按降级处理。
	Present bool `json:"-"`
}

// FeatureSnapshot 是一次评估 tick 的唯一数据来源，引擎只读。
type FeatureSnapshot struct {
	ID         string
	AsOf       time.Time
	Market     Features
	Candidates []Candidate
	StrategyID string
	Quality    DataQuality
	// Issues 记录解析期间发现的输入问题，会作为警告带入决策。
	Issues []string
}

// NormalizeSymbol 统一代码写法（去空格、大写）。
func NormalizeSymbol(sym string) string {
	return strings.ToUpper(strings.TrimSpace(sym))
}

// Candidate looks a symbol up in the candidate pool.
func (s *FeatureSnapshot) Candidate(symbol string) (Candidate, bool) {
	if s == nil {
		return Candidate{}, false
	}
	sym := NormalizeSymbol(symbol)
	for _, c := range s.Candidates {
		if c.Symbol == sym {
			return c, true
		}
	}
	return Candidate{}, false
}

// Symbols returns candidate symbols in pool order.
func (s *FeatureSnapshot) Symbols() []string {
	if s == nil {
		return nil
	}
	out := make([]string, 0, len(s.Candidates))
	for _, c := range s.Candidates {
		out = append(out, c.Symbol)
	}
	return out
}

// Subset keeps candidates listed in order (up to limit) plus every symbol in must.
// The receiver is left untouched.
func (s *FeatureSnapshot) Subset(order []string, must map[string]bool, limit int) *FeatureSnapshot {
	if s == nil {
		return nil
	}
	out := *s
	out.Market = s.Market.clone()
	out.Issues = append([]string(nil), s.Issues...)
	out.Quality.MissingFields = append([]string(nil), s.Quality.MissingFields...)
	if limit <= 0 || len(s.Candidates) <= limit {
		out.Candidates = cloneCandidates(s.Candidates)
		return &out
	}
	keep := make(map[string]bool, limit+len(must))
	for sym := range must {
		keep[NormalizeSymbol(sym)] = true
	}
	n := 0
	for _, sym := range order {
		if n >= limit {
			break
		}
		sym = NormalizeSymbol(sym)
		if !keep[sym] {
			keep[sym] = true
			n++
		}
	}
	picked := make([]Candidate, 0, len(keep))
	for _, c := range s.Candidates {
		if keep[c.Symbol] {
			picked = append(picked, cloneCandidate(c))
		}
	}
	out.Candidates = picked
	return &out
}

func cloneCandidates(in []Candidate) []Candidate {
	out := make([]Candidate, len(in))
	for i, c := range in {
		out[i] = cloneCandidate(c)
	}
	return out
}

func cloneCandidate(c Candidate) Candidate {
	c.Tags = append([]string(nil), c.Tags...)
	c.Features = c.Features.clone()
	return c
}
