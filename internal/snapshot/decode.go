package snapshot

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

var ErrMalformed = errors.New("malformed feature snapshot")

// Location 是交易所本地时区，无时区的时间戳按此解析。
var Location = time.FixedZone("CST", 8*3600)

var tsLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

var marketAliases = map[string]string{
	"down_limit_count":     KeyLimitDownCount,
	"touch_limit_up_count": KeyNearLimitUpCount,
	"near_limit_count":     KeyNearLimitUpCount,
}

var reservedCandidateKeys = map[string]bool{
	"symbol":   true,
	"name":     true,
	"tags":     true,
	"features": true,
}

// Decode 解析生产方推送的 FeatureSnapshot 文档。
// 只有无法解析的 JSON 才返回错误；字段缺失记为 Issues 并按降级处理。
func Decode(raw []byte) (*FeatureSnapshot, error) {
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("%w: invalid json", ErrMalformed)
	}
	root := gjson.ParseBytes(raw)
	if !root.IsObject() {
		return nil, fmt.Errorf("%w: top level must be an object", ErrMalformed)
	}
	snap := &FeatureSnapshot{}

	snap.ID = strings.TrimSpace(root.Get("snapshot_id").String())
	if snap.ID == "" {
		snap.ID = contentID(raw)
	}

	ts := root.Get("ts")
	if asOf, ok := parseTS(ts); ok {
		snap.AsOf = asOf
	} else {
		snap.Issues = append(snap.Issues, "ts absent or unparseable")
	}

	snap.Market = decodeMarket(root.Get("market"), snap)
	snap.Candidates = decodeCandidates(root.Get("candidates"), snap)

	sc := root.Get("strategy_context")
	snap.StrategyID = strings.TrimSpace(sc.Get("strategy_id").String())
	dq := sc.Get("data_quality")
	if dq.Exists() && dq.IsObject() {
		snap.Quality = DataQuality{
			Present:  true,
			LagSec:   dq.Get("data_lag_sec").Float(),
			Degraded: dq.Get("is_degraded").Bool(),
		}
		dq.Get("missing_fields").ForEach(func(_, v gjson.Result) bool {
			if f := strings.TrimSpace(v.String()); f != "" {
				snap.Quality.MissingFields = append(snap.Quality.MissingFields, f)
			}
			return true
		})
	} else {
		snap.Quality = DataQuality{Degraded: true}
		snap.Issues = append(snap.Issues, "strategy_context.data_quality absent, treated as degraded")
	}
	if snap.structurallyIncomplete() {
		snap.Quality.Degraded = true
	}
	applyMissingFields(snap)
	return snap, nil
}

func (s *FeatureSnapshot) structurallyIncomplete() bool {
	if s.AsOf.IsZero() {
		return true
	}
	for _, key := range CoreMarketKeys {
		if _, ok := s.Market.Num(key); !ok {
			return true
		}
	}
	return false
}

func contentID(raw []byte) string {
	sum := sha256.Sum256(raw)
	return "snap_" + hex.EncodeToString(sum[:8])
}

func parseTS(ts gjson.Result) (time.Time, bool) {
	switch ts.Type {
	case gjson.Number:
		n := ts.Int()
		if n <= 0 {
			return time.Time{}, false
		}
		if n > 1e12 {
			return time.UnixMilli(n).In(Location), true
		}
		return time.Unix(n, 0).In(Location), true
	case gjson.String:
		s := strings.TrimSpace(ts.String())
		for _, layout := range tsLayouts {
			if t, err := time.ParseInLocation(layout, s, Location); err == nil {
				return t.In(Location), true
			}
		}
	}
	return time.Time{}, false
}

func decodeMarket(m gjson.Result, snap *FeatureSnapshot) Features {
	out := make(Features)
	if !m.IsObject() {
		snap.Issues = append(snap.Issues, "market aggregates absent")
		return out
	}
	m.ForEach(func(k, v gjson.Result) bool {
		key := strings.TrimSpace(k.String())
		if alias, ok := marketAliases[key]; ok {
			key = alias
		}
		if val, ok := toValue(v); ok {
			if _, dup := out[key]; !dup {
				out[key] = val
			}
		}
		return true
	})
	for _, key := range CoreMarketKeys {
		if _, ok := out.Num(key); !ok {
			snap.Issues = append(snap.Issues, "market."+key+" absent")
		}
	}
	return out
}

func decodeCandidates(list gjson.Result, snap *FeatureSnapshot) []Candidate {
	if !list.IsArray() {
		snap.Issues = append(snap.Issues, "candidates absent")
		return nil
	}
	seen := make(map[string]bool)
	var out []Candidate
	list.ForEach(func(_, item gjson.Result) bool {
		sym := NormalizeSymbol(item.Get("symbol").String())
		if sym == "" {
			snap.Issues = append(snap.Issues, "candidate without symbol skipped")
			return true
		}
		if seen[sym] {
			snap.Issues = append(snap.Issues, "duplicate candidate "+sym+" skipped")
			return true
		}
		seen[sym] = true
		c := Candidate{
			Symbol:   sym,
			Name:     strings.TrimSpace(item.Get("name").String()),
			Features: make(Features),
		}
		item.Get("tags").ForEach(func(_, t gjson.Result) bool {
			if s := strings.TrimSpace(t.String()); s != "" {
				c.Tags = append(c.Tags, s)
			}
			return true
		})
		feats := item.Get("features")
		if feats.IsObject() {
			feats.ForEach(func(k, v gjson.Result) bool {
				if val, ok := toValue(v); ok {
					c.Features[k.String()] = val
				}
				return true
			})
		} else {
			item.ForEach(func(k, v gjson.Result) bool {
				if reservedCandidateKeys[k.String()] {
					return true
				}
				if val, ok := toValue(v); ok {
					c.Features[k.String()] = val
				}
				return true
			})
		}
		out = append(out, c)
		return true
	})
	return out
}

// null 与对象/数组都不算有效特征值。
func toValue(v gjson.Result) (Value, bool) {
	switch v.Type {
	case gjson.Number:
		return Number(v.Float()), true
	case gjson.True:
		return Bool(true), true
	case gjson.False:
		return Bool(false), true
	case gjson.String:
		return String(v.String()), true
	default:
		return Value{}, false
	}
}

// 生产方声明缺失的字段一律从特征中剔除，触发器会得到 MISSING。
func applyMissingFields(snap *FeatureSnapshot) {
	if len(snap.Quality.MissingFields) == 0 {
		return
	}
	for _, f := range snap.Quality.MissingFields {
		key := strings.TrimPrefix(f, MarketPrefix)
		if strings.HasPrefix(f, MarketPrefix) {
			delete(snap.Market, key)
			continue
		}
		for i := range snap.Candidates {
			delete(snap.Candidates[i].Features, f)
		}
	}
}

type wireCandidate struct {
	Symbol   string   `json:"symbol"`
	Name     string   `json:"name,omitempty"`
	Tags     []string `json:"tags,omitempty"`
	Features Features `json:"features"`
}

type wireQuality struct {
	LagSec        float64  `json:"data_lag_sec"`
	Degraded      bool     `json:"is_degraded"`
	MissingFields []string `json:"missing_fields"`
}

type wireContext struct {
	StrategyID  string       `json:"strategy_id,omitempty"`
	DataQuality *wireQuality `json:"data_quality,omitempty"`
}

type wireSnapshot struct {
	SnapshotID      string          `json:"snapshot_id"`
	TS              string          `json:"ts,omitempty"`
	Market          Features        `json:"market"`
	Candidates      []wireCandidate `json:"candidates"`
	StrategyContext wireContext     `json:"strategy_context"`
}

// Encode renders the snapshot back into the input contract shape.
// Decode(Encode(s)) yields the same id, features and data quality.
func (s *FeatureSnapshot) Encode() ([]byte, error) {
	if s == nil {
		return nil, fmt.Errorf("nil snapshot")
	}
	w := wireSnapshot{
		SnapshotID: s.ID,
		Market:     s.Market,
		Candidates: make([]wireCandidate, 0, len(s.Candidates)),
		StrategyContext: wireContext{
			StrategyID: s.StrategyID,
		},
	}
	if w.Market == nil {
		w.Market = Features{}
	}
	if !s.AsOf.IsZero() {
		w.TS = s.AsOf.In(Location).Format(time.RFC3339Nano)
	}
	for _, c := range s.Candidates {
		feats := c.Features
		if feats == nil {
			feats = Features{}
		}
		w.Candidates = append(w.Candidates, wireCandidate{Symbol: c.Symbol, Name: c.Name, Tags: c.Tags, Features: feats})
	}
	if s.Quality.Present {
		missing := s.Quality.MissingFields
		if missing == nil {
			missing = []string{}
		}
		w.StrategyContext.DataQuality = &wireQuality{
			LagSec:        s.Quality.LagSec,
			Degraded:      s.Quality.Degraded,
			MissingFields: missing,
		}
	}
	return json.Marshal(w)
}
