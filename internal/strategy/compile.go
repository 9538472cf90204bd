package strategy

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"sealwatch/internal/snapshot"
)

type ThresholdKind int

const (
	ThresholdNone ThresholdKind = iota
	ThresholdNumber
	ThresholdBool
	ThresholdString
	ThresholdSet
)

type Threshold struct {
	Kind ThresholdKind
	Num  float64
	Bool bool
	Str  string
	Set  []string
}

func (t Threshold) String() string {
	switch t.Kind {
	case ThresholdNumber:
		return strconv.FormatFloat(t.Num, 'f', -1, 64)
	case ThresholdBool:
		return strconv.FormatBool(t.Bool)
	case ThresholdString:
		return t.Str
	case ThresholdSet:
		return "[" + strings.Join(t.Set, ",") + "]"
	}
	return ""
}

// CompiledCondition 是校验后的条件树，值已归一为具体类型。
type CompiledCondition struct {
	Feature   string
	Op        Op
	Threshold Threshold
	All       []CompiledCondition
}

func (c CompiledCondition) IsComposite() bool { return len(c.All) > 0 }

// Features lists every feature key referenced by the condition tree.
func (c CompiledCondition) Features() []string {
	if !c.IsComposite() {
		return []string{c.Feature}
	}
	var out []string
	for _, sub := range c.All {
		out = append(out, sub.Features()...)
	}
	return out
}

type CompiledRule struct {
	Name        string
	Description string
	Required    bool
	Cond        CompiledCondition
}

func compileRules(rules []Rule) ([]CompiledRule, error) {
	var errs []error
	seen := make(map[string]bool, len(rules))
	out := make([]CompiledRule, 0, len(rules))
	for i, r := range rules {
		name := strings.TrimSpace(r.Name)
		if name == "" {
			errs = append(errs, fmt.Errorf("rules[%d]: name required", i))
			continue
		}
		if seen[name] {
			errs = append(errs, fmt.Errorf("rules[%d]: duplicate rule name %q", i, name))
			continue
		}
		seen[name] = true
		cond, err := compileCondition(r.Condition, 0)
		if err != nil {
			errs = append(errs, fmt.Errorf("rule %q: %w", name, err))
			continue
		}
		out = append(out, CompiledRule{Name: name, Description: r.Description, Required: r.Required, Cond: cond})
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return out, nil
}

const maxConditionDepth = 4

func compileCondition(c Condition, depth int) (CompiledCondition, error) {
	if depth > maxConditionDepth {
		return CompiledCondition{}, fmt.Errorf("condition nesting deeper than %d", maxConditionDepth)
	}
	if len(c.All) > 0 {
		if c.Feature != "" || c.Op != "" {
			return CompiledCondition{}, fmt.Errorf("condition cannot mix feature/op with all")
		}
		out := CompiledCondition{All: make([]CompiledCondition, 0, len(c.All))}
		for i, sub := range c.All {
			cc, err := compileCondition(sub, depth+1)
			if err != nil {
				return CompiledCondition{}, fmt.Errorf("all[%d]: %w", i, err)
			}
			out.All = append(out.All, cc)
		}
		return out, nil
	}
	feature := strings.TrimSpace(c.Feature)
	if feature == "" {
		return CompiledCondition{}, fmt.Errorf("feature required")
	}
	if !snapshot.KnownFeature(feature) {
		return CompiledCondition{}, fmt.Errorf("unknown feature %q", feature)
	}
	op := Op(strings.ToLower(strings.TrimSpace(string(c.Op))))
	th, err := compileThreshold(op, c.Value)
	if err != nil {
		return CompiledCondition{}, fmt.Errorf("feature %q: %w", feature, err)
	}
	return CompiledCondition{Feature: feature, Op: op, Threshold: th}, nil
}

func compileThreshold(op Op, v any) (Threshold, error) {
	switch op {
	case OpGT, OpGTE, OpLT, OpLTE:
		n, ok := toFloat(v)
		if !ok {
			return Threshold{}, fmt.Errorf("op %s needs a numeric value, got %v", op, v)
		}
		return Threshold{Kind: ThresholdNumber, Num: n}, nil
	case OpEQ, OpNE:
		switch val := v.(type) {
		case bool:
			return Threshold{Kind: ThresholdBool, Bool: val}, nil
		case string:
			return Threshold{Kind: ThresholdString, Str: strings.TrimSpace(val)}, nil
		default:
			n, ok := toFloat(v)
			if !ok {
				return Threshold{}, fmt.Errorf("op %s needs a scalar value, got %v", op, v)
			}
			return Threshold{Kind: ThresholdNumber, Num: n}, nil
		}
	case OpIn, OpNotIn:
		items, ok := v.([]any)
		if !ok {
			if strs, isStrs := v.([]string); isStrs {
				for _, s := range strs {
					items = append(items, s)
				}
				ok = true
			}
		}
		if !ok || len(items) == 0 {
			return Threshold{}, fmt.Errorf("op %s needs a non-empty list", op)
		}
		set := make([]string, 0, len(items))
		for _, it := range items {
			set = append(set, strings.ToUpper(strings.TrimSpace(fmt.Sprint(it))))
		}
		return Threshold{Kind: ThresholdSet, Set: set}, nil
	case OpTrue, OpFalse:
		if v != nil {
			return Threshold{}, fmt.Errorf("op %s takes no value", op)
		}
		return Threshold{Kind: ThresholdNone}, nil
	case "":
		return Threshold{}, fmt.Errorf("op required")
	default:
		return Threshold{}, fmt.Errorf("unsupported op %q", op)
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, !math.IsNaN(n) && !math.IsInf(n, 0)
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	default:
		return 0, false
	}
}
