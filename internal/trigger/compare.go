package trigger

import (
	"strconv"
	"strings"

	"sealwatch/internal/snapshot"
	"sealwatch/internal/strategy"
)

// compare returns (result, comparable). comparable=false means the value
// type cannot be compared with the threshold.
func compare(op strategy.Op, v snapshot.Value, th strategy.Threshold) (bool, bool) {
	switch op {
	case strategy.OpGT, strategy.OpGTE, strategy.OpLT, strategy.OpLTE:
		if v.Kind == snapshot.KindBool {
			return false, false
		}
		f, ok := v.Float()
		if !ok {
			return false, false
		}
		switch op {
		case strategy.OpGT:
			return f > th.Num, true
		case strategy.OpGTE:
			return f >= th.Num, true
		case strategy.OpLT:
			return f < th.Num, true
		default:
			return f <= th.Num, true
		}
	case strategy.OpEQ, strategy.OpNE:
		eq, ok := equal(v, th)
		if !ok {
			return false, false
		}
		if op == strategy.OpNE {
			return !eq, true
		}
		return eq, true
	case strategy.OpIn, strategy.OpNotIn:
		key := setKey(v)
		in := false
		for _, s := range th.Set {
			if s == key {
				in = true
				break
			}
		}
		if op == strategy.OpNotIn {
			return !in, true
		}
		return in, true
	case strategy.OpTrue, strategy.OpFalse:
		b, ok := truthy(v)
		if !ok {
			return false, false
		}
		if op == strategy.OpFalse {
			return !b, true
		}
		return b, true
	}
	return false, false
}

func equal(v snapshot.Value, th strategy.Threshold) (bool, bool) {
	switch th.Kind {
	case strategy.ThresholdNumber:
		f, ok := v.Float()
		return ok && f == th.Num, ok
	case strategy.ThresholdBool:
		b, ok := truthy(v)
		return ok && b == th.Bool, ok
	case strategy.ThresholdString:
		return strings.EqualFold(strings.TrimSpace(v.String()), th.Str), true
	}
	return false, false
}

func truthy(v snapshot.Value) (bool, bool) {
	switch v.Kind {
	case snapshot.KindBool:
		return v.Bool, true
	case snapshot.KindNumber:
		return v.Num != 0, true
	case snapshot.KindString:
		b, err := strconv.ParseBool(strings.TrimSpace(v.Str))
		return b, err == nil
	}
	return false, false
}

func setKey(v snapshot.Value) string {
	return strings.ToUpper(strings.TrimSpace(v.String()))
}
