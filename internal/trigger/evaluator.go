// Package trigger 按 profile 规则表逐条评估候选，结果为 PASS/FAIL/MISSING 三值。
package trigger

import (
	"fmt"
	"strings"

	"sealwatch/internal/snapshot"
	"sealwatch/internal/strategy"
)

type Status string

const (
	Pass    Status = "PASS"
	Fail    Status = "FAIL"
	Missing Status = "MISSING"
)

type Result struct {
	Name     string `json:"name"`
	Status   Status `json:"status"`
	Detail   string `json:"detail"`
	Required bool   `json:"required"`
}

type Counts struct {
	Pass, Fail, Missing int
}

func Count(results []Result) Counts {
	var c Counts
	for _, r := range results {
		switch r.Status {
		case Pass:
			c.Pass++
		case Fail:
			c.Fail++
		default:
			c.Missing++
		}
	}
	return c
}

// Evaluate 按声明顺序评估全部规则，不短路；结果数量恒等于规则数量。
func Evaluate(rules []strategy.CompiledRule, features snapshot.Getter) []Result {
	out := make([]Result, 0, len(rules))
	for _, r := range rules {
		status, detail := evalCondition(r.Cond, features)
		out = append(out, Result{Name: r.Name, Status: status, Detail: detail, Required: r.Required})
	}
	return out
}

// AllMissing 生成全部为 MISSING 的结果，用于无法评估（未知代码、评估异常）的情形。
func AllMissing(rules []strategy.CompiledRule, detail string) []Result {
	out := make([]Result, 0, len(rules))
	for _, r := range rules {
		out = append(out, Result{Name: r.Name, Status: Missing, Detail: detail, Required: r.Required})
	}
	return out
}

// 合取的三值逻辑：任一 FAIL 即 FAIL；否则任一 MISSING 即 MISSING。
func evalCondition(c strategy.CompiledCondition, features snapshot.Getter) (Status, string) {
	if !c.IsComposite() {
		return evalLeaf(c, features)
	}
	status := Pass
	details := make([]string, 0, len(c.All))
	for _, sub := range c.All {
		s, d := evalCondition(sub, features)
		details = append(details, d)
		switch {
		case s == Fail:
			status = Fail
		case s == Missing && status != Fail:
			status = Missing
		}
	}
	return status, strings.Join(details, "; ")
}

func evalLeaf(c strategy.CompiledCondition, features snapshot.Getter) (Status, string) {
	var v snapshot.Value
	var ok bool
	if features != nil {
		v, ok = features.Get(c.Feature)
	}
	if !ok {
		return Missing, fmt.Sprintf("%s missing", c.Feature)
	}
	passed, comparable := compare(c.Op, v, c.Threshold)
	if !comparable {
		return Missing, fmt.Sprintf("%s=%s not comparable with %s %s", c.Feature, v.String(), c.Op.Symbol(), c.Threshold.String())
	}
	expr := fmt.Sprintf("%s=%s %s", c.Feature, v.String(), c.Op.Symbol())
	if c.Threshold.Kind != strategy.ThresholdNone {
		expr += " " + c.Threshold.String()
	}
	if passed {
		return Pass, expr
	}
	return Fail, expr + " not met"
}
