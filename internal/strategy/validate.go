package strategy

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"

	"sealwatch/internal/regime"
	"sealwatch/internal/snapshot"
)

var validate = validator.New()

var scoreGroups = []string{"market", "stock", "quality"}

// Prepare 填充默认值、做结构与语义校验并编译规则。失败时 p 不可用。
func Prepare(id string, p *Profile) error {
	if p == nil {
		return fmt.Errorf("profile %s: nil", id)
	}
	p.ID = normalizeID(id)
	if p.ID == "" {
		return fmt.Errorf("profile id required")
	}
	if err := defaults.Set(p); err != nil {
		return fmt.Errorf("profile %s: defaults: %w", p.ID, err)
	}
	p.Plan.Ceilings = upperKeys(p.Plan.Ceilings)
	p.Scoring.LightFactor = upperKeys(p.Scoring.LightFactor)
	p.Scoring.Penalty.Light = upperKeys(p.Scoring.Penalty.Light)
	p.Scoring.Weights = lowerKeys(p.Scoring.Weights)
	for i := range p.Scoring.Components {
		if p.Scoring.Components[i].Weight == 0 {
			p.Scoring.Components[i].Weight = 1
		}
	}
	if strings.TrimSpace(p.Name) == "" {
		p.Name = p.ID
	}
	var errs []error
	if err := validate.Struct(p); err != nil {
		errs = append(errs, describeValidation(err)...)
	}
	compiled, err := compileRules(p.Rules)
	if err != nil {
		errs = append(errs, err)
	}
	errs = append(errs, checkScoring(p.Scoring)...)
	errs = append(errs, checkPlan(p.Plan)...)
	if len(errs) > 0 {
		return fmt.Errorf("profile %s invalid: %w", p.ID, errors.Join(errs...))
	}
	p.compiled = compiled
	return nil
}

func describeValidation(err error) []error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []error{err}
	}
	out := make([]error, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, errors.New(fieldMessage(fe)))
	}
	return out
}

func fieldMessage(fe validator.FieldError) string {
	field := fe.Namespace()
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		if fe.Kind() == reflect.Slice || fe.Kind() == reflect.Map {
			return fmt.Sprintf("%s needs at least %s entries", field, fe.Param())
		}
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, strings.ReplaceAll(fe.Param(), " ", ", "))
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, fe.Param())
	case "gte":
		return fmt.Sprintf("%s must be greater than or equal to %s", field, fe.Param())
	case "lt":
		return fmt.Sprintf("%s must be less than %s", field, fe.Param())
	case "lte":
		return fmt.Sprintf("%s must be less than or equal to %s", field, fe.Param())
	default:
		return fmt.Sprintf("%s failed validation: %s", field, fe.Tag())
	}
}

func checkScoring(s Scoring) []error {
	var errs []error
	total := 0.0
	for group, w := range s.Weights {
		if !containsStr(scoreGroups, group) {
			errs = append(errs, fmt.Errorf("scoring.weights: unknown group %q", group))
		}
		if w < 0 {
			errs = append(errs, fmt.Errorf("scoring.weights.%s must be >= 0", group))
		}
		total += w
	}
	if len(s.Weights) > 0 && total <= 0 {
		errs = append(errs, fmt.Errorf("scoring.weights must sum to a positive value"))
	}
	for i, c := range s.Components {
		prefix := fmt.Sprintf("scoring.components[%d] (%s)", i, c.Feature)
		if c.Feature != "" && !snapshot.KnownFeature(c.Feature) {
			errs = append(errs, fmt.Errorf("%s: unknown feature", prefix))
		}
		if w, ok := s.Weights[c.Group]; c.Group != "" && (!ok || w <= 0) {
			errs = append(errs, fmt.Errorf("%s: missing weight for group %q", prefix, c.Group))
		}
		hasRange := c.Min != nil || c.Max != nil
		switch {
		case hasRange && len(c.Buckets) > 0:
			errs = append(errs, fmt.Errorf("%s: use either min/max or buckets", prefix))
		case hasRange:
			if c.Min == nil || c.Max == nil || *c.Min >= *c.Max {
				errs = append(errs, fmt.Errorf("%s: min and max required with min < max", prefix))
			}
		case len(c.Buckets) > 0:
			errs = append(errs, checkBuckets(prefix+".buckets", c.Buckets, 100)...)
		default:
			errs = append(errs, fmt.Errorf("%s: normalization bounds required (min/max or buckets)", prefix))
		}
	}
	for light, f := range s.LightFactor {
		if _, ok := regime.ParseLight(light); !ok {
			errs = append(errs, fmt.Errorf("scoring.light_factor: unknown light %q", light))
		}
		if f < 0 || f > 1 {
			errs = append(errs, fmt.Errorf("scoring.light_factor.%s must be within [0,1]", light))
		}
	}
	for light := range s.Penalty.Light {
		if _, ok := regime.ParseLight(light); !ok {
			errs = append(errs, fmt.Errorf("scoring.penalty.light: unknown light %q", light))
		}
	}
	if len(s.Penalty.AmountTiers) > 0 && !snapshot.KnownFeature(s.Penalty.AmountFeature) {
		errs = append(errs, fmt.Errorf("scoring.penalty.amount_feature: unknown feature %q", s.Penalty.AmountFeature))
	}
	errs = append(errs, checkBuckets("scoring.penalty.amount_tiers", s.Penalty.AmountTiers, -1)...)
	return errs
}

// maxScore < 0 表示不限制第三列上限。
func checkBuckets(prefix string, buckets [][]float64, maxScore float64) []error {
	var errs []error
	for i, b := range buckets {
		if len(b) != 3 {
			errs = append(errs, fmt.Errorf("%s[%d]: expected [lo, hi, score]", prefix, i))
			continue
		}
		if b[0] >= b[1] {
			errs = append(errs, fmt.Errorf("%s[%d]: lo must be < hi", prefix, i))
		}
		if b[2] < 0 || (maxScore >= 0 && b[2] > maxScore) {
			errs = append(errs, fmt.Errorf("%s[%d]: score out of range", prefix, i))
		}
	}
	return errs
}

func checkPlan(p PlanSpec) []error {
	var errs []error
	if _, ok := p.Ceilings[string(regime.Green)]; !ok && p.Ceilings != nil {
		errs = append(errs, fmt.Errorf("plan.ceilings.GREEN is required"))
	}
	keys := make([]string, 0, len(p.Ceilings))
	for k := range p.Ceilings {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if _, ok := regime.ParseLight(k); !ok {
			errs = append(errs, fmt.Errorf("plan.ceilings: unknown light %q", k))
		}
		if v := p.Ceilings[k]; v < 0 || v > 1 {
			errs = append(errs, fmt.Errorf("plan.ceilings.%s must be within [0,1]", k))
		}
	}
	return errs
}

func containsStr(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func upperKeys(m map[string]float64) map[string]float64 {
	if m == nil {
		return nil
	}
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[strings.ToUpper(strings.TrimSpace(k))] = v
	}
	return out
}

func lowerKeys(m map[string]float64) map[string]float64 {
	if m == nil {
		return nil
	}
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[strings.ToLower(strings.TrimSpace(k))] = v
	}
	return out
}
