package agent

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tidwall/gjson"

	"sealwatch/internal/decision"
	"sealwatch/internal/pkg/jsonutil"
)

var (
	ErrSchemaViolation = errors.New("agent: output violates schema")
	ErrUpgrade         = errors.New("agent: output would upgrade the engine action")
	ErrMismatch        = errors.New("agent: output refers to another decision")
)

const outputSchema = `{
  "type": "object",
  "required": ["action", "gloss"],
  "properties": {
    "action": {"type": "string", "enum": ["ALLOW", "WATCH", "BLOCK"]},
    "confidence": {"type": "number", "minimum": 0, "maximum": 1},
    "gloss": {"type": "string", "minLength": 1, "maxLength": 2000},
    "risks": {"type": "array", "items": {"type": "string"}, "maxItems": 20},
    "symbol": {"type": "string"},
    "strategy_id": {"type": "string"}
  }
}`

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("agent_output.json", strings.NewReader(outputSchema)); err != nil {
			schemaErr = err
			return
		}
		schema, schemaErr = compiler.Compile("agent_output.json")
	})
	return schema, schemaErr
}

// Output 是通过校验的代理输出。
type Output struct {
	Action     decision.Action `json:"action"`
	Confidence *float64        `json:"confidence,omitempty"`
	Gloss      string          `json:"gloss"`
	Risks      []string        `json:"risks,omitempty"`
	Symbol     string          `json:"symbol,omitempty"`
	StrategyID string          `json:"strategy_id,omitempty"`
}

// ParseOutput 从模型原始回复中取出 JSON 对象并按 schema 校验。
// 回复可以夹带说明文字或 ``` 代码块。
func ParseOutput(raw string) (Output, error) {
	body, ok := jsonutil.ExtractObject(raw)
	if !ok {
		return Output{}, fmt.Errorf("%w: no JSON object found", ErrSchemaViolation)
	}
	var doc any
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		return Output{}, fmt.Errorf("%w: %v", ErrSchemaViolation, err)
	}
	sch, err := compiledSchema()
	if err != nil {
		return Output{}, err
	}
	if err := sch.Validate(doc); err != nil {
		return Output{}, fmt.Errorf("%w: %v", ErrSchemaViolation, err)
	}

	res := gjson.Parse(body)
	action, _ := decision.ParseAction(res.Get("action").String())
	out := Output{
		Action:     action,
		Gloss:      strings.TrimSpace(res.Get("gloss").String()),
		Symbol:     strings.TrimSpace(res.Get("symbol").String()),
		StrategyID: strings.TrimSpace(res.Get("strategy_id").String()),
	}
	if c := res.Get("confidence"); c.Exists() {
		v := c.Float()
		out.Confidence = &v
	}
	for _, r := range res.Get("risks").Array() {
		if s := strings.TrimSpace(r.String()); s != "" {
			out.Risks = append(out.Risks, s)
		}
	}
	if out.Gloss == "" {
		return Output{}, fmt.Errorf("%w: gloss is blank", ErrSchemaViolation)
	}
	return out, nil
}
