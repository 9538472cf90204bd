package jsonutil

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Pretty 缩进 JSON 文本用于日志；不是合法 JSON 时原样返回。
func Pretty(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return trimmed
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, []byte(trimmed), "", "  "); err != nil {
		return trimmed
	}
	return buf.String()
}
