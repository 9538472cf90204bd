package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"sealwatch/internal/decision"
	"sealwatch/internal/logger"
	"sealwatch/internal/pkg/jsonutil"
)

// Client 调用兼容 OpenAI /chat/completions 的服务。
type Client struct {
	BaseURL      string
	APIKey       string
	Model        string
	ExtraHeaders map[string]string
	HTTP         *http.Client
	// AllowFloor 为合并后 ALLOW 的最低置信度，0 取闸门默认值。
	AllowFloor float64
}

func NewClient(baseURL, apiKey, model string, headers map[string]string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		BaseURL:      baseURL,
		APIKey:       apiKey,
		Model:        model,
		ExtraHeaders: headers,
		HTTP:         &http.Client{Timeout: timeout},
	}
}

func (c *Client) endpoint() string {
	url := strings.TrimRight(c.BaseURL, "/")
	if url == "" {
		url = "https://api.openai.com/v1"
	}
	url = strings.TrimSuffix(url, "/chat/completions")
	return url + "/chat/completions"
}

// Explain 把记录发给代理并返回经过校验、合并后的新记录。
// 出错时返回原记录和错误，调用方据此回退到引擎结论。
func (c *Client) Explain(ctx context.Context, rec decision.Record) (decision.Record, error) {
	raw, err := c.Call(ctx, BuildInputBundle(rec))
	if err != nil {
		return rec, err
	}
	return ApplyRaw(rec, raw, c.AllowFloor)
}

// Call 发送输入包，返回模型的原始文本回复。
func (c *Client) Call(ctx context.Context, bundle InputBundle) (string, error) {
	user, err := json.Marshal(bundle)
	if err != nil {
		return "", err
	}
	body, err := json.Marshal(map[string]any{
		"model": c.Model,
		"messages": []map[string]string{
			{"role": "system", "content": bundle.Instructions},
			{"role": "user", "content": string(user)},
		},
		"temperature": 0.2,
	})
	if err != nil {
		return "", err
	}
	subject := bundle.StrategyID + "/" + bundle.Symbol
	logger.LogAgentRequest(c.Model, subject, jsonutil.Pretty(string(user)))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(), bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}
	for k, v := range c.ExtraHeaders {
		req.Header.Set(k, v)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	if resp.StatusCode/100 != 2 {
		msg := strings.TrimSpace(gjson.GetBytes(payload, "error.message").String())
		if msg == "" {
			msg = resp.Status
		}
		return "", fmt.Errorf("agent status=%d: %s", resp.StatusCode, msg)
	}
	content := gjson.GetBytes(payload, "choices.0.message.content")
	if !content.Exists() {
		return "", fmt.Errorf("agent: empty choices")
	}
	logger.LogAgentResponse(c.Model, subject, content.String())
	return content.String(), nil
}
