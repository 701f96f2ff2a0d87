// Package mock 提供无网络的确定性 LLM 客户端，用于离线联调与测试。
//
// 按生成者（ctx 中的 producer key）配置延迟与失败模式；
// 成功时返回与 recipe 解码器即插即用的菜谱 JSON。
package mock

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"chefbatch/pkg/contract"
)

// 失败模式
const (
	FailUpstream    = "upstream"     // 模拟 HTTP 500
	FailRateLimited = "rate_limited" // 模拟 429
	FailEmpty       = "empty"        // 空文本
	FailUnparseable = "unparseable"  // 无 JSON 片段
	FailInvalid     = "invalid"      // JSON 可解析但不满足结构
)

// Options: 最小调试配置（均可选）。
type Options struct {
	Prefix string `json:"prefix"` // 菜名前缀，默认 "MOCK"
	// APIKey: 仅用于限流分组（调试用），不参与任何网络请求。
	APIKey string `json:"api_key"`
	// DelayMS: 默认延迟；DelaysMS 按 producer key 覆盖。
	DelayMS  int            `json:"delay_ms,omitempty"`
	DelaysMS map[string]int `json:"delays_ms,omitempty"`
	// Fail: producer key → 失败模式（见常量）。
	Fail map[string]string `json:"fail,omitempty"`
	// Plain: 为 true 时不加 ```json 围栏，直接返回 JSON。
	Plain bool `json:"plain,omitempty"`
}

type Client struct {
	prefix string
	delay  time.Duration
	delays map[string]time.Duration
	fail   map[string]string
	plain  bool
}

func New(raw json.RawMessage) (contract.LLMClient, error) {
	var o Options
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &o); err != nil {
			return nil, fmt.Errorf("mock options: %w", err)
		}
	}
	if o.Prefix == "" {
		o.Prefix = "MOCK"
	}
	if o.DelayMS < 0 {
		return nil, fmt.Errorf("mock: delay_ms must be >= 0: %w", contract.ErrInvalidInput)
	}
	c := &Client{
		prefix: o.Prefix,
		delay:  time.Duration(o.DelayMS) * time.Millisecond,
		delays: make(map[string]time.Duration, len(o.DelaysMS)),
		fail:   make(map[string]string, len(o.Fail)),
		plain:  o.Plain,
	}
	for k, ms := range o.DelaysMS {
		if ms < 0 {
			return nil, fmt.Errorf("mock: delays_ms[%s] must be >= 0: %w", k, contract.ErrInvalidInput)
		}
		c.delays[k] = time.Duration(ms) * time.Millisecond
	}
	for k, mode := range o.Fail {
		switch mode {
		case FailUpstream, FailRateLimited, FailEmpty, FailUnparseable, FailInvalid:
			c.fail[k] = mode
		default:
			return nil, fmt.Errorf("mock: unknown fail mode %q for %s: %w", mode, k, contract.ErrInvalidInput)
		}
	}
	return c, nil
}

// upstreamError 模拟上游非 2xx。
type upstreamError struct{ status int }

func (e upstreamError) Error() string           { return fmt.Sprintf("mock upstream %d", e.status) }
func (e upstreamError) UpstreamStatus() int     { return e.status }
func (e upstreamError) UpstreamMessage() string { return "mock failure" }

func (c *Client) Invoke(ctx context.Context, p contract.Prompt) (contract.Raw, error) {
	key := contract.ProducerFrom(ctx)
	d := c.delay
	if v, ok := c.delays[key]; ok {
		d = v
	}
	if d > 0 {
		t := time.NewTimer(d)
		select {
		case <-ctx.Done():
			t.Stop()
			return contract.Raw{}, ctx.Err()
		case <-t.C:
		}
	} else if err := ctx.Err(); err != nil {
		return contract.Raw{}, err
	}

	switch c.fail[key] {
	case FailUpstream:
		return contract.Raw{}, upstreamError{status: 500}
	case FailRateLimited:
		return contract.Raw{}, fmt.Errorf("mock upstream 429: %w", contract.ErrRateLimited)
	case FailEmpty:
		return contract.Raw{Text: ""}, nil
	case FailUnparseable:
		return contract.Raw{Text: "今天不想做菜，改天再说。"}, nil
	case FailInvalid:
		return contract.Raw{Text: `{"dish_name":"","steps":[]}`}, nil
	}

	body := c.recipe(key, ingredientsOf(p))
	if c.plain {
		return contract.Raw{Text: body}, nil
	}
	return contract.Raw{Text: "好的，这是为您创作的菜谱：\n```json\n" + body + "\n```"}, nil
}

type mockStep struct {
	Step    int      `json:"step"`
	Title   string   `json:"title"`
	Details []string `json:"details"`
}

type mockDish struct {
	DishName    string              `json:"dish_name"`
	Ingredients map[string][]string `json:"ingredients"`
	Steps       []mockStep          `json:"steps"`
	Tips        []string            `json:"tips"`
	Flavor      map[string]string   `json:"flavor_profile"`
}

func (c *Client) recipe(key, ingredients string) string {
	who := key
	if who == "" {
		who = "chef"
	}
	main := append([]string{}, strings.FieldsFunc(ingredients, func(r rune) bool {
		return r == '、' || r == ',' || r == '，' || r == ' '
	})...)
	d := mockDish{
		DishName:    fmt.Sprintf("%s·%s", c.prefix, who),
		Ingredients: map[string][]string{"main": main, "auxiliary": {}, "seasoning": {"盐"}},
		Steps: []mockStep{
			{Step: 1, Title: "备料", Details: []string{"🔪 食材洗净切好"}},
			{Step: 2, Title: "烹制", Details: []string{"🔥 大火翻炒至熟"}},
		},
		Tips:   []string{"🧂 少盐更健康"},
		Flavor: map[string]string{"taste": "😋 咸鲜适口"},
	}
	b, _ := json.Marshal(d)
	return string(b)
}

// ingredientsOf 从提示词中取出 "食材：" 行；找不到时返回空串。
func ingredientsOf(p contract.Prompt) string {
	var text string
	switch v := p.(type) {
	case contract.TextPrompt:
		text = string(v)
	case contract.ChatPrompt:
		for _, m := range v {
			text += m.Content + "\n"
		}
	}
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if rest, ok := strings.CutPrefix(line, "食材："); ok {
			return strings.TrimSpace(rest)
		}
	}
	return ""
}

var _ contract.LLMClient = (*Client)(nil)
