package flaky

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync/atomic"

	"chefbatch/pkg/contract"
)

// Options 定义可选项。
type Options struct {
	Prefix string `json:"prefix"`
	// LogPath: 调试用日志文件，记录每次调用结果（可选）。
	LogPath string `json:"log_path,omitempty"`
}

// Client 是带状态的 LLM 实现，按全局调用序号依次：
// 第 1 次返回 ErrRateLimited；
// 第 2 次返回无法解析的文本；
// 第 3 次返回空文本；
// 之后返回合法菜谱 JSON。
type Client struct {
	prefix  string
	logPath string
	count   atomic.Int32
}

// New 构造 Client。
func New(raw json.RawMessage) (contract.LLMClient, error) {
	var o Options
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &o); err != nil {
			return nil, err
		}
	}
	if o.Prefix == "" {
		o.Prefix = "FLAKY"
	}
	return &Client{prefix: o.Prefix, logPath: o.LogPath}, nil
}

func (c *Client) log(n int32, s string) {
	if c.logPath == "" {
		return
	}
	// 追加写入，忽略错误。
	_ = appendFile(c.logPath, fmt.Sprintf("%d %s\n", n, s))
}

// appendFile 以追加方式写入。
func appendFile(path, s string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(s)
	return err
}

// Invoke 实现 contract.LLMClient。
func (c *Client) Invoke(ctx context.Context, p contract.Prompt) (contract.Raw, error) {
	if err := ctx.Err(); err != nil {
		return contract.Raw{}, err
	}
	n := c.count.Add(1)
	switch n {
	case 1:
		c.log(n, "rate_limited")
		return contract.Raw{}, contract.ErrRateLimited
	case 2:
		c.log(n, "invalid_text")
		return contract.Raw{Text: "invalid"}, nil
	case 3:
		c.log(n, "empty")
		return contract.Raw{Text: "   "}, nil
	default:
		c.log(n, "ok")
		return contract.Raw{Text: fmt.Sprintf(
			`{"dish_name":"%s #%d","ingredients":{"main":[],"auxiliary":[],"seasoning":[]},"steps":[{"step":1,"title":"上菜","details":["🍽️ 装盘"]}],"tips":[],"flavor_profile":{"taste":"🙂"}}`,
			c.prefix, n)}, nil
	}
}

var _ contract.LLMClient = (*Client)(nil)
