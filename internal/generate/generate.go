// Package generate 实现单个生成者的一次完整生成：
// Prompt → (Gate) → LLM → 抽取 → 解码校验。
//
// Generate 从不返回错误：所有失败都折叠为 contract.Outcome 的 Failure，
// 编排层对失败一视同仁；失败分类仅用于观测。
package generate

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"chefbatch/internal/diag"
	"chefbatch/internal/extract"
	"chefbatch/internal/prompt"
	"chefbatch/internal/rate"
	"chefbatch/pkg/contract"
)

// Components 聚合一次生成所需的原子组件。
type Components struct {
	PromptBuilder contract.PromptBuilder
	LLM           contract.LLMClient
	Decoder       contract.Decoder
}

// Settings 生成期配置（最小必要）。
type Settings struct {
	// 限流闸门（可选）：非空时在调用 LLM 前申请额度
	Gate    rate.Gate
	GateKey rate.LimitKey
	// token 估算参数与预期输出上限（仅用于 Gate 申请）
	BytesPerToken   int
	MaxOutputTokens int
}

// Client 为生成客户端；并发安全（自身无可变状态）。
type Client struct {
	comp   Components
	set    Settings
	est    contract.TokenEstimator
	logger *diag.Logger
}

// New 构造客户端。logger 可为 nil。
func New(comp Components, set Settings, logger *diag.Logger) (*Client, error) {
	if comp.PromptBuilder == nil || comp.LLM == nil || comp.Decoder == nil {
		return nil, fmt.Errorf("generate: missing component: %w", contract.ErrInvalidInput)
	}
	return &Client{comp: comp, set: set, est: prompt.MakeEstimator(set.BytesPerToken), logger: logger}, nil
}

// Generate 为生成者 p 基于输入 in 产出一个结果。单次尝试，不重试。
func (c *Client) Generate(ctx context.Context, in contract.Input, p contract.Producer) contract.Outcome {
	ctx = contract.WithProducer(ctx, p.Key)
	batch := ""
	if t, ok := contract.BatchFrom(ctx); ok {
		batch = t.String()
	}
	if err := ctx.Err(); err != nil {
		return canceled(err)
	}

	// Prompt
	pr, err := c.comp.PromptBuilder.Build(ctx, in, p)
	if err != nil {
		c.fail("prompt_builder", "build failed", err, p.Key, batch, nil)
		return contract.Fail(contract.FailInvalid, "prompt build failed: %v", err)
	}

	tokens := prompt.RequestTokens(pr, c.est, c.set.MaxOutputTokens)
	if c.set.Gate != nil {
		if out, ok := c.admit(ctx, tokens, p.Key, batch); !ok {
			return out
		}
	}

	// LLM
	timer := c.logger.StartWithKV("llm_client", "invoke", p.Key, batch, map[string]string{"tokens": strconv.Itoa(tokens)})
	raw, err := c.comp.LLM.Invoke(ctx, pr)
	if err != nil {
		return c.invokeFailure(ctx, err, p.Key, batch)
	}
	timer.Finish("invoke", int64(len(raw.Text)))
	diag.IncOp("llm_client", "finish", "success")

	if strings.TrimSpace(raw.Text) == "" {
		c.fail("llm_client", "empty response", contract.ErrEmptyResponse, p.Key, batch, nil)
		return contract.Fail(contract.FailEmpty, "empty response")
	}

	// 抽取
	seg, err := extract.Structured(raw.Text)
	if err != nil {
		c.fail("extract", "no segment", fmt.Errorf("%w: %v", contract.ErrResponseInvalid, err), p.Key, batch,
			map[string]string{"head": head(raw.Text, 120)})
		return contract.Fail(contract.FailUnparseable, "unparseable content: no JSON segment")
	}

	// 解码 + 校验
	dtimer := c.logger.StartWith("decoder", "decode", p.Key, batch)
	doc, err := c.comp.Decoder.Decode(ctx, p, seg)
	if err != nil {
		c.fail("decoder", "decode failed", err, p.Key, batch, nil)
		if isCanceled(ctx, err) {
			return canceled(err)
		}
		if errors.Is(err, contract.ErrInvariantViolation) {
			return contract.Fail(contract.FailInvalid, "invalid document: %v", err)
		}
		return contract.Fail(contract.FailUnparseable, "unparseable content: %v", err)
	}
	if doc == nil {
		return contract.Fail(contract.FailInvalid, "invalid document: decoder returned nil")
	}
	dtimer.Finish("decode", int64(len(doc.Raw)))
	diag.IncOp("decoder", "finish", "success")
	return contract.Succeed(doc)
}

// admit 先非阻塞放行；额度不足时记录剩余额度后阻塞等待。
func (c *Client) admit(ctx context.Context, tokens int, key, batch string) (contract.Outcome, bool) {
	ask := rate.Ask{Key: c.set.GateKey, Requests: 1, Tokens: tokens}
	c.logger.DebugStart("gate", "ask", key, batch, map[string]string{"tokens": strconv.Itoa(tokens)})
	if c.set.Gate.Try(ask) {
		return contract.Outcome{}, true
	}
	c.logger.Progress("gate", "throttled", key, batch, map[string]string{
		"tokens": strconv.Itoa(tokens),
		"quota":  c.set.Gate.Quota(c.set.GateKey).String(),
	})
	if err := c.set.Gate.Wait(ctx, ask); err != nil {
		c.fail("gate", "wait failed", err, key, batch, nil)
		if isCanceled(ctx, err) {
			return canceled(err), false
		}
		return contract.Fail(contract.FailUpstream, "upstream error: rate gate: %v", err), false
	}
	return contract.Outcome{}, true
}

func (c *Client) invokeFailure(ctx context.Context, err error, key, batch string) contract.Outcome {
	var kv map[string]string
	var ue contract.UpstreamError
	if errors.As(err, &ue) {
		kv = map[string]string{"http_status": strconv.Itoa(ue.UpstreamStatus())}
		if m := strings.TrimSpace(ue.UpstreamMessage()); m != "" {
			kv["upstream_msg"] = head(m, 200)
		}
	}
	c.fail("llm_client", "invoke failed", err, key, batch, kv)
	switch {
	case isCanceled(ctx, err):
		return canceled(err)
	case errors.Is(err, contract.ErrEmptyResponse):
		return contract.Fail(contract.FailEmpty, "empty response")
	case ue != nil:
		msg := strings.TrimSpace(ue.UpstreamMessage())
		if msg == "" {
			return contract.Fail(contract.FailUpstream, "upstream error: status %d", ue.UpstreamStatus())
		}
		return contract.Fail(contract.FailUpstream, "upstream error: status %d: %s", ue.UpstreamStatus(), head(msg, 200))
	default:
		return contract.Fail(contract.FailUpstream, "upstream error: %v", err)
	}
}

// fail 记录结构化错误日志与指标。
func (c *Client) fail(comp, msg string, err error, key, batch string, kv map[string]string) {
	code := diag.Classify(err)
	diag.IncOp(comp, "error", "error")
	if code != diag.CodeUnknown {
		diag.IncError(comp, string(code))
	}
	if kv == nil {
		kv = map[string]string{}
	}
	kv["err"] = head(err.Error(), 200)
	c.logger.ErrorWithKV(comp, string(code), msg, nil, key, batch, kv)
}

func isCanceled(ctx context.Context, err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil
}

func canceled(err error) contract.Outcome {
	return contract.Fail(contract.FailCanceled, "canceled: %v", err)
}

func head(s string, n int) string {
	rs := []rune(s)
	if len(rs) <= n {
		return s
	}
	return string(rs[:n]) + "…"
}
