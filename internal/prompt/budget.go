// Package prompt 提供提示词规模的近似估算，用于限流闸门的 token 申请。
package prompt

import "chefbatch/pkg/contract"

// MakeEstimator 返回一个近似 token 估算器：tokens ≈ ceil(len(utf8_bytes)/bytesPerToken)。
// 当 bytesPerToken<=0 时采用默认 4。
func MakeEstimator(bytesPerToken int) contract.TokenEstimator {
	bpt := bytesPerToken
	if bpt <= 0 {
		bpt = 4
	}
	return func(s string) int {
		n := len(s)
		if n == 0 {
			return 0
		}
		return (n + bpt - 1) / bpt
	}
}

// PromptTokens 估算 Prompt 的输入 token；未知载荷类型返回 0。
func PromptTokens(p contract.Prompt, est contract.TokenEstimator) int {
	if est == nil {
		est = MakeEstimator(0)
	}
	switch v := p.(type) {
	case contract.TextPrompt:
		return est(string(v))
	case contract.ChatPrompt:
		total := 0
		for _, m := range v {
			total += est(m.Content)
		}
		return total
	default:
		return 0
	}
}

// RequestTokens 估算一次请求的总 token：输入 + 预期输出上限（maxOutput<=0 不计）。
func RequestTokens(p contract.Prompt, est contract.TokenEstimator, maxOutput int) int {
	n := PromptTokens(p, est)
	if maxOutput > 0 {
		n += maxOutput
	}
	return n
}
