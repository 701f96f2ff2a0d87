package config

import (
	"encoding/json"
)

// Config: 运行期只读配置（一次解析，运行期不变）。
// JSON 使用 snake_case；未知字段在解析期失败。
type Config struct {
	// MaxInputRunes: 食材文本去空白后的长度上限（不含），默认 200。
	MaxInputRunes int `json:"max_input_runes"`
	// Concurrency: 同时在途的生成者上限；0 表示不限制（每个生成者一个 goroutine）。
	Concurrency int `json:"concurrency"`
	// MaxTokens: 预期输出 token（仅用于限流估算）。
	MaxTokens     int `json:"max_tokens"`
	BytesPerToken int `json:"bytes_per_token"`
	// ProducersFile: YAML 生成者清单；为空使用内置 6 位厨师。
	ProducersFile string `json:"producers_file"`
	// Producers: 仅启用这些 key（保持清单顺序）；为空启用全部。
	Producers []string `json:"producers"`
	Logging   Logging  `json:"logging"`

	// 组件名选择（空则使用默认名）。
	Components Components `json:"components"`

	// LLM Provider 选择与定义。
	LLM      string              `json:"llm"`
	Provider map[string]Provider `json:"provider"`

	// 各组件 Options 子树，原样 JSON 传入工厂。
	Options Options `json:"options"`
}

// Logging: 日志等级与目录；Dir 默认 logs，"-" 表示写 stderr。
type Logging struct {
	Level string `json:"level"`
	Dir   string `json:"dir"`
}

// Components: 组件名选择（注册表中的实现名）。
type Components struct {
	PromptBuilder string `json:"prompt_builder"`
	Decoder       string `json:"decoder"`
	Writer        string `json:"writer"`
}

// Options: 各组件的原样 JSON Options。
type Options struct {
	PromptBuilder json.RawMessage `json:"prompt_builder"`
	Decoder       json.RawMessage `json:"decoder"`
	Writer        json.RawMessage `json:"writer"`
}

// Provider: 命名 provider 定义（client 实现 + options + 限额）。
type Provider struct {
	Client  string          `json:"client"`
	Options json.RawMessage `json:"options"`
	Limits  Limits          `json:"limits"`
}

// Limits: 限流配置（仅承载；执行位于 rate.Gate）。
type Limits struct {
	RPM             int `json:"rpm"`
	TPM             int `json:"tpm"`
	MaxTokensPerReq int `json:"max_tokens_per_req"`
}
