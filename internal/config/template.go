package config

import (
	"encoding/json"
	"strings"
)

// DefaultTemplateConfig 返回一个“可运行”的默认配置模板：
// 使用 mock LLM（离线可跑），同时给出 openai(DeepSeek)/gemini 的全部选项键。
func DefaultTemplateConfig() Config {
	d := Defaults()
	cfg := d
	cfg.ProducersFile = "producers.yaml"
	cfg.LLM = "mock"
	cfg.Provider = map[string]Provider{
		"mock": {
			Client:  "mock",
			Options: json.RawMessage(`{"prefix":"","api_key":"","delay_ms":300,"delays_ms":{},"fail":{},"plain":false}`),
			Limits:  Limits{RPM: 0, TPM: 0, MaxTokensPerReq: 0},
		},
		"deepseek": {
			Client: "openai",
			Options: json.RawMessage(`{
  "base_url": "https://api.deepseek.com/v1",
  "model": "deepseek-chat",
  "api_key_env": "DEEPSEEK_API_KEY",
  "api_key": "",
  "timeout_seconds": 60,
  "temperature": 0.8,
  "max_tokens": 2000,
  "json_mode": false,
  "endpoint_path": "",
  "disable_default_auth": false,
  "extra_headers": {}
}`),
			Limits: Limits{RPM: 60, TPM: 0, MaxTokensPerReq: 0},
		},
		"gemini": {
			Client: "gemini",
			Options: json.RawMessage(`{
  "base_url": "",
  "model": "",
  "api_key_env": "GOOGLE_API_KEY",
  "api_key": "",
  "timeout_seconds": 60,
  "temperature": 0.8,
  "max_output_tokens": 2000,
  "json_mode": false,
  "endpoint_path": "",
  "api_key_in_query": true,
  "extra_headers": {},
  "extra_query": {}
}`),
			Limits: Limits{RPM: 0, TPM: 0, MaxTokensPerReq: 0},
		},
	}
	cfg.Options.PromptBuilder = json.RawMessage(`{
  "inline_template": "",
  "template_path": "",
  "inline_system": "",
  "system_path": ""
}`)
	cfg.Options.Decoder = json.RawMessage(`{"lenient": false}`)
	cfg.Options.Writer = json.RawMessage(`{
  "output_dir": "out",
  "atomic": true,
  "perm_file": 0,
  "perm_dir": 0,
  "buf_size": 65536
}`)
	return cfg
}

// DotEnvTemplate 返回 .env 模板内容（覆盖项与常见供应商密钥）。
func DotEnvTemplate() string {
	var b strings.Builder
	b.WriteString("# chefbatch .env 模板（由 --init-config 生成）\n")
	b.WriteString("# 优先级：CLI > ENV(.env) > JSON\n\n")
	b.WriteString("# 配置来源（可二选一）\n")
	for _, k := range []string{"CONFIG_FILE", "CONFIG_JSON"} {
		b.WriteString(EnvPrefix + k + "=\n")
	}
	b.WriteString("\n# 运行参数覆盖\n")
	for _, k := range []string{"LLM", "MAX_INPUT_RUNES", "CONCURRENCY", "MAX_TOKENS", "BYTES_PER_TOKEN", "PRODUCERS_FILE", "PRODUCERS", "LOG_LEVEL", "LOG_DIR"} {
		b.WriteString(EnvPrefix + k + "=\n")
	}
	b.WriteString("\n# 组件选择\n")
	for _, k := range []string{"COMPONENTS_PROMPT_BUILDER", "COMPONENTS_DECODER", "COMPONENTS_WRITER"} {
		b.WriteString(EnvPrefix + k + "=\n")
	}
	for _, name := range []string{"deepseek", "gemini"} {
		b.WriteString("\n# Provider 覆盖（" + name + "）\n")
		for _, f := range []string{"CLIENT", "LIMITS_RPM", "LIMITS_TPM", "LIMITS_MAX_TOKENS_PER_REQ", "OPTIONS_JSON"} {
			b.WriteString(EnvPrefix + "PROVIDER__" + name + "__" + f + "=\n")
		}
	}
	b.WriteString("\n# 供应商 API Key（由客户端直接读取，不带前缀）\n")
	b.WriteString("DEEPSEEK_API_KEY=\n")
	b.WriteString("GOOGLE_API_KEY=\n")
	return b.String()
}
