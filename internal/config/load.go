package config

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"chefbatch/internal/input"
)

// EnvPrefix 为本程序读取的环境变量前缀。
const EnvPrefix = "CHEFBATCH_"

// Defaults 返回带有安全默认值的 Config 雏形。
// 注意：LLM 不设默认（必须由 JSON/ENV/CLI 提供）。
func Defaults() Config {
	return Config{
		MaxInputRunes: input.DefaultMaxRunes,
		Concurrency:   0,
		MaxTokens:     2000,
		BytesPerToken: 4,
		Logging:       Logging{Level: "info", Dir: "logs"},
		Components: Components{
			PromptBuilder: "recipe",
			Decoder:       "recipe",
			Writer:        "fs",
		},
	}
}

// LoadJSON 从文件路径或原始 JSON 解析 Config（严格拒绝未知字段）。
func LoadJSON(path string, raw []byte) (Config, error) {
	var cfg Config
	var r io.Reader
	switch {
	case len(raw) > 0:
		r = bytes.NewReader(raw)
	case path != "":
		f, err := os.Open(path)
		if err != nil {
			return cfg, err
		}
		defer f.Close()
		r = f
	default:
		return cfg, errors.New("no config source provided")
	}
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("config json: %w", err)
	}
	return cfg, nil
}

// Merge 按优先级合并（后者覆盖前者）。
// 仅标量/字符串/原样 JSON 为“替换”；不做深度合并。零值视为未覆盖。
func Merge(base, over Config) Config {
	out := base
	if over.MaxInputRunes != 0 {
		out.MaxInputRunes = over.MaxInputRunes
	}
	if over.Concurrency != 0 {
		out.Concurrency = over.Concurrency
	}
	if over.MaxTokens != 0 {
		out.MaxTokens = over.MaxTokens
	}
	if over.BytesPerToken != 0 {
		out.BytesPerToken = over.BytesPerToken
	}
	if s := strings.TrimSpace(over.ProducersFile); s != "" {
		out.ProducersFile = s
	}
	if len(over.Producers) > 0 {
		out.Producers = cloneStrings(over.Producers)
	}
	if s := strings.TrimSpace(over.Logging.Level); s != "" {
		out.Logging.Level = s
	}
	if s := strings.TrimSpace(over.Logging.Dir); s != "" {
		out.Logging.Dir = s
	}

	// 组件名（空不覆盖）
	if over.Components.PromptBuilder != "" {
		out.Components.PromptBuilder = over.Components.PromptBuilder
	}
	if over.Components.Decoder != "" {
		out.Components.Decoder = over.Components.Decoder
	}
	if over.Components.Writer != "" {
		out.Components.Writer = over.Components.Writer
	}

	// Provider（完整替换对应键）
	if len(over.Provider) > 0 {
		merged := make(map[string]Provider, len(out.Provider)+len(over.Provider))
		for k, v := range out.Provider {
			merged[k] = v
		}
		for k, v := range over.Provider {
			merged[k] = v
		}
		out.Provider = merged
	}

	// Options（完整替换对应键）
	if present(over.Options.PromptBuilder) {
		out.Options.PromptBuilder = cloneRaw(over.Options.PromptBuilder)
	}
	if present(over.Options.Decoder) {
		out.Options.Decoder = cloneRaw(over.Options.Decoder)
	}
	if present(over.Options.Writer) {
		out.Options.Writer = cloneRaw(over.Options.Writer)
	}

	if s := strings.TrimSpace(over.LLM); s != "" {
		out.LLM = s
	}
	return out
}

// EnvOverlay 从环境变量构建一个 Config 覆盖（仅解析有限键集合）。
// 支持：MAX_INPUT_RUNES, CONCURRENCY, MAX_TOKENS, BYTES_PER_TOKEN, PRODUCERS_FILE,
// PRODUCERS, LLM, LOG_LEVEL, LOG_DIR, COMPONENTS_*
// 以及 PROVIDER__<name>__CLIENT / PROVIDER__<name>__LIMITS_{RPM,TPM,MAX_TOKENS_PER_REQ} / PROVIDER__<name>__OPTIONS_JSON。
// 数值解析失败返回错误（指出键名）。
func EnvOverlay(environ []string) (Config, error) {
	var over Config
	prov := map[string]Provider{}
	for _, kv := range environ {
		if !strings.HasPrefix(kv, EnvPrefix) {
			continue
		}
		eq := strings.IndexByte(kv, '=')
		if eq <= len(EnvPrefix) {
			continue
		}
		key, val := kv[:eq], kv[eq+1:]
		nk := strings.TrimPrefix(key, EnvPrefix)
		if strings.TrimSpace(val) == "" {
			continue
		}
		num := func(dst *int) error {
			v, err := atoi(val)
			if err != nil {
				return fmt.Errorf("config env %s: %w", key, err)
			}
			*dst = v
			return nil
		}
		var err error
		switch nk {
		case "MAX_INPUT_RUNES":
			err = num(&over.MaxInputRunes)
		case "CONCURRENCY":
			err = num(&over.Concurrency)
		case "MAX_TOKENS":
			err = num(&over.MaxTokens)
		case "BYTES_PER_TOKEN":
			err = num(&over.BytesPerToken)
		case "PRODUCERS_FILE":
			over.ProducersFile = strings.TrimSpace(val)
		case "PRODUCERS":
			over.Producers = splitComma(val)
		case "LLM":
			over.LLM = strings.TrimSpace(val)
		case "LOG_LEVEL":
			over.Logging.Level = strings.TrimSpace(val)
		case "LOG_DIR":
			over.Logging.Dir = strings.TrimSpace(val)
		case "COMPONENTS_PROMPT_BUILDER":
			over.Components.PromptBuilder = strings.TrimSpace(val)
		case "COMPONENTS_DECODER":
			over.Components.Decoder = strings.TrimSpace(val)
		case "COMPONENTS_WRITER":
			over.Components.Writer = strings.TrimSpace(val)
		default:
			// provider.* 路径：PROVIDER__name__FOO
			if !strings.HasPrefix(nk, "PROVIDER__") {
				continue
			}
			parts := strings.Split(nk, "__")
			if len(parts) < 3 {
				continue
			}
			name := strings.TrimSpace(parts[1])
			p := prov[name]
			switch strings.Join(parts[2:], "__") {
			case "CLIENT":
				p.Client = strings.TrimSpace(val)
			case "LIMITS_RPM":
				err = num(&p.Limits.RPM)
			case "LIMITS_TPM":
				err = num(&p.Limits.TPM)
			case "LIMITS_MAX_TOKENS_PER_REQ":
				err = num(&p.Limits.MaxTokensPerReq)
			case "OPTIONS_JSON":
				if !json.Valid([]byte(val)) {
					err = fmt.Errorf("config env %s: invalid json", key)
				}
				p.Options = json.RawMessage(val)
			default:
				continue
			}
			prov[name] = p
		}
		if err != nil {
			return Config{}, err
		}
	}
	if len(prov) > 0 {
		over.Provider = prov
	}
	return over, nil
}

// LoadDotEnv 读取简单的 .env 文件格式并注入进程环境。
// 文件不存在返回 nil；跳过空行与 # 注释；支持 "export " 前缀与成对引号；
// 不覆盖已存在的环境变量。
func LoadDotEnv(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()
	s := bufio.NewScanner(f)
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		eq := strings.IndexByte(line, '=')
		if eq <= 0 {
			continue
		}
		key := strings.TrimSpace(line[:eq])
		val := unquote(strings.TrimSpace(line[eq+1:]))
		if key == "" {
			continue
		}
		if _, exists := os.LookupEnv(key); exists {
			continue
		}
		_ = os.Setenv(key, val)
	}
	return s.Err()
}

func unquote(val string) string {
	if len(val) < 2 {
		return val
	}
	q := val[0]
	if (q != '\'' && q != '"') || val[len(val)-1] != q {
		return val
	}
	val = val[1 : len(val)-1]
	if q == '"' {
		val = strings.NewReplacer(`\n`, "\n", `\t`, "\t", `\r`, "\r", `\"`, `"`, `\\`, `\`).Replace(val)
	}
	return val
}

func cloneStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

// present 报告 raw 是否携带选项（空白与 JSON null 视为未设置）。
func present(raw json.RawMessage) bool {
	t := bytes.TrimSpace(raw)
	return len(t) > 0 && !bytes.Equal(t, []byte("null"))
}

func cloneRaw(in json.RawMessage) json.RawMessage {
	if len(in) == 0 {
		return nil
	}
	out := make([]byte, len(in))
	copy(out, in)
	return out
}

func splitComma(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func atoi(s string) (int, error) {
	var n int
	_, err := fmt.Sscanf(strings.TrimSpace(s), "%d", &n)
	if err != nil {
		return 0, err
	}
	return n, nil
}
