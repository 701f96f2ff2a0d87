// Package registry 以显式 name → factory 映射组装插件（零反射）。
package registry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"chefbatch/pkg/contract"
	drecipe "chefbatch/plugins/decoder/recipe"
	flaky "chefbatch/plugins/llmclient/flaky"
	gmi "chefbatch/plugins/llmclient/gemini"
	mock "chefbatch/plugins/llmclient/mock"
	oai "chefbatch/plugins/llmclient/openai"
	precipe "chefbatch/plugins/prompt/recipe"
	wfs "chefbatch/plugins/writer/filesystem"
)

// strictUnmarshal: 使用 DisallowUnknownFields 严格解码，拒绝未知字段。
func strictUnmarshal(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// NewPromptBuilder 工厂签名：接收原样 JSON Options。
type NewPromptBuilder func(raw json.RawMessage) (contract.PromptBuilder, error)

// NewLLMClient 工厂签名：接收原样 JSON Options。
type NewLLMClient func(raw json.RawMessage) (contract.LLMClient, error)

// NewDecoder 工厂签名：接收原样 JSON Options。
type NewDecoder func(raw json.RawMessage) (contract.Decoder, error)

// NewWriter 工厂签名：接收原样 JSON Options。
type NewWriter func(raw json.RawMessage) (contract.Writer, error)

// PromptBuilder 工厂注册表。
var PromptBuilder = map[string]NewPromptBuilder{
	// recipe: 大厨菜谱提示词（text/template）
	"recipe": func(raw json.RawMessage) (contract.PromptBuilder, error) {
		var opts precipe.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return precipe.New(&opts)
	},
}

// LLMClient 工厂注册表。各客户端自行解析选项（含可选字段兼容）。
var LLMClient = map[string]NewLLMClient{
	"openai": func(raw json.RawMessage) (contract.LLMClient, error) { return oai.New(raw) },
	"gemini": func(raw json.RawMessage) (contract.LLMClient, error) { return gmi.New(raw) },
	"mock":   func(raw json.RawMessage) (contract.LLMClient, error) { return mock.New(raw) },
	"flaky":  func(raw json.RawMessage) (contract.LLMClient, error) { return flaky.New(raw) },
}

// Decoder 工厂注册表。
var Decoder = map[string]NewDecoder{
	// recipe: 菜谱 JSON → Dish（含结构校验）
	"recipe": func(raw json.RawMessage) (contract.Decoder, error) { return drecipe.New(raw) },
}

// Writer 工厂注册表。
var Writer = map[string]NewWriter{
	// fs: 单目录文件 Writer（默认原子替换）
	"fs": func(raw json.RawMessage) (contract.Writer, error) {
		var opts wfs.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return wfs.New(&opts)
	},
}

// Names 返回注册表中的名称（排序后），用于错误提示与 --help。
func Names[F any](m map[string]F) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Lookup 按名称取工厂；未知名称返回包裹 ErrInvalidInput 的错误。
func Lookup[F any](kind string, m map[string]F, name string) (F, error) {
	f, ok := m[name]
	if !ok {
		var zero F
		return zero, fmt.Errorf("unknown %s %q (available: %v): %w", kind, name, Names(m), contract.ErrInvalidInput)
	}
	return f, nil
}
