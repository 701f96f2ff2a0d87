package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"chefbatch/pkg/contract"
)

// 解析完整 config.json
func TestLoadJSON(t *testing.T) {
	cfg, err := LoadJSON("../../testdata/config/basic.json", nil)
	if err != nil {
		t.Fatalf("加载失败: %v", err)
	}
	if cfg.LLM != "deepseek" || cfg.Provider["deepseek"].Client != "openai" {
		t.Fatalf("LLM 映射错误: %+v", cfg)
	}
	if cfg.MaxInputRunes != 120 || cfg.Concurrency != 3 || len(cfg.Producers) != 2 || cfg.Logging.Dir != "-" {
		t.Fatalf("字段映射错误: %+v", cfg)
	}
	merged := Merge(Defaults(), cfg)
	if err := Validate(merged); err != nil {
		t.Fatalf("校验失败: %v", err)
	}
	if merged.Components.Decoder != "recipe" || merged.MaxTokens != 2000 {
		t.Fatalf("默认值未保留: %+v", merged)
	}
}

func TestLoadJSONErrors(t *testing.T) {
	if _, err := LoadJSON("", []byte(`{"unknown":1}`)); err == nil {
		t.Fatalf("未知字段应当返回错误")
	}
	if _, err := LoadJSON("", nil); err == nil {
		t.Fatalf("无来源应报错")
	}
	if _, err := LoadJSON(filepath.Join(t.TempDir(), "nope.json"), nil); err == nil {
		t.Fatalf("文件不存在应报错")
	}
}

// ENV 覆盖与 provider 聚合
func TestEnvOverlay(t *testing.T) {
	env := []string{
		"CHEFBATCH_CONCURRENCY=3",
		"CHEFBATCH_LLM=mock",
		"CHEFBATCH_PRODUCERS=hunan, thai",
		"CHEFBATCH_LOG_LEVEL=warn",
		"CHEFBATCH_COMPONENTS_DECODER=recipe",
		"CHEFBATCH_PROVIDER__mock__CLIENT=mock",
		"CHEFBATCH_PROVIDER__mock__LIMITS_RPM=10",
		`CHEFBATCH_PROVIDER__mock__OPTIONS_JSON={"delay_ms":1}`,
		"CHEFBATCH_MAX_TOKENS=",
		"OTHER_LLM=gemini",
	}
	over, err := EnvOverlay(env)
	if err != nil {
		t.Fatalf("EnvOverlay 错误: %v", err)
	}
	if over.LLM != "mock" || over.Concurrency != 3 || len(over.Producers) != 2 || over.Logging.Level != "warn" || over.MaxTokens != 0 {
		t.Fatalf("覆盖结果不正确: %+v", over)
	}
	p := over.Provider["mock"]
	if p.Client != "mock" || p.Limits.RPM != 10 || string(p.Options) != `{"delay_ms":1}` {
		t.Fatalf("provider 覆盖错误: %+v", p)
	}
	if _, err := EnvOverlay([]string{"CHEFBATCH_CONCURRENCY=abc"}); err == nil || !strings.Contains(err.Error(), "CHEFBATCH_CONCURRENCY") {
		t.Fatalf("非法数值应报错并指出键名: %v", err)
	}
	if _, err := EnvOverlay([]string{"CHEFBATCH_PROVIDER__x__OPTIONS_JSON={bad"}); err == nil {
		t.Fatalf("非法 JSON 应报错")
	}
}

// 优先级：后者覆盖前者，provider 按键合并
func TestMergePrecedence(t *testing.T) {
	base := DefaultTemplateConfig()
	over := Config{LLM: "deepseek", Concurrency: 2, Provider: map[string]Provider{"extra": {Client: "mock"}}}
	out := Merge(base, over)
	if out.LLM != "deepseek" || out.Concurrency != 2 {
		t.Fatalf("覆盖失败: %+v", out)
	}
	if _, ok := out.Provider["mock"]; !ok {
		t.Fatalf("原 provider 应保留")
	}
	if _, ok := out.Provider["extra"]; !ok {
		t.Fatalf("新 provider 应加入")
	}
	if _, ok := base.Provider["extra"]; ok {
		t.Fatalf("Merge 不应修改 base")
	}
}

func TestValidateErrors(t *testing.T) {
	if err := Validate(Config{}); !errors.Is(err, contract.ErrInvalidInput) {
		t.Fatalf("空配置应失败: %v", err)
	}
	mut := []func(*Config){
		func(c *Config) { c.Concurrency = -1 },
		func(c *Config) { c.MaxInputRunes = 1 },
		func(c *Config) { c.LLM = "" },
		func(c *Config) { c.LLM = "missing" },
		func(c *Config) { c.Provider["mock"] = Provider{} },
		func(c *Config) { c.Provider["mock"] = Provider{Client: "nope"} },
		func(c *Config) { c.Components.Decoder = "nope" },
		func(c *Config) { c.Producers = []string{" "} },
		func(c *Config) { c.Provider["mock"] = Provider{Client: "mock", Limits: Limits{MaxTokensPerReq: 10}} },
	}
	for i, m := range mut {
		cfg := DefaultTemplateConfig()
		m(&cfg)
		if err := Validate(cfg); err == nil {
			t.Fatalf("case %d 应失败", i)
		}
	}
	if err := Validate(DefaultTemplateConfig()); err != nil {
		t.Fatalf("模板应可通过校验: %v", err)
	}
}

func TestAssemble(t *testing.T) {
	cfg := DefaultTemplateConfig()
	cfg.ProducersFile = ""
	cfg.Producers = []string{"thai", "hunan"}
	cfg.Options.Writer = json.RawMessage(`{"output_dir":"` + filepath.ToSlash(t.TempDir()) + `"}`)
	rt, err := Assemble(cfg, nil)
	if err != nil {
		t.Fatalf("装配失败: %v", err)
	}
	if len(rt.Producers) != 2 || rt.Producers[0].Key != "hunan" {
		t.Fatalf("生成者过滤应保持清单顺序: %+v", rt.Producers)
	}
	if rt.Generator == nil || rt.Writer == nil || rt.Gate != nil {
		t.Fatalf("组件装配错误: %+v", rt)
	}
	if rt.MaxInputRunes != 200 || rt.GateKey == "" {
		t.Fatalf("运行参数错误: %+v", rt)
	}

	cfg.Provider["mock"] = Provider{Client: "mock", Limits: Limits{RPM: 5}}
	cfg.Options.Writer = nil
	rt, err = Assemble(cfg, nil)
	if err != nil {
		t.Fatalf("装配失败: %v", err)
	}
	if rt.Gate == nil || rt.Writer != nil {
		t.Fatalf("限额应启用 Gate，缺少 writer 选项时不构造 Writer")
	}

	cfg.Producers = []string{"ghost"}
	if _, err := Assemble(cfg, nil); err == nil {
		t.Fatalf("未知生成者应报错")
	}
}

func TestAssembleProducersFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "producers.yaml")
	data := "producers:\n  - key: a\n    name: 甲\n    cuisine: 湘菜\n"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := DefaultTemplateConfig()
	cfg.ProducersFile = path
	rt, err := Assemble(cfg, nil)
	if err != nil {
		t.Fatalf("装配失败: %v", err)
	}
	if len(rt.Producers) != 1 || rt.Producers[0].Key != "a" {
		t.Fatalf("应加载 YAML 清单: %+v", rt.Producers)
	}
	cfg.ProducersFile = filepath.Join(t.TempDir(), "missing.yaml")
	if _, err := Assemble(cfg, nil); err == nil {
		t.Fatalf("缺失清单文件应报错")
	}
}

func TestLoadDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	content := "# comment\nexport CHEFBATCH_T1=\"a\\nb\"\nCHEFBATCH_T2='x y'\nCHEFBATCH_T3=keep\nbad line\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CHEFBATCH_T3", "existing")
	t.Setenv("CHEFBATCH_T1", "")
	os.Unsetenv("CHEFBATCH_T1")
	t.Setenv("CHEFBATCH_T2", "")
	os.Unsetenv("CHEFBATCH_T2")
	if err := LoadDotEnv(path); err != nil {
		t.Fatalf("load: %v", err)
	}
	if os.Getenv("CHEFBATCH_T1") != "a\nb" || os.Getenv("CHEFBATCH_T2") != "x y" {
		t.Fatalf("解析错误: %q %q", os.Getenv("CHEFBATCH_T1"), os.Getenv("CHEFBATCH_T2"))
	}
	if os.Getenv("CHEFBATCH_T3") != "existing" {
		t.Fatalf("不应覆盖已有 ENV")
	}
	if err := LoadDotEnv(filepath.Join(t.TempDir(), "none")); err != nil {
		t.Fatalf("文件不存在应忽略: %v", err)
	}
}

func TestTemplates(t *testing.T) {
	b, err := json.Marshal(DefaultTemplateConfig())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	back, err := LoadJSON("", b)
	if err != nil {
		t.Fatalf("模板应可被严格解析回读: %v", err)
	}
	if back.LLM != "mock" || back.Provider["deepseek"].Client != "openai" {
		t.Fatalf("回读错误: %+v", back)
	}
	env := DotEnvTemplate()
	for _, want := range []string{"CHEFBATCH_CONFIG_FILE=", "CHEFBATCH_PROVIDER__deepseek__OPTIONS_JSON=", "DEEPSEEK_API_KEY="} {
		if !strings.Contains(env, want) {
			t.Fatalf(".env 模板缺少 %s", want)
		}
	}
}

func TestHelpers(t *testing.T) {
	if parts := splitComma("a, b , ,c"); len(parts) != 3 || parts[1] != "b" {
		t.Fatalf("splitComma 结果错误: %v", parts)
	}
	if v, err := atoi("10"); err != nil || v != 10 {
		t.Fatalf("atoi 失败: %v %d", err, v)
	}
	src := []byte("abc")
	dst := cloneRaw(src)
	src[0] = 'x'
	if string(dst) != "abc" {
		t.Fatalf("cloneRaw 未复制")
	}
	if unquote(`"\\n"`) != `\n` {
		t.Fatalf("转义反斜杠处理错误: %q", unquote(`"\\n"`))
	}
}

// JSON 中显式的 null 选项视为未设置，不覆盖也不触发 Writer 装配。
func TestNullOptionsIgnored(t *testing.T) {
	over, err := LoadJSON("", []byte(`{"options":{"writer":null,"decoder":null}}`))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	base := Defaults()
	base.Options.Decoder = json.RawMessage(`{"lenient":true}`)
	got := Merge(base, over)
	if got.Options.Writer != nil {
		t.Fatalf("null writer 不应覆盖: %s", got.Options.Writer)
	}
	if string(got.Options.Decoder) != `{"lenient":true}` {
		t.Fatalf("null decoder 不应覆盖: %s", got.Options.Decoder)
	}
	if present(json.RawMessage(" null ")) || present(nil) || !present(json.RawMessage(`{}`)) {
		t.Fatalf("present 判定错误")
	}
}
