package config

import (
	"errors"
	"fmt"
	"strings"

	"chefbatch/internal/diag"
	"chefbatch/internal/generate"
	"chefbatch/internal/producers"
	"chefbatch/internal/rate"
	"chefbatch/pkg/contract"
	"chefbatch/pkg/registry"
)

// Validate 对最小必要边界做静态校验。错误均包裹 contract.ErrInvalidInput。
func Validate(cfg Config) error {
	if err := validate(cfg); err != nil {
		return fmt.Errorf("config: %v: %w", err, contract.ErrInvalidInput)
	}
	return nil
}

func validate(cfg Config) error {
	if cfg.MaxInputRunes < 2 {
		return errors.New("max_input_runes must be >= 2")
	}
	if cfg.Concurrency < 0 {
		return errors.New("concurrency must be >= 0")
	}
	if cfg.MaxTokens < 0 {
		return errors.New("max_tokens must be >= 0")
	}
	if cfg.BytesPerToken < 0 {
		return errors.New("bytes_per_token must be >= 0")
	}
	for _, k := range cfg.Producers {
		if strings.TrimSpace(k) == "" {
			return errors.New("producers: empty key")
		}
	}
	if cfg.LLM == "" {
		return errors.New("llm not set")
	}
	prov, ok := cfg.Provider[cfg.LLM]
	if !ok {
		return fmt.Errorf("provider %q not found", cfg.LLM)
	}
	if prov.Client == "" {
		return fmt.Errorf("provider %q missing client", cfg.LLM)
	}
	if prov.Limits.RPM < 0 || prov.Limits.TPM < 0 || prov.Limits.MaxTokensPerReq < 0 {
		return fmt.Errorf("provider %q limits must be >= 0", cfg.LLM)
	}
	if prov.Limits.MaxTokensPerReq > 0 && cfg.MaxTokens > prov.Limits.MaxTokensPerReq {
		return fmt.Errorf("max_tokens(%d) exceeds provider.max_tokens_per_req(%d)", cfg.MaxTokens, prov.Limits.MaxTokensPerReq)
	}
	d := Defaults()
	if _, err := registry.Lookup("prompt_builder", registry.PromptBuilder, effName(cfg.Components.PromptBuilder, d.Components.PromptBuilder)); err != nil {
		return err
	}
	if _, err := registry.Lookup("decoder", registry.Decoder, effName(cfg.Components.Decoder, d.Components.Decoder)); err != nil {
		return err
	}
	if _, err := registry.Lookup("writer", registry.Writer, effName(cfg.Components.Writer, d.Components.Writer)); err != nil {
		return err
	}
	if _, err := registry.Lookup("llm client", registry.LLMClient, prov.Client); err != nil {
		return err
	}
	return nil
}

// Runtime 为装配完成的运行期组件。
type Runtime struct {
	Producers []contract.Producer
	Generator *generate.Client
	// Writer 仅在导出时使用；Options.Writer 缺失 output_dir 时为 nil。
	Writer        contract.Writer
	Gate          rate.Gate
	GateKey       rate.LimitKey
	MaxInputRunes int
	Concurrency   int
}

// Assemble 校验并构造生成客户端、生成者清单、限流 Gate 与导出 Writer。
// 严格 Options 解析在 registry（工厂）层进行；此处只传 raw JSON。
func Assemble(cfg Config, logger *diag.Logger) (*Runtime, error) {
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	d := Defaults()

	ps := producers.Default()
	if cfg.ProducersFile != "" {
		loaded, err := producers.Load(cfg.ProducersFile)
		if err != nil {
			return nil, err
		}
		ps = loaded
	}
	if len(cfg.Producers) > 0 {
		sub, err := producers.Filter(ps, cfg.Producers)
		if err != nil {
			return nil, err
		}
		ps = sub
	}

	// 名称已在 Validate 中确认注册，Lookup 不会失败。
	newPB, _ := registry.Lookup("prompt_builder", registry.PromptBuilder, effName(cfg.Components.PromptBuilder, d.Components.PromptBuilder))
	pb, err := newPB(cfg.Options.PromptBuilder)
	if err != nil {
		return nil, fmt.Errorf("prompt_builder: %w", err)
	}
	newDec, _ := registry.Lookup("decoder", registry.Decoder, effName(cfg.Components.Decoder, d.Components.Decoder))
	dec, err := newDec(cfg.Options.Decoder)
	if err != nil {
		return nil, fmt.Errorf("decoder: %w", err)
	}
	var w contract.Writer
	if present(cfg.Options.Writer) {
		newW, _ := registry.Lookup("writer", registry.Writer, effName(cfg.Components.Writer, d.Components.Writer))
		if w, err = newW(cfg.Options.Writer); err != nil {
			return nil, fmt.Errorf("writer: %w", err)
		}
	}

	prov := cfg.Provider[cfg.LLM]
	newLLM, _ := registry.Lookup("llm client", registry.LLMClient, prov.Client)
	llm, err := newLLM(prov.Options)
	if err != nil {
		return nil, fmt.Errorf("llm %s: %w", cfg.LLM, err)
	}

	// 限流 Gate：默认使用 API Key 派生分组键；失败则退化为 provider 名称。
	key, derr := rate.DeriveKeyFromProviderOptions(prov.Client, prov.Options)
	if derr != nil {
		key = rate.LimitKey(cfg.LLM)
	}
	var gate rate.Gate
	lim := prov.Limits
	if lim.RPM > 0 || lim.TPM > 0 || lim.MaxTokensPerReq > 0 {
		gate = rate.NewGate(map[rate.LimitKey]rate.Limits{
			key: {RPM: lim.RPM, TPM: lim.TPM, MaxTokensPerReq: lim.MaxTokensPerReq},
		}, nil)
	}

	gen, err := generate.New(
		generate.Components{PromptBuilder: pb, LLM: llm, Decoder: dec},
		generate.Settings{Gate: gate, GateKey: key, BytesPerToken: cfg.BytesPerToken, MaxOutputTokens: cfg.MaxTokens},
		logger,
	)
	if err != nil {
		return nil, err
	}
	return &Runtime{
		Producers:     ps,
		Generator:     gen,
		Writer:        w,
		Gate:          gate,
		GateKey:       key,
		MaxInputRunes: cfg.MaxInputRunes,
		Concurrency:   cfg.Concurrency,
	}, nil
}

func effName(got, def string) string {
	if got == "" {
		return def
	}
	return got
}
