// Package recipe 为菜谱生成的 PromptBuilder：按食材与菜系渲染大厨提示词。
package recipe

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"
	"text/template"

	"chefbatch/pkg/contract"
)

// Options: 模板来源（inline 优先于 path，均为空时使用内置模板）。
type Options struct {
	InlineTemplate string `json:"inline_template"`
	TemplatePath   string `json:"template_path"`
	// 可选 system 提示；为空时只发送一条 user 消息。
	InlineSystem string `json:"inline_system"`
	SystemPath   string `json:"system_path"`
}

// Data 为模板可见字段。
type Data struct {
	Cuisine     string
	Chef        string
	Key         string
	Ingredients string
	Meta        contract.Meta
}

// Builder 在构造期解析模板，运行期不做 I/O。
type Builder struct {
	userT *template.Template
	sysT  *template.Template
}

// New 构造 Builder。
func New(opts *Options) (*Builder, error) {
	o := Options{}
	if opts != nil {
		o = *opts
	}
	src, err := load(o.InlineTemplate, o.TemplatePath, defaultTemplate)
	if err != nil {
		return nil, fmt.Errorf("recipe template read: %w", err)
	}
	userT, err := template.New("recipe").Option("missingkey=error").Parse(src)
	if err != nil {
		return nil, fmt.Errorf("recipe template parse: %w", err)
	}
	b := &Builder{userT: userT}
	sys, err := load(o.InlineSystem, o.SystemPath, "")
	if err != nil {
		return nil, fmt.Errorf("recipe system read: %w", err)
	}
	if strings.TrimSpace(sys) != "" {
		if b.sysT, err = template.New("system").Parse(sys); err != nil {
			return nil, fmt.Errorf("recipe system parse: %w", err)
		}
	}
	return b, nil
}

func load(inline, path, def string) (string, error) {
	if inline != "" {
		return inline, nil
	}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
	return def, nil
}

// Build 构造 ChatPrompt（[system] + user）。输入原样透传，不做改写。
func (b *Builder) Build(ctx context.Context, in contract.Input, p contract.Producer) (contract.Prompt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.Text) == "" {
		return nil, fmt.Errorf("prompt: %w: empty input", contract.ErrInvalidInput)
	}
	if p.Cuisine == "" {
		return nil, fmt.Errorf("prompt: %w: producer %q has no cuisine", contract.ErrInvalidInput, p.Key)
	}
	d := Data{Cuisine: p.Cuisine, Chef: p.DisplayName, Key: p.Key, Ingredients: in.Text, Meta: p.Meta}
	var out contract.ChatPrompt
	if b.sysT != nil {
		var sb bytes.Buffer
		if err := b.sysT.Execute(&sb, d); err != nil {
			return nil, fmt.Errorf("system render: %v: %w", err, contract.ErrInvalidInput)
		}
		out = append(out, contract.Message{Role: "system", Content: sb.String()})
	}
	var ub bytes.Buffer
	ub.Grow(len(defaultTemplate) + len(in.Text))
	if err := b.userT.Execute(&ub, d); err != nil {
		return nil, fmt.Errorf("recipe render: %v: %w", err, contract.ErrInvalidInput)
	}
	out = append(out, contract.Message{Role: "user", Content: ub.String()})
	return out, nil
}

// EstimateOverheadTokens 估算与输入无关的模板开销（以空食材渲染）。
func (b *Builder) EstimateOverheadTokens(estimate contract.TokenEstimator) int {
	if estimate == nil {
		return 0
	}
	d := Data{Cuisine: "-", Chef: "-", Key: "-"}
	n := 0
	if b.sysT != nil {
		var sb bytes.Buffer
		_ = b.sysT.Execute(&sb, d)
		n += estimate(sb.String())
	}
	var ub bytes.Buffer
	_ = b.userT.Execute(&ub, d)
	return n + estimate(ub.String())
}

var _ contract.PromptBuilder = (*Builder)(nil)
