// Package recipe 将抽取出的 JSON 片段解码为 Dish 并做结构校验。
package recipe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"chefbatch/pkg/contract"
)

// Options 控制校验宽松度。
type Options struct {
	// Lenient: 仅要求 dish_name，跳过步骤与食材校验。
	Lenient bool `json:"lenient,omitempty"`
}

// Ingredients 按类别分组的食材。
type Ingredients struct {
	Main      []string `json:"main"`
	Auxiliary []string `json:"auxiliary"`
	Seasoning []string `json:"seasoning"`
}

// Step 单个制作步骤。
type Step struct {
	Step    int      `json:"step"`
	Title   string   `json:"title"`
	Details []string `json:"details"`
}

// Flavor 风味描述。
type Flavor struct {
	Taste         string `json:"taste"`
	SpecialEffect string `json:"special_effect,omitempty"`
}

// Dish 为一份菜谱。
type Dish struct {
	Name        string       `json:"dish_name"`
	Ingredients *Ingredients `json:"ingredients"`
	Steps       []Step       `json:"steps"`
	Tips        []string     `json:"tips"`
	Flavor      Flavor       `json:"flavor_profile"`
	Disclaimer  string       `json:"disclaimer,omitempty"`
}

// Title 实现 contract.Titled。
func (d *Dish) Title() string { return d.Name }

type decoder struct {
	lenient bool
}

// New 从原样 JSON Options 创建解码器。
func New(raw json.RawMessage) (contract.Decoder, error) {
	var opts Options
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &opts); err != nil {
			return nil, fmt.Errorf("recipe decoder options: %w", err)
		}
	}
	return &decoder{lenient: opts.Lenient}, nil
}

func (d *decoder) Decode(ctx context.Context, p contract.Producer, segment string) (*contract.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var dish Dish
	if err := json.Unmarshal([]byte(segment), &dish); err != nil {
		return nil, fmt.Errorf("decode dish: %v: %w", err, contract.ErrResponseInvalid)
	}
	if err := d.validate(&dish); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, []byte(segment)); err != nil {
		return nil, fmt.Errorf("compact: %v: %w", err, contract.ErrResponseInvalid)
	}
	return &contract.Document{Raw: json.RawMessage(buf.Bytes()), Value: &dish}, nil
}

func (d *decoder) validate(dish *Dish) error {
	if strings.TrimSpace(dish.Name) == "" {
		return fmt.Errorf("dish_name missing: %w", contract.ErrInvariantViolation)
	}
	if d.lenient {
		return nil
	}
	if dish.Ingredients == nil {
		return fmt.Errorf("ingredients missing: %w", contract.ErrInvariantViolation)
	}
	if len(dish.Steps) == 0 {
		return fmt.Errorf("steps empty: %w", contract.ErrInvariantViolation)
	}
	for i, s := range dish.Steps {
		if strings.TrimSpace(s.Title) == "" {
			return fmt.Errorf("step %d has no title: %w", i+1, contract.ErrInvariantViolation)
		}
	}
	return nil
}

// Format 渲染为可读文本（食材/步骤/小贴士/风味/免责声明）。
func Format(d *Dish) string {
	if d == nil {
		return ""
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s\n\n", d.Name)
	if in := d.Ingredients; in != nil {
		sb.WriteString("食材清单：\n")
		fmt.Fprintf(&sb, "主要食材：%s\n", strings.Join(in.Main, "、"))
		fmt.Fprintf(&sb, "辅助食材：%s\n", strings.Join(in.Auxiliary, "、"))
		fmt.Fprintf(&sb, "调料：%s\n\n", strings.Join(in.Seasoning, "、"))
	}
	if len(d.Steps) > 0 {
		sb.WriteString("制作步骤：\n")
		for i, s := range d.Steps {
			n := s.Step
			if n <= 0 {
				n = i + 1
			}
			fmt.Fprintf(&sb, "%d. %s\n", n, s.Title)
			for _, det := range s.Details {
				fmt.Fprintf(&sb, "   %s\n", det)
			}
		}
		sb.WriteByte('\n')
	}
	if len(d.Tips) > 0 {
		sb.WriteString("小贴士：\n")
		for _, t := range d.Tips {
			fmt.Fprintf(&sb, "• %s\n", t)
		}
		sb.WriteByte('\n')
	}
	if d.Flavor.Taste != "" || d.Flavor.SpecialEffect != "" {
		sb.WriteString("风味特点：\n")
		if d.Flavor.Taste != "" {
			fmt.Fprintf(&sb, "%s\n", d.Flavor.Taste)
		}
		if d.Flavor.SpecialEffect != "" {
			fmt.Fprintf(&sb, "%s\n", d.Flavor.SpecialEffect)
		}
	}
	if d.Disclaimer != "" {
		fmt.Fprintf(&sb, "\n%s\n", d.Disclaimer)
	}
	return strings.TrimRight(sb.String(), "\n") + "\n"
}

// DishOf 取出文档中的 Dish；类型不符时返回 nil。
func DishOf(doc *contract.Document) *Dish {
	if doc == nil {
		return nil
	}
	d, _ := doc.Value.(*Dish)
	return d
}
