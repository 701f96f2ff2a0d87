package recipe

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"testing"

	"chefbatch/pkg/contract"
)

const full = `{
  "dish_name": "辣炒番茄蛋",
  "ingredients": {"main": ["鸡蛋", "番茄"], "auxiliary": ["葱"], "seasoning": ["盐", "辣椒"]},
  "steps": [
    {"step": 1, "title": "🔪 备料", "details": ["番茄切块", "鸡蛋打散"]},
    {"step": 2, "title": "🔥 翻炒", "details": ["大火快炒"]}
  ],
  "tips": ["🌶️ 辣椒后放"],
  "flavor_profile": {"taste": "😋 酸辣", "special_effect": "✨ 开胃"},
  "disclaimer": "仅供娱乐"
}`

func TestDecodeValid(t *testing.T) {
	dec, err := New(nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	doc, err := dec.Decode(context.Background(), contract.Producer{Key: "hunan"}, full)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if contract.TitleOf(doc) != "辣炒番茄蛋" {
		t.Fatalf("标题 = %q", contract.TitleOf(doc))
	}
	if strings.ContainsAny(string(doc.Raw), "\n") || !json.Valid(doc.Raw) {
		t.Fatalf("Raw 应为紧凑合法 JSON: %s", doc.Raw)
	}
	d := DishOf(doc)
	if d == nil || len(d.Steps) != 2 || d.Ingredients.Main[1] != "番茄" || d.Flavor.SpecialEffect != "✨ 开胃" {
		t.Fatalf("解码字段错误: %#v", d)
	}
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name    string
		seg     string
		lenient bool
		want    error
	}{
		{"not json", `{"dish_name": `, false, contract.ErrResponseInvalid},
		{"wrong type", `{"dish_name": 1}`, false, contract.ErrResponseInvalid},
		{"no name", `{"dish_name":" ","ingredients":{},"steps":[{"title":"a"}]}`, false, contract.ErrInvariantViolation},
		{"no ingredients", `{"dish_name":"x","steps":[{"title":"a"}]}`, false, contract.ErrInvariantViolation},
		{"no steps", `{"dish_name":"x","ingredients":{}}`, false, contract.ErrInvariantViolation},
		{"untitled step", `{"dish_name":"x","ingredients":{},"steps":[{"step":1,"title":""}]}`, false, contract.ErrInvariantViolation},
		{"lenient still needs name", `{"steps":[]}`, true, contract.ErrInvariantViolation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dec, _ := New(json.RawMessage(`{"lenient":` + strconv.FormatBool(tt.lenient) + `}`))
			_, err := dec.Decode(context.Background(), contract.Producer{}, tt.seg)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestDecodeLenient(t *testing.T) {
	dec, _ := New(json.RawMessage(`{"lenient":true}`))
	doc, err := dec.Decode(context.Background(), contract.Producer{}, `{"dish_name":"只有名字"}`)
	if err != nil || contract.TitleOf(doc) != "只有名字" {
		t.Fatalf("宽松模式应接受: %v", err)
	}
}

func TestFormat(t *testing.T) {
	dec, _ := New(nil)
	doc, err := dec.Decode(context.Background(), contract.Producer{}, full)
	if err != nil {
		t.Fatal(err)
	}
	out := Format(DishOf(doc))
	for _, want := range []string{"辣炒番茄蛋\n", "主要食材：鸡蛋、番茄", "1. 🔪 备料\n   番茄切块", "• 🌶️ 辣椒后放", "风味特点：\n😋 酸辣\n✨ 开胃", "仅供娱乐"} {
		if !strings.Contains(out, want) {
			t.Fatalf("渲染缺少 %q:\n%s", want, out)
		}
	}
	if Format(nil) != "" || DishOf(nil) != nil {
		t.Fatalf("nil 处理错误")
	}
}
