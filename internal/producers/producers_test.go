package producers

import (
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"chefbatch/pkg/contract"
)

func TestDefault(t *testing.T) {
	ps := Default()
	if len(ps) != 6 {
		t.Fatalf("默认应为 6 个菜系, got %d", len(ps))
	}
	wantKeys := []string{"hunan", "cantonese", "sichuan", "french", "thai", "russian"}
	for i, k := range wantKeys {
		if ps[i].Key != k {
			t.Fatalf("顺序错误: [%d]=%s want %s", i, ps[i].Key, k)
		}
	}
	if ps[0].DisplayName != "辣椒王老张" || ps[0].Cuisine != "湘菜" {
		t.Fatalf("湘菜身份错误: %+v", ps[0])
	}
	if len(Quotes(ps[1])) != 10 {
		t.Fatalf("粤菜完成语应为 10 条")
	}
	if Label(ps[2]) != "川菜 麻辣刘大厨" {
		t.Fatalf("Label = %q", Label(ps[2]))
	}
	if err := CheckKeys(ps); err != nil {
		t.Fatalf("默认清单应通过校验: %v", err)
	}
}

func TestParse(t *testing.T) {
	data := []byte(`
producers:
  - key: a
    name: 甲
    cuisine: 鲁菜
    quotes: ["好", "妙"]
    meta:
      tier: gold
  - key: b
`)
	ps, err := Parse(data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(ps) != 2 || ps[0].Meta["tier"] != "gold" || ps[1].DisplayName != "b" {
		t.Fatalf("解析结果错误: %+v", ps)
	}
	rng := rand.New(rand.NewSource(7))
	if q := Quote(ps[0], rng); q != "好" && q != "妙" {
		t.Fatalf("Quote = %q", q)
	}
	if Quote(ps[1], rng) != "" {
		t.Fatalf("无完成语应返回空")
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"empty", "producers: []"},
		{"missing key", "producers:\n  - name: x"},
		{"duplicate", "producers:\n  - key: a\n  - key: a"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data))
			if !errors.Is(err, contract.ErrInvalidInput) {
				t.Fatalf("应返回 ErrInvalidInput, got %v", err)
			}
		})
	}
	if _, err := Parse([]byte("producers: [")); err == nil {
		t.Fatalf("非法 YAML 应报错")
	}
	if !IsDuplicate(CheckKeys([]contract.Producer{{Key: "x"}, {Key: "x"}})) {
		t.Fatalf("CheckKeys 应识别重复")
	}
}

func TestLoadRoundTrip(t *testing.T) {
	b, err := Marshal(DefaultFile())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	p := filepath.Join(t.TempDir(), "producers.yaml")
	if err := os.WriteFile(p, b, 0o644); err != nil {
		t.Fatal(err)
	}
	ps, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(ps) != len(Default()) || ps[5].Meta[MetaColor] != "62" {
		t.Fatalf("往返不一致: %+v", ps[5])
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("缺失文件应报错")
	}
}

func TestFilterLookup(t *testing.T) {
	ps := Default()
	sub, err := Filter(ps, []string{"thai", "hunan"})
	if err != nil {
		t.Fatalf("filter: %v", err)
	}
	if len(sub) != 2 || sub[0].Key != "hunan" || sub[1].Key != "thai" {
		t.Fatalf("应保持注册顺序: %+v", sub)
	}
	if _, err := Filter(ps, []string{"martian"}); !errors.Is(err, contract.ErrInvalidInput) {
		t.Fatalf("未知 key 应报错: %v", err)
	}
	if all, _ := Filter(ps, nil); len(all) != 6 {
		t.Fatalf("空筛选应返回全部")
	}
	if _, ok := Lookup(ps, "french"); !ok {
		t.Fatalf("Lookup 失败")
	}
	if Pick(nil, rand.New(rand.NewSource(1))) != "" {
		t.Fatalf("空列表应返回空")
	}
}
