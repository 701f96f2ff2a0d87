// Package producers 提供静态有序的生成者（厨师/菜系）清单。
// 清单在进程启动时确定，之后只读；可由 YAML 文件覆盖内置默认值。
package producers

import (
	"errors"
	"fmt"
	"math/rand"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"chefbatch/pkg/contract"
)

// Meta 键
const (
	MetaQuotes = "quotes" // 完成语，换行分隔
	MetaColor  = "color"  // 展示色（lipgloss 颜色值）
)

// ErrEmpty 与 ErrDuplicate 包裹 contract.ErrInvalidInput。
var (
	ErrEmpty     = fmt.Errorf("producer list empty: %w", contract.ErrInvalidInput)
	ErrDuplicate = fmt.Errorf("duplicate producer key: %w", contract.ErrInvalidInput)
)

// Entry 为 YAML 中的一项。
type Entry struct {
	Key     string            `yaml:"key"`
	Name    string            `yaml:"name"`
	Cuisine string            `yaml:"cuisine"`
	Color   string            `yaml:"color,omitempty"`
	Quotes  []string          `yaml:"quotes,omitempty"`
	Meta    map[string]string `yaml:"meta,omitempty"`
}

// File 为 producers.yaml 的顶层结构。
type File struct {
	Producers []Entry `yaml:"producers"`
}

var defaults = []Entry{
	{Key: "hunan", Name: "辣椒王老张", Cuisine: "湘菜", Color: "160", Quotes: []string{
		"小心烫手，赶紧尝尝！", "辣椒够劲，正宗湘味！", "火辣出锅，趁热享用！", "这个辣度刚刚好！", "湘菜精髓，一尝便知！",
		"麻辣鲜香，回味无穷！", "老张出品，必属精品！", "够辣够味，就是巴适！", "湖南风味，地道正宗！", "辣到心坎里，爽！",
	}},
	{Key: "cantonese", Name: "阿华师傅", Cuisine: "粤菜", Color: "34", Quotes: []string{
		"请您品鉴，越吃越香！", "广式做法，原汁原味！", "清淡鲜美，营养丰富！", "火候刚好，嫩滑爽口！", "粤菜精髓，尽在其中！",
		"色香味俱全，请慢用！", "师傅手艺，值得信赖！", "岭南风味，独具特色！", "清香淡雅，回味甘甜！", "粤式经典，传统工艺！",
	}},
	{Key: "sichuan", Name: "麻辣刘大厨", Cuisine: "川菜", Color: "208", Quotes: []string{
		"辣得巴适，赶紧吃起！", "川味十足，麻辣过瘾！", "正宗川菜，香辣开胃！", "麻婆豆腐般的感觉！", "四川火锅的味道！",
		"巴蜀风味，地道正宗！", "麻辣鲜香，层次丰富！", "刘师傅出品，必须安逸！", "川菜之魂，尽在此菜！", "辣椒花椒，双重享受！",
	}},
	{Key: "french", Name: "Pierre大师", Cuisine: "法国菜", Color: "33", Quotes: []string{
		"Bon appétit，慢慢品尝！", "C'est magnifique，太棒了！", "法式浪漫，尽在盘中！", "Très délicieux，非常美味！", "米其林级别的享受！",
		"Voilà，完美呈现！", "法国大厨的骄傲！", "Exquis，精致绝伦！", "巴黎风味，浪漫满溢！", "Chef Pierre签名菜！",
	}},
	{Key: "thai", Name: "Somchai师傅", Cuisine: "泰国菜", Color: "129", Quotes: []string{
		"酸辣开胃，请享用！", "Sawasdee，泰式风味！", "椰浆香浓，回味无穷！", "冬阴功般的酸爽！", "泰式经典，正宗口味！",
		"香茅柠檬，清香怡人！", "曼谷街头的味道！", "酸甜辣咸，层次分明！", "Very good，非常棒！", "泰国师傅亲手制作！",
	}},
	{Key: "russian", Name: "Ivan大叔", Cuisine: "俄罗斯菜", Color: "62", Quotes: []string{
		"热乎乎出锅，快吃吧！", "Очень вкусно，太好吃了！", "俄式大餐，分量十足！", "西伯利亚的温暖！", "伏特加配菜，绝配！",
		"莫斯科风味，正宗地道！", "战斗民族的手艺！", "红菜汤般的浓郁！", "大叔秘制，独家配方！", "俄罗斯传统，世代传承！",
	}},
}

// CookingSteps 为运行中状态的趣味提示。
var CookingSteps = []string{
	"正在热锅...", "加点盐...", "加点水...", "搅拌中...", "翻炒中...", "加点蒜...",
	"撒点辣椒...", "淋点酱油...", "切配菜...", "挤点柠檬...", "撒点香菜...", "大火爆炒...",
}

// FailQuips 为失败状态的趣味提示。
var FailQuips = []string{
	"太难了，做不出来！", "臣妾做不到呀！", "翻车了，下次再来！",
	"技术不过关，告辞！", "实在搭不出来！",
}

// Default 返回内置的六个菜系（注册顺序固定）。
func Default() []contract.Producer {
	out, _ := build(defaults)
	return out
}

// DefaultFile 返回内置清单的 YAML 结构（用于生成模板）。
func DefaultFile() File {
	es := make([]Entry, len(defaults))
	copy(es, defaults)
	return File{Producers: es}
}

// Load 读取 YAML 文件并校验。
func Load(path string) ([]contract.Producer, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read producers: %w", err)
	}
	ps, err := Parse(b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return ps, nil
}

// Parse 解析 YAML 并校验：非空、key 非空且唯一。
func Parse(data []byte) ([]contract.Producer, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse producers yaml: %w", err)
	}
	return build(f.Producers)
}

// Marshal 将清单编码为 YAML。
func Marshal(f File) ([]byte, error) { return yaml.Marshal(f) }

func build(es []Entry) ([]contract.Producer, error) {
	if len(es) == 0 {
		return nil, ErrEmpty
	}
	seen := make(map[string]struct{}, len(es))
	out := make([]contract.Producer, 0, len(es))
	for i, e := range es {
		key := strings.TrimSpace(e.Key)
		if key == "" {
			return nil, fmt.Errorf("producers[%d]: key required: %w", i, contract.ErrInvalidInput)
		}
		if _, dup := seen[key]; dup {
			return nil, fmt.Errorf("producers[%d] %q: %w", i, key, ErrDuplicate)
		}
		seen[key] = struct{}{}
		meta := contract.Meta{}
		for k, v := range e.Meta {
			meta[k] = v
		}
		if len(e.Quotes) > 0 {
			meta[MetaQuotes] = strings.Join(e.Quotes, "\n")
		}
		if e.Color != "" {
			meta[MetaColor] = e.Color
		}
		if len(meta) == 0 {
			meta = nil
		}
		name := strings.TrimSpace(e.Name)
		if name == "" {
			name = key
		}
		out = append(out, contract.Producer{Key: key, DisplayName: name, Cuisine: strings.TrimSpace(e.Cuisine), Meta: meta})
	}
	return out, nil
}

// CheckKeys 校验任意生成者列表：非空、key 非空且唯一。
func CheckKeys(ps []contract.Producer) error {
	if len(ps) == 0 {
		return ErrEmpty
	}
	seen := make(map[string]struct{}, len(ps))
	for i, p := range ps {
		if strings.TrimSpace(p.Key) == "" {
			return fmt.Errorf("producers[%d]: key required: %w", i, contract.ErrInvalidInput)
		}
		if _, dup := seen[p.Key]; dup {
			return fmt.Errorf("producers[%d] %q: %w", i, p.Key, ErrDuplicate)
		}
		seen[p.Key] = struct{}{}
	}
	return nil
}

// Lookup 按 key 查找。
func Lookup(ps []contract.Producer, key string) (contract.Producer, bool) {
	for _, p := range ps {
		if p.Key == key {
			return p, true
		}
	}
	return contract.Producer{}, false
}

// Filter 按 key 子集（保持注册顺序）筛选；未知 key 报错。
func Filter(ps []contract.Producer, keys []string) ([]contract.Producer, error) {
	if len(keys) == 0 {
		return ps, nil
	}
	want := make(map[string]bool, len(keys))
	for _, k := range keys {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		if _, ok := Lookup(ps, k); !ok {
			return nil, fmt.Errorf("unknown producer %q: %w", k, contract.ErrInvalidInput)
		}
		want[k] = true
	}
	out := make([]contract.Producer, 0, len(want))
	for _, p := range ps {
		if want[p.Key] {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return nil, ErrEmpty
	}
	return out, nil
}

// Label 返回展示标签：「菜系 名称」。
func Label(p contract.Producer) string {
	if p.Cuisine == "" {
		return p.DisplayName
	}
	return p.Cuisine + " " + p.DisplayName
}

// Quotes 返回生成者的完成语。
func Quotes(p contract.Producer) []string {
	s := p.Meta[MetaQuotes]
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

// Quote 随机返回一条完成语；无完成语时返回空串。
func Quote(p contract.Producer, rng *rand.Rand) string {
	qs := Quotes(p)
	if len(qs) == 0 {
		return ""
	}
	return qs[rng.Intn(len(qs))]
}

// Pick 从给定列表随机取一条。
func Pick(list []string, rng *rand.Rand) string {
	if len(list) == 0 {
		return ""
	}
	return list[rng.Intn(len(list))]
}

// IsDuplicate 报告错误是否为重复 key。
func IsDuplicate(err error) bool { return errors.Is(err, ErrDuplicate) }
