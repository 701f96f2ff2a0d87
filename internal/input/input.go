// Package input 校验调用方提交的食材文本，并提供随机食材组合。
package input

import (
	"fmt"
	"math/rand"
	"strings"
	"unicode/utf8"

	"chefbatch/pkg/contract"
)

// DefaultMaxRunes 为输入长度上限（按 rune 计，需严格小于该值）。
const DefaultMaxRunes = 200

// Validate 去除首尾空白后校验输入：非空且长度 < maxRunes。
// maxRunes<=0 时使用 DefaultMaxRunes。
func Validate(raw string, maxRunes int) (contract.Input, error) {
	if maxRunes <= 0 {
		maxRunes = DefaultMaxRunes
	}
	s := strings.TrimSpace(raw)
	if s == "" {
		return contract.Input{}, fmt.Errorf("input empty: %w", contract.ErrInvalidInput)
	}
	if n := utf8.RuneCountInString(s); n >= maxRunes {
		return contract.Input{}, fmt.Errorf("input too long (%d runes, limit %d): %w", n, maxRunes-1, contract.ErrInvalidInput)
	}
	return contract.Input{Text: s}, nil
}

// Pool 为随机组合使用的常见食材。
var Pool = []string{
	"鸡蛋", "番茄", "牛肉", "土豆", "洋葱", "鸡肉", "豆腐", "青菜",
	"蘑菇", "鱼肉", "虾仁", "猪肉", "胡萝卜", "青椒", "茄子", "黄瓜",
	"白菜", "玉米", "南瓜", "排骨", "香菇", "西兰花", "芹菜", "莲藕",
}

// Random 从 Pool 中无放回地挑选 n 种食材（n 超出时截断为池大小）。
func Random(rng *rand.Rand, n int) []string {
	if n <= 0 {
		return nil
	}
	if n > len(Pool) {
		n = len(Pool)
	}
	idx := rng.Perm(len(Pool))[:n]
	out := make([]string, 0, n)
	for _, i := range idx {
		out = append(out, Pool[i])
	}
	return out
}

// Join 以中文顿号连接食材，作为一次提交的输入文本。
func Join(items []string) string { return strings.Join(items, "、") }
