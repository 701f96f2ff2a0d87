// Package extract 从模型的自由文本输出中定位结构化片段。
//
// 规则（按优先级）：
//  1. 第一个围栏代码块（``` 或 ```json），取其内容；
//  2. 否则取第一个平衡的顶层 {…}（感知字符串与转义）。
//
// 只做定位，不做 JSON 校验；解析失败由解码器报告。
package extract

import (
	"errors"
	"strings"
)

// ErrNoSegment 表示文本中既无围栏块也无平衡的对象。
var ErrNoSegment = errors.New("extract: no structured segment")

const fence = "```"

// Structured 返回文本中的结构化片段（已去首尾空白）。
func Structured(text string) (string, error) {
	if seg, ok := Fenced(text); ok {
		return seg, nil
	}
	if obj, ok := Object(text); ok {
		return obj, nil
	}
	return "", ErrNoSegment
}

// Fenced 返回第一个闭合的围栏代码块内容。
// 开围栏行的语言标签（如 json）被跳过；内容为空视为不存在。
func Fenced(text string) (string, bool) {
	open := strings.Index(text, fence)
	if open < 0 {
		return "", false
	}
	rest := text[open+len(fence):]
	// 跳过语言标签直到行尾
	nl := strings.IndexByte(rest, '\n')
	if nl < 0 {
		return "", false
	}
	tag := strings.TrimSpace(rest[:nl])
	if tag != "" && !isTag(tag) {
		// ```{...}``` 单行写法：标签位置即内容
		nl = -1
	}
	body := rest[nl+1:]
	end := strings.Index(body, fence)
	if end < 0 {
		return "", false
	}
	seg := strings.TrimSpace(body[:end])
	if seg == "" {
		return "", false
	}
	return seg, true
}

func isTag(s string) bool {
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-' || r == '_') {
			return false
		}
	}
	return true
}

// Object 返回第一个平衡的顶层 JSON 对象文本。
func Object(text string) (string, bool) {
	start := -1
	depth := 0
	inString := false
	escape := false
	for i, r := range text {
		if start == -1 {
			if r == '{' {
				start = i
				depth = 1
				inString = false
				escape = false
			}
			continue
		}
		if inString {
			if escape {
				escape = false
				continue
			}
			if r == '\\' {
				escape = true
				continue
			}
			if r == '"' {
				inString = false
			}
			continue
		}
		switch r {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return strings.TrimSpace(text[start : i+1]), true
			}
		}
	}
	return "", false
}
