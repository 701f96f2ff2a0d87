package contract

import (
	"encoding/json"
	"fmt"
)

// Document: 外部服务产出并经校验的结构化结果。
// Raw 为抽取出的 JSON 原文；Value 由具体 Decoder 填充（核心不解释）。
type Document struct {
	Raw   json.RawMessage
	Value any
}

// FailureKind: 失败原因的最小分类，仅用于观测；编排层对所有失败一视同仁。
type FailureKind string

const (
	FailUpstream    FailureKind = "upstream"
	FailEmpty       FailureKind = "empty"
	FailUnparseable FailureKind = "unparseable"
	FailInvalid     FailureKind = "invalid"
	FailCanceled    FailureKind = "canceled"
)

// Failure: 失败载荷。
type Failure struct {
	Kind   FailureKind
	Reason string
}

func (f Failure) String() string {
	if f.Reason == "" {
		return string(f.Kind)
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Reason)
}

// Outcome: Success{Doc} | Failure{Kind, Reason} 二选一。
// 每个 (批次, 生成者) 恰好产生一次，创建后不可变。
type Outcome struct {
	Doc     *Document
	Failure *Failure
}

// Succeed 构造成功结果。
func Succeed(doc *Document) Outcome { return Outcome{Doc: doc} }

// Fail 构造失败结果。
func Fail(kind FailureKind, format string, a ...any) Outcome {
	return Outcome{Failure: &Failure{Kind: kind, Reason: fmt.Sprintf(format, a...)}}
}

// OK 报告是否成功。Doc 为空的 Outcome 一律视为失败。
func (o Outcome) OK() bool { return o.Failure == nil && o.Doc != nil }

// Titled: Document.Value 可选实现，用于展示层取一行标题（如菜名）。
type Titled interface {
	Title() string
}

// TitleOf 返回文档标题；Value 未实现 Titled 时返回空串。
func TitleOf(d *Document) string {
	if d == nil {
		return ""
	}
	if t, ok := d.Value.(Titled); ok {
		return t.Title()
	}
	return ""
}
