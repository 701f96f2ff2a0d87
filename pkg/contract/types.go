package contract

import (
	"time"

	"github.com/google/uuid"
)

// Meta: 可选的轻量元信息；核心流程不读取其键值。
type Meta map[string]string

// Producer: 一个独立生成者（厨师/菜系）的静态身份。
// 约束：
// - Key 唯一且稳定，用作状态与排名的索引；
// - DisplayName/Cuisine/Meta 对核心不透明，仅供提示词与展示层使用；
// - 进程启动时由静态配置创建，之后不可变。
type Producer struct {
	Key         string
	DisplayName string
	Cuisine     string
	Meta        Meta // 可为 nil
}

// Input: 一次批次共享的输入（已校验的食材文本）。
type Input struct {
	Text string
}

// Token: 批次令牌。每次开始批次生成新令牌；uuid.Nil 表示空闲。
// 迟到事件通过令牌比对识别并丢弃。
type Token = uuid.UUID

// NewToken 生成新的批次令牌。
func NewToken() Token { return uuid.New() }

// Status: 单个生成者在单个批次内的状态机。
// Idle → Running → {Completed | Failed}；终态仅能通过开始新批次离开。
type Status int

const (
	StatusIdle Status = iota
	StatusRunning
	StatusCompleted
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusRunning:
		return "running"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	default:
		return "idle"
	}
}

// Terminal 报告是否为终态。
func (s Status) Terminal() bool { return s == StatusCompleted || s == StatusFailed }

// ProgressEvent: 单个生成者在单个批次内的一次性终态通知。
// 同一批次内每个生成者至多一次；按到达顺序发出（而非注册顺序）。
type ProgressEvent struct {
	Batch    Token
	Producer string
	Outcome  Outcome
	// Elapsed: 任务自派发至终态的耗时（仅诊断）。
	Elapsed time.Duration
}
