// Package session 是展示层与核心之间的边界：
// 它把生成者清单、生成客户端、状态存储与编排器绑定在一起，
// 对外提供开始批次、重置、快照与订阅。
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"chefbatch/internal/diag"
	"chefbatch/internal/input"
	"chefbatch/internal/pipeline"
	"chefbatch/internal/producers"
	"chefbatch/internal/state"
	"chefbatch/pkg/contract"
)

// Options 会话参数。
type Options struct {
	MaxInputRunes int
	Concurrency   int
	Logger        *diag.Logger
}

// Session 并发安全。
type Session struct {
	producers []contract.Producer
	gen       pipeline.Generator
	store     *state.Store
	opts      Options

	mu     sync.Mutex
	cancel context.CancelFunc
}

// New 构造会话；生成者清单与生成器均为必填。
func New(ps []contract.Producer, gen pipeline.Generator, opts Options) (*Session, error) {
	if gen == nil {
		return nil, fmt.Errorf("session: generator nil: %w", contract.ErrInvalidInput)
	}
	if err := producers.CheckKeys(ps); err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	cp := make([]contract.Producer, len(ps))
	copy(cp, ps)
	return &Session{producers: cp, gen: gen, store: state.NewStore(), opts: opts}, nil
}

// Batch 为一次已开始批次的句柄。
type Batch struct {
	Token  contract.Token
	Input  contract.Input
	events chan contract.ProgressEvent
	done   chan struct{}

	applied []contract.ProgressEvent
	err     error
}

// Events 返回已被状态存储接受的进度事件（完成顺序）；批次结束后关闭。
// 批次被放弃后到达的事件不会出现在这里。
func (b *Batch) Events() <-chan contract.ProgressEvent { return b.events }

// Done 在编排器返回后关闭。
func (b *Batch) Done() <-chan struct{} { return b.done }

// Wait 等待批次结束，返回被接受的事件。
func (b *Batch) Wait(ctx context.Context) ([]contract.ProgressEvent, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-b.done:
		out := make([]contract.ProgressEvent, len(b.applied))
		copy(out, b.applied)
		return out, b.err
	}
}

// Start 校验输入并开始新批次。任何在途批次随即被放弃（取消其 ctx，迟到事件被丢弃）。
// 输入非法时返回包裹 contract.ErrInvalidInput 的错误，且不修改任何状态。
func (s *Session) Start(ctx context.Context, raw string) (*Batch, error) {
	in, err := input.Validate(raw, s.opts.MaxInputRunes)
	if err != nil {
		return nil, err
	}
	logger := s.opts.Logger

	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	tok, err := s.store.StartBatch(s.producers)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	b := &Batch{
		Token:  tok,
		Input:  in,
		events: make(chan contract.ProgressEvent, len(s.producers)),
		done:   make(chan struct{}),
	}
	batchID := tok.String()
	onProgress := func(ev contract.ProgressEvent) {
		if err := s.store.ApplyProgress(ev); err != nil {
			if errors.Is(err, state.ErrStaleBatch) {
				diag.IncOp("session", "apply", "stale")
				logger.Debugf("session", ev.Producer, batchID, "stale event dropped")
				return
			}
			diag.IncOp("session", "apply", "error")
			logger.ErrorWith("session", string(diag.CodeInvariant), err.Error(), nil, ev.Producer, batchID)
			return
		}
		diag.IncOp("session", "apply", "success")
		b.applied = append(b.applied, ev)
		b.events <- ev // 缓冲 N，至多 N 个事件被接受，不会阻塞
	}
	go func() {
		defer close(b.done)
		defer close(b.events)
		defer cancel()
		_, b.err = pipeline.Run(runCtx, pipeline.Batch{
			Token:         tok,
			Input:         in,
			Producers:     s.producers,
			MaxInputRunes: s.opts.MaxInputRunes,
			Concurrency:   s.opts.Concurrency,
		}, s.gen, onProgress, logger)
	}()
	return b, nil
}

// Reset 放弃在途批次并回到空闲；幂等。之后可立即开始新批次，被放弃的任务不被等待。
func (s *Session) Reset() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	diag.GetTerminal().Reset()
	s.store.Reset()
	s.mu.Unlock()
}

// Snapshot 返回当前状态副本。
func (s *Session) Snapshot() state.Snapshot { return s.store.Snapshot() }

// Subscribe 订阅状态变更；返回取消函数。
func (s *Session) Subscribe(fn func(state.Snapshot)) (cancel func()) { return s.store.Subscribe(fn) }

// AllTerminal 报告当前批次是否全部进入终态。
func (s *Session) AllTerminal() bool { return s.store.AllTerminal() }

// Producers 返回生成者清单副本（注册顺序）。
func (s *Session) Producers() []contract.Producer {
	out := make([]contract.Producer, len(s.producers))
	copy(out, s.producers)
	return out
}
