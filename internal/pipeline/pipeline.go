package pipeline

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"chefbatch/internal/diag"
	"chefbatch/internal/input"
	"chefbatch/internal/producers"
	"chefbatch/internal/state"
	"chefbatch/pkg/contract"
)

// - 单点并发：仅此层管理并发；生成客户端与插件均为同步实现。
// - 故障隔离：单个生成者的失败只体现为其 Failure 事件，不取消其他任务，也不使批次失败。
// - 恰好一次：每个生成者每批次恰好一个进度事件（panic 也会折叠为 Failure）。
// - 串行回调：onProgress 在互斥锁内调用，按完成顺序到达，订阅方无需自行加锁。

// Generator 为单个生成者产出结果；实现不得返回错误，失败折叠进 Outcome。
type Generator interface {
	Generate(ctx context.Context, in contract.Input, p contract.Producer) contract.Outcome
}

// Batch 描述一次批次请求。
type Batch struct {
	// Token 为批次令牌；为 uuid.Nil 时由 Run 生成。
	Token     contract.Token
	Input     contract.Input
	Producers []contract.Producer
	// MaxInputRunes 输入长度上限（<=0 使用默认 200）。
	MaxInputRunes int
	// Concurrency 同时进行的任务上限；<=0 表示每个生成者一个 goroutine，不设上限。
	Concurrency int
}

// Run 并发派发全部生成者，在全部进入终态后返回按完成顺序排列的事件。
// 仅前置条件（输入/生成者列表/生成器）违例返回错误，且此时不派发任何任务、不回调 onProgress。
func Run(ctx context.Context, b Batch, gen Generator, onProgress func(contract.ProgressEvent), logger *diag.Logger) ([]contract.ProgressEvent, error) {
	in, err := sanity(b, gen)
	if err != nil {
		return nil, fmt.Errorf("sanity: %w", err)
	}
	tok := b.Token
	if tok == uuid.Nil {
		tok = contract.NewToken()
	}
	batchID := tok.String()
	ctx = contract.WithBatch(ctx, tok)
	n := len(b.Producers)

	btimer := logger.StartWithKV("pipeline", "batch", "", batchID, map[string]string{
		"producers": strconv.Itoa(n),
		"input":     in.Text,
	})
	term := diag.GetTerminal()
	if ctx.Err() == nil {
		term.BatchStart(batchID, in.Text, n)
	}
	start := time.Now()

	var (
		mu        sync.Mutex
		events    = make([]contract.ProgressEvent, 0, n)
		delivered = make([]bool, n)
		ranks     state.Ranking
		failed    int
	)
	emit := func(i int, p contract.Producer, ev contract.ProgressEvent) {
		mu.Lock()
		defer mu.Unlock()
		if delivered[i] {
			logger.ErrorWith("pipeline", string(diag.CodeInvariant), "duplicate progress dropped", nil, p.Key, batchID)
			return
		}
		delivered[i] = true
		events = append(events, ev)
		rank, _ := ranks.Observe(ev)
		if ev.Outcome.OK() {
			diag.IncOp("pipeline", "task", "success")
			logger.Progress("pipeline", "completed", p.Key, batchID, map[string]string{
				"rank":       strconv.Itoa(rank),
				"elapsed_ms": strconv.FormatInt(ev.Elapsed.Milliseconds(), 10),
			})
			term.TaskDone(batchID, state.Medal(rank), producers.Label(p), rank, true, contract.TitleOf(ev.Outcome.Doc), ev.Elapsed)
		} else {
			failed++
			diag.IncOp("pipeline", "task", "error")
			logger.WarnWith("pipeline", string(ev.Outcome.Failure.Kind), "failed", p.Key, batchID, map[string]string{
				"reason":     ev.Outcome.Failure.Reason,
				"elapsed_ms": strconv.FormatInt(ev.Elapsed.Milliseconds(), 10),
			})
			term.TaskDone(batchID, "", producers.Label(p), -1, false, ev.Outcome.Failure.String(), ev.Elapsed)
		}
		diag.ObserveDuration("pipeline", "task", ev.Elapsed.Milliseconds())
		if onProgress != nil {
			deliver(onProgress, ev, logger, batchID)
		}
	}

	var g errgroup.Group
	if b.Concurrency > 0 {
		g.SetLimit(b.Concurrency)
	}
	for i, p := range b.Producers {
		i, p := i, p // per-iteration copies (go.mod targets go 1.21)
		g.Go(func() error {
			t0 := time.Now()
			logger.DebugStart("pipeline", "dispatch", p.Key, batchID, nil)
			out := safeGenerate(ctx, gen, in, p)
			emit(i, p, contract.ProgressEvent{Batch: tok, Producer: p.Key, Outcome: out, Elapsed: time.Since(t0)})
			return nil
		})
	}
	_ = g.Wait()

	mu.Lock()
	defer mu.Unlock()
	dur := time.Since(start)
	completed := len(events) - failed
	btimer.Finish("batch", int64(completed))
	diag.ObserveDuration("pipeline", "batch", dur.Milliseconds())
	term.BatchFinish(batchID, completed, failed, dur)
	out := make([]contract.ProgressEvent, len(events))
	copy(out, events)
	return out, nil
}

// safeGenerate 调用生成器；panic 折叠为 upstream 失败。
func safeGenerate(ctx context.Context, gen Generator, in contract.Input, p contract.Producer) (out contract.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			out = contract.Fail(contract.FailUpstream, "panic recovered: %v", r)
		}
	}()
	out = gen.Generate(ctx, in, p)
	if out.Doc == nil && out.Failure == nil {
		out = contract.Fail(contract.FailInvalid, "empty outcome")
	}
	return out
}

// deliver 调用订阅回调；回调 panic 不影响其他任务。
func deliver(fn func(contract.ProgressEvent), ev contract.ProgressEvent, logger *diag.Logger, batchID string) {
	defer func() {
		if r := recover(); r != nil {
			logger.ErrorWith("pipeline", string(diag.CodeUnknown), fmt.Sprintf("onProgress panic: %v", r), nil, ev.Producer, batchID)
		}
	}()
	fn(ev)
}

func sanity(b Batch, gen Generator) (contract.Input, error) {
	if gen == nil {
		return contract.Input{}, fmt.Errorf("generator nil: %w", contract.ErrInvalidInput)
	}
	in, err := input.Validate(b.Input.Text, b.MaxInputRunes)
	if err != nil {
		return contract.Input{}, err
	}
	if err := producers.CheckKeys(b.Producers); err != nil {
		return contract.Input{}, err
	}
	return in, nil
}
