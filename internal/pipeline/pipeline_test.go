package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"chefbatch/internal/diag"
	"chefbatch/pkg/contract"
)

// 通用桩件 ----------------------------------------------------

// stubGen 按 key 配置延迟与结果；未配置的 key 立即成功。
type stubGen struct {
	delay map[string]time.Duration
	fail  map[string]bool
	panic map[string]bool
	calls atomic.Int64
	mu    sync.Mutex
	seen  map[string]contract.Token
}

func (g *stubGen) Generate(ctx context.Context, in contract.Input, p contract.Producer) contract.Outcome {
	g.calls.Add(1)
	if tok, ok := contract.BatchFrom(ctx); ok {
		g.mu.Lock()
		if g.seen == nil {
			g.seen = map[string]contract.Token{}
		}
		g.seen[p.Key] = tok
		g.mu.Unlock()
	}
	if d := g.delay[p.Key]; d > 0 {
		select {
		case <-ctx.Done():
			return contract.Fail(contract.FailCanceled, "%v", ctx.Err())
		case <-time.After(d):
		}
	}
	if g.panic[p.Key] {
		panic("boom")
	}
	if g.fail[p.Key] {
		return contract.Fail(contract.FailUpstream, "upstream error: status 500")
	}
	return contract.Succeed(&contract.Document{Raw: []byte(`{"dish_name":"` + p.Key + `"}`)})
}

func keys(ks ...string) []contract.Producer {
	ps := make([]contract.Producer, len(ks))
	for i, k := range ks {
		ps[i] = contract.Producer{Key: k, DisplayName: k}
	}
	return ps
}

func order(evs []contract.ProgressEvent) string {
	out := make([]string, len(evs))
	for i, e := range evs {
		out[i] = e.Producer
	}
	return strings.Join(out, ",")
}

// 完成顺序与注册顺序无关：A=50ms B=10ms C=30ms → B,C,A。
func TestRunCompletionOrder(t *testing.T) {
	gen := &stubGen{delay: map[string]time.Duration{"A": 50 * time.Millisecond, "B": 10 * time.Millisecond, "C": 30 * time.Millisecond}}
	var got []string
	evs, err := Run(context.Background(), Batch{Input: contract.Input{Text: "鸡蛋"}, Producers: keys("A", "B", "C")}, gen,
		func(ev contract.ProgressEvent) { got = append(got, ev.Producer) }, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if order(evs) != "B,C,A" || strings.Join(got, ",") != "B,C,A" {
		t.Fatalf("完成顺序错误: events=%s callbacks=%v", order(evs), got)
	}
	for _, e := range evs {
		if !e.Outcome.OK() || e.Elapsed <= 0 {
			t.Fatalf("事件错误: %+v", e)
		}
	}
}

// 故障隔离：失败与 panic 不影响其他生成者，批次本身不失败。
func TestRunIsolation(t *testing.T) {
	gen := &stubGen{
		fail:  map[string]bool{"B": true},
		panic: map[string]bool{"C": true},
		delay: map[string]time.Duration{"A": 20 * time.Millisecond, "D": 5 * time.Millisecond},
	}
	evs, err := Run(context.Background(), Batch{Input: contract.Input{Text: "x"}, Producers: keys("A", "B", "C", "D")}, gen, nil, nil)
	if err != nil {
		t.Fatalf("单个失败不应使批次失败: %v", err)
	}
	if len(evs) != 4 {
		t.Fatalf("应有 4 个事件, got %d", len(evs))
	}
	byKey := map[string]contract.Outcome{}
	for _, e := range evs {
		byKey[e.Producer] = e.Outcome
	}
	if !byKey["A"].OK() || !byKey["D"].OK() {
		t.Fatalf("A/D 应成功")
	}
	if byKey["B"].OK() || byKey["B"].Failure.Kind != contract.FailUpstream {
		t.Fatalf("B 应为 upstream 失败: %+v", byKey["B"])
	}
	if byKey["C"].OK() || !strings.Contains(byKey["C"].Failure.Reason, "panic recovered: boom") {
		t.Fatalf("C 的 panic 应折叠为失败: %+v", byKey["C"])
	}
}

// 恰好一次 + 串行回调：N 个生成者、随机延迟下，每个 key 恰好一个事件，回调从不并发。
func TestRunExactlyOnceSerialized(t *testing.T) {
	const n = 64
	ks := make([]string, n)
	delay := map[string]time.Duration{}
	for i := range ks {
		ks[i] = fmt.Sprintf("p%02d", i)
		delay[ks[i]] = time.Duration((i*7)%13) * time.Millisecond
	}
	gen := &stubGen{delay: delay}
	var inFlight, maxInFlight atomic.Int64
	count := map[string]int{}
	evs, err := Run(context.Background(), Batch{Input: contract.Input{Text: "x"}, Producers: keys(ks...)}, gen,
		func(ev contract.ProgressEvent) {
			cur := inFlight.Add(1)
			if cur > maxInFlight.Load() {
				maxInFlight.Store(cur)
			}
			count[ev.Producer]++ // 回调串行：无需加锁
			time.Sleep(100 * time.Microsecond)
			inFlight.Add(-1)
		}, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(evs) != n || len(count) != n {
		t.Fatalf("事件数错误: %d / %d", len(evs), len(count))
	}
	for k, c := range count {
		if c != 1 {
			t.Fatalf("%s 收到 %d 次", k, c)
		}
	}
	if maxInFlight.Load() != 1 {
		t.Fatalf("回调出现并发: %d", maxInFlight.Load())
	}
	if gen.calls.Load() != n {
		t.Fatalf("生成器调用次数 %d", gen.calls.Load())
	}
}

// 前置条件违例：返回 ErrInvalidInput，不派发、不回调。
func TestRunPreconditions(t *testing.T) {
	tests := []struct {
		name string
		b    Batch
		gen  Generator
	}{
		{"empty input", Batch{Input: contract.Input{Text: "  "}, Producers: keys("A")}, &stubGen{}},
		{"too long", Batch{Input: contract.Input{Text: strings.Repeat("蛋", 10)}, Producers: keys("A"), MaxInputRunes: 5}, &stubGen{}},
		{"no producers", Batch{Input: contract.Input{Text: "x"}}, &stubGen{}},
		{"duplicate keys", Batch{Input: contract.Input{Text: "x"}, Producers: keys("A", "A")}, &stubGen{}},
		{"empty key", Batch{Input: contract.Input{Text: "x"}, Producers: keys("")}, &stubGen{}},
		{"nil generator", Batch{Input: contract.Input{Text: "x"}, Producers: keys("A")}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			evs, err := Run(context.Background(), tt.b, tt.gen, func(contract.ProgressEvent) { called = true }, nil)
			if !errors.Is(err, contract.ErrInvalidInput) {
				t.Fatalf("应返回 ErrInvalidInput, got %v", err)
			}
			if evs != nil || called {
				t.Fatalf("不应派发任务或回调")
			}
			if sg, ok := tt.gen.(*stubGen); ok && sg.calls.Load() != 0 {
				t.Fatalf("不应调用生成器")
			}
		})
	}
}

// 令牌：指定令牌原样下发到事件与 ctx；未指定时生成新令牌。
func TestRunToken(t *testing.T) {
	tok := contract.NewToken()
	gen := &stubGen{}
	evs, _ := Run(context.Background(), Batch{Token: tok, Input: contract.Input{Text: "x"}, Producers: keys("A", "B")}, gen, nil, nil)
	for _, e := range evs {
		if e.Batch != tok || gen.seen[e.Producer] != tok {
			t.Fatalf("令牌未透传: %+v", e)
		}
	}
	evs, _ = Run(context.Background(), Batch{Input: contract.Input{Text: "x"}, Producers: keys("A")}, &stubGen{}, nil, nil)
	if evs[0].Batch == uuid.Nil {
		t.Fatalf("应生成令牌")
	}
}

// 取消：在途任务收到取消后仍各自产出一个事件。
func TestRunCanceled(t *testing.T) {
	gen := &stubGen{delay: map[string]time.Duration{"A": time.Second, "B": time.Second}}
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	start := time.Now()
	evs, err := Run(ctx, Batch{Input: contract.Input{Text: "x"}, Producers: keys("A", "B")}, gen, nil, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Fatalf("取消后应尽快返回")
	}
	if len(evs) != 2 {
		t.Fatalf("应有 2 个事件")
	}
	for _, e := range evs {
		if e.Outcome.OK() || e.Outcome.Failure.Kind != contract.FailCanceled {
			t.Fatalf("应为 canceled: %+v", e)
		}
	}
}

// 并发上限：同时进行的任务不超过 Concurrency。
type gaugeGen struct {
	cur, max atomic.Int64
}

func (g *gaugeGen) Generate(ctx context.Context, in contract.Input, p contract.Producer) contract.Outcome {
	c := g.cur.Add(1)
	for {
		m := g.max.Load()
		if c <= m || g.max.CompareAndSwap(m, c) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	g.cur.Add(-1)
	return contract.Succeed(&contract.Document{Raw: []byte(`{}`)})
}

func TestRunConcurrencyLimit(t *testing.T) {
	g := &gaugeGen{}
	_, err := Run(context.Background(), Batch{Input: contract.Input{Text: "x"}, Producers: keys("a", "b", "c", "d", "e", "f"), Concurrency: 2}, g, nil, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if g.max.Load() > 2 {
		t.Fatalf("并发超限: %d", g.max.Load())
	}
}

// 回调 panic 不影响其余事件；终端与日志输出关键节点。
func TestRunCallbackPanicAndTerminal(t *testing.T) {
	var sb strings.Builder
	diag.SetTerminal(diag.NewTerminal(&sb, true))
	defer diag.SetTerminal(nil)
	var logBuf strings.Builder
	logger := diag.NewLoggerTo(&logBuf, "c", "info")

	gen := &stubGen{fail: map[string]bool{"B": true}, delay: map[string]time.Duration{"B": 10 * time.Millisecond}}
	calls := 0
	evs, err := Run(context.Background(), Batch{Input: contract.Input{Text: "番茄"}, Producers: keys("A", "B")}, gen,
		func(ev contract.ProgressEvent) {
			calls++
			if ev.Producer == "A" {
				panic("subscriber bug")
			}
		}, logger)
	if err != nil || len(evs) != 2 || calls != 2 {
		t.Fatalf("err=%v events=%d calls=%d", err, len(evs), calls)
	}
	out := sb.String()
	if !strings.Contains(out, "[done] 🥇 A") || !strings.Contains(out, "[fail] B") || !strings.Contains(out, "成功 1 | 失败 1") {
		t.Fatalf("终端输出缺失: %q", out)
	}
	if !strings.Contains(logBuf.String(), "onProgress panic") {
		t.Fatalf("应记录回调 panic: %s", logBuf.String())
	}
}
