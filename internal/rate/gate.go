package rate

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"chefbatch/pkg/contract"
)

// LimitKey: 限流分组键（provider 名称 + 凭据摘要）。
// 同一分组内的全部生成者共享额度；未配置的分组不限额。
type LimitKey string

// Limits: 每分组的限额配置。0 表示该维度不启用。
type Limits struct {
	RPM             int // requests per minute
	TPM             int // tokens per minute
	MaxTokensPerReq int // 单次请求 token 上限（含输入+预期输出），0 表示不限制
}

// Ask: 一次放行申请。
type Ask struct {
	Key      LimitKey
	Requests int // 必须 >=1
	Tokens   int // 预计 token （>=0）
}

// Quota: 某分组当前剩余额度（向下取整）；Unlimited 表示该维度未启用。
type Quota struct {
	Requests int
	Tokens   int
}

// Unlimited 标记未启用的维度。
const Unlimited = -1

func (q Quota) String() string {
	f := func(n int) string {
		if n == Unlimited {
			return "unlimited"
		}
		return strconv.Itoa(n)
	}
	return "rpm=" + f(q.Requests) + " tpm=" + f(q.Tokens)
}

// Gate: 限流闸门（并发安全）。
type Gate interface {
	// Wait: 阻塞直到额度可用或 ctx 取消；违反单请求上限时快速失败。
	Wait(ctx context.Context, a Ask) error
	// Try: 非阻塞放行；额度不足或申请非法时返回 false，不扣减。
	Try(a Ask) bool
	// Quota: 读取分组剩余额度，仅用于诊断输出。
	Quota(key LimitKey) Quota
}

// NewGate: 从静态配置构造闸门；clk 为空则使用 time.Now。
func NewGate(m map[LimitKey]Limits, clk func() time.Time) Gate {
	if clk == nil {
		clk = time.Now
	}
	g := &gate{clk: clk, groups: make(map[LimitKey]*group, len(m))}
	now := clk()
	for k, lim := range m {
		g.groups[k] = newGroup(lim, now)
	}
	return g
}

// 等待的最小粒度，避免忙等。
const minPause = 10 * time.Millisecond

type gate struct {
	clk    func() time.Time
	mu     sync.Mutex
	groups map[LimitKey]*group
}

// group: 一个分组的两个维度（请求数与 token 数），各自按分钟匀速回填。
type group struct {
	mu     sync.Mutex
	perReq int
	reqs   meter
	toks   meter
}

// meter: 连续回填的额度计；perMin<=0 时关闭。
type meter struct {
	perMin int
	left   float64
	at     time.Time
}

func newGroup(lim Limits, now time.Time) *group {
	return &group{
		perReq: lim.MaxTokensPerReq,
		reqs:   meter{perMin: lim.RPM, left: float64(lim.RPM), at: now},
		toks:   meter{perMin: lim.TPM, left: float64(lim.TPM), at: now},
	}
}

func (m *meter) off() bool { return m.perMin <= 0 }

// advance 回填到 now；时钟回拨视为无时间流逝。
func (m *meter) advance(now time.Time) {
	if m.off() || !now.After(m.at) {
		return
	}
	m.left += now.Sub(m.at).Minutes() * float64(m.perMin)
	if m.left > float64(m.perMin) {
		m.left = float64(m.perMin)
	}
	m.at = now
}

// lack 返回凑足 n 还需等待的时长；0 表示当前即可扣减。
func (m *meter) lack(n int) time.Duration {
	if m.off() || float64(n) <= m.left {
		return 0
	}
	return time.Duration((float64(n) - m.left) / float64(m.perMin) * float64(time.Minute))
}

func (m *meter) spend(n int) {
	if m.off() {
		return
	}
	m.left -= float64(n)
	if m.left < 0 {
		m.left = 0
	}
}

func (m *meter) remaining() int {
	if m.off() {
		return Unlimited
	}
	return int(m.left)
}

// admit 在 now 时刻尝试扣减；不足时返回仍需等待的时长。
func (gr *group) admit(now time.Time, a Ask) (bool, time.Duration) {
	gr.mu.Lock()
	defer gr.mu.Unlock()
	gr.reqs.advance(now)
	gr.toks.advance(now)
	wait := max(gr.reqs.lack(a.Requests), gr.toks.lack(a.Tokens))
	if wait > 0 {
		return false, wait
	}
	gr.reqs.spend(a.Requests)
	gr.toks.spend(a.Tokens)
	return true, 0
}

func (g *gate) lookup(key LimitKey) *group {
	g.mu.Lock()
	defer g.mu.Unlock()
	gr := g.groups[key]
	if gr == nil {
		// 未配置的分组：两个维度均关闭
		gr = newGroup(Limits{}, g.clk())
		g.groups[key] = gr
	}
	return gr
}

// check 校验申请并返回所属分组。
func (g *gate) check(a Ask) (*group, error) {
	if a.Requests <= 0 || a.Tokens < 0 {
		return nil, fmt.Errorf("rate: bad ask %+v: %w", a, contract.ErrInvalidInput)
	}
	gr := g.lookup(a.Key)
	if gr.perReq > 0 && a.Tokens > gr.perReq {
		return nil, fmt.Errorf("rate: %d tokens over per-request limit %d: %w", a.Tokens, gr.perReq, contract.ErrBudgetExceeded)
	}
	return gr, nil
}

func (g *gate) Try(a Ask) bool {
	gr, err := g.check(a)
	if err != nil {
		return false
	}
	ok, _ := gr.admit(g.clk(), a)
	return ok
}

func (g *gate) Wait(ctx context.Context, a Ask) error {
	gr, err := g.check(a)
	if err != nil {
		return err
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		ok, wait := gr.admit(g.clk(), a)
		if ok {
			return nil
		}
		t := time.NewTimer(max(wait, minPause))
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

func (g *gate) Quota(key LimitKey) Quota {
	gr := g.lookup(key)
	now := g.clk()
	gr.mu.Lock()
	defer gr.mu.Unlock()
	gr.reqs.advance(now)
	gr.toks.advance(now)
	return Quota{Requests: gr.reqs.remaining(), Tokens: gr.toks.remaining()}
}
