// Package state 持有当前批次的全部可变状态：每个生成者的状态、结果与完成名次。
//
// Store 是唯一的同步点（互斥锁）。批次令牌用于拒绝被放弃批次的迟到事件：
// 令牌不匹配的事件不会修改任何状态。
package state

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"chefbatch/pkg/contract"
)

var (
	// ErrStaleBatch: 事件所属批次已被放弃（新批次或重置）。
	ErrStaleBatch = errors.New("stale batch")
	// ErrUnknownProducer: 当前批次未跟踪该生成者。
	ErrUnknownProducer = errors.New("unknown producer")
	// ErrAlreadyTerminal: 该生成者在当前批次已进入终态。
	ErrAlreadyTerminal = errors.New("producer already terminal")
)

// Item 为单个生成者的只读视图。
type Item struct {
	Producer contract.Producer
	Status   contract.Status
	Doc      *contract.Document
	Failure  *contract.Failure
	Rank     int // 未排名为 -1
	Elapsed  time.Duration
}

// Snapshot 为某一时刻的状态副本。
type Snapshot struct {
	Token     contract.Token
	Items     []Item   // 注册顺序
	Ranked    []string // 完成顺序
	Running   int
	Completed int
	Failed    int
}

// Idle 报告是否没有跟踪任何生成者。
func (s Snapshot) Idle() bool { return len(s.Items) == 0 }

// AllTerminal 报告是否全部进入终态（空闲时为 false）。
func (s Snapshot) AllTerminal() bool {
	return len(s.Items) > 0 && s.Completed+s.Failed == len(s.Items)
}

// Item 按 key 查找。
func (s Snapshot) Item(key string) (Item, bool) {
	for _, it := range s.Items {
		if it.Producer.Key == key {
			return it, true
		}
	}
	return Item{}, false
}

type entry struct {
	status  contract.Status
	doc     *contract.Document
	failure *contract.Failure
	elapsed time.Duration
}

// Store 为批次状态存储。
// 订阅者在不持有任何锁时被依次调用，通知顺序与修改顺序一致；
// 回调内可以读取或修改 Store，回调内触发的通知排在当前通知之后投递。
type Store struct {
	mu      sync.Mutex
	token   contract.Token
	order   []contract.Producer
	entries map[string]*entry
	rank    Ranking

	// 通知队列：qMu 只在持有 mu 时入队或在无锁时出队，从不等待 mu。
	qMu      sync.Mutex
	queue    []Snapshot
	draining bool

	subMu   sync.Mutex
	subs    map[int]func(Snapshot)
	nextSub int
}

// NewStore 返回空闲状态的 Store。
func NewStore() *Store { return &Store{} }

// StartBatch 开始新批次：生成新令牌，所有生成者置为 Running，清空结果与名次。
// 之前的批次随即被放弃。
func (s *Store) StartBatch(producers []contract.Producer) (contract.Token, error) {
	if len(producers) == 0 {
		return uuid.Nil, fmt.Errorf("start batch: no producers: %w", contract.ErrInvalidInput)
	}
	entries := make(map[string]*entry, len(producers))
	for i, p := range producers {
		if p.Key == "" {
			return uuid.Nil, fmt.Errorf("start batch: producers[%d] key empty: %w", i, contract.ErrInvalidInput)
		}
		if _, dup := entries[p.Key]; dup {
			return uuid.Nil, fmt.Errorf("start batch: duplicate key %q: %w", p.Key, contract.ErrInvalidInput)
		}
		entries[p.Key] = &entry{status: contract.StatusRunning}
	}
	order := make([]contract.Producer, len(producers))
	copy(order, producers)

	s.mu.Lock()
	s.token = contract.NewToken()
	s.order = order
	s.entries = entries
	s.rank.Reset()
	tok := s.token
	s.publishLocked()
	return tok, nil
}

// ApplyProgress 应用一个进度事件。
// 令牌不匹配返回 ErrStaleBatch；未知生成者返回 ErrUnknownProducer；
// 已终态返回 ErrAlreadyTerminal。以上情况均不修改状态。
func (s *Store) ApplyProgress(ev contract.ProgressEvent) error {
	s.mu.Lock()
	if s.token == uuid.Nil || ev.Batch != s.token {
		s.mu.Unlock()
		return fmt.Errorf("apply %s: %w", ev.Producer, ErrStaleBatch)
	}
	e, ok := s.entries[ev.Producer]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("apply %q: %w", ev.Producer, ErrUnknownProducer)
	}
	if e.status.Terminal() {
		s.mu.Unlock()
		return fmt.Errorf("apply %s: %w", ev.Producer, ErrAlreadyTerminal)
	}
	e.elapsed = ev.Elapsed
	if ev.Outcome.OK() {
		e.status = contract.StatusCompleted
		e.doc = ev.Outcome.Doc
		s.rank.Observe(ev)
	} else {
		e.status = contract.StatusFailed
		f := ev.Outcome.Failure
		if f == nil {
			f = &contract.Failure{Kind: contract.FailInvalid, Reason: "empty outcome"}
		}
		e.failure = f
	}
	s.publishLocked()
	return nil
}

// AllTerminal 报告当前批次是否全部进入终态；空闲时为 false。
func (s *Store) AllTerminal() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.entries) == 0 {
		return false
	}
	for _, e := range s.entries {
		if !e.status.Terminal() {
			return false
		}
	}
	return true
}

// Token 返回当前批次令牌（空闲为 uuid.Nil）。
func (s *Store) Token() contract.Token {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

// Reset 回到空闲状态（幂等）。当前批次的迟到事件此后均被拒绝。
func (s *Store) Reset() {
	s.mu.Lock()
	s.token = uuid.Nil
	s.order = nil
	s.entries = nil
	s.rank.Reset()
	s.publishLocked()
}

// Snapshot 返回状态副本。
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() Snapshot {
	snap := Snapshot{Token: s.token, Ranked: s.rank.Keys()}
	if len(s.order) == 0 {
		return snap
	}
	snap.Items = make([]Item, 0, len(s.order))
	for _, p := range s.order {
		e := s.entries[p.Key]
		it := Item{Producer: p, Status: e.status, Doc: e.doc, Failure: e.failure, Rank: -1, Elapsed: e.elapsed}
		if r, ok := s.rank.Rank(p.Key); ok {
			it.Rank = r
		}
		switch e.status {
		case contract.StatusRunning:
			snap.Running++
		case contract.StatusCompleted:
			snap.Completed++
		case contract.StatusFailed:
			snap.Failed++
		}
		snap.Items = append(snap.Items, it)
	}
	return snap
}

// Subscribe 注册变更观察者；返回取消函数。
func (s *Store) Subscribe(fn func(Snapshot)) (cancel func()) {
	if fn == nil {
		return func() {}
	}
	s.subMu.Lock()
	if s.subs == nil {
		s.subs = make(map[int]func(Snapshot))
	}
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subMu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subs, id)
			s.subMu.Unlock()
		})
	}
}

// publishLocked 在持有 mu 时调用：快照入队后释放 mu，再投递队列。
// 入队发生在 mu 内，因此队列顺序即修改顺序。
func (s *Store) publishLocked() {
	snap := s.snapshotLocked()
	s.qMu.Lock()
	s.queue = append(s.queue, snap)
	s.qMu.Unlock()
	s.mu.Unlock()
	s.drain()
}

// drain 由单个投递者清空队列；已有投递者时直接返回，由其继续投递新入队的快照。
func (s *Store) drain() {
	s.qMu.Lock()
	if s.draining {
		s.qMu.Unlock()
		return
	}
	s.draining = true
	for len(s.queue) > 0 {
		snap := s.queue[0]
		s.queue[0] = Snapshot{}
		s.queue = s.queue[1:]
		s.qMu.Unlock()
		for _, fn := range s.subscribers() {
			fn(snap)
		}
		s.qMu.Lock()
	}
	s.queue = nil
	s.draining = false
	s.qMu.Unlock()
}

func (s *Store) subscribers() []func(Snapshot) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	ids := make([]int, 0, len(s.subs))
	for id := range s.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(Snapshot), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, s.subs[id])
	}
	return fns
}
