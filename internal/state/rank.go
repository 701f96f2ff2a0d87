package state

import "chefbatch/pkg/contract"

// Ranking 记录成功完成的先后顺序（0 起）。
// 非并发安全：由 Store 在锁内持有。
type Ranking struct {
	seq   []string
	index map[string]int
}

// Observe 处理一个进度事件。
// 成功且未排名：追加并返回名次与 true；失败被忽略；
// 重复投递不改变序列，返回已有名次与 false。
func (r *Ranking) Observe(ev contract.ProgressEvent) (int, bool) {
	if i, ok := r.index[ev.Producer]; ok {
		return i, false
	}
	if !ev.Outcome.OK() {
		return -1, false
	}
	if r.index == nil {
		r.index = make(map[string]int)
	}
	rank := len(r.seq)
	r.seq = append(r.seq, ev.Producer)
	r.index[ev.Producer] = rank
	return rank, true
}

// Rank 返回 key 的名次；未排名返回 -1,false。
func (r *Ranking) Rank(key string) (int, bool) {
	i, ok := r.index[key]
	if !ok {
		return -1, false
	}
	return i, true
}

// Keys 返回完成顺序的副本。
func (r *Ranking) Keys() []string {
	out := make([]string, len(r.seq))
	copy(out, r.seq)
	return out
}

// Len 返回已排名数量。
func (r *Ranking) Len() int { return len(r.seq) }

// Reset 清空序列。
func (r *Ranking) Reset() {
	r.seq = nil
	r.index = nil
}

var medals = [...]string{"🥇", "🥈", "🥉"}

// Medal 返回前三名的奖牌；其余为空串。
func Medal(rank int) string {
	if rank < 0 || rank >= len(medals) {
		return ""
	}
	return medals[rank]
}
