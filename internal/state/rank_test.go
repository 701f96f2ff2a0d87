package state

import (
	"testing"

	"chefbatch/pkg/contract"
)

func okEv(key string) contract.ProgressEvent {
	return contract.ProgressEvent{Producer: key, Outcome: contract.Succeed(&contract.Document{Raw: []byte(`{}`)})}
}

func failEv(key string) contract.ProgressEvent {
	return contract.ProgressEvent{Producer: key, Outcome: contract.Fail(contract.FailUpstream, "boom")}
}

// 名次单调：按成功到达顺序 0,1,2…；失败不占名次；重复投递不改变序列。
func TestRankingObserve(t *testing.T) {
	var r Ranking
	if rk, ok := r.Observe(okEv("B")); !ok || rk != 0 {
		t.Fatalf("B rank=%d ok=%v", rk, ok)
	}
	if rk, ok := r.Observe(failEv("X")); ok || rk != -1 {
		t.Fatalf("失败不应排名: %d %v", rk, ok)
	}
	if rk, ok := r.Observe(okEv("C")); !ok || rk != 1 {
		t.Fatalf("C rank=%d ok=%v", rk, ok)
	}
	if rk, ok := r.Observe(okEv("B")); ok || rk != 0 {
		t.Fatalf("重复投递应返回原名次且 ok=false: %d %v", rk, ok)
	}
	if rk, ok := r.Observe(okEv("A")); !ok || rk != 2 {
		t.Fatalf("A rank=%d ok=%v", rk, ok)
	}
	keys := r.Keys()
	if len(keys) != 3 || keys[0] != "B" || keys[1] != "C" || keys[2] != "A" || r.Len() != 3 {
		t.Fatalf("序列错误: %v", keys)
	}
	keys[0] = "Z"
	if r.Keys()[0] != "B" {
		t.Fatalf("Keys 应返回副本")
	}
	if _, ok := r.Rank("X"); ok {
		t.Fatalf("失败者不应有名次")
	}
	r.Reset()
	if r.Len() != 0 {
		t.Fatalf("Reset 后应为空")
	}
	if rk, ok := r.Observe(okEv("A")); !ok || rk != 0 {
		t.Fatalf("Reset 后从 0 开始: %d", rk)
	}
}

func TestMedal(t *testing.T) {
	tests := []struct {
		rank int
		want string
	}{
		{-1, ""}, {0, "🥇"}, {1, "🥈"}, {2, "🥉"}, {3, ""},
	}
	for _, tt := range tests {
		if got := Medal(tt.rank); got != tt.want {
			t.Fatalf("Medal(%d)=%q want %q", tt.rank, got, tt.want)
		}
	}
}
