// Package export 将一次批次的终态事件按完成顺序编码为 JSONL 并交给 Writer 持久化。
package export

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"chefbatch/internal/producers"
	"chefbatch/internal/state"
	"chefbatch/pkg/contract"
)

// Record: 导出文件中的一行。
type Record struct {
	Batch     string          `json:"batch_id"`
	Producer  string          `json:"producer"`
	Label     string          `json:"label"`
	Status    string          `json:"status"`
	Rank      int             `json:"rank,omitempty"` // 1 起；失败为 0
	Title     string          `json:"title,omitempty"`
	Failure   string          `json:"failure,omitempty"`
	Reason    string          `json:"reason,omitempty"`
	ElapsedMS int64           `json:"elapsed_ms"`
	Doc       json.RawMessage `json:"doc,omitempty"`
}

// ArtifactName 返回批次导出文件名。
func ArtifactName(tok contract.Token) contract.ArtifactID {
	return contract.ArtifactID(fmt.Sprintf("batch-%s.jsonl", tok))
}

// Records 按事件顺序构造导出行；排名按成功事件的出现顺序重新计算。
func Records(events []contract.ProgressEvent, ps []contract.Producer) []Record {
	var rk state.Ranking
	out := make([]Record, 0, len(events))
	for _, ev := range events {
		r := Record{
			Batch:     ev.Batch.String(),
			Producer:  ev.Producer,
			Label:     ev.Producer,
			ElapsedMS: ev.Elapsed.Milliseconds(),
		}
		if p, ok := producers.Lookup(ps, ev.Producer); ok {
			r.Label = producers.Label(p)
		}
		if ev.Outcome.OK() {
			r.Status = contract.StatusCompleted.String()
			if rank, ok := rk.Observe(ev); ok {
				r.Rank = rank + 1
			}
			r.Title = contract.TitleOf(ev.Outcome.Doc)
			r.Doc = ev.Outcome.Doc.Raw
		} else {
			r.Status = contract.StatusFailed.String()
			if f := ev.Outcome.Failure; f != nil {
				r.Failure = string(f.Kind)
				r.Reason = f.Reason
			}
		}
		out = append(out, r)
	}
	return out
}

// Encode 逐行编码，不转义 HTML 字符。
func Encode(recs []Record) (*bytes.Buffer, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i := range recs {
		if err := enc.Encode(&recs[i]); err != nil {
			return nil, fmt.Errorf("export encode %s: %w", recs[i].Producer, err)
		}
	}
	return &buf, nil
}

// Write 编码并写出；返回写出的行数。
func Write(ctx context.Context, w contract.Writer, id contract.ArtifactID, events []contract.ProgressEvent, ps []contract.Producer) (int, error) {
	recs := Records(events, ps)
	buf, err := Encode(recs)
	if err != nil {
		return 0, err
	}
	if err := w.Write(ctx, id, buf); err != nil {
		return 0, fmt.Errorf("export write %s: %w", id, err)
	}
	return len(recs), nil
}
