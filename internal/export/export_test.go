package export

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"chefbatch/internal/producers"
	"chefbatch/pkg/contract"
)

type memWriter struct {
	id  contract.ArtifactID
	buf bytes.Buffer
	err error
}

func (m *memWriter) Write(ctx context.Context, id contract.ArtifactID, r io.Reader) error {
	if m.err != nil {
		return m.err
	}
	m.id = id
	_, err := io.Copy(&m.buf, r)
	return err
}

type titled struct{ name string }

func (t titled) Title() string { return t.name }

func TestWriteCompletionOrder(t *testing.T) {
	ps := producers.Default()
	tok := contract.NewToken()
	events := []contract.ProgressEvent{
		{Batch: tok, Producer: "sichuan", Elapsed: 12 * time.Millisecond,
			Outcome: contract.Succeed(&contract.Document{Raw: json.RawMessage(`{"dish_name":"水煮<鱼>"}`), Value: titled{"水煮<鱼>"}})},
		{Batch: tok, Producer: "thai", Outcome: contract.Fail(contract.FailUpstream, "status 500")},
		{Batch: tok, Producer: "hunan", Outcome: contract.Succeed(&contract.Document{Raw: json.RawMessage(`{}`)})},
	}
	w := &memWriter{}
	n, err := Write(context.Background(), w, ArtifactName(tok), events, ps)
	if err != nil || n != 3 {
		t.Fatalf("write: n=%d err=%v", n, err)
	}
	if string(w.id) != "batch-"+tok.String()+".jsonl" {
		t.Fatalf("id = %s", w.id)
	}
	if out := w.buf.String(); strings.Contains(out, `\u003c`) || !strings.Contains(out, `水煮<鱼>`) {
		t.Fatalf("不应转义 HTML: %s", out)
	}
	var recs []Record
	sc := bufio.NewScanner(&w.buf)
	for sc.Scan() {
		var r Record
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			t.Fatalf("line: %v", err)
		}
		recs = append(recs, r)
	}
	if len(recs) != 3 {
		t.Fatalf("行数 = %d", len(recs))
	}
	if recs[0].Rank != 1 || recs[0].Title != "水煮<鱼>" || recs[0].Label != "川菜 麻辣刘大厨" || recs[0].ElapsedMS != 12 {
		t.Fatalf("第一行错误: %+v", recs[0])
	}
	if recs[1].Status != "failed" || recs[1].Rank != 0 || recs[1].Failure != "upstream" || recs[1].Reason != "status 500" {
		t.Fatalf("失败行错误: %+v", recs[1])
	}
	if recs[2].Rank != 2 || recs[2].Status != "completed" {
		t.Fatalf("排名应跳过失败: %+v", recs[2])
	}
}

func TestWriteErrorAndUnknownProducer(t *testing.T) {
	boom := errors.New("disk full")
	ev := []contract.ProgressEvent{{Producer: "ghost", Outcome: contract.Fail(contract.FailEmpty, "")}}
	if _, err := Write(context.Background(), &memWriter{err: boom}, "x.jsonl", ev, nil); !errors.Is(err, boom) {
		t.Fatalf("应透传写错误: %v", err)
	}
	recs := Records(ev, nil)
	if recs[0].Label != "ghost" {
		t.Fatalf("未知生成者应以 key 作为标签: %+v", recs[0])
	}
}
