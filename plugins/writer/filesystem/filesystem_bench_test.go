package filesystem

import (
	"bytes"
	"context"
	"fmt"
	"testing"
)

// BenchmarkWrite 不同导出尺寸下的原子写入开销。
func BenchmarkWrite(b *testing.B) {
	for _, sz := range []int{1024, 256 * 1024} {
		b.Run(fmt.Sprintf("size=%d", sz), func(b *testing.B) {
			data := bytes.Repeat([]byte("{}\n"), sz/3)
			w, err := New(&Options{OutputDir: b.TempDir()})
			if err != nil {
				b.Fatalf("创建 Writer 失败: %v", err)
			}
			ctx := context.Background()
			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if err := w.Write(ctx, "batch.jsonl", bytes.NewReader(data)); err != nil {
					b.Fatalf("写入失败: %v", err)
				}
			}
		})
	}
}
