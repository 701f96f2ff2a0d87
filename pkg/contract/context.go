package contract

import "context"

type ctxKey int

const (
	ctxBatch ctxKey = iota
	ctxProducer
)

// WithBatch 在 ctx 中附带批次令牌（用于日志关联）。
func WithBatch(ctx context.Context, t Token) context.Context {
	return context.WithValue(ctx, ctxBatch, t)
}

// BatchFrom 取出批次令牌；不存在时 ok=false。
func BatchFrom(ctx context.Context) (Token, bool) {
	t, ok := ctx.Value(ctxBatch).(Token)
	return t, ok
}

// WithProducer 在 ctx 中附带当前任务的生成者 key。
// 仅供诊断与测试替身使用；真实客户端不依赖它。
func WithProducer(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, ctxProducer, key)
}

// ProducerFrom 取出生成者 key；不存在时返回空串。
func ProducerFrom(ctx context.Context) string {
	s, _ := ctx.Value(ctxProducer).(string)
	return s
}
