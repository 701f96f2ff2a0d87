package contract

import "context"

// Decoder: 将已抽取的结构化片段解析并校验为 Document。
// 约束：
//  1. 解析失败返回包裹 ErrResponseInvalid 的错误；
//  2. 可解析但不满足结构约束返回包裹 ErrInvariantViolation 的错误；
//  3. 不做 I/O，不持有跨调用状态。
type Decoder interface {
	Decode(ctx context.Context, p Producer, segment string) (*Document, error)
}
