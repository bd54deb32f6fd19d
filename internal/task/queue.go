package task

import (
	"context"
	stdErrors "errors"
)

// Handler 处理来自队列的运行 ID。
type Handler func(ctx context.Context, runID string) error

// Producer 负责向队列投递运行。
type Producer interface {
	Publish(ctx context.Context, runID string) error
	Close() error
}

// Consumer 负责从队列中消费运行。
type Consumer interface {
	Consume(ctx context.Context, workerCount int, handler Handler) error
	Close() error
}

// Queue 同时具备生产者与消费者能力。
type Queue interface {
	Producer
	Consumer
}

// Redeliverable 判断处理失败的运行能否重新入队。流水线开始执行后的失败不能。
func Redeliverable(err error) bool {
	return err != nil && !stdErrors.Is(err, ErrRunStarted)
}
