package task

import (
	"context"

	"TravelAgent-Chain/internal/agent"
	xerrors "TravelAgent-Chain/internal/errors"
)

// Store 抽象了运行状态的持久化接口。
type Store interface {
	Create(ctx context.Context, run *Run) error
	Get(ctx context.Context, id string) (*Run, error)
	// Claim 将运行标记为执行中并增加尝试次数。
	Claim(ctx context.Context, id string) (*Run, error)
	MarkSucceeded(ctx context.Context, id string, result agent.Outcome) error
	// MarkFailed 记录失败。terminal 为 true 时运行不再被领取。
	MarkFailed(ctx context.Context, id string, code xerrors.Code, lastError string, result *agent.Outcome, terminal bool) error
	List(ctx context.Context, opts ListOptions) ([]*Run, error)
	Stats(ctx context.Context, opts ListOptions) (RunStats, error)
	Close() error
}
