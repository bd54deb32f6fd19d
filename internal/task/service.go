package task

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	xerrors "TravelAgent-Chain/internal/errors"
	"TravelAgent-Chain/pkg/logger"
)

// DefaultMaxRetries 是运行的默认最大尝试次数。
const DefaultMaxRetries = 3

// SubmitRequest 是创建运行的参数。ID 为空时自动生成，重复提交同一 ID 返回已有运行。
type SubmitRequest struct {
	ID          string   `json:"id,omitempty"`
	Input       string   `json:"input"`
	Referrer    string   `json:"referrer_wallet,omitempty"`
	ChatHistory []string `json:"chat_history,omitempty"`
}

// Service 负责运行的创建与查询。
type Service struct {
	store      Store
	producer   Producer
	maxRetries int
	log        *slog.Logger
}

// NewService 构造运行服务。
func NewService(store Store, producer Producer, maxRetries int) *Service {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return &Service{store: store, producer: producer, maxRetries: maxRetries, log: logger.Named("task")}
}

// Submit 创建新的运行并推送到队列。
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*Run, error) {
	input := strings.TrimSpace(req.Input)
	if input == "" {
		return nil, xerrors.New(CodeRunValidation, "input 不能为空")
	}
	if s.store == nil || s.producer == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "运行服务未初始化")
	}

	runID := strings.TrimSpace(req.ID)
	if runID != "" {
		existing, err := s.store.Get(ctx, runID)
		if err == nil {
			return existing, nil
		}
		if !stdErrors.Is(err, ErrRunNotFound) {
			return nil, err
		}
	} else {
		runID = uuid.NewString()
	}

	run := &Run{
		ID:          runID,
		Input:       input,
		Referrer:    strings.TrimSpace(req.Referrer),
		ChatHistory: append([]string(nil), req.ChatHistory...),
		Status:      StatusPending,
		MaxRetries:  s.maxRetries,
	}
	if err := s.store.Create(ctx, run); err != nil {
		if stdErrors.Is(err, ErrRunConflict) {
			return s.store.Get(ctx, runID)
		}
		return nil, err
	}
	if err := s.producer.Publish(ctx, runID); err != nil {
		s.log.Error("运行入队失败", slog.Any("error", err), slog.String("run_id", runID))
		wrapped := xerrors.Wrap(CodeRunPublish, err, "发布运行到队列失败")
		_ = s.store.MarkFailed(ctx, runID, CodeRunPublish, wrapped.Error(), nil, true)
		return nil, wrapped
	}
	logger.Audit().Info("运行已入队",
		slog.String("run_id", runID),
		slog.String("referrer_wallet", run.Referrer),
		slog.Int("max_retries", run.MaxRetries),
	)
	return run, nil
}

// Get 返回指定运行。
func (s *Service) Get(ctx context.Context, id string) (*Run, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "运行存储未初始化")
	}
	return s.store.Get(ctx, strings.TrimSpace(id))
}

// List 返回符合过滤条件的运行列表。
func (s *Service) List(ctx context.Context, opts ...ListOption) ([]*Run, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "运行存储未初始化")
	}
	return s.store.List(ctx, BuildListOptions(opts...))
}

// Stats 返回符合过滤条件的统计信息。
func (s *Service) Stats(ctx context.Context, opts ...ListOption) (RunStats, error) {
	if s.store == nil {
		return RunStats{}, xerrors.New(xerrors.CodeInitializationFailure, "运行存储未初始化")
	}
	return s.store.Stats(ctx, BuildListOptions(opts...))
}

// WaitUntilCompleted 轮询直到运行结束或 ctx 取消。
func (s *Service) WaitUntilCompleted(ctx context.Context, id string, interval time.Duration) (*Run, error) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		run, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if run.Terminal() {
			return run, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Close 释放存储与队列。
func (s *Service) Close() error {
	var errs []error
	if s.store != nil {
		errs = append(errs, s.store.Close())
	}
	if s.producer != nil {
		errs = append(errs, s.producer.Close())
	}
	return stdErrors.Join(errs...)
}
