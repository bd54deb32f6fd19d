package task

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"time"

	"TravelAgent-Chain/internal/agent"
	xerrors "TravelAgent-Chain/internal/errors"
	"TravelAgent-Chain/internal/observability/alerting"
	"TravelAgent-Chain/pkg/logger"
)

// Executor 是处理器所需的流水线能力，*agent.Agent 满足该接口。
type Executor interface {
	Run(ctx context.Context, req agent.Request) agent.Outcome
}

// Processor 从队列消费运行并交给流水线执行。
type Processor struct {
	executor    Executor
	store       Store
	consumer    Consumer
	workerCount int
	timeout     time.Duration
	logger      *slog.Logger
	alerter     alerting.Dispatcher
	events      EventObserver

	// 结果写入的重试次数与退避，流水线本身只执行一次。
	writeAttempts int
	writeBackoff  time.Duration
}

// EventObserver 接收运行生命周期事件，由 metrics 包实现。
type EventObserver interface {
	ObserveRunEvent(event string)
}

// 运行生命周期事件。
const (
	EventSucceeded = "succeeded"
	EventFailed    = "failed"
	EventRetried   = "retried"
	EventExhausted = "exhausted"
)

// ProcessorOption 定义可选配置。
type ProcessorOption func(*Processor)

// WithProcessorLogger 指定日志输出。
func WithProcessorLogger(l *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithWorkerCount 设置消费协程数量。
func WithWorkerCount(workers int) ProcessorOption {
	return func(p *Processor) {
		if workers > 0 {
			p.workerCount = workers
		}
	}
}

// WithRunTimeout 限制单次运行的执行时间。
func WithRunTimeout(timeout time.Duration) ProcessorOption {
	return func(p *Processor) {
		p.timeout = timeout
	}
}

// WithResultWriteRetries 设置结果写入失败时的重试次数与线性退避间隔。
func WithResultWriteRetries(attempts int, backoff time.Duration) ProcessorOption {
	return func(p *Processor) {
		if attempts > 0 {
			p.writeAttempts = attempts
		}
		if backoff >= 0 {
			p.writeBackoff = backoff
		}
	}
}

// WithAlertDispatcher 配置告警派发器。
func WithAlertDispatcher(dispatcher alerting.Dispatcher) ProcessorOption {
	return func(p *Processor) {
		p.alerter = dispatcher
	}
}

// WithEventObserver 配置生命周期事件接收者。
func WithEventObserver(o EventObserver) ProcessorOption {
	return func(p *Processor) {
		p.events = o
	}
}

// NewProcessor 构造 Processor。
func NewProcessor(executor Executor, store Store, consumer Consumer, opts ...ProcessorOption) *Processor {
	p := &Processor{
		executor:      executor,
		store:         store,
		consumer:      consumer,
		workerCount:   1,
		logger:        logger.Named("task.processor"),
		writeAttempts: 3,
		writeBackoff:  200 * time.Millisecond,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Start 启动处理循环，直到 ctx 取消。
func (p *Processor) Start(ctx context.Context) error {
	if p.consumer == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置运行消费者")
	}
	p.logger.Info("运行处理器启动", slog.Int("workers", p.workerCount))
	return p.consumer.Consume(ctx, p.workerCount, p.handle)
}

func (p *Processor) handle(ctx context.Context, runID string) error {
	if p.store == nil || p.executor == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "处理器未初始化")
	}
	run, err := p.store.Claim(ctx, runID)
	if err != nil {
		if stdErrors.Is(err, ErrRunNotFound) || stdErrors.Is(err, ErrRunCompleted) || stdErrors.Is(err, ErrRunExhausted) || stdErrors.Is(err, ErrRunConflict) {
			p.logger.Debug("跳过运行", slog.String("run_id", runID), slog.String("reason", err.Error()))
			return nil
		}
		p.logger.Error("领取运行失败", slog.Any("error", err), slog.String("run_id", runID))
		p.emitAlert(ctx, &Run{ID: runID}, CodeRunProcessing, err, "claim")
		return err
	}

	runCtx := ctx
	if p.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	outcome := p.executor.Run(runCtx, run.Request())

	// 流水线已经执行，付款等副作用不可重放：之后的任何失败都不再重新投递。
	if outcome.Status == string(agent.StatusError) {
		return p.recordPipelineError(ctx, run, outcome)
	}
	if err := p.writeResult(ctx, run, func(ctx context.Context) error {
		return p.store.MarkSucceeded(ctx, run.ID, outcome)
	}); err != nil {
		return p.abandon(ctx, run, outcome, err)
	}
	p.observe(EventSucceeded)
	logger.Audit().Info("运行完成",
		slog.String("run_id", run.ID),
		slog.String("tool", outcome.Tool),
		slog.Bool("denied", outcome.Denied),
		slog.Int("attempts", run.Attempts),
	)
	return nil
}

// recordPipelineError 记录流水线的错误结果。流水线本身没有自动重试，这类失败是终态。
func (p *Processor) recordPipelineError(ctx context.Context, run *Run, outcome agent.Outcome) error {
	code := xerrors.Code(outcome.ErrorCode)
	if code == "" {
		code = CodeRunProcessing
	}
	message := outcome.Error
	if message == "" {
		message = outcome.Response
	}
	if err := p.writeResult(ctx, run, func(ctx context.Context) error {
		return p.store.MarkFailed(ctx, run.ID, code, message, &outcome, true)
	}); err != nil {
		return p.abandon(ctx, run, outcome, err)
	}
	p.observe(EventFailed)
	logger.Audit().Warn("运行失败",
		slog.String("run_id", run.ID),
		slog.String("tool", outcome.Tool),
		slog.String("error", message),
		slog.String("error_code", string(code)),
		slog.Int("attempts", run.Attempts),
	)
	p.emitAlert(ctx, run, code, xerrors.New(code, message), "terminal")
	return nil
}

// writeResult 只重试结果写入本身。
func (p *Processor) writeResult(ctx context.Context, run *Run, write func(context.Context) error) error {
	var err error
	for attempt := 1; attempt <= p.writeAttempts; attempt++ {
		if err = write(ctx); err == nil {
			return nil
		}
		p.logger.Warn("写入运行结果失败",
			slog.Any("error", err),
			slog.String("run_id", run.ID),
			slog.Int("attempt", attempt),
		)
		if attempt == p.writeAttempts {
			break
		}
		p.observe(EventRetried)
		select {
		case <-ctx.Done():
			return err
		case <-time.After(p.writeBackoff * time.Duration(attempt)):
		}
	}
	return err
}

// abandon 在结果始终无法写入时将运行标记为终态失败，并把结果写入审计日志。
// 返回的错误带有 ErrRunStarted，队列据此确认消息而不是重新投递。
func (p *Processor) abandon(ctx context.Context, run *Run, outcome agent.Outcome, cause error) error {
	p.logger.Error("记录运行结果失败", slog.Any("error", cause), slog.String("run_id", run.ID))
	if err := p.store.MarkFailed(ctx, run.ID, xerrors.CodeOf(cause), cause.Error(), &outcome, true); err != nil {
		p.logger.Error("回写失败状态出错", slog.Any("error", err), slog.String("run_id", run.ID))
	}
	logger.Audit().Error("运行结果未能落库",
		slog.String("run_id", run.ID),
		slog.String("tool", outcome.Tool),
		slog.String("status", outcome.Status),
		slog.String("response", outcome.Response),
		slog.String("ipfs_hash", outcome.IPFSHash),
	)
	p.observe(EventExhausted)
	p.emitAlert(ctx, run, CodeRunExhausted, cause, "persist")
	return xerrors.Wrap(CodeRunStarted, cause, fmt.Sprintf("运行 %s 已执行但结果未能落库", run.ID))
}

func (p *Processor) observe(event string) {
	if p.events != nil {
		p.events.ObserveRunEvent(event)
	}
}

func (p *Processor) emitAlert(ctx context.Context, run *Run, code xerrors.Code, cause error, stage string) {
	if p.alerter == nil || run == nil {
		return
	}
	attrs := xerrors.AttributesOf(code)
	event := alerting.Event{
		Code:       code,
		Message:    attrs.Message,
		Severity:   attrs.Severity,
		Subject:    "run:" + run.ID,
		Attempts:   run.Attempts,
		MaxRetries: run.MaxRetries,
		Metadata:   map[string]string{"stage": stage},
		OccurredAt: time.Now().UTC(),
	}
	if cause != nil {
		event.Message = xerrors.MessageOf(cause)
		event.Metadata["cause"] = cause.Error()
	}
	if err := p.alerter.Notify(ctx, event); err != nil {
		p.logger.Error("告警通知失败", slog.Any("error", err), slog.String("run_id", run.ID), slog.String("stage", stage))
	}
}
