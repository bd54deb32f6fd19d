// Package task runs agent requests asynchronously. A run is persisted in a
// Store, its id travels through a Queue, and a Processor executes it with a
// pool of workers.
package task

import (
	stdErrors "errors"

	"TravelAgent-Chain/internal/agent"
	xerrors "TravelAgent-Chain/internal/errors"
)

// Status 表示运行在生命周期中的状态。
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Run 描述一次排队执行的对话请求。
type Run struct {
	ID          string         `json:"id"`
	Input       string         `json:"input"`
	Referrer    string         `json:"referrer_wallet,omitempty"`
	ChatHistory []string       `json:"chat_history,omitempty"`
	Status      Status         `json:"status"`
	Attempts    int            `json:"attempts"`
	MaxRetries  int            `json:"max_retries"`
	LastError   string         `json:"last_error,omitempty"`
	ErrorCode   string         `json:"error_code,omitempty"`
	Result      *agent.Outcome `json:"result,omitempty"`
	CreatedAt   int64          `json:"created_at"`
	UpdatedAt   int64          `json:"updated_at"`
}

// Request 返回交给流水线的请求。
func (r *Run) Request() agent.Request {
	return agent.Request{Input: r.Input, ChatHistory: append([]string(nil), r.ChatHistory...), Referrer: r.Referrer}
}

// Terminal 报告运行是否已经结束。
func (r *Run) Terminal() bool {
	return r.Status == StatusSucceeded || (r.Status == StatusFailed && r.Attempts >= r.MaxRetries)
}

var (
	// ErrRunNotFound 表示指定的运行不存在。
	ErrRunNotFound = xerrors.New(CodeRunNotFound, "run not found")
	// ErrRunConflict 表示运行在当前状态下无法进行所请求的操作。
	ErrRunConflict = xerrors.New(CodeRunConflict, "run conflict", xerrors.WithSeverity(xerrors.SeverityWarning))
	// ErrRunCompleted 表示运行已经结束。
	ErrRunCompleted = xerrors.New(CodeRunCompleted, "run already completed", xerrors.WithSeverity(xerrors.SeverityInfo))
	// ErrRunExhausted 表示重试次数已经耗尽。
	ErrRunExhausted = xerrors.New(CodeRunExhausted, "run retries exhausted", xerrors.WithSeverity(xerrors.SeverityCritical))
	// ErrRunStarted 表示流水线已经执行过，消息不能再被重新投递。
	ErrRunStarted = xerrors.New(CodeRunStarted, "run already executed", xerrors.WithSeverity(xerrors.SeverityCritical))
)

const (
	CodeRunNotFound   xerrors.Code = "RUN_NOT_FOUND"
	CodeRunConflict   xerrors.Code = "RUN_CONFLICT"
	CodeRunCompleted  xerrors.Code = "RUN_COMPLETED"
	CodeRunExhausted  xerrors.Code = "RUN_RETRIES_EXHAUSTED"
	CodeRunValidation xerrors.Code = "RUN_VALIDATION_FAILED"
	CodeRunPublish    xerrors.Code = "RUN_PUBLISH_FAILED"
	CodeRunProcessing xerrors.Code = "RUN_PROCESSING_FAILED"
	CodeRunStarted    xerrors.Code = "RUN_RESULT_UNSAVED"
)

func init() {
	xerrors.Register(CodeRunNotFound, xerrors.Attributes{
		Message:  "run not found",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeRunConflict, xerrors.Attributes{
		Message:  "run conflict",
		Severity: xerrors.SeverityWarning,
	})
	xerrors.Register(CodeRunCompleted, xerrors.Attributes{
		Message:  "run already completed",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeRunExhausted, xerrors.Attributes{
		Message:  "run retries exhausted",
		Severity: xerrors.SeverityCritical,
		Alert:    true,
	})
	xerrors.Register(CodeRunValidation, xerrors.Attributes{
		Message:  "run validation failed",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeRunPublish, xerrors.Attributes{
		Message:   "failed to publish run",
		Severity:  xerrors.SeverityCritical,
		Retryable: true,
		Alert:     true,
	})
	xerrors.Register(CodeRunStarted, xerrors.Attributes{
		Message:  "run executed but its result was not saved",
		Severity: xerrors.SeverityCritical,
		Alert:    true,
	})
	xerrors.Register(CodeRunProcessing, xerrors.Attributes{
		Message:   "run execution failed",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
		Alert:     true,
	})
}

// IsRunError 判断错误是否为指定的运行错误。
func IsRunError(err error, target xerrors.Code) bool {
	if err == nil {
		return false
	}
	for _, sentinel := range []*xerrors.Error{ErrRunNotFound, ErrRunConflict, ErrRunCompleted, ErrRunExhausted} {
		if stdErrors.Is(err, sentinel) {
			return sentinel.Code() == target
		}
	}
	return false
}

// IsValidStatus 检查给定状态是否为支持的枚举值。
func IsValidStatus(status Status) bool {
	switch status {
	case StatusPending, StatusRunning, StatusSucceeded, StatusFailed:
		return true
	default:
		return false
	}
}

func cloneRun(run *Run) *Run {
	clone := *run
	clone.ChatHistory = append([]string(nil), run.ChatHistory...)
	if run.Result != nil {
		result := *run.Result
		result.Warnings = append([]string(nil), run.Result.Warnings...)
		clone.Result = &result
	}
	return &clone
}
