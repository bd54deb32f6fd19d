package errors

// Code 表示系统内的统一错误码。
type Code string

// Severity 描述错误的严重程度，用于告警和审计。
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// 通用错误码。
const (
	CodeUnknown               Code = "UNKNOWN"
	CodeInvalidArgument       Code = "INVALID_ARGUMENT"
	CodeNotFound              Code = "NOT_FOUND"
	CodeConflict              Code = "CONFLICT"
	CodeInitializationFailure Code = "INITIALIZATION_FAILURE"
	CodeStorageFailure        Code = "STORAGE_FAILURE"
	CodeQueueFailure          Code = "QUEUE_FAILURE"
	CodeExecutorFailure       Code = "EXECUTOR_FAILURE"
	CodeTimeout               Code = "TIMEOUT"
)

// 代理流水线相关错误码。
const (
	CodeUnknownTool           Code = "UNKNOWN_TOOL"
	CodeDuplicateTool         Code = "DUPLICATE_TOOL"
	CodeToolFailure           Code = "TOOL_FAILURE"
	CodeBudgetExceeded        Code = "BUDGET_EXCEEDED"
	CodeLLMFailure            Code = "LLM_FAILURE"
	CodePaymentFailure        Code = "PAYMENT_FAILURE"
	CodeContentStorageFailure Code = "CONTENT_STORAGE_FAILURE"
)

// Attributes 为错误码提供默认行为。
type Attributes struct {
	Message   string
	Severity  Severity
	Retryable bool
	Alert     bool
}

var builtin = map[Code]Attributes{
	CodeUnknown:               {Message: "unknown error", Severity: SeverityCritical, Alert: true},
	CodeInvalidArgument:       {Message: "invalid argument", Severity: SeverityInfo},
	CodeNotFound:              {Message: "resource not found", Severity: SeverityInfo},
	CodeConflict:              {Message: "resource conflict", Severity: SeverityWarning},
	CodeInitializationFailure: {Message: "service not initialized", Severity: SeverityWarning, Retryable: true, Alert: true},
	CodeStorageFailure:        {Message: "storage failure", Severity: SeverityCritical, Retryable: true, Alert: true},
	CodeQueueFailure:          {Message: "queue failure", Severity: SeverityCritical, Retryable: true, Alert: true},
	CodeExecutorFailure:       {Message: "executor failure", Severity: SeverityWarning, Retryable: true, Alert: true},
	CodeTimeout:               {Message: "operation timed out", Severity: SeverityWarning, Retryable: true, Alert: true},

	CodeUnknownTool:           {Message: "unknown tool", Severity: SeverityWarning},
	CodeDuplicateTool:         {Message: "tool already registered", Severity: SeverityCritical},
	CodeToolFailure:           {Message: "tool invocation failed", Severity: SeverityWarning},
	CodeBudgetExceeded:        {Message: "spend cap exceeded", Severity: SeverityInfo},
	CodeLLMFailure:            {Message: "language model failure", Severity: SeverityWarning, Retryable: true, Alert: true},
	CodePaymentFailure:        {Message: "payment failure", Severity: SeverityCritical, Alert: true},
	CodeContentStorageFailure: {Message: "content storage failure", Severity: SeverityWarning, Retryable: true},
}
