package agent

import (
	"log/slog"
	"strings"
	"unicode/utf8"

	xerrors "TravelAgent-Chain/internal/errors"
	"TravelAgent-Chain/internal/tool"
)

// Status 是一次处理的最终状态。
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
	StatusDenied  Status = "denied"
)

// Invocation 是规划器产生、执行器消费的一次工具调用。
type Invocation struct {
	Tool string
	Args tool.Args
	// CallID 关联合成阶段的 assistant 与 tool 消息。
	CallID string
}

// State 是单次请求的可变状态，请求结束后丢弃。
type State struct {
	Input         string
	ChatHistory   []string
	Referrer      string
	Pending       *Invocation
	RetrievedDocs string
	IPFSHash      string
	Status        Status
	Err           error
	Warnings      []string
	// Tool 记录本次实际调用的工具。
	Tool string

	response  string
	responded bool
	log       *slog.Logger
}

// NewState 创建新状态。
func NewState(input string, history []string, referrer string, log *slog.Logger) *State {
	if log == nil {
		log = slog.Default()
	}
	return &State{
		Input:       strings.TrimSpace(input),
		ChatHistory: append([]string(nil), history...),
		Referrer:    strings.TrimSpace(referrer),
		Status:      StatusSuccess,
		log:         log,
	}
}

// Respond 设置回复，每个周期只生效一次，重复设置会被忽略并记录日志。
func (s *State) Respond(text string) bool {
	if s.responded {
		s.log.Warn("回复已设置，忽略重复写入", slog.String("ignored", truncate(text, 120)))
		return false
	}
	s.response = text
	s.responded = true
	return true
}

// Response 返回回复以及是否已设置。
func (s *State) Response() (string, bool) {
	return s.response, s.responded
}

// Fail 以错误状态结束本周期。
func (s *State) Fail(err error, text string) {
	if s.Respond(text) {
		s.Status = StatusError
		s.Err = err
	}
}

// Deny 以拒绝状态结束本周期。
func (s *State) Deny(err error, text string) {
	if s.Respond(text) {
		s.Status = StatusDenied
		s.Err = err
	}
}

// Warn 记录一条降级信息。
func (s *State) Warn(msg string) {
	s.Warnings = append(s.Warnings, msg)
}

// ErrorCode 返回错误码，没有错误时为空。
func (s *State) ErrorCode() string {
	if s.Err == nil {
		return ""
	}
	return string(xerrors.CodeOf(s.Err))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	// 回退到字符边界，避免截断多字节字符。
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
