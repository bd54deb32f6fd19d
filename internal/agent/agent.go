package agent

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	xerrors "TravelAgent-Chain/internal/errors"
	"TravelAgent-Chain/internal/knowledge"
	"TravelAgent-Chain/internal/ledger"
	"TravelAgent-Chain/internal/llm"
	"TravelAgent-Chain/internal/referral"
	"TravelAgent-Chain/internal/storage/ipfs"
	"TravelAgent-Chain/internal/tool"
	"TravelAgent-Chain/pkg/logger"
)

// 空输入时的固定回复。
const (
	NoInputReply = "No input provided"
	NoInputError = "Missing required input field"
)

// Request 是一次对话请求。
type Request struct {
	Input       string   `json:"input"`
	ChatHistory []string `json:"chat_history,omitempty"`
	Referrer    string   `json:"referrer_wallet,omitempty"`
}

// Outcome 是一次处理的结果，对应 /agent 接口的响应体。
type Outcome struct {
	Status    string   `json:"status"`
	Response  string   `json:"response"`
	Error     string   `json:"error,omitempty"`
	ErrorCode string   `json:"error_code,omitempty"`
	Tool      string   `json:"tool,omitempty"`
	IPFSHash  string   `json:"ipfs_hash,omitempty"`
	Denied    bool     `json:"denied,omitempty"`
	Warnings  []string `json:"warnings,omitempty"`
}

// Deps 是流水线依赖的协作者。
type Deps struct {
	Registry  *tool.Registry
	Ledger    ledger.Ledger
	LLM       llm.Client
	Content   ipfs.Store
	Referrals *referral.Service
}

// Agent 串联规划器与执行器，是请求处理的唯一入口。
type Agent struct {
	planner  *Planner
	executor *Executor
	observer Observer
	log      *slog.Logger
}

// Option 定义可选的 Agent 配置。
type Option func(*Agent)

// WithKnowledgeProvider 配置知识库，用于大模型回退时补充上下文。
func WithKnowledgeProvider(provider knowledge.Provider) Option {
	return func(a *Agent) {
		a.planner.knowledge = provider
	}
}

// WithObserver 配置度量接收者。
func WithObserver(o Observer) Option {
	return func(a *Agent) {
		if o != nil {
			a.observer = o
		}
	}
}

// WithIntents 替换默认路由表。
func WithIntents(intents []Intent) Option {
	return func(a *Agent) {
		a.planner.intents = append([]Intent(nil), intents...)
	}
}

// New 创建 Agent。
func New(deps Deps, opts ...Option) (*Agent, error) {
	if deps.Registry == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置工具注册表")
	}
	if deps.LLM == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置大模型客户端")
	}
	if deps.Content == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置内容存储")
	}
	log := logger.Named("agent")
	a := &Agent{
		planner: &Planner{
			intents:  DefaultIntents(),
			registry: deps.Registry,
			ledger:   deps.Ledger,
			llm:      deps.LLM,
			log:      log.With(slog.String("stage", "plan")),
		},
		executor: &Executor{
			registry:  deps.Registry,
			llm:       deps.LLM,
			content:   deps.Content,
			referrals: deps.Referrals,
			now:       time.Now,
			log:       log.With(slog.String("stage", "execute")),
		},
		observer: nopObserver{},
		log:      log,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	a.planner.observer = a.observer
	a.executor.observer = a.observer
	return a, nil
}

// Run 执行一次完整的规划与执行，从不返回错误，panic 会被转换为错误结果。
func (a *Agent) Run(ctx context.Context, req Request) (out Outcome) {
	started := time.Now()
	ctx, span := otel.Tracer("travelagent/agent").Start(ctx, "agent.run")
	defer span.End()

	if strings.TrimSpace(req.Input) == "" {
		a.observer.ObserveRun(string(StatusError), time.Since(started))
		return Outcome{Status: string(StatusError), Response: NoInputReply, Error: NoInputError, ErrorCode: string(xerrors.CodeInvalidArgument)}
	}

	s := NewState(req.Input, req.ChatHistory, req.Referrer, a.log)
	defer func() {
		if r := recover(); r != nil {
			a.log.Error("流水线 panic", slog.Any("panic", r), slog.String("stack", string(debug.Stack())))
			err := xerrors.New(xerrors.CodeExecutorFailure, fmt.Sprintf("internal error: %v", r))
			out = Outcome{Status: string(StatusError), Response: ApologyReply, Error: err.Message(), ErrorCode: string(err.Code()), Tool: s.Tool}
		}
		span.SetAttributes(attribute.String("agent.status", out.Status), attribute.String("agent.tool", out.Tool))
		if out.Status == string(StatusError) {
			span.SetStatus(codes.Error, out.Error)
		}
		a.observer.ObserveRun(runStatus(out), time.Since(started))
	}()

	a.planner.Plan(ctx, s)
	if _, responded := s.Response(); !responded {
		a.executor.Execute(ctx, s)
	}
	if _, responded := s.Response(); !responded {
		s.Respond(HelpfulReply)
	}
	return outcomeOf(s)
}

func outcomeOf(s *State) Outcome {
	text, _ := s.Response()
	out := Outcome{
		Status:   string(StatusSuccess),
		Response: text,
		Tool:     s.Tool,
		IPFSHash: s.IPFSHash,
		Warnings: s.Warnings,
	}
	switch s.Status {
	case StatusDenied:
		// 策略拒绝不是失败。
		out.Denied = true
	case StatusError:
		out.Status = string(StatusError)
		out.Error = xerrors.MessageOf(s.Err)
		out.ErrorCode = s.ErrorCode()
	}
	return out
}

func runStatus(o Outcome) string {
	if o.Denied {
		return string(StatusDenied)
	}
	return o.Status
}
