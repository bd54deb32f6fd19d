package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	xerrors "TravelAgent-Chain/internal/errors"
	"TravelAgent-Chain/internal/knowledge"
	"TravelAgent-Chain/internal/ledger"
	"TravelAgent-Chain/internal/llm"
	"TravelAgent-Chain/internal/tool"
)

// 规划阶段的固定回复。
const (
	HelpfulReply = "I'm here to help with weather, flights, hotels, activities, airports, payments, wallet balances and referrals. What would you like to do?"
	ApologyReply = "I'm sorry, I ran into a problem while processing your request. Please try again."
	LedgerReply  = "Unable to verify the spend cap right now. Please try again."
)

// Planner 将输入路由为直接回复或一次工具调用。
type Planner struct {
	intents   []Intent
	registry  *tool.Registry
	ledger    ledger.Ledger
	llm       llm.Client
	knowledge knowledge.Provider
	observer  Observer
	log       *slog.Logger
}

// Plan 先按有序路由表匹配，未命中时交给大模型。
func (p *Planner) Plan(ctx context.Context, s *State) {
	lower := strings.ToLower(s.Input)
	for _, in := range p.intents {
		if !in.Match(s.Input, lower) {
			continue
		}
		args, ok := in.Extract(s.Input, s)
		if !ok {
			p.log.Debug("意图参数提取失败，继续匹配", slog.String("intent", in.Name))
			continue
		}
		if _, registered := p.registry.Lookup(in.Tool); !registered {
			p.log.Warn("意图对应的工具未注册", slog.String("intent", in.Name), slog.String("tool", in.Tool))
			continue
		}
		p.log.Info("命中意图", slog.String("intent", in.Name), slog.String("tool", in.Tool))
		if !p.charge(ctx, s, in.Category, in.Action, args) {
			return
		}
		s.Pending = &Invocation{Tool: in.Tool, Args: args, CallID: newCallID()}
		return
	}
	p.fallback(ctx, s)
}

// charge 原子地检查并记录消费，额度不足时设置拒绝回复。
func (p *Planner) charge(ctx context.Context, s *State, category, action string, args tool.Args) bool {
	if category == "" || p.ledger == nil {
		return true
	}
	meta := make(map[string]any, len(args))
	for k, v := range args {
		meta[k] = v
	}
	_, err := p.ledger.Reserve(ctx, category, meta)
	if err == nil {
		return true
	}
	var budget *ledger.BudgetError
	if errors.As(err, &budget) {
		p.observer.ObserveDenial(category)
		p.log.Info("额度不足，拒绝请求", slog.String("category", category), slog.Float64("remaining", budget.Remaining))
		s.Deny(err, fmt.Sprintf("Spend cap exceeded. Cannot %s. Remaining cap: $%.2f", action, budget.Remaining))
		return false
	}
	p.log.Error("记录消费失败", slog.String("category", category), slog.Any("error", err))
	s.Fail(xerrors.Wrap(xerrors.CodeStorageFailure, err, "spend ledger unavailable"), LedgerReply)
	return false
}

func (p *Planner) fallback(ctx context.Context, s *State) {
	if p.knowledge != nil {
		s.RetrievedDocs = knowledge.Format(p.knowledge.Query(s.Input))
	}
	resp, err := p.llm.Complete(ctx, llm.Request{
		Messages: []llm.Message{llm.System(p.prompt(s)), llm.User(s.Input)},
		Tools:    p.registry.Specs(),
	})
	if err != nil {
		p.log.Error("大模型调用失败", slog.Any("error", err))
		s.Fail(xerrors.Wrap(xerrors.CodeLLMFailure, err, "language model request failed"), ApologyReply)
		return
	}
	if resp != nil && resp.ToolCall != nil {
		p.fromToolCall(ctx, s, resp.ToolCall)
		return
	}
	text := resp.Text()
	if text == "" {
		text = HelpfulReply
	}
	s.Respond(text)
}

// fromToolCall 规范化模型给出的工具调用。参数只按严格 JSON 解析。
func (p *Planner) fromToolCall(ctx context.Context, s *State, call *llm.ToolCall) {
	name := normalizeToolName(call.Name)
	args, err := tool.ParseArguments(unwrapArguments(call.Arguments))
	if err != nil {
		p.log.Warn("模型给出的工具参数无效", slog.String("tool", name), slog.Any("error", err))
		s.Fail(err, fmt.Sprintf("Error calling tool '%s': %s", name, xerrors.MessageOf(err)))
		return
	}
	if t, ok := p.registry.Lookup(name); ok {
		if !p.charge(ctx, s, t.Category, "call "+name, args) {
			return
		}
	}
	id := call.ID
	if id == "" {
		id = newCallID()
	}
	s.Pending = &Invocation{Tool: name, Args: args, CallID: id}
}

func (p *Planner) prompt(s *State) string {
	var b strings.Builder
	b.WriteString("You are a helpful AI travel assistant with access to the following tools:\n\n")
	for _, e := range p.registry.List() {
		fmt.Fprintf(&b, "- %s: %s\n", e.Name, e.Description)
	}
	b.WriteString("\nChat history:\n")
	b.WriteString(strings.Join(s.ChatHistory, "\n"))
	b.WriteString("\n\nRelevant knowledge from the knowledge base:\n")
	b.WriteString(s.RetrievedDocs)
	b.WriteString("\n\nPlease provide a helpful response. If the user's question can be answered using the tools above, call the appropriate tool.")
	return b.String()
}

// normalizeToolName 去掉部分模型附加的 "functions." 前缀。
func normalizeToolName(name string) string {
	name = strings.TrimSpace(name)
	return strings.TrimPrefix(name, "functions.")
}

// unwrapArguments 处理被再次编码为 JSON 字符串的参数，以及
// {"function":{"arguments":...}} 形式的外层包装。
func unwrapArguments(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, `"`) {
		var inner string
		if err := json.Unmarshal([]byte(raw), &inner); err == nil {
			raw = strings.TrimSpace(inner)
		}
	}
	var envelope struct {
		Function *struct {
			Arguments json.RawMessage `json:"arguments"`
		} `json:"function"`
	}
	if err := json.Unmarshal([]byte(raw), &envelope); err == nil && envelope.Function != nil && len(envelope.Function.Arguments) > 0 {
		return unwrapArguments(string(envelope.Function.Arguments))
	}
	return raw
}

func newCallID() string {
	return "call_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:24]
}
