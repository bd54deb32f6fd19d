package agent

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"runtime/debug"
	"time"

	xerrors "TravelAgent-Chain/internal/errors"
	"TravelAgent-Chain/internal/llm"
	"TravelAgent-Chain/internal/referral"
	"TravelAgent-Chain/internal/storage/ipfs"
	"TravelAgent-Chain/internal/tool"
	"TravelAgent-Chain/internal/travel"
)

// SynthesisPrompt 是合成阶段的系统提示。
const SynthesisPrompt = "You are a helpful assistant that uses tool results."

var txHashPattern = regexp.MustCompile(`tx_hash:\s*([^\s,;()]+)`)

// Executor 执行规划器给出的工具调用并合成最终回复。
type Executor struct {
	registry  *tool.Registry
	llm       llm.Client
	content   ipfs.Store
	referrals *referral.Service
	observer  Observer
	now       func() time.Time
	log       *slog.Logger
}

// Execute 处理挂起的调用，结束时总会清空 Pending。
func (e *Executor) Execute(ctx context.Context, s *State) {
	inv := s.Pending
	if inv == nil {
		return
	}
	defer func() { s.Pending = nil }()
	s.Tool = inv.Tool

	t, ok := e.registry.Lookup(inv.Tool)
	if !ok {
		err := xerrors.New(xerrors.CodeUnknownTool, fmt.Sprintf("unknown tool %q", inv.Tool), xerrors.WithMetadata("tool", inv.Tool))
		e.log.Warn("工具未注册", slog.String("tool", inv.Tool))
		s.Fail(err, fmt.Sprintf("Error: Unknown tool '%s'", inv.Tool))
		return
	}

	started := time.Now()
	result, err := e.invoke(ctx, s, t, inv)
	if err == nil {
		result, err = e.postProcess(ctx, s, inv, result)
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	e.observer.ObserveTool(inv.Tool, status, time.Since(started))
	if err != nil {
		e.log.Warn("工具调用失败", slog.String("tool", inv.Tool), slog.Any("error", err))
		if xerrors.CodeOf(err) == xerrors.CodeUnknown {
			err = xerrors.Wrap(xerrors.CodeToolFailure, err, err.Error())
		}
		s.Fail(err, fmt.Sprintf("Error calling tool '%s': %s", inv.Tool, xerrors.MessageOf(err)))
		return
	}

	s.Respond(e.synthesize(ctx, s, inv, result))
}

// invoke 调用工具并把 panic 转换为 TOOL_FAILURE。
func (e *Executor) invoke(ctx context.Context, s *State, t tool.Tool, inv *Invocation) (result string, err error) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("工具执行 panic", slog.String("tool", inv.Tool), slog.Any("panic", r), slog.String("stack", string(debug.Stack())))
			err = xerrors.New(xerrors.CodeToolFailure, fmt.Sprintf("%v", r), xerrors.WithMetadata("tool", inv.Tool))
		}
	}()

	if inv.Tool == travel.ToolUpload {
		args, err := t.Validate(inv.Args)
		if err != nil {
			return "", err
		}
		cid, err := e.content.Store(ctx, args.Object("json_payload"))
		if err != nil {
			return "", err
		}
		s.IPFSHash = cid
		return travel.UploadMessage(cid), nil
	}
	return t.Call(ctx, inv.Args)
}

// postProcess 归档推荐结果并为带推荐人的付款写入推荐记录。
// 归档失败只产生告警，不影响回复。
func (e *Executor) postProcess(ctx context.Context, s *State, inv *Invocation, result string) (string, error) {
	switch inv.Tool {
	case travel.ToolRecommendations:
		cid, err := e.content.Store(ctx, map[string]any{
			"type":            "travel-recommendation",
			"city":            inv.Args.String("city"),
			"recommendations": result,
			"timestamp":       e.now().UTC().Format(time.RFC3339),
		})
		if err != nil {
			e.log.Warn("归档旅行推荐失败", slog.Any("error", err))
			s.Warn("recommendations were not archived to IPFS: " + xerrors.MessageOf(err))
			return result, nil
		}
		s.IPFSHash = cid
		return result + "\n\nArchived to IPFS: " + cid, nil

	case travel.ToolPayment:
		referrer := inv.Args.String("referrer_wallet")
		if referrer == "" || e.referrals == nil {
			return result, nil
		}
		m := txHashPattern.FindStringSubmatch(result)
		if m == nil {
			s.Warn("payment result carried no transaction hash; referral not recorded")
			return result, nil
		}
		amount, _ := inv.Args.Float("amount")
		cid, err := e.referrals.Record(ctx, referral.Record{
			ReferrerWallet: referrer,
			RefereeWallet:  inv.Args.String("recipient_address"),
			RequestText:    s.Input,
			TransactionID:  m[1],
			Amount:         amount,
			Token:          inv.Args.String("token_symbol"),
		})
		if err != nil {
			e.log.Warn("写入推荐记录失败", slog.String("tx_hash", m[1]), slog.Any("error", err))
			s.Warn("referral record was not stored: " + xerrors.MessageOf(err))
			return result, nil
		}
		s.IPFSHash = cid
	}
	return result, nil
}

// synthesize 让大模型基于工具结果组织回复，失败时直接返回工具结果。
func (e *Executor) synthesize(ctx context.Context, s *State, inv *Invocation, result string) string {
	resp, err := e.llm.Complete(ctx, llm.Request{Messages: []llm.Message{
		llm.System(SynthesisPrompt),
		llm.User(s.Input),
		{Role: llm.RoleAssistant, ToolCall: &llm.ToolCall{ID: inv.CallID, Name: inv.Tool, Arguments: inv.Args.JSON()}},
		{Role: llm.RoleTool, Content: result, ToolCallID: inv.CallID, Name: inv.Tool},
	}})
	if err != nil {
		e.log.Warn("合成回复失败，返回工具原始结果", slog.Any("error", err))
		s.Warn("response synthesis failed; returning the raw tool result")
		return result
	}
	text := resp.Text()
	if text == "" {
		s.Warn("response synthesis returned no text; returning the raw tool result")
		return result
	}
	return text
}
