// Package openai implements llm.Client on the OpenAI chat completions API
// with function calling.
package openai

import (
	"context"
	"errors"
	"strings"
	"time"

	goopenai "github.com/sashabaranov/go-openai"

	xerrors "TravelAgent-Chain/internal/errors"
	"TravelAgent-Chain/internal/llm"
)

const (
	defaultModelName = "gpt-4o-mini"
	defaultTimeout   = 60 * time.Second
)

// Config 描述了调用 OpenAI Chat Completions API 所需的信息。
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// Client 通过 go-openai 调用 OpenAI 提供的大模型能力。
type Client struct {
	api     *goopenai.Client
	model   string
	timeout time.Duration
}

// NewClient 根据配置创建 OpenAI 客户端。
func NewClient(cfg Config) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未提供 OpenAI API Key")
	}
	conf := goopenai.DefaultConfig(apiKey)
	if base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"); base != "" {
		conf.BaseURL = base
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModelName
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{api: goopenai.NewClientWithConfig(conf), model: model, timeout: timeout}, nil
}

// Complete 调用 Chat Completions 并将首个工具调用或文本规范化为 llm.Response。
func (c *Client) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.api.CreateChatCompletion(ctx, c.buildRequest(req))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, xerrors.Wrap(xerrors.CodeTimeout, err, "OpenAI 请求超时")
		}
		return nil, xerrors.Wrap(xerrors.CodeLLMFailure, err, "请求 OpenAI 失败")
	}
	if len(resp.Choices) == 0 {
		return nil, xerrors.New(xerrors.CodeLLMFailure, "OpenAI 响应中没有有效的 choices")
	}

	msg := resp.Choices[0].Message
	out := &llm.Response{Content: strings.TrimSpace(msg.Content)}
	for _, call := range msg.ToolCalls {
		if call.Function.Name == "" {
			continue
		}
		out.ToolCall = &llm.ToolCall{ID: call.ID, Name: call.Function.Name, Arguments: call.Function.Arguments}
		break
	}
	if out.ToolCall == nil && msg.FunctionCall != nil && msg.FunctionCall.Name != "" {
		out.ToolCall = &llm.ToolCall{Name: msg.FunctionCall.Name, Arguments: msg.FunctionCall.Arguments}
	}
	return out, nil
}

// Mode 标识实现类型。
func (c *Client) Mode() string { return "live" }

func (c *Client) buildRequest(req llm.Request) goopenai.ChatCompletionRequest {
	messages := make([]goopenai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		msg := goopenai.ChatCompletionMessage{
			Role:       string(m.Role),
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
			Name:       m.Name,
		}
		if m.ToolCall != nil {
			msg.ToolCalls = []goopenai.ToolCall{{
				ID:   m.ToolCall.ID,
				Type: goopenai.ToolTypeFunction,
				Function: goopenai.FunctionCall{
					Name:      m.ToolCall.Name,
					Arguments: m.ToolCall.Arguments,
				},
			}}
		}
		messages = append(messages, msg)
	}

	out := goopenai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: req.Temperature,
	}
	for _, spec := range req.Tools {
		out.Tools = append(out.Tools, goopenai.Tool{
			Type: goopenai.ToolTypeFunction,
			Function: &goopenai.FunctionDefinition{
				Name:        spec.Name,
				Description: spec.Description,
				Parameters:  spec.Parameters,
			},
		})
	}
	return out
}
