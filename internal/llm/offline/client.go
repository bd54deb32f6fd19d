// Package offline provides a deterministic language model stand-in. It never
// issues tool calls and never touches the network, so the pipeline behaves
// identically across runs when no API key is configured.
package offline

import (
	"context"
	"strings"

	"TravelAgent-Chain/internal/llm"
)

// DefaultReply 是离线模式下对无法路由的输入给出的答复。
const DefaultReply = "I'm your travel assistant running in demo mode. " +
	"I can check the weather, search flights, hotels and activities, look up airports, " +
	"suggest things to do in a city, send crypto payments, check your wallet balance and look up referrals. " +
	"Try asking \"What is the weather in Paris?\""

// Client 是离线大模型实现。
type Client struct{}

// New 创建离线客户端。
func New() *Client { return &Client{} }

// Complete 在有工具结果时原样返回结果，否则返回固定提示。
func (c *Client) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if msg, ok := llm.LastOf(req.Messages, llm.RoleTool); ok {
		return &llm.Response{Content: strings.TrimSpace(msg.Content)}, nil
	}
	return &llm.Response{Content: DefaultReply}, nil
}

// Mode 标识实现类型。
func (c *Client) Mode() string { return "demo" }
