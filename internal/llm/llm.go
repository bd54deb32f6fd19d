package llm

import (
	"context"
	"strings"
)

// Role 标识消息的发送方。
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message 是对话中的一条消息。
type Message struct {
	Role    Role
	Content string
	// ToolCall 仅在 assistant 消息请求调用工具时出现。
	ToolCall *ToolCall
	// ToolCallID 将 tool 消息关联到之前的调用。
	ToolCallID string
	Name       string
}

// ToolCall 是模型给出的结构化工具调用，Arguments 为原始 JSON 文本。
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// ToolSpec 是提供给模型的函数定义。
type ToolSpec struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// Request 描述一次补全请求。
type Request struct {
	Messages    []Message
	Tools       []ToolSpec
	Temperature float32
}

// Response 是模型的输出，ToolCall 与 Content 至多有一个有意义。
type Response struct {
	Content  string
	ToolCall *ToolCall
}

// Client 定义了调用大模型的统一接口。
type Client interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}

// System 构造系统消息。
func System(content string) Message { return Message{Role: RoleSystem, Content: content} }

// User 构造用户消息。
func User(content string) Message { return Message{Role: RoleUser, Content: content} }

// LastOf 返回最后一条指定角色的消息。
func LastOf(msgs []Message, role Role) (Message, bool) {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == role {
			return msgs[i], true
		}
	}
	return Message{}, false
}

// Text 返回去除首尾空白的内容。
func (r *Response) Text() string {
	if r == nil {
		return ""
	}
	return strings.TrimSpace(r.Content)
}
