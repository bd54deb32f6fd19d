package tool

import (
	"context"
	"fmt"

	xerrors "TravelAgent-Chain/internal/errors"
)

// ParamType 是参数的 JSON 类型。
type ParamType string

const (
	TypeString  ParamType = "string"
	TypeNumber  ParamType = "number"
	TypeInteger ParamType = "integer"
	TypeBoolean ParamType = "boolean"
	TypeObject  ParamType = "object"
)

// Param 描述工具的单个参数。
type Param struct {
	Name        string
	Type        ParamType
	Description string
	Required    bool
}

// Func 是工具的调用入口。
type Func func(ctx context.Context, args Args) (string, error)

// Tool 是注册表中的一项。
type Tool struct {
	Name        string
	Description string
	Params      []Param
	// Category 对应账本中的计费类别，为空表示免费。
	Category string
	// Mode 为 live 或 demo，为空视为 live。
	Mode   string
	Invoke Func
}

// Entry 是对外展示的工具摘要。
type Entry struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Call 校验参数后调用工具。
func (t Tool) Call(ctx context.Context, args Args) (string, error) {
	if t.Invoke == nil {
		return "", xerrors.New(xerrors.CodeToolFailure, fmt.Sprintf("tool %s has no implementation", t.Name))
	}
	normalized, err := t.Validate(args)
	if err != nil {
		return "", err
	}
	return t.Invoke(ctx, normalized)
}

// Schema 返回参数的 JSON Schema，用于大模型的函数定义。
func (t Tool) Schema() map[string]any {
	properties := make(map[string]any, len(t.Params))
	required := make([]string, 0, len(t.Params))
	for _, p := range t.Params {
		prop := map[string]any{"type": string(p.Type)}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		properties[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}
	schema := map[string]any{
		"type":                 "object",
		"properties":           properties,
		"additionalProperties": false,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}
