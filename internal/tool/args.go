package tool

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	xerrors "TravelAgent-Chain/internal/errors"
)

// Args 是一次调用的参数集合。
type Args map[string]any

// ParseArguments 将模型给出的参数解析为单个 JSON 对象。
// 数字保持为 json.Number，尾随内容视为错误。
func ParseArguments(raw string) (Args, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Args{}, nil
	}
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()

	var args Args
	if err := dec.Decode(&args); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "tool arguments are not a JSON object")
	}
	if args == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "tool arguments are not a JSON object")
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "unexpected data after tool arguments")
	}
	return args, nil
}

// Validate 按参数定义检查并规范化参数：
// 未声明的键被拒绝，必填键必须存在，数字统一为 float64，整数为 int64。
func (t Tool) Validate(args Args) (Args, error) {
	declared := make(map[string]Param, len(t.Params))
	for _, p := range t.Params {
		declared[p.Name] = p
	}
	out := make(Args, len(args))
	for key, value := range args {
		p, ok := declared[key]
		if !ok {
			return nil, invalid(t.Name, key, "unknown parameter")
		}
		if value == nil {
			continue
		}
		normalized, err := coerce(p.Type, value)
		if err != nil {
			return nil, invalid(t.Name, key, err.Error())
		}
		out[key] = normalized
	}
	for _, p := range t.Params {
		if !p.Required {
			continue
		}
		v, ok := out[p.Name]
		if !ok {
			return nil, invalid(t.Name, p.Name, "missing required parameter")
		}
		if s, isString := v.(string); isString && strings.TrimSpace(s) == "" {
			return nil, invalid(t.Name, p.Name, "missing required parameter")
		}
	}
	return out, nil
}

func invalid(tool, key, reason string) error {
	return xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("%s: %s %q", tool, reason, key),
		xerrors.WithMetadata("tool", tool), xerrors.WithMetadata("parameter", key))
}

func coerce(kind ParamType, value any) (any, error) {
	switch kind {
	case TypeString:
		switch v := value.(type) {
		case string:
			return v, nil
		case json.Number:
			return v.String(), nil
		}
	case TypeNumber, TypeInteger:
		f, ok := toFloat(value)
		if !ok {
			break
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, errors.New("number out of range")
		}
		if kind == TypeInteger {
			if f != math.Trunc(f) {
				return nil, errors.New("expected integer")
			}
			return int64(f), nil
		}
		return f, nil
	case TypeBoolean:
		switch v := value.(type) {
		case bool:
			return v, nil
		case string:
			if b, err := strconv.ParseBool(v); err == nil {
				return b, nil
			}
		}
	case TypeObject:
		if m, ok := value.(map[string]any); ok {
			return m, nil
		}
		if m, ok := value.(Args); ok {
			return map[string]any(m), nil
		}
	default:
		return value, nil
	}
	return nil, fmt.Errorf("expected %s", kind)
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	}
	return 0, false
}

// String 返回字符串参数，不存在时返回空串。
func (a Args) String(key string) string {
	switch v := a[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case json.Number:
		return v.String()
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// Float 返回数值参数。
func (a Args) Float(key string) (float64, bool) {
	if v, ok := a[key]; ok {
		return toFloat(v)
	}
	return 0, false
}

// Int 返回整数参数，不存在或无法解析时返回 def。
func (a Args) Int(key string, def int) int {
	switch v := a[key].(type) {
	case int64:
		return int(v)
	case int:
		return v
	}
	if f, ok := a.Float(key); ok {
		return int(f)
	}
	return def
}

// Object 返回对象参数。
func (a Args) Object(key string) map[string]any {
	switch v := a[key].(type) {
	case map[string]any:
		return v
	case Args:
		return v
	}
	return nil
}

// JSON 返回参数的规范 JSON 表示，用于日志和账本元数据。
func (a Args) JSON() string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(map[string]any(a)); err != nil {
		return "{}"
	}
	return strings.TrimSpace(buf.String())
}
