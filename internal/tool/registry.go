package tool

import (
	"fmt"
	"strings"
	"sync"

	xerrors "TravelAgent-Chain/internal/errors"
	"TravelAgent-Chain/internal/llm"
)

// ErrRegistryFrozen 表示注册表冻结后仍尝试注册。
var ErrRegistryFrozen = xerrors.New(xerrors.CodeConflict, "tool registry is frozen")

// DuplicateToolError 表示工具名称重复。
type DuplicateToolError struct {
	Name string
}

func (e *DuplicateToolError) Error() string {
	return fmt.Sprintf("tool %q already registered", e.Name)
}

// Is 使 errors.Is 可以按 DUPLICATE_TOOL 错误码匹配。
func (e *DuplicateToolError) Is(target error) bool {
	t, ok := target.(*xerrors.Error)
	return ok && t.Code() == xerrors.CodeDuplicateTool
}

// Registry 保存工具名称到实现的映射，并保留注册顺序。
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]Tool
	order  []string
	frozen bool
}

// NewRegistry 创建空注册表。
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register 注册一个工具。
func (r *Registry) Register(t Tool) error {
	name := strings.TrimSpace(t.Name)
	if name == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "tool name is required")
	}
	if t.Invoke == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("tool %s has no implementation", name))
	}
	seen := make(map[string]struct{}, len(t.Params))
	for _, p := range t.Params {
		if _, dup := seen[p.Name]; dup || p.Name == "" {
			return xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("tool %s has invalid parameter %q", name, p.Name))
		}
		seen[p.Name] = struct{}{}
	}
	t.Name = name

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return ErrRegistryFrozen
	}
	if _, exists := r.tools[name]; exists {
		return &DuplicateToolError{Name: name}
	}
	r.tools[name] = t
	r.order = append(r.order, name)
	return nil
}

// MustRegister 在启动阶段注册工具，失败时 panic。
func (r *Registry) MustRegister(tools ...Tool) {
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			panic(err)
		}
	}
}

// Freeze 使注册表只读。
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

// Lookup 按名称查找工具。
func (r *Registry) Lookup(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// List 按注册顺序返回工具名称与描述。
func (r *Registry) List() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entry, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, Entry{Name: name, Description: r.tools[name].Description})
	}
	return out
}

// Tools 按注册顺序返回全部工具。
func (r *Registry) Tools() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name])
	}
	return out
}

// Len 返回已注册的工具数量。
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Specs 返回供大模型使用的函数定义。
func (r *Registry) Specs() []llm.ToolSpec {
	tools := r.Tools()
	out := make([]llm.ToolSpec, 0, len(tools))
	for _, t := range tools {
		out = append(out, llm.ToolSpec{Name: t.Name, Description: t.Description, Parameters: t.Schema()})
	}
	return out
}

// Modes 返回每个工具当前的运行模式。
func (r *Registry) Modes() map[string]string {
	tools := r.Tools()
	out := make(map[string]string, len(tools))
	for _, t := range tools {
		mode := t.Mode
		if mode == "" {
			mode = "live"
		}
		out[t.Name] = mode
	}
	return out
}
