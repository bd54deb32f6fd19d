package task

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"TravelAgent-Chain/internal/agent"
	xerrors "TravelAgent-Chain/internal/errors"
)

// MemoryStore 以内存方式保存运行状态，用于演示模式与测试。
type MemoryStore struct {
	mu   sync.RWMutex
	runs map[string]*Run
	now  func() time.Time
}

// NewMemoryStore 创建 MemoryStore。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{runs: make(map[string]*Run), now: time.Now}
}

// Create 实现 Store 接口。
func (m *MemoryStore) Create(_ context.Context, run *Run) error {
	if run == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "run 不能为空")
	}
	if strings.TrimSpace(run.ID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "运行 ID 不能为空")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[run.ID]; ok {
		return ErrRunConflict
	}
	now := m.now().Unix()
	if run.CreatedAt == 0 {
		run.CreatedAt = now
	}
	run.UpdatedAt = now
	m.runs[run.ID] = cloneRun(run)
	return nil
}

// Get 返回运行的副本。
func (m *MemoryStore) Get(_ context.Context, id string) (*Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	run, ok := m.runs[id]
	if !ok {
		return nil, ErrRunNotFound
	}
	return cloneRun(run), nil
}

// Claim 将运行状态更新为执行中。
func (m *MemoryStore) Claim(_ context.Context, id string) (*Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return nil, ErrRunNotFound
	}
	switch run.Status {
	case StatusSucceeded:
		return cloneRun(run), ErrRunCompleted
	case StatusRunning:
		return cloneRun(run), ErrRunConflict
	}
	if run.Attempts >= run.MaxRetries {
		return cloneRun(run), ErrRunExhausted
	}
	run.Status = StatusRunning
	run.Attempts++
	run.LastError = ""
	run.ErrorCode = ""
	run.UpdatedAt = m.now().Unix()
	return cloneRun(run), nil
}

// MarkSucceeded 记录成功结果。
func (m *MemoryStore) MarkSucceeded(_ context.Context, id string, result agent.Outcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return ErrRunNotFound
	}
	run.Status = StatusSucceeded
	run.Result = &result
	run.LastError = ""
	run.ErrorCode = ""
	run.UpdatedAt = m.now().Unix()
	return nil
}

// MarkFailed 标记运行失败，terminal 时耗尽剩余重试次数。
func (m *MemoryStore) MarkFailed(_ context.Context, id string, code xerrors.Code, lastError string, result *agent.Outcome, terminal bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return ErrRunNotFound
	}
	run.Status = StatusFailed
	run.LastError = lastError
	run.ErrorCode = string(code)
	if result != nil {
		copied := *result
		run.Result = &copied
	}
	if terminal && run.Attempts < run.MaxRetries {
		run.Attempts = run.MaxRetries
	}
	run.UpdatedAt = m.now().Unix()
	return nil
}

// List 返回符合过滤条件的运行。
func (m *MemoryStore) List(_ context.Context, opts ListOptions) ([]*Run, error) {
	opts.applyDefaults()
	m.mu.RLock()
	results := make([]*Run, 0, len(m.runs))
	for _, run := range m.runs {
		if opts.matches(run) {
			results = append(results, cloneRun(run))
		}
	}
	m.mu.RUnlock()

	sort.Slice(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if opts.Order == SortByUpdatedAsc {
			a, b = b, a
		}
		if a.UpdatedAt != b.UpdatedAt {
			return a.UpdatedAt > b.UpdatedAt
		}
		if a.CreatedAt != b.CreatedAt {
			return a.CreatedAt > b.CreatedAt
		}
		return a.ID > b.ID
	})

	if opts.Offset >= len(results) {
		return []*Run{}, nil
	}
	results = results[opts.Offset:]
	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results, nil
}

// Stats 统计符合过滤条件的运行数量与更新时间范围。
func (m *MemoryStore) Stats(_ context.Context, opts ListOptions) (RunStats, error) {
	opts.applyDefaults()
	m.mu.RLock()
	defer m.mu.RUnlock()
	var stats RunStats
	for _, run := range m.runs {
		if opts.matches(run) {
			stats.add(run)
		}
	}
	return stats, nil
}

// Close 对内存存储无需操作。
func (m *MemoryStore) Close() error {
	return nil
}

var _ Store = (*MemoryStore)(nil)
