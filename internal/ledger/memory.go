package ledger

import (
	"context"
	"sync"
	"time"
)

var _ Ledger = (*MemoryLedger)(nil)

// MemoryLedger 是进程内账本，一把互斥锁保护全部状态。
type MemoryLedger struct {
	mu      sync.Mutex
	cap     int64
	total   int64
	costs   Costs
	entries []Entry
	now     func() time.Time
}

// NewMemoryLedger 创建内存账本。costs 为空时使用默认单价。
func NewMemoryLedger(cap float64, costs Costs) *MemoryLedger {
	if len(costs) == 0 {
		costs = DefaultCosts()
	}
	clone := make(Costs, len(costs))
	for k, v := range costs {
		clone[k] = v
	}
	return &MemoryLedger{cap: toMicros(cap), costs: clone, now: time.Now}
}

// Reserve 原子地检查余额并记录消费。
func (l *MemoryLedger) Reserve(ctx context.Context, category string, metadata map[string]any) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}
	cost, ok := l.costs.Of(category)
	if !ok {
		return Entry{}, unknownCategory(category)
	}
	amount := toMicros(cost)

	l.mu.Lock()
	defer l.mu.Unlock()
	remaining := l.cap - l.total
	if remaining < amount {
		return Entry{}, &BudgetError{Category: category, Cost: cost, Remaining: fromMicros(remaining)}
	}
	l.total += amount
	entry := Entry{
		Seq:       int64(len(l.entries) + 1),
		Category:  category,
		Amount:    cost,
		Metadata:  metadata,
		Timestamp: l.now().UTC(),
	}
	l.entries = append(l.entries, entry)
	return entry, nil
}

// Remaining 返回剩余额度。
func (l *MemoryLedger) Remaining(ctx context.Context) (float64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return fromMicros(l.cap - l.total), nil
}

// Summary 返回账本汇总。
func (l *MemoryLedger) Summary(ctx context.Context) (Summary, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Summary{
		Cap:       fromMicros(l.cap),
		Total:     fromMicros(l.total),
		Remaining: fromMicros(l.cap - l.total),
		Count:     len(l.entries),
	}, nil
}

// History 返回最近的 limit 条记录，按时间正序；limit<=0 表示全部。
func (l *MemoryLedger) History(ctx context.Context, limit int) ([]Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	start := 0
	if limit > 0 && len(l.entries) > limit {
		start = len(l.entries) - limit
	}
	out := make([]Entry, len(l.entries)-start)
	copy(out, l.entries[start:])
	return out, nil
}

// SetCap 调整消费上限。
func (l *MemoryLedger) SetCap(ctx context.Context, cap float64) error {
	if err := validateCap(cap); err != nil {
		return err
	}
	l.mu.Lock()
	l.cap = toMicros(cap)
	l.mu.Unlock()
	return nil
}
