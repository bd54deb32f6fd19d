// Package ledger tracks per-operation spend against a global cap.
//
// Reserve is the only way to spend: it checks the remaining cap and appends
// the entry in one atomic step, so concurrent requests can never jointly
// overshoot the cap. Amounts are accounted in micro-dollars internally to keep
// long sums exact.
package ledger

import (
	"context"
	"fmt"
	"math"
	"time"

	xerrors "TravelAgent-Chain/internal/errors"
)

// 计费类别。
const (
	CategoryWeather = "weather"
	CategoryTravel  = "travel"
	CategoryPayment = "payment"
	CategoryBalance = "balance"
)

// DefaultCap 是默认的消费上限（美元）。
const DefaultCap = 100.0

// DefaultCosts 返回各类别的默认单价。
func DefaultCosts() Costs {
	return Costs{CategoryWeather: 0.01, CategoryTravel: 0.05, CategoryPayment: 0.10, CategoryBalance: 0.01}
}

// Costs 是类别到单价的映射。
type Costs map[string]float64

// Of 返回类别单价。
func (c Costs) Of(category string) (float64, bool) {
	v, ok := c[category]
	return v, ok
}

// Entry 是账本中的一条记录。
type Entry struct {
	Seq       int64          `json:"seq"`
	Category  string         `json:"tool"`
	Amount    float64        `json:"amount"`
	Metadata  map[string]any `json:"meta,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Summary 汇总上限与已用额度。
type Summary struct {
	Cap       float64 `json:"spend_cap"`
	Total     float64 `json:"total_spend"`
	Remaining float64 `json:"remaining_cap"`
	Count     int     `json:"transaction_count"`
}

// Ledger 是消费账本的统一接口。
type Ledger interface {
	// Reserve 在额度足够时记录一次消费，否则返回 *BudgetError。
	Reserve(ctx context.Context, category string, metadata map[string]any) (Entry, error)
	Remaining(ctx context.Context) (float64, error)
	Summary(ctx context.Context) (Summary, error)
	History(ctx context.Context, limit int) ([]Entry, error)
	SetCap(ctx context.Context, cap float64) error
}

// BudgetError 表示额度不足。
type BudgetError struct {
	Category  string
	Cost      float64
	Remaining float64
}

func (e *BudgetError) Error() string {
	return fmt.Sprintf("spend cap exceeded: %s costs $%.2f, remaining $%.2f", e.Category, e.Cost, e.Remaining)
}

// Is 使 errors.Is 可以按 BUDGET_EXCEEDED 错误码匹配。
func (e *BudgetError) Is(target error) bool {
	t, ok := target.(*xerrors.Error)
	return ok && t.Code() == xerrors.CodeBudgetExceeded
}

// ErrBudgetExceeded 用于 errors.Is 判断额度不足。
var ErrBudgetExceeded = xerrors.New(xerrors.CodeBudgetExceeded, "")

func toMicros(v float64) int64 {
	return int64(math.Round(v * 1e6))
}

func fromMicros(v int64) float64 {
	return float64(v) / 1e6
}

func validateCap(cap float64) error {
	if math.IsNaN(cap) || math.IsInf(cap, 0) || cap < 0 {
		return xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("invalid spend cap %v", cap))
	}
	return nil
}

func unknownCategory(category string) error {
	return xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("unknown cost category %q", category))
}
