package mysql

import (
	"context"
	"encoding/json"
)

// 预订状态。
const (
	BookingPending   = "pending"
	BookingConfirmed = "confirmed"
	BookingCancelled = "cancelled"
)

// 支付状态。
const (
	PaymentPending   = "pending"
	PaymentCompleted = "completed"
	PaymentFailed    = "failed"
)

// 行程状态。
const (
	PlanGenerated = "generated"
	PlanConfirmed = "confirmed"
	PlanCancelled = "cancelled"
)

// BookingRecord 是一次航班预订。
type BookingRecord struct {
	ID              string  `json:"id"`
	FlightID        string  `json:"flight_id"`
	PassengerName   string  `json:"passenger_name"`
	PassengerEmail  string  `json:"passenger_email"`
	PaymentMethod   string  `json:"payment_method"`
	PaymentAmount   float64 `json:"payment_amount"`
	PaymentCurrency string  `json:"payment_currency"`
	Status          string  `json:"status"`
	PaymentStatus   string  `json:"payment_status"`
	PlanID          string  `json:"plan_id,omitempty"`
	TxHash          string  `json:"tx_hash,omitempty"`
	CreatedAt       int64   `json:"created_at"`
	UpdatedAt       int64   `json:"updated_at"`
}

// BookingUpdate 描述状态变更，空字段保持原值。
type BookingUpdate struct {
	Status        string `json:"status,omitempty"`
	PaymentStatus string `json:"payment_status,omitempty"`
	TxHash        string `json:"tx_hash,omitempty"`
}

// PlanRecord 是一份生成的旅行计划。
type PlanRecord struct {
	ID          string          `json:"id"`
	UserWallet  string          `json:"user_wallet,omitempty"`
	Destination string          `json:"destination"`
	Budget      int             `json:"budget"`
	PlanData    json.RawMessage `json:"plan_data"`
	Status      string          `json:"status"`
	IPFSHash    string          `json:"ipfs_hash,omitempty"`
	CreatedAt   int64           `json:"created_at"`
	UpdatedAt   int64           `json:"updated_at"`
}

// ReferralIndexRecord 把内容标识与推荐双方钱包关联起来。
type ReferralIndexRecord struct {
	CID            string `json:"cid"`
	ReferrerWallet string `json:"referrer_wallet"`
	RefereeWallet  string `json:"referee_wallet"`
	CreatedAt      int64  `json:"created_at"`
}

// BookingRepository 抽象预订的持久化。
type BookingRepository interface {
	Create(ctx context.Context, record *BookingRecord) error
	GetByID(ctx context.Context, id string) (*BookingRecord, error)
	UpdateStatus(ctx context.Context, id string, update BookingUpdate) (*BookingRecord, error)
}

// PlanRepository 抽象旅行计划的持久化。
type PlanRepository interface {
	Create(ctx context.Context, record *PlanRecord) error
	GetByID(ctx context.Context, id string) (*PlanRecord, error)
	UpdateStatus(ctx context.Context, id, status string) (*PlanRecord, error)
	ListByWallet(ctx context.Context, wallet string, limit int) ([]PlanRecord, error)
}

// ReferralIndex 抽象推荐记录索引。
type ReferralIndex interface {
	Add(ctx context.Context, record ReferralIndexRecord) error
	ListByWallet(ctx context.Context, wallet string) ([]ReferralIndexRecord, error)
}

// ValidBookingStatus 检查预订状态取值。
func ValidBookingStatus(status string) bool {
	switch status {
	case BookingPending, BookingConfirmed, BookingCancelled:
		return true
	}
	return false
}

// ValidPaymentStatus 检查支付状态取值。
func ValidPaymentStatus(status string) bool {
	switch status {
	case PaymentPending, PaymentCompleted, PaymentFailed:
		return true
	}
	return false
}

// ValidPlanStatus 检查行程状态取值。
func ValidPlanStatus(status string) bool {
	switch status {
	case PlanGenerated, PlanConfirmed, PlanCancelled:
		return true
	}
	return false
}
