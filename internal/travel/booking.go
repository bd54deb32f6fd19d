package travel

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"TravelAgent-Chain/internal/storage/mysql"
)

// BookingFee 是每次航班预订收取的 USDC 手续费。
const BookingFee = 0.10

// NewBookingID 生成形如 TRV-1A2B3C4D 的预订号。
func NewBookingID() string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "TRV-" + strings.ToUpper(raw[:8])
}

// BookingRequest 是创建预订所需的信息。
type BookingRequest struct {
	FlightID       string `json:"flight_id"`
	PassengerName  string `json:"passenger_name"`
	PassengerEmail string `json:"passenger_email"`
	PaymentMethod  string `json:"payment_method"`
	PlanID         string `json:"plan_id,omitempty"`
}

// Desk 管理航班预订的创建、查询与确认。
type Desk struct {
	repo mysql.BookingRepository
}

// NewDesk 创建预订服务。
func NewDesk(repo mysql.BookingRepository) *Desk {
	return &Desk{repo: repo}
}

// Create 生成预订号并保存预订。
func (d *Desk) Create(ctx context.Context, req BookingRequest) (*mysql.BookingRecord, error) {
	method := strings.ToLower(strings.TrimSpace(req.PaymentMethod))
	if method == "" {
		method = "crypto"
	}
	record := &mysql.BookingRecord{
		ID:              NewBookingID(),
		FlightID:        strings.TrimSpace(req.FlightID),
		PassengerName:   strings.TrimSpace(req.PassengerName),
		PassengerEmail:  strings.TrimSpace(req.PassengerEmail),
		PaymentMethod:   method,
		PaymentAmount:   BookingFee,
		PaymentCurrency: "USDC",
		PlanID:          strings.TrimSpace(req.PlanID),
	}
	if err := d.repo.Create(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}

// Get 按预订号查询。
func (d *Desk) Get(ctx context.Context, id string) (*mysql.BookingRecord, error) {
	return d.repo.GetByID(ctx, strings.TrimSpace(id))
}

// Update 修改预订状态。
func (d *Desk) Update(ctx context.Context, id string, update mysql.BookingUpdate) (*mysql.BookingRecord, error) {
	return d.repo.UpdateStatus(ctx, strings.TrimSpace(id), update)
}

// Book 是 book_flight 工具的实现，返回 JSON 文本。
func (d *Desk) Book(ctx context.Context, req BookingRequest) (string, error) {
	record, err := d.Create(ctx, req)
	if err != nil {
		return "", err
	}
	if record.PaymentMethod == "crypto" {
		return toJSON(map[string]any{
			"status":           "success",
			"booking_id":       record.ID,
			"message":          fmt.Sprintf("Booking created for %s. Please complete payment of 0.10 USDC to confirm.", record.PassengerName),
			"payment_required": true,
			"payment_amount":   "0.10",
			"payment_currency": "USDC",
			"next_step":        "Complete payment via x402 to confirm booking",
		}), nil
	}
	return toJSON(map[string]any{
		"status":           "success",
		"booking_id":       record.ID,
		"message":          fmt.Sprintf("Booking created for %s. Traditional payment processing not yet implemented.", record.PassengerName),
		"payment_required": true,
		"next_step":        "Contact support for traditional payment options",
	}), nil
}

// StatusText 是 get_booking_status 工具的实现。
func (d *Desk) StatusText(ctx context.Context, id string) (string, error) {
	record, err := d.Get(ctx, id)
	if errors.Is(err, mysql.ErrNotFound) {
		return toJSON(map[string]any{
			"error":   "Booking not found",
			"message": "Please provide a valid booking reference starting with TRV-",
		}), nil
	}
	if err != nil {
		return "", err
	}
	return toJSON(map[string]any{
		"booking_id":       record.ID,
		"status":           record.Status,
		"payment_status":   record.PaymentStatus,
		"passenger_name":   record.PassengerName,
		"passenger_email":  record.PassengerEmail,
		"payment_amount":   record.PaymentAmount,
		"payment_currency": record.PaymentCurrency,
		"created_at":       time.Unix(record.CreatedAt, 0).UTC().Format(time.RFC3339),
		"message":          "Your booking details retrieved successfully.",
	}), nil
}

// ConfirmText 是 confirm_booking_payment 工具的实现。
func (d *Desk) ConfirmText(ctx context.Context, id, txHash string) (string, error) {
	record, err := d.Update(ctx, id, mysql.BookingUpdate{
		Status:        mysql.BookingConfirmed,
		PaymentStatus: mysql.PaymentCompleted,
		TxHash:        strings.TrimSpace(txHash),
	})
	if errors.Is(err, mysql.ErrNotFound) {
		return toJSON(map[string]any{
			"error":   "Booking not found",
			"message": "Please provide a valid booking reference",
		}), nil
	}
	if err != nil {
		return "", err
	}
	var hash any
	if record.TxHash != "" {
		hash = record.TxHash
	}
	return toJSON(map[string]any{
		"status":           "success",
		"booking_id":       record.ID,
		"message":          "Payment confirmed! Your booking is now active.",
		"booking_status":   record.Status,
		"payment_status":   record.PaymentStatus,
		"transaction_hash": hash,
	}), nil
}
