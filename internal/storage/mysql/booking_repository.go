package mysql

import (
	"context"
	"database/sql"
	stdErrors "errors"
	"strings"
	"sync"
	"time"

	xerrors "TravelAgent-Chain/internal/errors"
)

// MemoryBookingRepository 在内存中保存预订，并写入 bookings.log。
type MemoryBookingRepository struct {
	mu      sync.RWMutex
	records map[string]BookingRecord
	log     *journal[BookingRecord]
}

// NewMemoryBookingRepository 创建内存预订仓库，dataDir 为空时不落盘。
func NewMemoryBookingRepository(dataDir string) (*MemoryBookingRepository, error) {
	repo := &MemoryBookingRepository{records: make(map[string]BookingRecord)}
	log, err := openJournal(dataDir, "bookings.log", func(r BookingRecord) { repo.records[r.ID] = r })
	if err != nil {
		return nil, err
	}
	repo.log = log
	return repo, nil
}

// Create 保存新预订。
func (m *MemoryBookingRepository) Create(_ context.Context, record *BookingRecord) error {
	if err := validateBooking(record); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[record.ID]; ok {
		return ErrConflict
	}
	stampBooking(record)
	if err := m.log.append(*record); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入预订失败")
	}
	m.records[record.ID] = *record
	return nil
}

// GetByID 返回预订副本。
func (m *MemoryBookingRepository) GetByID(_ context.Context, id string) (*BookingRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	record, ok := m.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &record, nil
}

// UpdateStatus 更新预订与支付状态。
func (m *MemoryBookingRepository) UpdateStatus(_ context.Context, id string, update BookingUpdate) (*BookingRecord, error) {
	if err := validateBookingUpdate(update); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	if update.Status != "" {
		record.Status = update.Status
	}
	if update.PaymentStatus != "" {
		record.PaymentStatus = update.PaymentStatus
	}
	if update.TxHash != "" {
		record.TxHash = update.TxHash
	}
	record.UpdatedAt = time.Now().Unix()
	if err := m.log.append(record); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入预订失败")
	}
	m.records[id] = record
	return &record, nil
}

// SQLBookingRepository 使用 MySQL 保存预订。
type SQLBookingRepository struct {
	db *sql.DB
}

// NewSQLBookingRepository 基于已迁移的连接池创建仓库。
func NewSQLBookingRepository(db *sql.DB) *SQLBookingRepository {
	return &SQLBookingRepository{db: db}
}

const bookingColumns = `id, flight_id, passenger_name, passenger_email, payment_method, payment_amount, payment_currency, status, payment_status, plan_id, tx_hash, created_at, updated_at`

// Create 插入预订。
func (s *SQLBookingRepository) Create(ctx context.Context, record *BookingRecord) error {
	if err := validateBooking(record); err != nil {
		return err
	}
	stampBooking(record)
	_, err := s.db.ExecContext(ctx, `INSERT INTO bookings (`+bookingColumns+`)
    VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ID,
		record.FlightID,
		record.PassengerName,
		record.PassengerEmail,
		record.PaymentMethod,
		record.PaymentAmount,
		record.PaymentCurrency,
		record.Status,
		record.PaymentStatus,
		record.PlanID,
		record.TxHash,
		record.CreatedAt,
		record.UpdatedAt,
	)
	if err != nil {
		return storageError(err, "插入预订失败")
	}
	return nil
}

// GetByID 查询预订。
func (s *SQLBookingRepository) GetByID(ctx context.Context, id string) (*BookingRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = ?`, id)
	var r BookingRecord
	if err := row.Scan(
		&r.ID,
		&r.FlightID,
		&r.PassengerName,
		&r.PassengerEmail,
		&r.PaymentMethod,
		&r.PaymentAmount,
		&r.PaymentCurrency,
		&r.Status,
		&r.PaymentStatus,
		&r.PlanID,
		&r.TxHash,
		&r.CreatedAt,
		&r.UpdatedAt,
	); err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询预订失败")
	}
	return &r, nil
}

// UpdateStatus 更新预订状态后返回最新记录。
func (s *SQLBookingRepository) UpdateStatus(ctx context.Context, id string, update BookingUpdate) (*BookingRecord, error) {
	if err := validateBookingUpdate(update); err != nil {
		return nil, err
	}
	_, err := s.db.ExecContext(ctx, `UPDATE bookings SET status = COALESCE(NULLIF(?, ''), status),
    payment_status = COALESCE(NULLIF(?, ''), payment_status),
    tx_hash = COALESCE(NULLIF(?, ''), tx_hash), updated_at = ? WHERE id = ?`,
		update.Status,
		update.PaymentStatus,
		update.TxHash,
		time.Now().Unix(),
		id,
	)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新预订失败")
	}
	return s.GetByID(ctx, id)
}

func validateBooking(record *BookingRecord) error {
	if record == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "预订不能为空")
	}
	if strings.TrimSpace(record.ID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "预订 ID 不能为空")
	}
	if strings.TrimSpace(record.FlightID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "flight_id 不能为空")
	}
	if record.PaymentMethod != "" && record.PaymentMethod != "crypto" && record.PaymentMethod != "card" {
		return xerrors.New(xerrors.CodeInvalidArgument, "payment_method 只能是 crypto 或 card")
	}
	return nil
}

func validateBookingUpdate(update BookingUpdate) error {
	if update.Status != "" && !ValidBookingStatus(update.Status) {
		return xerrors.New(xerrors.CodeInvalidArgument, "未知的预订状态: "+update.Status)
	}
	if update.PaymentStatus != "" && !ValidPaymentStatus(update.PaymentStatus) {
		return xerrors.New(xerrors.CodeInvalidArgument, "未知的支付状态: "+update.PaymentStatus)
	}
	return nil
}

func stampBooking(record *BookingRecord) {
	now := time.Now().Unix()
	if record.PaymentMethod == "" {
		record.PaymentMethod = "crypto"
	}
	if record.PaymentAmount <= 0 {
		record.PaymentAmount = 0.10
	}
	if record.PaymentCurrency == "" {
		record.PaymentCurrency = "USDC"
	}
	if record.Status == "" {
		record.Status = BookingPending
	}
	if record.PaymentStatus == "" {
		record.PaymentStatus = PaymentPending
	}
	if record.CreatedAt == 0 {
		record.CreatedAt = now
	}
	record.UpdatedAt = now
}
