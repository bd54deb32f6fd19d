package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	stdErrors "errors"
	"sort"
	"strings"
	"sync"
	"time"

	xerrors "TravelAgent-Chain/internal/errors"
)

// MemoryPlanRepository 在内存中保存旅行计划，并写入 plans.log。
type MemoryPlanRepository struct {
	mu      sync.RWMutex
	records map[string]PlanRecord
	log     *journal[PlanRecord]
}

// NewMemoryPlanRepository 创建内存行程仓库。
func NewMemoryPlanRepository(dataDir string) (*MemoryPlanRepository, error) {
	repo := &MemoryPlanRepository{records: make(map[string]PlanRecord)}
	log, err := openJournal(dataDir, "plans.log", func(r PlanRecord) { repo.records[r.ID] = r })
	if err != nil {
		return nil, err
	}
	repo.log = log
	return repo, nil
}

// Create 保存新计划。
func (m *MemoryPlanRepository) Create(_ context.Context, record *PlanRecord) error {
	if err := validatePlan(record); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[record.ID]; ok {
		return ErrConflict
	}
	stampPlan(record)
	if err := m.log.append(*record); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入行程失败")
	}
	m.records[record.ID] = clonePlan(*record)
	return nil
}

// GetByID 返回计划副本。
func (m *MemoryPlanRepository) GetByID(_ context.Context, id string) (*PlanRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	record, ok := m.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := clonePlan(record)
	return &clone, nil
}

// UpdateStatus 修改计划状态。
func (m *MemoryPlanRepository) UpdateStatus(_ context.Context, id, status string) (*PlanRecord, error) {
	if !ValidPlanStatus(status) {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "未知的行程状态: "+status)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	record.Status = status
	record.UpdatedAt = time.Now().Unix()
	if err := m.log.append(record); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入行程失败")
	}
	m.records[id] = record
	clone := clonePlan(record)
	return &clone, nil
}

// ListByWallet 按创建时间倒序返回钱包的计划。
func (m *MemoryPlanRepository) ListByWallet(_ context.Context, wallet string, limit int) ([]PlanRecord, error) {
	wallet = strings.ToLower(strings.TrimSpace(wallet))
	m.mu.RLock()
	out := make([]PlanRecord, 0)
	for _, record := range m.records {
		if strings.ToLower(record.UserWallet) == wallet {
			out = append(out, clonePlan(record))
		}
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt == out[j].CreatedAt {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt > out[j].CreatedAt
	})
	limit = normalizeLimit(limit)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// SQLPlanRepository 使用 MySQL 保存旅行计划。
type SQLPlanRepository struct {
	db *sql.DB
}

// NewSQLPlanRepository 创建仓库。
func NewSQLPlanRepository(db *sql.DB) *SQLPlanRepository {
	return &SQLPlanRepository{db: db}
}

const planColumns = `id, user_wallet, destination, budget, plan_data, status, ipfs_hash, created_at, updated_at`

// Create 插入计划。
func (s *SQLPlanRepository) Create(ctx context.Context, record *PlanRecord) error {
	if err := validatePlan(record); err != nil {
		return err
	}
	stampPlan(record)
	_, err := s.db.ExecContext(ctx, `INSERT INTO travel_plans (`+planColumns+`)
    VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ID,
		strings.ToLower(record.UserWallet),
		record.Destination,
		record.Budget,
		string(record.PlanData),
		record.Status,
		record.IPFSHash,
		record.CreatedAt,
		record.UpdatedAt,
	)
	if err != nil {
		return storageError(err, "插入行程失败")
	}
	return nil
}

// GetByID 查询计划。
func (s *SQLPlanRepository) GetByID(ctx context.Context, id string) (*PlanRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+planColumns+` FROM travel_plans WHERE id = ?`, id)
	record, err := scanPlan(row)
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询行程失败")
	}
	return record, nil
}

// UpdateStatus 修改计划状态后返回最新记录。
func (s *SQLPlanRepository) UpdateStatus(ctx context.Context, id, status string) (*PlanRecord, error) {
	if !ValidPlanStatus(status) {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "未知的行程状态: "+status)
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE travel_plans SET status = ?, updated_at = ? WHERE id = ?`,
		status, time.Now().Unix(), id); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新行程失败")
	}
	return s.GetByID(ctx, id)
}

// ListByWallet 查询钱包的最近计划。
func (s *SQLPlanRepository) ListByWallet(ctx context.Context, wallet string, limit int) ([]PlanRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+planColumns+` FROM travel_plans
    WHERE user_wallet = ? ORDER BY created_at DESC, id DESC LIMIT ?`,
		strings.ToLower(strings.TrimSpace(wallet)), normalizeLimit(limit))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询行程列表失败")
	}
	defer rows.Close()

	var out []PlanRecord
	for rows.Next() {
		record, err := scanPlan(rows)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析行程失败")
		}
		out = append(out, *record)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历行程失败")
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPlan(row scanner) (*PlanRecord, error) {
	var r PlanRecord
	var data string
	if err := row.Scan(&r.ID, &r.UserWallet, &r.Destination, &r.Budget, &data, &r.Status, &r.IPFSHash, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	r.PlanData = json.RawMessage(data)
	return &r, nil
}

func validatePlan(record *PlanRecord) error {
	if record == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "行程不能为空")
	}
	if strings.TrimSpace(record.ID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "行程 ID 不能为空")
	}
	if strings.TrimSpace(record.Destination) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "destination 不能为空")
	}
	if record.Budget < 0 {
		return xerrors.New(xerrors.CodeInvalidArgument, "budget 不能为负数")
	}
	if len(record.PlanData) > 0 && !json.Valid(record.PlanData) {
		return xerrors.New(xerrors.CodeInvalidArgument, "plan_data 不是合法 JSON")
	}
	return nil
}

func stampPlan(record *PlanRecord) {
	now := time.Now().Unix()
	if len(record.PlanData) == 0 {
		record.PlanData = json.RawMessage(`{}`)
	}
	if record.Status == "" {
		record.Status = PlanGenerated
	}
	if record.CreatedAt == 0 {
		record.CreatedAt = now
	}
	record.UpdatedAt = now
}

func clonePlan(record PlanRecord) PlanRecord {
	if record.PlanData != nil {
		record.PlanData = append(json.RawMessage(nil), record.PlanData...)
	}
	return record
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return 20
	}
	if limit > 100 {
		return 100
	}
	return limit
}
