package mysql

import (
	"context"
	"database/sql"
	"strings"
	"sync"
	"time"

	xerrors "TravelAgent-Chain/internal/errors"
)

// MemoryReferralIndex 在内存中维护推荐索引，并写入 referrals.log。
type MemoryReferralIndex struct {
	mu      sync.RWMutex
	records []ReferralIndexRecord
	seen    map[string]struct{}
	log     *journal[ReferralIndexRecord]
}

// NewMemoryReferralIndex 创建内存索引。
func NewMemoryReferralIndex(dataDir string) (*MemoryReferralIndex, error) {
	idx := &MemoryReferralIndex{seen: make(map[string]struct{})}
	log, err := openJournal(dataDir, "referrals.log", func(r ReferralIndexRecord) { idx.insert(r) })
	if err != nil {
		return nil, err
	}
	idx.log = log
	return idx, nil
}

func (m *MemoryReferralIndex) insert(record ReferralIndexRecord) bool {
	if _, ok := m.seen[record.CID]; ok {
		return false
	}
	m.seen[record.CID] = struct{}{}
	m.records = append(m.records, record)
	return true
}

// Add 追加索引项，重复的 CID 返回 ErrConflict。
func (m *MemoryReferralIndex) Add(_ context.Context, record ReferralIndexRecord) error {
	record, err := normalizeReferral(record)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.seen[record.CID]; ok {
		return ErrConflict
	}
	if err := m.log.append(record); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入推荐索引失败")
	}
	m.insert(record)
	return nil
}

// ListByWallet 返回钱包作为推荐人或被推荐人的索引项，按写入顺序。
func (m *MemoryReferralIndex) ListByWallet(_ context.Context, wallet string) ([]ReferralIndexRecord, error) {
	wallet = strings.ToLower(strings.TrimSpace(wallet))
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []ReferralIndexRecord
	for _, r := range m.records {
		if r.ReferrerWallet == wallet || r.RefereeWallet == wallet {
			out = append(out, r)
		}
	}
	return out, nil
}

// SQLReferralIndex 使用 MySQL 保存推荐索引。
type SQLReferralIndex struct {
	db *sql.DB
}

// NewSQLReferralIndex 创建索引。
func NewSQLReferralIndex(db *sql.DB) *SQLReferralIndex {
	return &SQLReferralIndex{db: db}
}

// Add 插入索引项。
func (s *SQLReferralIndex) Add(ctx context.Context, record ReferralIndexRecord) error {
	record, err := normalizeReferral(record)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `INSERT INTO referral_index (cid, referrer_wallet, referee_wallet, created_at)
    VALUES (?, ?, ?, ?)`, record.CID, record.ReferrerWallet, record.RefereeWallet, record.CreatedAt); err != nil {
		return storageError(err, "插入推荐索引失败")
	}
	return nil
}

// ListByWallet 查询钱包相关的索引项。
func (s *SQLReferralIndex) ListByWallet(ctx context.Context, wallet string) ([]ReferralIndexRecord, error) {
	wallet = strings.ToLower(strings.TrimSpace(wallet))
	rows, err := s.db.QueryContext(ctx, `SELECT cid, referrer_wallet, referee_wallet, created_at FROM referral_index
    WHERE referrer_wallet = ? OR referee_wallet = ? ORDER BY id ASC`, wallet, wallet)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询推荐索引失败")
	}
	defer rows.Close()

	var out []ReferralIndexRecord
	for rows.Next() {
		var r ReferralIndexRecord
		if err := rows.Scan(&r.CID, &r.ReferrerWallet, &r.RefereeWallet, &r.CreatedAt); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析推荐索引失败")
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历推荐索引失败")
	}
	return out, nil
}

func normalizeReferral(record ReferralIndexRecord) (ReferralIndexRecord, error) {
	record.CID = strings.TrimSpace(record.CID)
	if record.CID == "" {
		return record, xerrors.New(xerrors.CodeInvalidArgument, "cid 不能为空")
	}
	record.ReferrerWallet = strings.ToLower(strings.TrimSpace(record.ReferrerWallet))
	record.RefereeWallet = strings.ToLower(strings.TrimSpace(record.RefereeWallet))
	if record.CreatedAt == 0 {
		record.CreatedAt = time.Now().Unix()
	}
	return record, nil
}
