// Package referral records referral payouts on content storage and looks them
// up again by wallet.
//
// A record is pinned first and indexed second. Lookup merges the relational
// index with the statically configured hashes and re-checks every fetched
// document, so stale or foreign hashes never leak into a wallet's results.
package referral

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	xerrors "TravelAgent-Chain/internal/errors"
	"TravelAgent-Chain/internal/storage/ipfs"
	"TravelAgent-Chain/internal/storage/mysql"
	"TravelAgent-Chain/pkg/logger"
)

// RecordType 是推荐记录的 type 字段。
const RecordType = "referral"

// Record 是写入内容存储的推荐记录。
type Record struct {
	ReferrerWallet string  `json:"referrer_wallet"`
	RefereeWallet  string  `json:"referee_wallet"`
	RequestText    string  `json:"request_text"`
	TransactionID  string  `json:"transaction_id"`
	Amount         float64 `json:"amount"`
	Token          string  `json:"token"`
	Timestamp      string  `json:"timestamp"`
	Type           string  `json:"type"`
}

// Service 负责推荐记录的写入与检索。
type Service struct {
	store ipfs.Store
	index mysql.ReferralIndex
	known []string
	now   func() time.Time
	log   *slog.Logger
}

// NewService 创建推荐服务，known 为额外扫描的内容标识。
func NewService(store ipfs.Store, index mysql.ReferralIndex, known []string) *Service {
	return &Service{
		store: store,
		index: index,
		known: append([]string(nil), known...),
		now:   time.Now,
		log:   logger.Named("referral"),
	}
}

// Record 固定推荐记录并写入索引，返回内容标识。
// 索引写入失败只记录日志，记录本身已经可以通过内容标识取回。
func (s *Service) Record(ctx context.Context, rec Record) (string, error) {
	rec.ReferrerWallet = strings.TrimSpace(rec.ReferrerWallet)
	if rec.ReferrerWallet == "" {
		return "", xerrors.New(xerrors.CodeInvalidArgument, "referrer_wallet 不能为空")
	}
	rec.Type = RecordType
	if rec.Timestamp == "" {
		rec.Timestamp = s.now().UTC().Format(time.RFC3339)
	}

	payload, err := toPayload(rec)
	if err != nil {
		return "", err
	}
	cid, err := s.store.Store(ctx, payload)
	if err != nil {
		return "", err
	}

	if s.index != nil {
		entry := mysql.ReferralIndexRecord{CID: cid, ReferrerWallet: rec.ReferrerWallet, RefereeWallet: rec.RefereeWallet}
		if err := s.index.Add(ctx, entry); err != nil && xerrors.CodeOf(err) != xerrors.CodeConflict {
			s.log.Warn("写入推荐索引失败", slog.String("cid", cid), slog.Any("error", err))
		}
	}

	logger.AuditEvent(ctx, "referral.recorded",
		slog.String("cid", cid),
		slog.String("referrer_wallet", rec.ReferrerWallet),
		slog.String("referee_wallet", rec.RefereeWallet),
		slog.String("transaction_id", rec.TransactionID),
		slog.Float64("amount", rec.Amount),
		slog.String("token", rec.Token),
	)
	return cid, nil
}

// FindByWallet 返回钱包作为推荐人或被推荐人的全部记录，每条附带 ipfs_hash。
// 单个内容标识读取失败会被跳过。
func (s *Service) FindByWallet(ctx context.Context, wallet string) ([]map[string]any, error) {
	wallet = strings.TrimSpace(wallet)
	if wallet == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "wallet 不能为空")
	}

	var hashes []string
	seen := make(map[string]struct{})
	add := func(h string) {
		if h == "" {
			return
		}
		if _, ok := seen[h]; ok {
			return
		}
		seen[h] = struct{}{}
		hashes = append(hashes, h)
	}
	if s.index != nil {
		entries, err := s.index.ListByWallet(ctx, wallet)
		if err != nil {
			s.log.Warn("查询推荐索引失败", slog.String("wallet", wallet), slog.Any("error", err))
		}
		for _, e := range entries {
			add(e.CID)
		}
	}
	for _, h := range s.known {
		add(h)
	}

	results := make([]map[string]any, 0)
	for _, h := range hashes {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		doc, err := s.store.Fetch(ctx, h)
		if err != nil {
			s.log.Debug("读取推荐记录失败", slog.String("cid", h), slog.Any("error", err))
			continue
		}
		if !matches(doc, wallet) {
			continue
		}
		out := make(map[string]any, len(doc)+1)
		out["ipfs_hash"] = h
		for k, v := range doc {
			out[k] = v
		}
		results = append(results, out)
	}
	return results, nil
}

func matches(doc map[string]any, wallet string) bool {
	for _, key := range []string{"referrer_wallet", "referee_wallet"} {
		if v, ok := doc[key].(string); ok && strings.EqualFold(v, wallet) {
			return true
		}
	}
	return false
}

func toPayload(rec Record) (map[string]any, error) {
	raw, err := json.Marshal(rec)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "推荐记录无法序列化")
	}
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "推荐记录无法序列化")
	}
	return payload, nil
}
