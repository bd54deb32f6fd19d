package travel

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	xerrors "TravelAgent-Chain/internal/errors"
	"TravelAgent-Chain/internal/storage/ipfs"
	"TravelAgent-Chain/internal/storage/mysql"
	"TravelAgent-Chain/pkg/logger"
)

// PlanRecordType 标记归档到 IPFS 的行程文档。
const PlanRecordType = "travel-plan"

// PlanRequest 是创建旅行计划的输入。
type PlanRequest struct {
	UserWallet  string          `json:"user_wallet,omitempty"`
	Destination string          `json:"destination"`
	Budget      int             `json:"budget"`
	PlanData    json.RawMessage `json:"plan_data,omitempty"`
}

// Planbook 负责保存旅行计划，并在创建时归档到内容存储。
type Planbook struct {
	repo    mysql.PlanRepository
	content ipfs.Store
	now     func() time.Time
}

// NewPlanbook 创建行程服务，content 为空时不归档。
func NewPlanbook(repo mysql.PlanRepository, content ipfs.Store) *Planbook {
	return &Planbook{repo: repo, content: content, now: time.Now}
}

// Create 先归档再落库；归档失败只产生警告，不阻止计划保存。
func (p *Planbook) Create(ctx context.Context, req PlanRequest) (*mysql.PlanRecord, []string, error) {
	destination := strings.TrimSpace(req.Destination)
	if destination == "" {
		return nil, nil, xerrors.New(xerrors.CodeInvalidArgument, "destination 不能为空")
	}
	if len(req.PlanData) > 0 && !json.Valid(req.PlanData) {
		return nil, nil, xerrors.New(xerrors.CodeInvalidArgument, "plan_data 不是合法 JSON")
	}
	record := &mysql.PlanRecord{
		ID:          uuid.NewString(),
		UserWallet:  strings.TrimSpace(req.UserWallet),
		Destination: destination,
		Budget:      req.Budget,
		PlanData:    req.PlanData,
		Status:      mysql.PlanGenerated,
	}

	var warnings []string
	if p.content != nil {
		cid, err := p.archive(ctx, record)
		if err != nil {
			logger.L().Warn("行程归档失败", "plan_id", record.ID, "error", err)
			warnings = append(warnings, "plan was not archived to IPFS: "+xerrors.MessageOf(err))
		} else {
			record.IPFSHash = cid
		}
	}

	if err := p.repo.Create(ctx, record); err != nil {
		return nil, warnings, err
	}
	return record, warnings, nil
}

func (p *Planbook) archive(ctx context.Context, record *mysql.PlanRecord) (string, error) {
	var data any = map[string]any{}
	if len(record.PlanData) > 0 {
		if err := json.Unmarshal(record.PlanData, &data); err != nil {
			return "", xerrors.Wrap(xerrors.CodeInvalidArgument, err, "plan_data 解析失败")
		}
	}
	return p.content.Store(ctx, map[string]any{
		"type":        PlanRecordType,
		"plan_id":     record.ID,
		"destination": record.Destination,
		"budget":      record.Budget,
		"user_wallet": record.UserWallet,
		"plan_data":   data,
		"timestamp":   p.now().UTC().Format(time.RFC3339),
	})
}

// Get 按 ID 查询计划。
func (p *Planbook) Get(ctx context.Context, id string) (*mysql.PlanRecord, error) {
	return p.repo.GetByID(ctx, strings.TrimSpace(id))
}

// UpdateStatus 修改计划状态。
func (p *Planbook) UpdateStatus(ctx context.Context, id, status string) (*mysql.PlanRecord, error) {
	return p.repo.UpdateStatus(ctx, strings.TrimSpace(id), strings.ToLower(strings.TrimSpace(status)))
}

// ListByWallet 返回钱包名下的计划，按创建时间倒序。
func (p *Planbook) ListByWallet(ctx context.Context, wallet string, limit int) ([]mysql.PlanRecord, error) {
	if strings.TrimSpace(wallet) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "wallet 不能为空")
	}
	return p.repo.ListByWallet(ctx, wallet, limit)
}
