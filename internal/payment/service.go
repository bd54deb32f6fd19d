package payment

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	xerrors "TravelAgent-Chain/internal/errors"
	"TravelAgent-Chain/internal/observability/alerting"
	"TravelAgent-Chain/pkg/logger"
)

// Config 控制分账与转账超时。
type Config struct {
	Shares          Shares
	SavingsWallet   string
	DefaultToken    string
	TransferTimeout time.Duration
}

// Request 是一次付款请求。
type Request struct {
	Recipient string
	Amount    float64
	Token     string
	Referrer  string
}

// Transfer 是已执行的一笔转账。
type Transfer struct {
	Role      string  `json:"role"`
	Recipient string  `json:"recipient"`
	Amount    float64 `json:"amount"`
	Token     string  `json:"token"`
	TxHash    string  `json:"tx_hash"`
}

// Receipt 汇总一次付款的全部转账。
type Receipt struct {
	Mode      string     `json:"mode"`
	Recipient string     `json:"recipient"`
	Amount    float64    `json:"amount"`
	Token     string     `json:"token"`
	Referrer  string     `json:"referrer,omitempty"`
	Transfers []Transfer `json:"transfers"`
	shares    Shares
}

// TxHashes 按执行顺序返回交易哈希。
func (r *Receipt) TxHashes() []string {
	out := make([]string, 0, len(r.Transfers))
	for _, t := range r.Transfers {
		out = append(out, t.TxHash)
	}
	return out
}

// Message 返回面向用户的付款说明，每笔转账一行 tx_hash。
func (r *Receipt) Message() string {
	var b strings.Builder
	if r.Referrer != "" {
		b.WriteString("The payment has been successfully split between the agent and the referring wallet as part of our decentralized referral system.\n")
		fmt.Fprintf(&b, "%s of the payment was routed to the agent wallet (%s). %s of the payment was routed to the referrer wallet (%s).\n",
			percent(r.shares.Agent), r.Recipient, percent(1-r.shares.Agent), r.Referrer)
	}
	for i, t := range r.Transfers {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s transaction: tx_hash: %s (%s %s to %s)", roleLabel(t.Role), t.TxHash, formatAmount(t.Amount), t.Token, t.Recipient)
	}
	if r.Mode == "demo" {
		b.WriteString("\n(demo mode: no funds were moved)")
	}
	return b.String()
}

// Service 负责拆分并执行付款。
type Service struct {
	rail   Rail
	cfg    Config
	alerts alerting.Dispatcher
	log    *slog.Logger
}

// NewService 创建付款服务，alerts 可以为 nil。
func NewService(rail Rail, cfg Config, alerts alerting.Dispatcher) *Service {
	if cfg.Shares.Agent <= 0 || cfg.Shares.Agent >= 1 {
		cfg.Shares.Agent = DefaultShares().Agent
	}
	if cfg.DefaultToken == "" {
		cfg.DefaultToken = "USDC"
	}
	if cfg.TransferTimeout <= 0 {
		cfg.TransferTimeout = 60 * time.Second
	}
	return &Service{rail: rail, cfg: cfg, alerts: alerts, log: logger.Named("payment")}
}

// Mode 返回底层通道模式。
func (s *Service) Mode() string { return s.rail.Mode() }

// Pay 按分账规则依次执行转账。任何一笔失败都会停止后续转账，
// 返回的 Receipt 仍包含已成功的部分。
func (s *Service) Pay(ctx context.Context, req Request) (*Receipt, error) {
	req.Recipient = strings.TrimSpace(req.Recipient)
	req.Referrer = strings.TrimSpace(req.Referrer)
	req.Token = strings.ToUpper(strings.TrimSpace(req.Token))
	if req.Token == "" {
		req.Token = s.cfg.DefaultToken
	}
	if req.Recipient == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "recipient_address 不能为空")
	}
	if req.Amount <= 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "amount 必须为正数")
	}
	if req.Referrer != "" && strings.EqualFold(req.Referrer, req.Recipient) {
		req.Referrer = ""
	}

	receipt := &Receipt{
		Mode:      s.rail.Mode(),
		Recipient: req.Recipient,
		Amount:    req.Amount,
		Token:     req.Token,
		Referrer:  req.Referrer,
		shares:    s.cfg.Shares,
	}
	for _, leg := range Plan(req.Recipient, req.Amount, req.Referrer, s.cfg.SavingsWallet, s.cfg.Shares) {
		hash, err := s.send(ctx, leg, req.Token)
		if err != nil {
			wrapped := xerrors.Wrap(xerrors.CodePaymentFailure, err, fmt.Sprintf("%s 转账失败", leg.Role),
				xerrors.WithMetadata("role", leg.Role),
				xerrors.WithMetadata("recipient", leg.Recipient),
				xerrors.WithMetadata("amount", formatAmount(leg.Amount)),
				xerrors.WithMetadata("token", req.Token),
				xerrors.WithMetadata("completed", strconv.Itoa(len(receipt.Transfers))),
			)
			if xerrors.CodeOf(err) == xerrors.CodeInvalidArgument {
				wrapped = xerrors.Wrap(xerrors.CodeInvalidArgument, err, xerrors.MessageOf(err))
			}
			s.fail(ctx, leg, req.Token, wrapped)
			return receipt, wrapped
		}
		receipt.Transfers = append(receipt.Transfers, Transfer{
			Role:      leg.Role,
			Recipient: leg.Recipient,
			Amount:    leg.Amount,
			Token:     req.Token,
			TxHash:    hash,
		})
		logger.AuditEvent(ctx, "payment.transfer",
			slog.String("mode", receipt.Mode),
			slog.String("role", leg.Role),
			slog.String("recipient", leg.Recipient),
			slog.Float64("amount", leg.Amount),
			slog.String("token", req.Token),
			slog.String("tx_hash", hash),
		)
	}
	return receipt, nil
}

func (s *Service) send(ctx context.Context, leg Leg, token string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.TransferTimeout)
	defer cancel()
	hash, err := s.rail.Transfer(ctx, leg.Recipient, leg.Amount, token)
	if err != nil && ctx.Err() != nil {
		return "", xerrors.Wrap(xerrors.CodeTimeout, err, "转账超时")
	}
	return hash, err
}

func (s *Service) fail(ctx context.Context, leg Leg, token string, err error) {
	s.log.Error("付款失败", slog.String("role", leg.Role), slog.String("recipient", leg.Recipient), slog.Any("error", err))
	logger.AuditEvent(ctx, "payment.failed",
		slog.String("role", leg.Role),
		slog.String("recipient", leg.Recipient),
		slog.Float64("amount", leg.Amount),
		slog.String("token", token),
		slog.String("error", err.Error()),
	)
	if s.alerts == nil || xerrors.CodeOf(err) == xerrors.CodeInvalidArgument {
		return
	}
	if notifyErr := s.alerts.Notify(ctx, alerting.FromError("payment:"+leg.Recipient, err)); notifyErr != nil {
		s.log.Warn("发送付款告警失败", slog.Any("error", notifyErr))
	}
}

func roleLabel(role string) string {
	switch role {
	case RoleAgent:
		return "Agent"
	case RoleReferrer:
		return "Referrer"
	case RoleMain:
		return "Main"
	case RoleSavings:
		return "Savings"
	default:
		return "Payment"
	}
}

func percent(v float64) string {
	return strconv.FormatFloat(round6(v*100), 'f', -1, 64) + "%"
}

func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
