package payment

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	xerrors "TravelAgent-Chain/internal/errors"
	"TravelAgent-Chain/internal/web3"
	"TravelAgent-Chain/pkg/logger"
)

// TimeoutMessage 是余额查询超时时返回给用户的描述。
const TimeoutMessage = "Wallet balance check timed out. Please try again."

// Balance 是单个资产的余额。
type Balance struct {
	Symbol string `json:"symbol"`
	Amount string `json:"amount"`
}

// BalanceReport 汇总钱包余额。
type BalanceReport struct {
	Address  string    `json:"address"`
	Mode     string    `json:"mode"`
	Balances []Balance `json:"balances"`
}

// String 返回一行可读的余额描述。
func (r *BalanceReport) String() string {
	parts := make([]string, 0, len(r.Balances))
	for _, b := range r.Balances {
		parts = append(parts, fmt.Sprintf("%s: %s", b.Symbol, b.Amount))
	}
	text := fmt.Sprintf("Wallet %s balances: %s", r.Address, strings.Join(parts, ", "))
	if len(parts) == 0 {
		text = fmt.Sprintf("Wallet %s has no balances.", r.Address)
	}
	if r.Mode == "demo" {
		text += " (demo balances, not read from chain)"
	}
	return text
}

// BalanceSource 读取钱包余额，可能阻塞。
type BalanceSource interface {
	Balances(ctx context.Context) (*BalanceReport, error)
}

// Wallet 在硬超时内查询余额，超时即失败。
type Wallet struct {
	source  BalanceSource
	timeout time.Duration
	log     *slog.Logger
}

// NewWallet 创建钱包查询器，timeout 默认 30 秒。
func NewWallet(source BalanceSource, timeout time.Duration) *Wallet {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Wallet{source: source, timeout: timeout, log: logger.Named("wallet")}
}

// Mode 返回 live 或 demo。
func (w *Wallet) Mode() string {
	switch w.source.(type) {
	case DemoBalances, *DemoBalances:
		return "demo"
	}
	return "live"
}

type balanceResult struct {
	report *BalanceReport
	err    error
}

// CheckBalance 在独立 goroutine 中读取余额，超时返回 CodeTimeout。
func (w *Wallet) CheckBalance(ctx context.Context) (*BalanceReport, error) {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	done := make(chan balanceResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- balanceResult{err: xerrors.New(xerrors.CodeExecutorFailure, fmt.Sprintf("余额查询异常: %v", r))}
			}
		}()
		report, err := w.source.Balances(ctx)
		done <- balanceResult{report: report, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			w.log.Warn("查询余额失败", slog.Any("error", res.err))
			return nil, res.err
		}
		return res.report, nil
	case <-ctx.Done():
		w.log.Warn("查询余额超时", slog.Duration("timeout", w.timeout))
		return nil, xerrors.Wrap(xerrors.CodeTimeout, ctx.Err(), TimeoutMessage)
	}
}

// DemoBalances 返回固定的演示余额。
type DemoBalances struct {
	Address string
}

// Balances 实现 BalanceSource。
func (d DemoBalances) Balances(ctx context.Context) (*BalanceReport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	addr := d.Address
	if addr == "" {
		addr = "0x0000000000000000000000000000000000000000"
	}
	return &BalanceReport{
		Address:  addr,
		Mode:     "demo",
		Balances: []Balance{{Symbol: "ETH", Amount: "0.05"}, {Symbol: "USDC", Amount: "25"}},
	}, nil
}

// ChainBalances 通过链客户端读取原生币与配置代币的余额。
type ChainBalances struct {
	Client  web3.Client
	Holder  common.Address
	Symbols []string
}

// NewChainBalances 使用 address 或客户端签名账户作为查询对象。
func NewChainBalances(client web3.Client, address string, symbols []string) (*ChainBalances, error) {
	var holder common.Address
	switch {
	case web3.IsHexAddress(address):
		holder = common.HexToAddress(address)
	default:
		acct, ok := client.Account()
		if !ok {
			return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置 AGENT_WALLET_ADDRESS 或签名私钥")
		}
		holder = acct
	}
	return &ChainBalances{Client: client, Holder: holder, Symbols: symbols}, nil
}

// Balances 实现 BalanceSource。
func (c *ChainBalances) Balances(ctx context.Context) (*BalanceReport, error) {
	report := &BalanceReport{Address: c.Holder.Hex(), Mode: "live"}
	for _, symbol := range c.Symbols {
		tok, ok := c.Client.Token(symbol)
		if !ok {
			continue
		}
		value, err := c.Client.TokenBalance(ctx, tok, c.Holder)
		if err != nil {
			return nil, err
		}
		report.Balances = append(report.Balances, Balance{Symbol: tok.Symbol, Amount: web3.FormatUnits(value, tok.Decimals)})
	}
	return report, nil
}
