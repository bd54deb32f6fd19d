package payment

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"

	xerrors "TravelAgent-Chain/internal/errors"
	"TravelAgent-Chain/internal/web3"
)

// Rail 执行单笔转账并返回交易哈希。
type Rail interface {
	Transfer(ctx context.Context, to string, amount float64, token string) (string, error)
	Mode() string
}

// DemoRail 不上链，按转账序号、收款方、金额与币种生成 0xdemo 哈希。
// 同一实例上重复的相同付款得到不同哈希，新实例按相同顺序可复现。
type DemoRail struct {
	count atomic.Int64
}

// Transfer 返回演示交易哈希，ENS 名称也被接受。
func (d *DemoRail) Transfer(ctx context.Context, to string, amount float64, token string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	to = strings.TrimSpace(to)
	if to == "" {
		return "", xerrors.New(xerrors.CodeInvalidArgument, "收款地址不能为空")
	}
	seq := d.count.Add(1)
	sum := sha256.Sum256([]byte(fmt.Sprintf("%d|%s|%.6f|%s", seq, strings.ToLower(to), amount, strings.ToUpper(token))))
	return "0xdemo" + hex.EncodeToString(sum[:])[:58], nil
}

// Count 返回已执行的演示转账数量。
func (d *DemoRail) Count() int64 { return d.count.Load() }

// Mode 返回 demo。
func (d *DemoRail) Mode() string { return "demo" }

// ChainRail 通过 EVM 客户端签名并发送转账。
type ChainRail struct {
	client web3.Client
}

// NewChainRail 包装链客户端，客户端必须持有签名私钥。
func NewChainRail(client web3.Client) (*ChainRail, error) {
	if client == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "链客户端为空")
	}
	if _, ok := client.Account(); !ok {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "链客户端未配置签名私钥")
	}
	return &ChainRail{client: client}, nil
}

// Transfer 把 amount 换算成最小单位后发送交易。收款方必须是十六进制地址。
func (c *ChainRail) Transfer(ctx context.Context, to string, amount float64, token string) (string, error) {
	to = strings.TrimSpace(to)
	if !web3.IsHexAddress(to) {
		return "", xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("链上转账需要十六进制地址，无法解析 %s", to))
	}
	tok, ok := c.client.Token(token)
	if !ok {
		return "", xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("当前链未配置代币 %s", strings.ToUpper(token)))
	}
	units, err := web3.ToBaseUnits(amount, tok.Decimals)
	if err != nil {
		return "", err
	}
	res, err := c.client.Transfer(ctx, web3.TransferRequest{To: common.HexToAddress(to), Token: tok, Amount: units})
	if err != nil {
		return "", err
	}
	return res.TxHash.Hex(), nil
}

// Mode 返回 live。
func (c *ChainRail) Mode() string { return "live" }
