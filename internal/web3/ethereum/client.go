package ethereum

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/accounts/abi/bind/backends"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"

	xerrors "TravelAgent-Chain/internal/errors"
	"TravelAgent-Chain/internal/web3"
)

const nativeTransferGas = 21_000

// Config describes how to construct an EVM compatible client.
type Config struct {
	Name          string
	RPCURL        string
	ChainID       int64
	NativeSymbol  string
	PrivateKeyHex string
	Tokens        []web3.TokenDefinition
	Notes         string
}

// backend is the subset of ethclient.Client used by the payment rail; the
// simulated backend satisfies it as well.
type backend interface {
	bind.ContractBackend
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

// Client implements web3.Client for EVM compatible chains.
type Client struct {
	name    string
	notes   string
	native  string
	rpc     *gethrpc.Client
	backend backend
	key     *ecdsa.PrivateKey
	account common.Address
	tokens  map[string]web3.Token

	mu      sync.Mutex
	chainID *big.Int
	// commit 在模拟链上出块，真实链上为 nil。
	commit func()
}

// NewClient dials the configured RPC endpoint and returns a ready-to-use client.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置以太坊 RPC 地址")
	}
	rpcClient, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "连接以太坊节点失败")
	}
	c, err := newClient(cfg, ethclient.NewClient(rpcClient))
	if err != nil {
		rpcClient.Close()
		return nil, err
	}
	c.rpc = rpcClient
	return c, nil
}

// NewSimulatedClient wraps a go-ethereum simulated backend for tests and local demos.
func NewSimulatedClient(cfg Config, sim *backends.SimulatedBackend) (*Client, error) {
	c, err := newClient(cfg, sim)
	if err != nil {
		return nil, err
	}
	c.commit = func() { sim.Commit() }
	if c.notes == "" {
		c.notes = "simulated backend"
	}
	return c, nil
}

func newClient(cfg Config, be backend) (*Client, error) {
	c := &Client{
		name:    cfg.Name,
		notes:   cfg.Notes,
		native:  strings.ToUpper(strings.TrimSpace(cfg.NativeSymbol)),
		backend: be,
		tokens:  make(map[string]web3.Token, len(cfg.Tokens)),
	}
	if c.native == "" {
		c.native = "ETH"
	}
	if cfg.ChainID > 0 {
		c.chainID = big.NewInt(cfg.ChainID)
	}
	if keyHex := strings.TrimPrefix(strings.TrimSpace(cfg.PrivateKeyHex), "0x"); keyHex != "" {
		key, err := crypto.HexToECDSA(keyHex)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "解析钱包私钥失败")
		}
		c.key = key
		c.account = crypto.PubkeyToAddress(key.PublicKey)
	}
	for _, tok := range cfg.Tokens {
		symbol := strings.ToUpper(strings.TrimSpace(tok.Symbol))
		c.tokens[symbol] = web3.Token{Symbol: symbol, Address: common.HexToAddress(tok.Address), Decimals: tok.Decimals}
	}
	return c, nil
}

// Close releases network connections held by the client.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rpc != nil {
		c.rpc.Close()
		c.rpc = nil
	}
}

// Token resolves a configured token or the native coin by symbol.
func (c *Client) Token(symbol string) (web3.Token, bool) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == c.native {
		return web3.Token{Symbol: c.native, Decimals: 18}, true
	}
	tok, ok := c.tokens[symbol]
	return tok, ok
}

// Account returns the signer address when a private key is configured.
func (c *Client) Account() (common.Address, bool) {
	return c.account, c.key != nil
}

func (c *Client) resolveChainID(ctx context.Context) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.chainID != nil {
		return c.chainID, nil
	}
	id, err := c.backend.ChainID(ctx)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeExecutorFailure, err, "获取链 ID 失败")
	}
	c.chainID = id
	return id, nil
}

// FetchChainSnapshot gathers lightweight metadata from the chain.
func (c *Client) FetchChainSnapshot(ctx context.Context) (web3.ChainSnapshot, error) {
	id, err := c.resolveChainID(ctx)
	if err != nil {
		return web3.ChainSnapshot{}, err
	}
	block, err := c.backend.BlockNumber(ctx)
	if err != nil {
		return web3.ChainSnapshot{}, xerrors.Wrap(xerrors.CodeExecutorFailure, err, "获取最新区块高度失败")
	}
	return web3.ChainSnapshot{
		Name:        c.name,
		ChainID:     toHexBig(id),
		BlockNumber: fmt.Sprintf("0x%x", block),
		Notes:       c.notes,
	}, nil
}

// NativeBalance returns the holder's native coin balance in wei.
func (c *Client) NativeBalance(ctx context.Context, holder common.Address) (*big.Int, error) {
	balance, err := c.backend.BalanceAt(ctx, holder, nil)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeExecutorFailure, err, "查询余额失败")
	}
	return balance, nil
}

// TokenBalance returns the holder's ERC-20 balance in base units.
func (c *Client) TokenBalance(ctx context.Context, token web3.Token, holder common.Address) (*big.Int, error) {
	if token.Native() {
		return c.NativeBalance(ctx, holder)
	}
	contract := bind.NewBoundContract(token.Address, erc20ABI, c.backend, c.backend, c.backend)
	var out []any
	if err := contract.Call(&bind.CallOpts{Context: ctx}, &out, "balanceOf", holder); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeExecutorFailure, err, fmt.Sprintf("查询 %s 余额失败", token.Symbol))
	}
	if len(out) == 0 {
		return nil, xerrors.New(xerrors.CodeExecutorFailure, "balanceOf 返回为空")
	}
	balance, ok := out[0].(*big.Int)
	if !ok {
		return nil, xerrors.New(xerrors.CodeExecutorFailure, "balanceOf 返回类型异常")
	}
	return balance, nil
}

// Transfer signs and submits a native or ERC-20 transfer from the configured account.
func (c *Client) Transfer(ctx context.Context, req web3.TransferRequest) (web3.TransferResult, error) {
	if c.key == nil {
		return web3.TransferResult{}, xerrors.New(xerrors.CodePaymentFailure, "未配置签名私钥")
	}
	if req.Amount == nil || req.Amount.Sign() <= 0 {
		return web3.TransferResult{}, xerrors.New(xerrors.CodeInvalidArgument, "转账金额必须为正数")
	}
	if req.To == (common.Address{}) {
		return web3.TransferResult{}, xerrors.New(xerrors.CodeInvalidArgument, "收款地址不能为空")
	}
	chainID, err := c.resolveChainID(ctx)
	if err != nil {
		return web3.TransferResult{}, err
	}

	var tx *coretypes.Transaction
	if req.Token.Native() {
		tx, err = c.sendNative(ctx, chainID, req.To, req.Amount)
	} else {
		tx, err = c.sendToken(ctx, chainID, req.Token, req.To, req.Amount)
	}
	if err != nil {
		return web3.TransferResult{}, err
	}
	if c.commit != nil {
		c.commit()
	}
	return web3.TransferResult{TxHash: tx.Hash(), From: c.account}, nil
}

func (c *Client) sendNative(ctx context.Context, chainID *big.Int, to common.Address, value *big.Int) (*coretypes.Transaction, error) {
	nonce, err := c.backend.PendingNonceAt(ctx, c.account)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodePaymentFailure, err, "查询 nonce 失败")
	}
	tip, err := c.backend.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodePaymentFailure, err, "估算小费失败")
	}
	head, err := c.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodePaymentFailure, err, "获取最新区块头失败")
	}
	feeCap := new(big.Int).Set(tip)
	if head.BaseFee != nil {
		feeCap.Add(feeCap, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
	}
	tx := coretypes.NewTx(&coretypes.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       nativeTransferGas,
		To:        &to,
		Value:     value,
	})
	signed, err := coretypes.SignTx(tx, coretypes.LatestSignerForChainID(chainID), c.key)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodePaymentFailure, err, "签名交易失败")
	}
	if err := c.backend.SendTransaction(ctx, signed); err != nil {
		return nil, xerrors.Wrap(xerrors.CodePaymentFailure, err, "发送交易失败")
	}
	return signed, nil
}

func (c *Client) sendToken(ctx context.Context, chainID *big.Int, token web3.Token, to common.Address, value *big.Int) (*coretypes.Transaction, error) {
	auth, err := bind.NewKeyedTransactorWithChainID(c.key, chainID)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodePaymentFailure, err, "创建签名器失败")
	}
	auth.Context = ctx
	contract := bind.NewBoundContract(token.Address, erc20ABI, c.backend, c.backend, c.backend)
	tx, err := contract.Transact(auth, "transfer", to, value)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodePaymentFailure, err, fmt.Sprintf("发送 %s 转账失败", token.Symbol))
	}
	return tx, nil
}

func toHexBig(n *big.Int) string {
	if n == nil {
		return "0x0"
	}
	return "0x" + n.Text(16)
}
