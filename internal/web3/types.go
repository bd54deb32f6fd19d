package web3

import (
	"context"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// ChainSnapshot represents summarized network metadata for health reporting.
type ChainSnapshot struct {
	Name        string `json:"name"`
	ChainID     string `json:"chain_id"`
	BlockNumber string `json:"block_number"`
	Notes       string `json:"notes,omitempty"`
}

// Token identifies an asset on a chain. A zero Address means the native coin.
type Token struct {
	Symbol   string
	Address  common.Address
	Decimals uint8
}

// Native reports whether the token is the chain's native coin.
func (t Token) Native() bool {
	return t.Address == (common.Address{})
}

// TransferRequest asks the client to move Amount of Token to To.
type TransferRequest struct {
	To     common.Address
	Token  Token
	Amount *big.Int
}

// TransferResult is the outcome of a submitted transfer.
type TransferResult struct {
	TxHash common.Hash
	From   common.Address
}

// Client defines the chain operations the payment rail relies on.
type Client interface {
	FetchChainSnapshot(ctx context.Context) (ChainSnapshot, error)
	// Token resolves a symbol configured on this chain.
	Token(symbol string) (Token, bool)
	// Account returns the signing account, if a key is configured.
	Account() (common.Address, bool)
	NativeBalance(ctx context.Context, holder common.Address) (*big.Int, error)
	TokenBalance(ctx context.Context, token Token, holder common.Address) (*big.Int, error)
	Transfer(ctx context.Context, req TransferRequest) (TransferResult, error)
	Close()
}

// IsHexAddress reports whether s is a 0x-prefixed 20-byte hex address.
func IsHexAddress(s string) bool {
	s = strings.TrimSpace(s)
	return strings.HasPrefix(strings.ToLower(s), "0x") && common.IsHexAddress(s)
}
