package web3

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"strings"

	xerrors "TokenAction-Chain/internal/errors"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// ChainConfig carries everything needed to reach one chain. It is built once
// at startup and passed by value into each call.
type ChainConfig struct {
	Name       string
	RPCURL     string
	ChainID    *big.Int
	PrivateKey string
}

// HasEndpoint reports whether an RPC endpoint is configured.
func (c ChainConfig) HasEndpoint() bool {
	return strings.TrimSpace(c.RPCURL) != ""
}

// HasCredential reports whether a signing key is configured.
func (c ChainConfig) HasCredential() bool {
	return strings.TrimSpace(c.PrivateKey) != ""
}

// SigningKey parses the configured hex private key.
func (c ChainConfig) SigningKey() (*ecdsa.PrivateKey, error) {
	raw := strings.TrimSpace(c.PrivateKey)
	if raw == "" {
		return nil, xerrors.New(xerrors.CodeMissingCredential, "未配置签名私钥")
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(raw, "0x"))
	if err != nil {
		// the parse error can echo key material, so it is not attached
		return nil, xerrors.New(xerrors.CodeMissingCredential, "签名私钥格式无效")
	}
	return key, nil
}

// Redacted returns a copy safe for logging.
func (c ChainConfig) Redacted() ChainConfig {
	if c.HasCredential() {
		c.PrivateKey = "***"
	}
	return c
}

// TxStatus is the node-level outcome of a submission.
type TxStatus string

const (
	TxAccepted TxStatus = "accepted"
	TxRejected TxStatus = "rejected"
)

// BalanceResult is a decoded token balance for one holder.
type BalanceResult struct {
	Address common.Address `json:"address"`
	Token   common.Address `json:"token"`
	Amount  *big.Int       `json:"amount"`
}

// TransactionResult describes a transaction accepted into the node's pool.
// It says nothing about inclusion in a block.
type TransactionResult struct {
	Hash      common.Hash    `json:"hash"`
	Status    TxStatus       `json:"status"`
	From      common.Address `json:"from"`
	Token     common.Address `json:"token"`
	Recipient common.Address `json:"recipient"`
	Amount    *big.Int       `json:"amount"`
	Nonce     uint64         `json:"nonce"`
}

// ChainSnapshot represents summarized network metadata for diagnostics.
type ChainSnapshot struct {
	Name        string `json:"name"`
	ChainID     string `json:"chain_id"`
	BlockNumber string `json:"block_number"`
	Notes       string `json:"notes,omitempty"`
}

// Caller performs read-only contract calls.
type Caller interface {
	CallContract(ctx context.Context, call gethcore.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Transactor is the subset of node methods needed to build, price and submit
// a signed transaction. SendRawTransaction returns the hash acknowledged by
// the node.
type Transactor interface {
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, call gethcore.CallMsg) (uint64, error)
	SendRawTransaction(ctx context.Context, tx *types.Transaction) (common.Hash, error)
}

// Backend is a full contract-call transport for one chain.
type Backend interface {
	Caller
	Transactor
}

// Dialer hands out the backend for a chain configuration.
type Dialer interface {
	Dial(ctx context.Context, cfg ChainConfig) (Backend, error)
}

// DialFunc adapts a function to the Dialer interface.
type DialFunc func(ctx context.Context, cfg ChainConfig) (Backend, error)

// Dial implements Dialer.
func (f DialFunc) Dial(ctx context.Context, cfg ChainConfig) (Backend, error) {
	return f(ctx, cfg)
}

// StaticDialer returns the same backend for every configuration.
func StaticDialer(backend Backend) Dialer {
	return DialFunc(func(context.Context, ChainConfig) (Backend, error) {
		return backend, nil
	})
}
