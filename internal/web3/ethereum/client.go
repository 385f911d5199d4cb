package ethereum

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	xerrors "TokenAction-Chain/internal/errors"
	"TokenAction-Chain/internal/web3"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

// Config describes how to construct an EVM compatible client.
type Config struct {
	Name   string
	RPCURL string
	Notes  string
}

// Client implements web3.Backend on top of go-ethereum's ethclient.
//
// No retries or timeouts are applied here; the caller's context and the rpc
// transport own those policies.
type Client struct {
	name      string
	notes     string
	rpcClient *gethrpc.Client
	eth       *ethclient.Client
	mu        sync.RWMutex
}

var errClosed = errors.New("以太坊客户端已关闭")

// NewClient dials the configured RPC endpoint and returns a ready-to-use client.
// For HTTP endpoints dialing is lazy; connectivity problems surface on the
// first call.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, xerrors.New(xerrors.CodeNotConfigured, "未配置以太坊 RPC 地址")
	}

	rpcClient, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeRPCUnavailable, err, "连接以太坊节点失败",
			xerrors.WithMetadata("chain", cfg.Name))
	}

	return &Client{
		name:      cfg.Name,
		notes:     cfg.Notes,
		rpcClient: rpcClient,
		eth:       ethclient.NewClient(rpcClient),
	}, nil
}

// Name returns the chain name this client was configured for.
func (c *Client) Name() string {
	return c.name
}

// Close releases network connections held by the client.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.eth != nil {
		// ethclient.Close closes the underlying rpc client as well
		c.eth.Close()
	}
	c.eth = nil
	c.rpcClient = nil
}

func (c *Client) backend() (*ethclient.Client, *gethrpc.Client, error) {
	if c == nil {
		return nil, nil, errClosed
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.eth == nil || c.rpcClient == nil {
		return nil, nil, errClosed
	}
	return c.eth, c.rpcClient, nil
}

// CallContract executes eth_call against the given block (nil for latest).
func (c *Client) CallContract(ctx context.Context, call gethcore.CallMsg, blockNumber *big.Int) ([]byte, error) {
	eth, _, err := c.backend()
	if err != nil {
		return nil, err
	}
	return eth.CallContract(ctx, call, blockNumber)
}

// ChainID returns the chain id reported by the node.
func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	eth, _, err := c.backend()
	if err != nil {
		return nil, err
	}
	return eth.ChainID(ctx)
}

// PendingNonceAt returns the next nonce for account, counting pooled transactions.
func (c *Client) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	eth, _, err := c.backend()
	if err != nil {
		return 0, err
	}
	return eth.PendingNonceAt(ctx, account)
}

// HeaderByNumber returns a block header; nil number means latest.
func (c *Client) HeaderByNumber(ctx context.Context, number *big.Int) (*coretypes.Header, error) {
	eth, _, err := c.backend()
	if err != nil {
		return nil, err
	}
	return eth.HeaderByNumber(ctx, number)
}

// SuggestGasPrice returns the node's legacy gas price suggestion.
func (c *Client) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	eth, _, err := c.backend()
	if err != nil {
		return nil, err
	}
	return eth.SuggestGasPrice(ctx)
}

// SuggestGasTipCap returns the node's priority fee suggestion.
func (c *Client) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	eth, _, err := c.backend()
	if err != nil {
		return nil, err
	}
	return eth.SuggestGasTipCap(ctx)
}

// EstimateGas simulates call and returns the gas it would use.
func (c *Client) EstimateGas(ctx context.Context, call gethcore.CallMsg) (uint64, error) {
	eth, _, err := c.backend()
	if err != nil {
		return 0, err
	}
	return eth.EstimateGas(ctx, call)
}

// SendRawTransaction broadcasts a signed transaction and returns the hash the
// node acknowledged.
func (c *Client) SendRawTransaction(ctx context.Context, tx *coretypes.Transaction) (common.Hash, error) {
	if tx == nil {
		return common.Hash{}, errors.New("交易不能为空")
	}
	_, rpcClient, err := c.backend()
	if err != nil {
		return common.Hash{}, err
	}
	raw, err := tx.MarshalBinary()
	if err != nil {
		return common.Hash{}, fmt.Errorf("序列化交易失败: %w", err)
	}
	var hash common.Hash
	if err := rpcClient.CallContext(ctx, &hash, "eth_sendRawTransaction", hexutil.Encode(raw)); err != nil {
		return common.Hash{}, err
	}
	return hash, nil
}

// FetchChainSnapshot gathers lightweight metadata from the chain.
func (c *Client) FetchChainSnapshot(ctx context.Context) (web3.ChainSnapshot, error) {
	eth, _, err := c.backend()
	if err != nil {
		return web3.ChainSnapshot{}, xerrors.Wrap(xerrors.CodeRPCUnavailable, err, "客户端不可用")
	}
	chainID, err := eth.ChainID(ctx)
	if err != nil {
		return web3.ChainSnapshot{}, xerrors.Wrap(xerrors.CodeRPCUnavailable, err, "获取链 ID 失败")
	}
	blockNumber, err := eth.BlockNumber(ctx)
	if err != nil {
		return web3.ChainSnapshot{}, xerrors.Wrap(xerrors.CodeRPCUnavailable, err, "获取最新区块高度失败")
	}
	return web3.ChainSnapshot{
		Name:        c.name,
		ChainID:     toHexBig(chainID),
		BlockNumber: fmt.Sprintf("0x%x", blockNumber),
		Notes:       c.notes,
	}, nil
}

func toHexBig(n *big.Int) string {
	if n == nil {
		return "0x0"
	}
	return "0x" + n.Text(16)
}

var _ web3.Backend = (*Client)(nil)
