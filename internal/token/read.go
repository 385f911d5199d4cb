package token

import (
	"context"
	"math/big"
	"time"

	xerrors "TokenAction-Chain/internal/errors"
	"TokenAction-Chain/internal/web3"

	gethcore "github.com/ethereum/go-ethereum"
)

// ReadClient performs read-only balance lookups.
type ReadClient struct {
	dialer  web3.Dialer
	timeout time.Duration
}

// ReadOption 定义可选的 ReadClient 配置。
type ReadOption func(*ReadClient)

// WithReadTimeout bounds each eth_call; zero leaves timing to the transport.
func WithReadTimeout(timeout time.Duration) ReadOption {
	return func(c *ReadClient) {
		if timeout < 0 {
			timeout = 0
		}
		c.timeout = timeout
	}
}

// NewReadClient 创建一个只读客户端。
func NewReadClient(dialer web3.Dialer, opts ...ReadOption) *ReadClient {
	c := &ReadClient{dialer: dialer}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// ReadBalance returns holder's balance on token.
func (c *ReadClient) ReadBalance(ctx context.Context, cfg web3.ChainConfig, token web3.TokenContract, holder string) (web3.BalanceResult, error) {
	// 地址校验必须先于任何网络调用。
	account, err := web3.ParseAddress(holder)
	if err != nil {
		return web3.BalanceResult{}, err
	}
	if !cfg.HasEndpoint() {
		return web3.BalanceResult{}, xerrors.New(xerrors.CodeNotConfigured, "未配置 RPC 地址",
			xerrors.WithMetadata("chain", cfg.Name))
	}
	if token.IsZero() {
		return web3.BalanceResult{}, xerrors.New(xerrors.CodeNotConfigured, "未配置代币合约")
	}
	if c == nil || c.dialer == nil {
		return web3.BalanceResult{}, xerrors.New(xerrors.CodeNotConfigured, "未配置链客户端")
	}

	method := token.BalanceMethod
	if method == "" {
		method = web3.DefaultBalanceMethod
	}
	call := token.Call(method, account)
	data, err := call.Pack()
	if err != nil {
		return web3.BalanceResult{}, err
	}

	backend, err := c.dialer.Dial(ctx, cfg)
	if err != nil {
		return web3.BalanceResult{}, preflightFailure("连接节点", err)
	}

	callCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	to := token.Address
	out, err := backend.CallContract(callCtx, gethcore.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return web3.BalanceResult{}, readFailure(method, err)
	}

	values, err := call.Unpack(out)
	if err != nil {
		return web3.BalanceResult{}, err
	}
	amount, ok := firstBigInt(values)
	if !ok {
		return web3.BalanceResult{}, xerrors.New(xerrors.CodeDecodeError, method+" 返回值不是整数")
	}

	return web3.BalanceResult{
		Address: account,
		Token:   token.Address,
		Amount:  amount,
	}, nil
}

func firstBigInt(values []any) (*big.Int, bool) {
	if len(values) == 0 {
		return nil, false
	}
	amount, ok := values[0].(*big.Int)
	if !ok || amount == nil {
		return nil, false
	}
	return amount, true
}
