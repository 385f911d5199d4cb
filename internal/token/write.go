package token

import (
	"context"
	"log/slog"
	"math/big"
	"time"

	xerrors "TokenAction-Chain/internal/errors"
	"TokenAction-Chain/internal/web3"
	"TokenAction-Chain/pkg/logger"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// WriteClient signs and submits mint transactions. It returns once the node
// has accepted the transaction into its pool and never waits for inclusion.
type WriteClient struct {
	dialer  web3.Dialer
	policy  AmountPolicy
	timeout time.Duration
}

// WriteOption 定义可选的 WriteClient 配置。
type WriteOption func(*WriteClient)

// WithAmountPolicy sets the bounds enforced on mint amounts.
func WithAmountPolicy(policy AmountPolicy) WriteOption {
	return func(c *WriteClient) {
		c.policy = policy
	}
}

// WithWriteTimeout bounds the whole build-sign-send sequence. A timeout that
// fires during broadcast yields SUBMISSION_AMBIGUOUS.
func WithWriteTimeout(timeout time.Duration) WriteOption {
	return func(c *WriteClient) {
		if timeout < 0 {
			timeout = 0
		}
		c.timeout = timeout
	}
}

// NewWriteClient 创建一个写入客户端。
func NewWriteClient(dialer web3.Dialer, opts ...WriteOption) *WriteClient {
	c := &WriteClient{dialer: dialer}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// SubmitMint mints amount tokens to recipient, signing with cfg's key.
//
// Preconditions are checked in order credential, recipient, amount, and all
// of them before any transport call.
func (c *WriteClient) SubmitMint(ctx context.Context, cfg web3.ChainConfig, token web3.TokenContract, recipient string, amount *big.Int) (web3.TransactionResult, error) {
	key, err := cfg.SigningKey()
	if err != nil {
		return web3.TransactionResult{}, err
	}
	to, err := web3.ParseAddress(recipient)
	if err != nil {
		return web3.TransactionResult{}, err
	}
	if _, err := c.policyOrZero().Check(amount); err != nil {
		return web3.TransactionResult{}, err
	}
	if !cfg.HasEndpoint() {
		return web3.TransactionResult{}, xerrors.New(xerrors.CodeNotConfigured, "未配置 RPC 地址",
			xerrors.WithMetadata("chain", cfg.Name))
	}
	if token.IsZero() {
		return web3.TransactionResult{}, xerrors.New(xerrors.CodeNotConfigured, "未配置代币合约")
	}
	if c == nil || c.dialer == nil {
		return web3.TransactionResult{}, xerrors.New(xerrors.CodeNotConfigured, "未配置链客户端")
	}

	method := token.MintMethod
	if method == "" {
		method = web3.DefaultMintMethod
	}
	data, err := token.Call(method, to, new(big.Int).Set(amount)).Pack()
	if err != nil {
		return web3.TransactionResult{}, err
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	backend, err := c.dialer.Dial(ctx, cfg)
	if err != nil {
		return web3.TransactionResult{}, preflightFailure("连接节点", err)
	}

	from := crypto.PubkeyToAddress(key.PublicKey)
	tx, chainID, err := buildTransaction(ctx, backend, cfg, from, token.Address, data)
	if err != nil {
		return web3.TransactionResult{}, err
	}

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), key)
	if err != nil {
		return web3.TransactionResult{}, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "交易签名失败")
	}
	localHash := signed.Hash()

	audit := logger.Audit().With(
		slog.String("chain", cfg.Name),
		slog.String("token", token.Address.Hex()),
		slog.String("from", from.Hex()),
		slog.String("recipient", to.Hex()),
		slog.String("amount", amount.String()),
		slog.Uint64("nonce", signed.Nonce()),
		slog.String("tx_hash", localHash.Hex()),
	)
	audit.Info("提交铸币交易")

	hash, err := backend.SendRawTransaction(ctx, signed)
	switch {
	case err == nil:
		if hash == (common.Hash{}) {
			hash = localHash
		}
	case isAlreadyKnown(err):
		hash = localHash
		audit.Info("节点已持有该交易，按已接受处理", slog.String("node_message", err.Error()))
	default:
		classified := sendFailure(localHash, signed.Nonce(), err)
		if xerrors.CodeOf(classified) == xerrors.CodeSubmissionAmbiguous {
			audit.Warn("铸币交易结果未知，请勿自动重试", slog.String("error", err.Error()))
		} else {
			audit.Info("铸币交易未被接受", slog.String("code", string(xerrors.CodeOf(classified))), slog.String("error", err.Error()))
		}
		return web3.TransactionResult{}, classified
	}

	if hash != localHash {
		audit.Warn("节点返回的交易哈希与本地计算不一致", slog.String("node_hash", hash.Hex()))
	}
	audit.Info("铸币交易已被节点接受", slog.String("node_hash", hash.Hex()))

	return web3.TransactionResult{
		Hash:      hash,
		Status:    web3.TxAccepted,
		From:      from,
		Token:     token.Address,
		Recipient: to,
		Amount:    new(big.Int).Set(amount),
		Nonce:     signed.Nonce(),
	}, nil
}

func (c *WriteClient) policyOrZero() AmountPolicy {
	if c == nil {
		return AmountPolicy{}
	}
	return c.policy
}

// buildTransaction fetches chain id, nonce, fees and gas, and returns the
// unsigned transaction with the chain id to sign for. Dynamic fees are used
// when the head carries a base fee, legacy pricing otherwise.
func buildTransaction(ctx context.Context, backend web3.Transactor, cfg web3.ChainConfig, from, contract common.Address, data []byte) (*types.Transaction, *big.Int, error) {
	chainID := cfg.ChainID
	if chainID == nil || chainID.Sign() <= 0 {
		id, err := backend.ChainID(ctx)
		if err != nil {
			return nil, nil, preflightFailure("获取链 ID", err)
		}
		chainID = id
	}

	nonce, err := backend.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, nil, preflightFailure("获取 nonce", err)
	}

	head, err := backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, nil, preflightFailure("获取最新区块头", err)
	}

	msg := gethcore.CallMsg{From: from, To: &contract, Data: data}
	var tipCap, feeCap, gasPrice *big.Int
	if head != nil && head.BaseFee != nil {
		tipCap, err = backend.SuggestGasTipCap(ctx)
		if err != nil {
			return nil, nil, preflightFailure("获取小费建议", err)
		}
		feeCap = new(big.Int).Add(tipCap, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
		msg.GasTipCap, msg.GasFeeCap = tipCap, feeCap
	} else {
		gasPrice, err = backend.SuggestGasPrice(ctx)
		if err != nil {
			return nil, nil, preflightFailure("获取 gas 价格", err)
		}
		msg.GasPrice = gasPrice
	}

	gas, err := backend.EstimateGas(ctx, msg)
	if err != nil {
		return nil, nil, preflightFailure("估算 gas", err)
	}

	if feeCap != nil {
		return types.NewTx(&types.DynamicFeeTx{
			ChainID:   chainID,
			Nonce:     nonce,
			GasTipCap: tipCap,
			GasFeeCap: feeCap,
			Gas:       gas,
			To:        &contract,
			Data:      data,
		}), chainID, nil
	}
	return types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gas,
		To:       &contract,
		Data:     data,
	}), chainID, nil
}
