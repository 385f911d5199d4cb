package action

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	xerrors "TokenAction-Chain/internal/errors"
	"TokenAction-Chain/internal/web3"
	"TokenAction-Chain/pkg/logger"

	"github.com/ethereum/go-ethereum/common"
)

// Kind 区分只读与写入动作。
type Kind string

const (
	KindRead  Kind = "read"
	KindWrite Kind = "write"
)

// 进度提示文本。
const (
	ProgressRead  = "Checking token balance..."
	ProgressWrite = "Currently minting tokens..."
)

// ParseKind 解析动作类型。
func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case KindRead:
		return KindRead, nil
	case KindWrite:
		return KindWrite, nil
	default:
		return "", xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("未知的动作类型 %q", s))
	}
}

// Request 是动作核心的输入，Amount 仅对写入动作有效。
type Request struct {
	Kind      Kind     `json:"kind"`
	Reference string   `json:"reference"`
	Amount    *big.Int `json:"amount,omitempty"`
	Chain     string   `json:"chain,omitempty"`
}

// Result 汇总一次动作的结果。
type Result struct {
	Kind        Kind                    `json:"kind"`
	Chain       string                  `json:"chain"`
	Address     common.Address          `json:"address"`
	Balance     *web3.BalanceResult     `json:"balance,omitempty"`
	Transaction *web3.TransactionResult `json:"transaction,omitempty"`
	Text        string                  `json:"text"`
}

// Reporter 接收面向用户的进度与结果文本。
type Reporter func(ctx context.Context, message string)

// Resolver 把自由文本解析为地址。
type Resolver interface {
	Resolve(ctx context.Context, reference string) (common.Address, error)
}

// BalanceReader 读取代币余额。
type BalanceReader interface {
	ReadBalance(ctx context.Context, cfg web3.ChainConfig, token web3.TokenContract, holder string) (web3.BalanceResult, error)
}

// Minter 提交铸币交易。
type Minter interface {
	SubmitMint(ctx context.Context, cfg web3.ChainConfig, token web3.TokenContract, recipient string, amount *big.Int) (web3.TransactionResult, error)
}

// ChainSource 按名称提供链配置，空名称表示默认链。
type ChainSource interface {
	ChainConfig(name string) (web3.ChainConfig, bool)
}

// MintDefaults 在请求缺省接收方或数量时补齐。
type MintDefaults struct {
	Recipient string
	Amount    *big.Int
}

// Core 串联地址解析、链上读写与结果格式化。每次调用相互独立。
type Core struct {
	chains   ChainSource
	token    web3.TokenContract
	resolver Resolver
	reader   BalanceReader
	minter   Minter
	defaults MintDefaults
	timeout  time.Duration
}

// Option 定义可选的 Core 配置。
type Option func(*Core)

// WithMintDefaults 设置铸币动作的缺省接收方与数量。
func WithMintDefaults(defaults MintDefaults) Option {
	return func(c *Core) {
		c.defaults = defaults
	}
}

// WithTimeout 为整个动作设置超时时间，0 表示交给下层传输控制。
func WithTimeout(timeout time.Duration) Option {
	return func(c *Core) {
		if timeout < 0 {
			timeout = 0
		}
		c.timeout = timeout
	}
}

// New 创建动作核心。
func New(chains ChainSource, token web3.TokenContract, resolver Resolver, reader BalanceReader, minter Minter, opts ...Option) *Core {
	c := &Core{
		chains:   chains,
		token:    token,
		resolver: resolver,
		reader:   reader,
		minter:   minter,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Execute 校验配置后依次执行地址解析、链上调用与结果格式化。
// 子步骤的错误原样返回。
func (c *Core) Execute(ctx context.Context, req Request, report Reporter) (*Result, error) {
	if report == nil {
		report = func(context.Context, string) {}
	}

	cfg, err := c.precheck(req)
	if err != nil {
		return nil, err
	}

	reference := strings.TrimSpace(req.Reference)
	amount := req.Amount
	if req.Kind == KindWrite {
		if reference == "" {
			reference = strings.TrimSpace(c.defaults.Recipient)
		}
		if amount == nil && c.defaults.Amount != nil {
			amount = new(big.Int).Set(c.defaults.Amount)
		}
	}
	if reference == "" {
		return nil, xerrors.New(xerrors.CodeInvalidAddress, "未提供账户引用")
	}
	if req.Kind == KindWrite && (amount == nil || amount.Sign() <= 0) {
		return nil, xerrors.New(xerrors.CodeInvalidAmount, "数量必须为正整数")
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	log := logger.Named("action").With(slog.String("kind", string(req.Kind)), slog.String("chain", cfg.Name))

	switch req.Kind {
	case KindRead:
		report(ctx, ProgressRead)
		result, err := c.read(ctx, cfg, reference)
		if err != nil {
			log.Warn("查询余额失败", slog.String("code", string(xerrors.CodeOf(err))), slog.String("error", err.Error()))
			report(ctx, "Error checking token balance: "+err.Error())
			return nil, err
		}
		report(ctx, result.Text)
		return result, nil
	default:
		report(ctx, ProgressWrite)
		result, err := c.write(ctx, cfg, reference, amount)
		if err != nil {
			log.Warn("铸币失败", slog.String("code", string(xerrors.CodeOf(err))), slog.String("error", err.Error()))
			report(ctx, "Error minting tokens: "+err.Error())
			return nil, err
		}
		report(ctx, result.Text)
		return result, nil
	}
}

// precheck 在任何网络调用和地址解析之前检查配置。
func (c *Core) precheck(req Request) (web3.ChainConfig, error) {
	if req.Kind != KindRead && req.Kind != KindWrite {
		return web3.ChainConfig{}, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("未知的动作类型 %q", req.Kind))
	}
	if c == nil || c.chains == nil {
		return web3.ChainConfig{}, xerrors.New(xerrors.CodeNotConfigured, "未配置链信息")
	}
	cfg, ok := c.chains.ChainConfig(req.Chain)
	if !ok {
		return web3.ChainConfig{}, xerrors.New(xerrors.CodeNotConfigured, "链未在配置中找到",
			xerrors.WithMetadata("chain", req.Chain))
	}
	if !cfg.HasEndpoint() {
		return web3.ChainConfig{}, xerrors.New(xerrors.CodeNotConfigured, "未配置 RPC 地址",
			xerrors.WithMetadata("chain", cfg.Name))
	}
	if c.token.IsZero() {
		return web3.ChainConfig{}, xerrors.New(xerrors.CodeNotConfigured, "未配置代币合约")
	}
	if c.resolver == nil {
		return web3.ChainConfig{}, xerrors.New(xerrors.CodeNotConfigured, "未配置地址解析器")
	}
	switch req.Kind {
	case KindRead:
		if c.reader == nil {
			return web3.ChainConfig{}, xerrors.New(xerrors.CodeNotConfigured, "未配置只读客户端")
		}
	case KindWrite:
		if c.minter == nil {
			return web3.ChainConfig{}, xerrors.New(xerrors.CodeNotConfigured, "未配置写入客户端")
		}
		if !cfg.HasCredential() {
			return web3.ChainConfig{}, xerrors.Wrap(xerrors.CodeNotConfigured,
				xerrors.New(xerrors.CodeMissingCredential, "未配置签名私钥"),
				"铸币需要签名私钥", xerrors.WithMetadata("chain", cfg.Name))
		}
	}
	return cfg, nil
}

func (c *Core) read(ctx context.Context, cfg web3.ChainConfig, reference string) (*Result, error) {
	address, err := c.resolver.Resolve(ctx, reference)
	if err != nil {
		return nil, err
	}
	balance, err := c.reader.ReadBalance(ctx, cfg, c.token, address.Hex())
	if err != nil {
		return nil, err
	}
	return &Result{
		Kind:    KindRead,
		Chain:   cfg.Name,
		Address: balance.Address,
		Balance: &balance,
		Text:    FormatBalance(balance),
	}, nil
}

func (c *Core) write(ctx context.Context, cfg web3.ChainConfig, reference string, amount *big.Int) (*Result, error) {
	address, err := c.resolver.Resolve(ctx, reference)
	if err != nil {
		return nil, err
	}
	tx, err := c.minter.SubmitMint(ctx, cfg, c.token, address.Hex(), amount)
	if err != nil {
		return nil, err
	}
	return &Result{
		Kind:        KindWrite,
		Chain:       cfg.Name,
		Address:     tx.Recipient,
		Transaction: &tx,
		Text:        FormatMint(tx),
	}, nil
}

// FormatBalance 生成余额查询的回复文本。
func FormatBalance(balance web3.BalanceResult) string {
	amount := "0"
	if balance.Amount != nil {
		amount = balance.Amount.String()
	}
	return fmt.Sprintf("Your current token balance is %s tokens for address %s", amount, balance.Address.Hex())
}

// FormatMint 生成铸币提交的回复文本。交易仅被节点接受，尚未确认。
func FormatMint(tx web3.TransactionResult) string {
	amount := "0"
	if tx.Amount != nil {
		amount = tx.Amount.String()
	}
	return fmt.Sprintf("Mint of %s tokens to %s submitted, transaction hash %s (awaiting confirmation)",
		amount, tx.Recipient.Hex(), tx.Hash.Hex())
}
