// Package zama exposes the token balance and mint actions as a builtin plugin.
package zama

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"TokenAction-Chain/internal/action"
	"TokenAction-Chain/internal/token"
	"TokenAction-Chain/internal/web3"
	"TokenAction-Chain/pkg/logger"
	"TokenAction-Chain/pkg/plugin"
)

const (
	// Name is the plugin id and builtin source name.
	Name = "zama"

	// ResourceExecutor is the host resource holding an Executor.
	ResourceExecutor = "tokenaction:executor"
	// ResourceChains is the host resource holding an action.ChainSource.
	ResourceChains = "tokenaction:chains"

	ActionBalanceOf  = "BALANCE_OF"
	ActionMintTokens = "MINT_TOKENS"
)

// Executor runs a typed action request.
type Executor interface {
	Execute(ctx context.Context, req action.Request, report action.Reporter) (*action.Result, error)
}

// Plugin implements plugin.Plugin and plugin.ActionProvider.
type Plugin struct {
	chain    string
	executor Executor
	chains   action.ChainSource
	log      *slog.Logger
}

// New 返回一个未初始化的插件实例，可直接注册为 builtin。
func New() plugin.Plugin {
	return &Plugin{}
}

// Info implements plugin.Plugin.
func (p *Plugin) Info() plugin.Info {
	return plugin.Info{
		ID:          Name,
		Name:        "Zama token actions",
		Description: "Checks balances of and mints the configured token on an EVM chain",
		Author:      "TokenAction",
		Version:     "1.0.0",
		Category:    plugin.TypeAction,
		// signing 仅由铸币动作声明，策略拒绝 signing 时插件以只读方式运行。
		Capabilities: []plugin.Capability{plugin.CapabilityNetwork, plugin.CapabilityModel},
	}
}

// Configure reads the optional "chain" key.
func (p *Plugin) Configure(cfg map[string]any) error {
	if raw, ok := cfg["chain"]; ok {
		chain, ok := raw.(string)
		if !ok {
			return fmt.Errorf("chain 必须为字符串，实际为 %T", raw)
		}
		p.chain = strings.TrimSpace(chain)
	}
	return nil
}

// Init pulls the executor and chain source from the host resources.
func (p *Plugin) Init(ctx *plugin.ExecutionContext) error {
	raw, ok := ctx.Resource(ResourceExecutor)
	if !ok {
		return errors.New("未提供动作执行器")
	}
	executor, ok := raw.(Executor)
	if !ok {
		return fmt.Errorf("动作执行器类型错误: %T", raw)
	}
	p.executor = executor
	if raw, ok := ctx.Resource(ResourceChains); ok {
		if chains, ok := raw.(action.ChainSource); ok {
			p.chains = chains
		}
	}
	p.log = logger.Named("plugin." + Name)
	return nil
}

// Start implements plugin.Plugin.
func (p *Plugin) Start(*plugin.ExecutionContext) error { return nil }

// Stop implements plugin.Plugin.
func (p *Plugin) Stop(*plugin.ExecutionContext) error { return nil }

// Actions implements plugin.ActionProvider.
func (p *Plugin) Actions() []plugin.Action {
	return []plugin.Action{p.balanceOf(), p.mint()}
}

func (p *Plugin) balanceOf() plugin.Action {
	return plugin.Action{
		Name: ActionBalanceOf,
		Similes: []string{
			"CHECK_BALANCE",
			"GET_BALANCE",
			"VIEW_BALANCE",
			"CHECK_TOKENS",
			"GET_TOKEN_BALANCE",
			"VIEW_TOKEN_BALANCE",
			"SHOW_BALANCE",
		},
		Description: "Checks the token balance of an address on the configured chain",
		Requires:    []plugin.Capability{plugin.CapabilityNetwork, plugin.CapabilityModel},
		Examples: [][]plugin.Example{{
			{User: "{{user1}}", Text: "Check the balance of {{address}} on Sepolia network"},
			{User: "{{agentName}}", Text: "I will check the token balance for that address", Action: ActionBalanceOf},
		}},
		Validate: func(ctx context.Context, msg plugin.Message) bool {
			// An explicit reference may be a name for the resolver to look up.
			_, hasTarget := web3.FindAddress(msg.Text)
			if !hasTarget {
				hasTarget = strings.TrimSpace(msg.Param("reference")) != ""
			}
			ok := hasTarget && p.hasEndpoint(msg)
			p.logger().Debug("validate", slog.String("action", ActionBalanceOf), slog.Bool("ok", ok))
			return ok
		},
		Handle: func(ctx context.Context, msg plugin.Message, report plugin.Reporter) (any, error) {
			reference := msg.Param("reference")
			if reference == "" {
				reference = msg.Text
			}
			return p.execute(ctx, action.Request{
				Kind:      action.KindRead,
				Reference: reference,
				Chain:     p.chainFor(msg),
			}, report)
		},
	}
}

func (p *Plugin) mint() plugin.Action {
	return plugin.Action{
		Name: ActionMintTokens,
		Similes: []string{
			"CREATE_TOKENS",
			"GENERATE_TOKENS",
			"ISSUE_TOKENS",
			"MINT_ERC20",
			"CREATE_ERC20",
			"DEPLOY_ERC20",
			"ISSUE_ERC20",
		},
		Description: "Mints the configured token to a recipient and reports the submitted transaction",
		Requires:    []plugin.Capability{plugin.CapabilityNetwork, plugin.CapabilityModel, plugin.CapabilitySigning},
		Examples: [][]plugin.Example{
			{
				{User: "{{user1}}", Text: "Connection to {{mentor}} was successful"},
				{User: "{{agentName}}", Text: "Connection successful! Minting tokens to celebrate the success.", Action: ActionMintTokens},
			},
			{
				{User: "{{user1}}", Text: "Thanks to {{mentor}}, I finally understand how smart contracts work!"},
				{User: "{{agentName}}", Text: "{{mentor}} deserves recognition for being such a patient guide. I'll mint some tokens as a thank you.", Action: ActionMintTokens},
			},
			{
				{User: "{{user1}}", Text: "{{mentor}} just helped me create my first bank account!"},
				{User: "{{agentName}}", Text: "That's a significant milestone! I'll mint some tokens to commemorate this achievement with {{mentor}}.", Action: ActionMintTokens},
			},
		},
		Validate: func(ctx context.Context, msg plugin.Message) bool {
			ok := p.hasEndpoint(msg)
			p.logger().Debug("validate", slog.String("action", ActionMintTokens), slog.Bool("ok", ok))
			return ok
		},
		Handle: func(ctx context.Context, msg plugin.Message, report plugin.Reporter) (any, error) {
			var amount *big.Int
			if raw := msg.Param("amount"); raw != "" {
				parsed, err := token.ParseAmount(raw)
				if err != nil {
					return nil, err
				}
				amount = parsed
			}
			// 未显式给出接收方时，只有消息中带有地址才作为引用，否则使用配置的缺省接收方。
			reference := msg.Param("reference")
			if reference == "" {
				if _, ok := web3.FindAddress(msg.Text); ok {
					reference = msg.Text
				}
			}
			return p.execute(ctx, action.Request{
				Kind:      action.KindWrite,
				Reference: reference,
				Amount:    amount,
				Chain:     p.chainFor(msg),
			}, report)
		},
	}
}

func (p *Plugin) execute(ctx context.Context, req action.Request, report plugin.Reporter) (*action.Result, error) {
	if p.executor == nil {
		return nil, errors.New("插件尚未初始化")
	}
	return p.executor.Execute(ctx, req, action.Reporter(report))
}

func (p *Plugin) hasEndpoint(msg plugin.Message) bool {
	if p.chains == nil {
		return false
	}
	cfg, ok := p.chains.ChainConfig(p.chainFor(msg))
	return ok && cfg.HasEndpoint()
}

func (p *Plugin) chainFor(msg plugin.Message) string {
	if chain := msg.Param("chain"); chain != "" {
		return chain
	}
	return p.chain
}

func (p *Plugin) logger() *slog.Logger {
	if p.log == nil {
		return logger.Named("plugin." + Name)
	}
	return p.log
}

var (
	_ plugin.Plugin         = (*Plugin)(nil)
	_ plugin.ActionProvider = (*Plugin)(nil)
)
