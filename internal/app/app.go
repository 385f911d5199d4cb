// Package app assembles the action pipeline from configuration. Both the
// daemon and the CLI build their runtime through it.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"TokenAction-Chain/internal/action"
	"TokenAction-Chain/internal/config"
	xerrors "TokenAction-Chain/internal/errors"
	"TokenAction-Chain/internal/knowledge"
	"TokenAction-Chain/internal/llm"
	"TokenAction-Chain/internal/llm/openai"
	"TokenAction-Chain/internal/llm/pythonbridge"
	"TokenAction-Chain/internal/plugins/zama"
	"TokenAction-Chain/internal/resolver"
	"TokenAction-Chain/internal/token"
	"TokenAction-Chain/internal/web3"
	"TokenAction-Chain/internal/web3/provider"
	"TokenAction-Chain/pkg/logger"
	"TokenAction-Chain/pkg/plugin"
)

// Runtime holds the long-lived components built from a Config.
type Runtime struct {
	Config   *config.Config
	Chains   *provider.Registry
	Core     *action.Core
	Plugins  *plugin.Manager
	Resolver *resolver.AddressResolver
}

// Build wires chain registry, address resolver, token clients, action core
// and the plugin manager, then starts every enabled plugin.
func Build(ctx context.Context, cfg *config.Config) (*Runtime, error) {
	if cfg == nil {
		return nil, errors.New("配置为空")
	}
	log := logger.Named("app")

	chains, err := provider.NewRegistry(cfg.Web3)
	if err != nil {
		return nil, err
	}

	contract, err := TokenContract(cfg.Token)
	if err != nil {
		chains.Close()
		return nil, err
	}
	if contract.IsZero() {
		log.Warn("未配置代币合约地址，动作将返回 NOT_CONFIGURED")
	}

	extractor, err := Extractor(cfg.LLM)
	if err != nil {
		log.Warn("地址抽取模型不可用，仅支持字面量地址", slog.Any("error", err))
	}
	opts := []resolver.Option{resolver.WithTimeout(cfg.LLM.OpenAI.Timeout())}
	if cfg.Knowledge.Source != "" {
		kb, err := knowledge.LoadStaticProvider(cfg.Knowledge.Source, cfg.Knowledge.MaxResults)
		if err != nil {
			chains.Close()
			return nil, err
		}
		opts = append(opts, resolver.WithKnowledge(kb))
	}
	addressResolver := resolver.New(extractor, opts...)

	policy, err := token.NewAmountPolicy(cfg.Token.MaxMintAmount)
	if err != nil {
		chains.Close()
		return nil, xerrors.Wrap(xerrors.CodeNotConfigured, err, "铸币上限配置无效")
	}
	defaults, err := mintDefaults(cfg.Actions.Mint)
	if err != nil {
		chains.Close()
		return nil, err
	}

	reader := token.NewReadClient(chains, token.WithReadTimeout(cfg.Actions.Timeout()))
	writer := token.NewWriteClient(chains, token.WithAmountPolicy(policy), token.WithWriteTimeout(cfg.Actions.Timeout()))
	core := action.New(chains, contract, addressResolver, reader, writer,
		action.WithMintDefaults(defaults),
		action.WithTimeout(cfg.Actions.Timeout()),
	)

	manager, err := Plugins(cfg.Plugins, core, chains)
	if err != nil {
		chains.Close()
		return nil, err
	}
	if err := manager.StartAll(ctx); err != nil {
		chains.Close()
		return nil, err
	}
	log.Info("动作运行时已就绪",
		slog.String("default_chain", chains.DefaultChain()),
		slog.Int("actions", len(manager.Actions())),
	)

	return &Runtime{
		Config:   cfg,
		Chains:   chains,
		Core:     core,
		Plugins:  manager,
		Resolver: addressResolver,
	}, nil
}

// Close stops plugins and releases chain clients.
func (r *Runtime) Close(ctx context.Context) error {
	if r == nil {
		return nil
	}
	var err error
	if r.Plugins != nil {
		err = r.Plugins.StopAll(ctx)
	}
	r.Chains.Close()
	return err
}

// TokenContract builds the token descriptor. A missing address yields the
// zero contract so that actions fail with NOT_CONFIGURED at call time.
func TokenContract(cfg config.TokenConfig) (web3.TokenContract, error) {
	if strings.TrimSpace(cfg.Address) == "" {
		return web3.TokenContract{}, nil
	}
	abiJSON, err := web3.LoadTokenABI(cfg.ABIPath)
	if err != nil {
		return web3.TokenContract{}, err
	}
	contract, err := web3.NewTokenContract(cfg.Address, abiJSON)
	if err != nil {
		return web3.TokenContract{}, err
	}
	contract.Symbol = cfg.Symbol
	if cfg.BalanceMethod != "" {
		contract.BalanceMethod = cfg.BalanceMethod
	}
	if cfg.MintMethod != "" {
		contract.MintMethod = cfg.MintMethod
	}
	return contract, nil
}

// Extractor builds the configured address extraction model.
func Extractor(cfg config.LLMConfig) (llm.Extractor, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", "openai":
		client, err := openai.NewClient(openai.Config{
			APIKey:      cfg.OpenAI.ResolveAPIKey(),
			BaseURL:     cfg.OpenAI.BaseURL,
			Model:       cfg.OpenAI.Model,
			Temperature: cfg.OpenAI.Temperature,
			Timeout:     cfg.OpenAI.Timeout(),
		})
		if err != nil {
			return nil, err
		}
		return client, nil
	case "python_bridge":
		scriptPath := pythonbridge.ResolveScriptPath(cfg.Python.WorkingDir, cfg.Python.ScriptPath)
		client, err := pythonbridge.NewClient(cfg.Python.PythonExecutable, scriptPath, cfg.Python.WorkingDir)
		if err != nil {
			return nil, err
		}
		return client, nil
	case "none":
		return nil, errors.New("已禁用地址抽取模型")
	default:
		return nil, fmt.Errorf("未知的大模型 provider: %s", cfg.Provider)
	}
}

// DefaultPolicy grants the builtin token plugin every capability its
// actions declare.
func DefaultPolicy() plugin.IsolationPolicy {
	return plugin.IsolationPolicy{AllowedCapabilities: []plugin.Capability{
		plugin.CapabilityNetwork, plugin.CapabilityModel, plugin.CapabilitySigning,
	}}
}

// Plugins builds the plugin manager with the builtin token plugin. Without
// a config file the token plugin is enabled under DefaultPolicy.
func Plugins(cfg config.PluginsConfig, executor zama.Executor, chains action.ChainSource) (*plugin.Manager, error) {
	managerCfg := plugin.ManagerConfig{
		Defaults: DefaultPolicy(),
		Plugins: map[string]plugin.PluginConfig{
			zama.Name: {Enabled: true, Source: zama.Name},
		},
	}
	if cfg.ConfigPath != "" {
		loaded, err := plugin.LoadManagerConfig(cfg.ConfigPath)
		if err != nil {
			return nil, err
		}
		managerCfg = loaded
	}
	return plugin.NewManager(managerCfg,
		plugin.WithLoader(plugin.BuiltinLoader{zama.Name: zama.New}),
		plugin.WithResource(zama.ResourceExecutor, executor),
		plugin.WithResource(zama.ResourceChains, chains),
	)
}

func mintDefaults(cfg config.MintConfig) (action.MintDefaults, error) {
	defaults := action.MintDefaults{Recipient: strings.TrimSpace(cfg.DefaultRecipient)}
	if strings.TrimSpace(cfg.DefaultAmount) == "" {
		return defaults, nil
	}
	amount, err := token.ParseAmount(cfg.DefaultAmount)
	if err != nil {
		return action.MintDefaults{}, xerrors.Wrap(xerrors.CodeNotConfigured, err, "缺省铸币数量无效")
	}
	if amount.Sign() <= 0 {
		return action.MintDefaults{}, xerrors.New(xerrors.CodeNotConfigured, "缺省铸币数量必须为正整数")
	}
	defaults.Amount = new(big.Int).Set(amount)
	return defaults, nil
}
