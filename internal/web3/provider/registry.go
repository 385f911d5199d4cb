package provider

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"sync"

	"TokenAction-Chain/internal/config"
	xerrors "TokenAction-Chain/internal/errors"
	"TokenAction-Chain/internal/web3"
	"TokenAction-Chain/internal/web3/ethereum"
)

// Registry resolves chain configurations by name and hands out one lazily
// dialed client per chain.
type Registry struct {
	defaultChain string
	configs      map[string]web3.ChainConfig
	notes        map[string]string

	mu      sync.Mutex
	clients map[string]*ethereum.Client
}

// NewRegistry loads chain definitions and resolves their secrets from the
// environment. Chains without an endpoint are kept so callers can report
// them as NOT_CONFIGURED instead of failing at startup.
func NewRegistry(cfg config.Web3Config) (*Registry, error) {
	defs, err := web3.LoadChainDefinitions(cfg.ChainFile)
	if err != nil {
		return nil, err
	}

	configs := make(map[string]web3.ChainConfig)
	notes := make(map[string]string)
	for name, chain := range defs.Chains {
		chainType := strings.ToLower(strings.TrimSpace(chain.Type))
		if chainType != "" && chainType != "evm" {
			return nil, fmt.Errorf("链 %s 使用了不支持的类型 %s", name, chain.Type)
		}
		configs[name] = chain.ChainConfig(name)
		notes[name] = chain.Description
	}

	defaultChain := strings.TrimSpace(cfg.DefaultChain)
	if defaultChain == "" && len(configs) > 0 {
		defaultChain = sortedKeys(configs)[0]
	}
	if defaultChain == "" {
		defaultChain = "default"
	}
	if _, ok := configs[defaultChain]; !ok {
		configs[defaultChain] = web3.ChainDefinition{
			RPCURL:        cfg.RPCURL,
			RPCURLEnv:     cfg.RPCURLEnv,
			ChainID:       cfg.ChainID,
			PrivateKeyEnv: cfg.PrivateKeyEnv,
		}.ChainConfig(defaultChain)
	}

	return &Registry{
		defaultChain: defaultChain,
		configs:      configs,
		notes:        notes,
		clients:      make(map[string]*ethereum.Client),
	}, nil
}

// DefaultChain returns the name of the chain used when none is requested.
func (r *Registry) DefaultChain() string {
	if r == nil {
		return ""
	}
	return r.defaultChain
}

// ChainConfig returns the resolved configuration for name; an empty name
// selects the default chain.
func (r *Registry) ChainConfig(name string) (web3.ChainConfig, bool) {
	if r == nil {
		return web3.ChainConfig{}, false
	}
	if name == "" {
		name = r.defaultChain
	}
	cfg, ok := r.configs[name]
	return cfg, ok
}

// Dial implements web3.Dialer. The client for a chain is created on first
// use and reused afterwards.
func (r *Registry) Dial(ctx context.Context, cfg web3.ChainConfig) (web3.Backend, error) {
	return r.client(ctx, cfg)
}

func (r *Registry) client(ctx context.Context, cfg web3.ChainConfig) (*ethereum.Client, error) {
	if r == nil {
		return nil, xerrors.New(xerrors.CodeNotConfigured, "未初始化的链客户端注册表")
	}
	if !cfg.HasEndpoint() {
		return nil, xerrors.New(xerrors.CodeNotConfigured, "未配置 RPC 地址",
			xerrors.WithMetadata("chain", cfg.Name))
	}
	key := cfg.Name + "|" + cfg.RPCURL

	r.mu.Lock()
	defer r.mu.Unlock()
	if client, ok := r.clients[key]; ok {
		return client, nil
	}
	client, err := ethereum.NewClient(ctx, ethereum.Config{
		Name:   cfg.Name,
		RPCURL: cfg.RPCURL,
		Notes:  r.notes[cfg.Name],
	})
	if err != nil {
		return nil, err
	}
	r.clients[key] = client
	return client, nil
}

// Snapshot fetches chain id and head for the named chain.
func (r *Registry) Snapshot(ctx context.Context, name string) (web3.ChainSnapshot, error) {
	cfg, ok := r.ChainConfig(name)
	if !ok {
		return web3.ChainSnapshot{}, xerrors.New(xerrors.CodeNotConfigured, "链未在配置中找到",
			xerrors.WithMetadata("chain", name))
	}
	client, err := r.client(ctx, cfg)
	if err != nil {
		return web3.ChainSnapshot{}, err
	}
	return client.FetchChainSnapshot(ctx)
}

// Close releases all clients managed by the registry.
func (r *Registry) Close() {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, client := range r.clients {
		client.Close()
		delete(r.clients, key)
	}
}

// Chains returns the list of registered chain names.
func (r *Registry) Chains() []string {
	if r == nil {
		return nil
	}
	return sortedKeys(r.configs)
}

// ChainInfo is the public, secret-free description of a chain.
type ChainInfo struct {
	Name        string `json:"name"`
	ChainID     string `json:"chain_id,omitempty"`
	Configured  bool   `json:"configured"`
	CanSign     bool   `json:"can_sign"`
	Default     bool   `json:"default"`
	Description string `json:"description,omitempty"`
}

// Describe lists every chain without exposing endpoints or keys.
func (r *Registry) Describe() []ChainInfo {
	names := r.Chains()
	out := make([]ChainInfo, 0, len(names))
	for _, name := range names {
		cfg := r.configs[name]
		info := ChainInfo{
			Name:        name,
			Configured:  cfg.HasEndpoint(),
			CanSign:     cfg.HasCredential(),
			Default:     name == r.defaultChain,
			Description: r.notes[name],
		}
		if cfg.ChainID != nil && cfg.ChainID.Cmp(big.NewInt(0)) > 0 {
			info.ChainID = cfg.ChainID.String()
		}
		out = append(out, info)
	}
	return out
}

func sortedKeys(m map[string]web3.ChainConfig) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

var _ web3.Dialer = (*Registry)(nil)
