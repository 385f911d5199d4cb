package web3

import (
	"fmt"
	"math/big"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ChainDefinitions models the structure of configs/chain.yaml.
type ChainDefinitions struct {
	Chains map[string]ChainDefinition `yaml:"chains"`
}

// ChainDefinition describes a single chain endpoint definition. Secrets are
// referenced by environment variable name, never stored inline.
type ChainDefinition struct {
	Type          string `yaml:"type"`
	RPCURL        string `yaml:"rpc_url"`
	RPCURLEnv     string `yaml:"rpc_url_env"`
	ChainID       int64  `yaml:"chain_id"`
	PrivateKeyEnv string `yaml:"private_key_env"`
	Description   string `yaml:"description"`
}

// LoadChainDefinitions parses the YAML file containing chain metadata.
func LoadChainDefinitions(path string) (ChainDefinitions, error) {
	if strings.TrimSpace(path) == "" {
		return ChainDefinitions{Chains: map[string]ChainDefinition{}}, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return ChainDefinitions{}, fmt.Errorf("读取链配置失败: %w", err)
	}

	var defs ChainDefinitions
	if err := yaml.Unmarshal(content, &defs); err != nil {
		return ChainDefinitions{}, fmt.Errorf("解析链配置失败: %w", err)
	}
	if defs.Chains == nil {
		defs.Chains = map[string]ChainDefinition{}
	}
	return defs, nil
}

// ChainConfig resolves the definition against the process environment.
// Missing values are left empty; callers report them as NOT_CONFIGURED.
func (d ChainDefinition) ChainConfig(name string) ChainConfig {
	cfg := ChainConfig{
		Name:   name,
		RPCURL: strings.TrimSpace(d.RPCURL),
	}
	if cfg.RPCURL == "" && d.RPCURLEnv != "" {
		cfg.RPCURL = strings.TrimSpace(os.Getenv(d.RPCURLEnv))
	}
	if d.ChainID > 0 {
		cfg.ChainID = big.NewInt(d.ChainID)
	}
	if d.PrivateKeyEnv != "" {
		cfg.PrivateKey = strings.TrimSpace(os.Getenv(d.PrivateKeyEnv))
	}
	return cfg
}
