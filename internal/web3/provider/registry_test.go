package provider

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"TokenAction-Chain/internal/config"
	xerrors "TokenAction-Chain/internal/errors"
)

func writeChainFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chain.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write chain file: %v", err)
	}
	return path
}

func TestRegistryFromChainFile(t *testing.T) {
	t.Setenv("TA_SEPOLIA_RPC", "http://127.0.0.1:8545")
	t.Setenv("TA_SEPOLIA_KEY", "0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318")
	path := writeChainFile(t, `
chains:
  sepolia:
    type: evm
    rpc_url_env: TA_SEPOLIA_RPC
    chain_id: 11155111
    private_key_env: TA_SEPOLIA_KEY
    description: test network
  local:
    rpc_url: http://127.0.0.1:9545
`)

	reg, err := NewRegistry(config.Web3Config{ChainFile: path, DefaultChain: "sepolia"})
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	defer reg.Close()

	if got := reg.Chains(); len(got) != 2 || got[0] != "local" || got[1] != "sepolia" {
		t.Fatalf("unexpected chains %v", got)
	}
	cfg, ok := reg.ChainConfig("")
	if !ok || cfg.Name != "sepolia" || !cfg.HasEndpoint() || !cfg.HasCredential() {
		t.Fatalf("default chain not resolved: %+v", cfg.Redacted())
	}
	if cfg.ChainID == nil || cfg.ChainID.Int64() != 11155111 {
		t.Fatalf("unexpected chain id %v", cfg.ChainID)
	}

	infos := reg.Describe()
	for _, info := range infos {
		if info.Name == "local" && (info.CanSign || info.Default) {
			t.Fatalf("unexpected local info %+v", info)
		}
		if info.Name == "sepolia" && (!info.CanSign || !info.Default || info.ChainID != "11155111") {
			t.Fatalf("unexpected sepolia info %+v", info)
		}
	}
}

func TestRegistryDialReusesClient(t *testing.T) {
	reg, err := NewRegistry(config.Web3Config{RPCURL: "http://127.0.0.1:8545", DefaultChain: "dev"})
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	defer reg.Close()

	cfg, ok := reg.ChainConfig("dev")
	if !ok {
		t.Fatalf("single chain config missing")
	}
	first, err := reg.Dial(context.Background(), cfg)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	second, err := reg.Dial(context.Background(), cfg)
	if err != nil {
		t.Fatalf("dial again: %v", err)
	}
	if first != second {
		t.Fatalf("expected the cached client to be reused")
	}
}

func TestRegistryWithoutEndpointIsNotConfigured(t *testing.T) {
	t.Setenv("TA_EMPTY_RPC", "")
	reg, err := NewRegistry(config.Web3Config{RPCURLEnv: "TA_EMPTY_RPC"})
	if err != nil {
		t.Fatalf("missing endpoint must not fail startup: %v", err)
	}
	if reg.DefaultChain() != "default" {
		t.Fatalf("unexpected default chain %q", reg.DefaultChain())
	}
	cfg, _ := reg.ChainConfig("")
	if _, err := reg.Dial(context.Background(), cfg); !xerrors.HasCode(err, xerrors.CodeNotConfigured) {
		t.Fatalf("expected NOT_CONFIGURED, got %v", err)
	}
	if _, err := reg.Snapshot(context.Background(), "unknown"); !xerrors.HasCode(err, xerrors.CodeNotConfigured) {
		t.Fatalf("expected NOT_CONFIGURED for unknown chain, got %v", err)
	}
}

func TestRegistryRejectsUnknownChainType(t *testing.T) {
	path := writeChainFile(t, "chains:\n  sol:\n    type: solana\n    rpc_url: http://x\n")
	if _, err := NewRegistry(config.Web3Config{ChainFile: path}); err == nil {
		t.Fatalf("expected unsupported type error")
	}
}
