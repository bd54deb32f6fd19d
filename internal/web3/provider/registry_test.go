package provider

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"TravelAgent-Chain/internal/config"
)

func writeChains(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chains.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write chains: %v", err)
	}
	return path
}

func TestRegistryDefaultsToFirstChain(t *testing.T) {
	path := writeChains(t, `
chains:
  sepolia:
    rpc_url: http://127.0.0.1:8545
    chain_id: 11155111
  base-sepolia:
    rpc_url: http://127.0.0.1:8546
    chain_id: 84532
    tokens:
      - symbol: USDC
        address: "0x036CbD53842c5426634e7929541eC2318f3dCF7e"
        decimals: 6
`)
	reg, err := NewRegistry(context.Background(), config.Web3Config{ChainConfig: path}, "")
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	defer reg.Close()

	if got := reg.Chains(); len(got) != 2 || got[0] != "base-sepolia" {
		t.Fatalf("unexpected chains %v", got)
	}
	client, err := reg.DefaultClient()
	if err != nil {
		t.Fatalf("default client: %v", err)
	}
	if _, ok := client.Token("USDC"); !ok {
		t.Fatalf("default chain should be base-sepolia with USDC configured")
	}
	if _, ok := client.Account(); ok {
		t.Fatalf("no key configured, account should be absent")
	}
}

func TestRegistryWithoutChains(t *testing.T) {
	_, err := NewRegistry(context.Background(), config.Web3Config{}, "")
	if !errors.Is(err, ErrNoChains) {
		t.Fatalf("expected ErrNoChains, got %v", err)
	}
}

func TestRegistryUnknownDefault(t *testing.T) {
	path := writeChains(t, "chains:\n  sepolia:\n    rpc_url: http://127.0.0.1:8545\n")
	if _, err := NewRegistry(context.Background(), config.Web3Config{ChainConfig: path, DefaultChain: "mainnet"}, ""); err == nil {
		t.Fatalf("unknown default chain should fail")
	}
}
