package web3

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ChainDefinitions models the structure of configs/chains.yaml.
type ChainDefinitions struct {
	Chains map[string]ChainDefinition `yaml:"chains"`
}

// ChainDefinition describes a single chain endpoint and the tokens it carries.
type ChainDefinition struct {
	Type           string            `yaml:"type"`
	RPCURL         string            `yaml:"rpc_url"`
	ChainID        int64             `yaml:"chain_id"`
	NativeSymbol   string            `yaml:"native_symbol"`
	PrivateKeyEnv  string            `yaml:"private_key_env"`
	Description    string            `yaml:"description"`
	Tokens         []TokenDefinition `yaml:"tokens"`
	ExplorerTxBase string            `yaml:"explorer_tx_base"`
}

// TokenDefinition describes an ERC-20 token deployed on a chain.
type TokenDefinition struct {
	Symbol   string `yaml:"symbol"`
	Address  string `yaml:"address"`
	Decimals uint8  `yaml:"decimals"`
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
	return ParseChainDefinitions(content)
}

// ParseChainDefinitions decodes chain definitions and validates token entries.
func ParseChainDefinitions(content []byte) (ChainDefinitions, error) {
	var defs ChainDefinitions
	if err := yaml.Unmarshal(content, &defs); err != nil {
		return ChainDefinitions{}, fmt.Errorf("解析链配置失败: %w", err)
	}
	if defs.Chains == nil {
		defs.Chains = map[string]ChainDefinition{}
	}
	for name, chain := range defs.Chains {
		if chain.NativeSymbol == "" {
			chain.NativeSymbol = "ETH"
		}
		for i, tok := range chain.Tokens {
			if strings.TrimSpace(tok.Symbol) == "" || !IsHexAddress(tok.Address) {
				return ChainDefinitions{}, fmt.Errorf("链 %s 的第 %d 个代币配置无效", name, i+1)
			}
			chain.Tokens[i].Symbol = strings.ToUpper(strings.TrimSpace(tok.Symbol))
		}
		defs.Chains[name] = chain
	}
	return defs, nil
}
