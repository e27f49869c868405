package web3

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ChainDefinitions models the structure of configs/chains.yaml. Chains are
// keyed by chain selector name, e.g. "ethereum-testnet-sepolia-arbitrum-1".
type ChainDefinitions struct {
	Chains map[string]ChainDefinition `yaml:"chains"`
}

// ChainDefinition describes a single chain endpoint definition.
type ChainDefinition struct {
	Type        string `yaml:"type"`
	ChainID     uint64 `yaml:"chain_id"`
	RPCURL      string `yaml:"rpc_url"`
	ReadBlock   string `yaml:"read_block"`
	Testnet     *bool  `yaml:"testnet"`
	Description string `yaml:"description"`
}

// IsTestnet reports whether the definition describes a test network. An
// explicit flag wins over name detection.
func (d ChainDefinition) IsTestnet(name string) bool {
	if d.Testnet != nil {
		return *d.Testnet
	}
	return IsTestnet(name)
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

// ParseChainDefinitions decodes chain definitions from YAML content.
func ParseChainDefinitions(content []byte) (ChainDefinitions, error) {
	var defs ChainDefinitions
	if err := yaml.Unmarshal(content, &defs); err != nil {
		return ChainDefinitions{}, fmt.Errorf("解析链配置失败: %w", err)
	}
	if defs.Chains == nil {
		defs.Chains = map[string]ChainDefinition{}
	}
	return defs, nil
}

// IsTestnet applies the naming convention used by chain selectors and
// workflow configs: ARBITRUM_SEPOLIA, or any name mentioning sepolia or
// testnet.
func IsTestnet(name string) bool {
	if name == "ARBITRUM_SEPOLIA" {
		return true
	}
	lower := strings.ToLower(name)
	return strings.Contains(lower, "sepolia") || strings.Contains(lower, "testnet")
}
