package evm

import (
	"fmt"
	"math/big"
	"strings"

	x402 "github.com/agent402/x402-go"
)

// AssetInfo describes a payment token on one network: the contract address
// and the EIP-712 domain fields plus decimals for display conversion.
type AssetInfo struct {
	Address  string
	Name     string
	Version  string
	Decimals int
}

// NetworkConfig describes one supported EVM network.
type NetworkConfig struct {
	Network      x402.Network
	ChainID      *big.Int
	DefaultAsset AssetInfo
}

// NetworkConfigs maps CAIP-2 identifiers to their configuration. Defaults
// target the native USDC deployments; gate operators charging in another
// token supply their own asset in the resource config.
var NetworkConfigs = map[x402.Network]NetworkConfig{
	"eip155:8453": {
		Network: "eip155:8453",
		ChainID: big.NewInt(8453),
		DefaultAsset: AssetInfo{
			Address:  "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
			Name:     "USD Coin",
			Version:  "2",
			Decimals: 6,
		},
	},
	"eip155:84532": {
		Network: "eip155:84532",
		ChainID: big.NewInt(84532),
		DefaultAsset: AssetInfo{
			Address:  "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
			Name:     "USDC",
			Version:  "2",
			Decimals: 6,
		},
	},
}

// networkAliases maps the short network names used by older clients and the
// original dashboard to their CAIP-2 identifiers.
var networkAliases = map[string]x402.Network{
	"base":         "eip155:8453",
	"base-sepolia": "eip155:84532",
}

// ResolveNetwork normalizes a network name (CAIP-2 or legacy alias) to its
// configuration.
func ResolveNetwork(network string) (NetworkConfig, error) {
	if canonical, ok := networkAliases[strings.ToLower(network)]; ok {
		network = string(canonical)
	}
	config, ok := NetworkConfigs[x402.Network(network)]
	if !ok {
		return NetworkConfig{}, x402.NewPaymentError(x402.ErrCodeUnsupportedNetwork,
			fmt.Sprintf("unsupported network: %s", network), nil)
	}
	return config, nil
}

// IsValidNetwork reports whether network resolves to a supported
// configuration.
func IsValidNetwork(network string) bool {
	_, err := ResolveNetwork(network)
	return err == nil
}

// AssetInfoFor returns asset metadata for a token address on a network. An
// unknown address gets conservative defaults and callers should override
// name/version through the quote's extra field.
func AssetInfoFor(network x402.Network, asset string) (AssetInfo, error) {
	config, err := ResolveNetwork(string(network))
	if err != nil {
		return AssetInfo{}, err
	}
	if asset == "" || strings.EqualFold(asset, config.DefaultAsset.Address) {
		return config.DefaultAsset, nil
	}
	return AssetInfo{
		Address:  asset,
		Name:     x402.DefaultTokenName,
		Version:  x402.DefaultTokenVersion,
		Decimals: 6,
	}, nil
}
