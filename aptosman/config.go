package aptosman

import (
	"github.com/aptos-labs/aptos-go-sdk"

	"github.com/fusionswap/orchestrator-go/agreement"
)

type Config struct {
	// ModuleAddress is the publisher address of the escrow Move module
	ModuleAddress string

	// Network type: mainnet, testnet, devnet
	Network string

	// ChainTag names this ledger in orders and cursors
	ChainTag agreement.ChainTag
}

const (
	NetworkMainnet = "mainnet"
	NetworkTestnet = "testnet"
	NetworkDevnet  = "devnet"
)

// GetNetworkConfig maps the network name to the fullnode REST base URL
// and the SDK network config.
func GetNetworkConfig(network string) (string, aptos.NetworkConfig) {
	switch network {
	case NetworkMainnet:
		return "https://fullnode.mainnet.aptoslabs.com/v1", aptos.MainnetConfig
	case NetworkTestnet:
		return "https://fullnode.testnet.aptoslabs.com/v1", aptos.TestnetConfig
	default:
		return "https://fullnode.devnet.aptoslabs.com/v1", aptos.DevnetConfig
	}
}
