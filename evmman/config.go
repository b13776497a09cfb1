package evmman

import "github.com/fusionswap/orchestrator-go/agreement"

type Config struct {
	// URL is the URL of the EVM node
	URL string

	// EscrowContractAddress is the deployed HTLC escrow contract address in hex string
	EscrowContractAddress string

	// PrivateKey signs outbound transactions, hex without 0x prefix
	PrivateKey string

	// ChainID of the target network, needed by the EIP-155 signer
	ChainID int64

	// ChainTag names this ledger in orders and cursors
	ChainTag agreement.ChainTag
}
