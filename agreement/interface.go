// Implement following interfaces to make the orchestrator work with your chain.

package agreement

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// LedgerAdapter is the per-chain interface the orchestrator drives.
// Implementations are stateless and safe for concurrent use from
// multiple loops. Every call must honor the deadline on ctx; exceeding
// it is a retryable failure, never a silent success.
type LedgerAdapter interface {
	// Which chain this adapter talks to.
	Chain() ChainTag

	// SubmitEscrow locks amount under hashlock until timelock, payable
	// to recipient. Returns the ledger-native lock id.
	SubmitEscrow(ctx context.Context, hashlock common.Hash, amount *big.Int, timelock int64, recipient string) (string, error)

	// SubmitClaim reveals the secret to sweep the escrowed funds.
	SubmitClaim(ctx context.Context, lockId string, secret []byte) (string, error)

	// SubmitRefund returns the escrowed funds to the locker. Only valid
	// after the escrow's timelock elapsed.
	SubmitRefund(ctx context.Context, lockId string) (string, error)

	// GetEvents fetches escrow-creation and secret-reveal events in the
	// cursor range [from, to], ordered old -> new. On ETH the cursor is
	// a block number, on Aptos the ledger version.
	GetEvents(ctx context.Context, from, to uint64) ([]*EscrowCreatedEvent, []*SecretRevealedEvent, error)

	// TipCursor returns the newest cursor the chain has finalized.
	TipCursor(ctx context.Context) (uint64, error)

	// ConfirmationsOf reports how many cursors have passed since the
	// given transaction was included. 0 = not yet included.
	ConfirmationsOf(ctx context.Context, txRef string) (uint64, error)
}

// RateQuoter converts a source-ledger amount into its destination-ledger
// equivalent. Pluggable: a fixed table or a live feed both satisfy it.
type RateQuoter interface {
	Quote(sourceAmount *big.Int, sourceAsset, destAsset string) (*big.Int, error)
}

// ResolverRegistry is consulted by the bid engine before accepting a bid.
type ResolverRegistry interface {
	IsAuthorizedResolver(identity string) bool
}
