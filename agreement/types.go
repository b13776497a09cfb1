// Global agreement on types shared between the watchers, the
// orchestrator and the bid engine.

package agreement

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// ChainTag names one of the two ledgers an order spans.
type ChainTag string

// HashAlgo tags the digest primitive a hashlock was computed with.
// It is carried on the order, never inferred from the chain.
type HashAlgo string

const (
	HashAlgoSha256    HashAlgo = "sha256"
	HashAlgoKeccak256 HashAlgo = "keccak256"
)

// EscrowCreatedEvent represents a new HTLC escrow observed on a ledger.
type EscrowCreatedEvent struct {
	Chain            ChainTag
	LockId           string // ledger-native escrow identifier
	Cursor           uint64 // chain position the event was included at; 0 = off-chain submission
	Hashlock         common.Hash
	Amount           *big.Int
	Timelock         int64 // absolute expiry, unix seconds
	Recipient        string
	CounterpartyHint string
}

func (ev *EscrowCreatedEvent) String() string {
	return fmt.Sprintf("%+v", *ev)
}

// SecretRevealedEvent represents a preimage revealed by a claim on a ledger.
type SecretRevealedEvent struct {
	Chain  ChainTag
	LockId string
	Cursor uint64 // chain position the event was included at
	Secret []byte
}

func (ev *SecretRevealedEvent) String() string {
	return fmt.Sprintf("EscrowLockId=%s Chain=%s", ev.LockId, ev.Chain)
}
