package agreement

import "errors"

// Sentinel errors every LedgerAdapter maps its chain-native failures to,
// so the orchestrator can classify without knowing the chain.
var (
	// ErrAlreadySettled: the escrow was already claimed or refunded.
	// Callers treat it as success of the operation's intent.
	ErrAlreadySettled = errors.New("escrow already settled")

	// ErrLockNotFound: no escrow under this lock id.
	ErrLockNotFound = errors.New("escrow lock not found")

	// ErrTimelockNotElapsed: refund attempted before the timelock.
	ErrTimelockNotElapsed = errors.New("timelock not elapsed")

	// ErrInvalidRecipient: the recipient cannot receive on this ledger.
	// Irrecoverable, never retried.
	ErrInvalidRecipient = errors.New("invalid recipient")
)
