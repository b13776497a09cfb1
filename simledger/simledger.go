// In-memory ledger implementing the adapter contract. Used as the test
// double for the orchestrator, watcher, sweeper and bid engine suites;
// any cross-chain simulation belongs here, never in the core.

package simledger

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/fusionswap/orchestrator-go/agreement"
	ethcommon "github.com/ethereum/go-ethereum/common"
)

type escrow struct {
	lockId    string
	hashlock  ethcommon.Hash
	amount    *big.Int
	timelock  int64
	recipient string
	claimed   bool
	refunded  bool
}

type eventRecord struct {
	cursor uint64
	escrow *agreement.EscrowCreatedEvent
	reveal *agreement.SecretRevealedEvent
}

// SimulatedLedger is a single chain: every submission lands in the next
// cursor, events become visible through GetEvents exactly like a real
// adapter's log scan.
type SimulatedLedger struct {
	chain agreement.ChainTag

	mu            sync.Mutex
	tip           uint64
	seq           int
	escrows       map[string]*escrow
	events        []eventRecord
	included      map[string]uint64 // txRef -> cursor
	claimAttempts map[string]int

	failSubmit error // injected; consumed by the next Submit* call
}

func New(chain agreement.ChainTag) *SimulatedLedger {
	return &SimulatedLedger{
		chain:         chain,
		escrows:       make(map[string]*escrow),
		included:      make(map[string]uint64),
		claimAttempts: make(map[string]int),
	}
}

func (sl *SimulatedLedger) Chain() agreement.ChainTag {
	return sl.chain
}

// FailNextSubmit makes the next Submit* call return err once.
func (sl *SimulatedLedger) FailNextSubmit(err error) {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	sl.failSubmit = err
}

// AdvanceTip pushes the chain forward without activity, so events fall
// behind any configured confirmation depth.
func (sl *SimulatedLedger) AdvanceTip(n uint64) {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	sl.tip += n
}

func (sl *SimulatedLedger) SubmitEscrow(
	ctx context.Context,
	hashlock ethcommon.Hash,
	amount *big.Int,
	timelock int64,
	recipient string,
) (string, error) {
	sl.mu.Lock()
	defer sl.mu.Unlock()

	if err := sl.takeFailure(); err != nil {
		return "", err
	}
	if recipient == "" {
		return "", agreement.ErrInvalidRecipient
	}

	sl.seq++
	sl.tip++
	lockId := fmt.Sprintf("%s-lock-%d", sl.chain, sl.seq)
	sl.escrows[lockId] = &escrow{
		lockId:    lockId,
		hashlock:  hashlock,
		amount:    new(big.Int).Set(amount),
		timelock:  timelock,
		recipient: recipient,
	}
	sl.events = append(sl.events, eventRecord{
		cursor: sl.tip,
		escrow: &agreement.EscrowCreatedEvent{
			Chain:     sl.chain,
			LockId:    lockId,
			Cursor:    sl.tip,
			Hashlock:  hashlock,
			Amount:    new(big.Int).Set(amount),
			Timelock:  timelock,
			Recipient: recipient,
		},
	})
	sl.included[lockId] = sl.tip

	return lockId, nil
}

func (sl *SimulatedLedger) SubmitClaim(ctx context.Context, lockId string, secret []byte) (string, error) {
	sl.mu.Lock()
	defer sl.mu.Unlock()

	sl.claimAttempts[lockId]++
	if err := sl.takeFailure(); err != nil {
		return "", err
	}
	e, ok := sl.escrows[lockId]
	if !ok {
		return "", agreement.ErrLockNotFound
	}
	if e.claimed || e.refunded {
		return "", agreement.ErrAlreadySettled
	}

	e.claimed = true
	sl.tip++
	txRef := fmt.Sprintf("%s-claim-%s", sl.chain, lockId)
	sl.events = append(sl.events, eventRecord{
		cursor: sl.tip,
		reveal: &agreement.SecretRevealedEvent{
			Chain:  sl.chain,
			LockId: lockId,
			Cursor: sl.tip,
			Secret: append([]byte(nil), secret...),
		},
	})
	sl.included[txRef] = sl.tip

	return txRef, nil
}

func (sl *SimulatedLedger) SubmitRefund(ctx context.Context, lockId string) (string, error) {
	sl.mu.Lock()
	defer sl.mu.Unlock()

	if err := sl.takeFailure(); err != nil {
		return "", err
	}
	e, ok := sl.escrows[lockId]
	if !ok {
		return "", agreement.ErrLockNotFound
	}
	if e.claimed || e.refunded {
		return "", agreement.ErrAlreadySettled
	}
	if time.Now().Unix() < e.timelock {
		return "", agreement.ErrTimelockNotElapsed
	}

	e.refunded = true
	sl.tip++
	txRef := fmt.Sprintf("%s-refund-%s", sl.chain, lockId)
	sl.included[txRef] = sl.tip

	return txRef, nil
}

func (sl *SimulatedLedger) GetEvents(ctx context.Context, from, to uint64) (
	[]*agreement.EscrowCreatedEvent,
	[]*agreement.SecretRevealedEvent,
	error,
) {
	sl.mu.Lock()
	defer sl.mu.Unlock()

	var escrows []*agreement.EscrowCreatedEvent
	var reveals []*agreement.SecretRevealedEvent
	for _, rec := range sl.events {
		if rec.cursor < from || rec.cursor > to {
			continue
		}
		if rec.escrow != nil {
			escrows = append(escrows, rec.escrow)
		}
		if rec.reveal != nil {
			reveals = append(reveals, rec.reveal)
		}
	}
	return escrows, reveals, nil
}

func (sl *SimulatedLedger) TipCursor(ctx context.Context) (uint64, error) {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	return sl.tip, nil
}

func (sl *SimulatedLedger) ConfirmationsOf(ctx context.Context, txRef string) (uint64, error) {
	sl.mu.Lock()
	defer sl.mu.Unlock()

	at, ok := sl.included[txRef]
	if !ok {
		return 0, nil
	}
	return sl.tip - at + 1, nil
}

// Escrow state accessors for test assertions.

func (sl *SimulatedLedger) IsClaimed(lockId string) bool {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	e, ok := sl.escrows[lockId]
	return ok && e.claimed
}

func (sl *SimulatedLedger) IsRefunded(lockId string) bool {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	e, ok := sl.escrows[lockId]
	return ok && e.refunded
}

func (sl *SimulatedLedger) ClaimAttempts(lockId string) int {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	return sl.claimAttempts[lockId]
}

func (sl *SimulatedLedger) takeFailure() error {
	if sl.failSubmit != nil {
		err := sl.failSubmit
		sl.failSubmit = nil
		return err
	}
	return nil
}
