package state

import (
	"errors"
	"math/big"
	"time"

	"github.com/fusionswap/orchestrator-go/agreement"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

type OrderStatus string

const (
	OrderStatusDetected       OrderStatus = "detected"        // source escrow observed
	OrderStatusMirrored       OrderStatus = "mirrored"        // destination escrow submitted
	OrderStatusEscrowed       OrderStatus = "escrowed"        // destination escrow confirmed funded
	OrderStatusSecretRevealed OrderStatus = "secret_revealed" // valid preimage observed
	OrderStatusClaimed        OrderStatus = "claimed"         // counter-claim submitted
	OrderStatusCompleted      OrderStatus = "completed"       // counter-claim confirmed, terminal
	OrderStatusExpired        OrderStatus = "expired"         // timelock elapsed, refunds pending
	OrderStatusRefunded       OrderStatus = "refunded"        // all refunds confirmed, terminal
	OrderStatusFailed         OrderStatus = "failed"          // irrecoverable, terminal
)

type Direction string

const (
	DirectionSourceToDest Direction = "source_to_dest"
	DirectionDestToSource Direction = "dest_to_source"
)

var (
	ErrorOrderIdInvalid      = errors.New("order id invalid")
	ErrorHashlockInvalid     = errors.New("hashlock invalid")
	ErrorAmountInvalid       = errors.New("amount invalid")
	ErrorTimelockInvalid     = errors.New("timelock invalid")
	ErrorTimelockOrdering    = errors.New("destination timelock must be earlier than source timelock")
	ErrorRecipientInvalid    = errors.New("recipient invalid")
	ErrorSecretImmutable     = errors.New("secret is already set")
	ErrorHashlockImmutable   = errors.New("hashlock is already set")
	ErrorStatusTerminal      = errors.New("order is in a terminal status")
	ErrorTransitionForbidden = errors.New("transition not in the state graph")
)

// SwapOrder is one cross-ledger atomic swap.
type SwapOrder struct {
	OrderId        ethcommon.Hash // hash of the order parameters
	Direction      Direction
	SourceChain    agreement.ChainTag
	DestChain      agreement.ChainTag
	SourceLockId   string // ledger-native escrow id on the source chain
	DestLockId     string // unset until mirrored
	Hashlock       ethcommon.Hash
	HashAlgo       agreement.HashAlgo
	Secret         []byte // nil until a valid reveal; immutable once set
	AmountSource   *big.Int
	AmountDest     *big.Int
	TimelockSource int64 // absolute, unix seconds
	TimelockDest   int64 // strictly earlier than TimelockSource
	Recipient      string // destination-chain beneficiary
	SourceAsset    string
	DestAsset      string
	ClaimLockId    string // escrow our claim swept; set on claim submission
	Status         OrderStatus
	CreatedAt      int64
	UpdatedAt      int64
}

// transitionGraph holds the permitted edges of the order state machine.
// Terminal statuses have no outgoing edges.
var transitionGraph = map[OrderStatus][]OrderStatus{
	OrderStatusDetected:       {OrderStatusMirrored, OrderStatusExpired, OrderStatusFailed},
	OrderStatusMirrored:       {OrderStatusEscrowed, OrderStatusExpired, OrderStatusFailed},
	OrderStatusEscrowed:       {OrderStatusSecretRevealed, OrderStatusExpired, OrderStatusFailed},
	OrderStatusSecretRevealed: {OrderStatusClaimed, OrderStatusFailed},
	OrderStatusClaimed:        {OrderStatusCompleted, OrderStatusFailed},
	OrderStatusExpired:        {OrderStatusRefunded, OrderStatusFailed},
}

func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusCompleted || s == OrderStatusRefunded || s == OrderStatusFailed
}

// CanTransition reports whether from -> to is an edge of the state graph.
func CanTransition(from, to OrderStatus) bool {
	for _, next := range transitionGraph[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ComputeOrderId derives the globally unique order id from the immutable
// order parameters.
func ComputeOrderId(sourceChain agreement.ChainTag, sourceLockId string, hashlock ethcommon.Hash) ethcommon.Hash {
	return crypto.Keccak256Hash([]byte(sourceChain), []byte(sourceLockId), hashlock.Bytes())
}

// NewOrderFromEscrowEvent creates a SwapOrder in status detected from the
// first observed escrow-creation event on the source chain.
func NewOrderFromEscrowEvent(
	ev *agreement.EscrowCreatedEvent,
	destChain agreement.ChainTag,
	direction Direction,
	algo agreement.HashAlgo,
	sourceAsset, destAsset string,
) (*SwapOrder, error) {
	if ev.LockId == "" {
		return nil, ErrorOrderIdInvalid
	}
	if ev.Hashlock == (ethcommon.Hash{}) {
		return nil, ErrorHashlockInvalid
	}
	if ev.Amount == nil || ev.Amount.Sign() <= 0 {
		return nil, ErrorAmountInvalid
	}
	if ev.Timelock <= time.Now().Unix() {
		return nil, ErrorTimelockInvalid
	}
	if ev.Recipient == "" {
		return nil, ErrorRecipientInvalid
	}

	now := time.Now().Unix()
	return &SwapOrder{
		OrderId:        ComputeOrderId(ev.Chain, ev.LockId, ev.Hashlock),
		Direction:      direction,
		SourceChain:    ev.Chain,
		DestChain:      destChain,
		SourceLockId:   ev.LockId,
		Hashlock:       ev.Hashlock,
		HashAlgo:       algo,
		AmountSource:   new(big.Int).Set(ev.Amount),
		TimelockSource: ev.Timelock,
		Recipient:      ev.Recipient,
		SourceAsset:    sourceAsset,
		DestAsset:      destAsset,
		Status:         OrderStatusDetected,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// SetMirrored records the destination-side escrow once submitted. The
// destination timelock must sit strictly before the source timelock.
func (o *SwapOrder) SetMirrored(destLockId string, amountDest *big.Int, timelockDest int64) error {
	if destLockId == "" {
		return ErrorOrderIdInvalid
	}
	if amountDest == nil || amountDest.Sign() <= 0 {
		return ErrorAmountInvalid
	}
	if timelockDest >= o.TimelockSource {
		return ErrorTimelockOrdering
	}
	o.DestLockId = destLockId
	o.AmountDest = new(big.Int).Set(amountDest)
	o.TimelockDest = timelockDest
	return nil
}

// SetSecret records the revealed preimage. The caller must have verified
// it against the hashlock first; this only guards immutability.
func (o *SwapOrder) SetSecret(secret []byte) error {
	if len(o.Secret) != 0 {
		return ErrorSecretImmutable
	}
	o.Secret = append([]byte(nil), secret...)
	return nil
}
