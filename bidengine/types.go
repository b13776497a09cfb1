package bidengine

import (
	"math/big"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// Bid is a resolver's priced offer against an open order.
type Bid struct {
	BidId        uuid.UUID
	OrderId      ethcommon.Hash
	Resolver     string // resolver identity, checked against the registry
	InputAmount  *big.Int
	OutputAmount *big.Int
	GasEstimate  *big.Int
	SubmittedAt  time.Time
	Active       bool // cleared once superseded or the order resolves
}

// Net is the value the evaluation rule maximizes:
// outputAmount - inputAmount - gasEstimate.
func (b *Bid) Net() *big.Int {
	net := new(big.Int).Sub(b.OutputAmount, b.InputAmount)
	return net.Sub(net, b.GasEstimate)
}
