package evmman

import (
	"math/big"

	ethcommon "github.com/ethereum/go-ethereum/common"
)

// Raw log layouts, non-indexed fields in declaration order. The lockId
// is indexed and comes from the topic, not the data.

type escrowCreatedLog struct {
	Hashlock  [32]byte
	Recipient ethcommon.Address
	Amount    *big.Int
	Timelock  *big.Int
}

type secretRevealedLog struct {
	Secret []byte
}
