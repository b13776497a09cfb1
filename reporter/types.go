package reporter

import (
	"encoding/hex"

	"github.com/fusionswap/orchestrator-go/state"
)

type SubmitOrderRequest struct {
	Chain     string `json:"chain" binding:"required"`
	LockId    string `json:"lockId" binding:"required"`
	Hashlock  string `json:"hashlock" binding:"required"`
	Amount    string `json:"amount" binding:"required"`
	Timelock  int64  `json:"timelock" binding:"required"`
	Recipient string `json:"recipient" binding:"required"`
}

type SubmitBidRequest struct {
	OrderId      string `json:"orderId" binding:"required"`
	Resolver     string `json:"resolver" binding:"required"`
	InputAmount  string `json:"inputAmount" binding:"required"`
	OutputAmount string `json:"outputAmount" binding:"required"`
	GasEstimate  string `json:"gasEstimate" binding:"required"`
}

// OrderView is the JSON shape of a swap order. Amounts are decimal
// strings, the secret stays internal until revealed on-chain.
type OrderView struct {
	OrderId        string `json:"orderId"`
	Direction      string `json:"direction"`
	Status         string `json:"status"`
	SourceChain    string `json:"sourceChain"`
	DestChain      string `json:"destChain"`
	SourceLockId   string `json:"sourceLockId"`
	DestLockId     string `json:"destLockId,omitempty"`
	Hashlock       string `json:"hashlock"`
	HashAlgo       string `json:"hashAlgo"`
	AmountSource   string `json:"amountSource"`
	AmountDest     string `json:"amountDest,omitempty"`
	TimelockSource int64  `json:"timelockSource"`
	TimelockDest   int64  `json:"timelockDest,omitempty"`
	Recipient      string `json:"recipient"`
	SourceAsset    string `json:"sourceAsset"`
	DestAsset      string `json:"destAsset"`
	Secret         string `json:"secret,omitempty"`
	CreatedAt      int64  `json:"createdAt"`
	UpdatedAt      int64  `json:"updatedAt"`
}

func NewOrderView(o *state.SwapOrder) *OrderView {
	view := &OrderView{
		OrderId:        o.OrderId.Hex(),
		Direction:      string(o.Direction),
		Status:         string(o.Status),
		SourceChain:    string(o.SourceChain),
		DestChain:      string(o.DestChain),
		SourceLockId:   o.SourceLockId,
		DestLockId:     o.DestLockId,
		Hashlock:       o.Hashlock.Hex(),
		HashAlgo:       string(o.HashAlgo),
		AmountSource:   o.AmountSource.String(),
		TimelockSource: o.TimelockSource,
		TimelockDest:   o.TimelockDest,
		Recipient:      o.Recipient,
		SourceAsset:    o.SourceAsset,
		DestAsset:      o.DestAsset,
		CreatedAt:      o.CreatedAt,
		UpdatedAt:      o.UpdatedAt,
	}
	if o.AmountDest != nil {
		view.AmountDest = o.AmountDest.String()
	}
	if len(o.Secret) > 0 && o.Status.IsTerminal() {
		view.Secret = "0x" + hex.EncodeToString(o.Secret)
	}
	return view
}
