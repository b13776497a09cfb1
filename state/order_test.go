package state

import (
	"math/big"
	"testing"
	"time"

	"github.com/fusionswap/orchestrator-go/agreement"
	"github.com/fusionswap/orchestrator-go/common"
	"github.com/stretchr/testify/assert"
)

func validEscrowEvent() *agreement.EscrowCreatedEvent {
	return &agreement.EscrowCreatedEvent{
		Chain:     "evm",
		LockId:    "0xabc123",
		Hashlock:  common.RandBytes32(),
		Amount:    big.NewInt(100),
		Timelock:  time.Now().Unix() + 7200,
		Recipient: "0xrecipient",
	}
}

func TestNewOrderFromEscrowEvent(t *testing.T) {
	ev := validEscrowEvent()
	o, err := NewOrderFromEscrowEvent(ev, "aptos", DirectionSourceToDest, agreement.HashAlgoSha256, "ETH", "APT")
	assert.NoError(t, err)
	assert.Equal(t, OrderStatusDetected, o.Status)
	assert.Equal(t, ev.LockId, o.SourceLockId)
	assert.Equal(t, ComputeOrderId(ev.Chain, ev.LockId, ev.Hashlock), o.OrderId)
	assert.Equal(t, int64(0), o.TimelockDest)
}

func TestNewOrderRejectsBadEvent(t *testing.T) {
	ev := validEscrowEvent()
	ev.Amount = big.NewInt(0)
	_, err := NewOrderFromEscrowEvent(ev, "aptos", DirectionSourceToDest, agreement.HashAlgoSha256, "ETH", "APT")
	assert.ErrorIs(t, err, ErrorAmountInvalid)

	ev = validEscrowEvent()
	ev.Timelock = time.Now().Unix() - 10
	_, err = NewOrderFromEscrowEvent(ev, "aptos", DirectionSourceToDest, agreement.HashAlgoSha256, "ETH", "APT")
	assert.ErrorIs(t, err, ErrorTimelockInvalid)

	ev = validEscrowEvent()
	ev.Recipient = ""
	_, err = NewOrderFromEscrowEvent(ev, "aptos", DirectionSourceToDest, agreement.HashAlgoSha256, "ETH", "APT")
	assert.ErrorIs(t, err, ErrorRecipientInvalid)
}

func TestSetMirroredTimelockOrdering(t *testing.T) {
	o := RandOrder(OrderStatusDetected)

	err := o.SetMirrored("dest-1", big.NewInt(90), o.TimelockSource)
	assert.ErrorIs(t, err, ErrorTimelockOrdering)

	err = o.SetMirrored("dest-1", big.NewInt(90), o.TimelockSource-600)
	assert.NoError(t, err)
	assert.Equal(t, o.TimelockSource-600, o.TimelockDest)
}

func TestSetSecretImmutable(t *testing.T) {
	o := RandOrder(OrderStatusEscrowed)
	secret := common.RandBytes(32)

	assert.NoError(t, o.SetSecret(secret))
	assert.Equal(t, secret, o.Secret)
	assert.ErrorIs(t, o.SetSecret(common.RandBytes(32)), ErrorSecretImmutable)
}

func TestTerminalStatusesHaveNoEdges(t *testing.T) {
	all := []OrderStatus{
		OrderStatusDetected, OrderStatusMirrored, OrderStatusEscrowed,
		OrderStatusSecretRevealed, OrderStatusClaimed, OrderStatusCompleted,
		OrderStatusExpired, OrderStatusRefunded, OrderStatusFailed,
	}
	for _, term := range []OrderStatus{OrderStatusCompleted, OrderStatusRefunded, OrderStatusFailed} {
		for _, to := range all {
			assert.False(t, CanTransition(term, to), "terminal %s must not leave", term)
		}
	}
}

func TestComputeOrderIdDeterministic(t *testing.T) {
	h := common.RandBytes32()
	a := ComputeOrderId("evm", "lock-1", h)
	b := ComputeOrderId("evm", "lock-1", h)
	c := ComputeOrderId("aptos", "lock-1", h)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}
