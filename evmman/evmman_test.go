package evmman

import (
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/fusionswap/orchestrator-go/agreement"
	"github.com/fusionswap/orchestrator-go/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEvmman(t *testing.T) *Evmman {
	parsed, err := abi.JSON(strings.NewReader(escrowABI))
	require.NoError(t, err)
	return &Evmman{
		chain:     agreement.ChainTag("evm"),
		escrowABI: parsed,
	}
}

func TestDecodeEscrowCreated(t *testing.T) {
	em := newTestEvmman(t)

	lockId := common.RandBytes32()
	hashlock := common.RandBytes32()
	recipient := ethcommon.HexToAddress("0x00000000000000000000000000000000deadbeef")

	data, err := em.escrowABI.Events["EscrowCreated"].Inputs.NonIndexed().Pack(
		[32]byte(hashlock), recipient, big.NewInt(1_000_000), big.NewInt(1_900_000_000))
	require.NoError(t, err)

	ev, err := em.decodeEscrowCreated(&types.Log{
		Topics: []ethcommon.Hash{EscrowCreatedSignatureHash, lockId},
		Data:   data,
	})
	require.NoError(t, err)

	assert.Equal(t, agreement.ChainTag("evm"), ev.Chain)
	assert.Equal(t, lockId.Hex(), ev.LockId)
	assert.Equal(t, hashlock, ev.Hashlock)
	assert.Equal(t, big.NewInt(1_000_000), ev.Amount)
	assert.Equal(t, int64(1_900_000_000), ev.Timelock)
	assert.Equal(t, recipient.Hex(), ev.Recipient)
}

func TestDecodeSecretRevealed(t *testing.T) {
	em := newTestEvmman(t)

	lockId := common.RandBytes32()
	secret := common.RandBytes(32)

	data, err := em.escrowABI.Events["SecretRevealed"].Inputs.NonIndexed().Pack(secret)
	require.NoError(t, err)

	ev, err := em.decodeSecretRevealed(&types.Log{
		Topics: []ethcommon.Hash{SecretRevealedSignatureHash, lockId},
		Data:   data,
	})
	require.NoError(t, err)

	assert.Equal(t, lockId.Hex(), ev.LockId)
	assert.Equal(t, secret, ev.Secret)
}

func TestComputeLockIdDeterministic(t *testing.T) {
	sender := ethcommon.HexToAddress("0x0000000000000000000000000000000000000001")
	recipient := ethcommon.HexToAddress("0x0000000000000000000000000000000000000002")
	hashlock := common.RandBytes32()

	a := ComputeLockId(sender, recipient, big.NewInt(100), hashlock, 1_900_000_000)
	b := ComputeLockId(sender, recipient, big.NewInt(100), hashlock, 1_900_000_000)
	assert.Equal(t, a, b)

	c := ComputeLockId(sender, recipient, big.NewInt(101), hashlock, 1_900_000_000)
	assert.NotEqual(t, a, c)
}
