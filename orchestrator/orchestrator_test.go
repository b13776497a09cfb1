package orchestrator

import (
	"context"
	"database/sql"
	"errors"
	"math/big"
	"path/filepath"
	"testing"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/fusionswap/orchestrator-go/agreement"
	"github.com/fusionswap/orchestrator-go/database"
	"github.com/fusionswap/orchestrator-go/hashlock"
	"github.com/fusionswap/orchestrator-go/quote"
	"github.com/fusionswap/orchestrator-go/retry"
	"github.com/fusionswap/orchestrator-go/simledger"
	"github.com/fusionswap/orchestrator-go/state"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testOrcEnv struct {
	orc     *Orchestrator
	statedb *state.StateDB
	source  *simledger.SimulatedLedger
	dest    *simledger.SimulatedLedger
	cancel  context.CancelFunc
}

func testQuoter(t *testing.T) agreement.RateQuoter {
	q, err := quote.NewFixedQuoter(map[string]quote.Rate{
		"ETH/APT": {Num: 95, Den: 100},
		"APT/ETH": {Num: 100, Den: 95},
	})
	require.NoError(t, err)
	return q
}

func newTestOrcEnv(t *testing.T, cfg *Config) *testOrcEnv {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)

	statedb, err := state.NewStateDB(db)
	require.NoError(t, err)
	t.Cleanup(statedb.Close)

	source := simledger.New(agreement.ChainTag("evm"))
	dest := simledger.New(agreement.ChainTag("aptos"))

	if cfg == nil {
		cfg = &Config{}
	}
	cfg.SourceChain = source.Chain()
	cfg.DestChain = dest.Chain()
	cfg.Chains = map[agreement.ChainTag]ChainSpec{
		source.Chain(): {Asset: "ETH", HashAlgo: agreement.HashAlgoKeccak256},
		dest.Chain():   {Asset: "APT", HashAlgo: agreement.HashAlgoSha256},
	}

	orc, err := New(cfg, statedb, []agreement.LedgerAdapter{source, dest}, testQuoter(t))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go orc.Start(ctx)

	return &testOrcEnv{
		orc:     orc,
		statedb: statedb,
		source:  source,
		dest:    dest,
		cancel:  cancel,
	}
}

// pump redelivers everything the ledger has ever emitted. Duplicate
// deliveries are part of the contract, so redelivery doubles as the
// idempotency exercise.
func (env *testOrcEnv) pump(t *testing.T, sl *simledger.SimulatedLedger) {
	escrows, reveals, err := sl.GetEvents(context.Background(), 0, ^uint64(0))
	require.NoError(t, err)
	for _, ev := range escrows {
		env.orc.GetEscrowCreatedEventChannel() <- ev
	}
	for _, ev := range reveals {
		env.orc.GetSecretRevealedEventChannel() <- ev
	}
}

func (env *testOrcEnv) waitStatus(t *testing.T, orderId ethcommon.Hash, want state.OrderStatus) *state.SwapOrder {
	var got *state.SwapOrder
	require.Eventually(t, func() bool {
		o, found, err := env.statedb.GetOrder(orderId)
		if err != nil || !found || o.Status != want {
			return false
		}
		got = o
		return true
	}, 5*time.Second, 10*time.Millisecond)
	return got
}

func TestHappyPathSourceToDest(t *testing.T) {
	env := newTestOrcEnv(t, &Config{AutoMirror: true, SafetyMargin: 30 * time.Minute})

	secret := []byte("the-swap-secret-0123456789abcdef")
	lock := hashlock.Lock(secret, agreement.HashAlgoKeccak256)

	srcLockId, err := env.source.SubmitEscrow(context.Background(),
		lock, big.NewInt(1_000_000), time.Now().Unix()+7200, "0xresponder")
	require.NoError(t, err)

	env.pump(t, env.source)
	orderId := state.ComputeOrderId(env.source.Chain(), srcLockId, lock)
	mirrored := env.waitStatus(t, orderId, state.OrderStatusMirrored)
	assert.Equal(t, big.NewInt(950_000), mirrored.AmountDest)
	assert.Less(t, mirrored.TimelockDest, mirrored.TimelockSource)

	env.pump(t, env.dest)
	escrowed := env.waitStatus(t, orderId, state.OrderStatusEscrowed)

	// the initiator sweeps the mirrored escrow, revealing the secret
	_, err = env.dest.SubmitClaim(context.Background(), escrowed.DestLockId, secret)
	require.NoError(t, err)

	env.pump(t, env.dest)
	env.waitStatus(t, orderId, state.OrderStatusClaimed)
	require.Eventually(t, func() bool {
		return env.source.IsClaimed(srcLockId)
	}, 5*time.Second, 10*time.Millisecond)

	// our own claim's reveal confirms completion
	env.pump(t, env.source)
	env.waitStatus(t, orderId, state.OrderStatusCompleted)
}

func TestInvalidSecretDoesNotUnlock(t *testing.T) {
	env := newTestOrcEnv(t, &Config{AutoMirror: true, SafetyMargin: 30 * time.Minute})

	secret := []byte("the-real-secret-0123456789abcdef")
	lock := hashlock.Lock(secret, agreement.HashAlgoKeccak256)

	srcLockId, err := env.source.SubmitEscrow(context.Background(),
		lock, big.NewInt(1_000_000), time.Now().Unix()+7200, "0xresponder")
	require.NoError(t, err)

	env.pump(t, env.source)
	orderId := state.ComputeOrderId(env.source.Chain(), srcLockId, lock)
	env.waitStatus(t, orderId, state.OrderStatusMirrored)
	env.pump(t, env.dest)
	escrowed := env.waitStatus(t, orderId, state.OrderStatusEscrowed)

	env.orc.GetSecretRevealedEventChannel() <- &agreement.SecretRevealedEvent{
		Chain:  env.dest.Chain(),
		LockId: escrowed.DestLockId,
		Secret: []byte("not-the-real-secret"),
	}

	// the order must not move and no claim may be attempted
	time.Sleep(200 * time.Millisecond)
	got, found, err := env.statedb.GetOrder(orderId)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, state.OrderStatusEscrowed, got.Status)
	assert.Empty(t, got.Secret)
	assert.Zero(t, env.source.ClaimAttempts(srcLockId))
}

func TestDuplicateRevealClaimsOnce(t *testing.T) {
	env := newTestOrcEnv(t, &Config{AutoMirror: true, SafetyMargin: 30 * time.Minute})

	secret := []byte("claim-once-secret-0123456789abcd")
	lock := hashlock.Lock(secret, agreement.HashAlgoKeccak256)

	srcLockId, err := env.source.SubmitEscrow(context.Background(),
		lock, big.NewInt(1_000_000), time.Now().Unix()+7200, "0xresponder")
	require.NoError(t, err)

	env.pump(t, env.source)
	orderId := state.ComputeOrderId(env.source.Chain(), srcLockId, lock)
	env.waitStatus(t, orderId, state.OrderStatusMirrored)
	env.pump(t, env.dest)
	escrowed := env.waitStatus(t, orderId, state.OrderStatusEscrowed)

	reveal := &agreement.SecretRevealedEvent{
		Chain:  env.dest.Chain(),
		LockId: escrowed.DestLockId,
		Secret: secret,
	}
	env.orc.GetSecretRevealedEventChannel() <- reveal
	env.orc.GetSecretRevealedEventChannel() <- reveal
	env.orc.GetSecretRevealedEventChannel() <- reveal

	env.waitStatus(t, orderId, state.OrderStatusClaimed)
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 1, env.source.ClaimAttempts(srcLockId))
}

func TestMirrorFailureFailsOrder(t *testing.T) {
	env := newTestOrcEnv(t, &Config{
		AutoMirror:   true,
		SafetyMargin: 30 * time.Minute,
		RetryPolicy:  retry.Policy{Attempts: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
	})

	env.dest.FailNextSubmit(errors.New("rpc node down"))

	lock := hashlock.Lock([]byte("some-secret"), agreement.HashAlgoKeccak256)
	srcLockId, err := env.source.SubmitEscrow(context.Background(),
		lock, big.NewInt(1_000_000), time.Now().Unix()+7200, "0xresponder")
	require.NoError(t, err)

	env.pump(t, env.source)
	orderId := state.ComputeOrderId(env.source.Chain(), srcLockId, lock)
	env.waitStatus(t, orderId, state.OrderStatusFailed)
}

func TestExpireAndRefund(t *testing.T) {
	env := newTestOrcEnv(t, &Config{SafetyMargin: time.Minute})

	now := time.Now().Unix()
	lock := hashlock.Lock([]byte("never-revealed"), agreement.HashAlgoKeccak256)

	srcLockId, err := env.source.SubmitEscrow(context.Background(),
		lock, big.NewInt(1_000_000), now-100, "0xresponder")
	require.NoError(t, err)
	destLockId, err := env.dest.SubmitEscrow(context.Background(),
		lock, big.NewInt(950_000), now-200, "0xinitiator")
	require.NoError(t, err)

	o := state.RandOrder(state.OrderStatusEscrowed)
	o.SourceLockId = srcLockId
	o.DestLockId = destLockId
	o.Hashlock = lock
	o.TimelockSource = now - 100
	o.TimelockDest = now - 200
	require.NoError(t, env.statedb.UpsertOrder(o))

	require.NoError(t, env.orc.ExpireAndRefund(context.Background(), o.OrderId))

	got, found, err := env.statedb.GetOrder(o.OrderId)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, state.OrderStatusRefunded, got.Status)
	assert.True(t, env.source.IsRefunded(srcLockId))
	assert.True(t, env.dest.IsRefunded(destLockId))
}

func TestPartialRefundStaysExpired(t *testing.T) {
	env := newTestOrcEnv(t, &Config{SafetyMargin: time.Minute})

	now := time.Now().Unix()
	lock := hashlock.Lock([]byte("never-revealed"), agreement.HashAlgoKeccak256)

	// the source refund window is open, the destination one is not
	srcLockId, err := env.source.SubmitEscrow(context.Background(),
		lock, big.NewInt(1_000_000), now-100, "0xresponder")
	require.NoError(t, err)
	destLockId, err := env.dest.SubmitEscrow(context.Background(),
		lock, big.NewInt(950_000), now+3600, "0xinitiator")
	require.NoError(t, err)

	o := state.RandOrder(state.OrderStatusExpired)
	o.SourceLockId = srcLockId
	o.DestLockId = destLockId
	o.Hashlock = lock
	o.TimelockSource = now - 100
	o.TimelockDest = now - 200
	require.NoError(t, env.statedb.UpsertOrder(o))

	require.NoError(t, env.orc.ExpireAndRefund(context.Background(), o.OrderId))

	got, found, err := env.statedb.GetOrder(o.OrderId)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, state.OrderStatusExpired, got.Status)
	assert.True(t, env.source.IsRefunded(srcLockId))
	assert.False(t, env.dest.IsRefunded(destLockId))
}

func TestRecoverResumesClaim(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "swaps.db")

	db, err := database.Open(dbPath)
	require.NoError(t, err)
	statedb, err := state.NewStateDB(db)
	require.NoError(t, err)

	source := simledger.New(agreement.ChainTag("evm"))
	dest := simledger.New(agreement.ChainTag("aptos"))

	secret := []byte("recovered-secret-0123456789abcde")
	lock := hashlock.Lock(secret, agreement.HashAlgoKeccak256)
	srcLockId, err := source.SubmitEscrow(context.Background(),
		lock, big.NewInt(1_000_000), time.Now().Unix()+7200, "0xresponder")
	require.NoError(t, err)

	o := state.RandOrder(state.OrderStatusSecretRevealed)
	o.SourceLockId = srcLockId
	o.Hashlock = lock
	o.Secret = secret
	o.ClaimLockId = srcLockId
	require.NoError(t, statedb.UpsertOrder(o))

	// crash: the claim was never submitted
	statedb.Close()
	db.Close()

	db, err = database.Open(dbPath)
	require.NoError(t, err)
	defer db.Close()
	statedb, err = state.NewStateDB(db)
	require.NoError(t, err)
	defer statedb.Close()

	cfg := &Config{
		SourceChain: source.Chain(),
		DestChain:   dest.Chain(),
		Chains: map[agreement.ChainTag]ChainSpec{
			source.Chain(): {Asset: "ETH", HashAlgo: agreement.HashAlgoKeccak256},
			dest.Chain():   {Asset: "APT", HashAlgo: agreement.HashAlgoSha256},
		},
	}
	orc, err := New(cfg, statedb, []agreement.LedgerAdapter{source, dest}, testQuoter(t))
	require.NoError(t, err)

	require.NoError(t, orc.Recover(context.Background()))

	got, found, err := statedb.GetOrder(o.OrderId)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, state.OrderStatusClaimed, got.Status)
	assert.True(t, source.IsClaimed(srcLockId))
}

func TestHandledEventsAdvanceDurableCursor(t *testing.T) {
	env := newTestOrcEnv(t, &Config{AutoMirror: true, SafetyMargin: 30 * time.Minute})

	var orderIds []ethcommon.Hash
	for _, secret := range []string{"cursor-secret-one-0123456789abcd", "cursor-secret-two-0123456789abcd"} {
		lock := hashlock.Lock([]byte(secret), agreement.HashAlgoKeccak256)
		lockId, err := env.source.SubmitEscrow(context.Background(),
			lock, big.NewInt(1_000_000), time.Now().Unix()+7200, "0xresponder")
		require.NoError(t, err)
		orderIds = append(orderIds, state.ComputeOrderId(env.source.Chain(), lockId, lock))
	}

	env.pump(t, env.source)
	env.waitStatus(t, orderIds[0], state.OrderStatusMirrored)
	env.waitStatus(t, orderIds[1], state.OrderStatusMirrored)

	// the durable cursor trails the newest handled event by one, so a
	// crash rescans every event sharing that chain position
	require.Eventually(t, func() bool {
		stored, found, err := env.statedb.GetCursor(env.source.Chain())
		return err == nil && found && stored == 1
	}, 5*time.Second, 10*time.Millisecond)
}

func TestOffChainSubmissionLeavesCursorUntouched(t *testing.T) {
	env := newTestOrcEnv(t, &Config{AutoMirror: true, SafetyMargin: 30 * time.Minute})

	lock := hashlock.Lock([]byte("off-chain-secret-0123456789abcde"), agreement.HashAlgoKeccak256)
	env.orc.GetEscrowCreatedEventChannel() <- &agreement.EscrowCreatedEvent{
		Chain:     env.source.Chain(),
		LockId:    "0xmanual",
		Hashlock:  lock,
		Amount:    big.NewInt(1_000_000),
		Timelock:  time.Now().Unix() + 7200,
		Recipient: "0xresponder",
	}
	env.waitStatus(t, state.ComputeOrderId(env.source.Chain(), "0xmanual", lock), state.OrderStatusMirrored)

	_, found, err := env.statedb.GetCursor(env.source.Chain())
	require.NoError(t, err)
	assert.False(t, found)
}
