package sweeper

import (
	"context"
	"database/sql"
	"math/big"
	"testing"
	"time"

	"github.com/fusionswap/orchestrator-go/agreement"
	"github.com/fusionswap/orchestrator-go/common"
	"github.com/fusionswap/orchestrator-go/orchestrator"
	"github.com/fusionswap/orchestrator-go/simledger"
	"github.com/fusionswap/orchestrator-go/state"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testSweepEnv struct {
	sweeper *Sweeper
	statedb *state.StateDB
	source  *simledger.SimulatedLedger
	dest    *simledger.SimulatedLedger
}

func newTestSweepEnv(t *testing.T, cfg *Config) *testSweepEnv {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)

	statedb, err := state.NewStateDB(db)
	require.NoError(t, err)
	t.Cleanup(statedb.Close)

	source := simledger.New(agreement.ChainTag("evm"))
	dest := simledger.New(agreement.ChainTag("aptos"))

	orc, err := orchestrator.New(&orchestrator.Config{
		SourceChain: source.Chain(),
		DestChain:   dest.Chain(),
		Chains: map[agreement.ChainTag]orchestrator.ChainSpec{
			source.Chain(): {Asset: "ETH", HashAlgo: agreement.HashAlgoKeccak256},
			dest.Chain():   {Asset: "APT", HashAlgo: agreement.HashAlgoSha256},
		},
		SafetyMargin: time.Minute,
	}, statedb, []agreement.LedgerAdapter{source, dest}, nil)
	require.NoError(t, err)

	if cfg == nil {
		cfg = &Config{}
	}
	return &testSweepEnv{
		sweeper: New(cfg, statedb, orc),
		statedb: statedb,
		source:  source,
		dest:    dest,
	}
}

// expiredEscrowedOrder seeds an escrowed order whose timelocks already
// elapsed, backed by real escrows on both simulated chains.
func (env *testSweepEnv) expiredEscrowedOrder(t *testing.T) *state.SwapOrder {
	now := time.Now().Unix()
	lock := common.RandBytes32()

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
	return o
}

func TestSweepExpiresAndRefunds(t *testing.T) {
	env := newTestSweepEnv(t, nil)
	o := env.expiredEscrowedOrder(t)

	require.NoError(t, env.sweeper.SweepOnce(context.Background()))

	got, found, err := env.statedb.GetOrder(o.OrderId)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, state.OrderStatusRefunded, got.Status)
	assert.True(t, env.source.IsRefunded(o.SourceLockId))
	assert.True(t, env.dest.IsRefunded(o.DestLockId))
}

func TestSweepSkipsRevealPathOrders(t *testing.T) {
	env := newTestSweepEnv(t, nil)

	now := time.Now().Unix()
	o := state.RandOrder(state.OrderStatusSecretRevealed)
	o.TimelockSource = now - 100
	o.TimelockDest = now - 200
	require.NoError(t, env.statedb.UpsertOrder(o))

	require.NoError(t, env.sweeper.SweepOnce(context.Background()))

	got, _, err := env.statedb.GetOrder(o.OrderId)
	require.NoError(t, err)
	assert.Equal(t, state.OrderStatusSecretRevealed, got.Status)
}

func TestSweepLeavesLiveOrdersAlone(t *testing.T) {
	env := newTestSweepEnv(t, nil)

	o := state.RandOrder(state.OrderStatusEscrowed)
	require.NoError(t, env.statedb.UpsertOrder(o))

	require.NoError(t, env.sweeper.SweepOnce(context.Background()))

	got, _, err := env.statedb.GetOrder(o.OrderId)
	require.NoError(t, err)
	assert.Equal(t, state.OrderStatusEscrowed, got.Status)
}

func TestSweepArchivesAgedTerminalOrders(t *testing.T) {
	env := newTestSweepEnv(t, &Config{Retention: time.Hour})

	old := state.RandOrder(state.OrderStatusCompleted)
	old.UpdatedAt = time.Now().Add(-2 * time.Hour).Unix()
	require.NoError(t, env.statedb.UpsertOrder(old))

	fresh := state.RandOrder(state.OrderStatusCompleted)
	require.NoError(t, env.statedb.UpsertOrder(fresh))

	require.NoError(t, env.sweeper.SweepOnce(context.Background()))

	_, found, err := env.statedb.GetOrder(old.OrderId)
	require.NoError(t, err)
	assert.False(t, found)

	_, found, err = env.statedb.GetOrder(fresh.OrderId)
	require.NoError(t, err)
	assert.True(t, found)
}

func TestSweeperLoop(t *testing.T) {
	env := newTestSweepEnv(t, &Config{Interval: 20 * time.Millisecond})
	o := env.expiredEscrowedOrder(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go env.sweeper.Loop(ctx)

	require.Eventually(t, func() bool {
		got, found, err := env.statedb.GetOrder(o.OrderId)
		return err == nil && found && got.Status == state.OrderStatusRefunded
	}, 5*time.Second, 10*time.Millisecond)
}
