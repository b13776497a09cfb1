package chainsync

import (
	"context"
	"database/sql"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/fusionswap/orchestrator-go/agreement"
	"github.com/fusionswap/orchestrator-go/common"
	"github.com/fusionswap/orchestrator-go/retry"
	"github.com/fusionswap/orchestrator-go/simledger"
	"github.com/fusionswap/orchestrator-go/state"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testSink struct {
	escrowCh chan *agreement.EscrowCreatedEvent
	revealCh chan *agreement.SecretRevealedEvent
}

func newTestSink() *testSink {
	return &testSink{
		escrowCh: make(chan *agreement.EscrowCreatedEvent, 64),
		revealCh: make(chan *agreement.SecretRevealedEvent, 64),
	}
}

func (s *testSink) GetEscrowCreatedEventChannel() chan<- *agreement.EscrowCreatedEvent {
	return s.escrowCh
}

func (s *testSink) GetSecretRevealedEventChannel() chan<- *agreement.SecretRevealedEvent {
	return s.revealCh
}

func newTestStateDB(t *testing.T) *state.StateDB {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)

	statedb, err := state.NewStateDB(db)
	require.NoError(t, err)
	t.Cleanup(statedb.Close)
	return statedb
}

func submitEscrows(t *testing.T, sl *simledger.SimulatedLedger, n int) []string {
	var lockIds []string
	for i := 0; i < n; i++ {
		lockId, err := sl.SubmitEscrow(context.Background(),
			common.RandBytes32(), big.NewInt(100), time.Now().Unix()+7200, "0xresponder")
		require.NoError(t, err)
		lockIds = append(lockIds, lockId)
	}
	return lockIds
}

func TestWatcherHonorsConfirmationDepth(t *testing.T) {
	sl := simledger.New(agreement.ChainTag("evm"))
	sink := newTestSink()
	statedb := newTestStateDB(t)

	lockIds := submitEscrows(t, sl, 3) // tip = 3

	w, err := NewWatcher(&WatcherConfig{
		ConfirmationDepth: 2,
		ForceScanCursor:   -1,
	}, sl, sink, statedb)
	require.NoError(t, err)

	// only cursor 1 is behind the depth
	require.NoError(t, w.tick(context.Background()))
	require.Len(t, sink.escrowCh, 1)
	assert.Equal(t, lockIds[0], (<-sink.escrowCh).LockId)
	assert.Equal(t, uint64(1), w.LastProcessed())

	// idle chain, nothing new falls behind the depth
	require.NoError(t, w.tick(context.Background()))
	assert.Empty(t, sink.escrowCh)

	sl.AdvanceTip(2)
	require.NoError(t, w.tick(context.Background()))
	require.Len(t, sink.escrowCh, 2)
	assert.Equal(t, lockIds[1], (<-sink.escrowCh).LockId)
	assert.Equal(t, lockIds[2], (<-sink.escrowCh).LockId)
	assert.Equal(t, uint64(3), w.LastProcessed())
}

func TestWatcherRedeliversUnhandledEventsAfterRestart(t *testing.T) {
	sl := simledger.New(agreement.ChainTag("evm"))
	sink := newTestSink()
	statedb := newTestStateDB(t)

	submitEscrows(t, sl, 3)

	w, err := NewWatcher(&WatcherConfig{ForceScanCursor: -1}, sl, sink, statedb)
	require.NoError(t, err)
	require.NoError(t, w.tick(context.Background()))
	require.Len(t, sink.escrowCh, 3)

	// delivery alone must not move the durable cursor; a crash with
	// events still queued gets them rescanned by the next process
	_, found, err := statedb.GetCursor(sl.Chain())
	require.NoError(t, err)
	assert.False(t, found)

	for len(sink.escrowCh) > 0 {
		<-sink.escrowCh
	}
	w2, err := NewWatcher(&WatcherConfig{ForceScanCursor: -1}, sl, sink, statedb)
	require.NoError(t, err)
	require.NoError(t, w2.tick(context.Background()))
	assert.Len(t, sink.escrowCh, 3)
}

func TestWatcherResumesFromConsumerCursor(t *testing.T) {
	sl := simledger.New(agreement.ChainTag("evm"))
	sink := newTestSink()
	statedb := newTestStateDB(t)

	lockIds := submitEscrows(t, sl, 3)

	// the consumer recorded everything up to cursor 2 as handled
	require.NoError(t, statedb.SetCursor(sl.Chain(), 2))

	w, err := NewWatcher(&WatcherConfig{ForceScanCursor: -1}, sl, sink, statedb)
	require.NoError(t, err)
	require.NoError(t, w.tick(context.Background()))
	require.Len(t, sink.escrowCh, 1)
	assert.Equal(t, lockIds[2], (<-sink.escrowCh).LockId)
}

func TestWatcherForceScanOverridesCursor(t *testing.T) {
	sl := simledger.New(agreement.ChainTag("evm"))
	sink := newTestSink()
	statedb := newTestStateDB(t)

	submitEscrows(t, sl, 3)
	require.NoError(t, statedb.SetCursor(sl.Chain(), 3))

	w, err := NewWatcher(&WatcherConfig{ForceScanCursor: 0}, sl, sink, statedb)
	require.NoError(t, err)
	require.NoError(t, w.tick(context.Background()))
	assert.Len(t, sink.escrowCh, 3)
}

type flakyTipAdapter struct {
	agreement.LedgerAdapter
	fail bool
}

func (f *flakyTipAdapter) TipCursor(ctx context.Context) (uint64, error) {
	if f.fail {
		return 0, errors.New("rpc node down")
	}
	return f.LedgerAdapter.TipCursor(ctx)
}

func TestWatcherDoesNotAdvanceOnFailedTick(t *testing.T) {
	sl := simledger.New(agreement.ChainTag("evm"))
	flaky := &flakyTipAdapter{LedgerAdapter: sl, fail: true}
	sink := newTestSink()
	statedb := newTestStateDB(t)

	lockIds := submitEscrows(t, sl, 2)

	w, err := NewWatcher(&WatcherConfig{
		ForceScanCursor: -1,
		RetryPolicy:     retry.Policy{Attempts: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
	}, flaky, sink, statedb)
	require.NoError(t, err)

	require.Error(t, w.tick(context.Background()))
	assert.Empty(t, sink.escrowCh)
	assert.Equal(t, uint64(0), w.LastProcessed())

	// same range is retried once the node is back
	flaky.fail = false
	require.NoError(t, w.tick(context.Background()))
	require.Len(t, sink.escrowCh, 2)
	assert.Equal(t, lockIds[0], (<-sink.escrowCh).LockId)
}

func TestWatcherLoopDeliversReveals(t *testing.T) {
	sl := simledger.New(agreement.ChainTag("evm"))
	sink := newTestSink()
	statedb := newTestStateDB(t)

	lockIds := submitEscrows(t, sl, 1)
	_, err := sl.SubmitClaim(context.Background(), lockIds[0], []byte("the-secret"))
	require.NoError(t, err)

	w, err := NewWatcher(&WatcherConfig{
		PollInterval:    MinPollInterval,
		ForceScanCursor: -1,
	}, sl, sink, statedb)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Loop(ctx)

	require.Eventually(t, func() bool {
		return len(sink.escrowCh) == 1 && len(sink.revealCh) == 1
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, []byte("the-secret"), (<-sink.revealCh).Secret)
}
