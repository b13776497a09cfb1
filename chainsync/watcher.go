// Generic per-chain watcher. One Watcher per ledger polls for new
// escrow-creation and secret-reveal events behind the confirmation
// depth, normalizes them and pushes them to the orchestrator's sink.
// Run-time progress lives in memory only; the durable cursor is
// written by the consumer once an event has been handled, so a crash
// with events still queued rescans them instead of skipping them.
package chainsync

import (
	"context"
	"time"

	"github.com/fusionswap/orchestrator-go/agreement"
	"github.com/fusionswap/orchestrator-go/retry"
	"github.com/fusionswap/orchestrator-go/state"
	logger "github.com/sirupsen/logrus"
)

const MinPollInterval = 100 * time.Millisecond

type WatcherConfig struct {
	PollInterval      time.Duration // interval to trigger the scan of the ledger
	ConfirmationDepth uint64        // cursors behind the tip considered final
	ForceScanCursor   int64         // rescan from this cursor, -1 to honor the persisted value
	RetryPolicy       retry.Policy  // bounded retry for RPC calls within one tick
}

type Watcher struct {
	cfg     *WatcherConfig
	adapter agreement.LedgerAdapter
	sink    agreement.EventSink
	statedb *state.StateDB

	lastProcessed uint64 // newest cursor fully delivered downstream
}

func NewWatcher(
	cfg *WatcherConfig,
	adapter agreement.LedgerAdapter,
	sink agreement.EventSink,
	statedb *state.StateDB,
) (*Watcher, error) {
	if cfg.PollInterval < MinPollInterval {
		cfg.PollInterval = MinPollInterval
	}

	stored, _, err := statedb.GetCursor(adapter.Chain())
	if err != nil {
		logger.WithField("chain", adapter.Chain()).Error("failed to load watcher cursor from statedb")
		return nil, err
	}
	if cfg.ForceScanCursor >= 0 {
		stored = uint64(cfg.ForceScanCursor)
	}

	return &Watcher{
		cfg:           cfg,
		adapter:       adapter,
		sink:          sink,
		statedb:       statedb,
		lastProcessed: stored,
	}, nil
}

// Loop polls until ctx is done. A tick that fails after bounded retries
// is skipped without advancing the cursor; the next tick retries the
// same range.
func (w *Watcher) Loop(ctx context.Context) error {
	log := logger.WithField("chain", w.adapter.Chain())
	log.Info("starting chain watcher")
	defer log.Info("stopping chain watcher")

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := w.tick(ctx); err != nil {
				log.WithField("error", err).Error("watcher tick failed, cursor not advanced")
			}
		}
	}
}

func (w *Watcher) tick(ctx context.Context) error {
	var tip uint64
	err := retry.Do(ctx, w.cfg.RetryPolicy, func(ctx context.Context) error {
		var err error
		tip, err = w.adapter.TipCursor(ctx)
		return err
	})
	if err != nil {
		return err
	}

	if tip < w.cfg.ConfirmationDepth {
		return nil
	}
	confirmed := tip - w.cfg.ConfirmationDepth
	if confirmed <= w.lastProcessed {
		return nil
	}

	from, to := w.lastProcessed+1, confirmed

	var escrows []*agreement.EscrowCreatedEvent
	var reveals []*agreement.SecretRevealedEvent
	err = retry.Do(ctx, w.cfg.RetryPolicy, func(ctx context.Context) error {
		var err error
		escrows, reveals, err = w.adapter.GetEvents(ctx, from, to)
		return err
	})
	if err != nil {
		return err
	}

	if len(escrows)+len(reveals) > 0 {
		logger.WithFields(logger.Fields{
			"chain":   w.adapter.Chain(),
			"from":    from,
			"to":      to,
			"escrows": len(escrows),
			"reveals": len(reveals),
		}).Info("delivering chain events")
	}

	for _, ev := range escrows {
		select {
		case w.sink.GetEscrowCreatedEventChannel() <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	for _, ev := range reveals {
		select {
		case w.sink.GetSecretRevealedEventChannel() <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	w.lastProcessed = to
	return nil
}

// LastProcessed is the newest cursor fully delivered. Exposed for tests
// and the reporter.
func (w *Watcher) LastProcessed() uint64 {
	return w.lastProcessed
}
