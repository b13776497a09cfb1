package orchestrator

import (
	"context"
	"errors"

	"github.com/fusionswap/orchestrator-go/agreement"
	"github.com/fusionswap/orchestrator-go/state"
	logger "github.com/sirupsen/logrus"
)

var (
	ErrUnknownChain     = errors.New("no adapter for chain")
	ErrGetOrder         = errors.New("failed to get order from statedb")
	ErrUpsertOrder      = errors.New("failed to upsert order in statedb")
	ErrTransitionOrder  = errors.New("failed to transition order in statedb")
	ErrQuoteUnavailable = errors.New("failed to quote destination amount")
)

// OrderOpener is notified when a newly detected order should be offered
// to resolvers instead of being auto-mirrored. Implemented by the bid
// engine.
type OrderOpener interface {
	OpenForBidding(o *state.SwapOrder)
}

// Orchestrator is the cross-ledger swap state machine. One goroutine
// consumes both watchers' events; the sweeper and the bid engine call
// the exported execution primitives concurrently. The statedb's
// compare-and-swap transition is the only synchronization between them.
type Orchestrator struct {
	cfg      *Config
	statedb  *state.StateDB
	adapters map[agreement.ChainTag]agreement.LedgerAdapter
	quoter   agreement.RateQuoter
	opener   OrderOpener // nil when bidding is off

	escrowCh chan *agreement.EscrowCreatedEvent
	revealCh chan *agreement.SecretRevealedEvent

	cursors map[agreement.ChainTag]uint64 // durable watcher progress, owned by the Start loop
}

func New(
	cfg *Config,
	statedb *state.StateDB,
	adapters []agreement.LedgerAdapter,
	quoter agreement.RateQuoter,
) (*Orchestrator, error) {
	cfg = cfg.withDefaults()

	byChain := make(map[agreement.ChainTag]agreement.LedgerAdapter, len(adapters))
	for _, a := range adapters {
		byChain[a.Chain()] = a
	}
	for _, chain := range []agreement.ChainTag{cfg.SourceChain, cfg.DestChain} {
		if _, ok := byChain[chain]; !ok {
			return nil, ErrUnknownChain
		}
	}

	return &Orchestrator{
		cfg:      cfg,
		statedb:  statedb,
		adapters: byChain,
		quoter:   quoter,
		escrowCh: make(chan *agreement.EscrowCreatedEvent, cfg.ChannelSize),
		revealCh: make(chan *agreement.SecretRevealedEvent, cfg.ChannelSize),
		cursors:  make(map[agreement.ChainTag]uint64),
	}, nil
}

// SetOrderOpener routes newly detected orders to the bid engine. Must be
// called before Start.
func (orc *Orchestrator) SetOrderOpener(opener OrderOpener) {
	orc.opener = opener
}

func (orc *Orchestrator) GetEscrowCreatedEventChannel() chan<- *agreement.EscrowCreatedEvent {
	return orc.escrowCh
}

func (orc *Orchestrator) GetSecretRevealedEventChannel() chan<- *agreement.SecretRevealedEvent {
	return orc.revealCh
}

// Start runs the event loop until ctx is done. Per-order failures are
// logged and absorbed; only a broken statedb stops the loop.
func (orc *Orchestrator) Start(ctx context.Context) error {
	logger.Info("starting swap orchestrator")
	defer logger.Info("stopping swap orchestrator")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-orc.escrowCh:
			if err := orc.handleEscrowCreated(ctx, ev); err != nil {
				logger.WithFields(logger.Fields{
					"chain":  ev.Chain,
					"lockId": ev.LockId,
					"error":  err,
				}).Error("failed to handle escrow created event")
			} else {
				orc.recordCursor(ev.Chain, ev.Cursor)
			}
		case ev := <-orc.revealCh:
			if err := orc.handleSecretRevealed(ctx, ev); err != nil {
				logger.WithFields(logger.Fields{
					"chain":  ev.Chain,
					"lockId": ev.LockId,
					"error":  err,
				}).Error("failed to handle secret revealed event")
			} else {
				orc.recordCursor(ev.Chain, ev.Cursor)
			}
		}
	}
}

// recordCursor persists watcher progress once the event at the given
// chain position has been fully handled. The durable cursor stays one
// position behind the event, so a crash redelivers every event sharing
// that position; the conditional store update absorbs the duplicates.
// Events submitted off-chain carry position zero and are skipped.
func (orc *Orchestrator) recordCursor(chain agreement.ChainTag, cursor uint64) {
	if cursor == 0 {
		return
	}
	done := cursor - 1
	known, ok := orc.cursors[chain]
	if !ok {
		stored, _, err := orc.statedb.GetCursor(chain)
		if err != nil {
			logger.WithFields(logger.Fields{
				"chain": chain,
				"error": err,
			}).Error("failed to load event cursor")
			return
		}
		known = stored
		orc.cursors[chain] = stored
	}
	if done <= known {
		return
	}
	if err := orc.statedb.SetCursor(chain, done); err != nil {
		logger.WithFields(logger.Fields{
			"chain":  chain,
			"cursor": done,
			"error":  err,
		}).Error("failed to persist event cursor")
		return
	}
	orc.cursors[chain] = done
}

// Recover re-enters monitoring for all non-terminal orders after a
// restart. Orders stuck in secret_revealed re-submit their claim;
// everything else is picked up again by the watchers and the sweeper.
func (orc *Orchestrator) Recover(ctx context.Context) error {
	orders, err := orc.statedb.NonTerminalOrders()
	if err != nil {
		return err
	}

	for _, o := range orders {
		logger.WithFields(logger.Fields{
			"orderId": o.OrderId.String(),
			"status":  o.Status,
		}).Info("recovered in-flight order")

		if o.Status == state.OrderStatusSecretRevealed {
			if err := orc.Claim(ctx, o.OrderId); err != nil {
				logger.WithFields(logger.Fields{
					"orderId": o.OrderId.String(),
					"error":   err,
				}).Error("failed to resume claim for recovered order")
			}
		}
	}
	return nil
}

func (orc *Orchestrator) adapter(chain agreement.ChainTag) (agreement.LedgerAdapter, error) {
	a, ok := orc.adapters[chain]
	if !ok {
		return nil, ErrUnknownChain
	}
	return a, nil
}
