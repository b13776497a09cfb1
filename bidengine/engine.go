// Competitive order-filling layer. Detected orders are opened for
// bidding with a deadline; authorized resolvers submit priced bids; at
// the deadline (or on explicit trigger) the best bid is selected and
// executed through the orchestrator's primitives. Open orders and their
// bids live in a TTL map, so stale bids are garbage-collected by the
// map's expiry.
package bidengine

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/fusionswap/orchestrator-go/orchestrator"
	"github.com/fusionswap/orchestrator-go/state"
	"github.com/google/uuid"
	"github.com/imkira/go-ttlmap"
	logger "github.com/sirupsen/logrus"
)

var (
	ErrOrderNotOpen        = errors.New("order not open for bidding")
	ErrBiddingClosed       = errors.New("bidding deadline has passed")
	ErrUnauthorized        = errors.New("submitter is not an authorized resolver")
	ErrBelowMinImprovement = errors.New("bid does not improve on the current best")
	ErrBelowMinProfit      = errors.New("bid net value below the minimum profit margin")
	ErrExecutionInFlight   = errors.New("another bid is already executing for this order")
	ErrNoValidBid          = errors.New("no valid bid for this order")
)

// Registry is consulted before accepting a bid.
type Registry interface {
	IsAuthorizedResolver(identity string) bool
}

// Announcer pushes order and secret announcements out to connected
// resolvers. Optional; nil disables broadcasting.
type Announcer interface {
	AnnounceOrder(o *state.SwapOrder, deadline time.Time)
	AnnounceSecret(orderId ethcommon.Hash, secret []byte)
}

type Config struct {
	BiddingWindow  time.Duration // per-order deadline after opening
	MinProfit      *big.Int      // system-wide minimum net value a bid must clear
	MinImprovement *big.Int      // how much a bid must beat the current best by
	ChannelSize    int
}

type openOrder struct {
	order    *state.SwapOrder
	deadline time.Time
	bids     []*Bid
}

type Engine struct {
	cfg       *Config
	statedb   *state.StateDB
	orc       *orchestrator.Orchestrator
	registry  Registry
	announcer Announcer

	mu        sync.Mutex
	entries   map[ethcommon.Hash]*openOrder // orders currently accepting bids
	executing map[ethcommon.Hash]bool       // at most one executing bid per order

	deadlines *ttlmap.Map     // orderId hex -> *openOrder, expiry drives the deadline
	expiredCh chan *openOrder // fed by the TTL map expiry hook
}

func New(
	cfg *Config,
	statedb *state.StateDB,
	orc *orchestrator.Orchestrator,
	registry Registry,
	announcer Announcer,
) *Engine {
	if cfg.BiddingWindow == 0 {
		cfg.BiddingWindow = 2 * time.Minute
	}
	if cfg.MinProfit == nil {
		cfg.MinProfit = big.NewInt(0)
	}
	if cfg.MinImprovement == nil {
		cfg.MinImprovement = big.NewInt(1)
	}
	if cfg.ChannelSize == 0 {
		cfg.ChannelSize = 16
	}

	e := &Engine{
		cfg:       cfg,
		statedb:   statedb,
		orc:       orc,
		registry:  registry,
		announcer: announcer,
		entries:   make(map[ethcommon.Hash]*openOrder),
		executing: make(map[ethcommon.Hash]bool),
		expiredCh: make(chan *openOrder, cfg.ChannelSize),
	}

	e.deadlines = ttlmap.New(&ttlmap.Options{
		InitialCapacity: 16,
		OnWillExpire: func(key string, item ttlmap.Item) {
			select {
			case e.expiredCh <- item.Value().(*openOrder):
			default:
				logger.WithField("orderId", key).Error("bid deadline queue full, dropping expiry")
			}
		},
	})

	return e
}

// OpenForBidding registers a detected order for the bidding window.
// Implements the orchestrator's OrderOpener.
func (e *Engine) OpenForBidding(o *state.SwapOrder) {
	deadline := time.Now().Add(e.cfg.BiddingWindow)
	entry := &openOrder{order: o, deadline: deadline}

	e.mu.Lock()
	e.entries[o.OrderId] = entry
	e.mu.Unlock()

	err := e.deadlines.Set(
		o.OrderId.String(),
		ttlmap.NewItem(entry, ttlmap.WithTTL(e.cfg.BiddingWindow)),
		nil,
	)
	if err != nil {
		e.mu.Lock()
		delete(e.entries, o.OrderId)
		e.mu.Unlock()
		logger.WithFields(logger.Fields{
			"orderId": o.OrderId.String(),
			"error":   err,
		}).Error("failed to open order for bidding")
		return
	}

	logger.WithFields(logger.Fields{
		"orderId":  o.OrderId.String(),
		"deadline": deadline,
	}).Info("order open for bidding")

	if e.announcer != nil {
		e.announcer.AnnounceOrder(o, deadline)
	}
}

// Loop drains deadline expiries: evaluate, execute the winner, or fail
// the order when no valid bid arrived.
func (e *Engine) Loop(ctx context.Context) error {
	logger.Info("starting bid engine")
	defer logger.Info("stopping bid engine")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case entry := <-e.expiredCh:
			e.onDeadline(ctx, entry)
		}
	}
}

// SubmitBid validates and records a resolver's bid. The previous bid of
// the same resolver on the same order is superseded.
func (e *Engine) SubmitBid(orderId ethcommon.Hash, resolver string, input, output, gas *big.Int) (*Bid, error) {
	if !e.registry.IsAuthorizedResolver(resolver) {
		return nil, ErrUnauthorized
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	entry, err := e.openEntry(orderId)
	if err != nil {
		return nil, err
	}
	if time.Now().After(entry.deadline) {
		return nil, ErrBiddingClosed
	}

	bid := &Bid{
		BidId:        uuid.New(),
		OrderId:      orderId,
		Resolver:     resolver,
		InputAmount:  new(big.Int).Set(input),
		OutputAmount: new(big.Int).Set(output),
		GasEstimate:  new(big.Int).Set(gas),
		SubmittedAt:  time.Now(),
		Active:       true,
	}

	if bid.Net().Cmp(e.cfg.MinProfit) < 0 {
		return nil, ErrBelowMinProfit
	}
	if best := bestOf(entry.bids); best != nil {
		floor := new(big.Int).Add(best.Net(), e.cfg.MinImprovement)
		if bid.Net().Cmp(floor) < 0 {
			return nil, ErrBelowMinImprovement
		}
	}

	// supersede this resolver's earlier bid
	for _, b := range entry.bids {
		if b.Resolver == resolver && b.Active {
			b.Active = false
		}
	}
	entry.bids = append(entry.bids, bid)

	logger.WithFields(logger.Fields{
		"orderId":  orderId.String(),
		"resolver": resolver,
		"net":      bid.Net(),
	}).Info("bid accepted")
	return bid, nil
}

// Evaluate returns the winning bid without executing it: the active bid
// with the highest net value, ties broken by earliest submission.
// Deterministic for a fixed bid set.
func (e *Engine) Evaluate(orderId ethcommon.Hash) (*Bid, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	entry, err := e.openEntry(orderId)
	if err != nil {
		return nil, false
	}
	best := bestOf(entry.bids)
	return best, best != nil
}

// ExecuteBest reserves the order for its winning bid and drives the
// mirror leg with the bid's negotiated output amount. The reservation
// guarantees at most one executing bid per order; a second call while
// reserved returns ErrExecutionInFlight. secret, when already known, is
// forwarded to the winning resolver through the announcer.
func (e *Engine) ExecuteBest(ctx context.Context, orderId ethcommon.Hash, secret []byte) error {
	e.mu.Lock()
	entry, err := e.openEntry(orderId)
	if err != nil {
		e.mu.Unlock()
		return err
	}
	best := bestOf(entry.bids)
	if best == nil {
		e.mu.Unlock()
		return ErrNoValidBid
	}
	if e.executing[orderId] {
		e.mu.Unlock()
		return ErrExecutionInFlight
	}
	e.executing[orderId] = true
	e.mu.Unlock()

	logger.WithFields(logger.Fields{
		"orderId":  orderId.String(),
		"resolver": best.Resolver,
		"output":   best.OutputAmount,
	}).Info("executing winning bid")

	if err := e.orc.Mirror(ctx, orderId, best.OutputAmount); err != nil {
		e.mu.Lock()
		delete(e.executing, orderId)
		e.mu.Unlock()
		return err
	}

	if e.announcer != nil && len(secret) != 0 {
		e.announcer.AnnounceSecret(orderId, secret)
	}

	e.mu.Lock()
	e.closeLocked(orderId)
	e.mu.Unlock()
	return nil
}

// ListOpenOrders returns the ids of orders currently accepting bids.
func (e *Engine) ListOpenOrders() []ethcommon.Hash {
	e.mu.Lock()
	defer e.mu.Unlock()

	var ids []ethcommon.Hash
	for id := range e.entries {
		ids = append(ids, id)
	}
	return ids
}

func (e *Engine) onDeadline(ctx context.Context, entry *openOrder) {
	orderId := entry.order.OrderId

	e.mu.Lock()
	if e.entries[orderId] != entry {
		// already executed or closed
		e.mu.Unlock()
		return
	}
	best := bestOf(entry.bids)
	e.mu.Unlock()

	if best == nil {
		// distinct from expired: nothing was escrowed on our side yet
		applied, err := e.statedb.Transition(
			orderId, state.OrderStatusDetected, state.OrderStatusFailed, nil)
		if err != nil {
			logger.WithFields(logger.Fields{
				"orderId": orderId.String(),
				"error":   err,
			}).Error("failed to fail order without bids")
			return
		}
		if applied {
			logger.WithField("orderId", orderId.String()).Warn("bidding closed with zero valid bids, order failed")
		}
		e.mu.Lock()
		e.closeLocked(orderId)
		e.mu.Unlock()
		return
	}

	if err := e.ExecuteBest(ctx, orderId, nil); err != nil {
		logger.WithFields(logger.Fields{
			"orderId": orderId.String(),
			"error":   err,
		}).Error("failed to execute winning bid at deadline")
		if !errors.Is(err, ErrExecutionInFlight) {
			// bidding is over and the execution is not coming back;
			// keeping the entry would keep advertising a dead order
			e.mu.Lock()
			e.closeLocked(orderId)
			e.mu.Unlock()
		}
	}
}

// openEntry must be called with e.mu held.
func (e *Engine) openEntry(orderId ethcommon.Hash) (*openOrder, error) {
	entry, ok := e.entries[orderId]
	if !ok {
		return nil, ErrOrderNotOpen
	}
	return entry, nil
}

// closeLocked drops the order and its bids from the open set. Must be
// called with e.mu held.
func (e *Engine) closeLocked(orderId ethcommon.Hash) {
	e.deadlines.Delete(orderId.String())
	delete(e.entries, orderId)
	delete(e.executing, orderId)
}

// bestOf picks the active bid with the highest net value; ties go to
// the earliest submission.
func bestOf(bids []*Bid) *Bid {
	var best *Bid
	for _, b := range bids {
		if !b.Active {
			continue
		}
		if best == nil {
			best = b
			continue
		}
		switch b.Net().Cmp(best.Net()) {
		case 1:
			best = b
		case 0:
			if b.SubmittedAt.Before(best.SubmittedAt) {
				best = b
			}
		}
	}
	return best
}
