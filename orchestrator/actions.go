package orchestrator

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/fusionswap/orchestrator-go/agreement"
	"github.com/fusionswap/orchestrator-go/retry"
	"github.com/fusionswap/orchestrator-go/state"
	ethcommon "github.com/ethereum/go-ethereum/common"
	logger "github.com/sirupsen/logrus"
)

// Mirror submits the destination-side escrow for a detected order,
// carrying the same hashlock and a timelock one safety margin earlier
// than the source timelock. amountDest overrides the quoted rate (the
// bid engine passes the winning bid's amount); nil means quote.
// A no-op when the order already left detected.
func (orc *Orchestrator) Mirror(ctx context.Context, orderId ethcommon.Hash, amountDest *big.Int) error {
	o, ok, err := orc.statedb.GetOrder(orderId)
	if err != nil {
		return ErrGetOrder
	}
	if !ok {
		return state.ErrOrderNotFound
	}
	if o.Status != state.OrderStatusDetected {
		return nil
	}

	if amountDest == nil {
		amountDest, err = orc.quoter.Quote(o.AmountSource, o.SourceAsset, o.DestAsset)
		if err != nil {
			logger.WithFields(logger.Fields{
				"orderId": orderId.String(),
				"error":   err,
			}).Error("failed to quote destination amount")
			return ErrQuoteUnavailable
		}
	}

	timelockDest := o.TimelockSource - int64(orc.cfg.SafetyMargin/time.Second)
	if timelockDest <= time.Now().Unix() {
		// too late to mirror safely; nothing has moved on the
		// destination side, so failing is free
		return orc.fail(orderId, o.Status, "source timelock too close to mirror")
	}

	adapter, err := orc.adapter(o.DestChain)
	if err != nil {
		return err
	}

	var destLockId string
	err = retry.Do(ctx, orc.cfg.RetryPolicy, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, orc.cfg.SubmitTimeout)
		defer cancel()
		var err error
		destLockId, err = adapter.SubmitEscrow(callCtx, o.Hashlock, amountDest, timelockDest, o.Recipient)
		if errors.Is(err, agreement.ErrInvalidRecipient) {
			return retry.Abort(err)
		}
		return err
	})
	if err != nil {
		logger.WithFields(logger.Fields{
			"orderId": orderId.String(),
			"error":   err,
		}).Error("destination escrow submission failed")
		return orc.fail(orderId, o.Status, "destination escrow submission failed")
	}

	applied, err := orc.statedb.Transition(
		orderId, state.OrderStatusDetected, state.OrderStatusMirrored,
		func(mut *state.SwapOrder) error {
			return mut.SetMirrored(destLockId, amountDest, timelockDest)
		})
	if err != nil {
		return ErrTransitionOrder
	}
	if !applied {
		// the order moved while our escrow was in flight; the escrow is
		// on-chain but unrecorded, recoverable only by its own timelock
		logger.WithFields(logger.Fields{
			"orderId":    orderId.String(),
			"destLockId": destLockId,
		}).Warn("anomaly: mirrored escrow submitted but order left detected")
		return nil
	}

	logger.WithFields(logger.Fields{
		"orderId":      orderId.String(),
		"destLockId":   destLockId,
		"amountDest":   amountDest,
		"timelockDest": timelockDest,
	}).Info("destination escrow mirrored")
	return nil
}

// Claim sweeps the still-unclaimed escrow with the revealed secret.
// Requires status secret_revealed; the target lock was pinned when the
// reveal was recorded.
func (orc *Orchestrator) Claim(ctx context.Context, orderId ethcommon.Hash) error {
	o, ok, err := orc.statedb.GetOrder(orderId)
	if err != nil {
		return ErrGetOrder
	}
	if !ok {
		return state.ErrOrderNotFound
	}
	if o.Status != state.OrderStatusSecretRevealed {
		return nil
	}

	claimChain := o.SourceChain
	if o.ClaimLockId == o.DestLockId {
		claimChain = o.DestChain
	}
	adapter, err := orc.adapter(claimChain)
	if err != nil {
		return err
	}

	err = retry.Do(ctx, orc.cfg.RetryPolicy, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, orc.cfg.SubmitTimeout)
		defer cancel()
		_, err := adapter.SubmitClaim(callCtx, o.ClaimLockId, o.Secret)
		if errors.Is(err, agreement.ErrAlreadySettled) {
			// someone (or a previous run of ours) already swept it
			return nil
		}
		return err
	})
	if err != nil {
		logger.WithFields(logger.Fields{
			"orderId": orderId.String(),
			"chain":   claimChain,
			"error":   err,
		}).Error("claim submission failed")
		return orc.fail(orderId, o.Status, "claim submission failed")
	}

	applied, err := orc.statedb.Transition(
		orderId, state.OrderStatusSecretRevealed, state.OrderStatusClaimed, nil)
	if err != nil {
		return ErrTransitionOrder
	}
	if applied {
		logger.WithFields(logger.Fields{
			"orderId": orderId.String(),
			"chain":   claimChain,
			"lockId":  o.ClaimLockId,
		}).Info("claim submitted")
	}
	return nil
}

// ExpireAndRefund drives the timeout exit: once the effective deadline
// has elapsed without a reveal the order is marked expired, then every
// side still holding locked funds is refunded. The order stays expired
// until all needed refunds are settled; it is never marked refunded
// partially.
func (orc *Orchestrator) ExpireAndRefund(ctx context.Context, orderId ethcommon.Hash) error {
	o, ok, err := orc.statedb.GetOrder(orderId)
	if err != nil {
		return ErrGetOrder
	}
	if !ok {
		return state.ErrOrderNotFound
	}

	switch o.Status {
	case state.OrderStatusDetected, state.OrderStatusMirrored, state.OrderStatusEscrowed:
		if time.Now().Unix() <= orc.effectiveDeadline(o) {
			return nil
		}
		applied, err := orc.statedb.Transition(o.OrderId, o.Status, state.OrderStatusExpired, nil)
		if err != nil {
			return ErrTransitionOrder
		}
		if !applied {
			// reveal path won the race; its claim must proceed
			return nil
		}
		logger.WithField("orderId", orderId.String()).Info("order expired without reveal")
	case state.OrderStatusExpired:
		// refunds still pending from an earlier sweep
	default:
		return nil
	}

	destDone, err := orc.refundSide(ctx, o.DestChain, o.DestLockId)
	if err != nil {
		return err
	}
	sourceDone, err := orc.refundSide(ctx, o.SourceChain, o.SourceLockId)
	if err != nil {
		return err
	}
	if !destDone || !sourceDone {
		// partially refunded stays expired; next sweep retries
		return nil
	}

	applied, err := orc.statedb.Transition(
		orderId, state.OrderStatusExpired, state.OrderStatusRefunded, nil)
	if err != nil {
		return ErrTransitionOrder
	}
	if applied {
		logger.WithField("orderId", orderId.String()).Info("order fully refunded")
	}
	return nil
}

// refundSide refunds one escrow. Returns true when that side no longer
// holds funds: refunded now, settled earlier, or never created.
func (orc *Orchestrator) refundSide(ctx context.Context, chain agreement.ChainTag, lockId string) (bool, error) {
	if lockId == "" {
		return true, nil
	}
	adapter, err := orc.adapter(chain)
	if err != nil {
		return false, err
	}

	var pending bool
	err = retry.Do(ctx, orc.cfg.RetryPolicy, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, orc.cfg.SubmitTimeout)
		defer cancel()
		_, err := adapter.SubmitRefund(callCtx, lockId)
		if errors.Is(err, agreement.ErrAlreadySettled) {
			return nil
		}
		if errors.Is(err, agreement.ErrTimelockNotElapsed) {
			pending = true
			return nil
		}
		return err
	})
	if err != nil {
		logger.WithFields(logger.Fields{
			"chain":  chain,
			"lockId": lockId,
			"error":  err,
		}).Error("refund submission failed, will retry next sweep")
		return false, nil
	}
	return !pending, nil
}

// effectiveDeadline is the timelock that bounds the reveal window: the
// destination timelock once mirrored (the earlier of the two), else the
// source timelock minus the safety margin.
func (orc *Orchestrator) effectiveDeadline(o *state.SwapOrder) int64 {
	if o.TimelockDest != 0 {
		return o.TimelockDest
	}
	return o.TimelockSource - int64(orc.cfg.SafetyMargin/time.Second)
}

// fail moves an order to the terminal failed status from its current
// position. Loss of the compare-and-swap means another path resolved
// the order first, which is fine.
func (orc *Orchestrator) fail(orderId ethcommon.Hash, from state.OrderStatus, reason string) error {
	applied, err := orc.statedb.Transition(orderId, from, state.OrderStatusFailed, nil)
	if err != nil {
		return ErrTransitionOrder
	}
	if applied {
		logger.WithFields(logger.Fields{
			"orderId": orderId.String(),
			"reason":  reason,
		}).Warn("order failed")
	}
	return nil
}
