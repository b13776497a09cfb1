package orchestrator

import (
	"context"

	"github.com/fusionswap/orchestrator-go/agreement"
	"github.com/fusionswap/orchestrator-go/hashlock"
	"github.com/fusionswap/orchestrator-go/state"
	logger "github.com/sirupsen/logrus"
)

// handleEscrowCreated distinguishes two cases:
//  1. the event confirms our own mirrored escrow -> mirrored -> escrowed
//  2. the event is a fresh counterparty escrow -> create a new order
//
// Re-delivered events fall through the status checks and the statedb
// compare-and-swap as no-ops.
func (orc *Orchestrator) handleEscrowCreated(ctx context.Context, ev *agreement.EscrowCreatedEvent) error {
	if o, ok, err := orc.statedb.GetOrderByLockId(ev.Chain, ev.LockId); err != nil {
		return err
	} else if ok {
		if o.DestLockId == ev.LockId && o.Status == state.OrderStatusMirrored {
			applied, err := orc.statedb.Transition(
				o.OrderId, state.OrderStatusMirrored, state.OrderStatusEscrowed, nil)
			if err != nil {
				return err
			}
			if applied {
				logger.WithField("orderId", o.OrderId.String()).Info("mirrored escrow confirmed funded")
			}
			return nil
		}
		// duplicate delivery of the source escrow event
		return nil
	}

	orderId := state.ComputeOrderId(ev.Chain, ev.LockId, ev.Hashlock)
	if ok, _, err := orc.statedb.HasOrder(orderId); err != nil {
		return err
	} else if ok {
		return nil
	}

	direction := state.DirectionSourceToDest
	if ev.Chain != orc.cfg.SourceChain {
		direction = state.DirectionDestToSource
	}
	counter := orc.cfg.counterChain(ev.Chain)

	order, err := state.NewOrderFromEscrowEvent(
		ev,
		counter,
		direction,
		orc.cfg.Chains[ev.Chain].HashAlgo,
		orc.cfg.Chains[ev.Chain].Asset,
		orc.cfg.Chains[counter].Asset,
	)
	if err != nil {
		logger.WithFields(logger.Fields{
			"chain":  ev.Chain,
			"lockId": ev.LockId,
			"error":  err,
		}).Warn("ignoring malformed escrow event")
		return nil
	}

	if err := orc.statedb.UpsertOrder(order); err != nil {
		return ErrUpsertOrder
	}
	logger.WithFields(logger.Fields{
		"orderId": order.OrderId.String(),
		"chain":   ev.Chain,
		"amount":  order.AmountSource,
	}).Info("new swap order detected")

	if orc.opener != nil {
		orc.opener.OpenForBidding(order)
		return nil
	}
	if orc.cfg.AutoMirror {
		return orc.Mirror(ctx, order.OrderId, nil)
	}
	return nil
}

// handleSecretRevealed gates every reveal through the hashlock
// validator: an invalid reveal must never unlock funds, so the order
// stays put and an anomaly is logged. A valid reveal on an escrowed
// order triggers the counter-claim; a reveal matching our own claim
// confirms completion.
func (orc *Orchestrator) handleSecretRevealed(ctx context.Context, ev *agreement.SecretRevealedEvent) error {
	o, ok, err := orc.statedb.GetOrderByLockId(ev.Chain, ev.LockId)
	if err != nil {
		return err
	}
	if !ok {
		logger.WithFields(logger.Fields{
			"chain":  ev.Chain,
			"lockId": ev.LockId,
		}).Debug("reveal for unknown escrow, ignoring")
		return nil
	}

	if !hashlock.Verify(ev.Secret, o.Hashlock, o.HashAlgo) {
		logger.WithFields(logger.Fields{
			"orderId": o.OrderId.String(),
			"chain":   ev.Chain,
			"lockId":  ev.LockId,
		}).Warn("anomaly: revealed secret does not satisfy hashlock")
		return nil
	}

	switch o.Status {
	case state.OrderStatusEscrowed:
		applied, err := orc.statedb.Transition(
			o.OrderId, state.OrderStatusEscrowed, state.OrderStatusSecretRevealed,
			func(mut *state.SwapOrder) error {
				if err := mut.SetSecret(ev.Secret); err != nil {
					return err
				}
				// the counterparty swept the revealing side; we claim
				// the other escrow
				if ev.LockId == mut.DestLockId {
					mut.ClaimLockId = mut.SourceLockId
				} else {
					mut.ClaimLockId = mut.DestLockId
				}
				return nil
			})
		if err != nil {
			return err
		}
		if !applied {
			// lost the race against a duplicate delivery or the sweeper
			return nil
		}
		return orc.Claim(ctx, o.OrderId)

	case state.OrderStatusClaimed:
		if ev.LockId != o.ClaimLockId {
			// duplicate of the original reveal, not our claim
			return nil
		}
		applied, err := orc.statedb.Transition(
			o.OrderId, state.OrderStatusClaimed, state.OrderStatusCompleted, nil)
		if err != nil {
			return err
		}
		if applied {
			logger.WithField("orderId", o.OrderId.String()).Info("swap completed")
		}
		return nil

	default:
		// duplicate delivery, or the order already left the reveal path
		return nil
	}
}
