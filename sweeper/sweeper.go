// Periodic timeout sweep. Scans the live store for orders whose
// timelock elapsed without a reveal and drives the expired -> refunded
// exit through the orchestrator's execution primitives. Runs fully in
// parallel with the event path; the statedb compare-and-swap keeps the
// two from double-acting.
package sweeper

import (
	"context"
	"time"

	"github.com/fusionswap/orchestrator-go/orchestrator"
	"github.com/fusionswap/orchestrator-go/state"
	logger "github.com/sirupsen/logrus"
)

type Config struct {
	Interval  time.Duration // sweep frequency
	Retention time.Duration // how long terminal orders stay in the live store
}

type Sweeper struct {
	cfg     *Config
	statedb *state.StateDB
	orc     *orchestrator.Orchestrator
}

func New(cfg *Config, statedb *state.StateDB, orc *orchestrator.Orchestrator) *Sweeper {
	if cfg.Interval == 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.Retention == 0 {
		cfg.Retention = 24 * time.Hour
	}
	return &Sweeper{cfg: cfg, statedb: statedb, orc: orc}
}

func (sw *Sweeper) Loop(ctx context.Context) error {
	logger.Info("starting timeout sweeper")
	defer logger.Info("stopping timeout sweeper")

	ticker := time.NewTicker(sw.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := sw.SweepOnce(ctx); err != nil {
				logger.WithField("error", err).Error("sweep failed")
			}
		}
	}
}

// SweepOnce runs a single pass: expiry checks for every order still
// awaiting a reveal, then archival of aged-out terminal orders.
func (sw *Sweeper) SweepOnce(ctx context.Context) error {
	orders, err := sw.statedb.NonTerminalOrders()
	if err != nil {
		return err
	}

	for _, o := range orders {
		switch o.Status {
		case state.OrderStatusSecretRevealed, state.OrderStatusClaimed:
			// a reveal happened; the claim path owns these
			continue
		}
		if err := sw.orc.ExpireAndRefund(ctx, o.OrderId); err != nil {
			logger.WithFields(logger.Fields{
				"orderId": o.OrderId.String(),
				"error":   err,
			}).Error("failed to expire/refund order")
		}
	}

	return sw.archiveAged()
}

func (sw *Sweeper) archiveAged() error {
	cutoff := time.Now().Add(-sw.cfg.Retention).Unix()
	aged, err := sw.statedb.ArchivableOrders(cutoff)
	if err != nil {
		return err
	}
	for _, o := range aged {
		if err := sw.statedb.ArchiveOrder(o.OrderId); err != nil {
			return err
		}
		logger.WithFields(logger.Fields{
			"orderId": o.OrderId.String(),
			"status":  o.Status,
		}).Debug("archived terminal order")
	}
	return nil
}
