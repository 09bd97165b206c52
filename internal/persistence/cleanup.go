package persistence

import (
	"context"
	"log/slog"
	"time"
)

const (
	rawPacketRetention = 24 * time.Hour
	auditRetention     = 30 * 24 * time.Hour
	tracerouteLimit    = 90 * 24 * time.Hour
)

// Cleaner runs periodic retention sweeps against the store.
type Cleaner struct {
	logger *slog.Logger
	store  *Store

	telemetryRetention         time.Duration
	favoriteTelemetryRetention time.Duration
	interval                   time.Duration
}

func NewCleaner(logger *slog.Logger, store *Store, telemetryRetention, favoriteTelemetryRetention time.Duration) *Cleaner {
	return &Cleaner{
		logger:                     logger,
		store:                      store,
		telemetryRetention:         telemetryRetention,
		favoriteTelemetryRetention: favoriteTelemetryRetention,
		interval:                   time.Hour,
	}
}

// Run sweeps once immediately, then on the interval until ctx is done.
func (c *Cleaner) Run(ctx context.Context) {
	c.sweep(ctx)
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.sweep(ctx)
		}
	}
}

func (c *Cleaner) sweep(ctx context.Context) {
	now := time.Now()

	pruned, err := c.store.Telemetry.Prune(ctx, c.telemetryRetention, c.favoriteTelemetryRetention)
	if err != nil {
		c.logger.Error("telemetry prune failed", "error", err)
	} else if pruned > 0 {
		c.logger.Debug("telemetry pruned", "rows", pruned)
	}

	if pruned, err = c.store.RawPackets.DeleteOlderThan(ctx, now.Add(-rawPacketRetention)); err != nil {
		c.logger.Error("raw packet prune failed", "error", err)
	} else if pruned > 0 {
		c.logger.Debug("raw packets pruned", "rows", pruned)
	}

	if pruned, err = c.store.Audit.DeleteOlderThan(ctx, now.Add(-auditRetention)); err != nil {
		c.logger.Error("audit prune failed", "error", err)
	} else if pruned > 0 {
		c.logger.Debug("audit entries pruned", "rows", pruned)
	}

	if pruned, err = c.store.Traceroutes.DeleteOlderThan(ctx, now.Add(-tracerouteLimit)); err != nil {
		c.logger.Error("traceroute prune failed", "error", err)
	} else if pruned > 0 {
		c.logger.Debug("traceroutes pruned", "rows", pruned)
	}
}
