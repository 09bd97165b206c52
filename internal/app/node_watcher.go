package app

import (
	"context"
	"log/slog"
	"time"

	"meshmonitor/internal/domain"
	"meshmonitor/internal/persistence"
)

// NodeWatcher flags favorite nodes that go quiet. Each transition is logged
// and written to the audit log; a per-node cooldown keeps a flapping node
// from spamming entries.
type NodeWatcher struct {
	logger   *slog.Logger
	store    *persistence.Store
	interval time.Duration

	threshold time.Duration
	cooldown  time.Duration

	flagged  map[domain.NodeNum]time.Time
	notified map[domain.NodeNum]time.Time
}

func NewNodeWatcher(logger *slog.Logger, store *persistence.Store, threshold, checkInterval, cooldown time.Duration) *NodeWatcher {
	return &NodeWatcher{
		logger:    logger,
		store:     store,
		interval:  checkInterval,
		threshold: threshold,
		cooldown:  cooldown,
		flagged:   make(map[domain.NodeNum]time.Time),
		notified:  make(map[domain.NodeNum]time.Time),
	}
}

func (w *NodeWatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *NodeWatcher) sweep(ctx context.Context) {
	nodes, err := w.store.Nodes.ListAll(ctx)
	if err != nil {
		w.logger.Warn("inactive node sweep failed", "error", err)

		return
	}

	now := time.Now()
	for i := range nodes {
		node := &nodes[i]
		if !node.IsFavorite || node.IsIgnored || node.LastHeard.IsZero() {
			continue
		}

		silence := now.Sub(node.LastHeard)
		_, isFlagged := w.flagged[node.NodeNum]

		switch {
		case silence >= w.threshold && !isFlagged:
			w.flagged[node.NodeNum] = now
			if last, ok := w.notified[node.NodeNum]; ok && now.Sub(last) < w.cooldown {
				continue
			}
			w.notified[node.NodeNum] = now
			w.logger.Warn("favorite node went quiet", "node", node.NodeID, "name", node.LongName, "silence", silence.Round(time.Minute).String())
			w.audit(ctx, "node.inactive", node)
		case silence < w.threshold && isFlagged:
			delete(w.flagged, node.NodeNum)
			w.logger.Info("favorite node heard again", "node", node.NodeID, "name", node.LongName)
			w.audit(ctx, "node.active", node)
		}
	}
}

func (w *NodeWatcher) audit(ctx context.Context, action string, node *domain.Node) {
	_, err := w.store.Audit.Append(ctx, domain.AuditEntry{
		Actor:    "node-watcher",
		Action:   action,
		Resource: node.NodeID,
		Details:  node.LongName,
	})
	if err != nil {
		w.logger.Warn("append node watch audit entry", "error", err)
	}
}
