package app

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"meshmonitor/internal/domain"
	"meshmonitor/internal/persistence"
)

func newWatcherFixture(t *testing.T) (*NodeWatcher, *persistence.Store) {
	t.Helper()
	store, err := persistence.NewStore(context.Background(), filepath.Join(t.TempDir(), "watch.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})

	w := NewNodeWatcher(slog.Default(), store, time.Hour, time.Minute, 6*time.Hour)

	return w, store
}

func seedFavorite(t *testing.T, store *persistence.Store, num domain.NodeNum, lastHeard time.Time) {
	t.Helper()
	if err := store.Nodes.Upsert(context.Background(), domain.Node{
		NodeNum:    num,
		NodeID:     domain.FormatNodeID(num),
		LongName:   "Watched Node",
		LastHeard:  lastHeard,
		IsFavorite: true,
	}); err != nil {
		t.Fatalf("seed node: %v", err)
	}
}

func auditActions(t *testing.T, store *persistence.Store) []string {
	t.Helper()
	entries, err := store.Audit.ListRecent(context.Background(), 10)
	if err != nil {
		t.Fatalf("list audit: %v", err)
	}
	actions := make([]string, 0, len(entries))
	for _, e := range entries {
		actions = append(actions, e.Action)
	}

	return actions
}

func TestWatcherFlagsQuietFavorite(t *testing.T) {
	w, store := newWatcherFixture(t)
	ctx := context.Background()

	seedFavorite(t, store, 0xAA, time.Now().Add(-2*time.Hour))
	w.sweep(ctx)
	w.sweep(ctx)

	actions := auditActions(t, store)
	if len(actions) != 1 || actions[0] != "node.inactive" {
		t.Fatalf("audit actions = %v, want single node.inactive", actions)
	}
}

func TestWatcherRecordsRecovery(t *testing.T) {
	w, store := newWatcherFixture(t)
	ctx := context.Background()

	seedFavorite(t, store, 0xAA, time.Now().Add(-2*time.Hour))
	w.sweep(ctx)

	seedFavorite(t, store, 0xAA, time.Now())
	w.sweep(ctx)

	actions := auditActions(t, store)
	if len(actions) != 2 {
		t.Fatalf("audit actions = %v, want inactive then active", actions)
	}
	seen := map[string]bool{}
	for _, a := range actions {
		seen[a] = true
	}
	if !seen["node.inactive"] || !seen["node.active"] {
		t.Fatalf("audit actions = %v", actions)
	}
}

func TestWatcherIgnoresUnstarredNodes(t *testing.T) {
	w, store := newWatcherFixture(t)
	ctx := context.Background()

	if err := store.Nodes.Upsert(ctx, domain.Node{
		NodeNum:   0xBB,
		NodeID:    domain.FormatNodeID(0xBB),
		LastHeard: time.Now().Add(-48 * time.Hour),
	}); err != nil {
		t.Fatalf("seed node: %v", err)
	}

	w.sweep(ctx)
	if actions := auditActions(t, store); len(actions) != 0 {
		t.Fatalf("audit actions = %v, want none", actions)
	}
}
