package persistence

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"meshmonitor/internal/domain"
)

func TestStoreClearKeepsSettingsAndAudit(t *testing.T) {
	ctx := context.Background()
	store, err := NewStore(ctx, filepath.Join(t.TempDir(), "app.db"))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	defer func() { _ = store.Close() }()

	now := time.Now().UTC()
	if err := store.Nodes.Upsert(ctx, domain.Node{NodeNum: 1, NodeID: "!00000001", LastHeard: now, UpdatedAt: now}); err != nil {
		t.Fatalf("upsert node: %v", err)
	}
	if _, err := store.Messages.Upsert(ctx, domain.Message{
		MessageID: 1, FromNodeID: "!00000001", ToNodeID: "!ffffffff", Channel: 0, Text: "x", Timestamp: now, PortNum: 1,
	}); err != nil {
		t.Fatalf("upsert message: %v", err)
	}
	if err := store.Settings.Set(ctx, "session_passkey", "abc"); err != nil {
		t.Fatalf("set setting: %v", err)
	}
	if _, err := store.Audit.Append(ctx, domain.AuditEntry{Actor: "operator", Action: "database.clear"}); err != nil {
		t.Fatalf("append audit: %v", err)
	}

	if err := store.Clear(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}

	nodes, err := store.Nodes.ListAll(ctx)
	if err != nil {
		t.Fatalf("list nodes: %v", err)
	}
	if len(nodes) != 0 {
		t.Fatalf("nodes survived clear: %d", len(nodes))
	}
	msgs, _, err := store.Messages.ListChannel(ctx, 0, 10, 0)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("messages survived clear: %d", len(msgs))
	}

	value, ok, err := store.Settings.Get(ctx, "session_passkey")
	if err != nil || !ok || value != "abc" {
		t.Fatalf("setting lost: %q %v %v", value, ok, err)
	}
	entries, err := store.Audit.ListRecent(ctx, 10)
	if err != nil {
		t.Fatalf("list audit: %v", err)
	}
	if len(entries) != 1 || entries[0].ID == "" {
		t.Fatalf("audit lost: %+v", entries)
	}
}

func TestNeighborRepoReplaceForNode(t *testing.T) {
	ctx := context.Background()
	repo := NewNeighborRepo(openTestDB(t))
	now := time.Now().UTC()

	first := []domain.NeighborEntry{
		{NodeNum: 1, NeighborNum: 2, SNR: 8.25, LastRxTime: now},
		{NodeNum: 1, NeighborNum: 3, SNR: -3.5, LastRxTime: now},
	}
	if err := repo.ReplaceForNode(ctx, 1, first); err != nil {
		t.Fatalf("first replace: %v", err)
	}
	// Next broadcast drops neighbor 3 and adds 4.
	second := []domain.NeighborEntry{
		{NodeNum: 1, NeighborNum: 2, SNR: 7.0, LastRxTime: now},
		{NodeNum: 1, NeighborNum: 4, SNR: 1.0, LastRxTime: now},
	}
	if err := repo.ReplaceForNode(ctx, 1, second); err != nil {
		t.Fatalf("second replace: %v", err)
	}

	entries, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected two neighbors, got %d", len(entries))
	}
	if entries[0].NeighborNum != 2 || entries[1].NeighborNum != 4 {
		t.Fatalf("neighbor set = %+v", entries)
	}
	if entries[0].SNR != 7.0 {
		t.Fatalf("snr not updated: %v", entries[0].SNR)
	}
}

func TestMigrationsApplyFromScratch(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	var version int
	if err := db.QueryRowContext(ctx, `PRAGMA user_version;`).Scan(&version); err != nil {
		t.Fatalf("read version: %v", err)
	}
	if version != len(migrations) {
		t.Fatalf("schema version = %d, want %d", version, len(migrations))
	}

	// Re-opening an already migrated database is a no-op.
	if err := migrate(ctx, db); err != nil {
		t.Fatalf("re-migrate: %v", err)
	}
}
