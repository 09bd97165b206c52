package persistence

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"meshmonitor/internal/domain"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "app.db")

	db, err := Open(ctx, dbPath)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	return db
}

func TestNodeRepoUpsertMergesSparseUpdates(t *testing.T) {
	ctx := context.Background()
	repo := NewNodeRepo(openTestDB(t))
	now := time.Now().UTC()
	snr := 7.5

	if err := repo.Upsert(ctx, domain.Node{
		NodeNum:   0xabcd1234,
		NodeID:    "!abcd1234",
		LongName:  "Alpha Station",
		Position:  &domain.Position{Latitude: 37.7749, Longitude: -122.4194, Altitude: 12},
		SNR:       &snr,
		LastHeard: now,
		UpdatedAt: now,
	}); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	// A nodeinfo without position or SNR must not erase either.
	if err := repo.Upsert(ctx, domain.Node{
		NodeNum:   0xabcd1234,
		NodeID:    "!abcd1234",
		ShortName: "ALPH",
		LastHeard: now.Add(time.Second),
		UpdatedAt: now.Add(time.Second),
	}); err != nil {
		t.Fatalf("sparse upsert: %v", err)
	}

	n, err := repo.Get(ctx, 0xabcd1234)
	if err != nil {
		t.Fatalf("get node: %v", err)
	}
	if n == nil {
		t.Fatal("node not found")
	}
	if n.LongName != "Alpha Station" || n.ShortName != "ALPH" {
		t.Fatalf("names = %q / %q", n.LongName, n.ShortName)
	}
	if n.Position == nil || n.Position.Latitude != 37.7749 {
		t.Fatalf("position lost: %+v", n.Position)
	}
	if n.SNR == nil || *n.SNR != snr {
		t.Fatalf("snr lost: %v", n.SNR)
	}
}

func TestNodeRepoUpsertDoesNotTouchFlags(t *testing.T) {
	ctx := context.Background()
	repo := NewNodeRepo(openTestDB(t))
	now := time.Now().UTC()

	if err := repo.Upsert(ctx, domain.Node{NodeNum: 1, NodeID: "!00000001", LastHeard: now, UpdatedAt: now}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := repo.SetFavorite(ctx, 1, true); err != nil {
		t.Fatalf("set favorite: %v", err)
	}
	if err := repo.SetIgnored(ctx, 1, true); err != nil {
		t.Fatalf("set ignored: %v", err)
	}
	if err := repo.Upsert(ctx, domain.Node{NodeNum: 1, NodeID: "!00000001", LongName: "One", LastHeard: now.Add(time.Second), UpdatedAt: now.Add(time.Second)}); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	n, err := repo.Get(ctx, 1)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !n.IsFavorite || !n.IsIgnored {
		t.Fatalf("flags reset by upsert: favorite=%v ignored=%v", n.IsFavorite, n.IsIgnored)
	}
}

func TestNodeRepoListActiveFiltersByAge(t *testing.T) {
	ctx := context.Background()
	repo := NewNodeRepo(openTestDB(t))
	now := time.Now().UTC()

	if err := repo.Upsert(ctx, domain.Node{NodeNum: 1, NodeID: "!00000001", LastHeard: now, UpdatedAt: now}); err != nil {
		t.Fatalf("upsert fresh: %v", err)
	}
	if err := repo.Upsert(ctx, domain.Node{NodeNum: 2, NodeID: "!00000002", LastHeard: now.Add(-48 * time.Hour), UpdatedAt: now}); err != nil {
		t.Fatalf("upsert stale: %v", err)
	}

	active, err := repo.ListActive(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(active) != 1 || active[0].NodeNum != 1 {
		t.Fatalf("expected only the fresh node, got %+v", active)
	}

	all, err := repo.ListAll(ctx)
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected both nodes, got %d", len(all))
	}
}

func TestNodeRepoMarkWelcomedElectsSingleWinner(t *testing.T) {
	ctx := context.Background()
	repo := NewNodeRepo(openTestDB(t))
	now := time.Now().UTC()

	if err := repo.Upsert(ctx, domain.Node{NodeNum: 5, NodeID: "!00000005", LastHeard: now, UpdatedAt: now}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	first, err := repo.MarkWelcomedIfNotAlready(ctx, 5)
	if err != nil {
		t.Fatalf("first mark: %v", err)
	}
	second, err := repo.MarkWelcomedIfNotAlready(ctx, 5)
	if err != nil {
		t.Fatalf("second mark: %v", err)
	}
	if !first || second {
		t.Fatalf("expected exactly one winner, got first=%v second=%v", first, second)
	}

	n, err := repo.Get(ctx, 5)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if n.WelcomedAt.IsZero() {
		t.Fatal("welcomed_at not set")
	}
}

func TestNodeRepoDeleteCascadeRemovesRelatedRows(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	nodes := NewNodeRepo(db)
	messages := NewMessageRepo(db)
	traceroutes := NewTracerouteRepo(db)
	telemetry := NewTelemetryRepo(db)
	now := time.Now().UTC()

	if err := nodes.Upsert(ctx, domain.Node{NodeNum: 0x10, NodeID: "!00000010", LastHeard: now, UpdatedAt: now}); err != nil {
		t.Fatalf("upsert node: %v", err)
	}
	if _, err := messages.Upsert(ctx, domain.Message{
		MessageID: 1, FromNodeID: "!00000010", ToNodeID: "!00000020",
		Channel: domain.DirectChannel, Text: "hi", Timestamp: now, PortNum: 1,
	}); err != nil {
		t.Fatalf("insert message: %v", err)
	}
	if err := traceroutes.Append(ctx, domain.TracerouteRecord{FromNodeNum: 0x20, ToNodeNum: 0x10, Route: []uint32{0x30}, Timestamp: now}); err != nil {
		t.Fatalf("append traceroute: %v", err)
	}
	if err := telemetry.Append(ctx, domain.TelemetrySample{NodeNum: 0x10, Kind: domain.TelemetryDevice, Timestamp: now}); err != nil {
		t.Fatalf("append telemetry: %v", err)
	}

	if err := nodes.DeleteCascade(ctx, 0x10); err != nil {
		t.Fatalf("delete cascade: %v", err)
	}

	if n, err := nodes.Get(ctx, 0x10); err != nil || n != nil {
		t.Fatalf("node still present: %v %v", n, err)
	}
	if msgs, _, err := messages.ListDirect(ctx, "!00000010", "!00000020", 10, 0); err != nil || len(msgs) != 0 {
		t.Fatalf("messages still present: %v %v", msgs, err)
	}
	if trs, err := traceroutes.ListForNode(ctx, 0x10, 10); err != nil || len(trs) != 0 {
		t.Fatalf("traceroutes still present: %v %v", trs, err)
	}
	if samples, err := telemetry.ListForNode(ctx, 0x10, now.Add(-time.Hour)); err != nil || len(samples) != 0 {
		t.Fatalf("telemetry still present: %v %v", samples, err)
	}
}
