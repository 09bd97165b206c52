package poll

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"meshmonitor/internal/bus"
	"meshmonitor/internal/domain"
	"meshmonitor/internal/meshproto"
	"meshmonitor/internal/persistence"
	"meshmonitor/internal/radio"
)

type idleTransport struct{}

func (idleTransport) Name() string                  { return "test" }
func (idleTransport) Connect(context.Context) error { return nil }
func (idleTransport) Close() error                  { return nil }

func (idleTransport) ReadFrame(ctx context.Context) ([]byte, error) {
	<-ctx.Done()

	return nil, ctx.Err()
}

func (idleTransport) WriteFrame(context.Context, []byte) error { return nil }

// scriptedTransport answers the first want_config with a minimal bootstrap:
// my_info, one raw config section, config_complete.
type scriptedTransport struct {
	incoming chan []byte
}

func newScriptedTransport() *scriptedTransport {
	return &scriptedTransport{incoming: make(chan []byte, 8)}
}

func (s *scriptedTransport) Name() string                  { return "scripted" }
func (s *scriptedTransport) Connect(context.Context) error { return nil }
func (s *scriptedTransport) Close() error                  { return nil }

func (s *scriptedTransport) ReadFrame(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case payload := <-s.incoming:
		return payload, nil
	}
}

func (s *scriptedTransport) WriteFrame(_ context.Context, payload []byte) error {
	if tr, err := meshproto.DecodeToRadio(payload); err == nil && tr.WantConfigID != 0 {
		s.incoming <- meshproto.MarshalFromRadioMyInfo(&meshproto.MyNodeInfo{MyNodeNum: 0x42})
		s.incoming <- meshproto.MarshalFromRadioConfig([]byte{0x08, 0x01})
		s.incoming <- meshproto.MarshalFromRadioConfigComplete(tr.WantConfigID)
	}

	return nil
}

func newTestService(t *testing.T) (*Service, *persistence.Store) {
	t.Helper()
	logger := slog.Default()
	store, err := persistence.NewStore(context.Background(), filepath.Join(t.TempDir(), "app.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	sess := radio.NewSession(logger, bus.New(logger), idleTransport{})

	return NewService(logger, sess, store, 24*time.Hour), store
}

func seedMessage(t *testing.T, store *persistence.Store, from domain.NodeNum, id uint32, channel int, text string, at time.Time) {
	t.Helper()
	_, err := store.Messages.Upsert(context.Background(), domain.Message{
		MessageID:  id,
		FromNodeID: domain.FormatNodeID(from),
		ToNodeID:   domain.FormatNodeID(domain.BroadcastNodeNum),
		Channel:    channel,
		Text:       text,
		Timestamp:  at,
		Delivery:   domain.DeliveryDelivered,
	})
	if err != nil {
		t.Fatalf("seed message: %v", err)
	}
}

func TestSnapshotCollectsMeshState(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	if err := store.Nodes.Upsert(ctx, domain.Node{
		NodeNum:   0x10,
		NodeID:    domain.FormatNodeID(0x10),
		LongName:  "Sensor Shed",
		LastHeard: time.Now(),
	}); err != nil {
		t.Fatalf("seed node: %v", err)
	}
	seedMessage(t, store, 0x10, 1, 0, "hello mesh", time.Now())

	if err := store.Channels.Upsert(ctx, domain.Channel{Index: 0, Name: "LongFast", Role: domain.ChannelRolePrimary}); err != nil {
		t.Fatalf("seed channel: %v", err)
	}

	if err := store.Telemetry.Append(ctx, domain.TelemetrySample{
		NodeNum:   0x10,
		Kind:      domain.TelemetryEnvironment,
		Timestamp: time.Now(),
	}); err != nil {
		t.Fatalf("seed telemetry: %v", err)
	}

	if err := store.Traceroutes.Append(ctx, domain.TracerouteRecord{
		FromNodeNum: 1, ToNodeNum: 0x10, Route: []uint32{2}, Timestamp: time.Now(),
	}); err != nil {
		t.Fatalf("seed traceroute: %v", err)
	}
	if err := store.Traceroutes.Append(ctx, domain.TracerouteRecord{
		FromNodeNum: 1, ToNodeNum: 0x11, Timestamp: time.Now(),
	}); err != nil {
		t.Fatalf("seed failed traceroute: %v", err)
	}

	snap, err := svc.Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}

	if len(snap.Nodes) != 1 || snap.Nodes[0].LongName != "Sensor Shed" {
		t.Fatalf("nodes = %+v", snap.Nodes)
	}
	if len(snap.Messages) != 1 || snap.Messages[0].Text != "hello mesh" {
		t.Fatalf("messages = %+v", snap.Messages)
	}
	if len(snap.Channels) != 1 || snap.Channels[0].Name != "LongFast" {
		t.Fatalf("channels = %+v", snap.Channels)
	}
	if len(snap.Telemetry.Environment) != 1 || snap.Telemetry.Environment[0] != 0x10 {
		t.Fatalf("environment nodes = %v", snap.Telemetry.Environment)
	}
	if len(snap.Telemetry.Device) != 0 {
		t.Fatalf("device nodes = %v, want none", snap.Telemetry.Device)
	}
	if len(snap.Traceroutes) != 1 || snap.TracerouteFailures != 1 {
		t.Fatalf("traceroutes = %d records, %d failures", len(snap.Traceroutes), snap.TracerouteFailures)
	}
	if snap.Connection.Connected {
		t.Fatal("connection reported connected without a radio session")
	}
	if snap.Connection.NodeResponsive {
		t.Fatal("node reported responsive without a radio session")
	}
	if snap.DeviceConfig != nil || len(snap.Config) != 0 {
		t.Fatalf("device records without a session: %+v %+v", snap.DeviceConfig, snap.Config)
	}
}

func TestSnapshotSurfacesDeviceConfigRecords(t *testing.T) {
	logger := slog.Default()
	store, err := persistence.NewStore(context.Background(), filepath.Join(t.TempDir(), "app.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})

	b := bus.New(logger)
	sess := radio.NewSession(logger, b, newScriptedTransport())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		b.Close()
	})
	sess.Start(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for sess.State() != domain.SessionConnected {
		if time.Now().After(deadline) {
			t.Fatalf("session state = %q, want connected", sess.State())
		}
		time.Sleep(5 * time.Millisecond)
	}

	svc := NewService(logger, sess, store, 24*time.Hour)
	snap, err := svc.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}

	if !snap.Connection.NodeResponsive {
		t.Fatal("configured session reported unresponsive")
	}
	if snap.Connection.LocalNodeNum != 0x42 {
		t.Fatalf("local node = %08x", snap.Connection.LocalNodeNum)
	}
	if len(snap.Config) != 1 || snap.Config[0].Kind != "config" {
		t.Fatalf("config records = %+v, want one config section", snap.Config)
	}
	if len(snap.Config[0].Raw) == 0 {
		t.Fatal("config record lost its payload")
	}
}

func TestSnapshotUnreadDropsAfterMarkRead(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	seedMessage(t, store, 0x20, 10, 1, "first", time.Now().Add(-time.Minute))
	seedMessage(t, store, 0x20, 11, 1, "second", time.Now())

	snap, err := svc.Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	key := domain.ConversationKeyForChannel(1)
	if snap.Unread[key] != 2 {
		t.Fatalf("unread[%s] = %d, want 2", key, snap.Unread[key])
	}

	if err := svc.MarkConversationRead(ctx, key); err != nil {
		t.Fatalf("mark read: %v", err)
	}

	snap, err = svc.Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot after mark read: %v", err)
	}
	if snap.Unread[key] != 0 {
		t.Fatalf("unread[%s] = %d after mark read, want 0", key, snap.Unread[key])
	}
}
