package router

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"meshmonitor/internal/bus"
	"meshmonitor/internal/domain"
	"meshmonitor/internal/meshproto"
	"meshmonitor/internal/persistence"
	"meshmonitor/internal/radio"
	"meshmonitor/internal/tracker"
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

type routerFixture struct {
	router  *Router
	store   *persistence.Store
	tracker *tracker.Tracker
	session *radio.Session
}

func newRouterFixture(t *testing.T) *routerFixture {
	t.Helper()
	logger := slog.Default()
	b := bus.New(logger)
	store, err := persistence.NewStore(context.Background(), filepath.Join(t.TempDir(), "app.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	sess := radio.NewSession(logger, b, idleTransport{})
	tr := tracker.New(logger, b)
	metrics := NewMetrics(prometheus.NewRegistry())
	t.Cleanup(func() {
		tr.Close()
		_ = store.Close()
		b.Close()
	})

	return &routerFixture{
		router:  New(logger, b, store, nil, sess, tr, metrics),
		store:   store,
		tracker: tr,
		session: sess,
	}
}

func textPacket(id, from, to, channel uint32, text string) *meshproto.MeshPacket {
	return &meshproto.MeshPacket{
		From: from, To: to, Channel: channel, ID: id,
		HopStart: 3, HopLimit: 1,
		Decoded: &meshproto.Data{PortNum: meshproto.PortTextMessage, Payload: []byte(text)},
	}
}

func TestChannelTextIsStoredDelivered(t *testing.T) {
	f := newRouterFixture(t)
	ctx := context.Background()

	f.router.handlePacket(ctx, textPacket(0x100, 0x22, domain.BroadcastNodeNum, 1, "hello"))

	msgs, _, err := f.store.Messages.ListChannel(ctx, 1, 10, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("stored %d messages", len(msgs))
	}
	m := msgs[0]
	if m.Text != "hello" || m.Delivery != domain.DeliveryDelivered {
		t.Fatalf("message = %+v", m)
	}
	if m.HopStart != 3 || m.HopLimit != 1 {
		t.Fatalf("hops = %d/%d", m.HopStart, m.HopLimit)
	}

	// Sender liveness also lands in the node table.
	node, err := f.store.Nodes.Get(ctx, 0x22)
	if err != nil || node == nil {
		t.Fatalf("sender node missing: %v %v", node, err)
	}
	if node.HopsAway == nil || *node.HopsAway != 2 {
		t.Fatalf("hops away = %v", node.HopsAway)
	}
}

func TestTextFromIgnoredNodeIsDropped(t *testing.T) {
	f := newRouterFixture(t)
	ctx := context.Background()
	now := time.Now()

	if err := f.store.Nodes.Upsert(ctx, domain.Node{NodeNum: 0x22, NodeID: "!00000022", LastHeard: now, UpdatedAt: now}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := f.store.Nodes.SetIgnored(ctx, 0x22, true); err != nil {
		t.Fatalf("ignore: %v", err)
	}

	f.router.handlePacket(ctx, textPacket(0x101, 0x22, domain.BroadcastNodeNum, 0, "spam"))

	msgs, _, err := f.store.Messages.ListChannel(ctx, 0, 10, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("ignored sender stored %d messages", len(msgs))
	}
}

func ackPacket(from uint32, requestID uint32) *meshproto.MeshPacket {
	return &meshproto.MeshPacket{
		From: from, To: 0,
		Decoded: &meshproto.Data{
			PortNum:   meshproto.PortRouting,
			Payload:   meshproto.MarshalRouting(&meshproto.Routing{HasError: true, ErrorReason: meshproto.RoutingNone}),
			RequestID: requestID,
		},
	}
}

func nakPacket(from uint32, requestID uint32, reason meshproto.RoutingError) *meshproto.MeshPacket {
	return &meshproto.MeshPacket{
		From: from, To: 0,
		Decoded: &meshproto.Data{
			PortNum:   meshproto.PortRouting,
			Payload:   meshproto.MarshalRouting(&meshproto.Routing{HasError: true, ErrorReason: reason}),
			RequestID: requestID,
		},
	}
}

func TestDestinationAckConfirmsDM(t *testing.T) {
	f := newRouterFixture(t)
	ctx := context.Background()

	msg, err := f.router.SendText(ctx, domain.DirectChannel, 0x44, "direct hello")
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	f.router.handlePacket(ctx, ackPacket(0x44, msg.MessageID))

	stored, err := f.store.Messages.Get(ctx, msg.FromNodeID, msg.MessageID)
	if err != nil || stored == nil {
		t.Fatalf("get: %v %v", stored, err)
	}
	if stored.Delivery != domain.DeliveryConfirmed {
		t.Fatalf("delivery = %v", stored.Delivery)
	}
	if f.tracker.Pending() != 0 {
		t.Fatalf("tracker still pending: %d", f.tracker.Pending())
	}
}

func TestRelayAckDeliversAndKeepsTracking(t *testing.T) {
	f := newRouterFixture(t)
	ctx := context.Background()

	msg, err := f.router.SendText(ctx, domain.DirectChannel, 0x44, "direct hello")
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	// Ack from a relay, not the destination.
	f.router.handlePacket(ctx, ackPacket(0x99, msg.MessageID))

	stored, err := f.store.Messages.Get(ctx, msg.FromNodeID, msg.MessageID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Delivery != domain.DeliveryDelivered {
		t.Fatalf("delivery = %v", stored.Delivery)
	}
	if f.tracker.Pending() != 1 {
		t.Fatalf("tracking dropped after relay ack: pending=%d", f.tracker.Pending())
	}

	// The destination's own ack then confirms.
	f.router.handlePacket(ctx, ackPacket(0x44, msg.MessageID))
	stored, err = f.store.Messages.Get(ctx, msg.FromNodeID, msg.MessageID)
	if err != nil {
		t.Fatalf("get after confirm: %v", err)
	}
	if stored.Delivery != domain.DeliveryConfirmed {
		t.Fatalf("delivery after destination ack = %v", stored.Delivery)
	}
}

func TestRadioEchoMarksLocalMessageDelivered(t *testing.T) {
	f := newRouterFixture(t)
	ctx := context.Background()

	msg, err := f.router.SendText(ctx, 0, 0, "over the air")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	stored, err := f.store.Messages.Get(ctx, msg.FromNodeID, msg.MessageID)
	if err != nil || stored == nil {
		t.Fatalf("get: %v %v", stored, err)
	}
	if stored.Delivery != domain.DeliveryPending {
		t.Fatalf("delivery before echo = %v", stored.Delivery)
	}

	// The radio repeats our own transmission back as ordinary ingress.
	f.router.handlePacket(ctx, textPacket(msg.MessageID, 0, domain.BroadcastNodeNum, 0, "over the air"))

	stored, err = f.store.Messages.Get(ctx, msg.FromNodeID, msg.MessageID)
	if err != nil || stored == nil {
		t.Fatalf("get after echo: %v %v", stored, err)
	}
	if stored.Delivery != domain.DeliveryDelivered {
		t.Fatalf("delivery after echo = %v, want delivered", stored.Delivery)
	}
	if !stored.IsLocal || stored.RequestID != msg.MessageID {
		t.Fatalf("echo clobbered local bookkeeping: %+v", stored)
	}
}

func TestRoutingErrorFailsDM(t *testing.T) {
	f := newRouterFixture(t)
	ctx := context.Background()

	msg, err := f.router.SendText(ctx, domain.DirectChannel, 0x44, "doomed")
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	f.router.handlePacket(ctx, nakPacket(0x44, msg.MessageID, meshproto.RoutingNoRoute))

	stored, err := f.store.Messages.Get(ctx, msg.FromNodeID, msg.MessageID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Delivery != domain.DeliveryFailed || stored.FailReason != "NO_ROUTE" {
		t.Fatalf("delivery = %v reason = %q", stored.Delivery, stored.FailReason)
	}
}

func TestBroadcastAckDelivers(t *testing.T) {
	f := newRouterFixture(t)
	ctx := context.Background()

	msg, err := f.router.SendText(ctx, 0, 0, "to the channel")
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	// The local radio reports the implicit broadcast ack as from itself.
	f.router.handlePacket(ctx, ackPacket(0, msg.MessageID))

	stored, err := f.store.Messages.Get(ctx, msg.FromNodeID, msg.MessageID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Delivery != domain.DeliveryDelivered {
		t.Fatalf("delivery = %v", stored.Delivery)
	}
}

func TestTracerouteResponseRecorded(t *testing.T) {
	f := newRouterFixture(t)
	ctx := context.Background()

	id, err := f.router.SendTraceroute(ctx, 0x55, 0)
	if err != nil {
		t.Fatalf("send traceroute: %v", err)
	}

	reply := &meshproto.MeshPacket{
		From: 0x55, To: 0,
		Decoded: &meshproto.Data{
			PortNum: meshproto.PortTraceroute,
			Payload: meshproto.MarshalRouteDiscovery(&meshproto.RouteDiscovery{
				Route:      []uint32{0x70},
				SnrTowards: []int32{20, 16},
				RouteBack:  []uint32{0x70},
				SnrBack:    []int32{18, 14},
			}),
			RequestID: id,
		},
	}
	f.router.handlePacket(ctx, reply)

	records, err := f.store.Traceroutes.ListForNode(ctx, 0x55, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("stored %d records", len(records))
	}
	rec := records[0]
	if rec.Failed() {
		t.Fatal("response recorded as failed")
	}
	if len(rec.Route) != 1 || rec.Route[0] != 0x70 {
		t.Fatalf("route = %v", rec.Route)
	}
	if len(rec.SNRBack) != 2 || rec.SNRBack[1] != 14 {
		t.Fatalf("snr back = %v", rec.SNRBack)
	}
	if f.tracker.Pending() != 0 {
		t.Fatalf("traceroute still pending: %d", f.tracker.Pending())
	}
}

func TestNodeInfoRecordSyncsDeviceFlags(t *testing.T) {
	f := newRouterFixture(t)
	ctx := context.Background()

	hops := uint32(1)
	f.router.handleRecord(ctx, &meshproto.FromRadio{
		Kind: meshproto.KindNodeInfo,
		NodeInfo: &meshproto.NodeInfo{
			Num: 0x77,
			User: &meshproto.User{
				ID: "!00000077", LongName: "Ridge Repeater", ShortName: "RDG",
				HwModel: 9, Role: 4,
			},
			Snr:        6.5,
			LastHeard:  uint32(time.Now().Unix()),
			HopsAway:   &hops,
			IsFavorite: true,
		},
	})

	node, err := f.store.Nodes.Get(ctx, 0x77)
	if err != nil || node == nil {
		t.Fatalf("get: %v %v", node, err)
	}
	if node.LongName != "Ridge Repeater" || node.HwModel != "RAK4631" || node.Role != "REPEATER" {
		t.Fatalf("node = %+v", node)
	}
	if !node.IsFavorite {
		t.Fatal("device favorite flag not applied")
	}
}

func TestTelemetryPacketStoresSamples(t *testing.T) {
	f := newRouterFixture(t)
	ctx := context.Background()
	battery := uint32(92)
	voltage := float32(4.08)
	temp := float32(19.25)

	pkt := &meshproto.MeshPacket{
		From: 0x88, To: domain.BroadcastNodeNum,
		Decoded: &meshproto.Data{
			PortNum: meshproto.PortTelemetry,
			Payload: meshproto.MarshalTelemetry(&meshproto.Telemetry{
				Time:          uint32(time.Now().Unix()),
				DeviceMetrics: &meshproto.DeviceMetrics{BatteryLevel: &battery, Voltage: &voltage},
				EnvironmentMetrics: &meshproto.EnvironmentMetrics{
					Temperature: &temp,
				},
			}),
		},
	}
	f.router.handlePacket(ctx, pkt)

	samples, err := f.store.Telemetry.ListForNode(ctx, 0x88, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(samples) != 2 {
		t.Fatalf("stored %d samples", len(samples))
	}

	node, err := f.store.Nodes.Get(ctx, 0x88)
	if err != nil || node == nil {
		t.Fatalf("node: %v %v", node, err)
	}
	if node.Metrics.BatteryLevel == nil || *node.Metrics.BatteryLevel != battery {
		t.Fatalf("node metrics = %+v", node.Metrics)
	}
}

func TestUnknownPortLandsInRawPackets(t *testing.T) {
	f := newRouterFixture(t)
	ctx := context.Background()

	f.router.handlePacket(ctx, &meshproto.MeshPacket{
		From: 0x90, To: domain.BroadcastNodeNum, ID: 0x300,
		Decoded: &meshproto.Data{PortNum: meshproto.PortNum(8), Payload: []byte{0x01, 0x02}},
	})

	raws, err := f.store.RawPackets.ListRecent(ctx, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(raws) != 1 || raws[0].PacketID != 0x300 {
		t.Fatalf("raw packets = %+v", raws)
	}
}

func TestNeighborInfoReplacesNeighborSet(t *testing.T) {
	f := newRouterFixture(t)
	ctx := context.Background()

	payload := meshproto.MarshalNeighborInfo(&meshproto.NeighborInfo{
		NodeID: 0x40,
		Neighbors: []meshproto.Neighbor{
			{NodeID: 0x41, Snr: 5.5, LastRxTime: uint32(time.Now().Unix())},
			{NodeID: 0x42, Snr: -2.0},
		},
	})
	f.router.handlePacket(ctx, &meshproto.MeshPacket{
		From: 0x40, To: domain.BroadcastNodeNum,
		Decoded: &meshproto.Data{PortNum: meshproto.PortNeighborInfo, Payload: payload},
	})

	entries, err := f.store.Neighbors.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("neighbors = %+v", entries)
	}
	if entries[0].NeighborNum != 0x41 || entries[0].SNR != 5.5 {
		t.Fatalf("first neighbor = %+v", entries[0])
	}
}
