package meshproto

import (
	"bytes"
	"math"
	"testing"
)

func TestMeshPacketRoundTrip(t *testing.T) {
	bitfield := uint32(1)
	in := &MeshPacket{
		From:    0xDEADBEEF,
		To:      0xFFFFFFFF,
		Channel: 2,
		Decoded: &Data{
			PortNum:      PortTextMessage,
			Payload:      []byte("hello mesh"),
			WantResponse: true,
			RequestID:    0x1234,
			Bitfield:     &bitfield,
		},
		ID:       0xCAFE,
		RxTime:   1700000000,
		RxSnr:    -7.25,
		HopLimit: 3,
		WantAck:  true,
		Priority: 70,
		RxRssi:   -91,
		HopStart: 3,
	}

	out, err := DecodeMeshPacket(MarshalMeshPacket(in))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.From != in.From || out.To != in.To || out.ID != in.ID {
		t.Fatalf("identity fields mismatch: got %+v", out)
	}
	if out.Decoded == nil {
		t.Fatal("decoded data missing")
	}
	if out.Decoded.PortNum != PortTextMessage {
		t.Fatalf("portnum = %v, want TEXT_MESSAGE_APP", out.Decoded.PortNum)
	}
	if string(out.Decoded.Payload) != "hello mesh" {
		t.Fatalf("payload = %q", out.Decoded.Payload)
	}
	if !out.Decoded.WantResponse || out.Decoded.RequestID != 0x1234 {
		t.Fatalf("data fields mismatch: %+v", out.Decoded)
	}
	if out.Decoded.Bitfield == nil || *out.Decoded.Bitfield != 1 {
		t.Fatalf("bitfield mismatch: %+v", out.Decoded.Bitfield)
	}
	if out.RxSnr != -7.25 {
		t.Fatalf("rx_snr = %v", out.RxSnr)
	}
	if out.RxRssi != -91 {
		t.Fatalf("rx_rssi = %v", out.RxRssi)
	}
	if out.HopLimit != 3 || out.HopStart != 3 || !out.WantAck {
		t.Fatalf("hop fields mismatch: %+v", out)
	}
}

func TestFromRadioVariants(t *testing.T) {
	hops := uint32(2)
	node := &NodeInfo{
		Num:       0x11223344,
		User:      &User{ID: "!11223344", LongName: "Repeater West", ShortName: "RPW", HwModel: 9},
		Snr:       5.5,
		LastHeard: 1700000100,
		HopsAway:  &hops,
	}

	payload := MarshalFromRadioNodeInfo(node)
	fr, err := DecodeFromRadio(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if fr.Kind != KindNodeInfo {
		t.Fatalf("kind = %v, want node_info", fr.Kind)
	}
	if !bytes.Equal(fr.Raw, payload) {
		t.Fatal("raw bytes not preserved")
	}
	if fr.NodeInfo.Num != node.Num || fr.NodeInfo.User.LongName != "Repeater West" {
		t.Fatalf("node info mismatch: %+v", fr.NodeInfo)
	}
	if fr.NodeInfo.HopsAway == nil || *fr.NodeInfo.HopsAway != 2 {
		t.Fatalf("hops_away mismatch: %+v", fr.NodeInfo.HopsAway)
	}

	fr, err = DecodeFromRadio(MarshalFromRadioConfigComplete(0xBEEF))
	if err != nil {
		t.Fatalf("decode config complete: %v", err)
	}
	if fr.Kind != KindConfigComplete || fr.ConfigCompleteID != 0xBEEF {
		t.Fatalf("config complete mismatch: %+v", fr)
	}

	fr, err = DecodeFromRadio(MarshalFromRadioMyInfo(&MyNodeInfo{MyNodeNum: 7}))
	if err != nil {
		t.Fatalf("decode my info: %v", err)
	}
	if fr.Kind != KindMyInfo || fr.MyInfo.MyNodeNum != 7 {
		t.Fatalf("my info mismatch: %+v", fr)
	}
}

func TestToRadioVariants(t *testing.T) {
	tr, err := DecodeToRadio(MarshalWantConfig(42))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if tr.WantConfigID != 42 {
		t.Fatalf("want_config_id = %d", tr.WantConfigID)
	}

	tr, err = DecodeToRadio(MarshalHeartbeat())
	if err != nil {
		t.Fatalf("decode heartbeat: %v", err)
	}
	if !tr.Heartbeat {
		t.Fatal("heartbeat flag not set")
	}

	tr, err = DecodeToRadio(MarshalDisconnect())
	if err != nil {
		t.Fatalf("decode disconnect: %v", err)
	}
	if !tr.Disconnect {
		t.Fatal("disconnect flag not set")
	}

	packet := &MeshPacket{From: 1, To: 2, ID: 3, Decoded: &Data{PortNum: PortTextMessage, Payload: []byte("hi")}}
	tr, err = DecodeToRadio(MarshalToRadioPacket(packet))
	if err != nil {
		t.Fatalf("decode packet: %v", err)
	}
	if tr.Packet == nil || tr.Packet.ID != 3 {
		t.Fatalf("packet mismatch: %+v", tr.Packet)
	}
}

func TestTelemetryRoundTrip(t *testing.T) {
	battery := uint32(87)
	voltage := float32(4.01)
	temp := float32(21.5)
	in := &Telemetry{
		Time:               1700000200,
		DeviceMetrics:      &DeviceMetrics{BatteryLevel: &battery, Voltage: &voltage},
		EnvironmentMetrics: &EnvironmentMetrics{Temperature: &temp},
	}

	out, err := DecodeTelemetry(MarshalTelemetry(in))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Time != in.Time {
		t.Fatalf("time = %d", out.Time)
	}
	if out.DeviceMetrics == nil || out.DeviceMetrics.BatteryLevel == nil || *out.DeviceMetrics.BatteryLevel != 87 {
		t.Fatalf("device metrics mismatch: %+v", out.DeviceMetrics)
	}
	if out.EnvironmentMetrics == nil || out.EnvironmentMetrics.Temperature == nil || *out.EnvironmentMetrics.Temperature != 21.5 {
		t.Fatalf("environment metrics mismatch: %+v", out.EnvironmentMetrics)
	}
	if out.PowerMetrics != nil {
		t.Fatal("unexpected power metrics")
	}
}

func TestRouteDiscoveryPackedRoundTrip(t *testing.T) {
	in := &RouteDiscovery{
		Route:      []uint32{0x11, 0x22, 0x33},
		SnrTowards: []int32{20, SNRUnknown, -12},
		RouteBack:  []uint32{0x33, 0x11},
		SnrBack:    []int32{8},
	}

	out, err := DecodeRouteDiscovery(MarshalRouteDiscovery(in))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Route) != 3 || out.Route[1] != 0x22 {
		t.Fatalf("route mismatch: %v", out.Route)
	}
	if len(out.SnrTowards) != 3 || out.SnrTowards[1] != SNRUnknown {
		t.Fatalf("snr_towards mismatch: %v", out.SnrTowards)
	}
	if len(out.RouteBack) != 2 || len(out.SnrBack) != 1 {
		t.Fatalf("route back mismatch: %v %v", out.RouteBack, out.SnrBack)
	}
}

func TestRouteDiscoveryUnpacked(t *testing.T) {
	// Older firmware emits repeated fixed32 hops unpacked.
	var buf []byte
	buf = appendFixed32FieldAlways(buf, 1, 0xAA)
	buf = appendFixed32FieldAlways(buf, 1, 0xBB)

	out, err := DecodeRouteDiscovery(buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Route) != 2 || out.Route[0] != 0xAA || out.Route[1] != 0xBB {
		t.Fatalf("route mismatch: %v", out.Route)
	}
}

func TestRoutingError(t *testing.T) {
	in := &Routing{HasError: true, ErrorReason: RoutingMaxRetransmit}
	out, err := DecodeRouting(MarshalRouting(in))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !out.HasError || out.ErrorReason != RoutingMaxRetransmit {
		t.Fatalf("routing mismatch: %+v", out)
	}
	if out.ErrorReason.String() != "MAX_RETRANSMIT" {
		t.Fatalf("reason string = %q", out.ErrorReason.String())
	}

	out, err = DecodeRouting(MarshalRouting(&Routing{HasError: true, ErrorReason: RoutingNone}))
	if err != nil {
		t.Fatalf("decode ack: %v", err)
	}
	if !out.HasError || out.ErrorReason != RoutingNone {
		t.Fatalf("explicit NONE not preserved: %+v", out)
	}
}

func TestPortNormalization(t *testing.T) {
	cases := []struct {
		raw  uint32
		want PortNum
	}{
		{1, PortTextMessage},
		{67, PortTelemetry},
		{70, PortTraceroute},
		{4095, PortUnknown},
		{12, PortUnknown},
	}
	for _, tc := range cases {
		if got := NormalizePort(tc.raw); got != tc.want {
			t.Errorf("NormalizePort(%d) = %v, want %v", tc.raw, got, tc.want)
		}
	}

	if got := NormalizePortName("telemetry_app"); got != PortTelemetry {
		t.Errorf("NormalizePortName lowercase = %v", got)
	}
	if got := NormalizePortName(" TRACEROUTE_APP "); got != PortTraceroute {
		t.Errorf("NormalizePortName padded = %v", got)
	}
	if got := NormalizePortName("NO_SUCH_APP"); got != PortUnknown {
		t.Errorf("NormalizePortName unknown = %v", got)
	}
}

func TestAdminMessageRoundTrip(t *testing.T) {
	passkey := []byte{1, 2, 3, 4}
	cases := []*AdminMessage{
		{Kind: AdminGetDeviceMetadata},
		{Kind: AdminSetFavoriteNode, NodeNum: 0x11223344, SessionPasskey: passkey},
		{Kind: AdminRemoveIgnoredNode, NodeNum: 9, SessionPasskey: passkey},
		{Kind: AdminRebootSeconds, RebootSeconds: 5, SessionPasskey: passkey},
		{Kind: AdminBeginEditSettings},
		{Kind: AdminRemoveByNodenum, NodeNum: 0xAABB, SessionPasskey: passkey},
	}
	for _, in := range cases {
		out, err := DecodeAdminMessage(MarshalAdminMessage(in))
		if err != nil {
			t.Fatalf("%v: decode: %v", in.Kind, err)
		}
		if out.Kind != in.Kind {
			t.Fatalf("kind = %v, want %v", out.Kind, in.Kind)
		}
		if out.NodeNum != in.NodeNum {
			t.Fatalf("%v: node num = %d, want %d", in.Kind, out.NodeNum, in.NodeNum)
		}
		if !bytes.Equal(out.SessionPasskey, in.SessionPasskey) {
			t.Fatalf("%v: passkey mismatch", in.Kind)
		}
	}
}

func TestAdminReadOnlyClassification(t *testing.T) {
	if !AdminGetConfig.ReadOnly() || !AdminGetDeviceMetadata.ReadOnly() {
		t.Fatal("get requests must classify as read-only")
	}
	if AdminSetChannel.ReadOnly() || AdminRebootSeconds.ReadOnly() || AdminNodedbReset.ReadOnly() {
		t.Fatal("mutating requests must not classify as read-only")
	}
}

func TestAdminSetOwner(t *testing.T) {
	in := &AdminMessage{
		Kind:  AdminSetOwner,
		Owner: &User{LongName: "Base Station", ShortName: "BASE"},
	}
	out, err := DecodeAdminMessage(MarshalAdminMessage(in))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Kind != AdminSetOwner || out.Owner == nil || out.Owner.LongName != "Base Station" {
		t.Fatalf("owner mismatch: %+v", out)
	}
}

func TestSplitFromRadioStream(t *testing.T) {
	// A nodeDB dump over HTTP is the typical concatenated blob: a run of
	// node_info records, each reusing field number 4.
	records := []*NodeInfo{
		{Num: 2, LastHeard: 100},
		{Num: 3, LastHeard: 200},
		{Num: 4, LastHeard: 300},
	}
	var blob []byte
	for _, rec := range records {
		blob = append(blob, MarshalFromRadioNodeInfo(rec)...)
	}

	parts, err := SplitFromRadioStream(blob)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if len(parts) != len(records) {
		t.Fatalf("got %d parts, want %d", len(parts), len(records))
	}
	for i, part := range parts {
		fr, err := DecodeFromRadio(part)
		if err != nil {
			t.Fatalf("decode part %d: %v", i, err)
		}
		if fr.Kind != KindNodeInfo || fr.NodeInfo.Num != records[i].Num {
			t.Fatalf("part %d mismatch: %+v", i, fr)
		}
	}
}

func TestSplitFromRadioStreamSingle(t *testing.T) {
	payload := MarshalFromRadioConfigComplete(0x42)
	parts, err := SplitFromRadioStream(payload)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if len(parts) != 1 {
		t.Fatalf("got %d parts, want 1", len(parts))
	}
	fr, err := DecodeFromRadio(parts[0])
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if fr.Kind != KindConfigComplete || fr.ConfigCompleteID != 0x42 {
		t.Fatalf("mismatch: %+v", fr)
	}
}

func TestSplitFromRadioStreamEmpty(t *testing.T) {
	parts, err := SplitFromRadioStream(nil)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if len(parts) != 0 {
		t.Fatalf("got %d parts, want 0", len(parts))
	}
}

func TestDecodeRejectsMalformed(t *testing.T) {
	malformed := [][]byte{
		{0x80},                   // truncated varint tag
		{0x0A, 0xFF},             // length past end of buffer
		{0x0B, 0x01},             // wire type 3 (group) unsupported
		{0x15, 0x01, 0x02, 0x03}, // truncated fixed32
	}
	for _, buf := range malformed {
		if _, err := DecodeFromRadio(buf); err == nil {
			t.Errorf("DecodeFromRadio(%x) accepted malformed input", buf)
		}
	}
}

func TestPositionDegreesConversion(t *testing.T) {
	lat := 52.520008
	latI := DegreesToI(lat)
	if math.Abs(IToDegrees(latI)-lat) > 1e-7 {
		t.Fatalf("round trip drift: %v -> %d -> %v", lat, latI, IToDegrees(latI))
	}
	if DegreesToI(-13.5) != -135000000 {
		t.Fatalf("negative conversion = %d", DegreesToI(-13.5))
	}

	lonI := int32(134000000)
	pos := &Position{LongitudeI: &lonI}
	if pos.Longitude() != 13.4 {
		t.Fatalf("longitude = %v", pos.Longitude())
	}
	if pos.Latitude() != 0 {
		t.Fatalf("missing latitude should read 0, got %v", pos.Latitude())
	}
}

func TestPositionRoundTrip(t *testing.T) {
	latI := DegreesToI(52.52)
	lonI := DegreesToI(13.405)
	alt := int32(-4)
	in := &Position{LatitudeI: &latI, LongitudeI: &lonI, Altitude: &alt, Time: 1700000300, PrecisionBits: 32}

	out, err := DecodePosition(MarshalPosition(in))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.LatitudeI == nil || *out.LatitudeI != latI {
		t.Fatalf("latitude mismatch: %+v", out.LatitudeI)
	}
	if out.Altitude == nil || *out.Altitude != -4 {
		t.Fatalf("altitude mismatch: %+v", out.Altitude)
	}
	if out.Time != in.Time || out.PrecisionBits != 32 {
		t.Fatalf("scalar fields mismatch: %+v", out)
	}
}
