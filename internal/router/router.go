package router

import (
	"context"
	"log/slog"
	"time"

	"meshmonitor/internal/bus"
	"meshmonitor/internal/domain"
	"meshmonitor/internal/events"
	"meshmonitor/internal/meshproto"
	"meshmonitor/internal/persistence"
	"meshmonitor/internal/radio"
	"meshmonitor/internal/tracker"
)

const ackWindow = 30 * time.Second

// Router consumes decoded radio records, keeps the mesh model current and
// correlates routing replies with tracked requests.
type Router struct {
	logger  *slog.Logger
	bus     bus.MessageBus
	store   *persistence.Store
	writer  *persistence.WriterQueue
	session *radio.Session
	tracker *tracker.Tracker
	metrics *Metrics
}

func New(logger *slog.Logger, b bus.MessageBus, store *persistence.Store, writer *persistence.WriterQueue, session *radio.Session, tr *tracker.Tracker, metrics *Metrics) *Router {
	return &Router{
		logger:  logger,
		bus:     b,
		store:   store,
		writer:  writer,
		session: session,
		tracker: tr,
		metrics: metrics,
	}
}

func (r *Router) Run(ctx context.Context) {
	sub := r.bus.Subscribe(events.TopicRadioFrom)
	defer r.bus.Unsubscribe(sub)

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub:
			if !ok {
				return
			}
			ev, isFrom := msg.(events.RadioFrom)
			if !isFrom || ev.Record == nil {
				continue
			}
			r.handleRecord(ctx, ev.Record)
		}
	}
}

// write funnels a store mutation through the writer queue when one is
// attached, otherwise applies it inline.
func (r *Router) write(name string, fn func(context.Context) error) {
	if r.writer == nil {
		if err := fn(context.Background()); err != nil {
			r.logger.Error("store write failed", "cmd", name, "error", err)
		}

		return
	}
	r.writer.Enqueue(name, fn)
}

func (r *Router) handleRecord(ctx context.Context, record *meshproto.FromRadio) {
	switch record.Kind {
	case meshproto.KindPacket:
		r.handlePacket(ctx, record.Packet)
	case meshproto.KindNodeInfo:
		r.handleNodeInfo(record.NodeInfo)
	case meshproto.KindMyInfo:
		r.handleMyInfo(record.MyInfo)
	case meshproto.KindChannel:
		r.handleChannel(record.Channel)
	case meshproto.KindMetadata:
		r.handleMetadata(record.Metadata)
	case meshproto.KindLogRecord:
		if record.LogRecord != nil {
			r.logger.Debug("device log", "source", record.LogRecord.Source, "message", record.LogRecord.Message)
		}
	default:
	}
}

func (r *Router) handlePacket(ctx context.Context, pkt *meshproto.MeshPacket) {
	if pkt == nil {
		return
	}
	if pkt.Decoded == nil {
		// Encrypted payload for a channel we do not hold the key to.
		r.recordRawPacket(pkt, uint32(meshproto.PortUnknown), pkt.Encrypted)

		return
	}

	port := meshproto.NormalizePort(uint32(pkt.Decoded.PortNum))
	if r.metrics != nil {
		r.metrics.PacketsReceived.WithLabelValues(port.String()).Inc()
	}
	r.touchSender(pkt)

	switch port {
	case meshproto.PortTextMessage:
		r.handleText(pkt)
	case meshproto.PortPosition:
		r.handlePosition(pkt)
	case meshproto.PortNodeInfo:
		r.handleRemoteUser(pkt)
	case meshproto.PortRouting:
		r.handleRouting(pkt)
	case meshproto.PortAdmin:
		r.handleAdmin(pkt)
	case meshproto.PortTelemetry:
		r.handleTelemetry(pkt)
	case meshproto.PortTraceroute:
		r.handleTraceroute(pkt)
	case meshproto.PortNeighborInfo:
		r.handleNeighborInfo(pkt)
	case meshproto.PortPaxcounter:
		r.handlePaxcounter(pkt)
	default:
		r.recordRawPacket(pkt, uint32(port), pkt.Decoded.Payload)
	}
}

// touchSender refreshes liveness fields for the sending node on every
// decoded packet, the way the device's own nodedb does.
func (r *Router) touchSender(pkt *meshproto.MeshPacket) {
	if pkt.From == 0 || pkt.From == domain.BroadcastNodeNum || pkt.From == r.session.LocalNode() {
		return
	}

	node := domain.Node{
		NodeNum:   pkt.From,
		NodeID:    domain.FormatNodeID(pkt.From),
		LastHeard: time.Now(),
		ViaMqtt:   pkt.ViaMqtt,
		UpdatedAt: time.Now(),
	}
	if pkt.RxSnr != 0 {
		snr := float64(pkt.RxSnr)
		node.SNR = &snr
	}
	if pkt.HopStart > 0 && pkt.HopStart >= pkt.HopLimit {
		hops := pkt.HopStart - pkt.HopLimit
		node.HopsAway = &hops
	}
	r.write("node.touch", func(ctx context.Context) error {
		return r.store.Nodes.Upsert(ctx, node)
	})
}

func (r *Router) handleText(pkt *meshproto.MeshPacket) {
	text := string(pkt.Decoded.Payload)
	channel := domain.DirectChannel
	if pkt.To == domain.BroadcastNodeNum {
		channel = int(pkt.Channel)
	}
	ts := time.Now()
	if pkt.RxTime != 0 {
		ts = time.Unix(int64(pkt.RxTime), 0)
	}

	msg := domain.Message{
		MessageID:  pkt.ID,
		FromNodeID: domain.FormatNodeID(pkt.From),
		ToNodeID:   domain.FormatNodeID(pkt.To),
		Channel:    channel,
		Text:       text,
		Timestamp:  ts,
		PortNum:    uint32(meshproto.PortTextMessage),
		ReplyID:    pkt.Decoded.ReplyID,
		Emoji:      pkt.Decoded.Emoji != 0,
		HopStart:   pkt.HopStart,
		HopLimit:   pkt.HopLimit,
		ViaMqtt:    pkt.ViaMqtt,
		Delivery:   domain.DeliveryDelivered,
	}

	r.write("message.upsert", func(ctx context.Context) error {
		if node, err := r.store.Nodes.Get(ctx, pkt.From); err == nil && node != nil && node.IsIgnored {
			return nil
		}
		inserted, err := r.store.Messages.Upsert(ctx, msg)
		if err != nil {
			return err
		}
		if inserted {
			if r.metrics != nil {
				r.metrics.MessagesStored.Inc()
			}
			r.bus.Publish(events.TopicMessageSaved, events.MessageSaved{Message: &msg})
		}

		return nil
	})
}

func (r *Router) handlePosition(pkt *meshproto.MeshPacket) {
	pos, err := meshproto.DecodePosition(pkt.Decoded.Payload)
	if err != nil {
		r.countDecodeError("position", err)

		return
	}
	if pos.LatitudeI == nil || pos.LongitudeI == nil {
		return
	}

	node := domain.Node{
		NodeNum:   pkt.From,
		NodeID:    domain.FormatNodeID(pkt.From),
		LastHeard: time.Now(),
		UpdatedAt: time.Now(),
		Position: &domain.Position{
			Latitude:  pos.Latitude(),
			Longitude: pos.Longitude(),
		},
	}
	if pos.Altitude != nil {
		node.Position.Altitude = *pos.Altitude
	}
	if pos.Time != 0 {
		node.Position.Time = time.Unix(int64(pos.Time), 0)
	}
	r.write("node.position", func(ctx context.Context) error {
		if err := r.store.Nodes.Upsert(ctx, node); err != nil {
			return err
		}
		r.publishNodeUpdate(ctx, pkt.From)

		return nil
	})

	// Position responses resolve pending exchange requests.
	if pkt.Decoded.RequestID != 0 {
		r.tracker.Resolve(pkt.Decoded.RequestID, tracker.Resolution{Outcome: tracker.OutcomeResponse, Payload: pos})
	}
}

func (r *Router) handleRemoteUser(pkt *meshproto.MeshPacket) {
	user, err := meshproto.DecodeUser(pkt.Decoded.Payload)
	if err != nil {
		r.countDecodeError("user", err)

		return
	}

	node := domain.Node{
		NodeNum:    pkt.From,
		NodeID:     domain.FormatNodeID(pkt.From),
		LongName:   user.LongName,
		ShortName:  user.ShortName,
		HwModel:    meshproto.HardwareModelName(user.HwModel),
		Role:       meshproto.RoleName(user.Role),
		PublicKey:  user.PublicKey,
		IsLicensed: user.IsLicensed,
		LastHeard:  time.Now(),
		UpdatedAt:  time.Now(),
	}
	r.write("node.user", func(ctx context.Context) error {
		if err := r.store.Nodes.Upsert(ctx, node); err != nil {
			return err
		}
		r.publishNodeUpdate(ctx, pkt.From)

		return nil
	})
}

// handleRouting processes acks and nacks. The reply's request id is the
// packet id of the original transmission.
func (r *Router) handleRouting(pkt *meshproto.MeshPacket) {
	routing, err := meshproto.DecodeRouting(pkt.Decoded.Payload)
	if err != nil {
		r.countDecodeError("routing", err)

		return
	}
	requestID := pkt.Decoded.RequestID
	if requestID == 0 {
		return
	}

	if routing.HasError && routing.ErrorReason != meshproto.RoutingNone {
		if r.metrics != nil {
			r.metrics.NacksReceived.Inc()
		}
		reason := routing.ErrorReason.String()
		r.tracker.Resolve(requestID, tracker.Resolution{Outcome: tracker.OutcomeFailed, Err: reason})

		return
	}

	if r.metrics != nil {
		r.metrics.AcksReceived.Inc()
	}
	dest, tracked := r.tracker.Destination(requestID)
	outcome := tracker.OutcomeDelivered
	if tracked && dest != domain.BroadcastNodeNum && pkt.From == dest {
		// Ack straight from the destination, not a relay or the local radio.
		outcome = tracker.OutcomeConfirmed
	}
	if outcome == tracker.OutcomeDelivered && tracked {
		if kind, _ := r.tracker.Kind(requestID); kind == domain.RequestTextMessage && dest != domain.BroadcastNodeNum {
			// A relay ack moves a DM to delivered but keeps the request
			// open for the destination's own ack.
			r.write("message.delivered", func(ctx context.Context) error {
				_, err := r.store.Messages.UpdateDeliveryByRequestID(ctx, requestID, domain.DeliveryDelivered, "")

				return err
			})

			return
		}
	}
	r.tracker.Resolve(requestID, tracker.Resolution{Outcome: outcome, Payload: pkt.From})
}

func (r *Router) handleAdmin(pkt *meshproto.MeshPacket) {
	msg, err := meshproto.DecodeAdminMessage(pkt.Decoded.Payload)
	if err != nil {
		r.countDecodeError("admin", err)

		return
	}

	if len(msg.SessionPasskey) > 0 {
		r.session.SetSessionPasskey(msg.SessionPasskey)
	}
	if pkt.Decoded.RequestID != 0 {
		r.tracker.Resolve(pkt.Decoded.RequestID, tracker.Resolution{Outcome: tracker.OutcomeResponse, Payload: msg})
	}
}

func (r *Router) handleTelemetry(pkt *meshproto.MeshPacket) {
	tele, err := meshproto.DecodeTelemetry(pkt.Decoded.Payload)
	if err != nil {
		r.countDecodeError("telemetry", err)

		return
	}

	ts := time.Now()
	if tele.Time != 0 {
		ts = time.Unix(int64(tele.Time), 0)
	}
	samples := telemetrySamples(pkt.From, ts, tele)
	if len(samples) == 0 {
		return
	}

	r.write("telemetry.append", func(ctx context.Context) error {
		for i := range samples {
			if err := r.store.Telemetry.Append(ctx, samples[i]); err != nil {
				return err
			}
			r.bus.Publish(events.TopicTelemetry, events.TelemetrySampled{Sample: &samples[i]})
		}
		if dm := tele.DeviceMetrics; dm != nil {
			node := domain.Node{
				NodeNum:   pkt.From,
				NodeID:    domain.FormatNodeID(pkt.From),
				LastHeard: time.Now(),
				UpdatedAt: time.Now(),
				Metrics:   deviceMetricsFromWire(dm),
			}
			if err := r.store.Nodes.Upsert(ctx, node); err != nil {
				return err
			}
		}

		return nil
	})

	if pkt.Decoded.RequestID != 0 {
		r.tracker.Resolve(pkt.Decoded.RequestID, tracker.Resolution{Outcome: tracker.OutcomeResponse, Payload: tele})
	}
}

func (r *Router) handleTraceroute(pkt *meshproto.MeshPacket) {
	rd, err := meshproto.DecodeRouteDiscovery(pkt.Decoded.Payload)
	if err != nil {
		r.countDecodeError("traceroute", err)

		return
	}
	requestID := pkt.Decoded.RequestID
	if requestID == 0 {
		// Unsolicited traceroute request aimed at us; the device answers on
		// its own, nothing to record.
		return
	}
	if !r.tracker.Resolve(requestID, tracker.Resolution{Outcome: tracker.OutcomeResponse, Payload: rd}) {
		return
	}

	record := domain.TracerouteRecord{
		FromNodeNum: r.session.LocalNode(),
		ToNodeNum:   pkt.From,
		Route:       rd.Route,
		RouteBack:   rd.RouteBack,
		SNRTowards:  rd.SnrTowards,
		SNRBack:     rd.SnrBack,
		Timestamp:   time.Now(),
	}
	if record.Route == nil {
		record.Route = []uint32{}
	}
	r.write("traceroute.append", func(ctx context.Context) error {
		if err := r.store.Traceroutes.Append(ctx, record); err != nil {
			return err
		}
		r.bus.Publish(events.TopicTraceroute, events.TracerouteRecorded{Record: &record})

		return nil
	})
}

func (r *Router) handleNeighborInfo(pkt *meshproto.MeshPacket) {
	info, err := meshproto.DecodeNeighborInfo(pkt.Decoded.Payload)
	if err != nil {
		r.countDecodeError("neighborinfo", err)

		return
	}

	entries := make([]domain.NeighborEntry, 0, len(info.Neighbors))
	for _, n := range info.Neighbors {
		entry := domain.NeighborEntry{
			NodeNum:     info.NodeID,
			NeighborNum: n.NodeID,
			SNR:         float64(n.Snr),
		}
		if n.LastRxTime != 0 {
			entry.LastRxTime = time.Unix(int64(n.LastRxTime), 0)
		}
		entries = append(entries, entry)
	}
	r.write("neighbors.replace", func(ctx context.Context) error {
		return r.store.Neighbors.ReplaceForNode(ctx, info.NodeID, entries)
	})
}

func (r *Router) handlePaxcounter(pkt *meshproto.MeshPacket) {
	if _, err := meshproto.DecodePaxcount(pkt.Decoded.Payload); err != nil {
		r.countDecodeError("paxcounter", err)

		return
	}
	r.recordRawPacket(pkt, uint32(meshproto.PortPaxcounter), pkt.Decoded.Payload)
}

func (r *Router) recordRawPacket(pkt *meshproto.MeshPacket, port uint32, payload []byte) {
	raw := domain.RawPacket{
		PacketID:    pkt.ID,
		FromNodeNum: pkt.From,
		ToNodeNum:   pkt.To,
		PortNum:     port,
		Payload:     payload,
		ReceivedAt:  time.Now(),
	}
	r.write("rawpacket.append", func(ctx context.Context) error {
		return r.store.RawPackets.Append(ctx, raw)
	})
}

// handleNodeInfo applies a device nodedb record. The device is authoritative
// for favorite/ignored flags, so they sync here and nowhere else on ingest.
func (r *Router) handleNodeInfo(info *meshproto.NodeInfo) {
	if info == nil {
		return
	}

	node := domain.Node{
		NodeNum:   info.Num,
		NodeID:    domain.FormatNodeID(info.Num),
		ViaMqtt:   info.ViaMqtt,
		UpdatedAt: time.Now(),
	}
	if info.User != nil {
		if id := domain.NormalizeNodeID(info.User.ID); id != "" {
			node.NodeID = id
		}
		node.LongName = info.User.LongName
		node.ShortName = info.User.ShortName
		node.HwModel = meshproto.HardwareModelName(info.User.HwModel)
		node.Role = meshproto.RoleName(info.User.Role)
		node.PublicKey = info.User.PublicKey
		node.IsLicensed = info.User.IsLicensed
	}
	if info.Snr != 0 {
		snr := float64(info.Snr)
		node.SNR = &snr
	}
	if info.LastHeard != 0 {
		node.LastHeard = time.Unix(int64(info.LastHeard), 0)
	}
	if info.HopsAway != nil {
		hops := *info.HopsAway
		node.HopsAway = &hops
	}
	channel := info.Channel
	node.Channel = &channel
	if info.Position != nil && info.Position.LatitudeI != nil && info.Position.LongitudeI != nil {
		node.Position = &domain.Position{
			Latitude:  info.Position.Latitude(),
			Longitude: info.Position.Longitude(),
		}
		if info.Position.Altitude != nil {
			node.Position.Altitude = *info.Position.Altitude
		}
	}
	if info.DeviceMetrics != nil {
		node.Metrics = deviceMetricsFromWire(info.DeviceMetrics)
	}

	favorite, ignored := info.IsFavorite, info.IsIgnored
	num := info.Num
	r.write("node.info", func(ctx context.Context) error {
		if err := r.store.Nodes.Upsert(ctx, node); err != nil {
			return err
		}
		if err := r.store.Nodes.ApplyDeviceFlags(ctx, num, favorite, ignored); err != nil {
			return err
		}
		r.publishNodeUpdate(ctx, num)

		return nil
	})
}

func (r *Router) handleMyInfo(info *meshproto.MyNodeInfo) {
	if info == nil {
		return
	}

	reboots := info.RebootCount
	node := domain.Node{
		NodeNum:     info.MyNodeNum,
		NodeID:      domain.FormatNodeID(info.MyNodeNum),
		LastHeard:   time.Now(),
		UpdatedAt:   time.Now(),
		RebootCount: &reboots,
	}
	r.write("node.myinfo", func(ctx context.Context) error {
		return r.store.Nodes.Upsert(ctx, node)
	})
}

func (r *Router) handleMetadata(md *meshproto.DeviceMetadata) {
	if md == nil || md.FirmwareVersion == "" {
		return
	}

	local := r.session.LocalNode()
	if local == 0 {
		return
	}
	node := domain.Node{
		NodeNum:         local,
		NodeID:          domain.FormatNodeID(local),
		FirmwareVersion: md.FirmwareVersion,
		UpdatedAt:       time.Now(),
	}
	r.write("node.metadata", func(ctx context.Context) error {
		return r.store.Nodes.Upsert(ctx, node)
	})
}

func (r *Router) handleChannel(ch *meshproto.Channel) {
	if ch == nil || ch.Settings == nil {
		return
	}

	channel := domain.Channel{
		Index:           int(ch.Index),
		Name:            ch.Settings.Name,
		PSK:             ch.Settings.PSK,
		Role:            domain.ChannelRole(ch.Role),
		UplinkEnabled:   ch.Settings.UplinkEnabled,
		DownlinkEnabled: ch.Settings.DownlinkEnabled,
		UpdatedAt:       time.Now(),
	}
	if ms := ch.Settings.ModuleSettings; ms != nil && ms.PositionPrecision != nil {
		precision := *ms.PositionPrecision
		channel.PositionPrecision = &precision
	}
	r.write("channel.upsert", func(ctx context.Context) error {
		if err := r.store.Channels.Upsert(ctx, channel); err != nil {
			return err
		}
		r.bus.Publish(events.TopicChannelUpdate, events.ChannelUpdated{Channel: &channel})

		return nil
	})
}

func (r *Router) publishNodeUpdate(ctx context.Context, num domain.NodeNum) {
	node, err := r.store.Nodes.Get(ctx, num)
	if err != nil || node == nil {
		return
	}
	r.bus.Publish(events.TopicNodeUpdated, events.NodeUpdated{Node: node})
}

func (r *Router) countDecodeError(what string, err error) {
	if r.metrics != nil {
		r.metrics.DecodeErrors.Inc()
	}
	r.logger.Warn("payload decode failed", "payload", what, "error", err)
}

func telemetrySamples(from domain.NodeNum, ts time.Time, tele *meshproto.Telemetry) []domain.TelemetrySample {
	var out []domain.TelemetrySample
	if dm := tele.DeviceMetrics; dm != nil {
		sample := domain.TelemetrySample{NodeNum: from, Kind: domain.TelemetryDevice, Timestamp: ts}
		metrics := deviceMetricsFromWire(dm)
		sample.BatteryLevel = metrics.BatteryLevel
		sample.Voltage = metrics.Voltage
		sample.ChannelUtilization = metrics.ChannelUtilization
		sample.AirUtilTx = metrics.AirUtilTx
		sample.UptimeSeconds = metrics.UptimeSeconds
		out = append(out, sample)
	}
	if em := tele.EnvironmentMetrics; em != nil {
		sample := domain.TelemetrySample{NodeNum: from, Kind: domain.TelemetryEnvironment, Timestamp: ts}
		sample.Temperature = f32ptr(em.Temperature)
		sample.RelativeHumidity = f32ptr(em.RelativeHumidity)
		sample.BarometricPressure = f32ptr(em.BarometricPressure)
		if em.IAQ != nil {
			iaq := float64(*em.IAQ)
			sample.IAQ = &iaq
		}
		out = append(out, sample)
	}
	if pm := tele.PowerMetrics; pm != nil {
		sample := domain.TelemetrySample{NodeNum: from, Kind: domain.TelemetryPower, Timestamp: ts}
		sample.Ch1Voltage = f32ptr(pm.Ch1Voltage)
		sample.Ch1Current = f32ptr(pm.Ch1Current)
		out = append(out, sample)
	}

	return out
}

func deviceMetricsFromWire(dm *meshproto.DeviceMetrics) domain.DeviceMetrics {
	out := domain.DeviceMetrics{}
	if dm.BatteryLevel != nil {
		v := *dm.BatteryLevel
		out.BatteryLevel = &v
	}
	out.Voltage = f32ptr(dm.Voltage)
	out.ChannelUtilization = f32ptr(dm.ChannelUtilization)
	out.AirUtilTx = f32ptr(dm.AirUtilTx)
	if dm.UptimeSeconds != nil {
		v := *dm.UptimeSeconds
		out.UptimeSeconds = &v
	}

	return out
}

func f32ptr(v *float32) *float64 {
	if v == nil {
		return nil
	}
	f := float64(*v)

	return &f
}
