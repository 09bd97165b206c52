package vns

import (
	"context"

	"meshmonitor/internal/domain"
	"meshmonitor/internal/meshproto"
	"meshmonitor/internal/transport"
)

// serveConfig replays a device config exchange for one client. The node list
// comes from the store rather than the cached bootstrap records: the store
// tracks the mesh continuously, so a client connecting hours after session
// start sees current nodes instead of a stale snapshot. The remaining static
// records (config sections, module config, channels, metadata) replay
// verbatim from the session cache, and the exchange closes with the client's
// own config id.
//
// Replay frames go straight to the connection instead of the bounded live
// queue: a node table larger than the queue must not drop the tail of the
// exchange, ConfigComplete included.
func (s *Server) serveConfig(ctx context.Context, c *client, wantID uint32) {
	s.logger.Info("replaying config", "client", c.id, "want_config_id", wantID)

	var frames [][]byte
	if info := s.session.MyInfo(); info != nil {
		frames = append(frames, mustFrame(meshproto.MarshalFromRadioMyInfo(info)))
	} else {
		// Radio session not bootstrapped yet; advertise the local node
		// number alone so the client does not hang on the handshake.
		frames = append(frames, mustFrame(meshproto.MarshalFromRadioMyInfo(&meshproto.MyNodeInfo{
			MyNodeNum: s.session.LocalNode(),
		})))
	}

	nodes, err := s.store.Nodes.ListActive(ctx, s.maxNodeAge)
	if err != nil {
		s.logger.Warn("node list for config replay failed", "client", c.id, "error", err)
	}
	local := s.session.LocalNode()
	for i := range nodes {
		// The local node leads the list; stock clients take the first
		// NodeInfo matching my_node_num as their own identity.
		if nodes[i].NodeNum == local {
			nodes[0], nodes[i] = nodes[i], nodes[0]

			break
		}
	}
	for i := range nodes {
		frames = append(frames, mustFrame(meshproto.MarshalFromRadioNodeInfo(nodeInfoFromStored(&nodes[i]))))
	}

	for _, rec := range s.session.CachedInitConfig() {
		switch rec.Kind {
		case meshproto.KindMyInfo, meshproto.KindNodeInfo, meshproto.KindConfigComplete:
			continue
		}
		frames = append(frames, mustFrame(rec.Raw))
	}

	frames = append(frames, mustFrame(meshproto.MarshalFromRadioConfigComplete(wantID)))

	for _, frame := range frames {
		if err := c.sendDirect(frame); err != nil {
			s.removeClient(c, "config write: "+err.Error())

			return
		}
	}
}

// nodeInfoFromStored rebuilds a wire NodeInfo from the store's node row.
func nodeInfoFromStored(n *domain.Node) *meshproto.NodeInfo {
	info := &meshproto.NodeInfo{
		Num: n.NodeNum,
		User: &meshproto.User{
			ID:         n.NodeID,
			LongName:   n.LongName,
			ShortName:  n.ShortName,
			HwModel:    meshproto.HardwareModelNumber(n.HwModel),
			Role:       meshproto.RoleNumber(n.Role),
			IsLicensed: n.IsLicensed,
			PublicKey:  n.PublicKey,
		},
		ViaMqtt:    n.ViaMqtt,
		HopsAway:   n.HopsAway,
		IsFavorite: n.IsFavorite,
		IsIgnored:  n.IsIgnored,
	}
	if !n.LastHeard.IsZero() {
		info.LastHeard = uint32(n.LastHeard.Unix())
	}
	if n.SNR != nil {
		info.Snr = float32(*n.SNR)
	}
	if n.Channel != nil {
		info.Channel = *n.Channel
	}
	if pos := n.Position; pos != nil {
		lat := meshproto.DegreesToI(pos.Latitude)
		lon := meshproto.DegreesToI(pos.Longitude)
		alt := pos.Altitude
		wirePos := &meshproto.Position{LatitudeI: &lat, LongitudeI: &lon, Altitude: &alt}
		if !pos.Time.IsZero() {
			wirePos.Time = uint32(pos.Time.Unix())
		}
		info.Position = wirePos
	}
	if dm := deviceMetricsFromStored(n.Metrics); dm != nil {
		info.DeviceMetrics = dm
	}

	return info
}

func deviceMetricsFromStored(m domain.DeviceMetrics) *meshproto.DeviceMetrics {
	if m.BatteryLevel == nil && m.Voltage == nil && m.ChannelUtilization == nil &&
		m.AirUtilTx == nil && m.UptimeSeconds == nil {
		return nil
	}
	dm := &meshproto.DeviceMetrics{
		BatteryLevel:  m.BatteryLevel,
		UptimeSeconds: m.UptimeSeconds,
	}
	if m.Voltage != nil {
		v := float32(*m.Voltage)
		dm.Voltage = &v
	}
	if m.ChannelUtilization != nil {
		v := float32(*m.ChannelUtilization)
		dm.ChannelUtilization = &v
	}
	if m.AirUtilTx != nil {
		v := float32(*m.AirUtilTx)
		dm.AirUtilTx = &v
	}

	return dm
}

// mustFrame frames a payload we produced ourselves; such payloads never
// exceed the frame limit.
func mustFrame(payload []byte) []byte {
	frame, err := transport.EncodeFrame(payload)
	if err != nil {
		panic(err)
	}

	return frame
}
