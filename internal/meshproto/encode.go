package meshproto

import "math"

// ToRadio encoders.

func MarshalWantConfig(id uint32) []byte {
	return appendUint32Field(nil, 3, id)
}

func MarshalHeartbeat() []byte {
	return appendMessageField(nil, 7, nil)
}

func MarshalDisconnect() []byte {
	return appendBoolField(nil, 4, true)
}

func MarshalToRadioPacket(mp *MeshPacket) []byte {
	return appendMessageField(nil, 1, MarshalMeshPacket(mp))
}

func MarshalMeshPacket(mp *MeshPacket) []byte {
	var buf []byte
	buf = appendFixed32Field(buf, 1, mp.From)
	buf = appendFixed32Field(buf, 2, mp.To)
	buf = appendUint32Field(buf, 3, mp.Channel)
	if mp.Decoded != nil {
		buf = appendMessageField(buf, 4, MarshalData(mp.Decoded))
	}
	buf = appendBytesField(buf, 5, mp.Encrypted)
	buf = appendFixed32Field(buf, 6, mp.ID)
	buf = appendFixed32Field(buf, 7, mp.RxTime)
	if mp.RxSnr != 0 {
		buf = appendFixed32FieldAlways(buf, 8, math.Float32bits(mp.RxSnr))
	}
	buf = appendUint32Field(buf, 9, mp.HopLimit)
	buf = appendBoolField(buf, 10, mp.WantAck)
	buf = appendUint32Field(buf, 11, mp.Priority)
	buf = appendInt32Field(buf, 12, mp.RxRssi)
	buf = appendBoolField(buf, 14, mp.ViaMqtt)
	buf = appendUint32Field(buf, 15, mp.HopStart)
	buf = appendBytesField(buf, 16, mp.PublicKey)
	buf = appendBoolField(buf, 17, mp.PkiEncrypted)

	return buf
}

func MarshalData(d *Data) []byte {
	var buf []byte
	buf = appendUint32Field(buf, 1, uint32(d.PortNum))
	buf = appendBytesField(buf, 2, d.Payload)
	buf = appendBoolField(buf, 3, d.WantResponse)
	buf = appendFixed32Field(buf, 4, d.Dest)
	buf = appendFixed32Field(buf, 5, d.Source)
	buf = appendFixed32Field(buf, 6, d.RequestID)
	buf = appendFixed32Field(buf, 7, d.ReplyID)
	buf = appendFixed32Field(buf, 8, d.Emoji)
	if d.Bitfield != nil {
		buf = appendUint32Field(buf, 9, *d.Bitfield)
	}

	return buf
}

// FromRadio encoders used for config replay and synthetic local echoes.

func MarshalFromRadioPacket(mp *MeshPacket) []byte {
	return appendMessageField(nil, 2, MarshalMeshPacket(mp))
}

func MarshalFromRadioMyInfo(info *MyNodeInfo) []byte {
	return appendMessageField(nil, 3, MarshalMyNodeInfo(info))
}

func MarshalFromRadioNodeInfo(info *NodeInfo) []byte {
	return appendMessageField(nil, 4, MarshalNodeInfo(info))
}

func MarshalFromRadioChannel(ch *Channel) []byte {
	return appendMessageField(nil, 10, marshalChannel(ch))
}

func MarshalFromRadioConfig(raw []byte) []byte {
	return appendMessageField(nil, 5, raw)
}

func MarshalFromRadioConfigComplete(id uint32) []byte {
	return appendUint32Field(nil, 7, id)
}

func MarshalMyNodeInfo(info *MyNodeInfo) []byte {
	var buf []byte
	buf = appendUint32Field(buf, 1, info.MyNodeNum)
	buf = appendUint32Field(buf, 8, info.RebootCount)
	buf = appendUint32Field(buf, 11, info.MinAppVersion)
	buf = appendBytesField(buf, 12, info.DeviceID)
	buf = appendStringField(buf, 13, info.PioEnv)

	return buf
}

func MarshalNodeInfo(info *NodeInfo) []byte {
	var buf []byte
	buf = appendUint32Field(buf, 1, info.Num)
	if info.User != nil {
		buf = appendMessageField(buf, 2, MarshalUser(info.User))
	}
	if info.Position != nil {
		buf = appendMessageField(buf, 3, MarshalPosition(info.Position))
	}
	if info.Snr != 0 {
		buf = appendFixed32FieldAlways(buf, 4, math.Float32bits(info.Snr))
	}
	buf = appendFixed32Field(buf, 5, info.LastHeard)
	if info.DeviceMetrics != nil {
		buf = appendMessageField(buf, 6, marshalDeviceMetrics(info.DeviceMetrics))
	}
	buf = appendUint32Field(buf, 7, info.Channel)
	buf = appendBoolField(buf, 8, info.ViaMqtt)
	if info.HopsAway != nil {
		buf = appendTag(buf, 9, wireVarint)
		buf = appendVarint(buf, uint64(*info.HopsAway))
	}
	buf = appendBoolField(buf, 10, info.IsFavorite)
	buf = appendBoolField(buf, 11, info.IsIgnored)

	return buf
}

func MarshalUser(user *User) []byte {
	var buf []byte
	buf = appendStringField(buf, 1, user.ID)
	buf = appendStringField(buf, 2, user.LongName)
	buf = appendStringField(buf, 3, user.ShortName)
	buf = appendBytesField(buf, 4, user.Macaddr)
	buf = appendUint32Field(buf, 5, user.HwModel)
	buf = appendBoolField(buf, 6, user.IsLicensed)
	buf = appendUint32Field(buf, 7, user.Role)
	buf = appendBytesField(buf, 8, user.PublicKey)

	return buf
}

func MarshalPosition(pos *Position) []byte {
	var buf []byte
	if pos.LatitudeI != nil {
		buf = appendSfixed32Field(buf, 1, *pos.LatitudeI)
	}
	if pos.LongitudeI != nil {
		buf = appendSfixed32Field(buf, 2, *pos.LongitudeI)
	}
	if pos.Altitude != nil {
		buf = appendInt32Field(buf, 3, *pos.Altitude)
	}
	buf = appendFixed32Field(buf, 4, pos.Time)
	buf = appendUint32Field(buf, 22, pos.PrecisionBits)

	return buf
}

func marshalDeviceMetrics(dm *DeviceMetrics) []byte {
	var buf []byte
	if dm.BatteryLevel != nil {
		buf = appendTag(buf, 1, wireVarint)
		buf = appendVarint(buf, uint64(*dm.BatteryLevel))
	}
	if dm.Voltage != nil {
		buf = appendFixed32FieldAlways(buf, 2, math.Float32bits(*dm.Voltage))
	}
	if dm.ChannelUtilization != nil {
		buf = appendFixed32FieldAlways(buf, 3, math.Float32bits(*dm.ChannelUtilization))
	}
	if dm.AirUtilTx != nil {
		buf = appendFixed32FieldAlways(buf, 4, math.Float32bits(*dm.AirUtilTx))
	}
	if dm.UptimeSeconds != nil {
		buf = appendTag(buf, 5, wireVarint)
		buf = appendVarint(buf, uint64(*dm.UptimeSeconds))
	}

	return buf
}

func marshalEnvironmentMetrics(env *EnvironmentMetrics) []byte {
	var buf []byte
	if env.Temperature != nil {
		buf = appendFixed32FieldAlways(buf, 1, math.Float32bits(*env.Temperature))
	}
	if env.RelativeHumidity != nil {
		buf = appendFixed32FieldAlways(buf, 2, math.Float32bits(*env.RelativeHumidity))
	}
	if env.BarometricPressure != nil {
		buf = appendFixed32FieldAlways(buf, 3, math.Float32bits(*env.BarometricPressure))
	}
	if env.Voltage != nil {
		buf = appendFixed32FieldAlways(buf, 5, math.Float32bits(*env.Voltage))
	}
	if env.Current != nil {
		buf = appendFixed32FieldAlways(buf, 6, math.Float32bits(*env.Current))
	}
	if env.IAQ != nil {
		buf = appendTag(buf, 7, wireVarint)
		buf = appendVarint(buf, uint64(*env.IAQ))
	}

	return buf
}

func marshalPowerMetrics(pm *PowerMetrics) []byte {
	var buf []byte
	appendOpt := func(field int, v *float32) {
		if v != nil {
			buf = appendFixed32FieldAlways(buf, field, math.Float32bits(*v))
		}
	}
	appendOpt(1, pm.Ch1Voltage)
	appendOpt(2, pm.Ch1Current)
	appendOpt(3, pm.Ch2Voltage)
	appendOpt(4, pm.Ch2Current)
	appendOpt(5, pm.Ch3Voltage)
	appendOpt(6, pm.Ch3Current)

	return buf
}

func MarshalTelemetry(t *Telemetry) []byte {
	var buf []byte
	buf = appendFixed32Field(buf, 1, t.Time)
	if t.DeviceMetrics != nil {
		buf = appendMessageField(buf, 2, marshalDeviceMetrics(t.DeviceMetrics))
	}
	if t.EnvironmentMetrics != nil {
		buf = appendMessageField(buf, 3, marshalEnvironmentMetrics(t.EnvironmentMetrics))
	}
	if t.PowerMetrics != nil {
		buf = appendMessageField(buf, 5, marshalPowerMetrics(t.PowerMetrics))
	}

	return buf
}

func MarshalRouteDiscovery(rd *RouteDiscovery) []byte {
	var buf []byte
	buf = appendPackedFixed32(buf, 1, rd.Route)
	buf = appendPackedInt32(buf, 2, rd.SnrTowards)
	buf = appendPackedFixed32(buf, 3, rd.RouteBack)
	buf = appendPackedInt32(buf, 4, rd.SnrBack)

	return buf
}

func MarshalRouting(r *Routing) []byte {
	var buf []byte
	if r.RouteRequest != nil {
		buf = appendMessageField(buf, 1, MarshalRouteDiscovery(r.RouteRequest))
	}
	if r.RouteReply != nil {
		buf = appendMessageField(buf, 2, MarshalRouteDiscovery(r.RouteReply))
	}
	if r.HasError {
		buf = appendTag(buf, 3, wireVarint)
		buf = appendVarint(buf, uint64(int64(r.ErrorReason)))
	}

	return buf
}

func MarshalNeighborInfo(ni *NeighborInfo) []byte {
	var buf []byte
	buf = appendUint32Field(buf, 1, ni.NodeID)
	buf = appendUint32Field(buf, 2, ni.LastSentByID)
	buf = appendUint32Field(buf, 3, ni.NodeBroadcastIntervalSecs)
	for i := range ni.Neighbors {
		buf = appendMessageField(buf, 4, marshalNeighbor(&ni.Neighbors[i]))
	}

	return buf
}

func marshalNeighbor(n *Neighbor) []byte {
	var buf []byte
	buf = appendUint32Field(buf, 1, n.NodeID)
	buf = appendFloatField(buf, 2, n.Snr)
	buf = appendFixed32Field(buf, 3, n.LastRxTime)

	return buf
}

func marshalChannel(ch *Channel) []byte {
	var buf []byte
	if ch.Index != 0 {
		buf = appendInt32Field(buf, 1, ch.Index)
	}
	if ch.Settings != nil {
		buf = appendMessageField(buf, 2, marshalChannelSettings(ch.Settings))
	}
	buf = appendUint32Field(buf, 3, uint32(ch.Role))

	return buf
}

func marshalChannelSettings(cs *ChannelSettings) []byte {
	var buf []byte
	buf = appendUint32Field(buf, 1, cs.ChannelNum)
	buf = appendBytesField(buf, 2, cs.PSK)
	buf = appendStringField(buf, 3, cs.Name)
	buf = appendFixed32Field(buf, 4, cs.ID)
	buf = appendBoolField(buf, 5, cs.UplinkEnabled)
	buf = appendBoolField(buf, 6, cs.DownlinkEnabled)
	if cs.ModuleSettings != nil && cs.ModuleSettings.PositionPrecision != nil {
		var ms []byte
		ms = appendTag(ms, 1, wireVarint)
		ms = appendVarint(ms, uint64(*cs.ModuleSettings.PositionPrecision))
		buf = appendMessageField(buf, 7, ms)
	}

	return buf
}
