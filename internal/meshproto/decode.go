package meshproto

import (
	"fmt"
	"math"
)

// DecodeFromRadio parses one FromRadio payload. The original bytes are kept
// in Raw so the record can be re-framed verbatim for virtual node clients.
func DecodeFromRadio(payload []byte) (*FromRadio, error) {
	fr := &FromRadio{Raw: payload}
	err := walkFields(payload, func(fieldNum, wireType int, val uint64, data []byte) error {
		switch fieldNum {
		case 1:
			fr.ID = uint32(val)
		case 2:
			packet, err := DecodeMeshPacket(data)
			if err != nil {
				return err
			}
			fr.Kind = KindPacket
			fr.Packet = packet
		case 3:
			info, err := decodeMyNodeInfo(data)
			if err != nil {
				return err
			}
			fr.Kind = KindMyInfo
			fr.MyInfo = info
		case 4:
			info, err := decodeNodeInfo(data)
			if err != nil {
				return err
			}
			fr.Kind = KindNodeInfo
			fr.NodeInfo = info
		case 5:
			fr.Kind = KindConfig
		case 6:
			rec, err := decodeLogRecord(data)
			if err != nil {
				return err
			}
			fr.Kind = KindLogRecord
			fr.LogRecord = rec
		case 7:
			fr.Kind = KindConfigComplete
			fr.ConfigCompleteID = uint32(val)
		case 8:
			fr.Kind = KindRebooted
			fr.Rebooted = val != 0
		case 9:
			fr.Kind = KindModuleConfig
		case 10:
			ch, err := decodeChannel(data)
			if err != nil {
				return err
			}
			fr.Kind = KindChannel
			fr.Channel = ch
		case 11:
			qs, err := decodeQueueStatus(data)
			if err != nil {
				return err
			}
			fr.Kind = KindQueueStatus
			fr.QueueStatus = qs
		case 12:
			fr.Kind = KindXModem
		case 13:
			md, err := decodeDeviceMetadata(data)
			if err != nil {
				return err
			}
			fr.Kind = KindMetadata
			fr.Metadata = md
		case 14:
			fr.Kind = KindMqttProxy
		case 15:
			fr.Kind = KindFileInfo
		case 16:
			fr.Kind = KindClientNotification
		case 17:
			fr.Kind = KindDeviceUIConfig
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("decode fromradio: %w", err)
	}

	return fr, nil
}

// DecodeToRadio parses one ToRadio payload from a virtual node client.
func DecodeToRadio(payload []byte) (*ToRadio, error) {
	tr := &ToRadio{}
	err := walkFields(payload, func(fieldNum, wireType int, val uint64, data []byte) error {
		switch fieldNum {
		case 1:
			packet, err := DecodeMeshPacket(data)
			if err != nil {
				return err
			}
			tr.Packet = packet
		case 3:
			tr.WantConfigID = uint32(val)
		case 4:
			tr.Disconnect = val != 0
		case 7:
			tr.Heartbeat = true
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("decode toradio: %w", err)
	}

	return tr, nil
}

func DecodeMeshPacket(buf []byte) (*MeshPacket, error) {
	mp := &MeshPacket{}
	err := walkFields(buf, func(fieldNum, wireType int, val uint64, data []byte) error {
		switch fieldNum {
		case 1:
			mp.From = uint32(val)
		case 2:
			mp.To = uint32(val)
		case 3:
			mp.Channel = uint32(val)
		case 4:
			decoded, err := decodeData(data)
			if err != nil {
				return err
			}
			mp.Decoded = decoded
		case 5:
			mp.Encrypted = data
		case 6:
			mp.ID = uint32(val)
		case 7:
			mp.RxTime = uint32(val)
		case 8:
			mp.RxSnr = math.Float32frombits(uint32(val))
		case 9:
			mp.HopLimit = uint32(val)
		case 10:
			mp.WantAck = val != 0
		case 11:
			mp.Priority = uint32(val)
		case 12:
			mp.RxRssi = int32(val)
		case 14:
			mp.ViaMqtt = val != 0
		case 15:
			mp.HopStart = uint32(val)
		case 16:
			mp.PublicKey = data
		case 17:
			mp.PkiEncrypted = val != 0
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return mp, nil
}

func decodeData(buf []byte) (*Data, error) {
	d := &Data{}
	err := walkFields(buf, func(fieldNum, wireType int, val uint64, data []byte) error {
		switch fieldNum {
		case 1:
			d.PortNum = NormalizePort(uint32(val))
		case 2:
			d.Payload = data
		case 3:
			d.WantResponse = val != 0
		case 4:
			d.Dest = uint32(val)
		case 5:
			d.Source = uint32(val)
		case 6:
			d.RequestID = uint32(val)
		case 7:
			d.ReplyID = uint32(val)
		case 8:
			d.Emoji = uint32(val)
		case 9:
			v := uint32(val)
			d.Bitfield = &v
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return d, nil
}

func decodeMyNodeInfo(buf []byte) (*MyNodeInfo, error) {
	info := &MyNodeInfo{}
	err := walkFields(buf, func(fieldNum, wireType int, val uint64, data []byte) error {
		switch fieldNum {
		case 1:
			info.MyNodeNum = uint32(val)
		case 8:
			info.RebootCount = uint32(val)
		case 11:
			info.MinAppVersion = uint32(val)
		case 12:
			info.DeviceID = data
		case 13:
			info.PioEnv = string(data)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return info, nil
}

func decodeNodeInfo(buf []byte) (*NodeInfo, error) {
	info := &NodeInfo{}
	err := walkFields(buf, func(fieldNum, wireType int, val uint64, data []byte) error {
		switch fieldNum {
		case 1:
			info.Num = uint32(val)
		case 2:
			user, err := decodeUser(data)
			if err != nil {
				return err
			}
			info.User = user
		case 3:
			pos, err := DecodePosition(data)
			if err != nil {
				return err
			}
			info.Position = pos
		case 4:
			info.Snr = math.Float32frombits(uint32(val))
		case 5:
			info.LastHeard = uint32(val)
		case 6:
			dm, err := decodeDeviceMetrics(data)
			if err != nil {
				return err
			}
			info.DeviceMetrics = dm
		case 7:
			info.Channel = uint32(val)
		case 8:
			info.ViaMqtt = val != 0
		case 9:
			v := uint32(val)
			info.HopsAway = &v
		case 10:
			info.IsFavorite = val != 0
		case 11:
			info.IsIgnored = val != 0
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return info, nil
}

// DecodeUser parses a NODEINFO_APP payload.
func DecodeUser(buf []byte) (*User, error) {
	return decodeUser(buf)
}

func decodeUser(buf []byte) (*User, error) {
	user := &User{}
	err := walkFields(buf, func(fieldNum, wireType int, val uint64, data []byte) error {
		switch fieldNum {
		case 1:
			user.ID = string(data)
		case 2:
			user.LongName = string(data)
		case 3:
			user.ShortName = string(data)
		case 4:
			user.Macaddr = data
		case 5:
			user.HwModel = uint32(val)
		case 6:
			user.IsLicensed = val != 0
		case 7:
			user.Role = uint32(val)
		case 8:
			user.PublicKey = data
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return user, nil
}

// DecodePosition parses a POSITION_APP payload or NodeInfo position field.
func DecodePosition(buf []byte) (*Position, error) {
	pos := &Position{}
	err := walkFields(buf, func(fieldNum, wireType int, val uint64, data []byte) error {
		switch fieldNum {
		case 1:
			v := int32(val)
			pos.LatitudeI = &v
		case 2:
			v := int32(val)
			pos.LongitudeI = &v
		case 3:
			v := int32(val)
			pos.Altitude = &v
		case 4:
			pos.Time = uint32(val)
		case 22:
			pos.PrecisionBits = uint32(val)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return pos, nil
}

func decodeDeviceMetrics(buf []byte) (*DeviceMetrics, error) {
	dm := &DeviceMetrics{}
	err := walkFields(buf, func(fieldNum, wireType int, val uint64, data []byte) error {
		switch fieldNum {
		case 1:
			v := uint32(val)
			dm.BatteryLevel = &v
		case 2:
			v := math.Float32frombits(uint32(val))
			dm.Voltage = &v
		case 3:
			v := math.Float32frombits(uint32(val))
			dm.ChannelUtilization = &v
		case 4:
			v := math.Float32frombits(uint32(val))
			dm.AirUtilTx = &v
		case 5:
			v := uint32(val)
			dm.UptimeSeconds = &v
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return dm, nil
}

func decodeEnvironmentMetrics(buf []byte) (*EnvironmentMetrics, error) {
	env := &EnvironmentMetrics{}
	err := walkFields(buf, func(fieldNum, wireType int, val uint64, data []byte) error {
		switch fieldNum {
		case 1:
			v := math.Float32frombits(uint32(val))
			env.Temperature = &v
		case 2:
			v := math.Float32frombits(uint32(val))
			env.RelativeHumidity = &v
		case 3:
			v := math.Float32frombits(uint32(val))
			env.BarometricPressure = &v
		case 5:
			v := math.Float32frombits(uint32(val))
			env.Voltage = &v
		case 6:
			v := math.Float32frombits(uint32(val))
			env.Current = &v
		case 7:
			v := uint32(val)
			env.IAQ = &v
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return env, nil
}

func decodePowerMetrics(buf []byte) (*PowerMetrics, error) {
	pm := &PowerMetrics{}
	err := walkFields(buf, func(fieldNum, wireType int, val uint64, data []byte) error {
		f := math.Float32frombits(uint32(val))
		switch fieldNum {
		case 1:
			pm.Ch1Voltage = &f
		case 2:
			pm.Ch1Current = &f
		case 3:
			pm.Ch2Voltage = &f
		case 4:
			pm.Ch2Current = &f
		case 5:
			pm.Ch3Voltage = &f
		case 6:
			pm.Ch3Current = &f
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return pm, nil
}

// DecodeTelemetry parses a TELEMETRY_APP payload.
func DecodeTelemetry(buf []byte) (*Telemetry, error) {
	t := &Telemetry{}
	err := walkFields(buf, func(fieldNum, wireType int, val uint64, data []byte) error {
		switch fieldNum {
		case 1:
			t.Time = uint32(val)
		case 2:
			dm, err := decodeDeviceMetrics(data)
			if err != nil {
				return err
			}
			t.DeviceMetrics = dm
		case 3:
			env, err := decodeEnvironmentMetrics(data)
			if err != nil {
				return err
			}
			t.EnvironmentMetrics = env
		case 5:
			pm, err := decodePowerMetrics(data)
			if err != nil {
				return err
			}
			t.PowerMetrics = pm
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("decode telemetry: %w", err)
	}

	return t, nil
}

// DecodeRouteDiscovery parses a TRACEROUTE_APP payload. Repeated fields are
// accepted in both packed and unpacked layout since firmware versions differ.
func DecodeRouteDiscovery(buf []byte) (*RouteDiscovery, error) {
	rd := &RouteDiscovery{}
	err := walkFields(buf, func(fieldNum, wireType int, val uint64, data []byte) error {
		switch fieldNum {
		case 1, 3:
			var vals []uint32
			if wireType == wireBytes {
				packed, err := packedFixed32s(data)
				if err != nil {
					return err
				}
				vals = packed
			} else {
				vals = []uint32{uint32(val)}
			}
			if fieldNum == 1 {
				rd.Route = append(rd.Route, vals...)
			} else {
				rd.RouteBack = append(rd.RouteBack, vals...)
			}
		case 2, 4:
			var vals []int32
			if wireType == wireBytes {
				packed, err := packedVarints(data)
				if err != nil {
					return err
				}
				for _, v := range packed {
					vals = append(vals, int32(v))
				}
			} else {
				vals = []int32{int32(val)}
			}
			if fieldNum == 2 {
				rd.SnrTowards = append(rd.SnrTowards, vals...)
			} else {
				rd.SnrBack = append(rd.SnrBack, vals...)
			}
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("decode route discovery: %w", err)
	}

	return rd, nil
}

// DecodeRouting parses a ROUTING_APP payload.
func DecodeRouting(buf []byte) (*Routing, error) {
	r := &Routing{}
	err := walkFields(buf, func(fieldNum, wireType int, val uint64, data []byte) error {
		switch fieldNum {
		case 1:
			rd, err := DecodeRouteDiscovery(data)
			if err != nil {
				return err
			}
			r.RouteRequest = rd
		case 2:
			rd, err := DecodeRouteDiscovery(data)
			if err != nil {
				return err
			}
			r.RouteReply = rd
		case 3:
			r.ErrorReason = RoutingError(int32(val))
			r.HasError = true
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("decode routing: %w", err)
	}

	return r, nil
}

func decodeChannel(buf []byte) (*Channel, error) {
	ch := &Channel{}
	err := walkFields(buf, func(fieldNum, wireType int, val uint64, data []byte) error {
		switch fieldNum {
		case 1:
			ch.Index = int32(val)
		case 2:
			settings, err := decodeChannelSettings(data)
			if err != nil {
				return err
			}
			ch.Settings = settings
		case 3:
			ch.Role = ChannelRole(val)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return ch, nil
}

func decodeChannelSettings(buf []byte) (*ChannelSettings, error) {
	cs := &ChannelSettings{}
	err := walkFields(buf, func(fieldNum, wireType int, val uint64, data []byte) error {
		switch fieldNum {
		case 1:
			cs.ChannelNum = uint32(val)
		case 2:
			cs.PSK = data
		case 3:
			cs.Name = string(data)
		case 4:
			cs.ID = uint32(val)
		case 5:
			cs.UplinkEnabled = val != 0
		case 6:
			cs.DownlinkEnabled = val != 0
		case 7:
			ms, err := decodeModuleSettings(data)
			if err != nil {
				return err
			}
			cs.ModuleSettings = ms
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return cs, nil
}

func decodeModuleSettings(buf []byte) (*ModuleSettings, error) {
	ms := &ModuleSettings{}
	err := walkFields(buf, func(fieldNum, wireType int, val uint64, data []byte) error {
		if fieldNum == 1 {
			v := uint32(val)
			ms.PositionPrecision = &v
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return ms, nil
}

func decodeQueueStatus(buf []byte) (*QueueStatus, error) {
	qs := &QueueStatus{}
	err := walkFields(buf, func(fieldNum, wireType int, val uint64, data []byte) error {
		switch fieldNum {
		case 1:
			qs.Res = int32(val)
		case 2:
			qs.Free = uint32(val)
		case 3:
			qs.MaxLen = uint32(val)
		case 4:
			qs.MeshPacketID = uint32(val)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return qs, nil
}

func decodeDeviceMetadata(buf []byte) (*DeviceMetadata, error) {
	md := &DeviceMetadata{}
	err := walkFields(buf, func(fieldNum, wireType int, val uint64, data []byte) error {
		switch fieldNum {
		case 1:
			md.FirmwareVersion = string(data)
		case 2:
			md.DeviceStateVersion = uint32(val)
		case 3:
			md.CanShutdown = val != 0
		case 4:
			md.HasWifi = val != 0
		case 5:
			md.HasBluetooth = val != 0
		case 6:
			md.HasEthernet = val != 0
		case 7:
			md.Role = uint32(val)
		case 9:
			md.HwModel = uint32(val)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return md, nil
}

func decodeLogRecord(buf []byte) (*LogRecord, error) {
	rec := &LogRecord{}
	err := walkFields(buf, func(fieldNum, wireType int, val uint64, data []byte) error {
		switch fieldNum {
		case 1:
			rec.Message = string(data)
		case 2:
			rec.Time = uint32(val)
		case 3:
			rec.Source = string(data)
		case 4:
			rec.Level = uint32(val)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return rec, nil
}

// DecodeNeighborInfo parses a NEIGHBORINFO_APP payload.
func DecodeNeighborInfo(buf []byte) (*NeighborInfo, error) {
	ni := &NeighborInfo{}
	err := walkFields(buf, func(fieldNum, wireType int, val uint64, data []byte) error {
		switch fieldNum {
		case 1:
			ni.NodeID = uint32(val)
		case 2:
			ni.LastSentByID = uint32(val)
		case 3:
			ni.NodeBroadcastIntervalSecs = uint32(val)
		case 4:
			n, err := decodeNeighbor(data)
			if err != nil {
				return err
			}
			ni.Neighbors = append(ni.Neighbors, *n)
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("decode neighbor info: %w", err)
	}

	return ni, nil
}

func decodeNeighbor(buf []byte) (*Neighbor, error) {
	n := &Neighbor{}
	err := walkFields(buf, func(fieldNum, wireType int, val uint64, data []byte) error {
		switch fieldNum {
		case 1:
			n.NodeID = uint32(val)
		case 2:
			n.Snr = math.Float32frombits(uint32(val))
		case 3:
			n.LastRxTime = uint32(val)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return n, nil
}

// DecodePaxcount parses a PAXCOUNTER_APP payload.
func DecodePaxcount(buf []byte) (*Paxcount, error) {
	p := &Paxcount{}
	err := walkFields(buf, func(fieldNum, wireType int, val uint64, data []byte) error {
		switch fieldNum {
		case 1:
			p.Wifi = uint32(val)
		case 2:
			p.Ble = uint32(val)
		case 3:
			p.Uptime = uint32(val)
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("decode paxcount: %w", err)
	}

	return p, nil
}
