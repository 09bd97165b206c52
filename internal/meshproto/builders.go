package meshproto

// Packet builders for egress requests. Callers mint the packet id and pick
// want_ack; the builders only shape the payload.

func NewTextMessagePacket(id, from, to, channel uint32, text string) *MeshPacket {
	return &MeshPacket{
		From:    from,
		To:      to,
		Channel: channel,
		ID:      id,
		Decoded: &Data{
			PortNum: PortTextMessage,
			Payload: []byte(text),
		},
	}
}

// NewReactionPacket builds a tapback: an emoji text message replying to an
// earlier packet id.
func NewReactionPacket(id, from, to, channel uint32, emoji string, replyID uint32) *MeshPacket {
	return &MeshPacket{
		From:    from,
		To:      to,
		Channel: channel,
		ID:      id,
		Decoded: &Data{
			PortNum: PortTextMessage,
			Payload: []byte(emoji),
			ReplyID: replyID,
			Emoji:   1,
		},
	}
}

func NewTracerouteRequest(id, from, to, channel uint32) *MeshPacket {
	return &MeshPacket{
		From:     from,
		To:       to,
		Channel:  channel,
		ID:       id,
		WantAck:  true,
		HopLimit: 7,
		Decoded: &Data{
			PortNum:      PortTraceroute,
			Payload:      MarshalRouteDiscovery(&RouteDiscovery{}),
			WantResponse: true,
		},
	}
}

func NewPositionRequest(id, from, to uint32) *MeshPacket {
	return &MeshPacket{
		From: from,
		To:   to,
		ID:   id,
		Decoded: &Data{
			PortNum:      PortPosition,
			Payload:      MarshalPosition(&Position{}),
			WantResponse: true,
		},
	}
}

func NewTelemetryRequest(id, from, to uint32) *MeshPacket {
	return &MeshPacket{
		From: from,
		To:   to,
		ID:   id,
		Decoded: &Data{
			PortNum:      PortTelemetry,
			Payload:      MarshalTelemetry(&Telemetry{}),
			WantResponse: true,
		},
	}
}

// NewAdminPacket builds an ADMIN_APP request addressed to a node. Admin
// requests always ask for a response so the tracker can correlate acks.
func NewAdminPacket(id, from, to uint32, msg *AdminMessage) *MeshPacket {
	return &MeshPacket{
		From:    from,
		To:      to,
		ID:      id,
		WantAck: true,
		Decoded: &Data{
			PortNum:      PortAdmin,
			Payload:      MarshalAdminMessage(msg),
			WantResponse: true,
		},
	}
}

// NewSessionKeyRequest asks the device for the current session passkey.
func NewSessionKeyRequest(id, from, to uint32) *MeshPacket {
	return NewAdminPacket(id, from, to, &AdminMessage{
		Kind:       AdminGetConfig,
		ConfigType: ConfigSessionKey,
	})
}
