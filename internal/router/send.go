package router

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"meshmonitor/internal/domain"
	"meshmonitor/internal/events"
	"meshmonitor/internal/meshproto"
	"meshmonitor/internal/tracker"
)

const (
	maxTextBytes   = 200
	responseWindow = 60 * time.Second
)

func mintPacketID() uint32 {
	for {
		if id := rand.Uint32(); id != 0 {
			return id
		}
	}
}

// SendText transmits a text message. channel >= 0 broadcasts on that
// channel; channel == DirectChannel sends a DM to the given node. The local
// echo lands in the store immediately with delivery tracking attached.
func (r *Router) SendText(ctx context.Context, channel int, to domain.NodeNum, text string) (domain.Message, error) {
	if text == "" {
		return domain.Message{}, errors.New("message body is empty")
	}
	if len([]byte(text)) > maxTextBytes {
		return domain.Message{}, fmt.Errorf("message body exceeds %d bytes: %d", maxTextBytes, len([]byte(text)))
	}

	id := mintPacketID()
	local := r.session.LocalNode()
	chIdx := uint32(0)
	if channel != domain.DirectChannel {
		to = domain.BroadcastNodeNum
		chIdx = uint32(channel)
	}

	pkt := meshproto.NewTextMessagePacket(id, local, to, chIdx, text)
	pkt.WantAck = true

	msg := domain.Message{
		MessageID:  id,
		FromNodeID: domain.FormatNodeID(local),
		ToNodeID:   domain.FormatNodeID(to),
		Channel:    channel,
		Text:       text,
		Timestamp:  time.Now(),
		PortNum:    uint32(meshproto.PortTextMessage),
		Delivery:   domain.DeliveryPending,
		RequestID:  id,
		IsLocal:    true,
	}

	return msg, r.transmitMessage(ctx, pkt, msg)
}

// SendReaction transmits a tapback replying to an earlier message.
func (r *Router) SendReaction(ctx context.Context, channel int, to domain.NodeNum, emoji string, replyID uint32) (domain.Message, error) {
	if emoji == "" {
		return domain.Message{}, errors.New("reaction emoji is empty")
	}
	if replyID == 0 {
		return domain.Message{}, errors.New("reaction needs a message to reply to")
	}

	id := mintPacketID()
	local := r.session.LocalNode()
	chIdx := uint32(0)
	if channel != domain.DirectChannel {
		to = domain.BroadcastNodeNum
		chIdx = uint32(channel)
	}

	pkt := meshproto.NewReactionPacket(id, local, to, chIdx, emoji, replyID)
	pkt.WantAck = true

	msg := domain.Message{
		MessageID:  id,
		FromNodeID: domain.FormatNodeID(local),
		ToNodeID:   domain.FormatNodeID(to),
		Channel:    channel,
		Text:       emoji,
		Timestamp:  time.Now(),
		PortNum:    uint32(meshproto.PortTextMessage),
		ReplyID:    replyID,
		Emoji:      true,
		Delivery:   domain.DeliveryPending,
		RequestID:  id,
		IsLocal:    true,
	}

	return msg, r.transmitMessage(ctx, pkt, msg)
}

func (r *Router) transmitMessage(ctx context.Context, pkt *meshproto.MeshPacket, msg domain.Message) error {
	if err := r.session.Send(meshproto.MarshalToRadioPacket(pkt)); err != nil {
		return err
	}
	if r.metrics != nil {
		r.metrics.PacketsSent.WithLabelValues(meshproto.PortTextMessage.String()).Inc()
	}

	if _, err := r.store.Messages.Upsert(ctx, msg); err != nil {
		return err
	}
	r.bus.Publish(events.TopicMessageSaved, events.MessageSaved{Message: &msg})

	r.TrackMessage(msg.MessageID, pkt.To)

	return nil
}

// TrackMessage attaches delivery tracking to an already-transmitted local
// message, correlating later routing acks with the stored row. The virtual
// node server uses it for client packets it forwards on the radio's behalf.
func (r *Router) TrackMessage(id uint32, to domain.NodeNum) {
	broadcast := to == domain.BroadcastNodeNum
	from := domain.FormatNodeID(r.session.LocalNode())
	r.tracker.Track(id, domain.RequestTextMessage, to, ackWindow, func(res tracker.Resolution) {
		r.resolveMessageDelivery(from, id, broadcast, res)
	})
}

// resolveMessageDelivery maps a request resolution to a delivery state. A
// broadcast that times out keeps its last state; only DMs degrade to failed.
func (r *Router) resolveMessageDelivery(fromNodeID string, messageID uint32, broadcast bool, res tracker.Resolution) {
	var (
		state  domain.DeliveryState
		reason string
	)
	switch {
	case res.Outcome == tracker.OutcomeConfirmed:
		state = domain.DeliveryConfirmed
	case res.Outcome == tracker.OutcomeDelivered || res.Outcome == tracker.OutcomeResponse:
		state = domain.DeliveryDelivered
	case res.Outcome.Failed() && !broadcast:
		state = domain.DeliveryFailed
		reason = res.Err
		if r.metrics != nil && res.Outcome == tracker.OutcomeTimeout {
			r.metrics.RequestTimeouts.Inc()
		}
	default:
		return
	}

	r.write("message.resolve", func(ctx context.Context) error {
		changed, err := r.store.Messages.UpdateDelivery(ctx, fromNodeID, messageID, state, reason)
		if err != nil {
			return err
		}
		if changed {
			if msg, err := r.store.Messages.Get(ctx, fromNodeID, messageID); err == nil && msg != nil {
				r.bus.Publish(events.TopicMessageSaved, events.MessageSaved{Message: msg, IsUpdate: true})
			}
		}

		return nil
	})
}

// SendTraceroute starts a route discovery toward a node. A timeout records a
// failed traceroute so the history shows the attempt.
func (r *Router) SendTraceroute(ctx context.Context, to domain.NodeNum, channel uint32) (uint32, error) {
	id := mintPacketID()
	local := r.session.LocalNode()
	pkt := meshproto.NewTracerouteRequest(id, local, to, channel)
	if err := r.session.Send(meshproto.MarshalToRadioPacket(pkt)); err != nil {
		return 0, err
	}
	if r.metrics != nil {
		r.metrics.PacketsSent.WithLabelValues(meshproto.PortTraceroute.String()).Inc()
	}

	r.tracker.Track(id, domain.RequestTraceroute, to, responseWindow, func(res tracker.Resolution) {
		if !res.Outcome.Failed() {
			return
		}
		if r.metrics != nil && res.Outcome == tracker.OutcomeTimeout {
			r.metrics.RequestTimeouts.Inc()
		}
		record := domain.TracerouteRecord{
			FromNodeNum: local,
			ToNodeNum:   to,
			Timestamp:   time.Now(),
		}
		r.write("traceroute.failed", func(ctx context.Context) error {
			if err := r.store.Traceroutes.Append(ctx, record); err != nil {
				return err
			}
			r.bus.Publish(events.TopicTraceroute, events.TracerouteRecorded{Record: &record})

			return nil
		})
	})

	return id, nil
}

// RequestPosition asks a node to exchange positions.
func (r *Router) RequestPosition(ctx context.Context, to domain.NodeNum) (uint32, error) {
	id := mintPacketID()
	pkt := meshproto.NewPositionRequest(id, r.session.LocalNode(), to)
	if err := r.session.Send(meshproto.MarshalToRadioPacket(pkt)); err != nil {
		return 0, err
	}
	if r.metrics != nil {
		r.metrics.PacketsSent.WithLabelValues(meshproto.PortPosition.String()).Inc()
	}
	r.tracker.Track(id, domain.RequestPositionExchange, to, responseWindow, nil)

	return id, nil
}

// RequestTelemetry asks a node for its current device metrics.
func (r *Router) RequestTelemetry(ctx context.Context, to domain.NodeNum) (uint32, error) {
	id := mintPacketID()
	pkt := meshproto.NewTelemetryRequest(id, r.session.LocalNode(), to)
	if err := r.session.Send(meshproto.MarshalToRadioPacket(pkt)); err != nil {
		return 0, err
	}
	if r.metrics != nil {
		r.metrics.PacketsSent.WithLabelValues(meshproto.PortTelemetry.String()).Inc()
	}
	r.tracker.Track(id, domain.RequestTelemetry, to, responseWindow, nil)

	return id, nil
}

// SendAdmin transmits an admin request, stamping the cached session passkey
// when one is live.
func (r *Router) SendAdmin(ctx context.Context, to domain.NodeNum, msg *meshproto.AdminMessage) (uint32, error) {
	if key := r.session.SessionPasskey(); key != nil && msg.SessionPasskey == nil {
		msg.SessionPasskey = key
	}

	id := mintPacketID()
	pkt := meshproto.NewAdminPacket(id, r.session.LocalNode(), to, msg)
	if err := r.session.Send(meshproto.MarshalToRadioPacket(pkt)); err != nil {
		return 0, err
	}
	if r.metrics != nil {
		r.metrics.PacketsSent.WithLabelValues(meshproto.PortAdmin.String()).Inc()
	}
	r.tracker.Track(id, domain.RequestAdmin, to, ackWindow, nil)

	return id, nil
}

// SetFavorite flips a node's favorite flag on the device and in the store.
func (r *Router) SetFavorite(ctx context.Context, nodeNum domain.NodeNum, favorite bool) error {
	kind := meshproto.AdminSetFavoriteNode
	if !favorite {
		kind = meshproto.AdminRemoveFavoriteNode
	}
	if _, err := r.SendAdmin(ctx, r.session.LocalNode(), &meshproto.AdminMessage{Kind: kind, NodeNum: nodeNum}); err != nil {
		return err
	}

	return r.store.Nodes.SetFavorite(ctx, nodeNum, favorite)
}

// SetIgnored flips a node's ignored flag on the device and in the store.
func (r *Router) SetIgnored(ctx context.Context, nodeNum domain.NodeNum, ignored bool) error {
	kind := meshproto.AdminSetIgnoredNode
	if !ignored {
		kind = meshproto.AdminRemoveIgnoredNode
	}
	if _, err := r.SendAdmin(ctx, r.session.LocalNode(), &meshproto.AdminMessage{Kind: kind, NodeNum: nodeNum}); err != nil {
		return err
	}

	return r.store.Nodes.SetIgnored(ctx, nodeNum, ignored)
}

// RefreshNodeDB asks the device to replay its full configuration, NodeDB
// included. The records arrive as ordinary ingress and refresh the store.
func (r *Router) RefreshNodeDB(ctx context.Context) error {
	return r.session.Send(meshproto.MarshalWantConfig(mintPacketID()))
}

// PurgeNode removes a node from the device nodedb and cascades the local
// delete. The admin command is best effort; the local purge always runs.
func (r *Router) PurgeNode(ctx context.Context, nodeNum domain.NodeNum) error {
	if _, err := r.SendAdmin(ctx, r.session.LocalNode(), &meshproto.AdminMessage{
		Kind:    meshproto.AdminRemoveByNodenum,
		NodeNum: nodeNum,
	}); err != nil {
		r.logger.Warn("device nodedb removal failed, purging locally only", "node", domain.FormatNodeID(nodeNum), "error", err)
	}

	return r.store.Nodes.DeleteCascade(ctx, nodeNum)
}
