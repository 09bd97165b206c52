package vns

import (
	"context"
	"fmt"

	"meshmonitor/internal/domain"
	"meshmonitor/internal/meshproto"
)

// admitAdmin decides whether a client admin request reaches the radio. The
// default policy forwards self-addressed requests and favorite-node changes;
// a client querying its own node (config reads, owner lookups) is how stock
// apps stay usable, and favorite flips are benign. AllowAdminCommands opens
// the full surface for deployments that trust every peer on the listen port.
//
// Forwarded favorite changes are mirrored into the store immediately, the
// device never echoes them back.
func (s *Server) admitAdmin(ctx context.Context, c *client, pkt *meshproto.MeshPacket) bool {
	msg, err := meshproto.DecodeAdminMessage(pkt.Decoded.Payload)
	if err != nil {
		s.logger.Debug("client sent undecodable admin request", "client", c.id, "error", err)

		return false
	}

	if s.cfg.AllowAdminCommands {
		s.audit(c.id, "vns.admin.forward", msg.Kind.String(), adminDetails(msg))

		return true
	}

	if pkt.From != 0 && pkt.From == pkt.To {
		s.audit(c.id, "vns.admin.forward", msg.Kind.String(), adminDetails(msg))

		return true
	}

	switch msg.Kind {
	case meshproto.AdminSetFavoriteNode, meshproto.AdminRemoveFavoriteNode:
		favorite := msg.Kind == meshproto.AdminSetFavoriteNode
		if err := s.store.Nodes.SetFavorite(ctx, msg.NodeNum, favorite); err != nil {
			s.logger.Warn("favorite flag update failed", "client", c.id, "error", err)
		}
		s.audit(c.id, "vns.admin.forward", msg.Kind.String(), adminDetails(msg))

		return true
	default:
		s.logger.Info("denied client admin request", "client", c.id, "kind", msg.Kind.String())
		s.audit(c.id, "vns.admin.deny", msg.Kind.String(), adminDetails(msg))

		return false
	}
}

func adminDetails(msg *meshproto.AdminMessage) string {
	if msg.NodeNum != 0 {
		return domain.FormatNodeID(msg.NodeNum)
	}
	if msg.Kind == meshproto.AdminGetConfig {
		return fmt.Sprintf("config_type=%d", msg.ConfigType)
	}

	return ""
}
