package domain

import (
	"fmt"
	"strings"
)

// Conversation keys identify the unread-count buckets: one per channel and
// one per direct-message peer.

func ConversationKeyForChannel(index int) string {
	return fmt.Sprintf("channel:%d", index)
}

func ConversationKeyForDM(nodeID string) string {
	return "dm:" + nodeID
}

func IsDMConversation(key string) bool {
	return strings.HasPrefix(strings.TrimSpace(key), "dm:")
}

func NodeIDFromDMConversation(key string) string {
	key = strings.TrimSpace(key)
	if !IsDMConversation(key) {
		return ""
	}

	return strings.TrimPrefix(key, "dm:")
}

// ConversationKeyForMessage buckets a stored message: broadcast messages go
// to their channel, direct messages to the remote peer as seen from the
// local node.
func ConversationKeyForMessage(m Message, localNodeID string) string {
	if m.Channel != DirectChannel {
		return ConversationKeyForChannel(m.Channel)
	}
	if m.FromNodeID == localNodeID {
		return ConversationKeyForDM(m.ToNodeID)
	}

	return ConversationKeyForDM(m.FromNodeID)
}
