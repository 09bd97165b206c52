package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"meshmonitor/internal/domain"
)

type MessageRepo struct {
	db *sql.DB
}

func NewMessageRepo(db *sql.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// Upsert stores a message keyed by (from_node_id, message_id). Replaying the
// same packet updates mutable metadata and may advance delivery state, but
// never regresses it: a radio echo of a locally-sent message moves pending to
// delivered, while confirmed and failed stay terminal. Returns true when a
// new row was inserted.
func (r *MessageRepo) Upsert(ctx context.Context, m domain.Message) (bool, error) {
	if m.Delivery == 0 {
		m.Delivery = domain.DeliveryPending
	}
	created := toUnixMillis(m.CreatedAt)
	if created == 0 {
		created = time.Now().UnixMilli()
	}

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO messages(
			message_id, from_node_id, to_node_id, channel, text, timestamp, portnum,
			reply_id, emoji, hop_start, hop_limit, via_mqtt,
			delivery_state, fail_reason, request_id, is_local, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(from_node_id, message_id) DO UPDATE SET
			text = excluded.text,
			reply_id = excluded.reply_id,
			emoji = excluded.emoji,
			hop_start = excluded.hop_start,
			hop_limit = excluded.hop_limit,
			via_mqtt = excluded.via_mqtt,
			delivery_state = CASE
				WHEN excluded.delivery_state > messages.delivery_state
					AND messages.delivery_state NOT IN (3, 4)
				THEN excluded.delivery_state
				ELSE messages.delivery_state
			END
	`,
		int64(m.MessageID), m.FromNodeID, m.ToNodeID, m.Channel, m.Text, toUnixMillis(m.Timestamp), int64(m.PortNum),
		int64(m.ReplyID), boolToInt(m.Emoji), int64(m.HopStart), int64(m.HopLimit), boolToInt(m.ViaMqtt),
		int(m.Delivery), m.FailReason, int64(m.RequestID), boolToInt(m.IsLocal), created)
	if err != nil {
		return false, fmt.Errorf("upsert message: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("upsert message rows: %w", err)
	}

	return affected == 1, nil
}

func (r *MessageRepo) Get(ctx context.Context, fromNodeID string, messageID uint32) (*domain.Message, error) {
	row := r.db.QueryRowContext(ctx, messageSelect+`
		WHERE from_node_id = ? AND message_id = ?
	`, fromNodeID, int64(messageID))
	m, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &m, nil
}

// ListChannel returns channel messages in reverse-chronological order.
// hasMore reports whether older messages exist beyond the window.
func (r *MessageRepo) ListChannel(ctx context.Context, channel, limit, offset int) ([]domain.Message, bool, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, messageSelect+`
		WHERE channel = ?
		ORDER BY timestamp DESC, local_id DESC
		LIMIT ? OFFSET ?
	`, channel, limit+1, offset)
	if err != nil {
		return nil, false, fmt.Errorf("list channel messages: %w", err)
	}

	return collectMessagesWindow(rows, limit)
}

// ListRecent returns the newest messages across all conversations,
// reverse-chronological.
func (r *MessageRepo) ListRecent(ctx context.Context, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, messageSelect+`
		ORDER BY timestamp DESC, local_id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent messages: %w", err)
	}

	out, _, err := collectMessagesWindow(rows, limit)

	return out, err
}

// ListDirect returns the direct-message conversation between two nodes in
// either direction, reverse-chronological.
func (r *MessageRepo) ListDirect(ctx context.Context, nodeA, nodeB string, limit, offset int) ([]domain.Message, bool, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, messageSelect+`
		WHERE channel = ?
		  AND ((from_node_id = ? AND to_node_id = ?) OR (from_node_id = ? AND to_node_id = ?))
		ORDER BY timestamp DESC, local_id DESC
		LIMIT ? OFFSET ?
	`, domain.DirectChannel, nodeA, nodeB, nodeB, nodeA, limit+1, offset)
	if err != nil {
		return nil, false, fmt.Errorf("list direct messages: %w", err)
	}

	return collectMessagesWindow(rows, limit)
}

// UpdateDelivery advances a message's delivery state. Regressions are
// silently ignored so late device acks never undo a confirmation.
func (r *MessageRepo) UpdateDelivery(ctx context.Context, fromNodeID string, messageID uint32, to domain.DeliveryState, failReason string) (bool, error) {
	var current int
	err := r.db.QueryRowContext(ctx, `
		SELECT delivery_state FROM messages WHERE from_node_id = ? AND message_id = ?
	`, fromNodeID, int64(messageID)).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read delivery state: %w", err)
	}
	if !domain.CanTransitionDelivery(domain.DeliveryState(current), to) {
		return false, nil
	}

	_, err = r.db.ExecContext(ctx, `
		UPDATE messages SET delivery_state = ?, fail_reason = ?
		WHERE from_node_id = ? AND message_id = ?
	`, int(to), failReason, fromNodeID, int64(messageID))
	if err != nil {
		return false, fmt.Errorf("update delivery state: %w", err)
	}

	return true, nil
}

// UpdateDeliveryByRequestID resolves locally sent messages matched by the
// routing reply's request id.
func (r *MessageRepo) UpdateDeliveryByRequestID(ctx context.Context, requestID uint32, to domain.DeliveryState, failReason string) (bool, error) {
	var (
		fromNodeID string
		messageID  int64
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT from_node_id, message_id FROM messages
		WHERE message_id = ? AND is_local = 1
		ORDER BY local_id DESC LIMIT 1
	`, int64(requestID)).Scan(&fromNodeID, &messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("find message by request id: %w", err)
	}

	return r.UpdateDelivery(ctx, fromNodeID, uint32(messageID), to, failReason)
}

func (r *MessageRepo) Delete(ctx context.Context, fromNodeID string, messageID uint32) error {
	_, err := r.db.ExecContext(ctx, `
		DELETE FROM messages WHERE from_node_id = ? AND message_id = ?
	`, fromNodeID, int64(messageID))
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}

	return nil
}

func (r *MessageRepo) DeleteChannel(ctx context.Context, channel int) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM messages WHERE channel = ?`, channel)
	if err != nil {
		return fmt.Errorf("delete channel messages: %w", err)
	}

	return nil
}

func (r *MessageRepo) DeleteDirect(ctx context.Context, nodeA, nodeB string) error {
	_, err := r.db.ExecContext(ctx, `
		DELETE FROM messages
		WHERE channel = ?
		  AND ((from_node_id = ? AND to_node_id = ?) OR (from_node_id = ? AND to_node_id = ?))
	`, domain.DirectChannel, nodeA, nodeB, nodeB, nodeA)
	if err != nil {
		return fmt.Errorf("delete direct messages: %w", err)
	}

	return nil
}

// DeleteForNode removes every message sent by or to one node.
func (r *MessageRepo) DeleteForNode(ctx context.Context, nodeID string) error {
	_, err := r.db.ExecContext(ctx, `
		DELETE FROM messages WHERE from_node_id = ? OR to_node_id = ?
	`, nodeID, nodeID)
	if err != nil {
		return fmt.Errorf("delete node messages: %w", err)
	}

	return nil
}

// MarkConversationRead records the high-water mark for a channel:<n> or
// dm:<nodeid> conversation key. The mark only moves forward.
func (r *MessageRepo) MarkConversationRead(ctx context.Context, key string, at time.Time) error {
	if at.IsZero() {
		at = time.Now()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO conversation_reads(conversation_key, last_read_at) VALUES (?, ?)
		ON CONFLICT(conversation_key) DO UPDATE SET
			last_read_at = MAX(excluded.last_read_at, conversation_reads.last_read_at)
	`, key, at.UnixMilli())
	if err != nil {
		return fmt.Errorf("mark conversation read: %w", err)
	}

	return nil
}

// UnreadCounts computes messages newer than each conversation's read mark.
// Locally sent messages never count as unread.
func (r *MessageRepo) UnreadCounts(ctx context.Context, localNodeID string) (map[string]int, error) {
	reads := map[string]int64{}
	rows, err := r.db.QueryContext(ctx, `SELECT conversation_key, last_read_at FROM conversation_reads`)
	if err != nil {
		return nil, fmt.Errorf("list read marks: %w", err)
	}
	for rows.Next() {
		var key string
		var at int64
		if err := rows.Scan(&key, &at); err != nil {
			_ = rows.Close()

			return nil, fmt.Errorf("scan read mark: %w", err)
		}
		reads[key] = at
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()

		return nil, fmt.Errorf("iterate read marks: %w", err)
	}
	_ = rows.Close()

	rows, err = r.db.QueryContext(ctx, `
		SELECT channel, from_node_id, to_node_id, timestamp FROM messages WHERE is_local = 0
	`)
	if err != nil {
		return nil, fmt.Errorf("list messages for unread: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	counts := map[string]int{}
	for rows.Next() {
		var (
			channel  int
			from, to string
			ts       int64
		)
		if err := rows.Scan(&channel, &from, &to, &ts); err != nil {
			return nil, fmt.Errorf("scan message for unread: %w", err)
		}
		key := domain.ConversationKeyForMessage(domain.Message{
			Channel:    channel,
			FromNodeID: from,
			ToNodeID:   to,
		}, localNodeID)
		if ts > reads[key] {
			counts[key]++
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages for unread: %w", err)
	}

	return counts, nil
}

const messageSelect = `
	SELECT message_id, from_node_id, to_node_id, channel, text, timestamp, portnum,
		reply_id, emoji, hop_start, hop_limit, via_mqtt,
		delivery_state, fail_reason, request_id, is_local, created_at
	FROM messages`

func collectMessagesWindow(rows *sql.Rows, limit int) ([]domain.Message, bool, error) {
	defer func() {
		_ = rows.Close()
	}()

	var out []domain.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, false, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("iterate messages: %w", err)
	}

	hasMore := len(out) > limit
	if hasMore {
		out = out[:limit]
	}

	return out, hasMore, nil
}

func scanMessage(scanner interface {
	Scan(dest ...any) error
}) (domain.Message, error) {
	var (
		m         domain.Message
		messageID int64
		ts        int64
		portnum   int64
		replyID   int64
		emoji     int64
		hopStart  int64
		hopLimit  int64
		viaMqtt   int64
		delivery  int64
		requestID int64
		isLocal   int64
		createdMs int64
	)
	if err := scanner.Scan(
		&messageID, &m.FromNodeID, &m.ToNodeID, &m.Channel, &m.Text, &ts, &portnum,
		&replyID, &emoji, &hopStart, &hopLimit, &viaMqtt,
		&delivery, &m.FailReason, &requestID, &isLocal, &createdMs,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Message{}, err
		}

		return domain.Message{}, fmt.Errorf("scan message: %w", err)
	}

	m.MessageID = uint32(messageID)
	m.Timestamp = fromUnixMillis(ts)
	m.PortNum = uint32(portnum)
	m.ReplyID = uint32(replyID)
	m.Emoji = emoji != 0
	m.HopStart = uint32(hopStart)
	m.HopLimit = uint32(hopLimit)
	m.ViaMqtt = viaMqtt != 0
	m.Delivery = domain.DeliveryState(delivery)
	m.AckFailed = m.Delivery == domain.DeliveryFailed
	m.RequestID = uint32(requestID)
	m.IsLocal = isLocal != 0
	m.CreatedAt = fromUnixMillis(createdMs)

	return m, nil
}
