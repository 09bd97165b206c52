package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"meshmonitor/internal/domain"
)

type RawPacketRepo struct {
	db *sql.DB
}

func NewRawPacketRepo(db *sql.DB) *RawPacketRepo {
	return &RawPacketRepo{db: db}
}

func (r *RawPacketRepo) Append(ctx context.Context, p domain.RawPacket) error {
	received := toUnixMillis(p.ReceivedAt)
	if received == 0 {
		received = time.Now().UnixMilli()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO raw_packets(packet_id, from_node_num, to_node_num, portnum, payload, received_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, int64(p.PacketID), int64(p.FromNodeNum), int64(p.ToNodeNum), int64(p.PortNum), p.Payload, received)
	if err != nil {
		return fmt.Errorf("append raw packet: %w", err)
	}

	return nil
}

func (r *RawPacketRepo) ListRecent(ctx context.Context, limit int) ([]domain.RawPacket, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT packet_id, from_node_num, to_node_num, portnum, payload, received_at
		FROM raw_packets ORDER BY received_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list raw packets: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var out []domain.RawPacket
	for rows.Next() {
		var (
			p                  domain.RawPacket
			packetID, from, to int64
			portnum            int64
			received           int64
		)
		if err := rows.Scan(&packetID, &from, &to, &portnum, &p.Payload, &received); err != nil {
			return nil, fmt.Errorf("scan raw packet: %w", err)
		}
		p.PacketID = uint32(packetID)
		p.FromNodeNum = domain.NodeNum(from)
		p.ToNodeNum = domain.NodeNum(to)
		p.PortNum = uint32(portnum)
		p.ReceivedAt = fromUnixMillis(received)
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate raw packets: %w", err)
	}

	return out, nil
}

func (r *RawPacketRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM raw_packets WHERE received_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("prune raw packets: %w", err)
	}

	return res.RowsAffected()
}
