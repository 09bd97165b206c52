package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"meshmonitor/internal/domain"
)

type ChannelRepo struct {
	db *sql.DB
}

func NewChannelRepo(db *sql.DB) *ChannelRepo {
	return &ChannelRepo{db: db}
}

func (r *ChannelRepo) Upsert(ctx context.Context, c domain.Channel) error {
	var precision any
	if c.PositionPrecision != nil {
		precision = int64(*c.PositionPrecision)
	}
	updated := toUnixMillis(c.UpdatedAt)
	if updated == 0 {
		updated = time.Now().UnixMilli()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO channels(idx, name, psk, role, uplink_enabled, downlink_enabled, position_precision, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(idx) DO UPDATE SET
			name = excluded.name,
			psk = COALESCE(excluded.psk, channels.psk),
			role = excluded.role,
			uplink_enabled = excluded.uplink_enabled,
			downlink_enabled = excluded.downlink_enabled,
			position_precision = COALESCE(excluded.position_precision, channels.position_precision),
			updated_at = excluded.updated_at
	`, c.Index, c.Name, c.PSK, int(c.Role), boolToInt(c.UplinkEnabled), boolToInt(c.DownlinkEnabled), precision, updated)
	if err != nil {
		return fmt.Errorf("upsert channel: %w", err)
	}

	return nil
}

// List returns channels by index, disabled slots included so the caller can
// see the full device channel table.
func (r *ChannelRepo) List(ctx context.Context) ([]domain.Channel, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT idx, name, psk, role, uplink_enabled, downlink_enabled, position_precision, updated_at
		FROM channels ORDER BY idx
	`)
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var out []domain.Channel
	for rows.Next() {
		var (
			c         domain.Channel
			role      int64
			uplink    int64
			downlink  int64
			precision sql.NullInt64
			updatedMs int64
		)
		if err := rows.Scan(&c.Index, &c.Name, &c.PSK, &role, &uplink, &downlink, &precision, &updatedMs); err != nil {
			return nil, fmt.Errorf("scan channel: %w", err)
		}
		c.Role = domain.ChannelRole(role)
		c.UplinkEnabled = uplink != 0
		c.DownlinkEnabled = downlink != 0
		if precision.Valid {
			v := uint32(precision.Int64)
			c.PositionPrecision = &v
		}
		c.UpdatedAt = fromUnixMillis(updatedMs)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate channels: %w", err)
	}

	return out, nil
}

func (r *ChannelRepo) DeleteAll(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM channels`)
	if err != nil {
		return fmt.Errorf("clear channels: %w", err)
	}

	return nil
}
