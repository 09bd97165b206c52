package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"meshmonitor/internal/domain"
)

type NodeRepo struct {
	db *sql.DB
}

func NewNodeRepo(db *sql.DB) *NodeRepo {
	return &NodeRepo{db: db}
}

// Upsert merges by node_num. Absent fields (empty strings, nil pointers)
// keep the stored value; created_at is preserved. Favorite/ignored flags and
// welcomed_at are managed by their dedicated operations, never here.
func (r *NodeRepo) Upsert(ctx context.Context, n domain.Node) error {
	var (
		lat, lon, alt, posTime            any
		battery, voltage, chanUtil        any
		airUtil, uptime, snr, hops, chann any
		rebootCount                       any
	)
	if n.Position != nil {
		lat = n.Position.Latitude
		lon = n.Position.Longitude
		alt = int64(n.Position.Altitude)
		posTime = toUnixMillis(n.Position.Time)
	}
	if n.Metrics.BatteryLevel != nil {
		battery = int64(*n.Metrics.BatteryLevel)
	}
	if n.Metrics.Voltage != nil {
		voltage = *n.Metrics.Voltage
	}
	if n.Metrics.ChannelUtilization != nil {
		chanUtil = *n.Metrics.ChannelUtilization
	}
	if n.Metrics.AirUtilTx != nil {
		airUtil = *n.Metrics.AirUtilTx
	}
	if n.Metrics.UptimeSeconds != nil {
		uptime = int64(*n.Metrics.UptimeSeconds)
	}
	if n.SNR != nil {
		snr = *n.SNR
	}
	if n.HopsAway != nil {
		hops = int64(*n.HopsAway)
	}
	if n.Channel != nil {
		chann = int64(*n.Channel)
	}
	if n.RebootCount != nil {
		rebootCount = int64(*n.RebootCount)
	}
	now := toUnixMillis(n.UpdatedAt)
	if now == 0 {
		now = time.Now().UnixMilli()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO nodes(
			node_num, node_id, long_name, short_name, hw_model, role,
			public_key, is_licensed, snr, last_heard_at, hops_away, via_mqtt, channel,
			latitude, longitude, altitude, position_time,
			battery_level, voltage, channel_utilization, air_util_tx, uptime_seconds,
			firmware_version, reboot_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(node_num) DO UPDATE SET
			node_id = excluded.node_id,
			long_name = CASE WHEN excluded.long_name <> '' THEN excluded.long_name ELSE nodes.long_name END,
			short_name = CASE WHEN excluded.short_name <> '' THEN excluded.short_name ELSE nodes.short_name END,
			hw_model = CASE WHEN excluded.hw_model <> '' THEN excluded.hw_model ELSE nodes.hw_model END,
			role = CASE WHEN excluded.role <> '' THEN excluded.role ELSE nodes.role END,
			public_key = COALESCE(excluded.public_key, nodes.public_key),
			is_licensed = MAX(excluded.is_licensed, nodes.is_licensed),
			snr = COALESCE(excluded.snr, nodes.snr),
			last_heard_at = MAX(excluded.last_heard_at, nodes.last_heard_at),
			hops_away = COALESCE(excluded.hops_away, nodes.hops_away),
			via_mqtt = excluded.via_mqtt,
			channel = COALESCE(excluded.channel, nodes.channel),
			latitude = COALESCE(excluded.latitude, nodes.latitude),
			longitude = COALESCE(excluded.longitude, nodes.longitude),
			altitude = COALESCE(excluded.altitude, nodes.altitude),
			position_time = COALESCE(excluded.position_time, nodes.position_time),
			battery_level = COALESCE(excluded.battery_level, nodes.battery_level),
			voltage = COALESCE(excluded.voltage, nodes.voltage),
			channel_utilization = COALESCE(excluded.channel_utilization, nodes.channel_utilization),
			air_util_tx = COALESCE(excluded.air_util_tx, nodes.air_util_tx),
			uptime_seconds = COALESCE(excluded.uptime_seconds, nodes.uptime_seconds),
			firmware_version = CASE WHEN excluded.firmware_version <> '' THEN excluded.firmware_version ELSE nodes.firmware_version END,
			reboot_count = COALESCE(excluded.reboot_count, nodes.reboot_count),
			updated_at = excluded.updated_at
	`,
		int64(n.NodeNum), n.NodeID, n.LongName, n.ShortName, n.HwModel, n.Role,
		n.PublicKey, boolToInt(n.IsLicensed), snr, toUnixMillis(n.LastHeard), hops, boolToInt(n.ViaMqtt), chann,
		lat, lon, alt, posTime,
		battery, voltage, chanUtil, airUtil, uptime,
		n.FirmwareVersion, rebootCount, now, now)
	if err != nil {
		return fmt.Errorf("upsert node: %w", err)
	}

	return nil
}

func (r *NodeRepo) Get(ctx context.Context, nodeNum domain.NodeNum) (*domain.Node, error) {
	row := r.db.QueryRowContext(ctx, nodeSelect+` WHERE node_num = ?`, int64(nodeNum))
	n, err := scanNode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &n, nil
}

func (r *NodeRepo) GetByNodeID(ctx context.Context, nodeID string) (*domain.Node, error) {
	row := r.db.QueryRowContext(ctx, nodeSelect+` WHERE node_id = ?`, nodeID)
	n, err := scanNode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &n, nil
}

// ListActive returns nodes heard within the age window, most recent first.
func (r *NodeRepo) ListActive(ctx context.Context, maxAge time.Duration) ([]domain.Node, error) {
	cutoff := time.Now().Add(-maxAge).UnixMilli()
	rows, err := r.db.QueryContext(ctx, nodeSelect+`
		WHERE last_heard_at >= ?
		ORDER BY last_heard_at DESC
	`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list active nodes: %w", err)
	}

	return collectNodes(rows)
}

func (r *NodeRepo) ListAll(ctx context.Context) ([]domain.Node, error) {
	rows, err := r.db.QueryContext(ctx, nodeSelect+` ORDER BY last_heard_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list nodes: %w", err)
	}

	return collectNodes(rows)
}

func (r *NodeRepo) SetFavorite(ctx context.Context, nodeNum domain.NodeNum, favorite bool) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE nodes SET is_favorite = ?, updated_at = ? WHERE node_num = ?
	`, boolToInt(favorite), time.Now().UnixMilli(), int64(nodeNum))
	if err != nil {
		return fmt.Errorf("set favorite: %w", err)
	}

	return nil
}

func (r *NodeRepo) SetIgnored(ctx context.Context, nodeNum domain.NodeNum, ignored bool) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE nodes SET is_ignored = ?, updated_at = ? WHERE node_num = ?
	`, boolToInt(ignored), time.Now().UnixMilli(), int64(nodeNum))
	if err != nil {
		return fmt.Errorf("set ignored: %w", err)
	}

	return nil
}

// ApplyDeviceFlags syncs favorite/ignored bits from the device NodeDB,
// which is the authority after admin commands round-trip through it.
func (r *NodeRepo) ApplyDeviceFlags(ctx context.Context, nodeNum domain.NodeNum, favorite, ignored bool) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE nodes SET is_favorite = ?, is_ignored = ?, updated_at = ? WHERE node_num = ?
	`, boolToInt(favorite), boolToInt(ignored), time.Now().UnixMilli(), int64(nodeNum))
	if err != nil {
		return fmt.Errorf("apply device flags: %w", err)
	}

	return nil
}

// MarkWelcomedIfNotAlready sets welcomed_at once. Returns true only for the
// caller that performed the transition, so concurrent welcome checks elect a
// single sender.
func (r *NodeRepo) MarkWelcomedIfNotAlready(ctx context.Context, nodeNum domain.NodeNum) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE nodes SET welcomed_at = ? WHERE node_num = ? AND welcomed_at IS NULL
	`, time.Now().UnixMilli(), int64(nodeNum))
	if err != nil {
		return false, fmt.Errorf("mark welcomed: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark welcomed rows: %w", err)
	}

	return affected == 1, nil
}

// DeleteCascade removes a node with its messages, traceroutes, telemetry
// and neighbor rows in one transaction.
func (r *NodeRepo) DeleteCascade(ctx context.Context, nodeNum domain.NodeNum) error {
	nodeID := domain.FormatNodeID(nodeNum)
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin node delete tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	steps := []struct {
		stmt string
		args []any
	}{
		{`DELETE FROM messages WHERE from_node_id = ? OR to_node_id = ?`, []any{nodeID, nodeID}},
		{`DELETE FROM traceroutes WHERE from_node_num = ? OR to_node_num = ?`, []any{int64(nodeNum), int64(nodeNum)}},
		{`DELETE FROM telemetry WHERE node_num = ?`, []any{int64(nodeNum)}},
		{`DELETE FROM neighbors WHERE node_num = ? OR neighbor_num = ?`, []any{int64(nodeNum), int64(nodeNum)}},
		{`DELETE FROM nodes WHERE node_num = ?`, []any{int64(nodeNum)}},
	}
	for _, step := range steps {
		if _, err := tx.ExecContext(ctx, step.stmt, step.args...); err != nil {
			return fmt.Errorf("cascade node delete: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit node delete tx: %w", err)
	}

	return nil
}

const nodeSelect = `
	SELECT node_num, node_id, long_name, short_name, hw_model, role,
		public_key, is_licensed, snr, last_heard_at, hops_away, via_mqtt, channel,
		latitude, longitude, altitude, position_time,
		battery_level, voltage, channel_utilization, air_util_tx, uptime_seconds,
		is_favorite, is_ignored, welcomed_at, firmware_version, reboot_count,
		created_at, updated_at
	FROM nodes`

func collectNodes(rows *sql.Rows) ([]domain.Node, error) {
	defer func() {
		_ = rows.Close()
	}()

	var out []domain.Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate nodes: %w", err)
	}

	return out, nil
}

func scanNode(scanner interface {
	Scan(dest ...any) error
}) (domain.Node, error) {
	var (
		n          domain.Node
		nodeNum    int64
		isLicensed int64
		viaMqtt    int64
		isFavorite int64
		isIgnored  int64
		heardMs    int64
		createdMs  int64
		updatedMs  int64
		snr        sql.NullFloat64
		hops       sql.NullInt64
		channel    sql.NullInt64
		lat        sql.NullFloat64
		lon        sql.NullFloat64
		alt        sql.NullInt64
		posTime    sql.NullInt64
		battery    sql.NullInt64
		voltage    sql.NullFloat64
		chanUtil   sql.NullFloat64
		airUtil    sql.NullFloat64
		uptime     sql.NullInt64
		welcomedMs sql.NullInt64
		reboots    sql.NullInt64
	)
	if err := scanner.Scan(
		&nodeNum, &n.NodeID, &n.LongName, &n.ShortName, &n.HwModel, &n.Role,
		&n.PublicKey, &isLicensed, &snr, &heardMs, &hops, &viaMqtt, &channel,
		&lat, &lon, &alt, &posTime,
		&battery, &voltage, &chanUtil, &airUtil, &uptime,
		&isFavorite, &isIgnored, &welcomedMs, &n.FirmwareVersion, &reboots,
		&createdMs, &updatedMs,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Node{}, err
		}

		return domain.Node{}, fmt.Errorf("scan node: %w", err)
	}

	n.NodeNum = domain.NodeNum(nodeNum)
	n.IsLicensed = isLicensed != 0
	n.ViaMqtt = viaMqtt != 0
	n.IsFavorite = isFavorite != 0
	n.IsIgnored = isIgnored != 0
	n.LastHeard = fromUnixMillis(heardMs)
	n.CreatedAt = fromUnixMillis(createdMs)
	n.UpdatedAt = fromUnixMillis(updatedMs)
	if welcomedMs.Valid {
		n.WelcomedAt = fromUnixMillis(welcomedMs.Int64)
	}
	if snr.Valid {
		v := snr.Float64
		n.SNR = &v
	}
	if hops.Valid {
		v := uint32(hops.Int64)
		n.HopsAway = &v
	}
	if channel.Valid {
		v := uint32(channel.Int64)
		n.Channel = &v
	}
	if lat.Valid && lon.Valid {
		pos := domain.Position{Latitude: lat.Float64, Longitude: lon.Float64}
		if alt.Valid {
			pos.Altitude = int32(alt.Int64)
		}
		if posTime.Valid {
			pos.Time = fromUnixMillis(posTime.Int64)
		}
		n.Position = &pos
	}
	if battery.Valid {
		v := uint32(battery.Int64)
		n.Metrics.BatteryLevel = &v
	}
	if voltage.Valid {
		v := voltage.Float64
		n.Metrics.Voltage = &v
	}
	if chanUtil.Valid {
		v := chanUtil.Float64
		n.Metrics.ChannelUtilization = &v
	}
	if airUtil.Valid {
		v := airUtil.Float64
		n.Metrics.AirUtilTx = &v
	}
	if uptime.Valid {
		v := uint32(uptime.Int64)
		n.Metrics.UptimeSeconds = &v
	}
	if reboots.Valid {
		v := uint32(reboots.Int64)
		n.RebootCount = &v
	}

	return n, nil
}
