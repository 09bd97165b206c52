package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"meshmonitor/internal/domain"
)

type TelemetryRepo struct {
	db *sql.DB
}

func NewTelemetryRepo(db *sql.DB) *TelemetryRepo {
	return &TelemetryRepo{db: db}
}

func (r *TelemetryRepo) Append(ctx context.Context, s domain.TelemetrySample) error {
	cols := []any{
		int64(s.NodeNum), int(s.Kind), toUnixMillis(s.Timestamp),
		nullUint32(s.BatteryLevel), nullFloat(s.Voltage), nullFloat(s.ChannelUtilization),
		nullFloat(s.AirUtilTx), nullUint32(s.UptimeSeconds),
		nullFloat(s.Temperature), nullFloat(s.RelativeHumidity), nullFloat(s.BarometricPressure), nullFloat(s.IAQ),
		nullFloat(s.Ch1Voltage), nullFloat(s.Ch1Current),
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO telemetry(
			node_num, kind, timestamp,
			battery_level, voltage, channel_utilization, air_util_tx, uptime_seconds,
			temperature, relative_humidity, barometric_pressure, iaq,
			ch1_voltage, ch1_current)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, cols...)
	if err != nil {
		return fmt.Errorf("append telemetry: %w", err)
	}

	return nil
}

// ListForNode returns samples for one node newer than since, oldest first so
// charts can consume them directly.
func (r *TelemetryRepo) ListForNode(ctx context.Context, nodeNum domain.NodeNum, since time.Time) ([]domain.TelemetrySample, error) {
	rows, err := r.db.QueryContext(ctx, telemetrySelect+`
		WHERE node_num = ? AND timestamp >= ?
		ORDER BY timestamp ASC
	`, int64(nodeNum), toUnixMillis(since))
	if err != nil {
		return nil, fmt.Errorf("list telemetry: %w", err)
	}

	return collectTelemetry(rows)
}

// NodesWithEnvironment reports which nodes have environment samples in the
// window, so the snapshot can flag sensor nodes without loading series data.
func (r *TelemetryRepo) NodesWithEnvironment(ctx context.Context, since time.Time) ([]domain.NodeNum, error) {
	return r.NodesWithKind(ctx, domain.TelemetryEnvironment, since)
}

// NodesWithKind reports which nodes have samples of one telemetry kind in
// the window.
func (r *TelemetryRepo) NodesWithKind(ctx context.Context, kind domain.TelemetryKind, since time.Time) ([]domain.NodeNum, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT DISTINCT node_num FROM telemetry
		WHERE kind = ? AND timestamp >= ?
	`, int(kind), toUnixMillis(since))
	if err != nil {
		return nil, fmt.Errorf("list telemetry nodes: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var out []domain.NodeNum
	for rows.Next() {
		var num int64
		if err := rows.Scan(&num); err != nil {
			return nil, fmt.Errorf("scan telemetry node: %w", err)
		}
		out = append(out, domain.NodeNum(num))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate telemetry nodes: %w", err)
	}

	return out, nil
}

// Prune deletes samples past the retention window. Favorite nodes use the
// longer window so their history survives normal churn.
func (r *TelemetryRepo) Prune(ctx context.Context, retention, favoriteRetention time.Duration) (int64, error) {
	now := time.Now()
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM telemetry
		WHERE (timestamp < ? AND node_num NOT IN (SELECT node_num FROM nodes WHERE is_favorite = 1))
		   OR (timestamp < ? AND node_num IN (SELECT node_num FROM nodes WHERE is_favorite = 1))
	`, now.Add(-retention).UnixMilli(), now.Add(-favoriteRetention).UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("prune telemetry: %w", err)
	}

	return res.RowsAffected()
}

const telemetrySelect = `
	SELECT node_num, kind, timestamp,
		battery_level, voltage, channel_utilization, air_util_tx, uptime_seconds,
		temperature, relative_humidity, barometric_pressure, iaq,
		ch1_voltage, ch1_current
	FROM telemetry`

func collectTelemetry(rows *sql.Rows) ([]domain.TelemetrySample, error) {
	defer func() {
		_ = rows.Close()
	}()

	var out []domain.TelemetrySample
	for rows.Next() {
		var (
			s        domain.TelemetrySample
			num      int64
			kind     int64
			ts       int64
			battery  sql.NullInt64
			voltage  sql.NullFloat64
			chanUtil sql.NullFloat64
			airUtil  sql.NullFloat64
			uptime   sql.NullInt64
			temp     sql.NullFloat64
			humidity sql.NullFloat64
			pressure sql.NullFloat64
			iaq      sql.NullFloat64
			ch1V     sql.NullFloat64
			ch1C     sql.NullFloat64
		)
		if err := rows.Scan(&num, &kind, &ts,
			&battery, &voltage, &chanUtil, &airUtil, &uptime,
			&temp, &humidity, &pressure, &iaq,
			&ch1V, &ch1C); err != nil {
			return nil, fmt.Errorf("scan telemetry: %w", err)
		}
		s.NodeNum = domain.NodeNum(num)
		s.Kind = domain.TelemetryKind(kind)
		s.Timestamp = fromUnixMillis(ts)
		if battery.Valid {
			v := uint32(battery.Int64)
			s.BatteryLevel = &v
		}
		s.Voltage = floatPtr(voltage)
		s.ChannelUtilization = floatPtr(chanUtil)
		s.AirUtilTx = floatPtr(airUtil)
		if uptime.Valid {
			v := uint32(uptime.Int64)
			s.UptimeSeconds = &v
		}
		s.Temperature = floatPtr(temp)
		s.RelativeHumidity = floatPtr(humidity)
		s.BarometricPressure = floatPtr(pressure)
		s.IAQ = floatPtr(iaq)
		s.Ch1Voltage = floatPtr(ch1V)
		s.Ch1Current = floatPtr(ch1C)
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate telemetry: %w", err)
	}

	return out, nil
}

func nullUint32(v *uint32) any {
	if v == nil {
		return nil
	}

	return int64(*v)
}

func nullFloat(v *float64) any {
	if v == nil {
		return nil
	}

	return *v
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64

	return &f
}
