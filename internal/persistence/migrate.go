package persistence

import (
	"context"
	"database/sql"
	"fmt"
)

// Migrations run in order; PRAGMA user_version tracks the last applied step.
var migrations = [][]string{
	// v1: core mesh model
	{
		`CREATE TABLE nodes (
			node_num INTEGER PRIMARY KEY,
			node_id TEXT NOT NULL UNIQUE,
			long_name TEXT NOT NULL DEFAULT '',
			short_name TEXT NOT NULL DEFAULT '',
			hw_model TEXT NOT NULL DEFAULT '',
			role TEXT NOT NULL DEFAULT '',
			public_key BLOB NULL,
			is_licensed INTEGER NOT NULL DEFAULT 0,
			snr REAL NULL,
			last_heard_at INTEGER NOT NULL DEFAULT 0,
			hops_away INTEGER NULL,
			via_mqtt INTEGER NOT NULL DEFAULT 0,
			channel INTEGER NULL,
			latitude REAL NULL,
			longitude REAL NULL,
			altitude INTEGER NULL,
			position_time INTEGER NULL,
			battery_level INTEGER NULL,
			voltage REAL NULL,
			channel_utilization REAL NULL,
			air_util_tx REAL NULL,
			uptime_seconds INTEGER NULL,
			is_favorite INTEGER NOT NULL DEFAULT 0,
			is_ignored INTEGER NOT NULL DEFAULT 0,
			welcomed_at INTEGER NULL,
			firmware_version TEXT NOT NULL DEFAULT '',
			reboot_count INTEGER NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);`,
		`CREATE INDEX nodes_last_heard_at_idx ON nodes(last_heard_at DESC);`,
		`CREATE TABLE channels (
			idx INTEGER PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			psk BLOB NULL,
			role INTEGER NOT NULL DEFAULT 0,
			uplink_enabled INTEGER NOT NULL DEFAULT 0,
			downlink_enabled INTEGER NOT NULL DEFAULT 0,
			position_precision INTEGER NULL,
			updated_at INTEGER NOT NULL
		);`,
		`CREATE TABLE messages (
			local_id INTEGER PRIMARY KEY AUTOINCREMENT,
			message_id INTEGER NOT NULL,
			from_node_id TEXT NOT NULL,
			to_node_id TEXT NOT NULL,
			channel INTEGER NOT NULL,
			text TEXT NOT NULL,
			timestamp INTEGER NOT NULL,
			portnum INTEGER NOT NULL,
			reply_id INTEGER NOT NULL DEFAULT 0,
			emoji INTEGER NOT NULL DEFAULT 0,
			hop_start INTEGER NOT NULL DEFAULT 0,
			hop_limit INTEGER NOT NULL DEFAULT 0,
			via_mqtt INTEGER NOT NULL DEFAULT 0,
			delivery_state INTEGER NOT NULL DEFAULT 1,
			fail_reason TEXT NOT NULL DEFAULT '',
			request_id INTEGER NOT NULL DEFAULT 0,
			is_local INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL,
			UNIQUE(from_node_id, message_id)
		);`,
		`CREATE INDEX messages_channel_ts_idx ON messages(channel, timestamp DESC);`,
		`CREATE INDEX messages_request_id_idx ON messages(request_id);`,
		`CREATE TABLE conversation_reads (
			conversation_key TEXT PRIMARY KEY,
			last_read_at INTEGER NOT NULL
		);`,
		`CREATE TABLE traceroutes (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			from_node_num INTEGER NOT NULL,
			to_node_num INTEGER NOT NULL,
			route TEXT NULL,
			route_back TEXT NULL,
			snr_towards TEXT NULL,
			snr_back TEXT NULL,
			timestamp INTEGER NOT NULL,
			created_at INTEGER NOT NULL
		);`,
		`CREATE INDEX traceroutes_to_node_idx ON traceroutes(to_node_num, created_at DESC);`,
		`CREATE TABLE telemetry (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			node_num INTEGER NOT NULL,
			kind INTEGER NOT NULL,
			timestamp INTEGER NOT NULL,
			battery_level INTEGER NULL,
			voltage REAL NULL,
			channel_utilization REAL NULL,
			air_util_tx REAL NULL,
			uptime_seconds INTEGER NULL,
			temperature REAL NULL,
			relative_humidity REAL NULL,
			barometric_pressure REAL NULL,
			iaq REAL NULL,
			ch1_voltage REAL NULL,
			ch1_current REAL NULL
		);`,
		`CREATE INDEX telemetry_node_ts_idx ON telemetry(node_num, timestamp DESC);`,
		`CREATE TABLE settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
	},
	// v2: diagnostics: neighbor graph, raw packets, audit trail
	{
		`CREATE TABLE neighbors (
			node_num INTEGER NOT NULL,
			neighbor_num INTEGER NOT NULL,
			snr REAL NOT NULL DEFAULT 0,
			last_rx_time INTEGER NOT NULL DEFAULT 0,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY(node_num, neighbor_num)
		);`,
		`CREATE TABLE raw_packets (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			packet_id INTEGER NOT NULL,
			from_node_num INTEGER NOT NULL,
			to_node_num INTEGER NOT NULL,
			portnum INTEGER NOT NULL,
			payload BLOB NULL,
			received_at INTEGER NOT NULL
		);`,
		`CREATE INDEX raw_packets_received_idx ON raw_packets(received_at DESC);`,
		`CREATE TABLE audit_log (
			id TEXT PRIMARY KEY,
			actor TEXT NOT NULL,
			action TEXT NOT NULL,
			resource TEXT NOT NULL DEFAULT '',
			details TEXT NOT NULL DEFAULT '',
			ip TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL
		);`,
		`CREATE INDEX audit_log_created_idx ON audit_log(created_at DESC);`,
	},
	// v3: release upgrade queue
	{
		`CREATE TABLE pending_upgrades (
			version TEXT PRIMARY KEY,
			url TEXT NOT NULL DEFAULT '',
			notes TEXT NOT NULL DEFAULT '',
			detected_at INTEGER NOT NULL
		);`,
	},
}

func migrate(ctx context.Context, db *sql.DB) error {
	var version int
	if err := db.QueryRowContext(ctx, `PRAGMA user_version;`).Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version < 0 || version > len(migrations) {
		return fmt.Errorf("unsupported schema version: %d", version)
	}

	for step := version; step < len(migrations); step++ {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", step+1, err)
		}
		for _, stmt := range migrations[step] {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				_ = tx.Rollback()

				return fmt.Errorf("apply migration %d: %w", step+1, err)
			}
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`PRAGMA user_version = %d;`, step+1)); err != nil {
			_ = tx.Rollback()

			return fmt.Errorf("bump schema version to %d: %w", step+1, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", step+1, err)
		}
	}

	return nil
}
