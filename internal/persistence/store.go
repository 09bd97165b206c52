package persistence

import (
	"context"
	"database/sql"
	"fmt"
)

// Store bundles the per-table repositories over one sqlite handle. Reads go
// straight to the repos; mutations from hot paths should go through the
// WriterQueue so the single-writer discipline holds.
type Store struct {
	DB *sql.DB

	Nodes       *NodeRepo
	Channels    *ChannelRepo
	Messages    *MessageRepo
	Traceroutes *TracerouteRepo
	Telemetry   *TelemetryRepo
	Neighbors   *NeighborRepo
	Settings    *SettingsRepo
	Audit       *AuditRepo
	RawPackets  *RawPacketRepo
	Upgrades    *UpgradeRepo
}

func NewStore(ctx context.Context, path string) (*Store, error) {
	db, err := Open(ctx, path)
	if err != nil {
		return nil, err
	}

	return newStoreWithDB(db), nil
}

func newStoreWithDB(db *sql.DB) *Store {
	return &Store{
		DB:          db,
		Nodes:       NewNodeRepo(db),
		Channels:    NewChannelRepo(db),
		Messages:    NewMessageRepo(db),
		Traceroutes: NewTracerouteRepo(db),
		Telemetry:   NewTelemetryRepo(db),
		Neighbors:   NewNeighborRepo(db),
		Settings:    NewSettingsRepo(db),
		Audit:       NewAuditRepo(db),
		RawPackets:  NewRawPacketRepo(db),
		Upgrades:    NewUpgradeRepo(db),
	}
}

func (s *Store) Close() error {
	return s.DB.Close()
}

// Clear wipes mesh state but keeps settings and the audit trail, so a
// post-wipe refresh starts from an empty node table with history intact.
func (s *Store) Clear(ctx context.Context) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin clear tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for _, table := range []string{"messages", "conversation_reads", "traceroutes", "telemetry", "neighbors", "raw_packets", "channels", "nodes"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit clear tx: %w", err)
	}

	return nil
}
