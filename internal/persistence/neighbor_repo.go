package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"meshmonitor/internal/domain"
)

type NeighborRepo struct {
	db *sql.DB
}

func NewNeighborRepo(db *sql.DB) *NeighborRepo {
	return &NeighborRepo{db: db}
}

// ReplaceForNode swaps a node's neighbor set for the entries of its latest
// NeighborInfo broadcast.
func (r *NeighborRepo) ReplaceForNode(ctx context.Context, nodeNum domain.NodeNum, entries []domain.NeighborEntry) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin neighbor tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM neighbors WHERE node_num = ?`, int64(nodeNum)); err != nil {
		return fmt.Errorf("clear neighbors: %w", err)
	}
	now := time.Now().UnixMilli()
	for _, e := range entries {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO neighbors(node_num, neighbor_num, snr, last_rx_time, updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(node_num, neighbor_num) DO UPDATE SET
				snr = excluded.snr,
				last_rx_time = excluded.last_rx_time,
				updated_at = excluded.updated_at
		`, int64(nodeNum), int64(e.NeighborNum), e.SNR, toUnixMillis(e.LastRxTime), now); err != nil {
			return fmt.Errorf("insert neighbor: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit neighbor tx: %w", err)
	}

	return nil
}

func (r *NeighborRepo) List(ctx context.Context) ([]domain.NeighborEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT node_num, neighbor_num, snr, last_rx_time, updated_at
		FROM neighbors ORDER BY node_num, neighbor_num
	`)
	if err != nil {
		return nil, fmt.Errorf("list neighbors: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var out []domain.NeighborEntry
	for rows.Next() {
		var (
			e         domain.NeighborEntry
			num       int64
			neighbor  int64
			rxMs      int64
			updatedMs int64
		)
		if err := rows.Scan(&num, &neighbor, &e.SNR, &rxMs, &updatedMs); err != nil {
			return nil, fmt.Errorf("scan neighbor: %w", err)
		}
		e.NodeNum = domain.NodeNum(num)
		e.NeighborNum = domain.NodeNum(neighbor)
		e.LastRxTime = fromUnixMillis(rxMs)
		e.UpdatedAt = fromUnixMillis(updatedMs)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate neighbors: %w", err)
	}

	return out, nil
}
