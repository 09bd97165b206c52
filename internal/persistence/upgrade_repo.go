package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"meshmonitor/internal/domain"
)

type UpgradeRepo struct {
	db *sql.DB
}

func NewUpgradeRepo(db *sql.DB) *UpgradeRepo {
	return &UpgradeRepo{db: db}
}

// Record queues a release once; re-detecting the same version is a no-op so
// the detected_at timestamp keeps its first sighting.
func (r *UpgradeRepo) Record(ctx context.Context, u domain.PendingUpgrade) error {
	if u.DetectedAt.IsZero() {
		u.DetectedAt = time.Now()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO pending_upgrades(version, url, notes, detected_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(version) DO NOTHING
	`, u.Version, u.URL, u.Notes, u.DetectedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("record pending upgrade: %w", err)
	}

	return nil
}

func (r *UpgradeRepo) Latest(ctx context.Context) (*domain.PendingUpgrade, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT version, url, notes, detected_at
		FROM pending_upgrades ORDER BY detected_at DESC LIMIT 1
	`)

	var (
		u  domain.PendingUpgrade
		at int64
	)
	if err := row.Scan(&u.Version, &u.URL, &u.Notes, &at); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, fmt.Errorf("load pending upgrade: %w", err)
	}
	u.DetectedAt = fromUnixMillis(at)

	return &u, nil
}

func (r *UpgradeRepo) Clear(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM pending_upgrades`); err != nil {
		return fmt.Errorf("clear pending upgrades: %w", err)
	}

	return nil
}
