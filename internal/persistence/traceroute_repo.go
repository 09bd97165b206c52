package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"meshmonitor/internal/domain"
)

type TracerouteRepo struct {
	db *sql.DB
}

func NewTracerouteRepo(db *sql.DB) *TracerouteRepo {
	return &TracerouteRepo{db: db}
}

func (r *TracerouteRepo) Append(ctx context.Context, t domain.TracerouteRecord) error {
	created := toUnixMillis(t.CreatedAt)
	if created == 0 {
		created = time.Now().UnixMilli()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO traceroutes(from_node_num, to_node_num, route, route_back, snr_towards, snr_back, timestamp, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, int64(t.FromNodeNum), int64(t.ToNodeNum),
		encodeUint32s(t.Route), encodeUint32s(t.RouteBack),
		encodeInt32s(t.SNRTowards), encodeInt32s(t.SNRBack),
		toUnixMillis(t.Timestamp), created)
	if err != nil {
		return fmt.Errorf("append traceroute: %w", err)
	}

	return nil
}

// ListRecent returns the newest records across all nodes.
func (r *TracerouteRepo) ListRecent(ctx context.Context, limit int) ([]domain.TracerouteRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, tracerouteSelect+`
		ORDER BY created_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list traceroutes: %w", err)
	}

	return collectTraceroutes(rows)
}

// ListForNode returns the newest records targeting one node.
func (r *TracerouteRepo) ListForNode(ctx context.Context, nodeNum domain.NodeNum, limit int) ([]domain.TracerouteRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.QueryContext(ctx, tracerouteSelect+`
		WHERE to_node_num = ? ORDER BY created_at DESC LIMIT ?
	`, int64(nodeNum), limit)
	if err != nil {
		return nil, fmt.Errorf("list node traceroutes: %w", err)
	}

	return collectTraceroutes(rows)
}

// LatestSuccessPerNode returns the most recent completed traceroute for each
// destination, for building the link topology view.
func (r *TracerouteRepo) LatestSuccessPerNode(ctx context.Context) ([]domain.TracerouteRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT from_node_num, to_node_num, route, route_back, snr_towards, snr_back, timestamp, created_at
		FROM traceroutes t
		WHERE (route IS NOT NULL OR route_back IS NOT NULL)
		  AND created_at = (
			SELECT MAX(created_at) FROM traceroutes
			WHERE to_node_num = t.to_node_num
			  AND (route IS NOT NULL OR route_back IS NOT NULL)
		  )
	`)
	if err != nil {
		return nil, fmt.Errorf("list latest traceroutes: %w", err)
	}

	return collectTraceroutes(rows)
}

func (r *TracerouteRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM traceroutes WHERE created_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("prune traceroutes: %w", err)
	}

	return res.RowsAffected()
}

const tracerouteSelect = `
	SELECT from_node_num, to_node_num, route, route_back, snr_towards, snr_back, timestamp, created_at
	FROM traceroutes`

func collectTraceroutes(rows *sql.Rows) ([]domain.TracerouteRecord, error) {
	defer func() {
		_ = rows.Close()
	}()

	var out []domain.TracerouteRecord
	for rows.Next() {
		var (
			t            domain.TracerouteRecord
			from, to     int64
			route        *string
			routeBack    *string
			snrTowards   *string
			snrBack      *string
			ts, createdM int64
		)
		if err := rows.Scan(&from, &to, &route, &routeBack, &snrTowards, &snrBack, &ts, &createdM); err != nil {
			return nil, fmt.Errorf("scan traceroute: %w", err)
		}
		t.FromNodeNum = domain.NodeNum(from)
		t.ToNodeNum = domain.NodeNum(to)
		t.Route = decodeUint32s(route)
		t.RouteBack = decodeUint32s(routeBack)
		t.SNRTowards = decodeInt32s(snrTowards)
		t.SNRBack = decodeInt32s(snrBack)
		t.Timestamp = fromUnixMillis(ts)
		t.CreatedAt = fromUnixMillis(createdM)
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate traceroutes: %w", err)
	}

	return out, nil
}
