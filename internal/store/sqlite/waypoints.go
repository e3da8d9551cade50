package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/engramdb/engram/internal/model"
)

type waypoints struct{ db *sql.DB }

func (w *waypoints) Upsert(ctx context.Context, src, dst, owner string, delta float64) error {
	now := time.Now().UTC()
	_, err := w.db.ExecContext(ctx, `
        INSERT INTO memory_waypoints (source_id, target_id, owner, weight, created_at, updated_at)
        VALUES (?,?,?,?,?,?)
        ON CONFLICT (source_id, target_id, owner)
        DO UPDATE SET weight = memory_waypoints.weight + excluded.weight, updated_at = excluded.updated_at
    `, src, dst, owner, delta, now, now)
	return err
}

func (w *waypoints) UpsertMany(ctx context.Context, edges []*model.Waypoint) error {
	for start := 0; start < len(edges); start += upsertChunk {
		end := start + upsertChunk
		if end > len(edges) {
			end = len(edges)
		}
		if err := w.upsertChunkTx(ctx, edges[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (w *waypoints) upsertChunkTx(ctx context.Context, edges []*model.Waypoint) error {
	tx, err := w.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	now := time.Now().UTC()
	for _, e := range edges {
		if _, err := tx.ExecContext(ctx, `
            INSERT INTO memory_waypoints (source_id, target_id, owner, weight, created_at, updated_at)
            VALUES (?,?,?,?,?,?)
            ON CONFLICT (source_id, target_id, owner)
            DO UPDATE SET weight = memory_waypoints.weight + excluded.weight, updated_at = excluded.updated_at
        `, e.SourceID, e.TargetID, e.Owner, e.Weight, now, now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (w *waypoints) Neighbors(ctx context.Context, src, owner string, limit int) ([]*model.Waypoint, error) {
	q := `
        SELECT source_id, target_id, owner, weight, created_at, updated_at
        FROM memory_waypoints WHERE source_id=? AND owner=?
        ORDER BY weight DESC`
	args := []interface{}{src, owner}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := w.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []*model.Waypoint
	for rows.Next() {
		var wp model.Waypoint
		if err := rows.Scan(&wp.SourceID, &wp.TargetID, &wp.Owner, &wp.Weight, &wp.CreatedAt, &wp.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, &wp)
	}
	return out, rows.Err()
}

func (w *waypoints) DeleteFor(ctx context.Context, memoryID string) error {
	_, err := w.db.ExecContext(ctx, `DELETE FROM memory_waypoints WHERE source_id=? OR target_id=?`, memoryID, memoryID)
	return err
}

func (w *waypoints) Prune(ctx context.Context, floor float64) (int64, error) {
	res, err := w.db.ExecContext(ctx, `DELETE FROM memory_waypoints WHERE weight < ?`, floor)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (w *waypoints) SweepOrphans(ctx context.Context) (int64, error) {
	res, err := w.db.ExecContext(ctx, `
        DELETE FROM memory_waypoints
        WHERE source_id NOT IN (SELECT memory_id FROM memories)
           OR target_id NOT IN (SELECT memory_id FROM memories)
    `)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
