package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/engramdb/engram/internal/model"
)

type memories struct{ db *sql.DB }

const memoryColumns = `memory_id, owner, content, primary_sector, additional_sectors, tags, metadata,
       salience, decay_rate, summary, key_version, version, created_at, updated_at, last_seen_at`

func (m *memories) Insert(ctx context.Context, mm *model.MemoryItem) (*model.MemoryItem, error) {
	var created time.Time
	row := m.db.QueryRowContext(ctx, `
        INSERT INTO memories (memory_id, owner, content, primary_sector, additional_sectors, tags, metadata,
                              salience, decay_rate, summary, key_version, version, last_seen_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,1,now())
        RETURNING created_at
    `, mm.ID, mm.Owner, mm.Content, mm.PrimarySector,
		marshalJSON(mm.AdditionalSectors), marshalJSON(mm.Tags), marshalJSON(mm.Metadata),
		mm.Salience, mm.DecayRate, mm.Summary, mm.KeyVersion)
	if err := row.Scan(&created); err != nil {
		return nil, err
	}
	out := *mm
	out.Version = 1
	out.CreatedAt = created
	out.UpdatedAt = created
	out.LastSeenAt = created
	return &out, nil
}

func scanMemory(sc interface{ Scan(...interface{}) error }) (*model.MemoryItem, error) {
	var mm model.MemoryItem
	var sectors, tags, meta sql.NullString
	var summary sql.NullString
	var keyVersion sql.NullInt64
	if err := sc.Scan(&mm.ID, &mm.Owner, &mm.Content, &mm.PrimarySector, &sectors, &tags, &meta,
		&mm.Salience, &mm.DecayRate, &summary, &keyVersion, &mm.Version,
		&mm.CreatedAt, &mm.UpdatedAt, &mm.LastSeenAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, model.ErrNotFound
		}
		return nil, err
	}
	mm.AdditionalSectors = unmarshalStrings(sectors)
	mm.Tags = unmarshalStrings(tags)
	mm.Metadata = unmarshalMap(meta)
	if summary.Valid {
		s := summary.String
		mm.Summary = &s
	}
	if keyVersion.Valid {
		kv := int(keyVersion.Int64)
		mm.KeyVersion = &kv
	}
	return &mm, nil
}

func (m *memories) GetByID(ctx context.Context, owner, id string) (*model.MemoryItem, error) {
	row := m.db.QueryRowContext(ctx, `
        SELECT `+memoryColumns+` FROM memories WHERE memory_id=$1 AND owner=$2
    `, id, owner)
	return scanMemory(row)
}

func (m *memories) GetMany(ctx context.Context, ids []string) ([]*model.MemoryItem, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := m.db.QueryContext(ctx, `
        SELECT `+memoryColumns+` FROM memories WHERE memory_id = ANY($1::text[])
    `, pgTextArray(ids))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []*model.MemoryItem
	for rows.Next() {
		mm, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, mm)
	}
	return out, rows.Err()
}

func (m *memories) Update(ctx context.Context, mm *model.MemoryItem) (*model.MemoryItem, error) {
	row := m.db.QueryRowContext(ctx, `
        UPDATE memories
        SET content=$1, primary_sector=$2, additional_sectors=$3, tags=$4, metadata=$5,
            salience=$6, decay_rate=$7, summary=$8, key_version=$9,
            version=version+1, updated_at=now()
        WHERE memory_id=$10 AND owner=$11
        RETURNING version, updated_at
    `, mm.Content, mm.PrimarySector, marshalJSON(mm.AdditionalSectors), marshalJSON(mm.Tags),
		marshalJSON(mm.Metadata), mm.Salience, mm.DecayRate, mm.Summary, mm.KeyVersion,
		mm.ID, mm.Owner)
	out := *mm
	if err := row.Scan(&out.Version, &out.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, model.ErrNotFound
		}
		return nil, err
	}
	return &out, nil
}

// Delete cascades to vectors and waypoint edges in one transaction.
func (m *memories) Delete(ctx context.Context, owner, id string) error {
	tx, err := m.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `DELETE FROM memories WHERE memory_id=$1 AND owner=$2`, id, owner)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.ErrNotFound
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM memory_vectors WHERE memory_id=$1`, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM memory_waypoints WHERE source_id=$1 OR target_id=$1`, id); err != nil {
		return err
	}
	return tx.Commit()
}

func (m *memories) List(ctx context.Context, owner string, limit int) ([]*model.MemoryItem, error) {
	q := `SELECT ` + memoryColumns + ` FROM memories WHERE owner=$1 ORDER BY created_at DESC`
	args := []interface{}{owner}
	if limit > 0 {
		q += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := m.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []*model.MemoryItem
	for rows.Next() {
		mm, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, mm)
	}
	return out, rows.Err()
}

func (m *memories) Count(ctx context.Context) (int64, error) {
	var n int64
	err := m.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memories`).Scan(&n)
	return n, err
}

func (m *memories) ListSegment(ctx context.Context, offset, limit int) ([]*model.MemoryItem, error) {
	rows, err := m.db.QueryContext(ctx, `
        SELECT `+memoryColumns+` FROM memories ORDER BY memory_id OFFSET $1 LIMIT $2
    `, offset, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []*model.MemoryItem
	for rows.Next() {
		mm, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, mm)
	}
	return out, rows.Err()
}

func (m *memories) TouchLastSeen(ctx context.Context, id string, at time.Time) error {
	_, err := m.db.ExecContext(ctx, `UPDATE memories SET last_seen_at=$1 WHERE memory_id=$2`, at.UTC(), id)
	return err
}

func (m *memories) UpdateSalienceBatch(ctx context.Context, updates []model.SalienceUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	tx, err := m.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, u := range updates {
		if _, err := tx.ExecContext(ctx, `UPDATE memories SET salience=$1, updated_at=now() WHERE memory_id=$2`, u.Salience, u.MemoryID); err != nil {
			return err
		}
	}
	return tx.Commit()
}
