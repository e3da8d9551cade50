package sqlite

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
	now := time.Now().UTC()
	_, err := m.db.ExecContext(ctx, `
        INSERT INTO memories (memory_id, owner, content, primary_sector, additional_sectors, tags, metadata,
                              salience, decay_rate, summary, key_version, version, created_at, updated_at, last_seen_at)
        VALUES (?,?,?,?,?,?,?,?,?,?,?,1,?,?,?)
    `, mm.ID, mm.Owner, mm.Content, mm.PrimarySector,
		marshalJSON(mm.AdditionalSectors), marshalJSON(mm.Tags), marshalJSON(mm.Metadata),
		mm.Salience, mm.DecayRate, mm.Summary, mm.KeyVersion, now, now, now)
	if err != nil {
		return nil, err
	}
	out := *mm
	out.Version = 1
	out.CreatedAt = now
	out.UpdatedAt = now
	out.LastSeenAt = now
	return &out, nil
}

func scanMemory(sc interface{ Scan(...interface{}) error }) (*model.MemoryItem, error) {
	var mm model.MemoryItem
	var sectors, tags, meta, summary sql.NullString
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
	row := m.db.QueryRowContext(ctx, `SELECT `+memoryColumns+` FROM memories WHERE memory_id = ? AND owner = ?`, id, owner)
	return scanMemory(row)
}

func (m *memories) GetMany(ctx context.Context, ids []string) ([]*model.MemoryItem, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := m.db.QueryContext(ctx,
		`SELECT `+memoryColumns+` FROM memories WHERE memory_id IN (`+placeholders(len(ids))+`)`,
		toInterfaces(ids)...)
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
	now := time.Now().UTC()
	res, err := m.db.ExecContext(ctx, `
        UPDATE memories
        SET content=?, primary_sector=?, additional_sectors=?, tags=?, metadata=?,
            salience=?, decay_rate=?, summary=?, key_version=?,
            version=version+1, updated_at=?
        WHERE memory_id=? AND owner=?
    `, mm.Content, mm.PrimarySector, marshalJSON(mm.AdditionalSectors), marshalJSON(mm.Tags),
		marshalJSON(mm.Metadata), mm.Salience, mm.DecayRate, mm.Summary, mm.KeyVersion,
		now, mm.ID, mm.Owner)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, model.ErrNotFound
	}
	return m.GetByID(ctx, mm.Owner, mm.ID)
}

func (m *memories) Delete(ctx context.Context, owner, id string) error {
	tx, err := m.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `DELETE FROM memories WHERE memory_id=? AND owner=?`, id, owner)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.ErrNotFound
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM memory_vectors WHERE memory_id=?`, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM memory_waypoints WHERE source_id=? OR target_id=?`, id, id); err != nil {
		return err
	}
	return tx.Commit()
}

func (m *memories) List(ctx context.Context, owner string, limit int) ([]*model.MemoryItem, error) {
	q := `SELECT ` + memoryColumns + ` FROM memories WHERE owner=? ORDER BY created_at DESC`
	args := []interface{}{owner}
	if limit > 0 {
		q += ` LIMIT ?`
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
	rows, err := m.db.QueryContext(ctx,
		`SELECT `+memoryColumns+` FROM memories ORDER BY memory_id LIMIT ? OFFSET ?`, limit, offset)
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
	_, err := m.db.ExecContext(ctx, `UPDATE memories SET last_seen_at=? WHERE memory_id=?`, at.UTC(), id)
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
	now := time.Now().UTC()
	for _, u := range updates {
		if _, err := tx.ExecContext(ctx, `UPDATE memories SET salience=?, updated_at=? WHERE memory_id=?`, u.Salience, now, u.MemoryID); err != nil {
			return err
		}
	}
	return tx.Commit()
}
