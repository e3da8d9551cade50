package sqlite

import (
	"context"
	"database/sql"

	"github.com/engramdb/engram/internal/model"
	"github.com/engramdb/engram/internal/store"
)

type vectors struct{ db *sql.DB }

const upsertChunk = 200

func (v *vectors) Upsert(ctx context.Context, rec *model.VectorRecord) error {
	_, err := v.db.ExecContext(ctx, `
        INSERT INTO memory_vectors (memory_id, sector, owner, dim, embedding, metadata)
        VALUES (?,?,?,?,?,?)
        ON CONFLICT (memory_id, sector)
        DO UPDATE SET owner=excluded.owner, dim=excluded.dim,
                      embedding=excluded.embedding, metadata=excluded.metadata
    `, rec.MemoryID, rec.Sector, rec.Owner, rec.Dim, encodeVector(rec.Embedding), marshalJSON(rec.Metadata))
	return err
}

func (v *vectors) UpsertMany(ctx context.Context, recs []*model.VectorRecord) error {
	for start := 0; start < len(recs); start += upsertChunk {
		end := start + upsertChunk
		if end > len(recs) {
			end = len(recs)
		}
		if err := v.upsertChunkTx(ctx, recs[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (v *vectors) upsertChunkTx(ctx context.Context, recs []*model.VectorRecord) error {
	tx, err := v.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, rec := range recs {
		if _, err := tx.ExecContext(ctx, `
            INSERT INTO memory_vectors (memory_id, sector, owner, dim, embedding, metadata)
            VALUES (?,?,?,?,?,?)
            ON CONFLICT (memory_id, sector)
            DO UPDATE SET owner=excluded.owner, dim=excluded.dim,
                          embedding=excluded.embedding, metadata=excluded.metadata
        `, rec.MemoryID, rec.Sector, rec.Owner, rec.Dim, encodeVector(rec.Embedding), marshalJSON(rec.Metadata)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (v *vectors) Delete(ctx context.Context, memoryID, sector string) error {
	_, err := v.db.ExecContext(ctx, `DELETE FROM memory_vectors WHERE memory_id=? AND sector=?`, memoryID, sector)
	return err
}

func (v *vectors) DeleteAllForID(ctx context.Context, memoryID string) error {
	_, err := v.db.ExecContext(ctx, `DELETE FROM memory_vectors WHERE memory_id=?`, memoryID)
	return err
}

func (v *vectors) DeleteMany(ctx context.Context, memoryIDs []string) error {
	if len(memoryIDs) == 0 {
		return nil
	}
	_, err := v.db.ExecContext(ctx,
		`DELETE FROM memory_vectors WHERE memory_id IN (`+placeholders(len(memoryIDs))+`)`,
		toInterfaces(memoryIDs)...)
	return err
}

func (v *vectors) GetByID(ctx context.Context, memoryID string) ([]*model.VectorRecord, error) {
	rows, err := v.db.QueryContext(ctx, `
        SELECT memory_id, sector, owner, dim, embedding, metadata
        FROM memory_vectors WHERE memory_id=?
    `, memoryID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanVectorRows(rows)
}

func (v *vectors) GetMany(ctx context.Context, memoryIDs []string) (map[string][]*model.VectorRecord, error) {
	out := make(map[string][]*model.VectorRecord, len(memoryIDs))
	if len(memoryIDs) == 0 {
		return out, nil
	}
	rows, err := v.db.QueryContext(ctx,
		`SELECT memory_id, sector, owner, dim, embedding, metadata
         FROM memory_vectors WHERE memory_id IN (`+placeholders(len(memoryIDs))+`)`,
		toInterfaces(memoryIDs)...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	recs, err := scanVectorRows(rows)
	if err != nil {
		return nil, err
	}
	for _, r := range recs {
		out[r.MemoryID] = append(out[r.MemoryID], r)
	}
	return out, nil
}

func scanVectorRows(rows *sql.Rows) ([]*model.VectorRecord, error) {
	var out []*model.VectorRecord
	for rows.Next() {
		var rec model.VectorRecord
		var emb []byte
		var meta sql.NullString
		if err := rows.Scan(&rec.MemoryID, &rec.Sector, &rec.Owner, &rec.Dim, &emb, &meta); err != nil {
			return nil, err
		}
		rec.Embedding = decodeVector(emb)
		rec.Metadata = unmarshalMap(meta)
		out = append(out, &rec)
	}
	return out, rows.Err()
}

// SearchNative is unavailable on sqlite; callers use the fallback scan.
func (v *vectors) SearchNative(ctx context.Context, sector, owner string, query []float32, topK int, filter map[string]interface{}) ([]model.VectorMatch, error) {
	return nil, store.ErrNativeSearchUnsupported
}

func (v *vectors) Iterate(ctx context.Context, sector, owner string, fn func(*model.VectorRecord) error) error {
	rows, err := v.db.QueryContext(ctx, `
        SELECT memory_id, sector, owner, dim, embedding, metadata
        FROM memory_vectors WHERE sector=? AND owner=?
    `, sector, owner)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var rec model.VectorRecord
		var emb []byte
		var meta sql.NullString
		if err := rows.Scan(&rec.MemoryID, &rec.Sector, &rec.Owner, &rec.Dim, &emb, &meta); err != nil {
			return err
		}
		rec.Embedding = decodeVector(emb)
		rec.Metadata = unmarshalMap(meta)
		if err := fn(&rec); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (v *vectors) IterateIDs(ctx context.Context, fn func(string) error) error {
	rows, err := v.db.QueryContext(ctx, `SELECT DISTINCT memory_id FROM memory_vectors`)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return err
		}
		if err := fn(id); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (v *vectors) DeleteByOwner(ctx context.Context, owner string) error {
	_, err := v.db.ExecContext(ctx, `DELETE FROM memory_vectors WHERE owner=?`, owner)
	return err
}

func (v *vectors) CleanupOrphans(ctx context.Context) (int64, error) {
	res, err := v.db.ExecContext(ctx, `
        DELETE FROM memory_vectors
        WHERE memory_id NOT IN (SELECT memory_id FROM memories)
    `)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
