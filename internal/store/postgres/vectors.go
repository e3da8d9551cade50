package postgres

import (
	"context"
	"database/sql"

	"github.com/engramdb/engram/internal/model"
)

type vectors struct{ db *sql.DB }

// upsertChunk bounds rows per transaction to stay clear of the 65535
// parameter limit with headroom for wide rows.
const upsertChunk = 200

func (v *vectors) Upsert(ctx context.Context, rec *model.VectorRecord) error {
	_, err := v.db.ExecContext(ctx, `
        INSERT INTO memory_vectors (memory_id, sector, owner, dim, embedding, metadata)
        VALUES ($1,$2,$3,$4,$5::vector,$6)
        ON CONFLICT (memory_id, sector)
        DO UPDATE SET owner=EXCLUDED.owner, dim=EXCLUDED.dim,
                      embedding=EXCLUDED.embedding, metadata=EXCLUDED.metadata
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
            VALUES ($1,$2,$3,$4,$5::vector,$6)
            ON CONFLICT (memory_id, sector)
            DO UPDATE SET owner=EXCLUDED.owner, dim=EXCLUDED.dim,
                          embedding=EXCLUDED.embedding, metadata=EXCLUDED.metadata
        `, rec.MemoryID, rec.Sector, rec.Owner, rec.Dim, encodeVector(rec.Embedding), marshalJSON(rec.Metadata)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (v *vectors) Delete(ctx context.Context, memoryID, sector string) error {
	_, err := v.db.ExecContext(ctx, `DELETE FROM memory_vectors WHERE memory_id=$1 AND sector=$2`, memoryID, sector)
	return err
}

func (v *vectors) DeleteAllForID(ctx context.Context, memoryID string) error {
	_, err := v.db.ExecContext(ctx, `DELETE FROM memory_vectors WHERE memory_id=$1`, memoryID)
	return err
}

func (v *vectors) DeleteMany(ctx context.Context, memoryIDs []string) error {
	if len(memoryIDs) == 0 {
		return nil
	}
	_, err := v.db.ExecContext(ctx, `DELETE FROM memory_vectors WHERE memory_id = ANY($1::text[])`, pgTextArray(memoryIDs))
	return err
}

func (v *vectors) GetByID(ctx context.Context, memoryID string) ([]*model.VectorRecord, error) {
	rows, err := v.db.QueryContext(ctx, `
        SELECT memory_id, sector, owner, dim, embedding::text, metadata
        FROM memory_vectors WHERE memory_id=$1
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
	rows, err := v.db.QueryContext(ctx, `
        SELECT memory_id, sector, owner, dim, embedding::text, metadata
        FROM memory_vectors WHERE memory_id = ANY($1::text[])
    `, pgTextArray(memoryIDs))
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
		var emb sql.NullString
		var meta sql.NullString
		if err := rows.Scan(&rec.MemoryID, &rec.Sector, &rec.Owner, &rec.Dim, &emb, &meta); err != nil {
			return nil, err
		}
		if emb.Valid {
			vec, err := decodeVector(emb.String)
			if err != nil {
				return nil, err
			}
			rec.Embedding = vec
		}
		rec.Metadata = unmarshalMap(meta)
		out = append(out, &rec)
	}
	return out, rows.Err()
}

// SearchNative uses pgvector's cosine-distance operator. Similarity is
// reported as 1 - distance.
func (v *vectors) SearchNative(ctx context.Context, sector, owner string, query []float32, topK int, filter map[string]interface{}) ([]model.VectorMatch, error) {
	if topK <= 0 {
		return nil, nil
	}
	q := `
        SELECT memory_id, sector, 1 - (embedding <=> $1::vector) AS score
        FROM memory_vectors
        WHERE sector=$2 AND owner=$3`
	args := []interface{}{encodeVector(query), sector, owner}
	if len(filter) > 0 {
		q += ` AND metadata @> $4::jsonb`
		args = append(args, marshalJSON(filter))
		q += ` ORDER BY embedding <=> $1::vector LIMIT $5`
	} else {
		q += ` ORDER BY embedding <=> $1::vector LIMIT $4`
	}
	args = append(args, topK)

	rows, err := v.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []model.VectorMatch
	for rows.Next() {
		var m model.VectorMatch
		if err := rows.Scan(&m.MemoryID, &m.Sector, &m.Score); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (v *vectors) Iterate(ctx context.Context, sector, owner string, fn func(*model.VectorRecord) error) error {
	rows, err := v.db.QueryContext(ctx, `
        SELECT memory_id, sector, owner, dim, embedding::text, metadata
        FROM memory_vectors WHERE sector=$1 AND owner=$2
    `, sector, owner)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var rec model.VectorRecord
		var emb, meta sql.NullString
		if err := rows.Scan(&rec.MemoryID, &rec.Sector, &rec.Owner, &rec.Dim, &emb, &meta); err != nil {
			return err
		}
		if emb.Valid {
			vec, err := decodeVector(emb.String)
			if err != nil {
				return err
			}
			rec.Embedding = vec
		}
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
	_, err := v.db.ExecContext(ctx, `DELETE FROM memory_vectors WHERE owner=$1`, owner)
	return err
}

func (v *vectors) CleanupOrphans(ctx context.Context) (int64, error) {
	res, err := v.db.ExecContext(ctx, `
        DELETE FROM memory_vectors mv
        WHERE NOT EXISTS (SELECT 1 FROM memories m WHERE m.memory_id = mv.memory_id)
    `)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
