package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/engramdb/engram/internal/model"
)

type facts struct{ db *sql.DB }

const factColumns = `fact_id, owner, subject, predicate, object, valid_from, valid_to, confidence, last_updated, metadata`

func scanFact(sc interface{ Scan(...interface{}) error }) (*model.TemporalFact, error) {
	var f model.TemporalFact
	var validTo sql.NullTime
	var meta sql.NullString
	if err := sc.Scan(&f.ID, &f.Owner, &f.Subject, &f.Predicate, &f.Object,
		&f.ValidFrom, &validTo, &f.Confidence, &f.LastUpdated, &meta); err != nil {
		if err == sql.ErrNoRows {
			return nil, model.ErrNotFound
		}
		return nil, err
	}
	if validTo.Valid {
		t := validTo.Time
		f.ValidTo = &t
	}
	f.Metadata = unmarshalMap(meta)
	return &f, nil
}

// PutActive enforces the single-active-row invariant: at most one fact per
// (owner, subject, predicate) with valid_to IS NULL. The active row is
// locked before the decision so two concurrent writers cannot both insert.
func (s *facts) PutActive(ctx context.Context, f *model.TemporalFact) (*model.TemporalFact, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	active, err := scanFact(tx.QueryRowContext(ctx, `
        SELECT `+factColumns+` FROM temporal_facts
        WHERE owner=$1 AND subject=$2 AND predicate=$3 AND valid_to IS NULL
        ORDER BY valid_from DESC LIMIT 1
        FOR UPDATE
    `, f.Owner, f.Subject, f.Predicate))
	if err != nil && err != model.ErrNotFound {
		return nil, err
	}

	if active != nil && active.Object == f.Object {
		// Same statement restated: confirm rather than duplicate.
		row := tx.QueryRowContext(ctx, `
            UPDATE temporal_facts
            SET confidence=$1, metadata=COALESCE($2, metadata), last_updated=now()
            WHERE fact_id=$3
            RETURNING `+factColumns+`
        `, f.Confidence, marshalJSON(f.Metadata), active.ID)
		out, err := scanFact(row)
		if err != nil {
			return nil, err
		}
		return out, tx.Commit()
	}

	// Close every version whose validity window overlaps the new validFrom
	// (inclusive end-of-window), then insert. An active row with a later
	// validFrom is left untouched: the incoming fact is then a late arrival
	// and enters as history, pre-closed at its successor's validFrom, so
	// the triplet keeps exactly one active row.
	if _, err := tx.ExecContext(ctx, `
        UPDATE temporal_facts
        SET valid_to=$1, last_updated=now()
        WHERE owner=$2 AND subject=$3 AND predicate=$4
          AND valid_from <= $1 AND (valid_to IS NULL OR valid_to >= $1)
    `, f.ValidFrom.UTC(), f.Owner, f.Subject, f.Predicate); err != nil {
		return nil, err
	}

	var validTo interface{}
	if active != nil && active.ValidFrom.After(f.ValidFrom) {
		validTo = active.ValidFrom.UTC()
	}
	row := tx.QueryRowContext(ctx, `
        INSERT INTO temporal_facts (fact_id, owner, subject, predicate, object, valid_from, valid_to, confidence, metadata)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
        RETURNING `+factColumns+`
    `, f.ID, f.Owner, f.Subject, f.Predicate, f.Object, f.ValidFrom.UTC(), validTo, f.Confidence, marshalJSON(f.Metadata))
	out, err := scanFact(row)
	if err != nil {
		return nil, err
	}
	return out, tx.Commit()
}

func (s *facts) GetByID(ctx context.Context, owner, id string) (*model.TemporalFact, error) {
	return scanFact(s.db.QueryRowContext(ctx, `
        SELECT `+factColumns+` FROM temporal_facts WHERE owner=$1 AND fact_id=$2
    `, owner, id))
}

func (s *facts) Delete(ctx context.Context, owner, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM temporal_facts WHERE owner=$1 AND fact_id=$2`, owner, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.ErrNotFound
	}
	return nil
}

func (s *facts) ActiveAt(ctx context.Context, owner, subject, predicate string, at time.Time) (*model.TemporalFact, error) {
	return scanFact(s.db.QueryRowContext(ctx, `
        SELECT `+factColumns+` FROM temporal_facts
        WHERE owner=$1 AND subject=$2 AND predicate=$3
          AND valid_from <= $4 AND (valid_to IS NULL OR valid_to >= $4)
        ORDER BY valid_from DESC LIMIT 1
    `, owner, subject, predicate, at.UTC()))
}

func (s *facts) QueryAt(ctx context.Context, owner string, at time.Time, limit int) ([]*model.TemporalFact, error) {
	return s.queryFacts(ctx, `
        SELECT `+factColumns+` FROM temporal_facts
        WHERE owner=$1 AND valid_from <= $2 AND (valid_to IS NULL OR valid_to >= $2)
        ORDER BY valid_from DESC LIMIT $3
    `, owner, at.UTC(), limitOrDefault(limit))
}

func (s *facts) QueryRange(ctx context.Context, owner string, from, to time.Time, limit int) ([]*model.TemporalFact, error) {
	return s.queryFacts(ctx, `
        SELECT `+factColumns+` FROM temporal_facts
        WHERE owner=$1 AND valid_from <= $3 AND (valid_to IS NULL OR valid_to >= $2)
        ORDER BY valid_from DESC LIMIT $4
    `, owner, from.UTC(), to.UTC(), limitOrDefault(limit))
}

func (s *facts) History(ctx context.Context, owner, subject, predicate string) ([]*model.TemporalFact, error) {
	return s.queryFacts(ctx, `
        SELECT `+factColumns+` FROM temporal_facts
        WHERE owner=$1 AND subject=$2 AND predicate=$3
        ORDER BY valid_from ASC
    `, owner, subject, predicate)
}

func (s *facts) SearchPattern(ctx context.Context, owner, subject, predicate, object string, limit int) ([]*model.TemporalFact, error) {
	return s.queryFacts(ctx, `
        SELECT `+factColumns+` FROM temporal_facts
        WHERE owner=$1
          AND subject LIKE $2 ESCAPE '\'
          AND predicate LIKE $3 ESCAPE '\'
          AND object LIKE $4 ESCAPE '\'
        ORDER BY valid_from DESC LIMIT $5
    `, owner, subject, predicate, object, limitOrDefault(limit))
}

func (s *facts) ListActive(ctx context.Context, owner string) ([]*model.TemporalFact, error) {
	return s.queryFacts(ctx, `
        SELECT `+factColumns+` FROM temporal_facts
        WHERE owner=$1 AND valid_to IS NULL
        ORDER BY last_updated ASC
    `, owner)
}

func (s *facts) AllActive(ctx context.Context) ([]*model.TemporalFact, error) {
	return s.queryFacts(ctx, `
        SELECT `+factColumns+` FROM temporal_facts
        WHERE valid_to IS NULL
        ORDER BY last_updated ASC
    `)
}

func (s *facts) UpdateConfidence(ctx context.Context, id string, confidence float64, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
        UPDATE temporal_facts SET confidence=$1, last_updated=$2 WHERE fact_id=$3
    `, confidence, at.UTC(), id)
	return err
}

func (s *facts) Volatility(ctx context.Context, owner string, limit int) ([]model.FactVolatility, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT subject, predicate, COUNT(*) AS change_count, AVG(confidence), MAX(valid_from)
        FROM temporal_facts
        WHERE owner=$1
        GROUP BY subject, predicate
        ORDER BY change_count DESC, AVG(confidence) ASC
        LIMIT $2
    `, owner, limitOrDefault(limit))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []model.FactVolatility
	for rows.Next() {
		var v model.FactVolatility
		if err := rows.Scan(&v.Subject, &v.Predicate, &v.ChangeCount, &v.AvgConfidence, &v.LastChanged); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *facts) queryFacts(ctx context.Context, q string, args ...interface{}) ([]*model.TemporalFact, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []*model.TemporalFact
	for rows.Next() {
		f, err := scanFact(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func limitOrDefault(limit int) int {
	if limit <= 0 {
		return 100
	}
	return limit
}

// --- Edges ---

type edges struct{ db *sql.DB }

const edgeColumns = `edge_id, owner, source_id, target_id, relation_type, valid_from, valid_to, weight, metadata`

func scanEdge(sc interface{ Scan(...interface{}) error }) (*model.TemporalEdge, error) {
	var e model.TemporalEdge
	var validTo sql.NullTime
	var meta sql.NullString
	if err := sc.Scan(&e.ID, &e.Owner, &e.SourceID, &e.TargetID, &e.RelationType,
		&e.ValidFrom, &validTo, &e.Weight, &meta); err != nil {
		if err == sql.ErrNoRows {
			return nil, model.ErrNotFound
		}
		return nil, err
	}
	if validTo.Valid {
		t := validTo.Time
		e.ValidTo = &t
	}
	e.Metadata = unmarshalMap(meta)
	return &e, nil
}

func (s *edges) PutActive(ctx context.Context, e *model.TemporalEdge) (*model.TemporalEdge, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	active, err := scanEdge(tx.QueryRowContext(ctx, `
        SELECT `+edgeColumns+` FROM temporal_edges
        WHERE owner=$1 AND source_id=$2 AND target_id=$3 AND relation_type=$4 AND valid_to IS NULL
        ORDER BY valid_from DESC LIMIT 1
        FOR UPDATE
    `, e.Owner, e.SourceID, e.TargetID, e.RelationType))
	if err != nil && err != model.ErrNotFound {
		return nil, err
	}

	if active != nil {
		row := tx.QueryRowContext(ctx, `
            UPDATE temporal_edges
            SET weight=$1, metadata=COALESCE($2, metadata)
            WHERE edge_id=$3
            RETURNING `+edgeColumns+`
        `, e.Weight, marshalJSON(e.Metadata), active.ID)
		out, err := scanEdge(row)
		if err != nil {
			return nil, err
		}
		return out, tx.Commit()
	}

	if _, err := tx.ExecContext(ctx, `
        UPDATE temporal_edges
        SET valid_to=$1
        WHERE owner=$2 AND source_id=$3 AND target_id=$4 AND relation_type=$5
          AND valid_from <= $1 AND (valid_to IS NULL OR valid_to >= $1)
    `, e.ValidFrom.UTC(), e.Owner, e.SourceID, e.TargetID, e.RelationType); err != nil {
		return nil, err
	}

	row := tx.QueryRowContext(ctx, `
        INSERT INTO temporal_edges (edge_id, owner, source_id, target_id, relation_type, valid_from, valid_to, weight, metadata)
        VALUES ($1,$2,$3,$4,$5,$6,NULL,$7,$8)
        RETURNING `+edgeColumns+`
    `, e.ID, e.Owner, e.SourceID, e.TargetID, e.RelationType, e.ValidFrom.UTC(), e.Weight, marshalJSON(e.Metadata))
	out, err := scanEdge(row)
	if err != nil {
		return nil, err
	}
	return out, tx.Commit()
}

func (s *edges) GetByID(ctx context.Context, owner, id string) (*model.TemporalEdge, error) {
	return scanEdge(s.db.QueryRowContext(ctx, `
        SELECT `+edgeColumns+` FROM temporal_edges WHERE owner=$1 AND edge_id=$2
    `, owner, id))
}

func (s *edges) Delete(ctx context.Context, owner, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM temporal_edges WHERE owner=$1 AND edge_id=$2`, owner, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.ErrNotFound
	}
	return nil
}

func (s *edges) ActiveAt(ctx context.Context, owner, source, target, relationType string, at time.Time) (*model.TemporalEdge, error) {
	return scanEdge(s.db.QueryRowContext(ctx, `
        SELECT `+edgeColumns+` FROM temporal_edges
        WHERE owner=$1 AND source_id=$2 AND target_id=$3 AND relation_type=$4
          AND valid_from <= $5 AND (valid_to IS NULL OR valid_to >= $5)
        ORDER BY valid_from DESC LIMIT 1
    `, owner, source, target, relationType, at.UTC()))
}

func (s *edges) QueryRange(ctx context.Context, owner string, from, to time.Time, limit int) ([]*model.TemporalEdge, error) {
	return s.queryEdges(ctx, `
        SELECT `+edgeColumns+` FROM temporal_edges
        WHERE owner=$1 AND valid_from <= $3 AND (valid_to IS NULL OR valid_to >= $2)
        ORDER BY valid_from DESC LIMIT $4
    `, owner, from.UTC(), to.UTC(), limitOrDefault(limit))
}

func (s *edges) ListFrom(ctx context.Context, owner, sourceID string, at time.Time, limit int) ([]*model.TemporalEdge, error) {
	return s.queryEdges(ctx, `
        SELECT `+edgeColumns+` FROM temporal_edges
        WHERE owner=$1 AND source_id=$2
          AND valid_from <= $3 AND (valid_to IS NULL OR valid_to >= $3)
        ORDER BY weight DESC LIMIT $4
    `, owner, sourceID, at.UTC(), limitOrDefault(limit))
}

func (s *edges) queryEdges(ctx context.Context, q string, args ...interface{}) ([]*model.TemporalEdge, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []*model.TemporalEdge
	for rows.Next() {
		e, err := scanEdge(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
