package sqlite

import (
	"context"
	"database/sql"
	"fmt"
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

// PutActive mirrors the postgres protocol without row locking; SQLite's
// single-writer transaction gives the same all-or-nothing guarantee.
func (s *facts) PutActive(ctx context.Context, f *model.TemporalFact) (*model.TemporalFact, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	active, err := scanFact(tx.QueryRowContext(ctx, `
        SELECT `+factColumns+` FROM temporal_facts
        WHERE owner=? AND subject=? AND predicate=? AND valid_to IS NULL
        ORDER BY valid_from DESC LIMIT 1
    `, f.Owner, f.Subject, f.Predicate))
	if err != nil && err != model.ErrNotFound {
		return nil, err
	}

	if active != nil && active.Object == f.Object {
		if _, err := tx.ExecContext(ctx, `
            UPDATE temporal_facts
            SET confidence=?, metadata=COALESCE(?, metadata), last_updated=?
            WHERE fact_id=?
        `, f.Confidence, marshalJSON(f.Metadata), now, active.ID); err != nil {
			return nil, err
		}
		out, err := scanFact(tx.QueryRowContext(ctx, `SELECT `+factColumns+` FROM temporal_facts WHERE fact_id=?`, active.ID))
		if err != nil {
			return nil, err
		}
		return out, tx.Commit()
	}

	// Close versions overlapping the new validFrom. An active row with a
	// later validFrom is left untouched: the incoming fact is then a late
	// arrival and enters as history, pre-closed at its successor's
	// validFrom, so the triplet keeps exactly one active row.
	if _, err := tx.ExecContext(ctx, `
        UPDATE temporal_facts
        SET valid_to=?, last_updated=?
        WHERE owner=? AND subject=? AND predicate=?
          AND valid_from <= ? AND (valid_to IS NULL OR valid_to >= ?)
    `, f.ValidFrom.UTC(), now, f.Owner, f.Subject, f.Predicate, f.ValidFrom.UTC(), f.ValidFrom.UTC()); err != nil {
		return nil, err
	}

	var validTo interface{}
	if active != nil && active.ValidFrom.After(f.ValidFrom) {
		validTo = active.ValidFrom.UTC()
	}
	if _, err := tx.ExecContext(ctx, `
        INSERT INTO temporal_facts (fact_id, owner, subject, predicate, object, valid_from, valid_to, confidence, last_updated, metadata)
        VALUES (?,?,?,?,?,?,?,?,?,?)
    `, f.ID, f.Owner, f.Subject, f.Predicate, f.Object, f.ValidFrom.UTC(), validTo, f.Confidence, now, marshalJSON(f.Metadata)); err != nil {
		return nil, err
	}
	out, err := scanFact(tx.QueryRowContext(ctx, `SELECT `+factColumns+` FROM temporal_facts WHERE fact_id=?`, f.ID))
	if err != nil {
		return nil, err
	}
	return out, tx.Commit()
}

func (s *facts) GetByID(ctx context.Context, owner, id string) (*model.TemporalFact, error) {
	return scanFact(s.db.QueryRowContext(ctx, `
        SELECT `+factColumns+` FROM temporal_facts WHERE owner=? AND fact_id=?
    `, owner, id))
}

func (s *facts) Delete(ctx context.Context, owner, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM temporal_facts WHERE owner=? AND fact_id=?`, owner, id)
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
        WHERE owner=? AND subject=? AND predicate=?
          AND valid_from <= ? AND (valid_to IS NULL OR valid_to >= ?)
        ORDER BY valid_from DESC LIMIT 1
    `, owner, subject, predicate, at.UTC(), at.UTC()))
}

func (s *facts) QueryAt(ctx context.Context, owner string, at time.Time, limit int) ([]*model.TemporalFact, error) {
	return s.queryFacts(ctx, `
        SELECT `+factColumns+` FROM temporal_facts
        WHERE owner=? AND valid_from <= ? AND (valid_to IS NULL OR valid_to >= ?)
        ORDER BY valid_from DESC LIMIT ?
    `, owner, at.UTC(), at.UTC(), limitOrDefault(limit))
}

func (s *facts) QueryRange(ctx context.Context, owner string, from, to time.Time, limit int) ([]*model.TemporalFact, error) {
	return s.queryFacts(ctx, `
        SELECT `+factColumns+` FROM temporal_facts
        WHERE owner=? AND valid_from <= ? AND (valid_to IS NULL OR valid_to >= ?)
        ORDER BY valid_from DESC LIMIT ?
    `, owner, to.UTC(), from.UTC(), limitOrDefault(limit))
}

func (s *facts) History(ctx context.Context, owner, subject, predicate string) ([]*model.TemporalFact, error) {
	return s.queryFacts(ctx, `
        SELECT `+factColumns+` FROM temporal_facts
        WHERE owner=? AND subject=? AND predicate=?
        ORDER BY valid_from ASC
    `, owner, subject, predicate)
}

func (s *facts) SearchPattern(ctx context.Context, owner, subject, predicate, object string, limit int) ([]*model.TemporalFact, error) {
	return s.queryFacts(ctx, `
        SELECT `+factColumns+` FROM temporal_facts
        WHERE owner=?
          AND subject LIKE ? ESCAPE '\'
          AND predicate LIKE ? ESCAPE '\'
          AND object LIKE ? ESCAPE '\'
        ORDER BY valid_from DESC LIMIT ?
    `, owner, subject, predicate, object, limitOrDefault(limit))
}

func (s *facts) ListActive(ctx context.Context, owner string) ([]*model.TemporalFact, error) {
	return s.queryFacts(ctx, `
        SELECT `+factColumns+` FROM temporal_facts
        WHERE owner=? AND valid_to IS NULL
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
        UPDATE temporal_facts SET confidence=?, last_updated=? WHERE fact_id=?
    `, confidence, at.UTC(), id)
	return err
}

// timestampLayouts covers the textual forms the driver writes timestamps
// in. An aggregate like MAX(valid_from) loses the column's declared type,
// so the value comes back as a string and must be parsed here.
var timestampLayouts = []string{
	"2006-01-02 15:04:05.999999999 -0700 MST", // time.Time.String, the driver's default bind format
	"2006-01-02 15:04:05.999999999-07:00",
	time.RFC3339Nano,
}

func parseTimestampText(s string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

func (s *facts) Volatility(ctx context.Context, owner string, limit int) ([]model.FactVolatility, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT subject, predicate, COUNT(*) AS change_count, AVG(confidence), MAX(valid_from)
        FROM temporal_facts
        WHERE owner=?
        GROUP BY subject, predicate
        ORDER BY change_count DESC, AVG(confidence) ASC
        LIMIT ?
    `, owner, limitOrDefault(limit))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []model.FactVolatility
	for rows.Next() {
		var v model.FactVolatility
		var lastChanged string
		if err := rows.Scan(&v.Subject, &v.Predicate, &v.ChangeCount, &v.AvgConfidence, &lastChanged); err != nil {
			return nil, err
		}
		if v.LastChanged, err = parseTimestampText(lastChanged); err != nil {
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
        WHERE owner=? AND source_id=? AND target_id=? AND relation_type=? AND valid_to IS NULL
        ORDER BY valid_from DESC LIMIT 1
    `, e.Owner, e.SourceID, e.TargetID, e.RelationType))
	if err != nil && err != model.ErrNotFound {
		return nil, err
	}

	if active != nil {
		if _, err := tx.ExecContext(ctx, `
            UPDATE temporal_edges SET weight=?, metadata=COALESCE(?, metadata) WHERE edge_id=?
        `, e.Weight, marshalJSON(e.Metadata), active.ID); err != nil {
			return nil, err
		}
		out, err := scanEdge(tx.QueryRowContext(ctx, `SELECT `+edgeColumns+` FROM temporal_edges WHERE edge_id=?`, active.ID))
		if err != nil {
			return nil, err
		}
		return out, tx.Commit()
	}

	if _, err := tx.ExecContext(ctx, `
        UPDATE temporal_edges
        SET valid_to=?
        WHERE owner=? AND source_id=? AND target_id=? AND relation_type=?
          AND valid_from <= ? AND (valid_to IS NULL OR valid_to >= ?)
    `, e.ValidFrom.UTC(), e.Owner, e.SourceID, e.TargetID, e.RelationType, e.ValidFrom.UTC(), e.ValidFrom.UTC()); err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `
        INSERT INTO temporal_edges (edge_id, owner, source_id, target_id, relation_type, valid_from, valid_to, weight, metadata)
        VALUES (?,?,?,?,?,?,NULL,?,?)
    `, e.ID, e.Owner, e.SourceID, e.TargetID, e.RelationType, e.ValidFrom.UTC(), e.Weight, marshalJSON(e.Metadata)); err != nil {
		return nil, err
	}
	out, err := scanEdge(tx.QueryRowContext(ctx, `SELECT `+edgeColumns+` FROM temporal_edges WHERE edge_id=?`, e.ID))
	if err != nil {
		return nil, err
	}
	return out, tx.Commit()
}

func (s *edges) GetByID(ctx context.Context, owner, id string) (*model.TemporalEdge, error) {
	return scanEdge(s.db.QueryRowContext(ctx, `
        SELECT `+edgeColumns+` FROM temporal_edges WHERE owner=? AND edge_id=?
    `, owner, id))
}

func (s *edges) Delete(ctx context.Context, owner, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM temporal_edges WHERE owner=? AND edge_id=?`, owner, id)
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
        WHERE owner=? AND source_id=? AND target_id=? AND relation_type=?
          AND valid_from <= ? AND (valid_to IS NULL OR valid_to >= ?)
        ORDER BY valid_from DESC LIMIT 1
    `, owner, source, target, relationType, at.UTC(), at.UTC()))
}

func (s *edges) QueryRange(ctx context.Context, owner string, from, to time.Time, limit int) ([]*model.TemporalEdge, error) {
	return s.queryEdges(ctx, `
        SELECT `+edgeColumns+` FROM temporal_edges
        WHERE owner=? AND valid_from <= ? AND (valid_to IS NULL OR valid_to >= ?)
        ORDER BY valid_from DESC LIMIT ?
    `, owner, to.UTC(), from.UTC(), limitOrDefault(limit))
}

func (s *edges) ListFrom(ctx context.Context, owner, sourceID string, at time.Time, limit int) ([]*model.TemporalEdge, error) {
	return s.queryEdges(ctx, `
        SELECT `+edgeColumns+` FROM temporal_edges
        WHERE owner=? AND source_id=?
          AND valid_from <= ? AND (valid_to IS NULL OR valid_to >= ?)
        ORDER BY weight DESC LIMIT ?
    `, owner, sourceID, at.UTC(), at.UTC(), limitOrDefault(limit))
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
