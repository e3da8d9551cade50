package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/engramdb/engram/internal/store"
)

// Open opens a PostgreSQL connection using the pgx stdlib driver and verifies connectivity.
func Open(dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres DSN is empty")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// NewWithDB constructs a Postgres store backed directly by database/sql.
func NewWithDB(db *sql.DB) store.Store { return &pgStore{db: db} }

type pgStore struct{ db *sql.DB }

func (s *pgStore) Memories() store.Memories   { return &memories{db: s.db} }
func (s *pgStore) Vectors() store.Vectors     { return &vectors{db: s.db} }
func (s *pgStore) Waypoints() store.Waypoints { return &waypoints{db: s.db} }
func (s *pgStore) Facts() store.Facts         { return &facts{db: s.db} }
func (s *pgStore) Edges() store.Edges         { return &edges{db: s.db} }

func (s *pgStore) Capabilities() store.Capabilities {
	return store.Capabilities{
		NativeVectorSearch: true,
		RowLocking:         true,
		JSONContainment:    true,
	}
}

func (s *pgStore) HealthPing(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *pgStore) Close() error { return s.db.Close() }

// EnsureSchema creates all engine tables when absent. The pgvector extension
// must be installable by the connecting role; ordered-distance search uses
// the cosine operator on the embedding column.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		`CREATE TABLE IF NOT EXISTS memories (
            memory_id          TEXT PRIMARY KEY,
            owner              TEXT NOT NULL DEFAULT '',
            content            TEXT NOT NULL,
            primary_sector     TEXT NOT NULL,
            additional_sectors JSONB,
            tags               JSONB,
            metadata           JSONB,
            salience           DOUBLE PRECISION NOT NULL,
            decay_rate         DOUBLE PRECISION NOT NULL,
            summary            TEXT,
            key_version        INT,
            version            BIGINT NOT NULL DEFAULT 1,
            created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
            updated_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
            last_seen_at       TIMESTAMPTZ NOT NULL DEFAULT now()
        )`,
		`CREATE INDEX IF NOT EXISTS idx_memories_owner ON memories(owner)`,
		`CREATE TABLE IF NOT EXISTS memory_vectors (
            memory_id TEXT NOT NULL,
            sector    TEXT NOT NULL,
            owner     TEXT NOT NULL DEFAULT '',
            dim       INT NOT NULL,
            embedding VECTOR,
            metadata  JSONB,
            PRIMARY KEY (memory_id, sector)
        )`,
		`CREATE INDEX IF NOT EXISTS idx_vectors_sector_owner ON memory_vectors(sector, owner)`,
		`CREATE TABLE IF NOT EXISTS memory_waypoints (
            source_id  TEXT NOT NULL,
            target_id  TEXT NOT NULL,
            owner      TEXT NOT NULL DEFAULT '',
            weight     DOUBLE PRECISION NOT NULL,
            created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
            updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
            PRIMARY KEY (source_id, target_id, owner)
        )`,
		`CREATE TABLE IF NOT EXISTS temporal_facts (
            fact_id      TEXT PRIMARY KEY,
            owner        TEXT NOT NULL DEFAULT '',
            subject      TEXT NOT NULL,
            predicate    TEXT NOT NULL,
            object       TEXT NOT NULL,
            valid_from   TIMESTAMPTZ NOT NULL,
            valid_to     TIMESTAMPTZ,
            confidence   DOUBLE PRECISION NOT NULL,
            last_updated TIMESTAMPTZ NOT NULL DEFAULT now(),
            metadata     JSONB
        )`,
		`CREATE INDEX IF NOT EXISTS idx_facts_triplet ON temporal_facts(owner, subject, predicate)`,
		`CREATE TABLE IF NOT EXISTS temporal_edges (
            edge_id       TEXT PRIMARY KEY,
            owner         TEXT NOT NULL DEFAULT '',
            source_id     TEXT NOT NULL,
            target_id     TEXT NOT NULL,
            relation_type TEXT NOT NULL,
            valid_from    TIMESTAMPTZ NOT NULL,
            valid_to      TIMESTAMPTZ,
            weight        DOUBLE PRECISION NOT NULL,
            metadata      JSONB
        )`,
		`CREATE INDEX IF NOT EXISTS idx_edges_key ON temporal_edges(owner, source_id, target_id, relation_type)`,
	}
	for _, s := range stmts {
		if _, err := db.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// --- shared helpers ---

func marshalJSON(v interface{}) interface{} {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil || string(b) == "null" {
		return nil
	}
	return b
}

func unmarshalMap(s sql.NullString) map[string]interface{} {
	if !s.Valid || s.String == "" {
		return nil
	}
	var m map[string]interface{}
	_ = json.Unmarshal([]byte(s.String), &m)
	return m
}

func unmarshalStrings(s sql.NullString) []string {
	if !s.Valid || s.String == "" {
		return nil
	}
	var out []string
	_ = json.Unmarshal([]byte(s.String), &out)
	return out
}

// pgTextArray renders a Postgres text[] literal for use with $n::text[].
func pgTextArray(items []string) string {
	var b strings.Builder
	b.WriteByte('{')
	for i, s := range items {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteByte('"')
		b.WriteString(strings.ReplaceAll(strings.ReplaceAll(s, `\`, `\\`), `"`, `\"`))
		b.WriteByte('"')
	}
	b.WriteByte('}')
	return b.String()
}

// encodeVector renders a float32 slice in pgvector's text format.
func encodeVector(v []float32) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(f), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}

func decodeVector(s string) ([]float32, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "[")
	s = strings.TrimSuffix(s, "]")
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]float32, len(parts))
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return nil, fmt.Errorf("decode vector element %d: %w", i, err)
		}
		out[i] = float32(f)
	}
	return out, nil
}
