// Package sqlite provides the embedded store driver backed by
// modernc.org/sqlite. It declares no native vector search or row locking,
// which exercises the engine's fallback scan and lock-free paths.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"

	_ "modernc.org/sqlite"

	"github.com/engramdb/engram/internal/store"
)

// Open opens (or creates) a SQLite database and applies the schema.
// Use ":memory:" for tests.
func Open(path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	dsn := path
	if path != ":memory:" {
		// WAL keeps readers unblocked during maintenance writes.
		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// The in-memory database vanishes per connection; keep a single one.
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}
	if err := ensureSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// NewWithDB constructs a sqlite store over an existing connection.
func NewWithDB(db *sql.DB) store.Store { return &sqliteStore{db: db} }

// New opens the database at path and returns the store.
func New(path string) (store.Store, error) {
	db, err := Open(path)
	if err != nil {
		return nil, err
	}
	return NewWithDB(db), nil
}

type sqliteStore struct{ db *sql.DB }

func (s *sqliteStore) Memories() store.Memories   { return &memories{db: s.db} }
func (s *sqliteStore) Vectors() store.Vectors     { return &vectors{db: s.db} }
func (s *sqliteStore) Waypoints() store.Waypoints { return &waypoints{db: s.db} }
func (s *sqliteStore) Facts() store.Facts         { return &facts{db: s.db} }
func (s *sqliteStore) Edges() store.Edges         { return &edges{db: s.db} }

func (s *sqliteStore) Capabilities() store.Capabilities {
	return store.Capabilities{
		NativeVectorSearch: false,
		RowLocking:         false,
		JSONContainment:    false,
	}
}

func (s *sqliteStore) HealthPing(ctx context.Context) error { return s.db.PingContext(ctx) }
func (s *sqliteStore) Close() error                         { return s.db.Close() }

func ensureSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS memories (
            memory_id          TEXT PRIMARY KEY,
            owner              TEXT NOT NULL DEFAULT '',
            content            TEXT NOT NULL,
            primary_sector     TEXT NOT NULL,
            additional_sectors TEXT,
            tags               TEXT,
            metadata           TEXT,
            salience           REAL NOT NULL,
            decay_rate         REAL NOT NULL,
            summary            TEXT,
            key_version        INTEGER,
            version            INTEGER NOT NULL DEFAULT 1,
            created_at         TIMESTAMP NOT NULL,
            updated_at         TIMESTAMP NOT NULL,
            last_seen_at       TIMESTAMP NOT NULL
        )`,
		`CREATE INDEX IF NOT EXISTS idx_memories_owner ON memories(owner)`,
		`CREATE TABLE IF NOT EXISTS memory_vectors (
            memory_id TEXT NOT NULL,
            sector    TEXT NOT NULL,
            owner     TEXT NOT NULL DEFAULT '',
            dim       INTEGER NOT NULL,
            embedding BLOB,
            metadata  TEXT,
            PRIMARY KEY (memory_id, sector)
        )`,
		`CREATE INDEX IF NOT EXISTS idx_vectors_sector_owner ON memory_vectors(sector, owner)`,
		`CREATE TABLE IF NOT EXISTS memory_waypoints (
            source_id  TEXT NOT NULL,
            target_id  TEXT NOT NULL,
            owner      TEXT NOT NULL DEFAULT '',
            weight     REAL NOT NULL,
            created_at TIMESTAMP NOT NULL,
            updated_at TIMESTAMP NOT NULL,
            PRIMARY KEY (source_id, target_id, owner)
        )`,
		`CREATE TABLE IF NOT EXISTS temporal_facts (
            fact_id      TEXT PRIMARY KEY,
            owner        TEXT NOT NULL DEFAULT '',
            subject      TEXT NOT NULL,
            predicate    TEXT NOT NULL,
            object       TEXT NOT NULL,
            valid_from   TIMESTAMP NOT NULL,
            valid_to     TIMESTAMP,
            confidence   REAL NOT NULL,
            last_updated TIMESTAMP NOT NULL,
            metadata     TEXT
        )`,
		`CREATE INDEX IF NOT EXISTS idx_facts_triplet ON temporal_facts(owner, subject, predicate)`,
		`CREATE TABLE IF NOT EXISTS temporal_edges (
            edge_id       TEXT PRIMARY KEY,
            owner         TEXT NOT NULL DEFAULT '',
            source_id     TEXT NOT NULL,
            target_id     TEXT NOT NULL,
            relation_type TEXT NOT NULL,
            valid_from    TIMESTAMP NOT NULL,
            valid_to      TIMESTAMP,
            weight        REAL NOT NULL,
            metadata      TEXT
        )`,
		`CREATE INDEX IF NOT EXISTS idx_edges_key ON temporal_edges(owner, source_id, target_id, relation_type)`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
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
	return string(b)
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

// encodeVector packs float32s little-endian into a BLOB.
func encodeVector(v []float32) []byte {
	out := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(f))
	}
	return out
}

func decodeVector(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	s := "?"
	for i := 1; i < n; i++ {
		s += ",?"
	}
	return s
}

func toInterfaces(items []string) []interface{} {
	out := make([]interface{}, len(items))
	for i, s := range items {
		out[i] = s
	}
	return out
}
