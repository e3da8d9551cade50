// Package store defines the persistence contract the engine runs against.
// Implementations live under internal/store/<driver>/ (postgres, sqlite).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/engramdb/engram/internal/model"
)

// ErrNativeSearchUnsupported is returned by Vectors.SearchNative on backends
// without an ordered vector-distance operator.
var ErrNativeSearchUnsupported = errors.New("native vector search unsupported")

// Capabilities declares what the backing database can do. The vector store
// selects its search strategy from these flags at construction time.
type Capabilities struct {
	// NativeVectorSearch is true when the backend exposes an ordered
	// vector-distance operator (pgvector). When false, callers fall back
	// to the streaming linear scan.
	NativeVectorSearch bool
	// RowLocking is true when SELECT ... FOR UPDATE is available.
	RowLocking bool
	// JSONContainment is true when metadata filters can be pushed into the
	// query (JSONB @>). Otherwise filters are applied during the scan.
	JSONContainment bool
}

// Store exposes persistence operations required by the engine.
type Store interface {
	Memories() Memories
	Vectors() Vectors
	Waypoints() Waypoints
	Facts() Facts
	Edges() Edges

	Capabilities() Capabilities
	HealthPing(ctx context.Context) error
	Close() error
}

type Memories interface {
	Insert(ctx context.Context, m *model.MemoryItem) (*model.MemoryItem, error)
	GetByID(ctx context.Context, owner, id string) (*model.MemoryItem, error)
	GetMany(ctx context.Context, ids []string) ([]*model.MemoryItem, error)
	// Update persists all mutable fields and bumps Version by one.
	Update(ctx context.Context, m *model.MemoryItem) (*model.MemoryItem, error)
	// Delete removes the memory plus its vectors and waypoint edges in one
	// transaction.
	Delete(ctx context.Context, owner, id string) error
	List(ctx context.Context, owner string, limit int) ([]*model.MemoryItem, error)
	Count(ctx context.Context) (int64, error)
	// ListSegment pages through all memories in stable id order; used by the
	// consolidation pass.
	ListSegment(ctx context.Context, offset, limit int) ([]*model.MemoryItem, error)
	TouchLastSeen(ctx context.Context, id string, at time.Time) error
	UpdateSalienceBatch(ctx context.Context, updates []model.SalienceUpdate) error
}

type Vectors interface {
	// Upsert writes one vector on the (memory_id, sector) natural key.
	Upsert(ctx context.Context, rec *model.VectorRecord) error
	// UpsertMany chunks writes to respect parameter-count limits and runs
	// each chunk in a transaction.
	UpsertMany(ctx context.Context, recs []*model.VectorRecord) error
	Delete(ctx context.Context, memoryID, sector string) error
	DeleteAllForID(ctx context.Context, memoryID string) error
	DeleteMany(ctx context.Context, memoryIDs []string) error
	// GetByID returns every sector vector stored for the memory.
	GetByID(ctx context.Context, memoryID string) ([]*model.VectorRecord, error)
	GetMany(ctx context.Context, memoryIDs []string) (map[string][]*model.VectorRecord, error)
	// SearchNative performs an ordered-distance query and returns matches by
	// descending similarity. Only valid when Capabilities().NativeVectorSearch.
	SearchNative(ctx context.Context, sector, owner string, query []float32, topK int, filter map[string]interface{}) ([]model.VectorMatch, error)
	// Iterate streams rows for the sector/owner without materializing them,
	// invoking fn per record until exhaustion or fn returns an error.
	Iterate(ctx context.Context, sector, owner string, fn func(*model.VectorRecord) error) error
	IterateIDs(ctx context.Context, fn func(memoryID string) error) error
	DeleteByOwner(ctx context.Context, owner string) error
	// CleanupOrphans deletes vectors whose memory row no longer exists and
	// returns the number removed.
	CleanupOrphans(ctx context.Context) (int64, error)
}

type Waypoints interface {
	// Upsert adds delta to the edge weight, creating the edge when absent.
	Upsert(ctx context.Context, src, dst, owner string, delta float64) error
	UpsertMany(ctx context.Context, edges []*model.Waypoint) error
	Neighbors(ctx context.Context, src, owner string, limit int) ([]*model.Waypoint, error)
	DeleteFor(ctx context.Context, memoryID string) error
	// Prune removes edges whose weight fell below floor.
	Prune(ctx context.Context, floor float64) (int64, error)
	// SweepOrphans removes edges with a missing endpoint memory.
	SweepOrphans(ctx context.Context) (int64, error)
}

type Facts interface {
	// PutActive runs the find-active / extend / close-overlapping / insert
	// protocol as a single atomic unit and returns the stored row.
	PutActive(ctx context.Context, f *model.TemporalFact) (*model.TemporalFact, error)
	GetByID(ctx context.Context, owner, id string) (*model.TemporalFact, error)
	Delete(ctx context.Context, owner, id string) error
	// ActiveAt returns the single fact valid at the instant, ties broken by
	// most recent validFrom.
	ActiveAt(ctx context.Context, owner, subject, predicate string, at time.Time) (*model.TemporalFact, error)
	QueryAt(ctx context.Context, owner string, at time.Time, limit int) ([]*model.TemporalFact, error)
	QueryRange(ctx context.Context, owner string, from, to time.Time, limit int) ([]*model.TemporalFact, error)
	History(ctx context.Context, owner, subject, predicate string) ([]*model.TemporalFact, error)
	// SearchPattern matches subject/predicate/object with SQL LIKE patterns;
	// callers are responsible for wildcard escaping of user input.
	SearchPattern(ctx context.Context, owner, subject, predicate, object string, limit int) ([]*model.TemporalFact, error)
	ListActive(ctx context.Context, owner string) ([]*model.TemporalFact, error)
	// AllActive returns active facts across every owner, oldest update
	// first; used by the confidence-decay task.
	AllActive(ctx context.Context) ([]*model.TemporalFact, error)
	UpdateConfidence(ctx context.Context, id string, confidence float64, at time.Time) error
	Volatility(ctx context.Context, owner string, limit int) ([]model.FactVolatility, error)
}

type Edges interface {
	// PutActive applies the same close-then-insert protocol as facts, keyed
	// by (source, target, relationType, owner).
	PutActive(ctx context.Context, e *model.TemporalEdge) (*model.TemporalEdge, error)
	GetByID(ctx context.Context, owner, id string) (*model.TemporalEdge, error)
	Delete(ctx context.Context, owner, id string) error
	ActiveAt(ctx context.Context, owner, source, target, relationType string, at time.Time) (*model.TemporalEdge, error)
	QueryRange(ctx context.Context, owner string, from, to time.Time, limit int) ([]*model.TemporalEdge, error)
	ListFrom(ctx context.Context, owner, sourceID string, at time.Time, limit int) ([]*model.TemporalEdge, error)
}
