package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/engramdb/engram/internal/model"
	"github.com/engramdb/engram/internal/store"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := New(":memory:")
	if err != nil {
		t.Fatalf("open memory db: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func seedMemory(t *testing.T, st store.Store, id, owner string) *model.MemoryItem {
	t.Helper()
	m, err := st.Memories().Insert(context.Background(), &model.MemoryItem{
		ID:            id,
		Owner:         owner,
		Content:       "content of " + id,
		PrimarySector: "semantic",
		Tags:          []string{"test"},
		Salience:      0.8,
		DecayRate:     1.0,
	})
	if err != nil {
		t.Fatalf("insert memory: %v", err)
	}
	return m
}

func TestMemoryCRUD(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	created := seedMemory(t, st, "m1", "alice")
	if created.Version != 1 {
		t.Fatalf("expected version 1, got %d", created.Version)
	}

	got, err := st.Memories().GetByID(ctx, "alice", "m1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Content != "content of m1" || got.PrimarySector != "semantic" {
		t.Fatalf("round-trip mismatch: %+v", got)
	}
	if len(got.Tags) != 1 || got.Tags[0] != "test" {
		t.Fatalf("tags round-trip mismatch: %+v", got.Tags)
	}

	got.Content = "updated"
	updated, err := st.Memories().Update(ctx, got)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Version != 2 {
		t.Fatalf("expected version bump to 2, got %d", updated.Version)
	}

	if err := st.Memories().Delete(ctx, "alice", "m1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := st.Memories().GetByID(ctx, "alice", "m1"); err != model.ErrNotFound {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestMemoryDelete_CascadesVectorsAndWaypoints(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	seedMemory(t, st, "m1", "")
	seedMemory(t, st, "m2", "")

	if err := st.Vectors().Upsert(ctx, &model.VectorRecord{
		MemoryID: "m1", Sector: "semantic", Dim: 3, Embedding: []float32{1, 0, 0},
	}); err != nil {
		t.Fatalf("upsert vector: %v", err)
	}
	if err := st.Waypoints().Upsert(ctx, "m1", "m2", "", 0.5); err != nil {
		t.Fatalf("upsert waypoint: %v", err)
	}

	if err := st.Memories().Delete(ctx, "", "m1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	recs, err := st.Vectors().GetByID(ctx, "m1")
	if err != nil {
		t.Fatalf("get vectors: %v", err)
	}
	if len(recs) != 0 {
		t.Fatalf("expected vectors removed with memory, got %d", len(recs))
	}
	nbrs, err := st.Waypoints().Neighbors(ctx, "m1", "", 0)
	if err != nil {
		t.Fatalf("neighbors: %v", err)
	}
	if len(nbrs) != 0 {
		t.Fatalf("expected waypoints removed with memory, got %d", len(nbrs))
	}
}

func TestVectorUpsert_Idempotent(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	seedMemory(t, st, "m1", "")

	rec := &model.VectorRecord{MemoryID: "m1", Sector: "semantic", Dim: 3, Embedding: []float32{0.1, 0.2, 0.3}}
	if err := st.Vectors().Upsert(ctx, rec); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	if err := st.Vectors().Upsert(ctx, rec); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	recs, err := st.Vectors().GetByID(ctx, "m1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("expected one stored row after duplicate upsert, got %d", len(recs))
	}
	got := recs[0].Embedding
	want := []float32{0.1, 0.2, 0.3}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("round-trip mismatch at %d: got %v want %v", i, got, want)
		}
	}
}

func TestVectorIterate_StreamsSectorRows(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	for _, id := range []string{"a", "b", "c"} {
		seedMemory(t, st, id, "")
		if err := st.Vectors().Upsert(ctx, &model.VectorRecord{
			MemoryID: id, Sector: "semantic", Dim: 2, Embedding: []float32{1, 2},
		}); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}
	var seen int
	err := st.Vectors().Iterate(ctx, "semantic", "", func(rec *model.VectorRecord) error {
		seen++
		if len(rec.Embedding) != 2 {
			t.Fatalf("bad embedding: %v", rec.Embedding)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("iterate: %v", err)
	}
	if seen != 3 {
		t.Fatalf("expected 3 rows, saw %d", seen)
	}
}

func TestVectorSearchNative_Unsupported(t *testing.T) {
	st := newTestStore(t)
	_, err := st.Vectors().SearchNative(context.Background(), "semantic", "", []float32{1}, 5, nil)
	if err != store.ErrNativeSearchUnsupported {
		t.Fatalf("expected ErrNativeSearchUnsupported, got %v", err)
	}
}

func TestVectorCleanupOrphans(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	seedMemory(t, st, "kept", "")
	if err := st.Vectors().Upsert(ctx, &model.VectorRecord{MemoryID: "kept", Sector: "semantic", Dim: 1, Embedding: []float32{1}}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	// Orphan: vector without a memory row.
	if err := st.Vectors().Upsert(ctx, &model.VectorRecord{MemoryID: "ghost", Sector: "semantic", Dim: 1, Embedding: []float32{1}}); err != nil {
		t.Fatalf("upsert orphan: %v", err)
	}
	n, err := st.Vectors().CleanupOrphans(ctx)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 orphan removed, got %d", n)
	}
}

func TestWaypointUpsert_AccumulatesWeight(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	seedMemory(t, st, "m1", "")
	seedMemory(t, st, "m2", "")

	if err := st.Waypoints().Upsert(ctx, "m1", "m2", "", 0.3); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := st.Waypoints().Upsert(ctx, "m1", "m2", "", 0.2); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	nbrs, err := st.Waypoints().Neighbors(ctx, "m1", "", 0)
	if err != nil {
		t.Fatalf("neighbors: %v", err)
	}
	if len(nbrs) != 1 {
		t.Fatalf("expected single edge per (src,dst,owner), got %d", len(nbrs))
	}
	if nbrs[0].Weight < 0.49 || nbrs[0].Weight > 0.51 {
		t.Fatalf("expected accumulated weight 0.5, got %f", nbrs[0].Weight)
	}
}

func TestWaypointNeighbors_OrderedByWeight(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	for _, id := range []string{"src", "w1", "w2", "w3"} {
		seedMemory(t, st, id, "")
	}
	_ = st.Waypoints().Upsert(ctx, "src", "w1", "", 0.1)
	_ = st.Waypoints().Upsert(ctx, "src", "w2", "", 0.9)
	_ = st.Waypoints().Upsert(ctx, "src", "w3", "", 0.5)

	nbrs, err := st.Waypoints().Neighbors(ctx, "src", "", 2)
	if err != nil {
		t.Fatalf("neighbors: %v", err)
	}
	if len(nbrs) != 2 || nbrs[0].TargetID != "w2" || nbrs[1].TargetID != "w3" {
		t.Fatalf("expected weight-descending order [w2 w3], got %+v", nbrs)
	}
}

func TestFactPutActive_SingleActiveInvariant(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	first, err := st.Facts().PutActive(ctx, &model.TemporalFact{
		ID: uuid.New().String(), Subject: "Alice", Predicate: "works_at", Object: "TechCorp",
		ValidFrom: base, Confidence: 0.9,
	})
	if err != nil {
		t.Fatalf("first put: %v", err)
	}
	if first.ValidTo != nil {
		t.Fatalf("first fact should be active")
	}

	second, err := st.Facts().PutActive(ctx, &model.TemporalFact{
		ID: uuid.New().String(), Subject: "Alice", Predicate: "works_at", Object: "NewCorp",
		ValidFrom: base.AddDate(0, 6, 0), Confidence: 0.9,
	})
	if err != nil {
		t.Fatalf("second put: %v", err)
	}
	if second.ValidTo != nil {
		t.Fatalf("second fact should be active")
	}

	history, err := st.Facts().History(ctx, "", "Alice", "works_at")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 versions, got %d", len(history))
	}
	var active int
	for _, f := range history {
		if f.ValidTo == nil {
			active++
		}
	}
	if active != 1 {
		t.Fatalf("expected exactly one active fact, got %d", active)
	}
	if history[0].ValidTo == nil || !history[0].ValidTo.Equal(second.ValidFrom) {
		t.Fatalf("prior fact should be closed at new validFrom, got %v", history[0].ValidTo)
	}
}

func TestFactPutActive_SameObjectConfirms(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	first, err := st.Facts().PutActive(ctx, &model.TemporalFact{
		ID: uuid.New().String(), Subject: "Alice", Predicate: "works_at", Object: "TechCorp",
		ValidFrom: base, Confidence: 0.5,
	})
	if err != nil {
		t.Fatalf("first put: %v", err)
	}
	second, err := st.Facts().PutActive(ctx, &model.TemporalFact{
		ID: uuid.New().String(), Subject: "Alice", Predicate: "works_at", Object: "TechCorp",
		ValidFrom: base.AddDate(0, 1, 0), Confidence: 0.95,
	})
	if err != nil {
		t.Fatalf("second put: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("restating the same object should confirm the existing row, got new id")
	}
	if second.Confidence != 0.95 {
		t.Fatalf("expected confidence updated to 0.95, got %f", second.Confidence)
	}
	history, _ := st.Facts().History(ctx, "", "Alice", "works_at")
	if len(history) != 1 {
		t.Fatalf("expected single row, got %d", len(history))
	}
}

func TestFactActiveAt_BoundaryInclusive(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cut := base.AddDate(0, 6, 0)

	_, err := st.Facts().PutActive(ctx, &model.TemporalFact{
		ID: uuid.New().String(), Subject: "s", Predicate: "p", Object: "o1",
		ValidFrom: base, Confidence: 1,
	})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	_, err = st.Facts().PutActive(ctx, &model.TemporalFact{
		ID: uuid.New().String(), Subject: "s", Predicate: "p", Object: "o2",
		ValidFrom: cut, Confidence: 1,
	})
	if err != nil {
		t.Fatalf("put: %v", err)
	}

	// Inclusive end-of-window: at the exact cutover the newer version wins
	// via the most-recent-validFrom tie break.
	f, err := st.Facts().ActiveAt(ctx, "", "s", "p", cut)
	if err != nil {
		t.Fatalf("active at: %v", err)
	}
	if f.Object != "o2" {
		t.Fatalf("expected o2 at cutover, got %s", f.Object)
	}
	before, err := st.Facts().ActiveAt(ctx, "", "s", "p", cut.Add(-time.Hour))
	if err != nil {
		t.Fatalf("active before: %v", err)
	}
	if before.Object != "o1" {
		t.Fatalf("expected o1 before cutover, got %s", before.Object)
	}
}

func TestEdgePutActive_SingleActiveInvariant(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	_, err := st.Edges().PutActive(ctx, &model.TemporalEdge{
		ID: uuid.New().String(), SourceID: "a", TargetID: "b", RelationType: "knows",
		ValidFrom: base, Weight: 0.4,
	})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	// Same key: confirms in place rather than inserting a second active row.
	e2, err := st.Edges().PutActive(ctx, &model.TemporalEdge{
		ID: uuid.New().String(), SourceID: "a", TargetID: "b", RelationType: "knows",
		ValidFrom: base.AddDate(0, 1, 0), Weight: 0.7,
	})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if e2.Weight != 0.7 {
		t.Fatalf("expected weight updated, got %f", e2.Weight)
	}
	edges, err := st.Edges().ListFrom(ctx, "", "a", base.AddDate(0, 2, 0), 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(edges) != 1 {
		t.Fatalf("expected one active edge, got %d", len(edges))
	}
}

func TestFactVolatility_RanksByChangeCount(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	// "job" changes three times, "city" once.
	for i, obj := range []string{"a", "b", "c"} {
		if _, err := st.Facts().PutActive(ctx, &model.TemporalFact{
			ID: uuid.New().String(), Subject: "Alice", Predicate: "job", Object: obj,
			ValidFrom: base.AddDate(0, i, 0), Confidence: 0.5,
		}); err != nil {
			t.Fatalf("put: %v", err)
		}
	}
	if _, err := st.Facts().PutActive(ctx, &model.TemporalFact{
		ID: uuid.New().String(), Subject: "Alice", Predicate: "city", Object: "Berlin",
		ValidFrom: base, Confidence: 0.9,
	}); err != nil {
		t.Fatalf("put: %v", err)
	}

	vol, err := st.Facts().Volatility(ctx, "", 10)
	if err != nil {
		t.Fatalf("volatility: %v", err)
	}
	if len(vol) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(vol))
	}
	if vol[0].Predicate != "job" || vol[0].ChangeCount != 3 {
		t.Fatalf("expected job first with 3 versions, got %+v", vol[0])
	}
	// The MAX(valid_from) aggregate comes back as text and must parse to
	// the newest version's validFrom.
	if !vol[0].LastChanged.Equal(base.AddDate(0, 2, 0)) {
		t.Fatalf("expected last change %v, got %v", base.AddDate(0, 2, 0), vol[0].LastChanged)
	}
}

func TestFactSearchPattern_EscapedWildcards(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	if _, err := st.Facts().PutActive(ctx, &model.TemporalFact{
		ID: uuid.New().String(), Subject: "100% effort", Predicate: "is", Object: "required",
		ValidFrom: base, Confidence: 1,
	}); err != nil {
		t.Fatalf("put: %v", err)
	}
	// Driver receives already-escaped patterns; the literal percent must not
	// act as a wildcard.
	got, err := st.Facts().SearchPattern(ctx, "", `%100\% effort%`, "%", "%", 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected escaped literal match, got %d rows", len(got))
	}
}
