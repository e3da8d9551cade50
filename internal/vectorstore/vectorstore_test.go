package vectorstore

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engramdb/engram/internal/model"
	"github.com/engramdb/engram/internal/store"
	"github.com/engramdb/engram/internal/store/sqlite"
)

func newTestVectorStore(t *testing.T) (*VectorStore, store.Store) {
	t.Helper()
	st, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	vs := New(st, NewMapCache(), zerolog.Nop())
	t.Cleanup(vs.Close)
	return vs, st
}

func seedMemory(t *testing.T, st store.Store, id string) {
	t.Helper()
	_, err := st.Memories().Insert(context.Background(), &model.MemoryItem{
		ID:            id,
		Content:       "content of " + id,
		PrimarySector: "semantic",
		Salience:      0.5,
		DecayRate:     1.0,
	})
	require.NoError(t, err)
}

func rec(id, sector string, emb []float32) *model.VectorRecord {
	return &model.VectorRecord{MemoryID: id, Sector: sector, Dim: len(emb), Embedding: emb}
}

func TestStore_RejectsDimensionMismatch(t *testing.T) {
	vs, st := newTestVectorStore(t)
	seedMemory(t, st, "m1")

	bad := &model.VectorRecord{MemoryID: "m1", Sector: "semantic", Dim: 4, Embedding: []float32{1, 0}}
	err := vs.Store(context.Background(), bad)
	assert.ErrorIs(t, err, model.ErrDimensionMismatch)

	err = vs.Store(context.Background(), &model.VectorRecord{MemoryID: "m1", Sector: "semantic", Dim: 0})
	assert.ErrorIs(t, err, model.ErrDimensionMismatch)
}

func TestStoreMany_SkipsInvalidWritesValid(t *testing.T) {
	ctx := context.Background()
	vs, st := newTestVectorStore(t)
	seedMemory(t, st, "m1")
	seedMemory(t, st, "m2")

	err := vs.StoreMany(ctx, []*model.VectorRecord{
		rec("m1", "semantic", []float32{1, 0, 0}),
		{MemoryID: "m2", Sector: "semantic", Dim: 5, Embedding: []float32{1}},
	})
	require.NoError(t, err)

	got, err := vs.Get(ctx, "m1")
	require.NoError(t, err)
	require.Len(t, got, 1)

	got, err = vs.Get(ctx, "m2")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestGet_ServesFromCacheAfterFirstRead(t *testing.T) {
	ctx := context.Background()
	vs, st := newTestVectorStore(t)
	seedMemory(t, st, "m1")
	require.NoError(t, vs.Store(ctx, rec("m1", "semantic", []float32{1, 0})))

	first, err := vs.Get(ctx, "m1")
	require.NoError(t, err)
	require.Len(t, first, 1)

	// Bypass the wrapper so the cache goes stale, then confirm the cached
	// row set is returned.
	require.NoError(t, st.Vectors().DeleteAllForID(ctx, "m1"))
	cached, err := vs.Get(ctx, "m1")
	require.NoError(t, err)
	assert.Len(t, cached, 1)
}

func TestStore_InvalidatesCache(t *testing.T) {
	ctx := context.Background()
	vs, st := newTestVectorStore(t)
	seedMemory(t, st, "m1")
	require.NoError(t, vs.Store(ctx, rec("m1", "semantic", []float32{1, 0})))

	_, err := vs.Get(ctx, "m1")
	require.NoError(t, err)

	require.NoError(t, vs.Store(ctx, rec("m1", "episodic", []float32{0, 1})))
	got, err := vs.Get(ctx, "m1")
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestSearchSimilar_ScanFallbackRanksByCosine(t *testing.T) {
	ctx := context.Background()
	vs, st := newTestVectorStore(t)
	for _, id := range []string{"m1", "m2", "m3"} {
		seedMemory(t, st, id)
	}
	require.NoError(t, vs.StoreMany(ctx, []*model.VectorRecord{
		rec("m1", "semantic", []float32{1, 0, 0}),
		rec("m2", "semantic", []float32{0.9, 0.1, 0}),
		rec("m3", "semantic", []float32{0, 1, 0}),
	}))

	matches, err := vs.SearchSimilar(ctx, "semantic", "", []float32{1, 0, 0}, 2, nil)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "m1", matches[0].MemoryID)
	assert.Equal(t, "m2", matches[1].MemoryID)
	assert.Greater(t, matches[0].Score, matches[1].Score)
}

func TestSearchSimilar_TopKZeroReturnsEmpty(t *testing.T) {
	vs, _ := newTestVectorStore(t)
	matches, err := vs.SearchSimilar(context.Background(), "semantic", "", []float32{1, 0}, 0, nil)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestSearchSimilar_FilterAppliedDuringScan(t *testing.T) {
	ctx := context.Background()
	vs, st := newTestVectorStore(t)
	seedMemory(t, st, "m1")
	seedMemory(t, st, "m2")
	r1 := rec("m1", "semantic", []float32{1, 0})
	r1.Metadata = map[string]interface{}{"topic": "go"}
	r2 := rec("m2", "semantic", []float32{1, 0})
	r2.Metadata = map[string]interface{}{"topic": "rust"}
	require.NoError(t, vs.StoreMany(ctx, []*model.VectorRecord{r1, r2}))

	matches, err := vs.SearchSimilar(ctx, "semantic", "", []float32{1, 0}, 10, map[string]interface{}{"topic": "go"})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "m1", matches[0].MemoryID)
}

func TestSearchSimilar_NumericFilterSurvivesJSONRoundTrip(t *testing.T) {
	ctx := context.Background()
	vs, st := newTestVectorStore(t)
	seedMemory(t, st, "m1")
	seedMemory(t, st, "m2")
	r1 := rec("m1", "semantic", []float32{1, 0})
	r1.Metadata = map[string]interface{}{"priority": 3}
	r2 := rec("m2", "semantic", []float32{1, 0})
	r2.Metadata = map[string]interface{}{"priority": 7}
	require.NoError(t, vs.StoreMany(ctx, []*model.VectorRecord{r1, r2}))

	// The stored int comes back as float64; an int filter value must still
	// match it, like the native containment operator would.
	matches, err := vs.SearchSimilar(ctx, "semantic", "", []float32{1, 0}, 10, map[string]interface{}{"priority": 3})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "m1", matches[0].MemoryID)
}

func TestSearchSimilar_SkipsMismatchedDimensions(t *testing.T) {
	ctx := context.Background()
	vs, st := newTestVectorStore(t)
	seedMemory(t, st, "m1")
	seedMemory(t, st, "m2")
	require.NoError(t, vs.StoreMany(ctx, []*model.VectorRecord{
		rec("m1", "semantic", []float32{1, 0}),
		rec("m2", "semantic", []float32{1, 0, 0, 0}),
	}))

	matches, err := vs.SearchSimilar(ctx, "semantic", "", []float32{1, 0}, 10, nil)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "m1", matches[0].MemoryID)
}

func TestDeleteByOwner_ClearsCache(t *testing.T) {
	ctx := context.Background()
	vs, st := newTestVectorStore(t)
	_, err := st.Memories().Insert(ctx, &model.MemoryItem{
		ID: "m1", Owner: "alice", Content: "x", PrimarySector: "semantic", Salience: 0.5, DecayRate: 1.0,
	})
	require.NoError(t, err)
	r := rec("m1", "semantic", []float32{1, 0})
	r.Owner = "alice"
	require.NoError(t, vs.Store(ctx, r))
	_, err = vs.Get(ctx, "m1")
	require.NoError(t, err)

	require.NoError(t, vs.DeleteByOwner(ctx, "alice"))
	got, err := vs.Get(ctx, "m1")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, cosineSimilarity([]float32{1, 0}, []float32{2, 0}), 1e-9)
	assert.InDelta(t, 0.0, cosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.InDelta(t, -1.0, cosineSimilarity([]float32{1, 0}, []float32{-1, 0}), 1e-9)
	assert.Zero(t, cosineSimilarity([]float32{0, 0}, []float32{1, 0}))
	assert.Zero(t, cosineSimilarity([]float32{1}, []float32{1, 0}))
}
