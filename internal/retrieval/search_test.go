package retrieval

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engramdb/engram/internal/crypto"
	"github.com/engramdb/engram/internal/embeddings"
	"github.com/engramdb/engram/internal/model"
	"github.com/engramdb/engram/internal/sectors"
	"github.com/engramdb/engram/internal/store"
	"github.com/engramdb/engram/internal/store/sqlite"
	"github.com/engramdb/engram/internal/vectorstore"
)

type searchFixture struct {
	st       store.Store
	vectors  *vectorstore.VectorStore
	searcher *Searcher
	embedder embeddings.Embedder
}

func newSearchFixture(t *testing.T) *searchFixture {
	t.Helper()
	st, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	vs := vectorstore.New(st, vectorstore.NewMapCache(), zerolog.Nop())
	t.Cleanup(vs.Close)

	embedder := embeddings.NewMock(32)
	classifier := sectors.NewClassifier(sectors.Defaults())
	graph := NewGraph(st.Waypoints(), zerolog.Nop())
	searcher := NewSearcher(st.Memories(), vs, classifier, graph, NewScorer(DefaultWeights()), embedder, crypto.Noop{}, zerolog.Nop())
	return &searchFixture{st: st, vectors: vs, searcher: searcher, embedder: embedder}
}

func (f *searchFixture) addMemory(t *testing.T, id, content string, tags ...string) {
	t.Helper()
	ctx := context.Background()
	_, err := f.st.Memories().Insert(ctx, &model.MemoryItem{
		ID:            id,
		Content:       content,
		PrimarySector: "semantic",
		Tags:          tags,
		Salience:      0.5,
		DecayRate:     1.0,
	})
	require.NoError(t, err)
	vec, err := f.embedder.Embed(ctx, content)
	require.NoError(t, err)
	require.NoError(t, f.vectors.Store(ctx, &model.VectorRecord{
		MemoryID: id, Sector: "semantic", Dim: len(vec), Embedding: vec,
	}))
}

func TestSearch_ExactContentRanksFirst(t *testing.T) {
	ctx := context.Background()
	f := newSearchFixture(t)
	f.addMemory(t, "m1", "kubernetes ingress configuration notes")
	f.addMemory(t, "m2", "grocery list for the weekend")
	f.addMemory(t, "m3", "incident review of the ingress outage")

	results, err := f.searcher.Search(ctx, "", "kubernetes ingress configuration notes", 3)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "m1", results[0].Memory.ID)
	assert.InDelta(t, 1.0, results[0].Similarity, 1e-5)
}

func TestSearch_TopKLimitsResults(t *testing.T) {
	ctx := context.Background()
	f := newSearchFixture(t)
	for _, id := range []string{"m1", "m2", "m3", "m4"} {
		f.addMemory(t, id, "note "+id)
	}

	results, err := f.searcher.Search(ctx, "", "note m1", 2)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(results), 2)

	results, err = f.searcher.Search(ctx, "", "note m1", 0)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearch_RecordsCoRetrievalWaypoints(t *testing.T) {
	ctx := context.Background()
	f := newSearchFixture(t)
	f.addMemory(t, "m1", "postgres connection pooling")
	f.addMemory(t, "m2", "postgres connection timeouts")

	results, err := f.searcher.Search(ctx, "", "postgres connection", 2)
	require.NoError(t, err)
	require.Len(t, results, 2)

	nbrs, err := f.st.Waypoints().Neighbors(ctx, results[0].Memory.ID, "", 5)
	require.NoError(t, err)
	require.Len(t, nbrs, 1)
	assert.Equal(t, results[1].Memory.ID, nbrs[0].TargetID)
	assert.Greater(t, nbrs[0].Weight, 0.0)
}

func TestSearch_WaypointNeighborJoinsCandidates(t *testing.T) {
	ctx := context.Background()
	f := newSearchFixture(t)
	f.addMemory(t, "m1", "redis eviction policy tuning")
	f.addMemory(t, "m2", "completely unrelated gardening diary")

	// A strong association from m1 pulls m2 in despite low similarity.
	require.NoError(t, f.st.Waypoints().Upsert(ctx, "m1", "m2", "", 0.9))

	results, err := f.searcher.Search(ctx, "", "redis eviction policy tuning", 5)
	require.NoError(t, err)

	var found *model.SearchResult
	for _, r := range results {
		if r.Memory.ID == "m2" {
			found = r
		}
	}
	require.NotNil(t, found, "associated memory should be in results")
	assert.InDelta(t, 0.9, found.WaypointBoost, 1e-9)
}

func TestSearch_FiresQueryHitHook(t *testing.T) {
	ctx := context.Background()
	f := newSearchFixture(t)
	f.addMemory(t, "m1", "terraform state locking")

	var hits []string
	f.searcher.SetQueryHitHook(func(_ context.Context, m *model.MemoryItem) {
		hits = append(hits, m.ID)
	})

	_, err := f.searcher.Search(ctx, "", "terraform state locking", 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"m1"}, hits)
}

func TestSearch_UpdatesLastSeen(t *testing.T) {
	ctx := context.Background()
	f := newSearchFixture(t)
	f.addMemory(t, "m1", "ci pipeline caching strategy")

	before, err := f.st.Memories().GetByID(ctx, "", "m1")
	require.NoError(t, err)

	_, err = f.searcher.Search(ctx, "", "ci pipeline caching strategy", 1)
	require.NoError(t, err)

	after, err := f.st.Memories().GetByID(ctx, "", "m1")
	require.NoError(t, err)
	assert.True(t, after.LastSeenAt.After(before.LastSeenAt) || after.LastSeenAt.Equal(before.LastSeenAt))
	assert.False(t, after.LastSeenAt.Before(before.LastSeenAt))
}
