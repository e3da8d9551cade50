package retrieval

import (
	"context"
	"sort"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/engramdb/engram/internal/crypto"
	"github.com/engramdb/engram/internal/embeddings"
	"github.com/engramdb/engram/internal/model"
	"github.com/engramdb/engram/internal/sectors"
	"github.com/engramdb/engram/internal/store"
	"github.com/engramdb/engram/internal/vectorstore"
)

// spreadSources is how many top similarity hits contribute their waypoint
// neighbors to the candidate set.
const spreadSources = 3

// QueryHitHook runs for each returned memory after ranking. The engine uses
// it to drive cold-memory regeneration and salience reinforcement.
type QueryHitHook func(ctx context.Context, m *model.MemoryItem)

// Searcher runs the read path: classify the query, search the relevant
// sectors, spread through waypoints, and rank with the hybrid score.
// Cold "_cold" variants are never searched directly: their shrunk
// dimensions cannot match a query embedding, so compressed memories
// surface through waypoint spreading until a query hit regenerates them.
type Searcher struct {
	memories   store.Memories
	vectors    *vectorstore.VectorStore
	classifier *sectors.Classifier
	graph      *Graph
	scorer     *Scorer
	embedder   embeddings.Embedder
	encryptor  crypto.Encryptor
	onHit      QueryHitHook
	log        zerolog.Logger
}

func NewSearcher(
	memories store.Memories,
	vectors *vectorstore.VectorStore,
	classifier *sectors.Classifier,
	graph *Graph,
	scorer *Scorer,
	embedder embeddings.Embedder,
	encryptor crypto.Encryptor,
	log zerolog.Logger,
) *Searcher {
	if encryptor == nil {
		encryptor = crypto.Noop{}
	}
	return &Searcher{
		memories:   memories,
		vectors:    vectors,
		classifier: classifier,
		graph:      graph,
		scorer:     scorer,
		embedder:   embedder,
		encryptor:  encryptor,
		log:        log.With().Str("component", "retrieval").Logger(),
	}
}

// SetQueryHitHook installs the post-ranking hook. Must be called before the
// searcher is shared across goroutines.
func (s *Searcher) SetQueryHitHook(h QueryHitHook) { s.onHit = h }

type candidate struct {
	similarity float64
	waypoint   float64
}

// Search returns up to topK memories ranked by the hybrid score.
func (s *Searcher) Search(ctx context.Context, owner, query string, topK int) ([]*model.SearchResult, error) {
	if topK <= 0 || query == "" {
		return nil, nil
	}

	queryVec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, "embed query")
	}
	cls := s.classifier.Classify(query, nil)
	searchSectors := cls.Sectors()
	hasSemantic := false
	for _, sector := range searchSectors {
		if sector == sectors.Semantic {
			hasSemantic = true
		}
	}
	// The semantic sector is always searched: most memories carry a
	// semantic vector even when the query reads episodic or procedural.
	if !hasSemantic {
		searchSectors = append(searchSectors, sectors.Semantic)
	}

	// Per-sector vector search, keeping each candidate's best similarity.
	candidates := make(map[string]*candidate)
	for _, sector := range searchSectors {
		matches, err := s.vectors.SearchSimilar(ctx, sector, owner, queryVec, topK*3, nil)
		if err != nil {
			s.log.Warn().Err(err).Str("sector", sector).Msg("sector search failed")
			continue
		}
		for _, m := range matches {
			c, ok := candidates[m.MemoryID]
			if !ok {
				c = &candidate{}
				candidates[m.MemoryID] = c
			}
			if m.Score > c.similarity {
				c.similarity = m.Score
			}
		}
	}

	s.spreadWaypoints(ctx, owner, candidates)
	if len(candidates) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(candidates))
	for id := range candidates {
		ids = append(ids, id)
	}
	items, err := s.memories.GetMany(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "load candidate memories")
	}

	queryTokens := Tokenize(query)
	now := time.Now().UTC()
	results := make([]*model.SearchResult, 0, len(items))
	for _, m := range items {
		c := candidates[m.ID]
		if c == nil {
			continue
		}
		content, err := s.encryptor.Decrypt(m.Content)
		if err != nil {
			s.log.Warn().Err(err).Str("memory_id", m.ID).Msg("decrypt failed, skipping candidate")
			continue
		}
		overlap := TokenOverlap(queryTokens, Tokenize(content))
		keyword := 0.0
		if m.Summary != nil {
			keyword = TokenOverlap(queryTokens, Tokenize(*m.Summary))
		}
		res := &model.SearchResult{
			Memory:        m,
			Similarity:    c.similarity,
			TokenOverlap:  overlap,
			WaypointBoost: c.waypoint,
			Recency:       RecencyScore(m.LastSeenAt, now),
			TagMatch:      TagMatchScore(queryTokens, m.Tags),
		}
		res.Score = s.scorer.Score(res.Similarity, res.TokenOverlap, res.WaypointBoost, res.Recency, keyword, res.TagMatch, m.Salience)
		results = append(results, res)
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > topK {
		results = results[:topK]
	}

	s.afterSearch(ctx, owner, results)
	return results, nil
}

// spreadWaypoints pulls the strongest hits' neighbors into the candidate
// set so associated memories rank even with modest similarity.
func (s *Searcher) spreadWaypoints(ctx context.Context, owner string, candidates map[string]*candidate) {
	type hit struct {
		id  string
		sim float64
	}
	top := make([]hit, 0, len(candidates))
	for id, c := range candidates {
		top = append(top, hit{id, c.similarity})
	}
	sort.Slice(top, func(i, j int) bool { return top[i].sim > top[j].sim })
	if len(top) > spreadSources {
		top = top[:spreadSources]
	}
	for _, h := range top {
		nbrs, err := s.graph.Neighbors(ctx, h.id, owner, defaultNeighborLimit)
		if err != nil {
			s.log.Warn().Err(err).Str("memory_id", h.id).Msg("neighbor lookup failed")
			continue
		}
		for _, n := range nbrs {
			c, ok := candidates[n.TargetID]
			if !ok {
				c = &candidate{}
				candidates[n.TargetID] = c
			}
			if w := clamp01(n.Weight); w > c.waypoint {
				c.waypoint = w
			}
		}
	}
}

// afterSearch performs read-path bookkeeping: co-retrieval edges, last-seen
// touches, and the query-hit hook. None of it can fail the search.
func (s *Searcher) afterSearch(ctx context.Context, owner string, results []*model.SearchResult) {
	ids := make([]string, len(results))
	now := time.Now().UTC()
	for i, r := range results {
		ids[i] = r.Memory.ID
		if err := s.memories.TouchLastSeen(ctx, r.Memory.ID, now); err != nil {
			s.log.Warn().Err(err).Str("memory_id", r.Memory.ID).Msg("last-seen touch failed")
		}
	}
	s.graph.RecordCoRetrieval(ctx, owner, ids)
	if s.onHit != nil {
		for _, r := range results {
			s.onHit(ctx, r.Memory)
		}
	}
}
