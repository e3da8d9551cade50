package retrieval

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/engramdb/engram/internal/model"
	"github.com/engramdb/engram/internal/store"
)

const (
	// coRetrievalDelta is the weight added to an edge each time two memories
	// surface in the same result set.
	coRetrievalDelta = 0.1
	// pruneFloor is the weight below which an edge is dropped by cleanup.
	pruneFloor = 0.02
	// defaultNeighborLimit bounds spreading-activation fan-out per source.
	defaultNeighborLimit = 10
)

// Graph maintains the directed weighted waypoint edges between co-accessed
// memories.
type Graph struct {
	waypoints store.Waypoints
	log       zerolog.Logger
}

func NewGraph(waypoints store.Waypoints, log zerolog.Logger) *Graph {
	return &Graph{waypoints: waypoints, log: log.With().Str("component", "waypoints").Logger()}
}

// RecordCoRetrieval strengthens edges between consecutive members of a
// ranked result set, in rank order. Failures are logged, never surfaced:
// waypoint bookkeeping must not fail a read path.
func (g *Graph) RecordCoRetrieval(ctx context.Context, owner string, rankedIDs []string) {
	if len(rankedIDs) < 2 {
		return
	}
	now := time.Now().UTC()
	edges := make([]*model.Waypoint, 0, len(rankedIDs)-1)
	for i := 0; i+1 < len(rankedIDs); i++ {
		edges = append(edges, &model.Waypoint{
			SourceID:  rankedIDs[i],
			TargetID:  rankedIDs[i+1],
			Owner:     owner,
			Weight:    coRetrievalDelta,
			CreatedAt: now,
			UpdatedAt: now,
		})
	}
	if err := g.waypoints.UpsertMany(ctx, edges); err != nil {
		g.log.Warn().Err(err).Int("edges", len(edges)).Msg("co-retrieval waypoint write failed")
	}
}

// Link adds delta weight to a single directed edge.
func (g *Graph) Link(ctx context.Context, src, dst, owner string, delta float64) error {
	return g.waypoints.Upsert(ctx, src, dst, owner, delta)
}

// Neighbors returns outgoing edges ordered by weight descending.
func (g *Graph) Neighbors(ctx context.Context, src, owner string, limit int) ([]*model.Waypoint, error) {
	if limit <= 0 {
		limit = defaultNeighborLimit
	}
	return g.waypoints.Neighbors(ctx, src, owner, limit)
}

// Cleanup prunes weak edges and sweeps edges with a deleted endpoint,
// returning how many rows were removed.
func (g *Graph) Cleanup(ctx context.Context) (int64, error) {
	pruned, err := g.waypoints.Prune(ctx, pruneFloor)
	if err != nil {
		return 0, err
	}
	swept, err := g.waypoints.SweepOrphans(ctx)
	if err != nil {
		return pruned, err
	}
	return pruned + swept, nil
}
