package vectorstore

import (
	"container/heap"
	"context"
	"encoding/json"
	"math"
	"reflect"

	"github.com/engramdb/engram/internal/model"
	"github.com/engramdb/engram/internal/store"
)

// ctxCheckEvery bounds how many rows a linear scan processes between
// context checks so a cancelled search stops promptly.
const ctxCheckEvery = 256

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// jsonNormalize maps a value onto the shape it takes after the metadata
// column's JSON round trip: ints become float64, typed slices and maps lose
// their element types. Comparing normalized forms keeps the scan path in
// agreement with the native JSONB containment operator.
func jsonNormalize(v interface{}) interface{} {
	b, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out interface{}
	if err := json.Unmarshal(b, &out); err != nil {
		return v
	}
	return out
}

// matchesFilter reports whether every filter key is present in meta with an
// equal value.
func matchesFilter(meta, filter map[string]interface{}) bool {
	for k, want := range filter {
		got, ok := meta[k]
		if !ok || !reflect.DeepEqual(jsonNormalize(got), jsonNormalize(want)) {
			return false
		}
	}
	return true
}

// matchHeap is a min-heap on score, so the root is always the weakest of the
// current top-k candidates.
type matchHeap []model.VectorMatch

func (h matchHeap) Len() int           { return len(h) }
func (h matchHeap) Less(i, j int) bool { return h[i].Score < h[j].Score }
func (h matchHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *matchHeap) Push(x interface{}) { *h = append(*h, x.(model.VectorMatch)) }

func (h *matchHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// scanSearch streams every vector in the sector through a top-k heap. Rows
// whose dimensionality differs from the query are skipped; compressed
// variants live under their own sector name and never reach a hot-sector
// scan.
func scanSearch(ctx context.Context, vectors store.Vectors, sector, owner string, query []float32, topK int, filter map[string]interface{}) ([]model.VectorMatch, error) {
	h := make(matchHeap, 0, topK)
	heap.Init(&h)

	rows := 0
	err := vectors.Iterate(ctx, sector, owner, func(rec *model.VectorRecord) error {
		rows++
		if rows%ctxCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		if len(rec.Embedding) != len(query) {
			return nil
		}
		if len(filter) > 0 && !matchesFilter(rec.Metadata, filter) {
			return nil
		}
		score := cosineSimilarity(query, rec.Embedding)
		if h.Len() < topK {
			heap.Push(&h, model.VectorMatch{MemoryID: rec.MemoryID, Sector: rec.Sector, Score: score})
		} else if score > h[0].Score {
			h[0] = model.VectorMatch{MemoryID: rec.MemoryID, Sector: rec.Sector, Score: score}
			heap.Fix(&h, 0)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Drain the heap into descending score order.
	out := make([]model.VectorMatch, h.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(&h).(model.VectorMatch)
	}
	return out, nil
}
