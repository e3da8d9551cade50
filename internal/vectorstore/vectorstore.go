// Package vectorstore wraps the persistence layer's vector operations with
// dimension validation, a read-through cache, and search-strategy selection.
package vectorstore

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/engramdb/engram/internal/model"
	"github.com/engramdb/engram/internal/store"
)

// VectorStore is the engine's single entry point for vector persistence and
// similarity search. Strategy is fixed at construction from the backend's
// capabilities; a native search that fails at runtime still falls back to
// the linear scan for that query.
type VectorStore struct {
	st     store.Store
	cache  Cache
	native bool
	log    zerolog.Logger
}

func New(st store.Store, cache Cache, log zerolog.Logger) *VectorStore {
	if cache == nil {
		cache = NewMapCache()
	}
	caps := st.Capabilities()
	return &VectorStore{
		st:     st,
		cache:  cache,
		native: caps.NativeVectorSearch,
		log:    log.With().Str("component", "vectorstore").Logger(),
	}
}

func validateRecord(rec *model.VectorRecord) error {
	if rec == nil {
		return errors.Wrap(model.ErrValidation, "nil vector record")
	}
	if rec.MemoryID == "" || rec.Sector == "" {
		return errors.Wrap(model.ErrValidation, "vector record missing memory id or sector")
	}
	if len(rec.Embedding) == 0 || rec.Dim != len(rec.Embedding) {
		return errors.Wrapf(model.ErrDimensionMismatch, "memory %s sector %s: declared dim %d, embedding has %d",
			rec.MemoryID, rec.Sector, rec.Dim, len(rec.Embedding))
	}
	return nil
}

// Store writes one vector after validating its dimensionality and
// invalidates the cached row set for the memory.
func (v *VectorStore) Store(ctx context.Context, rec *model.VectorRecord) error {
	if err := validateRecord(rec); err != nil {
		return err
	}
	if err := v.st.Vectors().Upsert(ctx, rec); err != nil {
		return err
	}
	v.cache.Del(rec.MemoryID)
	return nil
}

// StoreMany validates each record, drops the invalid ones with a warning,
// and writes the remainder in chunked transactions. The write succeeds for
// the valid subset even when some records were rejected.
func (v *VectorStore) StoreMany(ctx context.Context, recs []*model.VectorRecord) error {
	valid := make([]*model.VectorRecord, 0, len(recs))
	for _, rec := range recs {
		if err := validateRecord(rec); err != nil {
			v.log.Warn().Err(err).Msg("skipping invalid vector record")
			continue
		}
		valid = append(valid, rec)
	}
	if len(valid) == 0 {
		return nil
	}
	if err := v.st.Vectors().UpsertMany(ctx, valid); err != nil {
		return err
	}
	for _, rec := range valid {
		v.cache.Del(rec.MemoryID)
	}
	return nil
}

// Get returns every sector vector for the memory, serving repeat lookups
// from the cache.
func (v *VectorStore) Get(ctx context.Context, memoryID string) ([]*model.VectorRecord, error) {
	if recs, ok := v.cache.Get(memoryID); ok {
		return recs, nil
	}
	recs, err := v.st.Vectors().GetByID(ctx, memoryID)
	if err != nil {
		return nil, err
	}
	if len(recs) > 0 {
		v.cache.Set(memoryID, recs)
	}
	return recs, nil
}

// GetMany resolves cached ids locally and fetches only the misses in one
// batched query, warming the cache with what it finds.
func (v *VectorStore) GetMany(ctx context.Context, memoryIDs []string) (map[string][]*model.VectorRecord, error) {
	out := make(map[string][]*model.VectorRecord, len(memoryIDs))
	var misses []string
	for _, id := range memoryIDs {
		if recs, ok := v.cache.Get(id); ok {
			out[id] = recs
		} else {
			misses = append(misses, id)
		}
	}
	if len(misses) == 0 {
		return out, nil
	}
	fetched, err := v.st.Vectors().GetMany(ctx, misses)
	if err != nil {
		return nil, err
	}
	for id, recs := range fetched {
		out[id] = recs
		v.cache.Set(id, recs)
	}
	return out, nil
}

// Delete removes one (memory, sector) vector.
func (v *VectorStore) Delete(ctx context.Context, memoryID, sector string) error {
	if err := v.st.Vectors().Delete(ctx, memoryID, sector); err != nil {
		return err
	}
	v.cache.Del(memoryID)
	return nil
}

// DeleteAll removes every sector vector for the memory.
func (v *VectorStore) DeleteAll(ctx context.Context, memoryID string) error {
	if err := v.st.Vectors().DeleteAllForID(ctx, memoryID); err != nil {
		return err
	}
	v.cache.Del(memoryID)
	return nil
}

func (v *VectorStore) DeleteMany(ctx context.Context, memoryIDs []string) error {
	if len(memoryIDs) == 0 {
		return nil
	}
	if err := v.st.Vectors().DeleteMany(ctx, memoryIDs); err != nil {
		return err
	}
	for _, id := range memoryIDs {
		v.cache.Del(id)
	}
	return nil
}

// DeleteByOwner removes all of an owner's vectors. The cache is keyed by
// memory id only, so the whole cache is dropped.
func (v *VectorStore) DeleteByOwner(ctx context.Context, owner string) error {
	if err := v.st.Vectors().DeleteByOwner(ctx, owner); err != nil {
		return err
	}
	v.cache.Clear()
	return nil
}

// CleanupOrphans removes vectors whose memory row is gone and returns how
// many were deleted.
func (v *VectorStore) CleanupOrphans(ctx context.Context) (int64, error) {
	n, err := v.st.Vectors().CleanupOrphans(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		v.cache.Clear()
	}
	return n, nil
}

// IterateIDs streams the distinct memory ids that have at least one vector.
func (v *VectorStore) IterateIDs(ctx context.Context, fn func(memoryID string) error) error {
	return v.st.Vectors().IterateIDs(ctx, fn)
}

// SearchSimilar returns up to topK matches for the query vector in the
// sector, by descending cosine similarity. topK <= 0 yields no matches.
func (v *VectorStore) SearchSimilar(ctx context.Context, sector, owner string, query []float32, topK int, filter map[string]interface{}) ([]model.VectorMatch, error) {
	if topK <= 0 || len(query) == 0 {
		return nil, nil
	}
	if v.native {
		matches, err := v.st.Vectors().SearchNative(ctx, sector, owner, query, topK, filter)
		if err == nil {
			return matches, nil
		}
		if ctx.Err() != nil {
			return nil, err
		}
		v.log.Warn().Err(err).Str("sector", sector).Msg("native vector search failed, falling back to scan")
	}
	return scanSearch(ctx, v.st.Vectors(), sector, owner, query, topK, filter)
}

// Close releases cache resources. The underlying store is owned by the
// caller and closed separately.
func (v *VectorStore) Close() {
	v.cache.Close()
}
