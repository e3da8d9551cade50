package engine

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/pkg/errors"

	"github.com/engramdb/engram/internal/model"
)

// defaultSalience is assigned to new memories that do not specify one.
const defaultSalience = 0.5

// AddMemoryRequest carries a new memory's plaintext fields.
type AddMemoryRequest struct {
	Owner    string
	Content  string
	Tags     []string
	Metadata map[string]interface{}
	Salience float64
}

// AddMemory runs the write path: classify, embed, fuse, encrypt, persist
// the row and its per-sector vectors. Returns the stored memory with
// plaintext content.
func (e *Engine) AddMemory(ctx context.Context, req AddMemoryRequest) (*model.MemoryItem, error) {
	if req.Content == "" {
		return nil, errors.Wrap(model.ErrValidation, "empty content")
	}
	if req.Salience < 0 || req.Salience > 1 {
		return nil, errors.Wrapf(model.ErrValidation, "salience %v outside [0,1]", req.Salience)
	}

	cls := e.classifier.Classify(req.Content, req.Metadata)
	vec, err := e.embedder.Embed(ctx, req.Content)
	if err != nil {
		return nil, errors.Wrap(err, "embed content")
	}
	perSector := make(map[string][]float32, len(cls.Sectors()))
	for _, sector := range cls.Sectors() {
		perSector[sector] = vec
	}
	fused, err := e.classifier.FuseVectors(perSector)
	if err != nil {
		return nil, errors.Wrap(err, "fuse vectors")
	}

	stored, err := e.encryptor.Encrypt(req.Content)
	if err != nil {
		return nil, errors.Wrap(err, "encrypt content")
	}

	salience := req.Salience
	if salience == 0 {
		salience = defaultSalience
	}
	// ULIDs sort by creation time, so id-ordered segment paging in the
	// consolidation pass walks memories oldest-first.
	m := &model.MemoryItem{
		ID:                ulid.Make().String(),
		Owner:             req.Owner,
		Content:           stored,
		PrimarySector:     cls.Primary,
		AdditionalSectors: cls.Additional,
		Tags:              req.Tags,
		Metadata:          req.Metadata,
		Salience:          salience,
		DecayRate:         e.classifier.DecayRate(cls.Primary),
	}
	if kv := e.encryptor.KeyVersion(); kv > 0 {
		m.KeyVersion = &kv
	}

	created, err := e.store.Memories().Insert(ctx, m)
	if err != nil {
		return nil, errors.Wrap(err, "insert memory")
	}

	recs := make([]*model.VectorRecord, 0, len(cls.Sectors()))
	recs = append(recs, &model.VectorRecord{
		MemoryID: created.ID, Sector: cls.Primary, Owner: req.Owner,
		Dim: len(fused), Embedding: fused, Metadata: req.Metadata,
	})
	for _, sector := range cls.Additional {
		recs = append(recs, &model.VectorRecord{
			MemoryID: created.ID, Sector: sector, Owner: req.Owner,
			Dim: len(vec), Embedding: vec, Metadata: req.Metadata,
		})
	}
	if err := e.vectors.StoreMany(ctx, recs); err != nil {
		return nil, errors.Wrap(err, "store vectors")
	}

	e.log.Debug().
		Str("memory_id", created.ID).
		Str("primary_sector", cls.Primary).
		Float64("confidence", cls.Confidence).
		Msg("memory added")
	created.Content = req.Content
	return created, nil
}

// GetMemory returns one memory with decrypted content.
func (e *Engine) GetMemory(ctx context.Context, owner, id string) (*model.MemoryItem, error) {
	m, err := e.store.Memories().GetByID(ctx, owner, id)
	if err != nil {
		return nil, err
	}
	content, err := e.encryptor.Decrypt(m.Content)
	if err != nil {
		return nil, errors.Wrapf(err, "decrypt memory %s", id)
	}
	m.Content = content
	return m, nil
}

// UpdateMemory replaces a memory's plaintext content, tags and metadata.
// Changed content is re-classified and re-embedded, and the old sector
// vectors are replaced.
func (e *Engine) UpdateMemory(ctx context.Context, owner, id, content string, tags []string, metadata map[string]interface{}) (*model.MemoryItem, error) {
	if content == "" {
		return nil, errors.Wrap(model.ErrValidation, "empty content")
	}
	m, err := e.store.Memories().GetByID(ctx, owner, id)
	if err != nil {
		return nil, err
	}
	prior, err := e.encryptor.Decrypt(m.Content)
	if err != nil {
		return nil, errors.Wrapf(err, "decrypt memory %s", id)
	}

	m.Tags = tags
	m.Metadata = metadata
	contentChanged := prior != content
	if contentChanged {
		cls := e.classifier.Classify(content, metadata)
		stored, err := e.encryptor.Encrypt(content)
		if err != nil {
			return nil, errors.Wrap(err, "encrypt content")
		}
		m.Content = stored
		m.PrimarySector = cls.Primary
		m.AdditionalSectors = cls.Additional
		m.DecayRate = e.classifier.DecayRate(cls.Primary)
		m.Summary = nil
	}
	updated, err := e.store.Memories().Update(ctx, m)
	if err != nil {
		return nil, errors.Wrap(err, "update memory")
	}
	if err := e.store.Memories().TouchLastSeen(ctx, id, time.Now().UTC()); err != nil {
		e.log.Warn().Err(err).Str("memory_id", id).Msg("last-seen touch failed")
	}

	if contentChanged {
		if err := e.vectors.DeleteAll(ctx, id); err != nil {
			return nil, errors.Wrap(err, "clear stale vectors")
		}
		vec, err := e.embedder.Embed(ctx, content)
		if err != nil {
			return nil, errors.Wrap(err, "embed content")
		}
		perSector := make(map[string][]float32)
		for _, sector := range append([]string{updated.PrimarySector}, updated.AdditionalSectors...) {
			perSector[sector] = vec
		}
		fused, err := e.classifier.FuseVectors(perSector)
		if err != nil {
			return nil, errors.Wrap(err, "fuse vectors")
		}
		recs := []*model.VectorRecord{{
			MemoryID: id, Sector: updated.PrimarySector, Owner: owner,
			Dim: len(fused), Embedding: fused, Metadata: metadata,
		}}
		for _, sector := range updated.AdditionalSectors {
			recs = append(recs, &model.VectorRecord{
				MemoryID: id, Sector: sector, Owner: owner,
				Dim: len(vec), Embedding: vec, Metadata: metadata,
			})
		}
		if err := e.vectors.StoreMany(ctx, recs); err != nil {
			return nil, errors.Wrap(err, "store vectors")
		}
	}

	updated.Content = content
	return updated, nil
}

// DeleteMemory removes the memory with its vectors and waypoint edges.
func (e *Engine) DeleteMemory(ctx context.Context, owner, id string) error {
	// Invalidate the vector cache before the cascading delete.
	if err := e.vectors.DeleteAll(ctx, id); err != nil {
		return errors.Wrap(err, "delete vectors")
	}
	return e.store.Memories().Delete(ctx, owner, id)
}

// ListMemories returns an owner's memories, most recently seen first, with
// decrypted content. Undecryptable rows are skipped.
func (e *Engine) ListMemories(ctx context.Context, owner string, limit int) ([]*model.MemoryItem, error) {
	items, err := e.store.Memories().List(ctx, owner, limit)
	if err != nil {
		return nil, err
	}
	out := items[:0]
	for _, m := range items {
		content, err := e.encryptor.Decrypt(m.Content)
		if err != nil {
			e.log.Warn().Err(err).Str("memory_id", m.ID).Msg("decrypt failed, omitting from listing")
			continue
		}
		m.Content = content
		out = append(out, m)
	}
	return out, nil
}

// Search runs the read path and returns ranked results with decrypted
// content.
func (e *Engine) Search(ctx context.Context, owner, query string, topK int) ([]*model.SearchResult, error) {
	results, err := e.searcher.Search(ctx, owner, query, topK)
	if err != nil {
		return nil, err
	}
	for _, r := range results {
		content, err := e.encryptor.Decrypt(r.Memory.Content)
		if err != nil {
			continue
		}
		r.Memory.Content = content
	}
	return results, nil
}
