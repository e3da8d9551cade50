package consolidation

import (
	"context"
	"math/rand"
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/engramdb/engram/internal/crypto"
	"github.com/engramdb/engram/internal/embeddings"
	"github.com/engramdb/engram/internal/model"
	"github.com/engramdb/engram/internal/sectors"
	"github.com/engramdb/engram/internal/store"
	"github.com/engramdb/engram/internal/vectorstore"
)

// Config tunes one consolidator. Zero values are replaced by defaults.
type Config struct {
	// MinDim and MaxColdDim bound the proportional dimension shrink.
	MinDim     int
	MaxColdDim int
	// FingerprintDim is the hash-vector length for nearly-forgotten
	// memories.
	FingerprintDim int
	// SegmentSize is the id-ordered window a pass walks per step;
	// BatchRatio sizes the random-offset batch inside each segment.
	SegmentSize int
	BatchRatio  float64
	// SegmentSleep bounds load between segments; Cooldown suppresses
	// re-entrant passes.
	SegmentSleep time.Duration
	Cooldown     time.Duration
	// SalienceDivergence is the drift beyond which salience is persisted
	// even without a structural change.
	SalienceDivergence float64

	RegenerationEnabled bool
	ReinforceOnQuery    bool
	ReinforceBoost      float64
	// RegenMaxDim: vectors at or below this length count as compressed and
	// are eligible for regeneration.
	RegenMaxDim int
}

func (c *Config) setDefaults() {
	if c.MinDim == 0 {
		c.MinDim = 16
	}
	if c.MaxColdDim == 0 {
		c.MaxColdDim = 64
	}
	if c.FingerprintDim == 0 {
		c.FingerprintDim = 16
	}
	if c.SegmentSize == 0 {
		c.SegmentSize = 500
	}
	if c.BatchRatio == 0 {
		c.BatchRatio = 0.25
	}
	if c.SegmentSleep == 0 {
		c.SegmentSleep = 50 * time.Millisecond
	}
	if c.Cooldown == 0 {
		c.Cooldown = time.Minute
	}
	if c.SalienceDivergence == 0 {
		c.SalienceDivergence = 0.1
	}
	if c.ReinforceBoost == 0 {
		c.ReinforceBoost = 0.05
	}
	if c.RegenMaxDim == 0 {
		c.RegenMaxDim = 64
	}
}

// PassStats summarises one consolidation pass.
type PassStats struct {
	Scanned        int
	Compressed     int
	Fingerprinted  int
	SalienceWrites int
	Skipped        int
}

// Consolidator runs decay passes and the query-hit regeneration path.
type Consolidator struct {
	cfg       Config
	memories  store.Memories
	vectors   *vectorstore.VectorStore
	encryptor crypto.Encryptor
	embedder  embeddings.Embedder
	log       zerolog.Logger

	mu      sync.Mutex
	lastRun time.Time
}

// New builds a consolidator. The embedder is only exercised by the
// regeneration path and may be nil when regeneration is disabled.
func New(cfg Config, memories store.Memories, vectors *vectorstore.VectorStore, encryptor crypto.Encryptor, embedder embeddings.Embedder, log zerolog.Logger) *Consolidator {
	cfg.setDefaults()
	if encryptor == nil {
		encryptor = crypto.Noop{}
	}
	return &Consolidator{
		cfg:       cfg,
		memories:  memories,
		vectors:   vectors,
		encryptor: encryptor,
		embedder:  embedder,
		log:       log.With().Str("component", "consolidation").Logger(),
	}
}

// RunPass walks all memories in random-offset batches per segment, applying
// the decay ladder. A pass inside the cooldown window is a no-op. Per-memory
// failures are logged and skipped; they never abort the pass.
func (c *Consolidator) RunPass(ctx context.Context) (PassStats, error) {
	var stats PassStats

	c.mu.Lock()
	if time.Since(c.lastRun) < c.cfg.Cooldown {
		c.mu.Unlock()
		c.log.Debug().Msg("consolidation pass skipped: cooldown")
		return stats, nil
	}
	c.lastRun = time.Now()
	c.mu.Unlock()

	total, err := c.memories.Count(ctx)
	if err != nil {
		return stats, err
	}

	batch := int(float64(c.cfg.SegmentSize) * c.cfg.BatchRatio)
	if batch < 1 {
		batch = 1
	}
	now := time.Now().UTC()

	for segStart := 0; int64(segStart) < total; segStart += c.cfg.SegmentSize {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		span := c.cfg.SegmentSize - batch
		offset := segStart
		if span > 0 {
			offset += rand.Intn(span + 1)
		}
		items, err := c.memories.ListSegment(ctx, offset, batch)
		if err != nil {
			c.log.Warn().Err(err).Int("offset", offset).Msg("segment list failed")
			continue
		}

		var updates []model.SalienceUpdate
		for _, m := range items {
			stats.Scanned++
			update, ok := c.processMemory(ctx, m, now, &stats)
			if ok {
				updates = append(updates, update)
			}
		}
		if len(updates) > 0 {
			if err := c.memories.UpdateSalienceBatch(ctx, updates); err != nil {
				c.log.Warn().Err(err).Int("updates", len(updates)).Msg("salience batch write failed")
			} else {
				stats.SalienceWrites += len(updates)
			}
		}

		runtime.Gosched()
		if c.cfg.SegmentSleep > 0 {
			select {
			case <-ctx.Done():
				return stats, ctx.Err()
			case <-time.After(c.cfg.SegmentSleep):
			}
		}
	}

	c.log.Info().
		Int("scanned", stats.Scanned).
		Int("compressed", stats.Compressed).
		Int("fingerprinted", stats.Fingerprinted).
		Int("salience_writes", stats.SalienceWrites).
		Msg("consolidation pass complete")
	return stats, nil
}

// processMemory applies the phase ladder to one memory and reports the
// salience update to batch, if any.
func (c *Consolidator) processMemory(ctx context.Context, m *model.MemoryItem, now time.Time, stats *PassStats) (model.SalienceUpdate, bool) {
	lastSeen := m.LastSeenAt
	if lastSeen.IsZero() {
		lastSeen = m.UpdatedAt
	}
	days := now.Sub(lastSeen).Hours() / 24
	current := DecayedSalience(m.Salience, m.DecayRate, days)
	f := ForgettingFactor(current, m.Salience)

	structural := false
	var err error
	switch PhaseFor(f) {
	case PhaseHot:
		// No structural change.
	case PhaseCompress:
		structural, err = c.compress(ctx, m, f)
	case PhaseFingerprint:
		structural, err = c.fingerprint(ctx, m)
	}
	if err != nil {
		stats.Skipped++
		c.log.Warn().Err(err).Str("memory_id", m.ID).Msg("consolidation skipped memory")
		return model.SalienceUpdate{}, false
	}
	if structural {
		switch PhaseFor(f) {
		case PhaseCompress:
			stats.Compressed++
		case PhaseFingerprint:
			stats.Fingerprinted++
		}
	}

	diverged := current < m.Salience-c.cfg.SalienceDivergence || current > m.Salience+c.cfg.SalienceDivergence
	if structural || diverged {
		return model.SalienceUpdate{MemoryID: m.ID, Salience: current}, true
	}
	return model.SalienceUpdate{}, false
}

// compress shrinks each hot vector whose target dimension is smaller than
// its stored one, moving it to the cold variant, and recompresses the
// summary when the rung output actually changed.
func (c *Consolidator) compress(ctx context.Context, m *model.MemoryItem, f float64) (bool, error) {
	recs, err := c.vectors.Get(ctx, m.ID)
	if err != nil {
		return false, err
	}
	structural := false
	for _, rec := range recs {
		if sectors.IsCold(rec.Sector) {
			continue
		}
		target := targetDimension(f, rec.Dim, c.cfg.MinDim, c.cfg.MaxColdDim)
		if target >= rec.Dim {
			continue
		}
		cold := resizeVector(rec.Embedding, target)
		err := c.vectors.Store(ctx, &model.VectorRecord{
			MemoryID:  rec.MemoryID,
			Sector:    sectors.ColdVariant(rec.Sector),
			Owner:     rec.Owner,
			Dim:       len(cold),
			Embedding: cold,
			Metadata:  rec.Metadata,
		})
		if err != nil {
			return structural, err
		}
		if err := c.vectors.Delete(ctx, rec.MemoryID, rec.Sector); err != nil {
			return structural, err
		}
		structural = true
	}

	content, err := c.encryptor.Decrypt(m.Content)
	if err != nil {
		return structural, err
	}
	summary := compressSummary(content, f)
	if m.Summary == nil || *m.Summary != summary {
		m.Summary = &summary
		if _, err := c.memories.Update(ctx, m); err != nil {
			return structural, err
		}
		structural = true
	}
	return structural, nil
}

// fingerprintFlag marks the hash-derived cold vector so it is never
// confused with a proportionally shrunk one of the same length.
const fingerprintFlag = "fingerprint"

func isFingerprint(rec *model.VectorRecord) bool {
	v, ok := rec.Metadata[fingerprintFlag].(bool)
	return ok && v
}

// fingerprint replaces every remaining vector with one hash-derived cold
// vector and a keyword summary, regardless of whether compression already
// ran.
func (c *Consolidator) fingerprint(ctx context.Context, m *model.MemoryItem) (bool, error) {
	content, err := c.encryptor.Decrypt(m.Content)
	if err != nil {
		return false, err
	}
	recs, err := c.vectors.Get(ctx, m.ID)
	if err != nil {
		return false, err
	}

	coldSector := sectors.ColdVariant(m.PrimarySector)
	alreadyFingerprinted := false
	for _, rec := range recs {
		if rec.Sector == coldSector && isFingerprint(rec) {
			alreadyFingerprinted = true
		}
	}

	structural := false
	if !alreadyFingerprinted {
		fp := fingerprintVector(content, c.cfg.FingerprintDim)
		err = c.vectors.Store(ctx, &model.VectorRecord{
			MemoryID:  m.ID,
			Sector:    coldSector,
			Owner:     m.Owner,
			Dim:       len(fp),
			Embedding: fp,
			Metadata:  map[string]interface{}{fingerprintFlag: true},
		})
		if err != nil {
			return false, err
		}
		structural = true
	}
	// The upsert above replaced any earlier cold row under the primary
	// sector in place; only rows under other sectors are removed.
	for _, rec := range recs {
		if rec.Sector == coldSector {
			continue
		}
		if err := c.vectors.Delete(ctx, rec.MemoryID, rec.Sector); err != nil {
			return structural, err
		}
		structural = true
	}

	summary := compressSummary(content, 0)
	if m.Summary == nil || *m.Summary != summary {
		m.Summary = &summary
		if _, err := c.memories.Update(ctx, m); err != nil {
			return structural, err
		}
		structural = true
	}
	return structural, nil
}

// OnQueryHit is the only path back from cold to hot: a compressed memory is
// re-embedded from decrypted content and restored to its hot sector, and
// salience is reinforced when enabled. Failures are logged; a query hit
// never fails the read path.
func (c *Consolidator) OnQueryHit(ctx context.Context, m *model.MemoryItem) {
	if c.cfg.RegenerationEnabled && c.embedder != nil {
		if err := c.regenerate(ctx, m); err != nil {
			c.log.Warn().Err(err).Str("memory_id", m.ID).Msg("regeneration failed")
		}
	}
	if c.cfg.ReinforceOnQuery {
		boosted := m.Salience + c.cfg.ReinforceBoost
		if boosted > 1 {
			boosted = 1
		}
		if boosted != m.Salience {
			err := c.memories.UpdateSalienceBatch(ctx, []model.SalienceUpdate{{MemoryID: m.ID, Salience: boosted}})
			if err != nil {
				c.log.Warn().Err(err).Str("memory_id", m.ID).Msg("reinforcement write failed")
				return
			}
			m.Salience = boosted
		}
	}
}

func (c *Consolidator) regenerate(ctx context.Context, m *model.MemoryItem) error {
	recs, err := c.vectors.Get(ctx, m.ID)
	if err != nil {
		return err
	}
	compressed := false
	for _, rec := range recs {
		if sectors.IsCold(rec.Sector) && rec.Dim <= c.cfg.RegenMaxDim {
			compressed = true
			break
		}
	}
	if !compressed {
		return nil
	}

	content, err := c.encryptor.Decrypt(m.Content)
	if err != nil {
		return err
	}
	vec, err := c.embedder.Embed(ctx, content)
	if err != nil {
		return err
	}
	err = c.vectors.Store(ctx, &model.VectorRecord{
		MemoryID:  m.ID,
		Sector:    m.PrimarySector,
		Owner:     m.Owner,
		Dim:       len(vec),
		Embedding: vec,
	})
	if err != nil {
		return err
	}
	for _, rec := range recs {
		if sectors.IsCold(rec.Sector) {
			if err := c.vectors.Delete(ctx, rec.MemoryID, rec.Sector); err != nil {
				return err
			}
		}
	}
	c.log.Info().Str("memory_id", m.ID).Str("sector", m.PrimarySector).Msg("memory regenerated from cold")
	return nil
}
