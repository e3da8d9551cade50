// Package engine wires the memory engine together: one Engine struct owns
// the store, vector store, classifier, retrieval, consolidation, temporal
// service and scheduler. There are no package-level singletons; everything
// is constructed once and shut down explicitly.
package engine

import (
	"context"
	"database/sql"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/engramdb/engram/internal/config"
	"github.com/engramdb/engram/internal/consolidation"
	"github.com/engramdb/engram/internal/crypto"
	"github.com/engramdb/engram/internal/embeddings"
	"github.com/engramdb/engram/internal/lock"
	"github.com/engramdb/engram/internal/model"
	"github.com/engramdb/engram/internal/retrieval"
	"github.com/engramdb/engram/internal/scheduler"
	"github.com/engramdb/engram/internal/sectors"
	"github.com/engramdb/engram/internal/store"
	"github.com/engramdb/engram/internal/store/postgres"
	"github.com/engramdb/engram/internal/store/sqlite"
	"github.com/engramdb/engram/internal/temporal"
	"github.com/engramdb/engram/internal/vectorstore"
)

// Built-in maintenance task names.
const (
	TaskDecay         = "decay"
	TaskTemporalDecay = "temporal-decay"
	TaskCleanup       = "cleanup"
)

// mockEmbedderDim matches the dimensionality the mock provider emits.
const mockEmbedderDim = 384

// Options supplies externally-owned collaborators. Nil fields get defaults
// derived from the config: a store opened from the configured driver, the
// configured embedding provider, a no-op encryptor, and a local (or, on
// postgres, advisory) locker.
type Options struct {
	Store     store.Store
	Embedder  embeddings.Embedder
	Encryptor crypto.Encryptor
	Locker    lock.Locker
	Logger    *zerolog.Logger
}

// Engine is the single entry point the API, CLI and tests drive.
type Engine struct {
	cfg *config.Config
	log zerolog.Logger

	store        store.Store
	ownsStore    bool
	vectors      *vectorstore.VectorStore
	classifier   *sectors.Classifier
	graph        *retrieval.Graph
	searcher     *retrieval.Searcher
	consolidator *consolidation.Consolidator
	temporal     *temporal.Service
	scheduler    *scheduler.Scheduler
	embedder     embeddings.Embedder
	encryptor    crypto.Encryptor

	shutdownOnce sync.Once
}

// New constructs and wires the whole engine, then registers the built-in
// maintenance tasks.
func New(ctx context.Context, cfg *config.Config, opts Options) (*Engine, error) {
	if cfg == nil {
		return nil, errors.New("nil config")
	}
	log := zerolog.Nop()
	if opts.Logger != nil {
		log = *opts.Logger
	}

	e := &Engine{cfg: cfg, log: log, encryptor: opts.Encryptor, embedder: opts.Embedder}
	if e.encryptor == nil {
		e.encryptor = crypto.Noop{}
	}

	locker := opts.Locker
	e.store = opts.Store
	if e.store == nil {
		st, db, err := openStore(ctx, cfg)
		if err != nil {
			return nil, err
		}
		e.store = st
		e.ownsStore = true
		if locker == nil && db != nil {
			locker = postgres.NewAdvisoryLocker(db)
		}
	}
	if locker == nil {
		locker = lock.NewLocalLocker()
	}

	if e.embedder == nil {
		switch cfg.EmbedProvider {
		case "mock":
			e.embedder = embeddings.NewMock(mockEmbedderDim)
		case "ollama":
			e.embedder = embeddings.NewOllama(cfg.OllamaURL, cfg.EmbedModel, 0, log)
		default:
			return nil, errors.Errorf("unsupported embed provider: %s", cfg.EmbedProvider)
		}
	}

	cache, err := vectorstore.NewRistrettoCache(cfg.VectorCacheEntries)
	if err != nil {
		return nil, errors.Wrap(err, "vector cache")
	}
	e.vectors = vectorstore.New(e.store, cache, log)
	e.classifier = sectors.NewClassifier(sectors.Defaults())
	e.graph = retrieval.NewGraph(e.store.Waypoints(), log)
	e.searcher = retrieval.NewSearcher(
		e.store.Memories(), e.vectors, e.classifier, e.graph,
		retrieval.NewScorer(retrieval.DefaultWeights()),
		e.embedder, e.encryptor, log,
	)
	e.consolidator = consolidation.New(consolidation.Config{
		RegenerationEnabled: cfg.RegenerationEnabled,
		ReinforceOnQuery:    cfg.ReinforceOnQuery,
		ReinforceBoost:      cfg.ReinforceBoost,
	}, e.store.Memories(), e.vectors, e.encryptor, e.embedder, log)
	e.searcher.SetQueryHitHook(e.consolidator.OnQueryHit)
	e.temporal = temporal.NewService(temporal.Config{}, e.store.Facts(), e.store.Edges(), log)
	e.scheduler = scheduler.New(locker, log)

	if err := e.registerTasks(); err != nil {
		e.vectors.Close()
		if e.ownsStore {
			_ = e.store.Close()
		}
		return nil, err
	}
	return e, nil
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, *sql.DB, error) {
	switch cfg.DBDriver {
	case "postgres":
		db, err := postgres.Open(cfg.PostgresDSN)
		if err != nil {
			return nil, nil, errors.Wrap(err, "open postgres")
		}
		if err := postgres.EnsureSchema(ctx, db); err != nil {
			_ = db.Close()
			return nil, nil, errors.Wrap(err, "ensure schema")
		}
		return postgres.NewWithDB(db), db, nil
	case "sqlite":
		st, err := sqlite.New(cfg.SQLitePath)
		if err != nil {
			return nil, nil, errors.Wrap(err, "open sqlite")
		}
		return st, nil, nil
	default:
		return nil, nil, errors.Errorf("unsupported DB driver: %s", cfg.DBDriver)
	}
}

func (e *Engine) registerTasks() error {
	if err := e.scheduler.Register(TaskDecay, e.cfg.DecayInterval, e.cfg.TaskTimeout, func(ctx context.Context) error {
		_, err := e.consolidator.RunPass(ctx)
		return err
	}); err != nil {
		return err
	}
	if err := e.scheduler.Register(TaskTemporalDecay, e.cfg.TemporalDecayInterval, e.cfg.TaskTimeout, func(ctx context.Context) error {
		_, err := e.temporal.DecayConfidence(ctx)
		return err
	}); err != nil {
		return err
	}
	return e.scheduler.Register(TaskCleanup, e.cfg.CleanupInterval, e.cfg.TaskTimeout, func(ctx context.Context) error {
		if _, err := e.graph.Cleanup(ctx); err != nil {
			return err
		}
		_, err := e.vectors.CleanupOrphans(ctx)
		return err
	})
}

// Temporal exposes fact/edge CRUD and temporal queries.
func (e *Engine) Temporal() *temporal.Service { return e.temporal }

// Store exposes the persistence layer for operational tooling.
func (e *Engine) Store() store.Store { return e.store }

// HealthPing reports backend reachability.
func (e *Engine) HealthPing(ctx context.Context) error { return e.store.HealthPing(ctx) }

// TaskStats snapshots the scheduler's per-task counters.
func (e *Engine) TaskStats() []model.TaskStats { return e.scheduler.Stats() }

// TriggerTask runs a named maintenance task immediately.
func (e *Engine) TriggerTask(name string) error { return e.scheduler.Trigger(name) }

// Neighbors lists a memory's waypoint edges by weight descending.
func (e *Engine) Neighbors(ctx context.Context, memoryID, owner string, limit int) ([]*model.Waypoint, error) {
	return e.graph.Neighbors(ctx, memoryID, owner, limit)
}

// RunConsolidation triggers a decay pass outside the schedule.
func (e *Engine) RunConsolidation(ctx context.Context) (consolidation.PassStats, error) {
	return e.consolidator.RunPass(ctx)
}

// Shutdown drains the scheduler, then releases the cache and, when owned,
// the database. Safe to call more than once.
func (e *Engine) Shutdown(ctx context.Context) error {
	var firstErr error
	e.shutdownOnce.Do(func() {
		if err := e.scheduler.Stop(ctx); err != nil {
			firstErr = err
		}
		e.vectors.Close()
		if e.ownsStore {
			if err := e.store.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		if firstErr == nil {
			e.log.Info().Msg("engine shut down")
		}
	})
	return firstErr
}
