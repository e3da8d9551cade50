// Package temporal is the service layer over the bitemporal fact and edge
// store: validation, id assignment, pattern-search escaping, and the
// confidence-decay pass.
package temporal

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/engramdb/engram/internal/model"
	"github.com/engramdb/engram/internal/store"
)

// Config tunes confidence decay. Zero values are replaced by defaults.
type Config struct {
	// DecayRatePerDay is the fractional confidence reduction per elapsed
	// day since a fact was last updated.
	DecayRatePerDay float64
	// MinConfidence floors decay; facts never fall below it.
	MinConfidence float64
	DefaultLimit  int
}

func (c *Config) setDefaults() {
	if c.DecayRatePerDay == 0 {
		c.DecayRatePerDay = 0.01
	}
	if c.MinConfidence == 0 {
		c.MinConfidence = 0.1
	}
	if c.DefaultLimit == 0 {
		c.DefaultLimit = 100
	}
}

const defaultConfidence = 0.7

type Service struct {
	cfg   Config
	facts store.Facts
	edges store.Edges
	log   zerolog.Logger
}

func NewService(cfg Config, facts store.Facts, edges store.Edges, log zerolog.Logger) *Service {
	cfg.setDefaults()
	return &Service{
		cfg:   cfg,
		facts: facts,
		edges: edges,
		log:   log.With().Str("component", "temporal").Logger(),
	}
}

// AddFact validates and stores a fact version under the single-active-row
// protocol, returning the stored row.
func (s *Service) AddFact(ctx context.Context, f *model.TemporalFact) (*model.TemporalFact, error) {
	if f == nil || f.Subject == "" || f.Predicate == "" || f.Object == "" {
		return nil, errors.Wrap(model.ErrValidation, "fact requires subject, predicate and object")
	}
	if f.Confidence < 0 || f.Confidence > 1 {
		return nil, errors.Wrapf(model.ErrValidation, "confidence %v outside [0,1]", f.Confidence)
	}
	now := time.Now().UTC()
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	if f.Confidence == 0 {
		f.Confidence = defaultConfidence
	}
	if f.ValidFrom.IsZero() {
		f.ValidFrom = now
	}
	f.LastUpdated = now
	return s.facts.PutActive(ctx, f)
}

func (s *Service) GetFact(ctx context.Context, owner, id string) (*model.TemporalFact, error) {
	return s.facts.GetByID(ctx, owner, id)
}

func (s *Service) DeleteFact(ctx context.Context, owner, id string) error {
	return s.facts.Delete(ctx, owner, id)
}

// CurrentFact returns the fact active at the given instant (now when at is
// nil), ties broken by most recent validFrom.
func (s *Service) CurrentFact(ctx context.Context, owner, subject, predicate string, at *time.Time) (*model.TemporalFact, error) {
	instant := time.Now().UTC()
	if at != nil {
		instant = at.UTC()
	}
	return s.facts.ActiveAt(ctx, owner, subject, predicate, instant)
}

func (s *Service) FactsAt(ctx context.Context, owner string, at time.Time, limit int) ([]*model.TemporalFact, error) {
	return s.facts.QueryAt(ctx, owner, at.UTC(), s.limitOr(limit))
}

func (s *Service) FactsInRange(ctx context.Context, owner string, from, to time.Time, limit int) ([]*model.TemporalFact, error) {
	if to.Before(from) {
		return nil, errors.Wrap(model.ErrValidation, "range end before start")
	}
	return s.facts.QueryRange(ctx, owner, from.UTC(), to.UTC(), s.limitOr(limit))
}

// FactHistory returns every version of a triplet ordered by validFrom.
func (s *Service) FactHistory(ctx context.Context, owner, subject, predicate string) ([]*model.TemporalFact, error) {
	return s.facts.History(ctx, owner, subject, predicate)
}

// SearchFacts substring-matches subject/predicate/object. User input is
// LIKE-escaped, so wildcard characters match literally; an empty term
// matches anything.
func (s *Service) SearchFacts(ctx context.Context, owner, subject, predicate, object string, limit int) ([]*model.TemporalFact, error) {
	return s.facts.SearchPattern(ctx, owner,
		likePattern(subject), likePattern(predicate), likePattern(object),
		s.limitOr(limit))
}

func (s *Service) ActiveFacts(ctx context.Context, owner string) ([]*model.TemporalFact, error) {
	return s.facts.ListActive(ctx, owner)
}

// Volatility surfaces the triplets that change most and are least trusted.
func (s *Service) Volatility(ctx context.Context, owner string, limit int) ([]model.FactVolatility, error) {
	return s.facts.Volatility(ctx, owner, s.limitOr(limit))
}

// DecayConfidence reduces each active fact's confidence proportionally to
// the days since its last update, floored at MinConfidence. Returns how
// many facts were updated.
func (s *Service) DecayConfidence(ctx context.Context) (int, error) {
	active, err := s.facts.AllActive(ctx)
	if err != nil {
		return 0, err
	}
	now := time.Now().UTC()
	updated := 0
	for _, f := range active {
		if err := ctx.Err(); err != nil {
			return updated, err
		}
		days := now.Sub(f.LastUpdated).Hours() / 24
		if days <= 0 || f.Confidence <= s.cfg.MinConfidence {
			continue
		}
		next := f.Confidence * (1 - s.cfg.DecayRatePerDay*days)
		if next < s.cfg.MinConfidence {
			next = s.cfg.MinConfidence
		}
		if f.Confidence-next < 1e-9 {
			continue
		}
		if err := s.facts.UpdateConfidence(ctx, f.ID, next, now); err != nil {
			s.log.Warn().Err(err).Str("fact_id", f.ID).Msg("confidence decay write failed")
			continue
		}
		updated++
	}
	return updated, nil
}

// AddEdge validates and stores an edge version under the same protocol as
// facts, keyed by (source, target, relationType, owner).
func (s *Service) AddEdge(ctx context.Context, e *model.TemporalEdge) (*model.TemporalEdge, error) {
	if e == nil || e.SourceID == "" || e.TargetID == "" || e.RelationType == "" {
		return nil, errors.Wrap(model.ErrValidation, "edge requires source, target and relationType")
	}
	now := time.Now().UTC()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Weight == 0 {
		e.Weight = 1
	}
	if e.ValidFrom.IsZero() {
		e.ValidFrom = now
	}
	return s.edges.PutActive(ctx, e)
}

func (s *Service) GetEdge(ctx context.Context, owner, id string) (*model.TemporalEdge, error) {
	return s.edges.GetByID(ctx, owner, id)
}

func (s *Service) DeleteEdge(ctx context.Context, owner, id string) error {
	return s.edges.Delete(ctx, owner, id)
}

func (s *Service) CurrentEdge(ctx context.Context, owner, source, target, relationType string, at *time.Time) (*model.TemporalEdge, error) {
	instant := time.Now().UTC()
	if at != nil {
		instant = at.UTC()
	}
	return s.edges.ActiveAt(ctx, owner, source, target, relationType, instant)
}

func (s *Service) EdgesInRange(ctx context.Context, owner string, from, to time.Time, limit int) ([]*model.TemporalEdge, error) {
	if to.Before(from) {
		return nil, errors.Wrap(model.ErrValidation, "range end before start")
	}
	return s.edges.QueryRange(ctx, owner, from.UTC(), to.UTC(), s.limitOr(limit))
}

// EdgesFrom lists the edges leaving a node that are active at the instant.
func (s *Service) EdgesFrom(ctx context.Context, owner, sourceID string, at time.Time, limit int) ([]*model.TemporalEdge, error) {
	return s.edges.ListFrom(ctx, owner, sourceID, at.UTC(), s.limitOr(limit))
}

func (s *Service) limitOr(limit int) int {
	if limit <= 0 {
		return s.cfg.DefaultLimit
	}
	return limit
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// likePattern wraps an escaped term for substring matching; empty terms
// match everything.
func likePattern(term string) string {
	if term == "" {
		return "%"
	}
	return "%" + likeEscaper.Replace(term) + "%"
}
