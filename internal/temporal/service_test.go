package temporal

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engramdb/engram/internal/model"
	"github.com/engramdb/engram/internal/store"
	"github.com/engramdb/engram/internal/store/sqlite"
)

func newService(t *testing.T) (*Service, store.Store) {
	t.Helper()
	st, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	svc := NewService(Config{}, st.Facts(), st.Edges(), zerolog.Nop())
	return svc, st
}

func TestAddFact_AssignsIDAndDefaults(t *testing.T) {
	svc, _ := newService(t)

	f, err := svc.AddFact(context.Background(), &model.TemporalFact{
		Subject: "alice", Predicate: "works_at", Object: "TechCorp",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, f.ID)
	assert.InDelta(t, defaultConfidence, f.Confidence, 1e-9)
	assert.False(t, f.ValidFrom.IsZero())
	assert.Nil(t, f.ValidTo)
}

func TestAddFact_RejectsIncomplete(t *testing.T) {
	svc, _ := newService(t)

	_, err := svc.AddFact(context.Background(), &model.TemporalFact{Subject: "alice"})
	assert.ErrorIs(t, err, model.ErrValidation)

	_, err = svc.AddFact(context.Background(), &model.TemporalFact{
		Subject: "a", Predicate: "b", Object: "c", Confidence: 1.5,
	})
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestAddFact_SupersedingClosesPrior(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	_, err := svc.AddFact(ctx, &model.TemporalFact{
		Subject: "alice", Predicate: "works_at", Object: "TechCorp", ValidFrom: base,
	})
	require.NoError(t, err)

	_, err = svc.AddFact(ctx, &model.TemporalFact{
		Subject: "alice", Predicate: "works_at", Object: "NewCorp", ValidFrom: base.AddDate(1, 0, 0),
	})
	require.NoError(t, err)

	history, err := svc.FactHistory(ctx, "", "alice", "works_at")
	require.NoError(t, err)
	require.Len(t, history, 2)

	active := 0
	for _, f := range history {
		if f.ValidTo == nil {
			active++
		} else {
			assert.True(t, f.ValidTo.Equal(base.AddDate(1, 0, 0)), "closed at successor validFrom")
		}
	}
	assert.Equal(t, 1, active)

	current, err := svc.CurrentFact(ctx, "", "alice", "works_at", nil)
	require.NoError(t, err)
	assert.Equal(t, "NewCorp", current.Object)
}

func TestAddFact_OutOfOrderArrivalKeepsSingleActive(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	_, err := svc.AddFact(ctx, &model.TemporalFact{
		Subject: "alice", Predicate: "works_at", Object: "NewCorp", ValidFrom: base.AddDate(1, 0, 0),
	})
	require.NoError(t, err)

	// A fact about the past arrives after its successor was recorded: it
	// must enter as history, closed at the successor's validFrom.
	late, err := svc.AddFact(ctx, &model.TemporalFact{
		Subject: "alice", Predicate: "works_at", Object: "TechCorp", ValidFrom: base,
	})
	require.NoError(t, err)
	require.NotNil(t, late.ValidTo)
	assert.True(t, late.ValidTo.Equal(base.AddDate(1, 0, 0)))

	history, err := svc.FactHistory(ctx, "", "alice", "works_at")
	require.NoError(t, err)
	require.Len(t, history, 2)
	active := 0
	for _, f := range history {
		if f.ValidTo == nil {
			active++
			assert.Equal(t, "NewCorp", f.Object)
		}
	}
	assert.Equal(t, 1, active)

	mid := base.AddDate(0, 6, 0)
	at, err := svc.CurrentFact(ctx, "", "alice", "works_at", &mid)
	require.NoError(t, err)
	assert.Equal(t, "TechCorp", at.Object)
}

func TestCurrentFact_PointInTime(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	_, err := svc.AddFact(ctx, &model.TemporalFact{
		Subject: "alice", Predicate: "works_at", Object: "TechCorp", ValidFrom: base,
	})
	require.NoError(t, err)
	_, err = svc.AddFact(ctx, &model.TemporalFact{
		Subject: "alice", Predicate: "works_at", Object: "NewCorp", ValidFrom: base.AddDate(1, 0, 0),
	})
	require.NoError(t, err)

	mid := base.AddDate(0, 6, 0)
	at, err := svc.CurrentFact(ctx, "", "alice", "works_at", &mid)
	require.NoError(t, err)
	assert.Equal(t, "TechCorp", at.Object)
}

func TestSearchFacts_EscapesWildcards(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	_, err := svc.AddFact(ctx, &model.TemporalFact{Subject: "disk_usage", Predicate: "is", Object: "high"})
	require.NoError(t, err)
	_, err = svc.AddFact(ctx, &model.TemporalFact{Subject: "diskXusage", Predicate: "is", Object: "low"})
	require.NoError(t, err)

	// A literal underscore must not act as a single-character wildcard.
	got, err := svc.SearchFacts(ctx, "", "disk_usage", "", "", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "disk_usage", got[0].Subject)
}

func TestSearchFacts_EmptyTermsMatchAll(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	_, err := svc.AddFact(ctx, &model.TemporalFact{Subject: "a", Predicate: "b", Object: "c"})
	require.NoError(t, err)
	_, err = svc.AddFact(ctx, &model.TemporalFact{Subject: "x", Predicate: "y", Object: "z"})
	require.NoError(t, err)

	got, err := svc.SearchFacts(ctx, "", "", "", "", 10)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestDecayConfidence_FlooredAndActiveOnly(t *testing.T) {
	ctx := context.Background()
	svc, st := newService(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	// A superseded fact keeps its confidence; only the active row decays.
	_, err := svc.AddFact(ctx, &model.TemporalFact{
		Subject: "alice", Predicate: "works_at", Object: "TechCorp", ValidFrom: base, Confidence: 0.9,
	})
	require.NoError(t, err)
	_, err = svc.AddFact(ctx, &model.TemporalFact{
		Subject: "alice", Predicate: "works_at", Object: "NewCorp", ValidFrom: base.AddDate(0, 6, 0), Confidence: 0.9,
	})
	require.NoError(t, err)

	// Age the active row far enough that the raw decay would go below the
	// floor.
	active, err := st.Facts().ListActive(ctx, "")
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.NoError(t, st.Facts().UpdateConfidence(ctx, active[0].ID, 0.9, time.Now().UTC().AddDate(0, -6, 0)))

	updated, err := svc.DecayConfidence(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, updated)

	history, err := svc.FactHistory(ctx, "", "alice", "works_at")
	require.NoError(t, err)
	for _, f := range history {
		if f.ValidTo == nil {
			assert.InDelta(t, svc.cfg.MinConfidence, f.Confidence, 1e-9)
		} else {
			assert.InDelta(t, 0.9, f.Confidence, 1e-9)
		}
	}
}

func TestAddEdge_SingleActivePerKey(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	_, err := svc.AddEdge(ctx, &model.TemporalEdge{
		SourceID: "alice", TargetID: "techcorp", RelationType: "employment", ValidFrom: base,
	})
	require.NoError(t, err)
	_, err = svc.AddEdge(ctx, &model.TemporalEdge{
		SourceID: "alice", TargetID: "techcorp", RelationType: "employment", ValidFrom: base.AddDate(1, 0, 0), Weight: 2,
	})
	require.NoError(t, err)

	current, err := svc.CurrentEdge(ctx, "", "alice", "techcorp", "employment", nil)
	require.NoError(t, err)
	assert.Nil(t, current.ValidTo)

	edges, err := svc.EdgesFrom(ctx, "", "alice", time.Now().UTC(), 10)
	require.NoError(t, err)
	assert.Len(t, edges, 1)
}

func TestAddEdge_RejectsIncomplete(t *testing.T) {
	svc, _ := newService(t)
	_, err := svc.AddEdge(context.Background(), &model.TemporalEdge{SourceID: "a"})
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestFactsInRange_RejectsInvertedRange(t *testing.T) {
	svc, _ := newService(t)
	now := time.Now()
	_, err := svc.FactsInRange(context.Background(), "", now, now.Add(-time.Hour), 10)
	assert.ErrorIs(t, err, model.ErrValidation)
}
