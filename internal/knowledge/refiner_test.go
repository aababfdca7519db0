package knowledge

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

// storeWithConfidence seeds one pattern at the given confidence.
func storeWithConfidence(t *testing.T, store *PatternStore, confidence float64) string {
	t.Helper()
	p := testPattern("Refinable")
	p.Confidence = confidence
	id, err := store.StorePattern(p)
	require.NoError(t, err)
	return id
}

func TestRefinePatternBlendsConfidence(t *testing.T) {
	store := newTestStore(t)
	refiner := NewPatternRefiner(store)
	id := storeWithConfidence(t, store, 0.6)

	adj, err := refiner.RefinePattern(RefinementFeedback{PatternID: id, Effectiveness: 0.9})
	require.NoError(t, err)

	// 0.6*0.7 + 0.9*0.3 = 0.69
	if math.Abs(adj.NewConfidence-0.69) > 1e-9 {
		t.Errorf("Expected blended confidence 0.69, got %v", adj.NewConfidence)
	}
	if adj.OldConfidence != 0.6 {
		t.Errorf("Expected old confidence 0.6, got %v", adj.OldConfidence)
	}
	if adj.Outcome != "adjusted" {
		t.Errorf("Expected outcome adjusted, got %q", adj.Outcome)
	}

	got, err := store.GetPatternByID(id)
	require.NoError(t, err)
	if math.Abs(got.Confidence-0.69) > 1e-9 {
		t.Errorf("Confidence was not persisted: %v", got.Confidence)
	}
	if got.UsageCount != 1 || got.SuccessCount != 1 {
		t.Errorf("Effectiveness 0.9 should record a successful usage, got %d/%d",
			got.UsageCount, got.SuccessCount)
	}
}

func TestRefinePatternPromotionNudge(t *testing.T) {
	store := newTestStore(t)
	refiner := NewPatternRefiner(store)
	id := storeWithConfidence(t, store, 0.85)

	adj, err := refiner.RefinePattern(RefinementFeedback{
		PatternID:     id,
		Effectiveness: 0.95,
		ShouldPromote: true,
	})
	require.NoError(t, err)

	// (0.85*0.7 + 0.95*0.3) * 1.1 = 0.968
	if adj.NewConfidence < 0.85 || adj.NewConfidence > 1.0 {
		t.Errorf("Promoted confidence out of expected range: %v", adj.NewConfidence)
	}
	if adj.Outcome != "promoted" {
		t.Errorf("Expected outcome promoted, got %q", adj.Outcome)
	}
}

func TestRefinePatternClamp(t *testing.T) {
	store := newTestStore(t)
	refiner := NewPatternRefiner(store)

	t.Run("ceiling", func(t *testing.T) {
		id := storeWithConfidence(t, store, 1.0)
		adj, err := refiner.RefinePattern(RefinementFeedback{
			PatternID: id, Effectiveness: 1.0, ShouldPromote: true,
		})
		require.NoError(t, err)
		if adj.NewConfidence != 1.0 {
			t.Errorf("Expected clamp at 1.0, got %v", adj.NewConfidence)
		}
	})

	t.Run("floor", func(t *testing.T) {
		id := storeWithConfidence(t, store, 0.1)
		adj, err := refiner.RefinePattern(RefinementFeedback{
			PatternID: id, Effectiveness: 0.0, ShouldDemote: true,
		})
		require.NoError(t, err)
		if adj.NewConfidence != 0.1 {
			t.Errorf("Expected clamp at 0.1, got %v", adj.NewConfidence)
		}
	})
}

func TestRefinePatternLowEffectivenessIsFailure(t *testing.T) {
	store := newTestStore(t)
	refiner := NewPatternRefiner(store)
	id := storeWithConfidence(t, store, 0.5)

	_, err := refiner.RefinePattern(RefinementFeedback{PatternID: id, Effectiveness: 0.3})
	require.NoError(t, err)

	got, err := store.GetPatternByID(id)
	require.NoError(t, err)
	if got.FailureCount != 1 || got.SuccessCount != 0 {
		t.Errorf("Effectiveness 0.3 should record a failure, got success=%d failure=%d",
			got.SuccessCount, got.FailureCount)
	}
}

func TestRefinePatternValidation(t *testing.T) {
	store := newTestStore(t)
	refiner := NewPatternRefiner(store)
	id := storeWithConfidence(t, store, 0.5)

	_, err := refiner.RefinePattern(RefinementFeedback{PatternID: id, Effectiveness: 1.5})
	if !IsValidation(err) {
		t.Errorf("Expected ValidationError for out-of-range effectiveness, got %v", err)
	}

	_, err = refiner.RefinePattern(RefinementFeedback{
		PatternID: id, Effectiveness: 0.5, ShouldPromote: true, ShouldDemote: true,
	})
	if !IsValidation(err) {
		t.Errorf("Expected ValidationError for promote+demote, got %v", err)
	}

	_, err = refiner.RefinePattern(RefinementFeedback{PatternID: "ghost", Effectiveness: 0.5})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound for unknown pattern, got %v", err)
	}
}

func TestRefineBatchIsolatesFailures(t *testing.T) {
	store := newTestStore(t)
	refiner := NewPatternRefiner(store)

	good1 := storeWithConfidence(t, store, 0.9)
	good2 := storeWithConfidence(t, store, 0.3)

	result := refiner.RefineBatch([]RefinementFeedback{
		{PatternID: good1, Effectiveness: 0.95, ShouldPromote: true},
		{PatternID: "ghost", Effectiveness: 0.5},
		{PatternID: good2, Effectiveness: 0.2, ShouldDemote: true},
	})

	if len(result.Failures) != 1 {
		t.Fatalf("Expected 1 failure, got %d", len(result.Failures))
	}
	if result.Failures[0].PatternID != "ghost" {
		t.Errorf("Wrong failure recorded: %+v", result.Failures[0])
	}
	if len(result.Adjustments) != 2 {
		t.Fatalf("Expected 2 adjustments despite the failure, got %d", len(result.Adjustments))
	}
	if result.Promoted != 1 {
		t.Errorf("Expected 1 promotion, got %d", result.Promoted)
	}
	if result.Demoted != 1 {
		t.Errorf("Expected 1 demotion, got %d", result.Demoted)
	}
}

func TestRefineBatchArchivesAdvisoryOnly(t *testing.T) {
	store := newTestStore(t)
	refiner := NewPatternRefiner(store)
	// Floor above the clamp so archival is reachable.
	refiner.ArchivalFloor = 0.3

	id := storeWithConfidence(t, store, 0.15)
	result := refiner.RefineBatch([]RefinementFeedback{
		{PatternID: id, Effectiveness: 0.0, ShouldDemote: true},
	})

	if result.Archived != 1 {
		t.Fatalf("Expected 1 archived pattern, got %d", result.Archived)
	}
	if result.Demoted != 0 {
		t.Errorf("Archival must be exclusive of demotion, got %d demoted", result.Demoted)
	}

	// Advisory: the pattern stays retrievable.
	if _, err := store.GetPatternByID(id); err != nil {
		t.Errorf("Archived pattern should still exist: %v", err)
	}
}

func TestResolveConflicts(t *testing.T) {
	store := newTestStore(t)
	refiner := NewPatternRefiner(store).
		WithRelationships(NewRelationshipManager(store))

	classify := func(conf float64) string {
		p := testPattern("Claimant")
		p.Confidence = conf
		p.Metadata = map[string]interface{}{"domain": "http", "operation": "retry"}
		id, err := store.StorePattern(p)
		require.NoError(t, err)
		return id
	}

	strong := classify(0.9)
	middle := classify(0.7)
	weak := classify(0.3)

	kept, err := refiner.ResolveConflicts("http", "retry")
	require.NoError(t, err)

	// Cutoff is 0.9*0.7 = 0.63: strong and middle survive, weak does not.
	if len(kept) != 2 {
		t.Fatalf("Expected 2 survivors, got %d (%v)", len(kept), kept)
	}
	if kept[0] != strong {
		t.Errorf("Strongest pattern should come first, got %s", kept[0])
	}
	for _, id := range kept {
		if id == weak {
			t.Error("Weak pattern survived the cutoff")
		}
	}

	// The superseded pattern is still stored, linked by a supersedes edge.
	if _, err := store.GetPatternByID(weak); err != nil {
		t.Errorf("Superseded pattern should remain stored: %v", err)
	}
	rels := NewRelationshipManager(store)
	edges, err := rels.GetRelationships(weak, DirectionIncoming)
	require.NoError(t, err)
	found := false
	for _, e := range edges {
		if e.Type == RelSupersedes && e.FromPattern == strong {
			found = true
		}
	}
	if !found {
		t.Error("Expected a supersedes edge from the strongest pattern")
	}
	_ = middle
}

func TestResolveConflictsSingleClaimant(t *testing.T) {
	store := newTestStore(t)
	refiner := NewPatternRefiner(store)

	p := testPattern("Lone claimant")
	p.Metadata = map[string]interface{}{"domain": "http", "operation": "retry"}
	id, err := store.StorePattern(p)
	require.NoError(t, err)

	kept, err := refiner.ResolveConflicts("http", "retry")
	require.NoError(t, err)
	if len(kept) != 1 || kept[0] != id {
		t.Errorf("Single claimant should survive untouched, got %v", kept)
	}

	empty, err := refiner.ResolveConflicts("http", "nothing-here")
	require.NoError(t, err)
	if len(empty) != 0 {
		t.Errorf("Expected no survivors for an empty scope, got %v", empty)
	}
}

func TestAnalyzeEffectiveness(t *testing.T) {
	store := newTestStore(t)
	refiner := NewPatternRefiner(store)
	refiner.MinUsageCount = 2

	seed := func(conf float64, successes, failures int) string {
		p := testPattern("Analyzed")
		p.Confidence = conf
		p.Metadata = map[string]interface{}{"domain": "http"}
		id, err := store.StorePattern(p)
		require.NoError(t, err)
		for i := 0; i < successes; i++ {
			require.NoError(t, store.UpdateUsage(id, true))
		}
		for i := 0; i < failures; i++ {
			require.NoError(t, store.UpdateUsage(id, false))
		}
		return id
	}

	winner := seed(0.9, 4, 0)
	loser := seed(0.4, 0, 4)
	seed(0.5, 1, 0) // Below min usage; excluded.

	report, err := refiner.AnalyzeEffectiveness("http", 0)
	require.NoError(t, err)

	if report.PatternsAnalyzed != 2 {
		t.Fatalf("Expected 2 patterns analyzed, got %d", report.PatternsAnalyzed)
	}
	if math.Abs(report.AvgSuccessRate-0.5) > 1e-9 {
		t.Errorf("Expected avg success rate 0.5, got %v", report.AvgSuccessRate)
	}
	if len(report.TopPerformers) == 0 || report.TopPerformers[0].PatternID != winner {
		t.Errorf("Expected %s as top performer", winner)
	}
	last := report.BottomPerformers[len(report.BottomPerformers)-1]
	if last.PatternID != loser {
		t.Errorf("Expected %s as bottom performer, got %s", loser, last.PatternID)
	}
}

func TestAnalyzeEffectivenessEmpty(t *testing.T) {
	store := newTestStore(t)
	refiner := NewPatternRefiner(store)

	report, err := refiner.AnalyzeEffectiveness("", 0)
	require.NoError(t, err)
	if report.PatternsAnalyzed != 0 {
		t.Errorf("Expected an empty report, got %d analyzed", report.PatternsAnalyzed)
	}
}
