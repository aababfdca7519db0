package knowledge

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"patternvault/internal/logging"
)

// Refinement thresholds. Exposed as fields on PatternRefiner so deployments
// can tune them; these defaults match long-observed behavior.
const (
	DefaultPromotionThreshold = 0.85
	DefaultDemotionThreshold  = 0.4
	DefaultArchivalFloor      = 0.2
	DefaultRetentionRatio     = 0.7
	DefaultMinUsageCount      = 3

	// Effectiveness at or above this counts the usage as a success.
	successEffectiveness = 0.7
)

// PatternRefiner adjusts pattern confidence from usage feedback and resolves
// conflicts between competing patterns. It depends only on the pattern
// store; the relationship manager is an optional collaborator used to record
// supersedes edges during conflict resolution.
type PatternRefiner struct {
	store *PatternStore
	rels  *RelationshipManager

	PromotionThreshold float64
	DemotionThreshold  float64
	ArchivalFloor      float64
	RetentionRatio     float64
	MinUsageCount      int
}

// NewPatternRefiner returns a refiner with default thresholds.
func NewPatternRefiner(store *PatternStore) *PatternRefiner {
	return &PatternRefiner{
		store:              store,
		PromotionThreshold: DefaultPromotionThreshold,
		DemotionThreshold:  DefaultDemotionThreshold,
		ArchivalFloor:      DefaultArchivalFloor,
		RetentionRatio:     DefaultRetentionRatio,
		MinUsageCount:      DefaultMinUsageCount,
	}
}

// WithRelationships attaches a relationship manager so conflict resolution
// can record supersedes edges. Optional; without it resolution still works,
// it just leaves no graph trace.
func (r *PatternRefiner) WithRelationships(rels *RelationshipManager) *PatternRefiner {
	r.rels = rels
	return r
}

// RefinePattern applies one piece of feedback: the new confidence is a
// weighted blend of the prior (70%) and the observed effectiveness (30%),
// nudged 10% up or down when the caller asks for promotion or demotion, and
// clamped to [0.1, 1.0]. The usage is recorded as a success when
// effectiveness >= 0.7. Returns the adjustment that was persisted.
func (r *PatternRefiner) RefinePattern(fb RefinementFeedback) (*Adjustment, error) {
	timer := logging.StartTimer(logging.CategoryRefine, "RefinePattern")
	defer timer.Stop()

	if fb.PatternID == "" {
		return nil, validationErrorf("pattern_id", "must not be empty")
	}
	if math.IsNaN(fb.Effectiveness) || fb.Effectiveness < 0.0 || fb.Effectiveness > 1.0 {
		return nil, validationErrorf("effectiveness", "must be in [0.0, 1.0], got %v", fb.Effectiveness)
	}
	if fb.ShouldPromote && fb.ShouldDemote {
		return nil, validationErrorf("feedback", "cannot promote and demote in the same feedback")
	}

	p, err := r.store.GetPatternByID(fb.PatternID)
	if err != nil {
		return nil, err
	}

	oldConfidence := p.Confidence
	newConfidence := oldConfidence*0.7 + fb.Effectiveness*0.3
	if fb.ShouldPromote {
		newConfidence *= 1.1
	}
	if fb.ShouldDemote {
		newConfidence *= 0.9
	}
	newConfidence = clampConfidence(newConfidence)

	if err := r.store.UpdateConfidence(fb.PatternID, newConfidence); err != nil {
		logging.AuditOp(logging.AuditPatternRefine, fb.PatternID, err)
		return nil, err
	}
	if err := r.store.UpdateUsage(fb.PatternID, fb.Effectiveness >= successEffectiveness); err != nil {
		logging.AuditOp(logging.AuditPatternRefine, fb.PatternID, err)
		return nil, err
	}

	adj := &Adjustment{
		PatternID:     fb.PatternID,
		OldConfidence: oldConfidence,
		NewConfidence: newConfidence,
		Outcome:       r.classify(newConfidence),
	}

	logging.Refine("Refined %s: %.3f -> %.3f (effectiveness=%.2f, outcome=%s)",
		fb.PatternID, oldConfidence, newConfidence, fb.Effectiveness, adj.Outcome)
	logging.Audit(logging.AuditEvent{
		EventType: logging.AuditPatternRefine,
		PatternID: fb.PatternID,
		Success:   true,
		Message:   adj.Outcome,
		Fields: map[string]interface{}{
			"old_confidence": oldConfidence,
			"new_confidence": newConfidence,
			"effectiveness":  fb.Effectiveness,
		},
	})
	return adj, nil
}

// RefineBatch applies many feedback items with per-item isolation: one bad
// item lands in Failures and the rest still apply. Each adjustment is
// classified exclusively as archived, demoted, promoted or adjusted.
// Archival is advisory; no pattern is ever deleted here.
func (r *PatternRefiner) RefineBatch(items []RefinementFeedback) *BatchResult {
	timer := logging.StartTimer(logging.CategoryRefine, "RefineBatch")
	defer timer.Stop()

	result := &BatchResult{}
	for _, fb := range items {
		adj, err := r.RefinePattern(fb)
		if err != nil {
			result.Failures = append(result.Failures, BatchFailure{PatternID: fb.PatternID, Err: err})
			continue
		}
		result.Adjustments = append(result.Adjustments, *adj)
		switch adj.Outcome {
		case "archived":
			result.Archived++
			logging.AuditOp(logging.AuditPatternArchive, adj.PatternID, nil)
		case "demoted":
			result.Demoted++
		case "promoted":
			result.Promoted++
		}
	}

	logging.Refine("Batch refined %d items: promoted=%d demoted=%d archived=%d failed=%d",
		len(items), result.Promoted, result.Demoted, result.Archived, len(result.Failures))
	return result
}

// classify maps a post-refinement confidence to an exclusive outcome.
// Archival wins over demotion at the floor.
func (r *PatternRefiner) classify(confidence float64) string {
	switch {
	case confidence < r.ArchivalFloor:
		return "archived"
	case confidence <= r.DemotionThreshold:
		return "demoted"
	case confidence >= r.PromotionThreshold:
		return "promoted"
	default:
		return "adjusted"
	}
}

// ResolveConflicts looks at all patterns claiming the same domain and
// operation and demotes the weak ones: any pattern whose confidence falls
// below 70% of the strongest contender is marked superseded by it. Returns
// the ids that survived, strongest first.
func (r *PatternRefiner) ResolveConflicts(domain, operation string) ([]string, error) {
	timer := logging.StartTimer(logging.CategoryRefine, "ResolveConflicts")
	defer timer.Stop()

	if domain == "" || operation == "" {
		return nil, validationErrorf("conflict_scope", "domain and operation must both be set")
	}

	patterns, err := r.store.FindByDomainOperation(domain, operation)
	if err != nil {
		return nil, err
	}
	if len(patterns) <= 1 {
		// Zero or one claimant: nothing conflicts.
		ids := make([]string, 0, len(patterns))
		for _, p := range patterns {
			ids = append(ids, p.ID)
		}
		return ids, nil
	}

	top := patterns[0]
	cutoff := top.Confidence * r.RetentionRatio

	var kept []string
	for _, p := range patterns {
		if p.Confidence >= cutoff {
			kept = append(kept, p.ID)
			continue
		}

		logging.Refine("Conflict in %s/%s: %s (%.2f) superseded by %s (%.2f)",
			domain, operation, p.ID, p.Confidence, top.ID, top.Confidence)

		if r.rels != nil {
			_, err := r.rels.CreateRelationship(top.ID, p.ID, string(RelSupersedes), 1.0)
			if err != nil && !errors.Is(err, ErrDuplicate) {
				logging.Get(logging.CategoryRefine).Warn("Could not record supersedes edge %s -> %s: %v",
					top.ID, p.ID, err)
			}
		}
		logging.Audit(logging.AuditEvent{
			EventType: logging.AuditConflictResolve,
			PatternID: top.ID,
			Target:    p.ID,
			Success:   true,
			Message:   fmt.Sprintf("%s/%s", domain, operation),
		})
	}

	logging.Refine("Resolved conflicts in %s/%s: %d of %d patterns retained",
		domain, operation, len(kept), len(patterns))
	return kept, nil
}

// AnalyzeEffectiveness builds a read-only report over patterns with at
// least minUsage recorded usages, optionally restricted to one domain.
// When minUsage is zero the refiner's MinUsageCount default applies.
func (r *PatternRefiner) AnalyzeEffectiveness(domain string, minUsage int) (*EffectivenessReport, error) {
	timer := logging.StartTimer(logging.CategoryRefine, "AnalyzeEffectiveness")
	defer timer.Stop()

	if minUsage <= 0 {
		minUsage = r.MinUsageCount
	}

	patterns, err := r.store.ListForAnalysis(domain, minUsage)
	if err != nil {
		return nil, err
	}

	report := &EffectivenessReport{
		Domain:           domain,
		PatternsAnalyzed: len(patterns),
	}
	if len(patterns) == 0 {
		return report, nil
	}

	var confSum, rateSum float64
	summaries := make([]PerformerSummary, 0, len(patterns))
	for _, p := range patterns {
		confSum += p.Confidence
		rateSum += p.SuccessRate()
		summaries = append(summaries, PerformerSummary{
			PatternID:   p.ID,
			Title:       p.Title,
			Confidence:  p.Confidence,
			UsageCount:  p.UsageCount,
			SuccessRate: p.SuccessRate(),
		})
	}
	report.AvgConfidence = confSum / float64(len(patterns))
	report.AvgSuccessRate = rateSum / float64(len(patterns))

	sort.Slice(summaries, func(i, j int) bool {
		if summaries[i].SuccessRate != summaries[j].SuccessRate {
			return summaries[i].SuccessRate > summaries[j].SuccessRate
		}
		return summaries[i].Confidence > summaries[j].Confidence
	})

	n := len(summaries)
	top := 5
	if top > n {
		top = n
	}
	report.TopPerformers = append(report.TopPerformers, summaries[:top]...)
	bottom := 5
	if bottom > n {
		bottom = n
	}
	report.BottomPerformers = append(report.BottomPerformers, summaries[n-bottom:]...)

	logging.RefineDebug("Analyzed %d patterns (domain=%q minUsage=%d): avgConf=%.2f avgRate=%.2f",
		len(patterns), domain, minUsage, report.AvgConfidence, report.AvgSuccessRate)
	return report, nil
}

// clampConfidence bounds refined confidence to [0.1, 1.0]. The floor keeps
// a repeatedly failing pattern recoverable instead of pinning it at zero.
func clampConfidence(c float64) float64 {
	if c < 0.1 {
		return 0.1
	}
	if c > 1.0 {
		return 1.0
	}
	return c
}
