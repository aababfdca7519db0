// Package knowledge implements the tiered pattern knowledge store: durable
// CRUD and full-text search over patterns, a typed relationship graph with
// bounded traversal, and feedback-driven confidence refinement.
package knowledge

import (
	"math"
	"time"
)

// Scope values control pattern visibility.
const (
	ScopeProject      = "project"
	ScopeOrganization = "organization"
)

// Pattern types observed in practice. The set is advisory; storage accepts
// any non-empty type so callers can introduce new categories without a
// schema change.
const (
	TypeSolution    = "solution"
	TypeConvention  = "convention"
	TypeAntiPattern = "anti-pattern"
	TypeHeuristic   = "heuristic"
)

// Pattern is a reusable unit of knowledge with a confidence score.
type Pattern struct {
	ID         string
	Title      string
	Content    string
	Type       string
	Confidence float64
	Scope      string
	Namespaces []string
	Source     string

	UsageCount   int
	SuccessCount int
	FailureCount int

	CreatedAt    time.Time
	LastAccessed time.Time

	// Metadata carries open-ended provenance and classification data
	// (including domain/operation used by conflict resolution). Stored as a
	// JSON document in the metadata column.
	Metadata map[string]interface{}
}

// Validate rejects malformed patterns before they reach storage.
func (p *Pattern) Validate() error {
	if p.Title == "" {
		return validationErrorf("title", "must not be empty")
	}
	if p.Type == "" {
		return validationErrorf("pattern_type", "must not be empty")
	}
	if math.IsNaN(p.Confidence) || p.Confidence < 0.0 || p.Confidence > 1.0 {
		return validationErrorf("confidence", "must be in [0.0, 1.0], got %v", p.Confidence)
	}
	if p.Scope != "" && p.Scope != ScopeProject && p.Scope != ScopeOrganization {
		return validationErrorf("scope", "unknown scope %q", p.Scope)
	}
	if p.UsageCount < 0 || p.SuccessCount < 0 || p.FailureCount < 0 {
		return validationErrorf("usage_counts", "counts must be non-negative")
	}
	if p.SuccessCount+p.FailureCount > p.UsageCount {
		return validationErrorf("usage_counts", "success+failure (%d) exceeds usage count (%d)",
			p.SuccessCount+p.FailureCount, p.UsageCount)
	}
	return nil
}

// SuccessRate returns the fraction of recorded outcomes that succeeded, or
// zero when no outcomes were recorded.
func (p *Pattern) SuccessRate() float64 {
	outcomes := p.SuccessCount + p.FailureCount
	if outcomes == 0 {
		return 0
	}
	return float64(p.SuccessCount) / float64(outcomes)
}

// RelationshipType is the enumerated type of a graph edge.
type RelationshipType string

const (
	RelExtends     RelationshipType = "extends"
	RelRelatesTo   RelationshipType = "relates_to"
	RelContradicts RelationshipType = "contradicts"
	RelSupersedes  RelationshipType = "supersedes"
)

// ParseRelationshipType validates and normalizes a relationship type.
// The legacy alias "related_to" is normalized to the canonical "relates_to"
// before persistence.
func ParseRelationshipType(s string) (RelationshipType, error) {
	switch RelationshipType(s) {
	case RelExtends, RelRelatesTo, RelContradicts, RelSupersedes:
		return RelationshipType(s), nil
	}
	if s == "related_to" {
		return RelRelatesTo, nil
	}
	return "", validationErrorf("relationship_type", "unknown relationship type %q", s)
}

// Relationship is a directed, typed, weighted edge between two patterns.
// Edges are never mutated in place; they are superseded or deleted.
type Relationship struct {
	FromPattern string
	ToPattern   string
	Type        RelationshipType
	Strength    float64
	CreatedAt   time.Time
}

// Direction selects which edges GetRelationships returns.
type Direction string

const (
	DirectionOutgoing Direction = "outgoing"
	DirectionIncoming Direction = "incoming"
	DirectionBoth     Direction = "both"
)

// TraversalResult is the outcome of a bounded breadth-first walk.
// Paths records one shortest discovered path per reached node, starting
// with the start node itself.
type TraversalResult struct {
	Nodes []string
	Edges []Relationship
	Paths [][]string
}

// RefinementFeedback reports how a pattern performed when applied.
type RefinementFeedback struct {
	PatternID     string
	Effectiveness float64 // [0,1]; >= 0.7 counts as a successful usage
	ShouldPromote bool
	ShouldDemote  bool
}

// Adjustment records one pattern's confidence change during refinement.
type Adjustment struct {
	PatternID     string
	OldConfidence float64
	NewConfidence float64
	Outcome       string // "promoted", "demoted", "archived", "adjusted"
}

// BatchFailure records one item of a batch that could not be applied.
// Per-item failures never abort the rest of the batch.
type BatchFailure struct {
	PatternID string
	Err       error
}

// BatchResult summarizes a refinement batch. Archival is advisory: counted
// here, never deleted from storage.
type BatchResult struct {
	Promoted    int
	Demoted     int
	Archived    int
	Adjustments []Adjustment
	Failures    []BatchFailure
}

// PatternStats is an aggregate read over the stored corpus.
type PatternStats struct {
	Total            int64
	ByType           map[string]int64
	ByConfidenceBand map[string]int64 // "high" >= 0.8, "medium" >= 0.5, "low" < 0.5
}

// PerformerSummary describes one pattern inside an effectiveness report.
type PerformerSummary struct {
	PatternID   string
	Title       string
	Confidence  float64
	UsageCount  int
	SuccessRate float64
}

// EffectivenessReport is a read-only aggregate over patterns that meet a
// minimum usage threshold.
type EffectivenessReport struct {
	Domain           string
	PatternsAnalyzed int
	AvgConfidence    float64
	AvgSuccessRate   float64
	TopPerformers    []PerformerSummary
	BottomPerformers []PerformerSummary
}
