package tiers

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"patternvault/internal/knowledge"
	"patternvault/internal/pool"
)

func writeTierFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
}

// seedPatternsDB creates a real tier-2 database, optionally with forbidden
// conversational metadata on one pattern.
func seedPatternsDB(t *testing.T, dir string, withForbidden bool) {
	t.Helper()
	p, err := pool.New(filepath.Join(dir, TierPatterns.Filename()), 1, time.Second)
	require.NoError(t, err)
	defer p.CloseAll()

	store, err := knowledge.NewPatternStore(p)
	require.NoError(t, err)

	pattern := &knowledge.Pattern{Title: "Clean", Content: "x", Type: "solution", Confidence: 0.5}
	_, err = store.StorePattern(pattern)
	require.NoError(t, err)

	if withForbidden {
		dirty := &knowledge.Pattern{
			Title: "Dirty", Content: "x", Type: "solution", Confidence: 0.5,
			Metadata: map[string]interface{}{"raw_conversation": "user said..."},
		}
		_, err = store.StorePattern(dirty)
		require.NoError(t, err)
	}
}

func TestValidateTierMissingFileWarns(t *testing.T) {
	v := NewValidator(t.TempDir())

	for _, tier := range AllTiers {
		res := v.ValidateTier(tier)
		if res.State != StateWarned {
			t.Errorf("%s: expected WARNED for missing file, got %s", tier, res.State)
		}
		if len(res.Violations) != 1 || res.Violations[0].Severity != SeverityWarning {
			t.Errorf("%s: expected a single warning, got %+v", tier, res.Violations)
		}
	}
}

func TestValidateGovernance(t *testing.T) {
	t.Run("clean file passes", func(t *testing.T) {
		dir := t.TempDir()
		writeTierFile(t, dir, "governance.json", `{"rules": ["no secrets in patterns"]}`)
		res := NewValidator(dir).ValidateTier(TierGovernance)
		if res.State != StatePassed {
			t.Fatalf("Expected PASSED, got %s (%+v)", res.State, res.Violations)
		}
	})

	t.Run("forbidden key is critical", func(t *testing.T) {
		dir := t.TempDir()
		writeTierFile(t, dir, "governance.json",
			`{"rules": [], "conversation": "hello there"}`)
		res := NewValidator(dir).ValidateTier(TierGovernance)
		if res.State != StateViolated {
			t.Fatalf("Expected VIOLATED, got %s", res.State)
		}
		foundCritical := false
		for _, viol := range res.Violations {
			if viol.Severity == SeverityCritical && strings.Contains(viol.Message, "conversation") {
				foundCritical = true
			}
		}
		if !foundCritical {
			t.Errorf("Expected a critical violation naming the key, got %+v", res.Violations)
		}
	})

	t.Run("missing rules key is an error", func(t *testing.T) {
		dir := t.TempDir()
		writeTierFile(t, dir, "governance.json", `{"version": 1}`)
		res := NewValidator(dir).ValidateTier(TierGovernance)
		if res.State != StateViolated {
			t.Fatalf("Expected VIOLATED, got %s", res.State)
		}
	})

	t.Run("malformed JSON is an error", func(t *testing.T) {
		dir := t.TempDir()
		writeTierFile(t, dir, "governance.json", `{not json`)
		res := NewValidator(dir).ValidateTier(TierGovernance)
		if res.State != StateViolated {
			t.Fatalf("Expected VIOLATED, got %s", res.State)
		}
	})
}

func TestValidateWorkingMemory(t *testing.T) {
	t.Run("well-formed JSONL passes", func(t *testing.T) {
		dir := t.TempDir()
		writeTierFile(t, dir, "working_memory.jsonl",
			`{"ts": 1700000000, "note": "raw conversational text is fine here"}
{"ts": 1700000001, "note": "second entry"}
`)
		res := NewValidator(dir).ValidateTier(TierWorkingMemory)
		if res.State != StatePassed {
			t.Fatalf("Expected PASSED, got %s (%+v)", res.State, res.Violations)
		}
	})

	t.Run("malformed line is one violation, not an abort", func(t *testing.T) {
		dir := t.TempDir()
		writeTierFile(t, dir, "working_memory.jsonl",
			`{"ts": 1}
not json at all
{"missing": "timestamp"}
{"ts": 4}
`)
		res := NewValidator(dir).ValidateTier(TierWorkingMemory)
		if res.State != StateViolated {
			t.Fatalf("Expected VIOLATED, got %s", res.State)
		}
		if len(res.Violations) != 2 {
			t.Fatalf("Expected 2 violations (bad line, missing ts), got %d: %+v",
				len(res.Violations), res.Violations)
		}
		if res.Violations[0].Line != 2 {
			t.Errorf("Expected the malformed line at line 2, got %d", res.Violations[0].Line)
		}
		if res.Violations[1].Line != 3 {
			t.Errorf("Expected the missing-ts entry at line 3, got %d", res.Violations[1].Line)
		}
	})
}

func TestValidatePatternsDB(t *testing.T) {
	t.Run("clean database passes", func(t *testing.T) {
		dir := t.TempDir()
		seedPatternsDB(t, dir, false)
		res := NewValidator(dir).ValidateTier(TierPatterns)
		if res.State != StatePassed {
			t.Fatalf("Expected PASSED, got %s (%+v)", res.State, res.Violations)
		}
	})

	t.Run("conversational metadata is critical", func(t *testing.T) {
		dir := t.TempDir()
		seedPatternsDB(t, dir, true)
		res := NewValidator(dir).ValidateTier(TierPatterns)
		if res.State != StateViolated {
			t.Fatalf("Expected VIOLATED, got %s", res.State)
		}
		if len(res.Violations) != 1 || res.Violations[0].Severity != SeverityCritical {
			t.Errorf("Expected one critical violation, got %+v", res.Violations)
		}
	})
}

func TestValidateMetrics(t *testing.T) {
	t.Run("clean metrics pass", func(t *testing.T) {
		dir := t.TempDir()
		writeTierFile(t, dir, "metrics.json",
			`{"generated_at": "2026-08-30T00:00:00Z", "pattern_count": 42}`)
		res := NewValidator(dir).ValidateTier(TierMetrics)
		if res.State != StatePassed {
			t.Fatalf("Expected PASSED, got %s (%+v)", res.State, res.Violations)
		}
	})

	t.Run("raw conversation payload is critical", func(t *testing.T) {
		dir := t.TempDir()
		writeTierFile(t, dir, "metrics.json",
			`{"generated_at": "2026-08-30T00:00:00Z", "raw_conversation": "..."}`)
		res := NewValidator(dir).ValidateTier(TierMetrics)
		if res.State != StateViolated {
			t.Fatalf("Expected VIOLATED, got %s", res.State)
		}
	})

	t.Run("missing generated_at is an error", func(t *testing.T) {
		dir := t.TempDir()
		writeTierFile(t, dir, "metrics.json", `{"pattern_count": 42}`)
		res := NewValidator(dir).ValidateTier(TierMetrics)
		if res.State != StateViolated {
			t.Fatalf("Expected VIOLATED, got %s", res.State)
		}
	})
}

func TestValidateAllTiersIndependent(t *testing.T) {
	dir := t.TempDir()
	// Tier 0 critically violated, tier 1 clean, tiers 2 and 3 missing.
	writeTierFile(t, dir, "governance.json", `{"rules": [], "session_id": "abc"}`)
	writeTierFile(t, dir, "working_memory.jsonl", `{"ts": 1}`+"\n")

	results := NewValidator(dir).ValidateAllTiers()
	if len(results) != 4 {
		t.Fatalf("Expected 4 results, got %d", len(results))
	}

	// Results come back in tier order.
	for i, res := range results {
		if res.Tier != Tier(i) {
			t.Errorf("Result %d is for %s", i, res.Tier)
		}
	}

	if results[0].State != StateViolated {
		t.Errorf("Tier 0 should be VIOLATED, got %s", results[0].State)
	}
	// One tier's violation must not block the others.
	if results[1].State != StatePassed {
		t.Errorf("Tier 1 should be PASSED, got %s", results[1].State)
	}
	if results[2].State != StateWarned || results[3].State != StateWarned {
		t.Errorf("Missing tiers should be WARNED, got %s/%s", results[2].State, results[3].State)
	}

	if Healthy(results) {
		t.Error("Healthy must be false when any tier is violated")
	}
}

func TestGenerateReport(t *testing.T) {
	dir := t.TempDir()
	writeTierFile(t, dir, "governance.json", `{"rules": []}`)

	results := NewValidator(dir).ValidateAllTiers()
	report := GenerateReport(results)

	for _, want := range []string{
		"Tier Audit Report",
		"tier0-governance",
		"tier3-metrics",
		"Summary:",
	} {
		if !strings.Contains(report, want) {
			t.Errorf("Report missing %q:\n%s", want, report)
		}
	}

	// Pure function: identical input, identical output.
	if again := GenerateReport(results); again != report {
		t.Error("GenerateReport is not deterministic for the same results")
	}
}
