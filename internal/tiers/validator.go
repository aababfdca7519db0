// Package tiers audits the four-tier knowledge layout on disk. Each tier
// has a canonical file and a contract about what may live in it; the
// validator checks the contracts without ever modifying tier content.
package tiers

import (
	"bufio"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/sync/errgroup"

	"patternvault/internal/logging"
)

// Tier identifies one layer of the knowledge store.
type Tier int

const (
	TierGovernance    Tier = iota // governance.json, immutable rules
	TierWorkingMemory             // working_memory.jsonl, append-only scratch
	TierPatterns                  // patterns.db, the durable pattern graph
	TierMetrics                   // metrics.json, derived aggregates
)

// Filename returns the canonical file for the tier, relative to the tier
// directory.
func (t Tier) Filename() string {
	switch t {
	case TierGovernance:
		return "governance.json"
	case TierWorkingMemory:
		return "working_memory.jsonl"
	case TierPatterns:
		return "patterns.db"
	case TierMetrics:
		return "metrics.json"
	}
	return ""
}

func (t Tier) String() string {
	switch t {
	case TierGovernance:
		return "tier0-governance"
	case TierWorkingMemory:
		return "tier1-working-memory"
	case TierPatterns:
		return "tier2-patterns"
	case TierMetrics:
		return "tier3-metrics"
	}
	return fmt.Sprintf("tier?(%d)", int(t))
}

// AllTiers lists every tier in order.
var AllTiers = []Tier{TierGovernance, TierWorkingMemory, TierPatterns, TierMetrics}

// State is the audit state of one tier.
type State string

const (
	StateUnchecked State = "UNCHECKED"
	StatePassed    State = "PASSED"
	StateWarned    State = "WARNED"
	StateViolated  State = "VIOLATED"
)

// Severity ranks a violation. Warnings never fail a tier; errors and
// criticals do.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Violation is one finding from a tier check.
type Violation struct {
	Tier     Tier
	Severity Severity
	Path     string
	Line     int // 1-based line for JSONL findings, 0 otherwise
	Message  string
}

// Result is the outcome of auditing one tier.
type Result struct {
	Tier       Tier
	State      State
	Violations []Violation
	CheckedAt  time.Time
}

// Validator audits the tier directory. It holds no open handles between
// calls; tier 2 is opened read-only for the duration of its check.
type Validator struct {
	dir string
}

// NewValidator returns a validator rooted at the given tier directory.
func NewValidator(dir string) *Validator {
	return &Validator{dir: dir}
}

// Dir returns the tier directory being audited.
func (v *Validator) Dir() string { return v.dir }

// ValidateTier audits one tier. A missing canonical file is a warning
// (the tier may simply not exist yet); malformed content is an error;
// forbidden content is critical. The check never mutates the tier.
func (v *Validator) ValidateTier(t Tier) Result {
	timer := logging.StartTimer(logging.CategoryTiers, fmt.Sprintf("ValidateTier(%s)", t))
	defer timer.Stop()

	res := Result{Tier: t, State: StateUnchecked, CheckedAt: time.Now().UTC()}
	path := filepath.Join(v.dir, t.Filename())

	if _, err := os.Stat(path); os.IsNotExist(err) {
		res.Violations = append(res.Violations, Violation{
			Tier:     t,
			Severity: SeverityWarning,
			Path:     path,
			Message:  "canonical file does not exist",
		})
		res.State = stateFor(res.Violations)
		v.audit(res)
		return res
	}

	switch t {
	case TierGovernance:
		res.Violations = v.checkGovernance(path)
	case TierWorkingMemory:
		res.Violations = v.checkWorkingMemory(path)
	case TierPatterns:
		res.Violations = v.checkPatternsDB(path)
	case TierMetrics:
		res.Violations = v.checkMetrics(path)
	default:
		res.Violations = append(res.Violations, Violation{
			Tier:     t,
			Severity: SeverityError,
			Path:     path,
			Message:  "unknown tier",
		})
	}

	res.State = stateFor(res.Violations)
	v.audit(res)
	return res
}

// ValidateAllTiers audits every tier concurrently. Checks are independent:
// one tier's violations never block or abort another tier's check. Results
// come back in tier order.
func (v *Validator) ValidateAllTiers() []Result {
	timer := logging.StartTimer(logging.CategoryTiers, "ValidateAllTiers")
	defer timer.Stop()

	results := make([]Result, len(AllTiers))
	var g errgroup.Group
	for i, t := range AllTiers {
		i, t := i, t
		g.Go(func() error {
			results[i] = v.ValidateTier(t)
			return nil
		})
	}
	// Checks never return errors; violations live in the results.
	_ = g.Wait()

	logging.Tiers("Audited %d tiers", len(results))
	return results
}

// checkGovernance verifies tier 0: valid JSON object, a rules key, and no
// conversational identity keys.
func (v *Validator) checkGovernance(path string) []Violation {
	var found []Violation

	doc, errs := readJSONObject(TierGovernance, path)
	if len(errs) > 0 {
		return errs
	}

	for _, key := range []string{"conversation", "session_id", "user_id", "sessions"} {
		if _, ok := doc[key]; ok {
			found = append(found, Violation{
				Tier:     TierGovernance,
				Severity: SeverityCritical,
				Path:     path,
				Message:  fmt.Sprintf("forbidden key %q present in governance file", key),
			})
		}
	}
	if _, ok := doc["rules"]; !ok {
		found = append(found, Violation{
			Tier:     TierGovernance,
			Severity: SeverityError,
			Path:     path,
			Message:  `required key "rules" missing`,
		})
	}
	return found
}

// checkWorkingMemory verifies tier 1 line by line. A malformed line is one
// violation, never an abort; remaining lines are still checked.
func (v *Validator) checkWorkingMemory(path string) []Violation {
	var found []Violation

	f, err := os.Open(path)
	if err != nil {
		return []Violation{{
			Tier:     TierWorkingMemory,
			Severity: SeverityError,
			Path:     path,
			Message:  fmt.Sprintf("cannot open: %v", err),
		}}
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var entry map[string]interface{}
		if err := json.Unmarshal(line, &entry); err != nil {
			found = append(found, Violation{
				Tier:     TierWorkingMemory,
				Severity: SeverityError,
				Path:     path,
				Line:     lineNo,
				Message:  fmt.Sprintf("malformed JSON line: %v", err),
			})
			continue
		}
		if _, ok := entry["ts"]; !ok {
			found = append(found, Violation{
				Tier:     TierWorkingMemory,
				Severity: SeverityError,
				Path:     path,
				Line:     lineNo,
				Message:  `entry missing required "ts" key`,
			})
		}
	}
	if err := scanner.Err(); err != nil {
		found = append(found, Violation{
			Tier:     TierWorkingMemory,
			Severity: SeverityError,
			Path:     path,
			Message:  fmt.Sprintf("read failed: %v", err),
		})
	}
	return found
}

// checkPatternsDB verifies tier 2 over a read-only connection: no pattern
// may carry raw conversational content in its metadata.
func (v *Validator) checkPatternsDB(path string) []Violation {
	var found []Violation

	db, err := sql.Open("sqlite3", "file:"+path+"?mode=ro")
	if err != nil {
		return []Violation{{
			Tier:     TierPatterns,
			Severity: SeverityError,
			Path:     path,
			Message:  fmt.Sprintf("cannot open read-only: %v", err),
		}}
	}
	defer db.Close()

	rows, err := db.Query(`
		SELECT pattern_id FROM patterns
		WHERE json_extract(metadata, '$.raw_conversation') IS NOT NULL
		   OR json_extract(metadata, '$.transcript') IS NOT NULL`)
	if err != nil {
		return []Violation{{
			Tier:     TierPatterns,
			Severity: SeverityError,
			Path:     path,
			Message:  fmt.Sprintf("integrity query failed: %v", err),
		}}
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			continue
		}
		found = append(found, Violation{
			Tier:     TierPatterns,
			Severity: SeverityCritical,
			Path:     path,
			Message:  fmt.Sprintf("pattern %s carries forbidden conversational metadata", id),
		})
	}
	if err := rows.Err(); err != nil {
		found = append(found, Violation{
			Tier:     TierPatterns,
			Severity: SeverityError,
			Path:     path,
			Message:  fmt.Sprintf("integrity scan failed: %v", err),
		})
	}
	return found
}

// checkMetrics verifies tier 3: valid JSON object, a generated_at stamp,
// and no conversational payloads.
func (v *Validator) checkMetrics(path string) []Violation {
	var found []Violation

	doc, errs := readJSONObject(TierMetrics, path)
	if len(errs) > 0 {
		return errs
	}

	for _, key := range []string{"raw_conversation", "conversation"} {
		if _, ok := doc[key]; ok {
			found = append(found, Violation{
				Tier:     TierMetrics,
				Severity: SeverityCritical,
				Path:     path,
				Message:  fmt.Sprintf("forbidden key %q present in metrics file", key),
			})
		}
	}
	if _, ok := doc["generated_at"]; !ok {
		found = append(found, Violation{
			Tier:     TierMetrics,
			Severity: SeverityError,
			Path:     path,
			Message:  `required key "generated_at" missing`,
		})
	}
	return found
}

// readJSONObject loads a file expected to hold one JSON object.
func readJSONObject(t Tier, path string) (map[string]interface{}, []Violation) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, []Violation{{
			Tier:     t,
			Severity: SeverityError,
			Path:     path,
			Message:  fmt.Sprintf("cannot read: %v", err),
		}}
	}

	var doc map[string]interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, []Violation{{
			Tier:     t,
			Severity: SeverityError,
			Path:     path,
			Message:  fmt.Sprintf("malformed JSON: %v", err),
		}}
	}
	return doc, nil
}

// stateFor derives the tier state from its findings: errors and criticals
// fail the tier, warnings alone only mark it.
func stateFor(violations []Violation) State {
	state := StatePassed
	for _, v := range violations {
		switch v.Severity {
		case SeverityError, SeverityCritical:
			return StateViolated
		case SeverityWarning:
			state = StateWarned
		}
	}
	return state
}

// audit writes the tier outcome to the audit journal.
func (v *Validator) audit(res Result) {
	logging.Audit(logging.AuditEvent{
		EventType: logging.AuditTierChecked,
		Target:    res.Tier.String(),
		Success:   res.State == StatePassed || res.State == StateWarned,
		Message:   string(res.State),
	})
	for _, viol := range res.Violations {
		if viol.Severity == SeverityWarning {
			continue
		}
		logging.Audit(logging.AuditEvent{
			EventType: logging.AuditTierViolation,
			Target:    res.Tier.String(),
			Success:   false,
			Message:   viol.Message,
		})
		logging.Get(logging.CategoryTiers).Warn("%s: [%s] %s", res.Tier, viol.Severity, viol.Message)
	}
}
