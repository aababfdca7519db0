package logging

// Audit journal of pattern lifecycle events. Entries are structured JSONL
// so operational tooling can replay how the knowledge base evolved: what
// was stored, refined, superseded, and which tier audits flagged
// violations.

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// AuditEventType defines the type of audit event.
type AuditEventType string

const (
	// Pattern lifecycle events
	AuditPatternStore   AuditEventType = "pattern_store"
	AuditPatternUsage   AuditEventType = "pattern_usage"
	AuditPatternRefine  AuditEventType = "pattern_refine"
	AuditPatternArchive AuditEventType = "pattern_archive"

	// Relationship events
	AuditRelationCreate AuditEventType = "relation_create"

	// Conflict resolution events
	AuditConflictResolve AuditEventType = "conflict_resolve"

	// Tier audit events
	AuditTierChecked   AuditEventType = "tier_checked"
	AuditTierViolation AuditEventType = "tier_violation"

	// Pool events
	AuditPoolTimeout AuditEventType = "pool_timeout"
)

// AuditEvent represents one structured audit journal entry.
type AuditEvent struct {
	Timestamp int64                  `json:"ts"`    // Unix milliseconds
	EventType AuditEventType         `json:"event"` // Event type
	PatternID string                 `json:"pattern,omitempty"`
	Target    string                 `json:"target,omitempty"` // Secondary subject (edge target, tier name)
	Success   bool                   `json:"success"`
	Error     string                 `json:"error,omitempty"`
	Message   string                 `json:"msg,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

var (
	auditFile *os.File
	auditMu   sync.Mutex
)

// InitAudit initializes the audit journal. No-op unless debug mode is on.
func InitAudit() error {
	if !IsDebugMode() {
		return nil
	}

	auditMu.Lock()
	defer auditMu.Unlock()

	if auditFile != nil {
		return nil // Already initialized
	}

	date := time.Now().Format("2006-01-02")
	auditPath := filepath.Join(logsDir, fmt.Sprintf("%s_audit.jsonl", date))

	file, err := os.OpenFile(auditPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to create audit journal: %w", err)
	}
	auditFile = file

	return nil
}

// CloseAudit closes the audit journal file.
func CloseAudit() {
	auditMu.Lock()
	defer auditMu.Unlock()

	if auditFile != nil {
		auditFile.Close()
		auditFile = nil
	}
}

// Audit writes an audit event to the journal. Silently a no-op when the
// journal is not initialized; audit logging must never fail an operation.
func Audit(event AuditEvent) {
	if !IsDebugMode() {
		return
	}

	if event.Timestamp == 0 {
		event.Timestamp = time.Now().UnixMilli()
	}

	auditMu.Lock()
	defer auditMu.Unlock()

	if auditFile == nil {
		return
	}

	data, err := json.Marshal(event)
	if err == nil {
		auditFile.WriteString(string(data) + "\n")
	}
}

// AuditOp is a convenience helper for simple success/failure events.
func AuditOp(eventType AuditEventType, patternID string, err error) {
	event := AuditEvent{
		EventType: eventType,
		PatternID: patternID,
		Success:   err == nil,
	}
	if err != nil {
		event.Error = err.Error()
	}
	Audit(event)
}
