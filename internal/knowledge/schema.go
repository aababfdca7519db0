package knowledge

import (
	"database/sql"
	"fmt"

	"patternvault/internal/logging"
)

// Schema for the pattern knowledge database. The column layout is a
// compatibility contract with existing stores and must not change shape:
// success/failure counters and the domain/operation classification live
// inside the metadata JSON document, not in dedicated columns.
const patternsTable = `
CREATE TABLE IF NOT EXISTS patterns (
	pattern_id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	content TEXT NOT NULL,
	pattern_type TEXT NOT NULL,
	confidence REAL NOT NULL DEFAULT 0.5,
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
	last_accessed DATETIME DEFAULT CURRENT_TIMESTAMP,
	access_count INTEGER DEFAULT 0,
	source TEXT DEFAULT '',
	metadata TEXT DEFAULT '{}',
	scope TEXT DEFAULT 'project',
	namespaces TEXT DEFAULT '[]'
);
CREATE INDEX IF NOT EXISTS idx_patterns_type ON patterns(pattern_type);
CREATE INDEX IF NOT EXISTS idx_patterns_confidence ON patterns(confidence);
CREATE INDEX IF NOT EXISTS idx_patterns_scope ON patterns(scope);
`

const relationshipsTable = `
CREATE TABLE IF NOT EXISTS pattern_relationships (
	from_pattern TEXT NOT NULL,
	to_pattern TEXT NOT NULL,
	relationship_type TEXT NOT NULL,
	strength REAL DEFAULT 1.0,
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
	UNIQUE(from_pattern, to_pattern, relationship_type)
);
CREATE INDEX IF NOT EXISTS idx_rel_from ON pattern_relationships(from_pattern);
CREATE INDEX IF NOT EXISTS idx_rel_to ON pattern_relationships(to_pattern);
CREATE INDEX IF NOT EXISTS idx_rel_type ON pattern_relationships(relationship_type);
`

// Full-text index over pattern id and title. Maintained synchronously with
// every pattern write so a stored pattern is searchable immediately after
// StorePattern returns. Supports FTS5 boolean/OR query syntax.
const patternsFTSTable = `
CREATE VIRTUAL TABLE IF NOT EXISTS patterns_fts USING fts5(
	pattern_id,
	title
);
`

// EnsureSchema creates the required tables and the full-text index.
// Safe to call on every startup; all statements are IF NOT EXISTS.
func EnsureSchema(db *sql.DB) error {
	timer := logging.StartTimer(logging.CategoryBoot, "EnsureSchema")
	defer timer.Stop()

	for _, stmt := range []string{patternsTable, relationshipsTable, patternsFTSTable} {
		if _, err := db.Exec(stmt); err != nil {
			logging.Get(logging.CategoryBoot).Error("Schema initialization failed: %v", err)
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}

	logging.BootDebug("Pattern schema ready (patterns, pattern_relationships, patterns_fts)")
	return nil
}
