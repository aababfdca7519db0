package knowledge

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"patternvault/internal/logging"
	"patternvault/internal/pool"
)

// PatternStore provides durable CRUD and full-text search for patterns.
// Every operation leases exactly one connection from the pool for its unit
// of work and releases it on all paths.
type PatternStore struct {
	pool *pool.Pool
}

// NewPatternStore initializes the schema and returns a store bound to the
// given pool. The pool is passed in explicitly; there is no process-wide
// singleton.
func NewPatternStore(p *pool.Pool) (*PatternStore, error) {
	timer := logging.StartTimer(logging.CategoryStore, "NewPatternStore")
	defer timer.Stop()

	if p == nil {
		return nil, fmt.Errorf("knowledge: connection pool required")
	}

	if err := p.WithConn(EnsureSchema); err != nil {
		return nil, err
	}

	logging.Store("PatternStore initialized")
	return &PatternStore{pool: p}, nil
}

// Pool exposes the underlying connection pool for collaborators that share
// the same database (the relationship manager).
func (s *PatternStore) Pool() *pool.Pool { return s.pool }

// StorePattern inserts the pattern, or replaces it when the id already
// exists, and synchronously updates the full-text index: the pattern is
// searchable the moment this returns. An empty id gets a generated one.
// Returns the effective id.
func (s *PatternStore) StorePattern(p *Pattern) (string, error) {
	timer := logging.StartTimer(logging.CategoryStore, "StorePattern")
	defer timer.Stop()

	if err := p.Validate(); err != nil {
		return "", err
	}

	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	if p.LastAccessed.IsZero() {
		p.LastAccessed = now
	}
	if p.Scope == "" {
		p.Scope = ScopeProject
	}

	metaJSON, err := encodeMetadata(p)
	if err != nil {
		return "", err
	}
	nsJSON, err := json.Marshal(p.Namespaces)
	if err != nil {
		return "", fmt.Errorf("failed to marshal namespaces: %w", err)
	}

	logging.StoreDebug("Storing pattern id=%s type=%s confidence=%.2f", p.ID, p.Type, p.Confidence)

	err = s.pool.WithConn(func(db *sql.DB) error {
		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer tx.Rollback()

		if _, err := tx.Exec(`
			INSERT OR REPLACE INTO patterns
				(pattern_id, title, content, pattern_type, confidence,
				 created_at, last_accessed, access_count, source, metadata, scope, namespaces)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			p.ID, p.Title, p.Content, p.Type, p.Confidence,
			p.CreatedAt, p.LastAccessed, p.UsageCount, p.Source,
			metaJSON, p.Scope, string(nsJSON),
		); err != nil {
			return fmt.Errorf("failed to store pattern: %w", err)
		}

		// Keep the full-text index in lockstep inside the same transaction.
		if _, err := tx.Exec(`DELETE FROM patterns_fts WHERE pattern_id = ?`, p.ID); err != nil {
			return fmt.Errorf("failed to clear fts entry: %w", err)
		}
		if _, err := tx.Exec(`INSERT INTO patterns_fts (pattern_id, title) VALUES (?, ?)`, p.ID, p.Title); err != nil {
			return fmt.Errorf("failed to index pattern: %w", err)
		}

		return tx.Commit()
	})
	if err != nil {
		logging.Get(logging.CategoryStore).Error("Failed to store pattern %s: %v", p.ID, err)
		logging.AuditOp(logging.AuditPatternStore, p.ID, err)
		return "", err
	}

	logging.Store("Pattern stored: id=%s type=%s", p.ID, p.Type)
	logging.AuditOp(logging.AuditPatternStore, p.ID, nil)
	return p.ID, nil
}

// GetPatternByID returns the pattern or ErrNotFound.
func (s *PatternStore) GetPatternByID(id string) (*Pattern, error) {
	timer := logging.StartTimer(logging.CategoryStore, "GetPatternByID")
	defer timer.Stop()

	var p *Pattern
	err := s.pool.WithConn(func(db *sql.DB) error {
		row := db.QueryRow(selectPatternCols+` FROM patterns WHERE pattern_id = ?`, id)
		var scanErr error
		p, scanErr = scanPattern(row)
		return scanErr
	})
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("pattern %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// SearchPatterns performs a full-text match over title plus a substring
// match over content, filtered by namespace prefix and confidence floor,
// ordered by relevance then confidence descending. Returns an empty slice,
// never an error, when nothing matches.
func (s *PatternStore) SearchPatterns(query, namespace string, minConfidence float64, limit int) ([]Pattern, error) {
	timer := logging.StartTimer(logging.CategoryStore, "SearchPatterns")
	defer timer.Stop()

	if limit <= 0 {
		limit = 10
	}
	if limit > 50 {
		limit = 50
	}

	query = strings.TrimSpace(query)
	if query == "" {
		return []Pattern{}, nil
	}

	logging.StoreDebug("Searching patterns: query=%q namespace=%q minConfidence=%.2f limit=%d",
		query, namespace, minConfidence, limit)

	ftsQuery := buildFTSORQuery(query)
	likeArg := "%" + query + "%"

	var results []Pattern
	err := s.pool.WithConn(func(db *sql.DB) error {
		var rows *sql.Rows
		var err error
		if ftsQuery != "" {
			rows, err = db.Query(selectPatternColsPrefixed+`
				FROM patterns p
				LEFT JOIN (
					SELECT pattern_id, rank AS score
					FROM patterns_fts
					WHERE patterns_fts MATCH ?
				) f ON f.pattern_id = p.pattern_id
				WHERE (f.pattern_id IS NOT NULL OR p.content LIKE ?)
				  AND p.confidence >= ?
				ORDER BY (f.pattern_id IS NULL) ASC, f.score ASC, p.confidence DESC`,
				ftsQuery, likeArg, minConfidence)
		} else {
			// Query reduced to no indexable terms; substring match only.
			rows, err = db.Query(selectPatternColsPrefixed+`
				FROM patterns p
				WHERE (p.title LIKE ? OR p.content LIKE ?)
				  AND p.confidence >= ?
				ORDER BY p.confidence DESC`,
				likeArg, likeArg, minConfidence)
		}
		if err != nil {
			return fmt.Errorf("search query failed: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			p, err := scanPattern(rows)
			if err != nil {
				logging.Get(logging.CategoryStore).Warn("Failed to scan search row: %v", err)
				continue
			}
			if !matchesNamespace(p.Namespaces, namespace) {
				continue
			}
			results = append(results, *p)
			if len(results) >= limit {
				break
			}
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	if results == nil {
		results = []Pattern{}
	}

	logging.StoreDebug("Search returned %d patterns", len(results))
	return results, nil
}

// UpdateUsage atomically increments the usage count and either the success
// or failure counter, touching last_accessed. The success/failure counters
// ride inside the metadata JSON document so the column layout stays fixed.
func (s *PatternStore) UpdateUsage(id string, success bool) error {
	timer := logging.StartTimer(logging.CategoryStore, "UpdateUsage")
	defer timer.Stop()

	logging.StoreDebug("Recording usage for %s (success=%v)", id, success)

	err := s.pool.WithConn(func(db *sql.DB) error {
		res, err := db.Exec(`
			UPDATE patterns SET
				access_count = access_count + 1,
				last_accessed = CURRENT_TIMESTAMP,
				metadata = json_set(
					COALESCE(NULLIF(metadata, ''), '{}'),
					'$.success_count',
					COALESCE(json_extract(metadata, '$.success_count'), 0) + CASE WHEN ? THEN 1 ELSE 0 END,
					'$.failure_count',
					COALESCE(json_extract(metadata, '$.failure_count'), 0) + CASE WHEN ? THEN 0 ELSE 1 END
				)
			WHERE pattern_id = ?`,
			success, success, id)
		if err != nil {
			return fmt.Errorf("failed to update usage: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("pattern %q: %w", id, ErrNotFound)
		}
		return nil
	})
	logging.AuditOp(logging.AuditPatternUsage, id, err)
	return err
}

// UpdateConfidence persists a refined confidence score. Used by the
// refiner; the value is expected to be pre-clamped.
func (s *PatternStore) UpdateConfidence(id string, confidence float64) error {
	timer := logging.StartTimer(logging.CategoryStore, "UpdateConfidence")
	defer timer.Stop()

	return s.pool.WithConn(func(db *sql.DB) error {
		res, err := db.Exec(`
			UPDATE patterns SET confidence = ?, last_accessed = CURRENT_TIMESTAMP
			WHERE pattern_id = ?`,
			confidence, id)
		if err != nil {
			return fmt.Errorf("failed to update confidence: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("pattern %q: %w", id, ErrNotFound)
		}
		return nil
	})
}

// GetPatternStats returns aggregate counts: total, per pattern type, and
// per confidence band. Read-only.
func (s *PatternStore) GetPatternStats() (*PatternStats, error) {
	timer := logging.StartTimer(logging.CategoryStore, "GetPatternStats")
	defer timer.Stop()

	stats := &PatternStats{
		ByType:           make(map[string]int64),
		ByConfidenceBand: make(map[string]int64),
	}

	err := s.pool.WithConn(func(db *sql.DB) error {
		if err := db.QueryRow(`SELECT COUNT(*) FROM patterns`).Scan(&stats.Total); err != nil {
			return fmt.Errorf("failed to count patterns: %w", err)
		}

		rows, err := db.Query(`SELECT pattern_type, COUNT(*) FROM patterns GROUP BY pattern_type`)
		if err != nil {
			return fmt.Errorf("failed to group by type: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var t string
			var n int64
			if err := rows.Scan(&t, &n); err != nil {
				continue
			}
			stats.ByType[t] = n
		}
		if err := rows.Err(); err != nil {
			return err
		}

		var high, medium, low int64
		err = db.QueryRow(`
			SELECT
				SUM(CASE WHEN confidence >= 0.8 THEN 1 ELSE 0 END),
				SUM(CASE WHEN confidence >= 0.5 AND confidence < 0.8 THEN 1 ELSE 0 END),
				SUM(CASE WHEN confidence < 0.5 THEN 1 ELSE 0 END)
			FROM patterns`).Scan(&high, &medium, &low)
		if err != nil && stats.Total > 0 {
			return fmt.Errorf("failed to compute confidence bands: %w", err)
		}
		stats.ByConfidenceBand["high"] = high
		stats.ByConfidenceBand["medium"] = medium
		stats.ByConfidenceBand["low"] = low
		return nil
	})
	if err != nil {
		return nil, err
	}

	logging.StoreDebug("Pattern stats: total=%d types=%d", stats.Total, len(stats.ByType))
	return stats, nil
}

// FindByDomainOperation returns all patterns classified under the given
// domain and operation (metadata keys), ordered by confidence descending.
// Patterns missing either key never participate.
func (s *PatternStore) FindByDomainOperation(domain, operation string) ([]Pattern, error) {
	timer := logging.StartTimer(logging.CategoryStore, "FindByDomainOperation")
	defer timer.Stop()

	var results []Pattern
	err := s.pool.WithConn(func(db *sql.DB) error {
		rows, err := db.Query(selectPatternCols+`
			FROM patterns
			WHERE json_extract(metadata, '$.domain') = ?
			  AND json_extract(metadata, '$.operation') = ?
			ORDER BY confidence DESC`,
			domain, operation)
		if err != nil {
			return fmt.Errorf("domain/operation query failed: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			p, err := scanPattern(rows)
			if err != nil {
				continue
			}
			results = append(results, *p)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// ListForAnalysis returns patterns with at least minUsage recorded usages,
// optionally restricted to a metadata domain. Used by effectiveness
// analysis so low-sample patterns do not skew conclusions.
func (s *PatternStore) ListForAnalysis(domain string, minUsage int) ([]Pattern, error) {
	timer := logging.StartTimer(logging.CategoryStore, "ListForAnalysis")
	defer timer.Stop()

	var results []Pattern
	err := s.pool.WithConn(func(db *sql.DB) error {
		q := selectPatternCols + ` FROM patterns WHERE access_count >= ?`
		args := []interface{}{minUsage}
		if domain != "" {
			q += ` AND json_extract(metadata, '$.domain') = ?`
			args = append(args, domain)
		}
		q += ` ORDER BY confidence DESC`

		rows, err := db.Query(q, args...)
		if err != nil {
			return fmt.Errorf("analysis query failed: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			p, err := scanPattern(rows)
			if err != nil {
				continue
			}
			results = append(results, *p)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// =============================================================================
// Row scanning and encoding helpers
// =============================================================================

const selectPatternCols = `SELECT pattern_id, title, content, pattern_type, confidence,
	created_at, last_accessed, access_count, source, metadata, scope, namespaces`

const selectPatternColsPrefixed = `SELECT p.pattern_id, p.title, p.content, p.pattern_type, p.confidence,
	p.created_at, p.last_accessed, p.access_count, p.source, p.metadata, p.scope, p.namespaces`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanPattern decodes one patterns row, unpacking the metadata document
// into counters and the open metadata map.
func scanPattern(row rowScanner) (*Pattern, error) {
	var p Pattern
	var metaJSON, nsJSON sql.NullString
	var source sql.NullString

	if err := row.Scan(
		&p.ID, &p.Title, &p.Content, &p.Type, &p.Confidence,
		&p.CreatedAt, &p.LastAccessed, &p.UsageCount, &source,
		&metaJSON, &p.Scope, &nsJSON,
	); err != nil {
		return nil, err
	}
	p.Source = source.String

	if nsJSON.Valid && nsJSON.String != "" {
		if err := json.Unmarshal([]byte(nsJSON.String), &p.Namespaces); err != nil {
			logging.Get(logging.CategoryStore).Warn("Namespaces unmarshal failed for %s: %v", p.ID, err)
		}
	}

	if metaJSON.Valid && metaJSON.String != "" {
		meta := make(map[string]interface{})
		if err := json.Unmarshal([]byte(metaJSON.String), &meta); err != nil {
			logging.Get(logging.CategoryStore).Warn("Metadata unmarshal failed for %s: %v", p.ID, err)
		} else {
			p.SuccessCount = popIntKey(meta, "success_count")
			p.FailureCount = popIntKey(meta, "failure_count")
			p.Metadata = meta
		}
	}

	return &p, nil
}

// encodeMetadata folds the success/failure counters back into the metadata
// document for persistence.
func encodeMetadata(p *Pattern) (string, error) {
	meta := make(map[string]interface{}, len(p.Metadata)+2)
	for k, v := range p.Metadata {
		meta[k] = v
	}
	meta["success_count"] = p.SuccessCount
	meta["failure_count"] = p.FailureCount

	data, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return string(data), nil
}

// popIntKey removes an integer-valued key from a decoded JSON map.
func popIntKey(meta map[string]interface{}, key string) int {
	v, ok := meta[key]
	if !ok {
		return 0
	}
	delete(meta, key)
	if f, ok := v.(float64); ok && f >= 0 {
		return int(f)
	}
	return 0
}

// matchesNamespace reports whether any of the pattern's namespaces has the
// requested prefix. An empty filter matches everything.
func matchesNamespace(namespaces []string, prefix string) bool {
	if prefix == "" {
		return true
	}
	for _, ns := range namespaces {
		if strings.HasPrefix(ns, prefix) {
			return true
		}
	}
	return false
}

// sanitizeFTSTerm escapes one term for FTS5. FTS5 treats - * " ( ) as
// operators; quoting each term keeps user input from breaking the query.
func sanitizeFTSTerm(term string) string {
	escaped := strings.ReplaceAll(term, `"`, `""`)
	return `"` + escaped + `"`
}

// buildFTSORQuery splits text into words and builds an OR query for FTS5.
// Filters very short words and caps the term count; returns "" when
// nothing indexable remains.
func buildFTSORQuery(text string) string {
	words := strings.Fields(strings.ToLower(text))
	var terms []string
	seen := make(map[string]bool)

	for _, w := range words {
		clean := strings.Trim(w, ".,;:!?\"'()[]{}")
		if len(clean) < 2 || seen[clean] {
			continue
		}
		seen[clean] = true
		terms = append(terms, sanitizeFTSTerm(clean))
		if len(terms) >= 10 {
			break
		}
	}

	if len(terms) == 0 {
		return ""
	}
	return strings.Join(terms, " OR ")
}
