package knowledge

import (
	"database/sql"
	"fmt"
	"math"
	"time"

	"patternvault/internal/logging"
	"patternvault/internal/pool"
)

// RelationshipManager maintains the directed, typed graph over patterns and
// answers bounded traversal queries. It shares the store's connection pool so
// edges and patterns live in the same database file.
type RelationshipManager struct {
	pool  *pool.Pool
	store *PatternStore
}

// NewRelationshipManager returns a manager operating on the same database as
// the given store.
func NewRelationshipManager(store *PatternStore) *RelationshipManager {
	return &RelationshipManager{pool: store.Pool(), store: store}
}

// CreateRelationship inserts a directed edge between two existing patterns.
// Self-edges, unknown types and strengths outside [0,1] are rejected with a
// ValidationError; a missing endpoint yields ErrNotFound naming the missing
// id; an identical (from, to, type) edge yields ErrDuplicate.
func (m *RelationshipManager) CreateRelationship(fromID, toID string, relType string, strength float64) (*Relationship, error) {
	timer := logging.StartTimer(logging.CategoryGraph, "CreateRelationship")
	defer timer.Stop()

	if fromID == "" || toID == "" {
		return nil, validationErrorf("pattern_id", "both endpoints must be set")
	}
	if fromID == toID {
		return nil, validationErrorf("pattern_id", "self-relationships are not allowed (%s)", fromID)
	}
	if math.IsNaN(strength) || strength < 0.0 || strength > 1.0 {
		return nil, validationErrorf("strength", "must be in [0.0, 1.0], got %v", strength)
	}
	rt, err := ParseRelationshipType(relType)
	if err != nil {
		return nil, err
	}

	logging.GraphDebug("Creating relationship %s -[%s]-> %s (strength=%.2f)", fromID, rt, toID, strength)

	rel := &Relationship{
		FromPattern: fromID,
		ToPattern:   toID,
		Type:        rt,
		Strength:    strength,
		CreatedAt:   time.Now().UTC(),
	}

	err = m.pool.WithConn(func(db *sql.DB) error {
		for _, id := range []string{fromID, toID} {
			var exists int
			if err := db.QueryRow(`SELECT 1 FROM patterns WHERE pattern_id = ?`, id).Scan(&exists); err != nil {
				if err == sql.ErrNoRows {
					return fmt.Errorf("pattern %q: %w", id, ErrNotFound)
				}
				return fmt.Errorf("failed to check pattern %s: %w", id, err)
			}
		}

		var dup int
		err := db.QueryRow(`
			SELECT 1 FROM pattern_relationships
			WHERE from_pattern = ? AND to_pattern = ? AND relationship_type = ?`,
			fromID, toID, string(rt)).Scan(&dup)
		if err == nil {
			return fmt.Errorf("%s -[%s]-> %s: %w", fromID, rt, toID, ErrDuplicate)
		}
		if err != sql.ErrNoRows {
			return fmt.Errorf("failed to check for duplicate edge: %w", err)
		}

		if _, err := db.Exec(`
			INSERT INTO pattern_relationships
				(from_pattern, to_pattern, relationship_type, strength, created_at)
			VALUES (?, ?, ?, ?, ?)`,
			fromID, toID, string(rt), strength, rel.CreatedAt); err != nil {
			return fmt.Errorf("failed to insert relationship: %w", err)
		}
		return nil
	})
	if err != nil {
		logging.AuditOp(logging.AuditRelationCreate, fromID, err)
		return nil, err
	}

	logging.Graph("Relationship created: %s -[%s]-> %s", fromID, rt, toID)
	logging.Audit(logging.AuditEvent{
		EventType: logging.AuditRelationCreate,
		PatternID: fromID,
		Target:    toID,
		Success:   true,
		Message:   string(rt),
	})
	return rel, nil
}

// GetRelationships returns edges touching the pattern in the requested
// direction, newest first. A pattern with no edges yields an empty slice.
func (m *RelationshipManager) GetRelationships(patternID string, dir Direction) ([]Relationship, error) {
	timer := logging.StartTimer(logging.CategoryGraph, "GetRelationships")
	defer timer.Stop()

	var where string
	var args []interface{}
	switch dir {
	case DirectionOutgoing:
		where = `from_pattern = ?`
		args = []interface{}{patternID}
	case DirectionIncoming:
		where = `to_pattern = ?`
		args = []interface{}{patternID}
	case DirectionBoth, "":
		where = `(from_pattern = ? OR to_pattern = ?)`
		args = []interface{}{patternID, patternID}
	default:
		return nil, validationErrorf("direction", "unknown direction %q", dir)
	}

	var rels []Relationship
	err := m.pool.WithConn(func(db *sql.DB) error {
		rows, err := db.Query(`
			SELECT from_pattern, to_pattern, relationship_type, strength, created_at
			FROM pattern_relationships
			WHERE `+where+`
			ORDER BY created_at DESC`, args...)
		if err != nil {
			return fmt.Errorf("failed to query relationships: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var r Relationship
			var rt string
			if err := rows.Scan(&r.FromPattern, &r.ToPattern, &rt, &r.Strength, &r.CreatedAt); err != nil {
				logging.Get(logging.CategoryGraph).Warn("Failed to scan relationship row: %v", err)
				continue
			}
			r.Type = RelationshipType(rt)
			rels = append(rels, r)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	if rels == nil {
		rels = []Relationship{}
	}
	return rels, nil
}

// TraverseGraph walks outgoing edges breadth-first from start up to maxDepth
// hops, optionally restricted to the given edge types. Each node is visited
// once; the recorded path per node is a shortest one. Depth zero returns just
// the start node. The start pattern must exist.
func (m *RelationshipManager) TraverseGraph(start string, maxDepth int, types ...RelationshipType) (*TraversalResult, error) {
	timer := logging.StartTimer(logging.CategoryGraph, "TraverseGraph")
	defer timer.Stop()

	if maxDepth < 0 {
		return nil, validationErrorf("max_depth", "must be >= 0, got %d", maxDepth)
	}

	if _, err := m.store.GetPatternByID(start); err != nil {
		return nil, err
	}

	typeFilter := make(map[RelationshipType]bool, len(types))
	for _, t := range types {
		typeFilter[t] = true
	}

	logging.GraphDebug("Traversing from %s depth=%d typeFilter=%d", start, maxDepth, len(typeFilter))

	result := &TraversalResult{
		Nodes: []string{start},
		Edges: []Relationship{},
		Paths: [][]string{{start}},
	}
	if maxDepth == 0 {
		return result, nil
	}

	visited := map[string]bool{start: true}
	pathTo := map[string][]string{start: {start}}
	frontier := []string{start}

	err := m.pool.WithConn(func(db *sql.DB) error {
		for depth := 0; depth < maxDepth && len(frontier) > 0; depth++ {
			var next []string
			for _, node := range frontier {
				edges, err := outgoingEdges(db, node)
				if err != nil {
					return err
				}
				for _, e := range edges {
					if len(typeFilter) > 0 && !typeFilter[e.Type] {
						continue
					}
					result.Edges = append(result.Edges, e)
					if visited[e.ToPattern] {
						continue
					}
					visited[e.ToPattern] = true

					path := make([]string, 0, len(pathTo[node])+1)
					path = append(path, pathTo[node]...)
					path = append(path, e.ToPattern)
					pathTo[e.ToPattern] = path

					result.Nodes = append(result.Nodes, e.ToPattern)
					result.Paths = append(result.Paths, path)
					next = append(next, e.ToPattern)
				}
			}
			frontier = next
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logging.Graph("Traversal from %s reached %d nodes over %d edges", start, len(result.Nodes), len(result.Edges))
	return result, nil
}

// outgoingEdges loads all edges leaving one node.
func outgoingEdges(db *sql.DB, from string) ([]Relationship, error) {
	rows, err := db.Query(`
		SELECT from_pattern, to_pattern, relationship_type, strength, created_at
		FROM pattern_relationships
		WHERE from_pattern = ?
		ORDER BY created_at ASC`, from)
	if err != nil {
		return nil, fmt.Errorf("failed to load edges from %s: %w", from, err)
	}
	defer rows.Close()

	var edges []Relationship
	for rows.Next() {
		var r Relationship
		var rt string
		if err := rows.Scan(&r.FromPattern, &r.ToPattern, &rt, &r.Strength, &r.CreatedAt); err != nil {
			continue
		}
		r.Type = RelationshipType(rt)
		edges = append(edges, r)
	}
	return edges, rows.Err()
}
