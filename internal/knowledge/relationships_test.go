package knowledge

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

// seedPatterns stores n minimal patterns and returns their ids.
func seedPatterns(t *testing.T, store *PatternStore, n int) []string {
	t.Helper()
	ids := make([]string, n)
	for i := range ids {
		p := testPattern("Graph node")
		id, err := store.StorePattern(p)
		require.NoError(t, err)
		ids[i] = id
	}
	return ids
}

func TestCreateRelationship(t *testing.T) {
	store := newTestStore(t)
	rels := NewRelationshipManager(store)
	ids := seedPatterns(t, store, 2)

	rel, err := rels.CreateRelationship(ids[0], ids[1], "extends", 0.8)
	require.NoError(t, err)

	if rel.Type != RelExtends {
		t.Errorf("Expected extends, got %s", rel.Type)
	}
	if rel.Strength != 0.8 {
		t.Errorf("Expected strength 0.8, got %v", rel.Strength)
	}
}

func TestCreateRelationshipValidation(t *testing.T) {
	store := newTestStore(t)
	rels := NewRelationshipManager(store)
	ids := seedPatterns(t, store, 2)

	t.Run("self edge", func(t *testing.T) {
		_, err := rels.CreateRelationship(ids[0], ids[0], "extends", 1.0)
		if !IsValidation(err) {
			t.Fatalf("Expected ValidationError for self edge, got %v", err)
		}
	})

	t.Run("unknown type", func(t *testing.T) {
		_, err := rels.CreateRelationship(ids[0], ids[1], "duplicates", 1.0)
		if !IsValidation(err) {
			t.Fatalf("Expected ValidationError for unknown type, got %v", err)
		}
	})

	t.Run("strength out of range", func(t *testing.T) {
		_, err := rels.CreateRelationship(ids[0], ids[1], "extends", 1.5)
		if !IsValidation(err) {
			t.Fatalf("Expected ValidationError for bad strength, got %v", err)
		}
	})

	t.Run("missing endpoint names the id", func(t *testing.T) {
		_, err := rels.CreateRelationship(ids[0], "ghost", "extends", 1.0)
		if !errors.Is(err, ErrNotFound) {
			t.Fatalf("Expected ErrNotFound, got %v", err)
		}
		if got := err.Error(); !strings.Contains(got, "ghost") {
			t.Errorf("Error should name the missing id, got %q", got)
		}
	})
}

func TestCreateRelationshipDuplicate(t *testing.T) {
	store := newTestStore(t)
	rels := NewRelationshipManager(store)
	ids := seedPatterns(t, store, 2)

	_, err := rels.CreateRelationship(ids[0], ids[1], "relates_to", 1.0)
	require.NoError(t, err)

	_, err = rels.CreateRelationship(ids[0], ids[1], "relates_to", 0.5)
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("Expected ErrDuplicate, got %v", err)
	}

	// Same endpoints with a different type is a distinct edge.
	_, err = rels.CreateRelationship(ids[0], ids[1], "extends", 1.0)
	require.NoError(t, err)

	// The legacy alias resolves to the same canonical type.
	_, err = rels.CreateRelationship(ids[0], ids[1], "related_to", 1.0)
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("Expected the alias to collide with relates_to, got %v", err)
	}
}

func TestGetRelationshipsDirection(t *testing.T) {
	store := newTestStore(t)
	rels := NewRelationshipManager(store)
	ids := seedPatterns(t, store, 3)

	_, err := rels.CreateRelationship(ids[0], ids[1], "extends", 1.0)
	require.NoError(t, err)
	_, err = rels.CreateRelationship(ids[2], ids[0], "contradicts", 1.0)
	require.NoError(t, err)

	out, err := rels.GetRelationships(ids[0], DirectionOutgoing)
	require.NoError(t, err)
	if len(out) != 1 || out[0].ToPattern != ids[1] {
		t.Errorf("Outgoing edges wrong: %+v", out)
	}

	in, err := rels.GetRelationships(ids[0], DirectionIncoming)
	require.NoError(t, err)
	if len(in) != 1 || in[0].FromPattern != ids[2] {
		t.Errorf("Incoming edges wrong: %+v", in)
	}

	both, err := rels.GetRelationships(ids[0], DirectionBoth)
	require.NoError(t, err)
	if len(both) != 2 {
		t.Errorf("Expected 2 edges in both directions, got %d", len(both))
	}

	none, err := rels.GetRelationships(ids[1], DirectionOutgoing)
	require.NoError(t, err)
	if none == nil || len(none) != 0 {
		t.Errorf("Expected an empty slice for an edgeless direction, got %v", none)
	}
}

func TestTraverseGraphDepthZero(t *testing.T) {
	store := newTestStore(t)
	rels := NewRelationshipManager(store)
	ids := seedPatterns(t, store, 2)

	_, err := rels.CreateRelationship(ids[0], ids[1], "extends", 1.0)
	require.NoError(t, err)

	result, err := rels.TraverseGraph(ids[0], 0)
	require.NoError(t, err)

	want := &TraversalResult{
		Nodes: []string{ids[0]},
		Edges: []Relationship{},
		Paths: [][]string{{ids[0]}},
	}
	if diff := cmp.Diff(want, result); diff != "" {
		t.Errorf("Depth-0 traversal mismatch (-want +got):\n%s", diff)
	}
}

func TestTraverseGraphChain(t *testing.T) {
	store := newTestStore(t)
	rels := NewRelationshipManager(store)
	ids := seedPatterns(t, store, 3)

	// ids[0] -> ids[1] -> ids[2]
	_, err := rels.CreateRelationship(ids[0], ids[1], "extends", 1.0)
	require.NoError(t, err)
	_, err = rels.CreateRelationship(ids[1], ids[2], "extends", 1.0)
	require.NoError(t, err)

	result, err := rels.TraverseGraph(ids[0], 2)
	require.NoError(t, err)

	wantNodes := []string{ids[0], ids[1], ids[2]}
	if diff := cmp.Diff(wantNodes, result.Nodes); diff != "" {
		t.Errorf("Nodes mismatch (-want +got):\n%s", diff)
	}
	wantPaths := [][]string{
		{ids[0]},
		{ids[0], ids[1]},
		{ids[0], ids[1], ids[2]},
	}
	if diff := cmp.Diff(wantPaths, result.Paths); diff != "" {
		t.Errorf("Paths mismatch (-want +got):\n%s", diff)
	}

	// Depth 1 must stop one hop out.
	shallow, err := rels.TraverseGraph(ids[0], 1)
	require.NoError(t, err)
	if len(shallow.Nodes) != 2 {
		t.Errorf("Depth-1 traversal reached %d nodes, want 2", len(shallow.Nodes))
	}
}

func TestTraverseGraphCycle(t *testing.T) {
	store := newTestStore(t)
	rels := NewRelationshipManager(store)
	ids := seedPatterns(t, store, 2)

	// A cycle: ids[0] <-> ids[1]
	_, err := rels.CreateRelationship(ids[0], ids[1], "relates_to", 1.0)
	require.NoError(t, err)
	_, err = rels.CreateRelationship(ids[1], ids[0], "relates_to", 1.0)
	require.NoError(t, err)

	result, err := rels.TraverseGraph(ids[0], 10)
	require.NoError(t, err)

	if len(result.Nodes) != 2 {
		t.Fatalf("Cycle traversal visited %d nodes, want 2", len(result.Nodes))
	}
	seen := map[string]int{}
	for _, n := range result.Nodes {
		seen[n]++
	}
	for n, c := range seen {
		if c != 1 {
			t.Errorf("Node %s visited %d times", n, c)
		}
	}
}

func TestTraverseGraphTypeFilter(t *testing.T) {
	store := newTestStore(t)
	rels := NewRelationshipManager(store)
	ids := seedPatterns(t, store, 3)

	_, err := rels.CreateRelationship(ids[0], ids[1], "extends", 1.0)
	require.NoError(t, err)
	_, err = rels.CreateRelationship(ids[0], ids[2], "contradicts", 1.0)
	require.NoError(t, err)

	result, err := rels.TraverseGraph(ids[0], 2, RelExtends)
	require.NoError(t, err)

	if len(result.Nodes) != 2 {
		t.Fatalf("Filtered traversal reached %d nodes, want 2", len(result.Nodes))
	}
	for _, n := range result.Nodes {
		if n == ids[2] {
			t.Error("Type filter leaked a contradicts edge")
		}
	}
}

func TestTraverseGraphStartMustExist(t *testing.T) {
	store := newTestStore(t)
	rels := NewRelationshipManager(store)

	_, err := rels.TraverseGraph("ghost", 2)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Expected ErrNotFound for unknown start, got %v", err)
	}
}
