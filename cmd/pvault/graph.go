package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"patternvault/internal/config"
	"patternvault/internal/knowledge"
	"patternvault/internal/pool"
)

var (
	relateType     string
	relateStrength float64

	relationsDirection string

	graphDepth int
	graphTypes []string
)

// relateCmd creates a directed edge between two patterns
var relateCmd = &cobra.Command{
	Use:   "relate [from-id] [to-id]",
	Short: "Create a relationship between two patterns",
	Long: `Creates a directed, typed edge between two existing patterns.

Relationship types: extends, relates_to, contradicts, supersedes.
An identical edge (same endpoints and type) is rejected as a duplicate.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(cfg *config.Config, p *pool.Pool, store *knowledge.PatternStore) error {
			rels := knowledge.NewRelationshipManager(store)
			rel, err := rels.CreateRelationship(args[0], args[1], relateType, relateStrength)
			if err != nil {
				return err
			}
			fmt.Printf("%s -[%s]-> %s (strength=%.2f)\n",
				rel.FromPattern, rel.Type, rel.ToPattern, rel.Strength)
			return nil
		})
	},
}

// relationsCmd lists edges touching a pattern
var relationsCmd = &cobra.Command{
	Use:   "relations [pattern-id]",
	Short: "List relationships of a pattern",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(cfg *config.Config, p *pool.Pool, store *knowledge.PatternStore) error {
			rels := knowledge.NewRelationshipManager(store)
			edges, err := rels.GetRelationships(args[0], knowledge.Direction(relationsDirection))
			if err != nil {
				return err
			}
			if len(edges) == 0 {
				fmt.Println("No relationships.")
				return nil
			}
			for _, e := range edges {
				fmt.Printf("%s -[%s %.2f]-> %s  (%s)\n",
					e.FromPattern, e.Type, e.Strength, e.ToPattern,
					e.CreatedAt.Format("2006-01-02 15:04:05"))
			}
			return nil
		})
	},
}

// graphCmd walks the relationship graph breadth-first
var graphCmd = &cobra.Command{
	Use:   "graph [start-id]",
	Short: "Traverse the relationship graph from a pattern",
	Long: `Walks outgoing edges breadth-first from the start pattern up to --depth
hops, printing each reached pattern with the path that discovered it.
Cycles are handled; each pattern appears once.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(cfg *config.Config, p *pool.Pool, store *knowledge.PatternStore) error {
			rels := knowledge.NewRelationshipManager(store)

			var types []knowledge.RelationshipType
			for _, t := range graphTypes {
				rt, err := knowledge.ParseRelationshipType(t)
				if err != nil {
					return err
				}
				types = append(types, rt)
			}

			result, err := rels.TraverseGraph(args[0], graphDepth, types...)
			if err != nil {
				return err
			}

			fmt.Printf("Reached %d patterns over %d edges:\n", len(result.Nodes), len(result.Edges))
			for i, node := range result.Nodes {
				fmt.Printf("  %s  via %s\n", node, strings.Join(result.Paths[i], " -> "))
			}
			return nil
		})
	},
}

func init() {
	relateCmd.Flags().StringVar(&relateType, "type", "relates_to", "Relationship type")
	relateCmd.Flags().Float64Var(&relateStrength, "strength", 1.0, "Edge strength in [0,1]")

	relationsCmd.Flags().StringVar(&relationsDirection, "direction", "both", "Edge direction: outgoing, incoming, both")

	graphCmd.Flags().IntVar(&graphDepth, "depth", 2, "Maximum traversal depth")
	graphCmd.Flags().StringSliceVar(&graphTypes, "type", nil, "Restrict to relationship types (repeatable)")
}
