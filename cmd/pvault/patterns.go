package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"patternvault/internal/config"
	"patternvault/internal/knowledge"
	"patternvault/internal/pool"
)

var (
	storeID         string
	storeTitle      string
	storeContent    string
	storeType       string
	storeConfidence float64
	storeScope      string
	storeNamespaces []string
	storeSource     string
	storeMetadata   string

	searchNamespace     string
	searchMinConfidence float64
	searchLimit         int

	usageFailed bool
)

// storeCmd stores or replaces a pattern
var storeCmd = &cobra.Command{
	Use:   "store",
	Short: "Store a pattern (insert or replace by id)",
	Long: `Stores a pattern. When --id is omitted a new id is generated; when it
names an existing pattern, that pattern is replaced. The pattern is
searchable immediately after this returns.

Example:
  pvault store --title "Retry with backoff" --type solution \
    --content "Wrap the call in exponential backoff..." \
    --confidence 0.6 --namespace infra/http`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(cfg *config.Config, p *pool.Pool, store *knowledge.PatternStore) error {
			pattern := &knowledge.Pattern{
				ID:         storeID,
				Title:      storeTitle,
				Content:    storeContent,
				Type:       storeType,
				Confidence: storeConfidence,
				Scope:      storeScope,
				Namespaces: storeNamespaces,
				Source:     storeSource,
			}
			if storeMetadata != "" {
				meta := make(map[string]interface{})
				if err := json.Unmarshal([]byte(storeMetadata), &meta); err != nil {
					return fmt.Errorf("--metadata is not valid JSON: %w", err)
				}
				pattern.Metadata = meta
			}

			id, err := store.StorePattern(pattern)
			if err != nil {
				return err
			}
			fmt.Println(id)
			return nil
		})
	},
}

// getCmd fetches one pattern by id
var getCmd = &cobra.Command{
	Use:   "get [pattern-id]",
	Short: "Fetch one pattern by id",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(cfg *config.Config, p *pool.Pool, store *knowledge.PatternStore) error {
			pattern, err := store.GetPatternByID(args[0])
			if err != nil {
				return err
			}
			printPattern(pattern)
			return nil
		})
	},
}

// searchCmd runs full-text search over stored patterns
var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search patterns by title and content",
	Long: `Full-text search over pattern titles plus substring match over content,
optionally filtered by namespace prefix and minimum confidence. Results are
ordered by relevance, then confidence.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(cfg *config.Config, p *pool.Pool, store *knowledge.PatternStore) error {
			query := strings.Join(args, " ")
			results, err := store.SearchPatterns(query, searchNamespace, searchMinConfidence, searchLimit)
			if err != nil {
				return err
			}
			if len(results) == 0 {
				fmt.Println("No patterns matched.")
				return nil
			}
			for i := range results {
				pt := &results[i]
				fmt.Printf("%s  [%.2f]  %s (%s)\n", pt.ID, pt.Confidence, pt.Title, pt.Type)
			}
			return nil
		})
	},
}

// usageCmd records one usage outcome for a pattern
var usageCmd = &cobra.Command{
	Use:   "usage [pattern-id]",
	Short: "Record a usage outcome for a pattern",
	Long: `Records one usage of the pattern: increments the usage counter and the
success counter (or the failure counter with --failed), and touches the
last-accessed timestamp. All in one atomic update.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(cfg *config.Config, p *pool.Pool, store *knowledge.PatternStore) error {
			if err := store.UpdateUsage(args[0], !usageFailed); err != nil {
				return err
			}
			fmt.Printf("Usage recorded for %s (success=%v)\n", args[0], !usageFailed)
			return nil
		})
	},
}

// statsCmd prints aggregate pattern statistics
var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate pattern statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(cfg *config.Config, p *pool.Pool, store *knowledge.PatternStore) error {
			stats, err := store.GetPatternStats()
			if err != nil {
				return err
			}
			fmt.Printf("Total patterns: %d\n", stats.Total)
			fmt.Println("By type:")
			for t, n := range stats.ByType {
				fmt.Printf("  %-16s %d\n", t, n)
			}
			fmt.Println("By confidence band:")
			for _, band := range []string{"high", "medium", "low"} {
				fmt.Printf("  %-16s %d\n", band, stats.ByConfidenceBand[band])
			}
			return nil
		})
	},
}

// poolStatsCmd prints a snapshot of connection pool counters
var poolStatsCmd = &cobra.Command{
	Use:   "pool-stats",
	Short: "Show connection pool statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(cfg *config.Config, p *pool.Pool, store *knowledge.PatternStore) error {
			s := p.Stats()
			fmt.Printf("Pool size:    %d\n", s.Size)
			fmt.Printf("In use:       %d\n", s.InUse)
			fmt.Printf("Available:    %d\n", s.Available)
			fmt.Printf("Acquisitions: %d\n", s.Acquisitions)
			fmt.Printf("Releases:     %d\n", s.Releases)
			fmt.Printf("Timeouts:     %d\n", s.Timeouts)
			return nil
		})
	},
}

func printPattern(pt *knowledge.Pattern) {
	fmt.Printf("ID:           %s\n", pt.ID)
	fmt.Printf("Title:        %s\n", pt.Title)
	fmt.Printf("Type:         %s\n", pt.Type)
	fmt.Printf("Confidence:   %.2f\n", pt.Confidence)
	fmt.Printf("Scope:        %s\n", pt.Scope)
	if len(pt.Namespaces) > 0 {
		fmt.Printf("Namespaces:   %s\n", strings.Join(pt.Namespaces, ", "))
	}
	if pt.Source != "" {
		fmt.Printf("Source:       %s\n", pt.Source)
	}
	fmt.Printf("Usage:        %d (success=%d failure=%d, rate=%.2f)\n",
		pt.UsageCount, pt.SuccessCount, pt.FailureCount, pt.SuccessRate())
	fmt.Printf("Created:      %s\n", pt.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Printf("Last access:  %s\n", pt.LastAccessed.Format("2006-01-02 15:04:05"))
	if len(pt.Metadata) > 0 {
		data, err := json.MarshalIndent(pt.Metadata, "              ", "  ")
		if err == nil {
			fmt.Printf("Metadata:     %s\n", string(data))
		}
	}
	fmt.Printf("\n%s\n", pt.Content)
}

func init() {
	storeCmd.Flags().StringVar(&storeID, "id", "", "Pattern id (generated when omitted)")
	storeCmd.Flags().StringVar(&storeTitle, "title", "", "Pattern title (required)")
	storeCmd.Flags().StringVar(&storeContent, "content", "", "Pattern content")
	storeCmd.Flags().StringVar(&storeType, "type", "solution", "Pattern type (solution, convention, anti-pattern, heuristic, ...)")
	storeCmd.Flags().Float64Var(&storeConfidence, "confidence", 0.5, "Initial confidence in [0,1]")
	storeCmd.Flags().StringVar(&storeScope, "scope", "project", "Scope (project or organization)")
	storeCmd.Flags().StringSliceVar(&storeNamespaces, "namespace", nil, "Namespace tag (repeatable)")
	storeCmd.Flags().StringVar(&storeSource, "source", "", "Provenance of the pattern")
	storeCmd.Flags().StringVar(&storeMetadata, "metadata", "", "Extra metadata as a JSON object")

	searchCmd.Flags().StringVar(&searchNamespace, "namespace", "", "Filter by namespace prefix")
	searchCmd.Flags().Float64Var(&searchMinConfidence, "min-confidence", 0.0, "Minimum confidence")
	searchCmd.Flags().IntVar(&searchLimit, "limit", 10, "Maximum results")

	usageCmd.Flags().BoolVar(&usageFailed, "failed", false, "Record the usage as a failure")
}
