package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"patternvault/internal/config"
	"patternvault/internal/knowledge"
	"patternvault/internal/pool"
)

var (
	refineEffectiveness float64
	refinePromote       bool
	refineDemote        bool

	analyzeDomain   string
	analyzeMinUsage int
)

// refineCmd applies one usage-feedback adjustment to a pattern
var refineCmd = &cobra.Command{
	Use:   "refine [pattern-id]",
	Short: "Refine a pattern's confidence from usage feedback",
	Long: `Adjusts the pattern's confidence from observed effectiveness: the new
score blends the prior (70%) with the effectiveness (30%), with an optional
10% promote or demote nudge, clamped to [0.1, 1.0]. The usage is recorded;
effectiveness of 0.7 or higher counts as a success.

Example:
  pvault refine 3fa85f64-... --effectiveness 0.9 --promote`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(cfg *config.Config, p *pool.Pool, store *knowledge.PatternStore) error {
			refiner := newRefiner(cfg, store)
			adj, err := refiner.RefinePattern(knowledge.RefinementFeedback{
				PatternID:     args[0],
				Effectiveness: refineEffectiveness,
				ShouldPromote: refinePromote,
				ShouldDemote:  refineDemote,
			})
			if err != nil {
				return err
			}
			fmt.Printf("%s: %.3f -> %.3f (%s)\n",
				adj.PatternID, adj.OldConfidence, adj.NewConfidence, adj.Outcome)
			return nil
		})
	},
}

// resolveCmd resolves conflicting patterns for one domain/operation
var resolveCmd = &cobra.Command{
	Use:   "resolve [domain] [operation]",
	Short: "Resolve conflicting patterns for a domain and operation",
	Long: `Compares all patterns claiming the same domain and operation (metadata
keys) and keeps only those within the retention ratio of the strongest
contender. Superseded patterns stay stored; a supersedes edge records the
decision.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(cfg *config.Config, p *pool.Pool, store *knowledge.PatternStore) error {
			refiner := newRefiner(cfg, store)
			kept, err := refiner.ResolveConflicts(args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Printf("Retained %d patterns for %s/%s:\n", len(kept), args[0], args[1])
			for _, id := range kept {
				fmt.Printf("  %s\n", id)
			}
			return nil
		})
	},
}

// analyzeCmd reports pattern effectiveness
var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Analyze pattern effectiveness",
	Long: `Builds a read-only effectiveness report over patterns with enough
recorded usage, optionally restricted to one domain.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(cfg *config.Config, p *pool.Pool, store *knowledge.PatternStore) error {
			refiner := newRefiner(cfg, store)
			report, err := refiner.AnalyzeEffectiveness(analyzeDomain, analyzeMinUsage)
			if err != nil {
				return err
			}

			if report.Domain != "" {
				fmt.Printf("Domain:            %s\n", report.Domain)
			}
			fmt.Printf("Patterns analyzed: %d\n", report.PatternsAnalyzed)
			if report.PatternsAnalyzed == 0 {
				return nil
			}
			fmt.Printf("Avg confidence:    %.2f\n", report.AvgConfidence)
			fmt.Printf("Avg success rate:  %.2f\n", report.AvgSuccessRate)

			fmt.Println("Top performers:")
			for _, s := range report.TopPerformers {
				fmt.Printf("  %s  rate=%.2f conf=%.2f uses=%d  %s\n",
					s.PatternID, s.SuccessRate, s.Confidence, s.UsageCount, s.Title)
			}
			fmt.Println("Bottom performers:")
			for _, s := range report.BottomPerformers {
				fmt.Printf("  %s  rate=%.2f conf=%.2f uses=%d  %s\n",
					s.PatternID, s.SuccessRate, s.Confidence, s.UsageCount, s.Title)
			}
			return nil
		})
	},
}

func init() {
	refineCmd.Flags().Float64Var(&refineEffectiveness, "effectiveness", 0.5, "Observed effectiveness in [0,1]")
	refineCmd.Flags().BoolVar(&refinePromote, "promote", false, "Apply a 10% upward nudge")
	refineCmd.Flags().BoolVar(&refineDemote, "demote", false, "Apply a 10% downward nudge")

	analyzeCmd.Flags().StringVar(&analyzeDomain, "domain", "", "Restrict to one metadata domain")
	analyzeCmd.Flags().IntVar(&analyzeMinUsage, "min-usage", 0, "Minimum recorded usages (0 = configured default)")
}
