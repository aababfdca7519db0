package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"patternvault/internal/config"
	"patternvault/internal/knowledge"
	"patternvault/internal/logging"
	"patternvault/internal/pool"
)

var (
	// Global flags
	configPath string
	verbose    bool

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "pvault",
	Short: "patternvault - tiered pattern knowledge store",
	Long: `patternvault is an embedded knowledge store for reusable patterns.

Patterns carry a confidence score that evolves with usage feedback, are
linked in a typed relationship graph, and are persisted in SQLite behind a
bounded connection pool. A four-tier filesystem layout separates governance,
working memory, durable patterns, and derived metrics; the validate and
report commands audit it.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Initialize logger
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := logging.Initialize(cfg.Tiers.Dir); err != nil {
			logger.Warn("file logging unavailable", zap.Error(err))
		}
		if err := logging.InitAudit(); err != nil {
			logger.Warn("audit journal unavailable", zap.Error(err))
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.CloseAudit()
		logging.CloseAll()
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// loadConfig resolves the config file: the --config flag when set, otherwise
// pvault.yaml in the working directory.
func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = "pvault.yaml"
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// withStore builds the pool and pattern store from config, runs fn, and
// tears the pool down afterwards. Every command goes through here so the
// pool is always explicitly constructed and closed.
func withStore(fn func(cfg *config.Config, p *pool.Pool, store *knowledge.PatternStore) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	dbPath := cfg.Store.DatabasePath
	if !filepath.IsAbs(dbPath) && cfg.Tiers.Dir != "" && filepath.Dir(dbPath) == "." {
		dbPath = filepath.Join(cfg.Tiers.Dir, dbPath)
	}

	p, err := pool.New(dbPath, cfg.Store.PoolSize, cfg.PoolTimeout())
	if err != nil {
		return fmt.Errorf("failed to open connection pool: %w", err)
	}
	defer p.CloseAll()

	store, err := knowledge.NewPatternStore(p)
	if err != nil {
		return fmt.Errorf("failed to initialize pattern store: %w", err)
	}

	return fn(cfg, p, store)
}

// newRefiner builds a refiner with thresholds from config.
func newRefiner(cfg *config.Config, store *knowledge.PatternStore) *knowledge.PatternRefiner {
	r := knowledge.NewPatternRefiner(store)
	if cfg.Refine.PromotionThreshold > 0 {
		r.PromotionThreshold = cfg.Refine.PromotionThreshold
	}
	if cfg.Refine.DemotionThreshold > 0 {
		r.DemotionThreshold = cfg.Refine.DemotionThreshold
	}
	if cfg.Refine.ArchivalFloor > 0 {
		r.ArchivalFloor = cfg.Refine.ArchivalFloor
	}
	if cfg.Refine.RetentionRatio > 0 {
		r.RetentionRatio = cfg.Refine.RetentionRatio
	}
	if cfg.Refine.MinUsageCount > 0 {
		r.MinUsageCount = cfg.Refine.MinUsageCount
	}
	return r.WithRelationships(knowledge.NewRelationshipManager(store))
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to pvault.yaml (default: ./pvault.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")

	rootCmd.AddCommand(storeCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(usageCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(poolStatsCmd)
	rootCmd.AddCommand(relateCmd)
	rootCmd.AddCommand(relationsCmd)
	rootCmd.AddCommand(graphCmd)
	rootCmd.AddCommand(refineCmd)
	rootCmd.AddCommand(resolveCmd)
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(reportCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
