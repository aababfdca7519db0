package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"patternvault/internal/tiers"
)

var validateTier int

// validateCmd audits the tier layout
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Audit the tier layout for contract violations",
	Long: `Checks each tier's canonical file against its contract: governance and
metrics must be clean JSON without conversational keys, working memory must
be well-formed JSONL, and no stored pattern may carry raw conversational
metadata. A missing file is a warning; forbidden content is critical.

Exits non-zero when any tier is violated.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		v := tiers.NewValidator(cfg.Tiers.Dir)

		var results []tiers.Result
		if validateTier >= 0 {
			if validateTier > int(tiers.TierMetrics) {
				return fmt.Errorf("unknown tier %d (valid: 0-3)", validateTier)
			}
			results = []tiers.Result{v.ValidateTier(tiers.Tier(validateTier))}
		} else {
			results = v.ValidateAllTiers()
		}

		printResults(results)

		if !tiers.Healthy(results) {
			os.Exit(1)
		}
		return nil
	},
}

// reportCmd prints the full audit report
var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Generate a full tier audit report",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		results := tiers.NewValidator(cfg.Tiers.Dir).ValidateAllTiers()
		fmt.Print(tiers.GenerateReport(results))
		return nil
	},
}

func printResults(results []tiers.Result) {
	pass := color.New(color.FgGreen).SprintFunc()
	warn := color.New(color.FgYellow).SprintFunc()
	fail := color.New(color.FgRed, color.Bold).SprintFunc()

	for _, res := range results {
		var state string
		switch res.State {
		case tiers.StatePassed:
			state = pass(string(res.State))
		case tiers.StateWarned:
			state = warn(string(res.State))
		case tiers.StateViolated:
			state = fail(string(res.State))
		default:
			state = string(res.State)
		}
		fmt.Printf("%-24s %s\n", res.Tier.String(), state)

		for _, viol := range res.Violations {
			msg := viol.Message
			switch viol.Severity {
			case tiers.SeverityCritical:
				msg = fail(msg)
			case tiers.SeverityWarning:
				msg = warn(msg)
			}
			if viol.Line > 0 {
				fmt.Printf("  [%s] %s (%s:%d)\n", viol.Severity, msg, viol.Path, viol.Line)
			} else {
				fmt.Printf("  [%s] %s (%s)\n", viol.Severity, msg, viol.Path)
			}
		}
	}
}

func init() {
	validateCmd.Flags().IntVar(&validateTier, "tier", -1, "Audit a single tier (0-3); all tiers when unset")
}
