package tiers

import (
	"fmt"
	"strings"
)

// GenerateReport renders audit results as a plain-text report. Pure
// function: formatting only, no filesystem or database access.
func GenerateReport(results []Result) string {
	var b strings.Builder

	b.WriteString("Tier Audit Report\n")
	b.WriteString("=================\n\n")

	passed, warned, violated := 0, 0, 0
	for _, res := range results {
		switch res.State {
		case StatePassed:
			passed++
		case StateWarned:
			warned++
		case StateViolated:
			violated++
		}

		fmt.Fprintf(&b, "%-24s %s\n", res.Tier.String(), res.State)
		for _, v := range res.Violations {
			loc := v.Path
			if v.Line > 0 {
				loc = fmt.Sprintf("%s:%d", v.Path, v.Line)
			}
			fmt.Fprintf(&b, "  [%s] %s\n      %s\n", v.Severity, v.Message, loc)
		}
	}

	fmt.Fprintf(&b, "\nSummary: %d passed, %d warned, %d violated (of %d tiers)\n",
		passed, warned, violated, len(results))
	return b.String()
}

// Healthy reports whether no tier is in the VIOLATED state.
func Healthy(results []Result) bool {
	for _, res := range results {
		if res.State == StateViolated {
			return false
		}
	}
	return true
}
