package reporting

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum-optimism/infra/op-regress/harness"
)

// TextSummaryFormatter renders a plain-text summary followed by the
// diagnostic of every failing driver
type TextSummaryFormatter struct {
	includeDetails bool
}

func NewTextSummaryFormatter(includeDetails bool) *TextSummaryFormatter {
	return &TextSummaryFormatter{includeDetails: includeDetails}
}

func (tsf *TextSummaryFormatter) Format(result *harness.RunResult) (string, error) {
	var summary strings.Builder

	fmt.Fprintf(&summary, "REGRESSION SUMMARY\n")
	fmt.Fprintf(&summary, "==================\n")
	fmt.Fprintf(&summary, "Run ID: %s\n", result.RunID)
	fmt.Fprintf(&summary, "Time: %s\n", result.Start.Format(time.RFC3339))
	fmt.Fprintf(&summary, "Duration: %s\n\n", formatDuration(result.Duration))

	fmt.Fprintf(&summary, "Results:\n")
	fmt.Fprintf(&summary, "  Total:  %d\n", len(result.Verdicts))
	fmt.Fprintf(&summary, "  Passed: %d\n", result.Passed())
	fmt.Fprintf(&summary, "  Failed: %d\n", result.Failed())
	if rf := result.RuntimeFailures(); len(rf) > 0 {
		fmt.Fprintf(&summary, "  Errors: %d\n", len(rf))
	}
	fmt.Fprintf(&summary, "\n")

	var failed []string
	for _, v := range result.Verdicts {
		if !v.Pass {
			failed = append(failed, fmt.Sprintf("%s (%s)", v.Driver, v.Kind))
		}
	}
	if len(failed) > 0 {
		fmt.Fprintf(&summary, "Failed drivers:\n")
		for _, f := range failed {
			fmt.Fprintf(&summary, "  - %s\n", f)
		}
		fmt.Fprintf(&summary, "\n")
	}

	if tsf.includeDetails {
		for _, v := range result.Verdicts {
			if v.Pass {
				continue
			}
			fmt.Fprintf(&summary, "=== %s ===\n", v.Driver)
			summary.WriteString(v.Diagnostic())
			fmt.Fprintf(&summary, "\n")
		}
	}

	return summary.String(), nil
}
