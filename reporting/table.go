package reporting

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/ethereum-optimism/infra/op-regress/harness"
	"github.com/ethereum-optimism/infra/op-regress/types"
)

// TableFormatter renders one row per verdict
type TableFormatter struct {
	title string
}

func NewTableFormatter(title string) *TableFormatter {
	return &TableFormatter{title: title}
}

func (tf *TableFormatter) Format(result *harness.RunResult) (string, error) {
	var buf bytes.Buffer

	t := table.NewWriter()
	t.SetOutputMirror(&buf)
	t.SetTitle(fmt.Sprintf("%s (%s)", tf.title, formatDuration(result.Duration)))
	t.AppendHeader(table.Row{
		"Driver", "Environment", "Duration", "Exit", "Observed", "Matched", "Similarity", "Status", "Error",
	})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Environment", AutoMerge: true},
		{Name: "Duration", Align: text.AlignRight},
		{Name: "Exit", Align: text.AlignRight},
		{Name: "Observed", WidthMax: 60, WidthMaxEnforcer: text.WrapSoft},
		{Name: "Similarity", Align: text.AlignRight},
		{Name: "Error", WidthMax: 80, WidthMaxEnforcer: text.WrapSoft},
	})

	for _, v := range result.Verdicts {
		t.AppendRow(table.Row{
			v.Driver,
			v.Environment,
			formatDuration(v.Duration),
			v.ExitCode,
			observedCell(v),
			matchedCell(v),
			similarityCell(v.Fingerprint),
			getStatusDisplay(v).Text,
			errorCell(v),
		})
	}

	overall := "PASS"
	switch {
	case len(result.RuntimeFailures()) > 0:
		overall = "ERROR"
		t.SetStyle(table.StyleColoredBlackOnRedWhite)
	case !result.Pass():
		overall = "FAIL"
		t.SetStyle(table.StyleColoredBlackOnRedWhite)
	default:
		t.SetStyle(table.StyleColoredBlackOnGreenWhite)
	}

	t.AppendFooter(table.Row{
		"TOTAL",
		"",
		formatDuration(result.Duration),
		"",
		fmt.Sprintf("%d passed", result.Passed()),
		fmt.Sprintf("%d failed", result.Failed()),
		"",
		overall,
		"",
	})

	t.Render()
	return buf.String(), nil
}

// FormatShake renders the distinct outcomes of a shake run
func FormatShake(report *harness.ShakeReport) string {
	var buf bytes.Buffer

	t := table.NewWriter()
	t.SetOutputMirror(&buf)
	t.SetTitle(fmt.Sprintf("Shake %s: %d/%d passed, %s", report.Driver, report.Passes, report.Iterations, report.Recommendation))
	t.AppendHeader(table.Row{"Observed", "Count", "Expected"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Observed", WidthMax: 80, WidthMaxEnforcer: text.WrapSoft},
		{Name: "Count", Align: text.AlignRight},
	})
	for _, r := range report.Records {
		t.AppendRow(table.Row{r.Record.String(), r.Count, r.Matched})
	}
	if report.Recommendation == harness.RecommendationStable {
		t.SetStyle(table.StyleColoredBlackOnGreenWhite)
	} else {
		t.SetStyle(table.StyleColoredBlackOnYellowWhite)
	}
	t.Render()
	return buf.String()
}

func observedCell(v *types.Verdict) string {
	if !v.Parsed {
		return "-"
	}
	return v.Observed.String()
}

func matchedCell(v *types.Verdict) string {
	if v.MatchedIndex < 0 {
		return "-"
	}
	return fmt.Sprintf("#%d", v.MatchedIndex)
}

func similarityCell(fp types.FingerprintCheck) string {
	if !fp.Checked {
		return "-"
	}
	return fmt.Sprintf("%.4f", fp.Similarity)
}

func errorCell(v *types.Verdict) string {
	if v.Pass || v.Err == nil {
		return ""
	}
	first, _, _ := strings.Cut(v.Err.Error(), "\n")
	return first
}
