package harness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/ethereum-optimism/infra/op-regress/types"
)

// ShakeRecord is one distinct record observed while shaking a driver
type ShakeRecord struct {
	Record  types.ResultRecord `json:"record"`
	Count   int                `json:"count"`
	Matched bool               `json:"matched"` // already in the driver's expectation set
}

// ShakeReport summarizes repeated runs of one driver
type ShakeReport struct {
	Date           string               `json:"date"`
	Driver         string               `json:"driver"`
	Environment    string               `json:"environment"`
	Iterations     int                  `json:"iterations"`
	Passes         int                  `json:"passes"`
	Failures       int                  `json:"failures"`
	FailureKinds   map[string]int       `json:"failure_kinds,omitempty"`
	Records        []ShakeRecord        `json:"records"`
	Suggested      types.ExpectationSet `json:"suggested_expected,omitempty"`
	MinSimilarity  float64              `json:"min_similarity,omitempty"`
	MaxSimilarity  float64              `json:"max_similarity,omitempty"`
	AvgDuration    time.Duration        `json:"avg_duration"`
	MinDuration    time.Duration        `json:"min_duration"`
	MaxDuration    time.Duration        `json:"max_duration"`
	FailureLogs    []string             `json:"failure_logs,omitempty"`
	Recommendation string               `json:"recommendation"`
	GeneratedAt    time.Time            `json:"generated_at"`
	RunID          string               `json:"run_id"`
}

// Shake recommendations
const (
	RecommendationStable   = "STABLE"
	RecommendationUnstable = "UNSTABLE"
)

// maxFailureLogs bounds how many failing outputs a report keeps
const maxFailureLogs = 5

// Shake verifies d iterations times and tallies every distinct record it
// observed, so an expectation set covering real-world flakiness can be
// written from data.
func (m *Matcher) Shake(ctx context.Context, d types.DriverConfig, iterations int) (*ShakeReport, error) {
	if iterations < 1 {
		return nil, fmt.Errorf("iterations must be at least 1, got %d", iterations)
	}
	m.log.Info("Starting shake", "driver", d.Name, "iterations", iterations)

	verdicts := make([]*types.Verdict, 0, iterations)
	for i := 1; i <= iterations; i++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("shake of %s interrupted after %d iterations: %w", d.Name, i-1, err)
		}
		m.log.Info("Running iteration", "driver", d.Name, "iteration", i, "total", iterations)
		v, _ := m.Verify(ctx, d)
		verdicts = append(verdicts, v)
	}
	return m.shakeReport(d, verdicts), nil
}

func (m *Matcher) shakeReport(d types.DriverConfig, verdicts []*types.Verdict) *ShakeReport {
	now := time.Now()
	report := &ShakeReport{
		Date:         now.Format("2006-01-02"),
		Driver:       d.Name,
		Environment:  d.Environment.Name,
		Iterations:   len(verdicts),
		FailureKinds: make(map[string]int),
		GeneratedAt:  now,
		RunID:        m.runID,
		MinDuration:  time.Duration(1<<63 - 1),
	}

	byRecord := make(map[string]*ShakeRecord)
	var total time.Duration
	sawSimilarity := false
	for _, v := range verdicts {
		if v.Pass {
			report.Passes++
		} else {
			report.Failures++
			report.FailureKinds[v.Kind.String()]++
			if len(report.FailureLogs) < maxFailureLogs {
				report.FailureLogs = append(report.FailureLogs, v.Diagnostic())
			}
		}

		if v.Parsed {
			key := v.Observed.String()
			rec, ok := byRecord[key]
			if !ok {
				_, matched := d.Expected.Match(v.Observed)
				rec = &ShakeRecord{Record: v.Observed.Clone(), Matched: matched}
				byRecord[key] = rec
			}
			rec.Count++
		}

		if v.Fingerprint.Checked {
			s := v.Fingerprint.Similarity
			if !sawSimilarity || s < report.MinSimilarity {
				report.MinSimilarity = s
			}
			if !sawSimilarity || s > report.MaxSimilarity {
				report.MaxSimilarity = s
			}
			sawSimilarity = true
		}

		total += v.Duration
		report.MinDuration = min(report.MinDuration, v.Duration)
		report.MaxDuration = max(report.MaxDuration, v.Duration)
	}
	if len(verdicts) > 0 {
		report.AvgDuration = total / time.Duration(len(verdicts))
	} else {
		report.MinDuration = 0
	}

	for _, rec := range byRecord {
		report.Records = append(report.Records, *rec)
	}
	sort.Slice(report.Records, func(i, j int) bool {
		if report.Records[i].Count != report.Records[j].Count {
			return report.Records[i].Count > report.Records[j].Count
		}
		return report.Records[i].Record.String() < report.Records[j].Record.String()
	})
	for _, rec := range report.Records {
		report.Suggested = append(report.Suggested, rec.Record)
	}

	if report.Failures == 0 {
		report.Recommendation = RecommendationStable
	} else {
		report.Recommendation = RecommendationUnstable
	}
	return report
}

// SaveShakeReport writes the report as JSON and HTML into outputDir
func SaveShakeReport(report *ShakeReport, outputDir string) ([]string, error) {
	var savedFiles []string
	var errs []error

	base := filepath.Join(outputDir, fmt.Sprintf("shake-%s", report.Driver))

	jsonFilename := base + ".json"
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		errs = append(errs, fmt.Errorf("failed to marshal JSON: %w", err))
	} else if err := os.WriteFile(jsonFilename, data, 0644); err != nil {
		errs = append(errs, fmt.Errorf("failed to write JSON file: %w", err))
	} else {
		savedFiles = append(savedFiles, jsonFilename)
	}

	htmlFilename := base + ".html"
	if err := saveHTMLReport(report, htmlFilename); err != nil {
		errs = append(errs, fmt.Errorf("failed to save HTML report: %w", err))
	} else {
		savedFiles = append(savedFiles, htmlFilename)
	}

	return savedFiles, errors.Join(errs...)
}

var shakeTemplate = template.Must(template.New("shake").Parse(`<!DOCTYPE html>
<html>
<head>
    <title>Shake Report - {{.Driver}} - {{.Date}}</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        .summary { background: #f5f5f5; padding: 15px; border-radius: 5px; margin: 20px 0; }
        table { border-collapse: collapse; width: 100%; }
        th, td { border: 1px solid #ddd; padding: 12px; text-align: left; }
        th { background: #4CAF50; color: white; }
        .recommendation-STABLE { color: #4CAF50; font-weight: bold; }
        .recommendation-UNSTABLE { color: #f44336; font-weight: bold; }
        .failure-log { background: #ffebee; padding: 10px; margin: 5px 0; font-family: monospace; font-size: 12px; white-space: pre-wrap; }
    </style>
</head>
<body>
    <h1>Shake Report: {{.Driver}}</h1>
    <div class="summary">
        <p><strong>Environment:</strong> {{.Environment}}</p>
        <p><strong>Iterations:</strong> {{.Iterations}} ({{.Passes}} passed, {{.Failures}} failed)</p>
        <p><strong>Run ID:</strong> {{.RunID}}</p>
        <p><strong>Recommendation:</strong> <span class="recommendation-{{.Recommendation}}">{{.Recommendation}}</span></p>
    </div>
    <h2>Observed records</h2>
    <table>
        <tr><th>Record</th><th>Count</th><th>Expected</th></tr>
        {{range .Records}}
        <tr><td>{{.Record}}</td><td>{{.Count}}</td><td>{{if .Matched}}yes{{else}}no{{end}}</td></tr>
        {{end}}
    </table>
    {{if .FailureLogs}}
    <h2>Failures</h2>
    {{range .FailureLogs}}<div class="failure-log">{{.}}</div>{{end}}
    {{end}}
</body>
</html>`))

func saveHTMLReport(report *ShakeReport, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer func() { _ = file.Close() }()

	return shakeTemplate.Execute(file, report)
}
