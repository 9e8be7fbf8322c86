package reporting

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ethereum-optimism/infra/op-regress/harness"
	"github.com/ethereum-optimism/infra/op-regress/types"
)

// VerdictReport is the serialized form of a verdict
type VerdictReport struct {
	Driver        string               `json:"driver"`
	Environment   string               `json:"environment"`
	Status        string               `json:"status"`
	Kind          string               `json:"failure_kind,omitempty"`
	Family        string               `json:"family,omitempty"`
	Observed      types.ResultRecord   `json:"observed,omitempty"`
	Expected      types.ExpectationSet `json:"expected"`
	MatchedIndex  int                  `json:"matched_index"`
	Similarity    *float64             `json:"similarity,omitempty"`
	Agreement     *float64             `json:"bit_agreement,omitempty"`
	Threshold     float64              `json:"threshold,omitempty"`
	Fingerprint   string               `json:"fingerprint,omitempty"`
	DivergentBits []int                `json:"divergent_bits,omitempty"`
	ExitCode      int                  `json:"exit_code"`
	Duration      time.Duration        `json:"duration"`
	Error         string               `json:"error,omitempty"`
	Diagnostic    string               `json:"diagnostic,omitempty"`
}

// Report is the serialized form of a run
type Report struct {
	RunID     string          `json:"run_id"`
	Timestamp time.Time       `json:"timestamp"`
	Duration  time.Duration   `json:"duration"`
	Passed    int             `json:"passed"`
	Failed    int             `json:"failed"`
	Status    string          `json:"status"`
	Verdicts  []VerdictReport `json:"verdicts"`
}

// BuildReport converts a run result. Failing verdicts carry their full
// diagnostic, passing ones do not.
func BuildReport(result *harness.RunResult) *Report {
	r := &Report{
		RunID:     result.RunID,
		Timestamp: result.Start,
		Duration:  result.Duration,
		Passed:    result.Passed(),
		Failed:    result.Failed(),
		Status:    "pass",
		Verdicts:  make([]VerdictReport, 0, len(result.Verdicts)),
	}
	if !result.Pass() {
		r.Status = "fail"
	}
	for _, v := range result.Verdicts {
		vr := VerdictReport{
			Driver:        v.Driver,
			Environment:   v.Environment,
			Status:        v.Status(),
			Family:        v.Family,
			Expected:      v.Expected,
			MatchedIndex:  v.MatchedIndex,
			Fingerprint:   v.Fingerprint.Observed,
			DivergentBits: v.Fingerprint.DivergentBits,
			ExitCode:      v.ExitCode,
			Duration:      v.Duration,
		}
		if v.Parsed {
			vr.Observed = v.Observed
		}
		if v.Fingerprint.Checked {
			s := v.Fingerprint.Similarity
			vr.Similarity = &s
			a := v.Fingerprint.Agreement
			vr.Agreement = &a
			vr.Threshold = v.Fingerprint.Threshold
		}
		if !v.Pass {
			vr.Kind = v.Kind.String()
			vr.Diagnostic = v.Diagnostic()
			if v.Err != nil {
				vr.Error = v.Err.Error()
			}
		}
		r.Verdicts = append(r.Verdicts, vr)
	}
	return r
}

// JSONFormatter renders a run result as indented JSON
type JSONFormatter struct{}

func (JSONFormatter) Format(result *harness.RunResult) (string, error) {
	data, err := json.MarshalIndent(BuildReport(result), "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal report: %w", err)
	}
	return string(data) + "\n", nil
}

// WriteJSONReport writes regress-<run id>.json into dir and returns its path
func WriteJSONReport(dir string, result *harness.RunResult) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create report directory: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("regress-%s.json", result.RunID))
	if err := NewReportGenerator(JSONFormatter{}, NewFileWriter(path)).Generate(result); err != nil {
		return "", err
	}
	return path, nil
}
