package types

import (
	"fmt"
	"strings"
	"time"
)

// FingerprintCheck is the outcome of comparing the observed log fingerprint
// with the reference one.
type FingerprintCheck struct {
	Checked       bool // false when the driver has no reference fingerprint
	Similarity    float64 // Jaccard index of the set bits, compared with Threshold
	Agreement     float64 // share of all bit positions that agree
	Threshold     float64
	Observed      string
	Expected      string
	DivergentBits []int
	Pass          bool
}

// Verdict is the result of one provision-run-verify sequence
type Verdict struct {
	Driver       string
	Environment  string
	RunID        string
	Pass         bool
	Kind         FailureKind
	Family       string
	Parsed       bool
	Observed     ResultRecord
	Expected     ExpectationSet
	MatchedIndex int
	Fingerprint  FingerprintCheck
	ExitCode     int
	Duration     time.Duration
	Output       string
	Err          error
}

// Status returns "pass" or "fail"
func (v *Verdict) Status() string {
	if v.Pass {
		return "pass"
	}
	return "fail"
}

// Summary is a one-line description suitable for logs and tables
func (v *Verdict) Summary() string {
	if v.Pass {
		if v.Fingerprint.Checked {
			return fmt.Sprintf("matched expectation %d, similarity %.4f", v.MatchedIndex, v.Fingerprint.Similarity)
		}
		return fmt.Sprintf("matched expectation %d, fingerprint not checked", v.MatchedIndex)
	}
	if v.Err != nil {
		first, _, _ := strings.Cut(v.Err.Error(), "\n")
		return first
	}
	return v.Kind.String()
}

// Diagnostic renders every observed value so a failure can be diagnosed
// without rerunning it. The raw output is appended last.
func (v *Verdict) Diagnostic() string {
	var b strings.Builder
	fmt.Fprintf(&b, "driver: %s\n", v.Driver)
	fmt.Fprintf(&b, "environment: %s\n", v.Environment)
	fmt.Fprintf(&b, "status: %s\n", v.Status())
	if !v.Pass {
		fmt.Fprintf(&b, "failure: %s\n", v.Kind)
	}
	fmt.Fprintf(&b, "exit code: %d\n", v.ExitCode)
	fmt.Fprintf(&b, "duration: %v\n", v.Duration)
	if v.Parsed {
		fmt.Fprintf(&b, "summary format: %s\n", v.Family)
		fmt.Fprintf(&b, "observed: %s\n", v.Observed)
	} else {
		b.WriteString("observed: unparseable\n")
	}
	if len(v.Expected) > 0 {
		fmt.Fprintf(&b, "expected one of: %s\n", v.Expected)
	}
	if v.MatchedIndex >= 0 {
		fmt.Fprintf(&b, "matched expectation: %d\n", v.MatchedIndex)
	}
	if v.Fingerprint.Checked {
		fmt.Fprintf(&b, "fingerprint similarity: %.4f (threshold %.4f), bit agreement %.4f\n",
			v.Fingerprint.Similarity, v.Fingerprint.Threshold, v.Fingerprint.Agreement)
		if len(v.Fingerprint.DivergentBits) > 0 {
			fmt.Fprintf(&b, "divergent bits: %s\n", formatBits(v.Fingerprint.DivergentBits, 64))
		}
	}
	if v.Fingerprint.Observed != "" {
		fmt.Fprintf(&b, "observed fingerprint:\n%s\n", v.Fingerprint.Observed)
	}
	if v.Err != nil {
		fmt.Fprintf(&b, "error: %v\n", v.Err)
	}
	if v.Output != "" {
		b.WriteString("--- output ---\n")
		b.WriteString(v.Output)
		if !strings.HasSuffix(v.Output, "\n") {
			b.WriteString("\n")
		}
	}
	return b.String()
}
