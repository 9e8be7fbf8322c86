package harness

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ethereum-optimism/infra/op-regress/types"
)

// RunResult holds the verdicts of one batch of drivers, in driver order
type RunResult struct {
	RunID    string
	Verdicts []*types.Verdict
	Start    time.Time
	Duration time.Duration
}

// Passed counts passing verdicts
func (r *RunResult) Passed() int {
	n := 0
	for _, v := range r.Verdicts {
		if v.Pass {
			n++
		}
	}
	return n
}

// Failed counts failing verdicts
func (r *RunResult) Failed() int {
	return len(r.Verdicts) - r.Passed()
}

// Pass reports whether every verdict passed
func (r *RunResult) Pass() bool {
	return r.Failed() == 0
}

// RuntimeFailures returns the verdicts that failed because the harness or
// an environment is broken rather than the package under test
func (r *RunResult) RuntimeFailures() []*types.Verdict {
	var out []*types.Verdict
	for _, v := range r.Verdicts {
		if !v.Pass && v.Kind.IsRuntime() {
			out = append(out, v)
		}
	}
	return out
}

// CheckEnvironments rejects driver sets in which two drivers share an
// environment, since they cannot be provisioned side by side
func CheckEnvironments(drivers []types.DriverConfig) error {
	owners := make(map[string][]string)
	var order []string
	for _, d := range drivers {
		name := d.Environment.Name
		if _, ok := owners[name]; !ok {
			order = append(order, name)
		}
		owners[name] = append(owners[name], d.Name)
	}
	var dups []string
	for _, name := range order {
		if len(owners[name]) > 1 {
			dups = append(dups, fmt.Sprintf("%s (%s)", name, strings.Join(owners[name], ", ")))
		}
	}
	if len(dups) > 0 {
		return fmt.Errorf("drivers share environments and cannot run concurrently: %s", strings.Join(dups, "; "))
	}
	return nil
}

// VerifyAll verifies drivers with at most concurrency running at once.
// Failed verifications are reported in the verdicts; the error is only set
// when the batch could not be started.
func (m *Matcher) VerifyAll(ctx context.Context, drivers []types.DriverConfig, concurrency int) (*RunResult, error) {
	if concurrency < 1 {
		return nil, fmt.Errorf("concurrency must be at least 1, got %d", concurrency)
	}
	if concurrency > 1 {
		if err := CheckEnvironments(drivers); err != nil {
			return nil, err
		}
	}

	result := &RunResult{
		RunID:    m.runID,
		Verdicts: make([]*types.Verdict, len(drivers)),
		Start:    time.Now(),
	}
	m.log.Info("Verifying drivers", "run_id", m.runID, "drivers", len(drivers), "concurrency", concurrency)

	var g errgroup.Group
	g.SetLimit(concurrency)
	for i, d := range drivers {
		g.Go(func() error {
			v, _ := m.Verify(ctx, d)
			result.Verdicts[i] = v
			return nil
		})
	}
	_ = g.Wait()

	result.Duration = time.Since(result.Start)
	m.log.Info("Verification finished", "run_id", m.runID, "passed", result.Passed(), "failed", result.Failed(), "duration", result.Duration)
	return result, nil
}
