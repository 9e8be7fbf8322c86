package regress

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync/atomic"

	"github.com/ethereum-optimism/infra/op-regress/fingerprint"
	"github.com/ethereum-optimism/infra/op-regress/harness"
	"github.com/ethereum-optimism/infra/op-regress/provision"
	"github.com/ethereum-optimism/infra/op-regress/registry"
	"github.com/ethereum-optimism/infra/op-regress/reporting"
	"github.com/ethereum-optimism/infra/op-regress/runner"
	"github.com/ethereum-optimism/infra/op-regress/service"
	"github.com/ethereum-optimism/infra/op-regress/types"
	"github.com/ethereum-optimism/optimism/op-service/cliapp"
)

// Verifier verifies drivers, once or repeatedly
type Verifier interface {
	VerifyAll(ctx context.Context, drivers []types.DriverConfig, concurrency int) (*harness.RunResult, error)
	Shake(ctx context.Context, d types.DriverConfig, iterations int) (*harness.ShakeReport, error)
}

var _ Verifier = (*harness.Matcher)(nil)

// regress implements the cliapp.Lifecycle interface.
var _ cliapp.Lifecycle = &regress{}

// regress verifies the selected drivers once and exits
type regress struct {
	config   *Config
	version  string
	drivers  []types.DriverConfig
	verifier Verifier
	service  *service.Service
	result   *harness.RunResult

	running atomic.Bool

	shutdownCallback func(error)
}

func New(ctx context.Context, config *Config, version string, shutdownCallback func(error)) (*regress, error) {
	if config == nil {
		return nil, errors.New("config is required")
	}

	config.Log.Debug("Creating op-regress with config",
		"driverFile", config.DriverFile,
		"drivers", config.Drivers,
		"envRoot", config.EnvRoot,
		"concurrency", config.Concurrency,
		"shakeIterations", config.ShakeIterations)

	reg, err := registry.NewRegistry(registry.Config{
		Log:            config.Log,
		DriverFile:     config.DriverFile,
		DefaultTimeout: config.DefaultTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create registry: %w", err)
	}
	drivers, err := reg.Select(config.Drivers)
	if err != nil {
		return nil, err
	}

	toolchain, err := resolveToolchain(reg, config.Toolchain)
	if err != nil {
		return nil, err
	}

	exec, err := runner.NewExecutor(runner.Config{Log: config.Log})
	if err != nil {
		return nil, fmt.Errorf("failed to create runner: %w", err)
	}
	prov, err := provision.New(provision.Config{
		Log:            config.Log,
		Root:           config.EnvRoot,
		Toolchain:      toolchain,
		Runner:         exec,
		InstallTimeout: config.InstallTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create provisioner: %w", err)
	}
	fp, err := fingerprint.NewVerifier(fingerprint.NewNormalizer(reg.Filters()...), config.Threshold)
	if err != nil {
		return nil, fmt.Errorf("failed to create fingerprint verifier: %w", err)
	}
	matcher, err := harness.NewMatcher(harness.Config{
		Log:              config.Log,
		Provisioner:      prov,
		Runner:           exec,
		Verifier:         fp,
		DefaultTimeout:   config.DefaultTimeout,
		PrintFingerprint: config.PrintFingerprint,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create matcher: %w", err)
	}
	config.Log.Info("regress.New: created registry and matcher", "drivers", len(drivers), "toolchain", toolchain.Name)

	r := newRegress(config, version, drivers, matcher, shutdownCallback)
	if config.Metrics.Enabled {
		r.service = service.New(service.NewConfig(config.Metrics.ListenAddr, config.Metrics.ListenPort))
	}
	return r, nil
}

func newRegress(config *Config, version string, drivers []types.DriverConfig, verifier Verifier, shutdownCallback func(error)) *regress {
	return &regress{
		config:           config,
		version:          version,
		drivers:          drivers,
		verifier:         verifier,
		shutdownCallback: shutdownCallback,
	}
}

// resolveToolchain prefers the toolchain declared in the driver file
func resolveToolchain(reg *registry.Registry, name string) (provision.Toolchain, error) {
	if tc := reg.Toolchain(); tc != nil {
		return *tc, nil
	}
	return provision.LookupToolchain(name)
}

// Start verifies the selected drivers and reports the outcome through its
// error: nil when every driver passed, a TestFailureError on regressions and
// a RuntimeError when a driver could not run at all.
func (r *regress) Start(ctx context.Context) error {
	r.running.Store(true)
	if r.service != nil {
		r.service.Start(ctx)
	}

	r.config.Log.Info("Starting op-regress", "version", r.version, "drivers", len(r.drivers))

	var err error
	if r.config.ShakeIterations > 0 {
		err = r.shake(ctx)
	} else {
		err = r.verify(ctx)
	}
	if err != nil {
		return err
	}

	r.config.Log.Info("All drivers passed, exiting")
	go func() {
		r.shutdownCallback(nil)
	}()
	return nil
}

func (r *regress) verify(ctx context.Context) error {
	result, err := r.verifier.VerifyAll(ctx, r.drivers, r.config.Concurrency)
	if err != nil {
		r.config.Log.Error("Runtime error verifying drivers", "error", err)
		return NewRuntimeError(err)
	}
	r.result = result

	if err := reporting.NewReportGenerator(reporting.NewTableFormatter("Regression Results"), reporting.NewStdoutWriter()).Generate(result); err != nil {
		r.config.Log.Warn("Failed to print results table", "error", err)
	}
	if !result.Pass() {
		if err := reporting.NewReportGenerator(reporting.NewTextSummaryFormatter(true), reporting.NewStdoutWriter()).Generate(result); err != nil {
			r.config.Log.Warn("Failed to print failure summary", "error", err)
		}
	}
	if r.config.ReportDir != "" {
		path, err := reporting.WriteJSONReport(r.config.ReportDir, result)
		if err != nil {
			return NewRuntimeError(err)
		}
		r.config.Log.Info("Wrote report", "path", path)
		logDir, err := reporting.WriteDriverLogs(r.config.ReportDir, result)
		if err != nil {
			return NewRuntimeError(err)
		}
		r.config.Log.Info("Wrote driver logs", "dir", logDir)
	}

	r.config.Log.Info("Verification completed", "run_id", result.RunID,
		"passed", result.Passed(), "failed", result.Failed(), "duration", result.Duration)

	if rf := result.RuntimeFailures(); len(rf) > 0 {
		return NewRuntimeError(fmt.Errorf("%d driver(s) could not run: %s", len(rf), driverNames(rf)))
	}
	if !result.Pass() {
		var failed []*types.Verdict
		for _, v := range result.Verdicts {
			if !v.Pass {
				failed = append(failed, v)
			}
		}
		return NewTestFailureError(fmt.Sprintf("%d driver(s) regressed: %s", len(failed), driverNames(failed)))
	}
	return nil
}

func (r *regress) shake(ctx context.Context) error {
	var unstable []string
	for _, d := range r.drivers {
		report, err := r.verifier.Shake(ctx, d, r.config.ShakeIterations)
		if err != nil {
			return NewRuntimeError(err)
		}
		fmt.Fprint(os.Stdout, reporting.FormatShake(report))
		if r.config.ReportDir != "" {
			if err := os.MkdirAll(r.config.ReportDir, 0755); err != nil {
				return NewRuntimeError(fmt.Errorf("failed to create report directory: %w", err))
			}
			files, err := harness.SaveShakeReport(report, r.config.ReportDir)
			if err != nil {
				return NewRuntimeError(err)
			}
			r.config.Log.Info("Wrote shake report", "files", files)
		}
		if report.Recommendation != harness.RecommendationStable {
			unstable = append(unstable, d.Name)
		}
	}
	if len(unstable) > 0 {
		return NewTestFailureError(fmt.Sprintf("unstable drivers: %s", strings.Join(unstable, ", ")))
	}
	return nil
}

func driverNames(vs []*types.Verdict) string {
	names := make([]string, len(vs))
	for i, v := range vs {
		names[i] = v.Driver
	}
	return strings.Join(names, ", ")
}

// Stop implements the cliapp.Lifecycle interface.
func (r *regress) Stop(ctx context.Context) error {
	r.config.Log.Info("Stopping op-regress")
	if !r.running.Swap(false) {
		r.config.Log.Debug("Service already stopped, nothing to do")
		return nil
	}
	if r.service != nil {
		r.service.Shutdown()
	}
	r.config.Log.Info("op-regress stopped successfully")
	return nil
}

// Stopped implements the cliapp.Lifecycle interface.
func (r *regress) Stopped() bool {
	return !r.running.Load()
}
