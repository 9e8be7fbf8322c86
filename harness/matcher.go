// Package harness composes provisioning, execution, parsing and fingerprint
// checks into a single verdict per driver.
package harness

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ethereum-optimism/infra/op-regress/fingerprint"
	"github.com/ethereum-optimism/infra/op-regress/metrics"
	"github.com/ethereum-optimism/infra/op-regress/parser"
	"github.com/ethereum-optimism/infra/op-regress/provision"
	"github.com/ethereum-optimism/infra/op-regress/runner"
	"github.com/ethereum-optimism/infra/op-regress/types"
)

// Provisioner materializes environments
type Provisioner interface {
	Provision(ctx context.Context, spec types.EnvironmentSpec) (*provision.Environment, error)
}

// Config holds configuration for creating a new Matcher
type Config struct {
	Log              log.Logger
	Provisioner      Provisioner
	Runner           runner.Runner
	Verifier         *fingerprint.Verifier
	DefaultTimeout   time.Duration
	PrintFingerprint bool
	RunID            string
}

// Matcher verifies drivers: provision, setup, run, parse, fingerprint,
// then compare against the acceptable outcomes.
type Matcher struct {
	log              log.Logger
	provisioner      Provisioner
	runner           runner.Runner
	verifier         *fingerprint.Verifier
	defaultTimeout   time.Duration
	printFingerprint bool
	runID            string
	tracer           trace.Tracer
}

// NewMatcher creates a new Matcher
func NewMatcher(cfg Config) (*Matcher, error) {
	if cfg.Provisioner == nil {
		return nil, fmt.Errorf("provisioner is required")
	}
	if cfg.Runner == nil {
		return nil, fmt.Errorf("runner is required")
	}
	if cfg.DefaultTimeout < 0 {
		return nil, fmt.Errorf("default timeout cannot be negative: %v", cfg.DefaultTimeout)
	}
	if cfg.Log == nil {
		cfg.Log = log.New()
		cfg.Log.Error("No logger provided, using default")
	}
	if cfg.Verifier == nil {
		v, err := fingerprint.NewVerifier(nil, fingerprint.DefaultThreshold)
		if err != nil {
			return nil, err
		}
		cfg.Verifier = v
	}
	if cfg.RunID == "" {
		cfg.RunID = uuid.New().String()
	}
	return &Matcher{
		log:              cfg.Log,
		provisioner:      cfg.Provisioner,
		runner:           cfg.Runner,
		verifier:         cfg.Verifier,
		defaultTimeout:   cfg.DefaultTimeout,
		printFingerprint: cfg.PrintFingerprint,
		runID:            cfg.RunID,
		tracer:           otel.Tracer("regress harness"),
	}, nil
}

// RunID identifies the verdicts produced by this matcher
func (m *Matcher) RunID() string {
	return m.runID
}

// Verify runs one driver and always returns its verdict. The returned error
// is the verdict's failure, nil exactly when the verdict passed.
func (m *Matcher) Verify(ctx context.Context, d types.DriverConfig) (*types.Verdict, error) {
	ctx, span := m.tracer.Start(ctx, fmt.Sprintf("driver %s", d.Name))
	defer span.End()

	start := time.Now()
	v := &types.Verdict{
		Driver:       d.Name,
		Environment:  d.Environment.Name,
		RunID:        m.runID,
		Expected:     d.Expected,
		MatchedIndex: -1,
	}

	err := m.verify(ctx, d, v)
	v.Duration = time.Since(start)
	v.Err = err
	v.Pass = err == nil
	v.Kind = types.KindOf(err)

	span.SetAttributes(
		attribute.String("driver", d.Name),
		attribute.String("result", v.Status()),
		attribute.String("kind", v.Kind.String()),
	)
	if err != nil {
		span.SetStatus(codes.Error, v.Kind.String())
		metrics.RecordErrorDetails("verify."+v.Kind.String(), err)
	}
	metrics.RecordVerification(v)

	if v.Pass {
		m.log.Info("Driver passed", "driver", d.Name, "summary", v.Summary(), "duration", v.Duration)
	} else {
		m.log.Error("Driver failed", "driver", d.Name, "kind", v.Kind, "error", err)
	}
	return v, err
}

func (m *Matcher) verify(ctx context.Context, d types.DriverConfig, v *types.Verdict) error {
	if err := d.Validate(); err != nil {
		return &types.ConfigError{Driver: d.Name, Err: err}
	}
	family, err := parser.ParseFamily(d.Family)
	if err != nil {
		return &types.ConfigError{Driver: d.Name, Err: err}
	}

	env, err := m.provision(ctx, d.Environment)
	if err != nil {
		return err
	}
	if err := m.setup(ctx, d, env); err != nil {
		return err
	}

	req, err := m.request(d, env)
	if err != nil {
		return err
	}
	outcome, err := m.run(ctx, d.Name, req)
	if outcome != nil {
		v.ExitCode = outcome.ExitCode
		v.Output = outcome.Output()
	}
	if err != nil {
		return err
	}
	if outcome.TimedOut {
		return &types.TimeoutError{Command: req.Argv(), Timeout: req.Timeout(), Output: v.Output}
	}

	res, err := m.parse(ctx, v.Output, family)
	if err != nil {
		var perr *types.ParseError
		if errors.As(err, &perr) {
			perr.ExitCode = outcome.ExitCode
		}
		return err
	}
	v.Parsed = true
	v.Family = res.Family.String()
	v.Observed = res.Record

	check, err := m.fingerprint(ctx, d, v.Output)
	if err != nil {
		return err
	}
	v.Fingerprint = check

	return m.match(d, v, outcome)
}

func (m *Matcher) provision(ctx context.Context, spec types.EnvironmentSpec) (*provision.Environment, error) {
	ctx, span := m.tracer.Start(ctx, fmt.Sprintf("provision %s", spec.Name))
	defer span.End()

	env, err := m.provisioner.Provision(ctx, spec)
	if err != nil {
		span.SetStatus(codes.Error, "provisioning failed")
		return nil, err
	}
	span.SetAttributes(attribute.Bool("reused", env.Reused))
	return env, nil
}

// setup runs the driver's setup steps in order; any failure is reported as
// a provisioning failure naming the step
func (m *Matcher) setup(ctx context.Context, d types.DriverConfig, env *provision.Environment) error {
	for i, step := range d.Setup {
		argv := env.Expand(step.Argv)
		stepName := fmt.Sprintf("setup step %d (%s)", i, strings.Join(argv, " "))
		req, err := types.NewExecutionRequest(argv, resolveDir(env, step.Cwd), expandEnv(env, d.Env), m.timeout(d))
		if err != nil {
			return &types.ProvisioningError{Environment: env.Name, Step: stepName, Err: err}
		}

		m.log.Info("Running setup step", "driver", d.Name, "step", i, "command", req.String())
		outcome, err := m.runner.Run(ctx, req)
		if err != nil {
			return &types.ProvisioningError{Environment: env.Name, Step: stepName, Output: outcome.Output(), Err: err}
		}
		if outcome.TimedOut {
			return &types.ProvisioningError{
				Environment: env.Name,
				Step:        stepName,
				Output:      outcome.Output(),
				Err:         &types.TimeoutError{Command: argv, Timeout: req.Timeout(), Output: outcome.Output()},
			}
		}
		if outcome.ExitCode != 0 {
			return &types.ProvisioningError{
				Environment: env.Name,
				Step:        stepName,
				Output:      outcome.Output(),
				Err:         fmt.Errorf("exit code %d", outcome.ExitCode),
			}
		}
	}
	return nil
}

func (m *Matcher) request(d types.DriverConfig, env *provision.Environment) (types.ExecutionRequest, error) {
	req, err := types.NewExecutionRequest(env.Expand(d.Command), resolveDir(env, d.Cwd), expandEnv(env, d.Env), m.timeout(d))
	if err != nil {
		return types.ExecutionRequest{}, &types.LaunchError{Command: d.Command, Dir: d.Cwd, Err: err}
	}
	return req, nil
}

func (m *Matcher) run(ctx context.Context, driver string, req types.ExecutionRequest) (*types.ExecutionOutcome, error) {
	ctx, span := m.tracer.Start(ctx, "run")
	defer span.End()

	m.log.Info("Running command", "driver", driver, "command", req.String(), "dir", req.Dir(), "timeout", req.Timeout())
	outcome, err := m.runner.Run(ctx, req)
	if outcome != nil {
		metrics.RecordRunDuration(driver, outcome.Duration)
		span.SetAttributes(attribute.Int("exit_code", outcome.ExitCode), attribute.Bool("timed_out", outcome.TimedOut))
		m.log.Debug("Command finished", "driver", driver, "exit_code", outcome.ExitCode,
			"duration", outcome.Duration, "timed_out", outcome.TimedOut, "signal", outcome.Signal)
	}
	if err != nil {
		span.SetStatus(codes.Error, "run failed")
	}
	return outcome, err
}

func (m *Matcher) parse(ctx context.Context, output string, family parser.Family) (*parser.Result, error) {
	_, span := m.tracer.Start(ctx, "parse")
	defer span.End()

	res, err := parser.Parse(output, family)
	if err != nil {
		span.SetStatus(codes.Error, "no summary")
		return nil, err
	}
	span.SetAttributes(attribute.String("family", res.Family.String()), attribute.String("summary", res.Summary))
	return res, nil
}

func (m *Matcher) fingerprint(ctx context.Context, d types.DriverConfig, output string) (types.FingerprintCheck, error) {
	_, span := m.tracer.Start(ctx, "fingerprint")
	defer span.End()

	check, err := m.verifier.Check(output, d.Fingerprint, d.Threshold)
	if err != nil {
		return types.FingerprintCheck{}, &types.ConfigError{Driver: d.Name, Err: err}
	}
	span.SetAttributes(attribute.Bool("checked", check.Checked), attribute.Float64("similarity", check.Similarity))
	if m.printFingerprint || !check.Checked {
		m.log.Info("Observed fingerprint", "driver", d.Name, "fingerprint", "\n"+check.Observed)
	}
	return check, nil
}

// match compares the parsed record against every acceptable outcome and the
// fingerprint against its reference. Both failures are reported together.
// The exit code is informational: the parsed record is authoritative.
func (m *Matcher) match(d types.DriverConfig, v *types.Verdict, outcome *types.ExecutionOutcome) error {
	var errs []error
	if idx, ok := d.Expected.Match(v.Observed); ok {
		v.MatchedIndex = idx
	} else {
		errs = append(errs, &types.ExpectationMismatchError{
			Observed: v.Observed,
			Expected: d.Expected,
			ExitCode: outcome.ExitCode,
			Output:   v.Output,
		})
	}
	if fp := v.Fingerprint; fp.Checked && !fp.Pass {
		errs = append(errs, &types.FingerprintMismatchError{
			Similarity:    fp.Similarity,
			Threshold:     fp.Threshold,
			Observed:      fp.Observed,
			Expected:      fp.Expected,
			DivergentBits: fp.DivergentBits,
			Output:        v.Output,
		})
	}
	return errors.Join(errs...)
}

func (m *Matcher) timeout(d types.DriverConfig) time.Duration {
	if d.Timeout > 0 {
		return d.Timeout
	}
	return m.defaultTimeout
}

// resolveDir expands placeholders in dir and resolves a relative result
// against the environment root
func resolveDir(env *provision.Environment, dir string) string {
	if dir == "" {
		return env.Root
	}
	dir = env.Expand([]string{dir})[0]
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(env.Root, dir)
	}
	return dir
}

func expandEnv(env *provision.Environment, vars map[string]string) map[string]string {
	if len(vars) == 0 {
		return nil
	}
	out := make(map[string]string, len(vars))
	placeholders := env.Vars()
	for k, v := range vars {
		out[k] = provision.Expand([]string{v}, placeholders)[0]
	}
	return out
}
