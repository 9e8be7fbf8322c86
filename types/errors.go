package types

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// FailureKind classifies why a verification did not pass
type FailureKind string

// FailureKind enum values
const (
	FailureNone         FailureKind = ""
	FailureConfig       FailureKind = "config"
	FailureProvisioning FailureKind = "provisioning"
	FailureLaunch       FailureKind = "launch"
	FailureTimeout      FailureKind = "timeout"
	FailureParse        FailureKind = "parse"
	FailureExpectation  FailureKind = "expectation-mismatch"
	FailureFingerprint  FailureKind = "fingerprint-mismatch"
)

// String implements the Stringer interface for FailureKind
func (k FailureKind) String() string {
	if k == FailureNone {
		return "none"
	}
	return string(k)
}

// IsRuntime reports whether the kind means the harness or its environment
// is broken, as opposed to the package under test misbehaving.
func (k FailureKind) IsRuntime() bool {
	switch k {
	case FailureConfig, FailureProvisioning, FailureLaunch, FailureTimeout:
		return true
	}
	return false
}

// ConfigError means a driver's configuration is unusable: an invalid command
// or family, or a reference fingerprint that does not decode.
type ConfigError struct {
	Driver string
	Err    error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration for driver %s: %v", e.Driver, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Kind returns FailureConfig
func (e *ConfigError) Kind() FailureKind { return FailureConfig }

// ProvisioningError means an environment could not be created
type ProvisioningError struct {
	Environment string
	Dependency  string // empty when the failure is not tied to one dependency
	Step        string
	Output      string
	Err         error
}

func (e *ProvisioningError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "provisioning environment %s failed", e.Environment)
	if e.Dependency != "" {
		fmt.Fprintf(&b, " installing %s", e.Dependency)
	} else if e.Step != "" {
		fmt.Fprintf(&b, " during %s", e.Step)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

// Unwrap implements the errors.Unwrap interface
func (e *ProvisioningError) Unwrap() error { return e.Err }

// Kind returns FailureProvisioning
func (e *ProvisioningError) Kind() FailureKind { return FailureProvisioning }

// LaunchError means a command could not be started at all
type LaunchError struct {
	Command []string
	Dir     string
	Err     error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("failed to launch %q in %s: %v", strings.Join(e.Command, " "), e.Dir, e.Err)
}

// Unwrap implements the errors.Unwrap interface
func (e *LaunchError) Unwrap() error { return e.Err }

// Kind returns FailureLaunch
func (e *LaunchError) Kind() FailureKind { return FailureLaunch }

// TimeoutError means a command exceeded its timeout and was terminated
type TimeoutError struct {
	Command []string
	Timeout time.Duration
	Output  string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("command %q timed out after %v", strings.Join(e.Command, " "), e.Timeout)
}

// Kind returns FailureTimeout
func (e *TimeoutError) Kind() FailureKind { return FailureTimeout }

// ParseError means no recognizable test summary was found in the output
type ParseError struct {
	Family   string
	ExitCode int
	Output   string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("no recognizable %s test summary in output (exit code %d)", e.Family, e.ExitCode)
}

// Kind returns FailureParse
func (e *ParseError) Kind() FailureKind { return FailureParse }

// ExpectationMismatchError means the observed record matched no expectation
type ExpectationMismatchError struct {
	Observed ResultRecord
	Expected ExpectationSet
	ExitCode int
	Output   string
}

func (e *ExpectationMismatchError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "observed %s matches none of %d expectations (exit code %d)", e.Observed, len(e.Expected), e.ExitCode)
	for i, want := range e.Expected {
		fmt.Fprintf(&b, "\n  expectation %d %s: %s", i, want, strings.Join(e.Observed.Diff(want), "; "))
	}
	return b.String()
}

// Kind returns FailureExpectation
func (e *ExpectationMismatchError) Kind() FailureKind { return FailureExpectation }

// FingerprintMismatchError means the log similarity fell below the threshold
type FingerprintMismatchError struct {
	Similarity    float64
	Threshold     float64
	Observed      string
	Expected      string
	DivergentBits []int
	Output        string
}

func (e *FingerprintMismatchError) Error() string {
	return fmt.Sprintf("fingerprint similarity %.4f below threshold %.4f (%d divergent bits: %s)\nobserved fingerprint:\n%s",
		e.Similarity, e.Threshold, len(e.DivergentBits), formatBits(e.DivergentBits, 32), e.Observed)
}

// Kind returns FailureFingerprint
func (e *FingerprintMismatchError) Kind() FailureKind { return FailureFingerprint }

func formatBits(bits []int, max int) string {
	if len(bits) == 0 {
		return "none"
	}
	n := len(bits)
	if n > max {
		n = max
	}
	parts := make([]string, n)
	for i := 0; i < n; i++ {
		parts[i] = fmt.Sprintf("%d", bits[i])
	}
	s := strings.Join(parts, ",")
	if len(bits) > max {
		s += fmt.Sprintf(",... (+%d)", len(bits)-max)
	}
	return s
}

type kinded interface {
	Kind() FailureKind
}

// KindOf classifies err. Errors that carry no kind are reported as launch
// failures when they are non-nil, since they come from the harness itself.
func KindOf(err error) FailureKind {
	if err == nil {
		return FailureNone
	}
	var k kinded
	if errors.As(err, &k) {
		return k.Kind()
	}
	return FailureLaunch
}

// IsConfigError checks if the error is or wraps a ConfigError
func IsConfigError(err error) bool {
	var e *ConfigError
	return err != nil && errors.As(err, &e)
}

// IsProvisioningError checks if the error is or wraps a ProvisioningError
func IsProvisioningError(err error) bool {
	var e *ProvisioningError
	return err != nil && errors.As(err, &e)
}

// IsLaunchError checks if the error is or wraps a LaunchError
func IsLaunchError(err error) bool {
	var e *LaunchError
	return err != nil && errors.As(err, &e)
}

// IsTimeoutError checks if the error is or wraps a TimeoutError
func IsTimeoutError(err error) bool {
	var e *TimeoutError
	return err != nil && errors.As(err, &e)
}

// IsParseError checks if the error is or wraps a ParseError
func IsParseError(err error) bool {
	var e *ParseError
	return err != nil && errors.As(err, &e)
}

// IsExpectationMismatch checks if the error is or wraps an ExpectationMismatchError
func IsExpectationMismatch(err error) bool {
	var e *ExpectationMismatchError
	return err != nil && errors.As(err, &e)
}

// IsFingerprintMismatch checks if the error is or wraps a FingerprintMismatchError
func IsFingerprintMismatch(err error) bool {
	var e *FingerprintMismatchError
	return err != nil && errors.As(err, &e)
}
