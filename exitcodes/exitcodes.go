// Package exitcodes defines the exit codes of op-regress.
//
// * Success (0): every selected driver matched an expectation
// * TestFailure (1): at least one driver regressed
// * RuntimeErr (2): an environment could not be provisioned, a command could
// not be launched or timed out, or the harness was misconfigured
package exitcodes

const (
	Success     = 0
	TestFailure = 1
	RuntimeErr  = 2
)
