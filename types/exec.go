package types

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ExecutionRequest is an immutable description of a command to run.
// The command is an argument vector; it is never passed through a shell.
type ExecutionRequest struct {
	argv    []string
	dir     string
	env     map[string]string
	timeout time.Duration
}

// NewExecutionRequest copies its inputs so the request cannot be mutated
// after construction. A zero timeout means no timeout.
func NewExecutionRequest(argv []string, dir string, env map[string]string, timeout time.Duration) (ExecutionRequest, error) {
	if len(argv) == 0 || argv[0] == "" {
		return ExecutionRequest{}, errors.New("command cannot be empty")
	}
	if timeout < 0 {
		return ExecutionRequest{}, fmt.Errorf("timeout cannot be negative: %v", timeout)
	}
	req := ExecutionRequest{
		argv:    append([]string(nil), argv...),
		dir:     dir,
		timeout: timeout,
	}
	if len(env) > 0 {
		req.env = make(map[string]string, len(env))
		for k, v := range env {
			if k == "" || strings.Contains(k, "=") {
				return ExecutionRequest{}, fmt.Errorf("invalid environment variable name %q", k)
			}
			req.env[k] = v
		}
	}
	return req, nil
}

// Argv returns a copy of the argument vector
func (r ExecutionRequest) Argv() []string {
	return append([]string(nil), r.argv...)
}

// Dir returns the working directory
func (r ExecutionRequest) Dir() string {
	return r.dir
}

// Timeout returns the configured timeout, zero when unbounded
func (r ExecutionRequest) Timeout() time.Duration {
	return r.timeout
}

// Env returns a copy of the environment overrides
func (r ExecutionRequest) Env() map[string]string {
	out := make(map[string]string, len(r.env))
	for k, v := range r.env {
		out[k] = v
	}
	return out
}

// MergeEnv applies the overrides on top of base ("KEY=VALUE" entries).
// Overridden keys replace the base entry; the result is deterministic.
func (r ExecutionRequest) MergeEnv(base []string) []string {
	merged := make(map[string]string, len(base)+len(r.env))
	for _, kv := range base {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		merged[k] = v
	}
	for k, v := range r.env {
		merged[k] = v
	}
	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+merged[k])
	}
	return out
}

// String renders the command for logs and diagnostics
func (r ExecutionRequest) String() string {
	return strings.Join(r.argv, " ")
}

// ExecutionOutcome is what a single process run produced
type ExecutionOutcome struct {
	Command  []string
	Dir      string
	ExitCode int
	Stdout   []byte
	Stderr   []byte
	Combined []byte // stdout and stderr interleaved in arrival order
	Duration time.Duration
	TimedOut bool
	Signal   string // terminating signal, if any
}

// Output returns the combined output as text
func (o *ExecutionOutcome) Output() string {
	if o == nil {
		return ""
	}
	return string(o.Combined)
}

// Success reports a zero exit that did not time out
func (o *ExecutionOutcome) Success() bool {
	return o != nil && o.ExitCode == 0 && !o.TimedOut
}
