package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum-optimism/infra/op-regress/types"
	"github.com/ethereum/go-ethereum/log"
)

// DefaultGracePeriod is how long a timed out process group gets between the
// polite termination signal and SIGKILL.
const DefaultGracePeriod = 3 * time.Second

var _ Runner = (*executor)(nil)

// Runner executes a single request synchronously.
//
// A non-zero exit status is ordinary data carried in the outcome, never an
// error. An error is returned only when the command cannot be started (a
// *types.LaunchError) or when ctx is cancelled while it runs. A request
// timeout terminates the whole process group and is reported through
// ExecutionOutcome.TimedOut.
type Runner interface {
	Run(ctx context.Context, req types.ExecutionRequest) (*types.ExecutionOutcome, error)
}

// Config holds configuration for creating a new executor
type Config struct {
	Log         log.Logger
	GracePeriod time.Duration
	// EnvProvider returns the base environment that request overrides are
	// applied to. Defaults to os.Environ.
	EnvProvider func() []string
}

type executor struct {
	log         log.Logger
	gracePeriod time.Duration
	envProvider func() []string
}

// NewExecutor creates a new process runner
func NewExecutor(cfg Config) (Runner, error) {
	if cfg.GracePeriod < 0 {
		return nil, fmt.Errorf("grace period cannot be negative: %v", cfg.GracePeriod)
	}
	if cfg.GracePeriod == 0 {
		cfg.GracePeriod = DefaultGracePeriod
	}
	if cfg.EnvProvider == nil {
		cfg.EnvProvider = os.Environ
	}
	if cfg.Log == nil {
		cfg.Log = log.New()
	}
	return &executor{
		log:         cfg.Log,
		gracePeriod: cfg.GracePeriod,
		envProvider: cfg.EnvProvider,
	}, nil
}

// Run implements the Runner interface
func (e *executor) Run(ctx context.Context, req types.ExecutionRequest) (*types.ExecutionOutcome, error) {
	if ctx == nil {
		return nil, fmt.Errorf("context cannot be nil")
	}
	argv := req.Argv()
	dir := req.Dir()

	if err := checkDir(dir); err != nil {
		return nil, &types.LaunchError{Command: argv, Dir: dir, Err: err}
	}

	name, err := resolveCommand(argv[0], dir, req.Env())
	if err != nil {
		return nil, &types.LaunchError{Command: argv, Dir: dir, Err: err}
	}
	cmd := exec.Command(name, argv[1:]...)
	cmd.Args[0] = argv[0]
	cmd.Dir = dir
	cmd.Env = req.MergeEnv(e.envProvider())
	setProcessGroup(cmd)

	var out capture
	cmd.Stdout = out.stdoutWriter()
	cmd.Stderr = out.stderrWriter()

	e.log.Info("Running command", "cmd", req.String(), "dir", dir, "timeout", req.Timeout())

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, &types.LaunchError{Command: argv, Dir: dir, Err: err}
	}

	waitDone := make(chan error, 1)
	go func() {
		waitDone <- cmd.Wait()
	}()

	var timeoutC <-chan time.Time
	if req.Timeout() > 0 {
		timer := time.NewTimer(req.Timeout())
		defer timer.Stop()
		timeoutC = timer.C
	}

	var runErr error
	var timedOut, cancelled bool
	select {
	case runErr = <-waitDone:
	case <-timeoutC:
		timedOut = true
		e.log.Warn("Command timed out, terminating process group", "cmd", req.String(), "timeout", req.Timeout())
		runErr = e.terminate(cmd, waitDone)
	case <-ctx.Done():
		cancelled = true
		e.log.Warn("Context cancelled, terminating process group", "cmd", req.String())
		runErr = e.terminate(cmd, waitDone)
	}
	duration := time.Since(start)

	stdout, stderr, combined := out.snapshot()
	outcome := &types.ExecutionOutcome{
		Command:  argv,
		Dir:      dir,
		Stdout:   stdout,
		Stderr:   stderr,
		Combined: combined,
		Duration: duration,
		TimedOut: timedOut,
	}

	if runErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			return nil, &types.LaunchError{Command: argv, Dir: dir, Err: runErr}
		}
	}
	if cmd.ProcessState != nil {
		outcome.ExitCode = cmd.ProcessState.ExitCode()
		outcome.Signal = signalOf(cmd.ProcessState)
	}

	e.log.Debug("Command finished", "cmd", req.String(), "exit_code", outcome.ExitCode,
		"signal", outcome.Signal, "duration", duration, "bytes", len(combined))

	if cancelled {
		return outcome, fmt.Errorf("command %q cancelled: %w", req.String(), ctx.Err())
	}
	return outcome, nil
}

// terminate signals the process group, gives it the grace period to exit and
// then kills whatever is left. It returns the result of cmd.Wait.
func (e *executor) terminate(cmd *exec.Cmd, waitDone <-chan error) error {
	interruptGroup(cmd)
	select {
	case err := <-waitDone:
		killGroup(cmd)
		return err
	case <-time.After(e.gracePeriod):
	}
	killGroup(cmd)
	return <-waitDone
}

func checkDir(dir string) error {
	if dir == "" {
		return nil
	}
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("invalid working directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("invalid working directory: %s is not a directory", dir)
	}
	return nil
}

// resolveCommand looks a bare command name up in the request's PATH when the
// request overrides it. Otherwise the name is left to exec, which searches
// the harness PATH. Relative PATH entries are taken relative to dir.
func resolveCommand(name, dir string, env map[string]string) (string, error) {
	path, ok := env["PATH"]
	if !ok || strings.ContainsRune(name, '/') || strings.ContainsRune(name, filepath.Separator) {
		return name, nil
	}
	for _, entry := range filepath.SplitList(path) {
		if entry == "" {
			continue
		}
		candidate := filepath.Join(entry, name)
		if !filepath.IsAbs(candidate) {
			abs, err := filepath.Abs(filepath.Join(dir, candidate))
			if err != nil {
				continue
			}
			candidate = abs
		}
		if isExecutable(candidate) {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%s: %w in request PATH %q", name, exec.ErrNotFound, path)
}
