package regress

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"

	"github.com/ethereum-optimism/infra/op-regress/flags"
	"github.com/ethereum-optimism/infra/op-regress/fingerprint"
	opmetrics "github.com/ethereum-optimism/optimism/op-service/metrics"
)

// Config holds the application configuration
type Config struct {
	DriverFile       string        // YAML or TOML driver file
	Drivers          []string      // Selected driver names, empty selects all
	EnvRoot          string        // Harness-owned directory holding the environments
	Toolchain        string        // Toolchain used when the driver file declares none
	DefaultTimeout   time.Duration // Per-command timeout, drivers may override it
	InstallTimeout   time.Duration // Timeout for each environment command
	Threshold        float64       // Default fingerprint similarity threshold
	Concurrency      int           // Drivers verified in parallel
	ShakeIterations  int           // Runs per driver in shake mode, 0 disables it
	ReportDir        string        // Directory for JSON reports, empty disables them
	PrintFingerprint bool          // Log every observed fingerprint
	Metrics          opmetrics.CLIConfig
	Log              log.Logger
}

// NewConfig creates a new Config from cli context
func NewConfig(ctx *cli.Context, log log.Logger) (*Config, error) {
	if err := flags.CheckRequired(ctx); err != nil {
		return nil, fmt.Errorf("missing required flags: %w", err)
	}

	cfg := &Config{
		DriverFile:       ctx.String(flags.Drivers.Name),
		Drivers:          ctx.StringSlice(flags.Driver.Name),
		EnvRoot:          ctx.String(flags.EnvRoot.Name),
		Toolchain:        ctx.String(flags.Toolchain.Name),
		DefaultTimeout:   ctx.Duration(flags.Timeout.Name),
		InstallTimeout:   ctx.Duration(flags.InstallTimeout.Name),
		Threshold:        ctx.Float64(flags.Threshold.Name),
		Concurrency:      ctx.Int(flags.Concurrency.Name),
		ShakeIterations:  ctx.Int(flags.ShakeIterations.Name),
		ReportDir:        ctx.String(flags.ReportDir.Name),
		PrintFingerprint: ctx.Bool(flags.PrintFingerprint.Name),
		Metrics:          opmetrics.ReadCLIConfig(ctx),
		Log:              log,
	}
	if err := cfg.resolvePaths(); err != nil {
		return nil, err
	}
	if err := cfg.Check(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) resolvePaths() error {
	var err error
	if c.DriverFile, err = filepath.Abs(c.DriverFile); err != nil {
		return fmt.Errorf("failed to resolve absolute path for driver file '%s': %w", c.DriverFile, err)
	}
	if c.EnvRoot == "" {
		c.EnvRoot = "envs"
	}
	if c.EnvRoot, err = filepath.Abs(c.EnvRoot); err != nil {
		return fmt.Errorf("failed to resolve absolute path for environment root '%s': %w", c.EnvRoot, err)
	}
	if c.ReportDir != "" {
		if c.ReportDir, err = filepath.Abs(c.ReportDir); err != nil {
			return fmt.Errorf("failed to resolve absolute path for report directory '%s': %w", c.ReportDir, err)
		}
	}
	return nil
}

// Check validates the configuration
func (c *Config) Check() error {
	if c.DriverFile == "" {
		return errors.New("driver file is required")
	}
	if c.EnvRoot == "" {
		return errors.New("environment root is required")
	}
	if c.DefaultTimeout < 0 {
		return fmt.Errorf("timeout cannot be negative: %v", c.DefaultTimeout)
	}
	if c.InstallTimeout < 0 {
		return fmt.Errorf("install timeout cannot be negative: %v", c.InstallTimeout)
	}
	if err := fingerprint.ValidateThreshold(c.Threshold); err != nil {
		return err
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1, got %d", c.Concurrency)
	}
	if c.ShakeIterations < 0 {
		return fmt.Errorf("shake iterations cannot be negative: %d", c.ShakeIterations)
	}
	return c.Metrics.Check()
}
