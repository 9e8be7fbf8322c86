package flags

import (
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	opservice "github.com/ethereum-optimism/optimism/op-service"
	opflags "github.com/ethereum-optimism/optimism/op-service/flags"
	oplog "github.com/ethereum-optimism/optimism/op-service/log"
	opmetrics "github.com/ethereum-optimism/optimism/op-service/metrics"
)

const EnvVarPrefix = "OP_REGRESS"

var (
	Drivers = &cli.StringFlag{
		Name:     "drivers",
		Value:    "",
		Required: true,
		EnvVars:  opservice.PrefixEnvVar(EnvVarPrefix, "DRIVERS"),
		Usage:    "Path to the driver file (eg. 'drivers.yaml' or 'drivers.toml')",
	}
	Driver = &cli.StringSliceFlag{
		Name:    "driver",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "DRIVER"),
		Usage:   "Only verify the named driver. Repeat to select several; omit to verify all.",
	}
	EnvRoot = &cli.StringFlag{
		Name:    "env-root",
		Value:   "envs",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "ENV_ROOT"),
		Usage:   "Directory holding the provisioned environments. Everything below it is owned by op-regress.",
	}
	Timeout = &cli.DurationFlag{
		Name:    "timeout",
		Value:   0,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "TIMEOUT"),
		Usage:   "Default timeout per command (e.g. '30m'). Drivers may override it. 0 means no timeout.",
	}
	InstallTimeout = &cli.DurationFlag{
		Name:    "install-timeout",
		Value:   15 * time.Minute,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "INSTALL_TIMEOUT"),
		Usage:   "Timeout for each environment creation or dependency install command. 0 means no timeout.",
	}
	Threshold = &cli.Float64Flag{
		Name:    "threshold",
		Value:   0.9,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "THRESHOLD"),
		Usage:   "Default minimum fingerprint similarity, in (0, 1]",
	}
	Concurrency = &cli.IntFlag{
		Name:    "concurrency",
		Value:   1,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "CONCURRENCY"),
		Usage:   "Number of drivers verified in parallel. Drivers must not share environments when > 1.",
	}
	ShakeIterations = &cli.IntFlag{
		Name:    "shake-iterations",
		Value:   0,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "SHAKE_ITERATIONS"),
		Usage:   "Run each selected driver this many times and report every distinct outcome instead of verifying once. 0 disables shake mode.",
	}
	ReportDir = &cli.StringFlag{
		Name:    "report-dir",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "REPORT_DIR"),
		Usage:   "Directory to write the JSON report and per-driver logs to. Nothing is written when empty.",
	}
	PrintFingerprint = &cli.BoolFlag{
		Name:    "print-fingerprint",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "PRINT_FINGERPRINT"),
		Usage:   "Log the observed fingerprint of every run, for onboarding new drivers",
	}
	Toolchain = &cli.StringFlag{
		Name:    "toolchain",
		Value:   "virtualenv",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "TOOLCHAIN"),
		Usage:   "Environment toolchain used when the driver file does not declare one",
	}
)

var requiredFlags = []cli.Flag{
	Drivers,
}

var optionalFlags = []cli.Flag{
	Driver,
	EnvRoot,
	Timeout,
	InstallTimeout,
	Threshold,
	Concurrency,
	ShakeIterations,
	ReportDir,
	PrintFingerprint,
	Toolchain,
}
var Flags []cli.Flag

func init() {
	optionalFlags = append(optionalFlags, oplog.CLIFlags(EnvVarPrefix)...)
	optionalFlags = append(optionalFlags, opmetrics.CLIFlags(EnvVarPrefix)...)

	Flags = append(requiredFlags, optionalFlags...)
}

func CheckRequired(ctx *cli.Context) error {
	for _, f := range requiredFlags {
		if !ctx.IsSet(f.Names()[0]) {
			return fmt.Errorf("flag %s is required", f.Names()[0])
		}
	}
	return opflags.CheckRequiredXor(ctx)
}
