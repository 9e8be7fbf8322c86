// Package provision materializes isolated, named environments pinned to a
// dependency set. Every environment lives in its own directory under a
// harness-owned root and nothing outside that directory is ever touched.
package provision

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/ethereum-optimism/infra/op-regress/metrics"
	"github.com/ethereum-optimism/infra/op-regress/runner"
	"github.com/ethereum-optimism/infra/op-regress/types"
	"github.com/ethereum/go-ethereum/log"
	"gopkg.in/yaml.v3"
)

const (
	// ManifestFile is written into an environment once provisioning succeeded
	ManifestFile = ".regress-env.yaml"
	// SrcDir holds package sources fetched by drivers
	SrcDir = "src"
)

// Manifest records what was installed into an environment
type Manifest struct {
	Name         string             `yaml:"name"`
	Toolchain    string             `yaml:"toolchain"`
	Dependencies []types.Dependency `yaml:"dependencies"`
	CreatedAt    time.Time          `yaml:"created_at"`
}

// Environment is a provisioned environment and its entry points
type Environment struct {
	Name         string
	Root         string
	BinDir       string
	SrcDir       string
	Interpreter  string
	Dependencies []types.Dependency
	Reused       bool
}

// Tool returns the path of an installed executable
func (e *Environment) Tool(name string) string {
	return filepath.Join(e.BinDir, name)
}

// Vars returns the placeholder values drivers may reference
func (e *Environment) Vars() map[string]string {
	return map[string]string{
		"env":    e.Root,
		"bin":    e.BinDir,
		"src":    e.SrcDir,
		"python": e.Interpreter,
	}
}

// Expand substitutes the environment placeholders in args
func (e *Environment) Expand(args []string) []string {
	return Expand(args, e.Vars())
}

// Config holds configuration for creating a new Provisioner
type Config struct {
	Log            log.Logger
	Root           string // harness-owned directory holding all environments
	Toolchain      Toolchain
	Runner         runner.Runner
	InstallTimeout time.Duration // per command, zero means unbounded
}

// Provisioner creates or reuses environments
type Provisioner struct {
	log            log.Logger
	root           string
	toolchain      Toolchain
	runner         runner.Runner
	installTimeout time.Duration
}

// New creates a new Provisioner
func New(cfg Config) (*Provisioner, error) {
	if cfg.Root == "" {
		return nil, fmt.Errorf("environment root is required")
	}
	if cfg.Runner == nil {
		return nil, fmt.Errorf("runner is required")
	}
	if cfg.Toolchain.Name == "" {
		cfg.Toolchain = VirtualenvToolchain()
	}
	if err := cfg.Toolchain.Validate(); err != nil {
		return nil, fmt.Errorf("invalid toolchain: %w", err)
	}
	if cfg.Log == nil {
		cfg.Log = log.New()
	}
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path for environment root '%s': %w", cfg.Root, err)
	}
	return &Provisioner{
		log:            cfg.Log,
		root:           root,
		toolchain:      cfg.Toolchain,
		runner:         cfg.Runner,
		installTimeout: cfg.InstallTimeout,
	}, nil
}

// Root returns the harness-owned directory
func (p *Provisioner) Root() string {
	return p.root
}

// Path returns the deterministic location of the named environment
func (p *Provisioner) Path(name string) string {
	return filepath.Join(p.root, name)
}

// Provision ensures the environment described by spec exists with exactly
// the requested dependencies and returns its entry points.
func (p *Provisioner) Provision(ctx context.Context, spec types.EnvironmentSpec) (*Environment, error) {
	env, err := p.provision(ctx, spec)
	metrics.RecordProvision(spec.Name, env != nil && env.Reused, err)
	return env, err
}

func (p *Provisioner) provision(ctx context.Context, spec types.EnvironmentSpec) (*Environment, error) {
	if err := spec.Validate(); err != nil {
		return nil, &types.ProvisioningError{Environment: spec.Name, Step: "validate", Err: err}
	}
	root := p.Path(spec.Name)
	env := p.environment(spec, root)

	switch spec.EffectivePolicy() {
	case types.ForceRecreate:
		p.log.Info("Recreating environment", "env", spec.Name, "root", root)
		if err := p.remove(spec.Name); err != nil {
			return nil, err
		}
	case types.ReuseIfPresent:
		manifest, err := p.Installed(spec.Name)
		switch {
		case err == nil && slices.Equal(manifest.Dependencies, spec.Dependencies):
			p.log.Info("Reusing environment", "env", spec.Name, "root", root)
			env.Reused = true
			return env, nil
		case err == nil:
			p.log.Warn("Environment dependencies changed, recreating", "env", spec.Name,
				"installed", manifest.Dependencies, "requested", spec.Dependencies)
		case errors.Is(err, os.ErrNotExist):
			p.log.Info("Creating environment", "env", spec.Name, "root", root)
		default:
			p.log.Warn("Unreadable environment manifest, recreating", "env", spec.Name, "err", err)
		}
		// anything left without a matching manifest is a partial or stale build
		if err := p.remove(spec.Name); err != nil {
			return nil, err
		}
	}

	if err := p.create(ctx, spec, env); err != nil {
		return nil, err
	}
	return env, nil
}

func (p *Provisioner) environment(spec types.EnvironmentSpec, root string) *Environment {
	env := &Environment{
		Name:         spec.Name,
		Root:         root,
		BinDir:       filepath.Join(root, p.toolchain.BinDir),
		SrcDir:       filepath.Join(root, SrcDir),
		Dependencies: append([]types.Dependency(nil), spec.Dependencies...),
	}
	if p.toolchain.Interpreter != "" {
		env.Interpreter = filepath.Join(root, p.toolchain.Interpreter)
	}
	return env
}

func (p *Provisioner) create(ctx context.Context, spec types.EnvironmentSpec, env *Environment) error {
	if err := os.MkdirAll(p.root, 0o755); err != nil {
		return &types.ProvisioningError{Environment: spec.Name, Step: "create root", Err: err}
	}

	if len(p.toolchain.Create) > 0 {
		argv := Expand(p.toolchain.Create, map[string]string{"env": env.Root})
		if err := p.exec(ctx, spec.Name, "", "create", argv); err != nil {
			return err
		}
	}
	for _, dir := range []string{env.Root, env.BinDir, env.SrcDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return &types.ProvisioningError{Environment: spec.Name, Step: "create directories", Err: err}
		}
	}

	for _, dep := range spec.Dependencies {
		argv := Expand(p.toolchain.Install, map[string]string{
			"env":     env.Root,
			"name":    dep.Name,
			"version": dep.Version,
			"spec":    dep.String(),
		})
		p.log.Info("Installing dependency", "env", spec.Name, "dependency", dep.String())
		if err := p.exec(ctx, spec.Name, dep.String(), "install", argv); err != nil {
			return err
		}
	}

	manifest := Manifest{
		Name:         spec.Name,
		Toolchain:    p.toolchain.Name,
		Dependencies: spec.Dependencies,
		CreatedAt:    time.Now().UTC(),
	}
	data, err := yaml.Marshal(&manifest)
	if err != nil {
		return &types.ProvisioningError{Environment: spec.Name, Step: "write manifest", Err: err}
	}
	if err := os.WriteFile(filepath.Join(env.Root, ManifestFile), data, 0o644); err != nil {
		return &types.ProvisioningError{Environment: spec.Name, Step: "write manifest", Err: err}
	}
	p.log.Info("Environment ready", "env", spec.Name, "dependencies", len(spec.Dependencies))
	return nil
}

// exec runs one toolchain command inside the harness root. Any failure,
// including a non-zero exit, aborts provisioning.
func (p *Provisioner) exec(ctx context.Context, envName, dep, step string, argv []string) error {
	req, err := types.NewExecutionRequest(argv, p.root, nil, p.installTimeout)
	if err != nil {
		return &types.ProvisioningError{Environment: envName, Dependency: dep, Step: step, Err: err}
	}
	outcome, err := p.runner.Run(ctx, req)
	if err != nil {
		return &types.ProvisioningError{Environment: envName, Dependency: dep, Step: step, Err: err}
	}
	if outcome.TimedOut {
		return &types.ProvisioningError{Environment: envName, Dependency: dep, Step: step, Output: outcome.Output(),
			Err: &types.TimeoutError{Command: argv, Timeout: p.installTimeout, Output: outcome.Output()}}
	}
	if outcome.ExitCode != 0 {
		return &types.ProvisioningError{Environment: envName, Dependency: dep, Step: step, Output: outcome.Output(),
			Err: fmt.Errorf("%q exited with code %d: %s", req.String(), outcome.ExitCode, lastLine(outcome.Output()))}
	}
	return nil
}

// Installed reads the manifest of a provisioned environment. It returns an
// error wrapping os.ErrNotExist when the environment was never completed.
func (p *Provisioner) Installed(name string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(p.Path(name), ManifestFile))
	if err != nil {
		return nil, err
	}
	var manifest Manifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse manifest of %s: %w", name, err)
	}
	return &manifest, nil
}

// Remove deletes the named environment. A missing environment is not an error.
func (p *Provisioner) Remove(name string) error {
	if err := (types.EnvironmentSpec{Name: name}).Validate(); err != nil {
		return err
	}
	return p.remove(name)
}

func (p *Provisioner) remove(name string) error {
	if _, err := os.Stat(p.root); os.IsNotExist(err) {
		return nil
	}
	if err := safeRemoveAll(p.Path(name), p.root); err != nil {
		return &types.ProvisioningError{Environment: name, Step: "remove", Err: err}
	}
	return nil
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "no output"
	}
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[i+1:])
	}
	return s
}
