// Package registry loads driver files: the data describing which package to
// verify, in which environment, and which outcomes are acceptable.
package registry

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/log"
	"gopkg.in/yaml.v3"

	"github.com/ethereum-optimism/infra/op-regress/fingerprint"
	"github.com/ethereum-optimism/infra/op-regress/parser"
	"github.com/ethereum-optimism/infra/op-regress/provision"
	"github.com/ethereum-optimism/infra/op-regress/types"
)

// Registry holds the drivers of one driver file
type Registry struct {
	config    Config
	drivers   []types.DriverConfig
	toolchain *provision.Toolchain
	filters   []fingerprint.Filter
	mu        sync.RWMutex
}

// Config contains registry configuration
type Config struct {
	Log            log.Logger
	DriverFile     string
	DefaultTimeout time.Duration
}

// NewRegistry creates a new registry instance
func NewRegistry(cfg Config) (*Registry, error) {
	if cfg.DriverFile == "" {
		return nil, fmt.Errorf("driver file is required")
	}
	if cfg.Log == nil {
		cfg.Log = log.New()
		cfg.Log.Error("No logger provided, using default")
	}

	r := &Registry{
		config: cfg,
	}
	if err := r.loadDrivers(cfg.DriverFile); err != nil {
		return nil, fmt.Errorf("failed to load drivers: %w", err)
	}

	cfg.Log.Debug("Registry loaded", "len(drivers)", len(r.drivers))

	return r, nil
}

func (r *Registry) loadDrivers(path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	fc, err := loadConfig(path)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if fc.Toolchain != nil {
		if err := fc.Toolchain.Validate(); err != nil {
			return fmt.Errorf("invalid toolchain: %w", err)
		}
		r.toolchain = fc.Toolchain
	}

	filters := fingerprint.DefaultFilters()
	for _, fcfg := range fc.Filters {
		f, err := fcfg.Compile()
		if err != nil {
			return err
		}
		filters = append(filters, f)
	}
	r.filters = filters

	drivers, err := r.toDrivers(fc.Drivers)
	if err != nil {
		return err
	}
	r.drivers = drivers
	return nil
}

func (r *Registry) toDrivers(configs []driverConfig) ([]types.DriverConfig, error) {
	if len(configs) == 0 {
		return nil, errors.New("no drivers defined")
	}
	seen := make(map[string]bool)
	drivers := make([]types.DriverConfig, 0, len(configs))
	for i, cfg := range configs {
		d, err := r.toDriver(cfg)
		if err != nil {
			return nil, fmt.Errorf("driver %d: %w", i, err)
		}
		if seen[d.Name] {
			return nil, fmt.Errorf("duplicate driver name %s", d.Name)
		}
		seen[d.Name] = true
		drivers = append(drivers, d)
	}
	return drivers, nil
}

func (r *Registry) toDriver(cfg driverConfig) (types.DriverConfig, error) {
	policy, err := types.ParseReusePolicy(cfg.Environment.Policy)
	if err != nil {
		return types.DriverConfig{}, fmt.Errorf("driver %s: %w", cfg.Name, err)
	}
	family, err := parser.ParseFamily(cfg.Family)
	if err != nil {
		return types.DriverConfig{}, fmt.Errorf("driver %s: %w", cfg.Name, err)
	}

	timeout := r.config.DefaultTimeout
	if cfg.Timeout != "" {
		timeout, err = time.ParseDuration(cfg.Timeout)
		if err != nil {
			return types.DriverConfig{}, fmt.Errorf("driver %s: invalid timeout: %w", cfg.Name, err)
		}
	}

	deps := make([]types.Dependency, len(cfg.Environment.Dependencies))
	for i, dep := range cfg.Environment.Dependencies {
		deps[i] = dep.Dependency
	}
	setup := make([]types.SetupStep, len(cfg.Setup))
	for i, step := range cfg.Setup {
		setup[i] = types.SetupStep{Argv: step.Argv, Cwd: step.Cwd}
	}
	expected := make(types.ExpectationSet, len(cfg.Expected))
	for i, m := range cfg.Expected {
		expected[i] = types.ResultRecord(m)
	}

	if cfg.Fingerprint != "" {
		if _, err := fingerprint.Decode(cfg.Fingerprint); err != nil {
			return types.DriverConfig{}, fmt.Errorf("driver %s: %w", cfg.Name, err)
		}
	}
	if cfg.Threshold != 0 {
		if err := fingerprint.ValidateThreshold(cfg.Threshold); err != nil {
			return types.DriverConfig{}, fmt.Errorf("driver %s: %w", cfg.Name, err)
		}
	}

	d := types.DriverConfig{
		Name: cfg.Name,
		Environment: types.EnvironmentSpec{
			Name:         cfg.Environment.Name,
			Dependencies: deps,
			Policy:       policy,
		},
		Setup:       setup,
		Command:     cfg.Command,
		Cwd:         cfg.Cwd,
		Env:         cfg.Env,
		Family:      family.String(),
		Timeout:     timeout,
		Expected:    expected,
		Fingerprint: strings.TrimSpace(cfg.Fingerprint),
		Threshold:   cfg.Threshold,
	}
	if err := d.Validate(); err != nil {
		return types.DriverConfig{}, err
	}
	return d, nil
}

// Drivers returns all loaded drivers in file order
func (r *Registry) Drivers() []types.DriverConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.drivers
}

// Select returns the named drivers in file order. No names selects all.
func (r *Registry) Select(names []string) ([]types.DriverConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(names) == 0 {
		return r.drivers, nil
	}
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}
	var out []types.DriverConfig
	for _, d := range r.drivers {
		if want[d.Name] {
			out = append(out, d)
			delete(want, d.Name)
		}
	}
	if len(want) > 0 {
		missing := make([]string, 0, len(want))
		for _, n := range names {
			if want[n] {
				missing = append(missing, n)
			}
		}
		return nil, fmt.Errorf("unknown drivers: %s", strings.Join(missing, ", "))
	}
	return out, nil
}

// Toolchain returns the toolchain declared in the driver file, nil when the
// file does not declare one
func (r *Registry) Toolchain() *provision.Toolchain {
	return r.toolchain
}

// Filters returns the fingerprint normalization filters: the defaults
// followed by any declared in the file
func (r *Registry) Filters() []fingerprint.Filter {
	return r.filters
}

// GetConfig returns the registry configuration
func (r *Registry) GetConfig() Config {
	return r.config
}

// loadConfig reads a YAML or TOML driver file, chosen by extension
func loadConfig(path string) (*fileConfig, error) {
	log.Debug("Reading driver file", "path", path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading driver file: %w", err)
	}

	var cfg fileConfig
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		md, err := toml.Decode(string(data), &cfg)
		if err != nil {
			return nil, fmt.Errorf("parsing driver file: %w", err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			log.Warn("Ignoring unknown keys in driver file", "path", path, "keys", strings.Join(keys, ", "))
		}
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil {
			return nil, fmt.Errorf("parsing driver file: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported driver file extension %q", filepath.Ext(path))
	}
	return &cfg, nil
}
