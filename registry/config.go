package registry

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/ethereum-optimism/infra/op-regress/fingerprint"
	"github.com/ethereum-optimism/infra/op-regress/provision"
	"github.com/ethereum-optimism/infra/op-regress/types"
)

// fileConfig is the on-disk layout of a driver file
type fileConfig struct {
	Toolchain *provision.Toolchain       `yaml:"toolchain" toml:"toolchain"`
	Filters   []fingerprint.FilterConfig `yaml:"filters" toml:"filters"`
	Drivers   []driverConfig             `yaml:"drivers" toml:"drivers"`
}

type driverConfig struct {
	Name        string            `yaml:"name" toml:"name"`
	Environment environmentConfig `yaml:"environment" toml:"environment"`
	Setup       []setupConfig     `yaml:"setup" toml:"setup"`
	Command     []string          `yaml:"command" toml:"command"`
	Cwd         string            `yaml:"cwd" toml:"cwd"`
	Env         map[string]string `yaml:"env" toml:"env"`
	Family      string            `yaml:"family" toml:"family"`
	Timeout     string            `yaml:"timeout" toml:"timeout"`
	Expected    []map[string]int  `yaml:"expected" toml:"expected"`
	Fingerprint string            `yaml:"fingerprint" toml:"fingerprint"`
	Threshold   float64           `yaml:"threshold" toml:"threshold"`
}

type environmentConfig struct {
	Name         string             `yaml:"name" toml:"name"`
	Policy       string             `yaml:"policy" toml:"policy"`
	Dependencies []dependencyConfig `yaml:"dependencies" toml:"dependencies"`
}

type setupConfig struct {
	Argv []string `yaml:"argv" toml:"argv"`
	Cwd  string   `yaml:"cwd" toml:"cwd"`
}

// dependencyConfig accepts either "name==version" or {name, version}
type dependencyConfig struct {
	types.Dependency
}

// UnmarshalYAML implements yaml.Unmarshaler
func (d *dependencyConfig) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		dep, err := types.ParseDependency(value.Value)
		if err != nil {
			return err
		}
		d.Dependency = dep
		return nil
	}
	var dep types.Dependency
	if err := value.Decode(&dep); err != nil {
		return err
	}
	d.Dependency = dep
	return nil
}

// UnmarshalTOML implements toml.Unmarshaler
func (d *dependencyConfig) UnmarshalTOML(data any) error {
	switch v := data.(type) {
	case string:
		dep, err := types.ParseDependency(v)
		if err != nil {
			return err
		}
		d.Dependency = dep
		return nil
	case map[string]any:
		name, _ := v["name"].(string)
		version, _ := v["version"].(string)
		if _, ok := v["version"]; ok && version == "" {
			return fmt.Errorf("dependency %s: version must be a string", name)
		}
		d.Dependency = types.Dependency{Name: name, Version: version}
		return nil
	default:
		return fmt.Errorf("dependency must be a string or a table, got %T", data)
	}
}
