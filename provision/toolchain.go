package provision

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Toolchain describes how an ecosystem creates an isolated environment and
// installs one dependency into it. Argument vectors may use the placeholders
// {env}, {name}, {version} and {spec} ("name==version").
type Toolchain struct {
	Name        string   `yaml:"name" toml:"name"`
	Create      []string `yaml:"create" toml:"create"`
	Install     []string `yaml:"install" toml:"install"`
	BinDir      string   `yaml:"bin_dir" toml:"bin_dir"`
	Interpreter string   `yaml:"interpreter" toml:"interpreter"`
}

// VirtualenvToolchain is a python virtualenv with pip-installed dependencies
func VirtualenvToolchain() Toolchain {
	return Toolchain{
		Name:        "virtualenv",
		Create:      []string{"virtualenv", "{env}"},
		Install:     []string{"{env}/bin/pip", "install", "{spec}"},
		BinDir:      "bin",
		Interpreter: "bin/python",
	}
}

// VenvToolchain is a python environment created by the standard venv module
func VenvToolchain() Toolchain {
	return Toolchain{
		Name:        "venv",
		Create:      []string{"python3", "-m", "venv", "{env}"},
		Install:     []string{"{env}/bin/python", "-m", "pip", "install", "{spec}"},
		BinDir:      "bin",
		Interpreter: "bin/python",
	}
}

var builtinToolchains = map[string]func() Toolchain{
	"virtualenv": VirtualenvToolchain,
	"venv":       VenvToolchain,
}

// LookupToolchain returns the built-in toolchain with the given name
func LookupToolchain(name string) (Toolchain, error) {
	mk, ok := builtinToolchains[name]
	if !ok {
		names := make([]string, 0, len(builtinToolchains))
		for n := range builtinToolchains {
			names = append(names, n)
		}
		sort.Strings(names)
		return Toolchain{}, fmt.Errorf("unknown toolchain %q, must be one of: %s", name, strings.Join(names, ", "))
	}
	return mk(), nil
}

// Validate checks the toolchain can install dependencies
func (t Toolchain) Validate() error {
	if t.Name == "" {
		return errors.New("toolchain name is required")
	}
	if len(t.Install) == 0 || t.Install[0] == "" {
		return errors.New("toolchain install command is required")
	}
	return nil
}

// Expand replaces every {key} placeholder in each argument
func Expand(args []string, vars map[string]string) []string {
	if len(args) == 0 {
		return nil
	}
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{"+k+"}", v)
	}
	r := strings.NewReplacer(pairs...)
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = r.Replace(a)
	}
	return out
}
