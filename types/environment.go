// Package types contains shared types used across the regression harness
package types

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ReusePolicy decides whether an existing environment may be reused
type ReusePolicy string

// String implements the Stringer interface for ReusePolicy
func (p ReusePolicy) String() string {
	return string(p)
}

// ReusePolicy enum values
const (
	ReuseIfPresent ReusePolicy = "reuse-if-present"
	ForceRecreate  ReusePolicy = "force-recreate"
)

// IsValid reports whether p is one of the known policies
func (p ReusePolicy) IsValid() bool {
	return p == ReuseIfPresent || p == ForceRecreate
}

// ParseReusePolicy parses a policy name. An empty string means ReuseIfPresent.
func ParseReusePolicy(s string) (ReusePolicy, error) {
	if s == "" {
		return ReuseIfPresent, nil
	}
	p := ReusePolicy(strings.ToLower(strings.TrimSpace(s)))
	if !p.IsValid() {
		return "", fmt.Errorf("invalid reuse policy %q: must be one of %s, %s", s, ReuseIfPresent, ForceRecreate)
	}
	return p, nil
}

// Dependency is a single pinned dependency of an environment
type Dependency struct {
	Name    string `yaml:"name" toml:"name" json:"name"`
	Version string `yaml:"version,omitempty" toml:"version" json:"version,omitempty"`
}

// String renders the dependency in "name==version" form
func (d Dependency) String() string {
	if d.Version == "" {
		return d.Name
	}
	return d.Name + "==" + d.Version
}

// ParseDependency parses "name==version" or a bare "name"
func ParseDependency(s string) (Dependency, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Dependency{}, errors.New("empty dependency")
	}
	name, version, found := strings.Cut(s, "==")
	name = strings.TrimSpace(name)
	version = strings.TrimSpace(version)
	if name == "" {
		return Dependency{}, fmt.Errorf("dependency %q has no name", s)
	}
	if found && version == "" {
		return Dependency{}, fmt.Errorf("dependency %q has an empty version", s)
	}
	return Dependency{Name: name, Version: version}, nil
}

// EnvironmentSpec describes an isolated environment pinned to a dependency set.
// The name uniquely determines where the environment lives on disk.
type EnvironmentSpec struct {
	Name         string       `yaml:"name" json:"name"`
	Dependencies []Dependency `yaml:"dependencies" json:"dependencies"`
	Policy       ReusePolicy  `yaml:"policy" json:"policy"`
}

// Validate checks that the environment can be materialized
func (s EnvironmentSpec) Validate() error {
	if s.Name == "" {
		return errors.New("environment name is required")
	}
	if s.Name == "." || s.Name == ".." || strings.ContainsAny(s.Name, `/\`) || filepath.Base(s.Name) != s.Name {
		return fmt.Errorf("environment name %q must be a single path element", s.Name)
	}
	if s.Policy != "" && !s.Policy.IsValid() {
		return fmt.Errorf("environment %s: invalid reuse policy %q", s.Name, s.Policy)
	}
	for i, dep := range s.Dependencies {
		if dep.Name == "" {
			return fmt.Errorf("environment %s: dependency %d has no name", s.Name, i)
		}
	}
	return nil
}

// EffectivePolicy returns the policy, defaulting to ReuseIfPresent
func (s EnvironmentSpec) EffectivePolicy() ReusePolicy {
	if s.Policy == "" {
		return ReuseIfPresent
	}
	return s.Policy
}
