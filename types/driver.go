package types

import (
	"errors"
	"fmt"
	"time"
)

// SetupStep is a command run inside a provisioned environment before the
// command under test
type SetupStep struct {
	Argv []string `json:"argv"`
	Cwd  string   `json:"cwd,omitempty"`
}

// DriverConfig is everything needed to verify one package: where to run,
// what to run and which outcomes are acceptable. Argument vectors, cwd and
// env values may reference the {env}, {bin}, {src} and {python}
// placeholders.
type DriverConfig struct {
	Name        string            `json:"name"`
	Environment EnvironmentSpec   `json:"environment"`
	Setup       []SetupStep       `json:"setup,omitempty"`
	Command     []string          `json:"command"`
	Cwd         string            `json:"cwd,omitempty"`
	Env         map[string]string `json:"env,omitempty"`
	Family      string            `json:"family,omitempty"`
	Timeout     time.Duration     `json:"timeout,omitempty"`
	Expected    ExpectationSet    `json:"expected"`
	Fingerprint string            `json:"fingerprint,omitempty"`
	Threshold   float64           `json:"threshold,omitempty"`
}

// Validate checks the fields that do not depend on other packages
func (d DriverConfig) Validate() error {
	if d.Name == "" {
		return errors.New("driver name is required")
	}
	if err := d.Environment.Validate(); err != nil {
		return fmt.Errorf("driver %s: %w", d.Name, err)
	}
	if len(d.Command) == 0 || d.Command[0] == "" {
		return fmt.Errorf("driver %s: command is required", d.Name)
	}
	for i, step := range d.Setup {
		if len(step.Argv) == 0 || step.Argv[0] == "" {
			return fmt.Errorf("driver %s: setup step %d has no command", d.Name, i)
		}
	}
	if d.Timeout < 0 {
		return fmt.Errorf("driver %s: timeout cannot be negative", d.Name)
	}
	if err := d.Expected.Validate(); err != nil {
		return fmt.Errorf("driver %s: %w", d.Name, err)
	}
	if d.Threshold < 0 || d.Threshold > 1 {
		return fmt.Errorf("driver %s: threshold must be in (0, 1], got %v", d.Name, d.Threshold)
	}
	return nil
}
