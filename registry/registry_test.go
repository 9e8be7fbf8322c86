package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-regress/fingerprint"
	"github.com/ethereum-optimism/infra/op-regress/types"
)

const validYAML = `
drivers:
  - name: cffi-1.7
    environment:
      name: cffi17_test_env
      policy: force-recreate
      dependencies:
        - pytest==2.8.7
        - {name: py, version: 1.4.31}
    setup:
      - argv: ["{python}", "setup.py", "install"]
        cwd: "{src}/cffi-1.7.0"
    command: ["{bin}/py.test", "testing/cffi1"]
    cwd: "{src}/cffi-1.7.0"
    env: {CC: gcc}
    family: pytest
    timeout: 30m
    expected:
      - {xfailed: 4, failed: 2, skipped: 10, passed: 540}
      - {xfailed: 4, failed: 3, skipped: 10, passed: 539}
    threshold: 0.95
  - name: cheetah
    environment:
      name: cheetah_test_env
    command: ["{python}", "-m", "unittest"]
    expected:
      - {ran: 2604, failures: 2, errors: 228}
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func newTestRegistry(t *testing.T, name, content string) (*Registry, error) {
	t.Helper()
	return NewRegistry(Config{
		Log:            log.NewLogger(log.DiscardHandler()),
		DriverFile:     writeFile(t, name, content),
		DefaultTimeout: time.Hour,
	})
}

func TestNewRegistry_YAML(t *testing.T) {
	r, err := newTestRegistry(t, "drivers.yaml", validYAML)
	require.NoError(t, err)

	drivers := r.Drivers()
	require.Len(t, drivers, 2)

	cffi := drivers[0]
	assert.Equal(t, "cffi-1.7", cffi.Name)
	assert.Equal(t, types.EnvironmentSpec{
		Name:   "cffi17_test_env",
		Policy: types.ForceRecreate,
		Dependencies: []types.Dependency{
			{Name: "pytest", Version: "2.8.7"},
			{Name: "py", Version: "1.4.31"},
		},
	}, cffi.Environment)
	assert.Equal(t, []types.SetupStep{{Argv: []string{"{python}", "setup.py", "install"}, Cwd: "{src}/cffi-1.7.0"}}, cffi.Setup)
	assert.Equal(t, []string{"{bin}/py.test", "testing/cffi1"}, cffi.Command)
	assert.Equal(t, map[string]string{"CC": "gcc"}, cffi.Env)
	assert.Equal(t, "pytest", cffi.Family)
	assert.Equal(t, 30*time.Minute, cffi.Timeout)
	assert.Equal(t, 0.95, cffi.Threshold)
	require.Len(t, cffi.Expected, 2)
	assert.Equal(t, 3, cffi.Expected[1]["failed"])

	cheetah := drivers[1]
	assert.Equal(t, types.ReuseIfPresent, cheetah.Environment.Policy)
	assert.Equal(t, "auto", cheetah.Family)
	assert.Equal(t, time.Hour, cheetah.Timeout)
	assert.Empty(t, cheetah.Fingerprint)

	assert.Nil(t, r.Toolchain())
	assert.Len(t, r.Filters(), len(fingerprint.DefaultFilters()))
}

func TestNewRegistry_TOML(t *testing.T) {
	ref := fingerprint.Compute("collected 3 items\n3 passed in 0.1s\n", nil).String()
	content := fmt.Sprintf(`
[toolchain]
name = "venv"
create = ["python3", "-m", "venv", "{env}"]
install = ["{env}/bin/pip", "install", "{spec}"]
bin_dir = "bin"
interpreter = "bin/python"

[[filters]]
name = "build-id"
pattern = "build-[0-9]+"
replacement = "build-N"

[[drivers]]
name = "simple"
command = ["{bin}/pytest"]
family = "pytest"
fingerprint = %q
expected = [{passed = 3}]

[drivers.environment]
name = "simple_env"
dependencies = ["pytest==7.4.0"]
`, ref)

	r, err := newTestRegistry(t, "drivers.toml", content)
	require.NoError(t, err)

	drivers := r.Drivers()
	require.Len(t, drivers, 1)
	d := drivers[0]
	assert.Equal(t, "simple", d.Name)
	assert.Equal(t, []types.Dependency{{Name: "pytest", Version: "7.4.0"}}, d.Environment.Dependencies)
	assert.Equal(t, ref, d.Fingerprint)
	assert.Equal(t, types.ExpectationSet{{"passed": 3}}, d.Expected)

	require.NotNil(t, r.Toolchain())
	assert.Equal(t, "venv", r.Toolchain().Name)
	assert.Len(t, r.Filters(), len(fingerprint.DefaultFilters())+1)
}

func TestNewRegistry_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{name: "no drivers", file: "d.yaml", content: "drivers: []\n"},
		{name: "unknown field", file: "d.yaml", content: "drivers:\n  - name: a\n    bogus: 1\n"},
		{name: "unsupported extension", file: "d.json", content: "{}"},
		{
			name: "missing command",
			file: "d.yaml",
			content: `
drivers:
  - name: a
    environment: {name: env_a}
    expected: [{passed: 1}]
`,
		},
		{
			name: "empty expectation set",
			file: "d.yaml",
			content: `
drivers:
  - name: a
    environment: {name: env_a}
    command: ["true"]
`,
		},
		{
			name: "negative count",
			file: "d.yaml",
			content: `
drivers:
  - name: a
    environment: {name: env_a}
    command: ["true"]
    expected: [{failed: -1}]
`,
		},
		{
			name: "environment name escapes root",
			file: "d.yaml",
			content: `
drivers:
  - name: a
    environment: {name: ../outside}
    command: ["true"]
    expected: [{passed: 1}]
`,
		},
		{
			name: "bad policy",
			file: "d.yaml",
			content: `
drivers:
  - name: a
    environment: {name: env_a, policy: sometimes}
    command: ["true"]
    expected: [{passed: 1}]
`,
		},
		{
			name: "bad family",
			file: "d.yaml",
			content: `
drivers:
  - name: a
    environment: {name: env_a}
    command: ["true"]
    family: junit
    expected: [{passed: 1}]
`,
		},
		{
			name: "bad timeout",
			file: "d.yaml",
			content: `
drivers:
  - name: a
    environment: {name: env_a}
    command: ["true"]
    timeout: soon
    expected: [{passed: 1}]
`,
		},
		{
			name: "bad fingerprint",
			file: "d.yaml",
			content: `
drivers:
  - name: a
    environment: {name: env_a}
    command: ["true"]
    fingerprint: AAAA
    expected: [{passed: 1}]
`,
		},
		{
			name: "threshold out of range",
			file: "d.yaml",
			content: `
drivers:
  - name: a
    environment: {name: env_a}
    command: ["true"]
    threshold: 1.5
    expected: [{passed: 1}]
`,
		},
		{
			name: "duplicate driver names",
			file: "d.yaml",
			content: `
drivers:
  - name: a
    environment: {name: env_a}
    command: ["true"]
    expected: [{passed: 1}]
  - name: a
    environment: {name: env_b}
    command: ["true"]
    expected: [{passed: 1}]
`,
		},
		{
			name: "bad dependency",
			file: "d.yaml",
			content: `
drivers:
  - name: a
    environment:
      name: env_a
      dependencies: ["pytest=="]
    command: ["true"]
    expected: [{passed: 1}]
`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newTestRegistry(t, tt.file, tt.content)
			require.Error(t, err)
		})
	}
}

func TestNewRegistry_MissingFile(t *testing.T) {
	_, err := NewRegistry(Config{DriverFile: filepath.Join(t.TempDir(), "nope.yaml")})
	require.Error(t, err)

	_, err = NewRegistry(Config{})
	require.Error(t, err)
}

func TestSelect(t *testing.T) {
	r, err := newTestRegistry(t, "drivers.yaml", validYAML)
	require.NoError(t, err)

	all, err := r.Select(nil)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	one, err := r.Select([]string{"cheetah"})
	require.NoError(t, err)
	require.Len(t, one, 1)
	assert.Equal(t, "cheetah", one[0].Name)

	_, err = r.Select([]string{"cheetah", "numpy"})
	require.ErrorContains(t, err, "numpy")
}
