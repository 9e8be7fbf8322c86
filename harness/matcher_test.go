//go:build unix

package harness

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-regress/fingerprint"
	"github.com/ethereum-optimism/infra/op-regress/provision"
	"github.com/ethereum-optimism/infra/op-regress/runner"
	"github.com/ethereum-optimism/infra/op-regress/types"
)

type failingProvisioner struct {
	err error
}

func (p failingProvisioner) Provision(context.Context, types.EnvironmentSpec) (*provision.Environment, error) {
	return nil, p.err
}

func testLogger() log.Logger {
	return log.NewLogger(log.DiscardHandler())
}

func newTestMatcher(t *testing.T, prov Provisioner) *Matcher {
	t.Helper()
	r, err := runner.NewExecutor(runner.Config{Log: testLogger(), GracePeriod: 100 * time.Millisecond})
	require.NoError(t, err)
	if prov == nil {
		p, err := provision.New(provision.Config{
			Log:  testLogger(),
			Root: filepath.Join(t.TempDir(), "envs"),
			Toolchain: provision.Toolchain{
				Name:        "fake",
				Create:      []string{"mkdir", "-p", "{env}/bin"},
				Install:     []string{"true"},
				BinDir:      "bin",
				Interpreter: "bin/python",
			},
			Runner: r,
		})
		require.NoError(t, err)
		prov = p
	}
	m, err := NewMatcher(Config{
		Log:            testLogger(),
		Provisioner:    prov,
		Runner:         r,
		DefaultTimeout: time.Minute,
	})
	require.NoError(t, err)
	return m
}

func shDriver(name, script string, expected ...types.ResultRecord) types.DriverConfig {
	return types.DriverConfig{
		Name:        name,
		Environment: types.EnvironmentSpec{Name: name + "_env"},
		Command:     []string{"sh", "-c", script},
		Expected:    expected,
	}
}

func TestNewMatcher(t *testing.T) {
	r, err := runner.NewExecutor(runner.Config{})
	require.NoError(t, err)
	prov := failingProvisioner{}

	_, err = NewMatcher(Config{Runner: r})
	require.Error(t, err)
	_, err = NewMatcher(Config{Provisioner: prov})
	require.Error(t, err)
	_, err = NewMatcher(Config{Provisioner: prov, Runner: r, DefaultTimeout: -time.Second})
	require.Error(t, err)

	m, err := NewMatcher(Config{Log: testLogger(), Provisioner: prov, Runner: r})
	require.NoError(t, err)
	assert.NotEmpty(t, m.RunID())
}

func TestVerify(t *testing.T) {
	tests := []struct {
		name        string
		driver      types.DriverConfig
		wantPass    bool
		wantKind    types.FailureKind
		wantExit    int
		wantMatched int
	}{
		{
			name: "summary matches and non-zero exit is informational",
			driver: shDriver("pytest_fail", `echo "test_a.py ..F"; echo "=== 3 passed, 1 failed, 2 skipped in 0.12s ==="; exit 1`,
				types.ResultRecord{"passed": 3, "failed": 1, "skipped": 2}),
			wantPass:    true,
			wantExit:    1,
			wantMatched: 0,
		},
		{
			name: "any member of the set matches",
			driver: shDriver("any_of", `echo "== 3 failed, 10 passed in 1s =="; exit 1`,
				types.ResultRecord{"failed": 2, "passed": 11},
				types.ResultRecord{"failed": 3, "passed": 10}),
			wantPass:    true,
			wantExit:    1,
			wantMatched: 1,
		},
		{
			name:        "exit zero without summary is a parse failure",
			driver:      shDriver("silent", `echo "all good, trust me"`, types.ResultRecord{"passed": 1}),
			wantKind:    types.FailureParse,
			wantExit:    0,
			wantMatched: -1,
		},
		{
			name: "no member matches",
			driver: shDriver("mismatch", `echo "== 4 failed, 9 passed in 1s =="; exit 1`,
				types.ResultRecord{"failed": 2, "passed": 11},
				types.ResultRecord{"failed": 3, "passed": 10}),
			wantKind:    types.FailureExpectation,
			wantExit:    1,
			wantMatched: -1,
		},
		{
			name:        "missing executable is a launch failure",
			driver:      types.DriverConfig{Name: "nobin", Environment: types.EnvironmentSpec{Name: "nobin_env"}, Command: []string{"{bin}/does-not-exist"}, Expected: types.ExpectationSet{{"passed": 1}}},
			wantKind:    types.FailureLaunch,
			wantExit:    0,
			wantMatched: -1,
		},
		{
			name:        "unittest summary",
			driver:      shDriver("unittest", `printf '..\n\nRan 2 tests in 0.001s\n\nOK\n' >&2`, types.ResultRecord{"ran": 2}),
			wantPass:    true,
			wantMatched: 0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestMatcher(t, nil)
			v, err := m.Verify(context.Background(), tt.driver)
			require.NotNil(t, v)
			assert.Equal(t, tt.wantPass, v.Pass)
			assert.Equal(t, tt.wantPass, err == nil, "error: %v", err)
			assert.Equal(t, tt.wantKind, v.Kind)
			assert.Equal(t, tt.wantExit, v.ExitCode)
			assert.Equal(t, tt.wantMatched, v.MatchedIndex)
			assert.Equal(t, m.RunID(), v.RunID)
			assert.Equal(t, tt.driver.Environment.Name, v.Environment)
			if !v.Pass {
				assert.Equal(t, err, v.Err)
				assert.Contains(t, v.Diagnostic(), "failure: "+string(tt.wantKind))
			}
		})
	}
}

func TestVerify_ParseErrorCarriesExitCode(t *testing.T) {
	m := newTestMatcher(t, nil)
	_, err := m.Verify(context.Background(), shDriver("crash", `echo "Segmentation fault"; exit 139`, types.ResultRecord{"passed": 1}))
	var perr *types.ParseError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, 139, perr.ExitCode)
	assert.Contains(t, perr.Output, "Segmentation fault")
}

func TestVerify_MismatchDiagnostic(t *testing.T) {
	m := newTestMatcher(t, nil)
	v, err := m.Verify(context.Background(), shDriver("diag", `echo "== 4 failed, 9 passed in 1s =="`,
		types.ResultRecord{"failed": 3, "passed": 10}))
	require.Error(t, err)
	assert.True(t, types.IsExpectationMismatch(err))
	assert.Contains(t, err.Error(), "failed: got 4, want 3")
	assert.Contains(t, err.Error(), "passed: got 9, want 10")
	assert.True(t, v.Parsed)
	assert.Equal(t, types.ResultRecord{"failed": 4, "passed": 9}, v.Observed)
	assert.Contains(t, v.Diagnostic(), "4 failed, 9 passed")
}

func TestVerify_ProvisioningFailureIsDistinct(t *testing.T) {
	perr := &types.ProvisioningError{Environment: "broken_env", Dependency: "pytest==2.8.7", Err: errors.New("no matching distribution")}
	m := newTestMatcher(t, failingProvisioner{err: perr})

	v, err := m.Verify(context.Background(), shDriver("broken", `echo "1 passed in 0s"`, types.ResultRecord{"passed": 1}))
	require.Error(t, err)
	assert.True(t, types.IsProvisioningError(err))
	assert.False(t, types.IsExpectationMismatch(err))
	assert.Equal(t, types.FailureProvisioning, v.Kind)
	assert.True(t, v.Kind.IsRuntime())
	assert.False(t, v.Parsed)
}

func TestVerify_InvalidConfigIsDistinct(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(d *types.DriverConfig)
	}{
		{name: "undecodable reference fingerprint", mutate: func(d *types.DriverConfig) { d.Fingerprint = "not a fingerprint" }},
		{name: "unknown family", mutate: func(d *types.DriverConfig) { d.Family = "nose" }},
		{name: "empty command", mutate: func(d *types.DriverConfig) { d.Command = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestMatcher(t, nil)
			d := shDriver("misconfigured", `echo "== 1 passed in 0s =="`, types.ResultRecord{"passed": 1})
			tt.mutate(&d)

			v, err := m.Verify(context.Background(), d)
			require.Error(t, err)
			assert.True(t, types.IsConfigError(err))
			assert.False(t, types.IsLaunchError(err))
			assert.Equal(t, types.FailureConfig, v.Kind)
			assert.True(t, v.Kind.IsRuntime())
			assert.Contains(t, err.Error(), "misconfigured")
		})
	}
}

func TestVerify_Timeout(t *testing.T) {
	m := newTestMatcher(t, nil)
	d := shDriver("slow", `echo started; sleep 30; echo "1 passed in 30s"`, types.ResultRecord{"passed": 1})
	d.Timeout = 200 * time.Millisecond

	start := time.Now()
	v, err := m.Verify(context.Background(), d)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 10*time.Second)
	assert.True(t, types.IsTimeoutError(err))
	assert.Equal(t, types.FailureTimeout, v.Kind)
	assert.Contains(t, v.Output, "started")
}

func TestVerify_SetupAndPlaceholders(t *testing.T) {
	m := newTestMatcher(t, nil)
	d := shDriver("layout", `echo "root=$ROOT"; echo "cwd=$(pwd -P)"; cat marker; echo "1 passed in 0s"`, types.ResultRecord{"passed": 1})
	d.Setup = []types.SetupStep{
		{Argv: []string{"mkdir", "-p", "{src}/pkg-1.0"}},
		{Argv: []string{"sh", "-c", "echo from-setup > marker"}, Cwd: "{src}/pkg-1.0"},
	}
	d.Cwd = "src/pkg-1.0"
	d.Env = map[string]string{"ROOT": "{env}"}

	v, err := m.Verify(context.Background(), d)
	require.NoError(t, err, "output: %s", v.Output)

	root := filepath.Join(m.provisioner.(*provision.Provisioner).Root(), "layout_env")
	assert.Contains(t, v.Output, "root="+root)
	resolved, err := filepath.EvalSymlinks(root)
	require.NoError(t, err)
	assert.Contains(t, v.Output, "cwd="+filepath.Join(resolved, "src", "pkg-1.0"))
	assert.Contains(t, v.Output, "from-setup")
}

func TestVerify_SetupFailureIsProvisioningError(t *testing.T) {
	m := newTestMatcher(t, nil)
	d := shDriver("setup_fail", `echo "1 passed in 0s"`, types.ResultRecord{"passed": 1})
	d.Setup = []types.SetupStep{{Argv: []string{"sh", "-c", "echo 'error: Microsoft Visual C++ is required' >&2; exit 1"}}}

	v, err := m.Verify(context.Background(), d)
	var perr *types.ProvisioningError
	require.ErrorAs(t, err, &perr)
	assert.Contains(t, perr.Step, "setup step 0")
	assert.Contains(t, perr.Output, "Visual C++")
	assert.Equal(t, types.FailureProvisioning, v.Kind)
}

func TestVerify_Fingerprint(t *testing.T) {
	script := `for i in 1 2 3 4 5 6 7 8 9 10; do echo "compiling module $i"; done; echo "== 10 passed in 0.5s =="`
	var out strings.Builder
	for i := 1; i <= 10; i++ {
		fmt.Fprintf(&out, "compiling module %d\n", i)
	}
	// the duration differs from the live run and is normalized away
	out.WriteString("== 10 passed in 9.9s ==\n")
	same := fingerprint.Compute(out.String(), nil)
	different := fingerprint.Compute("segfault\ncore dumped\nretrying\n", nil)

	t.Run("matching reference", func(t *testing.T) {
		m := newTestMatcher(t, nil)
		d := shDriver("fp_ok", script, types.ResultRecord{"passed": 10})
		d.Fingerprint = same.Literal()
		v, err := m.Verify(context.Background(), d)
		require.NoError(t, err)
		assert.True(t, v.Fingerprint.Checked)
		assert.Equal(t, 1.0, v.Fingerprint.Similarity)
	})

	t.Run("diverging reference", func(t *testing.T) {
		m := newTestMatcher(t, nil)
		d := shDriver("fp_bad", script, types.ResultRecord{"passed": 10})
		d.Fingerprint = different.String()
		v, err := m.Verify(context.Background(), d)
		require.Error(t, err)
		assert.True(t, types.IsFingerprintMismatch(err))
		assert.Equal(t, types.FailureFingerprint, v.Kind)
		assert.NotEmpty(t, v.Fingerprint.DivergentBits)
		assert.Equal(t, 0, v.MatchedIndex)
	})

	t.Run("both checks fail", func(t *testing.T) {
		m := newTestMatcher(t, nil)
		d := shDriver("fp_both", script, types.ResultRecord{"passed": 9})
		d.Fingerprint = different.String()
		_, err := m.Verify(context.Background(), d)
		require.Error(t, err)
		assert.True(t, types.IsExpectationMismatch(err))
		assert.True(t, types.IsFingerprintMismatch(err))
	})

	t.Run("no reference is unchecked", func(t *testing.T) {
		m := newTestMatcher(t, nil)
		v, err := m.Verify(context.Background(), shDriver("fp_none", script, types.ResultRecord{"passed": 10}))
		require.NoError(t, err)
		assert.False(t, v.Fingerprint.Checked)
		assert.Equal(t, same.Literal(), v.Fingerprint.Observed)
	})
}

func TestVerifyAll(t *testing.T) {
	m := newTestMatcher(t, nil)
	drivers := []types.DriverConfig{
		shDriver("a", `echo "1 passed in 0s"`, types.ResultRecord{"passed": 1}),
		shDriver("b", `echo "1 failed in 0s"`, types.ResultRecord{"passed": 1}),
		shDriver("c", `echo "2 passed in 0s"`, types.ResultRecord{"passed": 2}),
	}

	res, err := m.VerifyAll(context.Background(), drivers, 3)
	require.NoError(t, err)
	require.Len(t, res.Verdicts, 3)
	for i, v := range res.Verdicts {
		assert.Equal(t, drivers[i].Name, v.Driver)
	}
	assert.Equal(t, 2, res.Passed())
	assert.Equal(t, 1, res.Failed())
	assert.False(t, res.Pass())
	assert.Empty(t, res.RuntimeFailures())
	assert.Equal(t, m.RunID(), res.RunID)

	_, err = m.VerifyAll(context.Background(), drivers, 0)
	require.Error(t, err)
}

func TestVerifyAll_SharedEnvironment(t *testing.T) {
	m := newTestMatcher(t, nil)
	a := shDriver("a", `echo "1 passed in 0s"`, types.ResultRecord{"passed": 1})
	b := shDriver("b", `echo "1 passed in 0s"`, types.ResultRecord{"passed": 1})
	b.Environment.Name = a.Environment.Name

	_, err := m.VerifyAll(context.Background(), []types.DriverConfig{a, b}, 2)
	require.ErrorContains(t, err, "a_env")

	res, err := m.VerifyAll(context.Background(), []types.DriverConfig{a, b}, 1)
	require.NoError(t, err)
	assert.True(t, res.Pass())
}

func TestShake(t *testing.T) {
	m := newTestMatcher(t, nil)
	script := `n=$(cat count 2>/dev/null || echo 0); n=$((n+1)); echo $n > count
if [ $((n % 2)) -eq 0 ]; then echo "2 failed, 1 passed in 0s"; else echo "3 passed in 0s"; fi`
	d := shDriver("flaky", script, types.ResultRecord{"passed": 3})

	report, err := m.Shake(context.Background(), d, 4)
	require.NoError(t, err)
	assert.Equal(t, 4, report.Iterations)
	assert.Equal(t, 2, report.Passes)
	assert.Equal(t, 2, report.Failures)
	assert.Equal(t, map[string]int{"expectation-mismatch": 2}, report.FailureKinds)
	assert.Equal(t, "UNSTABLE", report.Recommendation)
	require.Len(t, report.Records, 2)
	assert.Equal(t, types.ResultRecord{"failed": 2, "passed": 1}, report.Records[0].Record)
	assert.False(t, report.Records[0].Matched)
	assert.True(t, report.Records[1].Matched)
	assert.Len(t, report.Suggested, 2)

	dir := t.TempDir()
	files, err := SaveShakeReport(report, dir)
	require.NoError(t, err)
	require.Len(t, files, 2)
	for _, f := range files {
		_, err := os.Stat(f)
		require.NoError(t, err)
	}

	_, err = m.Shake(context.Background(), d, 0)
	require.Error(t, err)
}
