package regress

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-regress/exitcodes"
	"github.com/ethereum-optimism/infra/op-regress/harness"
	"github.com/ethereum-optimism/infra/op-regress/types"
)

type mockVerifier struct {
	mock.Mock
}

func (m *mockVerifier) VerifyAll(ctx context.Context, drivers []types.DriverConfig, concurrency int) (*harness.RunResult, error) {
	args := m.Called(ctx, drivers, concurrency)
	res, _ := args.Get(0).(*harness.RunResult)
	return res, args.Error(1)
}

func (m *mockVerifier) Shake(ctx context.Context, d types.DriverConfig, iterations int) (*harness.ShakeReport, error) {
	args := m.Called(ctx, d, iterations)
	rep, _ := args.Get(0).(*harness.ShakeReport)
	return rep, args.Error(1)
}

var testDrivers = []types.DriverConfig{
	{Name: "cffi", Environment: types.EnvironmentSpec{Name: "cffi-env"}},
	{Name: "cheetah", Environment: types.EnvironmentSpec{Name: "cheetah-env"}},
}

func verdict(driver string, pass bool, kind types.FailureKind) *types.Verdict {
	v := &types.Verdict{
		Driver:       driver,
		Environment:  driver + "-env",
		Pass:         pass,
		Kind:         kind,
		MatchedIndex: -1,
	}
	if pass {
		v.MatchedIndex = 0
	} else {
		v.Err = errors.New(kind.String())
	}
	return v
}

// setupTest returns a regress service backed by a mock verifier and a
// channel receiving the shutdown callback
func setupTest(t *testing.T, cfg *Config) (*mockVerifier, *regress, chan error) {
	t.Helper()
	if cfg == nil {
		cfg = &Config{}
	}
	cfg.Log = log.New()
	if cfg.Concurrency == 0 {
		cfg.Concurrency = 1
	}
	v := &mockVerifier{}
	shutdown := make(chan error, 1)
	r := newRegress(cfg, "test", testDrivers, v, func(err error) { shutdown <- err })
	return v, r, shutdown
}

func TestStartAllPass(t *testing.T) {
	v, r, shutdown := setupTest(t, nil)
	v.On("VerifyAll", mock.Anything, testDrivers, 1).Return(&harness.RunResult{
		RunID:    "run",
		Verdicts: []*types.Verdict{verdict("cffi", true, types.FailureNone), verdict("cheetah", true, types.FailureNone)},
	}, nil)

	require.NoError(t, r.Start(context.Background()))
	select {
	case err := <-shutdown:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("shutdown callback not called")
	}
	assert.False(t, r.Stopped())
	require.NoError(t, r.Stop(context.Background()))
	assert.True(t, r.Stopped())
	require.NoError(t, r.Stop(context.Background()))
	v.AssertExpectations(t)
}

func TestStartExitCodes(t *testing.T) {
	tests := []struct {
		name      string
		verdicts  []*types.Verdict
		verifyErr error
		wantCode  int
	}{
		{
			name:     "regression",
			verdicts: []*types.Verdict{verdict("cffi", true, types.FailureNone), verdict("cheetah", false, types.FailureExpectation)},
			wantCode: exitcodes.TestFailure,
		},
		{
			name:     "fingerprint drift",
			verdicts: []*types.Verdict{verdict("cffi", false, types.FailureFingerprint)},
			wantCode: exitcodes.TestFailure,
		},
		{
			name:     "provisioning failure",
			verdicts: []*types.Verdict{verdict("cffi", false, types.FailureProvisioning)},
			wantCode: exitcodes.RuntimeErr,
		},
		{
			name:     "runtime failure wins over regression",
			verdicts: []*types.Verdict{verdict("cffi", false, types.FailureExpectation), verdict("cheetah", false, types.FailureTimeout)},
			wantCode: exitcodes.RuntimeErr,
		},
		{
			name:      "verifier error",
			verifyErr: errors.New("drivers share environments"),
			wantCode:  exitcodes.RuntimeErr,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, r, shutdown := setupTest(t, nil)
			var res *harness.RunResult
			if tt.verdicts != nil {
				res = &harness.RunResult{RunID: "run", Verdicts: tt.verdicts}
			}
			v.On("VerifyAll", mock.Anything, testDrivers, 1).Return(res, tt.verifyErr)

			err := r.Start(context.Background())
			require.Error(t, err)
			assert.Equal(t, tt.wantCode, ExitCode(err))
			select {
			case <-shutdown:
				t.Fatal("shutdown callback must not be called on failure")
			default:
			}
		})
	}
}

func TestStartWritesReport(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "reports")
	v, r, _ := setupTest(t, &Config{ReportDir: dir, Concurrency: 2})
	v.On("VerifyAll", mock.Anything, testDrivers, 2).Return(&harness.RunResult{
		RunID:    "abc",
		Verdicts: []*types.Verdict{verdict("cffi", false, types.FailureExpectation)},
	}, nil)

	err := r.Start(context.Background())
	require.True(t, IsTestFailureError(err))
	assert.Contains(t, err.Error(), "cffi")
	assert.FileExists(t, filepath.Join(dir, "regress-abc.json"))
	assert.FileExists(t, filepath.Join(dir, "run-abc", "failed", "cffi.log"))
}

func TestStartShake(t *testing.T) {
	dir := t.TempDir()
	v, r, shutdown := setupTest(t, &Config{ShakeIterations: 3, ReportDir: dir})
	v.On("Shake", mock.Anything, testDrivers[0], 3).Return(&harness.ShakeReport{
		Driver: "cffi", Iterations: 3, Passes: 3, Recommendation: harness.RecommendationStable,
	}, nil)
	v.On("Shake", mock.Anything, testDrivers[1], 3).Return(&harness.ShakeReport{
		Driver: "cheetah", Iterations: 3, Passes: 3, Recommendation: harness.RecommendationStable,
	}, nil)

	require.NoError(t, r.Start(context.Background()))
	select {
	case err := <-shutdown:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("shutdown callback not called")
	}
	assert.FileExists(t, filepath.Join(dir, "shake-cffi.json"))
	assert.FileExists(t, filepath.Join(dir, "shake-cheetah.html"))
	v.AssertNotCalled(t, "VerifyAll", mock.Anything, mock.Anything, mock.Anything)
}

func TestStartShakeUnstable(t *testing.T) {
	v, r, _ := setupTest(t, &Config{ShakeIterations: 2})
	v.On("Shake", mock.Anything, testDrivers[0], 2).Return(&harness.ShakeReport{
		Driver: "cffi", Iterations: 2, Passes: 1, Failures: 1, Recommendation: harness.RecommendationUnstable,
	}, nil)
	v.On("Shake", mock.Anything, testDrivers[1], 2).Return(nil, context.Canceled).Maybe()

	err := r.Start(context.Background())
	require.Error(t, err)
	assert.True(t, IsRuntimeError(err))

	v2, r2, _ := setupTest(t, &Config{ShakeIterations: 2})
	v2.On("Shake", mock.Anything, testDrivers[0], 2).Return(&harness.ShakeReport{
		Driver: "cffi", Iterations: 2, Passes: 1, Failures: 1, Recommendation: harness.RecommendationUnstable,
	}, nil)
	v2.On("Shake", mock.Anything, testDrivers[1], 2).Return(&harness.ShakeReport{
		Driver: "cheetah", Iterations: 2, Passes: 2, Recommendation: harness.RecommendationStable,
	}, nil)
	err = r2.Start(context.Background())
	require.True(t, IsTestFailureError(err))
	assert.Contains(t, err.Error(), "unstable drivers: cffi")
}

const newTestDrivers = `
toolchain:
  name: fake
  create: ["mkdir", "-p", "{env}/bin"]
  install: ["true"]
drivers:
  - name: echo
    environment: {name: echo_env}
    command: ["echo", "1 passed in 0.01s"]
    family: pytest
    expected: [{passed: 1}]
`

func TestNew(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "drivers.yaml")
	require.NoError(t, os.WriteFile(file, []byte(newTestDrivers), 0644))

	cfg := &Config{
		DriverFile:  file,
		EnvRoot:     filepath.Join(dir, "envs"),
		Toolchain:   "virtualenv",
		Threshold:   0.9,
		Concurrency: 1,
		Log:         log.New(),
	}
	r, err := New(context.Background(), cfg, "test", func(error) {})
	require.NoError(t, err)
	require.Len(t, r.drivers, 1)
	assert.Equal(t, "echo", r.drivers[0].Name)
	assert.Nil(t, r.service)

	cfg.Drivers = []string{"missing"}
	_, err = New(context.Background(), cfg, "test", func(error) {})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing")

	_, err = New(context.Background(), nil, "test", func(error) {})
	require.Error(t, err)
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, exitcodes.Success, ExitCode(nil))
	assert.Equal(t, exitcodes.TestFailure, ExitCode(NewTestFailureError("x")))
	assert.Equal(t, exitcodes.RuntimeErr, ExitCode(NewRuntimeError(errors.New("x"))))
	assert.Equal(t, exitcodes.RuntimeErr, ExitCode(errors.Join(errors.New("failed to start"), NewRuntimeError(errors.New("x")))))
	assert.Equal(t, exitcodes.TestFailure, ExitCode(errors.New("other")))
}
