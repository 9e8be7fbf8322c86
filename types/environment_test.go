package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDependency(t *testing.T) {
	tests := []struct {
		in      string
		want    Dependency
		wantErr bool
	}{
		{in: "pytest==2.8.7", want: Dependency{Name: "pytest", Version: "2.8.7"}},
		{in: " Markdown == 2.0.1 ", want: Dependency{Name: "Markdown", Version: "2.0.1"}},
		{in: "cheetah", want: Dependency{Name: "cheetah"}},
		{in: "", wantErr: true},
		{in: "==1.0", wantErr: true},
		{in: "py==", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDependency(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	assert.Equal(t, "pytest==2.8.7", Dependency{Name: "pytest", Version: "2.8.7"}.String())
	assert.Equal(t, "cheetah", Dependency{Name: "cheetah"}.String())
}

func TestParseReusePolicy(t *testing.T) {
	p, err := ParseReusePolicy("")
	require.NoError(t, err)
	assert.Equal(t, ReuseIfPresent, p)

	p, err = ParseReusePolicy("Force-Recreate")
	require.NoError(t, err)
	assert.Equal(t, ForceRecreate, p)

	_, err = ParseReusePolicy("sometimes")
	require.Error(t, err)
}

func TestEnvironmentSpecValidate(t *testing.T) {
	tests := []struct {
		name    string
		spec    EnvironmentSpec
		wantErr bool
	}{
		{name: "valid", spec: EnvironmentSpec{Name: "cffi17_test_env", Dependencies: []Dependency{{Name: "pytest", Version: "2.8.7"}}}},
		{name: "missing name", spec: EnvironmentSpec{}, wantErr: true},
		{name: "path separator", spec: EnvironmentSpec{Name: "a/b"}, wantErr: true},
		{name: "parent dir", spec: EnvironmentSpec{Name: ".."}, wantErr: true},
		{name: "bad policy", spec: EnvironmentSpec{Name: "env", Policy: "never"}, wantErr: true},
		{name: "unnamed dependency", spec: EnvironmentSpec{Name: "env", Dependencies: []Dependency{{Version: "1"}}}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.spec.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}

	assert.Equal(t, ReuseIfPresent, EnvironmentSpec{Name: "x"}.EffectivePolicy())
}
