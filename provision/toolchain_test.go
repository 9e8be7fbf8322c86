package provision

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupToolchain(t *testing.T) {
	for _, name := range []string{"virtualenv", "venv"} {
		t.Run(name, func(t *testing.T) {
			tc, err := LookupToolchain(name)
			require.NoError(t, err)
			assert.Equal(t, name, tc.Name)
			assert.NoError(t, tc.Validate())
		})
	}

	_, err := LookupToolchain("conda")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "venv, virtualenv")
}

func TestToolchainValidate(t *testing.T) {
	assert.Error(t, Toolchain{}.Validate())
	assert.Error(t, Toolchain{Name: "x"}.Validate())
	assert.Error(t, Toolchain{Name: "x", Install: []string{""}}.Validate())
	assert.NoError(t, Toolchain{Name: "x", Install: []string{"pip"}}.Validate())
}
