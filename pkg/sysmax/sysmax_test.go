package sysmax

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileFallsBackToCPUCount(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lcmax.txt")
	assert.Equal(t, 800, Load(path, 8))
}

func TestLoad_MalformedFallsBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lcmax.txt")
	require.NoError(t, os.WriteFile(path, []byte("not-a-number"), 0o644))
	assert.Equal(t, 400, Load(path, 4))
}

func TestSaveThenLoad_RoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lcmax.txt")
	require.NoError(t, Save(path, 650))
	assert.Equal(t, 650, Load(path, 4))
}
