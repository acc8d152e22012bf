package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingPathReturnsZeroValue(t *testing.T) {
	d, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Defaults{}, d)
}

func TestLoad_MissingFileReturnsZeroValue(t *testing.T) {
	d, err := Load(filepath.Join(t.TempDir(), "nodeguard.toml"))
	require.NoError(t, err)
	assert.Equal(t, Defaults{}, d)
}

func TestLoad_DecodesFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nodeguard.toml")
	content := `
util_interval = 3
margin_ratio = 0.75
enable_prometheus = true
prometheus_addr = ":9090"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	d, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 3, d.UtilInterval)
	assert.Equal(t, 0.75, d.MarginRatio)
	assert.True(t, d.EnablePrometheus)
	assert.Equal(t, ":9090", d.PrometheusAddr)
}

func TestLoad_MalformedFileErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nodeguard.toml")
	require.NoError(t, os.WriteFile(path, []byte("not = [valid toml"), 0o644))
	_, err := Load(path)
	assert.Error(t, err)
}
