//go:build linux

package cgroupfs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeContainerFile(t *testing.T, root, cid, name, content string) {
	t.Helper()
	dir := filepath.Join(root, cid)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestReadUsage(t *testing.T) {
	root := t.TempDir()
	writeContainerFile(t, root, "abc123", "cpuacct.usage", "1234567890\n")
	fs := FS{Root: root}

	got, err := fs.ReadUsage("abc123")
	require.NoError(t, err)
	assert.Equal(t, uint64(1234567890), got)
}

func TestReadUsage_Malformed(t *testing.T) {
	root := t.TempDir()
	writeContainerFile(t, root, "abc123", "cpuacct.usage", "not-a-number\n")
	fs := FS{Root: root}

	_, err := fs.ReadUsage("abc123")
	require.ErrorIs(t, err, ErrMalformedValue)
}

func TestReadPeriod_MissingFileReturnsZero(t *testing.T) {
	fs := FS{Root: t.TempDir()}
	assert.Equal(t, 0, fs.ReadPeriod("missing"))
}

func TestReadPeriod_OK(t *testing.T) {
	root := t.TempDir()
	writeContainerFile(t, root, "c1", "cpu.cfs_period_us", "100000")
	fs := FS{Root: root}
	assert.Equal(t, 100000, fs.ReadPeriod("c1"))
}

func TestWriteQuotaAndShares(t *testing.T) {
	root := t.TempDir()
	writeContainerFile(t, root, "c1", "cpu.cfs_quota_us", "-1")
	writeContainerFile(t, root, "c1", "cpu.shares", "1024")
	fs := FS{Root: root}

	require.NoError(t, fs.WriteQuota("c1", 50000))
	b, err := os.ReadFile(filepath.Join(root, "c1", "cpu.cfs_quota_us"))
	require.NoError(t, err)
	assert.Equal(t, "50000", string(b))

	require.NoError(t, fs.WriteShares("c1", 2))
	b, err = os.ReadFile(filepath.Join(root, "c1", "cpu.shares"))
	require.NoError(t, err)
	assert.Equal(t, "2", string(b))
}
