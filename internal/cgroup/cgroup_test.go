//go:build linux

package cgroup

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/kernelsight/runtime/internal/containerspec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClamp(t *testing.T) {
	assert.Equal(t, int64(1), clamp(-5, 1, 10000))
	assert.Equal(t, int64(10000), clamp(20000, 1, 10000))
	assert.Equal(t, int64(500), clamp(500, 1, 10000))
}

func TestReadMaxOrInt(t *testing.T) {
	dir := t.TempDir()

	maxPath := filepath.Join(dir, "memory.max")
	require.NoError(t, os.WriteFile(maxPath, []byte("max\n"), 0o644))
	assert.Equal(t, int64(-1), readMaxOrInt(maxPath))

	numPath := filepath.Join(dir, "pids.max")
	require.NoError(t, os.WriteFile(numPath, []byte("256\n"), 0o644))
	assert.Equal(t, int64(256), readMaxOrInt(numPath))

	assert.Equal(t, int64(0), readMaxOrInt(filepath.Join(dir, "missing")))
}

func TestReadInt(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "memory.current")
	require.NoError(t, os.WriteFile(path, []byte("1048576\n"), 0o644))
	assert.Equal(t, int64(1048576), readInt(path))
	assert.Equal(t, int64(0), readInt(filepath.Join(dir, "missing")))
}

func TestReadCPUUsageUsec(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cpu.stat")
	content := "usage_usec 123456\nuser_usec 100000\nsystem_usec 23456\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	usec, err := readCPUUsageUsec(path)
	require.NoError(t, err)
	assert.Equal(t, int64(123456), usec)

	_, err = readCPUUsageUsec(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}

func TestApplyLimitsWritesExpectedFiles(t *testing.T) {
	leaf := t.TempDir()
	for _, f := range []string{"memory.max", "memory.swap.max", "cpu.max", "cpu.weight", "pids.max"} {
		require.NoError(t, os.WriteFile(filepath.Join(leaf, f), []byte("0\n"), 0o644))
	}

	c := New("/sys/fs/cgroup", "kernelsight-test")
	c.ApplyLimits(leaf, limitsFixture())

	assertFileContains(t, filepath.Join(leaf, "memory.max"), "134217728")
	assertFileContains(t, filepath.Join(leaf, "cpu.max"), "50000 100000")
	assertFileContains(t, filepath.Join(leaf, "pids.max"), "64")
}

func limitsFixture() containerspec.Limits {
	return containerspec.Limits{
		MemoryBytes: 128 * 1024 * 1024,
		SwapBytes:   0,
		CPUQuotaUs:  50000,
		CPUPeriodUs: 100000,
		CPUShares:   512,
		PIDsMax:     64,
	}
}

func assertFileContains(t *testing.T, path, want string) {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), want)
}
