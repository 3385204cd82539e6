//go:build linux

package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMemory(t *testing.T) {
	cases := []struct {
		in   string
		want int64
	}{
		{"", 0},
		{"512", 512},
		{"512b", 512},
		{"1k", 1024},
		{"1kb", 1024},
		{"2m", 2 * 1024 * 1024},
		{"1g", 1024 * 1024 * 1024},
	}
	for _, tc := range cases {
		got, err := parseMemory(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}
}

func TestParseMemoryRejectsBadUnit(t *testing.T) {
	_, err := parseMemory("5x")
	assert.Error(t, err)
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "unlimited", formatBytes(-1))
	assert.Equal(t, "0 B", formatBytes(0))
	assert.Equal(t, "512 B", formatBytes(512))
	assert.Equal(t, "1.0 KB", formatBytes(1024))
}

func TestParseVolumes(t *testing.T) {
	vols, err := parseVolumes([]string{"/host/data:/data", "/host/logs:/var/log"})
	require.NoError(t, err)
	require.Len(t, vols, 2)
	assert.Equal(t, "/host/data", vols[0].Source)
	assert.Equal(t, "/data", vols[0].Target)
}

func TestParseVolumesRejectsMalformed(t *testing.T) {
	_, err := parseVolumes([]string{"noseparator"})
	assert.Error(t, err)

	_, err = parseVolumes([]string{":/data"})
	assert.Error(t, err)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
}
