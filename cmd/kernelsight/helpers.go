//go:build linux

package main

import (
	"fmt"
	"strings"

	"github.com/kernelsight/runtime/internal/containerspec"
)

// parseMemory converts a human-readable size like "512m" or "2g" into
// bytes. Grounded on cuemby-warren/cmd/warren's parseMemory.
func parseMemory(mem string) (int64, error) {
	if mem == "" {
		return 0, nil
	}
	mem = strings.ToLower(strings.TrimSpace(mem))

	var value float64
	var unit string
	if _, err := fmt.Sscanf(mem, "%f%s", &value, &unit); err != nil {
		if _, err := fmt.Sscanf(mem, "%f", &value); err != nil {
			return 0, fmt.Errorf("invalid memory format: %s (use format like '512m', '1g', '2048k')", mem)
		}
		return int64(value), nil
	}

	switch unit {
	case "b", "":
		return int64(value), nil
	case "k", "kb":
		return int64(value * 1024), nil
	case "m", "mb":
		return int64(value * 1024 * 1024), nil
	case "g", "gb":
		return int64(value * 1024 * 1024 * 1024), nil
	default:
		return 0, fmt.Errorf("invalid memory unit: %s (use b, k/kb, m/mb, g/gb)", unit)
	}
}

func formatBytes(n int64) string {
	if n < 0 {
		return "unlimited"
	}
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGT"[exp])
}

func parseVolumes(specs []string) ([]containerspec.VolumeMount, error) {
	out := make([]containerspec.VolumeMount, 0, len(specs))
	for _, s := range specs {
		parts := strings.SplitN(s, ":", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return nil, fmt.Errorf("invalid volume %q (want SOURCE:TARGET)", s)
		}
		out = append(out, containerspec.VolumeMount{Source: parts[0], Target: parts[1]})
	}
	return out, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
