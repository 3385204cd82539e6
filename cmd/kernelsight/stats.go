//go:build linux

package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats ID|NAME",
	Short: "Show live cgroup resource usage for a container",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := newManager()
		if err != nil {
			return err
		}
		m, err := mgr.Stats(args[0])
		if err != nil {
			return err
		}

		fmt.Printf("memory: %s / %s (peak %s)\n",
			formatBytes(m.MemoryCurrent), formatBytes(m.MemoryLimit), formatBytes(m.MemoryPeak))
		fmt.Printf("cpu:    %.3fs total\n", float64(m.CPUUsageNs)/1e9)
		fmt.Printf("pids:   %d / %s\n", m.PIDsCurrent, limitString(m.PIDsLimit))
		return nil
	},
}

func limitString(n int64) string {
	if n < 0 {
		return "unlimited"
	}
	return fmt.Sprintf("%d", n)
}
