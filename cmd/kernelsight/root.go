//go:build linux

package main

import (
	"fmt"

	"github.com/kernelsight/runtime/internal/cgroup"
	"github.com/kernelsight/runtime/internal/corelog"
	"github.com/kernelsight/runtime/internal/lifecycle"
	"github.com/kernelsight/runtime/internal/record"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "kernelsight",
	Short: "A minimal Linux container runtime",
	Long: `kernelsight creates and runs containers directly on top of Linux
namespaces, pivot_root, and cgroup v2 — no daemon, no image format, one
binary driving one container at a time.`,
	SilenceUsage: true,
}

var (
	flagStateRoot   string
	flagCgroupRoot  string
	flagRuntimeName string
	flagLogLevel    string
	flagLogJSON     bool
)

func init() {
	rootCmd.PersistentFlags().StringVar(&flagStateRoot, "root", "/var/lib/kernelsight/containers", "container state directory")
	rootCmd.PersistentFlags().StringVar(&flagCgroupRoot, "cgroup-root", "/sys/fs/cgroup", "cgroup v2 unified mount point")
	rootCmd.PersistentFlags().StringVar(&flagRuntimeName, "runtime-name", "kernelsight", "cgroup subtree name for this runtime's containers")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&flagLogJSON, "log-json", false, "emit logs as JSON")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(execCmd)
	rootCmd.AddCommand(shellCmd)
}

func initLogging() {
	corelog.Init(corelog.Config{Level: corelog.Level(flagLogLevel), JSON: flagLogJSON})
}

func newManager() (*lifecycle.Manager, error) {
	store, err := record.NewStore(flagStateRoot)
	if err != nil {
		return nil, err
	}
	ctl := cgroup.New(flagCgroupRoot, flagRuntimeName)
	if !ctl.Available() {
		return nil, fmt.Errorf("cgroup v2 is not mounted at %s", flagCgroupRoot)
	}
	return lifecycle.New(store, ctl), nil
}
