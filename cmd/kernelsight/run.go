//go:build linux

package main

import (
	"os"

	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Create, start, wait for, and delete a container in one step",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := configFromFlags(cmd)
		if err != nil {
			return err
		}
		mgr, err := newManager()
		if err != nil {
			return err
		}

		exitCode, err := mgr.Run(cfg)
		if err != nil {
			return err
		}
		os.Exit(exitCode)
		return nil
	},
}

func init() {
	addContainerFlags(runCmd)
}
