//go:build linux

package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var startCmd = &cobra.Command{
	Use:   "start ID|NAME",
	Short: "Start a previously created container",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := newManager()
		if err != nil {
			return err
		}
		r, err := mgr.Start(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("started %s (pid %d)\n", r.ID, r.PID)
		return nil
	},
}
