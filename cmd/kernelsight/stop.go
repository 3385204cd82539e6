//go:build linux

package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var stopCmd = &cobra.Command{
	Use:   "stop ID|NAME",
	Short: "Stop a running container (SIGTERM, then SIGKILL after 10s)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := newManager()
		if err != nil {
			return err
		}
		r, err := mgr.Stop(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("stopped %s\n", r.ID)
		return nil
	},
}
