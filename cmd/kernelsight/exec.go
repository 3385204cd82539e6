//go:build linux

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var execCmd = &cobra.Command{
	Use:   "exec ID|NAME -- CMD [ARGS...]",
	Short: "Run a command inside a running container's namespaces",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		target := args[0]
		cmdline := args[1:]
		if cmdline[0] == "--" {
			cmdline = cmdline[1:]
		}
		if len(cmdline) == 0 {
			return fmt.Errorf("exec requires a command after --")
		}

		mgr, err := newManager()
		if err != nil {
			return err
		}
		return mgr.Exec(target, cmdline, os.Stdin, os.Stdout, os.Stderr)
	},
}

var shellCmd = &cobra.Command{
	Use:   "shell ID|NAME",
	Short: "Open an interactive /bin/sh inside a running container",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := newManager()
		if err != nil {
			return err
		}
		return mgr.ExecPTY(args[0], []string{"/bin/sh"}, os.Stdin, os.Stdout)
	},
}
