//go:build linux

// Command kernelsight is the CLI driver for the container runtime: it wires
// cobra subcommands onto internal/lifecycle.Manager.
//
// Grounded on cuemby-warren/cmd/warren/main.go's root-command-plus-
// PersistentFlags layout, generalized for a single-node runtime instead of
// a clustered orchestrator.
package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/kernelsight/runtime/internal/nsorch"
)

func main() {
	// Re-exec dispatch: when this binary is invoked as its own init or
	// exec helper (see internal/nsorch), argv[1] carries one of the two
	// magic markers instead of a cobra subcommand. This must run before
	// cobra ever sees argv, mirroring docker/runc's reexec.Init() pattern.
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case nsorch.InitArg:
			if len(os.Args) < 3 {
				fmt.Fprintln(os.Stderr, "kernelsight: missing config path for init")
				os.Exit(1)
			}
			nsorch.RunChild(os.Args[2])
			return
		case nsorch.ExecArg:
			if len(os.Args) < 4 {
				fmt.Fprintln(os.Stderr, "kernelsight: missing pid/command for exec helper")
				os.Exit(1)
			}
			pid, err := strconv.Atoi(os.Args[2])
			if err != nil {
				fmt.Fprintf(os.Stderr, "kernelsight: bad pid %q: %v\n", os.Args[2], err)
				os.Exit(1)
			}
			nsorch.Enter(pid, nsorch.EnterSpec(), os.Args[3:])
			return
		}
	}

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
