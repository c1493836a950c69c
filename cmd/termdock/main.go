// Package main is the entry point for the termdock binary.
//
// termdock is a terminal application that combines a TUI dashboard (built
// with Bubble Tea) and a CLI (built with Cobra) for managing remote
// connections, terminal sessions, and file transfers through a backend
// gateway.
//
// When invoked without arguments, it launches the interactive TUI dashboard.
// When invoked with subcommands (e.g. "list", "connect", "cp"), it runs the
// corresponding CLI operation and exits.
//
// Usage:
//
//	termdock                 # launch the TUI dashboard
//	termdock list            # list saved connections
//	termdock connect <id>    # connect a saved connection and its jump chain
//	termdock cp <src> <dst>  # copy files between endpoints
//
// The CLI is constructed in internal/cli and the TUI in internal/ui. This
// file simply wires them together and handles top-level error reporting.
package main

import (
	"fmt"
	"os"

	"github.com/calebmh/termdock/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
