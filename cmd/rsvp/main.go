// Package main is the entry point for the rsvp CLI.
//
// rsvp is the lab's machine reservation tool. It leases and releases pool
// hosts and resources through the central leasing authority, manages host
// classes, and runs the concurrent pool health checker.
//
// For detailed usage information, run:
//
//	rsvp --help
package main

import (
	"fmt"
	"os"

	"github.com/labpool/rsvp/cmd/rsvp/commands"
)

// Version information set by goreleaser at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	commands.SetVersionInfo(version, commit, date)
	if err := commands.Root().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
