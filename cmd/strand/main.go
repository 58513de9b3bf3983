// Package main is the entry point for the strand CLI.
//
// strand provisions short-lived compute clusters for distributed
// data-processing runs on Hetzner Cloud: a head node that owns and
// exports shared storage, compute nodes that mount it, and an optional
// scratch filesystem stack for high-throughput intermediate data.
//
// Commands: config, create, bootstrap, info, stop, destroy, scratch, run.
//
// For detailed usage information, run:
//
//	strand --help
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/strandtools/strand/cmd/strand/commands"
)

// Version information set by goreleaser at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	// SIGINT and SIGTERM cancel in-flight provisioning; teardown
	// handlers arrange their own context so cleanup still runs.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	commands.SetVersionInfo(version, commit, date)
	if err := commands.Root().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
