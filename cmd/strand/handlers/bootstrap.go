package handlers

import (
	"context"
	"log"

	"github.com/strandtools/strand/internal/config"
	"github.com/strandtools/strand/internal/metrics"
	"github.com/strandtools/strand/internal/provisioning"
	"github.com/strandtools/strand/internal/provisioning/bootstrap"
	"github.com/strandtools/strand/internal/ui/tui"
)

// BootstrapOptions carries the bootstrap command's flags.
type BootstrapOptions struct {
	ConfigPath  string
	MetricsAddr string
	Plain       bool
}

// bootstrapPhases builds the phase list of a bootstrap run - a
// variable so tests can swap it.
var bootstrapPhases = func() []provisioning.Phase {
	return []provisioning.Phase{
		provisioning.NewValidationPhase(),
		bootstrap.NewProvisioner(),
	}
}

// Bootstrap re-converges storage and mounts on an existing cluster.
//
// Unlike create, nothing is provisioned: the head and compute servers
// are discovered by role label and the bootstrap phase runs against
// them. Steps already satisfied report as unchanged, so a bootstrap on
// a healthy cluster is a cheap no-op that doubles as a health probe.
func Bootstrap(ctx context.Context, opts *BootstrapOptions) error {
	cfg, err := loadConfig(opts.ConfigPath)
	if err != nil {
		return err
	}

	runners, err := newRunnerFactory(cfg)
	if err != nil {
		return err
	}

	if opts.MetricsAddr != "" {
		go func() {
			if err := metrics.Serve(ctx, opts.MetricsAddr); err != nil {
				log.Printf("Warning: metrics endpoint failed: %v", err)
			}
		}()
	}

	pctx := newProvisioningContext(ctx, cfg, initializeClient(), runners)

	if tui.Interactive() && !opts.Plain {
		m := tui.NewModel(cfg.ClusterName, cfg.Location, "validation", "bootstrap")
		err = tui.Run(m, func(obs provisioning.Observer) error {
			pctx.Observer = instrumented(obs, opts.MetricsAddr)
			return runBootstrap(pctx, cfg)
		})
	} else {
		pctx.Observer = instrumented(pctx.Observer, opts.MetricsAddr)
		err = runBootstrap(pctx, cfg)
	}

	return finishReport(pctx.State.Report, err)
}

// runBootstrap discovers the cluster's nodes and volume, then runs the
// bootstrap phase against them.
func runBootstrap(pctx *provisioning.Context, cfg *config.Config) error {
	head, computeNodes, err := discoverNodes(pctx, pctx.Infra, cfg)
	if err != nil {
		return err
	}
	pctx.State.Head = head
	pctx.State.Compute = computeNodes

	if err := discoverVolume(pctx, cfg); err != nil {
		return err
	}

	return provisioning.RunPhases(pctx, bootstrapPhases())
}
