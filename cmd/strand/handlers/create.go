package handlers

import (
	"context"
	"fmt"
	"log"

	"github.com/strandtools/strand/internal/config"
	"github.com/strandtools/strand/internal/metrics"
	"github.com/strandtools/strand/internal/provisioning"
	"github.com/strandtools/strand/internal/provisioning/bootstrap"
	"github.com/strandtools/strand/internal/provisioning/compute"
	"github.com/strandtools/strand/internal/provisioning/infrastructure"
	"github.com/strandtools/strand/internal/ui/tui"
	"github.com/strandtools/strand/internal/util/async"
)

// CreateOptions carries the create command's flags.
type CreateOptions struct {
	ConfigPath  string
	MetricsAddr string
	Plain       bool
}

// Create provisions the cluster declared in the configuration.
//
// The workflow:
//  1. Loads and validates the cluster configuration
//  2. Derives where the cluster currently sits in its lifecycle
//  3. Runs the validation, infrastructure, compute, and bootstrap phases
//  4. Builds and mounts the scratch stack when one is declared; stack
//     creation runs concurrently with cluster provisioning
//  5. Prints the per-resource report and fails when any resource failed
//
// Re-running create on an existing cluster adopts what is already there:
// phases treat present resources as satisfied and only converge the
// difference. An interrupted create leaves the cluster in provisioning;
// the next create resumes from there.
//
// The function expects HCLOUD_TOKEN to be set in the environment and
// delegates token validation to the Hetzner Cloud client.
func Create(ctx context.Context, opts *CreateOptions) error {
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
		m := tui.NewModel(cfg.ClusterName, cfg.Location, createPhaseNames(cfg)...)
		err = tui.Run(m, func(obs provisioning.Observer) error {
			pctx.Observer = instrumented(obs, opts.MetricsAddr)
			return runCreate(pctx, cfg)
		})
	} else {
		pctx.Observer = instrumented(pctx.Observer, opts.MetricsAddr)
		err = runCreate(pctx, cfg)
	}

	return finishReport(pctx.State.Report, err)
}

// createPhaseNames lists the phases a create run goes through, for the
// dashboard's phase table.
func createPhaseNames(cfg *config.Config) []string {
	names := []string{"validation", "infrastructure", "compute", "bootstrap"}
	if cfg.Scratch != nil {
		names = append(names, "scratch")
	}
	return names
}

// instrumented wraps the observer with the metrics decorator when a
// metrics endpoint was requested.
func instrumented(obs provisioning.Observer, metricsAddr string) provisioning.Observer {
	if metricsAddr == "" {
		return obs
	}
	return metrics.Instrument(obs)
}

// createPhases builds the phase list of a create run - a variable so
// tests can swap it.
var createPhases = func() []provisioning.Phase {
	return []provisioning.Phase{
		provisioning.NewValidationPhase(),
		infrastructure.NewProvisioner(),
		compute.NewProvisioner(),
		bootstrap.NewProvisioner(),
	}
}

// runCreate walks the cluster through its lifecycle and runs the
// provisioning phases, plus the scratch stack when one is declared.
func runCreate(pctx *provisioning.Context, cfg *config.Config) error {
	state, err := provisioning.DeriveClusterState(pctx, pctx.Infra, cfg)
	if err != nil {
		return err
	}

	lifecycle := provisioning.NewLifecycle(state, pctx.Observer)
	if lifecycle.State() != provisioning.ClusterRunning {
		if err := lifecycle.To(provisioning.ClusterProvisioning); err != nil {
			return err
		}
	}

	phases := createPhases()

	if cfg.Scratch == nil {
		if err := provisioning.RunPhases(pctx, phases); err != nil {
			return err
		}
	} else {
		if err := runCreateWithScratch(pctx, cfg, phases); err != nil {
			return err
		}
	}

	if lifecycle.State() == provisioning.ClusterProvisioning {
		if err := lifecycle.To(provisioning.ClusterRunning); err != nil {
			return err
		}
	}
	return nil
}

// runCreateWithScratch builds the scratch stack concurrently with the
// cluster phases, then mounts the stack on every node once both tracks
// finish.
func runCreateWithScratch(pctx *provisioning.Context, cfg *config.Config, phases []provisioning.Phase) error {
	if cfg.ObjectStore == nil {
		return fmt.Errorf("scratch stack requires an object_store section for its manifest")
	}

	store, err := newObjectStore(cfg.ObjectStore)
	if err != nil {
		return err
	}

	mgr := newScratchManager(cfg, pctx.Infra, store, pctx.Runners)
	mgr.Observer = pctx.Observer
	mgr.Timeouts = pctx.Timeouts

	results := async.RunAll(pctx, []async.Task{
		{Name: "cluster", Func: func(_ context.Context) error {
			return provisioning.RunPhases(pctx, phases)
		}},
		{Name: "scratch stack", Func: func(ctx context.Context) error {
			_, err := mgr.Create(ctx, false)
			return err
		}},
	})
	if err := async.Join(results); err != nil {
		return err
	}

	mountReport, err := mgr.Mount(pctx, pctx.State.Nodes())
	mergeReport(pctx.State.Report, mountReport)
	if err != nil {
		return fmt.Errorf("scratch mount failed: %w", err)
	}
	return nil
}

// mergeReport folds the entries of one report into another. Scratch
// operations build their own report; the command prints a single one.
func mergeReport(dst *provisioning.Report, src *provisioning.Report) {
	if dst == nil || src == nil {
		return
	}
	for _, entry := range src.Entries() {
		dst.Add(entry)
	}
}
