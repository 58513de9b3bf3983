package handlers

import (
	"context"
	"log"

	"github.com/strandtools/strand/internal/config"
	"github.com/strandtools/strand/internal/provisioning"
	"github.com/strandtools/strand/internal/provisioning/destroy"
)

// Factory function variables for teardown - can be replaced in tests.
var (
	// newStopProvisioner creates the servers-only release provisioner.
	newStopProvisioner = func() Provisioner {
		return destroy.NewStopProvisioner()
	}

	// newDestroyProvisioner creates the full teardown provisioner.
	newDestroyProvisioner = func() Provisioner {
		return destroy.NewProvisioner()
	}
)

// Stop releases the cluster's servers and keeps the durable resources.
//
// The network, firewall, SSH key and data volume stay behind, so the
// next create re-adopts them and finds the shared data intact. Safe on
// a partially-created cluster.
func Stop(ctx context.Context, configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	log.Printf("Stopping cluster: %s", cfg.ClusterName)
	return teardown(ctx, cfg, newStopProvisioner(), provisioning.ClusterStopped)
}

// Destroy removes all cluster resources from Hetzner Cloud.
//
// The scratch stack and its manifest go first when one is configured,
// then the cluster resources in dependency order, then a sweep over
// anything still carrying the cluster label.
func Destroy(ctx context.Context, configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	log.Printf("Destroying cluster: %s", cfg.ClusterName)
	return teardown(ctx, cfg, newDestroyProvisioner(), provisioning.ClusterAbsent)
}

// teardown runs one release provisioner and walks the lifecycle to the
// given terminal state.
//
// The incoming context may already be cancelled when teardown runs as
// cleanup after an interrupted create. Releases run on a context that
// survives that cancellation: leaving half a cluster behind costs real
// money, so the first interrupt requests teardown and only a second
// one kills the process.
func teardown(ctx context.Context, cfg *config.Config, prov Provisioner, terminal provisioning.ClusterState) error {
	tearCtx := context.WithoutCancel(ctx)

	pctx := newProvisioningContext(tearCtx, cfg, initializeClient(), nil)

	state, err := provisioning.DeriveClusterState(tearCtx, pctx.Infra, cfg)
	if err != nil {
		return err
	}
	lifecycle := provisioning.NewLifecycle(state, pctx.Observer)
	if provisioning.CanTransition(lifecycle.State(), provisioning.ClusterStopping) {
		if err := lifecycle.To(provisioning.ClusterStopping); err != nil {
			return err
		}
	}

	if terminal == provisioning.ClusterAbsent && cfg.Scratch != nil {
		if err := destroyScratchStack(tearCtx, cfg, pctx); err != nil {
			log.Printf("Warning: scratch stack cleanup failed: %v", err)
		}
	}

	runErr := prov.Provision(pctx)

	// A failed release leaves the cluster where it was; only a clean
	// run reaches the terminal state.
	if runErr == nil {
		if provisioning.CanTransition(lifecycle.State(), provisioning.ClusterStopped) {
			if err := lifecycle.To(provisioning.ClusterStopped); err != nil {
				return err
			}
		}
		if terminal == provisioning.ClusterAbsent && provisioning.CanTransition(lifecycle.State(), provisioning.ClusterAbsent) {
			if err := lifecycle.To(provisioning.ClusterAbsent); err != nil {
				return err
			}
		}
	}

	return finishReport(pctx.State.Report, runErr)
}

// destroyScratchStack tears the scratch stack down ahead of the cluster
// resources. Its servers live in the cluster network, and the manifest
// in object storage is invisible to the label sweep.
func destroyScratchStack(ctx context.Context, cfg *config.Config, pctx *provisioning.Context) error {
	if cfg.ObjectStore == nil {
		return nil
	}

	store, err := newObjectStore(cfg.ObjectStore)
	if err != nil {
		return err
	}

	mgr := newScratchManager(cfg, pctx.Infra, store, nil)
	mgr.Observer = pctx.Observer
	mgr.Timeouts = pctx.Timeouts
	return mgr.Destroy(ctx)
}
