package handlers

import (
	"context"
	"fmt"
	"log"

	"github.com/strandtools/strand/internal/config"
	"github.com/strandtools/strand/internal/provisioning"
)

// ScratchCreate builds the scratch stack and waits until it reports
// available. With recreate, an existing stack is destroyed first.
func ScratchCreate(ctx context.Context, configPath string, recreate bool) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	mgr, err := scratchManager(cfg)
	if err != nil {
		return err
	}

	manifest, err := mgr.Create(ctx, recreate)
	if err != nil {
		return fmt.Errorf("scratch create failed: %w", err)
	}

	fmt.Printf("\nScratch stack %s is %s\n", manifest.FsName, manifest.State)
	fmt.Printf("Mount spec: %s\n", manifest.FsSpec())
	return nil
}

// ScratchMount mounts the scratch filesystem on the head and every
// compute node, waiting for the stack to become available first.
func ScratchMount(ctx context.Context, configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	mgr, err := scratchManager(cfg)
	if err != nil {
		return err
	}

	nodes, err := clusterNodes(ctx, cfg)
	if err != nil {
		return err
	}

	report, err := mgr.Mount(ctx, nodes)
	return finishReport(report, err)
}

// ScratchUnmount removes the scratch mount from every cluster node. The
// stack itself stays available for a later mount.
func ScratchUnmount(ctx context.Context, configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	mgr, err := scratchManager(cfg)
	if err != nil {
		return err
	}

	nodes, err := clusterNodes(ctx, cfg)
	if err != nil {
		return err
	}

	report, err := mgr.Unmount(ctx, nodes)
	return finishReport(report, err)
}

// ScratchDestroy tears the stack down and deletes its manifest.
//
// Like cluster teardown, the release runs on a context that survives
// an earlier cancellation.
func ScratchDestroy(ctx context.Context, configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	mgr, err := scratchManager(cfg)
	if err != nil {
		return err
	}

	log.Printf("Destroying scratch stack of cluster: %s", cfg.ClusterName)
	if err := mgr.Destroy(context.WithoutCancel(ctx)); err != nil {
		return fmt.Errorf("scratch destroy failed: %w", err)
	}

	fmt.Println("Scratch stack destroyed")
	return nil
}

// ScratchSpec prints the mgmt:/fsname mount spec of an available stack.
// The bare spec goes to stdout so scripts can feed it straight into a
// mount command.
func ScratchSpec(ctx context.Context, configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	mgr, err := scratchManager(cfg)
	if err != nil {
		return err
	}

	spec, err := mgr.FsSpec(ctx)
	if err != nil {
		return err
	}

	fmt.Println(spec)
	return nil
}

// clusterNodes discovers the head and compute nodes a scratch mount
// operation targets.
func clusterNodes(ctx context.Context, cfg *config.Config) ([]*provisioning.Node, error) {
	head, computeNodes, err := discoverNodes(ctx, initializeClient(), cfg)
	if err != nil {
		return nil, err
	}
	return append([]*provisioning.Node{head}, computeNodes...), nil
}
