// Package handlers implements the business logic for CLI commands.
//
// This package contains handler functions that are called by command definitions
// in the commands package. Handlers are framework-agnostic and can be tested
// independently of the CLI framework.
package handlers

import (
	"fmt"
	"os"

	"github.com/strandtools/strand/internal/config"
	"github.com/strandtools/strand/internal/metrics"
	hcloud_internal "github.com/strandtools/strand/internal/platform/hcloud"
	"github.com/strandtools/strand/internal/platform/objstore"
	sshplat "github.com/strandtools/strand/internal/platform/ssh"
	"github.com/strandtools/strand/internal/provisioning"
	"github.com/strandtools/strand/internal/provisioning/converge"
	"github.com/strandtools/strand/internal/scratch"
)

// defaultConfigFile is looked for in the working directory when no
// --config flag is given.
const defaultConfigFile = "strand.yaml"

// Provisioner interface for testing - matches provisioning.Phase minus
// the name.
type Provisioner interface {
	Provision(ctx *provisioning.Context) error
}

// Factory function variables - can be replaced in tests for dependency injection.
var (
	// newInfraClient creates a new infrastructure client. Every API
	// retry is counted; the counter is only exposed when a command
	// serves the metrics endpoint.
	newInfraClient = func(token string) hcloud_internal.InfrastructureManager {
		return hcloud_internal.NewRealClient(token, hcloud_internal.WithRetryNotify(metrics.CountRetry))
	}

	// newRunnerFactory builds the per-node SSH transport from the
	// configured key pair.
	newRunnerFactory = func(cfg *config.Config) (provisioning.RunnerFactory, error) {
		key, err := os.ReadFile(cfg.SSH.PrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read SSH private key: %w", err)
		}
		return func(addr string) (converge.Runner, error) {
			return sshplat.NewClient(&sshplat.Config{
				Host:       addr,
				User:       cfg.SSH.User,
				PrivateKey: key,
			})
		}, nil
	}

	// newObjectStore creates the manifest store client from the config,
	// reading credentials from the named environment variables.
	newObjectStore = func(spec *config.ObjectStoreSpec) (objstore.Store, error) {
		accessKey := os.Getenv(spec.AccessKeyEnv)
		secretKey := os.Getenv(spec.SecretKeyEnv)
		if accessKey == "" || secretKey == "" {
			return nil, fmt.Errorf("object store credentials missing: set %s and %s", spec.AccessKeyEnv, spec.SecretKeyEnv)
		}
		return objstore.NewClient(spec.Endpoint, spec.Region, accessKey, secretKey)
	}

	// newScratchManager creates the scratch stack manager.
	newScratchManager = func(cfg *config.Config, infra hcloud_internal.InfrastructureManager, store objstore.Store, runners provisioning.RunnerFactory) *scratch.Manager {
		return scratch.NewManager(cfg, infra, store, runners)
	}

	// newProvisioningContext creates a new provisioning context.
	newProvisioningContext = provisioning.NewContext

	// loadConfigFile loads config from file (for testing injection).
	loadConfigFile = config.Load

	// writeFile writes data to a file (for testing injection).
	writeFile = os.WriteFile
)

// loadConfig loads and validates the cluster configuration.
// If configPath is empty, it looks for strand.yaml in the current directory.
func loadConfig(configPath string) (*config.Config, error) {
	if configPath == "" {
		configPath = defaultConfigFile
	}
	cfg, err := loadConfigFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w\nRun 'strand config init' to create one", err)
	}
	return cfg, nil
}

// initializeClient creates a Hetzner Cloud client using HCLOUD_TOKEN from
// the environment. Token validation is delegated to the API.
func initializeClient() hcloud_internal.InfrastructureManager {
	token := os.Getenv("HCLOUD_TOKEN")
	return newInfraClient(token)
}

// scratchManager wires up the manager for the stack declared in cfg, or
// fails when the config declares no scratch stack or object store.
func scratchManager(cfg *config.Config) (*scratch.Manager, error) {
	if cfg.Scratch == nil {
		return nil, fmt.Errorf("no scratch stack configured for cluster %s", cfg.ClusterName)
	}
	if cfg.ObjectStore == nil {
		return nil, fmt.Errorf("scratch stack requires an object_store section for its manifest")
	}

	store, err := newObjectStore(cfg.ObjectStore)
	if err != nil {
		return nil, err
	}

	runners, err := newRunnerFactory(cfg)
	if err != nil {
		return nil, err
	}

	return newScratchManager(cfg, initializeClient(), store, runners), nil
}

// finishReport prints the per-resource report and converts recorded
// failures into a command error. Operations that fail before touching
// any resource hand over a nil report.
func finishReport(report *provisioning.Report, runErr error) error {
	if report != nil {
		fmt.Println()
		fmt.Println(report.Render())
	}

	if runErr != nil {
		return runErr
	}
	if report != nil {
		if failures := report.Failures(); len(failures) > 0 {
			return fmt.Errorf("%d resource(s) failed", len(failures))
		}
	}
	return nil
}
