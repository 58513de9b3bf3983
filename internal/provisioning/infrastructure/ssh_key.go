package infrastructure

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/strandtools/strand/internal/provisioning"
	"github.com/strandtools/strand/internal/util/keygen"
	"github.com/strandtools/strand/internal/util/labels"
	"github.com/strandtools/strand/internal/util/naming"
)

// provisionSSHKey uploads the configured public key under the cluster's
// key name. The provider identifies keys by fingerprint, so a re-run
// with the same key pair adopts the uploaded key.
func (p *Provisioner) provisionSSHKey(ctx *provisioning.Context) error {
	cfg := ctx.Config
	name := naming.SSHKey(cfg.ClusterName)
	ctx.Observer.Printf("[%s] Reconciling SSH key %s...", phase, name)

	publicKey, err := os.ReadFile(cfg.SSH.PublicKeyPath)
	if err != nil {
		return fail(ctx, "ssh-key", name, fmt.Errorf("failed to read public key %s: %w", cfg.SSH.PublicKeyPath, err))
	}

	fingerprint, err := keygen.Fingerprint(publicKey)
	if err != nil {
		return fail(ctx, "ssh-key", name, fmt.Errorf("public key %s is not a valid authorized_keys entry: %w", cfg.SSH.PublicKeyPath, err))
	}

	existing, err := ctx.Infra.GetSSHKey(ctx, name)
	if err != nil {
		return fail(ctx, "ssh-key", name, fmt.Errorf("failed to look up SSH key %s: %w", name, err))
	}

	clusterLabels := labels.ForCluster(cfg.ClusterName).Build()
	key, err := ctx.Infra.EnsureSSHKey(ctx, name, strings.TrimSpace(string(publicKey)), clusterLabels)
	if err != nil {
		return fail(ctx, "ssh-key", name, err)
	}
	ctx.State.SSHKey = key

	if existing != nil {
		provisioning.LogResourceExists(ctx.Observer, phase, "ssh key", name, strconv.FormatInt(key.ID, 10))
		report(ctx, "ssh-key", name, provisioning.StatusSatisfied, fingerprint)
	} else {
		provisioning.LogResourceCreated(ctx.Observer, phase, "ssh key", name, strconv.FormatInt(key.ID, 10))
		report(ctx, "ssh-key", name, provisioning.StatusConverged, "uploaded "+fingerprint)
	}
	return nil
}
