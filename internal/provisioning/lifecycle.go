package provisioning

import (
	"context"
	"fmt"
	"sync"

	"github.com/strandtools/strand/internal/config"
	hcloud_internal "github.com/strandtools/strand/internal/platform/hcloud"
	"github.com/strandtools/strand/internal/util/labels"
)

// ClusterState is a cluster's position in its lifecycle.
type ClusterState string

const (
	ClusterAbsent       ClusterState = "absent"
	ClusterProvisioning ClusterState = "provisioning"
	ClusterRunning      ClusterState = "running"
	ClusterStopping     ClusterState = "stopping"
	ClusterStopped      ClusterState = "stopped"
)

// clusterTransitions lists the legal lifecycle moves. A cancelled
// create goes straight from provisioning to stopping so resources
// already allocated get released.
var clusterTransitions = map[ClusterState][]ClusterState{
	ClusterAbsent:       {ClusterProvisioning},
	ClusterProvisioning: {ClusterRunning, ClusterStopping},
	ClusterRunning:      {ClusterStopping},
	ClusterStopping:     {ClusterStopped},
	ClusterStopped:      {ClusterProvisioning, ClusterAbsent},
}

// CanTransition reports whether a cluster may move between the two
// states.
func CanTransition(from, to ClusterState) bool {
	for _, next := range clusterTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Lifecycle tracks a cluster through the state machine during one
// command invocation and announces every transition.
type Lifecycle struct {
	mu       sync.Mutex
	state    ClusterState
	observer Observer
}

// NewLifecycle starts tracking from the given state, usually the one
// DeriveClusterState inferred from the control plane.
func NewLifecycle(initial ClusterState, observer Observer) *Lifecycle {
	if observer == nil {
		observer = NewConsoleObserver()
	}
	return &Lifecycle{state: initial, observer: observer}
}

// State returns the current state.
func (l *Lifecycle) State() ClusterState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// To moves the cluster to the next state, rejecting moves the machine
// does not allow.
func (l *Lifecycle) To(next ClusterState) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !CanTransition(l.state, next) {
		return fmt.Errorf("cluster cannot go from %s to %s", l.state, next)
	}
	prev := l.state
	l.state = next

	l.observer.Event(Event{
		Type:    EventStateChanged,
		Phase:   "lifecycle",
		Message: fmt.Sprintf("cluster %s -> %s", prev, next),
		Fields:  map[string]string{"from": string(prev), "to": string(next)},
	})
	return nil
}

// DeriveClusterState infers where the cluster sits in its lifecycle
// from what the control plane reports. All declared nodes present reads
// as running; a partial set as provisioning, whether from an in-flight
// create or the debris of an interrupted one; none as absent. Scratch
// stack servers carry their own role label and do not count.
func DeriveClusterState(ctx context.Context, infra hcloud_internal.InfrastructureManager, cfg *config.Config) (ClusterState, error) {
	found := 0
	for _, role := range []string{labels.RoleHead, labels.RoleCompute} {
		servers, err := infra.GetServersByLabel(ctx, labels.ForCluster(cfg.ClusterName).Role(role).Build())
		if err != nil {
			return ClusterAbsent, fmt.Errorf("failed to inspect cluster servers: %w", err)
		}
		found += len(servers)
	}

	declared := cfg.Compute.Count + 1
	switch {
	case found == 0:
		return ClusterAbsent, nil
	case found >= declared:
		return ClusterRunning, nil
	default:
		return ClusterProvisioning, nil
	}
}
