// Package labels provides consistent labeling for cloud resources.
//
// Every resource a cluster owns carries the same label set so listing,
// diffing, and teardown can select resources by cluster and role instead of
// guessing from names.
package labels

// Standard label keys, namespaced under the strand.dev domain.
const (
	// KeyCluster identifies which cluster a resource belongs to.
	KeyCluster = "strand.dev/cluster"

	// KeyRole identifies the role of a server (head, compute, scratch).
	KeyRole = "strand.dev/role"

	// KeyStack marks resources belonging to the scratch filesystem stack.
	KeyStack = "strand.dev/stack"

	// KeyManagedBy identifies the management system.
	KeyManagedBy = "strand.dev/managed-by"
)

// Role values.
const (
	RoleHead    = "head"
	RoleCompute = "compute"
	RoleScratch = "scratch"
)

// ManagedBy value stamped on every resource.
const ManagedBy = "strand"

// Builder assembles a label map for one resource.
type Builder struct {
	labels map[string]string
}

// ForCluster starts a builder with the cluster and managed-by labels set.
func ForCluster(cluster string) *Builder {
	return &Builder{
		labels: map[string]string{
			KeyCluster:   cluster,
			KeyManagedBy: ManagedBy,
		},
	}
}

// Role adds the node role label.
func (b *Builder) Role(role string) *Builder {
	b.labels[KeyRole] = role
	return b
}

// Stack adds the scratch stack label.
func (b *Builder) Stack(stack string) *Builder {
	b.labels[KeyStack] = stack
	return b
}

// Build returns the label map. The builder must not be reused afterwards.
func (b *Builder) Build() map[string]string {
	return b.labels
}

// ClusterSelector returns a label selector matching every resource of the
// given cluster.
func ClusterSelector(cluster string) string {
	return KeyCluster + "=" + cluster
}

// RoleSelector returns a label selector matching resources of one role
// within a cluster.
func RoleSelector(cluster, role string) string {
	return ClusterSelector(cluster) + "," + KeyRole + "=" + role
}
