package labels

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuilder(t *testing.T) {
	t.Parallel()

	got := ForCluster("demo").Role(RoleHead).Build()
	assert.Equal(t, map[string]string{
		KeyCluster:   "demo",
		KeyManagedBy: ManagedBy,
		KeyRole:      "head",
	}, got)
}

func TestBuilderWithStack(t *testing.T) {
	t.Parallel()

	got := ForCluster("demo").Role(RoleScratch).Stack("demo-scratch").Build()
	assert.Equal(t, "demo-scratch", got[KeyStack])
	assert.Equal(t, "scratch", got[KeyRole])
}

func TestSelectors(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "strand.dev/cluster=demo", ClusterSelector("demo"))
	assert.Equal(t, "strand.dev/cluster=demo,strand.dev/role=compute", RoleSelector("demo", RoleCompute))
}
