package commands

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreate(t *testing.T) {
	cmd := Create()

	require.NotNil(t, cmd)
	assert.Equal(t, "create", cmd.Use)
	assert.Equal(t, "Create or adopt the cluster and converge every node", cmd.Short)
}

func TestCreate_ConfigFlag(t *testing.T) {
	cmd := Create()

	flag := cmd.Flags().Lookup("config")
	require.NotNil(t, flag, "config flag should exist")
	assert.Equal(t, "c", flag.Shorthand)
	assert.Equal(t, "", flag.DefValue)
}

func TestCreate_MetricsAddrFlag(t *testing.T) {
	cmd := Create()

	flag := cmd.Flags().Lookup("metrics-addr")
	require.NotNil(t, flag, "metrics-addr flag should exist")
	assert.Equal(t, "", flag.DefValue)
}

func TestCreate_PlainFlag(t *testing.T) {
	cmd := Create()

	flag := cmd.Flags().Lookup("plain")
	require.NotNil(t, flag, "plain flag should exist")
	assert.Equal(t, "false", flag.DefValue)
}

func TestCreate_RunE(t *testing.T) {
	cmd := Create()
	assert.NotNil(t, cmd.RunE, "Create command should have RunE function")
}
