package commands

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun(t *testing.T) {
	cmd := Run()

	require.NotNil(t, cmd)
	assert.Equal(t, "run -- command [args...]", cmd.Use)
	assert.Equal(t, "Run a command as the invoking user", cmd.Short)
}

func TestRun_RequiresCommand(t *testing.T) {
	cmd := Run()

	require.NotNil(t, cmd.Args)
	assert.Error(t, cmd.Args(cmd, nil), "run without a command should be rejected")
	assert.NoError(t, cmd.Args(cmd, []string{"ls"}))
}

func TestRun_RootFlag(t *testing.T) {
	cmd := Run()

	flag := cmd.Flags().Lookup("root")
	require.NotNil(t, flag, "root flag should exist")
}
