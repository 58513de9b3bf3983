package provisioning

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strandtools/strand/internal/config"
)

func validTestConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	priv := filepath.Join(dir, "id_rsa")
	pub := filepath.Join(dir, "id_rsa.pub")
	require.NoError(t, os.WriteFile(priv, []byte("key material"), 0o600))
	require.NoError(t, os.WriteFile(pub, []byte("public key"), 0o600))

	cfg := &config.Config{
		ClusterName: "strand-test",
		Compute:     config.ComputeSpec{Count: 2},
		SSH:         config.SSHSpec{PrivateKeyPath: priv, PublicKeyPath: pub},
	}
	cfg.ApplyDefaults()
	require.NoError(t, cfg.Validate())
	return cfg
}

func validationContext(cfg *config.Config, observer Observer) *Context {
	return &Context{
		Context:  context.Background(),
		Config:   cfg,
		State:    NewState(),
		Observer: observer,
	}
}

func TestValidationPhasePasses(t *testing.T) {
	cfg := validTestConfig(t)

	err := NewValidationPhase().Provision(validationContext(cfg, NewMockObserver()))

	require.NoError(t, err)
}

func TestValidationPhaseFailsOnMissingKeyFile(t *testing.T) {
	cfg := validTestConfig(t)
	require.NoError(t, os.Remove(cfg.SSH.PrivateKeyPath))

	err := NewValidationPhase().Provision(validationContext(cfg, NewMockObserver()))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "preflight validation failed")
	assert.Contains(t, err.Error(), "not readable")
}

func TestValidationPhaseFailsOnMissingStoreCredentials(t *testing.T) {
	cfg := validTestConfig(t)
	cfg.ObjectStore = &config.ObjectStoreSpec{
		Endpoint:     "https://fsn1.example",
		Region:       "fsn1",
		AccessKeyEnv: "STRAND_TEST_ACCESS_KEY",
		SecretKeyEnv: "STRAND_TEST_SECRET_KEY",
	}
	t.Setenv("STRAND_TEST_ACCESS_KEY", "")
	t.Setenv("STRAND_TEST_SECRET_KEY", "")

	err := NewValidationPhase().Provision(validationContext(cfg, NewMockObserver()))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "STRAND_TEST_ACCESS_KEY")
}

func TestValidationPhasePassesWithStoreCredentials(t *testing.T) {
	cfg := validTestConfig(t)
	cfg.ObjectStore = &config.ObjectStoreSpec{
		Endpoint:     "https://fsn1.example",
		Region:       "fsn1",
		AccessKeyEnv: "STRAND_TEST_ACCESS_KEY",
		SecretKeyEnv: "STRAND_TEST_SECRET_KEY",
	}
	t.Setenv("STRAND_TEST_ACCESS_KEY", "ak")
	t.Setenv("STRAND_TEST_SECRET_KEY", "sk")

	err := NewValidationPhase().Provision(validationContext(cfg, NewMockObserver()))

	require.NoError(t, err)
}

func TestValidationPhaseWarnsWithoutFailing(t *testing.T) {
	cfg := validTestConfig(t)
	cfg.Compute.Count = 0
	cfg.Volume.SizeGB = 20

	observer := NewMockObserver()
	err := NewValidationPhase().Provision(validationContext(cfg, observer))

	require.NoError(t, err)
	warnings := observer.EventsOfType(EventValidationWarning)
	require.Len(t, warnings, 2)
	assert.Contains(t, warnings[0].Message, "no compute nodes")
	assert.Contains(t, warnings[1].Message, "little room")
}

func TestValidationPhaseName(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "validation", NewValidationPhase().Name())
}
