package config

import (
	"os"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cybou-fr/cybs3/internal/keystore"
)

func TestLoadFallsBackToVaultThenDefault(t *testing.T) {
	viper.Reset()
	RegisterFlags(&cobra.Command{Use: "test"})

	vault := &keystore.VaultConfig{Region: "eu-west-3", AccessKey: "vault-key"}
	cfg := Load(vault)
	assert.Equal(t, "eu-west-3", cfg.Region)
	assert.Equal(t, "vault-key", cfg.AccessKeyID)

	cfg = Load(nil)
	assert.Equal(t, DefaultRegion, cfg.Region)
	assert.Empty(t, cfg.AccessKeyID)
}

func TestLoadEnvBeatsVault(t *testing.T) {
	viper.Reset()
	RegisterFlags(&cobra.Command{Use: "test"})
	t.Setenv("AWS_REGION", "env-region")

	cfg := Load(&keystore.VaultConfig{Region: "vault-region"})
	assert.Equal(t, "env-region", cfg.Region)
}

func TestLoadCLIFlagBeatsEnvAndVault(t *testing.T) {
	viper.Reset()
	cmd := &cobra.Command{Use: "test"}
	RegisterFlags(cmd)
	t.Setenv("AWS_REGION", "env-region")
	require.NoError(t, cmd.PersistentFlags().Set("region", "flag-region"))

	cfg := Load(&keystore.VaultConfig{Region: "vault-region"})
	assert.Equal(t, "flag-region", cfg.Region)
}

func TestLoadServerConfigMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadServerConfig("")
	require.NoError(t, err)
	assert.Equal(t, DefaultServerConfig(), cfg)

	cfg, err = LoadServerConfig("/nonexistent/path/cybs3-server.yaml")
	require.NoError(t, err)
	assert.Equal(t, DefaultServerConfig(), cfg)
}

func TestLoadServerConfigOverridesFromYAML(t *testing.T) {
	path := t.TempDir() + "/server.yaml"
	require.NoError(t, os.WriteFile(path, []byte("listen_address: \":9001\"\ndata_dir: /srv/cybs3\n"), 0o600))

	cfg, err := LoadServerConfig(path)
	require.NoError(t, err)
	assert.Equal(t, ":9001", cfg.ListenAddress)
	assert.Equal(t, "/srv/cybs3", cfg.DataDir)
	assert.Equal(t, DefaultServerConfig().KMSKeystorePath, cfg.KMSKeystorePath)
}
