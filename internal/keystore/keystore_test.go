package keystore

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cybou-fr/cybs3/internal/mnemonic"
)

const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"
const otherMnemonic = "legal winner thank year wave sausage worth useful legal winner thank yellow"

func TestLoadGeneratesFreshConfigWhenAbsent(t *testing.T) {
	dir := t.TempDir()
	s, err := Load(dir, testMnemonic)
	require.NoError(t, err)

	cfg := s.Config()
	assert.Equal(t, CurrentVersion, cfg.Version)
	assert.Len(t, cfg.DataKey, dataKeySize)
	assert.Empty(t, cfg.Vaults)

	info, err := os.Stat(filepath.Join(dir, configFileName))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(fileMode), info.Mode().Perm())
}

func TestLoadRoundTripsAcrossProcesses(t *testing.T) {
	dir := t.TempDir()
	s1, err := Load(dir, testMnemonic)
	require.NoError(t, err)
	require.NoError(t, s1.AddVault(VaultConfig{Name: "primary", Endpoint: "https://s3.example.com", Region: "us-east-1"}))

	s2, err := Load(dir, testMnemonic)
	require.NoError(t, err)
	v, err := s2.Vault("primary")
	require.NoError(t, err)
	assert.Equal(t, "https://s3.example.com", v.Endpoint)
	assert.Equal(t, s1.DataKey(), s2.DataKey())
}

func TestLoadRejectsWrongMnemonic(t *testing.T) {
	dir := t.TempDir()
	_, err := Load(dir, testMnemonic)
	require.NoError(t, err)

	_, err = Load(dir, otherMnemonic)
	require.Error(t, err)
}

func TestRotateKeyPreservesDataKeyAndVaults(t *testing.T) {
	dir := t.TempDir()
	s, err := Load(dir, testMnemonic)
	require.NoError(t, err)
	require.NoError(t, s.AddVault(VaultConfig{Name: "primary", Endpoint: "https://s3.example.com"}))
	originalDataKey := s.DataKey()

	require.NoError(t, s.RotateKey(otherMnemonic))
	assert.Equal(t, originalDataKey, s.DataKey())

	reloaded, err := Load(dir, otherMnemonic)
	require.NoError(t, err)
	assert.Equal(t, originalDataKey, reloaded.DataKey())
	v, err := reloaded.Vault("primary")
	require.NoError(t, err)
	assert.Equal(t, "https://s3.example.com", v.Endpoint)

	_, err = Load(dir, testMnemonic)
	require.Error(t, err, "old mnemonic must no longer decrypt the rotated config")
}

func TestMigrateLegacyVaultsPreservesMasterKeyAsDataKey(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(dir, dirMode))

	masterKey, err := mnemonic.DeriveMasterKey(testMnemonic)
	require.NoError(t, err)

	legacy := legacyVaultsFile{Vaults: map[string]VaultConfig{
		"legacy-vault": {Name: "legacy-vault", Endpoint: "https://old.example.com"},
	}}
	plaintext, err := json.Marshal(legacy)
	require.NoError(t, err)
	sealed, err := sealPayload(masterKey, plaintext)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, legacyFileName), sealed, 0o600))

	s, err := Load(dir, testMnemonic)
	require.NoError(t, err)

	v, err := s.Vault("legacy-vault")
	require.NoError(t, err)
	assert.Equal(t, "https://old.example.com", v.Endpoint)
	assert.Equal(t, masterKey, s.DataKey(), "legacy migration must carry the old MasterKey forward as DataKey")

	_, statErr := os.Stat(filepath.Join(dir, legacyFileName+".bak"))
	assert.NoError(t, statErr, "legacy file should be renamed to .bak on successful migration")
	_, statErr = os.Stat(filepath.Join(dir, legacyFileName))
	assert.True(t, os.IsNotExist(statErr))
}

func TestRemoveVaultClearsActiveVault(t *testing.T) {
	dir := t.TempDir()
	s, err := Load(dir, testMnemonic)
	require.NoError(t, err)
	require.NoError(t, s.AddVault(VaultConfig{Name: "only"}))

	active, err := s.ActiveVault()
	require.NoError(t, err)
	assert.Equal(t, "only", active.Name)

	require.NoError(t, s.RemoveVault("only"))
	_, err = s.ActiveVault()
	require.Error(t, err)
}

func TestLoadRejectsCorruptedFile(t *testing.T) {
	dir := t.TempDir()
	_, err := Load(dir, testMnemonic)
	require.NoError(t, err)

	path := filepath.Join(dir, configFileName)
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0xFF
	require.NoError(t, os.WriteFile(path, raw, 0o600))

	_, err = Load(dir, testMnemonic)
	require.Error(t, err)
}
