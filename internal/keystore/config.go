// Package keystore persists the encrypted, integrity-protected
// configuration store that binds a user's mnemonic to an internally
// managed data key: vault definitions, server settings, and the data
// key that ultimately wraps object and key material throughout the
// rest of the system.
package keystore

import "time"

// CurrentVersion is the on-disk schema version this build writes.
const CurrentVersion = 2

// VaultConfig describes one configured S3-compatible endpoint.
type VaultConfig struct {
	Name      string            `json:"name"`
	Endpoint  string            `json:"endpoint"`
	Region    string            `json:"region"`
	AccessKey string            `json:"access_key"`
	SecretKey string            `json:"secret_key"`
	Settings  map[string]string `json:"settings,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// EncryptedConfig is the plaintext shape sealed inside the config
// file. DataKey wraps object/key material independently of the
// mnemonic-derived MasterKey, so rotating the mnemonic never touches
// already-written ciphertext.
type EncryptedConfig struct {
	Version         int                    `json:"version"`
	DataKey         []byte                 `json:"data_key"`
	ActiveVaultName string                 `json:"active_vault_name,omitempty"`
	Vaults          map[string]VaultConfig `json:"vaults"`
	Settings        map[string]string      `json:"settings,omitempty"`
}

func newEmptyConfig(dataKey []byte) *EncryptedConfig {
	return &EncryptedConfig{
		Version: CurrentVersion,
		DataKey: dataKey,
		Vaults:  map[string]VaultConfig{},
	}
}
