package kms

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"

	vaultapi "github.com/hashicorp/vault/api"

	"github.com/cybou-fr/cybs3/internal/apierr"
)

// VaultBackend generates material locally but stores a copy under a
// Vault KV v2 mount, so material can be recovered or audited from
// Vault independently of this service's own keystore file. It does not
// replace the local keystore file (Service still needs fast,
// network-free reads on every Encrypt/Decrypt); it mirrors writes.
type VaultBackend struct {
	Client    *vaultapi.Client
	MountPath string // e.g. "secret" for a KV v2 mount at secret/
	PathPrefix string // e.g. "cybs3/kms-keys"
}

// NewVaultBackend builds a VaultBackend from a vault/api client
// configuration (VAULT_ADDR, VAULT_TOKEN, etc. via the environment, or
// set explicitly on cfg before calling).
func NewVaultBackend(cfg *vaultapi.Config, mountPath, pathPrefix string) (*VaultBackend, error) {
	client, err := vaultapi.NewClient(cfg)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindConfiguration, apierr.CodeConfigurationCorrupted, "failed to build Vault client", err)
	}
	return &VaultBackend{Client: client, MountPath: mountPath, PathPrefix: pathPrefix}, nil
}

func (b *VaultBackend) GenerateMaterial(keyID string) ([]byte, error) {
	material := make([]byte, materialSize)
	if _, err := rand.Read(material); err != nil {
		return nil, apierr.Wrap(apierr.KindCrypto, apierr.CodeEncryptionFailed, "failed to generate key material", err)
	}

	path := fmt.Sprintf("%s/data/%s/%s", b.MountPath, b.PathPrefix, keyID)
	_, err := b.Client.Logical().WriteWithContext(context.Background(), path, map[string]interface{}{
		"data": map[string]interface{}{
			"material_b64": base64.StdEncoding.EncodeToString(material),
		},
	})
	if err != nil {
		return nil, apierr.Wrap(apierr.KindTransport, apierr.CodeKeyUnavailable, "failed to mirror key material to Vault", err)
	}
	return material, nil
}
