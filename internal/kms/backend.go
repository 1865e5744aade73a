package kms

import (
	"crypto/rand"

	"github.com/cybou-fr/cybs3/internal/apierr"
)

// KeyBackend supplies key material at creation time. The default,
// LocalBackend, mints material in-process; VaultBackend also mints it
// in-process and additionally writes a copy to a running Vault server,
// so material can be recovered or audited outside this process.
type KeyBackend interface {
	GenerateMaterial(keyID string) ([]byte, error)
}

// LocalBackend generates material with crypto/rand. This is the
// default backend and what CreateKey uses unless a Vault backend is
// configured.
type LocalBackend struct{}

func (LocalBackend) GenerateMaterial(keyID string) ([]byte, error) {
	material := make([]byte, materialSize)
	if _, err := rand.Read(material); err != nil {
		return nil, apierr.Wrap(apierr.KindCrypto, apierr.CodeEncryptionFailed, "failed to generate key material", err)
	}
	return material, nil
}
