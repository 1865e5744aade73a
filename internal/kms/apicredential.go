package kms

import (
	"golang.org/x/crypto/bcrypt"

	"github.com/cybou-fr/cybs3/internal/apierr"
)

// APICredential is a management credential for the KMS JSON-over-HTTP
// surface: a caller-chosen id plus a bcrypt hash of its secret, never
// the secret itself. This mirrors how dagu stores API keys as a hash
// rather than the plaintext credential.
type APICredential struct {
	ID   string `json:"id"`
	Hash string `json:"hash"`
}

// NewAPICredential hashes secret with bcrypt at the default cost.
func NewAPICredential(id, secret string) (APICredential, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return APICredential{}, apierr.Wrap(apierr.KindCrypto, apierr.CodeEncryptionFailed, "failed to hash API credential", err)
	}
	return APICredential{ID: id, Hash: string(hash)}, nil
}

// Verify reports whether secret matches c's stored hash.
func (c APICredential) Verify(secret string) bool {
	return bcrypt.CompareHashAndPassword([]byte(c.Hash), []byte(secret)) == nil
}
