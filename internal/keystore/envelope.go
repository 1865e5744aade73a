package keystore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"

	"github.com/cybou-fr/cybs3/internal/apierr"
)

const hmacSize = sha256.Size
const nonceSize = 12

// sealPayload AEAD-seals plaintext under key with a fresh nonce,
// returning nonce || ciphertext || tag.
func sealPayload(key, plaintext []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, apierr.Wrap(apierr.KindCrypto, apierr.CodeEncryptionFailed, "failed to generate nonce", err)
	}
	out := make([]byte, 0, nonceSize+len(plaintext)+gcm.Overhead())
	out = append(out, nonce...)
	return gcm.Seal(out, nonce, plaintext, nil), nil
}

// openPayload reverses sealPayload.
func openPayload(key, payload []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(payload) < nonceSize+gcm.Overhead() {
		return nil, apierr.New(apierr.KindCrypto, apierr.CodeInvalidCiphertext, "config payload shorter than nonce+tag")
	}
	nonce, ct := payload[:nonceSize], payload[nonceSize:]
	pt, err := gcm.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindCrypto, apierr.CodeDecryptionFailed, "config AEAD tag mismatch", err)
	}
	return pt, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindCrypto, apierr.CodeEncryptionFailed, "invalid master key", err)
	}
	return cipher.NewGCM(block)
}

// sealFile builds the on-disk format: HMAC-SHA256(masterKey, payload)
// prepended to the sealed payload, so a corrupted or foreign file is
// rejected before an AEAD open is even attempted.
func sealFile(masterKey, plaintext []byte) ([]byte, error) {
	payload, err := sealPayload(masterKey, plaintext)
	if err != nil {
		return nil, err
	}
	mac := hmac.New(sha256.New, masterKey)
	mac.Write(payload)
	return append(mac.Sum(nil), payload...), nil
}

// openFile verifies and opens a file produced by sealFile.
func openFile(masterKey, raw []byte) ([]byte, error) {
	if len(raw) < hmacSize {
		return nil, apierr.New(apierr.KindConfiguration, apierr.CodeConfigurationCorrupted, "config file shorter than HMAC prefix")
	}
	gotMAC, payload := raw[:hmacSize], raw[hmacSize:]
	mac := hmac.New(sha256.New, masterKey)
	mac.Write(payload)
	wantMAC := mac.Sum(nil)
	if subtle.ConstantTimeCompare(gotMAC, wantMAC) != 1 {
		return nil, apierr.New(apierr.KindConfiguration, apierr.CodeConfigurationCorrupted, "config HMAC mismatch")
	}
	return openPayload(masterKey, payload)
}
