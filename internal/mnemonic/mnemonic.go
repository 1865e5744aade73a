// Package mnemonic normalizes and validates BIP-39 mnemonics and
// derives the 256-bit master key from them.
package mnemonic

import (
	"strings"

	"github.com/tyler-smith/go-bip39"
	"golang.org/x/crypto/hkdf"

	"github.com/cybou-fr/cybs3/internal/apierr"
)

// masterKeyInfo is the HKDF info string binding derived key material to
// this specific use (master-key derivation), so the same BIP-39 seed
// could in principle be used to derive other key material without
// collision.
const masterKeyInfo = "cybs3/master-key/v1"

// MasterKeySize is the size, in bytes, of a derived master key.
const MasterKeySize = 32

// Normalize trims whitespace and lowercases a mnemonic so equivalent
// user input derives the same key.
func Normalize(m string) string {
	fields := strings.Fields(strings.ToLower(m))
	return strings.Join(fields, " ")
}

// Validate reports whether a normalized mnemonic is a valid BIP-39
// English mnemonic (correct word count and checksum).
func Validate(normalized string) error {
	words := strings.Fields(normalized)
	switch len(words) {
	case 12, 15, 18, 21, 24:
	default:
		return apierr.New(apierr.KindUser, apierr.CodeInvalidInput, "mnemonic must have 12/15/18/21/24 words")
	}
	if !bip39.IsMnemonicValid(normalized) {
		return apierr.New(apierr.KindUser, apierr.CodeInvalidInput, "mnemonic failed BIP-39 checksum validation")
	}
	return nil
}

// Generate produces a fresh random BIP-39 mnemonic at the given word
// count (12/15/18/21/24), for key rotation and first-run setup.
func Generate(wordCount int) (string, error) {
	bits, ok := map[int]int{12: 128, 15: 160, 18: 192, 21: 224, 24: 256}[wordCount]
	if !ok {
		return "", apierr.New(apierr.KindUser, apierr.CodeInvalidInput, "mnemonic word count must be 12/15/18/21/24")
	}
	entropy, err := bip39.NewEntropy(bits)
	if err != nil {
		return "", apierr.Wrap(apierr.KindCrypto, apierr.CodeKeyDerivationFailed, "failed to generate entropy", err)
	}
	m, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", apierr.Wrap(apierr.KindCrypto, apierr.CodeKeyDerivationFailed, "failed to encode mnemonic", err)
	}
	return m, nil
}

// DeriveMasterKey normalizes and validates m, then deterministically
// derives the 256-bit master key: BIP-39 seed (PBKDF2-HMAC-SHA512 over
// the mnemonic, per go-bip39) fed through HKDF-SHA256 to produce exactly
// 32 bytes of key material.
//
// The same normalized mnemonic always yields the same master key
// derivation never touches disk or the network.
func DeriveMasterKey(m string) ([]byte, error) {
	normalized := Normalize(m)
	if err := Validate(normalized); err != nil {
		return nil, err
	}

	seed := bip39.NewSeed(normalized, "")

	kdf := hkdf.New(newSHA256, seed, nil, []byte(masterKeyInfo))
	key := make([]byte, MasterKeySize)
	if _, err := readFull(kdf, key); err != nil {
		return nil, apierr.Wrap(apierr.KindCrypto, apierr.CodeKeyDerivationFailed, "hkdf expansion failed", err)
	}
	return key, nil
}
