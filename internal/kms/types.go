// Package kms implements an AWS-KMS-API-compatible key lifecycle and
// envelope-encryption service: key creation, enable/disable, scheduled
// deletion, and Encrypt/Decrypt bound to a specific key's material.
package kms

import "time"

// KeyUsage restricts what a key may be used for.
type KeyUsage string

const (
	KeyUsageEncryptDecrypt KeyUsage = "EncryptDecrypt"
)

// KeySpec names the key's algorithm family.
type KeySpec string

const (
	KeySpecSymmetricDefault KeySpec = "SymmetricDefault" // AES-256-GCM
)

// KeyState is a key's lifecycle state.
type KeyState string

const (
	KeyStateEnabled         KeyState = "Enabled"
	KeyStateDisabled        KeyState = "Disabled"
	KeyStatePendingDeletion KeyState = "PendingDeletion"
)

// KeyMetadata is everything about a key except its material, which
// never leaves the service.
type KeyMetadata struct {
	KeyID           string    `json:"key_id"`
	ARN             string    `json:"arn"`
	Description     string    `json:"description,omitempty"`
	KeyUsage        KeyUsage  `json:"key_usage"`
	KeySpec         KeySpec   `json:"key_spec"`
	Enabled         bool      `json:"enabled"`
	KeyState        KeyState  `json:"key_state"`
	CreatedAt       time.Time `json:"created_at"`
	DeletionDate    time.Time `json:"deletion_date,omitempty"`
}

// record is the full on-disk representation of one key: metadata plus
// the material itself. Only the keystore file ever holds a record;
// Service never returns one whole.
type record struct {
	Metadata KeyMetadata `json:"metadata"`
	Material []byte      `json:"material"`
}

// CreateKeyInput is CreateKey's request shape.
type CreateKeyInput struct {
	Description string
	KeyUsage    KeyUsage
	KeySpec     KeySpec
}

// EncryptOutput is Encrypt's response shape.
type EncryptOutput struct {
	CiphertextBlob []byte
	KeyID          string
	ARN            string
	Algorithm      string
}

// DecryptOutput is Decrypt's response shape.
type DecryptOutput struct {
	Plaintext []byte
	KeyID     string
	ARN       string
	Algorithm string
}

const algorithmAESGCM = "AES_256_GCM"
