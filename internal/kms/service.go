package kms

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cybou-fr/cybs3/internal/apierr"
)

const materialSize = 32 // AES-256
const nonceSize = 12

// Service is the single-writer actor owning the JSON keystore file: all
// mutating methods take mu before touching records or the file.
type Service struct {
	mu      sync.Mutex
	path    string
	records map[string]*record
	backend KeyBackend

	// AllowKeyDiscovery opts into Decrypt's legacy behavior of trying
	// every enabled key when no key_id is given. Off by default: a
	// blind iterate-and-try-each-key Decrypt both leaks timing
	// information about which keys exist and makes it easy to decrypt
	// data under the wrong key by accident. Callers that rely on the
	// ciphertext naming its own key should instead embed a key-id
	// header alongside the blob.
	AllowKeyDiscovery bool
}

// Open loads (or creates) the JSON keystore file at path.
func Open(path string, backend KeyBackend) (*Service, error) {
	records, err := loadRecords(path)
	if err != nil {
		return nil, err
	}
	if backend == nil {
		backend = LocalBackend{}
	}
	return &Service{path: path, records: records, backend: backend}, nil
}

func arnFor(keyID string) string {
	return fmt.Sprintf("arn:aws:kms:cybs3::key/%s", keyID)
}

// CreateKey mints a fresh key and persists metadata plus material.
func (s *Service) CreateKey(in CreateKeyInput) (KeyMetadata, error) {
	if in.KeyUsage == "" {
		in.KeyUsage = KeyUsageEncryptDecrypt
	}
	if in.KeySpec == "" {
		in.KeySpec = KeySpecSymmetricDefault
	}

	keyID := uuid.NewString()
	material, err := s.backend.GenerateMaterial(keyID)
	if err != nil {
		return KeyMetadata{}, err
	}

	meta := KeyMetadata{
		KeyID:       keyID,
		ARN:         arnFor(keyID),
		Description: in.Description,
		KeyUsage:    in.KeyUsage,
		KeySpec:     in.KeySpec,
		Enabled:     true,
		KeyState:    KeyStateEnabled,
		CreatedAt:   time.Now().UTC(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[keyID] = &record{Metadata: meta, Material: material}
	if err := s.persist(); err != nil {
		delete(s.records, keyID)
		return KeyMetadata{}, err
	}
	return meta, nil
}

// DescribeKey returns a key's metadata.
func (s *Service) DescribeKey(keyID string) (KeyMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[keyID]
	if !ok {
		return KeyMetadata{}, apierr.New(apierr.KindResource, apierr.CodeNotFound, "no such key").WithResource(keyID)
	}
	return r.Metadata, nil
}

// ListKeys returns metadata for every key, ordered by key id for a
// stable listing.
func (s *Service) ListKeys() []KeyMetadata {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]KeyMetadata, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r.Metadata)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].KeyID < out[j].KeyID })
	return out
}

// EnableKey transitions a key to Enabled.
func (s *Service) EnableKey(keyID string) error {
	return s.setEnabled(keyID, true, KeyStateEnabled)
}

// DisableKey transitions a key to Disabled.
func (s *Service) DisableKey(keyID string) error {
	return s.setEnabled(keyID, false, KeyStateDisabled)
}

func (s *Service) setEnabled(keyID string, enabled bool, state KeyState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[keyID]
	if !ok {
		return apierr.New(apierr.KindResource, apierr.CodeNotFound, "no such key").WithResource(keyID)
	}
	prev := r.Metadata
	r.Metadata.Enabled = enabled
	r.Metadata.KeyState = state
	if err := s.persist(); err != nil {
		r.Metadata = prev
		return err
	}
	return nil
}

// ScheduleKeyDeletion marks a key PendingDeletion with a deletion date
// pendingWindowDays from now; pendingWindowDays must be at least 7.
// Material destruction itself is performed by Scheduler, out of band.
func (s *Service) ScheduleKeyDeletion(keyID string, pendingWindowDays int) (time.Time, error) {
	if pendingWindowDays < 7 {
		return time.Time{}, apierr.New(apierr.KindUser, apierr.CodeInvalidInput, "pending_window_in_days must be >= 7")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[keyID]
	if !ok {
		return time.Time{}, apierr.New(apierr.KindResource, apierr.CodeNotFound, "no such key").WithResource(keyID)
	}
	prev := r.Metadata
	deletionDate := time.Now().UTC().AddDate(0, 0, pendingWindowDays)
	r.Metadata.Enabled = false
	r.Metadata.KeyState = KeyStatePendingDeletion
	r.Metadata.DeletionDate = deletionDate
	if err := s.persist(); err != nil {
		r.Metadata = prev
		return time.Time{}, err
	}
	return deletionDate, nil
}

// CancelKeyDeletion pulls a key back from PendingDeletion to Disabled,
// mirroring real KMS's cancel-deletion semantics (re-enabling is then
// a separate EnableKey call).
func (s *Service) CancelKeyDeletion(keyID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[keyID]
	if !ok {
		return apierr.New(apierr.KindResource, apierr.CodeNotFound, "no such key").WithResource(keyID)
	}
	if r.Metadata.KeyState != KeyStatePendingDeletion {
		return apierr.New(apierr.KindUser, apierr.CodeInvalidKeyUsage, "key is not pending deletion").WithResource(keyID)
	}
	prev := r.Metadata
	r.Metadata.KeyState = KeyStateDisabled
	r.Metadata.DeletionDate = time.Time{}
	if err := s.persist(); err != nil {
		r.Metadata = prev
		return err
	}
	return nil
}

// Encrypt seals plaintext under keyID, binding encryptionContext as
// additional authenticated data.
func (s *Service) Encrypt(keyID string, plaintext []byte, encryptionContext map[string]string) (EncryptOutput, error) {
	s.mu.Lock()
	r, ok := s.records[keyID]
	s.mu.Unlock()
	if !ok {
		return EncryptOutput{}, apierr.New(apierr.KindResource, apierr.CodeNotFound, "no such key").WithResource(keyID)
	}
	if r.Metadata.KeyState != KeyStateEnabled || !r.Metadata.Enabled {
		return EncryptOutput{}, apierr.New(apierr.KindResource, apierr.CodeKeyUnavailable, "key is not enabled").WithResource(keyID)
	}

	gcm, err := newGCM(r.Material)
	if err != nil {
		return EncryptOutput{}, err
	}
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return EncryptOutput{}, apierr.Wrap(apierr.KindCrypto, apierr.CodeEncryptionFailed, "failed to generate nonce", err)
	}
	aad := encodeContext(encryptionContext)
	blob := make([]byte, 0, nonceSize+len(plaintext)+gcm.Overhead())
	blob = append(blob, nonce...)
	blob = gcm.Seal(blob, nonce, plaintext, aad)

	return EncryptOutput{
		CiphertextBlob: blob,
		KeyID:          keyID,
		ARN:            r.Metadata.ARN,
		Algorithm:      algorithmAESGCM,
	}, nil
}

// Decrypt opens a ciphertext blob. If keyID is empty and
// AllowKeyDiscovery is set, every enabled key is tried in turn and the
// first that opens wins; otherwise an empty keyID is rejected outright.
func (s *Service) Decrypt(ciphertextBlob []byte, encryptionContext map[string]string, keyID string) (DecryptOutput, error) {
	aad := encodeContext(encryptionContext)

	if keyID != "" {
		return s.decryptWithKey(keyID, ciphertextBlob, aad)
	}
	if !s.AllowKeyDiscovery {
		return DecryptOutput{}, apierr.New(apierr.KindUser, apierr.CodeInvalidKeyID, "key_id is required unless key discovery is explicitly enabled")
	}

	s.mu.Lock()
	candidates := make([]string, 0, len(s.records))
	for id, r := range s.records {
		if r.Metadata.Enabled && r.Metadata.KeyState == KeyStateEnabled {
			candidates = append(candidates, id)
		}
	}
	s.mu.Unlock()
	sort.Strings(candidates)

	var lastErr error
	for _, id := range candidates {
		out, err := s.decryptWithKey(id, ciphertextBlob, aad)
		if err == nil {
			return out, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = apierr.New(apierr.KindResource, apierr.CodeInvalidCiphertext, "no enabled keys available to try")
	}
	return DecryptOutput{}, lastErr
}

func (s *Service) decryptWithKey(keyID string, ciphertextBlob, aad []byte) (DecryptOutput, error) {
	s.mu.Lock()
	r, ok := s.records[keyID]
	s.mu.Unlock()
	if !ok {
		return DecryptOutput{}, apierr.New(apierr.KindResource, apierr.CodeNotFound, "no such key").WithResource(keyID)
	}
	if r.Metadata.KeyState != KeyStateEnabled || !r.Metadata.Enabled {
		return DecryptOutput{}, apierr.New(apierr.KindResource, apierr.CodeKeyUnavailable, "key is not enabled").WithResource(keyID)
	}
	gcm, err := newGCM(r.Material)
	if err != nil {
		return DecryptOutput{}, err
	}
	if len(ciphertextBlob) < nonceSize+gcm.Overhead() {
		return DecryptOutput{}, apierr.New(apierr.KindResource, apierr.CodeInvalidCiphertext, "ciphertext shorter than nonce+tag")
	}
	nonce, ct := ciphertextBlob[:nonceSize], ciphertextBlob[nonceSize:]
	pt, err := gcm.Open(nil, nonce, ct, aad)
	if err != nil {
		return DecryptOutput{}, apierr.Wrap(apierr.KindResource, apierr.CodeInvalidCiphertext, "ciphertext did not decrypt under this key", err)
	}
	return DecryptOutput{Plaintext: pt, KeyID: keyID, ARN: r.Metadata.ARN, Algorithm: algorithmAESGCM}, nil
}

// persist rewrites the keystore file. Callers must hold s.mu.
func (s *Service) persist() error {
	return saveRecords(s.path, s.records)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindCrypto, apierr.CodeEncryptionFailed, "invalid key material", err)
	}
	return cipher.NewGCM(block)
}

// encodeContext deterministically serializes an encryption context map
// so it can be used as AEAD additional data; a nil/empty context
// serializes to nil, matching plain Encrypt/Decrypt with no context.
func encodeContext(ctx map[string]string) []byte {
	if len(ctx) == 0 {
		return nil
	}
	keys := make([]string, 0, len(ctx))
	for k := range ctx {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	ordered := make([][2]string, 0, len(keys))
	for _, k := range keys {
		ordered = append(ordered, [2]string{k, ctx[k]})
	}
	b, _ := json.Marshal(ordered)
	return b
}
